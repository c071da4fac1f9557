package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"lessonpulse/client"
	"lessonpulse/config"
	"lessonpulse/services/offlinequeue"

	"github.com/google/uuid"
)

// heartbeatPlayer simulates a learner watching a lesson: it reports playback
// heartbeats through the client, parks undeliverable ones in the local
// offline queue and replays them when the API comes back.
//
//	go run scripts/heartbeatPlayer.go <lesson_id> <duration_seconds> [step_seconds]
func main() {
	if len(os.Args) < 3 {
		log.Fatal("usage: heartbeatPlayer <lesson_id> <duration_seconds> [step_seconds]")
	}
	lessonID, err := strconv.ParseUint(os.Args[1], 10, 32)
	if err != nil || lessonID == 0 {
		log.Fatalf("Invalid lesson id %q", os.Args[1])
	}
	duration, err := strconv.ParseFloat(os.Args[2], 64)
	if err != nil || duration <= 0 {
		log.Fatalf("Invalid duration %q", os.Args[2])
	}
	step := 10.0
	if len(os.Args) > 3 {
		if step, err = strconv.ParseFloat(os.Args[3], 64); err != nil || step <= 0 {
			log.Fatalf("Invalid step %q", os.Args[3])
		}
	}

	cfg := config.LoadConfig()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storage, err := offlinequeue.OpenSQLite(cfg.QueueDBPath)
	if err != nil {
		log.Fatalf("Failed to open offline queue: %v", err)
	}
	defer storage.Close()

	var reporter *client.Reporter
	probe := client.NewProbe(cfg.APIBaseURL, client.DefaultProbeInterval)
	queue := offlinequeue.New(storage,
		offlinequeue.WithCapacity(cfg.QueueCapacity),
		offlinequeue.WithFlushInterval(cfg.QueueFlushInterval),
		offlinequeue.WithConnectivity(probe),
		offlinequeue.WithSender(offlinequeue.SenderFunc(func(ctx context.Context, hb offlinequeue.Heartbeat) error {
			return reporter.Replay(ctx, hb)
		})),
	)
	reporter = client.New(cfg.APIBaseURL, cfg.APIToken,
		client.WithPolicy(cfg.RetryPolicy()),
		client.WithQueue(queue),
	)

	if err := probe.Start(ctx); err != nil {
		log.Fatalf("Failed to start connectivity probe: %v", err)
	}
	if err := queue.Start(ctx); err != nil {
		log.Fatalf("Failed to start offline queue: %v", err)
	}

	sessionID := uuid.NewString()
	log.Printf("Playing lesson %d (%.0fs) in session %s", lessonID, duration, sessionID)

	var wg sync.WaitGroup
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	fatal := make(chan error, 1)
playback:
	for position := 0.0; position <= duration; position += step {
		hb := offlinequeue.Heartbeat{
			LessonID:  uint(lessonID),
			Position:  position,
			Duration:  duration,
			SessionID: sessionID,
		}

		// a slow or retried delivery never holds up playback
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := reporter.Report(ctx, hb); err != nil {
				select {
				case fatal <- err:
				default:
				}
			}
		}()

		select {
		case <-ctx.Done():
			break playback
		case err := <-fatal:
			log.Printf("Heartbeat rejected, stopping playback: %v", err)
			break playback
		case <-ticker.C:
		}
	}
	wg.Wait()

	if n, err := queue.Len(context.Background()); err == nil && n > 0 {
		log.Printf("%d heartbeat(s) still queued for the next session", n)
	}
	_ = queue.Stop()
	_ = probe.Stop()
}
