// Package offlinequeue keeps heartbeats that could not be delivered and
// replays them, oldest first, once the API is reachable again.
//
// The queue is a bounded, durable FIFO. When it is full the oldest entry is
// evicted, so recent samples win over historical ones during long outages.
// Replays stop at the first transient failure to keep ordering and to avoid
// hammering an endpoint that is still down.
package offlinequeue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"lessonpulse/apperrors"
	"lessonpulse/reporting"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

const (
	DefaultCapacity      = 100
	DefaultFlushInterval = 30 * time.Second
)

var (
	ErrFlushInProgress = errors.New("offline queue flush already in progress")
	ErrAlreadyStarted  = errors.New("offline queue already started")
	ErrNotStarted      = errors.New("offline queue not started")
	ErrNoSender        = errors.New("offline queue has no sender")
)

// Heartbeat is one queued playback report.
type Heartbeat struct {
	ID          string  `json:"id"`
	LessonID    uint    `json:"lessonId"`
	Position    float64 `json:"position"`
	Duration    float64 `json:"duration"`
	TimestampMs int64   `json:"timestampMs"`
	SessionID   string  `json:"sessionId,omitempty"`
	RetryCount  int     `json:"retryCount"`
}

// Storage persists the whole queue as one ordered list.
type Storage interface {
	Load(ctx context.Context) ([]Heartbeat, error)
	Save(ctx context.Context, entries []Heartbeat) error
}

// Sender delivers a single heartbeat to the API.
type Sender interface {
	Send(ctx context.Context, hb Heartbeat) error
}

type SenderFunc func(ctx context.Context, hb Heartbeat) error

func (f SenderFunc) Send(ctx context.Context, hb Heartbeat) error { return f(ctx, hb) }

// Connectivity reports whether the API is reachable and publishes changes.
// A true value on Changes means connectivity was restored.
type Connectivity interface {
	Online() bool
	Changes() <-chan bool
}

// Queue is the offline heartbeat queue for one client session.
type Queue struct {
	storage      Storage
	sender       Sender
	connectivity Connectivity
	capacity     int
	interval     time.Duration
	now          func() time.Time

	// mu serializes read-modify-write cycles on storage
	mu       sync.Mutex
	flushing atomic.Bool
	evicted  atomic.Int64

	lifecycle sync.Mutex
	started   bool
	cancel    context.CancelFunc
	scheduler *cron.Cron
	stopCh    chan struct{}
	doneCh    chan struct{}
}

type Option func(*Queue)

func WithCapacity(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

func WithFlushInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.interval = d
		}
	}
}

// WithSender sets the sender used by scheduled flushes.
func WithSender(s Sender) Option {
	return func(q *Queue) { q.sender = s }
}

func WithConnectivity(c Connectivity) Option {
	return func(q *Queue) { q.connectivity = c }
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func New(storage Storage, opts ...Option) *Queue {
	q := &Queue{
		storage:  storage,
		capacity: DefaultCapacity,
		interval: DefaultFlushInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends hb to the queue, evicting the oldest entries beyond capacity.
func (q *Queue) Enqueue(ctx context.Context, hb Heartbeat) error {
	if hb.ID == "" {
		hb.ID = uuid.NewString()
	}
	if hb.TimestampMs == 0 {
		hb.TimestampMs = q.now().UnixMilli()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.storage.Load(ctx)
	if err != nil {
		return &storageError{op: "load", err: err}
	}
	entries = append(entries, hb)
	if over := len(entries) - q.capacity; over > 0 {
		entries = entries[over:]
		q.evicted.Add(int64(over))
		log.Printf("[OFFLINE-QUEUE] queue full, evicted %d oldest heartbeat(s)", over)
	}
	if err := q.storage.Save(ctx, entries); err != nil {
		return &storageError{op: "save", err: err}
	}
	return nil
}

// ProcessQueue replays queued heartbeats in insertion order through send.
//
// Each delivered entry is removed. A permanent rejection (validation,
// not found, authorization) drops that entry and moves on, since replaying
// it can never succeed. Any other failure bumps the entry's RetryCount and
// ends the cycle, leaving it and everything after it for the next run.
// Only one run may be active; a concurrent call returns ErrFlushInProgress.
func (q *Queue) ProcessQueue(ctx context.Context, send Sender) (delivered int, err error) {
	if send == nil {
		return 0, ErrNoSender
	}
	if !q.flushing.CompareAndSwap(false, true) {
		return 0, ErrFlushInProgress
	}
	defer q.flushing.Store(false)

	q.mu.Lock()
	pending, err := q.storage.Load(ctx)
	q.mu.Unlock()
	if err != nil {
		return 0, &storageError{op: "load", err: err}
	}

	for _, hb := range pending {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}

		sendErr := send.Send(ctx, hb)
		switch {
		case sendErr == nil:
			if err := q.remove(ctx, hb.ID); err != nil {
				return delivered, err
			}
			delivered++
		case apperrors.IsPermanent(sendErr):
			log.Printf("[OFFLINE-QUEUE] dropping heartbeat %s for lesson %d: %v", hb.ID, hb.LessonID, sendErr)
			if err := q.remove(ctx, hb.ID); err != nil {
				return delivered, err
			}
		case ctx.Err() != nil:
			return delivered, ctx.Err()
		default:
			if err := q.bumpRetry(ctx, hb.ID); err != nil {
				return delivered, err
			}
			return delivered, sendErr
		}
	}
	return delivered, nil
}

// Len returns the number of queued heartbeats.
func (q *Queue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.storage.Load(ctx)
	return len(entries), err
}

// Evicted returns how many heartbeats were dropped for capacity since New.
func (q *Queue) Evicted() int64 {
	return q.evicted.Load()
}

// Start flushes on a fixed interval and whenever connectivity is restored,
// using the sender given by WithSender. It runs until Stop or until ctx ends.
func (q *Queue) Start(ctx context.Context) error {
	q.lifecycle.Lock()
	defer q.lifecycle.Unlock()

	if q.started {
		return ErrAlreadyStarted
	}
	if q.sender == nil {
		return ErrNoSender
	}

	runCtx, cancel := context.WithCancel(ctx)
	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := scheduler.AddFunc(fmt.Sprintf("@every %s", q.interval), func() {
		if q.connectivity != nil && !q.connectivity.Online() {
			return
		}
		q.flush(runCtx, "tick")
	})
	if err != nil {
		cancel()
		return fmt.Errorf("schedule offline queue flush: %w", err)
	}

	q.cancel = cancel
	q.scheduler = scheduler
	q.stopCh = make(chan struct{})
	q.doneCh = make(chan struct{})
	q.started = true

	scheduler.Start()
	go q.watchConnectivity(runCtx)

	log.Printf("[OFFLINE-QUEUE] started, flushing every %s", q.interval)
	return nil
}

// Stop cancels in-flight deliveries and waits for the background work to end.
func (q *Queue) Stop() error {
	q.lifecycle.Lock()
	if !q.started {
		q.lifecycle.Unlock()
		return ErrNotStarted
	}
	q.started = false
	q.cancel()
	close(q.stopCh)
	scheduler, doneCh := q.scheduler, q.doneCh
	q.lifecycle.Unlock()

	<-scheduler.Stop().Done()
	<-doneCh

	log.Println("[OFFLINE-QUEUE] stopped")
	return nil
}

func (q *Queue) watchConnectivity(ctx context.Context) {
	defer close(q.doneCh)

	var changes <-chan bool
	if q.connectivity != nil {
		changes = q.connectivity.Changes()
	}

	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		case online, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if online {
				q.flush(ctx, "connectivity restored")
			}
		}
	}
}

func (q *Queue) flush(ctx context.Context, reason string) {
	delivered, err := q.ProcessQueue(ctx, q.sender)
	switch {
	case err == nil:
		if delivered > 0 {
			log.Printf("[OFFLINE-QUEUE] flush (%s) delivered %d heartbeat(s)", reason, delivered)
		}
	case errors.Is(err, ErrFlushInProgress), errors.Is(err, context.Canceled):
	default:
		log.Printf("[OFFLINE-QUEUE] flush (%s) stopped after %d delivered: %v", reason, delivered, err)
		// delivery failures are expected while offline, broken storage is not
		var se *storageError
		if errors.As(err, &se) {
			reporting.Error("OFFLINE-QUEUE", err, map[string]interface{}{"reason": reason})
		}
	}
}

func (q *Queue) remove(ctx context.Context, id string) error {
	return q.update(ctx, func(entries []Heartbeat) []Heartbeat {
		out := entries[:0]
		for _, e := range entries {
			if e.ID != id {
				out = append(out, e)
			}
		}
		return out
	})
}

func (q *Queue) bumpRetry(ctx context.Context, id string) error {
	return q.update(ctx, func(entries []Heartbeat) []Heartbeat {
		for i := range entries {
			if entries[i].ID == id {
				entries[i].RetryCount++
			}
		}
		return entries
	})
}

func (q *Queue) update(ctx context.Context, fn func([]Heartbeat) []Heartbeat) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.storage.Load(ctx)
	if err != nil {
		return &storageError{op: "load", err: err}
	}
	if err := q.storage.Save(ctx, fn(entries)); err != nil {
		return &storageError{op: "save", err: err}
	}
	return nil
}

type storageError struct {
	op  string
	err error
}

func (e *storageError) Error() string { return e.op + " offline queue: " + e.err.Error() }

func (e *storageError) Unwrap() error { return e.err }
