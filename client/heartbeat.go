// Package client reports playback heartbeats to the progress API.
//
// Delivery never interrupts playback: transient failures are retried with
// backoff and then parked in the offline queue. Only permanent rejections
// (validation, unknown lesson, not enrolled) reach the caller.
package client

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"lessonpulse/apperrors"
	"lessonpulse/services/offlinequeue"
	"lessonpulse/services/retry"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

const (
	heartbeatPath  = "/progress/lessons/{lesson_id}/heartbeat"
	defaultTimeout = 10 * time.Second
)

// Progress is the server's view of a lesson after a heartbeat.
type Progress struct {
	LessonID             uint       `json:"lesson_id"`
	WatchedSeconds       int64      `json:"watched_seconds"`
	LastPosition         float64    `json:"last_position"`
	CompletionPercentage int        `json:"completion_percentage"`
	IsCompleted          bool       `json:"is_completed"`
	CompletedAt          *time.Time `json:"completed_at"`
	State                string     `json:"state"`
}

type heartbeatRequest struct {
	Position  float64 `json:"position"`
	Duration  float64 `json:"duration"`
	SessionID string  `json:"session_id,omitempty"`
}

type progressEnvelope struct {
	Status  bool     `json:"status"`
	Message string   `json:"message"`
	Data    Progress `json:"data"`
}

type errorEnvelope struct {
	Status  bool              `json:"status"`
	Message string            `json:"message"`
	Data    map[string]string `json:"data"`
}

// Enqueuer parks a heartbeat for later delivery.
type Enqueuer interface {
	Enqueue(ctx context.Context, hb offlinequeue.Heartbeat) error
}

// Retrier runs an operation under a retry policy.
type Retrier interface {
	Do(ctx context.Context, policy retry.Policy, op retry.Operation) error
}

// Reporter sends heartbeats over HTTP.
type Reporter struct {
	http         *resty.Client
	policy       retry.Policy
	replayPolicy retry.Policy
	retrier      Retrier
	queue        Enqueuer
}

// defaultReplayPolicy is kept short: a replay that still fails leaves the
// entry queued for the next flush.
func defaultReplayPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:       2,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          2 * time.Second,
		BackoffMultiplier: 2,
		UseJitter:         true,
	}
}

type Option func(*Reporter)

func WithPolicy(p retry.Policy) Option {
	return func(r *Reporter) { r.policy = p }
}

// WithReplayPolicy sets the policy Replay uses for queued heartbeats.
func WithReplayPolicy(p retry.Policy) Option {
	return func(r *Reporter) { r.replayPolicy = p }
}

func WithRetrier(rt Retrier) Option {
	return func(r *Reporter) { r.retrier = rt }
}

// WithQueue parks heartbeats whose delivery ultimately failed.
func WithQueue(q Enqueuer) Option {
	return func(r *Reporter) { r.queue = q }
}

func WithTimeout(d time.Duration) Option {
	return func(r *Reporter) { r.http.SetTimeout(d) }
}

func New(baseURL, token string, opts ...Option) *Reporter {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(defaultTimeout).
		SetHeader("Content-Type", "application/json")
	if token != "" {
		httpClient.SetAuthToken(token)
	}

	r := &Reporter{
		http:         httpClient,
		policy:       retry.DefaultPolicy(),
		replayPolicy: defaultReplayPolicy(),
		retrier:      retry.New(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Report delivers hb, retrying transient failures. When retries are
// exhausted the heartbeat is queued and Report returns nil. Permanent
// rejections are returned and never queued.
func (r *Reporter) Report(ctx context.Context, hb offlinequeue.Heartbeat) error {
	err := r.retrier.Do(ctx, r.policy, func(ctx context.Context) error {
		return r.Send(ctx, hb)
	})
	if err == nil {
		return nil
	}
	if apperrors.IsPermanent(err) {
		return err
	}
	if r.queue == nil {
		return err
	}

	log.Printf("[HEARTBEAT-CLIENT] lesson %d at %.1fs not delivered, queueing: %v", hb.LessonID, hb.Position, err)
	// the caller may have moved on; the heartbeat still belongs in the queue
	if qerr := r.queue.Enqueue(context.WithoutCancel(ctx), hb); qerr != nil {
		return errors.Wrap(qerr, "queue undelivered heartbeat")
	}
	return nil
}

// Replay redelivers a queued heartbeat under the replay policy. It never
// enqueues; the offline queue decides what happens to an entry that fails.
func (r *Reporter) Replay(ctx context.Context, hb offlinequeue.Heartbeat) error {
	return r.retrier.Do(ctx, r.replayPolicy, func(ctx context.Context) error {
		return r.Send(ctx, hb)
	})
}

// Send makes a single delivery attempt. It satisfies offlinequeue.Sender.
func (r *Reporter) Send(ctx context.Context, hb offlinequeue.Heartbeat) error {
	_, err := r.SendHeartbeat(ctx, hb)
	return err
}

// SendHeartbeat makes a single delivery attempt and returns the server's
// progress view.
func (r *Reporter) SendHeartbeat(ctx context.Context, hb offlinequeue.Heartbeat) (*Progress, error) {
	var (
		result  progressEnvelope
		failure errorEnvelope
	)
	resp, err := r.http.R().
		SetContext(ctx).
		SetPathParam("lesson_id", strconv.FormatUint(uint64(hb.LessonID), 10)).
		SetBody(heartbeatRequest{Position: hb.Position, Duration: hb.Duration, SessionID: hb.SessionID}).
		SetResult(&result).
		SetError(&failure).
		Post(heartbeatPath)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperrors.NewTransient(0, err)
	}

	if resp.IsSuccess() {
		return &result.Data, nil
	}
	return nil, statusError(resp.StatusCode(), hb.LessonID, failure, resp.String())
}

// statusError maps an API rejection back onto the error taxonomy.
func statusError(code int, lessonID uint, body errorEnvelope, raw string) error {
	msg := body.Message
	if msg == "" {
		msg = http.StatusText(code)
	}

	switch code {
	case http.StatusNotFound:
		return apperrors.NewNotFound("lesson", lessonID)
	case http.StatusUnauthorized, http.StatusForbidden:
		return &apperrors.AuthorizationError{Reason: msg}
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		fields := make([]apperrors.FieldError, 0, len(body.Data))
		for field, problem := range body.Data {
			fields = append(fields, apperrors.FieldError{Field: field, Error: problem})
		}
		return apperrors.NewValidation(msg, fields...)
	default:
		return &retry.StatusError{Code: code, Body: raw}
	}
}
