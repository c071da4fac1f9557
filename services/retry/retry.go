// Package retry runs fallible delivery operations with exponential backoff.
package retry

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"lessonpulse/apperrors"

	"github.com/pkg/errors"
)

// Policy controls retry behavior. It is a plain value and is never persisted.
type Policy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	UseJitter         bool

	// RetryIf marks additional errors as retryable. Permanent errors
	// (validation, not found, authorization) are never retried regardless.
	RetryIf func(error) bool
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		InitialDelay:      time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2,
		UseJitter:         true,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay < 0 {
		p.InitialDelay = 0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = p.InitialDelay
	}
	if p.BackoffMultiplier < 1 {
		p.BackoffMultiplier = 1
	}
	return p
}

// retryableStatuses are the HTTP statuses treated as transient.
var retryableStatuses = map[int]bool{
	408: true,
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// StatusError carries the status code of a failed delivery so the dispatcher
// can classify it.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("delivery failed with status %d", e.Code)
	}
	return fmt.Sprintf("delivery failed with status %d: %s", e.Code, e.Body)
}

func (e *StatusError) StatusCode() int { return e.Code }

// Operation is a single delivery attempt.
type Operation func(ctx context.Context) error

// Dispatcher executes operations with backoff. The zero value is not usable;
// construct one with New.
type Dispatcher struct {
	sleep func(ctx context.Context, d time.Duration) error

	mu  sync.Mutex
	rng *rand.Rand
}

func New() *Dispatcher {
	return &Dispatcher{
		sleep: sleepContext,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // backoff jitter
	}
}

var defaultDispatcher = New()

// Do runs op with the package-level dispatcher.
func Do(ctx context.Context, policy Policy, op Operation) error {
	return defaultDispatcher.Do(ctx, policy, op)
}

// Do attempts op up to policy.MaxAttempts times. Non-retryable errors are
// returned immediately; after the last attempt the last error is returned
// unchanged so callers can decide whether to queue the payload.
//
// The backoff wait only blocks the calling goroutine and is cut short when
// ctx is cancelled.
func (d *Dispatcher) Do(ctx context.Context, policy Policy, op Operation) error {
	p := policy.normalized()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !p.retryable(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := d.delayFor(p, attempt)
		log.Printf("[RETRY] attempt %d/%d failed: %v (next in %s)", attempt, p.MaxAttempts, err, delay)
		if err := d.sleep(ctx, delay); err != nil {
			return errors.Wrap(lastErr, "retry aborted")
		}
	}

	return lastErr
}

// Delay returns the pre-jitter backoff for attempt n (1-based):
// min(maxDelay, initialDelay * multiplier^(n-1)).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 1 {
		attempt = 1
	}
	raw := float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(attempt-1))
	if raw >= float64(p.MaxDelay) || math.IsInf(raw, 0) {
		return p.MaxDelay
	}
	return time.Duration(raw)
}

func (d *Dispatcher) delayFor(p Policy, attempt int) time.Duration {
	base := p.Delay(attempt)
	if !p.UseJitter || base <= 0 {
		return base
	}
	d.mu.Lock()
	f := d.rng.Float64()
	d.mu.Unlock()
	// jitter in [0, 25%] of the capped delay
	return base + time.Duration(f*0.25*float64(base))
}

func (p Policy) retryable(err error) bool {
	if apperrors.IsPermanent(err) {
		return false
	}
	if IsRetryable(err) {
		return true
	}
	return p.RetryIf != nil && p.RetryIf(err)
}

// IsRetryable classifies err as a transient delivery failure: a retryable
// status code, an explicit TransientDeliveryError, or a network-level failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if apperrors.IsPermanent(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var coded interface{ StatusCode() int }
	if errors.As(err, &coded) {
		return retryableStatuses[coded.StatusCode()]
	}
	var transient *apperrors.TransientDeliveryError
	if errors.As(err, &transient) {
		if transient.StatusCode > 0 {
			return retryableStatuses[transient.StatusCode]
		}
		return true
	}

	return isNetworkError(err)
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, needle := range []string{
		"connection refused",
		"connection reset",
		"timeout",
		"timed out",
		"failed to fetch",
		"network is unreachable",
		"no such host",
		"broken pipe",
		"eof",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
