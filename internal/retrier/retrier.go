// Package retrier executes fallible operations with bounded retries.
//
// The retrier is the single point that decides retry-vs-stop based on error
// classification. Retriable errors are retried with a fixed delay and
// converted to retries-exceeded errors when attempts run out.
// Fatal-retriable errors consume an escalating backoff schedule and escalate
// to fatal when the schedule is exhausted. Everything else passes through
// untouched. Callers above the retrier only distinguish fatal errors, which
// stop the worker, from everything else, which fails the one event.
package retrier

import (
	"context"
	"fmt"
	"time"

	"github.com/reefdata/objsearch/internal/errors"
	"github.com/reefdata/objsearch/internal/events"
)

// Logger receives every retry attempt for observability. retryCount starts
// at 1 and increases strictly. event is the event being processed, if any.
type Logger func(retryCount int, event events.Handle, err error)

// Retrier retries operations per the error taxonomy. Safe for use from a
// single worker goroutine; workers do not share retriers.
type Retrier struct {
	retryCount    int
	delay         time.Duration
	fatalBackoffs []time.Duration
	log           Logger
}

// New creates a Retrier. retryCount must be at least 1 and delay at least
// one millisecond; every fatal backoff must be positive. The logger is
// required so retry storms are never silent.
func New(retryCount int, delay time.Duration, fatalBackoffs []time.Duration, log Logger) (*Retrier, error) {
	if retryCount < 1 {
		return nil, fmt.Errorf("retryCount must be at least 1")
	}
	if delay < time.Millisecond {
		return nil, fmt.Errorf("delay must be at least 1ms")
	}
	for _, b := range fatalBackoffs {
		if b <= 0 {
			return nil, fmt.Errorf("illegal value in fatalBackoffs: %v", b)
		}
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	backoffs := make([]time.Duration, len(fatalBackoffs))
	copy(backoffs, fatalBackoffs)
	return &Retrier{retryCount: retryCount, delay: delay, fatalBackoffs: backoffs, log: log}, nil
}

// RetryCount returns the configured number of normal retries.
func (r *Retrier) RetryCount() int { return r.retryCount }

// Delay returns the fixed delay between normal retries.
func (r *Retrier) Delay() time.Duration { return r.delay }

// FatalBackoffs returns a copy of the escalating backoff schedule.
func (r *Retrier) FatalBackoffs() []time.Duration {
	out := make([]time.Duration, len(r.fatalBackoffs))
	copy(out, r.fatalBackoffs)
	return out
}

// Run executes fn, retrying per the error taxonomy. event is attached to
// every logged attempt and may be nil.
func (r *Retrier) Run(ctx context.Context, event events.Handle, fn func() error) error {
	_, err := Func(ctx, r, event, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Func executes fn and returns its result, retrying per the error taxonomy.
func Func[T any](ctx context.Context, r *Retrier, event events.Handle, fn func() (T, error)) (T, error) {
	var zero T
	retries := 0
	fatalRetries := 0
	for {
		res, err := fn()
		if err == nil {
			return res, nil
		}
		switch errors.KindOf(err) {
		case errors.KindRetriable:
			retries++
			if retries > r.retryCount {
				return zero, errors.RetriesExceeded(errors.AsIndexing(err))
			}
			r.log(retries+fatalRetries, event, err)
			if err := sleep(ctx, r.delay); err != nil {
				return zero, err
			}
		case errors.KindFatalRetriable:
			if fatalRetries >= len(r.fatalBackoffs) {
				return zero, errors.Escalate(errors.AsIndexing(err))
			}
			backoff := r.fatalBackoffs[fatalRetries]
			fatalRetries++
			r.log(retries+fatalRetries, event, err)
			if err := sleep(ctx, backoff); err != nil {
				return zero, err
			}
		default:
			// fatal, unprocessable and unclassified errors are
			// never retried
			return zero, err
		}
	}
}

// sleep waits for d, aborting immediately if the context is cancelled. An
// interrupt during the sleep aborts the whole retry chain.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
