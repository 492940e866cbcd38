package rpc

import (
	"context"
	"time"

	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/backoff"
	"github.com/pkg/errors"
)

const (
	// DefaultRetryDuration bounds the total time spent retrying one call.
	DefaultRetryDuration = 2 * time.Minute
	// defaultMinimumRemaining is the least retry budget worth another attempt.
	defaultMinimumRemaining = time.Second
)

// RetryEvent is reported before sleeping ahead of a retry.
type RetryEvent struct {
	Err           error
	Sleep         time.Duration
	Retry         int
	RetryDuration time.Duration
	Elapsed       time.Duration
}

// TimeoutEvent is reported when the retry budget is spent.
type TimeoutEvent struct {
	RetryDuration time.Duration
	Elapsed       time.Duration
	Retries       int
}

// Hooks observe a retry loop. All are optional.
type Hooks struct {
	// OnError runs after every failed attempt, before deciding to retry.
	OnError   func(error)
	OnRetry   func(RetryEvent)
	OnTimeout func(TimeoutEvent)
	// OnAttempt runs after every attempt with its outcome.
	OnAttempt func(AttemptMetrics)
}

// RetryHandler retries network failures until a total duration elapses. The
// first attempt runs on the caller's context as is; every retry is bounded by
// the remaining retry duration.
type RetryHandler struct {
	retryDuration    time.Duration
	minimumRemaining time.Duration
	sleeps           backoff.Strategy
	retryable        func(error) bool
}

type RetryOption func(*RetryHandler)

// WithRetrySleep sets the delay before each retry; the strategy receives the
// zero-based retry index.
func WithRetrySleep(s backoff.Strategy) RetryOption {
	return func(h *RetryHandler) { h.sleeps = s }
}

// WithMinimumRemaining sets the least budget that must remain after sleeping
// for a retry to be attempted.
func WithMinimumRemaining(d time.Duration) RetryOption {
	return func(h *RetryHandler) { h.minimumRemaining = d }
}

// WithRetryable overrides which errors are retried.
func WithRetryable(fn func(error) bool) RetryOption {
	return func(h *RetryHandler) { h.retryable = fn }
}

func NewRetryHandler(retryDuration time.Duration, opts ...RetryOption) *RetryHandler {
	if retryDuration <= 0 {
		retryDuration = DefaultRetryDuration
	}
	sleeps, err := backoff.New(time.Second, 10*time.Second, 2)
	if err != nil {
		panic(err)
	}
	h := &RetryHandler{
		retryDuration:    retryDuration,
		minimumRemaining: defaultMinimumRemaining,
		sleeps:           sleeps,
		retryable:        IsNetworkError,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *RetryHandler) RetryDuration() time.Duration {
	return h.retryDuration
}

// Execute runs action until it succeeds, fails with an error that is not
// retryable, the retry budget is spent, or ctx ends. The last attempt's error
// is returned, wrapped in CancelledError or RetriesExhaustedError for the
// latter two outcomes.
func (h *RetryHandler) Execute(ctx context.Context, call Call, action Action, hooks Hooks) error {
	start := time.Now()
	var lastErr error
	retries := 0

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = &ConnectionError{Err: err}
			}
			return &CancelledError{Call: call, Err: lastErr}
		}

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if attempt > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, h.retryDuration-time.Since(start))
		}
		attemptStart := time.Now()
		err := action(attemptCtx)
		timedOut := attempt > 0 && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		cancel()
		if hooks.OnAttempt != nil {
			hooks.OnAttempt(AttemptMetrics{Start: attemptStart, End: time.Now(), Err: err})
		}
		if err == nil {
			return nil
		}
		if hooks.OnError != nil {
			hooks.OnError(err)
		}

		switch {
		case ctx.Err() != nil:
			return &CancelledError{Call: call, Err: err}
		case timedOut:
			// The previous failure says more than the deadline that cut this
			// retry short.
			if lastErr == nil {
				lastErr = err
			}
			h.timeout(hooks, start, retries)
			return &RetriesExhaustedError{Call: call, Attempts: attempt + 1, Elapsed: time.Since(start), Err: lastErr}
		case !h.retryable(err):
			return err
		}
		lastErr = err

		sleep := h.sleeps.GetBackoff(retries)
		elapsed := time.Since(start)
		if h.retryDuration-elapsed-sleep <= h.minimumRemaining {
			h.timeout(hooks, start, retries)
			return &RetriesExhaustedError{Call: call, Attempts: attempt + 1, Elapsed: elapsed, Err: err}
		}
		retries++
		if hooks.OnRetry != nil {
			hooks.OnRetry(RetryEvent{
				Err:           err,
				Sleep:         sleep,
				Retry:         retries,
				RetryDuration: h.retryDuration,
				Elapsed:       elapsed,
			})
		}

		timer := time.NewTimer(sleep)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return &CancelledError{Call: call, Err: err}
		}
	}
}

func (h *RetryHandler) timeout(hooks Hooks, start time.Time, retries int) {
	if hooks.OnTimeout != nil {
		hooks.OnTimeout(TimeoutEvent{
			RetryDuration: h.retryDuration,
			Elapsed:       time.Since(start),
			Retries:       retries,
		})
	}
}
