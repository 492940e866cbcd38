package rpc

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/backoff"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/internal/testoutput"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/logging"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCall = Call{Service: "ScriptServiceV2", Name: "GetStatus"}

type recordingObserver struct {
	mu    sync.Mutex
	calls []CallMetrics
	ch    chan CallMetrics
}

func (o *recordingObserver) RPCCallCompleted(m CallMetrics) {
	o.mu.Lock()
	o.calls = append(o.calls, m)
	o.mu.Unlock()
	if o.ch != nil {
		o.ch <- m
	}
}

func (o *recordingObserver) last(t *testing.T) CallMetrics {
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.calls)
	return o.calls[len(o.calls)-1]
}

func fastRetries(duration time.Duration, opts ...RetryOption) *RetryHandler {
	opts = append([]RetryOption{
		WithRetrySleep(backoff.StrategyFunc(func(int) time.Duration { return time.Millisecond })),
		WithMinimumRemaining(0),
	}, opts...)
	return NewRetryHandler(duration, opts...)
}

func testExecutor(t *testing.T, retries *RetryHandler) (*Executor, *recordingObserver) {
	observer := &recordingObserver{}
	return NewExecutor(testoutput.Logger(t, logging.New("rpc")), retries, observer), observer
}

func failing(errs ...error) (Action, *int) {
	calls := 0
	return func(ctx context.Context) error {
		calls++
		if calls <= len(errs) {
			return errs[calls-1]
		}
		return nil
	}, &calls
}

func TestExecuteWithoutRetriesAttemptsOnce(t *testing.T) {
	e, observer := testExecutor(t, fastRetries(time.Minute))
	failure := &TransferError{Err: errors.New("connection reset")}
	action, calls := failing(failure, failure)

	var seen []error
	err := e.Execute(context.Background(), false, testCall, action, func(err error) { seen = append(seen, err) })

	require.Error(t, err)
	assert.Equal(t, failure, err)
	assert.Equal(t, 1, *calls)
	assert.Len(t, seen, 1)
	m := observer.last(t)
	assert.False(t, m.RetriesEnabled)
	assert.Len(t, m.Attempts, 1)
	assert.Equal(t, failure, m.Err)
}

func TestExecuteRetriesNetworkFailures(t *testing.T) {
	e, observer := testExecutor(t, fastRetries(time.Minute))
	action, calls := failing(
		&ConnectionError{Err: errors.New("dial refused")},
		&TransferError{Err: errors.New("connection reset")},
	)

	var seen []error
	err := e.Execute(context.Background(), true, testCall, action, func(err error) { seen = append(seen, err) })

	require.NoError(t, err)
	assert.Equal(t, 3, *calls)
	assert.Len(t, seen, 2)
	m := observer.last(t)
	assert.True(t, m.RetriesEnabled)
	assert.Len(t, m.Attempts, 3)
	assert.True(t, m.Succeeded())
}

func TestExecuteDoesNotRetryApplicationErrors(t *testing.T) {
	e, _ := testExecutor(t, fastRetries(time.Minute))
	failure := errors.New("ticket not found")
	action, calls := failing(failure, failure)

	err := e.ExecuteWithRetries(context.Background(), testCall, action, nil)

	assert.Equal(t, failure, err)
	assert.Equal(t, 1, *calls)
}

func TestExecuteRetriesUntilBudgetSpent(t *testing.T) {
	e, _ := testExecutor(t, fastRetries(150*time.Millisecond,
		WithRetrySleep(backoff.StrategyFunc(func(int) time.Duration { return 20 * time.Millisecond }))))
	calls := 0
	action := func(ctx context.Context) error {
		calls++
		return &ConnectionError{Err: errors.New("dial refused")}
	}

	err := e.ExecuteWithRetries(context.Background(), testCall, action, nil)

	var exhausted *RetriesExhaustedError
	require.True(t, errors.As(err, &exhausted), "got %v", err)
	assert.Greater(t, calls, 1)
	assert.Equal(t, calls, exhausted.Attempts)
	assert.True(t, IsConnectionError(err))
	assert.False(t, errors.Is(err, context.Canceled))
}

func TestExecuteSkipsRetryWithoutEnoughRemainingBudget(t *testing.T) {
	log := testoutput.Record(t, "rpc")
	defer logging.Set(testoutput.Revert())

	retries := NewRetryHandler(2*time.Second,
		WithRetrySleep(backoff.StrategyFunc(func(int) time.Duration { return 1500 * time.Millisecond })))
	e := NewExecutor(log, retries, nil)
	action, calls := failing(&TransferError{Err: errors.New("reset")})

	err := e.ExecuteWithRetries(context.Background(), testCall, action, nil)

	var exhausted *RetriesExhaustedError
	require.True(t, errors.As(err, &exhausted), "got %v", err)
	assert.Equal(t, 1, *calls)
	assert.True(t, log.Contains("Could not communicate with the agent after 0 seconds."))
	assert.False(t, log.Contains("No more retries"))
}

func TestExecuteLogsRetries(t *testing.T) {
	log := testoutput.Record(t, "rpc")
	defer logging.Set(testoutput.Revert())

	e := NewExecutor(log, fastRetries(time.Minute), nil)
	action, _ := failing(&TransferError{Err: errors.New("reset")})

	require.NoError(t, e.ExecuteWithRetries(context.Background(), testCall, action, nil))
	assert.True(t, log.Contains("will be retried after 0 seconds"))
	assert.True(t, log.Contains("ScriptServiceV2.GetStatus"))
}

func TestExecuteCancelledDuringRetrySleep(t *testing.T) {
	retries := NewRetryHandler(time.Hour,
		WithRetrySleep(backoff.StrategyFunc(func(int) time.Duration { return 30 * time.Second })),
		WithMinimumRemaining(0))
	e, _ := testExecutor(t, retries)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	failure := &TransferError{Err: errors.New("reset")}
	action, calls := failing(failure)
	err := e.ExecuteWithRetries(ctx, testCall, action, func(error) {
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
	})

	var cancelled *CancelledError
	require.True(t, errors.As(err, &cancelled), "got %v", err)
	assert.Equal(t, failure, cancelled.Err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, IsTransferError(err))
	assert.Equal(t, 1, *calls)
}

func TestExecuteCancelledBeforeFirstAttempt(t *testing.T) {
	for _, retriesEnabled := range []bool{true, false} {
		e, _ := testExecutor(t, fastRetries(time.Minute))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		action, calls := failing()
		errorsSeen := 0
		err := e.Execute(ctx, retriesEnabled, testCall, action, func(error) { errorsSeen++ })

		assert.Equal(t, 0, *calls, "retries=%v", retriesEnabled)
		assert.Equal(t, 0, errorsSeen)
		assert.True(t, errors.Is(err, context.Canceled))
		assert.True(t, IsConnectionError(err))
	}
}

func TestRetryAttemptBoundedByRemainingDuration(t *testing.T) {
	e, _ := testExecutor(t, fastRetries(200*time.Millisecond))
	first := &ConnectionError{Err: errors.New("dial refused")}
	calls := 0
	action := func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return first
		}
		<-ctx.Done()
		return &TransferError{Err: ctx.Err()}
	}

	start := time.Now()
	err := e.ExecuteWithRetries(context.Background(), testCall, action, nil)

	var exhausted *RetriesExhaustedError
	require.True(t, errors.As(err, &exhausted), "got %v", err)
	assert.Equal(t, first, exhausted.Err)
	assert.Equal(t, 2, calls)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecuteAbandonableReturnsResultWithinGrace(t *testing.T) {
	e, _ := testExecutor(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var actionErr error
	err := e.ExecuteAbandonable(ctx, testCall, time.Minute, func(ctx context.Context) error {
		actionErr = ctx.Err()
		return nil
	})

	assert.NoError(t, err)
	assert.NoError(t, actionErr, "action must not observe the caller's cancellation")
}

func TestExecuteAbandonableGivesUpAfterGrace(t *testing.T) {
	observer := &recordingObserver{ch: make(chan CallMetrics, 1)}
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)
	e := NewExecutor(quiet.WithField("component", "rpc"), nil, observer)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	release := make(chan struct{})
	err := e.ExecuteAbandonable(ctx, testCall, 20*time.Millisecond, func(context.Context) error {
		<-release
		return nil
	})

	var abandoned *OperationAbandonedError
	require.True(t, errors.As(err, &abandoned), "got %v", err)
	assert.Equal(t, 20*time.Millisecond, abandoned.After)

	close(release)
	select {
	case m := <-observer.ch:
		assert.True(t, m.Succeeded())
	case <-time.After(5 * time.Second):
		t.Fatal("abandoned call never completed")
	}
}
