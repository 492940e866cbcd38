package rpc

import (
	"context"
	"time"

	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/internal/logfields"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/logging"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/observability"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/sigcontext"
	"go.opentelemetry.io/otel/attribute"
)

// Executor runs Calls with or without retries, reporting every call to its
// Observer and tracing it.
type Executor struct {
	log      logging.Logger
	retries  *RetryHandler
	observer Observer
}

func NewExecutor(log logging.Logger, retries *RetryHandler, observer Observer) *Executor {
	if retries == nil {
		retries = NewRetryHandler(DefaultRetryDuration)
	}
	if observer == nil {
		observer = NoopObserver()
	}
	return &Executor{log: log, retries: retries, observer: observer}
}

func (e *Executor) RetryDuration() time.Duration {
	return e.retries.RetryDuration()
}

// Execute runs action with retries when retriesEnabled, otherwise exactly once.
// onError, when given, sees every failed attempt in both modes.
func (e *Executor) Execute(ctx context.Context, retriesEnabled bool, call Call, action Action, onError func(error)) error {
	if retriesEnabled {
		return e.ExecuteWithRetries(ctx, call, action, onError)
	}
	return e.executeOnce(ctx, call, action, onError)
}

func (e *Executor) ExecuteWithRetries(ctx context.Context, call Call, action Action, onError func(error)) (err error) {
	ctx, span := observability.StartSpan(ctx, "rpc.ExecuteWithRetries", callAttributes(call)...)
	metrics := CallMetrics{
		Call:           call,
		RetriesEnabled: true,
		RetryDuration:  e.retries.RetryDuration(),
		Start:          time.Now(),
	}
	defer func() {
		span.SetAttributes(attribute.Int("rpc.attempts", len(metrics.Attempts)))
		observability.EndSpan(span, err)
		e.completed(metrics, err)
	}()

	log := e.log.WithFields(logfields.Call(call.Service, call.Name))
	return e.retries.Execute(ctx, call, action, Hooks{
		OnError: onError,
		OnAttempt: func(a AttemptMetrics) {
			metrics.Attempts = append(metrics.Attempts, a)
		},
		OnRetry: func(ev RetryEvent) {
			remaining := ev.RetryDuration - ev.Elapsed
			if remaining < 0 {
				remaining = 0
			}
			log.WithField(logfields.AttemptKey, ev.Retry).Infof(
				"An error occurred communicating with the agent. This action will be retried after %d seconds. Retries will be performed for up to %d seconds.",
				int(ev.Sleep.Seconds()), int(remaining.Seconds()))
			log.WithError(ev.Err).Debug("retrying after failure")
		},
		OnTimeout: func(ev TimeoutEvent) {
			if ev.Retries > 0 {
				log.Infof("Could not communicate with the agent after %d seconds. No more retries will be attempted.", int(ev.Elapsed.Seconds()))
				return
			}
			log.Infof("Could not communicate with the agent after %d seconds.", int(ev.Elapsed.Seconds()))
		},
	})
}

// ExecuteWithNoRetries runs action exactly once.
func (e *Executor) ExecuteWithNoRetries(ctx context.Context, call Call, action Action) error {
	return e.executeOnce(ctx, call, action, nil)
}

func (e *Executor) executeOnce(ctx context.Context, call Call, action Action, onError func(error)) (err error) {
	ctx, span := observability.StartSpan(ctx, "rpc.ExecuteWithNoRetries", callAttributes(call)...)
	metrics := CallMetrics{Call: call, Start: time.Now()}
	defer func() {
		observability.EndSpan(span, err)
		e.completed(metrics, err)
	}()

	if cerr := ctx.Err(); cerr != nil {
		return &CancelledError{Call: call, Err: &ConnectionError{Err: cerr}}
	}
	start := time.Now()
	err = action(ctx)
	metrics.Attempts = append(metrics.Attempts, AttemptMetrics{Start: start, End: time.Now(), Err: err})
	if err != nil && onError != nil {
		onError(err)
	}
	return err
}

// ExecuteAbandonable runs action once. Once ctx ends the action is given
// abandonAfter to finish; past that the caller gets an
// OperationAbandonedError while the action keeps running and its eventual
// outcome is logged.
func (e *Executor) ExecuteAbandonable(ctx context.Context, call Call, abandonAfter time.Duration, action Action) error {
	actionCtx, stop := sigcontext.WithGrace(ctx, abandonAfter)
	done := make(chan error, 1)
	go func() {
		defer stop()
		done <- e.ExecuteWithNoRetries(actionCtx, call, action)
	}()

	select {
	case err := <-done:
		return err
	case <-actionCtx.Done():
	}
	select {
	case err := <-done:
		return err
	default:
	}

	log := e.log.WithFields(logfields.Call(call.Service, call.Name))
	log.WithField("after", abandonAfter).Warn("abandoning call after cancellation, it will finish in the background")
	go func() {
		if err := <-done; err != nil {
			log.WithError(err).Debug("abandoned call failed")
			return
		}
		log.Debug("abandoned call completed")
	}()
	return &OperationAbandonedError{Call: call, After: abandonAfter}
}

func (e *Executor) completed(metrics CallMetrics, err error) {
	metrics.End = time.Now()
	metrics.Err = err
	e.observer.RPCCallCompleted(metrics)
}

func callAttributes(call Call) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("rpc.service", call.Service),
		attribute.String("rpc.method", call.Name),
	}
}
