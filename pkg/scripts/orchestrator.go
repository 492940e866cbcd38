package scripts

import (
	"context"
	"time"

	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/backoff"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/logging"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/sigcontext"
	"github.com/pkg/errors"
)

// Orchestrator runs one script at a time through an Executor. It is safe to
// reuse for consecutive runs but not for concurrent ones.
type Orchestrator struct {
	log      logging.Logger
	executor Executor
	backoff  backoff.Strategy
	handlers Handlers

	// sleep waits for d; interruptible sleeps return early when ctx ends.
	sleep func(ctx context.Context, d time.Duration)

	iteration       int
	cancelIteration int
}

func NewOrchestrator(log logging.Logger, executor Executor, strategy backoff.Strategy, handlers Handlers) (*Orchestrator, error) {
	switch {
	case executor == nil:
		return nil, errors.New("executor must be provided")
	case strategy == nil:
		return nil, errors.New("backoff strategy must be provided")
	}
	return &Orchestrator{
		log:      log,
		executor: executor,
		backoff:  strategy,
		handlers: handlers,
		sleep:    sleep,
	}, nil
}

// Execute runs cmd to completion. If ctx ends at any point the script is
// cancelled on the agent and the returned error matches ErrCancelled, whatever
// the script's own outcome.
func (o *Orchestrator) Execute(ctx context.Context, cmd ExecuteScriptCommand) (*Result, error) {
	return o.ExecuteAttempt(ctx, cmd, FirstAttempt)
}

// ExecuteAttempt is Execute for a command that may already have been sent to
// the agent by an earlier, interrupted run.
func (o *Orchestrator) ExecuteAttempt(ctx context.Context, cmd ExecuteScriptCommand, attempt StartAttempt) (*Result, error) {
	o.iteration, o.cancelIteration = 0, 0

	started, err := o.executor.StartScript(ctx, cmd, attempt)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, ErrCancelled) {
			return nil, &CancelledError{Cause: err}
		}
		return nil, err
	}
	cause := started.Interrupted
	log := o.log.WithFields(started.Context.Fields())
	log.Debug("script started")
	o.emit(started.Status)

	var cleanup error
	final, err := o.observeUntilComplete(ctx, *started)
	var abandoned *cancelAbandonedError
	switch {
	case errors.As(err, &abandoned):
		log.WithError(abandoned.err).Warn("unable to cancel script, cleaning up without confirmation")
		cleanup = abandoned.err
	case err != nil:
		return nil, err
	default:
		log.WithField("state", final.Status.State).Debug("script complete")
		if o.handlers.OnCompleted != nil {
			if err := o.handlers.OnCompleted(ctx); err != nil {
				log.WithError(err).Warn("completion handler failed")
			}
		}
	}

	status, err := o.executor.CompleteScript(ctx, final.Context)
	switch {
	case err != nil:
		log.WithError(err).Warn("failed to complete script")
		if cleanup == nil {
			cleanup = err
		}
	case status != nil:
		o.emit(*status)
		final.Status = *status
	}

	if ctx.Err() != nil {
		return nil, &CancelledError{Cause: cause, Cleanup: cleanup}
	}
	return &Result{State: final.Status.State, ExitCode: final.Status.ExitCode}, nil
}

// maxCancelFailures is how many consecutive CancelScript failures end the
// attempt to confirm cancellation.
const maxCancelFailures = 5

// cancelAbandonedError ends observation of a script that could not be
// confirmed cancelled.
type cancelAbandonedError struct {
	err error
}

func (e *cancelAbandonedError) Error() string {
	return "cancellation abandoned: " + e.err.Error()
}

func (e *cancelAbandonedError) Unwrap() error { return e.err }

// observeUntilComplete polls, or cancels once ctx has ended, until the agent
// reports the script complete.
func (o *Orchestrator) observeUntilComplete(ctx context.Context, current OperationResult) (OperationResult, error) {
	cancelFailures := 0
	for !current.Status.Complete() {
		cancelling := ctx.Err() != nil

		var next *OperationResult
		var err error
		if cancelling {
			next, err = o.executor.CancelScript(sigcontext.Detached(ctx), current.Context)
			if err != nil {
				cancelFailures++
				o.log.WithFields(current.Context.Fields()).WithError(err).
					WithField("failures", cancelFailures).Warn("failed to cancel script")
				if cancelFailures >= maxCancelFailures {
					return current, &cancelAbandonedError{err: err}
				}
				o.cancelIteration++
				o.sleep(sigcontext.Detached(ctx), o.backoff.GetBackoff(o.cancelIteration))
				continue
			}
			cancelFailures = 0
		} else {
			next, err = o.executor.GetStatus(ctx, current.Context)
			if err != nil {
				if ctx.Err() != nil {
					// Cancel on the next pass.
					continue
				}
				o.cancelInBackground(ctx, current.Context)
				return current, err
			}
		}
		current = *next
		o.emit(current.Status)
		if current.Status.Complete() {
			break
		}

		if ctx.Err() != nil {
			o.cancelIteration++
			o.sleep(sigcontext.Detached(ctx), o.backoff.GetBackoff(o.cancelIteration))
		} else {
			o.iteration++
			o.sleep(ctx, o.backoff.GetBackoff(o.iteration))
		}
	}
	return current, nil
}

// cancelInBackground makes a best effort to stop a script whose status can no
// longer be tracked.
func (o *Orchestrator) cancelInBackground(ctx context.Context, cmdCtx CommandContext) {
	ctx = sigcontext.Detached(ctx)
	log := o.log.WithFields(cmdCtx.Fields())
	go func() {
		if _, err := o.executor.CancelScript(ctx, cmdCtx); err != nil {
			log.WithError(err).Warn("failed to cancel script after losing track of it")
		}
	}()
}

func (o *Orchestrator) emit(status Status) {
	if o.handlers.OnStatus != nil {
		o.handlers.OnStatus(status)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
