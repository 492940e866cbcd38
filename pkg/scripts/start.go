package scripts

import (
	"context"

	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/contracts"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/rpc"
)

// StartTracker counts StartScript attempts that may have reached the agent so
// that a start interrupted by cancellation can be resolved safely. Call Attempt
// inside the rpc action and pass Failed as its error observer.
type StartTracker struct {
	connected int
}

func (t *StartTracker) Attempt() {
	t.connected++
}

// Failed discounts attempts that are known never to have reached the agent.
func (t *StartTracker) Failed(err error) {
	if rpc.IsConnectionError(err) {
		t.connected--
	}
}

// MayHaveStarted reports whether the script may be running on the agent after
// a start that ended with err.
func (t *StartTracker) MayHaveStarted(err error) bool {
	return !rpc.IsConnectionError(err) || t.connected > 0
}

// Recover resolves a failed idempotent start. Unless ctx has ended the error is
// returned as is. A start cancelled before it could reach the agent becomes a
// CancelledError. Otherwise the script may be running under ticket, so a
// pending placeholder is returned and the orchestrator cancels and completes
// it.
func (t *StartTracker) Recover(ctx context.Context, err error, ticket contracts.ScriptTicket, version Version) (*OperationResult, error) {
	if ctx.Err() == nil {
		return nil, err
	}
	if !t.MayHaveStarted(err) {
		return nil, &CancelledError{Cause: err}
	}
	return StartedPlaceholder(ticket, version, err), nil
}

// StartedPlaceholder stands in for the unknown status of a script that may
// have been started by a start that failed with cause.
func StartedPlaceholder(ticket contracts.ScriptTicket, version Version, cause error) *OperationResult {
	return &OperationResult{
		Interrupted: cause,
		Status: Status{State: contracts.ProcessStatePending},
		Context: CommandContext{
			ScriptTicket:    ticket,
			NextLogSequence: 0,
			Version:         version,
		},
	}
}
