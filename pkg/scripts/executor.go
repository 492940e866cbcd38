package scripts

import "context"

// Executor speaks one protocol version to the agent. Every method returns the
// context to use for the next call.
type Executor interface {
	// StartScript begins the command on the agent. Implementations that
	// cannot start idempotently reject PossiblyBeingReattempted.
	StartScript(ctx context.Context, cmd ExecuteScriptCommand, attempt StartAttempt) (*OperationResult, error)
	// GetStatus returns the state and any logs since the last call.
	GetStatus(ctx context.Context, cmdCtx CommandContext) (*OperationResult, error)
	// CancelScript asks the agent to stop the script and returns its state.
	CancelScript(ctx context.Context, cmdCtx CommandContext) (*OperationResult, error)
	// CompleteScript releases the agent's resources for the run. Versions
	// that report a final status return it, others return nil.
	CompleteScript(ctx context.Context, cmdCtx CommandContext) (*Status, error)
}

// Handlers receive a run's progress.
type Handlers struct {
	// OnStatus is called with every status received, in order.
	OnStatus func(Status)
	// OnCompleted is called once the script is complete, before the agent
	// cleans up after it.
	OnCompleted func(ctx context.Context) error
}
