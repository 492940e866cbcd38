package scripts

import (
	"context"
	"fmt"

	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/contracts"
	"github.com/pkg/errors"
)

// ErrCancelled matches every error reporting that the caller cancelled a run.
var ErrCancelled = errors.New("script execution was cancelled")

// CancelledError reports a run that ended because the caller cancelled it,
// regardless of what the script itself did. Cause is the failure that was in
// flight when cancellation was observed, if any; Cleanup is a failure while
// cancelling the script on the agent.
type CancelledError struct {
	Cause   error
	Cleanup error
}

func (e *CancelledError) Error() string {
	msg := ErrCancelled.Error()
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if e.Cleanup != nil {
		msg += " (cleanup failed: " + e.Cleanup.Error() + ")"
	}
	return msg
}

func (e *CancelledError) Unwrap() error { return e.Cause }

func (e *CancelledError) Is(target error) bool {
	return target == ErrCancelled || target == context.Canceled
}

// UnsafeStartAttemptError is returned by protocol versions that cannot start
// a script idempotently when asked to start a command that may already have
// been started.
type UnsafeStartAttemptError struct {
	Ticket  contracts.ScriptTicket
	Version Version
}

func (e *UnsafeStartAttemptError) Error() string {
	return fmt.Sprintf("%s cannot safely start script %s again: it may already be running", e.Version, e.Ticket)
}

// InvalidCommandError is returned before any network contact for commands the
// selected protocol version cannot carry.
type InvalidCommandError struct {
	Reason string
}

func (e *InvalidCommandError) Error() string {
	return "invalid script command: " + e.Reason
}
