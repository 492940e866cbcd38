package rpc

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// ConnectionError is a failure before the request reached the agent.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return "unable to connect to agent: " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransferError is a failure after the request may have reached the agent.
type TransferError struct {
	Err error
}

func (e *TransferError) Error() string {
	return "communication with agent failed: " + e.Err.Error()
}

func (e *TransferError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err, or anything it wraps, is a
// ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

func IsTransferError(err error) bool {
	var te *TransferError
	return errors.As(err, &te)
}

// IsNetworkError reports whether err is worth retrying.
func IsNetworkError(err error) bool {
	return IsConnectionError(err) || IsTransferError(err)
}

// CancelledError is returned when the caller's context ended while a call was
// being attempted or retried. Err is the failure of the last attempt.
type CancelledError struct {
	Call Call
	Err  error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("%s cancelled: %v", e.Call, e.Err)
}

func (e *CancelledError) Unwrap() error { return e.Err }

func (e *CancelledError) Is(target error) bool {
	return target == context.Canceled
}

// RetriesExhaustedError is returned when the retry budget ran out.
type RetriesExhaustedError struct {
	Call     Call
	Attempts int
	Elapsed  time.Duration
	Err      error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts over %s: %v",
		e.Call, e.Attempts, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Err }

// OperationAbandonedError is returned when the caller stopped waiting for a
// call that may still complete in the background.
type OperationAbandonedError struct {
	Call  Call
	After time.Duration
}

func (e *OperationAbandonedError) Error() string {
	return fmt.Sprintf("%s abandoned %s after cancellation", e.Call, e.After)
}
