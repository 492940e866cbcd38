package scriptservice

import (
	"context"
	"testing"
	"time"

	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/backoff"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/contracts"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/rpc"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/scripts"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestV2StartRetriesNetworkFailures(t *testing.T) {
	failures := []error{errConnect, errTransfer}
	service := &fakeV2{
		StartFn: func(ctx context.Context, cmd contracts.StartScriptCommandV2) (*contracts.ScriptStatusResponseV2, error) {
			if len(failures) > 0 {
				err := failures[0]
				failures = failures[1:]
				return nil, err
			}
			return &contracts.ScriptStatusResponseV2{Ticket: cmd.ScriptTicket, State: contracts.ProcessStateRunning, NextLogSequence: 2}, nil
		},
	}
	v2 := NewV2(quietLogger(), service, testExecutor(), Settings{RetriesEnabled: true})

	res, err := v2.StartScript(context.Background(), scripts.ExecuteScriptCommand{ScriptTicket: "ticket"}, scripts.FirstAttempt)
	require.NoError(t, err)
	assert.Equal(t, 3, service.Count("start"))
	assert.Equal(t, scripts.CommandContext{ScriptTicket: "ticket", NextLogSequence: 2, Version: scripts.ScriptServiceV2}, res.Context)
}

func TestV2RetriesDisabledAttemptsOnce(t *testing.T) {
	service := &fakeV2{
		StartFn: func(ctx context.Context, cmd contracts.StartScriptCommandV2) (*contracts.ScriptStatusResponseV2, error) {
			return nil, errTransfer
		},
	}
	v2 := NewV2(quietLogger(), service, testExecutor(), Settings{})

	_, err := v2.StartScript(context.Background(), scripts.ExecuteScriptCommand{ScriptTicket: "ticket"}, scripts.FirstAttempt)
	assert.Equal(t, error(errTransfer), err)
	assert.Equal(t, 1, service.Count("start"))
}

func TestV2StartCancelled(t *testing.T) {
	tests := []struct {
		name      string
		retries   bool
		failure   error
		ambiguous bool
	}{
		{name: "connecting without retries", failure: errConnect},
		{name: "connecting with retries", retries: true, failure: errConnect},
		{name: "transferring without retries", failure: errTransfer, ambiguous: true},
		{name: "transferring with retries", retries: true, failure: errTransfer, ambiguous: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			service := &fakeV2{
				StartFn: func(context.Context, contracts.StartScriptCommandV2) (*contracts.ScriptStatusResponseV2, error) {
					cancel()
					return nil, tc.failure
				},
			}
			v2 := NewV2(quietLogger(), service, testExecutor(), Settings{RetriesEnabled: tc.retries})

			res, err := v2.StartScript(ctx, scripts.ExecuteScriptCommand{ScriptTicket: "ticket"}, scripts.FirstAttempt)
			assert.Equal(t, 1, service.Count("start"))
			if !tc.ambiguous {
				assert.Nil(t, res)
				assert.True(t, errors.Is(err, scripts.ErrCancelled), "got %v", err)
				return
			}
			require.NoError(t, err)
			placeholder := scripts.StartedPlaceholder("ticket", scripts.ScriptServiceV2, nil)
			assert.Equal(t, placeholder.Status, res.Status)
			assert.Equal(t, placeholder.Context, res.Context)
			assert.True(t, errors.Is(res.Interrupted, tc.failure), "got %v", res.Interrupted)
		})
	}
}

func TestV2CompleteFailureIsNotReturned(t *testing.T) {
	service := &fakeV2{
		CompleteFn: func(context.Context, contracts.CompleteScriptCommandV2) error {
			return &contracts.RemoteError{Service: contracts.ScriptServiceV2Name, Method: "CompleteScript", Message: "disk full"}
		},
	}
	v2 := NewV2(quietLogger(), service, testExecutor(), Settings{})

	status, err := v2.CompleteScript(context.Background(), scripts.CommandContext{ScriptTicket: "t", Version: scripts.ScriptServiceV2})
	assert.NoError(t, err)
	assert.Nil(t, status)
	assert.Equal(t, 1, service.Count("complete"))
}

func TestV2CompleteAbandonedAfterCancellation(t *testing.T) {
	service := &fakeV2{
		CompleteFn: func(ctx context.Context, _ contracts.CompleteScriptCommandV2) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	v2 := NewV2(quietLogger(), service, testExecutor(), Settings{AbandonCompleteAfter: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := v2.CompleteScript(ctx, scripts.CommandContext{ScriptTicket: "t", Version: scripts.ScriptServiceV2})
	assert.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

// A start interrupted after it may have reached the agent is cancelled and
// completed exactly once; one that never connected is neither.
func TestV2CancelledStartThroughOrchestrator(t *testing.T) {
	tests := []struct {
		name    string
		failure error
		cleanup int
	}{
		{name: "never connected", failure: errConnect, cleanup: 0},
		{name: "possibly started", failure: errTransfer, cleanup: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			service := &fakeV2{
				StartFn: func(context.Context, contracts.StartScriptCommandV2) (*contracts.ScriptStatusResponseV2, error) {
					cancel()
					return nil, tc.failure
				},
			}
			v2 := NewV2(quietLogger(), service, testExecutor(), Settings{RetriesEnabled: true})
			orchestrator, err := scripts.NewOrchestrator(quietLogger(), v2, backoff.Local(), scripts.Handlers{})
			require.NoError(t, err)

			res, err := orchestrator.Execute(ctx, scripts.ExecuteScriptCommand{ScriptTicket: "ticket"})
			assert.Nil(t, res)
			assert.True(t, errors.Is(err, scripts.ErrCancelled), "got %v", err)
			assert.True(t, errors.Is(err, context.Canceled))
			assert.Equal(t, tc.cleanup, service.Count("cancel"))
			assert.Equal(t, tc.cleanup, service.Count("complete"))
			assert.Equal(t, 0, service.Count("status"))
		})
	}
}

func TestV2CancelRetriesOnDetachedContext(t *testing.T) {
	failed := false
	service := &fakeV2{
		CancelFn: func(ctx context.Context, cmd contracts.CancelScriptCommandV2) (*contracts.ScriptStatusResponseV2, error) {
			if !failed {
				failed = true
				return nil, errConnect
			}
			return &contracts.ScriptStatusResponseV2{Ticket: cmd.Ticket, State: contracts.ProcessStateComplete, ExitCode: contracts.CanceledExitCode}, nil
		},
	}
	v2 := NewV2(quietLogger(), service, testExecutor(), Settings{RetriesEnabled: true})

	res, err := v2.CancelScript(context.Background(), scripts.CommandContext{ScriptTicket: "t", Version: scripts.ScriptServiceV2})
	require.NoError(t, err)
	assert.Equal(t, contracts.CanceledExitCode, res.Status.ExitCode)
	assert.Equal(t, 2, service.Count("cancel"))
}

func TestV2StatusRetriesExhausted(t *testing.T) {
	service := &fakeV2{
		StatusFn: func(context.Context, contracts.ScriptStatusRequestV2) (*contracts.ScriptStatusResponseV2, error) {
			return nil, errConnect
		},
	}
	retries := rpc.NewRetryHandler(50*time.Millisecond,
		rpc.WithRetrySleep(backoff.StrategyFunc(func(int) time.Duration { return 10 * time.Millisecond })),
		rpc.WithMinimumRemaining(0),
	)
	v2 := NewV2(quietLogger(), service, rpc.NewExecutor(quietLogger(), retries, nil), Settings{RetriesEnabled: true})

	_, err := v2.GetStatus(context.Background(), scripts.CommandContext{ScriptTicket: "t", Version: scripts.ScriptServiceV2})
	var exhausted *rpc.RetriesExhaustedError
	require.True(t, errors.As(err, &exhausted), "got %v", err)
	assert.True(t, rpc.IsConnectionError(err))
	assert.Greater(t, service.Count("status"), 1)
}
