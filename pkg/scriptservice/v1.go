package scriptservice

import (
	"context"

	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/contracts"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/logging"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/rpc"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/scripts"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/sigcontext"
)

// V1 drives the legacy ScriptService. Every call is attempted exactly once.
type V1 struct {
	log      logging.Logger
	service  contracts.ScriptServiceV1
	executor *rpc.Executor
}

var _ scripts.Executor = (*V1)(nil)

func NewV1(log logging.Logger, service contracts.ScriptServiceV1, executor *rpc.Executor) *V1 {
	return &V1{log: log, service: service, executor: executor}
}

func (v *V1) call(name string) rpc.Call {
	return rpc.Call{Service: contracts.ScriptServiceV1Name, Name: name}
}

// StartScript starts cmd under a ticket allocated by the agent. Starting a
// command that may already have been started is refused since the agent
// would run it again.
func (v *V1) StartScript(ctx context.Context, cmd scripts.ExecuteScriptCommand, attempt scripts.StartAttempt) (*scripts.OperationResult, error) {
	if attempt == scripts.PossiblyBeingReattempted {
		return nil, &scripts.UnsafeStartAttemptError{Ticket: cmd.ScriptTicket, Version: scripts.ScriptServiceV1}
	}
	if cmd.Kubernetes != nil {
		return nil, &scripts.InvalidCommandError{Reason: "pod configuration requires a Kubernetes agent"}
	}

	level, timeout, mutex := isolation(cmd)
	req := contracts.StartScriptCommand{
		ScriptBody:                  cmd.ScriptBody,
		Isolation:                   level,
		ScriptIsolationMutexTimeout: timeout,
		IsolationMutexName:          mutex,
		Arguments:                   cmd.Arguments,
		TaskID:                      cmd.TaskID,
		Scripts:                     cmd.Scripts,
		Files:                       cmd.Files,
	}
	var ticket contracts.ScriptTicket
	err := v.executor.ExecuteWithNoRetries(ctx, v.call("StartScript"), func(ctx context.Context) error {
		var err error
		ticket, err = v.service.StartScript(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &scripts.OperationResult{
		Status: status(contracts.ProcessStatePending, 0, nil),
		Context: scripts.CommandContext{
			ScriptTicket: ticket,
			Version:      scripts.ScriptServiceV1,
		},
	}, nil
}

func (v *V1) GetStatus(ctx context.Context, cmdCtx scripts.CommandContext) (*scripts.OperationResult, error) {
	var res *contracts.ScriptStatusResponse
	err := v.executor.ExecuteWithNoRetries(ctx, v.call("GetStatus"), func(ctx context.Context) error {
		var err error
		res, err = v.service.GetStatus(ctx, contracts.ScriptStatusRequest{
			Ticket:          cmdCtx.ScriptTicket,
			LastLogSequence: cmdCtx.NextLogSequence,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return v.result(res), nil
}

func (v *V1) CancelScript(ctx context.Context, cmdCtx scripts.CommandContext) (*scripts.OperationResult, error) {
	var res *contracts.ScriptStatusResponse
	err := v.executor.ExecuteWithNoRetries(sigcontext.Detached(ctx), v.call("CancelScript"), func(ctx context.Context) error {
		var err error
		res, err = v.service.CancelScript(ctx, contracts.CancelScriptCommand{
			Ticket:          cmdCtx.ScriptTicket,
			LastLogSequence: cmdCtx.NextLogSequence,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return v.result(res), nil
}

// CompleteScript returns the final status reported by the agent. It is never
// cut short by cancellation.
func (v *V1) CompleteScript(ctx context.Context, cmdCtx scripts.CommandContext) (*scripts.Status, error) {
	var res *contracts.ScriptStatusResponse
	err := v.executor.ExecuteWithNoRetries(sigcontext.Detached(ctx), v.call("CompleteScript"), func(ctx context.Context) error {
		var err error
		res, err = v.service.CompleteScript(ctx, contracts.CompleteScriptCommand{
			Ticket:          cmdCtx.ScriptTicket,
			LastLogSequence: cmdCtx.NextLogSequence,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s := status(res.State, res.ExitCode, res.Logs)
	return &s, nil
}

func (v *V1) result(res *contracts.ScriptStatusResponse) *scripts.OperationResult {
	return &scripts.OperationResult{
		Status: status(res.State, res.ExitCode, res.Logs),
		Context: scripts.CommandContext{
			ScriptTicket:    res.Ticket,
			NextLogSequence: res.NextLogSequence,
			Version:         scripts.ScriptServiceV1,
		},
	}
}
