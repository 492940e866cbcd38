package scriptservice

import (
	"context"

	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/contracts"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/logging"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/rpc"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/scripts"
)

// V2 drives ScriptServiceV2, which starts scripts idempotently under the
// caller's ticket.
type V2 struct {
	log      logging.Logger
	service  contracts.ScriptServiceV2
	executor *rpc.Executor
	settings Settings
}

var _ scripts.Executor = (*V2)(nil)

func NewV2(log logging.Logger, service contracts.ScriptServiceV2, executor *rpc.Executor, settings Settings) *V2 {
	return &V2{log: log, service: service, executor: executor, settings: settings}
}

func (v *V2) call(name string) rpc.Call {
	return rpc.Call{Service: contracts.ScriptServiceV2Name, Name: name}
}

// StartScript starts cmd, retrying when enabled. When ctx ends part way
// through and the script may have reached the agent, a pending placeholder is
// returned so that the script is cancelled and completed.
func (v *V2) StartScript(ctx context.Context, cmd scripts.ExecuteScriptCommand, _ scripts.StartAttempt) (*scripts.OperationResult, error) {
	if cmd.Kubernetes != nil {
		return nil, &scripts.InvalidCommandError{Reason: "pod configuration requires a Kubernetes agent"}
	}
	level, timeout, mutex := isolation(cmd)
	req := contracts.StartScriptCommandV2{
		ScriptTicket:                    cmd.ScriptTicket,
		ScriptBody:                      cmd.ScriptBody,
		Isolation:                       level,
		ScriptIsolationMutexTimeout:     timeout,
		IsolationMutexName:              mutex,
		Arguments:                       cmd.Arguments,
		TaskID:                          cmd.TaskID,
		DurationToWaitForScriptToFinish: contracts.Duration(cmd.DurationToWaitForScriptToFinish),
		Scripts:                         cmd.Scripts,
		Files:                           cmd.Files,
	}

	var tracker scripts.StartTracker
	var res *contracts.ScriptStatusResponseV2
	err := v.executor.Execute(ctx, v.settings.RetriesEnabled, v.call("StartScript"), func(ctx context.Context) error {
		tracker.Attempt()
		var err error
		res, err = v.service.StartScript(ctx, req)
		return err
	}, tracker.Failed)
	if err != nil {
		return tracker.Recover(ctx, err, cmd.ScriptTicket, scripts.ScriptServiceV2)
	}
	return v.result(res), nil
}

func (v *V2) GetStatus(ctx context.Context, cmdCtx scripts.CommandContext) (*scripts.OperationResult, error) {
	var res *contracts.ScriptStatusResponseV2
	err := v.executor.Execute(ctx, v.settings.RetriesEnabled, v.call("GetStatus"), func(ctx context.Context) error {
		var err error
		res, err = v.service.GetStatus(ctx, contracts.ScriptStatusRequestV2{
			Ticket:          cmdCtx.ScriptTicket,
			LastLogSequence: cmdCtx.NextLogSequence,
		})
		return err
	}, nil)
	if err != nil {
		return nil, err
	}
	return v.result(res), nil
}

// CancelScript runs on ctx as given; callers cancelling a run pass a context
// that outlives the run's own.
func (v *V2) CancelScript(ctx context.Context, cmdCtx scripts.CommandContext) (*scripts.OperationResult, error) {
	var res *contracts.ScriptStatusResponseV2
	err := v.executor.Execute(ctx, v.settings.RetriesEnabled, v.call("CancelScript"), func(ctx context.Context) error {
		var err error
		res, err = v.service.CancelScript(ctx, contracts.CancelScriptCommandV2{
			Ticket:          cmdCtx.ScriptTicket,
			LastLogSequence: cmdCtx.NextLogSequence,
		})
		return err
	}, nil)
	if err != nil {
		return nil, err
	}
	return v.result(res), nil
}

// CompleteScript is a best effort cleanup of the agent's workspace. Failures
// are logged and never returned.
func (v *V2) CompleteScript(ctx context.Context, cmdCtx scripts.CommandContext) (*scripts.Status, error) {
	err := v.executor.ExecuteAbandonable(ctx, v.call("CompleteScript"), v.settings.abandonAfter(), func(ctx context.Context) error {
		return v.service.CompleteScript(ctx, contracts.CompleteScriptCommandV2{Ticket: cmdCtx.ScriptTicket})
	})
	if err != nil {
		v.log.WithFields(cmdCtx.Fields()).WithError(err).Warn("failed to clean up the script working directory on the agent")
	}
	return nil, nil
}

func (v *V2) result(res *contracts.ScriptStatusResponseV2) *scripts.OperationResult {
	return &scripts.OperationResult{
		Status: status(res.State, res.ExitCode, res.Logs),
		Context: scripts.CommandContext{
			ScriptTicket:    res.Ticket,
			NextLogSequence: res.NextLogSequence,
			Version:         scripts.ScriptServiceV2,
		},
	}
}
