package scriptservice

import (
	"context"

	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/contracts"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/logging"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/rpc"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/scripts"
)

// KubernetesV1 drives KubernetesScriptServiceV1, which runs each script in
// its own pod. Starts are idempotent on the ticket.
type KubernetesV1 struct {
	log      logging.Logger
	service  contracts.KubernetesScriptServiceV1
	executor *rpc.Executor
	settings Settings
}

var _ scripts.Executor = (*KubernetesV1)(nil)

func NewKubernetesV1(log logging.Logger, service contracts.KubernetesScriptServiceV1, executor *rpc.Executor, settings Settings) *KubernetesV1 {
	return &KubernetesV1{log: log, service: service, executor: executor, settings: settings}
}

func (k *KubernetesV1) call(name string) rpc.Call {
	return rpc.Call{Service: contracts.KubernetesScriptServiceV1Name, Name: name}
}

// startCommand validates the pod configuration. A command without one runs
// with the agent's defaults.
func startCommand(cmd scripts.ExecuteScriptCommand) (contracts.StartKubernetesScriptCommandV1, error) {
	pod := &scripts.KubernetesConfiguration{}
	if cmd.Kubernetes != nil {
		var err error
		if pod, err = cmd.Kubernetes.Validate(); err != nil {
			return contracts.StartKubernetesScriptCommandV1{}, err
		}
	}
	level, timeout, mutex := isolation(cmd)
	req := contracts.StartKubernetesScriptCommandV1{
		ScriptTicket:                cmd.ScriptTicket,
		ScriptBody:                  cmd.ScriptBody,
		Isolation:                   level,
		ScriptIsolationMutexTimeout: timeout,
		IsolationMutexName:          mutex,
		Arguments:                   cmd.Arguments,
		TaskID:                      cmd.TaskID,
		ScriptPodServiceAccountName: pod.ServiceAccountName,
		IsRawScript:                 pod.IsRawScript,
		Scripts:                     cmd.Scripts,
		Files:                       cmd.Files,
	}
	if img := pod.Image; img != nil {
		req.PodImageConfiguration = &contracts.PodImageConfigurationV1{
			Image:        img.Image,
			FeedURL:      img.FeedURL,
			FeedUsername: img.FeedUsername,
			FeedPassword: img.FeedPassword,
			ECRReference: img.ECR,
		}
	}
	return req, nil
}

func (k *KubernetesV1) StartScript(ctx context.Context, cmd scripts.ExecuteScriptCommand, _ scripts.StartAttempt) (*scripts.OperationResult, error) {
	req, err := startCommand(cmd)
	if err != nil {
		return nil, err
	}

	var tracker scripts.StartTracker
	var res *contracts.KubernetesScriptStatusResponseV1
	err = k.executor.Execute(ctx, k.settings.RetriesEnabled, k.call("StartScript"), func(ctx context.Context) error {
		tracker.Attempt()
		var err error
		res, err = k.service.StartScript(ctx, req)
		return err
	}, tracker.Failed)
	if err != nil {
		return tracker.Recover(ctx, err, cmd.ScriptTicket, scripts.KubernetesScriptServiceV1)
	}
	return k.result(res), nil
}

func (k *KubernetesV1) GetStatus(ctx context.Context, cmdCtx scripts.CommandContext) (*scripts.OperationResult, error) {
	var res *contracts.KubernetesScriptStatusResponseV1
	err := k.executor.Execute(ctx, k.settings.RetriesEnabled, k.call("GetStatus"), func(ctx context.Context) error {
		var err error
		res, err = k.service.GetStatus(ctx, contracts.KubernetesScriptStatusRequestV1{
			ScriptTicket:    cmdCtx.ScriptTicket,
			LastLogSequence: cmdCtx.NextLogSequence,
		})
		return err
	}, nil)
	if err != nil {
		return nil, err
	}
	return k.result(res), nil
}

func (k *KubernetesV1) CancelScript(ctx context.Context, cmdCtx scripts.CommandContext) (*scripts.OperationResult, error) {
	var res *contracts.KubernetesScriptStatusResponseV1
	err := k.executor.Execute(ctx, k.settings.RetriesEnabled, k.call("CancelScript"), func(ctx context.Context) error {
		var err error
		res, err = k.service.CancelScript(ctx, contracts.CancelKubernetesScriptCommandV1{
			ScriptTicket:    cmdCtx.ScriptTicket,
			LastLogSequence: cmdCtx.NextLogSequence,
		})
		return err
	}, nil)
	if err != nil {
		return nil, err
	}
	return k.result(res), nil
}

// CompleteScript deletes the script pod. Failures are logged and never
// returned.
func (k *KubernetesV1) CompleteScript(ctx context.Context, cmdCtx scripts.CommandContext) (*scripts.Status, error) {
	err := k.executor.ExecuteAbandonable(ctx, k.call("CompleteScript"), k.settings.abandonAfter(), func(ctx context.Context) error {
		return k.service.CompleteScript(ctx, contracts.CompleteKubernetesScriptCommandV1{ScriptTicket: cmdCtx.ScriptTicket})
	})
	if err != nil {
		k.log.WithFields(cmdCtx.Fields()).WithError(err).Warn("failed to clean up the script pod on the agent")
	}
	return nil, nil
}

func (k *KubernetesV1) result(res *contracts.KubernetesScriptStatusResponseV1) *scripts.OperationResult {
	return &scripts.OperationResult{
		Status: status(res.State, res.ExitCode, res.Logs),
		Context: scripts.CommandContext{
			ScriptTicket:    res.ScriptTicket,
			NextLogSequence: res.NextLogSequence,
			Version:         scripts.KubernetesScriptServiceV1,
		},
	}
}
