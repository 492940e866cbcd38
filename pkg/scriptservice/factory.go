package scriptservice

import (
	"context"
	"sync"

	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/contracts"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/logging"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/rpc"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/scripts"
	"github.com/pkg/errors"
)

// Factory builds the adapter for a version from an agent's service proxies.
type Factory struct {
	log      logging.Logger
	services contracts.Services
	executor *rpc.Executor
	settings Settings
}

func NewFactory(log logging.Logger, services contracts.Services, executor *rpc.Executor, settings Settings) *Factory {
	return &Factory{log: log, services: services, executor: executor, settings: settings}
}

func (f *Factory) CreateExecutor(version scripts.Version) (scripts.Executor, error) {
	log := f.log.WithField("version", version.String())
	switch version {
	case scripts.ScriptServiceV1:
		if f.services.ScriptV1 != nil {
			return NewV1(log, f.services.ScriptV1, f.executor), nil
		}
	case scripts.ScriptServiceV2:
		if f.services.ScriptV2 != nil {
			return NewV2(log, f.services.ScriptV2, f.executor, f.settings), nil
		}
	case scripts.KubernetesScriptServiceV1:
		if f.services.KubernetesV1 != nil {
			return NewKubernetesV1(log, f.services.KubernetesV1, f.executor, f.settings), nil
		}
	default:
		return nil, errors.Errorf("unsupported script service version %d", int(version))
	}
	return nil, errors.Errorf("no %s proxy configured", version)
}

// Router is a scripts.Executor for a single run. StartScript selects the
// version from the agent's capabilities; every later call goes to the adapter
// named by the command context.
type Router struct {
	selector *VersionSelector
	factory  *Factory

	mu        sync.Mutex
	executors map[scripts.Version]scripts.Executor
	selected  scripts.Version
}

var _ scripts.Executor = (*Router)(nil)

func NewRouter(selector *VersionSelector, factory *Factory) *Router {
	return &Router{
		selector:  selector,
		factory:   factory,
		executors: map[scripts.Version]scripts.Executor{},
	}
}

func (r *Router) executor(version scripts.Version) (scripts.Executor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.executors[version]; ok {
		return e, nil
	}
	e, err := r.factory.CreateExecutor(version)
	if err != nil {
		return nil, err
	}
	r.executors[version] = e
	return e, nil
}

func (r *Router) StartScript(ctx context.Context, cmd scripts.ExecuteScriptCommand, attempt scripts.StartAttempt) (*scripts.OperationResult, error) {
	version, err := r.selector.DetermineVersion(ctx)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.selected = version
	r.mu.Unlock()
	e, err := r.executor(version)
	if err != nil {
		return nil, err
	}
	return e.StartScript(ctx, cmd, attempt)
}

func (r *Router) GetStatus(ctx context.Context, cmdCtx scripts.CommandContext) (*scripts.OperationResult, error) {
	e, err := r.executor(cmdCtx.Version)
	if err != nil {
		return nil, err
	}
	return e.GetStatus(ctx, cmdCtx)
}

func (r *Router) CancelScript(ctx context.Context, cmdCtx scripts.CommandContext) (*scripts.OperationResult, error) {
	e, err := r.executor(cmdCtx.Version)
	if err != nil {
		return nil, err
	}
	return e.CancelScript(ctx, cmdCtx)
}

func (r *Router) CompleteScript(ctx context.Context, cmdCtx scripts.CommandContext) (*scripts.Status, error) {
	e, err := r.executor(cmdCtx.Version)
	if err != nil {
		return nil, err
	}
	return e.CompleteScript(ctx, cmdCtx)
}

// Version is the version selected by the last StartScript, or VersionUnknown.
func (r *Router) Version() scripts.Version {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selected
}
