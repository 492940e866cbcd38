package scriptservice

import (
	"context"
	"strings"

	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/contracts"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/logging"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/rpc"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/scripts"
	"github.com/pkg/errors"
)

// VersionSelector asks an agent what it supports. The answer is never cached
// since the agent may be upgraded between runs.
type VersionSelector struct {
	log          logging.Logger
	capabilities contracts.CapabilitiesServiceV2
	executor     *rpc.Executor
	settings     Settings
}

func NewVersionSelector(log logging.Logger, capabilities contracts.CapabilitiesServiceV2, executor *rpc.Executor, settings Settings) *VersionSelector {
	return &VersionSelector{log: log, capabilities: capabilities, executor: executor, settings: settings}
}

// Capabilities fetches the agent's capabilities. Agents without the
// capabilities service only support the legacy script service.
func (s *VersionSelector) Capabilities(ctx context.Context) (*contracts.CapabilitiesResponseV2, error) {
	if s.capabilities == nil {
		return contracts.LegacyCapabilities(), nil
	}
	call := rpc.Call{Service: contracts.CapabilitiesServiceV2Name, Name: "GetCapabilities"}
	var res *contracts.CapabilitiesResponseV2
	err := s.executor.Execute(ctx, s.settings.RetriesEnabled, call, func(ctx context.Context) error {
		var err error
		res, err = s.capabilities.GetCapabilities(ctx)
		return err
	}, nil)
	switch {
	case errors.Is(err, contracts.ErrServiceNotFound):
		s.log.Debug("agent has no capabilities service, assuming legacy script service")
		return contracts.LegacyCapabilities(), nil
	case err != nil:
		return nil, errors.WithMessage(err, "determine agent capabilities")
	case res == nil:
		return contracts.LegacyCapabilities(), nil
	}
	return res, nil
}

// DetermineVersion picks the script service version to drive the agent with.
// Agents advertise either Kubernetes or plain script services, never both.
func (s *VersionSelector) DetermineVersion(ctx context.Context) (scripts.Version, error) {
	s.log.Debug("determining script service version")
	caps, err := s.Capabilities(ctx)
	if err != nil {
		return scripts.VersionUnknown, err
	}
	s.log.WithField("capabilities", strings.Join(caps.SupportedCapabilities, ",")).Debug("discovered agent capabilities")

	var version scripts.Version
	switch {
	case caps.HasAnyKubernetesScriptService():
		version = scripts.KubernetesScriptServiceV1
	case caps.Has(contracts.ScriptServiceV2Name):
		version = scripts.ScriptServiceV2
	default:
		if s.settings.RetriesEnabled {
			s.log.Info("RPC retries are enabled but will not be used for script execution, the agent does not support a compatible script service")
		}
		version = scripts.ScriptServiceV1
	}

	log := s.log.WithField("version", version.String())
	switch {
	case version == scripts.ScriptServiceV1:
		log.Debug("using legacy script service")
	case s.settings.RetriesEnabled:
		log.Debugf("RPC retries are enabled, retry timeout %d seconds", int(s.executor.RetryDuration().Seconds()))
	default:
		log.Debug("RPC retries are disabled")
	}
	return version, nil
}
