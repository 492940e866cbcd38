package contracts

import (
	"context"
	"strings"
)

// Service names double as the capability strings an agent advertises.
const (
	ScriptServiceV1Name           = "ScriptService"
	ScriptServiceV2Name           = "ScriptServiceV2"
	KubernetesScriptServiceV1Name = "KubernetesScriptServiceV1"
	CapabilitiesServiceV2Name     = "CapabilitiesServiceV2"

	kubernetesCapabilityPrefix = "KubernetesScriptService"
)

type CapabilitiesResponseV2 struct {
	SupportedCapabilities []string `json:"supportedCapabilities"`
}

// LegacyCapabilities is what an agent without a capabilities service is
// assumed to support.
func LegacyCapabilities() *CapabilitiesResponseV2 {
	return &CapabilitiesResponseV2{SupportedCapabilities: []string{ScriptServiceV1Name}}
}

func (c *CapabilitiesResponseV2) Has(capability string) bool {
	if c == nil {
		return false
	}
	for _, s := range c.SupportedCapabilities {
		if s == capability {
			return true
		}
	}
	return false
}

// HasAnyKubernetesScriptService reports whether any version of the
// Kubernetes-backed script service is advertised.
func (c *CapabilitiesResponseV2) HasAnyKubernetesScriptService() bool {
	if c == nil {
		return false
	}
	for _, s := range c.SupportedCapabilities {
		if strings.HasPrefix(s, kubernetesCapabilityPrefix) {
			return true
		}
	}
	return false
}

type CapabilitiesServiceV2 interface {
	// GetCapabilities lists the services the agent can serve.
	GetCapabilities(ctx context.Context) (*CapabilitiesResponseV2, error)
}
