package contracts

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasAnyKubernetesScriptService(t *testing.T) {
	tests := []struct {
		name         string
		capabilities []string
		expected     bool
	}{
		{"none", nil, false},
		{"plain", []string{ScriptServiceV1Name, ScriptServiceV2Name}, false},
		{"v1", []string{KubernetesScriptServiceV1Name}, true},
		{"alpha", []string{"KubernetesScriptServiceV1Alpha"}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := &CapabilitiesResponseV2{SupportedCapabilities: tc.capabilities}
			assert.Equal(t, tc.expected, c.HasAnyKubernetesScriptService())
		})
	}
	var nilCaps *CapabilitiesResponseV2
	assert.False(t, nilCaps.HasAnyKubernetesScriptService())
	assert.False(t, nilCaps.Has(ScriptServiceV1Name))
}

func TestLegacyCapabilities(t *testing.T) {
	c := LegacyCapabilities()
	assert.True(t, c.Has(ScriptServiceV1Name))
	assert.False(t, c.Has(ScriptServiceV2Name))
}

func TestProcessStateText(t *testing.T) {
	b, err := json.Marshal(struct {
		State ProcessState `json:"state"`
	}{ProcessStateRunning})
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"Running"}`, string(b))

	var s ProcessState
	require.NoError(t, s.UnmarshalText([]byte("complete")))
	assert.Equal(t, ProcessStateComplete, s)
	assert.Error(t, s.UnmarshalText([]byte("exploded")))
}

func TestNewScriptTicketUnique(t *testing.T) {
	a, b := NewScriptTicket(), NewScriptTicket()
	assert.NotEqual(t, a, b)
	assert.Len(t, a.String(), 32)
}
