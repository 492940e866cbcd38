package transport_test

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/backoff"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/client"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/contracts"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/scripts"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/transport"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// kubernetesAgent completes every script after two polls and records the
// cleanup of each pod.
type kubernetesAgent struct {
	mu       sync.Mutex
	polls    map[contracts.ScriptTicket]int
	images   []string
	complete []contracts.ScriptTicket
}

func (a *kubernetesAgent) StartScript(ctx context.Context, cmd contracts.StartKubernetesScriptCommandV1) (*contracts.KubernetesScriptStatusResponseV1, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.polls == nil {
		a.polls = map[contracts.ScriptTicket]int{}
	}
	if cmd.PodImageConfiguration != nil {
		a.images = append(a.images, cmd.PodImageConfiguration.Image)
	}
	return &contracts.KubernetesScriptStatusResponseV1{ScriptTicket: cmd.ScriptTicket, State: contracts.ProcessStatePending}, nil
}

func (a *kubernetesAgent) GetStatus(ctx context.Context, req contracts.KubernetesScriptStatusRequestV1) (*contracts.KubernetesScriptStatusResponseV1, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.polls[req.ScriptTicket]++
	res := &contracts.KubernetesScriptStatusResponseV1{
		ScriptTicket:    req.ScriptTicket,
		State:           contracts.ProcessStateRunning,
		Logs:            []contracts.ProcessOutput{{Text: "line"}},
		NextLogSequence: req.LastLogSequence + 1,
	}
	if a.polls[req.ScriptTicket] >= 2 {
		res.State = contracts.ProcessStateComplete
		res.ExitCode = 2
	}
	return res, nil
}

func (a *kubernetesAgent) CancelScript(ctx context.Context, cmd contracts.CancelKubernetesScriptCommandV1) (*contracts.KubernetesScriptStatusResponseV1, error) {
	return &contracts.KubernetesScriptStatusResponseV1{ScriptTicket: cmd.ScriptTicket, State: contracts.ProcessStateComplete, ExitCode: contracts.CanceledExitCode}, nil
}

func (a *kubernetesAgent) CompleteScript(ctx context.Context, cmd contracts.CompleteKubernetesScriptCommandV1) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.complete = append(a.complete, cmd.ScriptTicket)
	return nil
}

type capabilities []string

func (c capabilities) GetCapabilities(context.Context) (*contracts.CapabilitiesResponseV2, error) {
	return &contracts.CapabilitiesResponseV2{SupportedCapabilities: c}, nil
}

func TestExecuteScriptOverWebsocket(t *testing.T) {
	l := logrus.New()
	l.SetOutput(io.Discard)
	log := logrus.NewEntry(l)

	agent := &kubernetesAgent{}
	srv := httptest.NewServer(transport.NewServer(log, contracts.Services{
		KubernetesV1: agent,
		Capabilities: capabilities{contracts.CapabilitiesServiceV2Name, contracts.KubernetesScriptServiceV1Name},
	}))
	defer srv.Close()
	tc := transport.NewClient(log, "ws"+strings.TrimPrefix(srv.URL, "http"))
	defer tc.Close()

	c, err := client.New(tc.Services(),
		client.WithLogger(log),
		client.WithRetries(true, time.Minute),
		client.WithPolling(backoff.StrategyFunc(func(int) time.Duration { return time.Millisecond })),
	)
	require.NoError(t, err)

	var lines int
	res, err := c.ExecuteScript(context.Background(), scripts.ExecuteScriptCommand{
		ScriptTicket: "pod-1",
		ScriptBody:   "exit 2",
		Kubernetes: &scripts.KubernetesConfiguration{
			Image: &scripts.ImageConfiguration{Image: "busybox"},
		},
	}, func(s scripts.Status) { lines += len(s.Logs) }, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ExitCode)
	assert.Equal(t, 2, lines)
	assert.Equal(t, []string{"docker.io/library/busybox:latest"}, agent.images)
	assert.Equal(t, []contracts.ScriptTicket{"pod-1"}, agent.complete)
}

func TestExecuteScriptAgainstUnreachableAgent(t *testing.T) {
	l := logrus.New()
	l.SetOutput(io.Discard)
	log := logrus.NewEntry(l)

	srv := httptest.NewServer(nil)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()
	tc := transport.NewClient(log, url)
	defer tc.Close()

	c, err := client.New(tc.Services(), client.WithLogger(log))
	require.NoError(t, err)

	_, err = c.ExecuteScript(context.Background(), scripts.ExecuteScriptCommand{ScriptBody: "true"}, nil, nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, scripts.ErrCancelled))
}
