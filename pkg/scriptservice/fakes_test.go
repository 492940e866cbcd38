package scriptservice

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/backoff"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/contracts"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/logging"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/rpc"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	errConnect  = &rpc.ConnectionError{Err: errors.New("connection refused")}
	errTransfer = &rpc.TransferError{Err: errors.New("connection reset by peer")}
)

func quietLogger() logging.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func testExecutor() *rpc.Executor {
	retries := rpc.NewRetryHandler(time.Minute,
		rpc.WithRetrySleep(backoff.StrategyFunc(func(int) time.Duration { return time.Millisecond })),
		rpc.WithMinimumRemaining(0),
	)
	return rpc.NewExecutor(quietLogger(), retries, nil)
}

type calls struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *calls) add(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[name]++
}

func (c *calls) Count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[name]
}

type fakeV1 struct {
	calls

	StartFn    func(ctx context.Context, cmd contracts.StartScriptCommand) (contracts.ScriptTicket, error)
	StatusFn   func(ctx context.Context, req contracts.ScriptStatusRequest) (*contracts.ScriptStatusResponse, error)
	CancelFn   func(ctx context.Context, cmd contracts.CancelScriptCommand) (*contracts.ScriptStatusResponse, error)
	CompleteFn func(ctx context.Context, cmd contracts.CompleteScriptCommand) (*contracts.ScriptStatusResponse, error)
}

func (f *fakeV1) StartScript(ctx context.Context, cmd contracts.StartScriptCommand) (contracts.ScriptTicket, error) {
	f.add("start")
	if f.StartFn != nil {
		return f.StartFn(ctx, cmd)
	}
	return "agent-ticket", nil
}

func (f *fakeV1) GetStatus(ctx context.Context, req contracts.ScriptStatusRequest) (*contracts.ScriptStatusResponse, error) {
	f.add("status")
	if f.StatusFn != nil {
		return f.StatusFn(ctx, req)
	}
	return &contracts.ScriptStatusResponse{Ticket: req.Ticket, State: contracts.ProcessStateComplete}, nil
}

func (f *fakeV1) CancelScript(ctx context.Context, cmd contracts.CancelScriptCommand) (*contracts.ScriptStatusResponse, error) {
	f.add("cancel")
	if f.CancelFn != nil {
		return f.CancelFn(ctx, cmd)
	}
	return &contracts.ScriptStatusResponse{Ticket: cmd.Ticket, State: contracts.ProcessStateComplete, ExitCode: contracts.CanceledExitCode}, nil
}

func (f *fakeV1) CompleteScript(ctx context.Context, cmd contracts.CompleteScriptCommand) (*contracts.ScriptStatusResponse, error) {
	f.add("complete")
	if f.CompleteFn != nil {
		return f.CompleteFn(ctx, cmd)
	}
	return &contracts.ScriptStatusResponse{Ticket: cmd.Ticket, State: contracts.ProcessStateComplete}, nil
}

type fakeV2 struct {
	calls

	StartFn    func(ctx context.Context, cmd contracts.StartScriptCommandV2) (*contracts.ScriptStatusResponseV2, error)
	StatusFn   func(ctx context.Context, req contracts.ScriptStatusRequestV2) (*contracts.ScriptStatusResponseV2, error)
	CancelFn   func(ctx context.Context, cmd contracts.CancelScriptCommandV2) (*contracts.ScriptStatusResponseV2, error)
	CompleteFn func(ctx context.Context, cmd contracts.CompleteScriptCommandV2) error
}

func (f *fakeV2) StartScript(ctx context.Context, cmd contracts.StartScriptCommandV2) (*contracts.ScriptStatusResponseV2, error) {
	f.add("start")
	if f.StartFn != nil {
		return f.StartFn(ctx, cmd)
	}
	return &contracts.ScriptStatusResponseV2{Ticket: cmd.ScriptTicket, State: contracts.ProcessStateRunning}, nil
}

func (f *fakeV2) GetStatus(ctx context.Context, req contracts.ScriptStatusRequestV2) (*contracts.ScriptStatusResponseV2, error) {
	f.add("status")
	if f.StatusFn != nil {
		return f.StatusFn(ctx, req)
	}
	return &contracts.ScriptStatusResponseV2{Ticket: req.Ticket, State: contracts.ProcessStateComplete}, nil
}

func (f *fakeV2) CancelScript(ctx context.Context, cmd contracts.CancelScriptCommandV2) (*contracts.ScriptStatusResponseV2, error) {
	f.add("cancel")
	if f.CancelFn != nil {
		return f.CancelFn(ctx, cmd)
	}
	return &contracts.ScriptStatusResponseV2{Ticket: cmd.Ticket, State: contracts.ProcessStateComplete, ExitCode: contracts.CanceledExitCode}, nil
}

func (f *fakeV2) CompleteScript(ctx context.Context, cmd contracts.CompleteScriptCommandV2) error {
	f.add("complete")
	if f.CompleteFn != nil {
		return f.CompleteFn(ctx, cmd)
	}
	return nil
}

type fakeKubernetes struct {
	calls

	StartFn func(ctx context.Context, cmd contracts.StartKubernetesScriptCommandV1) (*contracts.KubernetesScriptStatusResponseV1, error)
}

func (f *fakeKubernetes) StartScript(ctx context.Context, cmd contracts.StartKubernetesScriptCommandV1) (*contracts.KubernetesScriptStatusResponseV1, error) {
	f.add("start")
	if f.StartFn != nil {
		return f.StartFn(ctx, cmd)
	}
	return &contracts.KubernetesScriptStatusResponseV1{ScriptTicket: cmd.ScriptTicket, State: contracts.ProcessStatePending}, nil
}

func (f *fakeKubernetes) GetStatus(ctx context.Context, req contracts.KubernetesScriptStatusRequestV1) (*contracts.KubernetesScriptStatusResponseV1, error) {
	f.add("status")
	return &contracts.KubernetesScriptStatusResponseV1{ScriptTicket: req.ScriptTicket, State: contracts.ProcessStateComplete, NextLogSequence: req.LastLogSequence + 1}, nil
}

func (f *fakeKubernetes) CancelScript(ctx context.Context, cmd contracts.CancelKubernetesScriptCommandV1) (*contracts.KubernetesScriptStatusResponseV1, error) {
	f.add("cancel")
	return &contracts.KubernetesScriptStatusResponseV1{ScriptTicket: cmd.ScriptTicket, State: contracts.ProcessStateComplete, ExitCode: contracts.CanceledExitCode}, nil
}

func (f *fakeKubernetes) CompleteScript(ctx context.Context, cmd contracts.CompleteKubernetesScriptCommandV1) error {
	f.add("complete")
	return nil
}

type fakeCapabilities struct {
	calls

	res *contracts.CapabilitiesResponseV2
	err error
}

func (f *fakeCapabilities) GetCapabilities(ctx context.Context) (*contracts.CapabilitiesResponseV2, error) {
	f.add("capabilities")
	return f.res, f.err
}

func capabilities(names ...string) *fakeCapabilities {
	return &fakeCapabilities{res: &contracts.CapabilitiesResponseV2{SupportedCapabilities: names}}
}

var fastBackoff = backoff.StrategyFunc(func(int) time.Duration { return time.Millisecond })
