// Package client is the entry point for running scripts on an agent.
package client

import (
	"context"
	"time"

	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/backoff"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/contracts"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/internal/logfields"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/logging"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/observability"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/rpc"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/scriptservice"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/scripts"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

// Client runs scripts on a single agent. It is safe for concurrent use, each
// ExecuteScript builds its own orchestration.
type Client struct {
	log      logging.Logger
	services contracts.Services

	retriesEnabled bool
	retryDuration  time.Duration
	abandonAfter   time.Duration
	polling        backoff.Strategy

	rpcObserver rpc.Observer
	observer    Observer
}

type Option func(*Client)

// WithRetries enables retrying failed calls for up to duration. Only agents
// with an idempotent script service are retried.
func WithRetries(enabled bool, duration time.Duration) Option {
	return func(c *Client) {
		c.retriesEnabled = enabled
		c.retryDuration = duration
	}
}

// WithPolling sets the backoff between status polls.
func WithPolling(strategy backoff.Strategy) Option {
	return func(c *Client) { c.polling = strategy }
}

// WithAbandonCompleteAfter bounds the cleanup of a cancelled script.
func WithAbandonCompleteAfter(d time.Duration) Option {
	return func(c *Client) { c.abandonAfter = d }
}

func WithRPCObserver(o rpc.Observer) Option {
	return func(c *Client) { c.rpcObserver = o }
}

func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

func WithLogger(log logging.Logger) Option {
	return func(c *Client) { c.log = log }
}

func New(services contracts.Services, opts ...Option) (*Client, error) {
	if services.ScriptV1 == nil && services.ScriptV2 == nil && services.KubernetesV1 == nil {
		return nil, errors.New("at least one script service proxy must be provided")
	}
	c := &Client{
		log:           logging.New("client"),
		services:      services,
		retryDuration: rpc.DefaultRetryDuration,
		abandonAfter:  scriptservice.DefaultAbandonCompleteAfter,
		polling:       backoff.Server(),
		rpcObserver:   rpc.NoopObserver(),
		observer:      NoopObserver(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) settings() scriptservice.Settings {
	return scriptservice.Settings{RetriesEnabled: c.retriesEnabled, AbandonCompleteAfter: c.abandonAfter}
}

func (c *Client) executor() *rpc.Executor {
	return rpc.NewExecutor(c.log, rpc.NewRetryHandler(c.retryDuration), c.rpcObserver)
}

func (c *Client) selector(executor *rpc.Executor) *scriptservice.VersionSelector {
	return scriptservice.NewVersionSelector(c.log, c.services.Capabilities, executor, c.settings())
}

// ExecuteScript runs cmd to completion, calling onStatus with every status in
// order and onCompleted once the script has finished, before the agent cleans
// up. A command without a ticket is given a new one.
func (c *Client) ExecuteScript(ctx context.Context, cmd scripts.ExecuteScriptCommand, onStatus func(scripts.Status), onCompleted func(context.Context) error) (*scripts.Result, error) {
	return c.ExecuteScriptAttempt(ctx, cmd, scripts.FirstAttempt, onStatus, onCompleted)
}

// ExecuteScriptAttempt is ExecuteScript for a command that an earlier,
// interrupted run may already have started.
func (c *Client) ExecuteScriptAttempt(ctx context.Context, cmd scripts.ExecuteScriptCommand, attempt scripts.StartAttempt, onStatus func(scripts.Status), onCompleted func(context.Context) error) (res *scripts.Result, err error) {
	if cmd.ScriptTicket == "" {
		cmd.ScriptTicket = contracts.NewScriptTicket()
	}
	ctx, span := observability.StartSpan(ctx, "client.ExecuteScript",
		attribute.String(logfields.TicketKey, cmd.ScriptTicket.String()))
	metrics := OperationMetrics{Ticket: cmd.ScriptTicket, Start: time.Now()}

	executor := c.executor()
	router := scriptservice.NewRouter(c.selector(executor), scriptservice.NewFactory(c.log, c.services, executor, c.settings()))
	defer func() {
		metrics.End = time.Now()
		metrics.Version = router.Version()
		metrics.Err = err
		metrics.Cancelled = errors.Is(err, scripts.ErrCancelled)
		if res != nil {
			metrics.ExitCode = res.ExitCode
		}
		span.SetAttributes(attribute.String(logfields.VersionKey, metrics.Version.String()))
		observability.EndSpan(span, err)
		c.observer.ExecuteScriptCompleted(metrics)
	}()

	orchestrator, err := scripts.NewOrchestrator(c.log, router, c.polling, scripts.Handlers{
		OnStatus:    onStatus,
		OnCompleted: onCompleted,
	})
	if err != nil {
		return nil, err
	}
	return orchestrator.ExecuteAttempt(ctx, cmd, attempt)
}

// Capabilities returns what the agent advertises.
func (c *Client) Capabilities(ctx context.Context) (*contracts.CapabilitiesResponseV2, error) {
	return c.selector(c.executor()).Capabilities(ctx)
}

// DetermineVersion returns the script service version a run would use.
func (c *Client) DetermineVersion(ctx context.Context) (scripts.Version, error) {
	return c.selector(c.executor()).DetermineVersion(ctx)
}
