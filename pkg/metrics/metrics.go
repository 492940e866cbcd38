// Package metrics exports RPC call and script execution metrics to Prometheus.
package metrics

import (
	"net/http"

	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/client"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scriptwatch"

// Outcomes used as the "outcome" label.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeCancelled = "cancelled"
)

// Collector implements rpc.Observer and client.Observer.
type Collector struct {
	registry *prometheus.Registry

	rpcCalls    *prometheus.CounterVec
	rpcAttempts *prometheus.HistogramVec
	rpcDuration *prometheus.HistogramVec

	executions        *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
}

var (
	_ rpc.Observer    = (*Collector)(nil)
	_ client.Observer = (*Collector)(nil)
)

// New returns a Collector with its own registry, which also carries the Go
// runtime and process collectors.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		rpcCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "RPC calls made to the agent, including all retries of a call.",
		}, []string{"service", "method", "outcome"}),
		rpcAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "attempts",
			Help:      "Attempts made per RPC call.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
		}, []string{"service", "method"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "Time spent on an RPC call, including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 9),
		}, []string{"service", "method"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "script_executions_total",
			Help:      "Script executions by protocol version and outcome.",
		}, []string{"version", "outcome"}),
		executionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "script_execution_duration_seconds",
			Help:      "Wall time of script executions from start to cleanup.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 3, 10),
		}, []string{"version"}),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.rpcCalls, c.rpcAttempts, c.rpcDuration,
		c.executions, c.executionDuration,
	)
	return c
}

func (c *Collector) RPCCallCompleted(m rpc.CallMetrics) {
	outcome := OutcomeSuccess
	switch {
	case m.Err == nil:
	case isCancelled(m.Err):
		outcome = OutcomeCancelled
	default:
		outcome = OutcomeFailure
	}
	c.rpcCalls.WithLabelValues(m.Call.Service, m.Call.Name, outcome).Inc()
	c.rpcAttempts.WithLabelValues(m.Call.Service, m.Call.Name).Observe(float64(len(m.Attempts)))
	c.rpcDuration.WithLabelValues(m.Call.Service, m.Call.Name).Observe(m.Duration().Seconds())
}

func (c *Collector) ExecuteScriptCompleted(m client.OperationMetrics) {
	outcome := OutcomeSuccess
	switch {
	case m.Cancelled:
		outcome = OutcomeCancelled
	case m.Err != nil:
		outcome = OutcomeFailure
	}
	version := m.Version.String()
	c.executions.WithLabelValues(version, outcome).Inc()
	c.executionDuration.WithLabelValues(version).Observe(m.Duration().Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
