package rpc

import "time"

type AttemptMetrics struct {
	Start time.Time
	End   time.Time
	Err   error
}

// CallMetrics describes one Execute* invocation and every attempt it made.
type CallMetrics struct {
	Call           Call
	RetriesEnabled bool
	RetryDuration  time.Duration
	Start          time.Time
	End            time.Time
	Attempts       []AttemptMetrics
	Err            error
}

func (m CallMetrics) Duration() time.Duration {
	return m.End.Sub(m.Start)
}

func (m CallMetrics) Succeeded() bool {
	return m.Err == nil
}

// Observer is told about every completed call.
type Observer interface {
	RPCCallCompleted(CallMetrics)
}

type noopObserver struct{}

func (noopObserver) RPCCallCompleted(CallMetrics) {}

// NoopObserver discards call metrics.
func NoopObserver() Observer { return noopObserver{} }
