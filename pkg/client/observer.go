package client

import (
	"time"

	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/contracts"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/scripts"
)

// OperationMetrics describes one ExecuteScript.
type OperationMetrics struct {
	Ticket  contracts.ScriptTicket
	Version scripts.Version
	Start   time.Time
	End     time.Time
	// ExitCode is only meaningful when Err is nil.
	ExitCode  int
	Cancelled bool
	Err       error
}

func (m OperationMetrics) Duration() time.Duration {
	return m.End.Sub(m.Start)
}

type Observer interface {
	ExecuteScriptCompleted(OperationMetrics)
}

type noopObserver struct{}

func (noopObserver) ExecuteScriptCompleted(OperationMetrics) {}

func NoopObserver() Observer { return noopObserver{} }
