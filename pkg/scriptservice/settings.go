package scriptservice

import (
	"time"

	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/contracts"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/scripts"
)

// DefaultAbandonCompleteAfter is how long CompleteScript may run once a run
// has been cancelled before it is abandoned.
const DefaultAbandonCompleteAfter = time.Minute

// Settings are shared by every adapter created for a client.
type Settings struct {
	// RetriesEnabled runs calls of the idempotent versions under the rpc
	// retry policy.
	RetriesEnabled bool
	// AbandonCompleteAfter bounds CompleteScript after cancellation.
	AbandonCompleteAfter time.Duration
}

func (s Settings) abandonAfter() time.Duration {
	if s.AbandonCompleteAfter <= 0 {
		return DefaultAbandonCompleteAfter
	}
	return s.AbandonCompleteAfter
}

func isolation(cmd scripts.ExecuteScriptCommand) (contracts.ScriptIsolationLevel, contracts.Duration, string) {
	return cmd.Isolation.Level, contracts.Duration(cmd.Isolation.MutexTimeout), cmd.Isolation.MutexName
}

func status(state contracts.ProcessState, exitCode int, logs []contracts.ProcessOutput) scripts.Status {
	return scripts.Status{State: state, ExitCode: exitCode, Logs: logs}
}
