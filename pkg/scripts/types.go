package scripts

import (
	"time"

	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/contracts"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/internal/logfields"
	"github.com/sirupsen/logrus"
)

// Version is the protocol version a run was started with.
type Version int

const (
	VersionUnknown Version = iota
	ScriptServiceV1
	ScriptServiceV2
	KubernetesScriptServiceV1
)

func (v Version) String() string {
	switch v {
	case ScriptServiceV1:
		return contracts.ScriptServiceV1Name
	case ScriptServiceV2:
		return contracts.ScriptServiceV2Name
	case KubernetesScriptServiceV1:
		return contracts.KubernetesScriptServiceV1Name
	default:
		return "Unknown"
	}
}

// StartAttempt tells an Executor whether StartScript may already have been
// sent for the same command.
type StartAttempt int

const (
	FirstAttempt StartAttempt = iota
	PossiblyBeingReattempted
)

// IsolationConfiguration serialises scripts sharing MutexName on the agent.
type IsolationConfiguration struct {
	Level        contracts.ScriptIsolationLevel
	MutexName    string
	MutexTimeout time.Duration
}

// ExecuteScriptCommand is everything needed to start one script. It is built
// once and consumed by a single StartScript.
type ExecuteScriptCommand struct {
	ScriptTicket contracts.ScriptTicket
	TaskID       string
	ScriptBody   string
	Arguments    []string
	Scripts      map[contracts.ScriptType]string
	Files        []contracts.ScriptFile
	Isolation    IsolationConfiguration

	// DurationToWaitForScriptToFinish lets agents that support it hold the
	// StartScript response until the script ends, saving a poll for short
	// scripts.
	DurationToWaitForScriptToFinish time.Duration

	// Kubernetes is set for scripts that run in a pod.
	Kubernetes *KubernetesConfiguration
}

// Status is the agent's latest view of a run.
type Status struct {
	State contracts.ProcessState
	// ExitCode is meaningful once State is Complete.
	ExitCode int
	Logs     []contracts.ProcessOutput
}

func (s Status) Complete() bool {
	return s.State == contracts.ProcessStateComplete
}

// CommandContext is what the orchestrator carries between calls for a run.
type CommandContext struct {
	ScriptTicket    contracts.ScriptTicket
	NextLogSequence int64
	Version         Version
}

func (c CommandContext) Fields() logrus.Fields {
	fields := logfields.Ticket(c.ScriptTicket)
	fields[logfields.VersionKey] = c.Version.String()
	return fields
}

// OperationResult pairs a status with the context for the next call.
type OperationResult struct {
	Status  Status
	Context CommandContext
	// Interrupted is the failed start behind a placeholder result.
	Interrupted error
}

// Result is the outcome of a run that was not cancelled.
type Result struct {
	State    contracts.ProcessState
	ExitCode int
}
