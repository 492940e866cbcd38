package contracts

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ScriptTicket names one script execution on the remote agent.
type ScriptTicket string

// NewScriptTicket returns a fresh random ticket.
func NewScriptTicket() ScriptTicket {
	return ScriptTicket(strings.ReplaceAll(uuid.New().String(), "-", ""))
}

func (t ScriptTicket) String() string { return string(t) }

// ProcessState is the remote lifecycle of a script run. It only moves forward.
type ProcessState int

const (
	ProcessStatePending ProcessState = iota
	ProcessStateRunning
	ProcessStateComplete
)

var processStateNames = map[ProcessState]string{
	ProcessStatePending:  "Pending",
	ProcessStateRunning:  "Running",
	ProcessStateComplete: "Complete",
}

func (s ProcessState) String() string {
	if name, ok := processStateNames[s]; ok {
		return name
	}
	return "Unknown"
}

func (s ProcessState) MarshalText() ([]byte, error) {
	if _, ok := processStateNames[s]; !ok {
		return nil, errors.Errorf("invalid process state %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *ProcessState) UnmarshalText(text []byte) error {
	for state, name := range processStateNames {
		if strings.EqualFold(name, string(text)) {
			*s = state
			return nil
		}
	}
	return errors.Errorf("invalid process state %q", text)
}

// Exit codes reported by agents for runs that did not finish on their own.
const (
	FatalExitCode    = -41
	CanceledExitCode = -43
	TimeoutExitCode  = -44
)

type ProcessOutputSource int

const (
	OutputSourceStdOut ProcessOutputSource = iota
	OutputSourceStdErr
	OutputSourceDebug
)

func (s ProcessOutputSource) String() string {
	switch s {
	case OutputSourceStdErr:
		return "StdErr"
	case OutputSourceDebug:
		return "Debug"
	default:
		return "StdOut"
	}
}

// ProcessOutput is one log line produced by a running script.
type ProcessOutput struct {
	Source   ProcessOutputSource `json:"source"`
	Text     string              `json:"text"`
	Occurred time.Time           `json:"occurred"`
}

// ScriptIsolationLevel controls whether the agent serialises the script with
// other scripts sharing its mutex.
type ScriptIsolationLevel int

const (
	IsolationNone ScriptIsolationLevel = iota
	IsolationFull
)

func (l ScriptIsolationLevel) String() string {
	if l == IsolationFull {
		return "FullIsolation"
	}
	return "NoIsolation"
}

// ScriptType selects the interpreter for a named sub-script.
type ScriptType string

const (
	ScriptTypePowerShell ScriptType = "PowerShell"
	ScriptTypeBash       ScriptType = "Bash"
	ScriptTypePython     ScriptType = "Python"
)

// Duration travels as milliseconds so agents in other languages can read it.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).Milliseconds())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var ms int64
	if err := json.Unmarshal(b, &ms); err != nil {
		return errors.Wrap(err, "duration must be a number of milliseconds")
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}
