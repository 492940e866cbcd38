package contracts

import "context"

// ScriptFile is an additional file staged next to the script.
type ScriptFile struct {
	Name     string `json:"name"`
	Contents []byte `json:"contents"`
}

// StartScriptCommand starts a script on a ScriptServiceV1 agent. The agent
// allocates the ticket.
type StartScriptCommand struct {
	ScriptBody                  string                `json:"scriptBody"`
	Isolation                   ScriptIsolationLevel  `json:"isolation"`
	ScriptIsolationMutexTimeout Duration              `json:"scriptIsolationMutexTimeout"`
	IsolationMutexName          string                `json:"isolationMutexName,omitempty"`
	Arguments                   []string              `json:"arguments,omitempty"`
	TaskID                      string                `json:"taskId,omitempty"`
	Scripts                     map[ScriptType]string `json:"scripts,omitempty"`
	Files                       []ScriptFile          `json:"files,omitempty"`
}

type ScriptStatusRequest struct {
	Ticket          ScriptTicket `json:"ticket"`
	LastLogSequence int64        `json:"lastLogSequence"`
}

type CancelScriptCommand struct {
	Ticket          ScriptTicket `json:"ticket"`
	LastLogSequence int64        `json:"lastLogSequence"`
}

type CompleteScriptCommand struct {
	Ticket          ScriptTicket `json:"ticket"`
	LastLogSequence int64        `json:"lastLogSequence"`
}

type ScriptStatusResponse struct {
	Ticket          ScriptTicket    `json:"ticket"`
	State           ProcessState    `json:"state"`
	ExitCode        int             `json:"exitCode"`
	Logs            []ProcessOutput `json:"logs"`
	NextLogSequence int64           `json:"nextLogSequence"`
}

// ScriptServiceV1 is the legacy script service. StartScript is not idempotent.
type ScriptServiceV1 interface {
	// StartScript begins a script and returns the ticket allocated by the
	// agent.
	StartScript(ctx context.Context, cmd StartScriptCommand) (ScriptTicket, error)
	// GetStatus returns the state of the script and logs after
	// LastLogSequence.
	GetStatus(ctx context.Context, req ScriptStatusRequest) (*ScriptStatusResponse, error)
	// CancelScript asks the agent to stop the script.
	CancelScript(ctx context.Context, cmd CancelScriptCommand) (*ScriptStatusResponse, error)
	// CompleteScript releases the agent's resources for the script and
	// returns its final status.
	CompleteScript(ctx context.Context, cmd CompleteScriptCommand) (*ScriptStatusResponse, error)
}

// StartScriptCommandV2 starts a script under a caller-chosen ticket. Starting
// the same ticket again is a no-op on the agent.
type StartScriptCommandV2 struct {
	ScriptTicket                    ScriptTicket          `json:"scriptTicket"`
	ScriptBody                      string                `json:"scriptBody"`
	Isolation                       ScriptIsolationLevel  `json:"isolation"`
	ScriptIsolationMutexTimeout     Duration              `json:"scriptIsolationMutexTimeout"`
	IsolationMutexName              string                `json:"isolationMutexName,omitempty"`
	Arguments                       []string              `json:"arguments,omitempty"`
	TaskID                          string                `json:"taskId,omitempty"`
	DurationToWaitForScriptToFinish Duration              `json:"durationToWaitForScriptToFinish"`
	Scripts                         map[ScriptType]string `json:"scripts,omitempty"`
	Files                           []ScriptFile          `json:"files,omitempty"`
}

type ScriptStatusRequestV2 struct {
	Ticket          ScriptTicket `json:"ticket"`
	LastLogSequence int64        `json:"lastLogSequence"`
}

type CancelScriptCommandV2 struct {
	Ticket          ScriptTicket `json:"ticket"`
	LastLogSequence int64        `json:"lastLogSequence"`
}

type CompleteScriptCommandV2 struct {
	Ticket ScriptTicket `json:"ticket"`
}

type ScriptStatusResponseV2 struct {
	Ticket          ScriptTicket    `json:"ticket"`
	State           ProcessState    `json:"state"`
	ExitCode        int             `json:"exitCode"`
	Logs            []ProcessOutput `json:"logs"`
	NextLogSequence int64           `json:"nextLogSequence"`
}

type ScriptServiceV2 interface {
	StartScript(ctx context.Context, cmd StartScriptCommandV2) (*ScriptStatusResponseV2, error)
	GetStatus(ctx context.Context, req ScriptStatusRequestV2) (*ScriptStatusResponseV2, error)
	CancelScript(ctx context.Context, cmd CancelScriptCommandV2) (*ScriptStatusResponseV2, error)
	CompleteScript(ctx context.Context, cmd CompleteScriptCommandV2) error
}

// PodImageConfigurationV1 names the image the script pod runs and the feed
// credentials needed to pull it.
type PodImageConfigurationV1 struct {
	Image        string `json:"image"`
	FeedURL      string `json:"feedUrl,omitempty"`
	FeedUsername string `json:"feedUsername,omitempty"`
	FeedPassword string `json:"feedPassword,omitempty"`
	// ECRReference is the resolver form of an ECR image, for agents that
	// pull through an ECR resolver.
	ECRReference string `json:"ecrReference,omitempty"`
}

type StartKubernetesScriptCommandV1 struct {
	ScriptTicket                ScriptTicket             `json:"scriptTicket"`
	ScriptBody                  string                   `json:"scriptBody"`
	Isolation                   ScriptIsolationLevel     `json:"isolation"`
	ScriptIsolationMutexTimeout Duration                 `json:"scriptIsolationMutexTimeout"`
	IsolationMutexName          string                   `json:"isolationMutexName,omitempty"`
	Arguments                   []string                 `json:"arguments,omitempty"`
	TaskID                      string                   `json:"taskId,omitempty"`
	PodImageConfiguration       *PodImageConfigurationV1 `json:"podImageConfiguration,omitempty"`
	ScriptPodServiceAccountName string                   `json:"scriptPodServiceAccountName,omitempty"`
	IsRawScript                 bool                     `json:"isRawScript,omitempty"`
	Scripts                     map[ScriptType]string    `json:"scripts,omitempty"`
	Files                       []ScriptFile             `json:"files,omitempty"`
}

type KubernetesScriptStatusRequestV1 struct {
	ScriptTicket    ScriptTicket `json:"scriptTicket"`
	LastLogSequence int64        `json:"lastLogSequence"`
}

type CancelKubernetesScriptCommandV1 struct {
	ScriptTicket    ScriptTicket `json:"scriptTicket"`
	LastLogSequence int64        `json:"lastLogSequence"`
}

type CompleteKubernetesScriptCommandV1 struct {
	ScriptTicket ScriptTicket `json:"scriptTicket"`
}

type KubernetesScriptStatusResponseV1 struct {
	ScriptTicket    ScriptTicket    `json:"scriptTicket"`
	State           ProcessState    `json:"state"`
	ExitCode        int             `json:"exitCode"`
	Logs            []ProcessOutput `json:"logs"`
	NextLogSequence int64           `json:"nextLogSequence"`
}

// KubernetesScriptServiceV1 runs each script in its own pod.
type KubernetesScriptServiceV1 interface {
	StartScript(ctx context.Context, cmd StartKubernetesScriptCommandV1) (*KubernetesScriptStatusResponseV1, error)
	GetStatus(ctx context.Context, req KubernetesScriptStatusRequestV1) (*KubernetesScriptStatusResponseV1, error)
	CancelScript(ctx context.Context, cmd CancelKubernetesScriptCommandV1) (*KubernetesScriptStatusResponseV1, error)
	// CompleteScript deletes the pod and its workspace.
	CompleteScript(ctx context.Context, cmd CompleteKubernetesScriptCommandV1) error
}

// Services bundles the proxies for every remote service of one agent.
type Services struct {
	ScriptV1     ScriptServiceV1
	ScriptV2     ScriptServiceV2
	KubernetesV1 KubernetesScriptServiceV1
	Capabilities CapabilitiesServiceV2
}
