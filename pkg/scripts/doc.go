// Package scripts drives a single script run on a remote agent to completion.
//
// The Orchestrator owns the lifecycle: it starts the script, polls its status
// with backoff until the agent reports it complete, asks the agent to cancel
// when the caller's context ends, and finally lets the agent clean up. The
// protocol spoken to the agent is hidden behind Executor, which has one
// implementation per protocol version.
package scripts
