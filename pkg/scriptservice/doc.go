// Package scriptservice adapts each version of the agent's script service to
// scripts.Executor and picks the version an agent should be driven with.
//
// The legacy ScriptService allocates the ticket itself and cannot start a
// script idempotently, so none of its calls are retried. ScriptServiceV2 and
// KubernetesScriptServiceV1 start scripts under a caller-chosen ticket and
// run every call under the configured retry policy.
package scriptservice
