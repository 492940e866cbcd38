// Package rpc runs calls against a remote agent under a retry policy.
//
// Failures are split by phase. A ConnectionError never reached the agent; a
// TransferError reached it but broke while the request or response was in
// flight. Only these two kinds of failure are retried. Everything else, such as
// an application error reported by the agent, surfaces on the first attempt.
package rpc
