// Package transport carries contract calls as JSON envelopes over a
// websocket. Client implements every contract interface through typed proxies
// and reports failures classified for the rpc retry policy; Server dispatches
// envelopes to contract implementations.
package transport
