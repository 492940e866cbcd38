// Package contracts describes the remote script services an agent exposes and
// the messages exchanged with them. Each protocol version has its own request
// and response shapes; nothing here knows how the messages travel.
package contracts
