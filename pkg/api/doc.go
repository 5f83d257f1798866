// Package api exposes the HTTP surface of the discovery service: layer and
// tool listings, connection management, governed tool invocation and the
// asynchronous discovery lifecycle. Every response is JSON; every request
// carries a correlation ID, minted when the caller supplies none.
package api
