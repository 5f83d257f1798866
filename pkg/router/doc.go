// Package router implements the governed execution boundary for tool
// invocations.
//
// Every remote call a discovery makes flows through Router.Invoke: the tool
// is resolved from the catalog, the bound policy is evaluated rule by rule,
// and only an allowed invocation reaches the network. The router owns
// pagination, subscription batching, retry with budget enforcement, reactive
// and proactive throttling, circuit breaking and client-side rate limiting.
// Invoke never returns a Go error; callers always receive a structured
// response so a failing tool cannot take down the layer that invoked it.
package router
