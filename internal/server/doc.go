// Package server holds the HTTP surface of mailgraph.
//
// ServerContext carries the long-lived collaborators: the token store, the
// authorization controller and the shared Graph fetcher. NewRouter mounts
// the authorization endpoints, the tool endpoint and the MCP endpoint
// behind chi middleware, the API key gatekeeper and the per-IP rate
// limiter. Tool and MCP handlers are injected so this package does not
// import the tool layer.
//
// Identity keys are opaque canonical UUIDs. They are the OAuth state value
// and the only thing tying a caller to a stored credential, so the
// gatekeeper rejects anything else before it reaches the store.
//
// MetricsServer exposes Prometheus metrics on a separate listener.
package server
