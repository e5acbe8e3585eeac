// Package graph fetches paged collections from Microsoft Graph.
//
// FetchPage performs a single logical GET with bounded retries on
// throttling (429) and server errors (5xx), honouring Retry-After. The
// retry schedule is the pure function Backoff so it can be tested without
// a clock. Iterator follows @odata.nextLink lazily, one page at a time.
package graph
