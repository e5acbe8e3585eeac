// Package mail implements named mailbox queries on top of the graph
// fetcher. Each query builds an OData URL, consumes at most the requested
// number of messages and shapes them into Message values.
package mail
