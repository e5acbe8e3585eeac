// Package tools dispatches named actions for the JSON tool endpoint and
// the MCP server. Every response carries the identity key actually used,
// and a missing or unusable credential is answered with a login link
// instead of an error.
package tools
