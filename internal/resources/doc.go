// Package resources exposes read-only MCP resources: the action reference
// and the credential status of an identity key.
package resources
