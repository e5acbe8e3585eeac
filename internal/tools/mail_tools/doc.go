// Package mail_tools defines the mailbox actions exposed on the tool
// endpoint and over MCP.
package mail_tools
