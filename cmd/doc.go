// Package cmd implements the command-line interface for mailgraph.
//
// This package provides the following commands:
//   - serve: Start the HTTP surface and MCP transport (default)
//   - sweep: Remove expired credentials from the token store once
//   - generate-docs: Generate markdown documentation for every action
//   - version: Display version information
//
// Flags can be supplied through environment variables or a .env file in
// the working directory; an explicitly set flag always wins.
package cmd
