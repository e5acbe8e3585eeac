// Package logging provides structured logging utilities for mailgraph.
//
// This package centralizes logging patterns to ensure consistent, structured logging
// throughout the codebase using the standard library's slog package.
//
// # Key Features
//
//   - Handler construction from CLI flags (text or JSON, level)
//   - PII sanitization (email and identity key anonymization)
//   - Consistent attribute naming across the codebase
//   - Logger adapter interface for flexibility
//
// # Usage Patterns
//
// Create a logger with standard attributes:
//
//	logger := logging.WithComponent(slog.Default(), "mail")
//	logger.Debug("sender crawled",
//	    logging.UserHash(address))
//
// Sanitize sensitive data before logging:
//
//	logger.Info("credential stored",
//	    logging.Identity(key))
//
// # Security Considerations
//
//   - Identity keys and sender addresses are hashed before they are logged
//   - Tokens are never logged directly
//   - Remote URLs are logged without their query strings
package logging
