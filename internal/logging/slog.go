package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
)

// Common log attribute keys for consistent naming across the codebase.
const (
	KeyComponent = "component"
	KeyIdentity  = "identity"
	KeyUserHash  = "user_hash"
	KeyError     = "error"
	KeyAction    = "action"
	KeyURL       = "url"
)

// WithComponent returns a logger with the component attribute set.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String(KeyComponent, component))
}

// Component returns a slog attribute for the component name.
func Component(name string) slog.Attr {
	return slog.String(KeyComponent, name)
}

// Action returns a slog attribute for the tool action name.
func Action(action string) slog.Attr {
	return slog.String(KeyAction, action)
}

// Identity returns a slog attribute with the anonymized identity key.
// Identity keys act as bearer-like session handles and are never logged raw.
func Identity(identityKey string) slog.Attr {
	return slog.String(KeyIdentity, AnonymizeIdentity(identityKey))
}

// Err returns a slog attribute for an error.
// If err is nil, returns an empty Group attribute that will be omitted from output.
// This allows safely passing Err(maybeNilErr) without adding empty attributes.
//
// Usage:
//
//	logger.Info("operation", logging.Err(err))  // Safe even if err is nil
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}

// RedactURL strips the query string from a remote URL. Graph continuation
// links carry opaque skip tokens that do not belong in logs.
func RedactURL(rawURL string) slog.Attr {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		rawURL = rawURL[:i]
	}
	return slog.String(KeyURL, rawURL)
}

func shortHash(s string) string {
	hash := sha256.Sum256([]byte(s))
	return hex.EncodeToString(hash[:8])
}

// AnonymizeEmail returns a hashed representation of an email for logging purposes.
// This allows correlation of log entries without exposing PII.
func AnonymizeEmail(email string) string {
	if email == "" {
		return ""
	}
	return "user:" + shortHash(strings.ToLower(email))
}

// AnonymizeIdentity returns a hashed representation of an identity key.
func AnonymizeIdentity(identityKey string) string {
	if identityKey == "" {
		return ""
	}
	return "id:" + shortHash(identityKey)
}

// UserHash returns a slog attribute with the anonymized email address.
//
// Usage:
//
//	logger.Debug("sender crawled", logging.UserHash(address))
func UserHash(email string) slog.Attr {
	return slog.String(KeyUserHash, AnonymizeEmail(email))
}
