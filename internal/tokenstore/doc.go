// Package tokenstore persists one OAuth credential per identity key.
//
// Three backends implement Store: an in-process sharded map, PostgreSQL
// (pgx, embedded migrations) and Redis (hash per key plus an expiry index).
// Durable backends encrypt token material with AES-256-GCM when a key is
// configured.
//
// Whether a stored credential is still usable is decided by the caller via
// Credential.Usable; the store only distinguishes present from absent.
package tokenstore
