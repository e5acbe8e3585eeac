// Package authflow runs the OAuth 2.0 authorization code flow against the
// Microsoft identity platform.
//
// The caller's identity key is passed as the state parameter and comes
// back on the callback, where the exchanged credential is stored under it.
// The key is never generated or validated here.
package authflow
