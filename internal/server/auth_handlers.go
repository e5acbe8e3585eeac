package server

import (
	"errors"
	"html/template"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/teemow/mailgraph/internal/authflow"
	"github.com/teemow/mailgraph/internal/logging"
)

// authHandlers serves the /auth routes.
type authHandlers struct {
	sc *ServerContext
}

// CallbackResult is the JSON body of a successful callback.
type CallbackResult struct {
	IdentityKey string    `json:"identity_key"`
	Bound       bool      `json:"bound"`
	ExpiresAt   time.Time `json:"expires_at"`
	Scopes      string    `json:"scopes,omitempty"`
}

// RevokeRequest is the body of POST /auth/revoke.
type RevokeRequest struct {
	IdentityKey string `json:"identity_key"`
}

// RevokeResult is the body of a successful revoke.
type RevokeResult struct {
	IdentityKey string `json:"identity_key"`
	Revoked     bool   `json:"revoked"`
}

var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>mailgraph</title>
<style>body{font-family:sans-serif;max-width:36em;margin:4em auto;color:#222}code{background:#eee;padding:0 .3em}</style>
</head>
<body>
<h1>Mailbox connected</h1>
<p>Your mailbox is now linked to identity key <code>{{.IdentityKey}}</code>.</p>
<p>Access expires at {{.ExpiresAt.Format "2006-01-02 15:04 MST"}}. You can close this window.</p>
</body>
</html>
`))

func (h *authHandlers) controller(w http.ResponseWriter) (*authflow.Controller, bool) {
	c := h.sc.Auth()
	if c == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "authorization is not configured")
		return nil, false
	}
	return c, true
}

// login redirects the browser to the identity provider with the identity
// key as state.
func (h *authHandlers) login(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("identity_key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing_identity", "identity_key query parameter is required")
		return
	}
	if err := ValidateIdentityKey(key); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_identity", err.Error())
		return
	}
	c, ok := h.controller(w)
	if !ok {
		return
	}
	target, err := c.Initiate(key)
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing_identity", err.Error())
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// callback completes the code flow and binds the credential to state.
func (h *authHandlers) callback(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w)
	if !ok {
		return
	}
	p := authflow.ParseCallback(r.URL.Query())
	if p.Error == "" && p.Code != "" && p.State != "" {
		if err := ValidateIdentityKey(p.State); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_state", err.Error())
			return
		}
	}

	cred, err := c.Complete(r.Context(), p)
	if err != nil {
		h.callbackError(w, r, err)
		return
	}

	res := CallbackResult{
		IdentityKey: cred.IdentityKey,
		Bound:       true,
		ExpiresAt:   cred.ExpiryTime().UTC(),
		Scopes:      cred.Scopes,
	}
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, res)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if err := callbackPage.Execute(w, res); err != nil {
		h.sc.Logger().WarnContext(r.Context(), "render callback page", logging.Err(err))
	}
}

func (h *authHandlers) callbackError(w http.ResponseWriter, r *http.Request, err error) {
	var pe *authflow.ProviderError
	var xe *authflow.ExchangeError
	switch {
	case errors.As(err, &pe):
		desc := pe.Code
		if pe.Description != "" {
			desc += ": " + pe.Description
		}
		writeError(w, http.StatusBadRequest, "provider_error", desc)
	case errors.Is(err, authflow.ErrMissingParameters):
		writeError(w, http.StatusBadRequest, "missing_parameters", err.Error())
	case errors.As(err, &xe):
		desc := xe.Body
		if desc == "" {
			desc = xe.Error()
		}
		writeError(w, http.StatusBadGateway, "exchange_failed", desc)
	default:
		h.sc.Logger().ErrorContext(r.Context(), "auth callback failed", logging.Err(err))
		writeError(w, http.StatusInternalServerError, "internal", "could not complete authorization")
	}
}

// revoke deletes the credential bound to an identity key.
func (h *authHandlers) revoke(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w)
	if !ok {
		return
	}
	var req RevokeRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err == nil {
		err = json.Unmarshal(body, &req)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "body must be a JSON object with identity_key")
		return
	}
	if req.IdentityKey == "" {
		writeError(w, http.StatusBadRequest, "missing_identity", "identity_key is required")
		return
	}
	if err := ValidateIdentityKey(req.IdentityKey); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_identity", err.Error())
		return
	}
	if err := c.Revoke(r.Context(), req.IdentityKey); err != nil {
		h.sc.Logger().ErrorContext(r.Context(), "revoke failed", logging.Identity(req.IdentityKey), logging.Err(err))
		writeError(w, http.StatusInternalServerError, "internal", "could not revoke credential")
		return
	}
	writeJSON(w, http.StatusOK, RevokeResult{IdentityKey: req.IdentityKey, Revoked: true})
}

func wantsJSON(r *http.Request) bool {
	if r.URL.Query().Get("format") == "json" {
		return true
	}
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mt == "application/json" {
			return true
		}
	}
	return false
}
