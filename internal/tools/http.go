package tools

import (
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/teemow/mailgraph/internal/server"
)

// maxRequestBytes caps the JSON request body.
const maxRequestBytes = 1 << 20

var errRequestTooLarge = errors.New("request body too large")

// ServeHTTP handles POST /api/tools.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req Request
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err == nil && len(body) > maxRequestBytes {
		err = errRequestTooLarge
	}
	if err == nil {
		err = json.Unmarshal(body, &req)
	}
	if err != nil {
		resp := Response{IdentityKey: echoIdentityKey(body), Action: req.Action}
		resp.Error = &ErrorInfo{Code: CodeInvalidInput, Message: "request body must be a JSON object: " + err.Error()}
		writeResponse(w, resp)
		return
	}
	writeResponse(w, d.Invoke(r.Context(), req, TransportHTTP))
}

// echoIdentityKey returns the identity key of a request that failed to
// decode, if the body still carries a well-formed one. Nothing is minted
// because no action ran.
func echoIdentityKey(body []byte) string {
	var partial struct {
		IdentityKey string `json:"identity_key"`
	}
	if json.Unmarshal(body, &partial) != nil {
		return ""
	}
	if server.ValidateIdentityKey(partial.IdentityKey) != nil {
		return ""
	}
	return partial.IdentityKey
}

func writeResponse(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(resp.HTTPStatus())
	_ = json.NewEncoder(w).Encode(resp)
}
