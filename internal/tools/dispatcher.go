package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/teemow/mailgraph/internal/graph"
	"github.com/teemow/mailgraph/internal/logging"
	"github.com/teemow/mailgraph/internal/mail"
	"github.com/teemow/mailgraph/internal/server"
	"github.com/teemow/mailgraph/internal/tokenstore"
	"github.com/teemow/mailgraph/internal/tools/common"
)

// Transports reported in the audit trail.
const (
	TransportHTTP = "http"
	TransportMCP  = "mcp"
)

// Error codes in ErrorInfo.
const (
	CodeInvalidInput = "invalid_input"
	CodeRemoteError  = "remote_error"
	CodeUnavailable  = "unavailable"
	CodeInternal     = "internal_error"
)

// Request is one action invocation.
type Request struct {
	Action      string      `json:"action"`
	IdentityKey string      `json:"identity_key,omitempty"`
	Params      common.Args `json:"params,omitempty"`
}

// ErrorInfo describes a failed invocation. Remote errors carry the remote
// status and body unchanged.
type ErrorInfo struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	RemoteStatus int    `json:"remote_status,omitempty"`
	RemoteBody   string `json:"remote_body,omitempty"`
}

// Response is the outcome of Invoke.
type Response struct {
	IdentityKey   string     `json:"identity_key"`
	Action        string     `json:"action"`
	RequiresLogin bool       `json:"requires_login"`
	LoginURL      string     `json:"login_url,omitempty"`
	Result        any        `json:"result,omitempty"`
	Error         *ErrorInfo `json:"error,omitempty"`
}

// HTTPStatus maps the response to a status code. A login prompt is a
// normal 200 response.
func (r Response) HTTPStatus() int {
	if r.Error == nil {
		return http.StatusOK
	}
	switch r.Error.Code {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeRemoteError:
		return http.StatusBadGateway
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Dispatcher resolves identity keys and credentials, then runs actions.
type Dispatcher struct {
	sc      *server.ServerContext
	actions []common.Action
	runners map[string]common.Handler
	newKey  func() string
	logger  *slog.Logger
}

// NewDispatcher registers actions, each wrapped with instrumentation.
func NewDispatcher(sc *server.ServerContext, actions []common.Action) (*Dispatcher, error) {
	d := &Dispatcher{
		sc:      sc,
		actions: actions,
		runners: make(map[string]common.Handler, len(actions)),
		newKey:  func() string { return uuid.New().String() },
		logger:  logging.WithComponent(sc.Logger(), "tools"),
	}
	for _, a := range actions {
		if _, dup := d.runners[a.Name]; dup {
			return nil, fmt.Errorf("duplicate action %q", a.Name)
		}
		d.runners[a.Name] = common.InstrumentedAction(a.Name, sc, d.withCredential(a))
	}
	return d, nil
}

// Actions returns the registered actions in registration order.
func (d *Dispatcher) Actions() []common.Action { return d.actions }

// withCredential resolves the credential for actions that need one.
func (d *Dispatcher) withCredential(a common.Action) common.Handler {
	return func(ctx context.Context, call common.Call) (common.Result, error) {
		if !a.NeedsCredential {
			return a.Run(ctx, call)
		}
		cred, err := d.sc.Store().Get(ctx, call.IdentityKey)
		if errors.Is(err, tokenstore.ErrNotFound) {
			return common.Result{}, common.ErrLoginRequired
		}
		if err != nil {
			return common.Result{}, fmt.Errorf("load credential: %w", err)
		}
		if !cred.Usable(d.sc.Now()) {
			return common.Result{}, common.ErrLoginRequired
		}
		call.Credential = cred
		call.Mail = d.sc.MailClient(cred.AccessToken)

		res, err := a.Run(ctx, call)
		if graph.IsUnauthorized(err) {
			return common.Result{}, fmt.Errorf("%w: %v", common.ErrLoginRequired, err)
		}
		return res, err
	}
}

// Invoke runs req. It never returns an error; failures are reported in
// Response.Error.
func (d *Dispatcher) Invoke(ctx context.Context, req Request, transport string) Response {
	key := strings.TrimSpace(req.IdentityKey)
	resp := Response{IdentityKey: key, Action: req.Action}

	if key == "" {
		key = d.newKey()
		resp.IdentityKey = key
	} else if err := server.ValidateIdentityKey(key); err != nil {
		resp.Error = &ErrorInfo{Code: CodeInvalidInput, Message: err.Error()}
		return resp
	}

	run, ok := d.runners[req.Action]
	if !ok {
		resp.Error = &ErrorInfo{Code: CodeInvalidInput, Message: fmt.Sprintf("unknown action %q", req.Action)}
		return resp
	}

	args := req.Params
	if args == nil {
		args = common.Args{}
	}
	result, err := run(ctx, common.Call{
		IdentityKey: key,
		Transport:   transport,
		Args:        args,
		Server:      d.sc,
	})
	switch {
	case errors.Is(err, common.ErrLoginRequired):
		resp.RequiresLogin = true
		resp.LoginURL = d.sc.LoginURL(key)
	case err != nil:
		resp.Error = classify(err)
		if resp.Error.Code == CodeInternal {
			d.logger.ErrorContext(ctx, "action failed",
				logging.Action(req.Action),
				logging.Identity(key),
				logging.Err(err))
		}
	default:
		resp.Result = result.Value
	}
	return resp
}

func classify(err error) *ErrorInfo {
	var remote *graph.RemoteError
	switch {
	case errors.Is(err, common.ErrInvalidInput),
		errors.Is(err, mail.ErrFolderNotFound),
		errors.Is(err, mail.ErrInvalidRange):
		return &ErrorInfo{Code: CodeInvalidInput, Message: err.Error()}
	case errors.As(err, &remote):
		return &ErrorInfo{
			Code:         CodeRemoteError,
			Message:      fmt.Sprintf("remote service returned %d", remote.Status),
			RemoteStatus: remote.Status,
			RemoteBody:   remote.Body,
		}
	case errors.Is(err, graph.ErrCircuitOpen):
		return &ErrorInfo{Code: CodeUnavailable, Message: err.Error()}
	default:
		return &ErrorInfo{Code: CodeInternal, Message: err.Error()}
	}
}
