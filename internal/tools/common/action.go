package common

import (
	"context"

	"github.com/teemow/mailgraph/internal/mail"
	"github.com/teemow/mailgraph/internal/server"
	"github.com/teemow/mailgraph/internal/tokenstore"
)

// ParamKind is the JSON type of an action parameter.
type ParamKind string

const (
	KindString     ParamKind = "string"
	KindInteger    ParamKind = "integer"
	KindStringList ParamKind = "string_list"
	KindDateTime   ParamKind = "date_time"
)

// Param describes one action input.
type Param struct {
	Name        string
	Kind        ParamKind
	Description string
	Required    bool
}

// Call is one action invocation after the identity key is resolved.
// Credential and Mail are set only for actions that need a credential.
type Call struct {
	IdentityKey string
	Transport   string
	Args        Args
	Credential  *tokenstore.Credential
	Mail        *mail.Client
	Server      *server.ServerContext
}

// Result is a successful action outcome. Count is the number of items in
// Value and is recorded in the audit trail. SenderDomain is set by sender
// actions and labels tool metrics when detailed labels are on.
type Result struct {
	Count        int
	Value        any
	SenderDomain string
}

// Handler runs an action.
type Handler func(ctx context.Context, call Call) (Result, error)

// Action is a named operation exposed on every transport.
type Action struct {
	Name        string
	Description string
	Params      []Param
	// NeedsCredential makes the dispatcher resolve a usable credential
	// before Run, answering with a login prompt when there is none.
	NeedsCredential bool
	Run             Handler
}
