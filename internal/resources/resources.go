package resources

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mailgraph/internal/server"
	"github.com/teemow/mailgraph/internal/tools"
	"github.com/teemow/mailgraph/internal/tools/common"
)

const (
	// ActionsURI is the Markdown reference of every action.
	ActionsURI = "mailgraph://actions"

	identityPrefix = "mailgraph://identity/"
	statusSuffix   = "/status"

	// IdentityStatusTemplate resolves to the credential status of one key.
	IdentityStatusTemplate = identityPrefix + "{identity_key}" + statusSuffix
)

// Register adds the action reference and the identity status template to s.
func Register(s *mcpserver.MCPServer, sc *server.ServerContext, actions []common.Action) {
	reference := tools.Reference(actions)

	s.AddResource(mcp.NewResource(ActionsURI, "Action Reference",
		mcp.WithResourceDescription("Every action with its parameters"),
		mcp.WithMIMEType("text/markdown"),
	), func(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "text/markdown",
			Text:     reference,
		}}, nil
	})

	s.AddResourceTemplate(mcp.NewResourceTemplate(IdentityStatusTemplate, "Identity Status",
		mcp.WithTemplateDescription("Whether an identity key has a usable mailbox credential"),
		mcp.WithTemplateMIMEType("application/json"),
	), func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return identityStatus(ctx, sc, req.Params.URI)
	})
}

// identityKeyFromURI extracts the key from mailgraph://identity/{key}/status.
func identityKeyFromURI(uri string) (string, error) {
	if !strings.HasPrefix(uri, identityPrefix) || !strings.HasSuffix(uri, statusSuffix) {
		return "", fmt.Errorf("unsupported resource uri %q", uri)
	}
	key := strings.TrimSuffix(strings.TrimPrefix(uri, identityPrefix), statusSuffix)
	if err := server.ValidateIdentityKey(key); err != nil {
		return "", err
	}
	return key, nil
}

func identityStatus(ctx context.Context, sc *server.ServerContext, uri string) ([]mcp.ResourceContents, error) {
	key, err := identityKeyFromURI(uri)
	if err != nil {
		return nil, err
	}
	auth := sc.Auth()
	if auth == nil {
		return nil, fmt.Errorf("authorization is not configured")
	}
	st, err := auth.Status(ctx, key)
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"identity_key": st.IdentityKey,
		"bound":        st.Bound,
		"usable":       st.Usable,
	}
	if st.ExpiresAt != nil {
		out["expires_at"] = st.ExpiresAt
	}
	if st.Scopes != "" {
		out["scopes"] = st.Scopes
	}
	if !st.Usable {
		out["login_url"] = sc.LoginURL(key)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode status: %w", err)
	}
	return []mcp.ResourceContents{mcp.TextResourceContents{
		URI:      uri,
		MIMEType: "application/json",
		Text:     string(data),
	}}, nil
}
