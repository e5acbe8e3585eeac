package tools

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mailgraph/internal/tools/common"
)

// MCPToolPrefix prefixes every action name on the MCP surface.
const MCPToolPrefix = "mail_"

// MCPTool builds the MCP tool definition for a.
func MCPTool(a common.Action) mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription(a.Description),
		mcp.WithString("identity_key",
			mcp.Description("Identity key returned by an earlier call. Omit to start a new identity."),
		),
	}
	for _, p := range a.Params {
		propOpts := []mcp.PropertyOption{mcp.Description(p.Description)}
		if p.Required {
			propOpts = append(propOpts, mcp.Required())
		}
		switch p.Kind {
		case common.KindInteger:
			opts = append(opts, mcp.WithNumber(p.Name, propOpts...))
		default:
			opts = append(opts, mcp.WithString(p.Name, propOpts...))
		}
	}
	return mcp.NewTool(MCPToolPrefix+a.Name, opts...)
}

// RegisterMCPTools adds every dispatcher action to s.
func RegisterMCPTools(s *mcpserver.MCPServer, d *Dispatcher) {
	for _, a := range d.Actions() {
		s.AddTool(MCPTool(a), d.mcpHandler(a.Name))
	}
}

// mcpHandler adapts Invoke to an MCP tool call. The full Response is
// returned as JSON text; failures are flagged as tool errors.
func (d *Dispatcher) mcpHandler(action string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := common.Args(request.GetArguments())
		resp := d.Invoke(ctx, Request{
			Action:      action,
			IdentityKey: common.IdentityFromArgs(args),
			Params:      args,
		}, TransportMCP)

		out, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return mcp.NewToolResultError("failed to encode response: " + err.Error()), nil
		}
		if resp.Error != nil {
			return mcp.NewToolResultError(string(out)), nil
		}
		return mcp.NewToolResultText(string(out)), nil
	}
}
