package tools

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/mailgraph/internal/tools/common"
)

// Reference renders a Markdown reference of actions, grouped into account
// and mailbox tools.
func Reference(actions []common.Action) string {
	var sb strings.Builder

	sb.WriteString("# Action Reference\n\n")
	sb.WriteString("This document lists every action mailgraph exposes.\n\n")
	sb.WriteString("**Note:** This documentation is automatically generated from the action definitions.\n\n")

	byCategory := make(map[string][]mcp.Tool)
	for _, a := range actions {
		tool := MCPTool(a)
		cat := categoryFor(a)
		byCategory[cat] = append(byCategory[cat], tool)
	}
	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	sb.WriteString("## Table of Contents\n\n")
	sb.WriteString("- [Calling actions](#calling-actions)\n")
	for _, c := range categories {
		fmt.Fprintf(&sb, "- [%s](#%s)\n", c, strings.ToLower(strings.ReplaceAll(c, " ", "-")))
	}
	sb.WriteString("\n")

	sb.WriteString("## Calling actions\n\n")
	sb.WriteString("Over HTTP, POST a JSON body to `/api/tools` with an API key:\n\n")
	sb.WriteString("```json\n{\"action\": \"latest\", \"identity_key\": \"<uuid>\", \"params\": {\"n\": 10}}\n```\n\n")
	fmt.Fprintf(&sb, "Over MCP, each action is the tool `%s<action>` and takes the same arguments plus `identity_key`.\n\n", MCPToolPrefix)
	sb.WriteString("Omit `identity_key` on the first call. The response carries a new key and, until a mailbox is bound to it, `requires_login: true` with a `login_url` to open in a browser.\n\n")

	for _, c := range categories {
		fmt.Fprintf(&sb, "## %s\n\n", c)
		for _, tool := range byCategory[c] {
			sb.WriteString(generateToolMarkdown(tool))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func categoryFor(a common.Action) string {
	if !a.NeedsCredential {
		return "Account Tools"
	}
	return "Mailbox Tools"
}

func generateToolMarkdown(tool mcp.Tool) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "### %s\n\n", tool.Name)
	if tool.Description != "" {
		fmt.Fprintf(&sb, "%s\n\n", tool.Description)
	}

	if len(tool.InputSchema.Properties) > 0 {
		sb.WriteString("**Arguments:**\n")

		propNames := make([]string, 0, len(tool.InputSchema.Properties))
		for name := range tool.InputSchema.Properties {
			propNames = append(propNames, name)
		}
		sort.Strings(propNames)

		for _, name := range propNames {
			propMap, ok := tool.InputSchema.Properties[name].(map[string]any)
			if !ok {
				continue
			}
			requiredStr := "optional"
			if slices.Contains(tool.InputSchema.Required, name) {
				requiredStr = "required"
			}

			fmt.Fprintf(&sb, "- `%s` (%s, %s): ", name, getPropertyType(propMap), requiredStr)
			if desc, ok := propMap["description"].(string); ok {
				sb.WriteString(desc)
			} else {
				fmt.Fprintf(&sb, "%s parameter", getPropertyType(propMap))
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func getPropertyType(prop map[string]any) string {
	if t, ok := prop["type"].(string); ok {
		return t
	}
	return "any"
}
