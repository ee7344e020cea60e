package api

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/TaterTotterson/Tater/internal/orchestrator"
	"github.com/TaterTotterson/Tater/internal/toolreg"
)

const mcpUser = "mcp"

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Chat        Chatter
	Tools       *toolreg.Registry
	Settings    ToolSettings
	ToolTimeout time.Duration
	// Channel names the conversation MCP clients share; "default" when empty.
	Channel string
	Version string
}

func (d MCPDeps) channel() string {
	if d.Channel == "" {
		return "default"
	}
	return d.Channel
}

// NewMCPServer exposes every enabled registry tool that applies to the mcp
// platform, plus a chat tool that runs a full assistant turn.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"tater",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithInstructions("Tater: a self-hosted assistant with feed watching, memory recall and web tools."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("chat",
			mcp.WithDescription("Send a message to the assistant and return its reply. The assistant may use its own tools."),
			mcp.WithString("message", mcp.Description("The message to send"), mcp.Required()),
		),
		mcpChat(deps),
	)

	ctx := context.Background()
	for _, d := range deps.Tools.ForPlatform(toolreg.PlatformMCP) {
		if !deps.Settings.ToolEnabled(ctx, d.Name) {
			continue
		}
		s.AddTool(mcp.NewTool(d.Name, mcpToolOptions(d)...), mcpRegistryTool(deps, d.Name))
	}

	return s
}

// mcpToolOptions translates a descriptor's parameter schema into MCP tool
// options.
func mcpToolOptions(d toolreg.Descriptor) []mcp.ToolOption {
	opts := []mcp.ToolOption{mcp.WithDescription(d.Description)}
	schema := d.Spec().Parameters

	required := make(map[string]bool, len(schema.Required))
	for _, r := range schema.Required {
		required[r] = true
	}
	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := schema.Properties[name]
		var props []mcp.PropertyOption
		if p.Description != "" {
			props = append(props, mcp.Description(p.Description))
		}
		if required[name] {
			props = append(props, mcp.Required())
		}
		switch p.Type {
		case "number", "integer":
			opts = append(opts, mcp.WithNumber(name, props...))
		case "boolean":
			opts = append(opts, mcp.WithBoolean(name, props...))
		case "array":
			if p.Items != nil && p.Items.Type == "string" {
				props = append(props, mcp.WithStringItems())
			}
			opts = append(opts, mcp.WithArray(name, props...))
		default:
			if len(p.Enum) > 0 {
				props = append(props, mcp.Enum(p.Enum...))
			}
			opts = append(opts, mcp.WithString(name, props...))
		}
	}
	return opts
}

func mcpRegistryTool(deps MCPDeps, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if !deps.Settings.ToolEnabled(ctx, name) {
			return mcpError(fmt.Sprintf("tool %s is disabled", name)), nil
		}
		d, args, err := deps.Tools.Resolve(name, toolreg.PlatformMCP, req.GetArguments())
		if err != nil {
			return mcpError(err.Error()), nil
		}

		channel := deps.channel()
		out, err := toolreg.Execute(ctx, d, toolreg.Invocation{
			Args:         args,
			Platform:     toolreg.PlatformMCP,
			Channel:      channel,
			User:         mcpUser,
			Conversation: toolreg.PlatformMCP + ":" + channel,
		}, deps.ToolTimeout)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText(out), nil
	}
}

func mcpChat(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil || message == "" {
			return mcpError("message is required"), nil
		}

		res, err := deps.Chat.Run(ctx, orchestrator.Request{
			Platform: toolreg.PlatformMCP,
			Channel:  deps.channel(),
			User:     mcpUser,
			Message:  message,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("chat failed: %v", err)), nil
		}
		return mcpText(res.Reply), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
