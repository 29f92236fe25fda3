// Package mcpserve exposes the tools of an [mcp.Host] to external MCP
// clients over the Streamable HTTP transport of the official MCP Go SDK.
//
// The tool set is snapshotted when the server is built; the registry is
// static after startup. Every call is routed through [mcp.Host.ExecuteTool]
// so schema validation, timeouts and health tracking apply to external
// callers exactly as they do to the agent.
package mcpserve

import (
	"context"
	"fmt"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/lybot/internal/mcp"
	"github.com/MrWong99/lybot/internal/observe"
	"github.com/MrWong99/lybot/pkg/provider/llm"
)

// serverName is reported to clients during initialization.
const serverName = "lybot"

// NewServer builds an MCP server offering every tool currently registered
// on host.
func NewServer(host mcp.Host, version string) *mcpsdk.Server {
	srv := mcpsdk.NewServer(&mcpsdk.Implementation{Name: serverName, Version: version}, nil)
	for _, def := range host.Tools() {
		srv.AddTool(sdkTool(def), callHandler(host, def.Name))
	}
	return srv
}

// Handler returns an http.Handler speaking the Streamable HTTP transport.
// Mount it at /mcp.
func Handler(host mcp.Host, version string) http.Handler {
	srv := NewServer(host, version)
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return srv }, nil)
}

// sdkTool converts a tool definition into its MCP form. Latency hints travel
// in _meta so another lybot host importing this server keeps them.
func sdkTool(def llm.ToolDefinition) *mcpsdk.Tool {
	schema := def.Parameters
	if schema == nil {
		schema = map[string]any{"type": "object"}
	}
	t := &mcpsdk.Tool{
		Name:        def.Name,
		Description: def.Description,
		InputSchema: schema,
	}
	if def.EstimatedDurationMs > 0 || def.MaxDurationMs > 0 {
		t.Meta = mcpsdk.Meta{
			"estimated_duration_ms": def.EstimatedDurationMs,
			"max_duration_ms":       def.MaxDurationMs,
		}
	}
	if def.Idempotent {
		t.Annotations = &mcpsdk.ToolAnnotations{ReadOnlyHint: true, IdempotentHint: true}
	}
	return t
}

func callHandler(host mcp.Host, name string) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		args := "{}"
		if req.Params != nil && len(req.Params.Arguments) > 0 {
			args = string(req.Params.Arguments)
		}
		res, err := host.ExecuteTool(ctx, name, args)
		if err != nil {
			observe.Logger(ctx).Warn("mcp call failed", "tool", name, "err", err)
			return nil, fmt.Errorf("mcpserve: %s: %w", name, err)
		}
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: res.Content}},
			IsError: res.IsError,
		}, nil
	}
}
