// Package mcp defines the tool host: the registry the agent and the MCP
// facade use to list and execute research tools.
//
// The host holds the built-in Legislative Yuan tools and, optionally, tools
// imported from external MCP servers. Every call is validated against the
// tool's JSON schema, bounded by the tool's declared maximum duration and
// measured for health reporting.
//
// Lifecycle:
//
//  1. Register the built-in tools and call [Host.RegisterServer] for each
//     configured external server.
//  2. Use [Host.Tools] to advertise the catalogue to the model.
//  3. Use [Host.ExecuteTool] to run tool calls.
//  4. Call [Host.Close] to release server connections.
//
// All methods must be safe for concurrent use.
package mcp

import (
	"context"
	"errors"

	"github.com/MrWong99/lybot/pkg/provider/llm"
)

var (
	// ErrToolNotFound is returned by [Host.ExecuteTool] for unknown tools.
	ErrToolNotFound = errors.New("mcp: tool not found")

	// ErrInvalidArguments marks tool arguments rejected by schema validation.
	ErrInvalidArguments = errors.New("mcp: invalid arguments")
)

// ServerConfig describes how to connect to a single external MCP server.
type ServerConfig struct {
	// Name is the human-readable identifier for this server.
	// Must be unique within a single [Host].
	Name string

	// Transport specifies the connection mechanism.
	Transport Transport

	// Command is the executable (and optional arguments) started when
	// Transport is [TransportStdio].
	Command string

	// URL is the endpoint used when Transport is [TransportStreamableHTTP].
	URL string

	// Token is an optional Bearer token for streamable-http servers.
	Token string

	// Env holds additional environment variables for stdio servers.
	Env map[string]string
}

// ToolResult holds the outcome of a single tool execution.
type ToolResult struct {
	// Content is the tool's textual output. For successful calls it is the
	// JSON result; when IsError is set it describes the failure in a form
	// the model can act on.
	Content string

	// IsError indicates an application-level failure: invalid arguments,
	// a handler error or a timeout.
	IsError bool

	// DurationMs is the wall-clock execution time in milliseconds.
	DurationMs int64
}

// ToolHealth captures the measured runtime behaviour of a single tool.
type ToolHealth struct {
	Name string `json:"name"`

	// Server is the external server the tool came from, empty for
	// built-in tools.
	Server string `json:"server,omitempty"`

	DeclaredP50Ms int64   `json:"declared_p50_ms"`
	MeasuredP50Ms int64   `json:"measured_p50_ms"`
	MeasuredP99Ms int64   `json:"measured_p99_ms"`
	CallCount     int     `json:"call_count"`
	ErrorRate     float64 `json:"error_rate"`

	// Degraded is set when more than 30% of recent calls failed.
	Degraded bool `json:"degraded"`
}

// Host is the tool registry and executor.
type Host interface {
	// RegisterServer connects to the MCP server described by cfg and imports
	// its tool catalogue. Re-registering a server name replaces its tools.
	RegisterServer(ctx context.Context, cfg ServerConfig) error

	// Tools returns every registered tool definition, sorted by name.
	Tools() []llm.ToolDefinition

	// ExecuteTool runs the named tool with JSON-encoded args.
	//
	// A non-nil *ToolResult is returned whenever the tool exists, even when
	// [ToolResult.IsError] is set. A Go error is returned for unknown tools
	// ([ErrToolNotFound]), cancellation of ctx and transport failures of
	// external servers.
	ExecuteTool(ctx context.Context, name, args string) (*ToolResult, error)

	// Health reports per-tool latency and error statistics, sorted by name.
	Health() []ToolHealth

	// Close shuts down all server connections.
	Close() error
}
