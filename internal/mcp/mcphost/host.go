// Package mcphost provides the concrete implementation of the [mcp.Host]
// interface.
//
// Built-in tools run in-process; external tools are reached through the
// official MCP Go SDK (github.com/modelcontextprotocol/go-sdk) over stdio or
// streamable HTTP. Every call is validated against the tool's input schema
// with github.com/google/jsonschema-go, bounded by the tool's declared
// maximum duration and recorded in a rolling latency window.
//
// Typical usage:
//
//	h := mcphost.New(mcphost.WithMetrics(metrics))
//
//	// Register the built-in tools.
//	err := h.RegisterTools(legislators.NewTools(client, norm)...)
//
//	// Import tools from an external MCP server.
//	err = h.RegisterServer(ctx, mcp.ServerConfig{
//	    Name:      "search",
//	    Transport: mcp.TransportStreamableHTTP,
//	    URL:       "http://localhost:9000/mcp",
//	})
//
//	result, err := h.ExecuteTool(ctx, "get_legislators", `{"party":"民進黨"}`)
//
//	h.Close()
package mcphost

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/lybot/internal/mcp"
	"github.com/MrWong99/lybot/internal/mcp/tools"
	"github.com/MrWong99/lybot/internal/observe"
	"github.com/MrWong99/lybot/pkg/provider/llm"
)

const (
	// defaultWindowSize is the default capacity of each tool's rolling window.
	defaultWindowSize = 100

	// defaultTimeout bounds tools that declare no maximum duration.
	defaultTimeout = 60 * time.Second

	// degradedErrorRate is the error rate above which a tool is reported
	// as degraded.
	degradedErrorRate = 0.3
)

// toolEntry holds all metadata for a single registered tool.
type toolEntry struct {
	def           llm.ToolDefinition
	serverName    string
	declaredP50Ms int64
	declaredMaxMs int64
	schema        *jsonschema.Resolved
	measurements  *rollingWindow

	// builtinFn is non-nil for in-process tools.
	builtinFn tools.Handler
}

// serverConn holds a live connection to an external MCP server.
type serverConn struct {
	session *mcpsdk.ClientSession
}

// Host is the concrete implementation of [mcp.Host].
//
// The zero value is NOT usable; create instances with [New].
type Host struct {
	mu      sync.RWMutex
	tools   map[string]toolEntry  // key: tool name
	servers map[string]serverConn // key: server name

	// client is reused across all server connections.
	client *mcpsdk.Client

	timeout time.Duration
	metrics *observe.Metrics
}

// Compile-time check: Host must implement mcp.Host.
var _ mcp.Host = (*Host)(nil)

// Option configures a [Host].
type Option func(*Host)

// WithDefaultTimeout sets the execution bound for tools that declare no
// MaxDurationMs. The default is 60 seconds.
func WithDefaultTimeout(d time.Duration) Option {
	return func(h *Host) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithMetrics records tool calls and latencies on m instead of the default
// instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Host) { h.metrics = m }
}

// New creates and returns a ready-to-use Host.
func New(opts ...Option) *Host {
	h := &Host{
		tools:   make(map[string]toolEntry),
		servers: make(map[string]serverConn),
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "lybot-mcphost", Version: "1.0.0"},
			nil,
		),
		timeout: defaultTimeout,
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// ---- external servers ----

// bearerTransport adds a static Authorization header to every request.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(req)
}

// RegisterServer connects to the MCP server described by cfg and imports its
// tool catalogue. If a server with the same Name is already registered, the
// old connection is closed and its tools replaced. Imported tools never
// replace built-in tools of the same name; such tools are skipped with a
// warning.
func (h *Host) RegisterServer(ctx context.Context, cfg mcp.ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("mcp host: server config must have a non-empty name")
	}
	if !cfg.Transport.IsValid() {
		return fmt.Errorf("mcp host: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case mcp.TransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return fmt.Errorf("mcp host: stdio server %q requires a non-empty Command", cfg.Name)
		}
		cmd := exec.Command(executable, args...)
		if len(cfg.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range cfg.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case mcp.TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("mcp host: streamable-http server %q requires a non-empty URL", cfg.Name)
		}
		st := &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
		if cfg.Token != "" {
			st.HTTPClient = &http.Client{Transport: &bearerTransport{token: cfg.Token, base: http.DefaultTransport}}
		}
		transport = st
	}

	session, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("mcp host: connect to server %q: %w", cfg.Name, err)
	}

	var discovered []toolEntry
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("mcp host: list tools of server %q: %w", cfg.Name, err)
		}
		entry, err := buildToolEntry(*tool, cfg.Name)
		if err != nil {
			observe.Logger(ctx).Warn("skipping external tool", "server", cfg.Name, "tool", tool.Name, "err", err)
			continue
		}
		discovered = append(discovered, entry)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.servers[cfg.Name]; ok {
		_ = old.session.Close()
		for name, t := range h.tools {
			if t.serverName == cfg.Name {
				delete(h.tools, name)
			}
		}
	}
	h.servers[cfg.Name] = serverConn{session: session}

	for _, entry := range discovered {
		if existing, ok := h.tools[entry.def.Name]; ok && existing.serverName != cfg.Name {
			observe.Logger(ctx).Warn("external tool shadows a registered tool; skipped",
				"server", cfg.Name, "tool", entry.def.Name)
			continue
		}
		h.tools[entry.def.Name] = entry
	}
	observe.Logger(ctx).Info("mcp server registered", "server", cfg.Name, "tools", len(discovered))
	return nil
}

// buildToolEntry converts an SDK Tool into an internal toolEntry.
func buildToolEntry(t mcpsdk.Tool, serverName string) (toolEntry, error) {
	p50, maxMs := extractLatencyHints(t)
	params := schemaToMap(t.InputSchema)
	resolved, err := compileSchema(params)
	if err != nil {
		return toolEntry{}, err
	}
	return toolEntry{
		def: llm.ToolDefinition{
			Name:                t.Name,
			Description:         t.Description,
			Parameters:          params,
			EstimatedDurationMs: int(p50),
			MaxDurationMs:       int(maxMs),
		},
		serverName:    serverName,
		declaredP50Ms: p50,
		declaredMaxMs: maxMs,
		schema:        resolved,
		measurements:  newRollingWindow(defaultWindowSize),
	}, nil
}

// extractLatencyHints reads estimated_duration_ms and max_duration_ms from a
// tool's metadata or from a JSON object embedded in its description.
func extractLatencyHints(t mcpsdk.Tool) (p50Ms, maxMs int64) {
	if t.Meta != nil {
		p50Ms = extractInt64(t.Meta, "estimated_duration_ms")
		maxMs = extractInt64(t.Meta, "max_duration_ms")
	}
	if p50Ms == 0 {
		p50Ms, maxMs = parseLatencyFromDescription(t.Description)
	}
	return p50Ms, maxMs
}

// extractInt64 retrieves an integer value from a map by key.
func extractInt64(m map[string]any, key string) int64 {
	switch n := m[key].(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	}
	return 0
}

// parseLatencyFromDescription unmarshals a JSON blob embedded in a tool
// description to extract latency hints.
func parseLatencyFromDescription(desc string) (int64, int64) {
	start := strings.Index(desc, "{")
	end := strings.LastIndex(desc, "}")
	if start < 0 || end < start {
		return 0, 0
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(desc[start:end+1]), &m); err != nil {
		return 0, 0
	}
	return extractInt64(m, "estimated_duration_ms"), extractInt64(m, "max_duration_ms")
}

// schemaToMap converts any schema value to a map[string]any.
func schemaToMap(schema any) map[string]any {
	fallback := map[string]any{"type": "object"}
	if schema == nil {
		return fallback
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return fallback
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return fallback
	}
	return m
}

// ---- registry ----

// Tools returns every registered tool definition, sorted by name.
func (h *Host) Tools() []llm.ToolDefinition {
	h.mu.RLock()
	defs := make([]llm.ToolDefinition, 0, len(h.tools))
	for _, e := range h.tools {
		defs = append(defs, e.def)
	}
	h.mu.RUnlock()

	slices.SortFunc(defs, func(a, b llm.ToolDefinition) int { return cmp.Compare(a.Name, b.Name) })
	return defs
}

// Health reports per-tool latency and error statistics, sorted by name.
func (h *Host) Health() []mcp.ToolHealth {
	h.mu.RLock()
	out := make([]mcp.ToolHealth, 0, len(h.tools))
	for name, e := range h.tools {
		th := mcp.ToolHealth{
			Name:          name,
			DeclaredP50Ms: e.declaredP50Ms,
			MeasuredP50Ms: e.measurements.P50(),
			MeasuredP99Ms: e.measurements.P99(),
			CallCount:     e.measurements.Count(),
			ErrorRate:     e.measurements.ErrorRate(),
		}
		if e.serverName != builtinServerName {
			th.Server = e.serverName
		}
		th.Degraded = th.ErrorRate > degradedErrorRate
		out = append(out, th)
	}
	h.mu.RUnlock()

	slices.SortFunc(out, func(a, b mcp.ToolHealth) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// ---- execution ----

// ExecuteTool validates args against the tool's schema and runs the tool
// under its timeout. Validation failures, handler errors and timeouts are
// returned as results with IsError set so the model can correct itself.
func (h *Host) ExecuteTool(ctx context.Context, name, args string) (*mcp.ToolResult, error) {
	h.mu.RLock()
	entry, ok := h.tools[name]
	h.mu.RUnlock()
	if !ok {
		h.metrics.RecordToolCall(ctx, name, "unknown")
		return nil, fmt.Errorf("%w: %q", mcp.ErrToolNotFound, name)
	}

	ctx, span := observe.StartSpan(ctx, "tool."+name)
	start := time.Now()

	result, status, err := h.execute(ctx, entry, args)

	elapsed := time.Since(start)
	entry.measurements.Record(elapsed.Milliseconds(), status != "ok")
	h.metrics.RecordToolCall(ctx, name, status)
	h.metrics.ToolExecutionDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("tool", name)))

	if err != nil {
		observe.EndSpan(span, err)
		return nil, err
	}
	if result.IsError {
		observe.Logger(ctx).Debug("tool returned an error", "tool", name, "status", status, "detail", result.Content)
		observe.EndSpan(span, errors.New(status))
	} else {
		observe.EndSpan(span, nil)
	}
	result.DurationMs = elapsed.Milliseconds()
	return result, nil
}

// execute returns the result, a status label for metrics and, for
// cancellation or transport failures, an error.
func (h *Host) execute(ctx context.Context, entry toolEntry, args string) (*mcp.ToolResult, string, error) {
	instance, err := validate(entry.schema, args)
	if err != nil {
		return &mcp.ToolResult{
			Content: fmt.Sprintf("%v for tool %q: %v", mcp.ErrInvalidArguments, entry.def.Name, err),
			IsError: true,
		}, "invalid", nil
	}

	limit := h.timeout
	if entry.declaredMaxMs > 0 {
		limit = time.Duration(entry.declaredMaxMs) * time.Millisecond
	}
	tctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	var result *mcp.ToolResult
	if entry.builtinFn != nil {
		result, err = executeBuiltin(tctx, entry, args)
	} else {
		result, err = h.executeMCPTool(tctx, entry, instance)
	}

	switch {
	case ctx.Err() != nil:
		return nil, "cancelled", ctx.Err()
	case errors.Is(tctx.Err(), context.DeadlineExceeded):
		return &mcp.ToolResult{
			Content: fmt.Sprintf("tool %q timed out after %s", entry.def.Name, limit),
			IsError: true,
		}, "timeout", nil
	case err != nil:
		return nil, "error", err
	case result.IsError:
		return result, "error", nil
	}
	return result, "ok", nil
}

// executeBuiltin calls the in-process handler. Handler errors become error
// results carrying the error text.
func executeBuiltin(ctx context.Context, entry toolEntry, args string) (*mcp.ToolResult, error) {
	output, err := entry.builtinFn(ctx, args)
	if err != nil {
		return &mcp.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	return &mcp.ToolResult{Content: output}, nil
}

// executeMCPTool routes the call to the tool's server session.
func (h *Host) executeMCPTool(ctx context.Context, entry toolEntry, args map[string]any) (*mcp.ToolResult, error) {
	h.mu.RLock()
	conn, ok := h.servers[entry.serverName]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("mcp host: server %q not found for tool %q", entry.serverName, entry.def.Name)
	}

	callResult, err := conn.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      entry.def.Name,
		Arguments: args,
	})
	if err != nil {
		return nil, fmt.Errorf("mcp host: call to tool %q failed: %w", entry.def.Name, err)
	}

	var sb strings.Builder
	for _, c := range callResult.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return &mcp.ToolResult{Content: sb.String(), IsError: callResult.IsError}, nil
}

// Close shuts down all server connections and clears the registry.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	for name, conn := range h.servers {
		if err := conn.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mcp host: close server %q: %w", name, err))
		}
		delete(h.servers, name)
	}
	h.tools = make(map[string]toolEntry)
	return errors.Join(errs...)
}

// splitCommand splits a command string into executable and arguments.
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
