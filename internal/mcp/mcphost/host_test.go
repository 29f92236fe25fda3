package mcphost

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/lybot/internal/mcp"
	"github.com/MrWong99/lybot/internal/mcp/tools"
	"github.com/MrWong99/lybot/pkg/provider/llm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

// echoTool returns a tool that echoes its args back as the result. It
// requires a string "name" argument.
func echoTool(name string) tools.Tool {
	return tools.Tool{
		Definition: llm.ToolDefinition{
			Name:        name,
			Description: "echoes args",
			Parameters: tools.Object(map[string]any{
				"name": tools.String("立委姓名"),
			}, "name"),
		},
		Handler: func(_ context.Context, args string) (string, error) {
			return args, nil
		},
	}
}

// failTool returns a tool that always returns an error.
func failTool(name string) tools.Tool {
	return tools.Tool{
		Definition: llm.ToolDefinition{Name: name},
		Handler: func(_ context.Context, _ string) (string, error) {
			return "", fmt.Errorf("upstream unavailable")
		},
	}
}

// slowTool returns a tool that waits for its context and declares maxMs as
// its maximum duration.
func slowTool(name string, maxMs int64) tools.Tool {
	return tools.Tool{
		Definition: llm.ToolDefinition{Name: name, MaxDurationMs: int(maxMs)},
		Handler: func(ctx context.Context, _ string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
		DeclaredMax: maxMs,
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func toolNamed(defs []llm.ToolDefinition, name string) *llm.ToolDefinition {
	for i := range defs {
		if defs[i].Name == name {
			return &defs[i]
		}
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Registration
// ──────────────────────────────────────────────────────────────────────────────

func TestRegisterBuiltin(t *testing.T) {
	t.Parallel()
	h := New()
	defer h.Close()

	must(t, h.RegisterBuiltin(echoTool("get_legislator_details")))

	if toolNamed(h.Tools(), "get_legislator_details") == nil {
		t.Error("registered tool missing from Tools()")
	}
}

func TestRegisterBuiltinRejectsInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tool tools.Tool
	}{
		{
			name: "empty name",
			tool: tools.Tool{Handler: func(context.Context, string) (string, error) { return "", nil }},
		},
		{
			name: "nil handler",
			tool: tools.Tool{Definition: llm.ToolDefinition{Name: "no_handler"}},
		},
		{
			name: "bad schema",
			tool: tools.Tool{
				Definition: llm.ToolDefinition{
					Name:       "bad_schema",
					Parameters: map[string]any{"type": "object", "required": "name"},
				},
				Handler: func(context.Context, string) (string, error) { return "", nil },
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := New()
			defer h.Close()
			if err := h.RegisterBuiltin(tt.tool); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestRegisterToolsCollectsErrors(t *testing.T) {
	t.Parallel()
	h := New()
	defer h.Close()

	err := h.RegisterTools(echoTool("a"), tools.Tool{}, echoTool("b"))
	if err == nil {
		t.Fatal("expected error for the unnamed tool")
	}
	if got := len(h.Tools()); got != 2 {
		t.Errorf("Tools() = %d entries, want 2", got)
	}
}

func TestToolsSortedByName(t *testing.T) {
	t.Parallel()
	h := New()
	defer h.Close()

	for _, name := range []string{"search_bills", "get_legislators", "rank_legislators"} {
		must(t, h.RegisterBuiltin(echoTool(name)))
	}

	got := h.Tools()
	want := []string{"get_legislators", "rank_legislators", "search_bills"}
	if len(got) != len(want) {
		t.Fatalf("Tools() = %d entries, want %d", len(got), len(want))
	}
	for i, name := range want {
		if got[i].Name != name {
			t.Errorf("Tools()[%d] = %q, want %q", i, got[i].Name, name)
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Execution
// ──────────────────────────────────────────────────────────────────────────────

func TestExecuteBuiltin(t *testing.T) {
	t.Parallel()
	h := New()
	defer h.Close()
	must(t, h.RegisterBuiltin(echoTool("echo")))

	res, err := h.ExecuteTool(context.Background(), "echo", `{"name":"王小明"}`)
	if err != nil {
		t.Fatalf("ExecuteTool: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}
	if res.Content != `{"name":"王小明"}` {
		t.Errorf("Content = %q", res.Content)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	t.Parallel()
	h := New()
	defer h.Close()

	_, err := h.ExecuteTool(context.Background(), "missing", "{}")
	if !errors.Is(err, mcp.ErrToolNotFound) {
		t.Errorf("err = %v, want ErrToolNotFound", err)
	}
}

func TestExecuteValidatesArguments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args string
	}{
		{name: "missing required", args: `{}`},
		{name: "wrong type", args: `{"name":42}`},
		{name: "not an object", args: `["王小明"]`},
		{name: "malformed", args: `{"name":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := New()
			defer h.Close()

			var called atomic.Bool
			tool := echoTool("echo")
			tool.Handler = func(context.Context, string) (string, error) {
				called.Store(true)
				return "", nil
			}
			must(t, h.RegisterBuiltin(tool))

			res, err := h.ExecuteTool(context.Background(), "echo", tt.args)
			if err != nil {
				t.Fatalf("ExecuteTool: %v", err)
			}
			if !res.IsError {
				t.Error("expected an error result")
			}
			if !strings.Contains(res.Content, "invalid arguments") {
				t.Errorf("Content = %q, want invalid arguments message", res.Content)
			}
			if called.Load() {
				t.Error("handler must not run for invalid arguments")
			}
		})
	}
}

func TestExecuteHandlerError(t *testing.T) {
	t.Parallel()
	h := New()
	defer h.Close()
	must(t, h.RegisterBuiltin(failTool("fail")))

	res, err := h.ExecuteTool(context.Background(), "fail", "")
	if err != nil {
		t.Fatalf("ExecuteTool: %v", err)
	}
	if !res.IsError || res.Content != "upstream unavailable" {
		t.Errorf("result = %+v, want error result with handler message", res)
	}
}

func TestExecuteTimeout(t *testing.T) {
	t.Parallel()
	h := New()
	defer h.Close()
	must(t, h.RegisterBuiltin(slowTool("slow", 50)))

	start := time.Now()
	res, err := h.ExecuteTool(context.Background(), "slow", "{}")
	if err != nil {
		t.Fatalf("ExecuteTool: %v", err)
	}
	if !res.IsError || !strings.Contains(res.Content, "timed out") {
		t.Errorf("result = %+v, want timeout error result", res)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout took %s", elapsed)
	}
}

func TestExecuteDefaultTimeout(t *testing.T) {
	t.Parallel()
	h := New(WithDefaultTimeout(30 * time.Millisecond))
	defer h.Close()
	must(t, h.RegisterBuiltin(slowTool("slow", 0)))

	res, err := h.ExecuteTool(context.Background(), "slow", "{}")
	if err != nil {
		t.Fatalf("ExecuteTool: %v", err)
	}
	if !res.IsError || !strings.Contains(res.Content, "timed out") {
		t.Errorf("result = %+v, want timeout error result", res)
	}
}

func TestExecuteParentCancelled(t *testing.T) {
	t.Parallel()
	h := New()
	defer h.Close()
	must(t, h.RegisterBuiltin(slowTool("slow", 5000)))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := h.ExecuteTool(ctx, "slow", "{}")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Health
// ──────────────────────────────────────────────────────────────────────────────

func TestHealthMarksFlakyToolDegraded(t *testing.T) {
	t.Parallel()
	h := New()
	defer h.Close()

	var n atomic.Int64
	flaky := tools.Tool{
		Definition:  llm.ToolDefinition{Name: "flaky"},
		DeclaredP50: 100,
		Handler: func(context.Context, string) (string, error) {
			if n.Add(1)%2 == 0 {
				return "", errors.New("fail")
			}
			return "ok", nil
		},
	}
	must(t, h.RegisterBuiltin(flaky))
	must(t, h.RegisterBuiltin(echoTool("steady")))

	ctx := context.Background()
	for range 20 {
		if _, err := h.ExecuteTool(ctx, "flaky", "{}"); err != nil {
			t.Fatalf("ExecuteTool: %v", err)
		}
		if _, err := h.ExecuteTool(ctx, "steady", `{"name":"a"}`); err != nil {
			t.Fatalf("ExecuteTool: %v", err)
		}
	}

	health := h.Health()
	if len(health) != 2 {
		t.Fatalf("Health() = %d entries, want 2", len(health))
	}
	got := health[0]
	if got.Name != "flaky" {
		t.Fatalf("Health()[0].Name = %q, want flaky", got.Name)
	}
	if !got.Degraded {
		t.Error("flaky tool should be degraded at 50% error rate")
	}
	if got.CallCount != 20 {
		t.Errorf("CallCount = %d, want 20", got.CallCount)
	}
	if got.ErrorRate != 0.5 {
		t.Errorf("ErrorRate = %v, want 0.5", got.ErrorRate)
	}
	if got.DeclaredP50Ms != 100 {
		t.Errorf("DeclaredP50Ms = %d, want 100", got.DeclaredP50Ms)
	}
	if got.Server != "" {
		t.Errorf("Server = %q, want empty for builtin", got.Server)
	}
	if health[1].Degraded {
		t.Error("steady tool should not be degraded")
	}
}

func TestRegisterServerRejectsBadConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  mcp.ServerConfig
	}{
		{name: "empty name", cfg: mcp.ServerConfig{Transport: mcp.TransportStdio, Command: "x"}},
		{name: "unknown transport", cfg: mcp.ServerConfig{Name: "x", Transport: "carrier-pigeon"}},
		{name: "stdio without command", cfg: mcp.ServerConfig{Name: "x", Transport: mcp.TransportStdio}},
		{name: "http without url", cfg: mcp.ServerConfig{Name: "x", Transport: mcp.TransportStreamableHTTP}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := New()
			defer h.Close()
			if err := h.RegisterServer(context.Background(), tt.cfg); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestParseLatencyFromDescription(t *testing.T) {
	t.Parallel()

	tests := []struct {
		desc    string
		p50, mx int64
	}{
		{desc: `Search. {"estimated_duration_ms": 300, "max_duration_ms": 2000}`, p50: 300, mx: 2000},
		{desc: "no hints", p50: 0, mx: 0},
		{desc: "broken {json", p50: 0, mx: 0},
	}
	for _, tt := range tests {
		p50, mx := parseLatencyFromDescription(tt.desc)
		if p50 != tt.p50 || mx != tt.mx {
			t.Errorf("parseLatencyFromDescription(%q) = %d, %d; want %d, %d", tt.desc, p50, mx, tt.p50, tt.mx)
		}
	}
}

func TestClose(t *testing.T) {
	t.Parallel()
	h := New()
	must(t, h.RegisterBuiltin(echoTool("x")))

	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := len(h.Tools()); got != 0 {
		t.Errorf("tools after Close: %d, want 0", got)
	}
}

func TestConcurrentRegisterAndExecute(t *testing.T) {
	t.Parallel()
	h := New()
	defer h.Close()
	must(t, h.RegisterBuiltin(echoTool("echo")))

	done := make(chan struct{})
	go func() {
		for i := range 50 {
			_ = h.RegisterBuiltin(echoTool(fmt.Sprintf("tool_%d", i)))
		}
		close(done)
	}()

	for range 50 {
		h.Tools()
		h.Health()
		if _, err := h.ExecuteTool(context.Background(), "echo", `{"name":"a"}`); err != nil {
			t.Fatalf("ExecuteTool: %v", err)
		}
	}
	<-done
}
