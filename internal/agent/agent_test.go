package agent_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/lybot/internal/agent"
	agentmock "github.com/MrWong99/lybot/internal/agent/mock"
	"github.com/MrWong99/lybot/internal/mcp"
	mcpmock "github.com/MrWong99/lybot/internal/mcp/mock"
	"github.com/MrWong99/lybot/pkg/provider/llm"
	llmmock "github.com/MrWong99/lybot/pkg/provider/llm/mock"
)

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

func newAgent(t *testing.T, d agent.Decider, h mcp.Host, opts ...agent.Option) *agent.Agent {
	t.Helper()
	a, err := agent.New(d, h, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

// recorder collects events in order.
type recorder struct {
	mu     sync.Mutex
	events []agent.Event
}

func (r *recorder) sink(ev agent.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []agent.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]agent.EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func userTurn(text string) agent.Request {
	return agent.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: text}}}
}

func call(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Arguments: args}
}

func toolStep(calls ...llm.ToolCall) agentmock.Step {
	return agentmock.Step{Decision: agent.Decision{ToolCalls: calls}}
}

// ──────────────────────────────────────────────────────────────────────────────
// Run
// ──────────────────────────────────────────────────────────────────────────────

func TestRunFinalAnswer(t *testing.T) {
	t.Parallel()
	d := &agentmock.Decider{Script: []agentmock.Step{{Deltas: []string{"第 11 屆", "共 113 席"}}}}
	a := newAgent(t, d, &mcpmock.Host{})

	var rec recorder
	res, err := a.Run(context.Background(), userTurn("立委有幾席？"), rec.sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Content != "第 11 屆共 113 席" {
		t.Errorf("Content = %q", res.Content)
	}
	if res.FinishReason() != "stop" {
		t.Errorf("FinishReason = %q, want stop", res.FinishReason())
	}
	if len(res.Messages) != 1 || res.Messages[0].Role != llm.RoleAssistant {
		t.Fatalf("Messages = %+v", res.Messages)
	}
	if got := rec.kinds(); len(got) != 2 || got[0] != agent.EventContent {
		t.Errorf("event kinds = %v", got)
	}
	if d.Requests[0].SystemPrompt == "" {
		t.Error("system prompt not passed to the decider")
	}
}

func TestRunToolRound(t *testing.T) {
	t.Parallel()
	d := &agentmock.Decider{Script: []agentmock.Step{
		toolStep(call("c1", "get_party_seat_count", `{"party":"民主進步黨"}`)),
		{Deltas: []string{"民主進步黨有 51 席。"}},
	}}
	h := &mcpmock.Host{
		ToolsResult:       []llm.ToolDefinition{{Name: "get_party_seat_count"}},
		ExecuteToolResult: &mcp.ToolResult{Content: `{"席次":51}`},
	}
	a := newAgent(t, d, h)

	var rec recorder
	res, err := a.Run(context.Background(), userTurn("民進黨幾席？"), rec.sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []agent.EventKind{agent.EventToolCall, agent.EventToolResult, agent.EventContent}
	got := rec.kinds()
	if len(got) != len(want) {
		t.Fatalf("event kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %v, want %v", i, got[i], want[i])
		}
	}

	if len(res.Messages) != 3 {
		t.Fatalf("Messages = %d, want 3", len(res.Messages))
	}
	if len(res.Messages[0].ToolCalls) != 1 {
		t.Errorf("first message should carry the tool call: %+v", res.Messages[0])
	}
	tool := res.Messages[1]
	if tool.Role != llm.RoleTool || tool.ToolCallID != "c1" || tool.Content != `{"席次":51}` {
		t.Errorf("tool message = %+v", tool)
	}
	if res.FinishReason() != "tool_calls" {
		t.Errorf("FinishReason = %q, want tool_calls", res.FinishReason())
	}

	// The second decision sees the tool result.
	second := d.Requests[1].Messages
	if last := second[len(second)-1]; last.Role != llm.RoleTool || last.ToolCallID != "c1" {
		t.Errorf("second decision last message = %+v", last)
	}
	if len(d.Requests[0].Tools) != 1 {
		t.Errorf("tools offered = %d, want 1", len(d.Requests[0].Tools))
	}
}

func TestRunParallelToolsKeepCallOrder(t *testing.T) {
	t.Parallel()
	d := &agentmock.Decider{Script: []agentmock.Step{
		toolStep(call("a", "slow", "{}"), call("b", "fast", "{}"), call("c", "fast", "{}")),
		{Deltas: []string{"done"}},
	}}
	h := &mcpmock.Host{
		ExecuteToolFunc: func(_ context.Context, name, _ string) (*mcp.ToolResult, error) {
			if name == "slow" {
				time.Sleep(30 * time.Millisecond)
			}
			return &mcp.ToolResult{Content: name}, nil
		},
	}
	a := newAgent(t, d, h, agent.WithMaxParallelTools(3))

	var rec recorder
	if _, err := a.Run(context.Background(), userTurn("q"), rec.sink); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var ids []string
	for _, ev := range rec.events {
		if ev.Kind == agent.EventToolResult {
			ids = append(ids, ev.ToolCall.ID)
		}
	}
	if strings.Join(ids, ",") != "a,b,c" {
		t.Errorf("result order = %v, want a,b,c", ids)
	}
}

func TestRunToolErrorsBecomeToolMessages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		res  *mcp.ToolResult
		err  error
		want string
	}{
		{name: "error result", res: &mcp.ToolResult{Content: "lyapi: not found", IsError: true}, want: `{"error":"lyapi: not found"}`},
		{name: "unknown tool", err: mcp.ErrToolNotFound, want: `{"error":"unknown tool \"ghost\""}`},
		{name: "transport failure", err: errors.New("connection reset"), want: `{"error":"connection reset"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := &agentmock.Decider{Script: []agentmock.Step{
				toolStep(call("c1", "ghost", "{}")),
				{Deltas: []string{"查無資料"}},
			}}
			h := &mcpmock.Host{ExecuteToolResult: tt.res, ExecuteToolErr: tt.err}
			a := newAgent(t, d, h)

			var rec recorder
			res, err := a.Run(context.Background(), userTurn("q"), rec.sink)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if got := res.Messages[1].Content; got != tt.want {
				t.Errorf("tool message = %s, want %s", got, tt.want)
			}
			var sawError bool
			for _, ev := range rec.events {
				if ev.Kind == agent.EventToolResult && ev.IsError {
					sawError = true
				}
			}
			if !sawError {
				t.Error("tool result event should be marked as error")
			}
			if res.Content != "查無資料" {
				t.Errorf("turn should continue to a final answer, got %q", res.Content)
			}
		})
	}
}

func TestRunAssignsMissingToolCallIDs(t *testing.T) {
	t.Parallel()
	d := &agentmock.Decider{Script: []agentmock.Step{
		toolStep(call("", "get_legislators", "{}"), call("", "get_legislators", "{}")),
		{Deltas: []string{"ok"}},
	}}
	a := newAgent(t, d, &mcpmock.Host{})

	res, err := a.Run(context.Background(), userTurn("q"), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	calls := res.Messages[0].ToolCalls
	if calls[0].ID == "" || calls[1].ID == "" || calls[0].ID == calls[1].ID {
		t.Fatalf("ids = %q, %q; want distinct non-empty ids", calls[0].ID, calls[1].ID)
	}
	if res.Messages[1].ToolCallID != calls[0].ID || res.Messages[2].ToolCallID != calls[1].ID {
		t.Error("tool messages do not reference the assigned ids")
	}
}

func TestRunStopsAtMaxIterations(t *testing.T) {
	t.Parallel()
	loop := toolStep(call("c", "get_legislators", "{}"))
	d := &agentmock.Decider{Fallback: &loop}
	a := newAgent(t, d, &mcpmock.Host{}, agent.WithMaxIterations(3))

	res, err := a.Run(context.Background(), userTurn("q"), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if d.CallCount() != 3 {
		t.Errorf("decisions = %d, want 3", d.CallCount())
	}
	if res.Iterations != 3 {
		t.Errorf("Iterations = %d, want 3", res.Iterations)
	}
	last := res.Messages[len(res.Messages)-1]
	if last.Role != llm.RoleAssistant || !strings.Contains(last.Content, "上限") {
		t.Errorf("final message = %+v, want the iteration limit notice", last)
	}
	if !strings.HasSuffix(res.Content, last.Content) {
		t.Errorf("Content %q should end with the notice", res.Content)
	}
}

func TestRunModelProviderError(t *testing.T) {
	t.Parallel()
	boom := errors.New("503 from provider")
	d := &agentmock.Decider{Script: []agentmock.Step{{Err: boom}}}
	a := newAgent(t, d, &mcpmock.Host{})

	res, err := a.Run(context.Background(), userTurn("q"), nil)
	if res != nil {
		t.Errorf("result = %+v, want nil", res)
	}
	var mpe *agent.ModelProviderError
	if !errors.As(err, &mpe) {
		t.Fatalf("err = %v, want ModelProviderError", err)
	}
	if !errors.Is(err, boom) {
		t.Error("ModelProviderError should unwrap to the provider error")
	}
}

func TestRunCancelled(t *testing.T) {
	t.Parallel()
	d := &agentmock.Decider{Script: []agentmock.Step{{Deltas: []string{"部分"}, Block: true}}}
	a := newAgent(t, d, &mcpmock.Host{})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	res, err := a.Run(ctx, userTurn("q"), nil)
	if res != nil {
		t.Errorf("result = %+v, want nil", res)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	var mpe *agent.ModelProviderError
	if errors.As(err, &mpe) {
		t.Error("cancellation must not be reported as a provider failure")
	}
}

func TestRunUsesRequestTemperature(t *testing.T) {
	t.Parallel()
	d := &agentmock.Decider{Fallback: &agentmock.Step{Deltas: []string{"ok"}}}
	a := newAgent(t, d, &mcpmock.Host{}, agent.WithTemperature(0.7))

	req := userTurn("q")
	if _, err := a.Run(context.Background(), req, nil); err != nil {
		t.Fatal(err)
	}
	req.Temperature = 0.2
	if _, err := a.Run(context.Background(), req, nil); err != nil {
		t.Fatal(err)
	}
	if d.Requests[0].Temperature != 0.7 || d.Requests[1].Temperature != 0.2 {
		t.Errorf("temperatures = %v, %v", d.Requests[0].Temperature, d.Requests[1].Temperature)
	}
}

func TestNewRequiresDeciderAndHost(t *testing.T) {
	t.Parallel()
	if _, err := agent.New(nil, &mcpmock.Host{}); err == nil {
		t.Error("expected error for nil decider")
	}
	if _, err := agent.New(&agentmock.Decider{}, nil); err == nil {
		t.Error("expected error for nil host")
	}
}

func TestSystemPrompt(t *testing.T) {
	t.Parallel()
	if p := agent.SystemPrompt(0); !strings.Contains(p, "第 11 屆") {
		t.Error("default prompt should research the 11th term")
	}
	if p := agent.SystemPrompt(10); !strings.Contains(p, "第 10 屆") {
		t.Error("prompt should name the configured term")
	}
	if p := agent.SystemPrompt(0); !strings.Contains(p, "繁體中文") {
		t.Error("prompt should ask for Traditional Chinese answers")
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// LLM decider
// ──────────────────────────────────────────────────────────────────────────────

func TestLLMDecider(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		provider  *llmmock.Provider
		wantErr   bool
		content   string
		toolCalls int
	}{
		{
			name: "content",
			provider: &llmmock.Provider{StreamChunks: []llm.Chunk{
				{Text: "你好"}, {Text: "！", FinishReason: "stop"},
			}},
			content: "你好！",
		},
		{
			name: "tool calls",
			provider: &llmmock.Provider{StreamChunks: []llm.Chunk{
				{FinishReason: "tool_calls", ToolCalls: []llm.ToolCall{call("c1", "get_legislators", "{}")}},
			}},
			toolCalls: 1,
		},
		{
			name: "error chunk",
			provider: &llmmock.Provider{StreamChunks: []llm.Chunk{
				{Text: "半"}, {FinishReason: llm.FinishReasonError, Text: "quota exceeded"},
			}},
			wantErr: true,
		},
		{
			name:     "empty response",
			provider: &llmmock.Provider{StreamChunks: []llm.Chunk{{FinishReason: "stop"}}},
			wantErr:  true,
		},
		{
			name:     "start failure",
			provider: &llmmock.Provider{StreamErr: errors.New("dial tcp")},
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := agent.NewLLMDecider(tt.provider, agent.WithProviderName("mock"))

			var deltas []string
			dec, err := d.Decide(context.Background(), agent.DecideRequest{
				SystemPrompt: "sys",
				Messages:     []llm.Message{{Role: llm.RoleUser, Content: "q"}},
				OnDelta:      func(s string) { deltas = append(deltas, s) },
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if dec.Content != tt.content || strings.Join(deltas, "") != tt.content {
				t.Errorf("content = %q, deltas = %v, want %q", dec.Content, deltas, tt.content)
			}
			if len(dec.ToolCalls) != tt.toolCalls {
				t.Errorf("tool calls = %d, want %d", len(dec.ToolCalls), tt.toolCalls)
			}
			if got := tt.provider.StreamCalls[0].Req.SystemPrompt; got != "sys" {
				t.Errorf("SystemPrompt = %q", got)
			}
		})
	}
}

func TestAgentOverLLMDecider(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{StreamScript: [][]llm.Chunk{
		{{FinishReason: "tool_calls", ToolCalls: []llm.ToolCall{call("c1", "get_legislator_by_constituency", `{"constituency":"台北市第七選區"}`)}}},
		{{Text: "該選區立委為王小明。", FinishReason: "stop"}},
	}}
	h := &mcpmock.Host{ExecuteToolResult: &mcp.ToolResult{Content: `{"委員姓名":"王小明"}`}}
	a := newAgent(t, agent.NewLLMDecider(p), h)

	res, err := a.Run(context.Background(), userTurn("台北市第七選區的立委是誰？"), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Content != "該選區立委為王小明。" {
		t.Errorf("Content = %q", res.Content)
	}
	if p.StreamCallCount() != 2 {
		t.Errorf("stream calls = %d, want 2", p.StreamCallCount())
	}
	calls := h.Calls()
	if len(calls) == 0 || calls[len(calls)-1].Args[0] != "get_legislator_by_constituency" {
		t.Errorf("host calls = %+v", calls)
	}
}
