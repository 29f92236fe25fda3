package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/lybot/pkg/provider/llm"
)

func TestConvertMessage_Roles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		msg   llm.Message
		check func(t *testing.T, m llm.Message)
	}{
		{
			name: "system",
			msg:  llm.Message{Role: llm.RoleSystem, Content: "你是立法院研究助理。"},
			check: func(t *testing.T, m llm.Message) {
				p, err := convertMessage(m)
				if err != nil || p.OfSystem == nil {
					t.Fatalf("expected OfSystem, err=%v", err)
				}
			},
		},
		{
			name: "user",
			msg:  llm.Message{Role: llm.RoleUser, Content: "誰是台北市第七選區立委？"},
			check: func(t *testing.T, m llm.Message) {
				p, err := convertMessage(m)
				if err != nil || p.OfUser == nil {
					t.Fatalf("expected OfUser, err=%v", err)
				}
			},
		},
		{
			name: "assistant",
			msg:  llm.Message{Role: llm.RoleAssistant, Content: "徐巧芯"},
			check: func(t *testing.T, m llm.Message) {
				p, err := convertMessage(m)
				if err != nil || p.OfAssistant == nil {
					t.Fatalf("expected OfAssistant, err=%v", err)
				}
			},
		},
		{
			name: "tool",
			msg:  llm.Message{Role: llm.RoleTool, Content: `{"total":1}`, ToolCallID: "call_1"},
			check: func(t *testing.T, m llm.Message) {
				p, err := convertMessage(m)
				if err != nil || p.OfTool == nil {
					t.Fatalf("expected OfTool, err=%v", err)
				}
				if p.OfTool.ToolCallID != "call_1" {
					t.Errorf("ToolCallID = %q, want call_1", p.OfTool.ToolCallID)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.check(t, tt.msg)
		})
	}
}

func TestConvertMessage_AssistantWithToolCalls(t *testing.T) {
	t.Parallel()

	msg := llm.Message{
		Role: llm.RoleAssistant,
		ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: "get_legislator_by_constituency", Arguments: `{"constituency":"台北市第7選區"}`},
		},
	}
	p, err := convertMessage(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.OfAssistant == nil || len(p.OfAssistant.ToolCalls) != 1 {
		t.Fatalf("expected one assistant tool call, got %+v", p.OfAssistant)
	}
	tc := p.OfAssistant.ToolCalls[0]
	if tc.ID != "call_1" || tc.Function.Name != "get_legislator_by_constituency" {
		t.Errorf("unexpected tool call %+v", tc)
	}
	if tc.Function.Arguments != `{"constituency":"台北市第7選區"}` {
		t.Errorf("unexpected arguments: %s", tc.Function.Arguments)
	}
}

func TestConvertMessage_UnknownRole(t *testing.T) {
	t.Parallel()

	if _, err := convertMessage(llm.Message{Role: "narrator"}); err == nil {
		t.Fatal("expected error for unknown role, got nil")
	}
}

func TestBuildParams_SystemPromptAndTools(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "gemini-2.5-pro"}
	params, err := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "sys",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		Tools: []llm.ToolDefinition{{
			Name:        "get_legislators",
			Description: "list legislators",
			Parameters:  map[string]any{"type": "object"},
		}},
		MaxTokens: 256,
	})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("expected system + user messages, got %d", len(params.Messages))
	}
	if params.Messages[0].OfSystem == nil {
		t.Error("first message should be the system prompt")
	}
	if len(params.Tools) != 1 || params.Tools[0].Function.Name != "get_legislators" {
		t.Errorf("unexpected tools: %+v", params.Tools)
	}
}

func TestModelCapabilities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model       string
		wantContext int
		wantTools   bool
	}{
		{model: "gemini-2.5-pro", wantContext: 1_048_576, wantTools: true},
		{model: "gemini-2.0-flash", wantContext: 1_048_576, wantTools: true},
		{model: "gpt-4o-mini", wantContext: 128_000, wantTools: true},
		{model: "gpt-4.1", wantContext: 1_047_576, wantTools: true},
		{model: "gpt-4", wantContext: 8_192, wantTools: true},
		{model: "o1-mini", wantContext: 128_000, wantTools: false},
		{model: "my-custom-model", wantContext: 128_000, wantTools: true},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			t.Parallel()
			caps := modelCapabilities(tt.model)
			if caps.ContextWindow != tt.wantContext {
				t.Errorf("ContextWindow = %d, want %d", caps.ContextWindow, tt.wantContext)
			}
			if caps.SupportsToolCalling != tt.wantTools {
				t.Errorf("SupportsToolCalling = %v, want %v", caps.SupportsToolCalling, tt.wantTools)
			}
			if !caps.SupportsStreaming || caps.MaxOutputTokens <= 0 {
				t.Errorf("unexpected caps %+v", caps)
			}
		})
	}
}

func TestToolCallAccumulator_JoinsFragmentsByIndex(t *testing.T) {
	t.Parallel()

	acc := newToolCallAccumulator()
	acc.add(1, "call_b", "search_bills", `{"query":`)
	acc.add(0, "call_a", "get_legislators", `{}`)
	acc.add(1, "", "", `"能源"}`)

	calls := acc.calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].ID != "call_a" || calls[1].ID != "call_b" {
		t.Errorf("calls not ordered by index: %+v", calls)
	}
	if calls[1].Arguments != `{"query":"能源"}` {
		t.Errorf("arguments = %q", calls[1].Arguments)
	}
}

func TestToolCallAccumulator_Empty(t *testing.T) {
	t.Parallel()

	if calls := newToolCallAccumulator().calls(); calls != nil {
		t.Errorf("expected nil, got %+v", calls)
	}
}

func TestCountTokens_Estimation(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "gpt-4o"}
	count, err := p.CountTokens([]llm.Message{{Role: llm.RoleUser, Content: "Hello world"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 11 ASCII chars -> 3 tokens, plus 4 overhead.
	if count != 7 {
		t.Errorf("count = %d, want 7", count)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty API key")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("sk-test", "gemini-2.5-pro",
		WithBaseURL("https://generativelanguage.googleapis.com/v1beta/openai/"),
		WithOrganization("org-123"),
	); err != nil {
		t.Fatalf("unexpected error with valid options: %v", err)
	}
}

func TestStreamCompletion_ReportsUsage(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		body string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		body = string(data)
		mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		frames := []string{
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"role":"assistant","content":"共51席"}}]}`,
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[],"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}}`,
		}
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)

	p, err := New("test-key", "gpt-4o-mini", WithBaseURL(srv.URL+"/v1/"))
	if err != nil {
		t.Fatal(err)
	}
	ch, err := p.StreamCompletion(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "民進黨有幾席？"}},
	})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}

	var (
		text  strings.Builder
		usage *llm.Usage
	)
	for c := range ch {
		if c.FinishReason == llm.FinishReasonError {
			t.Fatalf("stream error: %s", c.Text)
		}
		text.WriteString(c.Text)
		if c.Usage != nil {
			usage = c.Usage
		}
	}
	if text.String() != "共51席" {
		t.Errorf("text = %q", text.String())
	}
	if usage == nil || usage.PromptTokens != 12 || usage.CompletionTokens != 3 || usage.TotalTokens != 15 {
		t.Errorf("usage = %+v, want 12/3/15", usage)
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(body, `"include_usage":true`) {
		t.Errorf("request does not ask for usage: %s", body)
	}
}
