package chatapi_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/MrWong99/lybot/pkg/chatapi"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

func chunk(d chatapi.Delta) *chatapi.StreamResponse {
	return &chatapi.StreamResponse{Choices: []chatapi.StreamChoice{{Delta: d}}}
}

func finish(reason string) *chatapi.StreamResponse {
	return &chatapi.StreamResponse{Choices: []chatapi.StreamChoice{{FinishReason: chatapi.StringPtr(reason)}}}
}

func callFrag(index *int, id, name, args string) chatapi.Delta {
	return chatapi.Delta{ToolCalls: []chatapi.ToolCall{{
		Index:    index,
		ID:       id,
		Function: chatapi.FunctionCall{Name: name, Arguments: args},
	}}}
}

func addAll(t *testing.T, acc *chatapi.Accumulator, chunks ...*chatapi.StreamResponse) {
	t.Helper()
	for i, c := range chunks {
		if err := acc.Add(c); err != nil {
			t.Fatalf("Add(%d): %v", i, err)
		}
	}
}

// ─── tool call fragments ─────────────────────────────────────────────────────

func TestAccumulatorToolCallFragments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		chunks []*chatapi.StreamResponse
		want   []chatapi.ToolCall
	}{
		{
			name: "matched by id",
			chunks: []*chatapi.StreamResponse{
				chunk(callFrag(nil, "call_a", "get_legislator_by_constituency", `{"constituency":`)),
				chunk(callFrag(nil, "call_a", "", `"臺北市第7選舉區"}`)),
			},
			want: []chatapi.ToolCall{{ID: "call_a", Type: "function", Function: chatapi.FunctionCall{
				Name: "get_legislator_by_constituency", Arguments: `{"constituency":"臺北市第7選舉區"}`,
			}}},
		},
		{
			name: "matched by index when id absent",
			chunks: []*chatapi.StreamResponse{
				chunk(callFrag(chatapi.IntPtr(0), "call_a", "search_bills", `{"keyword"`)),
				chunk(callFrag(chatapi.IntPtr(1), "call_b", "get_party_seat_count", `{"party":`)),
				chunk(callFrag(chatapi.IntPtr(0), "", "", `:"能源"}`)),
				chunk(callFrag(chatapi.IntPtr(1), "", "", `"民主進步黨"}`)),
			},
			want: []chatapi.ToolCall{
				{ID: "call_a", Type: "function", Function: chatapi.FunctionCall{Name: "search_bills", Arguments: `{"keyword":"能源"}`}},
				{ID: "call_b", Type: "function", Function: chatapi.FunctionCall{Name: "get_party_seat_count", Arguments: `{"party":"民主進步黨"}`}},
			},
		},
		{
			name: "anonymous fragment continues last call",
			chunks: []*chatapi.StreamResponse{
				chunk(callFrag(nil, "call_a", "get_legislators", `{"term":`)),
				chunk(callFrag(nil, "", "", `11}`)),
			},
			want: []chatapi.ToolCall{{ID: "call_a", Type: "function", Function: chatapi.FunctionCall{
				Name: "get_legislators", Arguments: `{"term":11}`,
			}}},
		},
		{
			name: "whole calls in one chunk",
			chunks: []*chatapi.StreamResponse{
				chunk(chatapi.Delta{ToolCalls: []chatapi.ToolCall{
					{ID: "call_a", Type: "function", Function: chatapi.FunctionCall{Name: "a", Arguments: `{}`}},
					{ID: "call_b", Type: "function", Function: chatapi.FunctionCall{Name: "b", Arguments: `{"x":1}`}},
				}}),
			},
			want: []chatapi.ToolCall{
				{ID: "call_a", Type: "function", Function: chatapi.FunctionCall{Name: "a", Arguments: `{}`}},
				{ID: "call_b", Type: "function", Function: chatapi.FunctionCall{Name: "b", Arguments: `{"x":1}`}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			acc := chatapi.NewAccumulator()
			addAll(t, acc, tt.chunks...)

			got := acc.Message().ToolCalls
			if len(got) != len(tt.want) {
				t.Fatalf("got %d calls, want %d: %+v", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i].Index != nil {
					t.Errorf("call %d: Index leaked into message", i)
				}
				if got[i].ID != tt.want[i].ID || got[i].Type != tt.want[i].Type || got[i].Function != tt.want[i].Function {
					t.Errorf("call %d = %+v, want %+v", i, got[i], tt.want[i])
				}
				if !json.Valid([]byte(got[i].Function.Arguments)) {
					t.Errorf("call %d arguments not valid JSON: %s", i, got[i].Function.Arguments)
				}
			}
		})
	}
}

// ─── full turn ───────────────────────────────────────────────────────────────

func TestAccumulatorTurn(t *testing.T) {
	t.Parallel()

	acc := chatapi.NewAccumulator()
	addAll(t, acc,
		chunk(chatapi.Delta{Role: chatapi.RoleAssistant}),
		chunk(callFrag(chatapi.IntPtr(0), "call_a", "get_legislator_by_constituency", `{"constituency":"臺北市第7選舉區"}`)),
	)
	if acc.ToolPhaseComplete() {
		t.Fatal("tool phase complete before any result")
	}

	addAll(t, acc, chunk(chatapi.Delta{Role: chatapi.RoleTool, ToolCallID: "call_a", Content: `{"name":"吳思瑤"}`}))
	if !acc.ToolPhaseComplete() {
		t.Fatal("tool result did not latch the tool phase")
	}

	addAll(t, acc,
		chunk(chatapi.Delta{Content: "臺北市第7選舉區的立委是"}),
		chunk(chatapi.Delta{Content: "吳思瑤。"}),
		finish(chatapi.FinishToolCalls),
	)

	if !acc.Done() || acc.FinishReason() != chatapi.FinishToolCalls {
		t.Fatalf("done=%v finish=%q", acc.Done(), acc.FinishReason())
	}
	msg := acc.Message()
	if msg.Role != chatapi.RoleAssistant {
		t.Errorf("role = %q", msg.Role)
	}
	if msg.Content != "臺北市第7選舉區的立委是吳思瑤。" {
		t.Errorf("content = %q", msg.Content)
	}
	results := acc.ToolResults()
	if len(results) != 1 || results[0].ToolCallID != "call_a" || results[0].Content != `{"name":"吳思瑤"}` {
		t.Errorf("results = %+v", results)
	}
	if len(acc.ToolCalls()) != 1 {
		t.Errorf("calls = %+v", acc.ToolCalls())
	}
}

func TestAccumulatorContentLatchesToolPhase(t *testing.T) {
	t.Parallel()

	acc := chatapi.NewAccumulator()
	addAll(t, acc, chunk(chatapi.Delta{Role: chatapi.RoleAssistant}))
	if acc.ToolPhaseComplete() {
		t.Fatal("role-only chunk latched the tool phase")
	}
	addAll(t, acc, chunk(chatapi.Delta{Content: "你好"}))
	if !acc.ToolPhaseComplete() {
		t.Fatal("content did not latch the tool phase")
	}
}

func TestAccumulatorRejectsChunksAfterFinish(t *testing.T) {
	t.Parallel()

	acc := chatapi.NewAccumulator()
	addAll(t, acc, chunk(chatapi.Delta{Content: "完"}), finish(chatapi.FinishStop))

	err := acc.Add(chunk(chatapi.Delta{Content: "多餘"}))
	if !errors.Is(err, chatapi.ErrTurnFinished) {
		t.Fatalf("err = %v, want ErrTurnFinished", err)
	}
	if acc.Content() != "完" {
		t.Errorf("content = %q", acc.Content())
	}
}

func TestAccumulatorIgnoresEmptyChunks(t *testing.T) {
	t.Parallel()

	acc := chatapi.NewAccumulator()
	addAll(t, acc, nil, &chatapi.StreamResponse{}, chunk(chatapi.Delta{}))
	if acc.Done() || acc.Content() != "" || len(acc.ToolCalls()) != 0 {
		t.Fatalf("state changed: %+v", acc.Message())
	}
}
