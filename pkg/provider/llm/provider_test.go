package llm_test

import (
	"testing"

	"github.com/MrWong99/lybot/pkg/provider/llm"
)

func TestEstimateTokens(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msgs []llm.Message
		want int
	}{
		{name: "empty", msgs: nil, want: 0},
		{name: "ascii", msgs: []llm.Message{{Role: llm.RoleUser, Content: "abcdefgh"}}, want: 2 + 4},
		{name: "cjk", msgs: []llm.Message{{Role: llm.RoleUser, Content: "立法院"}}, want: 3 + 4},
		{name: "mixed", msgs: []llm.Message{{Role: llm.RoleUser, Content: "AI 法案"}}, want: 1 + 2 + 4},
		{
			name: "tool calls",
			msgs: []llm.Message{{
				Role:      llm.RoleAssistant,
				ToolCalls: []llm.ToolCall{{Name: "get_committees", Arguments: "{}"}},
			}},
			want: 4 + 1 + 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := llm.EstimateTokens(tt.msgs); got != tt.want {
				t.Errorf("EstimateTokens = %d, want %d", got, tt.want)
			}
		})
	}
}
