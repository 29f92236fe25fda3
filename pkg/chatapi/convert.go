package chatapi

import "github.com/MrWong99/lybot/pkg/provider/llm"

// FromLLM converts in-memory messages to wire messages.
func FromLLM(msgs []llm.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		wm := Message{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, FromLLMToolCall(tc))
		}
		out = append(out, wm)
	}
	return out
}

// ToLLM converts wire messages to in-memory messages.
func ToLLM(msgs []Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		lm := llm.Message{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			lm.ToolCalls = append(lm.ToolCalls, llm.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		out = append(out, lm)
	}
	return out
}

// FromLLMToolCall converts one tool call to its wire form.
func FromLLMToolCall(tc llm.ToolCall) ToolCall {
	return ToolCall{
		ID:       tc.ID,
		Type:     "function",
		Function: FunctionCall{Name: tc.Name, Arguments: tc.Arguments},
	}
}
