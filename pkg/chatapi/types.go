// Package chatapi implements the client side of the OpenAI-compatible chat
// protocol spoken by the LyBot relay: wire types, an SSE decoder that skips
// malformed frames, the [Accumulator] that rebuilds an assistant turn from
// stream deltas, and a [Client] that falls back to a non-streaming request
// when a stream breaks.
//
// The package depends only on the provider-neutral message types in
// pkg/provider/llm and can be used by external programs.
package chatapi

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Roles and finish reasons used on the wire.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"

	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
	FinishLength    = "length"

	// DefaultModel is the model id used when a request names none.
	DefaultModel = "lybot-gemini"

	// DoneSentinel terminates a stream.
	DoneSentinel = "[DONE]"
)

// FunctionCall is the function part of a [ToolCall].
type FunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

// ToolCall is a tool invocation requested by the assistant. In stream deltas
// a call may arrive in fragments; Index identifies the call when ID is
// absent.
type ToolCall struct {
	Index    *int         `json:"index,omitempty"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}

// Message is one entry of a chat transcript.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Stop accepts either a single string or a list of strings.
type Stop []string

// UnmarshalJSON implements [json.Unmarshaler].
func (s *Stop) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*s = Stop{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("stop must be a string or a list of strings")
	}
	*s = many
	return nil
}

// ChatCompletionRequest is the body of POST /v1/chat/completions.
type ChatCompletionRequest struct {
	Model            string             `json:"model,omitempty"`
	Messages         []Message          `json:"messages"`
	Stream           bool               `json:"stream,omitempty"`
	User             string             `json:"user,omitempty"`
	Temperature      *float64           `json:"temperature,omitempty"`
	TopP             *float64           `json:"top_p,omitempty"`
	N                *int               `json:"n,omitempty"`
	Stop             Stop               `json:"stop,omitempty"`
	MaxTokens        *int               `json:"max_tokens,omitempty"`
	PresencePenalty  *float64           `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64           `json:"frequency_penalty,omitempty"`
	LogitBias        map[string]float64 `json:"logit_bias,omitempty"`
}

// Validate checks field ranges and reports every violation.
func (r *ChatCompletionRequest) Validate() error {
	var errs []error
	if len(r.Messages) == 0 {
		errs = append(errs, errors.New("messages must not be empty"))
	}
	for i, m := range r.Messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		case RoleTool:
			if m.ToolCallID == "" {
				errs = append(errs, fmt.Errorf("messages[%d]: tool message requires tool_call_id", i))
			}
		default:
			errs = append(errs, fmt.Errorf("messages[%d]: unknown role %q", i, m.Role))
		}
	}
	rangeCheck := func(name string, v *float64, lo, hi float64) {
		if v != nil && (*v < lo || *v > hi) {
			errs = append(errs, fmt.Errorf("%s must be between %g and %g", name, lo, hi))
		}
	}
	rangeCheck("temperature", r.Temperature, 0, 2)
	rangeCheck("top_p", r.TopP, 0, 1)
	rangeCheck("presence_penalty", r.PresencePenalty, -2, 2)
	rangeCheck("frequency_penalty", r.FrequencyPenalty, -2, 2)
	if r.N != nil && *r.N < 1 {
		errs = append(errs, errors.New("n must be at least 1"))
	}
	if r.MaxTokens != nil && *r.MaxTokens < 1 {
		errs = append(errs, errors.New("max_tokens must be at least 1"))
	}
	return errors.Join(errs...)
}

// LastUserMessage returns the last message with role user.
func (r *ChatCompletionRequest) LastUserMessage() (Message, bool) {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i], true
		}
	}
	return Message{}, false
}

// Usage reports token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice is one completion alternative of a non-streaming response.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// ChatCompletionResponse is the non-streaming response.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Delta is the incremental part of a stream chunk.
type Delta struct {
	Role       string     `json:"role,omitempty"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// StreamChoice is one alternative of a stream chunk.
type StreamChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// StreamResponse is one streamed chunk. Error is set on the error frame the
// relay sends when the model provider fails mid-turn.
type StreamResponse struct {
	ID      string         `json:"id,omitempty"`
	Object  string         `json:"object,omitempty"`
	Created int64          `json:"created,omitempty"`
	Model   string         `json:"model,omitempty"`
	Choices []StreamChoice `json:"choices,omitempty"`
	Error   *ErrorBody     `json:"error,omitempty"`
}

// ModelInfo describes one model of GET /v1/models.
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelList is the response of GET /v1/models.
type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

// ErrorBody is the OpenAI-style error object.
type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// ErrorResponse wraps an [ErrorBody].
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ClearSessionRequest is the body of POST /v1/sessions/clear. An empty
// SessionID clears every session.
type ClearSessionRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

// ClearSessionResponse reports the outcome of a clear request.
type ClearSessionResponse struct {
	Message string `json:"message"`
	Cleared int    `json:"cleared"`
}

// IntPtr returns a pointer to v, for building tool call deltas.
func IntPtr(v int) *int { return &v }

// StringPtr returns a pointer to v.
func StringPtr(v string) *string { return &v }
