package chatapi

import (
	"errors"
	"strings"
)

// ErrTurnFinished is returned by [Accumulator.Add] for chunks arriving after
// the finish reason.
var ErrTurnFinished = errors.New("chatapi: chunk after finish_reason")

// ToolResult is a tool outcome announced in the stream with role "tool".
type ToolResult struct {
	ToolCallID string
	Content    string
}

// Accumulator rebuilds one assistant turn from stream chunks. Chunks must be
// added in arrival order. It is not safe for concurrent use.
type Accumulator struct {
	role         string
	content      strings.Builder
	calls        []ToolCall
	results      []ToolResult
	finishReason string
	done         bool
	toolPhase    bool
}

// NewAccumulator returns an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{role: RoleAssistant}
}

// Add applies one chunk. Only the first choice is considered.
func (a *Accumulator) Add(chunk *StreamResponse) error {
	if a.done {
		return ErrTurnFinished
	}
	if chunk == nil || len(chunk.Choices) == 0 {
		return nil
	}
	c := chunk.Choices[0]
	d := c.Delta

	if d.Role == RoleTool {
		a.results = append(a.results, ToolResult{ToolCallID: d.ToolCallID, Content: d.Content})
		a.toolPhase = true
	} else {
		for _, tc := range d.ToolCalls {
			a.mergeCall(tc)
		}
		if d.Content != "" {
			a.content.WriteString(d.Content)
			a.toolPhase = true
		}
	}

	if c.FinishReason != nil && *c.FinishReason != "" {
		a.finishReason = *c.FinishReason
		a.done = true
	}
	return nil
}

// mergeCall concatenates a fragment onto the call it belongs to: matched by
// id, then by index, then appended as a new call.
func (a *Accumulator) mergeCall(frag ToolCall) {
	target := -1
	if frag.ID != "" {
		for i := range a.calls {
			if a.calls[i].ID == frag.ID {
				target = i
				break
			}
		}
	}
	if target < 0 && frag.Index != nil {
		for i := range a.calls {
			if a.calls[i].Index != nil && *a.calls[i].Index == *frag.Index {
				target = i
				break
			}
		}
	}
	if target < 0 && frag.ID == "" && frag.Index == nil && len(a.calls) > 0 {
		// Anonymous continuation of the last call.
		target = len(a.calls) - 1
	}
	if target < 0 {
		c := ToolCall{ID: frag.ID, Type: frag.Type, Function: frag.Function}
		if frag.Index != nil {
			c.Index = IntPtr(*frag.Index)
		}
		if c.Type == "" {
			c.Type = "function"
		}
		a.calls = append(a.calls, c)
		return
	}
	c := &a.calls[target]
	if c.ID == "" {
		c.ID = frag.ID
	}
	if c.Function.Name == "" {
		c.Function.Name = frag.Function.Name
	}
	c.Function.Arguments += frag.Function.Arguments
}

// Content returns the assistant text accumulated so far.
func (a *Accumulator) Content() string { return a.content.String() }

// ToolCalls returns the accumulated tool calls.
func (a *Accumulator) ToolCalls() []ToolCall {
	out := make([]ToolCall, len(a.calls))
	copy(out, a.calls)
	return out
}

// ToolResults returns the tool results announced so far.
func (a *Accumulator) ToolResults() []ToolResult {
	out := make([]ToolResult, len(a.results))
	copy(out, a.results)
	return out
}

// ToolPhaseComplete reports whether a tool result or assistant text has
// arrived. Display code uses it to close the tool-call section.
func (a *Accumulator) ToolPhaseComplete() bool { return a.toolPhase }

// Done reports whether a finish reason was received.
func (a *Accumulator) Done() bool { return a.done }

// FinishReason returns the received finish reason, or "".
func (a *Accumulator) FinishReason() string { return a.finishReason }

// Message returns the assistant message built so far. Index fields are
// dropped from the tool calls.
func (a *Accumulator) Message() Message {
	m := Message{Role: a.role, Content: a.content.String()}
	for _, c := range a.calls {
		c.Index = nil
		m.ToolCalls = append(m.ToolCalls, c)
	}
	return m
}
