package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/lybot/pkg/provider/llm"
)

// errEmptyStream is recorded against a backend whose stream closed without a
// single chunk.
var errEmptyStream = errors.New("stream closed without output")

// StreamError is a failure a backend reported as the first chunk of a stream,
// e.g. a quota or safety rejection surfaced after the request was accepted.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string { return "stream error: " + e.Message }

// LLMFallback is an [llm.Provider] over the configured model backends, tried
// in order: providers.llm first, then each of providers.llm_fallbacks.
//
// A stream counts as failed when it cannot be opened or when its first chunk
// is an error. Once a backend has produced text or tool calls the stream is
// committed to it; later errors reach the caller unchanged.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback returns a failover chain starting with primary.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a backend to the chain.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Names returns the backend names in failover order.
func (f *LLMFallback) Names() []string { return f.group.Names() }

// Check fails only when every backend's breaker is open.
func (f *LLMFallback) Check(ctx context.Context) error { return f.group.Check(ctx) }

func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion waits for the first chunk of each candidate backend before
// committing to it, so a backend that rejects the turn in-band is skipped.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return firstChunk(ctx, p, req)
	})
}

// firstChunk opens a stream on p and reads its first chunk. An error chunk or
// an empty stream fails the attempt; otherwise the chunk is replayed ahead of
// the rest of the stream.
func firstChunk(ctx context.Context, p llm.Provider, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	src, err := p.StreamCompletion(ctx, req)
	if err != nil {
		return nil, err
	}

	var head llm.Chunk
	select {
	case c, ok := <-src:
		if !ok {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, errEmptyStream
		}
		head = c
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if head.FinishReason == llm.FinishReasonError {
		go func() {
			for range src {
			}
		}()
		return nil, &StreamError{Message: head.Text}
	}

	out := make(chan llm.Chunk, cap(src)+1)
	go func() {
		defer close(out)
		c, ok := head, true
		for ok {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
			c, ok = <-src
		}
	}()
	return out, nil
}

// CountTokens uses the first healthy backend's counter.
func (f *LLMFallback) CountTokens(messages []llm.Message) (int, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (int, error) {
		return p.CountTokens(messages)
	})
}

// Capabilities is what every backend in the chain supports: the smallest
// context and output limits, and tool calling or streaming only if all
// backends have it. A history sized for it fits whichever backend answers.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	if len(f.group.entries) == 0 {
		return llm.ModelCapabilities{}
	}
	caps := f.group.entries[0].value.Capabilities()
	for _, e := range f.group.entries[1:] {
		c := e.value.Capabilities()
		caps.ContextWindow = minPositive(caps.ContextWindow, c.ContextWindow)
		caps.MaxOutputTokens = minPositive(caps.MaxOutputTokens, c.MaxOutputTokens)
		caps.SupportsToolCalling = caps.SupportsToolCalling && c.SupportsToolCalling
		caps.SupportsStreaming = caps.SupportsStreaming && c.SupportsStreaming
	}
	return caps
}

// minPositive treats zero as unknown.
func minPositive(a, b int) int {
	switch {
	case a <= 0:
		return b
	case b <= 0:
		return a
	default:
		return min(a, b)
	}
}
