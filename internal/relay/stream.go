package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/lybot/pkg/chatapi"
	"github.com/MrWong99/lybot/pkg/provider/llm"
)

var (
	errStreamFinished = errors.New("relay: chunk after finish_reason")
	errStreamClosed   = errors.New("relay: chunk after [DONE]")
)

// frameSink carries encoded chunks to the client.
type frameSink interface {
	// send delivers one chunk object.
	send(ctx context.Context, v any) error
	// done delivers the [DONE] sentinel.
	done(ctx context.Context) error
}

// streamWriter turns agent events into chunk objects and enforces the
// stream's ordering: the role chunk comes first, nothing but the terminal
// chunk and the sentinel follow a finish reason, and nothing follows the
// sentinel.
type streamWriter struct {
	mu   sync.Mutex
	sink frameSink
	ctx  context.Context

	id      string
	created int64
	model   string

	nextIndex int
	started   bool
	finished  bool
	closed    bool
	err       error
}

func newStreamWriter(ctx context.Context, sink frameSink, id string, created int64, model string) *streamWriter {
	return &streamWriter{sink: sink, ctx: ctx, id: id, created: created, model: model}
}

func (sw *streamWriter) chunk(d chatapi.Delta, finish *string) chatapi.StreamResponse {
	return chatapi.StreamResponse{
		ID:      sw.id,
		Object:  "chat.completion.chunk",
		Created: sw.created,
		Model:   sw.model,
		Choices: []chatapi.StreamChoice{{Index: 0, Delta: d, FinishReason: finish}},
	}
}

// writeLocked sends v unless the stream already failed.
func (sw *streamWriter) writeLocked(v any) error {
	if sw.err != nil {
		return sw.err
	}
	if err := sw.sink.send(sw.ctx, v); err != nil {
		sw.err = fmt.Errorf("relay: write chunk: %w", err)
	}
	return sw.err
}

func (sw *streamWriter) checkLocked() error {
	switch {
	case sw.closed:
		return errStreamClosed
	case sw.finished:
		return errStreamFinished
	}
	return nil
}

// start sends the initial role chunk. It is idempotent.
func (sw *streamWriter) start() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.startLocked()
}

func (sw *streamWriter) startLocked() error {
	if sw.started {
		return nil
	}
	if err := sw.checkLocked(); err != nil {
		return err
	}
	sw.started = true
	return sw.writeLocked(sw.chunk(chatapi.Delta{Role: chatapi.RoleAssistant}, nil))
}

func (sw *streamWriter) content(text string) error {
	if text == "" {
		return nil
	}
	return sw.delta(chatapi.Delta{Content: text})
}

func (sw *streamWriter) toolCall(tc llm.ToolCall) error {
	sw.mu.Lock()
	idx := sw.nextIndex
	sw.nextIndex++
	sw.mu.Unlock()

	wire := chatapi.FromLLMToolCall(tc)
	wire.Index = chatapi.IntPtr(idx)
	return sw.delta(chatapi.Delta{ToolCalls: []chatapi.ToolCall{wire}})
}

func (sw *streamWriter) toolResult(id, content string) error {
	return sw.delta(chatapi.Delta{Role: chatapi.RoleTool, Content: content, ToolCallID: id})
}

func (sw *streamWriter) delta(d chatapi.Delta) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if err := sw.checkLocked(); err != nil {
		return err
	}
	if err := sw.startLocked(); err != nil {
		return err
	}
	return sw.writeLocked(sw.chunk(d, nil))
}

// finish sends the terminal chunk followed by the sentinel.
func (sw *streamWriter) finish(reason string) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if err := sw.checkLocked(); err != nil {
		return err
	}
	if err := sw.startLocked(); err != nil {
		return err
	}
	sw.finished = true
	if err := sw.writeLocked(sw.chunk(chatapi.Delta{}, chatapi.StringPtr(reason))); err != nil {
		return err
	}
	return sw.doneLocked()
}

// fail sends an error frame followed by the sentinel.
func (sw *streamWriter) fail(body chatapi.ErrorBody) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if err := sw.checkLocked(); err != nil {
		return err
	}
	sw.finished = true
	if err := sw.writeLocked(chatapi.StreamResponse{
		ID: sw.id, Object: "chat.completion.chunk", Created: sw.created, Model: sw.model, Error: &body,
	}); err != nil {
		return err
	}
	return sw.doneLocked()
}

func (sw *streamWriter) doneLocked() error {
	if sw.closed {
		return errStreamClosed
	}
	sw.closed = true
	if sw.err != nil {
		return sw.err
	}
	if err := sw.sink.done(sw.ctx); err != nil {
		sw.err = fmt.Errorf("relay: write sentinel: %w", err)
	}
	return sw.err
}

// ---- transports ----

// sseSink writes SSE data frames and flushes after each one.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSESink(w http.ResponseWriter) (*sseSink, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("relay: response writer cannot flush")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &sseSink{w: w, flusher: f}, nil
}

func (s *sseSink) send(_ context.Context, v any) error {
	frame, err := chatapi.EncodeFrame(v)
	if err != nil {
		return err
	}
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseSink) done(context.Context) error {
	if _, err := s.w.Write(chatapi.DoneFrame()); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// wsSink writes one text message per chunk.
type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) send(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *wsSink) done(ctx context.Context) error {
	return s.conn.Write(ctx, websocket.MessageText, []byte(chatapi.DoneSentinel))
}
