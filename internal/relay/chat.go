package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/lybot/internal/agent"
	"github.com/MrWong99/lybot/internal/observe"
	"github.com/MrWong99/lybot/internal/session"
	"github.com/MrWong99/lybot/pkg/chatapi"
	"github.com/MrWong99/lybot/pkg/provider/llm"
)

// Error types reported in [chatapi.ErrorBody].
const (
	errTypeInvalidRequest = "invalid_request_error"
	errTypeModelProvider  = "model_provider_error"
	errTypeUnavailable    = "service_unavailable"
	errTypeInternal       = "internal_error"
)

var errNoUserMessage = errors.New("no user message found")

// turn is one chat request bound to its session.
type turn struct {
	id      string
	created int64
	model   string

	req   *chatapi.ChatCompletionRequest
	lease *session.Lease

	// next are the request messages committed ahead of the turn's output.
	next    []llm.Message
	history []llm.Message
}

// parseRequest decodes and validates a chat request.
func parseRequest(data []byte) (*chatapi.ChatCompletionRequest, error) {
	var req chatapi.ChatCompletionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, ok := req.LastUserMessage(); !ok {
		return nil, errNoUserMessage
	}
	return &req, nil
}

// SessionHeader carries the session id of a chat turn. Anonymous clients
// send it back as user to continue the conversation.
const SessionHeader = "X-Session-ID"

// sessionID is the request's user, or a fresh id for anonymous clients.
func sessionID(req *chatapi.ChatCompletionRequest) string {
	if req.User != "" {
		return req.User
	}
	return "session-" + uuid.NewString()
}

// beginTurn acquires the request's session and builds the effective history:
// the stored transcript followed by the last user message. An empty
// transcript is seeded with the earlier messages the client sent, tool calls
// and tool results included.
func (s *Server) beginTurn(ctx context.Context, req *chatapi.ChatCompletionRequest) (*turn, error) {
	lease, err := s.sessions.Acquire(ctx, sessionID(req))
	if err != nil {
		return nil, err
	}

	last := 0
	for i, m := range req.Messages {
		if m.Role == chatapi.RoleUser {
			last = i
		}
	}
	var next []llm.Message
	if len(lease.Transcript()) == 0 {
		next = chatapi.ToLLM(req.Messages[:last])
	}
	user := req.Messages[last]
	next = append(next, llm.Message{Role: llm.RoleUser, Content: user.Content, Name: user.Name})

	model := req.Model
	if model == "" {
		model = s.modelID
	}
	return &turn{
		id:      "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		created: s.now().Unix(),
		model:   model,
		req:     req,
		lease:   lease,
		next:    next,
		history: lease.History(next...),
	}, nil
}

// runTurn runs the agent and commits the turn when it completes.
func (s *Server) runTurn(ctx context.Context, t *turn, sink agent.Sink) (*agent.Result, error) {
	ar := agent.Request{Messages: t.history}
	if t.req.Temperature != nil {
		ar.Temperature = *t.req.Temperature
	}
	if t.req.MaxTokens != nil {
		ar.MaxTokens = *t.req.MaxTokens
	}
	res, err := s.runner.Run(ctx, ar, sink)
	if err != nil {
		return nil, err
	}
	commit := make([]llm.Message, 0, len(t.next)+len(res.Messages))
	commit = append(commit, t.next...)
	commit = append(commit, res.Messages...)
	t.lease.Commit(commit...)
	observe.Logger(ctx).Info("turn completed",
		"session_id", t.lease.ID(),
		"iterations", res.Iterations,
		"tool_calls", len(res.ToolCalls),
	)
	return res, nil
}

// ---- POST /v1/chat/completions ----

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, errTypeInvalidRequest, "read body: "+err.Error())
		return
	}
	req, err := parseRequest(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, errTypeInvalidRequest, err.Error())
		return
	}
	if req.Stream {
		s.streamSSE(w, r, req)
		return
	}
	s.complete(w, r, req)
}

func (s *Server) complete(w http.ResponseWriter, r *http.Request, req *chatapi.ChatCompletionRequest) {
	ctx := r.Context()
	t, err := s.beginTurn(ctx, req)
	if err != nil {
		s.writeTurnError(w, r, err)
		return
	}
	defer t.lease.Release()
	w.Header().Set(SessionHeader, t.lease.ID())

	res, err := s.runTurn(ctx, t, nil)
	if err != nil {
		s.writeTurnError(w, r, err)
		return
	}

	msg := chatapi.Message{Role: chatapi.RoleAssistant, Content: res.Content}
	for _, tc := range res.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, chatapi.FromLLMToolCall(tc))
	}
	writeJSON(w, http.StatusOK, chatapi.ChatCompletionResponse{
		ID:      t.id,
		Object:  "chat.completion",
		Created: t.created,
		Model:   t.model,
		Choices: []chatapi.Choice{{Index: 0, Message: msg, FinishReason: res.FinishReason()}},
		Usage:   usage(t.history, res),
	})
}

// writeTurnError maps a turn failure to an HTTP error response.
func (s *Server) writeTurnError(w http.ResponseWriter, r *http.Request, err error) {
	log := observe.Logger(r.Context())
	var mpe *agent.ModelProviderError
	switch {
	case errors.As(err, &mpe):
		log.Error("model provider failed", "err", err)
		writeError(w, http.StatusBadGateway, errTypeModelProvider, agent.ApologyText)
	case r.Context().Err() != nil:
		log.Info("client went away", "err", err)
	case errors.Is(err, session.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, errTypeUnavailable, "server is shutting down")
	default:
		log.Error("turn failed", "err", err)
		writeError(w, http.StatusInternalServerError, errTypeInternal, err.Error())
	}
}

func usage(history []llm.Message, res *agent.Result) *chatapi.Usage {
	u := res.Usage
	if u.TotalTokens == 0 {
		u.PromptTokens = llm.EstimateTokens(history)
		u.CompletionTokens = llm.EstimateTokens(res.Messages)
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return &chatapi.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

// ---- streaming ----

func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request, req *chatapi.ChatCompletionRequest) {
	ctx := r.Context()
	t, err := s.beginTurn(ctx, req)
	if err != nil {
		s.writeTurnError(w, r, err)
		return
	}
	defer t.lease.Release()
	w.Header().Set(SessionHeader, t.lease.ID())

	sink, err := newSSESink(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, errTypeInternal, err.Error())
		return
	}
	s.streamTurn(ctx, t, newStreamWriter(ctx, sink, t.id, t.created, t.model))
}

// streamTurn runs t and writes it to sw, ending with either a finish chunk or
// an error frame, then the sentinel. Nothing is written for a cancelled turn.
func (s *Server) streamTurn(ctx context.Context, t *turn, sw *streamWriter) {
	log := observe.Logger(ctx).With("session_id", t.lease.ID())
	report := func(err error) {
		if err != nil {
			log.Debug("stream write failed", "err", err)
		}
	}
	report(sw.start())

	res, err := s.runTurn(ctx, t, func(ev agent.Event) {
		switch ev.Kind {
		case agent.EventContent:
			report(sw.content(ev.Content))
		case agent.EventToolCall:
			report(sw.toolCall(ev.ToolCall))
		case agent.EventToolResult:
			report(sw.toolResult(ev.ToolCall.ID, ev.Content))
		}
	})

	var mpe *agent.ModelProviderError
	switch {
	case err == nil:
		report(sw.finish(res.FinishReason()))
	case errors.As(err, &mpe):
		log.Error("model provider failed", "err", err)
		report(sw.fail(chatapi.ErrorBody{Message: agent.ApologyText, Type: errTypeModelProvider, Code: errTypeModelProvider}))
	case ctx.Err() != nil:
		log.Info("stream cancelled", "err", err)
	default:
		log.Error("turn failed", "err", err)
		report(sw.fail(chatapi.ErrorBody{Message: err.Error(), Type: errTypeInternal, Code: errTypeInternal}))
	}
}

// handleWS streams one chat turn over a WebSocket. The client sends the
// request as the first text message; chunks, the sentinel and a normal close
// follow.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		observe.Logger(r.Context()).Debug("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxRequestBytes)

	_, data, err := conn.Read(r.Context())
	if err != nil {
		return
	}
	ctx := conn.CloseRead(r.Context())
	sink := &wsSink{conn: conn}

	req, err := parseRequest(data)
	if err != nil {
		sw := newStreamWriter(ctx, sink, "", s.now().Unix(), s.modelID)
		_ = sw.fail(chatapi.ErrorBody{Message: err.Error(), Type: errTypeInvalidRequest, Code: errTypeInvalidRequest})
		conn.Close(websocket.StatusNormalClosure, "")
		return
	}

	t, err := s.beginTurn(ctx, req)
	if err != nil {
		if ctx.Err() == nil {
			sw := newStreamWriter(ctx, sink, "", s.now().Unix(), s.modelID)
			_ = sw.fail(chatapi.ErrorBody{Message: err.Error(), Type: errTypeUnavailable, Code: errTypeUnavailable})
			conn.Close(websocket.StatusNormalClosure, "")
		}
		return
	}
	defer t.lease.Release()

	s.streamTurn(ctx, t, newStreamWriter(ctx, sink, t.id, t.created, t.model))
	if ctx.Err() == nil {
		conn.Close(websocket.StatusNormalClosure, "")
	}
}
