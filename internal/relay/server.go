// Package relay serves the OpenAI-compatible chat API.
//
// A chat request is mapped to a session, the session's transcript plus the
// new user message is handed to the research agent, and the turn is returned
// either as one JSON completion or as a stream of chunk objects over SSE or
// WebSocket. Only completed turns are committed to the session.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/MrWong99/lybot/internal/agent"
	"github.com/MrWong99/lybot/internal/health"
	"github.com/MrWong99/lybot/internal/mcp"
	"github.com/MrWong99/lybot/internal/observe"
	"github.com/MrWong99/lybot/internal/session"
	"github.com/MrWong99/lybot/pkg/chatapi"
	"github.com/MrWong99/lybot/pkg/provider/llm"
)

// maxRequestBytes bounds a chat request body.
const maxRequestBytes = 4 << 20

// Runner runs one agent turn. [*agent.Agent] implements it.
type Runner interface {
	Run(ctx context.Context, req agent.Request, sink agent.Sink) (*agent.Result, error)
	Tools() []llm.ToolDefinition
}

// Server is the chat relay. Create it with [New] and mount [Server.Handler].
type Server struct {
	runner   Runner
	sessions *session.Store

	modelID    string
	toolHealth func() []mcp.ToolHealth
	health     *health.Handler
	metricsH   http.Handler
	mcpH       http.Handler
	metrics    *observe.Metrics
	now        func() time.Time
}

// Option configures a [Server].
type Option func(*Server)

// WithModelID sets the public model id. Default [chatapi.DefaultModel].
func WithModelID(id string) Option {
	return func(s *Server) {
		if id != "" {
			s.modelID = id
		}
	}
}

// WithToolHealth adds per-tool statistics to GET /v1/tools.
func WithToolHealth(fn func() []mcp.ToolHealth) Option {
	return func(s *Server) { s.toolHealth = fn }
}

// WithHealth mounts /healthz, /readyz and /health from h. Without it only
// /health is served.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsH = h }
}

// WithMCPHandler mounts the MCP facade at /mcp.
func WithMCPHandler(h http.Handler) Option {
	return func(s *Server) { s.mcpH = h }
}

// WithMetrics sets the metrics sink used by the request middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithClock injects the time source for response timestamps and generated
// session ids.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a relay over runner and sessions.
func New(runner Runner, sessions *session.Store, opts ...Option) *Server {
	s := &Server{
		runner:   runner,
		sessions: sessions,
		modelID:  chatapi.DefaultModel,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.health == nil {
		s.health = health.New()
	}
	return s
}

// Handler returns the relay's routes wrapped in CORS and observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", s.handleChat)
	mux.HandleFunc("GET /v1/chat/ws", s.handleWS)
	mux.HandleFunc("GET /v1/models", s.handleModels)
	mux.HandleFunc("POST /v1/sessions/clear", s.handleClear)
	mux.HandleFunc("GET /v1/tools", s.handleTools)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	s.health.Register(mux)
	if s.metricsH != nil {
		mux.Handle("GET /metrics", s.metricsH)
	}
	if s.mcpH != nil {
		mux.Handle("/mcp", s.mcpH)
	}
	return observe.Middleware(s.metrics)(cors(mux))
}

// cors allows every origin, as browser chat clients are served from
// anywhere.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Mcp-Session-Id, Mcp-Protocol-Version, Last-Event-ID")
		h.Set("Access-Control-Expose-Headers", "X-Correlation-ID, Mcp-Session-Id, "+SessionHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ---- small endpoints ----

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        "LyBot API",
		"description": "OpenAI-compatible API for Taiwan Legislative Yuan research",
		"endpoints": map[string]string{
			"/v1/chat/completions": "Chat completions (OpenAI-compatible)",
			"/v1/chat/ws":          "Chat completions streamed over WebSocket",
			"/v1/models":           "List available models",
			"/v1/sessions/clear":   "Clear conversation history",
			"/v1/tools":            "Tool catalogue with latency statistics",
			"/health":              "Health check",
			"/healthz":             "Liveness check",
			"/readyz":              "Readiness check",
			"/metrics":             "Prometheus metrics",
			"/mcp":                 "Model Context Protocol endpoint",
		},
	})
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, chatapi.ModelList{
		Object: "list",
		Data: []chatapi.ModelInfo{{
			ID:      s.modelID,
			Object:  "model",
			Created: s.now().Unix(),
			OwnedBy: "lybot",
		}},
	})
}

// handleClear accepts the session id as a JSON body or as the session_id
// query parameter. No id clears every session. Unknown ids are not an error.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var body chatapi.ClearSessionRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&body)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON body: "+err.Error())
		return
	}
	id := body.SessionID
	if id == "" {
		id = r.URL.Query().Get("session_id")
	}

	if id == "" {
		n := s.sessions.ClearAll()
		observe.Logger(r.Context()).Info("all sessions cleared", "count", n)
		writeJSON(w, http.StatusOK, chatapi.ClearSessionResponse{Message: "All sessions cleared", Cleared: n})
		return
	}
	if s.sessions.Clear(id) {
		observe.Logger(r.Context()).Info("session cleared", "session_id", id)
		writeJSON(w, http.StatusOK, chatapi.ClearSessionResponse{Message: "Session " + id + " cleared", Cleared: 1})
		return
	}
	writeJSON(w, http.StatusOK, chatapi.ClearSessionResponse{Message: "Session " + id + " not found"})
}

type toolInfo struct {
	Name                string          `json:"name"`
	Description         string          `json:"description"`
	Parameters          map[string]any  `json:"parameters,omitempty"`
	EstimatedDurationMs int             `json:"estimated_duration_ms,omitempty"`
	MaxDurationMs       int             `json:"max_duration_ms,omitempty"`
	Health              *mcp.ToolHealth `json:"health,omitempty"`
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	byName := map[string]mcp.ToolHealth{}
	if s.toolHealth != nil {
		for _, h := range s.toolHealth() {
			byName[h.Name] = h
		}
	}
	defs := s.runner.Tools()
	out := make([]toolInfo, 0, len(defs))
	for _, d := range defs {
		ti := toolInfo{
			Name:                d.Name,
			Description:         d.Description,
			Parameters:          d.Parameters,
			EstimatedDurationMs: d.EstimatedDurationMs,
			MaxDurationMs:       d.MaxDurationMs,
		}
		if h, ok := byName[d.Name]; ok {
			ti.Health = &h
		}
		out = append(out, ti)
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": out})
}

// ---- helpers ----

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, typ, msg string) {
	writeJSON(w, status, chatapi.ErrorResponse{Error: chatapi.ErrorBody{Message: msg, Type: typ, Code: typ}})
}
