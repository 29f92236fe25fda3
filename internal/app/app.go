// Package app wires all LyBot subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the chat relay until its context ends, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithUpstream,
// WithMCPHost, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/lybot/internal/agent"
	"github.com/MrWong99/lybot/internal/config"
	"github.com/MrWong99/lybot/internal/constituency"
	"github.com/MrWong99/lybot/internal/health"
	"github.com/MrWong99/lybot/internal/lyapi"
	"github.com/MrWong99/lybot/internal/mcp"
	"github.com/MrWong99/lybot/internal/mcp/mcphost"
	"github.com/MrWong99/lybot/internal/mcp/mcpserve"
	"github.com/MrWong99/lybot/internal/mcp/tools"
	"github.com/MrWong99/lybot/internal/mcp/tools/analysis"
	"github.com/MrWong99/lybot/internal/mcp/tools/bills"
	"github.com/MrWong99/lybot/internal/mcp/tools/gazettes"
	"github.com/MrWong99/lybot/internal/mcp/tools/interpellations"
	"github.com/MrWong99/lybot/internal/mcp/tools/legislators"
	"github.com/MrWong99/lybot/internal/mcp/tools/meetings"
	"github.com/MrWong99/lybot/internal/observe"
	"github.com/MrWong99/lybot/internal/relay"
	"github.com/MrWong99/lybot/internal/resilience"
	"github.com/MrWong99/lybot/internal/session"
	"github.com/MrWong99/lybot/pkg/provider/llm"
)

// Version is reported by the MCP facade and telemetry. Overridden at build
// time with -ldflags.
var Version = "dev"

// NamedProvider is an LLM backend together with the label used in logs,
// metrics and health checks.
type NamedProvider struct {
	Name     string
	Provider llm.Provider
}

// Providers holds the model backends built by main.go via the config
// registry. LLM is required; Fallbacks are tried in order when it fails.
type Providers struct {
	LLM       NamedProvider
	Fallbacks []NamedProvider
}

// toolRegistrar is implemented by hosts that accept built-in tools.
// [*mcphost.Host] does; injected test doubles may not.
type toolRegistrar interface {
	RegisterTools(ts ...tools.Tool) error
}

// App owns all subsystem lifetimes and serves the chat relay.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	metrics  *observe.Metrics
	upstream *lyapi.Client
	llm      llm.Provider
	llmCheck func(context.Context) error // nil without fallbacks
	mcpHost  mcp.Host
	agent    *agent.Agent
	sessions *session.Store
	relay    *relay.Server
	server   *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithUpstream injects an open-data client instead of creating one from
// config.
func WithUpstream(c *lyapi.Client) Option {
	return func(a *App) { a.upstream = c }
}

// WithMCPHost injects a tool host instead of creating one. Built-in tools are
// registered only when h accepts them.
func WithMCPHost(h mcp.Host) Option {
	return func(a *App) { a.mcpHost = h }
}

// WithMetrics injects the metrics sink shared by every subsystem.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New performs all initialisation synchronously: upstream client
// construction, tool registration including external MCP servers, agent
// assembly, session store start-up and relay routing.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM.Provider == nil {
		return nil, errors.New("app: an LLM provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Upstream client ───────────────────────────────────────────────
	a.initUpstream()

	// ── 2. Tool host ─────────────────────────────────────────────────────
	if err := a.initMCP(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init mcp: %w", err)
	}

	// ── 3. Model + agent ─────────────────────────────────────────────────
	if err := a.initAgent(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init agent: %w", err)
	}

	// ── 4. Session store ─────────────────────────────────────────────────
	a.sessions = session.New(
		session.WithMaxSessions(cfg.Sessions.MaxSessions),
		session.WithTTL(cfg.Sessions.TTL),
		session.WithMaxHistoryTokens(cfg.Sessions.MaxHistoryTokens),
		session.WithMetrics(a.metrics),
	)
	a.closers = append(a.closers, a.sessions.Close)

	// ── 5. Relay ─────────────────────────────────────────────────────────
	a.initRelay()

	slog.Info("application initialised",
		"tools", len(a.mcpHost.Tools()),
		"model", providers.LLM.Name,
		"fallbacks", len(providers.Fallbacks),
		"mcp_servers", len(cfg.MCP.Servers),
		"mcp_facade", cfg.MCP.Serve,
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initUpstream builds the open-data client unless one was injected.
func (a *App) initUpstream() {
	if a.upstream != nil {
		return
	}
	up := a.cfg.Upstream
	a.upstream = lyapi.New(up.BaseURL,
		lyapi.WithTimeout(up.Timeout),
		lyapi.WithDefaultTerm(up.DefaultTerm),
		lyapi.WithInsecureTLSHosts(up.InsecureTLSHosts...),
		lyapi.WithMetrics(a.metrics),
	)
}

// builtinTools returns every research tool bound to the upstream client.
func (a *App) builtinTools() []tools.Tool {
	var ts []tools.Tool
	ts = append(ts, legislators.NewTools(a.upstream, constituency.New())...)
	ts = append(ts, bills.NewTools(a.upstream)...)
	ts = append(ts, meetings.NewTools(a.upstream)...)
	ts = append(ts, interpellations.NewTools(a.upstream)...)
	ts = append(ts, gazettes.NewTools(a.upstream)...)
	ts = append(ts, analysis.NewTools(a.upstream)...)
	return ts
}

// initMCP sets up the tool host, registers the built-in tools and connects
// the configured external servers.
func (a *App) initMCP(ctx context.Context) error {
	if a.mcpHost == nil {
		host := mcphost.New(mcphost.WithMetrics(a.metrics))
		a.mcpHost = host
		a.closers = append(a.closers, host.Close)
	}

	if reg, ok := a.mcpHost.(toolRegistrar); ok {
		if err := reg.RegisterTools(a.builtinTools()...); err != nil {
			return fmt.Errorf("register built-in tools: %w", err)
		}
	}

	for _, srv := range a.cfg.MCP.Servers {
		serverCfg := mcp.ServerConfig{
			Name:      srv.Name,
			Transport: srv.Transport,
			Command:   srv.Command,
			URL:       srv.URL,
			Token:     srv.Token,
			Env:       srv.Env,
		}
		if err := a.mcpHost.RegisterServer(ctx, serverCfg); err != nil {
			return fmt.Errorf("register mcp server %q: %w", srv.Name, err)
		}
		slog.Info("mcp server registered", "name", srv.Name, "transport", srv.Transport)
	}
	return nil
}

// initAgent composes the model failover chain and builds the agent.
func (a *App) initAgent() error {
	primary := a.providers.LLM
	a.llm = primary.Provider
	if len(a.providers.Fallbacks) > 0 {
		fb := resilience.NewLLMFallback(primary.Provider, primary.Name, resilience.FallbackConfig{})
		for _, p := range a.providers.Fallbacks {
			fb.AddFallback(p.Name, p.Provider)
		}
		a.llm = fb
		a.llmCheck = fb.Check
		slog.Info("llm failover enabled", "order", fb.Names())
	}

	decider := agent.NewLLMDecider(a.llm,
		agent.WithProviderName(primary.Name),
		agent.WithDeciderMetrics(a.metrics),
	)

	prompt := a.cfg.Agent.SystemPrompt
	if prompt == "" {
		prompt = agent.SystemPrompt(a.cfg.Upstream.DefaultTerm)
	}
	ag, err := agent.New(decider, a.mcpHost,
		agent.WithSystemPrompt(prompt),
		agent.WithTemperature(a.cfg.Agent.Temperature),
		agent.WithMaxIterations(a.cfg.Agent.MaxIterations),
		agent.WithMaxParallelTools(a.cfg.Agent.MaxParallelTools),
		agent.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	a.agent = ag
	return nil
}

// initRelay builds the HTTP surface: chat API, health checks, metrics and the
// optional MCP facade.
func (a *App) initRelay() {
	checkers := []health.Checker{
		{Name: "upstream", Check: a.upstream.Check},
		{Name: "tools", Check: func(context.Context) error {
			if len(a.mcpHost.Tools()) == 0 {
				return errors.New("no tools registered")
			}
			return nil
		}},
	}
	llmCheck := a.llmCheck
	if llmCheck == nil {
		llmCheck = func(context.Context) error { return nil }
	}
	checkers = append(checkers, health.Checker{Name: "llm", Check: llmCheck})

	opts := []relay.Option{
		relay.WithModelID(a.cfg.Agent.ModelID),
		relay.WithToolHealth(a.mcpHost.Health),
		relay.WithHealth(health.New(checkers...)),
		relay.WithMetricsHandler(observe.MetricsHandler()),
		relay.WithMetrics(a.metrics),
	}
	if a.cfg.MCP.Serve {
		opts = append(opts, relay.WithMCPHandler(mcpserve.Handler(a.mcpHost, Version)))
	}
	a.relay = relay.New(a.agent, a.sessions, opts...)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the relay's HTTP handler.
func (a *App) Handler() http.Handler { return a.relay.Handler() }

// Agent returns the research agent, for in-process clients such as the
// terminal REPL.
func (a *App) Agent() *agent.Agent { return a.agent }

// Sessions returns the session store.
func (a *App) Sessions() *session.Store { return a.sessions }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves until ctx is cancelled.
// It returns nil on cancellation; call Shutdown afterwards.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves the relay on ln until ctx is cancelled. TLS is enabled when
// the config carries certificate paths.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.server = &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		errCh <- err
	}()
	slog.Info("relay listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops accepting connections, waits for in-flight turns, then tears
// down all subsystems in init order. It respects the context deadline: if ctx
// expires before all closers finish, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				slog.Warn("http server shutdown error", "err", err)
				shutdownErr = err
				_ = a.server.Close()
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers collected so far after a failed New.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}
