// Command lybot-cli is an interactive terminal client for LyBot.
//
// By default it runs the research agent in-process. With -remote it talks to
// a running relay instead, streaming over SSE (or WebSocket with -ws) and
// falling back to a plain request when the stream breaks.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/lybot/internal/app"
	"github.com/MrWong99/lybot/internal/config"
	"github.com/MrWong99/lybot/internal/observe"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to an optional YAML configuration file")
	remote := flag.String("remote", "", "relay base URL (e.g. http://localhost:8000); empty runs the agent in-process")
	useWS := flag.Bool("ws", false, "stream over WebSocket instead of SSE (with -remote)")
	apiKey := flag.String("api-key", "", "bearer token sent to the relay (with -remote)")
	sessionID := flag.String("session", "", "conversation id; default is generated")
	verbose := flag.Bool("v", false, "log at debug level to stderr")
	flag.Parse()

	lvl := slog.LevelWarn
	if *verbose {
		lvl = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	id := *sessionID
	if id == "" {
		id = fmt.Sprintf("cli-%d", time.Now().Unix())
	}

	// ── Remote mode ───────────────────────────────────────────────────────────
	if *remote != "" {
		b := newRemoteBackend(*remote, *apiKey, id, "", *useWS, observe.DefaultMetrics())
		if err := repl(ctx, b, os.Stdin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "lybot-cli: %v\n", err)
			return 1
		}
		return 0
	}

	// ── In-process mode ───────────────────────────────────────────────────────
	cfg, err := config.Resolve(*configPath, os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lybot-cli: %v\n", err)
		return 1
	}
	// No listener: the MCP facade is an HTTP surface only.
	cfg.MCP.Serve = false

	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)
	providers, err := app.BuildProviders(cfg, reg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lybot-cli: %v\n", err)
		return 1
	}

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lybot-cli: %v\n", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Shutdown(shutdownCtx)
	}()

	b := &localBackend{agent: application.Agent(), sessions: application.Sessions(), sessionID: id}
	if err := repl(ctx, b, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "lybot-cli: %v\n", err)
		return 1
	}
	return 0
}
