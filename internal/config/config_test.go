package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/lybot/internal/config"
	"github.com/MrWong99/lybot/pkg/provider/llm"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":8080"
  log_level: debug

providers:
  llm:
    name: gemini
    api_key: g-test
    model: gemini-2.5-flash
  llm_fallbacks:
    - name: openai
      api_key: sk-test
      model: gpt-4o-mini

upstream:
  base_url: https://ly.govapi.tw/v2
  timeout: 10s
  default_term: 11

sessions:
  max_sessions: 50
  ttl: 30m

agent:
  max_iterations: 6
  max_parallel_tools: 2

mcp:
  serve: false
  servers:
    - name: extra
      transport: streamable-http
      url: http://localhost:9000/mcp
`

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

// ── Loading ──────────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":8080")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server.log_level: got %q", cfg.Server.LogLevel)
	}
	if cfg.Providers.LLM.Model != "gemini-2.5-flash" {
		t.Errorf("providers.llm.model: got %q", cfg.Providers.LLM.Model)
	}
	if len(cfg.Providers.LLMFallbacks) != 1 {
		t.Fatalf("providers.llm_fallbacks: got %d, want 1", len(cfg.Providers.LLMFallbacks))
	}
	if cfg.Upstream.Timeout != 10*time.Second {
		t.Errorf("upstream.timeout: got %s", cfg.Upstream.Timeout)
	}
	if cfg.Sessions.TTL != 30*time.Minute || cfg.Sessions.MaxSessions != 50 {
		t.Errorf("sessions: got %+v", cfg.Sessions)
	}
	if cfg.Agent.MaxIterations != 6 || cfg.Agent.MaxParallelTools != 2 {
		t.Errorf("agent: got %+v", cfg.Agent)
	}
	if cfg.MCP.Serve {
		t.Error("mcp.serve should be false")
	}
	if len(cfg.MCP.Servers) != 1 {
		t.Fatalf("mcp.servers: got %d, want 1", len(cfg.MCP.Servers))
	}
}

func TestLoadFromReader_KeepsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader("providers:\n  llm:\n    api_key: g-test\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.LLM.Name != config.DefaultLLMProvider || cfg.Providers.LLM.Model != config.DefaultLLMModel {
		t.Errorf("default provider not kept: %+v", cfg.Providers.LLM)
	}
	if cfg.Agent.MaxIterations != config.DefaultMaxIterations {
		t.Errorf("max_iterations: got %d", cfg.Agent.MaxIterations)
	}
	if cfg.Upstream.BaseURL != config.DefaultUpstreamURL {
		t.Errorf("upstream.base_url: got %q", cfg.Upstream.BaseURL)
	}
	if cfg.Agent.ModelID != "lybot-gemini" {
		t.Errorf("agent.model_id: got %q", cfg.Agent.ModelID)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("npcs: []\n"))
	if err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "lybot.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

// ── Validation ────────────────────────────────────────────────────────────────

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "invalid log level",
			mutate:  func(c *config.Config) { c.Server.LogLevel = "verbose" },
			wantErr: "log_level",
		},
		{
			name:    "missing api key",
			mutate:  func(c *config.Config) { c.Providers.LLM.APIKey = "" },
			wantErr: "GEMINI_API_KEY",
		},
		{
			name: "ollama needs no key",
			mutate: func(c *config.Config) {
				c.Providers.LLM = config.ProviderEntry{Name: "ollama", Model: "llama3"}
			},
		},
		{
			name:    "missing model",
			mutate:  func(c *config.Config) { c.Providers.LLM.Model = "" },
			wantErr: "providers.llm.model",
		},
		{
			name: "fallback without name",
			mutate: func(c *config.Config) {
				c.Providers.LLMFallbacks = []config.ProviderEntry{{Model: "x"}}
			},
			wantErr: "llm_fallbacks[0].name",
		},
		{
			name:    "zero sessions",
			mutate:  func(c *config.Config) { c.Sessions.MaxSessions = 0 },
			wantErr: "max_sessions",
		},
		{
			name:    "temperature out of range",
			mutate:  func(c *config.Config) { c.Agent.Temperature = 2.5 },
			wantErr: "temperature",
		},
		{
			name:    "tls half configured",
			mutate:  func(c *config.Config) { c.Server.TLS = &config.TLSConfig{CertFile: "c.pem"} },
			wantErr: "server.tls",
		},
		{
			name: "sample ratio above one",
			mutate: func(c *config.Config) {
				r := 1.5
				c.Server.TraceSampleRatio = &r
			},
			wantErr: "trace_sample_ratio",
		},
		{
			name: "mcp stdio without command",
			mutate: func(c *config.Config) {
				c.MCP.Servers = []config.MCPServerConfig{{Name: "a", Transport: "stdio"}}
			},
			wantErr: "command is required",
		},
		{
			name: "mcp http without url",
			mutate: func(c *config.Config) {
				c.MCP.Servers = []config.MCPServerConfig{{Name: "a", Transport: "streamable-http"}}
			},
			wantErr: "url is required",
		},
		{
			name: "mcp invalid transport",
			mutate: func(c *config.Config) {
				c.MCP.Servers = []config.MCPServerConfig{{Name: "a", Transport: "carrier-pigeon"}}
			},
			wantErr: "transport",
		},
		{
			name: "mcp duplicate names",
			mutate: func(c *config.Config) {
				c.MCP.Servers = []config.MCPServerConfig{
					{Name: "a", Transport: "stdio", Command: "x"},
					{Name: "a", Transport: "stdio", Command: "y"},
				}
			},
			wantErr: "duplicate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			cfg.Providers.LLM.APIKey = "g-test"
			tt.mutate(cfg)
			err := config.Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Server.LogLevel = "loud"
	cfg.Agent.MaxIterations = 0
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"log_level", "max_iterations", "API key"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %q: %v", want, err)
		}
	}
}

// ── Environment ──────────────────────────────────────────────────────────────

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		start func(*config.Config)
		env   map[string]string
		check func(t *testing.T, c *config.Config)
	}{
		{
			name: "model selector with provider",
			env:  map[string]string{config.EnvModel: "openai:gpt-4o", "OPENAI_API_KEY": "sk-env"},
			check: func(t *testing.T, c *config.Config) {
				if c.Providers.LLM.Name != "openai" || c.Providers.LLM.Model != "gpt-4o" {
					t.Errorf("llm = %+v", c.Providers.LLM)
				}
				if c.Providers.LLM.APIKey != "sk-env" {
					t.Errorf("api key = %q", c.Providers.LLM.APIKey)
				}
			},
		},
		{
			name: "bare model keeps provider",
			env:  map[string]string{config.EnvModel: "gemini-2.5-flash"},
			check: func(t *testing.T, c *config.Config) {
				if c.Providers.LLM.Name != "gemini" || c.Providers.LLM.Model != "gemini-2.5-flash" {
					t.Errorf("llm = %+v", c.Providers.LLM)
				}
			},
		},
		{
			name: "google key fallback",
			env:  map[string]string{"GOOGLE_API_KEY": "g-env"},
			check: func(t *testing.T, c *config.Config) {
				if c.Providers.LLM.APIKey != "g-env" {
					t.Errorf("api key = %q", c.Providers.LLM.APIKey)
				}
			},
		},
		{
			name:  "lybot key overrides file key",
			start: func(c *config.Config) { c.Providers.LLM.APIKey = "from-file" },
			env:   map[string]string{config.EnvAPIKey: "override", "GEMINI_API_KEY": "g-env"},
			check: func(t *testing.T, c *config.Config) {
				if c.Providers.LLM.APIKey != "override" {
					t.Errorf("api key = %q", c.Providers.LLM.APIKey)
				}
			},
		},
		{
			name:  "file key beats provider variable",
			start: func(c *config.Config) { c.Providers.LLM.APIKey = "from-file" },
			env:   map[string]string{"GEMINI_API_KEY": "g-env"},
			check: func(t *testing.T, c *config.Config) {
				if c.Providers.LLM.APIKey != "from-file" {
					t.Errorf("api key = %q", c.Providers.LLM.APIKey)
				}
			},
		},
		{
			name: "server and upstream",
			env: map[string]string{
				config.EnvListenAddr:  ":9999",
				config.EnvLogLevel:    "WARN",
				config.EnvUpstreamURL: "http://localhost:1234/v2/",
				config.EnvBaseURL:     "http://llm.local/v1",
			},
			check: func(t *testing.T, c *config.Config) {
				if c.Server.ListenAddr != ":9999" || c.Server.LogLevel != config.LogWarn {
					t.Errorf("server = %+v", c.Server)
				}
				if c.Upstream.BaseURL != "http://localhost:1234/v2" {
					t.Errorf("upstream = %q", c.Upstream.BaseURL)
				}
				if c.Providers.LLM.BaseURL != "http://llm.local/v1" {
					t.Errorf("base url = %q", c.Providers.LLM.BaseURL)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			if tt.start != nil {
				tt.start(cfg)
			}
			config.ApplyEnv(cfg, envMap(tt.env))
			tt.check(t, cfg)
		})
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "lybot.yaml")
	if err := os.WriteFile(path, []byte("server:\n  listen_addr: \":7000\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Resolve(path, envMap(map[string]string{
		"GEMINI_API_KEY":     "g-env",
		config.EnvListenAddr: ":7001",
	}))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.Server.ListenAddr != ":7001" {
		t.Errorf("env should override file, got %q", cfg.Server.ListenAddr)
	}

	if _, err := config.Resolve("", envMap(nil)); err == nil {
		t.Error("expected missing-credential error without any key")
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_UnknownLLM(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got %v", err)
	}
}

func TestRegistry_RegisteredLLM(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	want := &stubLLM{}
	reg.RegisterLLM("stub", func(e config.ProviderEntry) (llm.Provider, error) {
		return want, nil
	})
	got, err := reg.CreateLLM(config.ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the expected instance")
	}
	if names := reg.LLMNames(); len(names) != 1 || names[0] != "stub" {
		t.Errorf("LLMNames = %v", names)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterLLM("broken", func(e config.ProviderEntry) (llm.Provider, error) {
		return nil, wantErr
	})
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}

// stubLLM implements llm.Provider with no-op methods.
type stubLLM struct{}

func (s *stubLLM) StreamCompletion(_ context.Context, _ llm.CompletionRequest) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk)
	close(ch)
	return ch, nil
}

func (s *stubLLM) Complete(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{}, nil
}
func (s *stubLLM) CountTokens(_ []llm.Message) (int, error) { return 0, nil }
func (s *stubLLM) Capabilities() llm.ModelCapabilities      { return llm.ModelCapabilities{} }
