// Package config provides the configuration schema, loader, environment
// overlay and provider registry for the LyBot research gateway.
package config

import (
	"time"

	"github.com/MrWong99/lybot/internal/mcp"
)

// LogLevel controls log verbosity for the LyBot server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [Default].
const (
	DefaultListenAddr       = ":8000"
	DefaultUpstreamURL      = "https://ly.govapi.tw/v2"
	DefaultLLMProvider      = "gemini"
	DefaultLLMModel         = "gemini-2.5-pro"
	DefaultPublicModelID    = "lybot-gemini"
	DefaultTerm             = 11
	DefaultMaxIterations    = 8
	DefaultMaxParallelTools = 4
	DefaultMaxSessions      = 1000
	DefaultSessionTTL       = 2 * time.Hour
	DefaultHistoryTokens    = 200_000
	DefaultPDFHost          = "ppg.ly.gov.tw"
)

// Config is the root configuration structure for LyBot.
// Build it with [Resolve], or with [Load] / [LoadFromReader] for file-only use.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Agent     AgentConfig     `yaml:"agent"`
	MCP       MCPConfig       `yaml:"mcp"`
}

// ServerConfig holds network and logging settings for the HTTP relay.
type ServerConfig struct {
	// ListenAddr is the TCP address the relay listens on (e.g., ":8000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// ShutdownTimeout bounds graceful shutdown. Zero means 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TraceSampleRatio is the fraction of new traces recorded. Nil means 1.
	TraceSampleRatio *float64 `yaml:"trace_sample_ratio"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig selects the LLM backend and its optional failover chain.
type ProvidersConfig struct {
	// LLM is the primary model provider.
	LLM ProviderEntry `yaml:"llm"`

	// LLMFallbacks are tried in order when the primary fails or its circuit
	// breaker is open.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
}

// ProviderEntry is the configuration block shared by all LLM providers.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gemini-2.5-pro").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// UpstreamConfig configures the Legislative Yuan open-data client.
type UpstreamConfig struct {
	// BaseURL is the API root, "https://ly.govapi.tw/v2" by default.
	BaseURL string `yaml:"base_url"`

	// Timeout bounds a single upstream request. Zero means 30s.
	Timeout time.Duration `yaml:"timeout"`

	// DefaultTerm is the legislative term (屆) used when a tool call omits it.
	DefaultTerm int `yaml:"default_term"`

	// InsecureTLSHosts lists hosts whose certificates are not verified. Only
	// the gazette PDF host needs this.
	InsecureTLSHosts []string `yaml:"insecure_tls_hosts"`
}

// SessionsConfig bounds the in-memory session store.
type SessionsConfig struct {
	MaxSessions int           `yaml:"max_sessions"`
	TTL         time.Duration `yaml:"ttl"`

	// MaxHistoryTokens caps the history sent to the model. Older turns are
	// dropped first; the stored transcript is not modified.
	MaxHistoryTokens int `yaml:"max_history_tokens"`
}

// AgentConfig tunes the research agent loop.
type AgentConfig struct {
	// ModelID is the public model id reported by /v1/models.
	ModelID string `yaml:"model_id"`

	MaxIterations    int `yaml:"max_iterations"`
	MaxParallelTools int `yaml:"max_parallel_tools"`

	// Temperature is used when a request does not carry one.
	Temperature float64 `yaml:"temperature"`

	// SystemPrompt replaces the built-in prompt when non-empty.
	SystemPrompt string `yaml:"system_prompt"`
}

// MCPConfig holds external MCP tool servers and the facade switch.
type MCPConfig struct {
	// Servers are external MCP servers whose tools are merged into the
	// agent's registry.
	Servers []MCPServerConfig `yaml:"servers"`

	// Serve exposes the built-in tools at /mcp.
	Serve bool `yaml:"serve"`
}

// MCPServerConfig describes how to connect to a single MCP tool server.
type MCPServerConfig struct {
	// Name is a unique human-readable identifier for this server (used in logs).
	Name string `yaml:"name"`

	// Transport specifies the connection mechanism.
	Transport mcp.Transport `yaml:"transport"`

	// Command is the executable (with optional arguments) launched when
	// Transport is "stdio".
	Command string `yaml:"command"`

	// URL is the MCP endpoint address used when Transport is "streamable-http".
	URL string `yaml:"url"`

	// Token is a static Bearer token sent to streamable-http servers.
	Token string `yaml:"token"`

	// Env holds additional environment variables injected into the subprocess
	// when Transport is "stdio".
	Env map[string]string `yaml:"env"`
}

// Default returns a Config populated with every default value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      DefaultListenAddr,
			LogLevel:        LogInfo,
			ShutdownTimeout: 15 * time.Second,
		},
		Providers: ProvidersConfig{
			LLM: ProviderEntry{Name: DefaultLLMProvider, Model: DefaultLLMModel},
		},
		Upstream: UpstreamConfig{
			BaseURL:          DefaultUpstreamURL,
			Timeout:          30 * time.Second,
			DefaultTerm:      DefaultTerm,
			InsecureTLSHosts: []string{DefaultPDFHost},
		},
		Sessions: SessionsConfig{
			MaxSessions:      DefaultMaxSessions,
			TTL:              DefaultSessionTTL,
			MaxHistoryTokens: DefaultHistoryTokens,
		},
		Agent: AgentConfig{
			ModelID:          DefaultPublicModelID,
			MaxIterations:    DefaultMaxIterations,
			MaxParallelTools: DefaultMaxParallelTools,
			Temperature:      0.7,
		},
		MCP: MCPConfig{Serve: true},
	}
}
