package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/lybot/internal/mcp"
)

// ValidProviderNames lists known LLM provider names. Used by [Validate] to
// warn about unrecognised names.
var ValidProviderNames = []string{"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "openai-compatible"}

// keylessProviders run locally and need no credentials.
var keylessProviders = []string{"ollama", "llamacpp"}

// Resolve builds the effective configuration: defaults, then the YAML file
// at path (skipped when path is empty), then environment overrides read via
// getenv. The result is validated.
func Resolve(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if err := decode(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	ApplyEnv(cfg, getenv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// Environment overrides are not applied; use [Resolve] for that.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decode(r, cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if (cfg.Server.TLS != nil) && (cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if r := cfg.Server.TraceSampleRatio; r != nil && (*r < 0 || *r > 1) {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %g must be between 0 and 1", *r))
	}

	errs = append(errs, validateProvider("providers.llm", cfg.Providers.LLM)...)
	for i, fb := range cfg.Providers.LLMFallbacks {
		errs = append(errs, validateProvider(fmt.Sprintf("providers.llm_fallbacks[%d]", i), fb)...)
	}

	if cfg.Upstream.BaseURL == "" {
		errs = append(errs, errors.New("upstream.base_url is required"))
	}
	if cfg.Upstream.DefaultTerm <= 0 {
		errs = append(errs, fmt.Errorf("upstream.default_term %d must be positive", cfg.Upstream.DefaultTerm))
	}

	if cfg.Sessions.MaxSessions <= 0 {
		errs = append(errs, fmt.Errorf("sessions.max_sessions %d must be positive", cfg.Sessions.MaxSessions))
	}
	if cfg.Sessions.TTL <= 0 {
		errs = append(errs, fmt.Errorf("sessions.ttl %s must be positive", cfg.Sessions.TTL))
	}

	if cfg.Agent.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("agent.max_iterations %d must be positive", cfg.Agent.MaxIterations))
	}
	if cfg.Agent.MaxParallelTools <= 0 {
		errs = append(errs, fmt.Errorf("agent.max_parallel_tools %d must be positive", cfg.Agent.MaxParallelTools))
	}
	if cfg.Agent.Temperature < 0 || cfg.Agent.Temperature > 2 {
		errs = append(errs, fmt.Errorf("agent.temperature %.2f is out of range [0, 2]", cfg.Agent.Temperature))
	}

	names := make(map[string]int, len(cfg.MCP.Servers))
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := names[srv.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of mcp.servers[%d]", prefix, srv.Name, prev))
			}
			names[srv.Name] = i
		}
		if srv.Transport != "" && !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == mcp.TransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == mcp.TransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	return errors.Join(errs...)
}

func validateProvider(prefix string, p ProviderEntry) []error {
	var errs []error
	if p.Name == "" {
		return append(errs, fmt.Errorf("%s.name is required", prefix))
	}
	if p.Model == "" {
		errs = append(errs, fmt.Errorf("%s.model is required", prefix))
	}
	if !slices.Contains(ValidProviderNames, p.Name) {
		slog.Warn("unknown provider name, may be a typo or third-party provider",
			"name", p.Name,
			"known", ValidProviderNames,
		)
	}
	if p.APIKey == "" && !slices.Contains(keylessProviders, p.Name) {
		errs = append(errs, fmt.Errorf("%s: no API key for provider %q; set LYBOT_API_KEY or %s", prefix, p.Name, credentialEnvHint(p.Name)))
	}
	return errs
}
