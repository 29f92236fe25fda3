package config

import (
	"strings"
)

// Environment variable names read by [ApplyEnv].
const (
	EnvModel       = "LYBOT_MODEL"
	EnvAPIKey      = "LYBOT_API_KEY"
	EnvBaseURL     = "LYBOT_BASE_URL"
	EnvListenAddr  = "LYBOT_LISTEN_ADDR"
	EnvLogLevel    = "LYBOT_LOG_LEVEL"
	EnvUpstreamURL = "LYBOT_UPSTREAM_URL"
)

// credentialEnv lists, per provider, the conventional variables holding its
// API key, in lookup order.
var credentialEnv = map[string][]string{
	"gemini":    {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"openai":    {"OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_API_KEY"},
	"deepseek":  {"DEEPSEEK_API_KEY"},
	"mistral":   {"MISTRAL_API_KEY"},
	"groq":      {"GROQ_API_KEY"},
}

// ApplyEnv overlays environment settings onto cfg. getenv is usually
// os.Getenv; tests pass a map lookup.
//
// LYBOT_MODEL has the form "provider:model". A bare value without a colon
// replaces only the model. LYBOT_API_KEY wins over provider-specific
// variables, which are consulted only when no key is configured.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if getenv == nil {
		return
	}

	if sel := strings.TrimSpace(getenv(EnvModel)); sel != "" {
		provider, model, ok := strings.Cut(sel, ":")
		if ok {
			provider = strings.ToLower(strings.TrimSpace(provider))
			if provider != cfg.Providers.LLM.Name {
				// A key configured for another provider must not leak across.
				cfg.Providers.LLM.APIKey = ""
			}
			cfg.Providers.LLM.Name = provider
			cfg.Providers.LLM.Model = strings.TrimSpace(model)
		} else {
			cfg.Providers.LLM.Model = sel
		}
	}

	if v := getenv(EnvBaseURL); v != "" {
		cfg.Providers.LLM.BaseURL = v
	}
	if v := getenv(EnvListenAddr); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(v))
	}
	if v := getenv(EnvUpstreamURL); v != "" {
		cfg.Upstream.BaseURL = strings.TrimRight(v, "/")
	}

	if v := getenv(EnvAPIKey); v != "" {
		cfg.Providers.LLM.APIKey = v
	} else if cfg.Providers.LLM.APIKey == "" {
		cfg.Providers.LLM.APIKey = lookupCredential(cfg.Providers.LLM.Name, getenv)
	}
	for i := range cfg.Providers.LLMFallbacks {
		fb := &cfg.Providers.LLMFallbacks[i]
		if fb.APIKey == "" {
			fb.APIKey = lookupCredential(fb.Name, getenv)
		}
	}
}

func lookupCredential(provider string, getenv func(string) string) string {
	for _, name := range credentialEnv[provider] {
		if v := getenv(name); v != "" {
			return v
		}
	}
	return ""
}

func credentialEnvHint(provider string) string {
	names := credentialEnv[provider]
	if len(names) == 0 {
		return "providers.llm.api_key"
	}
	return strings.Join(names, " or ")
}
