package app

import (
	"fmt"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/lybot/internal/config"
	"github.com/MrWong99/lybot/pkg/provider/llm"
	"github.com/MrWong99/lybot/pkg/provider/llm/anyllm"
	"github.com/MrWong99/lybot/pkg/provider/llm/openai"
)

// OpenAICompatible is the provider name for any server speaking the OpenAI
// chat completions protocol (vLLM, LiteLLM, LM Studio). It is served by the
// native OpenAI client with a custom base URL.
const OpenAICompatible = "openai-compatible"

// RegisterBuiltinProviders wires all built-in LLM factories into reg.
func RegisterBuiltinProviders(reg *config.Registry) {
	// All any-llm-go backends share the same pattern: optional APIKey and
	// optional BaseURL.
	for _, providerName := range anyllm.Supported {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	reg.RegisterLLM(OpenAICompatible, func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, name := range reg.LLMNames() {
		slog.Debug("registered provider", "kind", "llm", "name", name)
	}
}

// BuildProviders instantiates the primary model and its fallbacks named in
// cfg using the registry.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	primary, err := buildOne(reg, cfg.Providers.LLM)
	if err != nil {
		return nil, err
	}
	ps := &Providers{LLM: primary}
	for _, entry := range cfg.Providers.LLMFallbacks {
		p, err := buildOne(reg, entry)
		if err != nil {
			return nil, err
		}
		ps.Fallbacks = append(ps.Fallbacks, p)
	}
	return ps, nil
}

func buildOne(reg *config.Registry, entry config.ProviderEntry) (NamedProvider, error) {
	p, err := reg.CreateLLM(entry)
	if err != nil {
		return NamedProvider{}, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
	}
	name := entry.Name + ":" + entry.Model
	slog.Info("provider created", "kind", "llm", "name", name)
	return NamedProvider{Name: name, Provider: p}, nil
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
