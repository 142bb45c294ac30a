package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Provider is an LLM API backend.
type Provider interface {
	// Chat makes a single model call.
	Chat(ctx context.Context, request Request) (*Response, error)

	// Name returns the provider name.
	Name() string
}

// providerConstructors is the static registry of supported backends.
var providerConstructors = map[string]func(apiKey string) Provider{
	"anthropic": func(apiKey string) Provider { return NewAnthropicProvider(apiKey) },
	"openai":    func(apiKey string) Provider { return NewOpenAIProvider(apiKey) },
}

// NewProvider builds a provider by registry name.
func NewProvider(name, apiKey string) (Provider, error) {
	ctor, ok := providerConstructors[name]
	if !ok {
		return nil, fmt.Errorf("unsupported provider: %s (supported: %s)", name, strings.Join(ProviderNames(), ", "))
	}
	if apiKey == "" {
		return nil, fmt.Errorf("provider %s requires an api key", name)
	}
	return ctor(apiKey), nil
}

// ProviderNames lists the registered backends.
func ProviderNames() []string {
	names := make([]string, 0, len(providerConstructors))
	for name := range providerConstructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProviderForModel resolves the backend for a model identifier by prefix.
func ProviderForModel(model string) (string, error) {
	switch {
	case strings.HasPrefix(model, "claude"):
		return "anthropic", nil
	case strings.HasPrefix(model, "gpt"), strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return "openai", nil
	default:
		return "", fmt.Errorf("cannot infer provider from model %q", model)
	}
}
