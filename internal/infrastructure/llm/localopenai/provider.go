// Package localopenai implements the second pass-through variant: a
// locally hosted server that speaks the OpenAI chat-completions
// wire format (vLLM, Ollama's OpenAI-compat endpoint, LM Studio, etc.) but,
// unlike the hosted OpenAI backend, doesn't require an API key.
package localopenai

import (
	"github.com/openrelay/gateway/internal/domain/service"
	"github.com/openrelay/gateway/internal/domain/valueobject"
	llm "github.com/openrelay/gateway/internal/infrastructure/llm"
	"github.com/openrelay/gateway/internal/infrastructure/llm/openai"
	gerrors "github.com/openrelay/gateway/pkg/errors"
)

// TypeName is the provider type this package registers under.
const TypeName = "local-openai"

func init() {
	llm.RegisterFactory(TypeName, llm.Factory{
		RequiredConfig: []llm.RequiredConfigKey{
			{Key: "base_url", Kind: valueobject.ConfigString, Required: true},
			{Key: "api_key", Kind: valueobject.ConfigString, Required: false},
			{Key: "timeout", Kind: valueobject.ConfigInt, Required: false},
		},
		New: func(spec llm.ProviderSpec) (service.Provider, error) {
			if v, ok := spec.Config["base_url"]; !ok || v.Str == "" {
				return nil, gerrors.Validation("provider %q: base_url must not be empty", spec.ID)
			}
			// Local servers frequently don't enforce auth at all; a
			// placeholder key keeps the shared openai.Provider's
			// Authorization header well-formed without requiring the
			// operator to configure a real secret.
			cfg := spec.Config
			if v, ok := cfg["api_key"]; !ok || v.Str == "" {
				cfg = cloneConfig(spec.Config)
				cfg["api_key"] = valueobject.ConfigValue{Kind: valueobject.ConfigString, Str: "local", Sensitive: true}
			}
			spec.Config = cfg
			return openai.New(spec)
		},
	})
}

func cloneConfig(in map[string]valueobject.ConfigValue) map[string]valueobject.ConfigValue {
	out := make(map[string]valueobject.ConfigValue, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
