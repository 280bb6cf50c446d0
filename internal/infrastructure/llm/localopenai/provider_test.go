package localopenai

import (
	"testing"

	"github.com/openrelay/gateway/internal/domain/valueobject"
	llm "github.com/openrelay/gateway/internal/infrastructure/llm"
)

func TestCreateProvider_NoAPIKeyRequired(t *testing.T) {
	spec := llm.ProviderSpec{
		ID:   "local",
		Name: "local",
		Config: map[string]valueobject.ConfigValue{
			"base_url": {Kind: valueobject.ConfigString, Str: "http://127.0.0.1:8000/v1"},
		},
	}
	p, err := llm.CreateProvider(TypeName, spec)
	if err != nil {
		t.Fatalf("CreateProvider: %v", err)
	}
	if p.Name() != "local" {
		t.Errorf("Name() = %q, want %q", p.Name(), "local")
	}
}

func TestCreateProvider_MissingBaseURL(t *testing.T) {
	spec := llm.ProviderSpec{
		ID:     "local",
		Name:   "local",
		Config: map[string]valueobject.ConfigValue{},
	}
	if _, err := llm.CreateProvider(TypeName, spec); err == nil {
		t.Fatal("expected error when base_url is missing")
	}
}
