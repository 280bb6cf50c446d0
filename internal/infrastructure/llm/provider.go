// Package llm holds the provider factory registry and the concrete
// provider implementations (openai, localopenai, qwenweb). Providers
// register themselves via init() in their own sub-package; adding a new
// backend means implementing service.Provider and calling RegisterFactory.
package llm

import (
	gerrors "github.com/openrelay/gateway/pkg/errors"

	"context"
	"fmt"
	"sync"

	"github.com/openrelay/gateway/internal/domain/entity"
	"github.com/openrelay/gateway/internal/domain/service"
	"github.com/openrelay/gateway/internal/domain/valueobject"
	"go.uber.org/zap"
)

// CredentialReader is the slice of the credential store a stateful
// provider (qwen-web) needs: read the current valid credential, or flag it
// stale on a 401/403. Declared here rather than depended on from
// infrastructure/credential to keep this package free of a dependency on
// its own siblings.
type CredentialReader interface {
	GetValid(ctx context.Context, backend string) (*entity.Credential, error)
	MarkStale(ctx context.Context, backend, reason string) error
}

// RequiredConfigKey describes one entry in a provider type's required
// configuration schema.
type RequiredConfigKey struct {
	Key      string
	Kind     valueobject.ConfigValueKind
	Required bool // false = optional, but still validated if present
}

// ProviderSpec is what a factory needs to construct a provider instance:
// identity plus the resolved configuration values (already validated
// against RequiredConfig by CreateProvider).
type ProviderSpec struct {
	ID      string
	Name    string
	Config  map[string]valueobject.ConfigValue
	Timeout int // ms, default 30000
	Logger  *zap.Logger

	// Sessions and Credentials are populated only for stateful provider
	// types (qwen-web); stateless pass-through factories ignore them.
	Sessions    service.SessionManager
	Credentials CredentialReader
}

// Factory constructs a provider instance from a validated ProviderSpec.
type Factory struct {
	RequiredConfig []RequiredConfigKey
	New            func(spec ProviderSpec) (service.Provider, error)
}

var (
	factoryMu sync.RWMutex
	factories = map[string]Factory{}
)

// RegisterFactory registers a provider factory for the given type name.
// Called from init() in each provider sub-package.
func RegisterFactory(typeName string, f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[typeName] = f
}

// RequiredConfigFor returns the required-config schema for a registered
// type, used by the admin API to describe what a provider of this type
// needs before CreateProvider will accept it.
func RequiredConfigFor(typeName string) ([]RequiredConfigKey, bool) {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	f, ok := factories[typeName]
	return f.RequiredConfig, ok
}

// CreateProvider validates spec.Config against the registered type's
// RequiredConfig schema and, if it passes, constructs the instance. This is
// the single gate enforcing that a provider is instantiable iff every
// required key is present and type-conformant.
func CreateProvider(typeName string, spec ProviderSpec) (service.Provider, error) {
	factoryMu.RLock()
	f, ok := factories[typeName]
	factoryMu.RUnlock()

	if !ok {
		available := make([]string, 0, len(factories))
		factoryMu.RLock()
		for k := range factories {
			available = append(available, k)
		}
		factoryMu.RUnlock()
		return nil, gerrors.Validation("unknown provider type %q (available: %v)", typeName, available)
	}

	for _, rk := range f.RequiredConfig {
		v, present := spec.Config[rk.Key]
		if !present {
			if rk.Required {
				return nil, gerrors.Validation("provider %q (type %s): missing required config key %q", spec.ID, typeName, rk.Key)
			}
			continue
		}
		if v.Kind != rk.Kind {
			return nil, gerrors.Validation("provider %q (type %s): config key %q must be %s, got %s", spec.ID, typeName, rk.Key, rk.Kind, v.Kind)
		}
	}

	p, err := f.New(spec)
	if err != nil {
		return nil, fmt.Errorf("construct provider %q: %w", spec.ID, err)
	}
	return p, nil
}
