// Package registry owns the live set of instantiated providers: which
// configured providers are currently loaded, their circuit breakers, and
// the load/unload/reload lifecycle. The dispatcher
// asks the registry for a provider by id; it never constructs one itself.
package registry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openrelay/gateway/internal/domain/entity"
	"github.com/openrelay/gateway/internal/domain/repository"
	"github.com/openrelay/gateway/internal/domain/service"
	"github.com/openrelay/gateway/internal/domain/valueobject"
	"github.com/openrelay/gateway/internal/infrastructure/eventbus"
	"github.com/openrelay/gateway/internal/infrastructure/llm"
	gerrors "github.com/openrelay/gateway/pkg/errors"
)

const defaultTimeoutMS = 30000

// Registry holds the instantiated providers keyed by provider id, each
// paired with its own circuit breaker, and publishes lifecycle events on
// load/reload/unload/failure.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]service.Provider
	breakers  map[string]*llm.CircuitBreaker

	providers   repository.ProviderRepository
	configs     repository.ProviderConfigRepository
	bus         eventbus.Bus
	logger      *zap.Logger
	sessions    service.SessionManager
	credentials llm.CredentialReader
}

func New(
	providers repository.ProviderRepository,
	configs repository.ProviderConfigRepository,
	bus eventbus.Bus,
	logger *zap.Logger,
	sessions service.SessionManager,
	credentials llm.CredentialReader,
) *Registry {
	return &Registry{
		instances:   make(map[string]service.Provider),
		breakers:    make(map[string]*llm.CircuitBreaker),
		providers:   providers,
		configs:     configs,
		bus:         bus,
		logger:      logger,
		sessions:    sessions,
		credentials: credentials,
	}
}

// Get returns the live instance for id, if loaded.
func (r *Registry) Get(id string) (service.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.instances[id]
	return p, ok
}

// Allow reports whether id's circuit breaker currently permits a call. A
// provider with no breaker yet (never loaded) allows by default so the
// caller's own Get-miss handling is what rejects it.
func (r *Registry) Allow(id string) bool {
	r.mu.RLock()
	cb, ok := r.breakers[id]
	r.mu.RUnlock()
	if !ok {
		return true
	}
	return cb.Allow()
}

// RecordSuccess notifies id's circuit breaker of a successful upstream call.
func (r *Registry) RecordSuccess(id string) {
	r.mu.RLock()
	cb, ok := r.breakers[id]
	r.mu.RUnlock()
	if ok {
		cb.RecordSuccess()
	}
}

// RecordFailure notifies id's circuit breaker of a failed upstream call.
func (r *Registry) RecordFailure(id string) {
	r.mu.RLock()
	cb, ok := r.breakers[id]
	r.mu.RUnlock()
	if ok {
		cb.RecordFailure()
	}
}

// LoadAll instantiates every enabled provider, logging and publishing a
// failed lifecycle event for any that doesn't construct cleanly rather
// than aborting startup over one bad config.
func (r *Registry) LoadAll(ctx context.Context) error {
	rows, err := r.providers.FindAll(ctx, repository.Filter{"enabled": true}, nil, repository.Page{})
	if err != nil {
		return gerrors.Store("list enabled providers", err)
	}
	for i := range rows {
		if err := r.Load(ctx, rows[i].ID); err != nil {
			r.logger.Warn("provider failed to load at startup",
				zap.String("provider_id", rows[i].ID), zap.Error(err))
		}
	}
	return nil
}

// Load (re)builds the provider instance for id from its current
// configuration. Calling Load on an already-loaded id reloads it in
// place: the old instance is closed only after the new one is installed,
// so an in-flight call against the old instance isn't interrupted by the
// swap itself.
func (r *Registry) Load(ctx context.Context, id string) error {
	p, err := r.providers.Get(ctx, id)
	if err != nil {
		return err
	}

	spec, err := r.buildSpec(ctx, p)
	if err != nil {
		r.publishLifecycle(ctx, id, eventbus.LifecycleFailed, err)
		return err
	}

	inst, err := llm.CreateProvider(string(p.Type), spec)
	if err != nil {
		r.publishLifecycle(ctx, id, eventbus.LifecycleFailed, err)
		return err
	}

	r.mu.Lock()
	old, existed := r.instances[id]
	r.instances[id] = inst
	if _, ok := r.breakers[id]; !ok {
		r.breakers[id] = llm.NewCircuitBreaker(5, 30*time.Second)
	}
	r.mu.Unlock()

	if existed && old != nil {
		if cerr := old.Close(); cerr != nil {
			r.logger.Warn("closing replaced provider instance", zap.String("provider_id", id), zap.Error(cerr))
		}
	}

	action := eventbus.LifecycleLoaded
	if existed {
		action = eventbus.LifecycleReloaded
	}
	r.publishLifecycle(ctx, id, action, nil)
	return nil
}

// Reload is Load under the name the admin surface calls it by; kept
// distinct so call sites read as intent rather than a coincidental
// re-use of Load.
func (r *Registry) Reload(ctx context.Context, id string) error {
	return r.Load(ctx, id)
}

// Unload drops id's instance, closing it, and publishes an unloaded
// lifecycle event. A no-op if id isn't currently loaded.
func (r *Registry) Unload(ctx context.Context, id string) error {
	r.mu.Lock()
	inst, ok := r.instances[id]
	delete(r.instances, id)
	delete(r.breakers, id)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	if err := inst.Close(); err != nil {
		r.logger.Warn("closing unloaded provider instance", zap.String("provider_id", id), zap.Error(err))
	}
	r.publishLifecycle(ctx, id, eventbus.LifecycleUnloaded, nil)
	return nil
}

// Loaded returns the ids of every currently instantiated provider.
func (r *Registry) Loaded() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.instances))
	for id := range r.instances {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) buildSpec(ctx context.Context, p *entity.Provider) (llm.ProviderSpec, error) {
	rows, err := r.configs.FindByProvider(ctx, p.ID)
	if err != nil {
		return llm.ProviderSpec{}, err
	}

	schema, _ := llm.RequiredConfigFor(string(p.Type))
	kindOf := make(map[string]valueobject.ConfigValueKind, len(schema))
	for _, rk := range schema {
		kindOf[rk.Key] = rk.Kind
	}

	cfg := make(map[string]valueobject.ConfigValue, len(rows))
	for _, row := range rows {
		kind, known := kindOf[row.Key]
		if !known {
			// Extra keys outside the type's declared schema (e.g. adapter-
			// specific tuning values) are carried as opaque strings; only
			// schema-declared keys are type-checked by CreateProvider.
			kind = valueobject.ConfigString
		}
		v, err := valueobject.ParseConfigValue(kind, row.Value, row.IsSensitive)
		if err != nil {
			return llm.ProviderSpec{}, gerrors.Validation("provider %q: config key %q: %v", p.ID, row.Key, err)
		}
		cfg[row.Key] = v
	}

	// Per-provider call timeout: the "timeout" config key
	// overrides the 30s default.
	timeoutMS := defaultTimeoutMS
	if v, ok := cfg["timeout"]; ok && v.Kind == valueobject.ConfigInt && v.Int > 0 {
		timeoutMS = int(v.Int)
	}

	return llm.ProviderSpec{
		ID:          p.ID,
		Name:        p.Name,
		Config:      cfg,
		Timeout:     timeoutMS,
		Logger:      r.logger,
		Sessions:    r.sessions,
		Credentials: r.credentials,
	}, nil
}

func (r *Registry) publishLifecycle(ctx context.Context, id string, action eventbus.LifecycleAction, err error) {
	if r.bus == nil {
		return
	}
	payload := eventbus.LifecyclePayload{ProviderID: id, Action: action}
	if err != nil {
		payload.Err = err.Error()
	}
	r.bus.Publish(ctx, eventbus.NewEvent(eventbus.EventLifecycle, payload))
}
