package registry

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/openrelay/gateway/internal/domain/entity"
	"github.com/openrelay/gateway/internal/domain/repository"
	_ "github.com/openrelay/gateway/internal/infrastructure/llm/localopenai" // registers the "local-openai" factory
	gerrors "github.com/openrelay/gateway/pkg/errors"
)

type fakeProviderRepo struct {
	rows map[string]entity.Provider
}

func newFakeProviderRepo(rows ...entity.Provider) *fakeProviderRepo {
	m := map[string]entity.Provider{}
	for _, r := range rows {
		m[r.ID] = r
	}
	return &fakeProviderRepo{rows: m}
}

func (f *fakeProviderRepo) Create(ctx context.Context, p *entity.Provider) error {
	f.rows[p.ID] = *p
	return nil
}
func (f *fakeProviderRepo) Get(ctx context.Context, id string) (*entity.Provider, error) {
	p, ok := f.rows[id]
	if !ok {
		return nil, gerrors.NotFound("provider %q", id)
	}
	cp := p
	return &cp, nil
}
func (f *fakeProviderRepo) FindAll(ctx context.Context, filter repository.Filter, order []repository.Order, page repository.Page) ([]entity.Provider, error) {
	var out []entity.Provider
	for _, p := range f.rows {
		if en, ok := filter["enabled"]; ok && p.Enabled != en.(bool) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
func (f *fakeProviderRepo) Update(ctx context.Context, p *entity.Provider) error {
	f.rows[p.ID] = *p
	return nil
}
func (f *fakeProviderRepo) Delete(ctx context.Context, id string) error {
	delete(f.rows, id)
	return nil
}
func (f *fakeProviderRepo) Count(ctx context.Context, filter repository.Filter) (int64, error) {
	return int64(len(f.rows)), nil
}

var _ repository.ProviderRepository = (*fakeProviderRepo)(nil)

type fakeConfigRepo struct {
	rows map[string][]entity.ProviderConfig
}

func newFakeConfigRepo() *fakeConfigRepo { return &fakeConfigRepo{rows: map[string][]entity.ProviderConfig{}} }

func (f *fakeConfigRepo) Upsert(ctx context.Context, c *entity.ProviderConfig) error {
	f.rows[c.ProviderID] = append(f.rows[c.ProviderID], *c)
	return nil
}
func (f *fakeConfigRepo) Get(ctx context.Context, providerID, key string) (*entity.ProviderConfig, error) {
	for _, c := range f.rows[providerID] {
		if c.Key == key {
			cp := c
			return &cp, nil
		}
	}
	return nil, gerrors.NotFound("config %s/%s", providerID, key)
}
func (f *fakeConfigRepo) FindByProvider(ctx context.Context, providerID string) ([]entity.ProviderConfig, error) {
	return f.rows[providerID], nil
}
func (f *fakeConfigRepo) Delete(ctx context.Context, providerID, key string) error { return nil }
func (f *fakeConfigRepo) DeleteByProvider(ctx context.Context, providerID string) error {
	delete(f.rows, providerID)
	return nil
}

var _ repository.ProviderConfigRepository = (*fakeConfigRepo)(nil)

func TestRegistry_LoadAndGet(t *testing.T) {
	providers := newFakeProviderRepo(entity.Provider{
		ID: "local1", Name: "Local", Type: entity.ProviderTypeLocalOpenAI, Enabled: true,
	})
	configs := newFakeConfigRepo()
	configs.Upsert(context.Background(), &entity.ProviderConfig{ProviderID: "local1", Key: "base_url", Value: `"http://localhost:11434/v1"`})

	reg := New(providers, configs, nil, zap.NewNop(), nil, nil)

	if err := reg.Load(context.Background(), "local1"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	inst, ok := reg.Get("local1")
	if !ok {
		t.Fatal("expected provider to be loaded")
	}
	if inst.Name() != "local1" {
		t.Errorf("expected Name() %q, got %q", "local1", inst.Name())
	}

	if !reg.Allow("local1") {
		t.Error("expected fresh circuit breaker to allow")
	}
	reg.RecordFailure("local1")
	reg.RecordFailure("local1")
	reg.RecordFailure("local1")
	reg.RecordFailure("local1")
	reg.RecordFailure("local1")
	if reg.Allow("local1") {
		t.Error("expected circuit to open after 5 consecutive failures")
	}
}

func TestRegistry_UnloadRemovesInstanceAndBreaker(t *testing.T) {
	providers := newFakeProviderRepo(entity.Provider{ID: "local1", Name: "Local", Type: entity.ProviderTypeLocalOpenAI, Enabled: true})
	configs := newFakeConfigRepo()
	configs.Upsert(context.Background(), &entity.ProviderConfig{ProviderID: "local1", Key: "base_url", Value: `"http://localhost:11434/v1"`})

	reg := New(providers, configs, nil, zap.NewNop(), nil, nil)
	if err := reg.Load(context.Background(), "local1"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := reg.Unload(context.Background(), "local1"); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if _, ok := reg.Get("local1"); ok {
		t.Error("expected provider to be gone after Unload")
	}
	if !reg.Allow("local1") {
		t.Error("expected Allow to default true once the breaker is dropped")
	}
}

func TestRegistry_LoadAllSkipsDisabled(t *testing.T) {
	providers := newFakeProviderRepo(
		entity.Provider{ID: "enabled1", Name: "Enabled", Type: entity.ProviderTypeLocalOpenAI, Enabled: true},
		entity.Provider{ID: "disabled1", Name: "Disabled", Type: entity.ProviderTypeLocalOpenAI, Enabled: false},
	)
	configs := newFakeConfigRepo()
	configs.Upsert(context.Background(), &entity.ProviderConfig{ProviderID: "enabled1", Key: "base_url", Value: `"http://localhost:11434/v1"`})

	reg := New(providers, configs, nil, zap.NewNop(), nil, nil)
	if err := reg.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if _, ok := reg.Get("enabled1"); !ok {
		t.Error("expected enabled1 to be loaded")
	}
	if _, ok := reg.Get("disabled1"); ok {
		t.Error("expected disabled1 to be skipped")
	}
}
