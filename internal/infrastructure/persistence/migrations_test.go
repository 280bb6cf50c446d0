package persistence

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/openrelay/gateway/internal/domain/entity"
	"github.com/openrelay/gateway/internal/domain/repository"
)

// openTestDB opens a named in-memory database private to the test, so
// tests in this package can't observe each other's rows through sqlite's
// shared cache.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Exec("PRAGMA foreign_keys = ON").Error)
	return db
}

// TestMigrate_Idempotent checks that running all up
// migrations twice leaves the schema at the same version and doesn't
// error on the guarded CREATE TABLE/INDEX statements.
func TestMigrate_Idempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, Migrate(db))
	v1, err := SchemaVersion(db)
	require.NoError(t, err)
	require.Equal(t, LatestVersion(), v1)

	require.NoError(t, Migrate(db))
	v2, err := SchemaVersion(db)
	require.NoError(t, err)
	require.Equal(t, v1, v2)
}

func TestProviderRepository_CRUD(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, Migrate(db))

	repo := NewProviderRepository(db)
	ctx := context.Background()

	p := &entity.Provider{ID: "p1", Name: "Primary", Type: entity.ProviderTypeOpenAI, Enabled: true, Priority: 10}
	require.NoError(t, repo.Create(ctx, p))

	got, err := repo.Get(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "Primary", got.Name)

	got.Priority = 20
	require.NoError(t, repo.Update(ctx, got))

	all, err := repo.FindAll(ctx, repository.Filter{"enabled": true}, nil, repository.Page{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, 20, all[0].Priority)

	require.NoError(t, repo.Delete(ctx, "p1"))
	_, err = repo.Get(ctx, "p1")
	require.Error(t, err)
}

// TestDeleteProvider_Cascades checks that deleting a
// provider removes its ProviderConfig and ProviderModel rows.
func TestDeleteProvider_Cascades(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, Migrate(db))
	ctx := context.Background()

	providers := NewProviderRepository(db)
	configs := NewProviderConfigRepository(db)
	modelRepo := NewModelRepository(db)
	links := NewProviderModelRepository(db)

	require.NoError(t, providers.Create(ctx, &entity.Provider{ID: "p1", Name: "Primary", Type: entity.ProviderTypeOpenAI}))
	require.NoError(t, configs.Upsert(ctx, &entity.ProviderConfig{ProviderID: "p1", Key: "base_url", Value: `"https://x"`}))
	require.NoError(t, modelRepo.Create(ctx, &entity.Model{ID: "gpt-4", Name: "gpt-4"}))
	require.NoError(t, links.Link(ctx, &entity.ProviderModel{ProviderID: "p1", ModelID: "gpt-4", IsDefault: true}))

	require.NoError(t, providers.Delete(ctx, "p1"))

	cfgs, err := configs.FindByProvider(ctx, "p1")
	require.NoError(t, err)
	require.Empty(t, cfgs)

	linked, err := links.FindByProvider(ctx, "p1")
	require.NoError(t, err)
	require.Empty(t, linked)
}
