package settingssync

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/openrelay/gateway/internal/domain/entity"
	"github.com/openrelay/gateway/internal/infrastructure/config"
	gerrors "github.com/openrelay/gateway/pkg/errors"
)

type fakeSettingRepo struct {
	rows map[string]entity.Setting
}

func newFakeSettingRepo() *fakeSettingRepo { return &fakeSettingRepo{rows: map[string]entity.Setting{}} }

func (f *fakeSettingRepo) Get(ctx context.Context, key string) (*entity.Setting, error) {
	s, ok := f.rows[key]
	if !ok {
		return nil, gerrors.NotFound("setting %q", key)
	}
	cp := s
	return &cp, nil
}
func (f *fakeSettingRepo) FindAll(ctx context.Context) ([]entity.Setting, error) {
	out := make([]entity.Setting, 0, len(f.rows))
	for _, s := range f.rows {
		out = append(out, s)
	}
	return out, nil
}
func (f *fakeSettingRepo) Upsert(ctx context.Context, s *entity.Setting) error {
	f.rows[s.Key] = *s
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database: config.DatabaseConfig{Type: "sqlite", Path: "/tmp/gateway.db"},
		Log:      config.LogConfig{Level: "info", Format: "json"},
		Session:  config.SessionConfig{TimeoutMS: 1800000, CleanupMS: 600000},
	}
}

func TestSync_DefaultsComeFromConfig(t *testing.T) {
	s := New(testConfig(), newFakeSettingRepo(), nil, zap.NewNop())
	if got := s.GetString("server.host"); got != "0.0.0.0" {
		t.Errorf("server.host = %q, want 0.0.0.0", got)
	}
	if got := s.GetInt("server.port"); got != 8080 {
		t.Errorf("server.port = %d, want 8080", got)
	}
}

func TestSync_LoadOverlaysStoreOverDefaults(t *testing.T) {
	repo := newFakeSettingRepo()
	repo.Upsert(context.Background(), &entity.Setting{Key: "server.port", Value: "9090", ValueType: entity.SettingTypeInt})

	s := New(testConfig(), repo, nil, zap.NewNop())
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := s.GetInt("server.port"); got != 9090 {
		t.Errorf("server.port after Load = %d, want 9090 (store should win)", got)
	}
	if got := s.GetString("server.host"); got != "0.0.0.0" {
		t.Errorf("server.host after Load = %q, want default 0.0.0.0 (not overridden in store)", got)
	}
}

func TestSync_UpdateSettingReportsRestartRequirement(t *testing.T) {
	s := New(testConfig(), newFakeSettingRepo(), nil, zap.NewNop())

	requiresRestart, err := s.UpdateSetting(context.Background(), "server.port", "9999", entity.SettingTypeInt)
	if err != nil {
		t.Fatalf("UpdateSetting: %v", err)
	}
	if !requiresRestart {
		t.Error("expected server.port change to require restart")
	}
	if got := s.GetInt("server.port"); got != 9999 {
		t.Errorf("server.port after update = %d, want 9999", got)
	}

	requiresRestart, err = s.UpdateSetting(context.Background(), "logging.level", "debug", entity.SettingTypeString)
	if err != nil {
		t.Fatalf("UpdateSetting: %v", err)
	}
	if requiresRestart {
		t.Error("expected logging.level change not to require restart")
	}
}

func TestSync_ReloadDefaultsLeavesStoreOwnedKeysAlone(t *testing.T) {
	repo := newFakeSettingRepo()
	repo.Upsert(context.Background(), &entity.Setting{Key: "server.port", Value: "9090", ValueType: entity.SettingTypeInt})

	s := New(testConfig(), repo, nil, zap.NewNop())
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	fresh := testConfig()
	fresh.Server.Port = 7000 // on-disk config.yaml edit
	fresh.Server.Host = "192.168.1.1"
	s.ReloadDefaults(fresh)

	if got := s.GetInt("server.port"); got != 9090 {
		t.Errorf("server.port after ReloadDefaults = %d, want 9090 (store row must not be clobbered)", got)
	}
	if got := s.GetString("server.host"); got != "192.168.1.1" {
		t.Errorf("server.host after ReloadDefaults = %q, want the new config default 192.168.1.1", got)
	}
}

func TestSync_UpdateSettingIgnoresUnrecognisedKeyInEffectiveView(t *testing.T) {
	s := New(testConfig(), newFakeSettingRepo(), nil, zap.NewNop())
	if _, err := s.UpdateSetting(context.Background(), "custom.extra", "hello", entity.SettingTypeString); err != nil {
		t.Fatalf("UpdateSetting: %v", err)
	}
	if _, ok := s.Get("custom.extra"); ok {
		t.Error("expected unrecognised key to be absent from the effective view")
	}
}
