package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestWatchFile_ReloadsOnWrite(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)

	if err := Bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	configPath := filepath.Join(HomeDir(), "config.yaml")

	changed := make(chan *Config, 1)
	w, err := WatchFile(configPath, zap.NewNop(), func(cfg *Config) {
		changed <- cfg
	})
	if err != nil {
		t.Fatalf("WatchFile: %v", err)
	}
	defer w.Stop()

	updated := []byte("server:\n  host: 127.0.0.1\n  port: 9090\n")
	if err := os.WriteFile(configPath, updated, 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	select {
	case cfg := <-changed:
		if cfg.Server.Port != 9090 {
			t.Fatalf("expected reloaded port 9090, got %d", cfg.Server.Port)
		}
		if cfg.Server.Host != "127.0.0.1" {
			t.Fatalf("expected reloaded host 127.0.0.1, got %q", cfg.Server.Host)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config reload callback")
	}
}

func TestWatchFile_IgnoresOtherFiles(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)

	if err := Bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	configPath := filepath.Join(HomeDir(), "config.yaml")

	changed := make(chan *Config, 1)
	w, err := WatchFile(configPath, zap.NewNop(), func(cfg *Config) {
		changed <- cfg
	})
	if err != nil {
		t.Fatalf("WatchFile: %v", err)
	}
	defer w.Stop()

	other := filepath.Join(HomeDir(), "gateway.db")
	if err := os.WriteFile(other, []byte("not yaml"), 0644); err != nil {
		t.Fatalf("write unrelated file: %v", err)
	}

	select {
	case <-changed:
		t.Fatal("reload fired for an unrelated file")
	case <-time.After(500 * time.Millisecond):
	}
}
