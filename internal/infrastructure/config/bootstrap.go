package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// AppName is the canonical application name.
const AppName = "openrelay"

// HomeDir returns the gateway's configuration home: ~/.openrelay.
func HomeDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+AppName)
}

// Bootstrap ensures the ~/.openrelay directory exists with a default
// config.yaml. Safe to call multiple times — it never overwrites an
// existing file, only fills in what's missing.
func Bootstrap() error {
	root := HomeDir()
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("create config home %s: %w", root, err)
	}

	configPath := filepath.Join(root, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return nil
	}

	body, err := defaultConfigYAML()
	if err != nil {
		return fmt.Errorf("render default config.yaml: %w", err)
	}
	return os.WriteFile(configPath, body, 0644)
}

// defaultConfigDoc mirrors Config's shape with yaml tags and inline
// comments, kept separate from Config (which carries viper's mapstructure
// tags) so the generated file reads like a hand-written one.
type defaultConfigDoc struct {
	Server struct {
		Host    string `yaml:"host"`
		Port    int    `yaml:"port"`
		Timeout int    `yaml:"timeout"` // ms, default per-provider upstream call timeout
	} `yaml:"server"`
	Database struct {
		Type string `yaml:"type"`
		Path string `yaml:"path"`
	} `yaml:"database"`
	Log struct {
		Level  string `yaml:"level"`  // debug, info, warn, error
		Format string `yaml:"format"` // json, console
	} `yaml:"log"`
	Session struct {
		TimeoutMS int `yaml:"timeout_ms"` // 30 minutes
		CleanupMS int `yaml:"cleanup_ms"` // 10 minutes
	} `yaml:"session"`
	EventBus struct {
		Persistent      bool   `yaml:"persistent"`          // write a WAL under wal_dir for crash-recovery replay
		WALDir          string `yaml:"wal_dir"`
		MaxWALSizeBytes int64  `yaml:"max_wal_size_bytes"` // rotate past this size
	} `yaml:"event_bus"`
}

// defaultConfigYAML renders the first-run config.yaml: a short header
// comment followed by defaultConfigDoc marshaled with yaml.v3.
func defaultConfigYAML() ([]byte, error) {
	var doc defaultConfigDoc
	doc.Server.Host = "0.0.0.0"
	doc.Server.Port = 8080
	doc.Server.Timeout = 30000
	doc.Database.Type = "sqlite"
	doc.Database.Path = "~/.openrelay/gateway.db"
	doc.Log.Level = "info"
	doc.Log.Format = "json"
	doc.Session.TimeoutMS = 30 * 60 * 1000
	doc.Session.CleanupMS = 10 * 60 * 1000
	doc.EventBus.Persistent = false
	doc.EventBus.WALDir = "~/.openrelay/wal"
	doc.EventBus.MaxWALSizeBytes = 10 * 1024 * 1024

	var buf bytes.Buffer
	buf.WriteString("# openrelay gateway configuration\n")
	buf.WriteString("# Auto-generated on first launch — feel free to edit.\n")
	buf.WriteString("# Settings rows written through the admin API take precedence over\n")
	buf.WriteString("# everything in this file; this file only seeds the defaults that apply\n")
	buf.WriteString("# before the store has any settings rows of its own.\n\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
