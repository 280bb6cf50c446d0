// Package config loads the gateway's configuration: a config.yaml file
// merged with environment-variable overrides via viper. Settings rows in the store take final
// precedence over both (see internal/infrastructure/settingssync) — this
// package only produces the boot-time defaults that settingssync starts
// from.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the gateway's boot-time configuration, read once at startup
// and handed to the composition root.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Session  SessionConfig  `mapstructure:"session"`
	EventBus EventBusConfig `mapstructure:"event_bus"`
}

// ServerConfig controls the inbound HTTP listener.
type ServerConfig struct {
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	Timeout int    `mapstructure:"timeout"` // ms, default per-provider call timeout
}

// DatabaseConfig selects the store's backing SQL engine and location
// Type "sqlite" is the only path exercised at runtime; "postgres" is
// kept as an alternate dialector behind the same switch, an escape hatch
// for deployments that outgrow a single file.
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // sqlite, postgres
	Path string `mapstructure:"path"` // sqlite file path; ignored for postgres
	DSN  string `mapstructure:"dsn"`  // postgres connection string; ignored for sqlite
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// SessionConfig controls the session manager's TTL and sweep cadence.
type SessionConfig struct {
	TimeoutMS int `mapstructure:"timeout_ms"` // session TTL
	CleanupMS int `mapstructure:"cleanup_ms"` // sweep interval
}

// EventBusConfig selects the notification bus's durability. The
// default in-memory bus loses unread notifications across a crash;
// enabling Persistent trades a small amount of per-publish disk I/O for a
// WAL a restarted gateway can replay to reconnecting websocket clients.
type EventBusConfig struct {
	Persistent      bool   `mapstructure:"persistent"`
	WALDir          string `mapstructure:"wal_dir"`
	MaxWALSizeBytes int64  `mapstructure:"max_wal_size_bytes"`
}

// envBindings maps the recognised environment variables onto the
// viper keys they override. Precedence, lowest to highest: these defaults
// → environment → store-backed settings (applied later by settingssync).
var envBindings = map[string]string{
	"database.path":        "DB_PATH",
	"server.port":          "SERVER_PORT",
	"server.host":          "SERVER_HOST",
	"log.level":            "LOG_LEVEL",
	"session.timeout_ms":   "SESSION_TIMEOUT_MS",
	"session.cleanup_ms":   "SESSION_CLEANUP_MS",
	"event_bus.persistent": "EVENT_BUS_PERSISTENT",
	"event_bus.wal_dir":    "EVENT_BUS_WAL_DIR",
}

func defaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout", 30000)
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.path", HomeDir()+"/gateway.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("session.timeout_ms", 30*60*1000)
	v.SetDefault("session.cleanup_ms", 10*60*1000)
	v.SetDefault("event_bus.persistent", false)
	v.SetDefault("event_bus.wal_dir", HomeDir()+"/wal")
	v.SetDefault("event_bus.max_wal_size_bytes", 10*1024*1024)
}

// Load reads config.yaml from the gateway home directory (writing a
// default one on first run, see Bootstrap), merges environment overrides,
// and decodes into Config.
func Load() (*Config, error) {
	if err := Bootstrap(); err != nil {
		return nil, fmt.Errorf("bootstrap config home: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(HomeDir())

	defaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config.yaml: %w", err)
		}
	}

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}
