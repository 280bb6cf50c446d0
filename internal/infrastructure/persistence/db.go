// Package persistence is the gateway's store: a gorm
// connection opened with WAL journaling, foreign keys and a busy timeout,
// a hand-rolled idempotent migration runner (migrations.go, NOT gorm's
// AutoMigrate, which can't express numbered up/down steps), and one
// generic repository base (generic.go) wrapped by a concrete, entity-typed
// repository per table.
package persistence

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/openrelay/gateway/internal/infrastructure/config"
)

// Open connects to the store per cfg, runs migrations, and clears the
// Session table: a client's message history survives a restart, but the
// upstream's parent_id chain does not, so stale sessions would
// desynchronise the two.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := OpenRaw(cfg)
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if err := db.Exec("DELETE FROM sessions").Error; err != nil {
		return nil, fmt.Errorf("clear sessions on boot: %w", err)
	}

	return db, nil
}

// OpenRaw connects to the store without running migrations or the boot
// side-effects. Used by the CLI's migrate command, which needs to inspect
// the current schema version before deciding whether (and what) to apply.
func OpenRaw(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func dialectorFor(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Type {
	case "", "sqlite":
		path := expandHome(cfg.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
		return sqlite.Open(dsn), nil
	case "postgres":
		// The only path ever opened in tests or the default config is
		// sqlite; the postgres dialector is an escape hatch for
		// deployments that outgrow a single file.
		return postgres.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
