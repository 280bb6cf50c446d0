package persistence

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/openrelay/gateway/internal/infrastructure/persistence/models"
)

// migration is one sequentially numbered schema step. Both Up and Down
// must be idempotent: CREATE TABLE/INDEX use IF NOT EXISTS,
// and any future ADD COLUMN step must guard on column existence before
// running. Statements run inside a single transaction per migration so a
// failure partway through never leaves the schema half-applied.
type migration struct {
	Version int
	Up      []string
	Down    []string
}

// migrations is the full, append-only schema history. Never edit a
// released entry — add a new one with the next Version instead.
var migrations = []migration{
	{
		Version: 1,
		Up: []string{
			`CREATE TABLE IF NOT EXISTS providers (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				type TEXT NOT NULL,
				enabled INTEGER NOT NULL DEFAULT 0,
				priority INTEGER NOT NULL DEFAULT 0,
				description TEXT NOT NULL DEFAULT '',
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_providers_type ON providers(type)`,

			`CREATE TABLE IF NOT EXISTS provider_configs (
				provider_id TEXT NOT NULL REFERENCES providers(id) ON DELETE CASCADE,
				key TEXT NOT NULL,
				value TEXT NOT NULL DEFAULT '',
				is_sensitive INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (provider_id, key)
			)`,

			`CREATE TABLE IF NOT EXISTS models (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				capabilities TEXT NOT NULL DEFAULT ''
			)`,

			`CREATE TABLE IF NOT EXISTS provider_models (
				provider_id TEXT NOT NULL REFERENCES providers(id) ON DELETE CASCADE,
				model_id TEXT NOT NULL REFERENCES models(id) ON DELETE CASCADE,
				is_default INTEGER NOT NULL DEFAULT 0,
				config TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (provider_id, model_id)
			)`,

			`CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				chat_id TEXT NOT NULL DEFAULT '',
				parent_id TEXT NOT NULL DEFAULT '',
				first_user_message TEXT NOT NULL DEFAULT '',
				first_assistant TEXT NOT NULL DEFAULT '',
				conversation_hash TEXT NOT NULL DEFAULT '',
				message_count INTEGER NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL,
				last_accessed INTEGER NOT NULL,
				expires_at INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_conversation_hash ON sessions(conversation_hash)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at)`,

			`CREATE TABLE IF NOT EXISTS requests (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				request_id TEXT NOT NULL UNIQUE,
				session_id TEXT REFERENCES sessions(id) ON DELETE CASCADE,
				openai_request TEXT NOT NULL DEFAULT '',
				qwen_request TEXT NOT NULL DEFAULT '',
				model TEXT NOT NULL DEFAULT '',
				stream INTEGER NOT NULL DEFAULT 0,
				method TEXT NOT NULL DEFAULT '',
				path TEXT NOT NULL DEFAULT '',
				timestamp INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_requests_session_id ON requests(session_id)`,
			`CREATE INDEX IF NOT EXISTS idx_requests_timestamp ON requests(timestamp)`,

			`CREATE TABLE IF NOT EXISTS responses (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				response_id TEXT NOT NULL UNIQUE,
				request_id INTEGER NOT NULL UNIQUE REFERENCES requests(id) ON DELETE CASCADE,
				session_id TEXT REFERENCES sessions(id) ON DELETE CASCADE,
				qwen_response TEXT NOT NULL DEFAULT '',
				openai_response TEXT NOT NULL DEFAULT '',
				parent_id TEXT NOT NULL DEFAULT '',
				prompt_tokens INTEGER NOT NULL DEFAULT 0,
				completion_tokens INTEGER NOT NULL DEFAULT 0,
				total_tokens INTEGER NOT NULL DEFAULT 0,
				finish_reason TEXT NOT NULL DEFAULT '',
				error TEXT NOT NULL DEFAULT '',
				duration_ms INTEGER NOT NULL DEFAULT 0,
				timestamp INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_responses_timestamp ON responses(timestamp)`,

			`CREATE TABLE IF NOT EXISTS error_records (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				error_id TEXT NOT NULL UNIQUE,
				error_type TEXT NOT NULL,
				severity TEXT NOT NULL,
				session_id TEXT REFERENCES sessions(id) ON DELETE SET NULL,
				request_id INTEGER REFERENCES requests(id) ON DELETE SET NULL,
				payload TEXT NOT NULL DEFAULT '',
				resolved INTEGER NOT NULL DEFAULT 0,
				timestamp INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_error_records_timestamp ON error_records(timestamp)`,
			`CREATE INDEX IF NOT EXISTS idx_error_records_type ON error_records(error_type)`,

			`CREATE TABLE IF NOT EXISTS settings (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL DEFAULT '',
				value_type TEXT NOT NULL DEFAULT 'string',
				updated_at INTEGER NOT NULL
			)`,

			`CREATE TABLE IF NOT EXISTS credentials (
				backend TEXT PRIMARY KEY,
				token TEXT NOT NULL DEFAULT '',
				cookies TEXT NOT NULL DEFAULT '',
				expires_at INTEGER NOT NULL DEFAULT 0,
				stale INTEGER NOT NULL DEFAULT 0,
				updated_at INTEGER NOT NULL
			)`,
		},
		Down: []string{
			`DROP TABLE IF EXISTS credentials`,
			`DROP TABLE IF EXISTS settings`,
			`DROP TABLE IF EXISTS error_records`,
			`DROP TABLE IF EXISTS responses`,
			`DROP TABLE IF EXISTS requests`,
			`DROP TABLE IF EXISTS sessions`,
			`DROP TABLE IF EXISTS provider_models`,
			`DROP TABLE IF EXISTS models`,
			`DROP TABLE IF EXISTS provider_configs`,
			`DROP TABLE IF EXISTS providers`,
		},
	},
}

// Migrate brings the schema up to the latest version, tracked in the
// single-row metadata table. Running it twice in sequence is a no-op the
// second time: every statement is guarded with
// IF NOT EXISTS, and the version check skips migrations already applied.
// A failure aborts the process rather than partially applying
// — Migrate returns the error for the caller to treat as fatal.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Metadata{}); err != nil {
		return fmt.Errorf("ensure metadata table: %w", err)
	}

	var meta models.Metadata
	if err := db.FirstOrCreate(&meta, models.Metadata{ID: 1}).Error; err != nil {
		return fmt.Errorf("load schema metadata: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= meta.SchemaVersion {
			continue
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			for _, stmt := range m.Up {
				if err := tx.Exec(stmt).Error; err != nil {
					return fmt.Errorf("migration %d: %w", m.Version, err)
				}
			}
			return tx.Model(&models.Metadata{}).Where("id = ?", 1).Update("schema_version", m.Version).Error
		})
		if err != nil {
			return err
		}
		meta.SchemaVersion = m.Version
	}
	return nil
}

// downTo reverts migrations above target, in reverse order. Nothing in the
// gateway calls it: the CLI's `migrate --dry-run` only reports pending
// work, and the tests exercise the up direction only.
func downTo(db *gorm.DB, target int) error {
	var meta models.Metadata
	if err := db.FirstOrCreate(&meta, models.Metadata{ID: 1}).Error; err != nil {
		return err
	}
	for i := len(migrations) - 1; i >= 0; i-- {
		m := migrations[i]
		if m.Version <= target || m.Version > meta.SchemaVersion {
			continue
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			for _, stmt := range m.Down {
				if err := tx.Exec(stmt).Error; err != nil {
					return fmt.Errorf("revert migration %d: %w", m.Version, err)
				}
			}
			return tx.Model(&models.Metadata{}).Where("id = ?", 1).Update("schema_version", target).Error
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// SchemaVersion reports the currently-applied schema version, used by the
// CLI's `migrate --dry-run` to show pending work without applying it.
// Works against a raw (unmigrated) connection: a database with no
// metadata table yet is simply at version 0.
func SchemaVersion(db *gorm.DB) (int, error) {
	if !db.Migrator().HasTable(&models.Metadata{}) {
		return 0, nil
	}
	var meta models.Metadata
	if err := db.FirstOrCreate(&meta, models.Metadata{ID: 1}).Error; err != nil {
		return 0, err
	}
	return meta.SchemaVersion, nil
}

// LatestVersion is the newest schema version this binary knows about.
func LatestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
