// Package settingssync merges store-backed settings over the boot-time
// config defaults and environment overrides. The merged view
// is what the rest of the gateway reads at runtime; the config package's
// job ends once this package has booted from it.
package settingssync

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openrelay/gateway/internal/domain/entity"
	"github.com/openrelay/gateway/internal/domain/repository"
	"github.com/openrelay/gateway/internal/infrastructure/config"
	"github.com/openrelay/gateway/internal/infrastructure/eventbus"
	gerrors "github.com/openrelay/gateway/pkg/errors"
)

// RecognisedKeys is the closed set of settings the gateway interprets.
// Any other key an operator writes through the admin API is still
// persisted, but Sync.Get ignores it — unrecognised keys are accepted,
// not rejected.
var RecognisedKeys = []string{
	"active_provider",
	"active_model",
	"server.host",
	"server.port",
	"server.timeout",
	"logging.level",
	"logging.logRequests",
	"logging.logResponses",
	"system.autoStart",
	"session.timeout_ms",
	"session.cleanup_ms",
	"database.path",
}

// RestartAffectingKeys is the static table behind updateSetting's
// requires_restart hint: these keys affect bind-time state that can't be
// changed without a process restart.
var RestartAffectingKeys = map[string]bool{
	"server.port": true,
	"server.host": true,
}

func recognised(key string) bool {
	for _, k := range RecognisedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Sync holds the merged effective settings: config defaults and
// environment overrides, overlaid by any matching store row.
type Sync struct {
	mu        sync.RWMutex
	values    map[string]entity.Setting
	storeKeys map[string]bool // keys whose current value came from a store row, not a config default

	cfg    *config.Config
	repo   repository.SettingRepository
	bus    eventbus.Bus
	logger *zap.Logger
}

func New(cfg *config.Config, repo repository.SettingRepository, bus eventbus.Bus, logger *zap.Logger) *Sync {
	return &Sync{
		values:    defaultsFromConfig(cfg),
		storeKeys: map[string]bool{},
		cfg:       cfg,
		repo:      repo,
		bus:       bus,
		logger:    logger.With(zap.String("component", "settingssync")),
	}
}

// Load reads every stored setting and overlays the recognised ones onto
// the config defaults, store winning over environment winning over
// defaults.
func (s *Sync) Load(ctx context.Context) error {
	rows, err := s.repo.FindAll(ctx)
	if err != nil {
		return gerrors.Store("load settings", err)
	}

	values := defaultsFromConfig(s.cfg)
	storeKeys := map[string]bool{}
	for _, row := range rows {
		if recognised(row.Key) {
			values[row.Key] = row
			storeKeys[row.Key] = true
		}
	}

	s.mu.Lock()
	s.values = values
	s.storeKeys = storeKeys
	s.mu.Unlock()
	return nil
}

// ReloadDefaults re-merges the config-default layer from a freshly parsed
// Config (the lowest-precedence layer) without disturbing any
// store-backed row already overlaid on top of it. Used when the config
// watcher (internal/infrastructure/config.Watcher) picks up an on-disk
// edit to config.yaml.
func (s *Sync) ReloadDefaults(cfg *config.Config) {
	fresh := defaultsFromConfig(cfg)

	s.mu.Lock()
	s.cfg = cfg
	for key, row := range fresh {
		if !s.storeKeys[key] {
			s.values[key] = row
		}
	}
	s.mu.Unlock()
}

// Get returns the effective setting for key, if recognised.
func (s *Sync) Get(key string) (entity.Setting, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// GetString returns the effective string value for key, or "" if unset.
func (s *Sync) GetString(key string) string {
	v, ok := s.Get(key)
	if !ok {
		return ""
	}
	return v.Value
}

// GetInt returns the effective int value for key, or 0 if unset or
// unparsable.
func (s *Sync) GetInt(key string) int {
	v, ok := s.Get(key)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v.Value)
	if err != nil {
		return 0
	}
	return n
}

// ActiveProvider returns the "active_provider" setting the dispatcher
// resolves first when routing a chat call.
func (s *Sync) ActiveProvider() string {
	return s.GetString("active_provider")
}

// ActiveModel returns the "active_model" setting, used as the model a
// chat call falls back to when the client omits one.
func (s *Sync) ActiveModel() string {
	return s.GetString("active_model")
}

// UpdateSetting writes key through to the store, updates the in-memory
// effective view if the key is recognised, publishes settings-changed,
// and reports whether the change requires a process restart to take
// effect.
func (s *Sync) UpdateSetting(ctx context.Context, key, value string, valueType entity.SettingValueType) (bool, error) {
	row := entity.Setting{
		Key:       key,
		Value:     value,
		ValueType: valueType,
		UpdatedAt: time.Now().UnixMilli(),
	}
	if err := s.repo.Upsert(ctx, &row); err != nil {
		return false, err
	}

	if recognised(key) {
		s.mu.Lock()
		s.values[key] = row
		s.storeKeys[key] = true
		s.mu.Unlock()
	}

	requiresRestart := RestartAffectingKeys[key]
	if s.bus != nil {
		s.bus.Publish(ctx, eventbus.NewEvent(eventbus.EventSettingsChanged, eventbus.SettingsChangedPayload{
			Key:             key,
			Value:           value,
			RequiresRestart: requiresRestart,
		}))
	}
	return requiresRestart, nil
}

func defaultsFromConfig(cfg *config.Config) map[string]entity.Setting {
	now := time.Now().UnixMilli()
	str := func(key, value string) entity.Setting {
		return entity.Setting{Key: key, Value: value, ValueType: entity.SettingTypeString, UpdatedAt: now}
	}
	num := func(key string, value int) entity.Setting {
		return entity.Setting{Key: key, Value: strconv.Itoa(value), ValueType: entity.SettingTypeInt, UpdatedAt: now}
	}
	boolean := func(key string, value bool) entity.Setting {
		return entity.Setting{Key: key, Value: strconv.FormatBool(value), ValueType: entity.SettingTypeBool, UpdatedAt: now}
	}
	return map[string]entity.Setting{
		"active_provider":      str("active_provider", ""),
		"active_model":         str("active_model", ""),
		"server.host":          str("server.host", cfg.Server.Host),
		"server.port":          num("server.port", cfg.Server.Port),
		"server.timeout":       num("server.timeout", cfg.Server.Timeout),
		"logging.level":        str("logging.level", cfg.Log.Level),
		"logging.logRequests":  boolean("logging.logRequests", true),
		"logging.logResponses": boolean("logging.logResponses", true),
		"system.autoStart":     boolean("system.autoStart", false),
		"session.timeout_ms":   num("session.timeout_ms", cfg.Session.TimeoutMS),
		"session.cleanup_ms":   num("session.cleanup_ms", cfg.Session.CleanupMS),
		"database.path":        str("database.path", cfg.Database.Path),
	}
}
