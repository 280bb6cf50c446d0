package bootstrap

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/openrelay/gateway/internal/application"
	"github.com/openrelay/gateway/internal/infrastructure/config"
	"github.com/openrelay/gateway/internal/infrastructure/credential"
	"github.com/openrelay/gateway/internal/infrastructure/eventbus"
	"github.com/openrelay/gateway/internal/infrastructure/logger"
	"github.com/openrelay/gateway/internal/infrastructure/persistence"
	"github.com/openrelay/gateway/internal/infrastructure/registry"
	"github.com/openrelay/gateway/internal/infrastructure/session"
	"github.com/openrelay/gateway/internal/infrastructure/settingssync"
	httpiface "github.com/openrelay/gateway/internal/interfaces/http"
	"github.com/openrelay/gateway/internal/interfaces/http/handlers"
	"github.com/openrelay/gateway/internal/interfaces/websocket"

	// Blank-imported for their init()-time RegisterFactory side effects:
	// every supported provider type must be linked into the
	// binary even though nothing here calls them by name.
	_ "github.com/openrelay/gateway/internal/infrastructure/llm/localopenai"
	_ "github.com/openrelay/gateway/internal/infrastructure/llm/openai"
	_ "github.com/openrelay/gateway/internal/infrastructure/llm/qwenweb"
)

// App is the fully wired gateway process: every repository, the registry,
// the dispatcher, and the two external surfaces (HTTP, websocket).
type App struct {
	cfg         *config.Config
	logger      *zap.Logger
	session     *session.Manager
	bus         eventbus.Bus
	registry    *registry.Registry
	settings    *settingssync.Sync
	dispatcher  *application.Dispatcher
	server      *httpiface.Server
	configWatch *config.Watcher
}

// newEventBus builds the notification bus per cfg.EventBus. The
// second return value is non-nil only when persistence is enabled, so the
// caller can Replay() once every subscriber has registered without a type
// assertion back out of the eventbus.Bus interface.
func newEventBus(cfg config.EventBusConfig, log *zap.Logger) (eventbus.Bus, *eventbus.PersistentBus, error) {
	if !cfg.Persistent {
		return eventbus.NewInMemoryBus(log, 256), nil, nil
	}

	walBus, err := eventbus.NewPersistentBus(eventbus.PersistentBusConfig{
		WALDir:     cfg.WALDir,
		BufferSize: 256,
		MaxWALSize: cfg.MaxWALSizeBytes,
	}, log)
	if err != nil {
		return nil, nil, err
	}
	return walBus, walBus, nil
}

// NewApp boots every layer of the gateway: config, logger, store, event
// bus, credential store, session manager, provider registry, settings
// sync, dispatcher, and finally the HTTP/websocket surfaces.
func NewApp() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: "stdout",
	})
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	db, err := persistence.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	providerRepo := persistence.NewProviderRepository(db)
	configRepo := persistence.NewProviderConfigRepository(db)
	modelRepo := persistence.NewModelRepository(db)
	linkRepo := persistence.NewProviderModelRepository(db)
	sessionRepo := persistence.NewSessionRepository(db)
	requestRepo := persistence.NewRequestRepository(db)
	responseRepo := persistence.NewResponseRepository(db)
	errorRepo := persistence.NewErrorRepository(db)
	settingRepo := persistence.NewSettingRepository(db)
	credentialRepo := persistence.NewCredentialRepository(db)

	bus, walBus, err := newEventBus(cfg.EventBus, log)
	if err != nil {
		return nil, fmt.Errorf("open event bus: %w", err)
	}

	credStore := credential.New(credentialRepo, bus)

	sessionMgr := session.New(sessionRepo, bus, log,
		time.Duration(cfg.Session.TimeoutMS)*time.Millisecond,
		time.Duration(cfg.Session.CleanupMS)*time.Millisecond)
	sessionMgr.StartSweepLoop()

	reg := registry.New(providerRepo, configRepo, bus, log, sessionMgr, credStore)
	if err := reg.LoadAll(context.Background()); err != nil {
		log.Warn("load providers at startup", zap.Error(err))
	}

	settings := settingssync.New(cfg, settingRepo, bus, log)
	if err := settings.Load(context.Background()); err != nil {
		log.Warn("load settings at startup", zap.Error(err))
	}

	dispatcher := application.New(reg, providerRepo, linkRepo, requestRepo, responseRepo, errorRepo, settings, bus, log)

	openaiHandler := handlers.NewOpenAIHandler(dispatcher, log)
	adminHandler := handlers.NewAdminHandler(
		providerRepo, configRepo, modelRepo, linkRepo, sessionRepo,
		requestRepo, responseRepo, errorRepo, settingRepo,
		reg, settings, credStore, log,
	)
	hub := websocket.NewHub(bus, log)
	server := httpiface.NewServer(cfg.Server.Host, cfg.Server.Port, openaiHandler, adminHandler, hub, log)

	if walBus != nil {
		if n, err := walBus.Replay(context.Background()); err != nil {
			log.Warn("replay event WAL", zap.Error(err))
		} else if n > 0 {
			log.Info("replayed event WAL from prior run", zap.Int("events", n))
		}
	}

	configPath := filepath.Join(config.HomeDir(), "config.yaml")
	watcher, err := config.WatchFile(configPath, log, func(fresh *config.Config) {
		settings.ReloadDefaults(fresh)
		bus.Publish(context.Background(), eventbus.NewEvent(eventbus.EventSettingsChanged, eventbus.SettingsChangedPayload{
			Key: "config.yaml",
		}))
	})
	if err != nil {
		log.Warn("start config.yaml watcher", zap.Error(err))
	}

	return &App{
		cfg:         cfg,
		logger:      log,
		session:     sessionMgr,
		bus:         bus,
		registry:    reg,
		settings:    settings,
		dispatcher:  dispatcher,
		server:      server,
		configWatch: watcher,
	}, nil
}

// Run starts the HTTP listener and blocks until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	return a.server.Run(ctx)
}

// Shutdown stops the config watcher and the session sweep loop, unloads
// every loaded provider (releasing its transport resources), and closes
// the event bus last, in that order so late events still have a bus to
// publish to.
func (a *App) Shutdown() {
	if a.configWatch != nil {
		a.configWatch.Stop()
	}
	a.session.Stop()
	for _, id := range a.registry.Loaded() {
		if err := a.registry.Unload(context.Background(), id); err != nil {
			a.logger.Warn("unload provider on shutdown", zap.String("provider_id", id), zap.Error(err))
		}
	}
	a.bus.Close()
	a.logger.Sync()
}

// Logger exposes the process-wide logger for cmd/gateway's own log lines.
func (a *App) Logger() *zap.Logger { return a.logger }
