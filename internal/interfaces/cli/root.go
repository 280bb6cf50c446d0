// Package cli implements the gateway's operator-facing command line:
// provider and model management, settings, migrations, and
// read-only history/stats, all driven through the same repositories and
// registry the HTTP admin surface uses.
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/openrelay/gateway/internal/domain/entity"
	"github.com/openrelay/gateway/internal/domain/repository"
	"github.com/openrelay/gateway/internal/infrastructure/config"
	"github.com/openrelay/gateway/internal/infrastructure/credential"
	"github.com/openrelay/gateway/internal/infrastructure/eventbus"
	"github.com/openrelay/gateway/internal/infrastructure/logger"
	"github.com/openrelay/gateway/internal/infrastructure/persistence"
	"github.com/openrelay/gateway/internal/infrastructure/registry"
	"github.com/openrelay/gateway/internal/infrastructure/session"
	"github.com/openrelay/gateway/internal/infrastructure/settingssync"

	_ "github.com/openrelay/gateway/internal/infrastructure/llm/localopenai"
	_ "github.com/openrelay/gateway/internal/infrastructure/llm/openai"
	_ "github.com/openrelay/gateway/internal/infrastructure/llm/qwenweb"
)

// env bundles every dependency a CLI command needs; built lazily so a
// --help invocation never has to open the store.
type env struct {
	cfg         *config.Config
	db          *gorm.DB
	logger      *zap.Logger
	providers   repository.ProviderRepository
	configs     repository.ProviderConfigRepository
	models      repository.ModelRepository
	links       repository.ProviderModelRepository
	requests    repository.RequestRepository
	responses   repository.ResponseRepository
	settingRepo repository.SettingRepository
	credRepo    repository.CredentialRepository
	bus         eventbus.Bus
	registry    *registry.Registry
	settings    *settingssync.Sync
}

func newEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.NewLogger(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, OutputPath: "stdout"})
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	db, err := persistence.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	e := &env{
		cfg:         cfg,
		db:          db,
		logger:      log,
		providers:   persistence.NewProviderRepository(db),
		configs:     persistence.NewProviderConfigRepository(db),
		models:      persistence.NewModelRepository(db),
		links:       persistence.NewProviderModelRepository(db),
		requests:    persistence.NewRequestRepository(db),
		responses:   persistence.NewResponseRepository(db),
		settingRepo: persistence.NewSettingRepository(db),
		credRepo:    persistence.NewCredentialRepository(db),
		bus:         eventbus.NewInMemoryBus(log, 64),
	}
	sessionRepo := persistence.NewSessionRepository(db)
	sessionMgr := session.New(sessionRepo, e.bus, log, 0, 0)
	credStore := credential.New(e.credRepo, e.bus)
	e.registry = registry.New(e.providers, e.configs, e.bus, log, sessionMgr, credStore)
	e.settings = settingssync.New(cfg, e.settingRepo, e.bus, log)
	if err := e.settings.Load(context.Background()); err != nil {
		return nil, err
	}
	return e, nil
}

func fail(cmd *cobra.Command, err error) error {
	cmd.SilenceUsage = true
	return err
}

// NewRootCommand builds the gateway CLI's cobra command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "gateway-cli",
		Short: "Operate the openrelay gateway: providers, models, settings, history",
	}
	root.AddCommand(
		newMigrateCommand(),
		newProviderCommand(),
		newModelCommand(),
		newSettingsCommand(),
		newHistoryCommand(),
		newStatsCommand(),
		newSetCommand(),
		newStatusCommand(),
	)
	return root
}

func newMigrateCommand() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fail(cmd, err)
			}
			db, err := persistence.OpenRaw(cfg.Database)
			if err != nil {
				return fail(cmd, err)
			}
			current, err := persistence.SchemaVersion(db)
			if err != nil {
				return fail(cmd, err)
			}
			latest := persistence.LatestVersion()
			if dryRun {
				if current < latest {
					fmt.Printf("current version: %d, pending: %d..%d\n", current, current+1, latest)
				} else {
					fmt.Printf("current version: %d, nothing pending\n", current)
				}
				return nil
			}
			if err := persistence.Migrate(db); err != nil {
				return fail(cmd, err)
			}
			fmt.Printf("migrated to version %d\n", latest)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report pending migrations without applying them")
	return cmd
}

func newProviderCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "provider", Short: "Manage configured providers"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List configured providers",
			RunE: func(cmd *cobra.Command, args []string) error {
				e, err := newEnv()
				if err != nil {
					return fail(cmd, err)
				}
				rows, err := e.providers.FindAll(cmd.Context(), nil, []repository.Order{{Column: "priority", Desc: true}}, repository.Page{Limit: 200})
				if err != nil {
					return fail(cmd, err)
				}
				for _, p := range rows {
					fmt.Printf("%-20s %-12s enabled=%-5t priority=%d\n", p.ID, p.Type, p.Enabled, p.Priority)
				}
				return nil
			},
		},
		newProviderAddCommand(),
		newProviderEditCommand(),
		&cobra.Command{
			Use:   "enable <id>",
			Args:  cobra.ExactArgs(1),
			Short: "Enable and load a provider",
			RunE:  providerToggle(true),
		},
		&cobra.Command{
			Use:   "disable <id>",
			Args:  cobra.ExactArgs(1),
			Short: "Disable and unload a provider",
			RunE:  providerToggle(false),
		},
		&cobra.Command{
			Use:   "remove <id>",
			Args:  cobra.ExactArgs(1),
			Short: "Delete a provider and its configuration",
			RunE: func(cmd *cobra.Command, args []string) error {
				e, err := newEnv()
				if err != nil {
					return fail(cmd, err)
				}
				_ = e.registry.Unload(cmd.Context(), args[0])
				if err := e.configs.DeleteByProvider(cmd.Context(), args[0]); err != nil {
					return fail(cmd, err)
				}
				if err := e.providers.Delete(cmd.Context(), args[0]); err != nil {
					return fail(cmd, err)
				}
				fmt.Println("removed", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "test <id>",
			Args:  cobra.ExactArgs(1),
			Short: "Run a health check against a loaded provider",
			RunE: func(cmd *cobra.Command, args []string) error {
				e, err := newEnv()
				if err != nil {
					return fail(cmd, err)
				}
				if err := e.registry.Load(cmd.Context(), args[0]); err != nil {
					return fail(cmd, err)
				}
				inst, ok := e.registry.Get(args[0])
				if !ok {
					return fail(cmd, fmt.Errorf("provider %q failed to load", args[0]))
				}
				status, err := inst.HealthCheck(cmd.Context())
				if err != nil {
					return fail(cmd, err)
				}
				fmt.Printf("healthy=%t latency_ms=%d message=%q\n", status.Healthy, status.LatencyMS, status.Message)
				return nil
			},
		},
	)
	return cmd
}

func providerToggle(enabled bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return fail(cmd, err)
		}
		p, err := e.providers.Get(cmd.Context(), args[0])
		if err != nil {
			return fail(cmd, err)
		}
		p.Enabled = enabled
		p.UpdatedAt = time.Now()
		if err := e.providers.Update(cmd.Context(), p); err != nil {
			return fail(cmd, err)
		}
		if enabled {
			if err := e.registry.Load(cmd.Context(), args[0]); err != nil {
				return fail(cmd, err)
			}
		} else {
			if err := e.registry.Unload(cmd.Context(), args[0]); err != nil {
				return fail(cmd, err)
			}
		}
		fmt.Println("ok")
		return nil
	}
}

func newProviderAddCommand() *cobra.Command {
	var name, typ, description string
	var priority int
	var enabled bool
	cmd := &cobra.Command{
		Use:   "add <id>",
		Args:  cobra.ExactArgs(1),
		Short: "Register a new provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv()
			if err != nil {
				return fail(cmd, err)
			}
			now := time.Now()
			p := &entity.Provider{
				ID: args[0], Name: name, Type: entity.ProviderType(typ),
				Enabled: enabled, Priority: priority, Description: description,
				CreatedAt: now, UpdatedAt: now,
			}
			if err := e.providers.Create(cmd.Context(), p); err != nil {
				return fail(cmd, err)
			}
			fmt.Println("created", p.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&typ, "type", "", "provider type: openai, local-openai, qwen-web")
	cmd.Flags().StringVar(&description, "description", "", "free-text description")
	cmd.Flags().IntVar(&priority, "priority", 0, "routing priority, higher wins ties")
	cmd.Flags().BoolVar(&enabled, "enabled", false, "create the provider enabled (it is not loaded by this command)")
	cmd.MarkFlagRequired("type")
	return cmd
}

func newProviderEditCommand() *cobra.Command {
	var name, description string
	var priority int
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Args:  cobra.ExactArgs(1),
		Short: "Update a provider's name, priority or description",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv()
			if err != nil {
				return fail(cmd, err)
			}
			p, err := e.providers.Get(cmd.Context(), args[0])
			if err != nil {
				return fail(cmd, err)
			}
			// Only flags the operator actually passed are applied; an
			// omitted flag leaves the stored value alone.
			if cmd.Flags().Changed("name") {
				p.Name = name
			}
			if cmd.Flags().Changed("priority") {
				p.Priority = priority
			}
			if cmd.Flags().Changed("description") {
				p.Description = description
			}
			p.UpdatedAt = time.Now()
			if err := e.providers.Update(cmd.Context(), p); err != nil {
				return fail(cmd, err)
			}
			if p.Enabled {
				if err := e.registry.Reload(cmd.Context(), p.ID); err != nil {
					return fail(cmd, err)
				}
			}
			fmt.Println("updated", p.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&description, "description", "", "free-text description")
	cmd.Flags().IntVar(&priority, "priority", 0, "routing priority, higher wins ties")
	return cmd
}

func newModelCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "model", Short: "Manage model catalog entries and provider links"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List catalog models",
			RunE: func(cmd *cobra.Command, args []string) error {
				e, err := newEnv()
				if err != nil {
					return fail(cmd, err)
				}
				rows, err := e.models.FindAll(cmd.Context(), nil, nil, repository.Page{Limit: 500})
				if err != nil {
					return fail(cmd, err)
				}
				for _, m := range rows {
					fmt.Printf("%-20s %s\n", m.ID, m.Name)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "add <id> <name>",
			Args:  cobra.ExactArgs(2),
			Short: "Add a catalog model",
			RunE: func(cmd *cobra.Command, args []string) error {
				e, err := newEnv()
				if err != nil {
					return fail(cmd, err)
				}
				m := &entity.Model{ID: args[0], Name: args[1]}
				if err := e.models.Create(cmd.Context(), m); err != nil {
					return fail(cmd, err)
				}
				fmt.Println("created", m.ID)
				return nil
			},
		},
		&cobra.Command{
			Use:   "link <provider-id> <model-id>",
			Args:  cobra.ExactArgs(2),
			Short: "Link a model to a provider",
			RunE: func(cmd *cobra.Command, args []string) error {
				e, err := newEnv()
				if err != nil {
					return fail(cmd, err)
				}
				link := &entity.ProviderModel{ProviderID: args[0], ModelID: args[1]}
				if err := e.links.Link(cmd.Context(), link); err != nil {
					return fail(cmd, err)
				}
				fmt.Println("linked")
				return nil
			},
		},
		&cobra.Command{
			Use:   "unlink <provider-id> <model-id>",
			Args:  cobra.ExactArgs(2),
			Short: "Unlink a model from a provider",
			RunE: func(cmd *cobra.Command, args []string) error {
				e, err := newEnv()
				if err != nil {
					return fail(cmd, err)
				}
				if err := e.links.Unlink(cmd.Context(), args[0], args[1]); err != nil {
					return fail(cmd, err)
				}
				fmt.Println("unlinked")
				return nil
			},
		},
	)
	return cmd
}

func newSettingsCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "settings", Short: "Get or set effective settings"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <key>",
			Args:  cobra.ExactArgs(1),
			Short: "Print the effective value of a setting",
			RunE: func(cmd *cobra.Command, args []string) error {
				e, err := newEnv()
				if err != nil {
					return fail(cmd, err)
				}
				v, ok := e.settings.Get(args[0])
				if !ok {
					return fail(cmd, fmt.Errorf("unrecognised setting %q", args[0]))
				}
				fmt.Println(v.Value)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Args:  cobra.ExactArgs(2),
			Short: "Write a setting",
			RunE: func(cmd *cobra.Command, args []string) error {
				e, err := newEnv()
				if err != nil {
					return fail(cmd, err)
				}
				restart, err := e.settings.UpdateSetting(cmd.Context(), args[0], args[1], entity.SettingTypeString)
				if err != nil {
					return fail(cmd, err)
				}
				if restart {
					fmt.Println("ok (requires restart to take effect)")
				} else {
					fmt.Println("ok")
				}
				return nil
			},
		},
	)
	return cmd
}

func newHistoryCommand() *cobra.Command {
	var providerID string
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv()
			if err != nil {
				return fail(cmd, err)
			}
			// Requests aren't provider-scoped at the store level; the
			// --provider filter goes through the provider's linked
			// models instead.
			linkedModels := map[string]bool{}
			if providerID != "" {
				links, err := e.links.FindByProvider(cmd.Context(), providerID)
				if err != nil {
					return fail(cmd, err)
				}
				for _, l := range links {
					linkedModels[l.ModelID] = true
				}
			}
			rows, err := e.requests.FindAll(cmd.Context(), nil, []repository.Order{{Column: "timestamp", Desc: true}}, repository.Page{Limit: limit})
			if err != nil {
				return fail(cmd, err)
			}
			for _, r := range rows {
				if providerID != "" && !linkedModels[r.Model] {
					continue
				}
				fmt.Printf("%s  session=%s  model=%s  stream=%t\n", r.RequestID, r.SessionID, r.Model, r.Stream)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&providerID, "provider", "", "only show requests for models linked to this provider")
	cmd.Flags().IntVar(&limit, "limit", 20, "max rows to print")
	return cmd
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print request/response counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv()
			if err != nil {
				return fail(cmd, err)
			}
			requests, err := e.requests.Count(cmd.Context(), nil)
			if err != nil {
				return fail(cmd, err)
			}
			responses, err := e.responses.Count(cmd.Context(), nil)
			if err != nil {
				return fail(cmd, err)
			}
			fmt.Printf("requests: %d\nresponses: %d\n", requests, responses)
			return nil
		},
	}
}

func newSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <provider>",
		Args:  cobra.ExactArgs(1),
		Short: "Set the active provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv()
			if err != nil {
				return fail(cmd, err)
			}
			if _, err := e.settings.UpdateSetting(cmd.Context(), "active_provider", args[0], entity.SettingTypeString); err != nil {
				return fail(cmd, err)
			}
			fmt.Println("active provider set to", args[0])
			return nil
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print loaded providers and the active provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv()
			if err != nil {
				return fail(cmd, err)
			}
			// The CLI runs in its own process, so "loaded" means "loads
			// cleanly from current config", not the server's live set.
			if err := e.registry.LoadAll(cmd.Context()); err != nil {
				return fail(cmd, err)
			}
			fmt.Println("active provider:", e.settings.ActiveProvider())
			fmt.Println("loadable providers:", e.registry.Loaded())
			return nil
		},
	}
}

// Execute runs the CLI and returns a process exit code.
func Execute() int {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}
