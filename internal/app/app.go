package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/janhq/jan-core/internal/approval"
	"github.com/janhq/jan-core/internal/completion"
	"github.com/janhq/jan-core/internal/config"
	"github.com/janhq/jan-core/internal/events"
	"github.com/janhq/jan-core/internal/lifecycle"
	"github.com/janhq/jan-core/internal/logging"
	"github.com/janhq/jan-core/internal/mcp"
	"github.com/janhq/jan-core/internal/provider"
	"github.com/janhq/jan-core/internal/threads"
	"github.com/janhq/jan-core/internal/transport"
	"github.com/janhq/jan-core/internal/watcher"
)

// App wires the services behind the completion loop and owns their
// lifetimes.
type App struct {
	Config     *config.Config
	Bus        *events.Bus
	Providers  *provider.Store
	Threads    *threads.Store
	MCP        *mcp.Manager
	Approval   *approval.Manager
	Controller *completion.Controller

	watcher *watcher.Watcher
	mcpSub  *events.Subscription
}

// New builds the full service graph from configuration. Callers must call
// Shutdown when done.
func New(cfg *config.Config) (*App, error) {
	if err := os.MkdirAll(cfg.App.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if cfg.Logging.File {
		if err := logging.EnableFileLogging(cfg.App.DataDir, logging.ParseLevel(cfg.Logging.Level)); err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
	}

	bus := events.NewBus()

	providers := provider.NewStore(cfg.ProvidersPath())
	if err := providers.Load(); err != nil {
		return nil, fmt.Errorf("failed to load provider catalog: %w", err)
	}

	threadStore, err := threads.Open(cfg.ThreadsPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open thread database: %w", err)
	}

	lc, err := lifecycle.NewOllama(lifecycle.OllamaConfig{
		BaseURL:     cfg.Ollama.BaseURL,
		APIKey:      cfg.Ollama.APIKey,
		KeepAlive:   cfg.Ollama.KeepAlive,
		HTTPTimeout: cfg.Ollama.HTTPTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create model lifecycle client: %w", err)
	}

	approvalMgr := approval.NewManager(cfg.Completion.AllowAllToolCalls)
	availability := approval.NewAvailability()

	var mcpMgr *mcp.Manager
	if cfg.MCP.Enabled {
		mcpMgr = mcp.NewManager(cfg.MCP.Servers, bus, cfg.Version)
	}

	recovery := completion.NewRecovery(providers, lc, cfg.Recovery.SettleDelay)

	controller := completion.NewController(
		completion.Config{
			ExperimentalFeatures: cfg.Completion.ExperimentalFeatures,
			FollowUpToolCalls:    cfg.Completion.FollowUpToolCalls,
		},
		transport.NewOpenAI(),
		lc,
		providers,
		threadStore,
		catalogOrNil(mcpMgr),
		approvalMgr,
		availability,
		recovery,
		bus,
	)

	app := &App{
		Config:     cfg,
		Bus:        bus,
		Providers:  providers,
		Threads:    threadStore,
		MCP:        mcpMgr,
		Approval:   approvalMgr,
		Controller: controller,
	}

	if err := app.startWatcher(); err != nil {
		logging.Warn("configuration watcher unavailable", "error", err)
	}

	return app, nil
}

// catalogOrNil avoids handing the controller a typed-nil interface.
func catalogOrNil(mgr *mcp.Manager) completion.ToolCatalog {
	if mgr == nil {
		return nil
	}
	return mgr
}

// Start connects the configured MCP servers.
func (a *App) Start(ctx context.Context) error {
	if a.MCP != nil {
		return a.MCP.ConnectAll(ctx)
	}
	return nil
}

// startWatcher watches the provider catalog and config file for external
// edits, reloading the affected service.
func (a *App) startWatcher() error {
	w, err := watcher.NewWatcher(a.Bus, 500*time.Millisecond)
	if err != nil {
		return err
	}

	if err := w.WatchFile(a.Config.ProvidersPath(), events.TopicSettingsUpdated); err != nil {
		return err
	}
	if path := config.GetConfigPath(); path != "" {
		if err := w.WatchFile(path, events.TopicSettingsUpdated); err != nil {
			logging.Warn("failed to watch config file", "error", err)
		}
	}
	if err := w.Start(); err != nil {
		return err
	}
	a.watcher = w

	a.mcpSub = a.Bus.Subscribe(events.TopicSettingsUpdated)
	go a.reloadOnChange()
	return nil
}

// reloadOnChange reacts to watched files changing on disk: the provider
// catalog is re-read, and an edited config file reconnects the MCP servers
// with the new definitions. Changes made through the store itself re-read to
// the same state.
func (a *App) reloadOnChange() {
	for ev := range a.mcpSub.C {
		switch path, _ := ev.Payload.(string); path {
		case a.Config.ProvidersPath():
			if err := a.Providers.Load(); err != nil {
				logging.Warn("failed to reload provider catalog", "error", err)
				continue
			}
			logging.Info("provider catalog reloaded", "path", path)
		case config.GetConfigPath():
			if a.MCP == nil {
				continue
			}
			fresh, err := config.Load()
			if err != nil {
				logging.Warn("failed to reload config", "error", err)
				continue
			}
			if err := a.MCP.Reload(context.Background(), fresh.MCP.Servers); err != nil {
				logging.Warn("failed to reconnect mcp servers", "error", err)
				continue
			}
			logging.Info("mcp servers reloaded", "count", len(fresh.MCP.Servers))
		}
	}
}

// Shutdown releases every service. Safe to call once.
func (a *App) Shutdown(ctx context.Context) {
	if a.watcher != nil {
		_ = a.watcher.Stop()
	}
	if a.mcpSub != nil {
		a.mcpSub.Unsubscribe()
	}
	if a.MCP != nil {
		a.MCP.Shutdown()
	}
	if a.Threads != nil {
		if err := a.Threads.Close(); err != nil {
			logging.Warn("failed to close thread database", "error", err)
		}
	}
	a.Bus.Close()
	logging.Close()
}
