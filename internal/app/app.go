package app

import (
	"context"
	"fmt"
	"os"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
	"github.com/ternarybob/harvester/internal/services/audit"
	"github.com/ternarybob/harvester/internal/services/auth"
	"github.com/ternarybob/harvester/internal/services/browser"
	"github.com/ternarybob/harvester/internal/services/connections"
	"github.com/ternarybob/harvester/internal/services/pipeline"
	"github.com/ternarybob/harvester/internal/services/platforms"
	"github.com/ternarybob/harvester/internal/services/scheduler"
	"github.com/ternarybob/harvester/internal/services/session"
	"github.com/ternarybob/harvester/internal/services/vault"
	"github.com/ternarybob/harvester/internal/storage"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	Vault       *vault.Service
	Sessions    *session.Service
	Browser     *browser.ChromeAdapter
	Platforms   *platforms.Registry
	Reauth      *auth.Service
	Audit       *audit.Service
	Pipeline    *pipeline.Service
	Scheduler   *scheduler.Service
	Connections *connections.Service
}

// New wires the application. A missing vault secret or invalid platform
// configuration fails here, before anything is crawled.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Vault first: without a key nothing else is usable
	v, err := vault.NewService(cfg.Vault.Secret)
	if err != nil {
		return nil, err
	}
	app.Vault = v

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.StorageManager.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	logger.Info().
		Bool("scheduler_enabled", cfg.Scheduler.Enabled).
		Strs("platforms", app.Platforms.Names()).
		Str("lease_backend", cfg.Storage.Lease.Backend).
		Msg("Application initialization complete")

	return app, nil
}

func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("path", a.Config.Storage.Badger.Path).
		Bool("in_memory", a.Config.Storage.Badger.InMemory).
		Msg("Storage layer initialized")
	return nil
}

// initServices builds the services leaves first
func (a *App) initServices() error {
	cfg := a.Config
	connectionStorage := a.StorageManager.ConnectionStorage()

	a.Sessions = session.NewService(connectionStorage, a.Vault, cfg.Session.ExpiryBufferDuration(), a.Logger)
	a.Browser = browser.NewChromeAdapter(cfg.Browser, a.Logger)

	registry, err := platforms.NewRegistry(cfg.Platforms, cfg.Browser, a.Logger)
	if err != nil {
		return err
	}
	a.Platforms = registry

	a.Reauth = auth.NewService(a.Vault, a.Sessions, a.Browser, a.Platforms, a.Logger)
	a.Audit = audit.NewService(a.StorageManager.AuditLogStorage(), a.Logger)
	a.Connections = connections.NewService(connectionStorage, a.StorageManager.RecordStorage(), a.Vault, a.Sessions, a.Logger)

	holder := cfg.Scheduler.HolderID
	if holder == "" {
		holder, _ = os.Hostname()
	}

	a.Pipeline = pipeline.NewService(pipeline.Dependencies{
		Connections: connectionStorage,
		Records:     a.StorageManager.RecordStorage(),
		Leases:      a.StorageManager.LeaseStorage(),
		Sessions:    a.Sessions,
		Reauth:      a.Reauth,
		Browser:     a.Browser,
		Profiles:    a.Platforms,
		Audit:       a.Audit,
	}, pipeline.Options{
		HolderID:        holder,
		LeaseTTL:        cfg.Scheduler.LeaseTTLDuration(),
		DeactivateAfter: cfg.Health.DeactivateAfter,
		UserAgent:       cfg.Browser.UserAgent,
	}, a.Logger)

	a.Scheduler = scheduler.NewService(connectionStorage, a.Pipeline, a.Audit, scheduler.Options{
		Run:           a.RunOptions(),
		StaleAuditAge: cfg.Scheduler.StaleAuditAgeDuration(),
		SweepInterval: cfg.Scheduler.SweepIntervalDuration(),
	}, a.Logger)

	return nil
}

// RunOptions returns the configured batching for a pass
func (a *App) RunOptions() models.RunOptions {
	return models.RunOptions{
		BatchSize:       a.Config.Scheduler.BatchSize,
		InterBatchDelay: a.Config.Scheduler.InterBatchDelayDuration(),
	}
}

// Start launches the cron trigger when the scheduler is enabled
func (a *App) Start() error {
	if !a.Config.Scheduler.Enabled {
		a.Logger.Info().Msg("Scheduler disabled, crawl passes run on demand only")
		return nil
	}
	return a.Scheduler.Start(a.Config.Scheduler.Schedule)
}

// RunOnce executes a single crawl pass and returns its summary
func (a *App) RunOnce(ctx context.Context) (*models.RunSummary, error) {
	return a.Scheduler.RunAll(ctx, a.RunOptions())
}

// Close stops the scheduler, closes browsers and the store
func (a *App) Close() error {
	if a.Scheduler != nil {
		if err := a.Scheduler.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	if a.Browser != nil {
		a.Browser.Shutdown()
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	a.Logger.Info().Msg("Application shutdown complete")
	return nil
}
