// Package app wires the services of PaneSync together and runs the window.
package app

import (
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"panesync/internal/bridge"
	"panesync/internal/clipboard"
	"panesync/internal/config"
	"panesync/internal/conflict"
	"panesync/internal/connection"
	"panesync/internal/dircache"
	"panesync/internal/events"
	"panesync/internal/pane"
	"panesync/internal/transfer"
	"panesync/internal/ui"
	"panesync/pkg/logger"
)

// Options are the command-line overrides.
type Options struct {
	ConfigPath string
	LogLevel   string
	// MasterPassword unlocks the credential store; empty leaves saved
	// passwords unavailable.
	MasterPassword string
	Console        bool
}

// App represents the main application.
type App struct {
	configMgr *config.ConfigManager
	log       *logger.Logger

	bus      *events.Bus
	hub      *bridge.Hub
	cache    *dircache.Cache
	engine   *transfer.Manager
	browser  *pane.Browser
	services ui.Deps

	mainWindow *ui.MainWindow
}

// New loads the configuration and builds every service.
func New(opts Options) (*App, error) {
	if opts.ConfigPath == "" {
		opts.ConfigPath = config.DefaultPath()
	}
	configMgr, err := config.NewConfigManager(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	cfg := configMgr.Get()
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}

	log := logger.GetInstance()
	if err := log.Initialize(logger.Config{
		LogPath: cfg.LogPath,
		Level:   cfg.LogLevel,
		Console: opts.Console,
	}); err != nil {
		log.Warnf("Failed to initialize file logging: %v", err)
	}

	dir := filepath.Dir(opts.ConfigPath)
	known, err := config.OpenKnownHosts(dir)
	if err != nil {
		return nil, fmt.Errorf("open known hosts: %w", err)
	}

	var creds *config.CredentialStore
	if opts.MasterPassword != "" {
		creds, err = config.OpenCredentialStore(dir, opts.MasterPassword)
		if errors.Is(err, config.ErrWrongMasterPassword) {
			return nil, err
		}
		if err != nil {
			log.Warn("credential store unavailable", zap.Error(err))
			creds = nil
		}
	}
	hosts := config.NewHostStore(configMgr, creds, known)

	bus := events.NewBus(events.DefaultBufferSize)
	hub := bridge.NewHub(log)
	hub.SetRateLimit(cfg.UploadRateLimit)
	cache := dircache.New(cfg.CacheTTL(), cfg.CacheSize)

	conns := connection.NewManager(hub, hosts, bus, log, connection.Options{
		Attempts: cfg.ReconnectAttempts,
		Delay:    cfg.ReconnectDelay(),
		Cache:    cache,
	})
	resolver := conflict.NewResolver(bus, log)
	engine := transfer.NewManager(hub, bus, log, transfer.Options{
		MaxConcurrentBatches: cfg.MaxParallelTransfers,
		Resolver:             resolver,
	})
	clip := clipboard.NewCoordinator(engine, hub, bus, log)
	browser := pane.NewBrowser(pane.Deps{
		Bridge:      hub,
		Connections: conns,
		Cache:       cache,
		Engine:      engine,
		Clipboard:   clip,
		Bus:         bus,
		Log:         log,
	})

	return &App{
		configMgr: configMgr,
		log:       log,
		bus:       bus,
		hub:       hub,
		cache:     cache,
		engine:    engine,
		browser:   browser,
		services: ui.Deps{
			Config:   configMgr,
			Creds:    creds,
			Known:    known,
			Hosts:    hosts,
			Browser:  browser,
			Engine:   engine,
			Resolver: resolver,
			Bus:      bus,
			Limiter:  hub,
			Log:      log,
		},
	}, nil
}

// Run opens the main window and blocks until it is closed.
func (a *App) Run() error {
	a.log.Info("starting panesync", zap.String("config", a.configMgr.Path()))

	a.mainWindow = ui.NewMainWindow(a.services)
	a.mainWindow.Run()

	return a.cleanup()
}

// cleanup stops background work and closes every session.
func (a *App) cleanup() error {
	a.log.Info("shutting down panesync")

	if a.mainWindow != nil {
		a.mainWindow.Cleanup()
	}
	a.engine.Stop()
	a.cache.Close()

	err := multierr.Combine(
		a.hub.CloseAll(),
		a.configMgr.Save(),
	)
	a.bus.Close()
	if err != nil {
		a.log.Warn("shutdown incomplete", zap.Error(err))
	}
	_ = a.log.Close()
	return err
}
