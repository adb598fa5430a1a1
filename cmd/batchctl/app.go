package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hochfrequenz/batch-engine/internal/builtin"
	"github.com/hochfrequenz/batch-engine/internal/config"
	"github.com/hochfrequenz/batch-engine/internal/definition"
	"github.com/hochfrequenz/batch-engine/internal/engine"
	"github.com/hochfrequenz/batch-engine/internal/logging"
	"github.com/hochfrequenz/batch-engine/internal/notify"
	"github.com/hochfrequenz/batch-engine/internal/taskstore"
	"github.com/hochfrequenz/batch-engine/internal/tasktype"
	"github.com/rs/zerolog"
)

// app bundles what every command needs
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	logFile  io.Closer
	store    *taskstore.Store
	registry *tasktype.Registry
}

func loadConfig() (*config.Config, error) {
	return config.Load(config.ResolvePath(configPath))
}

// openApp loads the config, builds the logger, opens the ledger and
// registers the built-in task types.
func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	lc := cfg.LoggerConfig()
	if logLevel != "" {
		lc.Level = logLevel
	}
	logger, logFile, err := logging.New(lc)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}

	store, err := taskstore.New(cfg.General.DatabasePath)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	reg := tasktype.NewRegistry()
	if err := builtin.Register(reg); err != nil {
		store.Close()
		logFile.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		logFile:  logFile,
		store:    store,
		registry: reg,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("close ledger")
	}
	a.logFile.Close()
}

// catalog loads the workflow definitions. A missing directory is an empty
// catalog.
func (a *app) catalog() (*definition.Catalog, error) {
	dir := a.cfg.General.DefinitionsDir
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		a.logger.Warn().Str("dir", dir).Msg("definitions directory does not exist")
		return definition.NewCatalog()
	}
	return definition.LoadDir(dir)
}

func (a *app) executor(opts ...engine.Option) *engine.Executor {
	opts = append([]engine.Option{engine.WithLogger(a.logger)}, opts...)
	return engine.New(a.registry, a.store, opts...)
}

// notifier builds the configured notification channels
func (a *app) notifier() notify.Notifier {
	var channels notify.Multi
	if a.cfg.Notifications.Desktop {
		channels = append(channels, notify.NewDesktop())
	}
	if a.cfg.Notifications.SlackWebhook != "" {
		channels = append(channels, notify.NewSlack(a.cfg.Notifications.SlackWebhook))
	}
	if len(channels) == 0 {
		return notify.Discard
	}
	return channels
}
