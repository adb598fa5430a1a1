package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hochfrequenz/batch-engine/internal/batch"
	"github.com/hochfrequenz/batch-engine/internal/definition"
	"github.com/hochfrequenz/batch-engine/internal/engine"
	"github.com/hochfrequenz/batch-engine/internal/logging"
	"github.com/hochfrequenz/batch-engine/internal/notify"
	"github.com/hochfrequenz/batch-engine/internal/observer"
	"github.com/hochfrequenz/batch-engine/internal/watch"
	"github.com/hochfrequenz/batch-engine/web/api"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// services is the long-running wiring shared by serve and daemon
type services struct {
	hub      *api.Hub
	observer *observer.Observer
	executor *engine.Executor
	trigger  *batch.Trigger
}

func newServices(a *app, catalog *definition.Catalog) *services {
	hub := api.NewHub()
	obs := observer.New(stuckThreshold)
	exec := a.executor(
		engine.WithRunListener(hub.PublishRun),
		engine.WithReporter(hub),
		engine.WithReporter(obs),
	)
	return &services{
		hub:      hub,
		observer: obs,
		executor: exec,
		trigger:  batch.NewTrigger(exec, catalog, notify.NewBatchReporter(a.notifier())),
	}
}

func (s *services) server(ctx context.Context, a *app) *api.Server {
	web := a.cfg.Web
	if servePort != 0 {
		web.Port = servePort
	}
	return api.NewServer(s.executor, s.trigger, a.store, s.hub, web.Addr(),
		api.WithObserver(s.observer),
		api.WithLogger(a.logger),
		api.WithBaseContext(ctx),
	)
}

func loadCatalog(a *app) (*definition.Catalog, error) {
	catalog, err := a.catalog()
	if err != nil {
		return nil, err
	}
	if err := catalog.Check(a.registry); err != nil {
		return nil, fmt.Errorf("invalid definitions: %w", err)
	}
	return catalog, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	catalog, err := loadCatalog(a)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()
	ctx = logging.WithLogger(ctx, a.logger)

	svc := newServices(a, catalog)
	return svc.server(ctx, a).Start(ctx)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	catalog, err := loadCatalog(a)
	if err != nil {
		return err
	}
	schedulePath := a.cfg.General.SchedulePath
	sched, err := batch.LoadScheduleConfig(schedulePath)
	if err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}
	if err := checkSchedule(catalog, sched); err != nil {
		a.logger.Warn().Err(err).Msg("schedule references unknown batches")
	}

	scheduler, err := batch.NewScheduler(sched.Batches)
	if err != nil {
		return err
	}
	svc := newServices(a, catalog)

	ctx, stop := signalContext()
	defer stop()
	ctx = logging.WithLogger(ctx, a.logger)

	watcher, err := newReloadWatcher(a, svc.trigger, scheduler)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		scheduler.Start(ctx, svc.trigger.Fire)
		return nil
	})

	watcher.Start(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return watcher.Stop()
	})

	if !daemonNoWeb {
		srv := svc.server(ctx, a)
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}

	a.logger.Info().
		Int("configurations", len(catalog.Configurations())).
		Int("scheduled", len(sched.Batches)).
		Msg("daemon started")

	return g.Wait()
}

// newReloadWatcher watches the definitions directory and the schedule file.
// A change that fails to load is logged and the previous state is kept.
func newReloadWatcher(a *app, trigger *batch.Trigger, scheduler *batch.Scheduler) (*watch.Watcher, error) {
	defs := a.cfg.General.DefinitionsDir
	schedulePath := a.cfg.General.SchedulePath
	logger := a.logger.With().Str("component", "reload").Logger()

	w, err := watch.New(func(paths []string) {
		logger.Info().Strs("paths", paths).Msg("definitions changed")

		if catalog, err := loadCatalog(a); err != nil {
			logger.Error().Err(err).Msg("keeping previous definitions")
		} else {
			trigger.SetCatalog(catalog)
		}

		sched, err := batch.LoadScheduleConfig(schedulePath)
		if err != nil {
			logger.Error().Err(err).Msg("keeping previous schedule")
			return
		}
		if err := scheduler.Reload(sched.Batches); err != nil {
			logger.Error().Err(err).Msg("keeping previous schedule")
		}
	})
	if err != nil {
		return nil, err
	}

	if err := watchPaths(w, defs, schedulePath); err != nil {
		w.Stop()
		return nil, err
	}
	return w, nil
}

func watchPaths(w *watch.Watcher, defs, schedulePath string) error {
	if err := os.MkdirAll(defs, 0o755); err != nil {
		return err
	}
	if err := w.AddDir(defs); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(schedulePath), 0o755); err != nil {
		return err
	}
	return w.AddFile(schedulePath)
}
