package batch

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hochfrequenz/batch-engine/internal/definition"
	"github.com/hochfrequenz/batch-engine/internal/domain"
	"github.com/hochfrequenz/batch-engine/internal/logging"
)

// Runner executes a batch of a configuration
type Runner interface {
	Execute(ctx context.Context, cfg *domain.Configuration, batch *domain.Batch) (*domain.BatchRun, error)
}

// Reporter is notified about scheduled runs that ask for it
type Reporter interface {
	BatchRunCompleted(ctx context.Context, br *domain.BatchRun) error
}

// Trigger resolves batches by name from the current catalog and starts them.
// The catalog can be swapped while runs are in flight.
type Trigger struct {
	runner   Runner
	reporter Reporter
	catalog  atomic.Pointer[definition.Catalog]
}

// NewTrigger creates a trigger. reporter may be nil.
func NewTrigger(runner Runner, catalog *definition.Catalog, reporter Reporter) *Trigger {
	t := &Trigger{runner: runner, reporter: reporter}
	t.catalog.Store(catalog)
	return t
}

// Catalog returns the current catalog
func (t *Trigger) Catalog() *definition.Catalog {
	return t.catalog.Load()
}

// SetCatalog replaces the catalog used for later runs
func (t *Trigger) SetCatalog(catalog *definition.Catalog) {
	t.catalog.Store(catalog)
}

// Run executes the named batch. A positive maxDuration bounds the run; when
// it expires the executor treats it as an interrupt.
func (t *Trigger) Run(ctx context.Context, name string, maxDuration time.Duration) (*domain.BatchRun, error) {
	cfg, b, err := t.Catalog().Batch(name)
	if err != nil {
		return nil, err
	}

	if maxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxDuration)
		defer cancel()
	}

	return t.runner.Execute(ctx, cfg, b)
}

// Fire runs a scheduled batch and, if configured, reports its outcome. A
// batch run that did not commit is returned as an error so the scheduler
// logs it.
func (t *Trigger) Fire(ctx context.Context, bc BatchConfig) error {
	br, err := t.Run(ctx, bc.Name, bc.Timeout())
	if err != nil {
		return err
	}

	if bc.NotifyOnComplete && t.reporter != nil {
		if err := t.reporter.BatchRunCompleted(context.WithoutCancel(ctx), br); err != nil {
			logging.FromContext(ctx).Error().Err(err).Str("batch_run", br.ID).Msg("notification failed")
		}
	}

	if !br.Succeeded() {
		return fmt.Errorf("batch run %s ended %s: %s", br.ID, br.Status(), br.Message())
	}
	return nil
}
