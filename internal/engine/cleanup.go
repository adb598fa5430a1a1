package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/hochfrequenz/batch-engine/internal/domain"
	"github.com/hochfrequenz/batch-engine/internal/logging"
	"github.com/hochfrequenz/batch-engine/internal/tasktype"
)

// Cleanup reverses the durable side effects of task outside any batch run.
// The task type must treat a missing side effect as success, so Cleanup may
// be repeated.
func (e *Executor) Cleanup(ctx context.Context, cfg *domain.Configuration, task *domain.Task) error {
	typ, err := e.registry.Lookup(task.Type)
	if err != nil {
		return fmt.Errorf("cleanup %s: %w", task.Name, err)
	}

	tlog := e.logger.With().
		Str("task", task.Name).
		Str("task_type", task.Type).
		Logger()

	tc := tasktype.NewCleanupContext(task, typ, cfg, tlog)
	if err := safeCleanup(logging.WithLogger(ctx, tlog), typ, tc); err != nil {
		tlog.Error().Err(err).Msg("cleanup failed")
		return fmt.Errorf("cleanup %s: %w", task.Name, err)
	}

	tlog.Info().Msg("cleanup done")
	return nil
}

// CleanupBatch cleans up every enabled element of batch in reverse position
// order. It does not stop at the first failure; all failures are joined.
func (e *Executor) CleanupBatch(ctx context.Context, cfg *domain.Configuration, batch *domain.Batch) error {
	elements, err := batch.Ordered()
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}

	var errs []error
	for i := len(elements) - 1; i >= 0; i-- {
		el := elements[i]
		if el.EffectiveCondition() == domain.RunDisabled {
			continue
		}
		if err := e.Cleanup(ctx, cfg, el.Task); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func safeCleanup(ctx context.Context, typ tasktype.TaskType, tc *tasktype.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = tasktype.Errorf("cleanup panicked: %v", r)
		}
	}()
	return typ.Cleanup(ctx, tc)
}
