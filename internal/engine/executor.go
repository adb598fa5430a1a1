// Package engine runs batches: it drives one task context per element in
// position order, records a run per executed element through the ledger, and
// compensates committed elements in reverse order when a later element fails
// or the batch run is interrupted.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hochfrequenz/batch-engine/internal/domain"
	"github.com/hochfrequenz/batch-engine/internal/ledger"
	"github.com/hochfrequenz/batch-engine/internal/logging"
	"github.com/hochfrequenz/batch-engine/internal/tasktype"
	"github.com/rs/zerolog"
)

// ErrNotActive is returned when an interrupt targets a batch run that is
// neither executing here nor running according to the ledger.
var ErrNotActive = errors.New("batch run is not active")

// Reporter is invoked once per completed batch run
type Reporter interface {
	BatchRunCompleted(ctx context.Context, br *domain.BatchRun) error
}

// RunListener receives a copy of every run after it was persisted
type RunListener func(run *domain.Run)

// Option configures an Executor
type Option func(*Executor)

// WithLogger sets the executor's logger
func WithLogger(l zerolog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithReporter adds a completion hook. Hooks run in registration order.
func WithReporter(r Reporter) Option {
	return func(e *Executor) { e.reporters = append(e.reporters, r) }
}

// WithRunListener registers a listener for persisted runs
func WithRunListener(l RunListener) Option {
	return func(e *Executor) { e.listeners = append(e.listeners, l) }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithIDGenerator overrides the batch run and run ID source
func WithIDGenerator(gen func() string) Option {
	return func(e *Executor) { e.newID = gen }
}

// Executor runs batches. A single Executor may run many batch runs
// concurrently; each gets its own temp values and interrupt flag.
type Executor struct {
	registry  *tasktype.Registry
	ledger    ledger.Ledger
	reporters []Reporter
	listeners []RunListener
	logger    zerolog.Logger
	now       func() time.Time
	newID     func() string

	active map[string]*domain.BatchRun
	mu     sync.Mutex
}

// New creates an executor resolving task types from registry and recording
// runs in l.
func New(registry *tasktype.Registry, l ledger.Ledger, opts ...Option) *Executor {
	e := &Executor{
		registry: registry,
		ledger:   l,
		logger:   zerolog.Nop(),
		now:      time.Now,
		newID:    uuid.NewString,
		active:   make(map[string]*domain.BatchRun),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the task type registry
func (e *Executor) Registry() *tasktype.Registry {
	return e.registry
}

// executed is an element that ran, with the result carrying its compensation
type executed struct {
	element domain.BatchElement
	typ     tasktype.TaskType
	run     *domain.Run
	result  tasktype.Result
}

// Execute runs batch once and returns the resulting batch run. Task failures
// and interrupts are reported through the runs, never as an error. The error
// is non-nil only when the batch is invalid or the ledger fails; in the
// latter case committed elements are still compensated on a best-effort basis
// and the partial batch run is returned.
//
// Cancelling ctx is treated as an interrupt request at the next element
// boundary.
func (e *Executor) Execute(ctx context.Context, cfg *domain.Configuration, batch *domain.Batch) (*domain.BatchRun, error) {
	elements, err := batch.Ordered()
	if err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}

	// Persistence and compensation must outlive a cancelled trigger
	durable := context.WithoutCancel(ctx)

	br := domain.NewBatchRun(e.newID(), batch, e.now())
	temp := tasktype.NewTempValues()
	logger := e.logger.With().
		Str("batch", batch.Name).
		Str("batch_run", br.ID).
		Logger()

	if err := e.ledger.PersistBatchRun(durable, br); err != nil {
		return nil, fmt.Errorf("persist batch run %s: %w", br.ID, err)
	}

	e.track(br)
	defer e.untrack(br.ID)

	logger.Info().Int("elements", len(elements)).Msg("batch run started")

	var (
		done     []executed
		prev     *domain.Run
		abort    error
		rollback bool
	)

loop:
	for _, el := range elements {
		switch el.EffectiveCondition() {
		case domain.RunDisabled:
			logger.Debug().Str("task", el.Task.Name).Msg("element disabled, skipping")
			continue
		case domain.RunOnSuccess:
			if prev != nil && prev.Status != domain.RunCommitted {
				logger.Info().Str("task", el.Task.Name).Msg("previous run did not commit, ending sequence")
				break loop
			}
		}

		if e.interruptRequested(ctx, br) {
			logger.Warn().Str("task", el.Task.Name).Msg("interrupt requested, stopping before element")
			rollback = true
			break
		}

		ex, err := e.runElement(ctx, cfg, br, temp, el, logger)
		prev = ex.run
		if ex.run.Status == domain.RunCommitted {
			done = append(done, ex)
		}
		if err != nil {
			abort = err
			rollback = true
			break
		}
		if ex.run.Status == domain.RunFailed {
			rollback = true
			break
		}
	}

	if rollback {
		if err := e.rollback(durable, cfg, br, temp, done, logger); err != nil && abort == nil {
			abort = err
		}
	}

	if err := e.ledger.PersistBatchRun(durable, br); err != nil && abort == nil {
		abort = fmt.Errorf("persist batch run %s: %w", br.ID, err)
	}

	event := logger.Info()
	if !br.Succeeded() {
		event = logger.Warn()
	}
	event.Str("status", string(br.Status())).
		Int("runs", len(br.Runs)).
		Str("message", br.Message()).
		Msg("batch run finished")

	for _, r := range e.reporters {
		if err := r.BatchRunCompleted(durable, br); err != nil {
			logger.Error().Err(err).Msg("report hook failed")
		}
	}

	return br, abort
}

// runElement creates the run for el, invokes its task type and records the
// outcome. The returned error is a ledger failure only.
func (e *Executor) runElement(ctx context.Context, cfg *domain.Configuration, br *domain.BatchRun, temp *tasktype.TempValues, el domain.BatchElement, logger zerolog.Logger) (executed, error) {
	durable := context.WithoutCancel(ctx)
	run := domain.NewRun(e.newID(), br.ID, el, e.now())
	br.AppendRun(run)
	ex := executed{element: el, run: run}

	tlog := logger.With().
		Str("task", el.Task.Name).
		Str("task_type", el.Task.Type).
		Int("position", el.Position).
		Logger()

	if err := e.persistRun(durable, run); err != nil {
		// Nothing ran yet; close the record so the sequence stays consistent
		_ = run.Fail(e.now(), "not started: "+err.Error())
		return ex, err
	}

	tlog.Debug().Msg("running task")
	typ, result, taskErr := e.invoke(ctx, cfg, br, temp, el.Task, tlog)
	ex.typ = typ

	if taskErr != nil {
		msg := tasktype.Message(taskErr)
		_ = run.Fail(e.now(), msg)
		tlog.Error().Str("status", string(run.Status)).Str("message", msg).Msg("task failed")
	} else {
		_ = run.Commit(e.now(), result.Message)
		ex.result = result
		tlog.Info().Str("status", string(run.Status)).Dur("duration", run.Duration()).Msg("task committed")
	}

	return ex, e.persistRun(durable, run)
}

// invoke resolves the task type, checks support and parameters, runs the
// task and applies its commit action. Every failure, including panics, comes
// back as an error for the run's message.
func (e *Executor) invoke(ctx context.Context, cfg *domain.Configuration, br *domain.BatchRun, temp *tasktype.TempValues, task *domain.Task, tlog zerolog.Logger) (tasktype.TaskType, tasktype.Result, error) {
	typ, err := e.registry.Lookup(task.Type)
	if err != nil {
		return nil, tasktype.Result{}, tasktype.Errorf("task %s: %w", task.Name, err)
	}

	if checker, ok := typ.(tasktype.SupportChecker); ok {
		if err := checker.Supports(task); err != nil {
			return typ, tasktype.Result{}, tasktype.Errorf("task %s not supported: %w", task.Name, err)
		}
	}

	tc := tasktype.NewRunContext(task, typ, cfg, tasktype.RunScope{
		BatchRun:   br,
		TempValues: temp,
		Poll:       func() bool { return e.interruptRequested(ctx, br) },
	}, tlog)

	if _, err := tc.ParameterValues(); err != nil {
		return typ, tasktype.Result{}, err
	}

	taskCtx := logging.WithLogger(ctx, tlog)
	result, err := safeRun(taskCtx, typ, tc)
	if err != nil {
		return typ, tasktype.Result{}, err
	}
	if result.Commit != nil {
		if err := safeAction(taskCtx, result.Commit, tc); err != nil {
			msg := "commit: " + tasktype.Message(err)
			if rbErr := undoUncommitted(taskCtx, result, tc); rbErr != nil {
				tlog.Error().Err(rbErr).Msg("compensation after failed commit failed")
				msg += "; rollback failed: " + tasktype.Message(rbErr)
			}
			return typ, tasktype.Result{}, tasktype.Errorf("%s", msg)
		}
	}
	return typ, result, nil
}

// undoUncommitted compensates a run whose commit action failed. The run never
// reaches COMMITTED, so the batch rollback walk does not see it.
func undoUncommitted(ctx context.Context, result tasktype.Result, tc *tasktype.Context) error {
	if result.Rollback == nil {
		return nil
	}
	return safeAction(context.WithoutCancel(ctx), result.Rollback, tc)
}

// rollback compensates done in reverse order. A failing compensation is
// recorded in the run's message and does not stop the walk; every walked run
// ends ROLLED_BACK. Only ledger errors are returned.
func (e *Executor) rollback(ctx context.Context, cfg *domain.Configuration, br *domain.BatchRun, temp *tasktype.TempValues, done []executed, logger zerolog.Logger) error {
	var errs []error
	for i := len(done) - 1; i >= 0; i-- {
		ex := done[i]
		tlog := logger.With().
			Str("task", ex.element.Task.Name).
			Int("position", ex.element.Position).
			Logger()

		msg := ""
		if ex.result.Rollback != nil {
			tc := tasktype.NewRunContext(ex.element.Task, ex.typ, cfg, tasktype.RunScope{
				BatchRun:   br,
				TempValues: temp,
			}, tlog)
			if err := safeAction(logging.WithLogger(ctx, tlog), ex.result.Rollback, tc); err != nil {
				msg = "rollback failed: " + tasktype.Message(err)
				tlog.Error().Err(err).Msg("compensation failed, continuing rollback")
			}
		}

		if err := ex.run.RollBack(msg); err != nil {
			tlog.Error().Err(err).Msg("cannot mark run rolled back")
			continue
		}
		tlog.Info().Msg("run rolled back")

		if err := e.persistRun(ctx, ex.run); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Executor) persistRun(ctx context.Context, run *domain.Run) error {
	if err := e.ledger.PersistRun(ctx, run); err != nil {
		return fmt.Errorf("persist run %s: %w", run.ID, err)
	}
	for _, l := range e.listeners {
		l(run.Clone())
	}
	return nil
}

// interruptRequested checks the in-memory flag, the trigger's context and
// the ledger, in that order. Positive answers are latched into br.
func (e *Executor) interruptRequested(ctx context.Context, br *domain.BatchRun) bool {
	if br.InterruptRequested() {
		return true
	}
	if ctx.Err() != nil {
		br.RequestInterrupt()
		return true
	}
	stored, err := e.ledger.Reload(context.WithoutCancel(ctx), br.ID)
	if err != nil {
		e.logger.Warn().Err(err).Str("batch_run", br.ID).Msg("cannot reload batch run for interrupt check")
		return false
	}
	if stored.InterruptRequested() {
		br.RequestInterrupt()
		return true
	}
	return false
}

// RequestInterrupt asks the batch run id to stop at its next element
// boundary. The flag is set in-process when the run executes here and is
// recorded in the ledger when it supports it, so other processes see it too.
// A batch run that is neither executing here nor in flight according to the
// ledger yields ErrNotActive.
func (e *Executor) RequestInterrupt(ctx context.Context, id string) error {
	e.mu.Lock()
	br, local := e.active[id]
	e.mu.Unlock()

	if local {
		br.RequestInterrupt()
		e.logger.Info().Str("batch_run", id).Msg("interrupt requested")
	} else if err := e.checkInFlight(ctx, id); err != nil {
		return err
	}

	interrupter, ok := e.ledger.(ledger.Interrupter)
	if !ok {
		if !local {
			return fmt.Errorf("%w: %s", ErrNotActive, id)
		}
		return nil
	}

	if err := interrupter.RequestInterrupt(ctx, id); err != nil {
		if local {
			e.logger.Warn().Err(err).Str("batch_run", id).Msg("cannot record interrupt in ledger")
			return nil
		}
		if errors.Is(err, ledger.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotActive, id)
		}
		return fmt.Errorf("request interrupt %s: %w", id, err)
	}
	return nil
}

// checkInFlight consults the ledger for a batch run executing in another
// process. Only a RUNNING last run counts.
func (e *Executor) checkInFlight(ctx context.Context, id string) error {
	stored, err := e.ledger.Reload(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotActive, id)
	}
	if err != nil {
		return fmt.Errorf("request interrupt %s: %w", id, err)
	}
	if last := stored.Last(); last == nil || last.Status != domain.RunRunning {
		return fmt.Errorf("%w: %s has finished", ErrNotActive, id)
	}
	return nil
}

// Active returns the IDs of batch runs currently executing, sorted
func (e *Executor) Active() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *Executor) track(br *domain.BatchRun) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active[br.ID] = br
}

func (e *Executor) untrack(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, id)
}

func safeRun(ctx context.Context, typ tasktype.TaskType, tc *tasktype.Context) (result tasktype.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = tasktype.Errorf("task panicked: %v", r)
		}
	}()
	return typ.Run(ctx, tc)
}

func safeAction(ctx context.Context, action tasktype.Action, tc *tasktype.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = tasktype.Errorf("panicked: %v", r)
		}
	}()
	return action(ctx, tc)
}
