package tasktype

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hochfrequenz/batch-engine/internal/domain"
	"github.com/rs/zerolog"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Context is the facade a task type sees for one invocation. A run context is
// bound to a batch run and its temp values; a cleanup context has neither and
// is never interruptible.
type Context struct {
	task     *domain.Task
	typ      TaskType
	config   *domain.Configuration
	batchRun *domain.BatchRun
	temp     *TempValues
	poll     func() bool
	logger   zerolog.Logger

	resolveOnce sync.Once
	values      Values
	resolveErr  error
}

// RunScope binds a context to a batch run. Poll, if set, is consulted by
// IsInterruptRequested in addition to the in-memory flag, e.g. to reload the
// flag from the ledger.
type RunScope struct {
	BatchRun   *domain.BatchRun
	TempValues *TempValues
	Poll       func() bool
}

// NewRunContext creates a context for running task within a batch run
func NewRunContext(task *domain.Task, typ TaskType, cfg *domain.Configuration, scope RunScope, logger zerolog.Logger) *Context {
	return &Context{
		task:     task,
		typ:      typ,
		config:   cfg,
		batchRun: scope.BatchRun,
		temp:     scope.TempValues,
		poll:     scope.Poll,
		logger:   logger,
	}
}

// NewCleanupContext creates a context for a cleanup-only invocation
func NewCleanupContext(task *domain.Task, typ TaskType, cfg *domain.Configuration, logger zerolog.Logger) *Context {
	return &Context{
		task:   task,
		typ:    typ,
		config: cfg,
		logger: logger,
	}
}

// Task returns the task being executed
func (c *Context) Task() *domain.Task { return c.task }

// BatchRun returns the owning batch run, nil for cleanup contexts
func (c *Context) BatchRun() *domain.BatchRun { return c.batchRun }

// TempValues returns the batch run's shared map, nil for cleanup contexts
func (c *Context) TempValues() *TempValues { return c.temp }

// Logger returns a logger scoped to the task
func (c *Context) Logger() *zerolog.Logger { return &c.logger }

// IsInterruptRequested reads the live interrupt flag of the owning batch run.
// The answer is never cached. Cleanup contexts always return false.
func (c *Context) IsInterruptRequested() bool {
	if c.batchRun == nil {
		return false
	}
	if c.batchRun.InterruptRequested() {
		return true
	}
	return c.poll != nil && c.poll()
}

// ParameterValues resolves the declared parameters on first call and caches
// the outcome. A resolution failure is cached too and returned unchanged.
func (c *Context) ParameterValues() (Values, error) {
	c.resolveOnce.Do(func() {
		c.values, c.resolveErr = resolve(c.task, c.typ.Parameters(), c.config)
	})
	return c.values, c.resolveErr
}

func resolve(task *domain.Task, defs []ParameterDef, cfg *domain.Configuration) (Values, error) {
	declared := make(map[string]bool, len(defs))
	for _, def := range defs {
		declared[def.Name] = true
	}

	var unknown []string
	for name := range task.Parameters {
		if !declared[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, Errorf("task %s: unrecognized parameters %v", task.Name, unknown)
	}

	values := make(Values, len(defs))
	for _, def := range defs {
		raw, ok, err := rawValue(task, def, cfg)
		if err != nil {
			return nil, Errorf("task %s: %w", task.Name, err)
		}
		if !ok {
			if def.Required {
				return nil, Errorf("task %s: missing required parameter %q", task.Name, def.Name)
			}
			values[def.Name] = cty.NullVal(def.valueType())
			continue
		}

		val, err := convert.Convert(cty.StringVal(raw), def.valueType())
		if err != nil {
			return nil, Errorf("task %s: parameter %q: cannot use %q as %s", task.Name, def.Name, raw, def.valueType().FriendlyName())
		}
		if def.Validate != nil {
			if err := def.Validate(val); err != nil {
				return nil, Errorf("task %s: parameter %q: %w", task.Name, def.Name, err)
			}
		}
		values[def.Name] = val
	}
	return values, nil
}

func rawValue(task *domain.Task, def ParameterDef, cfg *domain.Configuration) (string, bool, error) {
	pv, ok := task.Parameters[def.Name]
	switch {
	case ok && pv.IsRef():
		v, err := cfg.Binding(pv.Ref)
		if err != nil {
			return "", false, fmt.Errorf("parameter %q: %w", def.Name, err)
		}
		return v, true, nil
	case ok:
		return pv.Value, true, nil
	case def.HasDefault:
		return def.Default, true, nil
	default:
		return "", false, nil
	}
}
