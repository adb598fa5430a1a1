// Package tasktype defines the plug-in contract for task kinds, the registry
// that maps type names to implementations, and the per-invocation Context a
// task receives from the executor.
package tasktype

import (
	"context"

	"github.com/hochfrequenz/batch-engine/internal/domain"
	"github.com/zclconf/go-cty/cty"
)

// TaskType is a pluggable implementation for a class of tasks. Implementations
// are shared by every batch run and must not keep per-run state outside the
// Context they are handed.
type TaskType interface {
	// Parameters declares the recognized parameter names with their types
	Parameters() []ParameterDef
	// Run executes the unit of work once per Context
	Run(ctx context.Context, tc *Context) (Result, error)
	// Cleanup reverses durable side effects of an earlier, committed run.
	// It must succeed when there is nothing left to clean up.
	Cleanup(ctx context.Context, tc *Context) error
}

// SupportChecker is implemented by task types that can reject a task before
// it runs, e.g. because of a missing external tool.
type SupportChecker interface {
	Supports(task *domain.Task) error
}

// ParameterDef describes one declared parameter
type ParameterDef struct {
	Name        string
	Type        cty.Type // cty.String when unset
	Required    bool
	Default     string
	HasDefault  bool
	Description string
	Validate    func(cty.Value) error
}

func (p ParameterDef) valueType() cty.Type {
	if p.Type == cty.NilType {
		return cty.String
	}
	return p.Type
}

// Action is a deferred commit or compensation step carried by a Result
type Action func(ctx context.Context, tc *Context) error

// Result is returned by a successful Run. It is a capability, not a record:
// the executor calls Commit right after Run and Rollback only if a later
// element of the same batch run fails or the run is interrupted. Nil actions
// mean the capability is absent.
type Result struct {
	Message  string
	Commit   Action
	Rollback Action
}
