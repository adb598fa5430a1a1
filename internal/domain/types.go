package domain

import "errors"

// RunStatus represents the execution state of a run
type RunStatus string

const (
	RunRunning    RunStatus = "running"
	RunCommitted  RunStatus = "committed"
	RunFailed     RunStatus = "failed"
	RunRolledBack RunStatus = "rolled_back"
)

// ErrInvalidTransition is returned when a run status change violates the state machine
var ErrInvalidTransition = errors.New("invalid run status transition")

// CanTransitionTo reports whether a run in status s may move to next.
// COMMITTED -> ROLLED_BACK is the only backward-looking transition.
func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	switch s {
	case RunRunning:
		return next == RunCommitted || next == RunFailed
	case RunCommitted:
		return next == RunRolledBack
	default:
		return false
	}
}

// IsTerminal returns true for statuses that never change again
func (s RunStatus) IsTerminal() bool {
	return s == RunFailed || s == RunRolledBack
}

// Valid returns true if s is one of the known statuses
func (s RunStatus) Valid() bool {
	switch s {
	case RunRunning, RunCommitted, RunFailed, RunRolledBack:
		return true
	}
	return false
}

// RunCondition decides whether a batch element runs given the previous run
type RunCondition string

const (
	// RunAlways runs the element regardless of the previous run
	RunAlways RunCondition = "always"
	// RunOnSuccess stops the sequence unless the previous run committed
	RunOnSuccess RunCondition = "on_success"
	// RunDisabled skips the element without creating a run
	RunDisabled RunCondition = "disabled"
)

// Valid returns true if c is a known condition. The empty condition means RunAlways.
func (c RunCondition) Valid() bool {
	switch c {
	case "", RunAlways, RunOnSuccess, RunDisabled:
		return true
	}
	return false
}
