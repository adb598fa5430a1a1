package domain

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Run is the outcome of invoking one task within one batch run
type Run struct {
	ID         string
	BatchRunID string
	TaskName   string
	TaskType   string
	Position   int
	Status     RunStatus
	StartedAt  time.Time
	FinishedAt *time.Time
	Message    string
}

// NewRun creates a run in the RUNNING state
func NewRun(id, batchRunID string, el BatchElement, startedAt time.Time) *Run {
	return &Run{
		ID:         id,
		BatchRunID: batchRunID,
		TaskName:   el.Task.Name,
		TaskType:   el.Task.Type,
		Position:   el.Position,
		Status:     RunRunning,
		StartedAt:  startedAt,
	}
}

func (r *Run) transition(next RunStatus) error {
	if !r.Status.CanTransitionTo(next) {
		return fmt.Errorf("run %s (%s): %w %s -> %s", r.ID, r.TaskName, ErrInvalidTransition, r.Status, next)
	}
	r.Status = next
	return nil
}

// Commit marks the run as having completed successfully
func (r *Run) Commit(at time.Time, message string) error {
	if err := r.transition(RunCommitted); err != nil {
		return err
	}
	r.FinishedAt = &at
	r.Message = message
	return nil
}

// Fail marks the run as failed with a diagnostic message
func (r *Run) Fail(at time.Time, message string) error {
	if err := r.transition(RunFailed); err != nil {
		return err
	}
	r.FinishedAt = &at
	r.Message = message
	return nil
}

// RollBack moves a committed run to ROLLED_BACK. The end timestamp of the
// forward execution is kept; a non-empty message replaces the previous one.
func (r *Run) RollBack(message string) error {
	if err := r.transition(RunRolledBack); err != nil {
		return err
	}
	if message != "" {
		r.Message = message
	}
	return nil
}

// Duration returns how long the forward execution took, or zero while running
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Clone returns a copy that shares no mutable state with r
func (r *Run) Clone() *Run {
	c := *r
	if r.FinishedAt != nil {
		at := *r.FinishedAt
		c.FinishedAt = &at
	}
	return &c
}

// BatchRun is one execution of a batch. Its start, end, status and message
// are derived from the run sequence and never stored separately.
//
// Runs is appended to only by the executing goroutine; other actors interact
// through the interrupt flag.
type BatchRun struct {
	ID            string
	BatchName     string
	Configuration string
	Workspace     string
	CreatedAt     time.Time
	Runs          []*Run

	interrupt atomic.Bool
}

// NewBatchRun creates an empty batch run for b
func NewBatchRun(id string, b *Batch, createdAt time.Time) *BatchRun {
	return &BatchRun{
		ID:            id,
		BatchName:     b.Name,
		Configuration: b.Configuration,
		Workspace:     b.Workspace,
		CreatedAt:     createdAt,
	}
}

// RequestInterrupt sets the cooperative interrupt flag. Safe for concurrent use.
func (br *BatchRun) RequestInterrupt() {
	br.interrupt.Store(true)
}

// InterruptRequested reads the interrupt flag. Safe for concurrent use.
func (br *BatchRun) InterruptRequested() bool {
	return br.interrupt.Load()
}

// AppendRun adds the next run of the sequence
func (br *BatchRun) AppendRun(r *Run) {
	br.Runs = append(br.Runs, r)
}

// Last returns the most recent run, or nil if none was executed
func (br *BatchRun) Last() *Run {
	if len(br.Runs) == 0 {
		return nil
	}
	return br.Runs[len(br.Runs)-1]
}

// Status is the status of the last run, or empty if no run exists
func (br *BatchRun) Status() RunStatus {
	if last := br.Last(); last != nil {
		return last.Status
	}
	return ""
}

// Message is the message of the last run
func (br *BatchRun) Message() string {
	if last := br.Last(); last != nil {
		return last.Message
	}
	return ""
}

// StartedAt is the start of the first run
func (br *BatchRun) StartedAt() *time.Time {
	if len(br.Runs) == 0 {
		return nil
	}
	at := br.Runs[0].StartedAt
	return &at
}

// FinishedAt is the end of the last run, nil while it is still running
func (br *BatchRun) FinishedAt() *time.Time {
	if last := br.Last(); last != nil && last.FinishedAt != nil {
		at := *last.FinishedAt
		return &at
	}
	return nil
}

// Succeeded returns true only if at least one run executed and all committed
func (br *BatchRun) Succeeded() bool {
	if len(br.Runs) == 0 {
		return false
	}
	for _, r := range br.Runs {
		if r.Status != RunCommitted {
			return false
		}
	}
	return true
}

// Run returns the run for the task name, or nil
func (br *BatchRun) Run(taskName string) *Run {
	for _, r := range br.Runs {
		if r.TaskName == taskName {
			return r
		}
	}
	return nil
}

// Clone returns a deep copy including the interrupt flag
func (br *BatchRun) Clone() *BatchRun {
	c := &BatchRun{
		ID:            br.ID,
		BatchName:     br.BatchName,
		Configuration: br.Configuration,
		Workspace:     br.Workspace,
		CreatedAt:     br.CreatedAt,
		Runs:          make([]*Run, len(br.Runs)),
	}
	for i, r := range br.Runs {
		c.Runs[i] = r.Clone()
	}
	if br.InterruptRequested() {
		c.RequestInterrupt()
	}
	return c
}
