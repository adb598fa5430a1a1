// Package ledger defines the system-of-record contract the executor persists
// runs through, plus an in-memory implementation.
package ledger

import (
	"context"
	"errors"

	"github.com/hochfrequenz/batch-engine/internal/domain"
)

// ErrNotFound is returned when a batch run is not in the ledger
var ErrNotFound = errors.New("batch run not found")

// Ledger persists runs and batch runs. Reload is authoritative for the
// interrupt flag when another actor may have set it.
type Ledger interface {
	PersistRun(ctx context.Context, run *domain.Run) error
	PersistBatchRun(ctx context.Context, br *domain.BatchRun) error
	Reload(ctx context.Context, id string) (*domain.BatchRun, error)
}

// Interrupter is implemented by ledgers that can record an interrupt request
// for a batch run executing elsewhere.
type Interrupter interface {
	RequestInterrupt(ctx context.Context, id string) error
}

// ListOptions filters batch run history
type ListOptions struct {
	BatchName string
	Limit     int
}

// History is implemented by ledgers that can list past batch runs
type History interface {
	ListBatchRuns(ctx context.Context, opts ListOptions) ([]*domain.BatchRun, error)
	GetBatchRun(ctx context.Context, id string) (*domain.BatchRun, error)
}
