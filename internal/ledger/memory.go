package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hochfrequenz/batch-engine/internal/domain"
)

// Memory is an in-process ledger. It stores copies, so callers observe the
// persisted state rather than the executor's live objects.
type Memory struct {
	batchRuns map[string]*domain.BatchRun
	order     []string
	mu        sync.RWMutex
}

// NewMemory creates an empty in-memory ledger
func NewMemory() *Memory {
	return &Memory{batchRuns: make(map[string]*domain.BatchRun)}
}

// PersistBatchRun stores the batch run header. The interrupt flag is sticky:
// persisting a copy without the flag does not clear one set by another actor.
func (m *Memory) PersistBatchRun(ctx context.Context, br *domain.BatchRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.batchRuns[br.ID]
	if !ok {
		stored = br.Clone()
		stored.Runs = nil
		m.batchRuns[br.ID] = stored
		m.order = append(m.order, br.ID)
	}
	if br.InterruptRequested() {
		stored.RequestInterrupt()
	}
	return nil
}

// PersistRun inserts or replaces the run within its batch run
func (m *Memory) PersistRun(ctx context.Context, run *domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.batchRuns[run.BatchRunID]
	if !ok {
		return fmt.Errorf("persist run %s: %w: %s", run.ID, ErrNotFound, run.BatchRunID)
	}
	for i, r := range stored.Runs {
		if r.ID == run.ID {
			stored.Runs[i] = run.Clone()
			return nil
		}
	}
	stored.Runs = append(stored.Runs, run.Clone())
	sort.SliceStable(stored.Runs, func(i, j int) bool {
		return stored.Runs[i].Position < stored.Runs[j].Position
	})
	return nil
}

// Reload returns a copy of the persisted batch run
func (m *Memory) Reload(ctx context.Context, id string) (*domain.BatchRun, error) {
	return m.GetBatchRun(ctx, id)
}

// RequestInterrupt records an interrupt request for id
func (m *Memory) RequestInterrupt(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.batchRuns[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	stored.RequestInterrupt()
	return nil
}

// GetBatchRun returns a copy of the batch run with its runs
func (m *Memory) GetBatchRun(ctx context.Context, id string) (*domain.BatchRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored, ok := m.batchRuns[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return stored.Clone(), nil
}

// ListBatchRuns returns batch runs, most recent first
func (m *Memory) ListBatchRuns(ctx context.Context, opts ListOptions) ([]*domain.BatchRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*domain.BatchRun
	for i := len(m.order) - 1; i >= 0; i-- {
		br := m.batchRuns[m.order[i]]
		if opts.BatchName != "" && br.BatchName != opts.BatchName {
			continue
		}
		result = append(result, br.Clone())
		if opts.Limit > 0 && len(result) >= opts.Limit {
			break
		}
	}
	return result, nil
}
