// Package observer collects metrics about completed batch runs and detects
// runs that appear stuck.
package observer

import (
	"context"
	"sync"
	"time"

	"github.com/hochfrequenz/batch-engine/internal/domain"
)

// maxCompletions bounds the in-memory history
const maxCompletions = 1000

// Observer monitors batch execution and collects metrics
type Observer struct {
	stuckThreshold time.Duration
	now            func() time.Time

	completions []completion
	mu          sync.RWMutex
}

type completion struct {
	BatchRunID  string
	BatchName   string
	Status      domain.RunStatus
	Duration    time.Duration
	Runs        int
	CompletedAt time.Time
}

// Metrics holds aggregated metrics
type Metrics struct {
	TotalCompleted  int           `json:"total_completed"`
	TotalCommitted  int           `json:"total_committed"`
	TotalFailed     int           `json:"total_failed"`
	TotalRolledBack int           `json:"total_rolled_back"`
	TotalRuns       int           `json:"total_runs"`
	AvgDuration     time.Duration `json:"avg_duration"`
}

// New creates a new Observer
func New(stuckThreshold time.Duration) *Observer {
	return &Observer{
		stuckThreshold: stuckThreshold,
		now:            time.Now,
	}
}

// IsStuck returns true if a run has been RUNNING for longer than the threshold
func (o *Observer) IsStuck(run *domain.Run) bool {
	if run == nil || run.Status != domain.RunRunning {
		return false
	}
	return o.now().Sub(run.StartedAt) > o.stuckThreshold
}

// BatchRunCompleted records a finished batch run
func (o *Observer) BatchRunCompleted(ctx context.Context, br *domain.BatchRun) error {
	var d time.Duration
	if start, end := br.StartedAt(), br.FinishedAt(); start != nil && end != nil {
		d = end.Sub(*start)
	}
	o.RecordCompletion(br.ID, br.BatchName, br.Status(), d, len(br.Runs))
	return nil
}

// RecordCompletion records a batch run completion
func (o *Observer) RecordCompletion(batchRunID, batchName string, status domain.RunStatus, duration time.Duration, runs int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.completions = append(o.completions, completion{
		BatchRunID:  batchRunID,
		BatchName:   batchName,
		Status:      status,
		Duration:    duration,
		Runs:        runs,
		CompletedAt: o.now(),
	})
	if len(o.completions) > maxCompletions {
		o.completions = o.completions[len(o.completions)-maxCompletions:]
	}
}

// GetMetrics returns aggregated metrics
func (o *Observer) GetMetrics() Metrics {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var metrics Metrics
	var totalDuration time.Duration

	for _, c := range o.completions {
		metrics.TotalCompleted++
		metrics.TotalRuns += c.Runs
		totalDuration += c.Duration
		switch c.Status {
		case domain.RunCommitted:
			metrics.TotalCommitted++
		case domain.RunFailed:
			metrics.TotalFailed++
		case domain.RunRolledBack:
			metrics.TotalRolledBack++
		}
	}

	if metrics.TotalCompleted > 0 {
		metrics.AvgDuration = totalDuration / time.Duration(metrics.TotalCompleted)
	}

	return metrics
}

// GetRecentCompletions returns batch run IDs completed within the last duration
func (o *Observer) GetRecentCompletions(since time.Duration) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	cutoff := o.now().Add(-since)
	var result []string

	for _, c := range o.completions {
		if c.CompletedAt.After(cutoff) {
			result = append(result, c.BatchRunID)
		}
	}

	return result
}
