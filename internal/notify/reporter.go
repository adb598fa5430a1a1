package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hochfrequenz/batch-engine/internal/domain"
	"github.com/hochfrequenz/batch-engine/internal/report"
)

// BatchReporter turns completed batch runs into notifications
type BatchReporter struct {
	notifier Notifier
	now      func() time.Time
}

// NewBatchReporter creates a reporter sending through n
func NewBatchReporter(n Notifier) *BatchReporter {
	return &BatchReporter{notifier: n, now: time.Now}
}

// LevelFor maps the derived status of a batch run to a notification level
func LevelFor(s domain.RunStatus) Level {
	switch s {
	case domain.RunCommitted:
		return LevelSuccess
	case domain.RunRolledBack:
		return LevelWarning
	case domain.RunFailed:
		return LevelError
	default:
		return LevelInfo
	}
}

func (r *BatchReporter) BatchRunCompleted(ctx context.Context, br *domain.BatchRun) error {
	now := r.now()
	at := now
	if end := br.FinishedAt(); end != nil {
		at = *end
	}
	return r.notifier.Send(ctx, Notification{
		Level:      LevelFor(br.Status()),
		Title:      report.Headline(br),
		Body:       report.Summary(br, now),
		BatchName:  br.BatchName,
		BatchRunID: br.ID,
		At:         at,
		Fields:     runFields(br, now),
	})
}

// runFields lists the batch run facts followed by one field per run
func runFields(br *domain.BatchRun, now time.Time) []Field {
	fields := []Field{
		{Name: "Status", Value: report.StatusLabel(br.Status()), Short: true},
		{Name: "Duration", Value: report.FormatDuration(report.Duration(br, now)), Short: true},
	}
	if br.Workspace != "" {
		fields = append(fields, Field{Name: "Workspace", Value: br.Workspace, Short: true})
	}
	for _, run := range br.Runs {
		value := report.StatusLabel(run.Status)
		if run.FinishedAt != nil {
			value += " in " + report.FormatDuration(run.Duration())
		}
		if run.Status == domain.RunFailed || strings.HasPrefix(run.Message, "rollback failed") {
			value += ": " + run.Message
		}
		fields = append(fields, Field{Name: fmt.Sprintf("%d. %s", run.Position, run.TaskName), Value: value})
	}
	return fields
}
