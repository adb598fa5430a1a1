// Package report renders batch runs for operators.
package report

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hochfrequenz/batch-engine/internal/domain"
)

// StatusLabel is the display form of a derived status
func StatusLabel(s domain.RunStatus) string {
	switch s {
	case "":
		return "NOT STARTED"
	case domain.RunRolledBack:
		return "ROLLED BACK"
	default:
		return strings.ToUpper(string(s))
	}
}

// Duration returns the time between the first run's start and the last
// run's end, or until now while the batch run is in progress.
func Duration(br *domain.BatchRun, now time.Time) time.Duration {
	start := br.StartedAt()
	if start == nil {
		return 0
	}
	if end := br.FinishedAt(); end != nil {
		return end.Sub(*start)
	}
	return now.Sub(*start)
}

// Headline is a one-line summary of a batch run
func Headline(br *domain.BatchRun) string {
	line := fmt.Sprintf("%s %s: %s", br.BatchName, shortID(br.ID), StatusLabel(br.Status()))
	if msg := br.Message(); msg != "" && br.Status() != domain.RunCommitted {
		line += " (" + msg + ")"
	}
	return line
}

// Summary renders a batch run with one line per run
func Summary(br *domain.BatchRun, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Batch:     %s\n", br.BatchName)
	fmt.Fprintf(&b, "Run:       %s\n", br.ID)
	if br.Configuration != "" {
		fmt.Fprintf(&b, "Config:    %s\n", br.Configuration)
	}
	if br.Workspace != "" {
		fmt.Fprintf(&b, "Workspace: %s\n", br.Workspace)
	}
	fmt.Fprintf(&b, "Status:    %s\n", StatusLabel(br.Status()))
	if start := br.StartedAt(); start != nil {
		fmt.Fprintf(&b, "Started:   %s (%s)\n", start.Local().Format(time.DateTime), humanize.RelTime(*start, now, "ago", "from now"))
		fmt.Fprintf(&b, "Duration:  %s\n", FormatDuration(Duration(br, now)))
	}
	if br.InterruptRequested() {
		b.WriteString("Interrupt: requested\n")
	}
	if msg := br.Message(); msg != "" {
		fmt.Fprintf(&b, "Message:   %s\n", msg)
	}

	if len(br.Runs) == 0 {
		return b.String()
	}

	b.WriteString("\n")
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "POS\tTASK\tTYPE\tSTATUS\tDURATION\tMESSAGE")
	for _, r := range br.Runs {
		d := "-"
		if r.FinishedAt != nil {
			d = FormatDuration(r.Duration())
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", r.Position, r.TaskName, r.TaskType, StatusLabel(r.Status), d, oneLine(r.Message))
	}
	w.Flush()

	return b.String()
}

// FormatDuration rounds d for display
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return d.Round(100 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}

// Ago renders t relative to now, e.g. "3 minutes ago"
func Ago(t time.Time, now time.Time) string {
	return humanize.RelTime(t, now, "ago", "from now")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 80 {
		return s[:77] + "..."
	}
	return s
}
