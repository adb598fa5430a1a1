package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/hochfrequenz/batch-engine/internal/domain"
	"github.com/hochfrequenz/batch-engine/internal/report"
)

var (
	headerStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("255")).
			Background(lipgloss.Color("238"))

	runningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))

	committedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	failedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	rolledBackStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	dimmedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255"))
)

// statusStyle colors a derived status
func statusStyle(s domain.RunStatus) lipgloss.Style {
	switch s {
	case domain.RunRunning:
		return runningStyle
	case domain.RunCommitted:
		return committedStyle
	case domain.RunFailed:
		return failedStyle
	case domain.RunRolledBack:
		return rolledBackStyle
	default:
		return dimmedStyle
	}
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	// Header
	running := 0
	for _, br := range m.runs {
		if br.Status() == domain.RunRunning {
			running++
		}
	}
	updated := "never"
	if !m.lastRefresh.IsZero() {
		updated = m.lastRefresh.Format("15:04:05")
	}
	header := fmt.Sprintf(" batchctl │ Runs: %d │ Running: %d │ Updated: %s ", len(m.runs), running, updated)
	if m.opts.BatchName != "" {
		header += "│ Batch: " + m.opts.BatchName + " "
	}
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderRuns()))
	b.WriteString("\n")

	if br := m.selected(); br != nil && br.ID == m.expandedID {
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderDetails(br)))
		b.WriteString("\n")
	}

	b.WriteString(m.renderStatusBar())
	return b.String()
}

func (m Model) renderRuns() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("BATCH RUNS"))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(failedStyle.Render("error: " + m.err.Error()))
		return b.String()
	}
	if len(m.runs) == 0 {
		b.WriteString(dimmedStyle.Render("No batch runs yet"))
		return b.String()
	}

	b.WriteString(dimmedStyle.Render(fmt.Sprintf("  %-8s  %-20s  %-12s  %-16s  %-8s  %s", "ID", "BATCH", "STATUS", "STARTED", "TIME", "MESSAGE")))
	b.WriteString("\n")

	now := m.now()
	for i, br := range m.runs {
		started := "-"
		if s := br.StartedAt(); s != nil {
			started = report.Ago(*s, now)
		}
		status := fmt.Sprintf("%-12s", report.StatusLabel(br.Status()))
		msg := truncate(br.Message(), 40)
		if br.InterruptRequested() && inProgress(br) {
			msg = warningStyle.Render("interrupting") + " " + msg
		}

		line := fmt.Sprintf("%-8s  %-20s  %s  %-16s  %-8s  %s",
			shortID(br.ID),
			truncate(br.BatchName, 20),
			statusStyle(br.Status()).Render(status),
			started,
			report.FormatDuration(report.Duration(br, now)),
			msg,
		)
		if i == m.selectedRow {
			b.WriteString(selectedStyle.Render("> ") + line)
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderDetails(br *domain.BatchRun) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(report.Headline(br)))
	b.WriteString("\n")
	if br.Configuration != "" || br.Workspace != "" {
		b.WriteString(dimmedStyle.Render(fmt.Sprintf("configuration %s, workspace %s", orDash(br.Configuration), orDash(br.Workspace))))
		b.WriteString("\n")
	}

	for _, r := range br.Runs {
		d := "-"
		if r.FinishedAt != nil {
			d = report.FormatDuration(r.Duration())
		}
		status := fmt.Sprintf("%-12s", report.StatusLabel(r.Status))
		fmt.Fprintf(&b, "%3d  %-20s  %-14s  %s  %-8s  %s\n",
			r.Position,
			truncate(r.TaskName, 20),
			truncate(r.TaskType, 14),
			statusStyle(r.Status).Render(status),
			d,
			truncate(r.Message, 60),
		)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderStatusBar() string {
	help := " j/k select • enter details • x interrupt • r refresh • q quit "
	if m.statusLine != "" {
		help = " " + m.statusLine + " │" + help
	}
	return statusBarStyle.Width(m.width).Render(help)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
