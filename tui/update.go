package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/hochfrequenz/batch-engine/internal/domain"
)

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.refreshCmd()
		case "j", "down":
			if m.selectedRow < len(m.runs)-1 {
				m.selectedRow++
			}
		case "k", "up":
			if m.selectedRow > 0 {
				m.selectedRow--
			}
		case "enter":
			if br := m.selected(); br != nil {
				if m.expandedID == br.ID {
					m.expandedID = ""
				} else {
					m.expandedID = br.ID
				}
			}
		case "x":
			br := m.selected()
			if br == nil || m.interrupter == nil {
				return m, nil
			}
			if !inProgress(br) {
				m.statusLine = "batch run " + shortID(br.ID) + " already finished"
				return m, nil
			}
			m.statusLine = "requesting interrupt of " + shortID(br.ID) + "..."
			return m, m.interruptCmd(br.ID)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		return m, tea.Batch(m.refreshCmd(), tickCmd())

	case RunsLoadedMsg:
		m.err = msg.Err
		if msg.Err == nil {
			m.SetRuns(msg.Runs)
			m.lastRefresh = m.now()
		}

	case InterruptDoneMsg:
		if msg.Err != nil {
			m.statusLine = "interrupt failed: " + msg.Err.Error()
		} else {
			m.statusLine = "interrupt requested for " + shortID(msg.ID)
		}
		return m, m.refreshCmd()
	}

	return m, nil
}

// SetRuns replaces the listed batch runs, keeping the cursor on the same run
// when it is still present.
func (m *Model) SetRuns(runs []*domain.BatchRun) {
	var current string
	if br := m.selected(); br != nil {
		current = br.ID
	}

	m.runs = runs
	m.selectedRow = 0
	for i, br := range runs {
		if br.ID == current {
			m.selectedRow = i
			break
		}
	}
}

// inProgress reports whether br may still be executing. A committed last run
// can be followed by further elements, so only terminal statuses rule it out.
func inProgress(br *domain.BatchRun) bool {
	return !br.Status().IsTerminal()
}
