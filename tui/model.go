// Package tui is a terminal dashboard of recent batch runs.
package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hochfrequenz/batch-engine/internal/domain"
	"github.com/hochfrequenz/batch-engine/internal/ledger"
)

const defaultLimit = 20

// Interrupter requests that a batch run stops at its next element boundary
type Interrupter interface {
	RequestInterrupt(ctx context.Context, id string) error
}

// Model is the TUI application model
type Model struct {
	// Sources
	history     ledger.History
	interrupter Interrupter
	opts        ledger.ListOptions
	now         func() time.Time

	// Data
	runs []*domain.BatchRun
	err  error

	// UI state
	width       int
	height      int
	selectedRow int
	expandedID  string
	statusLine  string

	// Refresh
	lastRefresh time.Time
}

// ModelConfig holds the data sources for the TUI model
type ModelConfig struct {
	History     ledger.History
	Interrupter Interrupter
	BatchName   string // Optional filter
	Limit       int
	Now         func() time.Time
}

// NewModel creates a new TUI model
func NewModel(cfg ModelConfig) Model {
	if cfg.Limit <= 0 {
		cfg.Limit = defaultLimit
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return Model{
		history:     cfg.History,
		interrupter: cfg.Interrupter,
		opts:        ledger.ListOptions{BatchName: cfg.BatchName, Limit: cfg.Limit},
		now:         cfg.Now,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.refreshCmd(),
		tickCmd(),
	)
}

// TickMsg triggers a refresh
type TickMsg time.Time

// RunsLoadedMsg carries the result of a refresh
type RunsLoadedMsg struct {
	Runs []*domain.BatchRun
	Err  error
}

// InterruptDoneMsg is sent when an interrupt request returns
type InterruptDoneMsg struct {
	ID  string
	Err error
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m Model) refreshCmd() tea.Cmd {
	history, opts := m.history, m.opts
	return func() tea.Msg {
		if history == nil {
			return RunsLoadedMsg{}
		}
		runs, err := history.ListBatchRuns(context.Background(), opts)
		return RunsLoadedMsg{Runs: runs, Err: err}
	}
}

func (m Model) interruptCmd(id string) tea.Cmd {
	interrupter := m.interrupter
	return func() tea.Msg {
		return InterruptDoneMsg{ID: id, Err: interrupter.RequestInterrupt(context.Background(), id)}
	}
}

// selected returns the batch run under the cursor, or nil
func (m Model) selected() *domain.BatchRun {
	if m.selectedRow < 0 || m.selectedRow >= len(m.runs) {
		return nil
	}
	return m.runs[m.selectedRow]
}
