package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hochfrequenz/batch-engine/internal/domain"
	"github.com/hochfrequenz/batch-engine/internal/ledger"
)

var t0 = time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC)

type fakeHistory struct {
	runs []*domain.BatchRun
	opts ledger.ListOptions
	err  error
}

func (f *fakeHistory) ListBatchRuns(ctx context.Context, opts ledger.ListOptions) ([]*domain.BatchRun, error) {
	f.opts = opts
	return f.runs, f.err
}

func (f *fakeHistory) GetBatchRun(ctx context.Context, id string) (*domain.BatchRun, error) {
	for _, br := range f.runs {
		if br.ID == id {
			return br, nil
		}
	}
	return nil, ledger.ErrNotFound
}

type fakeInterrupter struct {
	ids []string
	err error
}

func (f *fakeInterrupter) RequestInterrupt(ctx context.Context, id string) error {
	f.ids = append(f.ids, id)
	return f.err
}

// batchRun builds a batch run whose last run has the given status
func batchRun(id, name string, status domain.RunStatus) *domain.BatchRun {
	br := domain.NewBatchRun(id, &domain.Batch{Name: name, Configuration: "warehouse"}, t0)
	run := domain.NewRun(id+"-r1", id, domain.BatchElement{Task: &domain.Task{Name: "LoadData", Type: "exec"}, Position: 1}, t0)
	switch status {
	case domain.RunCommitted:
		run.Commit(t0.Add(time.Minute), "loaded")
	case domain.RunFailed:
		run.Fail(t0.Add(time.Minute), "disk full")
	}
	br.AppendRun(run)
	return br
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func loadedModel(t *testing.T, runs ...*domain.BatchRun) (Model, *fakeInterrupter) {
	t.Helper()
	intr := &fakeInterrupter{}
	m := NewModel(ModelConfig{
		History:     &fakeHistory{runs: runs},
		Interrupter: intr,
		Now:         func() time.Time { return t0.Add(5 * time.Minute) },
	})
	m.width = 140
	m.height = 40
	m, _ = update(t, m, RunsLoadedMsg{Runs: runs})
	return m, intr
}

func TestNewModel(t *testing.T) {
	model := NewModel(ModelConfig{BatchName: "nightly-load"})

	if model.opts.Limit != defaultLimit {
		t.Errorf("Limit = %d, want %d", model.opts.Limit, defaultLimit)
	}
	if model.opts.BatchName != "nightly-load" {
		t.Errorf("BatchName = %q, want nightly-load", model.opts.BatchName)
	}
	if model.View() != "Loading..." {
		t.Errorf("View() before sizing = %q", model.View())
	}
}

func TestModel_RefreshCmd(t *testing.T) {
	hist := &fakeHistory{runs: []*domain.BatchRun{batchRun("a", "nightly-load", domain.RunCommitted)}}
	model := NewModel(ModelConfig{History: hist, BatchName: "nightly-load", Limit: 5})

	_, cmd := update(t, model, key("r"))
	if cmd == nil {
		t.Fatal("r should return a refresh command")
	}
	msg, ok := cmd().(RunsLoadedMsg)
	if !ok {
		t.Fatalf("refresh produced %T", msg)
	}
	if len(msg.Runs) != 1 {
		t.Errorf("Runs = %d, want 1", len(msg.Runs))
	}
	if hist.opts.Limit != 5 || hist.opts.BatchName != "nightly-load" {
		t.Errorf("list options = %+v", hist.opts)
	}
}

func TestModel_Navigation(t *testing.T) {
	model, _ := loadedModel(t,
		batchRun("a", "nightly-load", domain.RunCommitted),
		batchRun("b", "nightly-load", domain.RunFailed),
		batchRun("c", "hourly", domain.RunRunning),
	)

	model, _ = update(t, model, key("k"))
	if model.selectedRow != 0 {
		t.Errorf("k at top: selectedRow = %d, want 0", model.selectedRow)
	}

	for i := 0; i < 5; i++ {
		model, _ = update(t, model, key("j"))
	}
	if model.selectedRow != 2 {
		t.Errorf("j past bottom: selectedRow = %d, want 2", model.selectedRow)
	}

	model, _ = update(t, model, tea.KeyMsg{Type: tea.KeyUp})
	if model.selectedRow != 1 {
		t.Errorf("up: selectedRow = %d, want 1", model.selectedRow)
	}
}

func TestModel_SetRunsKeepsSelection(t *testing.T) {
	a := batchRun("a", "x", domain.RunCommitted)
	b := batchRun("b", "x", domain.RunCommitted)
	model, _ := loadedModel(t, a, b)
	model, _ = update(t, model, key("j"))

	// A new run arrives at the top
	c := batchRun("c", "x", domain.RunRunning)
	model, _ = update(t, model, RunsLoadedMsg{Runs: []*domain.BatchRun{c, a, b}})

	if got := model.selected().ID; got != "b" {
		t.Errorf("selected = %q, want b", got)
	}
}

func TestModel_ToggleDetails(t *testing.T) {
	model, _ := loadedModel(t, batchRun("0f8fad5b-d9cb", "nightly-load", domain.RunFailed))

	model, _ = update(t, model, tea.KeyMsg{Type: tea.KeyEnter})
	if model.expandedID != "0f8fad5b-d9cb" {
		t.Fatalf("expandedID = %q after enter", model.expandedID)
	}
	view := model.View()
	if !strings.Contains(view, "LoadData") || !strings.Contains(view, "disk full") {
		t.Errorf("details missing from view:\n%s", view)
	}

	model, _ = update(t, model, tea.KeyMsg{Type: tea.KeyEnter})
	if model.expandedID != "" {
		t.Errorf("expandedID = %q after second enter", model.expandedID)
	}
}

func TestModel_Interrupt(t *testing.T) {
	model, intr := loadedModel(t,
		batchRun("running-1", "nightly-load", domain.RunRunning),
		batchRun("failed-1", "nightly-load", domain.RunFailed),
	)

	model, cmd := update(t, model, key("x"))
	if cmd == nil {
		t.Fatal("x on a running batch should return a command")
	}
	done, ok := cmd().(InterruptDoneMsg)
	if !ok {
		t.Fatal("interrupt command should produce InterruptDoneMsg")
	}
	if len(intr.ids) != 1 || intr.ids[0] != "running-1" {
		t.Errorf("interrupted = %v, want [running-1]", intr.ids)
	}

	model, _ = update(t, model, done)
	if !strings.Contains(model.statusLine, "interrupt requested") {
		t.Errorf("statusLine = %q", model.statusLine)
	}

	model, _ = update(t, model, key("j"))
	model, cmd = update(t, model, key("x"))
	if cmd != nil {
		t.Error("x on a finished batch should not interrupt")
	}
	if !strings.Contains(model.statusLine, "already finished") {
		t.Errorf("statusLine = %q", model.statusLine)
	}

	model, _ = update(t, model, InterruptDoneMsg{ID: "running-1", Err: errors.New("not active")})
	if !strings.Contains(model.statusLine, "interrupt failed") {
		t.Errorf("statusLine = %q", model.statusLine)
	}
}

func TestModel_LoadError(t *testing.T) {
	model, _ := loadedModel(t, batchRun("a", "x", domain.RunCommitted))

	model, _ = update(t, model, RunsLoadedMsg{Err: errors.New("database is locked")})
	if len(model.runs) != 1 {
		t.Errorf("runs should survive a failed refresh, got %d", len(model.runs))
	}
	if !strings.Contains(model.View(), "database is locked") {
		t.Error("view should show the refresh error")
	}
}

func TestModel_TickAndQuit(t *testing.T) {
	model := NewModel(ModelConfig{})

	_, cmd := update(t, model, TickMsg(t0))
	if cmd == nil {
		t.Error("tick should schedule a refresh and the next tick")
	}

	_, cmd = update(t, model, key("q"))
	if cmd == nil {
		t.Fatal("q should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
}

func TestModel_View(t *testing.T) {
	model, _ := loadedModel(t,
		batchRun("0f8fad5b-d9cb", "nightly-load", domain.RunCommitted),
		batchRun("7c9e6679-7425", "hourly-sync", domain.RunFailed),
	)

	view := model.View()
	for _, want := range []string{"batchctl", "Runs: 2", "nightly-load", "hourly-sync", "COMMITTED", "FAILED", "0f8fad5b", "5 minutes ago", "q quit"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}

	empty, _ := loadedModel(t)
	if !strings.Contains(empty.View(), "No batch runs yet") {
		t.Error("empty view should say so")
	}
}
