package report

import (
	"strings"
	"testing"
	"time"

	"github.com/hochfrequenz/batch-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC)

func warehouseRun(t *testing.T) *domain.BatchRun {
	t.Helper()
	b := &domain.Batch{Name: "nightly-load", Configuration: "warehouse", Workspace: "prod"}
	br := domain.NewBatchRun("0f8fad5b-d9cb-469f-a165-70867728950e", b, t0)

	create := domain.NewRun("r1", br.ID, domain.BatchElement{Task: &domain.Task{Name: "CreateTable", Type: "sql.exec"}, Position: 1}, t0)
	require.NoError(t, create.Commit(t0.Add(2*time.Second), "0 rows affected"))
	require.NoError(t, create.RollBack(""))

	load := domain.NewRun("r2", br.ID, domain.BatchElement{Task: &domain.Task{Name: "LoadData", Type: "exec"}, Position: 2}, t0.Add(2*time.Second))
	require.NoError(t, load.Fail(t0.Add(95*time.Second), "disk full"))

	br.AppendRun(create)
	br.AppendRun(load)
	return br
}

func TestHeadline(t *testing.T) {
	br := warehouseRun(t)
	assert.Equal(t, "nightly-load 0f8fad5b: FAILED (disk full)", Headline(br))

	empty := domain.NewBatchRun("abc", &domain.Batch{Name: "x"}, t0)
	assert.Equal(t, "x abc: NOT STARTED", Headline(empty))
}

func TestSummary(t *testing.T) {
	br := warehouseRun(t)
	out := Summary(br, t0.Add(10*time.Minute))

	assert.Contains(t, out, "Batch:     nightly-load")
	assert.Contains(t, out, "Status:    FAILED")
	assert.Contains(t, out, "Duration:  1m35s")
	assert.Contains(t, out, "10 minutes ago")
	assert.Contains(t, out, "Message:   disk full")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	last := lines[len(lines)-1]
	assert.Contains(t, last, "LoadData")
	assert.Contains(t, last, "FAILED")
	assert.Contains(t, out, "ROLLED BACK")
}

func TestSummary_InProgress(t *testing.T) {
	b := &domain.Batch{Name: "nightly-load"}
	br := domain.NewBatchRun("id", b, t0)
	br.AppendRun(domain.NewRun("r1", br.ID, domain.BatchElement{Task: &domain.Task{Name: "a", Type: "wait"}, Position: 1}, t0))
	br.RequestInterrupt()

	out := Summary(br, t0.Add(30*time.Second))
	assert.Contains(t, out, "Status:    RUNNING")
	assert.Contains(t, out, "Duration:  30s")
	assert.Contains(t, out, "Interrupt: requested")
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{1234567 * time.Nanosecond, "1ms"},
		{1500 * time.Millisecond, "1.5s"},
		{95*time.Second + 400*time.Millisecond, "1m35s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.in))
	}
}
