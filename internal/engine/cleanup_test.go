package engine

import (
	"context"
	"testing"

	"github.com/hochfrequenz/batch-engine/internal/domain"
	"github.com/hochfrequenz/batch-engine/internal/tasktype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanup_Idempotent(t *testing.T) {
	f := newFixture(t, nil)
	task := &domain.Task{Name: "CreateTable", Type: "scripted"}

	require.NoError(t, f.exec.Cleanup(context.Background(), f.cfg, task))
	require.NoError(t, f.exec.Cleanup(context.Background(), f.cfg, task))

	assert.Equal(t, []string{"cleanup:CreateTable", "cleanup:CreateTable"}, f.j.list())
}

func TestCleanup_HasNoBatchRun(t *testing.T) {
	f := newFixture(t, nil)
	var checked bool
	require.NoError(t, f.exec.Registry().Register("probe", probeType{fn: func(tc *tasktype.Context) {
		checked = tc.BatchRun() == nil && !tc.IsInterruptRequested() && tc.TempValues() == nil
	}}))

	require.NoError(t, f.exec.Cleanup(context.Background(), f.cfg, &domain.Task{Name: "p", Type: "probe"}))
	assert.True(t, checked)
}

func TestCleanup_UnknownType(t *testing.T) {
	f := newFixture(t, nil)
	err := f.exec.Cleanup(context.Background(), f.cfg, &domain.Task{Name: "x", Type: "nope"})
	assert.ErrorIs(t, err, tasktype.ErrNotFound)
}

func TestCleanupBatch_ReverseOrderCollectsErrors(t *testing.T) {
	f := newFixture(t, map[string]behavior{
		"c": {cleanupErr: "permission denied"},
		"a": {cleanupErr: "table locked"},
	})
	batch := newBatch("a", "b", "c", "d")
	batch.Elements[3].Condition = domain.RunDisabled

	err := f.exec.CleanupBatch(context.Background(), f.cfg, batch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
	assert.Contains(t, err.Error(), "table locked")

	assert.Equal(t, []string{"cleanup:c", "cleanup:b", "cleanup:a"}, f.j.list())
}

type probeType struct {
	fn func(tc *tasktype.Context)
}

func (p probeType) Parameters() []tasktype.ParameterDef { return nil }

func (p probeType) Run(ctx context.Context, tc *tasktype.Context) (tasktype.Result, error) {
	return tasktype.Result{}, nil
}

func (p probeType) Cleanup(ctx context.Context, tc *tasktype.Context) error {
	p.fn(tc)
	return nil
}
