package builtin

import (
	"context"
	"time"

	"github.com/hochfrequenz/batch-engine/internal/tasktype"
)

// waitType sleeps, checking for interrupts while it does
type waitType struct{}

func (waitType) Parameters() []tasktype.ParameterDef {
	return []tasktype.ParameterDef{
		{Name: "duration", Required: true, Description: "how long to wait, e.g. 30s", Validate: validDuration},
	}
}

func (waitType) Run(ctx context.Context, tc *tasktype.Context) (tasktype.Result, error) {
	values, err := tc.ParameterValues()
	if err != nil {
		return tasktype.Result{}, err
	}
	d, err := values.Duration("duration")
	if err != nil {
		return tasktype.Result{}, tasktype.Errorf("%w", err)
	}

	deadline := time.NewTimer(d)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if tc.IsInterruptRequested() {
			return tasktype.Result{}, tasktype.Errorf("%w", tasktype.ErrInterrupted)
		}
		select {
		case <-ctx.Done():
			return tasktype.Result{}, tasktype.Errorf("%w", tasktype.ErrInterrupted)
		case <-deadline.C:
			return tasktype.Result{Message: "waited " + d.String()}, nil
		case <-ticker.C:
		}
	}
}

func (waitType) Cleanup(ctx context.Context, tc *tasktype.Context) error {
	return nil
}
