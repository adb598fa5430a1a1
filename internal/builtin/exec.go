package builtin

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/hochfrequenz/batch-engine/internal/domain"
	"github.com/hochfrequenz/batch-engine/internal/tasktype"
)

// maxMessage bounds the command output kept as a run message
const maxMessage = 512

// execType runs an external command without a shell
type execType struct{}

func (execType) Parameters() []tasktype.ParameterDef {
	return []tasktype.ParameterDef{
		{Name: "command", Required: true, Description: "command line, split on whitespace"},
		{Name: "dir", Description: "working directory"},
		{Name: "undo", Description: "command that reverses the effect; used for rollback"},
		{Name: "cleanup", Description: "command run by cleanup"},
		{Name: "timeout", Description: "maximum run time, e.g. 10m", Validate: validDuration},
	}
}

// Supports rejects commands whose executable cannot be found. Commands bound
// through a configuration reference are checked when they run.
func (execType) Supports(task *domain.Task) error {
	pv, ok := task.Parameters["command"]
	if !ok || pv.IsRef() {
		return nil
	}
	fields := strings.Fields(pv.Value)
	if len(fields) == 0 {
		return fmt.Errorf("empty command")
	}
	if _, err := exec.LookPath(fields[0]); err != nil {
		return err
	}
	return nil
}

func (execType) Run(ctx context.Context, tc *tasktype.Context) (tasktype.Result, error) {
	values, err := tc.ParameterValues()
	if err != nil {
		return tasktype.Result{}, err
	}

	if values.Has("timeout") {
		timeout, err := values.Duration("timeout")
		if err != nil {
			return tasktype.Result{}, tasktype.Errorf("%w", err)
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	dir := values.String("dir")
	out, err := runCommand(ctx, tc, values.String("command"), dir, true)
	if err != nil {
		return tasktype.Result{}, err
	}

	res := tasktype.Result{Message: out}
	if undo := values.String("undo"); undo != "" {
		res.Rollback = func(ctx context.Context, tc *tasktype.Context) error {
			_, err := runCommand(ctx, tc, undo, dir, false)
			return err
		}
	}
	return res, nil
}

func (execType) Cleanup(ctx context.Context, tc *tasktype.Context) error {
	values, err := tc.ParameterValues()
	if err != nil {
		return err
	}
	cmd := values.String("cleanup")
	if cmd == "" {
		return nil
	}
	_, err = runCommand(ctx, tc, cmd, values.String("dir"), false)
	return err
}

// runCommand runs line and returns its trimmed combined output. An
// interruptible command is killed when the batch run is interrupted;
// compensation and cleanup commands are not.
func runCommand(ctx context.Context, tc *tasktype.Context, line, dir string, interruptible bool) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", tasktype.Errorf("empty command")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var interrupted atomic.Bool
	done := make(chan struct{})
	defer close(done)
	if interruptible {
		go watchInterrupt(ctx, tc, done, &interrupted, cancel)
	}

	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	cmd.Dir = dir
	tc.Logger().Debug().Str("command", line).Str("dir", dir).Msg("running command")

	out, err := cmd.CombinedOutput()
	output := truncate(strings.TrimSpace(string(out)))
	if err == nil {
		return output, nil
	}

	if interrupted.Load() {
		return "", tasktype.Errorf("%s: %w", fields[0], tasktype.ErrInterrupted)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", tasktype.Errorf("%s: timed out", fields[0])
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if output == "" {
			return "", tasktype.Errorf("%s exited with code %d", fields[0], exitErr.ExitCode())
		}
		return "", tasktype.Errorf("%s exited with code %d: %s", fields[0], exitErr.ExitCode(), output)
	}
	return "", tasktype.Errorf("%s: %w", fields[0], err)
}

// truncate cuts s to maxMessage bytes on a rune boundary
func truncate(s string) string {
	if len(s) <= maxMessage {
		return s
	}
	cut := maxMessage
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// watchInterrupt polls the batch run's interrupt flag until done or ctx ends
func watchInterrupt(ctx context.Context, tc *tasktype.Context, done <-chan struct{}, interrupted *atomic.Bool, cancel context.CancelFunc) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if tc.IsInterruptRequested() {
				interrupted.Store(true)
				cancel()
				return
			}
		}
	}
}
