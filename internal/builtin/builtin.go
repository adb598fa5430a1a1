// Package builtin provides the task types shipped with the engine.
package builtin

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hochfrequenz/batch-engine/internal/tasktype"
	"github.com/zclconf/go-cty/cty"
)

// Type names
const (
	FileStage   = "file.stage"
	FilePromote = "file.promote"
	Exec        = "exec"
	SQLExec     = "sql.exec"
	Wait        = "wait"
)

// pollInterval is how often long-running types check for interrupts
const pollInterval = 100 * time.Millisecond

// Register adds every built-in task type to reg
func Register(reg *tasktype.Registry) error {
	types := map[string]tasktype.TaskType{
		FileStage:   &fileStage{},
		FilePromote: &filePromote{},
		Exec:        &execType{},
		SQLExec:     &sqlExec{},
		Wait:        &waitType{},
	}
	for _, name := range []string{FileStage, FilePromote, Exec, SQLExec, Wait} {
		if err := reg.Register(name, types[name]); err != nil {
			return err
		}
	}
	return nil
}

// validDuration rejects strings time.ParseDuration cannot read
func validDuration(v cty.Value) error {
	if v.IsNull() {
		return nil
	}
	if _, err := time.ParseDuration(v.AsString()); err != nil {
		return fmt.Errorf("not a duration: %w", err)
	}
	return nil
}

// removeIfExists deletes path and treats a missing file as success
func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
