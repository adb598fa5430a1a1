package builtin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/hochfrequenz/batch-engine/internal/tasktype"
	"github.com/zclconf/go-cty/cty"
)

const stagedSuffix = ".staged"

func stagedKey(path string) string {
	return "staged:" + filepath.Clean(path)
}

// fileStage writes content next to its final location
type fileStage struct{}

func (fileStage) Parameters() []tasktype.ParameterDef {
	return []tasktype.ParameterDef{
		{Name: "path", Required: true, Description: "final location of the file"},
		{Name: "content", HasDefault: true, Description: "file content"},
		{Name: "mode", Default: "0644", HasDefault: true, Description: "octal file mode",
			Validate: validMode},
	}
}

func (fileStage) Run(ctx context.Context, tc *tasktype.Context) (tasktype.Result, error) {
	values, err := tc.ParameterValues()
	if err != nil {
		return tasktype.Result{}, err
	}

	path := values.String("path")
	staged := path + stagedSuffix
	mode, _ := parseMode(values.String("mode"))

	if err := os.MkdirAll(filepath.Dir(staged), 0755); err != nil {
		return tasktype.Result{}, tasktype.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(staged, []byte(values.String("content")), mode); err != nil {
		return tasktype.Result{}, tasktype.Errorf("stage %s: %w", path, err)
	}
	tc.TempValues().Set(stagedKey(path), staged)
	tc.Logger().Debug().Str("staged", staged).Msg("file staged")

	return tasktype.Result{
		Message: "staged " + staged,
		Rollback: func(ctx context.Context, tc *tasktype.Context) error {
			tc.TempValues().Delete(stagedKey(path))
			return removeIfExists(staged)
		},
	}, nil
}

func (fileStage) Cleanup(ctx context.Context, tc *tasktype.Context) error {
	values, err := tc.ParameterValues()
	if err != nil {
		return err
	}
	path := values.String("path")
	return errors.Join(removeIfExists(path+stagedSuffix), removeIfExists(path))
}

// filePromote moves a file staged earlier in the same batch run into place
type filePromote struct{}

func (filePromote) Parameters() []tasktype.ParameterDef {
	return []tasktype.ParameterDef{
		{Name: "path", Required: true, Description: "final location of the file"},
	}
}

func (filePromote) Run(ctx context.Context, tc *tasktype.Context) (tasktype.Result, error) {
	values, err := tc.ParameterValues()
	if err != nil {
		return tasktype.Result{}, err
	}

	path := values.String("path")
	staged, ok := tc.TempValues().GetString(stagedKey(path))
	if !ok {
		return tasktype.Result{}, tasktype.Errorf("no staged file for %s in this batch run", path)
	}

	previous, err := os.ReadFile(path)
	existed := err == nil
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return tasktype.Result{}, tasktype.Errorf("read current %s: %w", path, err)
	}

	var mode os.FileMode = 0644
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	if err := os.Rename(staged, path); err != nil {
		return tasktype.Result{}, tasktype.Errorf("promote %s: %w", path, err)
	}
	tc.TempValues().Delete(stagedKey(path))

	msg := "created " + path
	if existed {
		msg = "replaced " + path
	}

	return tasktype.Result{
		Message: msg,
		Rollback: func(ctx context.Context, tc *tasktype.Context) error {
			if !existed {
				return removeIfExists(path)
			}
			if err := os.WriteFile(path, previous, mode); err != nil {
				return fmt.Errorf("restore %s: %w", path, err)
			}
			return nil
		},
	}, nil
}

func (filePromote) Cleanup(ctx context.Context, tc *tasktype.Context) error {
	values, err := tc.ParameterValues()
	if err != nil {
		return err
	}
	return removeIfExists(values.String("path"))
}

func parseMode(s string) (os.FileMode, error) {
	n, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, err
	}
	return os.FileMode(n).Perm(), nil
}

func validMode(v cty.Value) error {
	if v.IsNull() {
		return nil
	}
	if _, err := parseMode(v.AsString()); err != nil {
		return fmt.Errorf("not an octal file mode: %q", v.AsString())
	}
	return nil
}
