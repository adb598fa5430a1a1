package builtin

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hochfrequenz/batch-engine/internal/tasktype"
	_ "modernc.org/sqlite"
)

// sqlExec runs a statement against a SQLite database
type sqlExec struct{}

func (sqlExec) Parameters() []tasktype.ParameterDef {
	return []tasktype.ParameterDef{
		{Name: "database", Required: true, Description: "SQLite database path"},
		{Name: "statement", Required: true, Description: "SQL to execute"},
		{Name: "undo", Description: "SQL that reverses the statement; used for rollback"},
		{Name: "cleanup", Description: "SQL run by cleanup"},
	}
}

func (sqlExec) Run(ctx context.Context, tc *tasktype.Context) (tasktype.Result, error) {
	values, err := tc.ParameterValues()
	if err != nil {
		return tasktype.Result{}, err
	}

	database := values.String("database")
	affected, err := execSQL(ctx, database, values.String("statement"))
	if err != nil {
		return tasktype.Result{}, err
	}

	res := tasktype.Result{Message: fmt.Sprintf("%d rows affected", affected)}
	if undo := values.String("undo"); undo != "" {
		res.Rollback = func(ctx context.Context, tc *tasktype.Context) error {
			_, err := execSQL(ctx, database, undo)
			return err
		}
	}
	return res, nil
}

func (sqlExec) Cleanup(ctx context.Context, tc *tasktype.Context) error {
	values, err := tc.ParameterValues()
	if err != nil {
		return err
	}
	stmt := values.String("cleanup")
	if stmt == "" {
		return nil
	}
	_, err = execSQL(ctx, values.String("database"), stmt)
	return err
}

func execSQL(ctx context.Context, database, stmt string) (int64, error) {
	db, err := sql.Open("sqlite", database)
	if err != nil {
		return 0, tasktype.Errorf("open %s: %w", database, err)
	}
	defer db.Close()

	res, err := db.ExecContext(ctx, stmt)
	if err != nil {
		return 0, tasktype.Errorf("%w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}
