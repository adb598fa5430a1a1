// Package taskstore is the SQLite-backed ledger of batch runs and their runs.
package taskstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hochfrequenz/batch-engine/internal/domain"
	"github.com/hochfrequenz/batch-engine/internal/ledger"
	_ "modernc.org/sqlite"
)

var (
	_ ledger.Ledger      = (*Store)(nil)
	_ ledger.Interrupter = (*Store)(nil)
	_ ledger.History     = (*Store)(nil)
)

// Store provides SQLite-backed batch run persistence
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" && !strings.HasPrefix(dbPath, "file:") {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// A single connection keeps ":memory:" databases and pragmas consistent
	db.SetMaxOpenConns(1)

	// Enable foreign keys; wait for locks held by other batchctl processes
	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, err
		}
	}

	// Run migrations
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// PersistBatchRun inserts or updates the batch run header. The interrupt
// flag can be set but never cleared by an upsert.
func (s *Store) PersistBatchRun(ctx context.Context, br *domain.BatchRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batch_runs (id, batch_name, configuration, workspace, interrupt_requested, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			interrupt_requested = MAX(batch_runs.interrupt_requested, excluded.interrupt_requested)
	`,
		br.ID,
		br.BatchName,
		br.Configuration,
		br.Workspace,
		br.InterruptRequested(),
		toUnix(br.CreatedAt),
	)
	return err
}

// PersistRun inserts or updates a run. Its batch run must already exist.
func (s *Store) PersistRun(ctx context.Context, run *domain.Run) error {
	var finished sql.NullInt64
	if run.FinishedAt != nil {
		finished = sql.NullInt64{Int64: toUnix(*run.FinishedAt), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, batch_run_id, task_name, task_type, position, status, started_at, finished_at, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			finished_at = excluded.finished_at,
			message = excluded.message
	`,
		run.ID,
		run.BatchRunID,
		run.TaskName,
		run.TaskType,
		run.Position,
		string(run.Status),
		toUnix(run.StartedAt),
		finished,
		run.Message,
	)
	return err
}

// RequestInterrupt sets the interrupt flag of a stored batch run
func (s *Store) RequestInterrupt(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE batch_runs SET interrupt_requested = TRUE WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ledger.ErrNotFound, id)
	}
	return nil
}

// Reload returns the stored state of a batch run
func (s *Store) Reload(ctx context.Context, id string) (*domain.BatchRun, error) {
	return s.GetBatchRun(ctx, id)
}

// GetBatchRun retrieves a batch run with its runs in position order
func (s *Store) GetBatchRun(ctx context.Context, id string) (*domain.BatchRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, batch_name, configuration, workspace, interrupt_requested, created_at
		FROM batch_runs WHERE id = ?
	`, id)

	br, err := scanBatchRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ledger.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	if br.Runs, err = s.listRuns(ctx, id); err != nil {
		return nil, err
	}
	return br, nil
}

// ListBatchRuns returns batch runs matching opts, most recent first
func (s *Store) ListBatchRuns(ctx context.Context, opts ledger.ListOptions) ([]*domain.BatchRun, error) {
	query := `SELECT id, batch_name, configuration, workspace, interrupt_requested, created_at FROM batch_runs WHERE 1=1`
	var args []interface{}

	if opts.BatchName != "" {
		query += " AND batch_name = ?"
		args = append(args, opts.BatchName)
	}

	query += " ORDER BY created_at DESC, rowid DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	var result []*domain.BatchRun
	for rows.Next() {
		br, err := scanBatchRun(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		result = append(result, br)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Runs are loaded after the cursor is released; the pool has one connection
	for _, br := range result {
		if br.Runs, err = s.listRuns(ctx, br.ID); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *Store) listRuns(ctx context.Context, batchRunID string) ([]*domain.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, batch_run_id, task_name, task_type, position, status, started_at, finished_at, message
		FROM runs WHERE batch_run_id = ?
		ORDER BY position, started_at
	`, batchRunID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanBatchRun(row scanner) (*domain.BatchRun, error) {
	var br domain.BatchRun
	var configuration, workspace sql.NullString
	var interrupt bool
	var createdAt int64

	err := row.Scan(&br.ID, &br.BatchName, &configuration, &workspace, &interrupt, &createdAt)
	if err != nil {
		return nil, err
	}

	br.Configuration = configuration.String
	br.Workspace = workspace.String
	br.CreatedAt = fromUnix(createdAt)
	if interrupt {
		br.RequestInterrupt()
	}
	return &br, nil
}

func scanRun(row scanner) (*domain.Run, error) {
	var run domain.Run
	var status string
	var startedAt int64
	var finishedAt sql.NullInt64
	var message sql.NullString

	err := row.Scan(&run.ID, &run.BatchRunID, &run.TaskName, &run.TaskType, &run.Position, &status, &startedAt, &finishedAt, &message)
	if err != nil {
		return nil, err
	}

	run.Status = domain.RunStatus(status)
	run.StartedAt = fromUnix(startedAt)
	if finishedAt.Valid {
		at := fromUnix(finishedAt.Int64)
		run.FinishedAt = &at
	}
	run.Message = message.String
	return &run, nil
}

func toUnix(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
