package taskstore

// Timestamps are stored as Unix nanoseconds in UTC.
const schema = `
CREATE TABLE IF NOT EXISTS batch_runs (
    id TEXT PRIMARY KEY,
    batch_name TEXT NOT NULL,
    configuration TEXT,
    workspace TEXT,
    interrupt_requested BOOLEAN NOT NULL DEFAULT FALSE,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_batch_runs_batch_name ON batch_runs(batch_name);
CREATE INDEX IF NOT EXISTS idx_batch_runs_created_at ON batch_runs(created_at);

CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    batch_run_id TEXT NOT NULL REFERENCES batch_runs(id),
    task_name TEXT NOT NULL,
    task_type TEXT NOT NULL,
    position INTEGER NOT NULL,
    status TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    finished_at INTEGER,
    message TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_batch_run_id ON runs(batch_run_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`
