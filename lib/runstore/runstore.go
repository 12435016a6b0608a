// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

// Package runstore records pipeline runs and their steps in SQLite so
// `statfeed history` can report what ran, when, and how it ended.
//
// A run is recorded twice: once when it starts (status running) and
// once when it finishes, replacing the step rows. A process that dies
// mid-run leaves a running row behind, which history shows as such.
package runstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/statfeed/statfeed/lib/sqlitepool"
)

// Run statuses.
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Run triggers.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// ErrNotFound is returned by Get for an unknown run ID.
var ErrNotFound = errors.New("run not found")

// Run is one recorded pipeline execution.
type Run struct {
	ID       string    `json:"id"`
	Workflow string    `json:"workflow"`
	Trigger  string    `json:"trigger"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished,omitzero"`
	Status   string    `json:"status"`

	// FailedStage and FailedStep name where a failed run stopped.
	FailedStage string `json:"failed_stage,omitempty"`
	FailedStep  string `json:"failed_step,omitempty"`
	Error       string `json:"error,omitempty"`

	// Digest is the content digest of the data directory after the
	// data stage, and SnapshotID the snapshot recorded for it.
	Digest     string `json:"digest,omitempty"`
	SnapshotID string `json:"snapshot_id,omitempty"`
	Commit     string `json:"commit,omitempty"`

	Steps []Step `json:"steps,omitempty"`
}

// Duration returns the run's wall time, or zero while running.
func (r *Run) Duration() time.Duration {
	if r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// Step is one executed step of a run.
type Step struct {
	Index    int           `json:"index"`
	Name     string        `json:"name"`
	Stage    string        `json:"stage"`
	Status   string        `json:"status"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
}

var migrations = []string{
	`CREATE TABLE runs (
		id           TEXT PRIMARY KEY,
		workflow     TEXT NOT NULL,
		trigger_kind TEXT NOT NULL,
		started_at   INTEGER NOT NULL,
		finished_at  INTEGER NOT NULL DEFAULT 0,
		status       TEXT NOT NULL,
		failed_stage TEXT NOT NULL DEFAULT '',
		failed_step  TEXT NOT NULL DEFAULT '',
		error        TEXT NOT NULL DEFAULT '',
		digest       TEXT NOT NULL DEFAULT '',
		snapshot_id  TEXT NOT NULL DEFAULT '',
		commit_sha   TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX runs_started ON runs (started_at);
	CREATE TABLE steps (
		run_id      TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
		step_index  INTEGER NOT NULL,
		name        TEXT NOT NULL,
		stage       TEXT NOT NULL,
		status      TEXT NOT NULL,
		attempts    INTEGER NOT NULL,
		duration_ns INTEGER NOT NULL,
		error       TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, step_index)
	);`,
}

// Store is the run history database.
type Store struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// Open opens (creating if needed) the history database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:       path,
		Logger:     logger,
		Migrations: migrations,
	})
	if err != nil {
		return nil, fmt.Errorf("run store: %w", err)
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Record inserts or replaces run and its steps in one transaction.
func (s *Store) Record(ctx context.Context, run *Run) (err error) {
	if run.ID == "" {
		return fmt.Errorf("run store: run has no ID")
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("run store: record: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("run store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn, `INSERT INTO runs
		(id, workflow, trigger_kind, started_at, finished_at, status,
		 failed_stage, failed_step, error, digest, snapshot_id, commit_sha)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
		 finished_at = excluded.finished_at,
		 status = excluded.status,
		 failed_stage = excluded.failed_stage,
		 failed_step = excluded.failed_step,
		 error = excluded.error,
		 digest = excluded.digest,
		 snapshot_id = excluded.snapshot_id,
		 commit_sha = excluded.commit_sha`, &sqlitex.ExecOptions{
		Args: []any{
			run.ID, run.Workflow, run.Trigger,
			unixNanos(run.Started), unixNanos(run.Finished), run.Status,
			run.FailedStage, run.FailedStep, run.Error,
			run.Digest, run.SnapshotID, run.Commit,
		},
	})
	if err != nil {
		return fmt.Errorf("run store: writing run %s: %w", run.ID, err)
	}

	if err = sqlitex.Execute(conn, "DELETE FROM steps WHERE run_id = ?", &sqlitex.ExecOptions{Args: []any{run.ID}}); err != nil {
		return fmt.Errorf("run store: clearing steps of %s: %w", run.ID, err)
	}
	for _, step := range run.Steps {
		err = sqlitex.Execute(conn, `INSERT INTO steps
			(run_id, step_index, name, stage, status, attempts, duration_ns, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
			Args: []any{run.ID, step.Index, step.Name, step.Stage, step.Status, step.Attempts, int64(step.Duration), step.Error},
		})
		if err != nil {
			return fmt.Errorf("run store: writing step %d of %s: %w", step.Index, run.ID, err)
		}
	}
	return nil
}

const selectRuns = `SELECT id, workflow, trigger_kind, started_at, finished_at, status,
	failed_stage, failed_step, error, digest, snapshot_id, commit_sha FROM runs`

// Get returns the run with id, including its steps.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("run store: get: %w", err)
	}
	defer s.pool.Put(conn)

	runs, err := queryRuns(conn, selectRuns+" WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	run := runs[0]
	if err := loadSteps(conn, run); err != nil {
		return nil, err
	}
	return run, nil
}

// List returns up to limit runs, newest first, with their steps. A
// limit of zero or less returns all runs.
func (s *Store) List(ctx context.Context, limit int) ([]*Run, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("run store: list: %w", err)
	}
	defer s.pool.Put(conn)

	if limit <= 0 {
		limit = -1
	}
	runs, err := queryRuns(conn, selectRuns+" ORDER BY started_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	for _, run := range runs {
		if err := loadSteps(conn, run); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// LastSuccess returns the newest run with status ok, or ErrNotFound.
func (s *Store) LastSuccess(ctx context.Context) (*Run, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("run store: last success: %w", err)
	}
	defer s.pool.Put(conn)

	runs, err := queryRuns(conn, selectRuns+" WHERE status = ? ORDER BY started_at DESC LIMIT 1", StatusOK)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNotFound
	}
	return runs[0], nil
}

func queryRuns(conn *sqlite.Conn, query string, args ...any) ([]*Run, error) {
	var runs []*Run
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			runs = append(runs, &Run{
				ID:          stmt.ColumnText(0),
				Workflow:    stmt.ColumnText(1),
				Trigger:     stmt.ColumnText(2),
				Started:     fromUnixNanos(stmt.ColumnInt64(3)),
				Finished:    fromUnixNanos(stmt.ColumnInt64(4)),
				Status:      stmt.ColumnText(5),
				FailedStage: stmt.ColumnText(6),
				FailedStep:  stmt.ColumnText(7),
				Error:       stmt.ColumnText(8),
				Digest:      stmt.ColumnText(9),
				SnapshotID:  stmt.ColumnText(10),
				Commit:      stmt.ColumnText(11),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("run store: query: %w", err)
	}
	return runs, nil
}

func loadSteps(conn *sqlite.Conn, run *Run) error {
	err := sqlitex.Execute(conn, `SELECT step_index, name, stage, status, attempts, duration_ns, error
		FROM steps WHERE run_id = ? ORDER BY step_index`, &sqlitex.ExecOptions{
		Args: []any{run.ID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			run.Steps = append(run.Steps, Step{
				Index:    stmt.ColumnInt(0),
				Name:     stmt.ColumnText(1),
				Stage:    stmt.ColumnText(2),
				Status:   stmt.ColumnText(3),
				Attempts: stmt.ColumnInt(4),
				Duration: time.Duration(stmt.ColumnInt64(5)),
				Error:    stmt.ColumnText(6),
			})
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("run store: steps of %s: %w", run.ID, err)
	}
	return nil
}

// unixNanos stores the zero time as 0 rather than a large negative.
func unixNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNanos(nanos int64) time.Time {
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos).UTC()
}
