// Package runlog records engine job executions in the engine_runs table.
// Discovery and import jobs checkpoint a resume cursor here so an
// interrupted pass continues where it stopped instead of starting over.
package runlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dialer-engine/internal/db"
)

// Run statuses. A partial run hit its wall budget and saved a cursor.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusPartial  = "partial"
	StatusFailed   = "failed"
)

// Entry represents a row in engine_runs.
type Entry struct {
	ID           int64      `json:"id"`
	Job          string     `json:"job"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Checked      int64      `json:"checked"`
	Changed      int64      `json:"changed"`
	ResumeCursor string     `json:"resume_cursor,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// Result holds the counters of a finished or suspended run.
type Result struct {
	Checked int64 `json:"checked"`
	Changed int64 `json:"changed"`
}

// Log provides read/write access to the engine_runs table.
type Log struct {
	pool db.Pool
}

// New creates a Log backed by the given connection pool.
func New(pool db.Pool) *Log {
	return &Log{pool: pool}
}

// Start records the beginning of a run and returns its ID.
func (l *Log) Start(ctx context.Context, job string) (int64, error) {
	var id int64
	err := l.pool.QueryRow(ctx,
		`INSERT INTO engine_runs (job, status, started_at)
		 VALUES ($1, 'running', now()) RETURNING id`,
		job,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "runlog: start run for %s", job)
	}
	return id, nil
}

// Progress checkpoints counters and the resume cursor mid-run. A crash
// after a checkpoint leaves enough state for the next run to resume.
func (l *Log) Progress(ctx context.Context, runID int64, res Result, cursor string) error {
	_, err := l.pool.Exec(ctx,
		`UPDATE engine_runs SET checked = $1, changed = $2, resume_cursor = $3
		 WHERE id = $4`,
		res.Checked, res.Changed, nullable(cursor), runID,
	)
	return eris.Wrapf(err, "runlog: progress run %d", runID)
}

// Complete marks a run as finished and clears its cursor. The next run of
// this job starts a fresh pass.
func (l *Log) Complete(ctx context.Context, runID int64, res Result) error {
	_, err := l.pool.Exec(ctx,
		`UPDATE engine_runs
		 SET status = 'complete', completed_at = now(), checked = $1, changed = $2,
		     resume_cursor = NULL
		 WHERE id = $3`,
		res.Checked, res.Changed, runID,
	)
	return eris.Wrapf(err, "runlog: complete run %d", runID)
}

// Suspend marks a run that stopped at its wall budget, keeping the cursor
// for the next run to pick up.
func (l *Log) Suspend(ctx context.Context, runID int64, res Result, cursor string) error {
	_, err := l.pool.Exec(ctx,
		`UPDATE engine_runs
		 SET status = 'partial', completed_at = now(), checked = $1, changed = $2,
		     resume_cursor = $3
		 WHERE id = $4`,
		res.Checked, res.Changed, nullable(cursor), runID,
	)
	return eris.Wrapf(err, "runlog: suspend run %d", runID)
}

// Fail marks a run as failed with an error message. Any checkpointed
// cursor is left in place.
func (l *Log) Fail(ctx context.Context, runID int64, errMsg string) error {
	_, err := l.pool.Exec(ctx,
		`UPDATE engine_runs
		 SET status = 'failed', completed_at = now(), error = $1
		 WHERE id = $2`,
		errMsg, runID,
	)
	return eris.Wrapf(err, "runlog: fail run %d", runID)
}

// LastSuccess returns the started_at time of the most recent complete run
// of a job. Returns nil if the job has never completed.
func (l *Log) LastSuccess(ctx context.Context, job string) (*time.Time, error) {
	var t time.Time
	err := l.pool.QueryRow(ctx,
		`SELECT started_at FROM engine_runs
		 WHERE job = $1 AND status = 'complete'
		 ORDER BY started_at DESC LIMIT 1`,
		job,
	).Scan(&t)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "runlog: last success for %s", job)
	}
	return &t, nil
}

// ResumeCursor returns the cursor the next run of a job should start from.
// Call it before Start. It reads the latest run regardless of status:
// complete runs store NULL, so a fresh pass follows a finished one, while
// partial, failed and crashed runs hand their checkpoint forward.
func (l *Log) ResumeCursor(ctx context.Context, job string) (string, error) {
	var cursor *string
	err := l.pool.QueryRow(ctx,
		`SELECT resume_cursor FROM engine_runs
		 WHERE job = $1
		 ORDER BY started_at DESC LIMIT 1`,
		job,
	).Scan(&cursor)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", eris.Wrapf(err, "runlog: resume cursor for %s", job)
	}
	if cursor == nil {
		return "", nil
	}
	return *cursor, nil
}

// RecentRuns returns runs ordered by most recent first. An empty job
// matches all jobs.
func (l *Log) RecentRuns(ctx context.Context, job string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, job, status, started_at, completed_at, checked, changed, resume_cursor, error
		FROM engine_runs WHERE true`
	args := []any{}
	argIdx := 1
	if job != "" {
		query += fmt.Sprintf(` AND job = $%d`, argIdx)
		args = append(args, job)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: recent runs")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var cursor, errStr *string
		if err := rows.Scan(&e.ID, &e.Job, &e.Status, &e.StartedAt, &e.CompletedAt,
			&e.Checked, &e.Changed, &cursor, &errStr); err != nil {
			return nil, eris.Wrap(err, "runlog: scan run")
		}
		if cursor != nil {
			e.ResumeCursor = *cursor
		}
		if errStr != nil {
			e.Error = *errStr
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "runlog: iterate runs")
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
