package cdr

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dialer-engine/internal/config"
	"github.com/sells-group/dialer-engine/internal/db"
	"github.com/sells-group/dialer-engine/internal/metrics"
	"github.com/sells-group/dialer-engine/internal/model"
	"github.com/sells-group/dialer-engine/internal/runlog"
)

// JobImport is the run-log job name for CDR imports.
const JobImport = "cdr_import"

const flushEvery = 500

var contactColumns = []string{
	"call_ref", "person_id", "agent_id", "direction", "outcome", "talk_seconds", "started_at",
}

// RunLog is the run-bookkeeping surface the importer records through.
type RunLog interface {
	Start(ctx context.Context, job string) (int64, error)
	Complete(ctx context.Context, runID int64, res runlog.Result) error
	Fail(ctx context.Context, runID int64, errMsg string) error
}

// Report summarizes one import.
type Report struct {
	RunID      int64 `json:"run_id"`
	Rows       int64 `json:"rows"`
	Loaded     int64 `json:"loaded"`
	Duplicates int64 `json:"duplicates"`
	Skipped    int64 `json:"skipped"`
	Reconciled int64 `json:"reconciled"`
}

// Importer loads CDR exports into contact history.
type Importer struct {
	pool    db.Pool
	fetcher *Fetcher
	runs    RunLog
	cfg     config.CDRConfig
}

// NewImporter wires a CDR importer.
func NewImporter(pool db.Pool, fetcher *Fetcher, runs RunLog, cfg config.CDRConfig) *Importer {
	return &Importer{pool: pool, fetcher: fetcher, runs: runs, cfg: cfg}
}

// Resolve turns a bare export name into a full URL under the configured
// base. Names that already carry a scheme or path pass through.
func (i *Importer) Resolve(name string) string {
	if i.cfg.BaseURL == "" || strings.Contains(name, "://") || strings.ContainsAny(name, "/") {
		return name
	}
	return strings.TrimSuffix(i.cfg.BaseURL, "/") + "/" + name
}

// Import fetches one export and loads its usable rows. Re-importing the
// same file is a no-op per row: call_ref keys the insert and conflicts do
// nothing. Rows without a person or agent cannot feed attribution and are
// skipped.
func (i *Importer) Import(ctx context.Context, name string) (*Report, error) {
	log := zap.L().With(zap.String("component", "cdr"))
	fileURL := i.Resolve(name)

	start := time.Now()
	status := runlog.StatusFailed
	defer func() { metrics.ObserveRun(JobImport, status, time.Since(start).Seconds()) }()

	runID, err := i.runs.Start(ctx, JobImport)
	if err != nil {
		return nil, err
	}
	report := &Report{RunID: runID}

	rc, err := i.fetcher.Open(ctx, fileURL)
	if err != nil {
		i.fail(ctx, log, runID, err)
		return report, err
	}
	defer rc.Close() //nolint:errcheck

	rows, errs := Parse(ctx, rc, i.cfg.Encoding)

	persons := make(map[string]struct{})
	var batch [][]any
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := db.BulkUpsert(ctx, i.pool, db.UpsertConfig{
			Table:        "contact_history",
			Columns:      contactColumns,
			ConflictKeys: []string{"call_ref"},
			UpdateCols:   []string{},
		}, batch)
		if err != nil {
			return err
		}
		report.Loaded += n
		batch = batch[:0]
		return nil
	}

	for row := range rows {
		report.Rows++
		if row.Err != nil {
			report.Skipped++
			log.Warn("cdr row skipped", zap.Int("line", row.Line), zap.Error(row.Err))
			continue
		}
		rec := row.Record
		if rec.CallRef == "" || rec.PersonID == "" || rec.AgentID == "" {
			report.Skipped++
			continue
		}
		persons[rec.PersonID] = struct{}{}
		batch = append(batch, []any{
			rec.CallRef, rec.PersonID, rec.AgentID, rec.Direction,
			rec.Outcome, rec.TalkSeconds, rec.StartedAt,
		})
		if len(batch) >= flushEvery {
			if err := flush(); err != nil {
				i.fail(ctx, log, runID, err)
				return report, err
			}
		}
	}
	if err := <-errs; err != nil {
		i.fail(ctx, log, runID, err)
		return report, err
	}
	if err := flush(); err != nil {
		i.fail(ctx, log, runID, err)
		return report, err
	}

	report.Duplicates = report.Rows - report.Skipped - report.Loaded
	if report.Reconciled, err = i.reconcileCounters(ctx, persons); err != nil {
		i.fail(ctx, log, runID, err)
		return report, err
	}
	metrics.CDRRowsTotal.WithLabelValues("loaded").Add(float64(report.Loaded))
	metrics.CDRRowsTotal.WithLabelValues("duplicate").Add(float64(report.Duplicates))
	metrics.CDRRowsTotal.WithLabelValues("skipped").Add(float64(report.Skipped))
	if err := i.runs.Complete(ctx, runID, runlog.Result{Checked: report.Rows, Changed: report.Loaded}); err != nil {
		return report, err
	}
	status = runlog.StatusComplete
	log.Info("cdr import complete",
		zap.String("file", fileURL),
		zap.Int64("rows", report.Rows),
		zap.Int64("loaded", report.Loaded),
		zap.Int64("duplicates", report.Duplicates),
		zap.Int64("skipped", report.Skipped),
		zap.Int64("reconciled", report.Reconciled))
	return report, nil
}

// reconcileCounters recomputes successful_calls and last_contacted_at for the
// leads touched by the import from contact_history aggregates. The counters
// only ratchet upward, so re-importing a file never double-counts.
func (i *Importer) reconcileCounters(ctx context.Context, persons map[string]struct{}) (int64, error) {
	if len(persons) == 0 {
		return 0, nil
	}
	ids := make([]string, 0, len(persons))
	for id := range persons {
		ids = append(ids, id)
	}
	tag, err := i.pool.Exec(ctx, `
		UPDATE leads l SET
			successful_calls = GREATEST(l.successful_calls, h.successes),
			last_contacted_at = GREATEST(coalesce(l.last_contacted_at, h.latest), h.latest),
			updated_at = now()
		FROM (
			SELECT person_id,
				count(*) FILTER (WHERE outcome = $2) AS successes,
				max(started_at) AS latest
			FROM contact_history
			WHERE person_id = ANY($1)
			GROUP BY person_id
		) h
		WHERE l.person_id = h.person_id
			AND (l.successful_calls < h.successes
				OR l.last_contacted_at IS NULL
				OR l.last_contacted_at < h.latest)`,
		ids, string(model.OutcomeAnswered))
	if err != nil {
		return 0, eris.Wrap(err, "cdr: reconcile lead counters")
	}
	return tag.RowsAffected(), nil
}

func (i *Importer) fail(ctx context.Context, log *zap.Logger, runID int64, cause error) {
	log.Error("cdr import failed", zap.Int64("run_id", runID), zap.Error(cause))
	if err := i.runs.Fail(ctx, runID, cause.Error()); err != nil {
		log.Error("run status update failed", zap.Error(err))
	}
}
