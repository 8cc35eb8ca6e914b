package discovery

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dialer-engine/internal/config"
	"github.com/sells-group/dialer-engine/internal/ledger"
	"github.com/sells-group/dialer-engine/internal/metrics"
	"github.com/sells-group/dialer-engine/internal/model"
	"github.com/sells-group/dialer-engine/internal/policy"
	"github.com/sells-group/dialer-engine/internal/runlog"
	"github.com/sells-group/dialer-engine/internal/store"
)

// Job names recorded in engine_runs.
const (
	JobDiscovery = "discovery"
	JobReconcile = "reconcile"
	JobAging     = "aging"
)

// RunLog is the run-bookkeeping surface the jobs record through.
type RunLog interface {
	Start(ctx context.Context, job string) (int64, error)
	Progress(ctx context.Context, runID int64, res runlog.Result, cursor string) error
	Complete(ctx context.Context, runID int64, res runlog.Result) error
	Suspend(ctx context.Context, runID int64, res runlog.Result, cursor string) error
	Fail(ctx context.Context, runID int64, errMsg string) error
	ResumeCursor(ctx context.Context, job string) (string, error)
}

// Recorder writes conversion records through the deduplicated path.
type Recorder interface {
	Record(ctx context.Context, in ledger.ConversionInput) (bool, *model.ConversionRecord, error)
}

// Job runs the discovery, reconciliation and aging passes.
type Job struct {
	store  store.Store
	source EligibilitySource
	ledger Recorder
	runs   RunLog
	policy *policy.Policy
	cfg    config.DiscoveryConfig
}

// NewJob wires a discovery job.
func NewJob(st store.Store, source EligibilitySource, rec Recorder, runs RunLog, pol *policy.Policy, cfg config.DiscoveryConfig) *Job {
	return &Job{store: st, source: source, ledger: rec, runs: runs, policy: pol, cfg: cfg}
}

// Report summarizes one discovery invocation. CanResume with a cursor means
// the wall-clock budget ran out and the next invocation picks up there.
type Report struct {
	RunID         int64  `json:"run_id"`
	Checked       int64  `json:"checked"`
	Created       int64  `json:"created"`
	Recategorized int64  `json:"recategorized"`
	Reactivated   int64  `json:"reactivated"`
	Touched       int64  `json:"touched"`
	CanResume     bool   `json:"can_resume"`
	NextCursor    string `json:"next_cursor,omitempty"`
}

func (r *Report) result() runlog.Result {
	return runlog.Result{
		Checked: r.Checked,
		Changed: r.Created + r.Recategorized + r.Reactivated,
	}
}

func (j *Job) batchSize() int {
	if j.cfg.BatchSize > 0 {
		return j.cfg.BatchSize
	}
	return 200
}

// Discover syncs the lead store against the eligibility source under the
// configured wall-clock budget.
func (j *Job) Discover(ctx context.Context) (*Report, error) {
	budget := time.Duration(j.cfg.BudgetSecs) * time.Second
	if budget <= 0 {
		budget = 5 * time.Minute
	}
	start := time.Now()
	report, err := j.discover(ctx, start.Add(budget))
	metrics.ObserveRun(JobDiscovery, runStatus(err, report != nil && report.CanResume), time.Since(start).Seconds())
	return report, err
}

func runStatus(err error, partial bool) string {
	switch {
	case err != nil:
		return runlog.StatusFailed
	case partial:
		return runlog.StatusPartial
	default:
		return runlog.StatusComplete
	}
}

func (j *Job) discover(ctx context.Context, deadline time.Time) (*Report, error) {
	log := zap.L().With(zap.String("component", "discovery"))

	cursor, err := j.runs.ResumeCursor(ctx, JobDiscovery)
	if err != nil {
		return nil, err
	}
	runID, err := j.runs.Start(ctx, JobDiscovery)
	if err != nil {
		return nil, err
	}
	report := &Report{RunID: runID}

	resumeCat, resumeAfter := parseCursor(cursor)
	skipping := resumeCat != ""
	if skipping {
		log.Info("resuming discovery", zap.String("cursor", cursor))
	}

	for _, category := range model.Categories {
		after := ""
		if skipping {
			if category != resumeCat {
				continue
			}
			skipping = false
			after = resumeAfter
		}

		for {
			if time.Now().After(deadline) {
				next := formatCursor(category, after)
				if err := j.runs.Suspend(ctx, runID, report.result(), next); err != nil {
					return report, err
				}
				report.CanResume = true
				report.NextCursor = next
				log.Warn("discovery budget exhausted, suspending",
					zap.String("cursor", next),
					zap.Int64("checked", report.Checked))
				return report, nil
			}

			people, err := j.source.ListEligible(ctx, category, after, j.batchSize())
			if err != nil {
				err = eris.Wrap(err, "discovery: list eligible")
				j.fail(ctx, log, runID, err)
				return report, err
			}
			if len(people) == 0 {
				break
			}

			if err := j.reconcileBatch(ctx, category, people, report); err != nil {
				j.fail(ctx, log, runID, err)
				return report, err
			}

			after = people[len(people)-1].ID
			if err := j.runs.Progress(ctx, runID, report.result(), formatCursor(category, after)); err != nil {
				log.Warn("run checkpoint failed", zap.Error(err))
			}
			if len(people) < j.batchSize() {
				break
			}
		}
	}

	if err := j.runs.Complete(ctx, runID, report.result()); err != nil {
		return report, err
	}
	log.Info("discovery complete",
		zap.Int64("checked", report.Checked),
		zap.Int64("created", report.Created),
		zap.Int64("recategorized", report.Recategorized),
		zap.Int64("reactivated", report.Reactivated),
		zap.Int64("touched", report.Touched))
	return report, nil
}

// reconcileBatch diffs one page of eligible people against the store. New
// people get a lead at score zero; category movers and returners reset to
// zero via ChangeCategory; unchanged leads only get their check time bumped.
func (j *Job) reconcileBatch(ctx context.Context, category model.Category, people []Person, report *Report) error {
	ids := make([]string, len(people))
	for i, p := range people {
		ids[i] = p.ID
	}
	existing, err := j.store.LeadsByID(ctx, ids)
	if err != nil {
		return err
	}

	var created []store.NewLead
	var touch []string
	for _, p := range people {
		rec, ok := existing[p.ID]
		switch {
		case !ok:
			created = append(created, store.NewLead{PersonID: p.ID, Reason: p.Reason})
		case !rec.Active:
			if err := j.store.ChangeCategory(ctx, p.ID, p.Category, p.Reason); err != nil {
				return err
			}
			report.Reactivated++
		case rec.Category == nil || *rec.Category != p.Category:
			if err := j.store.ChangeCategory(ctx, p.ID, p.Category, p.Reason); err != nil {
				return err
			}
			report.Recategorized++
		default:
			touch = append(touch, p.ID)
		}
	}

	if len(created) > 0 {
		n, err := j.store.InsertLeads(ctx, category, created)
		if err != nil {
			return err
		}
		// n < len(created) only when a concurrent run inserted the same
		// people first; the insert is keyed on person id either way.
		report.Created += n
	}
	if len(touch) > 0 {
		n, err := j.store.TouchChecked(ctx, touch)
		if err != nil {
			return err
		}
		if n != int64(len(touch)) {
			return eris.Errorf("discovery: touched %d of %d leads", n, len(touch))
		}
		report.Touched += n
	}
	report.Checked += int64(len(people))
	return nil
}

func (j *Job) fail(ctx context.Context, log *zap.Logger, runID int64, cause error) {
	log.Error("discovery run failed", zap.Int64("run_id", runID), zap.Error(cause))
	if err := j.runs.Fail(ctx, runID, cause.Error()); err != nil {
		log.Error("run status update failed", zap.Error(err))
	}
}

func formatCursor(category model.Category, after string) string {
	return string(category) + ":" + after
}

// parseCursor splits a persisted cursor. Anything unparseable, including a
// category the policy no longer knows, restarts the scan from the top.
func parseCursor(cursor string) (model.Category, string) {
	if cursor == "" {
		return "", ""
	}
	head, tail, found := strings.Cut(cursor, ":")
	if !found {
		return "", ""
	}
	category, err := model.ParseCategory(head)
	if err != nil {
		return "", ""
	}
	return category, tail
}
