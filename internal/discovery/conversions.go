package discovery

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dialer-engine/internal/ledger"
	"github.com/sells-group/dialer-engine/internal/metrics"
	"github.com/sells-group/dialer-engine/internal/model"
	"github.com/sells-group/dialer-engine/internal/runlog"
)

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	RunID      int64  `json:"run_id"`
	Checked    int64  `json:"checked"`
	ScoredOut  int64  `json:"scored_out"`
	Ineligible int64  `json:"ineligible"`
	Covered    int64  `json:"covered"`
	CanResume  bool   `json:"can_resume"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// Reconcile is the authoritative fallback for lead exits: it converts every
// active lead sitting at the terminal score, then re-checks the rest against
// the source and converts whoever it no longer reports. Each conversion
// writes the ledger record before flipping the lead inactive, so a failure
// between the two leaves a dedup-protected record rather than a leak.
func (j *Job) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	budget := time.Duration(j.cfg.BudgetSecs) * time.Second
	if budget <= 0 {
		budget = 5 * time.Minute
	}
	start := time.Now()
	report, err := j.reconcile(ctx, start.Add(budget))
	metrics.ObserveRun(JobReconcile, runStatus(err, report != nil && report.CanResume), time.Since(start).Seconds())
	return report, err
}

func (j *Job) reconcile(ctx context.Context, deadline time.Time) (*ReconcileReport, error) {
	log := zap.L().With(zap.String("component", "discovery"))

	cursor, err := j.runs.ResumeCursor(ctx, JobReconcile)
	if err != nil {
		return nil, err
	}
	runID, err := j.runs.Start(ctx, JobReconcile)
	if err != nil {
		return nil, err
	}
	report := &ReconcileReport{RunID: runID}

	// The terminal sweep is bounded and idempotent; only a fresh pass runs
	// it. A resumed pass goes straight back to the eligibility scan.
	if cursor == "" {
		if err := j.sweepTerminal(ctx, report); err != nil {
			j.fail(ctx, log, runID, err)
			return report, err
		}
	} else {
		log.Info("resuming reconciliation", zap.String("cursor", cursor))
	}

	after := cursor
	for {
		if time.Now().After(deadline) {
			if err := j.runs.Suspend(ctx, runID, report.reconcileResult(), after); err != nil {
				return report, err
			}
			report.CanResume = true
			report.NextCursor = after
			log.Warn("reconciliation budget exhausted, suspending",
				zap.String("cursor", after))
			return report, nil
		}

		leads, err := j.store.ActiveLeads(ctx, after, j.batchSize())
		if err != nil {
			j.fail(ctx, log, runID, err)
			return report, err
		}
		if len(leads) == 0 {
			break
		}

		ids := make([]string, len(leads))
		for i, l := range leads {
			ids[i] = l.PersonID
		}
		standing, err := j.source.Recheck(ctx, ids)
		if err != nil {
			err = eris.Wrap(err, "discovery: recheck eligibility")
			j.fail(ctx, log, runID, err)
			return report, err
		}

		for _, lead := range leads {
			if _, eligible := standing[lead.PersonID]; eligible {
				continue
			}
			if err := j.convert(ctx, lead, model.ConversionNoLongerEligible, "no longer eligible", report); err != nil {
				j.fail(ctx, log, runID, err)
				return report, err
			}
			report.Ineligible++
		}

		report.Checked += int64(len(leads))
		after = leads[len(leads)-1].PersonID
		if err := j.runs.Progress(ctx, runID, report.reconcileResult(), after); err != nil {
			log.Warn("run checkpoint failed", zap.Error(err))
		}
		if len(leads) < j.batchSize() {
			break
		}
	}

	if err := j.runs.Complete(ctx, runID, report.reconcileResult()); err != nil {
		return report, err
	}
	log.Info("reconciliation complete",
		zap.Int64("checked", report.Checked),
		zap.Int64("scored_out", report.ScoredOut),
		zap.Int64("ineligible", report.Ineligible),
		zap.Int64("covered", report.Covered))
	return report, nil
}

func (j *Job) sweepTerminal(ctx context.Context, report *ReconcileReport) error {
	for {
		leads, err := j.store.TerminalLeads(ctx, j.batchSize())
		if err != nil {
			return err
		}
		if len(leads) == 0 {
			return nil
		}
		for _, lead := range leads {
			if err := j.convert(ctx, lead, model.ConversionScoredOut, "scored out", report); err != nil {
				return err
			}
			report.ScoredOut++
		}
	}
}

func (j *Job) convert(ctx context.Context, lead model.LeadRecord, convType model.ConversionType, detail string, report *ReconcileReport) error {
	written, _, err := j.ledger.Record(ctx, ledger.ConversionInput{
		PersonID:         lead.PersonID,
		PreviousCategory: lead.Category,
		Type:             convType,
		FinalScore:       lead.Score,
		TotalAttempts:    lead.TotalAttempts,
	})
	if err != nil {
		return err
	}
	if !written {
		report.Covered++
	}
	return j.store.Deactivate(ctx, lead.PersonID, detail)
}

func (r *ReconcileReport) reconcileResult() runlog.Result {
	return runlog.Result{
		Checked: r.Checked,
		Changed: r.ScoredOut + r.Ineligible,
	}
}
