package discovery

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/dialer-engine/internal/metrics"
	"github.com/sells-group/dialer-engine/internal/runlog"
	"github.com/sells-group/dialer-engine/internal/store"
)

// AgingReport summarizes one daily aging pass.
type AgingReport struct {
	RunID   int64     `json:"run_id"`
	Day     time.Time `json:"day"`
	Skipped bool      `json:"skipped"`
	store.AgingResult
}

// Age increments every active, non-terminal lead's score once for the given
// day. The store keys the pass on the civil date, so re-running the same day
// is a no-op. The configured rest day skips aging entirely.
func (j *Job) Age(ctx context.Context, now time.Time) (report *AgingReport, err error) {
	log := zap.L().With(zap.String("component", "discovery"))

	start := time.Now()
	defer func() { metrics.ObserveRun(JobAging, runStatus(err, false), time.Since(start).Seconds()) }()

	report = &AgingReport{Day: now.Truncate(24 * time.Hour)}

	restDay, err := j.policy.RestWeekday()
	if err != nil {
		return nil, err
	}

	runID, err := j.runs.Start(ctx, JobAging)
	if err != nil {
		return nil, err
	}
	report.RunID = runID

	if now.Weekday() == restDay {
		report.Skipped = true
		if err := j.runs.Complete(ctx, runID, runlog.Result{}); err != nil {
			return report, err
		}
		log.Info("aging skipped, rest day", zap.String("weekday", restDay.String()))
		return report, nil
	}

	res, err := j.store.ApplyAging(ctx, now, j.policy.Aging.Step)
	if err != nil {
		j.fail(ctx, log, runID, err)
		return report, err
	}
	report.AgingResult = res

	if err := j.runs.Complete(ctx, runID, runlog.Result{Checked: res.Eligible, Changed: res.Aged}); err != nil {
		return report, err
	}
	log.Info("aging complete",
		zap.Int64("eligible", res.Eligible),
		zap.Int64("aged", res.Aged))
	return report, nil
}
