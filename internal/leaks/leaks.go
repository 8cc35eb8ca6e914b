// Package leaks finds lead deactivations that never produced a conversion
// record and writes the missing records after the fact. Whatever it cannot
// close goes to a human review board.
package leaks

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dialer-engine/internal/db"
	"github.com/sells-group/dialer-engine/internal/ledger"
	"github.com/sells-group/dialer-engine/internal/model"
	"github.com/sells-group/dialer-engine/internal/policy"
)

// Leak is a category exit with no conversion record near it.
type Leak struct {
	PersonID         string          `json:"person_id"`
	PreviousCategory *model.Category `json:"previous_category,omitempty"`
	Reason           string          `json:"reason"`
	ExitedAt         time.Time       `json:"exited_at"`
	FinalScore       int             `json:"final_score"`
	TotalAttempts    int             `json:"total_attempts"`
}

// Recorder is the slice of the conversion ledger the scanner needs: the
// deduplicated write path plus the existence probe it re-checks with just
// before writing.
type Recorder interface {
	Record(ctx context.Context, in ledger.ConversionInput) (bool, *model.ConversionRecord, error)
	ExistsNear(ctx context.Context, personID string, at time.Time, window time.Duration) (bool, error)
}

// ReviewBoard receives leaks the scanner could not close.
type ReviewBoard interface {
	Push(ctx context.Context, leak Leak, cause string) error
}

// Report summarizes one scan pass.
type Report struct {
	ScannedAt   time.Time     `json:"scanned_at"`
	Window      time.Duration `json:"window"`
	Potential   int           `json:"potential"`
	Recovered   int           `json:"recovered"`
	Covered     int           `json:"covered"`
	Unrecovered int           `json:"unrecovered"`
}

// Scanner detects and recovers conversion leaks.
type Scanner struct {
	pool   db.Pool
	ledger Recorder
	board  ReviewBoard
	policy *policy.Policy
}

// NewScanner returns a leak scanner. board may be nil, in which case
// unrecovered leaks are only logged.
func NewScanner(pool db.Pool, rec Recorder, board ReviewBoard, pol *policy.Policy) *Scanner {
	return &Scanner{pool: pool, ledger: rec, board: board, policy: pol}
}

const candidateQuery = `
	SELECT e.person_id, e.previous_category, e.detail, e.occurred_at,
		l.score, l.total_attempts
	FROM lead_events e
	JOIN leads l ON l.person_id = e.person_id
	WHERE e.event_type = 'deactivated'
		AND e.occurred_at >= $1
		AND NOT EXISTS (
			SELECT 1 FROM conversions c
			WHERE c.person_id = e.person_id
				AND c.converted_at BETWEEN e.occurred_at - make_interval(secs => $2)
					AND e.occurred_at + make_interval(secs => $2)
		)
	ORDER BY e.occurred_at`

// Scan looks for deactivations inside the window that have no conversion
// record within the dedup window of the exit, and recovers each by writing
// the record through the deduplicated path. Parked leads never match; parking
// is not an exit.
func (s *Scanner) Scan(ctx context.Context, window time.Duration) (Report, error) {
	log := zap.L().With(zap.String("component", "leaks"))

	report := Report{ScannedAt: time.Now().UTC(), Window: window}
	since := report.ScannedAt.Add(-window)
	dedupSecs := int64(s.policy.DedupWindow().Seconds())

	rows, err := s.pool.Query(ctx, candidateQuery, since, dedupSecs)
	if err != nil {
		return report, eris.Wrap(err, "leaks: query candidates")
	}
	var candidates []Leak
	for rows.Next() {
		var leak Leak
		var prev, detail *string
		if err := rows.Scan(&leak.PersonID, &prev, &detail, &leak.ExitedAt,
			&leak.FinalScore, &leak.TotalAttempts); err != nil {
			rows.Close()
			return report, eris.Wrap(err, "leaks: scan candidate")
		}
		leak.PreviousCategory = (*model.Category)(prev)
		if detail != nil {
			leak.Reason = *detail
		}
		candidates = append(candidates, leak)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return report, eris.Wrap(err, "leaks: read candidates")
	}

	report.Potential = len(candidates)
	for _, leak := range candidates {
		// Exits with no reconstructable category that did not age out
		// cannot be attributed to a conversion type. Humans take those.
		if leak.PreviousCategory == nil && leak.FinalScore < model.ScoreMax {
			report.Unrecovered++
			cause := eris.New("no reconstructable previous category")
			log.Warn("leak not recoverable",
				zap.String("person_id", leak.PersonID),
				zap.Time("exited_at", leak.ExitedAt))
			s.escalate(ctx, log, leak, cause)
			continue
		}
		covered, err := s.ledger.ExistsNear(ctx, leak.PersonID, leak.ExitedAt, s.policy.DedupWindow())
		if err != nil {
			report.Unrecovered++
			log.Warn("leak recovery failed",
				zap.String("person_id", leak.PersonID),
				zap.Error(err))
			s.escalate(ctx, log, leak, err)
			continue
		}
		if covered {
			report.Covered++
			continue
		}
		written, _, err := s.ledger.Record(ctx, s.recoveryInput(leak))
		if err != nil {
			report.Unrecovered++
			log.Warn("leak recovery failed",
				zap.String("person_id", leak.PersonID),
				zap.Error(err))
			s.escalate(ctx, log, leak, err)
			continue
		}
		if written {
			report.Recovered++
			continue
		}
		// Another writer closed it between our query and the insert.
		report.Covered++
	}

	if report.Potential > 0 {
		log.Info("leak scan complete",
			zap.Int("potential", report.Potential),
			zap.Int("recovered", report.Recovered),
			zap.Int("covered", report.Covered),
			zap.Int("unrecovered", report.Unrecovered))
	}
	return report, nil
}

// recoveryInput rebuilds the conversion the exit should have written. A lead
// sitting at the terminal score was scored out regardless of its category.
func (s *Scanner) recoveryInput(leak Leak) ledger.ConversionInput {
	var cat model.Category
	if leak.PreviousCategory != nil {
		cat = *leak.PreviousCategory
	}
	convType := model.ConversionForCategory(cat)
	if leak.FinalScore >= model.ScoreMax {
		convType = model.ConversionScoredOut
	}
	return ledger.ConversionInput{
		PersonID:         leak.PersonID,
		PreviousCategory: leak.PreviousCategory,
		Type:             convType,
		FinalScore:       leak.FinalScore,
		TotalAttempts:    leak.TotalAttempts,
		Recovered:        true,
		ConvertedAt:      leak.ExitedAt,
	}
}

func (s *Scanner) escalate(ctx context.Context, log *zap.Logger, leak Leak, cause error) {
	if s.board == nil {
		log.Debug("no review board configured, leak dropped",
			zap.String("person_id", leak.PersonID))
		return
	}
	if err := s.board.Push(ctx, leak, cause.Error()); err != nil {
		log.Error("review board push failed",
			zap.String("person_id", leak.PersonID),
			zap.Error(err))
	}
}

// Pending counts candidates without recovering them. The monitoring collector
// uses it to alert on leak buildup without side effects.
func (s *Scanner) Pending(ctx context.Context, window time.Duration) (int64, error) {
	since := time.Now().UTC().Add(-window)
	dedupSecs := int64(s.policy.DedupWindow().Seconds())

	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM lead_events e
		WHERE e.event_type = 'deactivated'
			AND e.occurred_at >= $1
			AND NOT EXISTS (
				SELECT 1 FROM conversions c
				WHERE c.person_id = e.person_id
					AND c.converted_at BETWEEN e.occurred_at - make_interval(secs => $2)
						AND e.occurred_at + make_interval(secs => $2)
			)`,
		since, dedupSecs).Scan(&count)
	if err != nil {
		return 0, eris.Wrap(err, "leaks: count pending")
	}
	return count, nil
}
