// Package ledger is the permanent record of lead conversions. Every clean
// category exit writes exactly one row here; the conditional insert's
// affected-row count tells callers whether their write landed or a record
// already covered the person inside the dedup window.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dialer-engine/internal/db"
	"github.com/sells-group/dialer-engine/internal/metrics"
	"github.com/sells-group/dialer-engine/internal/model"
	"github.com/sells-group/dialer-engine/internal/policy"
)

// Ledger writes and reads conversion records.
type Ledger struct {
	pool   db.Pool
	policy *policy.Policy
}

// New returns a Ledger backed by the given pool.
func New(pool db.Pool, pol *policy.Policy) *Ledger {
	return &Ledger{pool: pool, policy: pol}
}

// ConversionInput describes a category exit about to be recorded.
type ConversionInput struct {
	PersonID         string
	PreviousCategory *model.Category
	Type             model.ConversionType
	FinalScore       int
	TotalAttempts    int
	Recovered        bool

	// ConvertedAt backdates the record, for recovery of exits noticed after
	// the fact. Zero means now.
	ConvertedAt time.Time
}

// Record writes a conversion unless one already exists for the person inside
// the dedup window. It returns whether the write landed; a false return with
// nil error means another record (possibly from a concurrent writer) already
// covers this conversion.
func (l *Ledger) Record(ctx context.Context, in ConversionInput) (bool, *model.ConversionRecord, error) {
	log := zap.L().With(zap.String("component", "ledger"))

	convertedAt := in.ConvertedAt
	if convertedAt.IsZero() {
		convertedAt = time.Now().UTC()
	}

	primary, contributing, err := l.attribution(ctx, in.PersonID, convertedAt)
	if err != nil {
		return false, nil, err
	}

	rec := &model.ConversionRecord{
		ID:                 uuid.New().String(),
		PersonID:           in.PersonID,
		PreviousCategory:   in.PreviousCategory,
		Type:               in.Type,
		FinalScore:         in.FinalScore,
		TotalAttempts:      in.TotalAttempts,
		PrimaryAgentID:     primary,
		ContributingAgents: contributing,
		Recovered:          in.Recovered,
		ConvertedAt:        convertedAt,
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return false, nil, eris.Wrap(err, "ledger: begin record")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Same-person writers queue behind this lock, so the NOT EXISTS check
	// below sees any row a concurrent writer just committed.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('conversion:' || $1::text))`, in.PersonID); err != nil {
		return false, nil, eris.Wrap(err, "ledger: lock person")
	}

	cutoff := convertedAt.Add(-l.policy.DedupWindow())
	tag, err := tx.Exec(ctx, `
		INSERT INTO conversions (id, person_id, previous_category, conversion_type,
			final_score, total_attempts, primary_agent_id, contributing_agents,
			recovered, converted_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		WHERE NOT EXISTS (
			SELECT 1 FROM conversions WHERE person_id = $2 AND converted_at > $11
		)`,
		rec.ID, rec.PersonID, (*string)(rec.PreviousCategory), string(rec.Type),
		rec.FinalScore, rec.TotalAttempts, rec.PrimaryAgentID, rec.ContributingAgents,
		rec.Recovered, rec.ConvertedAt, cutoff)
	if err != nil {
		return false, nil, eris.Wrap(err, "ledger: insert conversion")
	}
	if err := tx.Commit(ctx); err != nil {
		return false, nil, eris.Wrap(err, "ledger: commit record")
	}

	if tag.RowsAffected() == 0 {
		log.Debug("conversion already recorded inside dedup window",
			zap.String("person_id", in.PersonID),
			zap.String("type", string(in.Type)))
		return false, nil, nil
	}

	metrics.ConversionsTotal.WithLabelValues(string(in.Type)).Inc()
	if in.Recovered {
		metrics.RecoveredConversionsTotal.Inc()
	}
	log.Info("conversion recorded",
		zap.String("person_id", in.PersonID),
		zap.String("type", string(in.Type)),
		zap.Bool("recovered", in.Recovered),
		zap.Stringp("primary_agent", primary))
	return true, rec, nil
}

// attribution credits the conversion to recent qualifying contacts. The most
// recent contact's agent is primary; every other agent with a qualifying
// contact in the lookback window contributes.
func (l *Ledger) attribution(ctx context.Context, personID string, asOf time.Time) (*string, []string, error) {
	since := asOf.Add(-l.policy.AttributionLookback())
	rows, err := l.pool.Query(ctx, `
		SELECT agent_id, max(started_at) AS last_contact
		FROM contact_history
		WHERE person_id = $1 AND talk_seconds >= $2 AND started_at >= $3
		GROUP BY agent_id
		ORDER BY last_contact DESC`,
		personID, l.policy.Attribution.MinTalkSeconds, since)
	if err != nil {
		return nil, nil, eris.Wrap(err, "ledger: query attribution")
	}
	defer rows.Close()

	var primary *string
	contributing := []string{}
	for rows.Next() {
		var agentID string
		var last time.Time
		if err := rows.Scan(&agentID, &last); err != nil {
			return nil, nil, eris.Wrap(err, "ledger: scan attribution")
		}
		if primary == nil {
			primary = &agentID
			continue
		}
		contributing = append(contributing, agentID)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, eris.Wrap(err, "ledger: read attribution")
	}
	return primary, contributing, nil
}

// BackfillAttribution re-runs attribution for records written before their
// contacts were imported. Only rows still missing a primary agent are
// touched, so the pass is safe to repeat.
func (l *Ledger) BackfillAttribution(ctx context.Context) (int64, error) {
	log := zap.L().With(zap.String("component", "ledger"))

	rows, err := l.pool.Query(ctx, `
		SELECT id, person_id, converted_at
		FROM conversions
		WHERE primary_agent_id IS NULL
		ORDER BY converted_at`)
	if err != nil {
		return 0, eris.Wrap(err, "ledger: query unattributed conversions")
	}
	type pending struct {
		id          string
		personID    string
		convertedAt time.Time
	}
	var todo []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.personID, &p.convertedAt); err != nil {
			rows.Close()
			return 0, eris.Wrap(err, "ledger: scan unattributed conversion")
		}
		todo = append(todo, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, eris.Wrap(err, "ledger: read unattributed conversions")
	}

	var updated int64
	for _, p := range todo {
		primary, contributing, err := l.attribution(ctx, p.personID, p.convertedAt)
		if err != nil {
			return updated, err
		}
		if primary == nil {
			continue
		}
		tag, err := l.pool.Exec(ctx, `
			UPDATE conversions
			SET primary_agent_id = $2, contributing_agents = $3
			WHERE id = $1 AND primary_agent_id IS NULL`,
			p.id, primary, contributing)
		if err != nil {
			return updated, eris.Wrap(err, "ledger: backfill conversion")
		}
		updated += tag.RowsAffected()
	}

	if updated > 0 {
		log.Info("conversion attribution backfilled",
			zap.Int("candidates", len(todo)),
			zap.Int64("updated", updated))
	}
	return updated, nil
}

// ExistsNear reports whether a conversion for the person exists within the
// given window on either side of at.
func (l *Ledger) ExistsNear(ctx context.Context, personID string, at time.Time, window time.Duration) (bool, error) {
	var exists bool
	err := l.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM conversions
			WHERE person_id = $1 AND converted_at BETWEEN $2 AND $3
		)`,
		personID, at.Add(-window), at.Add(window)).Scan(&exists)
	if err != nil {
		return false, eris.Wrap(err, "ledger: check existing conversion")
	}
	return exists, nil
}

// Filter narrows a conversion listing. Zero values are ignored.
type Filter struct {
	PersonID  string
	Type      model.ConversionType
	Recovered *bool
	Since     time.Time
	Until     time.Time
	Limit     int
}

// Conversions lists records matching the filter, newest first.
func (l *Ledger) Conversions(ctx context.Context, f Filter) ([]model.ConversionRecord, error) {
	query := `
		SELECT id, person_id, previous_category, conversion_type, final_score,
			total_attempts, primary_agent_id, contributing_agents, recovered, converted_at
		FROM conversions
		WHERE true`
	args := []any{}
	argIdx := 1
	if f.PersonID != "" {
		query += fmt.Sprintf(" AND person_id = $%d", argIdx)
		args = append(args, f.PersonID)
		argIdx++
	}
	if f.Type != "" {
		query += fmt.Sprintf(" AND conversion_type = $%d", argIdx)
		args = append(args, string(f.Type))
		argIdx++
	}
	if f.Recovered != nil {
		query += fmt.Sprintf(" AND recovered = $%d", argIdx)
		args = append(args, *f.Recovered)
		argIdx++
	}
	if !f.Since.IsZero() {
		query += fmt.Sprintf(" AND converted_at >= $%d", argIdx)
		args = append(args, f.Since)
		argIdx++
	}
	if !f.Until.IsZero() {
		query += fmt.Sprintf(" AND converted_at < $%d", argIdx)
		args = append(args, f.Until)
		argIdx++
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY converted_at DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: query conversions")
	}
	defer rows.Close()

	var out []model.ConversionRecord
	for rows.Next() {
		var rec model.ConversionRecord
		var prev *string
		var convType string
		if err := rows.Scan(&rec.ID, &rec.PersonID, &prev, &convType, &rec.FinalScore,
			&rec.TotalAttempts, &rec.PrimaryAgentID, &rec.ContributingAgents,
			&rec.Recovered, &rec.ConvertedAt); err != nil {
			return nil, eris.Wrap(err, "ledger: scan conversion")
		}
		rec.PreviousCategory = (*model.Category)(prev)
		rec.Type = model.ConversionType(convType)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "ledger: read conversions")
	}
	return out, nil
}

// CountSince returns total and recovered conversion counts from since onward.
func (l *Ledger) CountSince(ctx context.Context, since time.Time) (total, recovered int64, err error) {
	err = l.pool.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE recovered)
		FROM conversions
		WHERE converted_at >= $1`,
		since).Scan(&total, &recovered)
	if err != nil {
		return 0, 0, eris.Wrap(err, "ledger: count conversions")
	}
	return total, recovered, nil
}
