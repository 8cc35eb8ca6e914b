package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dialer-engine/internal/db"
	"github.com/sells-group/dialer-engine/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "store: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "store: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "store: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresStore wraps an existing pool. Used by subsystem stores and tests.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for use by subsystem stores
// that share the engine schema (dispatch, ledger, inbound, agents).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const engineMigration = `
CREATE TABLE IF NOT EXISTS leads (
	person_id         TEXT PRIMARY KEY,
	score             INTEGER NOT NULL DEFAULT 0 CHECK (score BETWEEN 0 AND 200),
	category          TEXT CHECK (category IN ('unsigned', 'outstanding_requirements')),
	active            BOOLEAN NOT NULL DEFAULT true,
	reason            TEXT NOT NULL DEFAULT '',
	total_attempts    INTEGER NOT NULL DEFAULT 0,
	successful_calls  INTEGER NOT NULL DEFAULT 0,
	last_contacted_at TIMESTAMPTZ,
	last_checked_at   TIMESTAMPTZ,
	last_aged_on      DATE,
	claimed_by        TEXT,
	lease_expires_at  TIMESTAMPTZ,
	last_failed_agent TEXT,
	last_failed_at    TIMESTAMPTZ,
	park_reason       TEXT,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_leads_queue ON leads(category, score, created_at) WHERE active;
CREATE INDEX IF NOT EXISTS idx_leads_lease ON leads(lease_expires_at) WHERE claimed_by IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_leads_aging ON leads(last_aged_on) WHERE active;

CREATE TABLE IF NOT EXISTS lead_events (
	id                BIGSERIAL PRIMARY KEY,
	person_id         TEXT NOT NULL,
	event_type        TEXT NOT NULL,
	previous_category TEXT,
	new_category      TEXT,
	detail            TEXT NOT NULL DEFAULT '',
	occurred_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_lead_events_person ON lead_events(person_id, occurred_at DESC);
CREATE INDEX IF NOT EXISTS idx_lead_events_type ON lead_events(event_type, occurred_at DESC);

CREATE TABLE IF NOT EXISTS callbacks (
	id                   TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	person_id            TEXT NOT NULL,
	category             TEXT,
	scheduled_for        TIMESTAMPTZ NOT NULL,
	preferred_agent_id   TEXT,
	status               TEXT NOT NULL DEFAULT 'pending',
	assigned_to_agent_id TEXT,
	assigned_at          TIMESTAMPTZ,
	lease_expires_at     TIMESTAMPTZ,
	retry_count          INTEGER NOT NULL DEFAULT 0,
	max_retries          INTEGER NOT NULL DEFAULT 1,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_callbacks_due ON callbacks(scheduled_for) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_callbacks_preferred ON callbacks(preferred_agent_id, scheduled_for) WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS conversions (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	person_id           TEXT NOT NULL,
	previous_category   TEXT,
	conversion_type     TEXT NOT NULL,
	final_score         INTEGER NOT NULL DEFAULT 0,
	total_attempts      INTEGER NOT NULL DEFAULT 0,
	primary_agent_id    TEXT,
	contributing_agents TEXT[] NOT NULL DEFAULT '{}',
	recovered           BOOLEAN NOT NULL DEFAULT false,
	converted_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_conversions_person ON conversions(person_id, converted_at DESC);
CREATE INDEX IF NOT EXISTS idx_conversions_at ON conversions(converted_at DESC);
CREATE INDEX IF NOT EXISTS idx_conversions_backfill ON conversions(converted_at) WHERE primary_agent_id IS NULL;

CREATE TABLE IF NOT EXISTS inbound_calls (
	id                   TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	call_id              TEXT NOT NULL UNIQUE,
	caller_number        TEXT NOT NULL,
	person_id            TEXT,
	category             TEXT,
	status               TEXT NOT NULL DEFAULT 'waiting',
	max_wait_reached     BOOLEAN NOT NULL DEFAULT false,
	assigned_to_agent_id TEXT,
	lease_expires_at     TIMESTAMPTZ,
	callback_offered     BOOLEAN NOT NULL DEFAULT false,
	enqueued_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	answered_at          TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_inbound_open ON inbound_calls(enqueued_at) WHERE status IN ('waiting', 'assigned', 'connecting');

CREATE TABLE IF NOT EXISTS contact_history (
	call_ref     TEXT PRIMARY KEY,
	person_id    TEXT NOT NULL,
	agent_id     TEXT NOT NULL,
	direction    TEXT NOT NULL,
	outcome      TEXT NOT NULL,
	talk_seconds INTEGER NOT NULL DEFAULT 0,
	started_at   TIMESTAMPTZ NOT NULL,
	imported_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_contact_person ON contact_history(person_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_contact_agent ON contact_history(agent_id, started_at DESC);

CREATE TABLE IF NOT EXISTS agents (
	agent_id      TEXT PRIMARY KEY,
	display_name  TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'offline',
	last_seen_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS engine_runs (
	id            BIGSERIAL PRIMARY KEY,
	job           TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'running',
	started_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at  TIMESTAMPTZ,
	checked       BIGINT NOT NULL DEFAULT 0,
	changed       BIGINT NOT NULL DEFAULT 0,
	resume_cursor TEXT,
	error         TEXT
);

CREATE INDEX IF NOT EXISTS idx_engine_runs_job ON engine_runs(job, started_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "store: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, engineMigration)
	return eris.Wrap(err, "store: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const leadColumns = `person_id, score, category, active, reason, total_attempts,
	successful_calls, last_contacted_at, last_checked_at, last_aged_on,
	claimed_by, lease_expires_at, last_failed_agent, last_failed_at,
	park_reason, created_at, updated_at`

func scanLead(row pgx.Row) (*model.LeadRecord, error) {
	var l model.LeadRecord
	var category *string
	err := row.Scan(&l.PersonID, &l.Score, &category, &l.Active, &l.Reason,
		&l.TotalAttempts, &l.SuccessfulCalls, &l.LastContactedAt, &l.LastCheckedAt,
		&l.LastAgedOn, &l.ClaimedBy, &l.LeaseExpiresAt, &l.LastFailedAgent,
		&l.LastFailedAt, &l.ParkReason, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	l.Category = (*model.Category)(category)
	return &l, nil
}

func scanLeads(rows pgx.Rows) ([]model.LeadRecord, error) {
	defer rows.Close()
	var out []model.LeadRecord
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan lead")
		}
		out = append(out, *l)
	}
	return out, eris.Wrap(rows.Err(), "store: iterate leads")
}

// Lead fetches one lead by person ID. Returns (nil, nil) when absent.
func (s *PostgresStore) Lead(ctx context.Context, personID string) (*model.LeadRecord, error) {
	l, err := scanLead(s.pool.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE person_id = $1`, personID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "store: get lead %s", personID)
	}
	return l, nil
}

func (s *PostgresStore) LeadsByID(ctx context.Context, ids []string) (map[string]model.LeadRecord, error) {
	if len(ids) == 0 {
		return map[string]model.LeadRecord{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE person_id = ANY($1)`, ids)
	if err != nil {
		return nil, eris.Wrap(err, "store: leads by id")
	}
	leads, err := scanLeads(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.LeadRecord, len(leads))
	for _, l := range leads {
		out[l.PersonID] = l
	}
	return out, nil
}

// ActiveLeads pages through active leads ordered by person_id, starting
// strictly after afterPersonID. Pass "" for the first page.
func (s *PostgresStore) ActiveLeads(ctx context.Context, afterPersonID string, limit int) ([]model.LeadRecord, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+leadColumns+` FROM leads
		 WHERE active AND person_id > $1
		 ORDER BY person_id LIMIT $2`,
		afterPersonID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "store: active leads")
	}
	return scanLeads(rows)
}

// TerminalLeads returns active leads whose score has reached the terminal
// threshold, oldest first.
func (s *PostgresStore) TerminalLeads(ctx context.Context, limit int) ([]model.LeadRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+leadColumns+` FROM leads
		 WHERE active AND score >= $1
		 ORDER BY created_at LIMIT $2`,
		model.ScoreMax, limit)
	if err != nil {
		return nil, eris.Wrap(err, "store: terminal leads")
	}
	return scanLeads(rows)
}

// InsertLeads creates new leads in one category at score zero and records a
// created event for each. People already present are left untouched, so
// discovery passes can be re-run safely. Returns the number actually created.
func (s *PostgresStore) InsertLeads(ctx context.Context, category model.Category, people []NewLead) (int64, error) {
	if len(people) == 0 {
		return 0, nil
	}
	ids := make([]string, len(people))
	reasons := make([]string, len(people))
	for i, p := range people {
		ids[i] = p.PersonID
		reasons[i] = p.Reason
	}

	tag, err := s.pool.Exec(ctx, `
		WITH input AS (
			SELECT unnest($1::text[]) AS person_id, unnest($2::text[]) AS reason
		), ins AS (
			INSERT INTO leads (person_id, score, category, active, reason, last_checked_at)
			SELECT person_id, 0, $3, true, reason, now() FROM input
			ON CONFLICT (person_id) DO NOTHING
			RETURNING person_id, reason
		)
		INSERT INTO lead_events (person_id, event_type, new_category, detail)
		SELECT person_id, 'created', $3, reason FROM ins`,
		ids, reasons, string(category))
	if err != nil {
		return 0, eris.Wrapf(err, "store: insert leads %s", category)
	}
	return tag.RowsAffected(), nil
}

// TouchChecked stamps last_checked_at on leads confirmed still eligible.
func (s *PostgresStore) TouchChecked(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET last_checked_at = now(), updated_at = now() WHERE person_id = ANY($1)`,
		ids)
	if err != nil {
		return 0, eris.Wrap(err, "store: touch checked")
	}
	return tag.RowsAffected(), nil
}

// ChangeCategory moves a lead to a new category, resetting its score to zero
// and clearing any park state. An inactive lead is reactivated. The previous
// row is locked so the event records a consistent before/after pair.
func (s *PostgresStore) ChangeCategory(ctx context.Context, personID string, category model.Category, reason string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "store: begin change category")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var prev *string
	var wasActive bool
	err = tx.QueryRow(ctx, `
		UPDATE leads
		SET category = $2, score = 0, active = true, park_reason = NULL,
			reason = $3, last_checked_at = now(), updated_at = now()
		FROM (
			SELECT person_id, category AS prev_category, active AS was_active
			FROM leads WHERE person_id = $1 FOR UPDATE
		) prior
		WHERE leads.person_id = prior.person_id
		RETURNING prior.prev_category, prior.was_active`,
		personID, string(category), reason).Scan(&prev, &wasActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return eris.Errorf("store: lead not found: %s", personID)
		}
		return eris.Wrapf(err, "store: change category %s", personID)
	}

	eventType := model.LeadEventCategoryChanged
	if !wasActive {
		eventType = model.LeadEventReactivated
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO lead_events (person_id, event_type, previous_category, new_category, detail)
		 VALUES ($1, $2, $3, $4, $5)`,
		personID, string(eventType), prev, string(category), reason)
	if err != nil {
		return eris.Wrapf(err, "store: record category change %s", personID)
	}
	return eris.Wrap(tx.Commit(ctx), "store: commit change category")
}

// Deactivate removes a lead from circulation. Already-inactive and unknown
// leads are a no-op so reconciliation passes can repeat safely.
func (s *PostgresStore) Deactivate(ctx context.Context, personID string, detail string) error {
	return s.retire(ctx, personID, model.LeadEventDeactivated, detail, nil)
}

// Park deactivates a lead for an operational reason (bad number, do-not-call)
// rather than a conversion. Parked leads are excluded from leak scans.
func (s *PostgresStore) Park(ctx context.Context, personID string, reason string) error {
	return s.retire(ctx, personID, model.LeadEventParked, reason, &reason)
}

func (s *PostgresStore) retire(ctx context.Context, personID string, eventType model.LeadEventType, detail string, parkReason *string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrapf(err, "store: begin %s", eventType)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var prev *string
	err = tx.QueryRow(ctx, `
		UPDATE leads
		SET active = false, park_reason = $2, claimed_by = NULL,
			lease_expires_at = NULL, updated_at = now()
		WHERE person_id = $1 AND active
		RETURNING category`,
		personID, parkReason).Scan(&prev)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return eris.Wrapf(err, "store: %s %s", eventType, personID)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO lead_events (person_id, event_type, previous_category, detail)
		 VALUES ($1, $2, $3, $4)`,
		personID, string(eventType), prev, detail)
	if err != nil {
		return eris.Wrapf(err, "store: record %s %s", eventType, personID)
	}
	return eris.Wrapf(tx.Commit(ctx), "store: commit %s", eventType)
}

// ApplyAging adds step points to every active lead not yet aged on day,
// clamped at the terminal score. The eligible count is taken in the same
// transaction; if the update touches a different number of rows the pass
// rolls back and reports the mismatch.
func (s *PostgresStore) ApplyAging(ctx context.Context, day time.Time, step int) (AgingResult, error) {
	var res AgingResult
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return res, eris.Wrap(err, "store: begin aging")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	err = tx.QueryRow(ctx, `
		SELECT count(*) FROM leads
		WHERE active AND score < $2 AND (last_aged_on IS NULL OR last_aged_on < $1::date)`,
		day, model.ScoreMax).Scan(&res.Eligible)
	if err != nil {
		return res, eris.Wrap(err, "store: count aging eligible")
	}

	tag, err := tx.Exec(ctx, `
		UPDATE leads
		SET score = LEAST(score + $3, $2), last_aged_on = $1::date, updated_at = now()
		WHERE active AND score < $2 AND (last_aged_on IS NULL OR last_aged_on < $1::date)`,
		day, model.ScoreMax, step)
	if err != nil {
		return res, eris.Wrap(err, "store: apply aging")
	}
	res.Aged = tag.RowsAffected()

	if res.Aged != res.Eligible {
		return res, eris.Errorf("store: aging touched %d of %d eligible leads", res.Aged, res.Eligible)
	}
	return res, eris.Wrap(tx.Commit(ctx), "store: commit aging")
}

// EventsSince returns lifecycle events at or after since, oldest first,
// optionally filtered to the given types.
func (s *PostgresStore) EventsSince(ctx context.Context, since time.Time, types []model.LeadEventType) ([]model.LeadEvent, error) {
	query := `SELECT id, person_id, event_type, previous_category, new_category, detail, occurred_at
		FROM lead_events WHERE occurred_at >= $1`
	args := []any{since}
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		query += ` AND event_type = ANY($2)`
		args = append(args, names)
	}
	query += ` ORDER BY occurred_at, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: events since")
	}
	defer rows.Close()

	var out []model.LeadEvent
	for rows.Next() {
		var e model.LeadEvent
		var prev, next *string
		if err := rows.Scan(&e.ID, &e.PersonID, &e.Type, &prev, &next, &e.Detail, &e.OccurredAt); err != nil {
			return nil, eris.Wrap(err, "store: scan event")
		}
		e.PreviousCategory = (*model.Category)(prev)
		e.NewCategory = (*model.Category)(next)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "store: iterate events")
}
