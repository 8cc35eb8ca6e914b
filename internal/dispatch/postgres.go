package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dialer-engine/internal/db"
	"github.com/sells-group/dialer-engine/internal/model"
)

// PostgresStore implements Store over the shared engine schema.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a dispatch store on an existing pool.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const callbackColumns = `id, person_id, category, scheduled_for, preferred_agent_id,
	status, assigned_to_agent_id, assigned_at, lease_expires_at,
	retry_count, max_retries, created_at, updated_at`

func scanCallback(row pgx.Row) (*model.Callback, error) {
	var c model.Callback
	var category, preferred, assigned *string
	err := row.Scan(&c.ID, &c.PersonID, &category, &c.ScheduledFor, &preferred,
		&c.Status, &assigned, &c.AssignedAt, &c.LeaseExpiresAt,
		&c.RetryCount, &c.MaxRetries, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Category = (*model.Category)(category)
	c.PreferredAgentID = preferred
	c.AssignedTo = assigned
	return &c, nil
}

// CreateCallback schedules a callback. MaxRetries zero or below falls back
// to the default retry budget.
func (s *PostgresStore) CreateCallback(ctx context.Context, in NewCallback) (*model.Callback, error) {
	maxRetries := in.MaxRetries
	if maxRetries <= 0 {
		maxRetries = model.DefaultMaxRetries
	}
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO callbacks (id, person_id, category, scheduled_for, preferred_agent_id,
			status, retry_count, max_retries, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $8)`,
		id, in.PersonID, (*string)(in.Category), in.ScheduledFor, in.PreferredAgent,
		string(model.CallbackPending), maxRetries, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "dispatch: create callback for %s", in.PersonID)
	}

	return &model.Callback{
		ID:               id,
		PersonID:         in.PersonID,
		Category:         in.Category,
		ScheduledFor:     in.ScheduledFor,
		PreferredAgentID: in.PreferredAgent,
		Status:           model.CallbackPending,
		MaxRetries:       maxRetries,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// Callback fetches one callback by ID. Returns (nil, nil) when absent.
func (s *PostgresStore) Callback(ctx context.Context, id string) (*model.Callback, error) {
	c, err := scanCallback(s.pool.QueryRow(ctx,
		`SELECT `+callbackColumns+` FROM callbacks WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "dispatch: get callback %s", id)
	}
	return c, nil
}

// DueCallbacks lists pending callbacks whose time has come, ranked for the
// given agent: preferred-agent matches first, then FIFO by scheduled_for.
// Preference only affects order; any agent may claim any due callback.
func (s *PostgresStore) DueCallbacks(ctx context.Context, agentID string, limit int) ([]model.Callback, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+callbackColumns+` FROM callbacks
		 WHERE status = 'pending' AND scheduled_for <= now()
		 ORDER BY (preferred_agent_id = $1) DESC NULLS LAST, scheduled_for, id
		 LIMIT $2`,
		agentID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "dispatch: due callbacks")
	}
	defer rows.Close()

	var out []model.Callback
	for rows.Next() {
		c, err := scanCallback(rows)
		if err != nil {
			return nil, eris.Wrap(err, "dispatch: scan callback")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "dispatch: iterate callbacks")
}

// ClaimCallback attempts the atomic conditional assignment. A false return
// means the caller lost the race; that is the normal contention signal, not
// an error.
func (s *PostgresStore) ClaimCallback(ctx context.Context, id, agentID string, until time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE callbacks
		 SET status = 'assigned', assigned_to_agent_id = $2, assigned_at = now(),
		     lease_expires_at = $3, updated_at = now()
		 WHERE id = $1 AND status = 'pending'
		   AND (assigned_to_agent_id IS NULL OR lease_expires_at < now())`,
		id, agentID, until)
	if err != nil {
		return false, eris.Wrapf(err, "dispatch: claim callback %s", id)
	}
	return tag.RowsAffected() == 1, nil
}

// RescheduleCallback returns a callback to pending at a new time, clearing
// its lease. bumpRetry counts the attempt against the retry budget.
func (s *PostgresStore) RescheduleCallback(ctx context.Context, id string, at time.Time, bumpRetry bool) error {
	bump := 0
	if bumpRetry {
		bump = 1
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE callbacks
		 SET status = 'pending', scheduled_for = $2, assigned_to_agent_id = NULL,
		     assigned_at = NULL, lease_expires_at = NULL, retry_count = retry_count + $3,
		     updated_at = now()
		 WHERE id = $1`,
		id, at, bump)
	if err != nil {
		return eris.Wrapf(err, "dispatch: reschedule callback %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("callback not found: %s", id)
	}
	return nil
}

// FinishCallback marks a callback completed, keeping the last assignee for
// history.
func (s *PostgresStore) FinishCallback(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE callbacks
		 SET status = 'completed', lease_expires_at = NULL, updated_at = now()
		 WHERE id = $1`,
		id)
	if err != nil {
		return eris.Wrapf(err, "dispatch: finish callback %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("callback not found: %s", id)
	}
	return nil
}

// ReleaseExpiredCallbacks returns assigned callbacks with expired leases to
// pending, regardless of which process claimed them.
func (s *PostgresStore) ReleaseExpiredCallbacks(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE callbacks
		 SET status = 'pending', assigned_to_agent_id = NULL, assigned_at = NULL,
		     lease_expires_at = NULL, updated_at = now()
		 WHERE status = 'assigned' AND lease_expires_at < now()`)
	if err != nil {
		return 0, eris.Wrap(err, "dispatch: release expired callbacks")
	}
	return tag.RowsAffected(), nil
}

// NextLeads returns claim candidates for an agent in queue order, skipping
// leads under an unexpired foreign lease and leads this agent most recently
// failed to reach. Only ranking fields are populated.
func (s *PostgresStore) NextLeads(ctx context.Context, category model.Category, agentID string, limit int) ([]model.LeadRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT person_id, score, category, reason, created_at FROM leads
		 WHERE active AND category = $1 AND score < $2
		   AND (claimed_by IS NULL OR claimed_by = $3 OR lease_expires_at < now())
		   AND last_failed_agent IS DISTINCT FROM $3
		 ORDER BY score, created_at
		 LIMIT $4`,
		string(category), model.ScoreMax, agentID, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "dispatch: next leads for %s", category)
	}
	defer rows.Close()

	var out []model.LeadRecord
	for rows.Next() {
		var l model.LeadRecord
		var cat *string
		if err := rows.Scan(&l.PersonID, &l.Score, &cat, &l.Reason, &l.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "dispatch: scan lead candidate")
		}
		l.Category = (*model.Category)(cat)
		l.Active = true
		out = append(out, l)
	}
	return out, eris.Wrap(rows.Err(), "dispatch: iterate lead candidates")
}

// ClaimLead leases an ordinary queue entry to an agent.
func (s *PostgresStore) ClaimLead(ctx context.Context, personID, agentID string, until time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads
		 SET claimed_by = $2, lease_expires_at = $3, updated_at = now()
		 WHERE person_id = $1 AND active AND score < $4
		   AND (claimed_by IS NULL OR claimed_by = $2 OR lease_expires_at < now())`,
		personID, agentID, until, model.ScoreMax)
	if err != nil {
		return false, eris.Wrapf(err, "dispatch: claim lead %s", personID)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseLead clears a lease the agent holds without recording an attempt.
func (s *PostgresStore) ReleaseLead(ctx context.Context, personID, agentID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads
		 SET claimed_by = NULL, lease_expires_at = NULL, updated_at = now()
		 WHERE person_id = $1 AND claimed_by = $2`,
		personID, agentID)
	if err != nil {
		return false, eris.Wrapf(err, "dispatch: release lead %s", personID)
	}
	return tag.RowsAffected() == 1, nil
}

// ConsumeCooldown clears this agent's repeat-failure markers. Called after a
// selection pass so each marker causes exactly one skip.
func (s *PostgresStore) ConsumeCooldown(ctx context.Context, agentID string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads
		 SET last_failed_agent = NULL, last_failed_at = NULL
		 WHERE last_failed_agent = $1 AND active`,
		agentID)
	if err != nil {
		return 0, eris.Wrapf(err, "dispatch: consume cooldown for %s", agentID)
	}
	return tag.RowsAffected(), nil
}

// RecordAttempt applies one dial result to a lead: score adjustment clamped
// to the domain, counters, contact stamp, lease release, and the
// repeat-failure marker on failures. A contact_history row is written in
// the same transaction so attribution sees live attempts as well as
// imported ones.
func (s *PostgresStore) RecordAttempt(ctx context.Context, a Attempt) error {
	success := 0
	if a.Outcome == model.OutcomeAnswered {
		success = 1
	}
	failure := a.Outcome.Failure()
	direction := a.Direction
	if direction == "" {
		direction = model.DirectionOutbound
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "dispatch: begin attempt")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE leads
		 SET score = LEAST(GREATEST(score + $3, $4), $5),
		     total_attempts = total_attempts + 1,
		     successful_calls = successful_calls + $6,
		     last_contacted_at = now(),
		     claimed_by = NULL, lease_expires_at = NULL,
		     last_failed_agent = CASE WHEN $7 THEN $2 ELSE NULL END,
		     last_failed_at = CASE WHEN $7 THEN now() ELSE NULL END,
		     updated_at = now()
		 WHERE person_id = $1`,
		a.PersonID, a.AgentID, a.Adjustment, model.ScoreMin, model.ScoreMax,
		success, failure)
	if err != nil {
		return eris.Wrapf(err, "dispatch: record attempt %s", a.PersonID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("lead not found: %s", a.PersonID)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO contact_history (call_ref, person_id, agent_id, direction, outcome, talk_seconds, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())`,
		uuid.New().String(), a.PersonID, a.AgentID, string(direction), string(a.Outcome), a.TalkSeconds)
	if err != nil {
		return eris.Wrapf(err, "dispatch: record contact %s", a.PersonID)
	}
	return eris.Wrap(tx.Commit(ctx), "dispatch: commit attempt")
}

// ReleaseExpiredLeadClaims clears every expired ordinary-lead lease.
func (s *PostgresStore) ReleaseExpiredLeadClaims(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads
		 SET claimed_by = NULL, lease_expires_at = NULL, updated_at = now()
		 WHERE claimed_by IS NOT NULL AND lease_expires_at < now()`)
	if err != nil {
		return 0, eris.Wrap(err, "dispatch: release expired lead claims")
	}
	return tag.RowsAffected(), nil
}

const inboundColumns = `id, call_id, caller_number, person_id, category, status,
	max_wait_reached, assigned_to_agent_id, lease_expires_at, callback_offered,
	enqueued_at, answered_at`

func scanInbound(row pgx.Row) (*model.InboundCall, error) {
	var c model.InboundCall
	var category *string
	err := row.Scan(&c.ID, &c.CallID, &c.CallerNumber, &c.PersonID, &category,
		&c.Status, &c.MaxWaitReached, &c.AssignedTo, &c.LeaseExpiresAt,
		&c.CallbackOffered, &c.EnqueuedAt, &c.AnsweredAt)
	if err != nil {
		return nil, err
	}
	c.Category = (*model.Category)(category)
	return &c, nil
}

// EnqueueInbound registers a live caller. Re-delivery of the same telephony
// call_id returns the existing entry instead of creating a duplicate.
func (s *PostgresStore) EnqueueInbound(ctx context.Context, in NewInbound) (*model.InboundCall, error) {
	id := uuid.New().String()
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO inbound_calls (id, call_id, caller_number, person_id, category, status)
		 VALUES ($1, $2, $3, $4, $5, 'waiting')
		 ON CONFLICT (call_id) DO NOTHING`,
		id, in.CallID, in.CallerNumber, in.PersonID, (*string)(in.Category))
	if err != nil {
		return nil, eris.Wrapf(err, "dispatch: enqueue inbound %s", in.CallID)
	}

	if tag.RowsAffected() == 0 {
		existing, err := scanInbound(s.pool.QueryRow(ctx,
			`SELECT `+inboundColumns+` FROM inbound_calls WHERE call_id = $1`, in.CallID))
		if err != nil {
			return nil, eris.Wrapf(err, "dispatch: get inbound by call %s", in.CallID)
		}
		return existing, nil
	}

	c, err := scanInbound(s.pool.QueryRow(ctx,
		`SELECT `+inboundColumns+` FROM inbound_calls WHERE id = $1`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "dispatch: get inbound %s", id)
	}
	return c, nil
}

// InboundCall fetches one entry by ID. Returns (nil, nil) when absent.
func (s *PostgresStore) InboundCall(ctx context.Context, id string) (*model.InboundCall, error) {
	c, err := scanInbound(s.pool.QueryRow(ctx,
		`SELECT `+inboundColumns+` FROM inbound_calls WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "dispatch: get inbound %s", id)
	}
	return c, nil
}

// OpenInbound lists every unresolved inbound entry, longest wait first.
func (s *PostgresStore) OpenInbound(ctx context.Context) ([]model.InboundCall, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+inboundColumns+` FROM inbound_calls
		 WHERE status IN ('waiting', 'assigned', 'connecting')
		 ORDER BY enqueued_at`)
	if err != nil {
		return nil, eris.Wrap(err, "dispatch: open inbound")
	}
	return collectInbound(rows)
}

// NextWaitingInbound lists waiting callers FIFO.
func (s *PostgresStore) NextWaitingInbound(ctx context.Context, limit int) ([]model.InboundCall, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+inboundColumns+` FROM inbound_calls
		 WHERE status = 'waiting'
		 ORDER BY enqueued_at
		 LIMIT $1`,
		limit)
	if err != nil {
		return nil, eris.Wrap(err, "dispatch: waiting inbound")
	}
	return collectInbound(rows)
}

func collectInbound(rows pgx.Rows) ([]model.InboundCall, error) {
	defer rows.Close()
	var out []model.InboundCall
	for rows.Next() {
		c, err := scanInbound(rows)
		if err != nil {
			return nil, eris.Wrap(err, "dispatch: scan inbound")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "dispatch: iterate inbound")
}

// ClaimInbound offers a waiting call to an agent under the short assignment
// grace period.
func (s *PostgresStore) ClaimInbound(ctx context.Context, id, agentID string, until time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE inbound_calls
		 SET status = 'assigned', assigned_to_agent_id = $2, lease_expires_at = $3
		 WHERE id = $1 AND status = 'waiting'
		   AND (assigned_to_agent_id IS NULL OR lease_expires_at < now())`,
		id, agentID, until)
	if err != nil {
		return false, eris.Wrapf(err, "dispatch: claim inbound %s", id)
	}
	return tag.RowsAffected() == 1, nil
}

// ConnectInbound moves an assigned call to connecting once the assigned
// agent picks up.
func (s *PostgresStore) ConnectInbound(ctx context.Context, id, agentID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE inbound_calls
		 SET status = 'connecting', answered_at = now()
		 WHERE id = $1 AND status = 'assigned' AND assigned_to_agent_id = $2`,
		id, agentID)
	if err != nil {
		return false, eris.Wrapf(err, "dispatch: connect inbound %s", id)
	}
	return tag.RowsAffected() == 1, nil
}

// ResolveInbound closes an entry as completed or abandoned. Resolving an
// already-resolved entry is a no-op so telephony webhook retries stay safe.
func (s *PostgresStore) ResolveInbound(ctx context.Context, id string, status model.InboundStatus) error {
	if status != model.InboundCompleted && status != model.InboundAbandoned {
		return eris.Errorf("dispatch: invalid resolution %q", status)
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE inbound_calls
		 SET status = $2, lease_expires_at = NULL
		 WHERE id = $1 AND status IN ('waiting', 'assigned', 'connecting')`,
		id, string(status))
	return eris.Wrapf(err, "dispatch: resolve inbound %s", id)
}

// AbandonStaleInbound times out waiting entries enqueued before cutoff and
// returns the affected rows. Callback offers are flagged only for callers
// linked to a known person. The zero-available-agents gate belongs to the
// caller; this method just executes the move.
func (s *PostgresStore) AbandonStaleInbound(ctx context.Context, cutoff time.Time, offerCallback bool) ([]model.InboundCall, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE inbound_calls
		 SET status = 'abandoned', max_wait_reached = true,
		     callback_offered = ($2 AND person_id IS NOT NULL),
		     assigned_to_agent_id = NULL, lease_expires_at = NULL
		 WHERE status = 'waiting' AND enqueued_at < $1
		 RETURNING `+inboundColumns,
		cutoff, offerCallback)
	if err != nil {
		return nil, eris.Wrap(err, "dispatch: abandon stale inbound")
	}
	return collectInbound(rows)
}

// ReleaseExpiredInbound re-offers assigned calls whose grace period lapsed
// without the agent picking up.
func (s *PostgresStore) ReleaseExpiredInbound(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE inbound_calls
		 SET status = 'waiting', assigned_to_agent_id = NULL, lease_expires_at = NULL
		 WHERE status = 'assigned' AND lease_expires_at < now()`)
	if err != nil {
		return 0, eris.Wrap(err, "dispatch: release expired inbound")
	}
	return tag.RowsAffected(), nil
}
