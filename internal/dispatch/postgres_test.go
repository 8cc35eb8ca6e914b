package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dialer-engine/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return NewPostgresStore(mock), mock
}

func TestPostgresStore_ClaimCallback_WinsRace(t *testing.T) {
	s, mock := newMockStore(t)

	until := time.Now().UTC().Add(5 * time.Minute)
	mock.ExpectExec(`UPDATE callbacks`).
		WithArgs("cb-1", "agent-7", until).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ok, err := s.ClaimCallback(context.Background(), "cb-1", "agent-7", until)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimCallback_LostRaceIsNotAnError(t *testing.T) {
	s, mock := newMockStore(t)

	until := time.Now().UTC().Add(5 * time.Minute)
	mock.ExpectExec(`UPDATE callbacks`).
		WithArgs("cb-1", "agent-7", until).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := s.ClaimCallback(context.Background(), "cb-1", "agent-7", until)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimLead_LostRace(t *testing.T) {
	s, mock := newMockStore(t)

	until := time.Now().UTC().Add(5 * time.Minute)
	mock.ExpectExec(`UPDATE leads`).
		WithArgs("p1", "agent-7", until, model.ScoreMax).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := s.ClaimLead(context.Background(), "p1", "agent-7", until)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordAttempt_AnsweredClearsFailureMarker(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE leads`).
		WithArgs("p1", "agent-7", 40, model.ScoreMin, model.ScoreMax, 1, false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO contact_history`).
		WithArgs(pgxmock.AnyArg(), "p1", "agent-7", "outbound", "answered", 95).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.RecordAttempt(context.Background(), Attempt{
		PersonID:    "p1",
		AgentID:     "agent-7",
		Outcome:     model.OutcomeAnswered,
		Adjustment:  40,
		TalkSeconds: 95,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordAttempt_FailureSetsMarker(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE leads`).
		WithArgs("p1", "agent-7", 5, model.ScoreMin, model.ScoreMax, 0, true).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO contact_history`).
		WithArgs(pgxmock.AnyArg(), "p1", "agent-7", "outbound", "no_answer", 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.RecordAttempt(context.Background(), Attempt{
		PersonID:   "p1",
		AgentID:    "agent-7",
		Outcome:    model.OutcomeNoAnswer,
		Adjustment: 5,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordAttempt_UnknownLead(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE leads`).
		WithArgs("ghost", "agent-7", 5, model.ScoreMin, model.ScoreMax, 0, true).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := s.RecordAttempt(context.Background(), Attempt{
		PersonID:   "ghost",
		AgentID:    "agent-7",
		Outcome:    model.OutcomeNoAnswer,
		Adjustment: 5,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lead not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_NextLeads_SkipsCooldownAndForeignLeases(t *testing.T) {
	s, mock := newMockStore(t)

	created := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	cat := "unsigned"
	mock.ExpectQuery(`SELECT person_id, score, category, reason, created_at FROM leads`).
		WithArgs("unsigned", model.ScoreMax, "agent-7", 10).
		WillReturnRows(pgxmock.NewRows([]string{"person_id", "score", "category", "reason", "created_at"}).
			AddRow("p1", 3, &cat, "no signature", created))

	leads, err := s.NextLeads(context.Background(), model.CategoryUnsigned, "agent-7", 10)
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, "p1", leads[0].PersonID)
	assert.True(t, leads[0].Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ConsumeCooldown(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE leads`).
		WithArgs("agent-7").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := s.ConsumeCooldown(context.Background(), "agent-7")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnqueueInbound_DuplicateCallID(t *testing.T) {
	s, mock := newMockStore(t)

	enqueued := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO inbound_calls`).
		WithArgs(pgxmock.AnyArg(), "tel-42", "+15551234567", (*string)(nil), (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(`SELECT .+ FROM inbound_calls WHERE call_id = \$1`).
		WithArgs("tel-42").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "call_id", "caller_number", "person_id", "category", "status",
			"max_wait_reached", "assigned_to_agent_id", "lease_expires_at", "callback_offered",
			"enqueued_at", "answered_at",
		}).AddRow("in-1", "tel-42", "+15551234567", nil, nil, "waiting",
			false, nil, nil, false, enqueued, nil))

	call, err := s.EnqueueInbound(context.Background(), NewInbound{
		CallID:       "tel-42",
		CallerNumber: "+15551234567",
	})
	require.NoError(t, err)
	assert.Equal(t, "in-1", call.ID)
	assert.Equal(t, model.InboundWaiting, call.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AbandonStaleInbound_ReturnsMovedRows(t *testing.T) {
	s, mock := newMockStore(t)

	cutoff := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	person := "p1"
	enqueued := cutoff.Add(-15 * time.Minute)
	mock.ExpectQuery(`UPDATE inbound_calls`).
		WithArgs(cutoff, true).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "call_id", "caller_number", "person_id", "category", "status",
			"max_wait_reached", "assigned_to_agent_id", "lease_expires_at", "callback_offered",
			"enqueued_at", "answered_at",
		}).AddRow("in-1", "tel-42", "+15551234567", &person, nil, "abandoned",
			true, nil, nil, true, enqueued, nil))

	moved, err := s.AbandonStaleInbound(context.Background(), cutoff, true)
	require.NoError(t, err)
	require.Len(t, moved, 1)
	assert.Equal(t, model.InboundAbandoned, moved[0].Status)
	assert.True(t, moved[0].MaxWaitReached)
	assert.True(t, moved[0].CallbackOffered)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResolveInbound_RejectsOpenStates(t *testing.T) {
	s, _ := newMockStore(t)

	err := s.ResolveInbound(context.Background(), "in-1", model.InboundConnecting)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid resolution")
}

func TestPostgresStore_ReleaseExpiredCallbacks(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE callbacks`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := s.ReleaseExpiredCallbacks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
