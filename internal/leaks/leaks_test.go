package leaks

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dialer-engine/internal/ledger"
	"github.com/sells-group/dialer-engine/internal/model"
	"github.com/sells-group/dialer-engine/internal/policy"
)

type fakeRecorder struct {
	inputs  []ledger.ConversionInput
	written bool
	err     error

	existsCalls []string
	exists      bool
	existsErr   error
}

func (f *fakeRecorder) Record(_ context.Context, in ledger.ConversionInput) (bool, *model.ConversionRecord, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return false, nil, f.err
	}
	if !f.written {
		return false, nil, nil
	}
	return true, &model.ConversionRecord{ID: "rec-1", PersonID: in.PersonID}, nil
}

func (f *fakeRecorder) ExistsNear(_ context.Context, personID string, _ time.Time, _ time.Duration) (bool, error) {
	f.existsCalls = append(f.existsCalls, personID)
	return f.exists, f.existsErr
}

type fakeBoard struct {
	leaks  []Leak
	causes []string
	err    error
}

func (f *fakeBoard) Push(_ context.Context, leak Leak, cause string) error {
	f.leaks = append(f.leaks, leak)
	f.causes = append(f.causes, cause)
	return f.err
}

func newMockScanner(t *testing.T, rec Recorder, board ReviewBoard) (*Scanner, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return NewScanner(mock, rec, board, policy.Default()), mock
}

func candidateRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"person_id", "previous_category", "detail",
		"occurred_at", "score", "total_attempts"})
}

func TestScan_RecoversMissingConversions(t *testing.T) {
	rec := &fakeRecorder{written: true}
	board := &fakeBoard{}
	s, mock := newMockScanner(t, rec, board)

	exited1 := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	exited2 := time.Date(2026, 3, 9, 11, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT e\.person_id`).
		WithArgs(pgxmock.AnyArg(), int64(3600)).
		WillReturnRows(candidateRows().
			AddRow("p1", strPtr("unsigned"), strPtr("signature obtained"), exited1, 5, 9).
			AddRow("p2", strPtr("outstanding_requirements"), (*string)(nil), exited2, 200, 31))

	report, err := s.Scan(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Potential)
	assert.Equal(t, 2, report.Recovered)
	assert.Zero(t, report.Unrecovered)
	assert.Empty(t, board.leaks)

	require.Len(t, rec.inputs, 2)
	first := rec.inputs[0]
	assert.Equal(t, "p1", first.PersonID)
	assert.Equal(t, model.ConversionSignatureObtained, first.Type)
	assert.True(t, first.Recovered)
	assert.Equal(t, exited1, first.ConvertedAt)

	second := rec.inputs[1]
	assert.Equal(t, model.ConversionScoredOut, second.Type)
	assert.Equal(t, 200, second.FinalScore)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScan_CoveredWhenRecordAlreadyExists(t *testing.T) {
	rec := &fakeRecorder{written: false}
	board := &fakeBoard{}
	s, mock := newMockScanner(t, rec, board)

	mock.ExpectQuery(`SELECT e\.person_id`).
		WithArgs(pgxmock.AnyArg(), int64(3600)).
		WillReturnRows(candidateRows().
			AddRow("p1", strPtr("unsigned"), strPtr("done"),
				time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC), 5, 9))

	report, err := s.Scan(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Potential)
	assert.Zero(t, report.Recovered)
	assert.Equal(t, 1, report.Covered)
	assert.Zero(t, report.Unrecovered)
	assert.Empty(t, board.leaks)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScan_CoveredWhenLedgerRecordAppearsMidScan(t *testing.T) {
	rec := &fakeRecorder{written: true, exists: true}
	board := &fakeBoard{}
	s, mock := newMockScanner(t, rec, board)

	mock.ExpectQuery(`SELECT e\.person_id`).
		WithArgs(pgxmock.AnyArg(), int64(3600)).
		WillReturnRows(candidateRows().
			AddRow("p1", strPtr("unsigned"), strPtr("done"),
				time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC), 5, 9))

	report, err := s.Scan(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Covered)
	assert.Zero(t, report.Recovered)
	assert.Equal(t, []string{"p1"}, rec.existsCalls)
	// The write path is never reached once the pre-check finds a record.
	assert.Empty(t, rec.inputs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScan_UnknownCategoryExitGoesToBoard(t *testing.T) {
	rec := &fakeRecorder{written: true}
	board := &fakeBoard{}
	s, mock := newMockScanner(t, rec, board)

	exited := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT e\.person_id`).
		WithArgs(pgxmock.AnyArg(), int64(3600)).
		WillReturnRows(candidateRows().
			// No category and not aged out: nothing to attribute.
			AddRow("p5", (*string)(nil), strPtr("manual purge"), exited, 40, 3).
			// No category but terminal score: still recoverable as scored out.
			AddRow("p6", (*string)(nil), (*string)(nil), exited, 200, 31))

	report, err := s.Scan(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Potential)
	assert.Equal(t, 1, report.Unrecovered)
	assert.Equal(t, 1, report.Recovered)

	require.Len(t, board.leaks, 1)
	assert.Equal(t, "p5", board.leaks[0].PersonID)
	assert.Contains(t, board.causes[0], "no reconstructable previous category")

	require.Len(t, rec.inputs, 1)
	assert.Equal(t, "p6", rec.inputs[0].PersonID)
	assert.Equal(t, model.ConversionScoredOut, rec.inputs[0].Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScan_EscalatesUnrecoveredToBoard(t *testing.T) {
	rec := &fakeRecorder{err: eris.New("ledger unavailable")}
	board := &fakeBoard{}
	s, mock := newMockScanner(t, rec, board)

	exited := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT e\.person_id`).
		WithArgs(pgxmock.AnyArg(), int64(3600)).
		WillReturnRows(candidateRows().
			AddRow("p9", strPtr("unsigned"), strPtr("gone"), exited, 40, 3))

	report, err := s.Scan(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Potential)
	assert.Equal(t, 1, report.Unrecovered)

	require.Len(t, board.leaks, 1)
	assert.Equal(t, "p9", board.leaks[0].PersonID)
	assert.Equal(t, "gone", board.leaks[0].Reason)
	assert.Contains(t, board.causes[0], "ledger unavailable")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScan_NoCandidates(t *testing.T) {
	rec := &fakeRecorder{written: true}
	s, mock := newMockScanner(t, rec, nil)

	mock.ExpectQuery(`SELECT e\.person_id`).
		WithArgs(pgxmock.AnyArg(), int64(3600)).
		WillReturnRows(candidateRows())

	report, err := s.Scan(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, report.Potential)
	assert.Empty(t, rec.inputs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPending_CountsWithoutRecovery(t *testing.T) {
	rec := &fakeRecorder{written: true}
	s, mock := newMockScanner(t, rec, nil)

	mock.ExpectQuery(`SELECT count\(\*\) FROM lead_events e`).
		WithArgs(pgxmock.AnyArg(), int64(3600)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(7)))

	count, err := s.Pending(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)
	assert.Empty(t, rec.inputs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func strPtr(s string) *string { return &s }
