package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dialer-engine/internal/store"
)

func TestAge_AppliesDailyStep(t *testing.T) {
	st := newMockStore()
	st.agingResult = store.AgingResult{Eligible: 120, Aged: 120}
	runs := &fakeRuns{}
	j := newTestJob(st, &fakeSource{}, &fakeRecorder{}, runs, 10)

	// A Tuesday; the default rest day is Sunday.
	now := time.Date(2026, 1, 6, 8, 0, 0, 0, time.UTC)
	report, err := j.Age(context.Background(), now)
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Equal(t, int64(120), report.Aged)

	assert.Equal(t, now, st.agingDay)
	assert.Equal(t, 1, st.agingStep)
	require.Len(t, runs.completed, 1)
	assert.Equal(t, int64(120), runs.completed[0].Checked)
	assert.Equal(t, int64(120), runs.completed[0].Changed)
}

func TestAge_RestDaySkipsEntirely(t *testing.T) {
	st := newMockStore()
	runs := &fakeRuns{}
	j := newTestJob(st, &fakeSource{}, &fakeRecorder{}, runs, 10)

	sunday := time.Date(2026, 1, 4, 8, 0, 0, 0, time.UTC)
	require.Equal(t, time.Sunday, sunday.Weekday())

	report, err := j.Age(context.Background(), sunday)
	require.NoError(t, err)
	assert.True(t, report.Skipped)

	assert.Zero(t, st.agingStep)
	require.Len(t, runs.completed, 1)
	assert.Zero(t, runs.completed[0].Checked)
}
