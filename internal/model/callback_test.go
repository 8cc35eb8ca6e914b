package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallbackDue(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 12, 14, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		cb   Callback
		want bool
	}{
		{"pending and past due", Callback{Status: CallbackPending, ScheduledFor: now.Add(-time.Minute)}, true},
		{"pending exactly now", Callback{Status: CallbackPending, ScheduledFor: now}, true},
		{"pending in future", Callback{Status: CallbackPending, ScheduledFor: now.Add(time.Hour)}, false},
		{"assigned", Callback{Status: CallbackAssigned, ScheduledFor: now.Add(-time.Hour)}, false},
		{"completed", Callback{Status: CallbackCompleted, ScheduledFor: now.Add(-time.Hour)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.cb.Due(now))
		})
	}
}

func TestCallbackRetriesExhausted(t *testing.T) {
	t.Parallel()

	cb := Callback{RetryCount: 0, MaxRetries: DefaultMaxRetries}
	assert.False(t, cb.RetriesExhausted())

	cb.RetryCount = 1
	assert.False(t, cb.RetriesExhausted(), "retry_count == max_retries still gets the attempt")

	cb.RetryCount = 2
	assert.True(t, cb.RetriesExhausted())
}

func TestParseOutcome(t *testing.T) {
	t.Parallel()

	for _, valid := range []string{"answered", "no_answer", "busy", "failed", "bad_number", "reschedule"} {
		got, err := ParseOutcome(valid)
		require.NoError(t, err)
		assert.Equal(t, valid, string(got))
	}

	_, err := ParseOutcome("hangup")
	assert.Error(t, err)
}

func TestOutcomeFailure(t *testing.T) {
	t.Parallel()

	assert.True(t, OutcomeNoAnswer.Failure())
	assert.True(t, OutcomeBusy.Failure())
	assert.True(t, OutcomeFailed.Failure())
	assert.False(t, OutcomeAnswered.Failure())
	assert.False(t, OutcomeReschedule.Failure())
	assert.False(t, OutcomeBadNumber.Failure())
}

func TestConversionForCategory(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ConversionSignatureObtained, ConversionForCategory(CategoryUnsigned))
	assert.Equal(t, ConversionRequirementsCompleted, ConversionForCategory(CategoryOutstandingRequirements))
	assert.Equal(t, ConversionNoLongerEligible, ConversionForCategory(Category("")))
}

func TestAgentAvailable(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	ttl := 90 * time.Second

	fresh := Agent{AgentID: "a1", Status: AgentAvailable, LastSeenAt: now.Add(-30 * time.Second)}
	assert.True(t, fresh.Available(now, ttl))

	stale := Agent{AgentID: "a2", Status: AgentAvailable, LastSeenAt: now.Add(-5 * time.Minute)}
	assert.False(t, stale.Available(now, ttl))

	busy := Agent{AgentID: "a3", Status: AgentBusy, LastSeenAt: now}
	assert.False(t, busy.Available(now, ttl))
}
