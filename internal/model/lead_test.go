package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Category
		wantErr bool
	}{
		{"unsigned", CategoryUnsigned, false},
		{"outstanding_requirements", CategoryOutstandingRequirements, false},
		{"", "", true},
		{"signed", "", true},
		{"UNSIGNED", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseCategory(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClampScore(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, ClampScore(-5))
	assert.Equal(t, 0, ClampScore(0))
	assert.Equal(t, 117, ClampScore(117))
	assert.Equal(t, 200, ClampScore(200))
	assert.Equal(t, 200, ClampScore(240))
}

func TestLeadRecordClaimed(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	agent := "agent-7"

	unclaimed := LeadRecord{PersonID: "p1"}
	assert.False(t, unclaimed.Claimed(now))

	future := now.Add(5 * time.Minute)
	held := LeadRecord{PersonID: "p2", ClaimedBy: &agent, LeaseExpiresAt: &future}
	assert.True(t, held.Claimed(now))

	past := now.Add(-time.Minute)
	expired := LeadRecord{PersonID: "p3", ClaimedBy: &agent, LeaseExpiresAt: &past}
	assert.False(t, expired.Claimed(now))
}

func TestLeadRecordTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, (&LeadRecord{Score: 199}).Terminal())
	assert.True(t, (&LeadRecord{Score: 200}).Terminal())
}

func TestLeadEventTypeValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		typ  LeadEventType
		want string
	}{
		{LeadEventCreated, "created"},
		{LeadEventCategoryChanged, "category_changed"},
		{LeadEventDeactivated, "deactivated"},
		{LeadEventParked, "parked"},
		{LeadEventReactivated, "reactivated"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, string(tt.typ))
		})
	}
}
