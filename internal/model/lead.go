package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Category classifies why a person qualifies for outbound work.
type Category string

const (
	CategoryUnsigned                Category = "unsigned"
	CategoryOutstandingRequirements Category = "outstanding_requirements"
)

// Categories lists every valid category in discovery order.
var Categories = []Category{CategoryUnsigned, CategoryOutstandingRequirements}

// ParseCategory validates a raw category string.
func ParseCategory(s string) (Category, error) {
	switch Category(s) {
	case CategoryUnsigned:
		return CategoryUnsigned, nil
	case CategoryOutstandingRequirements:
		return CategoryOutstandingRequirements, nil
	default:
		return "", eris.Errorf("model: unknown category %q", s)
	}
}

// Score bounds. Lower scores sort earlier in the queue; ScoreMax is terminal.
const (
	ScoreMin = 0
	ScoreMax = 200
)

// ClampScore bounds a score adjustment result to [ScoreMin, ScoreMax].
func ClampScore(n int) int {
	if n < ScoreMin {
		return ScoreMin
	}
	if n > ScoreMax {
		return ScoreMax
	}
	return n
}

// LeadRecord is one person currently or formerly eligible for outbound contact.
// Score only moves toward ScoreMax over a lead's life, except for the explicit
// reset to zero on a category change.
type LeadRecord struct {
	PersonID        string     `json:"person_id"`
	Score           int        `json:"score"`
	Category        *Category  `json:"category,omitempty"`
	Active          bool       `json:"active"`
	Reason          string     `json:"reason,omitempty"`
	TotalAttempts   int        `json:"total_attempts"`
	SuccessfulCalls int        `json:"successful_calls"`
	LastContactedAt *time.Time `json:"last_contacted_at,omitempty"`
	LastCheckedAt   *time.Time `json:"last_checked_at,omitempty"`
	LastAgedOn      *time.Time `json:"last_aged_on,omitempty"`
	ClaimedBy       *string    `json:"claimed_by,omitempty"`
	LeaseExpiresAt  *time.Time `json:"lease_expires_at,omitempty"`
	LastFailedAgent *string    `json:"last_failed_agent_id,omitempty"`
	LastFailedAt    *time.Time `json:"last_failed_at,omitempty"`
	ParkReason      *string    `json:"park_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Claimed reports whether the lead is under an unexpired lease.
func (l *LeadRecord) Claimed(now time.Time) bool {
	return l.ClaimedBy != nil && l.LeaseExpiresAt != nil && l.LeaseExpiresAt.After(now)
}

// Terminal reports whether the lead has aged out of the working queue.
func (l *LeadRecord) Terminal() bool {
	return l.Score >= ScoreMax
}

// LeadEventType identifies a lifecycle transition recorded in lead history.
type LeadEventType string

const (
	LeadEventCreated         LeadEventType = "created"
	LeadEventCategoryChanged LeadEventType = "category_changed"
	LeadEventDeactivated     LeadEventType = "deactivated"
	LeadEventParked          LeadEventType = "parked"
	LeadEventReactivated     LeadEventType = "reactivated"
)

// LeadEvent is one append-only history row for a lead. Deactivation events
// carry the category the lead held at exit so conversions can be
// reconstructed after the fact.
type LeadEvent struct {
	ID               int64         `json:"id"`
	PersonID         string        `json:"person_id"`
	Type             LeadEventType `json:"type"`
	PreviousCategory *Category     `json:"previous_category,omitempty"`
	NewCategory      *Category     `json:"new_category,omitempty"`
	Detail           string        `json:"detail,omitempty"`
	OccurredAt       time.Time     `json:"occurred_at"`
}
