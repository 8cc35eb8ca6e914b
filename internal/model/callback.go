package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// CallbackStatus represents the current state of a scheduled callback.
type CallbackStatus string

const (
	CallbackPending   CallbackStatus = "pending"
	CallbackAssigned  CallbackStatus = "assigned"
	CallbackCompleted CallbackStatus = "completed"
)

// DefaultMaxRetries is the number of redial attempts a callback gets after
// its first failed attempt.
const DefaultMaxRetries = 1

// Callback is a promise to call a person at or after a specific time.
// Callbacks outrank ordinary queue entries during selection.
type Callback struct {
	ID               string         `json:"id"`
	PersonID         string         `json:"person_id"`
	Category         *Category      `json:"category,omitempty"`
	ScheduledFor     time.Time      `json:"scheduled_for"`
	PreferredAgentID *string        `json:"preferred_agent_id,omitempty"`
	Status           CallbackStatus `json:"status"`
	AssignedTo       *string        `json:"assigned_to_agent_id,omitempty"`
	AssignedAt       *time.Time     `json:"assigned_at,omitempty"`
	LeaseExpiresAt   *time.Time     `json:"lease_expires_at,omitempty"`
	RetryCount       int            `json:"retry_count"`
	MaxRetries       int            `json:"max_retries"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Due reports whether the callback is ready to be worked.
func (c *Callback) Due(now time.Time) bool {
	return c.Status == CallbackPending && !c.ScheduledFor.After(now)
}

// RetriesExhausted reports whether another failed attempt would exceed MaxRetries.
func (c *Callback) RetriesExhausted() bool {
	return c.RetryCount > c.MaxRetries
}

// CallOutcome is the reported result of a completed call attempt.
type CallOutcome string

const (
	OutcomeAnswered   CallOutcome = "answered"
	OutcomeNoAnswer   CallOutcome = "no_answer"
	OutcomeBusy       CallOutcome = "busy"
	OutcomeFailed     CallOutcome = "failed"
	OutcomeBadNumber  CallOutcome = "bad_number"
	OutcomeReschedule CallOutcome = "reschedule"
)

// ParseOutcome validates a raw outcome string.
func ParseOutcome(s string) (CallOutcome, error) {
	switch CallOutcome(s) {
	case OutcomeAnswered, OutcomeNoAnswer, OutcomeBusy, OutcomeFailed,
		OutcomeBadNumber, OutcomeReschedule:
		return CallOutcome(s), nil
	default:
		return "", eris.Errorf("model: unknown call outcome %q", s)
	}
}

// Failure reports whether the outcome counts against a callback's retry budget.
func (o CallOutcome) Failure() bool {
	switch o {
	case OutcomeNoAnswer, OutcomeBusy, OutcomeFailed:
		return true
	default:
		return false
	}
}
