package model

import "time"

// InboundStatus represents the state of a caller waiting in the inbound queue.
type InboundStatus string

const (
	InboundWaiting    InboundStatus = "waiting"
	InboundAssigned   InboundStatus = "assigned"
	InboundConnecting InboundStatus = "connecting"
	InboundAbandoned  InboundStatus = "abandoned"
	InboundCompleted  InboundStatus = "completed"
)

// InboundCall is a live caller waiting for an agent. The telephony layer owns
// the audio path; this row only tracks who handles the call and when.
type InboundCall struct {
	ID              string        `json:"id"`
	CallID          string        `json:"call_id"`
	CallerNumber    string        `json:"caller_number"`
	PersonID        *string       `json:"person_id,omitempty"`
	Category        *Category     `json:"category,omitempty"`
	Status          InboundStatus `json:"status"`
	MaxWaitReached  bool          `json:"max_wait_reached"`
	AssignedTo      *string       `json:"assigned_to_agent_id,omitempty"`
	LeaseExpiresAt  *time.Time    `json:"lease_expires_at,omitempty"`
	CallbackOffered bool          `json:"callback_offered"`
	EnqueuedAt      time.Time     `json:"enqueued_at"`
	AnsweredAt      *time.Time    `json:"answered_at,omitempty"`
}

// WaitDuration returns how long the caller has been waiting as of now.
func (c *InboundCall) WaitDuration(now time.Time) time.Duration {
	return now.Sub(c.EnqueuedAt)
}
