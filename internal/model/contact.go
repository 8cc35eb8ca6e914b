package model

import "time"

// CallDirection distinguishes who initiated a recorded call.
type CallDirection string

const (
	DirectionInbound  CallDirection = "inbound"
	DirectionOutbound CallDirection = "outbound"
)

// ContactRecord is one row of imported call detail history. CallRef is the
// telephony platform's unique call identifier and keys idempotent re-imports.
type ContactRecord struct {
	CallRef     string        `json:"call_ref"`
	PersonID    string        `json:"person_id"`
	AgentID     string        `json:"agent_id"`
	Direction   CallDirection `json:"direction"`
	StartedAt   time.Time     `json:"started_at"`
	TalkSeconds int           `json:"talk_seconds"`
	Outcome     string        `json:"outcome,omitempty"`
}

// AgentStatus represents an agent's current working state.
type AgentStatus string

const (
	AgentAvailable AgentStatus = "available"
	AgentBusy      AgentStatus = "busy"
	AgentOffline   AgentStatus = "offline"
)

// Agent is a registered call-center agent with a presence heartbeat.
type Agent struct {
	AgentID     string      `json:"agent_id"`
	DisplayName string      `json:"display_name,omitempty"`
	Status      AgentStatus `json:"status"`
	LastSeenAt  time.Time   `json:"last_seen_at"`
}

// Available reports whether the agent counts as reachable: marked available
// and heard from within the heartbeat TTL.
func (a *Agent) Available(now time.Time, ttl time.Duration) bool {
	return a.Status == AgentAvailable && now.Sub(a.LastSeenAt) <= ttl
}
