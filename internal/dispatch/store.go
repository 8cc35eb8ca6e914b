// Package dispatch owns claiming and assignment. Every claim is a single
// conditional UPDATE whose affected-row count is the only contention signal;
// there is no process-level locking, so any number of workers can run
// concurrently against the same tables.
package dispatch

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dialer-engine/internal/model"
)

// WorkKind distinguishes the three claimable lanes.
type WorkKind string

const (
	WorkCallback WorkKind = "callback"
	WorkLead     WorkKind = "lead"
	WorkInbound  WorkKind = "inbound"
)

// ParseWorkKind validates a raw work kind string.
func ParseWorkKind(s string) (WorkKind, error) {
	switch WorkKind(s) {
	case WorkCallback, WorkLead, WorkInbound:
		return WorkKind(s), nil
	default:
		return "", eris.Errorf("dispatch: unknown work kind %q", s)
	}
}

// WorkItem is one claimed unit of work handed to an agent. Ref is the
// callback or inbound row ID, or the person ID for ordinary leads.
type WorkItem struct {
	Kind           WorkKind        `json:"kind"`
	Ref            string          `json:"ref"`
	PersonID       string          `json:"person_id,omitempty"`
	CallerNumber   string          `json:"caller_number,omitempty"`
	Category       *model.Category `json:"category,omitempty"`
	Score          int             `json:"score,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	ScheduledFor   *time.Time      `json:"scheduled_for,omitempty"`
	AssignedTo     string          `json:"assigned_to_agent_id"`
	LeaseExpiresAt time.Time       `json:"lease_expires_at"`
}

// NewCallback is the input for scheduling a callback.
type NewCallback struct {
	PersonID       string          `json:"person_id"`
	Category       *model.Category `json:"category,omitempty"`
	ScheduledFor   time.Time       `json:"scheduled_for"`
	PreferredAgent *string         `json:"preferred_agent_id,omitempty"`
	MaxRetries     int             `json:"max_retries"`
}

// NewInbound is the input for enqueueing a live inbound call.
type NewInbound struct {
	CallID       string          `json:"call_id"`
	CallerNumber string          `json:"caller_number"`
	PersonID     *string         `json:"person_id,omitempty"`
	Category     *model.Category `json:"category,omitempty"`
}

// Attempt records the result of one call against a lead. Direction defaults
// to outbound; inbound completions set it explicitly.
type Attempt struct {
	PersonID    string
	AgentID     string
	Direction   model.CallDirection
	Outcome     model.CallOutcome
	Adjustment  int
	TalkSeconds int
}

// Store is the persistence interface for claims, callbacks and inbound
// calls. All conditional updates return their success as a bool; false
// means the caller lost the race and should move to the next candidate.
type Store interface {
	// Callbacks
	CreateCallback(ctx context.Context, in NewCallback) (*model.Callback, error)
	Callback(ctx context.Context, id string) (*model.Callback, error)
	DueCallbacks(ctx context.Context, agentID string, limit int) ([]model.Callback, error)
	ClaimCallback(ctx context.Context, id, agentID string, until time.Time) (bool, error)
	RescheduleCallback(ctx context.Context, id string, at time.Time, bumpRetry bool) error
	FinishCallback(ctx context.Context, id string) error
	ReleaseExpiredCallbacks(ctx context.Context) (int64, error)

	// Ordinary leads
	NextLeads(ctx context.Context, category model.Category, agentID string, limit int) ([]model.LeadRecord, error)
	ClaimLead(ctx context.Context, personID, agentID string, until time.Time) (bool, error)
	ReleaseLead(ctx context.Context, personID, agentID string) (bool, error)
	ConsumeCooldown(ctx context.Context, agentID string) (int64, error)
	RecordAttempt(ctx context.Context, a Attempt) error
	ReleaseExpiredLeadClaims(ctx context.Context) (int64, error)

	// Inbound
	EnqueueInbound(ctx context.Context, in NewInbound) (*model.InboundCall, error)
	InboundCall(ctx context.Context, id string) (*model.InboundCall, error)
	OpenInbound(ctx context.Context) ([]model.InboundCall, error)
	NextWaitingInbound(ctx context.Context, limit int) ([]model.InboundCall, error)
	ClaimInbound(ctx context.Context, id, agentID string, until time.Time) (bool, error)
	ConnectInbound(ctx context.Context, id, agentID string) (bool, error)
	ResolveInbound(ctx context.Context, id string, status model.InboundStatus) error
	AbandonStaleInbound(ctx context.Context, cutoff time.Time, offerCallback bool) ([]model.InboundCall, error)
	ReleaseExpiredInbound(ctx context.Context) (int64, error)
}
