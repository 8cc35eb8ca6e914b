package dispatch

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dialer-engine/internal/metrics"
	"github.com/sells-group/dialer-engine/internal/model"
	"github.com/sells-group/dialer-engine/internal/policy"
)

// selectionDepth bounds how many candidates one selection pass fetches per
// lane before giving up. Contention skips count against it.
const selectionDepth = 25

// Parker deactivates a lead for an operational reason without writing a
// conversion. Satisfied by the lead store.
type Parker interface {
	Park(ctx context.Context, personID, reason string) error
}

// AgentRoster reports agent availability. The inbound timeout pass is gated
// on the count; the auto-dispatch pass pairs waiting calls with the listed
// agents.
type AgentRoster interface {
	AvailableCount(ctx context.Context) (int, error)
	AvailableAgents(ctx context.Context) ([]string, error)
}

// Engine implements the selection and completion policy on top of the
// conditional-update store. It holds no state of its own; any number of
// engines may run against the same database.
type Engine struct {
	store  Store
	leads  Parker
	agents AgentRoster
	policy *policy.Policy
}

// NewEngine wires a dispatch engine.
func NewEngine(st Store, leads Parker, agents AgentRoster, pol *policy.Policy) *Engine {
	return &Engine{store: st, leads: leads, agents: agents, policy: pol}
}

// CompleteRequest reports the result of one worked item.
type CompleteRequest struct {
	Kind         WorkKind          `json:"kind"`
	Ref          string            `json:"ref"`
	AgentID      string            `json:"agent_id"`
	Outcome      model.CallOutcome `json:"outcome"`
	RescheduleAt *time.Time        `json:"reschedule_at,omitempty"`
	TalkSeconds  int               `json:"talk_seconds,omitempty"`
}

// NextForAgent picks and claims the next unit of work for an agent. Lanes
// rank: live inbound callers, then due callbacks (preferred-agent matches
// first, then FIFO), then the ordinary queue for the given category (lowest
// score, earliest creation). An empty category tries every category in
// discovery order. A lost claim race falls through to the next candidate;
// nil means nothing is claimable right now.
func (e *Engine) NextForAgent(ctx context.Context, agentID string, category model.Category) (*WorkItem, error) {
	log := zap.L().With(zap.String("component", "dispatch"), zap.String("agent", agentID))
	now := time.Now().UTC()

	inbound, err := e.store.NextWaitingInbound(ctx, selectionDepth)
	if err != nil {
		return nil, err
	}
	for i := range inbound {
		call := &inbound[i]
		until := now.Add(e.policy.InboundGrace())
		ok, err := e.store.ClaimInbound(ctx, call.ID, agentID, until)
		if err != nil {
			return nil, err
		}
		observeClaim(WorkInbound, ok)
		if ok {
			log.Info("assigned inbound call",
				zap.String("call_id", call.CallID),
				zap.Duration("waited", call.WaitDuration(now)))
			return &WorkItem{
				Kind:           WorkInbound,
				Ref:            call.ID,
				PersonID:       deref(call.PersonID),
				CallerNumber:   call.CallerNumber,
				Category:       call.Category,
				AssignedTo:     agentID,
				LeaseExpiresAt: until,
			}, nil
		}
	}

	callbacks, err := e.store.DueCallbacks(ctx, agentID, selectionDepth)
	if err != nil {
		return nil, err
	}
	for i := range callbacks {
		cb := &callbacks[i]
		until := now.Add(e.policy.CallbackLease())
		ok, err := e.store.ClaimCallback(ctx, cb.ID, agentID, until)
		if err != nil {
			return nil, err
		}
		observeClaim(WorkCallback, ok)
		if ok {
			scheduled := cb.ScheduledFor
			log.Info("assigned callback",
				zap.String("person", cb.PersonID),
				zap.Bool("preferred", cb.PreferredAgentID != nil && *cb.PreferredAgentID == agentID))
			return &WorkItem{
				Kind:           WorkCallback,
				Ref:            cb.ID,
				PersonID:       cb.PersonID,
				Category:       cb.Category,
				ScheduledFor:   &scheduled,
				AssignedTo:     agentID,
				LeaseExpiresAt: until,
			}, nil
		}
	}

	categories := model.Categories
	if category != "" {
		categories = []model.Category{category}
	}
	var item *WorkItem
	for _, cat := range categories {
		item, err = e.nextLead(ctx, cat, agentID, now)
		if err != nil {
			return nil, err
		}
		if item != nil {
			break
		}
	}

	// Markers skipped by this pass have done their one cycle.
	if _, err := e.store.ConsumeCooldown(ctx, agentID); err != nil {
		log.Warn("cooldown consume failed", zap.Error(err))
	}

	if item != nil {
		log.Info("assigned lead",
			zap.String("person", item.PersonID),
			zap.Int("score", item.Score))
	}
	return item, nil
}

func (e *Engine) nextLead(ctx context.Context, category model.Category, agentID string, now time.Time) (*WorkItem, error) {
	leads, err := e.store.NextLeads(ctx, category, agentID, selectionDepth)
	if err != nil {
		return nil, err
	}
	for i := range leads {
		lead := &leads[i]
		until := now.Add(e.policy.LeadLease())
		ok, err := e.store.ClaimLead(ctx, lead.PersonID, agentID, until)
		if err != nil {
			return nil, err
		}
		observeClaim(WorkLead, ok)
		if !ok {
			continue
		}
		return &WorkItem{
			Kind:           WorkLead,
			Ref:            lead.PersonID,
			PersonID:       lead.PersonID,
			Category:       lead.Category,
			Score:          lead.Score,
			Reason:         lead.Reason,
			AssignedTo:     agentID,
			LeaseExpiresAt: until,
		}, nil
	}
	return nil, nil
}

// observeClaim records one claim attempt. Lost claims are routine; the
// ratio is what matters.
func observeClaim(kind WorkKind, won bool) {
	result := "lost"
	if won {
		result = "won"
		metrics.DispatchedTotal.WithLabelValues(string(kind)).Inc()
	}
	metrics.ClaimsTotal.WithLabelValues(result).Inc()
}

// Claim attempts an explicit claim on a known item, for callers that derive
// candidates themselves. False means contended.
func (e *Engine) Claim(ctx context.Context, kind WorkKind, ref, agentID string) (bool, error) {
	now := time.Now().UTC()
	var (
		ok  bool
		err error
	)
	switch kind {
	case WorkCallback:
		ok, err = e.store.ClaimCallback(ctx, ref, agentID, now.Add(e.policy.CallbackLease()))
	case WorkLead:
		ok, err = e.store.ClaimLead(ctx, ref, agentID, now.Add(e.policy.LeadLease()))
	case WorkInbound:
		ok, err = e.store.ClaimInbound(ctx, ref, agentID, now.Add(e.policy.InboundGrace()))
	default:
		return false, eris.Errorf("dispatch: unknown work kind %q", kind)
	}
	if err == nil {
		observeClaim(kind, ok)
	}
	return ok, err
}

// Release hands back a claimed item without recording an attempt.
func (e *Engine) Release(ctx context.Context, kind WorkKind, ref, agentID string) error {
	switch kind {
	case WorkLead:
		_, err := e.store.ReleaseLead(ctx, ref, agentID)
		return err
	case WorkCallback:
		cb, err := e.store.Callback(ctx, ref)
		if err != nil {
			return err
		}
		if cb == nil {
			return eris.Errorf("callback not found: %s", ref)
		}
		return e.store.RescheduleCallback(ctx, ref, cb.ScheduledFor, false)
	case WorkInbound:
		return e.store.ResolveInbound(ctx, ref, model.InboundAbandoned)
	default:
		return eris.Errorf("dispatch: unknown work kind %q", kind)
	}
}

// Complete applies a completion outcome to a worked item.
func (e *Engine) Complete(ctx context.Context, req CompleteRequest) error {
	var err error
	switch req.Kind {
	case WorkCallback:
		err = e.completeCallback(ctx, req)
	case WorkLead:
		err = e.completeLead(ctx, req)
	case WorkInbound:
		err = e.completeInbound(ctx, req)
	default:
		return eris.Errorf("dispatch: unknown work kind %q", req.Kind)
	}
	if err == nil {
		metrics.CompletionsTotal.WithLabelValues(string(req.Outcome)).Inc()
	}
	return err
}

// completeCallback applies the callback outcome policy: answered completes;
// reschedule returns to pending at the given time; failures consume the
// retry budget with a fixed delay, and an exhausted callback completes so
// the person rejoins the ordinary queue at normal priority instead of
// staying in the callback lane.
func (e *Engine) completeCallback(ctx context.Context, req CompleteRequest) error {
	log := zap.L().With(zap.String("component", "dispatch"))
	cb, err := e.store.Callback(ctx, req.Ref)
	if err != nil {
		return err
	}
	if cb == nil {
		return eris.Errorf("callback not found: %s", req.Ref)
	}

	switch {
	case req.Outcome == model.OutcomeAnswered:
		if err := e.store.FinishCallback(ctx, cb.ID); err != nil {
			return err
		}
		return e.recordAttempt(ctx, cb.PersonID, req)

	case req.Outcome == model.OutcomeReschedule:
		if req.RescheduleAt == nil {
			return eris.New("dispatch: reschedule outcome requires a time")
		}
		return e.store.RescheduleCallback(ctx, cb.ID, req.RescheduleAt.UTC(), false)

	case req.Outcome == model.OutcomeBadNumber:
		if err := e.store.FinishCallback(ctx, cb.ID); err != nil {
			return err
		}
		if err := e.recordAttempt(ctx, cb.PersonID, req); err != nil {
			return err
		}
		return e.leads.Park(ctx, cb.PersonID, "bad_number")

	case req.Outcome.Failure():
		if cb.RetryCount+1 <= cb.MaxRetries {
			retryAt := time.Now().UTC().Add(e.policy.RetryDelay())
			if err := e.store.RescheduleCallback(ctx, cb.ID, retryAt, true); err != nil {
				return err
			}
			log.Info("callback retry scheduled",
				zap.String("callback", cb.ID),
				zap.Int("retry", cb.RetryCount+1),
				zap.Time("at", retryAt))
		} else {
			if err := e.store.FinishCallback(ctx, cb.ID); err != nil {
				return err
			}
			log.Info("callback retries exhausted, person back to queue",
				zap.String("callback", cb.ID),
				zap.String("person", cb.PersonID))
		}
		return e.recordAttempt(ctx, cb.PersonID, req)

	default:
		return eris.Errorf("dispatch: outcome %q not valid for callbacks", req.Outcome)
	}
}

// completeLead applies one dial result to an ordinary queue entry. A
// reschedule outcome arranges a callback preferring this agent; bad_number
// parks the lead.
func (e *Engine) completeLead(ctx context.Context, req CompleteRequest) error {
	switch req.Outcome {
	case model.OutcomeReschedule:
		if req.RescheduleAt == nil {
			return eris.New("dispatch: reschedule outcome requires a time")
		}
		if err := e.recordAttempt(ctx, req.Ref, req); err != nil {
			return err
		}
		_, err := e.store.CreateCallback(ctx, NewCallback{
			PersonID:       req.Ref,
			ScheduledFor:   req.RescheduleAt.UTC(),
			PreferredAgent: &req.AgentID,
			MaxRetries:     e.policy.Callbacks.MaxRetries,
		})
		return err

	case model.OutcomeBadNumber:
		if err := e.recordAttempt(ctx, req.Ref, req); err != nil {
			return err
		}
		return e.leads.Park(ctx, req.Ref, "bad_number")

	default:
		return e.recordAttempt(ctx, req.Ref, req)
	}
}

// completeInbound resolves a connected call. A known caller gets the same
// contact credit as an answered outbound dial.
func (e *Engine) completeInbound(ctx context.Context, req CompleteRequest) error {
	call, err := e.store.InboundCall(ctx, req.Ref)
	if err != nil {
		return err
	}
	if call == nil {
		return eris.Errorf("inbound call not found: %s", req.Ref)
	}
	if err := e.store.ResolveInbound(ctx, call.ID, model.InboundCompleted); err != nil {
		return err
	}
	if call.PersonID == nil {
		return nil
	}
	return e.store.RecordAttempt(ctx, Attempt{
		PersonID:    *call.PersonID,
		AgentID:     req.AgentID,
		Direction:   model.DirectionInbound,
		Outcome:     model.OutcomeAnswered,
		Adjustment:  e.policy.OutcomeAdjustment(string(model.OutcomeAnswered)),
		TalkSeconds: req.TalkSeconds,
	})
}

func (e *Engine) recordAttempt(ctx context.Context, personID string, req CompleteRequest) error {
	return e.store.RecordAttempt(ctx, Attempt{
		PersonID:    personID,
		AgentID:     req.AgentID,
		Outcome:     req.Outcome,
		Adjustment:  e.policy.OutcomeAdjustment(string(req.Outcome)),
		TalkSeconds: req.TalkSeconds,
	})
}

// SweepReport summarizes one stale-lease pass.
type SweepReport struct {
	LeadClaims       int64 `json:"lead_claims_released"`
	Callbacks        int64 `json:"callbacks_released"`
	InboundReoffers  int64 `json:"inbound_reoffered"`
	TimedOut         int   `json:"inbound_timed_out"`
	CallbacksOffered int   `json:"callbacks_offered"`
	TimeoutSkipped   bool  `json:"timeout_skipped"`
}

// Sweep releases every expired lease and times out stale inbound waiters.
// The timeout step only runs when at least one agent is available: with
// zero agents nothing is broken, callers simply wait, and abandoning them
// would turn "nobody is working" into lost calls.
func (e *Engine) Sweep(ctx context.Context) (SweepReport, error) {
	log := zap.L().With(zap.String("component", "dispatch.sweep"))
	var report SweepReport
	var err error

	if report.LeadClaims, err = e.store.ReleaseExpiredLeadClaims(ctx); err != nil {
		return report, err
	}
	if report.Callbacks, err = e.store.ReleaseExpiredCallbacks(ctx); err != nil {
		return report, err
	}
	if report.InboundReoffers, err = e.store.ReleaseExpiredInbound(ctx); err != nil {
		return report, err
	}
	metrics.LeasesSweptTotal.Add(float64(report.LeadClaims + report.Callbacks + report.InboundReoffers))

	available, err := e.agents.AvailableCount(ctx)
	if err != nil {
		return report, err
	}
	if available == 0 {
		report.TimeoutSkipped = true
		log.Debug("inbound timeout skipped, no agents available")
		return report, nil
	}

	cutoff := time.Now().UTC().Add(-e.policy.MaxWait())
	abandoned, err := e.store.AbandonStaleInbound(ctx, cutoff, e.policy.Inbound.OfferCallback)
	if err != nil {
		return report, err
	}
	report.TimedOut = len(abandoned)

	for i := range abandoned {
		call := &abandoned[i]
		if !call.CallbackOffered || call.PersonID == nil {
			continue
		}
		_, err := e.store.CreateCallback(ctx, NewCallback{
			PersonID:     *call.PersonID,
			Category:     call.Category,
			ScheduledFor: time.Now().UTC(),
			MaxRetries:   e.policy.Callbacks.MaxRetries,
		})
		if err != nil {
			log.Warn("callback offer failed",
				zap.String("call_id", call.CallID), zap.Error(err))
			continue
		}
		report.CallbacksOffered++
	}

	if report.LeadClaims+report.Callbacks+report.InboundReoffers > 0 || report.TimedOut > 0 {
		log.Info("sweep released stale work",
			zap.Int64("lead_claims", report.LeadClaims),
			zap.Int64("callbacks", report.Callbacks),
			zap.Int64("inbound_reoffers", report.InboundReoffers),
			zap.Int("timed_out", report.TimedOut))
	}
	return report, nil
}

// EnqueueInbound registers a live caller in the waiting lane. The telephony
// layer may deliver the same call twice; the store dedups on call_id.
func (e *Engine) EnqueueInbound(ctx context.Context, in NewInbound) (*model.InboundCall, error) {
	if in.CallID == "" {
		return nil, eris.New("dispatch: inbound needs a call_id")
	}
	if in.CallerNumber == "" {
		return nil, eris.New("dispatch: inbound needs a caller number")
	}
	return e.store.EnqueueInbound(ctx, in)
}

// ConnectInbound marks an assigned call as bridged to its agent. False
// means the assignment was lost first (lease expired and reoffered).
func (e *Engine) ConnectInbound(ctx context.Context, id, agentID string) (bool, error) {
	return e.store.ConnectInbound(ctx, id, agentID)
}

// ScheduleCallback books a callback, defaulting the retry budget from policy.
func (e *Engine) ScheduleCallback(ctx context.Context, in NewCallback) (*model.Callback, error) {
	if in.PersonID == "" {
		return nil, eris.New("dispatch: callback needs a person")
	}
	if in.ScheduledFor.IsZero() {
		return nil, eris.New("dispatch: callback needs a scheduled time")
	}
	if in.MaxRetries == 0 {
		in.MaxRetries = e.policy.Callbacks.MaxRetries
	}
	return e.store.CreateCallback(ctx, in)
}

// DispatchWaiting pairs waiting inbound callers with available agents, one
// call per agent, longest wait first. The serve loop runs this so a caller
// is assigned without waiting for an agent poll. Lost claims mean a polling
// agent got there first.
func (e *Engine) DispatchWaiting(ctx context.Context) (int, error) {
	waiting, err := e.store.NextWaitingInbound(ctx, selectionDepth)
	if err != nil {
		return 0, err
	}
	if len(waiting) == 0 {
		return 0, nil
	}
	available, err := e.agents.AvailableAgents(ctx)
	if err != nil {
		return 0, err
	}

	log := zap.L().With(zap.String("component", "dispatch"))
	now := time.Now().UTC()
	assigned := 0
	for i := range waiting {
		if assigned >= len(available) {
			break
		}
		call := &waiting[i]
		agentID := available[assigned]
		ok, err := e.store.ClaimInbound(ctx, call.ID, agentID, now.Add(e.policy.InboundGrace()))
		if err != nil {
			return assigned, err
		}
		observeClaim(WorkInbound, ok)
		if !ok {
			continue
		}
		log.Info("dispatched inbound call",
			zap.String("call_id", call.CallID),
			zap.String("agent", agentID),
			zap.Duration("waited", call.WaitDuration(now)))
		assigned++
	}
	return assigned, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
