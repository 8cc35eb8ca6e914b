package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/dialer-engine/internal/agents"
	"github.com/sells-group/dialer-engine/internal/dispatch"
	"github.com/sells-group/dialer-engine/internal/ledger"
	"github.com/sells-group/dialer-engine/internal/model"
	"github.com/sells-group/dialer-engine/internal/queue"
	"github.com/sells-group/dialer-engine/internal/runlog"
)

// workRequest identifies one claimable item plus the agent acting on it.
type workRequest struct {
	Kind    string `json:"kind"`
	Ref     string `json:"ref"`
	AgentID string `json:"agent_id"`
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent")
	if agentID == "" {
		s.respondError(w, http.StatusBadRequest, "agent is required")
		return
	}
	var category model.Category
	if raw := r.URL.Query().Get("category"); raw != "" {
		c, err := model.ParseCategory(raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		category = c
	}

	item, err := s.deps.Dispatch.NextForAgent(r.Context(), agentID, category)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if item == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.respondJSON(w, http.StatusOK, item)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req workRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	kind, err := dispatch.ParseWorkKind(req.Kind)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Ref == "" || req.AgentID == "" {
		s.respondError(w, http.StatusBadRequest, "ref and agent_id are required")
		return
	}

	ok, err := s.deps.Dispatch.Claim(r.Context(), kind, req.Ref, req.AgentID)
	if err != nil {
		s.respondError(w, httpStatus(err), err.Error())
		return
	}
	status := http.StatusOK
	if !ok {
		status = http.StatusConflict
	}
	s.respondJSON(w, status, map[string]any{"claimed": ok, "kind": kind, "ref": req.Ref})
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req workRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	kind, err := dispatch.ParseWorkKind(req.Kind)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Ref == "" || req.AgentID == "" {
		s.respondError(w, http.StatusBadRequest, "ref and agent_id are required")
		return
	}

	if err := s.deps.Dispatch.Release(r.Context(), kind, req.Ref, req.AgentID); err != nil {
		s.respondError(w, httpStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req dispatch.CompleteRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := dispatch.ParseWorkKind(string(req.Kind)); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Ref == "" || req.AgentID == "" {
		s.respondError(w, http.StatusBadRequest, "ref and agent_id are required")
		return
	}
	if _, err := model.ParseOutcome(string(req.Outcome)); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Outcome == model.OutcomeReschedule && req.RescheduleAt == nil {
		s.respondError(w, http.StatusBadRequest, "reschedule outcome needs reschedule_at")
		return
	}

	if err := s.deps.Dispatch.Complete(r.Context(), req); err != nil {
		s.respondError(w, httpStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleScheduleCallback(w http.ResponseWriter, r *http.Request) {
	var req dispatch.NewCallback
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PersonID == "" {
		s.respondError(w, http.StatusBadRequest, "person_id is required")
		return
	}
	if req.ScheduledFor.IsZero() {
		s.respondError(w, http.StatusBadRequest, "scheduled_for is required")
		return
	}
	if req.Category != nil {
		if _, err := model.ParseCategory(string(*req.Category)); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	cb, err := s.deps.Dispatch.ScheduleCallback(r.Context(), req)
	if err != nil {
		s.respondError(w, httpStatus(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, cb)
}

func (s *Server) handleEnqueueInbound(w http.ResponseWriter, r *http.Request) {
	var req dispatch.NewInbound
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CallID == "" || req.CallerNumber == "" {
		s.respondError(w, http.StatusBadRequest, "call_id and caller_number are required")
		return
	}
	if req.Category != nil {
		if _, err := model.ParseCategory(string(*req.Category)); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	call, err := s.deps.Dispatch.EnqueueInbound(r.Context(), req)
	if err != nil {
		s.respondError(w, httpStatus(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, call)
}

func (s *Server) handleConnectInbound(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		AgentID string `json:"agent_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AgentID == "" {
		s.respondError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	ok, err := s.deps.Dispatch.ConnectInbound(r.Context(), id, req.AgentID)
	if err != nil {
		s.respondError(w, httpStatus(err), err.Error())
		return
	}
	status := http.StatusOK
	if !ok {
		status = http.StatusConflict
	}
	s.respondJSON(w, status, map[string]any{"connected": ok, "id": id})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	category, err := model.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := s.deps.Queues.Entries(r.Context(),
		category, intParam(r, "limit", 0), intParam(r, "offset", 0))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []queue.Entry{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"category": category,
		"count":    len(entries),
		"entries":  entries,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Health.Collect(r.Context(), intParam(r, "hours", 0))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleConversions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ledger.Filter{
		PersonID: q.Get("person"),
		Limit:    intParam(r, "limit", 0),
	}
	if raw := q.Get("type"); raw != "" {
		ct, err := model.ParseConversionType(raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Type = ct
	}
	if raw := q.Get("recovered"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "recovered must be a boolean")
			return
		}
		f.Recovered = &b
	}
	var err error
	if f.Since, err = timeParam(q.Get("since")); err != nil {
		s.respondError(w, http.StatusBadRequest, "since must be RFC 3339")
		return
	}
	if f.Until, err = timeParam(q.Get("until")); err != nil {
		s.respondError(w, http.StatusBadRequest, "until must be RFC 3339")
		return
	}

	records, err := s.deps.Conversions.Conversions(r.Context(), f)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []model.ConversionRecord{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"count": len(records), "conversions": records})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Runs.RecentRuns(r.Context(),
		r.URL.Query().Get("job"), intParam(r, "limit", 50))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []runlog.Entry{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"count": len(entries), "runs": entries})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Agents.List(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []agents.Agent{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"count": len(list), "agents": list})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !agents.ValidStatus(req.Status) {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", req.Status))
		return
	}

	if err := s.deps.Agents.Heartbeat(r.Context(), agentID, req.Status); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLeakScan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WindowHours int `json:"window_hours"`
	}
	// The body is optional; an empty POST scans the default window.
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	window := s.deps.LeakWindow
	if req.WindowHours > 0 {
		window = time.Duration(req.WindowHours) * time.Hour
	}

	report, err := s.deps.Leaks.Scan(r.Context(), window)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleLeakStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := s.deps.Leaks.Pending(r.Context(), s.deps.LeakWindow)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	running := s.deps.Monitor != nil && s.deps.Monitor.Running()
	s.respondJSON(w, http.StatusOK, map[string]any{
		"running":      running,
		"pending":      pending,
		"window_hours": int(s.deps.LeakWindow.Hours()),
	})
}

// handleMonitorStart launches the background monitor loop. The loop must
// outlive this request, so it runs on a context detached from it.
func (s *Server) handleMonitorStart(w http.ResponseWriter, r *http.Request) {
	if s.deps.Monitor == nil {
		s.respondError(w, http.StatusServiceUnavailable, "leak monitor not configured")
		return
	}
	if !s.deps.Monitor.Start(context.WithoutCancel(r.Context())) {
		s.respondError(w, http.StatusConflict, "leak monitor already running")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"running": true})
}

func (s *Server) handleMonitorStop(w http.ResponseWriter, r *http.Request) {
	if s.deps.Monitor == nil {
		s.respondError(w, http.StatusServiceUnavailable, "leak monitor not configured")
		return
	}
	if !s.deps.Monitor.Stop() {
		s.respondError(w, http.StatusConflict, "leak monitor not running")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"running": false})
}

// httpStatus maps a service error to a response code. The stores report
// missing rows with "not found" in the message rather than a sentinel.
func httpStatus(err error) int {
	if strings.Contains(err.Error(), "not found") {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// intParam reads an integer query parameter, falling back on absence or junk.
func intParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func timeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
