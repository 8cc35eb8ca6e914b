package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dialer-engine/internal/agents"
	"github.com/sells-group/dialer-engine/internal/config"
	"github.com/sells-group/dialer-engine/internal/dispatch"
	"github.com/sells-group/dialer-engine/internal/leaks"
	"github.com/sells-group/dialer-engine/internal/ledger"
	"github.com/sells-group/dialer-engine/internal/model"
	"github.com/sells-group/dialer-engine/internal/monitoring"
	"github.com/sells-group/dialer-engine/internal/queue"
	"github.com/sells-group/dialer-engine/internal/runlog"
)

type dispatchCall struct {
	kind  dispatch.WorkKind
	ref   string
	agent string
}

type fakeDispatcher struct {
	item      *dispatch.WorkItem
	nextErr   error
	claimOK   bool
	claimErr  error
	connectOK bool

	releaseErr  error
	completeErr error

	lastAgent    string
	lastCategory model.Category
	claims       []dispatchCall
	releases     []dispatchCall
	completions  []dispatch.CompleteRequest
	enqueued     []dispatch.NewInbound
	connects     []dispatchCall
	callbacks    []dispatch.NewCallback
}

func (f *fakeDispatcher) NextForAgent(_ context.Context, agentID string, category model.Category) (*dispatch.WorkItem, error) {
	f.lastAgent, f.lastCategory = agentID, category
	return f.item, f.nextErr
}

func (f *fakeDispatcher) Claim(_ context.Context, kind dispatch.WorkKind, ref, agentID string) (bool, error) {
	f.claims = append(f.claims, dispatchCall{kind, ref, agentID})
	return f.claimOK, f.claimErr
}

func (f *fakeDispatcher) Release(_ context.Context, kind dispatch.WorkKind, ref, agentID string) error {
	f.releases = append(f.releases, dispatchCall{kind, ref, agentID})
	return f.releaseErr
}

func (f *fakeDispatcher) Complete(_ context.Context, req dispatch.CompleteRequest) error {
	f.completions = append(f.completions, req)
	return f.completeErr
}

func (f *fakeDispatcher) EnqueueInbound(_ context.Context, in dispatch.NewInbound) (*model.InboundCall, error) {
	f.enqueued = append(f.enqueued, in)
	return &model.InboundCall{
		ID:           "in-new",
		CallID:       in.CallID,
		CallerNumber: in.CallerNumber,
		Status:       model.InboundWaiting,
	}, nil
}

func (f *fakeDispatcher) ConnectInbound(_ context.Context, id, agentID string) (bool, error) {
	f.connects = append(f.connects, dispatchCall{kind: dispatch.WorkInbound, ref: id, agent: agentID})
	return f.connectOK, nil
}

func (f *fakeDispatcher) ScheduleCallback(_ context.Context, in dispatch.NewCallback) (*model.Callback, error) {
	f.callbacks = append(f.callbacks, in)
	return &model.Callback{
		ID:           "cb-new",
		PersonID:     in.PersonID,
		ScheduledFor: in.ScheduledFor,
		Status:       model.CallbackPending,
		MaxRetries:   in.MaxRetries,
	}, nil
}

type fakeQueues struct {
	entries []queue.Entry
	err     error

	lastLimit  int
	lastOffset int
}

func (f *fakeQueues) Entries(_ context.Context, _ model.Category, limit, offset int) ([]queue.Entry, error) {
	f.lastLimit, f.lastOffset = limit, offset
	return f.entries, f.err
}

type fakeConversions struct {
	records []model.ConversionRecord
	err     error
	filter  ledger.Filter
}

func (f *fakeConversions) Conversions(_ context.Context, fl ledger.Filter) ([]model.ConversionRecord, error) {
	f.filter = fl
	return f.records, f.err
}

type fakeLeaks struct {
	report  leaks.Report
	pending int64
	err     error
	window  time.Duration
}

func (f *fakeLeaks) Scan(_ context.Context, window time.Duration) (leaks.Report, error) {
	f.window = window
	return f.report, f.err
}

func (f *fakeLeaks) Pending(_ context.Context, _ time.Duration) (int64, error) {
	return f.pending, f.err
}

type fakeMonitor struct {
	running bool
}

func (f *fakeMonitor) Start(context.Context) bool {
	if f.running {
		return false
	}
	f.running = true
	return true
}

func (f *fakeMonitor) Stop() bool {
	if !f.running {
		return false
	}
	f.running = false
	return true
}

func (f *fakeMonitor) Running() bool { return f.running }

type heartbeatCall struct {
	id     string
	status string
}

type fakePresence struct {
	agents     []agents.Agent
	err        error
	heartbeats []heartbeatCall
}

func (f *fakePresence) Heartbeat(_ context.Context, agentID, status string) error {
	f.heartbeats = append(f.heartbeats, heartbeatCall{agentID, status})
	return f.err
}

func (f *fakePresence) List(context.Context) ([]agents.Agent, error) { return f.agents, f.err }

type fakeRunLister struct {
	entries []runlog.Entry
	err     error
	job     string
	limit   int
}

func (f *fakeRunLister) RecentRuns(_ context.Context, job string, limit int) ([]runlog.Entry, error) {
	f.job, f.limit = job, limit
	return f.entries, f.err
}

type fakeHealth struct {
	snap  *monitoring.Snapshot
	err   error
	hours int
}

func (f *fakeHealth) Collect(_ context.Context, lookbackHours int) (*monitoring.Snapshot, error) {
	f.hours = lookbackHours
	return f.snap, f.err
}

func newTestServer(deps Deps) *Server {
	return New(config.ServerConfig{Port: 8080}, deps)
}

func doRequest(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNext_ReturnsClaimedWork(t *testing.T) {
	d := &fakeDispatcher{item: &dispatch.WorkItem{
		Kind:       dispatch.WorkCallback,
		Ref:        "cb-1",
		PersonID:   "p-1",
		AssignedTo: "agent-1",
	}}
	s := newTestServer(Deps{Dispatch: d})

	rec := doRequest(t, s.Handler(), http.MethodGet, "/api/v1/next?agent=agent-1&category=unsigned", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var got dispatch.WorkItem
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, dispatch.WorkCallback, got.Kind)
	assert.Equal(t, "cb-1", got.Ref)
	assert.Equal(t, "agent-1", d.lastAgent)
	assert.Equal(t, model.CategoryUnsigned, d.lastCategory)
}

func TestNext_EmptyQueueIsNoContent(t *testing.T) {
	s := newTestServer(Deps{Dispatch: &fakeDispatcher{}})

	rec := doRequest(t, s.Handler(), http.MethodGet, "/api/v1/next?agent=agent-1", nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestNext_RequiresAgent(t *testing.T) {
	s := newTestServer(Deps{Dispatch: &fakeDispatcher{}})

	rec := doRequest(t, s.Handler(), http.MethodGet, "/api/v1/next", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNext_RejectsUnknownCategory(t *testing.T) {
	s := newTestServer(Deps{Dispatch: &fakeDispatcher{}})

	rec := doRequest(t, s.Handler(), http.MethodGet, "/api/v1/next?agent=agent-1&category=vip", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClaim_WonRace(t *testing.T) {
	d := &fakeDispatcher{claimOK: true}
	s := newTestServer(Deps{Dispatch: d})

	rec := doRequest(t, s.Handler(), http.MethodPost, "/api/v1/claim",
		map[string]string{"kind": "lead", "ref": "p-7", "agent_id": "agent-2"})

	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, true, got["claimed"])
	require.Len(t, d.claims, 1)
	assert.Equal(t, dispatchCall{dispatch.WorkLead, "p-7", "agent-2"}, d.claims[0])
}

func TestClaim_LostRaceIsConflict(t *testing.T) {
	s := newTestServer(Deps{Dispatch: &fakeDispatcher{claimOK: false}})

	rec := doRequest(t, s.Handler(), http.MethodPost, "/api/v1/claim",
		map[string]string{"kind": "callback", "ref": "cb-1", "agent_id": "agent-2"})

	require.Equal(t, http.StatusConflict, rec.Code)
	var got map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, false, got["claimed"])
}

func TestClaim_RejectsUnknownKind(t *testing.T) {
	d := &fakeDispatcher{}
	s := newTestServer(Deps{Dispatch: d})

	rec := doRequest(t, s.Handler(), http.MethodPost, "/api/v1/claim",
		map[string]string{"kind": "ticket", "ref": "t-1", "agent_id": "agent-2"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, d.claims)
}

func TestRelease_ReturnsNoContent(t *testing.T) {
	d := &fakeDispatcher{}
	s := newTestServer(Deps{Dispatch: d})

	rec := doRequest(t, s.Handler(), http.MethodPost, "/api/v1/release",
		map[string]string{"kind": "inbound", "ref": "in-1", "agent_id": "agent-2"})

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, d.releases, 1)
	assert.Equal(t, dispatchCall{dispatch.WorkInbound, "in-1", "agent-2"}, d.releases[0])
}

func TestComplete_RecordsOutcome(t *testing.T) {
	d := &fakeDispatcher{}
	s := newTestServer(Deps{Dispatch: d})

	rec := doRequest(t, s.Handler(), http.MethodPost, "/api/v1/complete", map[string]any{
		"kind":         "lead",
		"ref":          "p-9",
		"agent_id":     "agent-1",
		"outcome":      "answered",
		"talk_seconds": 180,
	})

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, d.completions, 1)
	assert.Equal(t, model.OutcomeAnswered, d.completions[0].Outcome)
	assert.Equal(t, 180, d.completions[0].TalkSeconds)
}

func TestComplete_RescheduleNeedsTime(t *testing.T) {
	d := &fakeDispatcher{}
	s := newTestServer(Deps{Dispatch: d})

	rec := doRequest(t, s.Handler(), http.MethodPost, "/api/v1/complete", map[string]any{
		"kind":     "callback",
		"ref":      "cb-1",
		"agent_id": "agent-1",
		"outcome":  "reschedule",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, d.completions)
}

func TestComplete_UnknownRefIsNotFound(t *testing.T) {
	d := &fakeDispatcher{completeErr: errors.New("callback not found: cb-404")}
	s := newTestServer(Deps{Dispatch: d})

	rec := doRequest(t, s.Handler(), http.MethodPost, "/api/v1/complete", map[string]any{
		"kind":     "callback",
		"ref":      "cb-404",
		"agent_id": "agent-1",
		"outcome":  "answered",
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScheduleCallback_Created(t *testing.T) {
	d := &fakeDispatcher{}
	s := newTestServer(Deps{Dispatch: d})

	rec := doRequest(t, s.Handler(), http.MethodPost, "/api/v1/callbacks", map[string]any{
		"person_id":     "p-3",
		"category":      "unsigned",
		"scheduled_for": "2026-08-24T15:00:00Z",
		"max_retries":   2,
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	var got model.Callback
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "cb-new", got.ID)
	require.Len(t, d.callbacks, 1)
	assert.Equal(t, "p-3", d.callbacks[0].PersonID)
	assert.Equal(t, 2, d.callbacks[0].MaxRetries)
}

func TestScheduleCallback_RequiresSchedule(t *testing.T) {
	d := &fakeDispatcher{}
	s := newTestServer(Deps{Dispatch: d})

	rec := doRequest(t, s.Handler(), http.MethodPost, "/api/v1/callbacks",
		map[string]any{"person_id": "p-3"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, d.callbacks)
}

func TestEnqueueInbound_Created(t *testing.T) {
	d := &fakeDispatcher{}
	s := newTestServer(Deps{Dispatch: d})

	rec := doRequest(t, s.Handler(), http.MethodPost, "/api/v1/inbound", map[string]any{
		"call_id":       "pbx-123",
		"caller_number": "+15550100",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	var got model.InboundCall
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "pbx-123", got.CallID)
	assert.Equal(t, model.InboundWaiting, got.Status)
}

func TestEnqueueInbound_RequiresCallerNumber(t *testing.T) {
	d := &fakeDispatcher{}
	s := newTestServer(Deps{Dispatch: d})

	rec := doRequest(t, s.Handler(), http.MethodPost, "/api/v1/inbound",
		map[string]any{"call_id": "pbx-123"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, d.enqueued)
}

func TestConnectInbound_Connected(t *testing.T) {
	d := &fakeDispatcher{connectOK: true}
	s := newTestServer(Deps{Dispatch: d})

	rec := doRequest(t, s.Handler(), http.MethodPost, "/api/v1/inbound/in-1/connect",
		map[string]string{"agent_id": "agent-4"})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, d.connects, 1)
	assert.Equal(t, "in-1", d.connects[0].ref)
	assert.Equal(t, "agent-4", d.connects[0].agent)
}

func TestConnectInbound_LostAssignmentIsConflict(t *testing.T) {
	s := newTestServer(Deps{Dispatch: &fakeDispatcher{connectOK: false}})

	rec := doRequest(t, s.Handler(), http.MethodPost, "/api/v1/inbound/in-1/connect",
		map[string]string{"agent_id": "agent-4"})

	require.Equal(t, http.StatusConflict, rec.Code)
	var got map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, false, got["connected"])
}

func TestQueuePage_ReturnsEntries(t *testing.T) {
	q := &fakeQueues{entries: []queue.Entry{
		{Position: 1, PersonID: "p-1", Category: model.CategoryUnsigned, Score: 10},
		{Position: 2, PersonID: "p-2", Category: model.CategoryUnsigned, Score: 35},
	}}
	s := newTestServer(Deps{Queues: q})

	rec := doRequest(t, s.Handler(), http.MethodGet, "/api/v1/queue/unsigned?limit=10&offset=5", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Category model.Category `json:"category"`
		Count    int            `json:"count"`
		Entries  []queue.Entry  `json:"entries"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, model.CategoryUnsigned, got.Category)
	assert.Equal(t, 2, got.Count)
	require.Len(t, got.Entries, 2)
	assert.Equal(t, "p-1", got.Entries[0].PersonID)
	assert.Equal(t, 10, q.lastLimit)
	assert.Equal(t, 5, q.lastOffset)
}

func TestQueuePage_EmptyIsArrayNotNull(t *testing.T) {
	s := newTestServer(Deps{Queues: &fakeQueues{}})

	rec := doRequest(t, s.Handler(), http.MethodGet, "/api/v1/queue/unsigned", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"entries":[]`)
}

func TestQueuePage_RejectsUnknownCategory(t *testing.T) {
	s := newTestServer(Deps{Queues: &fakeQueues{}})

	rec := doRequest(t, s.Handler(), http.MethodGet, "/api/v1/queue/vip", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStats_ReturnsSnapshot(t *testing.T) {
	h := &fakeHealth{snap: &monitoring.Snapshot{RunsTotal: 4, QueueDepth: 65}}
	s := newTestServer(Deps{Health: h})

	rec := doRequest(t, s.Handler(), http.MethodGet, "/api/v1/stats?hours=6", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var got monitoring.Snapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, 4, got.RunsTotal)
	assert.Equal(t, int64(65), got.QueueDepth)
	assert.Equal(t, 6, h.hours)
}

func TestConversions_BuildsFilter(t *testing.T) {
	c := &fakeConversions{records: []model.ConversionRecord{
		{ID: "cv-1", PersonID: "p-1", Type: model.ConversionSignatureObtained},
	}}
	s := newTestServer(Deps{Conversions: c})

	rec := doRequest(t, s.Handler(), http.MethodGet,
		"/api/v1/conversions?person=p-1&type=signature_obtained&recovered=true&limit=10&since=2026-08-01T00:00:00Z", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "p-1", c.filter.PersonID)
	assert.Equal(t, model.ConversionSignatureObtained, c.filter.Type)
	require.NotNil(t, c.filter.Recovered)
	assert.True(t, *c.filter.Recovered)
	assert.Equal(t, 10, c.filter.Limit)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), c.filter.Since)
}

func TestConversions_RejectsUnknownType(t *testing.T) {
	s := newTestServer(Deps{Conversions: &fakeConversions{}})

	rec := doRequest(t, s.Handler(), http.MethodGet, "/api/v1/conversions?type=upsell", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRuns_DefaultsLimit(t *testing.T) {
	rl := &fakeRunLister{entries: []runlog.Entry{
		{ID: 1, Job: "sweep", Status: runlog.StatusComplete},
		{ID: 2, Job: "sweep", Status: runlog.StatusFailed},
	}}
	s := newTestServer(Deps{Runs: rl})

	rec := doRequest(t, s.Handler(), http.MethodGet, "/api/v1/runs?job=sweep", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Count int            `json:"count"`
		Runs  []runlog.Entry `json:"runs"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, 2, got.Count)
	assert.Equal(t, "sweep", rl.job)
	assert.Equal(t, 50, rl.limit)
}

func TestAgents_ListsPresence(t *testing.T) {
	p := &fakePresence{agents: []agents.Agent{
		{AgentID: "agent-1", Status: agents.StatusAvailable},
		{AgentID: "agent-2", Status: agents.StatusOffline},
	}}
	s := newTestServer(Deps{Agents: p})

	rec := doRequest(t, s.Handler(), http.MethodGet, "/api/v1/agents", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Count  int            `json:"count"`
		Agents []agents.Agent `json:"agents"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, 2, got.Count)
}

func TestHeartbeat_Upserts(t *testing.T) {
	p := &fakePresence{}
	s := newTestServer(Deps{Agents: p})

	rec := doRequest(t, s.Handler(), http.MethodPost, "/api/v1/agents/agent-7/heartbeat",
		map[string]string{"status": "available"})

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, p.heartbeats, 1)
	assert.Equal(t, heartbeatCall{"agent-7", "available"}, p.heartbeats[0])
}

func TestHeartbeat_RejectsUnknownStatus(t *testing.T) {
	p := &fakePresence{}
	s := newTestServer(Deps{Agents: p})

	rec := doRequest(t, s.Handler(), http.MethodPost, "/api/v1/agents/agent-7/heartbeat",
		map[string]string{"status": "lunch"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, p.heartbeats)
}

func TestLeakScan_DefaultsWindow(t *testing.T) {
	l := &fakeLeaks{report: leaks.Report{Potential: 3, Recovered: 2, Unrecovered: 1}}
	s := newTestServer(Deps{Leaks: l})

	rec := doRequest(t, s.Handler(), http.MethodPost, "/api/v1/leaks/scan", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 24*time.Hour, l.window)
	var got leaks.Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, 3, got.Potential)
}

func TestLeakScan_HonorsRequestedWindow(t *testing.T) {
	l := &fakeLeaks{}
	s := newTestServer(Deps{Leaks: l})

	rec := doRequest(t, s.Handler(), http.MethodPost, "/api/v1/leaks/scan",
		map[string]int{"window_hours": 48})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 48*time.Hour, l.window)
}

func TestLeakStatus_ReportsPending(t *testing.T) {
	s := newTestServer(Deps{Leaks: &fakeLeaks{pending: 3}})

	rec := doRequest(t, s.Handler(), http.MethodGet, "/api/v1/leaks/status", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, false, got["running"])
	assert.Equal(t, float64(3), got["pending"])
	assert.Equal(t, float64(24), got["window_hours"])
}

func TestMonitorLifecycle(t *testing.T) {
	m := &fakeMonitor{}
	s := newTestServer(Deps{Monitor: m, Leaks: &fakeLeaks{}})
	h := s.Handler()

	rec := doRequest(t, h, http.MethodPost, "/api/v1/leaks/monitor/start", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, m.running)

	rec = doRequest(t, h, http.MethodPost, "/api/v1/leaks/monitor/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/api/v1/leaks/monitor/stop", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, m.running)

	rec = doRequest(t, h, http.MethodPost, "/api/v1/leaks/monitor/stop", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMonitorStart_NotConfigured(t *testing.T) {
	s := newTestServer(Deps{})

	rec := doRequest(t, s.Handler(), http.MethodPost, "/api/v1/leaks/monitor/start", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(Deps{})

	rec := doRequest(t, s.Handler(), http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(Deps{})

	rec := doRequest(t, s.Handler(), http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dialer_queue_inbound_waiting")
}
