package discovery

import (
	"context"
	"time"

	"github.com/sells-group/dialer-engine/internal/ledger"
	"github.com/sells-group/dialer-engine/internal/model"
	"github.com/sells-group/dialer-engine/internal/runlog"
	"github.com/sells-group/dialer-engine/internal/store"
)

func catPtr(c model.Category) *model.Category { return &c }

type mockStore struct {
	leads map[string]model.LeadRecord

	active   []model.LeadRecord
	terminal []model.LeadRecord

	inserted    []store.NewLead
	insertedCat model.Category
	touched     []string
	touchShort  bool
	changed     map[string]model.Category
	deactivated []string

	agingDay    time.Time
	agingStep   int
	agingResult store.AgingResult
	agingErr    error
}

func newMockStore() *mockStore {
	return &mockStore{
		leads:   make(map[string]model.LeadRecord),
		changed: make(map[string]model.Category),
	}
}

func (m *mockStore) LeadsByID(_ context.Context, ids []string) (map[string]model.LeadRecord, error) {
	out := make(map[string]model.LeadRecord)
	for _, id := range ids {
		if rec, ok := m.leads[id]; ok {
			out[id] = rec
		}
	}
	return out, nil
}

func (m *mockStore) ActiveLeads(_ context.Context, afterPersonID string, limit int) ([]model.LeadRecord, error) {
	var out []model.LeadRecord
	for _, rec := range m.active {
		if rec.PersonID <= afterPersonID {
			continue
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockStore) TerminalLeads(_ context.Context, _ int) ([]model.LeadRecord, error) {
	out := m.terminal
	m.terminal = nil
	return out, nil
}

func (m *mockStore) InsertLeads(_ context.Context, category model.Category, people []store.NewLead) (int64, error) {
	m.insertedCat = category
	m.inserted = append(m.inserted, people...)
	return int64(len(people)), nil
}

func (m *mockStore) TouchChecked(_ context.Context, ids []string) (int64, error) {
	m.touched = append(m.touched, ids...)
	n := int64(len(ids))
	if m.touchShort && n > 0 {
		n--
	}
	return n, nil
}

func (m *mockStore) ChangeCategory(_ context.Context, personID string, category model.Category, _ string) error {
	m.changed[personID] = category
	return nil
}

func (m *mockStore) Deactivate(_ context.Context, personID string, _ string) error {
	m.deactivated = append(m.deactivated, personID)
	return nil
}

func (m *mockStore) ApplyAging(_ context.Context, day time.Time, step int) (store.AgingResult, error) {
	m.agingDay = day
	m.agingStep = step
	if m.agingErr != nil {
		return store.AgingResult{}, m.agingErr
	}
	return m.agingResult, nil
}

// Unused store methods — satisfy the interface.
func (m *mockStore) Lead(context.Context, string) (*model.LeadRecord, error) { return nil, nil }
func (m *mockStore) Park(context.Context, string, string) error              { return nil }
func (m *mockStore) EventsSince(context.Context, time.Time, []model.LeadEventType) ([]model.LeadEvent, error) {
	return nil, nil
}
func (m *mockStore) Ping(context.Context) error    { return nil }
func (m *mockStore) Migrate(context.Context) error { return nil }
func (m *mockStore) Close() error                  { return nil }

type listCall struct {
	category model.Category
	after    string
	limit    int
}

type fakeSource struct {
	byCategory map[model.Category][]Person
	standing   map[string]Person

	listCalls    []listCall
	recheckCalls [][]string
	listErr      error
	recheckErr   error
}

func (f *fakeSource) ListEligible(_ context.Context, category model.Category, afterID string, limit int) ([]Person, error) {
	f.listCalls = append(f.listCalls, listCall{category: category, after: afterID, limit: limit})
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []Person
	for _, p := range f.byCategory[category] {
		if p.ID <= afterID {
			continue
		}
		out = append(out, p)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeSource) Recheck(_ context.Context, ids []string) (map[string]Person, error) {
	f.recheckCalls = append(f.recheckCalls, ids)
	if f.recheckErr != nil {
		return nil, f.recheckErr
	}
	out := make(map[string]Person)
	for _, id := range ids {
		if p, ok := f.standing[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type fakeRuns struct {
	cursor        string
	started       []string
	progress      []string
	completed     []runlog.Result
	suspendCalled bool
	suspended     string
	failed        string
}

func (f *fakeRuns) Start(_ context.Context, job string) (int64, error) {
	f.started = append(f.started, job)
	return int64(len(f.started)), nil
}

func (f *fakeRuns) Progress(_ context.Context, _ int64, _ runlog.Result, cursor string) error {
	f.progress = append(f.progress, cursor)
	return nil
}

func (f *fakeRuns) Complete(_ context.Context, _ int64, res runlog.Result) error {
	f.completed = append(f.completed, res)
	return nil
}

func (f *fakeRuns) Suspend(_ context.Context, _ int64, _ runlog.Result, cursor string) error {
	f.suspendCalled = true
	f.suspended = cursor
	return nil
}

func (f *fakeRuns) Fail(_ context.Context, _ int64, errMsg string) error {
	f.failed = errMsg
	return nil
}

func (f *fakeRuns) ResumeCursor(_ context.Context, _ string) (string, error) {
	return f.cursor, nil
}

type fakeRecorder struct {
	inputs  []ledger.ConversionInput
	written bool
	err     error
}

func (f *fakeRecorder) Record(_ context.Context, in ledger.ConversionInput) (bool, *model.ConversionRecord, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return false, nil, f.err
	}
	if !f.written {
		return false, nil, nil
	}
	return true, &model.ConversionRecord{ID: "rec-1", PersonID: in.PersonID}, nil
}
