// Package store persists lead records and their lifecycle history. It owns
// the engine schema; every other subsystem store shares the same database.
package store

import (
	"context"
	"time"

	"github.com/sells-group/dialer-engine/internal/model"
)

// NewLead is the minimal input for creating a lead during discovery.
type NewLead struct {
	PersonID string
	Reason   string
}

// AgingResult reports one daily aging pass. Eligible is counted immediately
// before the update; any mismatch with Aged means concurrent interference
// and the pass is rolled back.
type AgingResult struct {
	Eligible int64 `json:"eligible"`
	Aged     int64 `json:"aged"`
}

// Store defines the persistence interface for lead records.
type Store interface {
	// Lookup
	Lead(ctx context.Context, personID string) (*model.LeadRecord, error)
	LeadsByID(ctx context.Context, ids []string) (map[string]model.LeadRecord, error)
	ActiveLeads(ctx context.Context, afterPersonID string, limit int) ([]model.LeadRecord, error)
	TerminalLeads(ctx context.Context, limit int) ([]model.LeadRecord, error)

	// Discovery lifecycle
	InsertLeads(ctx context.Context, category model.Category, people []NewLead) (int64, error)
	TouchChecked(ctx context.Context, ids []string) (int64, error)
	ChangeCategory(ctx context.Context, personID string, category model.Category, reason string) error
	Deactivate(ctx context.Context, personID string, detail string) error
	Park(ctx context.Context, personID string, reason string) error

	// Aging
	ApplyAging(ctx context.Context, day time.Time, step int) (AgingResult, error)

	// History
	EventsSince(ctx context.Context, since time.Time, types []model.LeadEventType) ([]model.LeadEvent, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
