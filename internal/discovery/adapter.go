// Package discovery reconciles the lead store against the external
// eligibility source: it creates leads for newly eligible people, resets
// category movers back to maximum urgency, ages active leads daily, and
// converts leads the source no longer reports.
package discovery

import (
	"context"
	"fmt"

	"github.com/sells-group/dialer-engine/internal/model"
)

// Person is one eligible person as the source currently sees them.
type Person struct {
	ID       string
	Category model.Category
	Reason   string
}

// EligibilitySource is the read-only view of who qualifies right now. The
// engine never writes back to the source.
type EligibilitySource interface {
	// ListEligible returns eligible people in category with ID strictly
	// after afterID, sorted by ID ascending, at most limit.
	ListEligible(ctx context.Context, category model.Category, afterID string, limit int) ([]Person, error)

	// Recheck reports the current standing of the given people. IDs missing
	// from the result are no longer eligible for any category.
	Recheck(ctx context.Context, ids []string) (map[string]Person, error)
}

// reasonFor renders the queue-facing reason line from the source snapshot.
func reasonFor(category model.Category, pending int) string {
	if pending > 0 {
		return fmt.Sprintf("%d pending items", pending)
	}
	switch category {
	case model.CategoryUnsigned:
		return "no signature on file"
	case model.CategoryOutstandingRequirements:
		return "requirements outstanding"
	default:
		return string(category)
	}
}
