package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// EligibleRecord is the slim Contact projection the engine reads. Pending
// items feed the human-readable queue reason.
type EligibleRecord struct {
	ID           string  `json:"Id" salesforce:"Id"`
	PendingItems float64 `json:"Pending_Items__c" salesforce:"Pending_Items__c"`
}

// eligibleFields are the SOQL fields selected for eligibility queries.
var eligibleFields = []string{"Id", "Pending_Items__c"}

// EligibleAfter queries eligible Contacts matching the category clause with
// Id strictly greater than afterID, ordered by Id. The stable sort plus the
// afterID cursor make discovery scans resumable.
func EligibleAfter(ctx context.Context, c Client, clause, afterID string, limit int) ([]EligibleRecord, error) {
	soql := fmt.Sprintf(
		"SELECT %s FROM Contact WHERE (%s) AND Id > '%s' ORDER BY Id LIMIT %d",
		strings.Join(eligibleFields, ", "),
		clause,
		escapeSoql(afterID),
		limit,
	)

	var records []EligibleRecord
	if err := c.Query(ctx, soql, &records); err != nil {
		return nil, eris.Wrap(err, "sf: eligible contacts")
	}
	return records, nil
}

// EligibleByID queries which of the given Contacts still match the category
// clause. Absent IDs are no longer eligible for that category.
func EligibleByID(ctx context.Context, c Client, clause string, ids []string) ([]EligibleRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = fmt.Sprintf("'%s'", escapeSoql(id))
	}
	soql := fmt.Sprintf(
		"SELECT %s FROM Contact WHERE (%s) AND Id IN (%s)",
		strings.Join(eligibleFields, ", "),
		clause,
		strings.Join(quoted, ", "),
	)

	var records []EligibleRecord
	if err := c.Query(ctx, soql, &records); err != nil {
		return nil, eris.Wrap(err, "sf: recheck contacts")
	}
	return records, nil
}

// escapeSoql escapes single quotes in SOQL string literals to prevent injection.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
