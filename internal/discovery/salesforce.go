package discovery

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dialer-engine/internal/config"
	"github.com/sells-group/dialer-engine/internal/model"
	"github.com/sells-group/dialer-engine/internal/policy"
	"github.com/sells-group/dialer-engine/internal/resilience"
	"github.com/sells-group/dialer-engine/pkg/salesforce"
)

// recheckBatch bounds the IN list of a single recheck query.
const recheckBatch = 200

// SalesforceSource reads eligibility from Salesforce using the per-category
// SOQL clauses configured in the policy file. Queries retry on transient
// failures behind a shared breaker, so a CRM outage fails runs fast and
// leaves their cursors resumable.
type SalesforceSource struct {
	client  salesforce.Client
	policy  *policy.Policy
	retry   resilience.Policy
	breaker *resilience.Breaker
}

// NewSalesforceSource returns a source backed by the given client.
func NewSalesforceSource(client salesforce.Client, pol *policy.Policy, retry config.RetryConfig) *SalesforceSource {
	return &SalesforceSource{
		client:  client,
		policy:  pol,
		retry:   resilience.Logged(resilience.FromConfig(retry), "salesforce", "soql"),
		breaker: resilience.NewBreaker(retry.BreakerFailures, time.Duration(retry.BreakerResetSecs)*time.Second),
	}
}

func (s *SalesforceSource) clause(category model.Category) (string, error) {
	clause := s.policy.Eligibility[string(category)]
	if clause == "" {
		return "", eris.Errorf("discovery: no eligibility clause for category %s", category)
	}
	return clause, nil
}

// ListEligible implements EligibilitySource against Salesforce.
func (s *SalesforceSource) ListEligible(ctx context.Context, category model.Category, afterID string, limit int) ([]Person, error) {
	clause, err := s.clause(category)
	if err != nil {
		return nil, err
	}

	records, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) ([]salesforce.EligibleRecord, error) {
		var recs []salesforce.EligibleRecord
		err := s.breaker.Do(ctx, func(ctx context.Context) error {
			var qErr error
			recs, qErr = salesforce.EligibleAfter(ctx, s.client, clause, afterID, limit)
			return qErr
		})
		return recs, err
	})
	if err != nil {
		return nil, err
	}

	people := make([]Person, len(records))
	for i, rec := range records {
		people[i] = Person{
			ID:       rec.ID,
			Category: category,
			Reason:   reasonFor(category, int(rec.PendingItems)),
		}
	}
	return people, nil
}

// Recheck implements EligibilitySource against Salesforce. Categories are
// tried in discovery order; the first clause a person matches wins.
func (s *SalesforceSource) Recheck(ctx context.Context, ids []string) (map[string]Person, error) {
	out := make(map[string]Person, len(ids))
	for _, category := range model.Categories {
		clause, err := s.clause(category)
		if err != nil {
			return nil, err
		}

		var remaining []string
		for _, id := range ids {
			if _, done := out[id]; !done {
				remaining = append(remaining, id)
			}
		}
		if len(remaining) == 0 {
			break
		}

		for start := 0; start < len(remaining); start += recheckBatch {
			end := min(start+recheckBatch, len(remaining))
			batch := remaining[start:end]

			records, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) ([]salesforce.EligibleRecord, error) {
				var recs []salesforce.EligibleRecord
				err := s.breaker.Do(ctx, func(ctx context.Context) error {
					var qErr error
					recs, qErr = salesforce.EligibleByID(ctx, s.client, clause, batch)
					return qErr
				})
				return recs, err
			})
			if err != nil {
				return nil, err
			}

			for _, rec := range records {
				out[rec.ID] = Person{
					ID:       rec.ID,
					Category: category,
					Reason:   reasonFor(category, int(rec.PendingItems)),
				}
			}
		}
	}
	return out, nil
}
