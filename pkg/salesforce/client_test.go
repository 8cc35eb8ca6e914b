package salesforce

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gosf "github.com/k-capehart/go-salesforce/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestSFClient creates an sfClient backed by an httptest server.
func newTestSFClient(t *testing.T, handler http.Handler, opts ...ClientOption) (Client, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)

	sf, err := gosf.Init(gosf.Creds{
		AccessToken: "test-token",
		Domain:      ts.URL,
	},
		gosf.WithValidateAuthentication(false),
		gosf.WithRoundTripper(http.DefaultTransport),
	)
	require.NoError(t, err)
	require.NotNil(t, sf)

	return NewClient(sf, opts...), ts
}

func TestSFClient_Query(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/query")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"totalSize": 1,
			"done":      true,
			"records": []map[string]any{
				{
					"attributes":       map[string]any{"type": "Contact"},
					"Id":               "003xx",
					"Pending_Items__c": 3,
				},
			},
		})
	})

	c, ts := newTestSFClient(t, handler)
	defer ts.Close()

	var records []EligibleRecord
	err := c.Query(context.Background(), "SELECT Id FROM Contact", &records)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "003xx", records[0].ID)
	assert.Equal(t, float64(3), records[0].PendingItems)
}

func TestSFClient_RateLimitHonorsContext(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"totalSize": 0, "done": true, "records": []any{}})
	})

	c, ts := newTestSFClient(t, handler, WithRateLimit(0.001))
	defer ts.Close()

	var out []EligibleRecord
	require.NoError(t, c.Query(context.Background(), "SELECT Id FROM Contact", &out))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	err := c.Query(ctx, "SELECT Id FROM Contact", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}
