package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRun(t *testing.T) {
	before := testutil.ToFloat64(RunsTotal.WithLabelValues("discovery", "completed"))
	ObserveRun("discovery", "completed", 1.5)
	after := testutil.ToFloat64(RunsTotal.WithLabelValues("discovery", "completed"))
	assert.Equal(t, before+1, after)
}

func TestRegistryGathers(t *testing.T) {
	ClaimsTotal.WithLabelValues("won").Inc()
	QueueDepth.WithLabelValues("unsigned").Set(12)

	families, err := Registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["dialer_dispatch_claims_total"])
	assert.True(t, names["dialer_queue_depth"])
}
