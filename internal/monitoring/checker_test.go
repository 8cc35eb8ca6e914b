package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/dialer-engine/internal/config"
)

func newTestChecker(t *testing.T, cfg config.MonitoringConfig) *Checker {
	t.Helper()
	collector := NewCollector(newMockPool(t), &fakeRuns{}, &fakeQueues{}, &fakeLeaks{}, &fakeLedger{}, &fakeAgents{})
	return NewChecker(collector, NewAlerter(cfg), cfg)
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	checker := newTestChecker(t, config.MonitoringConfig{
		CheckIntervalSecs:   1,
		LookbackWindowHours: 24,
	})

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Run returned.
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	// Zero interval should default to 5 minutes.
	checker := newTestChecker(t, config.MonitoringConfig{CheckIntervalSecs: 0})
	assert.NotNil(t, checker)

	// Start and immediately cancel to verify it doesn't panic.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}
