package leaks

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/dialer-engine/internal/config"
)

// Monitor runs periodic leak scans in the background.
type Monitor struct {
	scanner *Scanner
	cfg     config.LeaksConfig

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a background leak monitor.
func NewMonitor(scanner *Scanner, cfg config.LeaksConfig) *Monitor {
	return &Monitor{scanner: scanner, cfg: cfg}
}

// Run starts the periodic scan loop. It blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	interval := time.Duration(m.cfg.ScanIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	window := time.Duration(m.cfg.ScanWindowHours) * time.Hour
	if window <= 0 {
		window = 24 * time.Hour
	}

	log := zap.L().With(zap.String("component", "leaks.monitor"))
	log.Info("starting leak monitor",
		zap.Duration("interval", interval),
		zap.Duration("window", window),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("leak monitor stopped")
			return
		case <-ticker.C:
			if _, err := m.scanner.Scan(ctx, window); err != nil {
				log.Error("leak scan failed", zap.Error(err))
			}
		}
	}
}

// Start launches the scan loop in the background. Returns false when the
// monitor is already running.
func (m *Monitor) Start(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running() {
		return false
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	go func() {
		defer close(done)
		m.Run(runCtx)
	}()
	return true
}

// Stop cancels a running scan loop. Returns false when nothing was running
// or a stop is already in flight, even if the loop has not drained yet.
func (m *Monitor) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running() || m.cancel == nil {
		return false
	}
	m.cancel()
	m.cancel = nil
	return true
}

// Running reports whether the scan loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running()
}

// running must be called with mu held. It also clears state left behind
// when the loop exited with its parent context.
func (m *Monitor) running() bool {
	if m.done == nil {
		return false
	}
	select {
	case <-m.done:
		if m.cancel != nil {
			m.cancel()
			m.cancel = nil
		}
		m.done = nil
		return false
	default:
		return true
	}
}
