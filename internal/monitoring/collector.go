package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dialer-engine/internal/db"
	"github.com/sells-group/dialer-engine/internal/metrics"
	"github.com/sells-group/dialer-engine/internal/queue"
	"github.com/sells-group/dialer-engine/internal/runlog"
)

// runSample bounds how many recent runs one collection reads. Covers a day
// of scheduled jobs with room to spare.
const runSample = 500

// Snapshot holds a point-in-time view of engine health.
type Snapshot struct {
	// Job runs started inside the lookback window.
	RunsTotal    int            `json:"runs_total"`
	RunsComplete int            `json:"runs_complete"`
	RunsPartial  int            `json:"runs_partial"`
	RunsFailed   int            `json:"runs_failed"`
	RunsRunning  int            `json:"runs_running"`
	RunFailRate  float64        `json:"run_fail_rate"`
	FailedJobs   map[string]int `json:"failed_jobs,omitempty"`

	// Live queue state.
	Queues           []queue.Stats `json:"queues"`
	QueueDepth       int64         `json:"queue_depth"`
	InboundWaiting   int64         `json:"inbound_waiting"`
	CallbacksPending int64         `json:"callbacks_pending"`
	StaleLeases      int64         `json:"stale_leases"`

	AgentsAvailable int   `json:"agents_available"`
	PendingLeaks    int64 `json:"pending_leaks"`

	// Ledger writes inside the window.
	Conversions          int64 `json:"conversions"`
	RecoveredConversions int64 `json:"recovered_conversions"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister reads recent job runs. Satisfied by runlog.Log.
type RunLister interface {
	RecentRuns(ctx context.Context, job string, limit int) ([]runlog.Entry, error)
}

// QueueReader reads per-category queue stats. Satisfied by queue.Service.
type QueueReader interface {
	Stats(ctx context.Context) ([]queue.Stats, error)
}

// LeakCounter counts unreconciled exits. Satisfied by leaks.Scanner.
type LeakCounter interface {
	Pending(ctx context.Context, window time.Duration) (int64, error)
}

// ConversionCounter counts ledger writes. Satisfied by ledger.Ledger.
type ConversionCounter interface {
	CountSince(ctx context.Context, since time.Time) (total, recovered int64, err error)
}

// AgentCounter reports available agents. Satisfied by agents.Registry.
type AgentCounter interface {
	AvailableCount(ctx context.Context) (int, error)
}

// Collector gathers a health snapshot across the engine's stores and
// publishes the live gauges.
type Collector struct {
	pool   db.Pool
	runs   RunLister
	queues QueueReader
	leaks  LeakCounter
	ledger ConversionCounter
	agents AgentCounter
}

// NewCollector wires a collector.
func NewCollector(pool db.Pool, runs RunLister, queues QueueReader, leaks LeakCounter, ledger ConversionCounter, agents AgentCounter) *Collector {
	return &Collector{pool: pool, runs: runs, queues: queues, leaks: leaks, ledger: ledger, agents: agents}
}

// Collect gathers a snapshot over the given lookback window and refreshes
// the Prometheus gauges from it.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	if lookbackHours <= 0 {
		lookbackHours = 24
	}
	snap := &Snapshot{
		FailedJobs:    map[string]int{},
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}
	window := time.Duration(lookbackHours) * time.Hour
	cutoff := snap.CollectedAt.Add(-window)

	entries, err := c.runs.RecentRuns(ctx, "", runSample)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: recent runs")
	}
	for _, e := range entries {
		if e.StartedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		switch e.Status {
		case runlog.StatusComplete:
			snap.RunsComplete++
		case runlog.StatusPartial:
			snap.RunsPartial++
		case runlog.StatusFailed:
			snap.RunsFailed++
			snap.FailedJobs[e.Job]++
		case runlog.StatusRunning:
			snap.RunsRunning++
		}
	}
	if finished := snap.RunsComplete + snap.RunsPartial + snap.RunsFailed; finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}

	if snap.Queues, err = c.queues.Stats(ctx); err != nil {
		return nil, eris.Wrap(err, "monitoring: queue stats")
	}
	for _, q := range snap.Queues {
		snap.QueueDepth += q.Total
	}

	err = c.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM inbound_calls WHERE status = 'waiting'),
			(SELECT count(*) FROM callbacks WHERE status = 'pending'),
			(SELECT count(*) FROM leads
				WHERE claimed_by IS NOT NULL AND lease_expires_at <= now())
			+ (SELECT count(*) FROM callbacks
				WHERE status = 'assigned' AND lease_expires_at <= now())
			+ (SELECT count(*) FROM inbound_calls
				WHERE status IN ('assigned', 'connecting') AND lease_expires_at <= now())`).
		Scan(&snap.InboundWaiting, &snap.CallbacksPending, &snap.StaleLeases)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: open work counts")
	}

	if snap.AgentsAvailable, err = c.agents.AvailableCount(ctx); err != nil {
		return nil, eris.Wrap(err, "monitoring: agent count")
	}
	if snap.PendingLeaks, err = c.leaks.Pending(ctx, window); err != nil {
		return nil, eris.Wrap(err, "monitoring: pending leaks")
	}
	if snap.Conversions, snap.RecoveredConversions, err = c.ledger.CountSince(ctx, cutoff); err != nil {
		return nil, eris.Wrap(err, "monitoring: conversion counts")
	}

	publish(snap)
	return snap, nil
}

// publish pushes the live parts of the snapshot into the gauge metrics.
func publish(snap *Snapshot) {
	metrics.QueueDepth.Reset()
	for _, q := range snap.Queues {
		metrics.QueueDepth.WithLabelValues(string(q.Category)).Set(float64(q.Total))
	}
	metrics.InboundWaiting.Set(float64(snap.InboundWaiting))
	metrics.CallbacksPending.Set(float64(snap.CallbacksPending))
	metrics.StaleLeases.Set(float64(snap.StaleLeases))
	metrics.AgentsAvailable.Set(float64(snap.AgentsAvailable))
	metrics.LeaksPending.Set(float64(snap.PendingLeaks))
}
