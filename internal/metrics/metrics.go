// Package metrics holds the engine's Prometheus instruments on a custom
// registry, so /metrics serves only what the engine registers and not the
// client library's defaults.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the engine's metric registry. The API serves it on /metrics.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

// DispatchedTotal counts work items handed to agents, by kind.
var DispatchedTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dialer",
	Subsystem: "dispatch",
	Name:      "work_items_total",
	Help:      "Work items handed to agents, by kind",
}, []string{"kind"})

// ClaimsTotal counts claim attempts. result=lost means another process won
// the conditional update, which is normal under contention.
var ClaimsTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dialer",
	Subsystem: "dispatch",
	Name:      "claims_total",
	Help:      "Claim attempts by result (won or lost)",
}, []string{"result"})

// CompletionsTotal counts completed work items by call outcome.
var CompletionsTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dialer",
	Subsystem: "dispatch",
	Name:      "completions_total",
	Help:      "Completed work items by call outcome",
}, []string{"outcome"})

// LeasesSweptTotal counts expired leases released by the sweeper.
var LeasesSweptTotal = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "dialer",
	Subsystem: "dispatch",
	Name:      "leases_swept_total",
	Help:      "Expired leases released by the background sweep",
})

// ConversionsTotal counts ledger writes by conversion type. Dedup-skipped
// writes are not counted.
var ConversionsTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dialer",
	Name:      "conversions_total",
	Help:      "Conversion records written, by type",
}, []string{"type"})

// RecoveredConversionsTotal counts conversions written by leak recovery.
var RecoveredConversionsTotal = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "dialer",
	Name:      "conversions_recovered_total",
	Help:      "Conversion records recovered by the leak scanner",
})

// CDRRowsTotal counts import rows by disposition (loaded, duplicate, skipped).
var CDRRowsTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dialer",
	Subsystem: "cdr",
	Name:      "rows_total",
	Help:      "CDR import rows by disposition",
}, []string{"result"})

// RunsTotal counts job runs by terminal status.
var RunsTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dialer",
	Subsystem: "runs",
	Name:      "total",
	Help:      "Job runs by job name and terminal status",
}, []string{"job", "status"})

// RunDurationSeconds measures wall time per job run.
var RunDurationSeconds = factory.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "dialer",
	Subsystem: "runs",
	Name:      "duration_seconds",
	Help:      "Wall time per job run",
	Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 600},
}, []string{"job"})

// QueueDepth is the number of active leads per category queue.
var QueueDepth = factory.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "dialer",
	Subsystem: "queue",
	Name:      "depth",
	Help:      "Active leads per category queue",
}, []string{"category"})

// InboundWaiting is the number of inbound entries currently waiting.
var InboundWaiting = factory.NewGauge(prometheus.GaugeOpts{
	Namespace: "dialer",
	Subsystem: "queue",
	Name:      "inbound_waiting",
	Help:      "Inbound entries currently waiting",
})

// CallbacksPending is the number of pending callbacks.
var CallbacksPending = factory.NewGauge(prometheus.GaugeOpts{
	Namespace: "dialer",
	Subsystem: "queue",
	Name:      "callbacks_pending",
	Help:      "Pending callbacks",
})

// AgentsAvailable is the number of agents with a fresh available heartbeat.
var AgentsAvailable = factory.NewGauge(prometheus.GaugeOpts{
	Namespace: "dialer",
	Name:      "agents_available",
	Help:      "Agents with a fresh available heartbeat",
})

// LeaksPending is the number of unreconciled deactivations in the scan window.
var LeaksPending = factory.NewGauge(prometheus.GaugeOpts{
	Namespace: "dialer",
	Name:      "leaks_pending",
	Help:      "Deactivations without a conversion inside the scan window",
})

// StaleLeases is the number of expired but unreleased leases.
var StaleLeases = factory.NewGauge(prometheus.GaugeOpts{
	Namespace: "dialer",
	Name:      "stale_leases",
	Help:      "Expired leases not yet released",
})

// ObserveRun records one finished run in RunsTotal and RunDurationSeconds.
func ObserveRun(job, status string, seconds float64) {
	RunsTotal.WithLabelValues(job, status).Inc()
	RunDurationSeconds.WithLabelValues(job).Observe(seconds)
}
