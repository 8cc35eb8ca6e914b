package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dialer-engine/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate AlertType = "run_failure_rate"
	AlertLeakBacklog    AlertType = "leak_backlog"
	AlertStaleLeases    AlertType = "stale_leases"
	AlertInboundStalled AlertType = "inbound_stalled"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a Snapshot against configured thresholds and sends
// alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Job run failure rate. Small samples stay quiet.
	finished := snap.RunsComplete + snap.RunsPartial + snap.RunsFailed
	if finished >= 5 && snap.RunFailRate > a.cfg.RunFailureThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.RunFailRate*100, a.cfg.RunFailureThreshold*100,
				snap.RunsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.RunFailRate,
				"threshold":    a.cfg.RunFailureThreshold,
				"failed":       snap.RunsFailed,
				"finished":     finished,
				"failed_jobs":  snap.FailedJobs,
			},
			Timestamp: now,
		})
	}

	// Unreconciled deactivations piling up means conversions are leaking.
	if a.cfg.UnrecoveredLeakLimit > 0 && snap.PendingLeaks >= int64(a.cfg.UnrecoveredLeakLimit) {
		alerts = append(alerts, Alert{
			Type:     AlertLeakBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d deactivation(s) without a conversion record in last %dh",
				snap.PendingLeaks, snap.LookbackHours,
			),
			Details: map[string]any{
				"pending_leaks": snap.PendingLeaks,
				"limit":         a.cfg.UnrecoveredLeakLimit,
			},
			Timestamp: now,
		})
	}

	// Stale leases accumulate when the sweeper stops keeping up.
	if a.cfg.StaleLeaseLimit > 0 && snap.StaleLeases > int64(a.cfg.StaleLeaseLimit) {
		alerts = append(alerts, Alert{
			Type:     AlertStaleLeases,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d expired lease(s) awaiting release, limit %d",
				snap.StaleLeases, a.cfg.StaleLeaseLimit,
			),
			Details: map[string]any{
				"stale_leases": snap.StaleLeases,
				"limit":        a.cfg.StaleLeaseLimit,
			},
			Timestamp: now,
		})
	}

	// Callers on hold with nobody heartbeating available.
	if snap.InboundWaiting > 0 && snap.AgentsAvailable == 0 {
		alerts = append(alerts, Alert{
			Type:     AlertInboundStalled,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d inbound caller(s) waiting with no available agents",
				snap.InboundWaiting,
			),
			Details: map[string]any{
				"inbound_waiting":  snap.InboundWaiting,
				"agents_available": snap.AgentsAvailable,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
