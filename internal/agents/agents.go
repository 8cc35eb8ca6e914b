// Package agents tracks agent presence. The dispatch engine's inbound
// timeout policy only fires while at least one agent is available, so
// availability is heartbeat-based with a freshness TTL rather than a flag
// someone forgets to clear.
package agents

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dialer-engine/internal/config"
	"github.com/sells-group/dialer-engine/internal/db"
)

// Agent statuses. Anything past the TTL reads as offline regardless of the
// stored value.
const (
	StatusAvailable = "available"
	StatusBusy      = "busy"
	StatusOffline   = "offline"
)

// Agent is one agent's presence row.
type Agent struct {
	AgentID     string    `json:"agent_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Status      string    `json:"status"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// Registry stores agent presence in Postgres.
type Registry struct {
	pool db.Pool
	ttl  time.Duration
}

// NewRegistry creates a presence registry with the configured heartbeat TTL.
func NewRegistry(pool db.Pool, cfg config.AgentsConfig) *Registry {
	ttl := time.Duration(cfg.HeartbeatTTLSecs) * time.Second
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &Registry{pool: pool, ttl: ttl}
}

// ValidStatus reports whether status is one of the known agent statuses.
func ValidStatus(status string) bool {
	switch status {
	case StatusAvailable, StatusBusy, StatusOffline:
		return true
	}
	return false
}

// Heartbeat upserts one agent's presence and refreshes its freshness
// timestamp. Softphones send one every few seconds while logged in.
func (r *Registry) Heartbeat(ctx context.Context, agentID, status string) error {
	if agentID == "" {
		return eris.New("agents: empty agent id")
	}
	if !ValidStatus(status) {
		return eris.Errorf("agents: unknown status %q", status)
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO agents (agent_id, status, last_seen_at)
		VALUES ($1, $2, now())
		ON CONFLICT (agent_id) DO UPDATE
		SET status = EXCLUDED.status, last_seen_at = now()`,
		agentID, status)
	if err != nil {
		return eris.Wrapf(err, "agents: heartbeat %s", agentID)
	}
	return nil
}

// Rename sets an agent's display name without touching its presence.
func (r *Registry) Rename(ctx context.Context, agentID, displayName string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO agents (agent_id, display_name)
		VALUES ($1, $2)
		ON CONFLICT (agent_id) DO UPDATE SET display_name = EXCLUDED.display_name`,
		agentID, displayName)
	if err != nil {
		return eris.Wrapf(err, "agents: rename %s", agentID)
	}
	return nil
}

// AvailableCount returns how many agents are available with a heartbeat
// inside the TTL. This is the inbound gate, so it counts in SQL on the
// database clock that wrote last_seen_at.
func (r *Registry) AvailableCount(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM agents
		WHERE status = $1 AND last_seen_at > now() - make_interval(secs => $2)`,
		StatusAvailable, int64(r.ttl.Seconds())).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "agents: available count")
	}
	return n, nil
}

// AvailableAgents lists available agent IDs with a fresh heartbeat, most
// recently seen first, for the inbound auto-dispatch pass.
func (r *Registry) AvailableAgents(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT agent_id FROM agents
		WHERE status = $1 AND last_seen_at > now() - make_interval(secs => $2)
		ORDER BY last_seen_at DESC`,
		StatusAvailable, int64(r.ttl.Seconds()))
	if err != nil {
		return nil, eris.Wrap(err, "agents: available agents")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "agents: scan agent id")
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// List returns every known agent. Agents whose heartbeat is past the TTL
// read as offline whatever their stored status says.
func (r *Registry) List(ctx context.Context) ([]Agent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT agent_id, display_name, status, last_seen_at
		FROM agents ORDER BY agent_id`)
	if err != nil {
		return nil, eris.Wrap(err, "agents: list")
	}
	defer rows.Close()

	cutoff := time.Now().Add(-r.ttl)
	var out []Agent
	for rows.Next() {
		var a Agent
		if err := rows.Scan(&a.AgentID, &a.DisplayName, &a.Status, &a.LastSeenAt); err != nil {
			return nil, eris.Wrap(err, "agents: scan agent")
		}
		if a.LastSeenAt.Before(cutoff) {
			a.Status = StatusOffline
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
