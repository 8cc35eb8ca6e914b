// Package queue derives the per-category call queues from lead records.
// A queue is a live ordered view, not stored state: rank is score ascending
// with creation time breaking ties, and entries disappear the moment the
// underlying lead converts, parks or reaches the terminal score.
package queue

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dialer-engine/internal/db"
	"github.com/sells-group/dialer-engine/internal/model"
)

// Band labels a score range for display. Banding is a pure function of the
// score and is never persisted.
type Band string

const (
	BandImmediate Band = "immediate"
	BandWarm      Band = "warm"
	BandLukewarm  Band = "lukewarm"
	BandCold      Band = "cold"
	BandTerminal  Band = "terminal"
)

// BandFor maps a score to its display band.
func BandFor(score int) Band {
	switch {
	case score <= 10:
		return BandImmediate
	case score <= 50:
		return BandWarm
	case score <= 100:
		return BandLukewarm
	case score < model.ScoreMax:
		return BandCold
	default:
		return BandTerminal
	}
}

// Entry is one position in a category queue.
type Entry struct {
	Position       int            `json:"position"`
	PersonID       string         `json:"person_id"`
	Category       model.Category `json:"category"`
	Score          int            `json:"score"`
	Band           Band           `json:"band"`
	Reason         string         `json:"reason,omitempty"`
	EnteredAt      time.Time      `json:"entered_at"`
	ClaimedBy      *string        `json:"claimed_by,omitempty"`
	LeaseExpiresAt *time.Time     `json:"lease_expires_at,omitempty"`
}

// Stats summarizes one category queue.
type Stats struct {
	Category model.Category `json:"category"`
	Total    int64          `json:"total"`
	Bands    map[Band]int64 `json:"bands"`
	Claimed  int64          `json:"claimed"`
	AvgScore float64        `json:"avg_score"`
	// AvgWaitSecs is the mean age of the queue's entries since they entered.
	AvgWaitSecs float64 `json:"avg_wait_secs"`
}

// Service reads queue projections from the leads table.
type Service struct {
	pool db.Pool
}

// New creates a queue Service over the given pool.
func New(pool db.Pool) *Service {
	return &Service{pool: pool}
}

// Entries returns one page of a category queue in rank order. Position is
// absolute within the queue, so page two starts at offset+1. The view is
// live: callers about to claim must re-derive the head rather than claim
// from a cached page.
func (s *Service) Entries(ctx context.Context, category model.Category, limit, offset int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx, `
		SELECT person_id, score, reason, created_at, claimed_by, lease_expires_at
		FROM leads
		WHERE active AND category = $1 AND score < $2
		ORDER BY score, created_at
		LIMIT $3 OFFSET $4`,
		string(category), model.ScoreMax, limit, offset)
	if err != nil {
		return nil, eris.Wrapf(err, "queue: entries for %s", category)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e := Entry{Category: category, Position: offset + len(out) + 1}
		if err := rows.Scan(&e.PersonID, &e.Score, &e.Reason, &e.EnteredAt,
			&e.ClaimedBy, &e.LeaseExpiresAt); err != nil {
			return nil, eris.Wrap(err, "queue: scan entry")
		}
		e.Band = BandFor(e.Score)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "queue: iterate entries")
}

// Stats summarizes every non-empty category queue.
func (s *Service) Stats(ctx context.Context) ([]Stats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT category,
			count(*),
			count(*) FILTER (WHERE score <= 10),
			count(*) FILTER (WHERE score BETWEEN 11 AND 50),
			count(*) FILTER (WHERE score BETWEEN 51 AND 100),
			count(*) FILTER (WHERE score > 100),
			count(*) FILTER (WHERE claimed_by IS NOT NULL AND lease_expires_at > now()),
			coalesce(avg(score), 0),
			coalesce(avg(extract(epoch FROM now() - created_at)), 0)
		FROM leads
		WHERE active AND category IS NOT NULL AND score < $1
		GROUP BY category
		ORDER BY category`,
		model.ScoreMax)
	if err != nil {
		return nil, eris.Wrap(err, "queue: stats")
	}
	defer rows.Close()

	var out []Stats
	for rows.Next() {
		st := Stats{Bands: map[Band]int64{}}
		var immediate, warm, lukewarm, cold int64
		if err := rows.Scan(&st.Category, &st.Total, &immediate, &warm, &lukewarm,
			&cold, &st.Claimed, &st.AvgScore, &st.AvgWaitSecs); err != nil {
			return nil, eris.Wrap(err, "queue: scan stats")
		}
		st.Bands[BandImmediate] = immediate
		st.Bands[BandWarm] = warm
		st.Bands[BandLukewarm] = lukewarm
		st.Bands[BandCold] = cold
		out = append(out, st)
	}
	return out, eris.Wrap(rows.Err(), "queue: iterate stats")
}
