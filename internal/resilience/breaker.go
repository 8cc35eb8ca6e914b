package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// ErrOpen is returned without calling through while the breaker is open.
var ErrOpen = eris.New("resilience: breaker open")

const (
	stateClosed = "closed"
	stateOpen   = "open"
	stateProbe  = "half-open"
)

// Breaker trips after a run of consecutive failures and fails fast until
// a reset interval passes, then lets a single probe through. It guards
// the CRM adapter: when Salesforce is down, discovery runs should fail
// in milliseconds and leave a clean resumable cursor, not grind through
// timeouts batch by batch.
type Breaker struct {
	mu        sync.Mutex
	state     string
	failures  int
	openedAt  time.Time
	probing   bool
	threshold int
	reset     time.Duration

	// OnChange, when set, observes state transitions.
	OnChange func(from, to string)

	now func() time.Time
}

// NewBreaker returns a closed breaker that opens after threshold
// consecutive failures and retries one probe after reset.
func NewBreaker(threshold int, reset time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if reset <= 0 {
		reset = 30 * time.Second
	}
	return &Breaker{state: stateClosed, threshold: threshold, reset: reset, now: time.Now}
}

// State reports the breaker state for monitoring.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Do runs fn unless the breaker is open. Context cancellation does not
// count as a service failure.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil && ctx.Err() != nil {
		// The caller went away; nothing learned about the service.
		b.release()
		return err
	}
	b.record(err)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return nil
	case stateOpen:
		if b.now().Sub(b.openedAt) < b.reset {
			return ErrOpen
		}
		b.transition(stateProbe)
		b.probing = true
		return nil
	default: // half-open
		if b.probing {
			return ErrOpen
		}
		b.probing = true
		return nil
	}
}

// release frees the probe slot without recording an outcome.
func (b *Breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		b.probing = false
		if b.state != stateClosed {
			b.transition(stateClosed)
		}
		return
	}

	if b.state == stateProbe {
		b.probing = false
		b.openedAt = b.now()
		b.transition(stateOpen)
		return
	}

	b.failures++
	if b.failures >= b.threshold && b.state == stateClosed {
		b.openedAt = b.now()
		b.transition(stateOpen)
	}
}

// transition assumes b.mu is held.
func (b *Breaker) transition(to string) {
	from := b.state
	b.state = to
	if b.OnChange != nil && from != to {
		b.OnChange(from, to)
	}
}
