package github

import (
	"sync"
	"time"

	"github.com/rivetlabs/gitpulse/internal/core/domain"
)

// API surface identifiers for the tracker.
const (
	APIGraphQL = "graphql"
	APIREST    = "rest"
)

// Tracker records the rate-limit budget of each upstream API surface.
// One mutable snapshot per surface, updated after every call, read
// before scheduling expensive calls. State is process-local; staleness
// after a restart is bounded by ResetAt.
type Tracker struct {
	mu     sync.Mutex
	states map[string]domain.RateLimitState
}

// NewTracker creates a tracker with empty state for both surfaces.
func NewTracker() *Tracker {
	return &Tracker{
		states: make(map[string]domain.RateLimitState),
	}
}

// Record updates the snapshot for an API surface after a call.
func (t *Tracker) Record(api string, cost, remaining, limit int, resetAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[api] = domain.RateLimitState{
		Remaining:    remaining,
		Limit:        limit,
		CostLastCall: cost,
		ResetAt:      resetAt,
	}
}

// Snapshot returns the current state for an API surface. The zero
// value is returned before the first call.
func (t *Tracker) Snapshot(api string) domain.RateLimitState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[api]
}

// LowBudget reports whether the surface has fewer than reserve points
// remaining and the window has not yet reset.
func (t *Tracker) LowBudget(api string, reserve int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[api]
	if !ok {
		return false // No data yet; assume full quota.
	}
	return state.Remaining < reserve && time.Now().Before(state.ResetAt)
}
