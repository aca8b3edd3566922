package domain

import "time"

// RateLimitState is a snapshot of one upstream API's budget, updated
// after every call and read before scheduling expensive calls.
// Process-local; staleness after restart is bounded by ResetAt.
type RateLimitState struct {
	Remaining    int
	Limit        int
	CostLastCall int
	ResetAt      time.Time
}

// BackfillState gates throttle rules for a repository. An active
// backfill suppresses the "recently synced" skip so large historical
// imports are not blocked by freshness throttling.
type BackfillState struct {
	RepositoryID string
	Active       bool
	UpdatedAt    time.Time
}
