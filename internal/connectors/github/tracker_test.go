package github

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrackerRecordAndSnapshot(t *testing.T) {
	tracker := NewTracker()

	assert.Zero(t, tracker.Snapshot(APIGraphQL), "zero value before the first call")

	resetAt := time.Now().Add(time.Hour)
	tracker.Record(APIGraphQL, 3, 4997, 5000, resetAt)
	tracker.Record(APIREST, 1, 4200, 5000, resetAt)

	gql := tracker.Snapshot(APIGraphQL)
	assert.Equal(t, 3, gql.CostLastCall)
	assert.Equal(t, 4997, gql.Remaining)
	assert.Equal(t, 5000, gql.Limit)
	assert.Equal(t, resetAt, gql.ResetAt)

	assert.Equal(t, 4200, tracker.Snapshot(APIREST).Remaining, "surfaces are tracked independently")
}

func TestTrackerLowBudget(t *testing.T) {
	tracker := NewTracker()

	assert.False(t, tracker.LowBudget(APIGraphQL, 100), "no data yet assumes full quota")

	tracker.Record(APIGraphQL, 1, 50, 5000, time.Now().Add(time.Hour))
	assert.True(t, tracker.LowBudget(APIGraphQL, 100))
	assert.False(t, tracker.LowBudget(APIGraphQL, 10))

	// A reset in the past restores the budget.
	tracker.Record(APIGraphQL, 1, 50, 5000, time.Now().Add(-time.Minute))
	assert.False(t, tracker.LowBudget(APIGraphQL, 100))
}
