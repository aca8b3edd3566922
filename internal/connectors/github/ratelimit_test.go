package github

import (
	"context"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rateLimitedResponse(remaining, limit int, resetAt time.Time) *http.Response {
	header := http.Header{}
	header.Set(HeaderRateRemaining, strconv.Itoa(remaining))
	header.Set(HeaderRateLimit, strconv.Itoa(limit))
	header.Set(HeaderRateReset, strconv.FormatInt(resetAt.Unix(), 10))
	return &http.Response{Header: header}
}

func TestRateLimiterUpdateFromResponse(t *testing.T) {
	rl := NewRateLimiter()

	assert.Equal(t, RESTRateLimit, rl.Remaining(), "full quota assumed at start")

	resetAt := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	rl.UpdateFromResponse(rateLimitedResponse(123, 5000, resetAt))

	assert.Equal(t, 123, rl.Remaining())
	assert.Equal(t, 5000, rl.Limit())
	assert.True(t, rl.ResetTime().Equal(resetAt))
}

func TestRateLimiterIgnoresMalformedHeaders(t *testing.T) {
	rl := NewRateLimiter()
	rl.UpdateFromResponse(rateLimitedResponse(100, 5000, time.Now()))

	header := http.Header{}
	header.Set(HeaderRateRemaining, "not-a-number")
	rl.UpdateFromResponse(&http.Response{Header: header})

	assert.Equal(t, 100, rl.Remaining(), "unparsable headers leave state unchanged")

	rl.UpdateFromResponse(nil)
	assert.Equal(t, 100, rl.Remaining())
}

func TestRateLimiterWaitWithBudget(t *testing.T) {
	rl := NewRateLimiter()
	rl.UpdateFromResponse(rateLimitedResponse(4000, 5000, time.Now().Add(time.Hour)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rl.Wait(ctx), "plenty of budget never blocks on reset")
}

func TestRateLimiterWaitHonorsCancellation(t *testing.T) {
	rl := NewRateLimiter()
	// Exhausted budget with a far-off reset forces a wait.
	rl.UpdateFromResponse(rateLimitedResponse(0, 5000, time.Now().Add(time.Hour)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := rl.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
