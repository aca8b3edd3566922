package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsRetriable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limit error", &RateLimitError{ResetAt: time.Now()}, true},
		{"transient error", &TransientError{Op: "fetch", Err: errors.New("timeout")}, true},
		{"wrapped rate limit", fmt.Errorf("fetch prs: %w", &RateLimitError{}), true},
		{"wrapped transient", fmt.Errorf("fetch prs: %w", &TransientError{Op: "x", Err: errors.New("503")}), true},
		{"not found", ErrNotFound, false},
		{"wrapped not found", fmt.Errorf("repo: %w", ErrNotFound), false},
		{"missing identifier", ErrMissingIdentifier, false},
		{"recently synced", ErrRecentlySynced, false},
		{"feature disabled", ErrFeatureDisabled, false},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetriable(tt.err))
		})
	}
}

func TestIsTransient(t *testing.T) {
	te := &TransientError{Op: "recent prs", Err: errors.New("connection reset")}

	assert.True(t, IsTransient(te))
	assert.True(t, IsTransient(fmt.Errorf("outer: %w", te)))
	assert.False(t, IsTransient(&RateLimitError{}), "rate limits are retriable but not transient")
	assert.False(t, IsTransient(ErrNotFound))
	assert.False(t, IsTransient(nil))
}

func TestTransientErrorUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	te := &TransientError{Op: "pr details", Err: cause}

	assert.ErrorIs(t, te, cause)
	assert.Contains(t, te.Error(), "pr details")
}
