package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestContentHash(t *testing.T) {
	h1 := ContentHash("Fix race in watcher", "The watcher closed twice.")
	h2 := ContentHash("Fix race in watcher", "The watcher closed twice.")
	assert.Equal(t, h1, h2, "hashing is deterministic")
	assert.Len(t, h1, 64)

	changed := ContentHash("Fix race in watcher", "The watcher closed twice. Updated.")
	assert.NotEqual(t, h1, changed, "body changes change the hash")

	// The separator keeps boundary-shifted inputs distinct.
	assert.NotEqual(t, ContentHash("ab", "c"), ContentHash("a", "bc"))

	assert.NotEmpty(t, ContentHash("", ""))
}

func TestSimilarityCacheEntryExpired(t *testing.T) {
	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	entry := &SimilarityCacheEntry{
		CreatedAt: created,
		TTL:       7 * 24 * time.Hour,
	}

	assert.False(t, entry.Expired(created.Add(6*24*time.Hour)))
	assert.True(t, entry.Expired(created.Add(7*24*time.Hour+time.Second)))
}

func TestItemKindValid(t *testing.T) {
	for _, kind := range AllItemKinds {
		assert.True(t, kind.Valid())
	}
	assert.False(t, ItemKind("commit").Valid())
	assert.False(t, ItemKind("").Valid())
}
