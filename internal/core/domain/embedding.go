package domain

import "time"

// ItemKind is a tagged variant over the embeddable item types. Each
// kind maps to its own table through an explicit lookup in the storage
// adapter; no runtime string branching on table names.
type ItemKind string

// Embeddable item kinds.
const (
	ItemPullRequest ItemKind = "pull_request"
	ItemIssue       ItemKind = "issue"
	ItemDiscussion  ItemKind = "discussion"
)

// AllItemKinds lists every embeddable kind, in a stable order.
var AllItemKinds = []ItemKind{ItemPullRequest, ItemIssue, ItemDiscussion}

// Valid reports whether k is a known item kind.
func (k ItemKind) Valid() bool {
	switch k {
	case ItemPullRequest, ItemIssue, ItemDiscussion:
		return true
	}
	return false
}

// EmbeddingStatus is the lifecycle state of an embedding job.
type EmbeddingStatus string

// Embedding job statuses.
const (
	EmbeddingPending    EmbeddingStatus = "pending"
	EmbeddingProcessing EmbeddingStatus = "processing"
	EmbeddingCompleted  EmbeddingStatus = "completed"
	EmbeddingFailed     EmbeddingStatus = "failed"
)

// EmbeddingJob tracks one embedding computation batch run.
// ItemsProcessed increases monotonically so a crash mid-batch leaves an
// accurate partial-progress record.
type EmbeddingJob struct {
	ID             string
	RepositoryID   string // empty for cross-repository runs
	Status         EmbeddingStatus
	ItemsTotal     int
	ItemsProcessed int
	StartedAt      time.Time
	CompletedAt    time.Time
	ErrorMessage   string
}

// EmbedItem is a unit of text needing an embedding, discovered from the
// item tables.
type EmbedItem struct {
	ID           string
	RepositoryID string
	Kind         ItemKind
	Title        string
	Body         string
	ContentHash  string // empty when never hashed
}

// SimilarityCacheEntry is a TTL-bounded cached embedding keyed by
// (RepositoryID, Kind, ItemID). Invalidated whenever ContentHash changes.
type SimilarityCacheEntry struct {
	RepositoryID string
	Kind         ItemKind
	ItemID       string
	Embedding    []float32
	ContentHash  string
	TTL          time.Duration
	CreatedAt    time.Time
}

// Expired reports whether the entry's TTL has elapsed at now.
func (e *SimilarityCacheEntry) Expired(now time.Time) bool {
	return now.After(e.CreatedAt.Add(e.TTL))
}
