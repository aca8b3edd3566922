// Package driven provides interfaces for infrastructure adapters
// (secondary/outbound ports).
package driven

import (
	"context"
	"time"

	"github.com/rivetlabs/gitpulse/internal/core/domain"
)

// RepositoryStore persists tracked repositories and their sync freshness.
type RepositoryStore interface {
	// Get retrieves a repository by ID. Returns domain.ErrNotFound when
	// the repository is not tracked.
	Get(ctx context.Context, repositoryID string) (*domain.Repository, error)

	// List returns all tracked repositories.
	List(ctx context.Context) ([]domain.Repository, error)

	// Upsert creates or updates a repository.
	Upsert(ctx context.Context, repo *domain.Repository) error

	// SetLastSynced records a completed sync timestamp.
	SetLastSynced(ctx context.Context, repositoryID string, at time.Time) error

	// HasCompleteData reports whether reviews and comments have been
	// captured for the repository. Incomplete repositories get a reduced
	// throttle window so they are not starved.
	HasCompleteData(ctx context.Context, repositoryID string) (bool, error)
}

// SyncLogStore persists sync audit records.
type SyncLogStore interface {
	// Create inserts a new sync log record.
	Create(ctx context.Context, rec *domain.SyncLogRecord) error

	// Update overwrites an existing sync log record by ID.
	Update(ctx context.Context, rec *domain.SyncLogRecord) error
}

// EmbeddingJobStore persists embedding job progress.
type EmbeddingJobStore interface {
	Create(ctx context.Context, job *domain.EmbeddingJob) error
	Update(ctx context.Context, job *domain.EmbeddingJob) error
}

// SimilarityCacheStore persists TTL-bounded cached embeddings keyed by
// (repository, kind, item).
type SimilarityCacheStore interface {
	// Upsert writes an entry, replacing any existing one for the key.
	Upsert(ctx context.Context, entry *domain.SimilarityCacheEntry) error

	// Get retrieves an entry. Returns domain.ErrNotFound when absent or
	// expired.
	Get(ctx context.Context, repositoryID string, kind domain.ItemKind, itemID string) (*domain.SimilarityCacheEntry, error)

	// PruneExpired removes expired entries and returns how many were removed.
	PruneExpired(ctx context.Context) (int, error)
}

// BackfillStore tracks active historical backfills per repository.
type BackfillStore interface {
	// IsActive reports whether a backfill is running for the repository.
	IsActive(ctx context.Context, repositoryID string) (bool, error)

	// SetActive marks a backfill as running or idle.
	SetActive(ctx context.Context, repositoryID string, active bool) error
}

// ItemStore persists captured GitHub records and their embeddings.
// Upserts use conflict-key semantics: concurrent writers to the same
// row resolve last-write-wins, not a transactional merge.
type ItemStore interface {
	// UpsertPullRequests writes pull requests, returning how many were new.
	UpsertPullRequests(ctx context.Context, prs []domain.PullRequest) (inserted int, err error)

	// UpsertIssues writes issues, returning how many were new.
	UpsertIssues(ctx context.Context, issues []domain.Issue) (inserted int, err error)

	// UpsertDiscussions writes discussions, returning how many were new.
	UpsertDiscussions(ctx context.Context, discussions []domain.Discussion) (inserted int, err error)

	// UpsertReviews writes pull request reviews.
	UpsertReviews(ctx context.Context, reviews []domain.Review) (inserted int, err error)

	// UpsertComments writes issue/PR comments.
	UpsertComments(ctx context.Context, comments []domain.Comment) (inserted int, err error)

	// UpsertCommits writes commits.
	UpsertCommits(ctx context.Context, commits []domain.Commit) (inserted int, err error)

	// UpsertUsers writes resolved contributor accounts.
	UpsertUsers(ctx context.Context, users []domain.User) (inserted int, err error)

	// ListNeedingEmbedding returns items whose content changed since the
	// last embedding or that were never embedded. An empty repositoryID
	// spans all repositories.
	ListNeedingEmbedding(ctx context.Context, repositoryID string, kinds []domain.ItemKind, limit int) ([]domain.EmbedItem, error)

	// ListEmbedded returns items that already carry an embedding; used
	// under force-regenerate.
	ListEmbedded(ctx context.Context, repositoryID string, kinds []domain.ItemKind, limit int) ([]domain.EmbedItem, error)

	// SaveEmbedding writes an item's vector, content hash and generation
	// timestamp.
	SaveEmbedding(ctx context.Context, kind domain.ItemKind, itemID string, embedding []float32, contentHash string, generatedAt time.Time) error

	// GetEmbedding reads back an item's stored vector, hash and
	// generation timestamp. Returns domain.ErrNotFound when the item has
	// no embedding.
	GetEmbedding(ctx context.Context, kind domain.ItemKind, itemID string) (embedding []float32, contentHash string, generatedAt time.Time, err error)
}
