// Package memory provides in-memory store implementations used in
// tests and for ephemeral runs.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rivetlabs/gitpulse/internal/core/domain"
	"github.com/rivetlabs/gitpulse/internal/core/ports/driven"
)

// Interface checks.
var (
	_ driven.RepositoryStore      = (*RepositoryStore)(nil)
	_ driven.SyncLogStore         = (*SyncLogStore)(nil)
	_ driven.EmbeddingJobStore    = (*EmbeddingJobStore)(nil)
	_ driven.SimilarityCacheStore = (*SimilarityCacheStore)(nil)
	_ driven.BackfillStore        = (*BackfillStore)(nil)
)

// RepositoryStore is an in-memory driven.RepositoryStore.
type RepositoryStore struct {
	mu       sync.RWMutex
	repos    map[string]domain.Repository
	complete map[string]bool
}

// NewRepositoryStore creates an empty repository store.
func NewRepositoryStore() *RepositoryStore {
	return &RepositoryStore{
		repos:    make(map[string]domain.Repository),
		complete: make(map[string]bool),
	}
}

// Get retrieves a repository by ID.
func (s *RepositoryStore) Get(_ context.Context, repositoryID string) (*domain.Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	repo, ok := s.repos[repositoryID]
	if !ok {
		return nil, fmt.Errorf("repository %s: %w", repositoryID, domain.ErrNotFound)
	}
	cp := repo
	return &cp, nil
}

// List returns all tracked repositories.
func (s *RepositoryStore) List(_ context.Context) ([]domain.Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Repository, 0, len(s.repos))
	for _, r := range s.repos {
		out = append(out, r)
	}
	return out, nil
}

// Upsert creates or updates a repository.
func (s *RepositoryStore) Upsert(_ context.Context, repo *domain.Repository) error {
	if repo == nil || repo.ID == "" {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repos[repo.ID] = *repo
	return nil
}

// SetLastSynced records a completed sync timestamp.
func (s *RepositoryStore) SetLastSynced(_ context.Context, repositoryID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	repo, ok := s.repos[repositoryID]
	if !ok {
		return fmt.Errorf("repository %s: %w", repositoryID, domain.ErrNotFound)
	}
	repo.LastSyncedAt = at
	s.repos[repositoryID] = repo
	return nil
}

// HasCompleteData reports the completeness flag set via SetCompleteData.
func (s *RepositoryStore) HasCompleteData(_ context.Context, repositoryID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.complete[repositoryID], nil
}

// SetCompleteData sets the completeness flag for tests.
func (s *RepositoryStore) SetCompleteData(repositoryID string, complete bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.complete[repositoryID] = complete
}

// SyncLogStore is an in-memory driven.SyncLogStore.
type SyncLogStore struct {
	mu      sync.RWMutex
	records map[string]domain.SyncLogRecord

	// FailWrites makes every write return an error, for testing the
	// best-effort contract.
	FailWrites bool
}

// NewSyncLogStore creates an empty sync log store.
func NewSyncLogStore() *SyncLogStore {
	return &SyncLogStore{records: make(map[string]domain.SyncLogRecord)}
}

// Create inserts a new record.
func (s *SyncLogStore) Create(_ context.Context, rec *domain.SyncLogRecord) error {
	if s.FailWrites {
		return fmt.Errorf("sync log store: writes disabled")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = *rec
	return nil
}

// Update overwrites an existing record.
func (s *SyncLogStore) Update(_ context.Context, rec *domain.SyncLogRecord) error {
	if s.FailWrites {
		return fmt.Errorf("sync log store: writes disabled")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = *rec
	return nil
}

// Get returns a stored record for assertions.
func (s *SyncLogStore) Get(id string) (domain.SyncLogRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok
}

// All returns every stored record for assertions.
func (s *SyncLogStore) All() []domain.SyncLogRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.SyncLogRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out
}

// EmbeddingJobStore is an in-memory driven.EmbeddingJobStore.
type EmbeddingJobStore struct {
	mu   sync.RWMutex
	jobs map[string]domain.EmbeddingJob
}

// NewEmbeddingJobStore creates an empty embedding job store.
func NewEmbeddingJobStore() *EmbeddingJobStore {
	return &EmbeddingJobStore{jobs: make(map[string]domain.EmbeddingJob)}
}

// Create inserts a job.
func (s *EmbeddingJobStore) Create(_ context.Context, job *domain.EmbeddingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = *job
	return nil
}

// Update overwrites a job.
func (s *EmbeddingJobStore) Update(_ context.Context, job *domain.EmbeddingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = *job
	return nil
}

// Get returns a stored job for assertions.
func (s *EmbeddingJobStore) Get(id string) (domain.EmbeddingJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok
}

// cacheKey identifies a similarity cache entry.
type cacheKey struct {
	repo string
	kind domain.ItemKind
	item string
}

// SimilarityCacheStore is an in-memory driven.SimilarityCacheStore.
type SimilarityCacheStore struct {
	mu      sync.RWMutex
	entries map[cacheKey]domain.SimilarityCacheEntry
	now     func() time.Time
}

// NewSimilarityCacheStore creates an empty cache store.
func NewSimilarityCacheStore() *SimilarityCacheStore {
	return &SimilarityCacheStore{
		entries: make(map[cacheKey]domain.SimilarityCacheEntry),
		now:     time.Now,
	}
}

// Upsert writes an entry, replacing any existing one for the key.
func (s *SimilarityCacheStore) Upsert(_ context.Context, entry *domain.SimilarityCacheEntry) error {
	if entry == nil || !entry.Kind.Valid() {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[cacheKey{entry.RepositoryID, entry.Kind, entry.ItemID}] = *entry
	return nil
}

// Get retrieves a live entry; expired entries read as not found.
func (s *SimilarityCacheStore) Get(_ context.Context, repositoryID string, kind domain.ItemKind, itemID string) (*domain.SimilarityCacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[cacheKey{repositoryID, kind, itemID}]
	if !ok || entry.Expired(s.now()) {
		return nil, fmt.Errorf("cache entry %s/%s/%s: %w", repositoryID, kind, itemID, domain.ErrNotFound)
	}
	cp := entry
	return &cp, nil
}

// PruneExpired removes expired entries.
func (s *SimilarityCacheStore) PruneExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	pruned := 0
	for key, entry := range s.entries {
		if entry.Expired(now) {
			delete(s.entries, key)
			pruned++
		}
	}
	return pruned, nil
}

// SetClock pins the clock for expiry tests.
func (s *SimilarityCacheStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// BackfillStore is an in-memory driven.BackfillStore.
type BackfillStore struct {
	mu     sync.RWMutex
	active map[string]bool
}

// NewBackfillStore creates an empty backfill store.
func NewBackfillStore() *BackfillStore {
	return &BackfillStore{active: make(map[string]bool)}
}

// IsActive reports whether a backfill is running for the repository.
func (s *BackfillStore) IsActive(_ context.Context, repositoryID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active[repositoryID], nil
}

// SetActive marks a backfill as running or idle.
func (s *BackfillStore) SetActive(_ context.Context, repositoryID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[repositoryID] = active
	return nil
}
