package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivetlabs/gitpulse/internal/core/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedRepo(t *testing.T, store *Store, id string) {
	t.Helper()
	require.NoError(t, store.RepositoryStore().Upsert(context.Background(), &domain.Repository{
		ID: id, Owner: "octo", Name: "hello",
	}))
}

func TestMigrationsAreIdempotent(t *testing.T) {
	dir := t.TempDir()

	store, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Reopening the same directory reruns migrate against an
	// up-to-date schema.
	store, err = NewStore(dir)
	require.NoError(t, err)
	defer store.Close()

	var version int
	row := store.db.QueryRow("SELECT MAX(version) FROM schema_migrations")
	require.NoError(t, row.Scan(&version))
	assert.Equal(t, 1, version)
}

func TestRepositoryStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	repos := store.RepositoryStore()
	ctx := context.Background()

	_, err := repos.Get(ctx, "octo/hello")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, repos.Upsert(ctx, &domain.Repository{
		ID: "octo/hello", Owner: "octo", Name: "hello",
	}))

	repo, err := repos.Get(ctx, "octo/hello")
	require.NoError(t, err)
	assert.Equal(t, "octo", repo.Owner)
	assert.True(t, repo.LastSyncedAt.IsZero())

	syncedAt := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repos.SetLastSynced(ctx, "octo/hello", syncedAt))

	// Re-upserting repository metadata must not clobber the sync
	// timestamp.
	require.NoError(t, repos.Upsert(ctx, &domain.Repository{
		ID: "octo/hello", Owner: "octo", Name: "hello",
	}))

	repo, err = repos.Get(ctx, "octo/hello")
	require.NoError(t, err)
	assert.True(t, repo.LastSyncedAt.Equal(syncedAt))

	assert.ErrorIs(t, repos.SetLastSynced(ctx, "octo/unknown", syncedAt), domain.ErrNotFound)

	require.NoError(t, repos.Upsert(ctx, &domain.Repository{
		ID: "octo/world", Owner: "octo", Name: "world",
	}))
	all, err := repos.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRepositoryStoreHasCompleteData(t *testing.T) {
	store := newTestStore(t)
	seedRepo(t, store, "octo/hello")
	items := store.ItemStore()
	repos := store.RepositoryStore()
	ctx := context.Background()

	complete, err := repos.HasCompleteData(ctx, "octo/hello")
	require.NoError(t, err)
	assert.False(t, complete)

	_, err = items.UpsertReviews(ctx, []domain.Review{
		{ID: "R_1", RepositoryID: "octo/hello", PRNumber: 1, Author: "alice", State: "approved"},
	})
	require.NoError(t, err)

	complete, err = repos.HasCompleteData(ctx, "octo/hello")
	require.NoError(t, err)
	assert.False(t, complete, "reviews alone are not complete data")

	_, err = items.UpsertComments(ctx, []domain.Comment{
		{ID: "C_1", RepositoryID: "octo/hello", IssueNumber: 1, Author: "alice", Body: "hi"},
	})
	require.NoError(t, err)

	complete, err = repos.HasCompleteData(ctx, "octo/hello")
	require.NoError(t, err)
	assert.True(t, complete)
}

func TestSyncLogStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	logs := store.SyncLogStore().(*syncLogStore)
	ctx := context.Background()

	rec := &domain.SyncLogRecord{
		ID:           "log-1",
		SyncType:     domain.KindRepoSync,
		RepositoryID: "octo/hello",
		Status:       domain.SyncInProgress,
		StartedAt:    time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
		Metadata:     map[string]any{"days": float64(30)},
	}
	require.NoError(t, logs.Create(ctx, rec))

	got, err := logs.Get(ctx, "log-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SyncInProgress, got.Status)
	assert.Equal(t, domain.KindRepoSync, got.SyncType)
	assert.Equal(t, map[string]any{"days": float64(30)}, got.Metadata)
	assert.True(t, got.CompletedAt.IsZero())

	rec.Status = domain.SyncCompleted
	rec.RecordsProcessed = 42
	rec.RecordsInserted = 7
	rec.APICallsUsed = 3
	rec.CompletedAt = rec.StartedAt.Add(time.Minute)
	require.NoError(t, logs.Update(ctx, rec))

	got, err = logs.Get(ctx, "log-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SyncCompleted, got.Status)
	assert.Equal(t, 42, got.RecordsProcessed)
	assert.Equal(t, 7, got.RecordsInserted)
	assert.Equal(t, 3, got.APICallsUsed)
	assert.True(t, got.CompletedAt.Equal(rec.CompletedAt))

	assert.ErrorIs(t, logs.Update(ctx, &domain.SyncLogRecord{ID: "missing"}), domain.ErrNotFound)
	_, err = logs.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEmbeddingJobStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	jobs := store.EmbeddingJobStore()
	ctx := context.Background()

	job := &domain.EmbeddingJob{
		ID:           "job-1",
		RepositoryID: "octo/hello",
		Status:       domain.EmbeddingPending,
		StartedAt:    time.Now().UTC(),
	}
	require.NoError(t, jobs.Create(ctx, job))

	job.Status = domain.EmbeddingCompleted
	job.ItemsTotal = 10
	job.ItemsProcessed = 10
	job.CompletedAt = time.Now().UTC()
	require.NoError(t, jobs.Update(ctx, job))

	assert.ErrorIs(t, jobs.Update(ctx, &domain.EmbeddingJob{ID: "missing"}), domain.ErrNotFound)
}

func TestSimilarityCacheTTL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	cache := &similarityCacheStore{store: store, now: func() time.Time { return now }}

	entry := &domain.SimilarityCacheEntry{
		RepositoryID: "octo/hello",
		Kind:         domain.ItemPullRequest,
		ItemID:       "PR_1",
		Embedding:    []float32{0.1, 0.2, 0.3},
		ContentHash:  domain.ContentHash("title", "body"),
		TTL:          time.Hour,
		CreatedAt:    now,
	}
	require.NoError(t, cache.Upsert(ctx, entry))

	got, err := cache.Get(ctx, "octo/hello", domain.ItemPullRequest, "PR_1")
	require.NoError(t, err)
	assert.Equal(t, entry.Embedding, got.Embedding)
	assert.Equal(t, entry.ContentHash, got.ContentHash)
	assert.Equal(t, time.Hour, got.TTL)

	// Move past the TTL: reads miss, prune removes the row.
	now = now.Add(2 * time.Hour)
	_, err = cache.Get(ctx, "octo/hello", domain.ItemPullRequest, "PR_1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	pruned, err := cache.PruneExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	pruned, err = cache.PruneExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, pruned)
}

func TestBackfillStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	backfills := store.BackfillStore()
	ctx := context.Background()

	active, err := backfills.IsActive(ctx, "octo/hello")
	require.NoError(t, err)
	assert.False(t, active, "unknown repositories read as idle")

	require.NoError(t, backfills.SetActive(ctx, "octo/hello", true))
	active, err = backfills.IsActive(ctx, "octo/hello")
	require.NoError(t, err)
	assert.True(t, active)

	require.NoError(t, backfills.SetActive(ctx, "octo/hello", false))
	active, err = backfills.IsActive(ctx, "octo/hello")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestItemUpsertInsertedCounts(t *testing.T) {
	store := newTestStore(t)
	seedRepo(t, store, "octo/hello")
	items := store.ItemStore()
	ctx := context.Background()

	prs := []domain.PullRequest{
		{ID: "PR_1", RepositoryID: "octo/hello", Number: 1, Title: "One"},
		{ID: "PR_2", RepositoryID: "octo/hello", Number: 2, Title: "Two"},
	}
	inserted, err := items.UpsertPullRequests(ctx, prs)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	prs[0].Title = "One, revised"
	inserted, err = items.UpsertPullRequests(ctx, prs)
	require.NoError(t, err)
	assert.Zero(t, inserted, "updates do not count as inserts")

	commits := []domain.Commit{
		{SHA: "abc", RepositoryID: "octo/hello", Author: "alice", Message: "init"},
	}
	inserted, err = items.UpsertCommits(ctx, commits)
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	inserted, err = items.UpsertCommits(ctx, commits)
	require.NoError(t, err)
	assert.Zero(t, inserted)

	users := []domain.User{{Login: "alice", Name: "Alice"}}
	inserted, err = items.UpsertUsers(ctx, users)
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
	inserted, err = items.UpsertUsers(ctx, users)
	require.NoError(t, err)
	assert.Zero(t, inserted)
}

func TestItemEmbeddingStaleness(t *testing.T) {
	store := newTestStore(t)
	seedRepo(t, store, "octo/hello")
	items := store.ItemStore()
	ctx := context.Background()
	kinds := []domain.ItemKind{domain.ItemPullRequest}

	_, err := items.UpsertPullRequests(ctx, []domain.PullRequest{
		{ID: "PR_1", RepositoryID: "octo/hello", Number: 1, Title: "One", Body: "first"},
	})
	require.NoError(t, err)

	needing, err := items.ListNeedingEmbedding(ctx, "octo/hello", kinds, 0)
	require.NoError(t, err)
	require.Len(t, needing, 1, "a fresh item needs embedding")

	vec := []float32{0.5, -1.25, 3}
	hash := domain.ContentHash("One", "first")
	generatedAt := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	require.NoError(t, items.SaveEmbedding(ctx, domain.ItemPullRequest, "PR_1", vec, hash, generatedAt))

	needing, err = items.ListNeedingEmbedding(ctx, "octo/hello", kinds, 0)
	require.NoError(t, err)
	assert.Empty(t, needing, "embedded and unchanged")

	embedded, err := items.ListEmbedded(ctx, "octo/hello", kinds, 0)
	require.NoError(t, err)
	require.Len(t, embedded, 1)
	assert.Equal(t, hash, embedded[0].ContentHash)

	gotVec, gotHash, gotAt, err := items.GetEmbedding(ctx, domain.ItemPullRequest, "PR_1")
	require.NoError(t, err)
	assert.Equal(t, vec, gotVec)
	assert.Equal(t, hash, gotHash)
	assert.True(t, gotAt.Equal(generatedAt))

	// A content change makes the item stale without touching its
	// stored embedding.
	_, err = items.UpsertPullRequests(ctx, []domain.PullRequest{
		{ID: "PR_1", RepositoryID: "octo/hello", Number: 1, Title: "One", Body: "first, edited"},
	})
	require.NoError(t, err)

	needing, err = items.ListNeedingEmbedding(ctx, "octo/hello", kinds, 0)
	require.NoError(t, err)
	assert.Len(t, needing, 1)

	gotVec, _, _, err = items.GetEmbedding(ctx, domain.ItemPullRequest, "PR_1")
	require.NoError(t, err)
	assert.Equal(t, vec, gotVec, "stale items keep their last embedding until regenerated")
}

func TestItemEmbeddingMissing(t *testing.T) {
	store := newTestStore(t)
	seedRepo(t, store, "octo/hello")
	items := store.ItemStore()
	ctx := context.Background()

	_, _, _, err := items.GetEmbedding(ctx, domain.ItemPullRequest, "PR_none")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = items.SaveEmbedding(ctx, domain.ItemPullRequest, "PR_none", []float32{1}, "hash", time.Now())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, _, _, err = items.GetEmbedding(ctx, domain.ItemKind("commit"), "abc")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	// Present but never embedded reads as not found.
	_, err2 := items.UpsertIssues(ctx, []domain.Issue{
		{ID: "I_1", RepositoryID: "octo/hello", Number: 1, Title: "Bug"},
	})
	require.NoError(t, err2)
	_, _, _, err = items.GetEmbedding(ctx, domain.ItemIssue, "I_1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEncodeDecodeEmbedding(t *testing.T) {
	vec := []float32{0, 1.5, -2.25, 3e6}
	assert.Equal(t, vec, decodeEmbedding(encodeEmbedding(vec)))
	assert.Empty(t, decodeEmbedding(nil))
}
