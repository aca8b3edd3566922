package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivetlabs/gitpulse/internal/adapters/driven/storage/memory"
	"github.com/rivetlabs/gitpulse/internal/core/domain"
	"github.com/rivetlabs/gitpulse/internal/core/ports/driven"
)

// mockFetcher implements driven.Fetcher with canned data and call
// accounting.
type mockFetcher struct {
	mu    sync.Mutex
	calls map[string]int

	prs         []domain.PullRequest
	details     *domain.PRDetails
	reviews     []domain.Review
	comments    []domain.Comment
	commits     []domain.Commit
	discussions []domain.Discussion
	users       map[string]*domain.User

	commitsSince time.Time
	err          error
}

func newMockFetcher() *mockFetcher {
	return &mockFetcher{
		calls: make(map[string]int),
		users: make(map[string]*domain.User),
	}
}

func (f *mockFetcher) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
}

func (f *mockFetcher) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *mockFetcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

func (f *mockFetcher) FetchPRDetails(context.Context, string, string, int) (*domain.PRDetails, error) {
	f.record("pr_details")
	return f.details, f.err
}

func (f *mockFetcher) FetchRecentPRs(context.Context, string, string, time.Time, int) ([]domain.PullRequest, error) {
	f.record("recent_prs")
	return f.prs, f.err
}

func (f *mockFetcher) FetchPRReviews(context.Context, string, string, int) ([]domain.Review, error) {
	f.record("reviews")
	return f.reviews, f.err
}

func (f *mockFetcher) FetchPRComments(context.Context, string, string, int) ([]domain.Comment, error) {
	f.record("pr_comments")
	return f.comments, f.err
}

func (f *mockFetcher) FetchIssueComments(context.Context, string, string, int) ([]domain.Comment, error) {
	f.record("issue_comments")
	return f.comments, f.err
}

func (f *mockFetcher) FetchCommits(_ context.Context, _, _ string, since time.Time) ([]domain.Commit, error) {
	f.record("commits")
	f.mu.Lock()
	f.commitsSince = since
	f.mu.Unlock()
	return f.commits, f.err
}

func (f *mockFetcher) FetchDiscussions(context.Context, string, string, int) ([]domain.Discussion, error) {
	f.record("discussions")
	return f.discussions, f.err
}

func (f *mockFetcher) FetchUser(_ context.Context, login string) (*domain.User, error) {
	f.record("user")
	f.mu.Lock()
	user, ok := f.users[login]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("user %s: %w", login, domain.ErrNotFound)
	}
	return user, nil
}

func (f *mockFetcher) RateLimit(string) domain.RateLimitState {
	return domain.RateLimitState{}
}

var _ driven.Fetcher = (*mockFetcher)(nil)

// backfillSpy records every SetActive call.
type backfillSpy struct {
	*memory.BackfillStore
	mu      sync.Mutex
	history []bool
}

func (s *backfillSpy) SetActive(ctx context.Context, repositoryID string, active bool) error {
	s.mu.Lock()
	s.history = append(s.history, active)
	s.mu.Unlock()
	return s.BackfillStore.SetActive(ctx, repositoryID, active)
}

type captureFixture struct {
	fetcher   *mockFetcher
	repos     *memory.RepositoryStore
	items     *memory.ItemStore
	backfills *backfillSpy
	syncLogs  *memory.SyncLogStore
	service   *CaptureService
}

func newCaptureFixture(t *testing.T, pipeline *EmbeddingPipeline) *captureFixture {
	t.Helper()
	f := &captureFixture{
		fetcher:   newMockFetcher(),
		repos:     memory.NewRepositoryStore(),
		items:     memory.NewItemStore(),
		backfills: &backfillSpy{BackfillStore: memory.NewBackfillStore()},
		syncLogs:  memory.NewSyncLogStore(),
	}
	f.service = NewCaptureService(
		f.fetcher, f.repos, f.items, f.backfills,
		NewSyncLogger(f.syncLogs),
		NewThrottlePolicy(DefaultThrottleConfig()),
		pipeline,
	)
	return f
}

func (f *captureFixture) addRepo(t *testing.T, id string, lastSynced time.Time) {
	t.Helper()
	require.NoError(t, f.repos.Upsert(context.Background(), &domain.Repository{
		ID: id, Owner: "octo", Name: "hello", LastSyncedAt: lastSynced,
	}))
}

func TestRepositorySyncHappyPath(t *testing.T) {
	f := newCaptureFixture(t, nil)
	f.addRepo(t, "octo/hello", time.Time{})
	f.fetcher.prs = []domain.PullRequest{
		{ID: "PR_1", RepositoryID: "octo/hello", Number: 1, Title: "First", Body: "a"},
		{ID: "PR_2", RepositoryID: "octo/hello", Number: 2, Title: "Second", Body: "b"},
	}

	err := f.service.RepositorySync(context.Background(), RepositorySyncRequest{
		RepositoryID: "octo/hello",
		Reason:       domain.ReasonManual,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, f.fetcher.callCount("recent_prs"))

	repo, err := f.repos.Get(context.Background(), "octo/hello")
	require.NoError(t, err)
	assert.False(t, repo.LastSyncedAt.IsZero(), "sync records a freshness timestamp")

	items, err := f.items.ListNeedingEmbedding(context.Background(), "octo/hello",
		[]domain.ItemKind{domain.ItemPullRequest}, 0)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestRepositorySyncThrottledMakesNoUpstreamCalls(t *testing.T) {
	f := newCaptureFixture(t, nil)
	f.addRepo(t, "octo/hello", time.Now().Add(-time.Minute))
	f.repos.SetCompleteData("octo/hello", true)

	err := f.service.RepositorySync(context.Background(), RepositorySyncRequest{
		RepositoryID: "octo/hello",
		Reason:       domain.ReasonScheduled,
	})
	assert.ErrorIs(t, err, domain.ErrRecentlySynced)
	assert.Zero(t, f.fetcher.totalCalls(), "a throttled sync touches no upstream API")
}

func TestRepositorySyncMissingRepository(t *testing.T) {
	f := newCaptureFixture(t, nil)

	err := f.service.RepositorySync(context.Background(), RepositorySyncRequest{
		RepositoryID: "octo/unknown",
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = f.service.RepositorySync(context.Background(), RepositorySyncRequest{})
	assert.ErrorIs(t, err, domain.ErrMissingIdentifier)
}

func TestPRDetailsPersistsAllRecords(t *testing.T) {
	f := newCaptureFixture(t, nil)
	f.addRepo(t, "octo/hello", time.Time{})
	f.fetcher.details = &domain.PRDetails{
		PullRequest: domain.PullRequest{ID: "PR_9", RepositoryID: "octo/hello", Number: 9, Title: "Nine"},
		Reviews: []domain.Review{
			{ID: "R_1", RepositoryID: "octo/hello", PRNumber: 9, Author: "alice", State: "approved"},
		},
		Comments: []domain.Comment{
			{ID: "C_1", RepositoryID: "octo/hello", IssueNumber: 9, Author: "alice", Body: "nice"},
			{ID: "C_2", RepositoryID: "octo/hello", IssueNumber: 9, Author: "ghost", Body: "gone"},
		},
	}
	f.fetcher.users["alice"] = &domain.User{Login: "alice", Name: "Alice"}
	// "ghost" resolves to not found; capture must not fail.

	err := f.service.PRDetails(context.Background(), PRTargetRequest{
		RepositoryID: "octo/hello",
		PRNumber:     9,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, f.items.CommentCount())
	assert.Equal(t, 1, f.items.UserCount(), "deleted accounts are skipped")
	assert.Equal(t, 2, f.fetcher.callCount("user"), "each distinct author resolved once")
}

func TestCommitsInitialRunMarksBackfill(t *testing.T) {
	f := newCaptureFixture(t, nil)
	f.addRepo(t, "octo/hello", time.Time{}) // never synced -> initial
	f.fetcher.commits = []domain.Commit{
		{SHA: "abc123", RepositoryID: "octo/hello", Message: "init"},
	}

	err := f.service.Commits(context.Background(), CommitsRequest{
		RepositoryID: "octo/hello",
		Reason:       domain.ReasonManual,
	})
	require.NoError(t, err)

	f.backfills.mu.Lock()
	history := append([]bool(nil), f.backfills.history...)
	f.backfills.mu.Unlock()
	assert.Equal(t, []bool{true, false}, history,
		"backfill is active for the duration of an initial run")

	// Initial runs use the long look-back window.
	expected := time.Now().AddDate(0, 0, -DefaultInitialCommitDays)
	assert.WithinDuration(t, expected, f.fetcher.commitsSince, time.Minute)

	active, err := f.backfills.IsActive(context.Background(), "octo/hello")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestCommitsIncrementalRunSkipsBackfill(t *testing.T) {
	f := newCaptureFixture(t, nil)
	f.addRepo(t, "octo/hello", time.Now().Add(-24*time.Hour))

	err := f.service.Commits(context.Background(), CommitsRequest{
		RepositoryID: "octo/hello",
		Reason:       domain.ReasonManual,
	})
	require.NoError(t, err)

	f.backfills.mu.Lock()
	history := append([]bool(nil), f.backfills.history...)
	f.backfills.mu.Unlock()
	assert.Empty(t, history, "incremental runs do not touch backfill state")

	expected := time.Now().AddDate(0, 0, -DefaultSyncDays)
	assert.WithinDuration(t, expected, f.fetcher.commitsSince, time.Minute)
}

func TestDiscussionsCapture(t *testing.T) {
	f := newCaptureFixture(t, nil)
	f.addRepo(t, "octo/hello", time.Time{})
	f.fetcher.discussions = []domain.Discussion{
		{ID: "D_1", RepositoryID: "octo/hello", Number: 1, Title: "Roadmap", Category: "General"},
	}

	err := f.service.Discussions(context.Background(), DiscussionsRequest{
		RepositoryID: "octo/hello",
	})
	require.NoError(t, err)

	items, err := f.items.ListNeedingEmbedding(context.Background(), "octo/hello",
		[]domain.ItemKind{domain.ItemDiscussion}, 0)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestCaptureWritesAuditRecords(t *testing.T) {
	f := newCaptureFixture(t, nil)
	f.addRepo(t, "octo/hello", time.Time{})
	f.fetcher.reviews = []domain.Review{
		{ID: "R_1", RepositoryID: "octo/hello", PRNumber: 5, Author: "alice"},
		{ID: "R_2", RepositoryID: "octo/hello", PRNumber: 5, Author: "bob"},
	}

	err := f.service.PRReviews(context.Background(), PRTargetRequest{
		RepositoryID: "octo/hello",
		PRNumber:     5,
	})
	require.NoError(t, err)

	recs := f.syncLogs.All()
	require.Len(t, recs, 1)
	assert.Equal(t, domain.SyncCompleted, recs[0].Status)
	assert.Equal(t, domain.KindPRReviews, recs[0].SyncType)
	assert.Equal(t, 2, recs[0].RecordsProcessed)
	assert.Equal(t, 2, recs[0].RecordsInserted)
	assert.Equal(t, 1, recs[0].APICallsUsed)
}

func TestCaptureSchedulesEmbeddings(t *testing.T) {
	items := memory.NewItemStore()
	pipeline := NewEmbeddingPipeline(DefaultPipelineConfig(), items,
		memory.NewEmbeddingJobStore(), memory.NewSimilarityCacheStore(), newMockEmbedder())

	f := &captureFixture{
		fetcher:   newMockFetcher(),
		repos:     memory.NewRepositoryStore(),
		items:     items,
		backfills: &backfillSpy{BackfillStore: memory.NewBackfillStore()},
		syncLogs:  memory.NewSyncLogStore(),
	}
	f.service = NewCaptureService(
		f.fetcher, f.repos, f.items, f.backfills,
		NewSyncLogger(f.syncLogs),
		NewThrottlePolicy(DefaultThrottleConfig()),
		pipeline,
	)
	f.addRepo(t, "octo/hello", time.Time{})
	f.fetcher.prs = []domain.PullRequest{
		{ID: "PR_1", RepositoryID: "octo/hello", Number: 1, Title: "First", Body: "a"},
	}

	err := f.service.RepositorySync(context.Background(), RepositorySyncRequest{
		RepositoryID: "octo/hello",
		Reason:       domain.ReasonManual,
	})
	require.NoError(t, err)
	f.service.WaitEmbeddings()

	vec, _, _, err := items.GetEmbedding(context.Background(), domain.ItemPullRequest, "PR_1")
	require.NoError(t, err)
	assert.NotEmpty(t, vec, "fresh capture triggers an embedding pass")
}

func TestComputeEmbeddingsDisabledWithoutPipeline(t *testing.T) {
	f := newCaptureFixture(t, nil)

	_, err := f.service.ComputeEmbeddings(context.Background(), ComputeRequest{})
	assert.ErrorIs(t, err, domain.ErrFeatureDisabled)
}
