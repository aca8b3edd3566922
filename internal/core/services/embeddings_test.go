package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivetlabs/gitpulse/internal/adapters/driven/storage/memory"
	"github.com/rivetlabs/gitpulse/internal/core/domain"
)

// mockEmbedder implements driven.EmbeddingService with canned vectors.
type mockEmbedder struct {
	mu         sync.Mutex
	batches    [][]string
	failBatch  map[int]error // batch index -> error
	dimensions int
}

func newMockEmbedder() *mockEmbedder {
	return &mockEmbedder{failBatch: make(map[int]error), dimensions: 4}
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (m *mockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := len(m.batches)
	m.batches = append(m.batches, texts)
	if err, ok := m.failBatch[idx]; ok {
		return nil, err
	}

	vecs := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, m.dimensions)
		vec[0] = float32(idx)
		vec[1] = float32(i)
		vecs[i] = vec
	}
	return vecs, nil
}

func (m *mockEmbedder) Dimensions() int            { return m.dimensions }
func (m *mockEmbedder) ModelName() string          { return "mock-embed" }
func (m *mockEmbedder) Ping(context.Context) error { return nil }
func (m *mockEmbedder) Close() error               { return nil }

func (m *mockEmbedder) batchSizes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	sizes := make([]int, len(m.batches))
	for i, b := range m.batches {
		sizes[i] = len(b)
	}
	return sizes
}

type pipelineFixture struct {
	items    *memory.ItemStore
	jobs     *memory.EmbeddingJobStore
	cache    *memory.SimilarityCacheStore
	embedder *mockEmbedder
	pipeline *EmbeddingPipeline
}

func newPipelineFixture(cfg PipelineConfig) *pipelineFixture {
	f := &pipelineFixture{
		items:    memory.NewItemStore(),
		jobs:     memory.NewEmbeddingJobStore(),
		cache:    memory.NewSimilarityCacheStore(),
		embedder: newMockEmbedder(),
	}
	f.pipeline = NewEmbeddingPipeline(cfg, f.items, f.jobs, f.cache, f.embedder)
	return f
}

func (f *pipelineFixture) seedPRs(t *testing.T, n int) {
	t.Helper()
	prs := make([]domain.PullRequest, n)
	for i := range prs {
		prs[i] = domain.PullRequest{
			ID:           fmt.Sprintf("PR_%03d", i),
			RepositoryID: "octo/hello",
			Number:       i + 1,
			Title:        fmt.Sprintf("Change %d", i),
			Body:         "Details.",
		}
	}
	_, err := f.items.UpsertPullRequests(context.Background(), prs)
	require.NoError(t, err)
}

func TestEmbeddingPipelineBatching(t *testing.T) {
	f := newPipelineFixture(DefaultPipelineConfig())
	f.seedPRs(t, 45)

	job, err := f.pipeline.Run(context.Background(), ComputeRequest{RepositoryID: "octo/hello"})
	require.NoError(t, err)

	assert.Equal(t, domain.EmbeddingCompleted, job.Status)
	assert.Equal(t, 45, job.ItemsTotal)
	assert.Equal(t, 45, job.ItemsProcessed)
	assert.Equal(t, []int{20, 20, 5}, f.embedder.batchSizes(), "45 items make batches of 20, 20 and 5")

	stored, ok := f.jobs.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, domain.EmbeddingCompleted, stored.Status)
	assert.Equal(t, 45, stored.ItemsProcessed)
}

func TestEmbeddingPipelinePartialFailureIsCompleted(t *testing.T) {
	f := newPipelineFixture(DefaultPipelineConfig())
	f.seedPRs(t, 45)
	f.embedder.failBatch[1] = errors.New("provider overloaded")

	job, err := f.pipeline.Run(context.Background(), ComputeRequest{RepositoryID: "octo/hello"})
	require.NoError(t, err)

	assert.Equal(t, domain.EmbeddingCompleted, job.Status, "partial success is success")
	assert.Equal(t, 45, job.ItemsTotal)
	assert.Equal(t, 25, job.ItemsProcessed)
	assert.Contains(t, job.ErrorMessage, "provider overloaded")
}

func TestEmbeddingPipelineTotalFailureIsFailed(t *testing.T) {
	f := newPipelineFixture(DefaultPipelineConfig())
	f.seedPRs(t, 30)
	f.embedder.failBatch[0] = errors.New("down")
	f.embedder.failBatch[1] = errors.New("down")

	job, err := f.pipeline.Run(context.Background(), ComputeRequest{RepositoryID: "octo/hello"})
	require.NoError(t, err)

	assert.Equal(t, domain.EmbeddingFailed, job.Status, "zero items processed fails the job")
	assert.Zero(t, job.ItemsProcessed)
	assert.NotEmpty(t, job.ErrorMessage)
}

func TestEmbeddingPipelineSkipsUnchangedItems(t *testing.T) {
	f := newPipelineFixture(DefaultPipelineConfig())
	f.seedPRs(t, 5)

	ctx := context.Background()
	_, err := f.pipeline.Run(ctx, ComputeRequest{RepositoryID: "octo/hello"})
	require.NoError(t, err)

	// Second run with unchanged content finds nothing to do.
	job, err := f.pipeline.Run(ctx, ComputeRequest{RepositoryID: "octo/hello"})
	require.NoError(t, err)
	assert.Zero(t, job.ItemsTotal)
	assert.Equal(t, domain.EmbeddingCompleted, job.Status)

	// Changing one item's body makes exactly that item stale.
	_, err = f.items.UpsertPullRequests(ctx, []domain.PullRequest{{
		ID:           "PR_002",
		RepositoryID: "octo/hello",
		Number:       3,
		Title:        "Change 2",
		Body:         "Details. Now with more detail.",
	}})
	require.NoError(t, err)

	job, err = f.pipeline.Run(ctx, ComputeRequest{RepositoryID: "octo/hello"})
	require.NoError(t, err)
	assert.Equal(t, 1, job.ItemsTotal)
	assert.Equal(t, 1, job.ItemsProcessed)
}

func TestEmbeddingPipelineForceRegenerate(t *testing.T) {
	f := newPipelineFixture(DefaultPipelineConfig())
	f.seedPRs(t, 5)

	ctx := context.Background()
	_, err := f.pipeline.Run(ctx, ComputeRequest{RepositoryID: "octo/hello"})
	require.NoError(t, err)

	job, err := f.pipeline.Run(ctx, ComputeRequest{
		RepositoryID:    "octo/hello",
		ForceRegenerate: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, job.ItemsTotal, "force regenerates already-embedded items")
	assert.Equal(t, 5, job.ItemsProcessed)
}

func TestEmbeddingPipelineRendersTaggedTruncatedText(t *testing.T) {
	cfg := DefaultPipelineConfig()
	cfg.MaxChars = 50
	f := newPipelineFixture(cfg)

	_, err := f.items.UpsertPullRequests(context.Background(), []domain.PullRequest{{
		ID:           "PR_long",
		RepositoryID: "octo/hello",
		Number:       1,
		Title:        "A title",
		Body:         strings.Repeat("body ", 100),
	}})
	require.NoError(t, err)

	_, err = f.pipeline.Run(context.Background(), ComputeRequest{RepositoryID: "octo/hello"})
	require.NoError(t, err)

	require.Len(t, f.embedder.batches, 1)
	text := f.embedder.batches[0][0]
	assert.True(t, strings.HasPrefix(text, "[PULL_REQUEST] A title "), "text carries the kind tag")
	assert.Len(t, text, 50, "text is truncated to the character budget")
}

func TestEmbeddingPipelinePopulatesSimilarityCache(t *testing.T) {
	f := newPipelineFixture(DefaultPipelineConfig())
	f.seedPRs(t, 2)

	ctx := context.Background()
	_, err := f.pipeline.Run(ctx, ComputeRequest{RepositoryID: "octo/hello"})
	require.NoError(t, err)

	entry, err := f.cache.Get(ctx, "octo/hello", domain.ItemPullRequest, "PR_000")
	require.NoError(t, err)
	assert.Equal(t, DefaultCacheTTL, entry.TTL)
	assert.Equal(t, domain.ContentHash("Change 0", "Details."), entry.ContentHash)
	assert.NotEmpty(t, entry.Embedding)

	// Entries expire after the TTL.
	f.cache.SetClock(func() time.Time { return time.Now().Add(DefaultCacheTTL + time.Hour) })
	_, err = f.cache.Get(ctx, "octo/hello", domain.ItemPullRequest, "PR_000")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	pruned, err := f.cache.PruneExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pruned)
}

func TestEmbeddingPipelineRejectsUnknownKind(t *testing.T) {
	f := newPipelineFixture(DefaultPipelineConfig())

	_, err := f.pipeline.Run(context.Background(), ComputeRequest{
		ItemKinds: []domain.ItemKind{"commit"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestEmbeddingPipelineStoresHashWithEmbedding(t *testing.T) {
	f := newPipelineFixture(DefaultPipelineConfig())
	f.seedPRs(t, 1)

	ctx := context.Background()
	_, err := f.pipeline.Run(ctx, ComputeRequest{RepositoryID: "octo/hello"})
	require.NoError(t, err)

	vec, hash, generatedAt, err := f.items.GetEmbedding(ctx, domain.ItemPullRequest, "PR_000")
	require.NoError(t, err)
	assert.NotEmpty(t, vec)
	assert.Equal(t, domain.ContentHash("Change 0", "Details."), hash)
	assert.False(t, generatedAt.IsZero())
}
