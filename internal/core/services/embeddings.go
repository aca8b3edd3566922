package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rivetlabs/gitpulse/internal/core/domain"
	"github.com/rivetlabs/gitpulse/internal/core/ports/driven"
	"github.com/rivetlabs/gitpulse/internal/logger"
)

// Embedding pipeline defaults.
const (
	// DefaultBatchSize is how many items go into one provider call.
	DefaultBatchSize = 20

	// DefaultMaxChars bounds the rendered text per item, keeping token
	// cost and batch latency predictable.
	DefaultMaxChars = 2000

	// DefaultCacheTTL is the similarity cache lifetime for
	// background-generated embeddings.
	DefaultCacheTTL = 7 * 24 * time.Hour

	// DefaultDiscoveryLimit caps how many items one run picks up.
	DefaultDiscoveryLimit = 1000
)

// ComputeRequest selects which items an embedding run covers.
type ComputeRequest struct {
	// RepositoryID restricts the run to one repository; empty spans all.
	RepositoryID string

	// ForceRegenerate re-embeds items that already carry an embedding
	// instead of only changed or never-embedded ones.
	ForceRegenerate bool

	// ItemKinds restricts the run to the given kinds; empty means all.
	ItemKinds []domain.ItemKind
}

// PipelineConfig tunes the embedding pipeline.
type PipelineConfig struct {
	BatchSize      int
	MaxChars       int
	CacheTTL       time.Duration
	DiscoveryLimit int
}

// DefaultPipelineConfig returns the production pipeline settings.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		BatchSize:      DefaultBatchSize,
		MaxChars:       DefaultMaxChars,
		CacheTTL:       DefaultCacheTTL,
		DiscoveryLimit: DefaultDiscoveryLimit,
	}
}

// EmbeddingPipeline batches item text, computes content hashes, calls
// the embedding provider and writes vectors back to the item tables and
// the TTL similarity cache.
type EmbeddingPipeline struct {
	cfg      PipelineConfig
	items    driven.ItemStore
	jobs     driven.EmbeddingJobStore
	cache    driven.SimilarityCacheStore
	embedder driven.EmbeddingService
	now      func() time.Time
}

// NewEmbeddingPipeline wires the pipeline from its stores and provider.
func NewEmbeddingPipeline(cfg PipelineConfig, items driven.ItemStore, jobs driven.EmbeddingJobStore, cache driven.SimilarityCacheStore, embedder driven.EmbeddingService) *EmbeddingPipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.DiscoveryLimit <= 0 {
		cfg.DiscoveryLimit = DefaultDiscoveryLimit
	}
	return &EmbeddingPipeline{
		cfg:      cfg,
		items:    items,
		jobs:     jobs,
		cache:    cache,
		embedder: embedder,
		now:      time.Now,
	}
}

// Run discovers items needing embeddings and processes them in fixed
// batches. A failed batch is recorded and does not stop later batches;
// the job fails only when zero items were processed. Partial success
// is success.
func (p *EmbeddingPipeline) Run(ctx context.Context, req ComputeRequest) (*domain.EmbeddingJob, error) {
	kinds := req.ItemKinds
	if len(kinds) == 0 {
		kinds = domain.AllItemKinds
	}
	for _, k := range kinds {
		if !k.Valid() {
			return nil, fmt.Errorf("embedding run: kind %q: %w", k, domain.ErrInvalidInput)
		}
	}

	items, err := p.discover(ctx, req, kinds)
	if err != nil {
		return nil, fmt.Errorf("discover items: %w", err)
	}

	job := &domain.EmbeddingJob{
		ID:           uuid.NewString(),
		RepositoryID: req.RepositoryID,
		Status:       domain.EmbeddingProcessing,
		ItemsTotal:   len(items),
		StartedAt:    p.now(),
	}
	if err := p.jobs.Create(ctx, job); err != nil {
		logger.Warn("embedding job create failed: %v", err)
	}

	var batchErrors []string
	for start := 0; start < len(items); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(items) {
			end = len(items)
		}
		batch := items[start:end]

		processed, err := p.processBatch(ctx, batch)
		job.ItemsProcessed += processed
		if err != nil {
			batchErrors = append(batchErrors, err.Error())
			logger.Warn("embedding batch %d-%d failed: %v", start, end, err)
		}

		// Persist partial progress so a crash mid-run leaves an
		// accurate record.
		if err := p.jobs.Update(ctx, job); err != nil {
			logger.Warn("embedding job update failed: %v", err)
		}

		if ctx.Err() != nil {
			break
		}
	}

	job.CompletedAt = p.now()
	if job.ItemsProcessed == 0 && len(batchErrors) > 0 {
		job.Status = domain.EmbeddingFailed
	} else {
		job.Status = domain.EmbeddingCompleted
	}
	if len(batchErrors) > 0 {
		job.ErrorMessage = strings.Join(batchErrors, "; ")
	}
	if err := p.jobs.Update(ctx, job); err != nil {
		logger.Warn("embedding job finalize failed: %v", err)
	}

	logger.Info("embedding run %s: %d/%d items, %d batch errors",
		job.ID, job.ItemsProcessed, job.ItemsTotal, len(batchErrors))
	return job, nil
}

// discover selects the item set for a run.
func (p *EmbeddingPipeline) discover(ctx context.Context, req ComputeRequest, kinds []domain.ItemKind) ([]domain.EmbedItem, error) {
	if req.ForceRegenerate {
		return p.items.ListEmbedded(ctx, req.RepositoryID, kinds, p.cfg.DiscoveryLimit)
	}
	return p.items.ListNeedingEmbedding(ctx, req.RepositoryID, kinds, p.cfg.DiscoveryLimit)
}

// processBatch embeds one batch and writes results per item. Returns
// how many items were fully persisted.
func (p *EmbeddingPipeline) processBatch(ctx context.Context, batch []domain.EmbedItem) (int, error) {
	texts := make([]string, len(batch))
	for i, item := range batch {
		if batch[i].ContentHash == "" {
			batch[i].ContentHash = domain.ContentHash(item.Title, item.Body)
		}
		texts[i] = p.renderItem(item)
	}

	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed batch of %d: %w", len(batch), err)
	}
	if len(vectors) != len(batch) {
		return 0, fmt.Errorf("embed batch: provider returned %d vectors for %d texts", len(vectors), len(batch))
	}

	generatedAt := p.now()
	processed := 0
	for i, item := range batch {
		if err := p.items.SaveEmbedding(ctx, item.Kind, item.ID, vectors[i], batch[i].ContentHash, generatedAt); err != nil {
			logger.Warn("save embedding for %s %s failed: %v", item.Kind, item.ID, err)
			continue
		}

		entry := &domain.SimilarityCacheEntry{
			RepositoryID: item.RepositoryID,
			Kind:         item.Kind,
			ItemID:       item.ID,
			Embedding:    vectors[i],
			ContentHash:  batch[i].ContentHash,
			TTL:          p.cfg.CacheTTL,
			CreatedAt:    generatedAt,
		}
		if err := p.cache.Upsert(ctx, entry); err != nil {
			// Cache writes are best-effort; the item row is authoritative.
			logger.Warn("similarity cache upsert for %s %s failed: %v", item.Kind, item.ID, err)
		}

		processed++
	}

	return processed, nil
}

// renderItem produces the provider input "[KIND] title body", truncated
// to the configured character budget.
func (p *EmbeddingPipeline) renderItem(item domain.EmbedItem) string {
	text := "[" + strings.ToUpper(string(item.Kind)) + "] " + item.Title + " " + item.Body
	if len(text) > p.cfg.MaxChars {
		text = text[:p.cfg.MaxChars]
	}
	return text
}
