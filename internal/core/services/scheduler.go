package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rivetlabs/gitpulse/internal/core/domain"
	"github.com/rivetlabs/gitpulse/internal/core/ports/driven"
	"github.com/rivetlabs/gitpulse/internal/logger"
)

// SchedulerConfig holds the background task intervals.
type SchedulerConfig struct {
	// SyncInterval is how often scheduled repository syncs are enqueued.
	SyncInterval time.Duration

	// EmbeddingInterval is how often the embedding pipeline runs over
	// all repositories. The production default matches a */15 cron.
	EmbeddingInterval time.Duration
}

// DefaultSchedulerConfig returns the production intervals.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		SyncInterval:      time.Hour,
		EmbeddingInterval: 15 * time.Minute,
	}
}

// Scheduler drives the recurring background work: scheduled repository
// syncs and periodic embedding computation. Failed runs simply recur
// on the next tick.
type Scheduler struct {
	cfg      SchedulerConfig
	repos    driven.RepositoryStore
	queue    *QueueManager
	pipeline *EmbeddingPipeline

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	nextSync  time.Time
	nextEmbed time.Time
}

// NewScheduler creates a scheduler.
func NewScheduler(cfg SchedulerConfig, repos driven.RepositoryStore, queue *QueueManager, pipeline *EmbeddingPipeline) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		repos:    repos,
		queue:    queue,
		pipeline: pipeline,
	}
}

// Start begins the scheduler loop. Blocks until Stop is called or the
// context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil // Already running
	}
	s.running = true
	s.stopCh = make(chan struct{})
	now := time.Now()
	s.nextSync = now.Add(s.cfg.SyncInterval)
	s.nextEmbed = now.Add(s.cfg.EmbeddingInterval)
	s.mu.Unlock()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return nil
		case <-ticker.C:
			s.runDueTasks(ctx)
		}
	}
}

// Stop gracefully shuts down the scheduler and waits for in-flight
// task runs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
}

// runDueTasks fires any task whose next-run time has passed.
func (s *Scheduler) runDueTasks(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	syncDue := !now.Before(s.nextSync)
	embedDue := !now.Before(s.nextEmbed)
	if syncDue {
		s.nextSync = now.Add(s.cfg.SyncInterval)
	}
	if embedDue {
		s.nextEmbed = now.Add(s.cfg.EmbeddingInterval)
	}
	s.mu.Unlock()

	if syncDue {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.enqueueScheduledSyncs(ctx)
		}()
	}
	if embedDue && s.pipeline != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if _, err := s.pipeline.Run(ctx, ComputeRequest{}); err != nil {
				logger.Warn("scheduled embedding run failed: %v", err)
			}
		}()
	}
}

// enqueueScheduledSyncs submits a repo sync job for every tracked
// repository. Throttle rejections are expected and logged at debug.
func (s *Scheduler) enqueueScheduledSyncs(ctx context.Context) {
	repos, err := s.repos.List(ctx)
	if err != nil {
		logger.Warn("scheduler: list repositories failed: %v", err)
		return
	}

	for i := range repos {
		job := &domain.CaptureJob{
			Kind:         domain.KindRepoSync,
			RepositoryID: repos[i].ID,
			Priority:     domain.PriorityLow,
			Reason:       domain.ReasonScheduled,
		}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			if errors.Is(err, domain.ErrRecentlySynced) {
				logger.Debug("scheduler: %s recently synced, skipping", repos[i].ID)
				continue
			}
			logger.Warn("scheduler: enqueue sync for %s failed: %v", repos[i].ID, err)
		}
	}
}
