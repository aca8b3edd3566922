package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/rivetlabs/gitpulse/internal/core/domain"
	"github.com/rivetlabs/gitpulse/internal/core/ports/driven"
	"github.com/rivetlabs/gitpulse/internal/logger"
)

// JobHandler executes one capture job to completion.
type JobHandler func(ctx context.Context, job *domain.CaptureJob) error

// QueueConfig holds per-kind concurrency limits, per-minute start caps
// and the retry budget.
type QueueConfig struct {
	// Concurrency caps how many jobs sharing a (kind, repository) key
	// may execute at once.
	Concurrency map[domain.JobKind]int

	// StartsPerMinute caps job starts per wall-clock minute per kind.
	StartsPerMinute map[domain.JobKind]int

	// MaxRetries is how many times a retriable failure is resubmitted.
	MaxRetries int
}

// DefaultQueueConfig returns the production queue limits.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Concurrency: map[domain.JobKind]int{
			domain.KindRepoSync:      2,
			domain.KindPRDetails:     10,
			domain.KindPRReviews:     5,
			domain.KindPRComments:    5,
			domain.KindCommits:       2,
			domain.KindIssueComments: 5,
			domain.KindDiscussions:   2,
		},
		StartsPerMinute: map[domain.JobKind]int{
			domain.KindRepoSync:      10,
			domain.KindPRDetails:     60,
			domain.KindPRReviews:     30,
			domain.KindPRComments:    30,
			domain.KindCommits:       10,
			domain.KindIssueComments: 30,
			domain.KindDiscussions:   10,
		},
		MaxRetries: 2,
	}
}

// defaultConcurrency applies when a kind has no configured limit.
const defaultConcurrency = 2

// QueueManager accepts typed capture requests, applies per-key
// concurrency limits and per-kind start throttling, and dispatches
// accepted jobs to their registered handlers. It owns the CaptureJob
// lifecycle: pending -> processing -> {completed, failed}, with failed
// jobs re-entering pending up to the retry budget when the cause was
// retriable.
type QueueManager struct {
	cfg       QueueConfig
	policy    *ThrottlePolicy
	repos     driven.RepositoryStore
	backfills driven.BackfillStore

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	handlers map[domain.JobKind]JobHandler
	sems     map[string]chan struct{}
	buckets  map[domain.JobKind]*rate.Limiter
	jobs     map[string]*domain.CaptureJob

	wg sync.WaitGroup
}

// NewQueueManager creates a queue manager. Handlers are registered
// separately per kind before jobs of that kind are enqueued.
func NewQueueManager(cfg QueueConfig, policy *ThrottlePolicy, repos driven.RepositoryStore, backfills driven.BackfillStore) *QueueManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &QueueManager{
		cfg:       cfg,
		policy:    policy,
		repos:     repos,
		backfills: backfills,
		ctx:       ctx,
		cancel:    cancel,
		handlers:  make(map[domain.JobKind]JobHandler),
		sems:      make(map[string]chan struct{}),
		buckets:   make(map[domain.JobKind]*rate.Limiter),
		jobs:      make(map[string]*domain.CaptureJob),
	}
}

// Register installs the handler for a job kind.
func (m *QueueManager) Register(kind domain.JobKind, handler JobHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[kind] = handler
}

// Enqueue accepts or rejects a capture job. Rejections are
// non-retriable: missing identifiers, or a recently synced repository
// with complete data and no active backfill. Accepted jobs run
// asynchronously.
func (m *QueueManager) Enqueue(ctx context.Context, job *domain.CaptureJob) error {
	if err := m.validate(job); err != nil {
		return err
	}

	m.mu.Lock()
	handler, ok := m.handlers[job.Kind]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("enqueue %s: no handler registered: %w", job.Kind, domain.ErrInvalidInput)
	}

	if err := m.throttleGate(ctx, job); err != nil {
		return err
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	job.Status = domain.StatusPending

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(job, handler)

	return nil
}

// JobStatus returns the current status of a job, or false when unknown.
func (m *QueueManager) JobStatus(jobID string) (domain.JobStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return "", false
	}
	return job.Status, true
}

// Wait blocks until all accepted jobs, including retries, reach a
// terminal state. Used by tests and graceful shutdown.
func (m *QueueManager) Wait() {
	m.wg.Wait()
}

// Shutdown cancels running jobs and waits for them to finish.
func (m *QueueManager) Shutdown() {
	m.cancel()
	m.wg.Wait()
}

// validate rejects jobs lacking required identifiers.
func (m *QueueManager) validate(job *domain.CaptureJob) error {
	if job == nil {
		return domain.ErrInvalidInput
	}
	if job.RepositoryID == "" {
		return fmt.Errorf("enqueue %s: repository id: %w", job.Kind, domain.ErrMissingIdentifier)
	}
	switch job.Kind {
	case domain.KindPRDetails, domain.KindPRReviews, domain.KindPRComments, domain.KindIssueComments:
		if job.TargetID == "" {
			return fmt.Errorf("enqueue %s: target id: %w", job.Kind, domain.ErrMissingIdentifier)
		}
	}
	return nil
}

// throttleGate rejects repository-wide syncs for repositories synced
// within the throttle window, unless data is incomplete or a backfill
// is active. Targeted kinds (single PR details, reviews) pass through:
// they are triggered by events that already imply fresh data.
func (m *QueueManager) throttleGate(ctx context.Context, job *domain.CaptureJob) error {
	switch job.Kind {
	case domain.KindRepoSync, domain.KindCommits:
	default:
		return nil
	}

	repo, err := m.repos.Get(ctx, job.RepositoryID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("enqueue %s: repository %s: %w", job.Kind, job.RepositoryID, err)
		}
		// Store trouble should not block capture; let the job through.
		logger.Warn("throttle gate: repository lookup failed for %s: %v", job.RepositoryID, err)
		return nil
	}

	complete, err := m.repos.HasCompleteData(ctx, job.RepositoryID)
	if err != nil {
		logger.Warn("throttle gate: completeness check failed for %s: %v", job.RepositoryID, err)
		complete = false
	}

	if !m.policy.ShouldSkip(repo.LastSyncedAt, job.Reason, complete) {
		return nil
	}

	active, err := m.backfills.IsActive(ctx, job.RepositoryID)
	if err != nil {
		logger.Warn("throttle gate: backfill lookup failed for %s: %v", job.RepositoryID, err)
		active = false
	}
	if active {
		return nil // Backfill in flight; freshness throttling does not apply.
	}

	return fmt.Errorf("enqueue %s: %s synced %s ago: %w",
		job.Kind, job.RepositoryID,
		time.Since(repo.LastSyncedAt).Round(time.Second), domain.ErrRecentlySynced)
}

// run executes one attempt of a job and resubmits retriable failures.
func (m *QueueManager) run(job *domain.CaptureJob, handler JobHandler) {
	defer m.wg.Done()

	if err := m.bucket(job.Kind).Wait(m.ctx); err != nil {
		m.transition(job, domain.StatusProcessing)
		m.transition(job, domain.StatusFailed)
		return
	}

	sem := m.sem(job.Key(), m.concurrency(job.Kind))
	select {
	case sem <- struct{}{}:
	case <-m.ctx.Done():
		m.transition(job, domain.StatusProcessing)
		m.transition(job, domain.StatusFailed)
		return
	}
	defer func() { <-sem }()

	m.transition(job, domain.StatusProcessing)

	err := handler(m.ctx, job)
	if err == nil {
		m.transition(job, domain.StatusCompleted)
		return
	}

	if domain.IsRetriable(err) && job.Attempts < m.cfg.MaxRetries {
		m.mu.Lock()
		job.Attempts++
		attempt := job.Attempts
		m.mu.Unlock()

		logger.Info("job %s (%s) failed, retrying attempt %d: %v", job.ID, job.Kind, attempt, err)
		m.transition(job, domain.StatusFailed)
		m.transition(job, domain.StatusPending)

		m.wg.Add(1)
		go m.run(job, handler)
		return
	}

	logger.Warn("job %s (%s) failed terminally after %d attempts: %v", job.ID, job.Kind, job.Attempts+1, err)
	m.transition(job, domain.StatusFailed)
}

// transition applies a state machine transition under the lock.
func (m *QueueManager) transition(job *domain.CaptureJob, next domain.JobStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !job.Status.CanTransition(next) {
		logger.Warn("job %s: illegal transition %s -> %s", job.ID, job.Status, next)
		return
	}
	job.Status = next
}

// sem returns the semaphore for a concurrency key, creating it with
// the given capacity on first use.
func (m *QueueManager) sem(key string, capacity int) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sem, ok := m.sems[key]; ok {
		return sem
	}
	sem := make(chan struct{}, capacity)
	m.sems[key] = sem
	return sem
}

// bucket returns the per-kind start limiter, creating it on first use.
func (m *QueueManager) bucket(kind domain.JobKind) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.buckets[kind]; ok {
		return b
	}

	perMinute := m.cfg.StartsPerMinute[kind]
	if perMinute <= 0 {
		perMinute = 60
	}
	b := rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	m.buckets[kind] = b
	return b
}

// concurrency returns the per-key limit for a kind.
func (m *QueueManager) concurrency(kind domain.JobKind) int {
	if n, ok := m.cfg.Concurrency[kind]; ok && n > 0 {
		return n
	}
	return defaultConcurrency
}
