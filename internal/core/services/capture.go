package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rivetlabs/gitpulse/internal/core/domain"
	"github.com/rivetlabs/gitpulse/internal/core/ports/driven"
	"github.com/rivetlabs/gitpulse/internal/logger"
)

// Capture defaults.
const (
	// DefaultSyncDays is the look-back window for repository syncs.
	DefaultSyncDays = 30

	// DefaultInitialCommitDays is the look-back window for an initial
	// commit backfill.
	DefaultInitialCommitDays = 90

	// DefaultRecentPRLimit caps how many pull requests one repository
	// sync fetches.
	DefaultRecentPRLimit = 100

	// DefaultDiscussionItems caps a discussion capture run.
	DefaultDiscussionItems = 50

	// userFanout bounds parallel comment author resolution.
	userFanout = 4
)

// RepositorySyncRequest triggers a repository-wide pull request sync.
type RepositorySyncRequest struct {
	RepositoryID string            `json:"repositoryId"`
	Days         int               `json:"days"`
	Priority     domain.Priority   `json:"priority"`
	Reason       domain.SyncReason `json:"reason"`
}

// PRTargetRequest triggers capture for one pull request.
type PRTargetRequest struct {
	RepositoryID string          `json:"repositoryId"`
	PRNumber     int             `json:"prNumber"`
	PRID         string          `json:"prId"`
	Priority     domain.Priority `json:"priority"`
}

// CommitsRequest triggers an initial or incremental commit capture.
type CommitsRequest struct {
	RepositoryID   string            `json:"repositoryId"`
	RepositoryName string            `json:"repositoryName"`
	Days           int               `json:"days"`
	ForceInitial   bool              `json:"forceInitial"`
	Reason         domain.SyncReason `json:"reason"`
}

// DiscussionsRequest triggers a discussion capture.
type DiscussionsRequest struct {
	RepositoryID string `json:"repositoryId"`
	MaxItems     int    `json:"maxItems"`
}

// IssueCommentsRequest triggers comment capture for one issue.
type IssueCommentsRequest struct {
	RepositoryID string          `json:"repositoryId"`
	IssueNumber  int             `json:"issueNumber"`
	Priority     domain.Priority `json:"priority"`
}

// CaptureService implements the capture job handlers. Each handler
// runs one job to completion: throttle check, fetch, persist, audit
// log, and an asynchronous embedding pass when content changed.
type CaptureService struct {
	fetcher   driven.Fetcher
	repos     driven.RepositoryStore
	items     driven.ItemStore
	backfills driven.BackfillStore
	syncLog   *SyncLogger
	policy    *ThrottlePolicy
	pipeline  *EmbeddingPipeline // nil disables embedding scheduling
	now       func() time.Time

	embedWG sync.WaitGroup
}

// NewCaptureService wires the capture service.
func NewCaptureService(
	fetcher driven.Fetcher,
	repos driven.RepositoryStore,
	items driven.ItemStore,
	backfills driven.BackfillStore,
	syncLog *SyncLogger,
	policy *ThrottlePolicy,
	pipeline *EmbeddingPipeline,
) *CaptureService {
	return &CaptureService{
		fetcher:   fetcher,
		repos:     repos,
		items:     items,
		backfills: backfills,
		syncLog:   syncLog,
		policy:    policy,
		pipeline:  pipeline,
		now:       time.Now,
	}
}

// RegisterHandlers binds the service's handlers to the queue manager.
func (s *CaptureService) RegisterHandlers(q *QueueManager) {
	q.Register(domain.KindRepoSync, func(ctx context.Context, job *domain.CaptureJob) error {
		return s.RepositorySync(ctx, RepositorySyncRequest{
			RepositoryID: job.RepositoryID,
			Priority:     job.Priority,
			Reason:       job.Reason,
		})
	})
	q.Register(domain.KindPRDetails, s.prTargetHandler(s.PRDetails))
	q.Register(domain.KindPRReviews, s.prTargetHandler(s.PRReviews))
	q.Register(domain.KindPRComments, s.prTargetHandler(s.PRComments))
	q.Register(domain.KindIssueComments, func(ctx context.Context, job *domain.CaptureJob) error {
		number, err := strconv.Atoi(job.TargetID)
		if err != nil {
			return fmt.Errorf("issue comments: target %q: %w", job.TargetID, domain.ErrInvalidInput)
		}
		return s.IssueComments(ctx, IssueCommentsRequest{
			RepositoryID: job.RepositoryID,
			IssueNumber:  number,
			Priority:     job.Priority,
		})
	})
	q.Register(domain.KindCommits, func(ctx context.Context, job *domain.CaptureJob) error {
		return s.Commits(ctx, CommitsRequest{
			RepositoryID: job.RepositoryID,
			Reason:       job.Reason,
		})
	})
	q.Register(domain.KindDiscussions, func(ctx context.Context, job *domain.CaptureJob) error {
		return s.Discussions(ctx, DiscussionsRequest{RepositoryID: job.RepositoryID})
	})
}

func (s *CaptureService) prTargetHandler(fn func(context.Context, PRTargetRequest) error) JobHandler {
	return func(ctx context.Context, job *domain.CaptureJob) error {
		number, err := strconv.Atoi(job.TargetID)
		if err != nil {
			return fmt.Errorf("pr target %q: %w", job.TargetID, domain.ErrInvalidInput)
		}
		return fn(ctx, PRTargetRequest{
			RepositoryID: job.RepositoryID,
			PRNumber:     number,
			Priority:     job.Priority,
		})
	}
}

// RepositorySync captures recently updated pull requests for a
// repository. Rejects with domain.ErrRecentlySynced, making zero
// upstream calls, when the throttle window applies.
func (s *CaptureService) RepositorySync(ctx context.Context, req RepositorySyncRequest) error {
	repo, err := s.lookupRepo(ctx, req.RepositoryID)
	if err != nil {
		return err
	}

	if err := s.checkThrottle(ctx, repo, req.Reason); err != nil {
		return err
	}

	days := req.Days
	if days <= 0 {
		days = DefaultSyncDays
	}
	since := s.now().AddDate(0, 0, -days)

	run := s.syncLog.Start(ctx, domain.KindRepoSync, repo.ID, map[string]any{
		"days":   days,
		"reason": string(req.Reason),
	})

	prs, err := s.fetcher.FetchRecentPRs(ctx, repo.Owner, repo.Name, since, DefaultRecentPRLimit)
	if err != nil {
		run.Fail(ctx, err.Error(), domain.SyncCounters{APICalls: 1})
		return fmt.Errorf("fetch recent prs: %w", err)
	}

	inserted, err := s.items.UpsertPullRequests(ctx, prs)
	if err != nil {
		run.Fail(ctx, err.Error(), domain.SyncCounters{Processed: len(prs), APICalls: 1})
		return fmt.Errorf("persist pull requests: %w", err)
	}

	if err := s.repos.SetLastSynced(ctx, repo.ID, s.now()); err != nil {
		logger.Warn("set last synced for %s failed: %v", repo.ID, err)
	}

	run.Complete(ctx, domain.SyncCounters{
		Processed: len(prs),
		Inserted:  inserted,
		APICalls:  1,
	})

	if len(prs) > 0 {
		s.scheduleEmbeddings(repo.ID, []domain.ItemKind{domain.ItemPullRequest})
	}

	logger.Info("repository sync %s: %d prs, %d new", repo.FullName(), len(prs), inserted)
	return nil
}

// PRDetails captures one pull request with its reviews and comments.
func (s *CaptureService) PRDetails(ctx context.Context, req PRTargetRequest) error {
	repo, err := s.lookupRepo(ctx, req.RepositoryID)
	if err != nil {
		return err
	}
	if req.PRNumber <= 0 {
		return fmt.Errorf("pr details: pr number: %w", domain.ErrMissingIdentifier)
	}

	run := s.syncLog.Start(ctx, domain.KindPRDetails, repo.ID, map[string]any{"pr": req.PRNumber})

	details, err := s.fetcher.FetchPRDetails(ctx, repo.Owner, repo.Name, req.PRNumber)
	if err != nil {
		run.Fail(ctx, err.Error(), domain.SyncCounters{APICalls: 1})
		return fmt.Errorf("fetch pr details: %w", err)
	}

	counters := domain.SyncCounters{APICalls: 1}

	inserted, err := s.items.UpsertPullRequests(ctx, []domain.PullRequest{details.PullRequest})
	if err != nil {
		run.Fail(ctx, err.Error(), counters)
		return fmt.Errorf("persist pull request: %w", err)
	}
	counters.Processed++
	counters.Inserted += inserted

	if n, err := s.items.UpsertReviews(ctx, details.Reviews); err != nil {
		counters.Failed += len(details.Reviews)
		logger.Warn("persist reviews for %s#%d failed: %v", repo.FullName(), req.PRNumber, err)
	} else {
		counters.Processed += len(details.Reviews)
		counters.Inserted += n
	}

	if n, err := s.items.UpsertComments(ctx, details.Comments); err != nil {
		counters.Failed += len(details.Comments)
		logger.Warn("persist comments for %s#%d failed: %v", repo.FullName(), req.PRNumber, err)
	} else {
		counters.Processed += len(details.Comments)
		counters.Inserted += n
	}

	if err := s.resolveAuthors(ctx, details.Comments); err != nil {
		// Author resolution is enrichment; failures never abort capture.
		logger.Warn("resolve authors for %s#%d: %v", repo.FullName(), req.PRNumber, err)
	}

	run.Complete(ctx, counters)
	s.scheduleEmbeddings(repo.ID, []domain.ItemKind{domain.ItemPullRequest})
	return nil
}

// PRReviews captures reviews for one pull request.
func (s *CaptureService) PRReviews(ctx context.Context, req PRTargetRequest) error {
	repo, err := s.lookupRepo(ctx, req.RepositoryID)
	if err != nil {
		return err
	}
	if req.PRNumber <= 0 {
		return fmt.Errorf("pr reviews: pr number: %w", domain.ErrMissingIdentifier)
	}

	run := s.syncLog.Start(ctx, domain.KindPRReviews, repo.ID, map[string]any{"pr": req.PRNumber})

	reviews, err := s.fetcher.FetchPRReviews(ctx, repo.Owner, repo.Name, req.PRNumber)
	if err != nil {
		run.Fail(ctx, err.Error(), domain.SyncCounters{APICalls: 1})
		return fmt.Errorf("fetch reviews: %w", err)
	}

	inserted, err := s.items.UpsertReviews(ctx, reviews)
	if err != nil {
		run.Fail(ctx, err.Error(), domain.SyncCounters{Processed: len(reviews), APICalls: 1})
		return fmt.Errorf("persist reviews: %w", err)
	}

	run.Complete(ctx, domain.SyncCounters{Processed: len(reviews), Inserted: inserted, APICalls: 1})
	return nil
}

// PRComments captures comments for one pull request and resolves their
// authors with bounded parallelism.
func (s *CaptureService) PRComments(ctx context.Context, req PRTargetRequest) error {
	repo, err := s.lookupRepo(ctx, req.RepositoryID)
	if err != nil {
		return err
	}
	if req.PRNumber <= 0 {
		return fmt.Errorf("pr comments: pr number: %w", domain.ErrMissingIdentifier)
	}

	run := s.syncLog.Start(ctx, domain.KindPRComments, repo.ID, map[string]any{"pr": req.PRNumber})

	comments, err := s.fetcher.FetchPRComments(ctx, repo.Owner, repo.Name, req.PRNumber)
	if err != nil {
		run.Fail(ctx, err.Error(), domain.SyncCounters{APICalls: 1})
		return fmt.Errorf("fetch pr comments: %w", err)
	}

	inserted, err := s.items.UpsertComments(ctx, comments)
	if err != nil {
		run.Fail(ctx, err.Error(), domain.SyncCounters{Processed: len(comments), APICalls: 1})
		return fmt.Errorf("persist comments: %w", err)
	}

	if err := s.resolveAuthors(ctx, comments); err != nil {
		logger.Warn("resolve authors for %s#%d: %v", repo.FullName(), req.PRNumber, err)
	}

	run.Complete(ctx, domain.SyncCounters{Processed: len(comments), Inserted: inserted, APICalls: 1})
	return nil
}

// IssueComments captures comments for one issue.
func (s *CaptureService) IssueComments(ctx context.Context, req IssueCommentsRequest) error {
	repo, err := s.lookupRepo(ctx, req.RepositoryID)
	if err != nil {
		return err
	}
	if req.IssueNumber <= 0 {
		return fmt.Errorf("issue comments: issue number: %w", domain.ErrMissingIdentifier)
	}

	run := s.syncLog.Start(ctx, domain.KindIssueComments, repo.ID, map[string]any{"issue": req.IssueNumber})

	comments, err := s.fetcher.FetchIssueComments(ctx, repo.Owner, repo.Name, req.IssueNumber)
	if err != nil {
		run.Fail(ctx, err.Error(), domain.SyncCounters{APICalls: 1})
		return fmt.Errorf("fetch issue comments: %w", err)
	}

	inserted, err := s.items.UpsertComments(ctx, comments)
	if err != nil {
		run.Fail(ctx, err.Error(), domain.SyncCounters{Processed: len(comments), APICalls: 1})
		return fmt.Errorf("persist comments: %w", err)
	}

	run.Complete(ctx, domain.SyncCounters{Processed: len(comments), Inserted: inserted, APICalls: 1})
	return nil
}

// Commits captures commits. An initial capture (forced or first run)
// marks a backfill active for its duration so repository-wide throttle
// rules do not block follow-up jobs.
func (s *CaptureService) Commits(ctx context.Context, req CommitsRequest) error {
	repo, err := s.lookupRepo(ctx, req.RepositoryID)
	if err != nil {
		return err
	}

	initial := req.ForceInitial || repo.LastSyncedAt.IsZero()
	days := req.Days
	if days <= 0 {
		if initial {
			days = DefaultInitialCommitDays
		} else {
			days = DefaultSyncDays
		}
	}
	since := s.now().AddDate(0, 0, -days)

	if initial {
		if err := s.backfills.SetActive(ctx, repo.ID, true); err != nil {
			logger.Warn("mark backfill active for %s failed: %v", repo.ID, err)
		}
		defer func() {
			if err := s.backfills.SetActive(ctx, repo.ID, false); err != nil {
				logger.Warn("mark backfill idle for %s failed: %v", repo.ID, err)
			}
		}()
	}

	run := s.syncLog.Start(ctx, domain.KindCommits, repo.ID, map[string]any{
		"days":    days,
		"initial": initial,
	})

	commits, err := s.fetcher.FetchCommits(ctx, repo.Owner, repo.Name, since)
	if err != nil {
		run.Fail(ctx, err.Error(), domain.SyncCounters{APICalls: 1})
		return fmt.Errorf("fetch commits: %w", err)
	}

	inserted, err := s.items.UpsertCommits(ctx, commits)
	if err != nil {
		run.Fail(ctx, err.Error(), domain.SyncCounters{Processed: len(commits), APICalls: 1})
		return fmt.Errorf("persist commits: %w", err)
	}

	run.Complete(ctx, domain.SyncCounters{Processed: len(commits), Inserted: inserted, APICalls: 1})
	logger.Info("commit capture %s: %d commits, %d new (initial=%t)", repo.FullName(), len(commits), inserted, initial)
	return nil
}

// Discussions captures recently updated discussions.
func (s *CaptureService) Discussions(ctx context.Context, req DiscussionsRequest) error {
	repo, err := s.lookupRepo(ctx, req.RepositoryID)
	if err != nil {
		return err
	}

	maxItems := req.MaxItems
	if maxItems <= 0 {
		maxItems = DefaultDiscussionItems
	}

	run := s.syncLog.Start(ctx, domain.KindDiscussions, repo.ID, map[string]any{"max_items": maxItems})

	discussions, err := s.fetcher.FetchDiscussions(ctx, repo.Owner, repo.Name, maxItems)
	if err != nil {
		run.Fail(ctx, err.Error(), domain.SyncCounters{APICalls: 1})
		return fmt.Errorf("fetch discussions: %w", err)
	}

	inserted, err := s.items.UpsertDiscussions(ctx, discussions)
	if err != nil {
		run.Fail(ctx, err.Error(), domain.SyncCounters{Processed: len(discussions), APICalls: 1})
		return fmt.Errorf("persist discussions: %w", err)
	}

	run.Complete(ctx, domain.SyncCounters{Processed: len(discussions), Inserted: inserted, APICalls: 1})

	if len(discussions) > 0 {
		s.scheduleEmbeddings(repo.ID, []domain.ItemKind{domain.ItemDiscussion})
	}
	return nil
}

// ComputeEmbeddings runs the embedding pipeline synchronously.
func (s *CaptureService) ComputeEmbeddings(ctx context.Context, req ComputeRequest) (*domain.EmbeddingJob, error) {
	if s.pipeline == nil {
		return nil, fmt.Errorf("compute embeddings: %w", domain.ErrFeatureDisabled)
	}
	return s.pipeline.Run(ctx, req)
}

// WaitEmbeddings blocks until scheduled embedding runs finish. Used by
// tests and graceful shutdown.
func (s *CaptureService) WaitEmbeddings() {
	s.embedWG.Wait()
}

// lookupRepo resolves a repository ID, rejecting missing identifiers.
func (s *CaptureService) lookupRepo(ctx context.Context, repositoryID string) (*domain.Repository, error) {
	if repositoryID == "" {
		return nil, fmt.Errorf("repository id: %w", domain.ErrMissingIdentifier)
	}
	repo, err := s.repos.Get(ctx, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("get repository %s: %w", repositoryID, err)
	}
	return repo, nil
}

// checkThrottle applies the throttle policy ahead of any upstream call.
func (s *CaptureService) checkThrottle(ctx context.Context, repo *domain.Repository, reason domain.SyncReason) error {
	complete, err := s.repos.HasCompleteData(ctx, repo.ID)
	if err != nil {
		logger.Warn("completeness check for %s failed: %v", repo.ID, err)
		complete = false
	}

	if !s.policy.ShouldSkip(repo.LastSyncedAt, reason, complete) {
		return nil
	}

	active, err := s.backfills.IsActive(ctx, repo.ID)
	if err != nil {
		logger.Warn("backfill lookup for %s failed: %v", repo.ID, err)
		active = false
	}
	if active {
		return nil
	}

	return fmt.Errorf("repository %s synced %s ago (window %s): %w",
		repo.ID, s.now().Sub(repo.LastSyncedAt).Round(time.Second),
		s.policy.Window(reason, complete), domain.ErrRecentlySynced)
}

// resolveAuthors resolves distinct comment authors with bounded
// parallelism and persists them. Results are joined before returning;
// ordering across authors does not matter.
func (s *CaptureService) resolveAuthors(ctx context.Context, comments []domain.Comment) error {
	logins := make(map[string]struct{})
	for _, c := range comments {
		if c.Author != "" {
			logins[c.Author] = struct{}{}
		}
	}
	if len(logins) == 0 {
		return nil
	}

	var mu sync.Mutex
	users := make([]domain.User, 0, len(logins))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(userFanout)
	for login := range logins {
		g.Go(func() error {
			user, err := s.fetcher.FetchUser(gctx, login)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return nil // Deleted accounts are expected.
				}
				return fmt.Errorf("resolve %s: %w", login, err)
			}
			mu.Lock()
			users = append(users, *user)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if _, err := s.items.UpsertUsers(ctx, users); err != nil {
		return fmt.Errorf("persist users: %w", err)
	}
	return nil
}

// scheduleEmbeddings queues an asynchronous embedding pass for freshly
// captured content. Best-effort: capture success does not depend on it.
func (s *CaptureService) scheduleEmbeddings(repositoryID string, kinds []domain.ItemKind) {
	if s.pipeline == nil {
		return
	}

	s.embedWG.Add(1)
	go func() {
		defer s.embedWG.Done()
		_, err := s.pipeline.Run(context.Background(), ComputeRequest{
			RepositoryID: repositoryID,
			ItemKinds:    kinds,
		})
		if err != nil {
			logger.Warn("scheduled embedding run for %s failed: %v", repositoryID, err)
		}
	}()
}
