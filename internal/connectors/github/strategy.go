package github

import (
	"context"
	"sync"
	"time"

	"github.com/rivetlabs/gitpulse/internal/core/domain"
	"github.com/rivetlabs/gitpulse/internal/core/ports/driven"
	"github.com/rivetlabs/gitpulse/internal/logger"
)

// Ensure FetchStrategy implements the port.
var _ driven.Fetcher = (*FetchStrategy)(nil)

// graphQLAPI is the GraphQL surface the strategy depends on.
type graphQLAPI interface {
	PRDetails(ctx context.Context, owner, repo string, number int) (*domain.PRDetails, error)
	RecentPRs(ctx context.Context, owner, repo string, since time.Time, limit int) ([]domain.PullRequest, error)
	Discussions(ctx context.Context, owner, repo string, maxItems int) ([]domain.Discussion, error)
}

// restAPI is the REST surface the strategy depends on.
type restAPI interface {
	PRDetails(ctx context.Context, owner, repo string, number int) (*domain.PRDetails, error)
	RecentPRs(ctx context.Context, owner, repo string, since time.Time, limit int) ([]domain.PullRequest, error)
	Reviews(ctx context.Context, owner, repo string, number int) ([]domain.Review, error)
	IssueComments(ctx context.Context, owner, repo string, number int) ([]domain.Comment, error)
	Commits(ctx context.Context, owner, repo string, since time.Time) ([]domain.Commit, error)
	User(ctx context.Context, login string) (*domain.User, error)
}

// Metrics is a snapshot of strategy health counters. The fallback rate
// decides whether GraphQL is healthy enough to keep preferring.
type Metrics struct {
	QueriesExecuted int
	PointsConsumed  int
	FallbackCount   int
}

// FallbackRate returns fallbackCount / queriesExecuted, or 0 before
// the first query.
func (m Metrics) FallbackRate() float64 {
	if m.QueriesExecuted == 0 {
		return 0
	}
	return float64(m.FallbackCount) / float64(m.QueriesExecuted)
}

// FetchStrategy executes typed GitHub queries, preferring GraphQL and
// falling back to REST on transient failures. NOT_FOUND and rate limit
// errors never fall back: the answer would be the same on both APIs.
type FetchStrategy struct {
	gql     graphQLAPI
	rest    restAPI
	tracker *Tracker

	mu        sync.Mutex
	queries   int
	points    int
	fallbacks int
}

// NewFetchStrategy wires a strategy from its two API surfaces and the
// shared tracker.
func NewFetchStrategy(gql *GraphQLClient, rest *RESTClient, tracker *Tracker) *FetchStrategy {
	return &FetchStrategy{gql: gql, rest: rest, tracker: tracker}
}

// newFetchStrategyForTest accepts stub API surfaces.
func newFetchStrategyForTest(gql graphQLAPI, rest restAPI, tracker *Tracker) *FetchStrategy {
	return &FetchStrategy{gql: gql, rest: rest, tracker: tracker}
}

// FetchPRDetails fetches one pull request with reviews and comments.
func (s *FetchStrategy) FetchPRDetails(ctx context.Context, owner, repo string, number int) (*domain.PRDetails, error) {
	details, err := s.gql.PRDetails(ctx, owner, repo, number)
	if err == nil {
		s.observeSuccess()
		return details, nil
	}
	if !domain.IsTransient(err) {
		s.observeFailure()
		return nil, err
	}

	logger.Warn("graphql pr details failed for %s/%s#%d, falling back to REST: %v", owner, repo, number, err)
	s.observeFallback()
	return s.rest.PRDetails(ctx, owner, repo, number)
}

// FetchRecentPRs fetches pull requests updated since the given time.
func (s *FetchStrategy) FetchRecentPRs(ctx context.Context, owner, repo string, since time.Time, limit int) ([]domain.PullRequest, error) {
	prs, err := s.gql.RecentPRs(ctx, owner, repo, since, limit)
	if err == nil {
		s.observeSuccess()
		return prs, nil
	}
	if !domain.IsTransient(err) {
		s.observeFailure()
		return nil, err
	}

	logger.Warn("graphql recent prs failed for %s/%s, falling back to REST: %v", owner, repo, err)
	s.observeFallback()
	return s.rest.RecentPRs(ctx, owner, repo, since, limit)
}

// FetchDiscussions fetches recently updated discussions. GraphQL only;
// discussions have no REST listing endpoint, so transient failures
// surface to the caller for retry.
func (s *FetchStrategy) FetchDiscussions(ctx context.Context, owner, repo string, maxItems int) ([]domain.Discussion, error) {
	discussions, err := s.gql.Discussions(ctx, owner, repo, maxItems)
	if err != nil {
		s.observeFailure()
		return nil, err
	}
	s.observeSuccess()
	return discussions, nil
}

// FetchPRReviews fetches all reviews for a pull request via REST.
func (s *FetchStrategy) FetchPRReviews(ctx context.Context, owner, repo string, number int) ([]domain.Review, error) {
	return s.rest.Reviews(ctx, owner, repo, number)
}

// FetchPRComments fetches all comments on a pull request via REST.
func (s *FetchStrategy) FetchPRComments(ctx context.Context, owner, repo string, number int) ([]domain.Comment, error) {
	return s.rest.IssueComments(ctx, owner, repo, number)
}

// FetchIssueComments fetches all comments on an issue via REST.
func (s *FetchStrategy) FetchIssueComments(ctx context.Context, owner, repo string, number int) ([]domain.Comment, error) {
	return s.rest.IssueComments(ctx, owner, repo, number)
}

// FetchCommits fetches commits authored since the given time via REST.
func (s *FetchStrategy) FetchCommits(ctx context.Context, owner, repo string, since time.Time) ([]domain.Commit, error) {
	return s.rest.Commits(ctx, owner, repo, since)
}

// FetchUser resolves a GitHub login via REST.
func (s *FetchStrategy) FetchUser(ctx context.Context, login string) (*domain.User, error) {
	return s.rest.User(ctx, login)
}

// RateLimit returns the tracked budget snapshot for an API surface.
func (s *FetchStrategy) RateLimit(api string) domain.RateLimitState {
	return s.tracker.Snapshot(api)
}

// Metrics returns a snapshot of the strategy counters.
func (s *FetchStrategy) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Metrics{
		QueriesExecuted: s.queries,
		PointsConsumed:  s.points,
		FallbackCount:   s.fallbacks,
	}
}

func (s *FetchStrategy) observeSuccess() {
	cost := s.tracker.Snapshot(APIGraphQL).CostLastCall
	s.mu.Lock()
	s.queries++
	s.points += cost
	s.mu.Unlock()
}

func (s *FetchStrategy) observeFailure() {
	s.mu.Lock()
	s.queries++
	s.mu.Unlock()
}

func (s *FetchStrategy) observeFallback() {
	s.mu.Lock()
	s.queries++
	s.fallbacks++
	s.mu.Unlock()
}
