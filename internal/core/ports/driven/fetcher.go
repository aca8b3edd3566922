package driven

import (
	"context"
	"time"

	"github.com/rivetlabs/gitpulse/internal/core/domain"
)

// Fetcher executes typed queries against the GitHub API. The concrete
// implementation prefers GraphQL and falls back to REST on transient
// failures; callers see only domain records and the shared error
// taxonomy (domain.ErrNotFound, *domain.RateLimitError,
// *domain.TransientError).
type Fetcher interface {
	// FetchPRDetails fetches one pull request with its reviews and comments.
	FetchPRDetails(ctx context.Context, owner, repo string, number int) (*domain.PRDetails, error)

	// FetchRecentPRs fetches pull requests updated since the given time,
	// newest first, capped at limit.
	FetchRecentPRs(ctx context.Context, owner, repo string, since time.Time, limit int) ([]domain.PullRequest, error)

	// FetchPRReviews fetches all reviews for a pull request.
	FetchPRReviews(ctx context.Context, owner, repo string, number int) ([]domain.Review, error)

	// FetchPRComments fetches all comments on a pull request.
	FetchPRComments(ctx context.Context, owner, repo string, number int) ([]domain.Comment, error)

	// FetchIssueComments fetches all comments on an issue.
	FetchIssueComments(ctx context.Context, owner, repo string, number int) ([]domain.Comment, error)

	// FetchCommits fetches commits authored since the given time.
	FetchCommits(ctx context.Context, owner, repo string, since time.Time) ([]domain.Commit, error)

	// FetchDiscussions fetches up to maxItems recently updated discussions.
	FetchDiscussions(ctx context.Context, owner, repo string, maxItems int) ([]domain.Discussion, error)

	// FetchUser resolves a GitHub login to account details.
	FetchUser(ctx context.Context, login string) (*domain.User, error)

	// RateLimit returns the tracked budget snapshot for the given API
	// surface ("graphql" or "rest").
	RateLimit(api string) domain.RateLimitState
}
