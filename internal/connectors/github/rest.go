package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"

	"github.com/rivetlabs/gitpulse/internal/core/domain"
)

// RESTTimeout is the default HTTP request timeout for REST calls.
const RESTTimeout = 30 * time.Second

// RESTClient wraps the go-github client with rate limiting and error
// classification. It serves as the fallback path when GraphQL fails
// transiently, and as the primary path for review/comment/commit
// listings.
type RESTClient struct {
	gh      *gh.Client
	limiter *RateLimiter
	tracker *Tracker
}

// NewRESTClient creates a REST client with a static access token.
func NewRESTClient(ctx context.Context, token string, tracker *Tracker) *RESTClient {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)
	tc.Timeout = RESTTimeout

	return &RESTClient{
		gh:      gh.NewClient(tc),
		limiter: NewRateLimiter(),
		tracker: tracker,
	}
}

// NewRESTClientWithHTTPClient creates a REST client with a custom
// http.Client. Useful for testing against a stub server.
func NewRESTClientWithHTTPClient(httpClient *http.Client, tracker *Tracker) *RESTClient {
	return &RESTClient{
		gh:      gh.NewClient(httpClient),
		limiter: NewRateLimiter(),
		tracker: tracker,
	}
}

// Limiter returns the REST rate limiter.
func (c *RESTClient) Limiter() *RateLimiter {
	return c.limiter
}

// PRDetails fetches one pull request with reviews and comments. The
// REST equivalent of the GraphQL single-query fetch takes three calls.
func (c *RESTClient) PRDetails(ctx context.Context, owner, repo string, number int) (*domain.PRDetails, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	pr, resp, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, c.wrapError(err, "get pull request")
	}
	c.observe(resp)

	reviews, err := c.Reviews(ctx, owner, repo, number)
	if err != nil {
		return nil, err
	}
	comments, err := c.IssueComments(ctx, owner, repo, number)
	if err != nil {
		return nil, err
	}

	repoID := owner + "/" + repo
	return &domain.PRDetails{
		PullRequest: convertRESTPullRequest(repoID, pr),
		Reviews:     reviews,
		Comments:    comments,
	}, nil
}

// RecentPRs fetches pull requests updated since the given time, newest
// first, capped at limit.
func (c *RESTClient) RecentPRs(ctx context.Context, owner, repo string, since time.Time, limit int) ([]domain.PullRequest, error) {
	repoID := owner + "/" + repo

	opts := &gh.PullRequestListOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gh.ListOptions{PerPage: 100},
	}

	var prs []domain.PullRequest
	for {
		select {
		case <-ctx.Done():
			return prs, ctx.Err()
		default:
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		page, resp, err := c.gh.PullRequests.List(ctx, owner, repo, opts)
		if err != nil {
			return nil, c.wrapError(err, "list pull requests")
		}
		c.observe(resp)

		for _, pr := range page {
			if !since.IsZero() && pr.GetUpdatedAt().Time.Before(since) {
				return prs, nil // Sorted by updated desc; rest is older.
			}
			prs = append(prs, convertRESTPullRequest(repoID, pr))
			if limit > 0 && len(prs) >= limit {
				return prs, nil
			}
		}

		if resp.NextPage == 0 {
			return prs, nil
		}
		opts.Page = resp.NextPage
	}
}

// Reviews fetches all reviews for a pull request.
func (c *RESTClient) Reviews(ctx context.Context, owner, repo string, number int) ([]domain.Review, error) {
	repoID := owner + "/" + repo
	opts := &gh.ListOptions{PerPage: 100}

	var reviews []domain.Review
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		page, resp, err := c.gh.PullRequests.ListReviews(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, c.wrapError(err, "list reviews")
		}
		c.observe(resp)

		for _, r := range page {
			reviews = append(reviews, domain.Review{
				ID:           fmt.Sprintf("%d", r.GetID()),
				RepositoryID: repoID,
				PRNumber:     number,
				Author:       r.GetUser().GetLogin(),
				State:        r.GetState(),
				Body:         r.GetBody(),
				SubmittedAt:  r.GetSubmittedAt().Time,
			})
		}

		if resp.NextPage == 0 {
			return reviews, nil
		}
		opts.Page = resp.NextPage
	}
}

// IssueComments fetches all comments on an issue or pull request.
func (c *RESTClient) IssueComments(ctx context.Context, owner, repo string, number int) ([]domain.Comment, error) {
	repoID := owner + "/" + repo
	opts := &gh.IssueListCommentsOptions{ListOptions: gh.ListOptions{PerPage: 100}}

	var comments []domain.Comment
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		page, resp, err := c.gh.Issues.ListComments(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, c.wrapError(err, "list comments")
		}
		c.observe(resp)

		for _, cm := range page {
			comments = append(comments, domain.Comment{
				ID:           fmt.Sprintf("%d", cm.GetID()),
				RepositoryID: repoID,
				IssueNumber:  number,
				Author:       cm.GetUser().GetLogin(),
				Body:         cm.GetBody(),
				CreatedAt:    cm.GetCreatedAt().Time,
			})
		}

		if resp.NextPage == 0 {
			return comments, nil
		}
		opts.Page = resp.NextPage
	}
}

// Commits fetches commits authored since the given time.
func (c *RESTClient) Commits(ctx context.Context, owner, repo string, since time.Time) ([]domain.Commit, error) {
	repoID := owner + "/" + repo
	opts := &gh.CommitsListOptions{
		Since:       since,
		ListOptions: gh.ListOptions{PerPage: 100},
	}

	var commits []domain.Commit
	for {
		select {
		case <-ctx.Done():
			return commits, ctx.Err()
		default:
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		page, resp, err := c.gh.Repositories.ListCommits(ctx, owner, repo, opts)
		if err != nil {
			return nil, c.wrapError(err, "list commits")
		}
		c.observe(resp)

		for _, commit := range page {
			commits = append(commits, domain.Commit{
				SHA:          commit.GetSHA(),
				RepositoryID: repoID,
				Author:       commit.GetAuthor().GetLogin(),
				Message:      commit.GetCommit().GetMessage(),
				AuthoredAt:   commit.GetCommit().GetAuthor().GetDate().Time,
			})
		}

		if resp.NextPage == 0 {
			return commits, nil
		}
		opts.Page = resp.NextPage
	}
}

// User resolves a GitHub login to account details.
func (c *RESTClient) User(ctx context.Context, login string) (*domain.User, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	user, resp, err := c.gh.Users.Get(ctx, login)
	if err != nil {
		return nil, c.wrapError(err, "get user")
	}
	c.observe(resp)

	return &domain.User{
		Login:     user.GetLogin(),
		Name:      user.GetName(),
		AvatarURL: user.GetAvatarURL(),
		IsBot:     user.GetType() == "Bot",
	}, nil
}

// observe updates the limiter and tracker from a REST response.
// REST calls always cost one request.
func (c *RESTClient) observe(resp *gh.Response) {
	if resp == nil || resp.Response == nil {
		return
	}
	c.limiter.UpdateFromResponse(resp.Response)
	c.tracker.Record(APIREST, 1, c.limiter.Remaining(), c.limiter.Limit(), c.limiter.ResetTime())
}

// wrapError maps go-github errors onto the shared error taxonomy.
func (c *RESTClient) wrapError(err error, op string) error {
	if err == nil {
		return nil
	}

	var rateLimitErr *gh.RateLimitError
	if errors.As(err, &rateLimitErr) {
		return &domain.RateLimitError{
			ResetAt:   c.limiter.ResetTime(),
			Remaining: c.limiter.Remaining(),
			Limit:     c.limiter.Limit(),
		}
	}

	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		switch {
		case ghErr.Response.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
		case ghErr.Response.StatusCode == http.StatusTooManyRequests:
			return &domain.RateLimitError{ResetAt: c.limiter.ResetTime()}
		case ghErr.Response.StatusCode >= 500:
			return &domain.TransientError{Op: op, Err: err}
		default:
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	// Network-level failures are transient.
	return &domain.TransientError{Op: op, Err: err}
}

// convertRESTPullRequest maps a go-github pull request to the domain record.
func convertRESTPullRequest(repoID string, pr *gh.PullRequest) domain.PullRequest {
	state := pr.GetState()
	if pr.GetMerged() || pr.MergedAt != nil {
		state = "merged"
	}
	return domain.PullRequest{
		ID:           fmt.Sprintf("%d", pr.GetID()),
		RepositoryID: repoID,
		Number:       pr.GetNumber(),
		Title:        pr.GetTitle(),
		Body:         pr.GetBody(),
		State:        state,
		Draft:        pr.GetDraft(),
		Author:       pr.GetUser().GetLogin(),
		Additions:    pr.GetAdditions(),
		Deletions:    pr.GetDeletions(),
		ChangedFiles: pr.GetChangedFiles(),
		CreatedAt:    pr.GetCreatedAt().Time,
		UpdatedAt:    pr.GetUpdatedAt().Time,
		MergedAt:     pr.GetMergedAt().Time,
	}
}
