package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/rivetlabs/gitpulse/internal/core/domain"
)

const (
	// DefaultGraphQLEndpoint is the GitHub GraphQL API endpoint.
	DefaultGraphQLEndpoint = "https://api.github.com/graphql"

	// GraphQLTimeout is the per-request timeout for GraphQL queries.
	GraphQLTimeout = 30 * time.Second
)

// GraphQL error types returned in the response error envelope.
const (
	errTypeNotFound    = "NOT_FOUND"
	errTypeRateLimited = "RATE_LIMITED"
)

// GraphQLClient executes queries against the GitHub GraphQL API. Every
// query includes the rateLimit envelope so the tracker sees the exact
// point cost of each call.
type GraphQLClient struct {
	httpClient *http.Client
	endpoint   string
	tracker    *Tracker
}

// NewGraphQLClient creates a GraphQL client authenticated with a static
// token. The client is constructed once at process start and injected
// into consumers; there is no lazy initialization.
func NewGraphQLClient(ctx context.Context, token string, tracker *Tracker) *GraphQLClient {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)
	tc.Timeout = GraphQLTimeout

	return &GraphQLClient{
		httpClient: tc,
		endpoint:   DefaultGraphQLEndpoint,
		tracker:    tracker,
	}
}

// NewGraphQLClientWithHTTPClient creates a GraphQL client with a custom
// http.Client and endpoint. Useful for testing.
func NewGraphQLClientWithHTTPClient(httpClient *http.Client, endpoint string, tracker *Tracker) *GraphQLClient {
	return &GraphQLClient{
		httpClient: httpClient,
		endpoint:   endpoint,
		tracker:    tracker,
	}
}

// graphQLRequest is the wire format of a GraphQL POST body.
type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphQLResponse is the GraphQL response envelope.
type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// graphQLError is a single error in the response envelope.
type graphQLError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// gqlRateLimit is the rateLimit envelope included in every query.
type gqlRateLimit struct {
	Cost      int       `json:"cost"`
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"resetAt"`
}

// execute posts a query and unmarshals the data envelope into out.
// Transport failures and 5xx responses classify as transient; the
// error envelope classifies by its type field.
func (c *GraphQLClient) execute(ctx context.Context, op, query string, vars map[string]any, out any) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.TransientError{Op: op, Err: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return &domain.RateLimitError{ResetAt: c.tracker.Snapshot(APIGraphQL).ResetAt}
	}
	if resp.StatusCode >= 500 {
		return &domain.TransientError{Op: op, Err: fmt.Errorf("graphql status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: graphql status %d: %s", op, resp.StatusCode, string(respBody))
	}

	var envelope graphQLResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return &domain.TransientError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}

	if err := classifyErrors(op, envelope.Errors); err != nil {
		return err
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return &domain.TransientError{Op: op, Err: fmt.Errorf("decode data: %w", err)}
		}
	}

	return nil
}

// classifyErrors maps the GraphQL error envelope onto the shared error
// taxonomy.
func classifyErrors(op string, errs []graphQLError) error {
	if len(errs) == 0 {
		return nil
	}

	for _, e := range errs {
		switch e.Type {
		case errTypeNotFound:
			return fmt.Errorf("%s: %s: %w", op, e.Message, domain.ErrNotFound)
		case errTypeRateLimited:
			return &domain.RateLimitError{ResetAt: time.Now().Add(time.Minute)}
		}
	}

	return &domain.TransientError{Op: op, Err: fmt.Errorf("graphql: %s", errs[0].Message)}
}

// record feeds the rateLimit envelope of a completed query into the
// tracker.
func (c *GraphQLClient) record(rl gqlRateLimit) {
	if rl.Limit == 0 {
		return // Envelope missing; nothing to record.
	}
	c.tracker.Record(APIGraphQL, rl.Cost, rl.Remaining, rl.Limit, rl.ResetAt)
}

// --- Typed queries ---

// gqlActor is an author reference.
type gqlActor struct {
	Login string `json:"login"`
}

// gqlPullRequest mirrors the pullRequest GraphQL object.
type gqlPullRequest struct {
	ID           string     `json:"id"`
	Number       int        `json:"number"`
	Title        string     `json:"title"`
	Body         string     `json:"body"`
	State        string     `json:"state"`
	IsDraft      bool       `json:"isDraft"`
	Author       gqlActor   `json:"author"`
	Additions    int        `json:"additions"`
	Deletions    int        `json:"deletions"`
	ChangedFiles int        `json:"changedFiles"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	MergedAt     *time.Time `json:"mergedAt"`
}

// gqlReview mirrors the review GraphQL object.
type gqlReview struct {
	ID          string    `json:"id"`
	Author      gqlActor  `json:"author"`
	State       string    `json:"state"`
	Body        string    `json:"body"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// gqlComment mirrors the issueComment GraphQL object.
type gqlComment struct {
	ID        string    `json:"id"`
	Author    gqlActor  `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// gqlDiscussion mirrors the discussion GraphQL object.
type gqlDiscussion struct {
	ID        string    `json:"id"`
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Author    gqlActor  `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Category  struct {
		Name string `json:"name"`
	} `json:"category"`
}

const prDetailsQuery = `
query($owner: String!, $repo: String!, $number: Int!) {
  repository(owner: $owner, name: $repo) {
    pullRequest(number: $number) {
      id number title body state isDraft
      author { login }
      additions deletions changedFiles
      createdAt updatedAt mergedAt
      reviews(first: 100) {
        nodes { id author { login } state body submittedAt }
      }
      comments(first: 100) {
        nodes { id author { login } body createdAt }
      }
    }
  }
  rateLimit { cost remaining limit resetAt }
}`

// PRDetails fetches one pull request with reviews and comments in a
// single query.
func (c *GraphQLClient) PRDetails(ctx context.Context, owner, repo string, number int) (*domain.PRDetails, error) {
	var data struct {
		Repository struct {
			PullRequest *struct {
				gqlPullRequest
				Reviews struct {
					Nodes []gqlReview `json:"nodes"`
				} `json:"reviews"`
				Comments struct {
					Nodes []gqlComment `json:"nodes"`
				} `json:"comments"`
			} `json:"pullRequest"`
		} `json:"repository"`
		RateLimit gqlRateLimit `json:"rateLimit"`
	}

	vars := map[string]any{"owner": owner, "repo": repo, "number": number}
	if err := c.execute(ctx, "pr details", prDetailsQuery, vars, &data); err != nil {
		return nil, err
	}
	c.record(data.RateLimit)

	pr := data.Repository.PullRequest
	if pr == nil {
		return nil, fmt.Errorf("pr details: %s/%s#%d: %w", owner, repo, number, domain.ErrNotFound)
	}

	repoID := owner + "/" + repo
	details := &domain.PRDetails{
		PullRequest: convertPullRequest(repoID, pr.gqlPullRequest),
		Reviews:     make([]domain.Review, 0, len(pr.Reviews.Nodes)),
		Comments:    make([]domain.Comment, 0, len(pr.Comments.Nodes)),
	}
	for _, r := range pr.Reviews.Nodes {
		details.Reviews = append(details.Reviews, domain.Review{
			ID:           r.ID,
			RepositoryID: repoID,
			PRNumber:     pr.Number,
			Author:       r.Author.Login,
			State:        r.State,
			Body:         r.Body,
			SubmittedAt:  r.SubmittedAt,
		})
	}
	for _, cm := range pr.Comments.Nodes {
		details.Comments = append(details.Comments, domain.Comment{
			ID:           cm.ID,
			RepositoryID: repoID,
			IssueNumber:  pr.Number,
			Author:       cm.Author.Login,
			Body:         cm.Body,
			CreatedAt:    cm.CreatedAt,
		})
	}

	return details, nil
}

const recentPRsQuery = `
query($owner: String!, $repo: String!, $limit: Int!) {
  repository(owner: $owner, name: $repo) {
    pullRequests(first: $limit, orderBy: {field: UPDATED_AT, direction: DESC}) {
      nodes {
        id number title body state isDraft
        author { login }
        additions deletions changedFiles
        createdAt updatedAt mergedAt
      }
    }
  }
  rateLimit { cost remaining limit resetAt }
}`

// RecentPRs fetches pull requests updated since the given time, newest
// first, capped at limit.
func (c *GraphQLClient) RecentPRs(ctx context.Context, owner, repo string, since time.Time, limit int) ([]domain.PullRequest, error) {
	var data struct {
		Repository *struct {
			PullRequests struct {
				Nodes []gqlPullRequest `json:"nodes"`
			} `json:"pullRequests"`
		} `json:"repository"`
		RateLimit gqlRateLimit `json:"rateLimit"`
	}

	vars := map[string]any{"owner": owner, "repo": repo, "limit": limit}
	if err := c.execute(ctx, "recent prs", recentPRsQuery, vars, &data); err != nil {
		return nil, err
	}
	c.record(data.RateLimit)

	if data.Repository == nil {
		return nil, fmt.Errorf("recent prs: %s/%s: %w", owner, repo, domain.ErrNotFound)
	}

	repoID := owner + "/" + repo
	prs := make([]domain.PullRequest, 0, len(data.Repository.PullRequests.Nodes))
	for _, node := range data.Repository.PullRequests.Nodes {
		// Nodes arrive newest first; stop at the since boundary.
		if !since.IsZero() && node.UpdatedAt.Before(since) {
			break
		}
		prs = append(prs, convertPullRequest(repoID, node))
	}

	return prs, nil
}

const discussionsQuery = `
query($owner: String!, $repo: String!, $limit: Int!) {
  repository(owner: $owner, name: $repo) {
    discussions(first: $limit, orderBy: {field: UPDATED_AT, direction: DESC}) {
      nodes {
        id number title body
        author { login }
        category { name }
        createdAt updatedAt
      }
    }
  }
  rateLimit { cost remaining limit resetAt }
}`

// Discussions fetches up to maxItems recently updated discussions.
// Discussions have no REST equivalent, so there is no fallback path.
func (c *GraphQLClient) Discussions(ctx context.Context, owner, repo string, maxItems int) ([]domain.Discussion, error) {
	var data struct {
		Repository *struct {
			Discussions struct {
				Nodes []gqlDiscussion `json:"nodes"`
			} `json:"discussions"`
		} `json:"repository"`
		RateLimit gqlRateLimit `json:"rateLimit"`
	}

	vars := map[string]any{"owner": owner, "repo": repo, "limit": maxItems}
	if err := c.execute(ctx, "discussions", discussionsQuery, vars, &data); err != nil {
		return nil, err
	}
	c.record(data.RateLimit)

	if data.Repository == nil {
		return nil, fmt.Errorf("discussions: %s/%s: %w", owner, repo, domain.ErrNotFound)
	}

	repoID := owner + "/" + repo
	discussions := make([]domain.Discussion, 0, len(data.Repository.Discussions.Nodes))
	for _, node := range data.Repository.Discussions.Nodes {
		discussions = append(discussions, domain.Discussion{
			ID:           node.ID,
			RepositoryID: repoID,
			Number:       node.Number,
			Title:        node.Title,
			Body:         node.Body,
			Category:     node.Category.Name,
			Author:       node.Author.Login,
			CreatedAt:    node.CreatedAt,
			UpdatedAt:    node.UpdatedAt,
		})
	}

	return discussions, nil
}

// convertPullRequest maps a GraphQL pull request node to the domain record.
func convertPullRequest(repoID string, pr gqlPullRequest) domain.PullRequest {
	out := domain.PullRequest{
		ID:           pr.ID,
		RepositoryID: repoID,
		Number:       pr.Number,
		Title:        pr.Title,
		Body:         pr.Body,
		State:        normalizePRState(pr.State, pr.MergedAt != nil),
		Draft:        pr.IsDraft,
		Author:       pr.Author.Login,
		Additions:    pr.Additions,
		Deletions:    pr.Deletions,
		ChangedFiles: pr.ChangedFiles,
		CreatedAt:    pr.CreatedAt,
		UpdatedAt:    pr.UpdatedAt,
	}
	if pr.MergedAt != nil {
		out.MergedAt = *pr.MergedAt
	}
	return out
}

// normalizePRState lowercases GraphQL states and folds MERGED into the
// REST-style "merged".
func normalizePRState(state string, merged bool) string {
	if merged {
		return "merged"
	}
	switch state {
	case "OPEN":
		return "open"
	case "CLOSED":
		return "closed"
	case "MERGED":
		return "merged"
	}
	return state
}
