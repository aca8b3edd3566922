package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivetlabs/gitpulse/internal/core/domain"
)

// gqlServer runs an httptest server answering every GraphQL POST with
// the given handler.
func gqlServer(t *testing.T, handler http.HandlerFunc) (*GraphQLClient, *Tracker) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	tracker := NewTracker()
	client := NewGraphQLClientWithHTTPClient(srv.Client(), srv.URL, tracker)
	return client, tracker
}

func respondJSON(t *testing.T, w http.ResponseWriter, body string) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	_, err := w.Write([]byte(body))
	require.NoError(t, err)
}

func TestGraphQLRecentPRsRecordsRateLimit(t *testing.T) {
	client, tracker := gqlServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req graphQLRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "octo", req.Variables["owner"])

		respondJSON(t, w, `{
			"data": {
				"repository": {
					"pullRequests": {
						"nodes": [
							{"id": "PR_1", "number": 7, "title": "New", "state": "OPEN",
							 "author": {"login": "alice"},
							 "updatedAt": "2026-08-20T12:00:00Z"},
							{"id": "PR_0", "number": 3, "title": "Old", "state": "MERGED",
							 "author": {"login": "bob"},
							 "updatedAt": "2026-07-01T00:00:00Z"}
						]
					}
				},
				"rateLimit": {"cost": 1, "remaining": 4999, "limit": 5000,
				              "resetAt": "2026-08-20T13:00:00Z"}
			}
		}`)
	})

	since := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	prs, err := client.RecentPRs(context.Background(), "octo", "hello", since, 100)
	require.NoError(t, err)

	require.Len(t, prs, 1, "nodes older than since are cut off")
	assert.Equal(t, "PR_1", prs[0].ID)
	assert.Equal(t, "octo/hello", prs[0].RepositoryID)
	assert.Equal(t, "open", prs[0].State)

	state := tracker.Snapshot(APIGraphQL)
	assert.Equal(t, 1, state.CostLastCall)
	assert.Equal(t, 4999, state.Remaining)
	assert.Equal(t, 5000, state.Limit)
	assert.Equal(t, time.Date(2026, 8, 20, 13, 0, 0, 0, time.UTC), state.ResetAt.UTC())
}

func TestGraphQLPRDetailsMapsNestedNodes(t *testing.T) {
	client, _ := gqlServer(t, func(w http.ResponseWriter, r *http.Request) {
		respondJSON(t, w, `{
			"data": {
				"repository": {
					"pullRequest": {
						"id": "PR_9", "number": 9, "title": "Nine", "state": "OPEN",
						"author": {"login": "alice"},
						"reviews": {"nodes": [
							{"id": "R_1", "author": {"login": "bob"}, "state": "APPROVED"}
						]},
						"comments": {"nodes": [
							{"id": "C_1", "author": {"login": "carol"}, "body": "lgtm"}
						]}
					}
				},
				"rateLimit": {"cost": 1, "remaining": 4998, "limit": 5000,
				              "resetAt": "2026-08-20T13:00:00Z"}
			}
		}`)
	})

	details, err := client.PRDetails(context.Background(), "octo", "hello", 9)
	require.NoError(t, err)

	assert.Equal(t, "PR_9", details.PullRequest.ID)
	require.Len(t, details.Reviews, 1)
	assert.Equal(t, 9, details.Reviews[0].PRNumber)
	assert.Equal(t, "bob", details.Reviews[0].Author)
	require.Len(t, details.Comments, 1)
	assert.Equal(t, "carol", details.Comments[0].Author)
	assert.Equal(t, "octo/hello", details.Comments[0].RepositoryID)
}

func TestGraphQLNullPullRequestIsNotFound(t *testing.T) {
	client, _ := gqlServer(t, func(w http.ResponseWriter, r *http.Request) {
		respondJSON(t, w, `{
			"data": {
				"repository": {"pullRequest": null},
				"rateLimit": {"cost": 1, "remaining": 4999, "limit": 5000,
				              "resetAt": "2026-08-20T13:00:00Z"}
			}
		}`)
	})

	_, err := client.PRDetails(context.Background(), "octo", "hello", 404)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGraphQLNotFoundErrorType(t *testing.T) {
	client, _ := gqlServer(t, func(w http.ResponseWriter, r *http.Request) {
		respondJSON(t, w, `{
			"errors": [{"type": "NOT_FOUND",
			            "message": "Could not resolve to a Repository"}]
		}`)
	})

	_, err := client.RecentPRs(context.Background(), "octo", "gone", time.Time{}, 10)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.False(t, domain.IsRetriable(err))
}

func TestGraphQLRateLimitedErrorType(t *testing.T) {
	client, _ := gqlServer(t, func(w http.ResponseWriter, r *http.Request) {
		respondJSON(t, w, `{
			"errors": [{"type": "RATE_LIMITED", "message": "API rate limit exceeded"}]
		}`)
	})

	_, err := client.Discussions(context.Background(), "octo", "hello", 50)
	var rle *domain.RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.False(t, rle.ResetAt.IsZero())
	assert.True(t, domain.IsRetriable(err))
	assert.False(t, domain.IsTransient(err))
}

func TestGraphQLUnknownErrorIsTransient(t *testing.T) {
	client, _ := gqlServer(t, func(w http.ResponseWriter, r *http.Request) {
		respondJSON(t, w, `{
			"errors": [{"type": "SERVICE_UNAVAILABLE", "message": "Something went wrong"}]
		}`)
	})

	_, err := client.RecentPRs(context.Background(), "octo", "hello", time.Time{}, 10)
	assert.True(t, domain.IsTransient(err))
}

func TestGraphQLServerErrorIsTransient(t *testing.T) {
	client, _ := gqlServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.RecentPRs(context.Background(), "octo", "hello", time.Time{}, 10)
	var te *domain.TransientError
	require.ErrorAs(t, err, &te)
	assert.True(t, domain.IsRetriable(err))
}

func TestGraphQLTooManyRequestsIsRateLimit(t *testing.T) {
	client, _ := gqlServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Discussions(context.Background(), "octo", "hello", 50)
	var rle *domain.RateLimitError
	assert.ErrorAs(t, err, &rle)
}

func TestNormalizePRState(t *testing.T) {
	assert.Equal(t, "open", normalizePRState("OPEN", false))
	assert.Equal(t, "closed", normalizePRState("CLOSED", false))
	assert.Equal(t, "merged", normalizePRState("MERGED", false))
	assert.Equal(t, "merged", normalizePRState("CLOSED", true), "a merged timestamp wins over state")
}
