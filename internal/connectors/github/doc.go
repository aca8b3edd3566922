// Package github implements the GitHub fetch strategy for progressive
// capture.
//
// Queries go to the GraphQL API first because it reports per-query
// rate-limit cost and fetches nested data (a pull request with its
// reviews and comments) in one round trip. When GraphQL fails with a
// transient error the same logical operation is re-executed against
// the REST API, which has equivalent semantics but page-based
// pagination. NOT_FOUND never falls back: a repository that does not
// exist on one API does not exist on the other.
//
// Both surfaces feed a shared Tracker so the scheduler can consult the
// remaining budget before starting expensive jobs.
package github
