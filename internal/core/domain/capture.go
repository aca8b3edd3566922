// Package domain defines the core types for progressive GitHub data capture.
package domain

import "time"

// JobKind identifies what a capture job fetches.
type JobKind string

// Capture job kinds.
const (
	KindPRDetails     JobKind = "pr_details"
	KindPRReviews     JobKind = "pr_reviews"
	KindPRComments    JobKind = "pr_comments"
	KindRepoSync      JobKind = "repo_sync"
	KindCommits       JobKind = "commits"
	KindIssueComments JobKind = "issue_comments"
	KindDiscussions   JobKind = "discussions"
)

// Priority orders capture jobs relative to each other.
type Priority string

// Job priorities.
const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// SyncReason records what triggered a sync. The throttle policy keys
// its re-sync windows off this value.
type SyncReason string

// Sync reasons.
const (
	ReasonManual     SyncReason = "manual"
	ReasonWebhook    SyncReason = "webhook"
	ReasonScheduled  SyncReason = "scheduled"
	ReasonDependency SyncReason = "dependency"
)

// JobStatus is the lifecycle state of a capture job.
type JobStatus string

// Job statuses.
const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// legalTransitions is the capture job state machine:
// pending -> processing -> {completed, failed}. A failed job may
// re-enter pending when the failure was retriable and the retry
// budget is not exhausted.
var legalTransitions = map[JobStatus][]JobStatus{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusFailed:     {StatusPending},
}

// CanTransition reports whether moving from s to next is a legal
// state machine transition.
func (s JobStatus) CanTransition(next JobStatus) bool {
	for _, allowed := range legalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the status is an end state.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CaptureJob is a single unit of progressive capture work. It is owned
// by the queue manager: created on trigger, mutated only by the worker
// executing it, terminal on completion or failure.
type CaptureJob struct {
	ID           string
	Kind         JobKind
	RepositoryID string
	TargetID     string // PR number, commit range, etc. Optional for repo-wide kinds.
	Priority     Priority
	Reason       SyncReason
	CreatedAt    time.Time
	Status       JobStatus
	Attempts     int
}

// Key returns the concurrency key for this job. Jobs sharing a key are
// serialized up to the key's concurrency limit.
func (j *CaptureJob) Key() string {
	return string(j.Kind) + ":" + j.RepositoryID
}
