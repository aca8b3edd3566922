package domain

import "time"

// Repository is a tracked GitHub repository.
type Repository struct {
	ID           string
	Owner        string
	Name         string
	LastSyncedAt time.Time // zero when never synced
}

// FullName returns "owner/name".
func (r *Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

// PullRequest is a captured pull request.
type PullRequest struct {
	ID           string
	RepositoryID string
	Number       int
	Title        string
	Body         string
	State        string // open, closed, merged
	Draft        bool
	Author       string
	Additions    int
	Deletions    int
	ChangedFiles int
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MergedAt     time.Time
}

// PRDetails is a pull request together with its reviews and comments.
type PRDetails struct {
	PullRequest PullRequest
	Reviews     []Review
	Comments    []Comment
}

// Review is a captured pull request review.
type Review struct {
	ID           string
	RepositoryID string
	PRNumber     int
	Author       string
	State        string // approved, changes_requested, commented
	Body         string
	SubmittedAt  time.Time
}

// Comment is a captured issue or pull request comment.
type Comment struct {
	ID           string
	RepositoryID string
	IssueNumber  int // PR number for PR comments
	Author       string
	Body         string
	CreatedAt    time.Time
}

// Issue is a captured issue.
type Issue struct {
	ID           string
	RepositoryID string
	Number       int
	Title        string
	Body         string
	State        string
	Author       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Discussion is a captured repository discussion.
type Discussion struct {
	ID           string
	RepositoryID string
	Number       int
	Title        string
	Body         string
	Category     string
	Author       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Commit is a captured commit.
type Commit struct {
	SHA          string
	RepositoryID string
	Author       string
	Message      string
	AuthoredAt   time.Time
}

// User is a resolved GitHub account. Comment author resolution fans
// out over these.
type User struct {
	Login     string
	Name      string
	AvatarURL string
	IsBot     bool
}
