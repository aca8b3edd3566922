package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rivetlabs/gitpulse/internal/core/domain"
	"github.com/rivetlabs/gitpulse/internal/core/ports/driven"
)

var _ driven.ItemStore = (*ItemStore)(nil)

// itemRow is the in-memory representation of an embeddable item.
type itemRow struct {
	item        domain.EmbedItem
	embedding   []float32
	contentHash string // hash at embedding time
	generatedAt time.Time
}

// ItemStore is an in-memory driven.ItemStore. Embeddable items (pull
// requests, issues, discussions) share one keyed map; reviews,
// comments, commits and users are kept as plain keyed sets for upsert
// accounting.
type ItemStore struct {
	mu       sync.RWMutex
	items    map[string]*itemRow // key: kind + "/" + id
	reviews  map[string]domain.Review
	comments map[string]domain.Comment
	commits  map[string]domain.Commit
	users    map[string]domain.User
}

// NewItemStore creates an empty item store.
func NewItemStore() *ItemStore {
	return &ItemStore{
		items:    make(map[string]*itemRow),
		reviews:  make(map[string]domain.Review),
		comments: make(map[string]domain.Comment),
		commits:  make(map[string]domain.Commit),
		users:    make(map[string]domain.User),
	}
}

func itemKey(kind domain.ItemKind, id string) string {
	return string(kind) + "/" + id
}

// UpsertPullRequests writes pull requests, returning how many were new.
func (s *ItemStore) UpsertPullRequests(_ context.Context, prs []domain.PullRequest) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, pr := range prs {
		inserted += s.upsertItemLocked(domain.EmbedItem{
			ID:           pr.ID,
			RepositoryID: pr.RepositoryID,
			Kind:         domain.ItemPullRequest,
			Title:        pr.Title,
			Body:         pr.Body,
		})
	}
	return inserted, nil
}

// UpsertIssues writes issues, returning how many were new.
func (s *ItemStore) UpsertIssues(_ context.Context, issues []domain.Issue) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, issue := range issues {
		inserted += s.upsertItemLocked(domain.EmbedItem{
			ID:           issue.ID,
			RepositoryID: issue.RepositoryID,
			Kind:         domain.ItemIssue,
			Title:        issue.Title,
			Body:         issue.Body,
		})
	}
	return inserted, nil
}

// UpsertDiscussions writes discussions, returning how many were new.
func (s *ItemStore) UpsertDiscussions(_ context.Context, discussions []domain.Discussion) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, d := range discussions {
		inserted += s.upsertItemLocked(domain.EmbedItem{
			ID:           d.ID,
			RepositoryID: d.RepositoryID,
			Kind:         domain.ItemDiscussion,
			Title:        d.Title,
			Body:         d.Body,
		})
	}
	return inserted, nil
}

// upsertItemLocked writes one embeddable item; returns 1 when new.
// Content changes reset the stored item text but keep any existing
// embedding so staleness is detected via the content hash.
func (s *ItemStore) upsertItemLocked(item domain.EmbedItem) int {
	key := itemKey(item.Kind, item.ID)
	row, ok := s.items[key]
	if !ok {
		s.items[key] = &itemRow{item: item}
		return 1
	}
	row.item.Title = item.Title
	row.item.Body = item.Body
	return 0
}

// UpsertReviews writes reviews.
func (s *ItemStore) UpsertReviews(_ context.Context, reviews []domain.Review) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, r := range reviews {
		if _, ok := s.reviews[r.ID]; !ok {
			inserted++
		}
		s.reviews[r.ID] = r
	}
	return inserted, nil
}

// UpsertComments writes comments.
func (s *ItemStore) UpsertComments(_ context.Context, comments []domain.Comment) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, c := range comments {
		if _, ok := s.comments[c.ID]; !ok {
			inserted++
		}
		s.comments[c.ID] = c
	}
	return inserted, nil
}

// UpsertCommits writes commits.
func (s *ItemStore) UpsertCommits(_ context.Context, commits []domain.Commit) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, c := range commits {
		if _, ok := s.commits[c.SHA]; !ok {
			inserted++
		}
		s.commits[c.SHA] = c
	}
	return inserted, nil
}

// UpsertUsers writes resolved contributors.
func (s *ItemStore) UpsertUsers(_ context.Context, users []domain.User) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, u := range users {
		if _, ok := s.users[u.Login]; !ok {
			inserted++
		}
		s.users[u.Login] = u
	}
	return inserted, nil
}

// ListNeedingEmbedding returns items never embedded or whose content
// changed since the embedded hash. Returned items carry an empty
// ContentHash so the pipeline recomputes it from current content.
func (s *ItemStore) ListNeedingEmbedding(_ context.Context, repositoryID string, kinds []domain.ItemKind, limit int) ([]domain.EmbedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.EmbedItem
	for _, row := range s.items {
		if !matches(row.item, repositoryID, kinds) {
			continue
		}
		if row.embedding != nil && row.contentHash == domain.ContentHash(row.item.Title, row.item.Body) {
			continue // Embedded and unchanged.
		}
		item := row.item
		item.ContentHash = ""
		out = append(out, item)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ListEmbedded returns items that already carry an embedding, with the
// hash recorded at embedding time.
func (s *ItemStore) ListEmbedded(_ context.Context, repositoryID string, kinds []domain.ItemKind, limit int) ([]domain.EmbedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.EmbedItem
	for _, row := range s.items {
		if !matches(row.item, repositoryID, kinds) || row.embedding == nil {
			continue
		}
		item := row.item
		item.ContentHash = row.contentHash
		out = append(out, item)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// SaveEmbedding writes an item's vector, hash and timestamp.
func (s *ItemStore) SaveEmbedding(_ context.Context, kind domain.ItemKind, itemID string, embedding []float32, contentHash string, generatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.items[itemKey(kind, itemID)]
	if !ok {
		return fmt.Errorf("item %s/%s: %w", kind, itemID, domain.ErrNotFound)
	}
	row.embedding = append([]float32(nil), embedding...)
	row.contentHash = contentHash
	row.generatedAt = generatedAt
	return nil
}

// GetEmbedding reads back an item's stored vector, hash and timestamp.
func (s *ItemStore) GetEmbedding(_ context.Context, kind domain.ItemKind, itemID string) ([]float32, string, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.items[itemKey(kind, itemID)]
	if !ok || row.embedding == nil {
		return nil, "", time.Time{}, fmt.Errorf("embedding %s/%s: %w", kind, itemID, domain.ErrNotFound)
	}
	return append([]float32(nil), row.embedding...), row.contentHash, row.generatedAt, nil
}

// CommentCount returns how many comments are stored, for assertions.
func (s *ItemStore) CommentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.comments)
}

// UserCount returns how many users are stored, for assertions.
func (s *ItemStore) UserCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

func matches(item domain.EmbedItem, repositoryID string, kinds []domain.ItemKind) bool {
	if repositoryID != "" && item.RepositoryID != repositoryID {
		return false
	}
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if item.Kind == k {
			return true
		}
	}
	return false
}
