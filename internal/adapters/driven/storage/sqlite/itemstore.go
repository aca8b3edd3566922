package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rivetlabs/gitpulse/internal/core/domain"
	"github.com/rivetlabs/gitpulse/internal/core/ports/driven"
)

// itemStore implements driven.ItemStore over the per-kind item tables.
type itemStore struct {
	store *Store
}

var _ driven.ItemStore = (*itemStore)(nil)

// itemTables maps each embeddable kind to its table. Kinds not present
// here cannot be embedded.
var itemTables = map[domain.ItemKind]string{
	domain.ItemPullRequest: "pull_requests",
	domain.ItemIssue:       "issues",
	domain.ItemDiscussion:  "discussions",
}

func tableFor(kind domain.ItemKind) (string, error) {
	table, ok := itemTables[kind]
	if !ok {
		return "", fmt.Errorf("item kind %q: %w", kind, domain.ErrInvalidInput)
	}
	return table, nil
}

// UpsertPullRequests writes pull requests, returning how many were new.
// Embedding columns are never touched by upserts so staleness detection
// keeps working off the embed-time hash.
func (s *itemStore) UpsertPullRequests(ctx context.Context, prs []domain.PullRequest) (int, error) {
	inserted := 0
	for _, pr := range prs {
		existed, err := s.exists(ctx, "pull_requests", "id", pr.ID)
		if err != nil {
			return inserted, err
		}
		_, err = s.store.db.ExecContext(ctx, `
			INSERT INTO pull_requests (
				id, repository_id, number, title, body, state, draft, author,
				additions, deletions, changed_files, created_at, updated_at, merged_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title = excluded.title,
				body = excluded.body,
				state = excluded.state,
				draft = excluded.draft,
				additions = excluded.additions,
				deletions = excluded.deletions,
				changed_files = excluded.changed_files,
				updated_at = excluded.updated_at,
				merged_at = excluded.merged_at
		`, pr.ID, pr.RepositoryID, pr.Number, pr.Title, pr.Body, pr.State,
			pr.Draft, pr.Author, pr.Additions, pr.Deletions, pr.ChangedFiles,
			nullTime(pr.CreatedAt), nullTime(pr.UpdatedAt), nullTime(pr.MergedAt))
		if err != nil {
			return inserted, fmt.Errorf("upserting pull request %s: %w", pr.ID, err)
		}
		if !existed {
			inserted++
		}
	}
	return inserted, nil
}

// UpsertIssues writes issues, returning how many were new.
func (s *itemStore) UpsertIssues(ctx context.Context, issues []domain.Issue) (int, error) {
	inserted := 0
	for _, issue := range issues {
		existed, err := s.exists(ctx, "issues", "id", issue.ID)
		if err != nil {
			return inserted, err
		}
		_, err = s.store.db.ExecContext(ctx, `
			INSERT INTO issues (
				id, repository_id, number, title, body, state, author,
				created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title = excluded.title,
				body = excluded.body,
				state = excluded.state,
				updated_at = excluded.updated_at
		`, issue.ID, issue.RepositoryID, issue.Number, issue.Title, issue.Body,
			issue.State, issue.Author, nullTime(issue.CreatedAt), nullTime(issue.UpdatedAt))
		if err != nil {
			return inserted, fmt.Errorf("upserting issue %s: %w", issue.ID, err)
		}
		if !existed {
			inserted++
		}
	}
	return inserted, nil
}

// UpsertDiscussions writes discussions, returning how many were new.
func (s *itemStore) UpsertDiscussions(ctx context.Context, discussions []domain.Discussion) (int, error) {
	inserted := 0
	for _, d := range discussions {
		existed, err := s.exists(ctx, "discussions", "id", d.ID)
		if err != nil {
			return inserted, err
		}
		_, err = s.store.db.ExecContext(ctx, `
			INSERT INTO discussions (
				id, repository_id, number, title, body, category, author,
				created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title = excluded.title,
				body = excluded.body,
				category = excluded.category,
				updated_at = excluded.updated_at
		`, d.ID, d.RepositoryID, d.Number, d.Title, d.Body, d.Category,
			d.Author, nullTime(d.CreatedAt), nullTime(d.UpdatedAt))
		if err != nil {
			return inserted, fmt.Errorf("upserting discussion %s: %w", d.ID, err)
		}
		if !existed {
			inserted++
		}
	}
	return inserted, nil
}

// UpsertReviews writes pull request reviews.
func (s *itemStore) UpsertReviews(ctx context.Context, reviews []domain.Review) (int, error) {
	inserted := 0
	for _, r := range reviews {
		existed, err := s.exists(ctx, "reviews", "id", r.ID)
		if err != nil {
			return inserted, err
		}
		_, err = s.store.db.ExecContext(ctx, `
			INSERT INTO reviews (id, repository_id, pr_number, author, state, body, submitted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				state = excluded.state,
				body = excluded.body
		`, r.ID, r.RepositoryID, r.PRNumber, r.Author, r.State, r.Body,
			nullTime(r.SubmittedAt))
		if err != nil {
			return inserted, fmt.Errorf("upserting review %s: %w", r.ID, err)
		}
		if !existed {
			inserted++
		}
	}
	return inserted, nil
}

// UpsertComments writes issue/PR comments.
func (s *itemStore) UpsertComments(ctx context.Context, comments []domain.Comment) (int, error) {
	inserted := 0
	for _, c := range comments {
		existed, err := s.exists(ctx, "comments", "id", c.ID)
		if err != nil {
			return inserted, err
		}
		_, err = s.store.db.ExecContext(ctx, `
			INSERT INTO comments (id, repository_id, issue_number, author, body, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				body = excluded.body
		`, c.ID, c.RepositoryID, c.IssueNumber, c.Author, c.Body, nullTime(c.CreatedAt))
		if err != nil {
			return inserted, fmt.Errorf("upserting comment %s: %w", c.ID, err)
		}
		if !existed {
			inserted++
		}
	}
	return inserted, nil
}

// UpsertCommits writes commits.
func (s *itemStore) UpsertCommits(ctx context.Context, commits []domain.Commit) (int, error) {
	inserted := 0
	for _, c := range commits {
		res, err := s.store.db.ExecContext(ctx, `
			INSERT INTO commits (sha, repository_id, author, message, authored_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(sha) DO NOTHING
		`, c.SHA, c.RepositoryID, c.Author, c.Message, nullTime(c.AuthoredAt))
		if err != nil {
			return inserted, fmt.Errorf("upserting commit %s: %w", c.SHA, err)
		}
		// DO NOTHING reports zero affected rows for duplicates.
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			inserted++
		}
	}
	return inserted, nil
}

// UpsertUsers writes resolved contributor accounts.
func (s *itemStore) UpsertUsers(ctx context.Context, users []domain.User) (int, error) {
	inserted := 0
	for _, u := range users {
		existed, err := s.exists(ctx, "contributors", "login", u.Login)
		if err != nil {
			return inserted, err
		}
		_, err = s.store.db.ExecContext(ctx, `
			INSERT INTO contributors (login, name, avatar_url, is_bot)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(login) DO UPDATE SET
				name = excluded.name,
				avatar_url = excluded.avatar_url,
				is_bot = excluded.is_bot
		`, u.Login, u.Name, u.AvatarURL, u.IsBot)
		if err != nil {
			return inserted, fmt.Errorf("upserting contributor %s: %w", u.Login, err)
		}
		if !existed {
			inserted++
		}
	}
	return inserted, nil
}

// ListNeedingEmbedding returns items never embedded or whose content
// changed since the stored embed-time hash. Staleness is decided in Go
// by re-hashing current content, so the hash scheme lives in one place.
func (s *itemStore) ListNeedingEmbedding(ctx context.Context, repositoryID string, kinds []domain.ItemKind, limit int) ([]domain.EmbedItem, error) {
	var out []domain.EmbedItem
	for _, kind := range kinds {
		rows, err := s.scanItems(ctx, kind, repositoryID)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if row.embedded && row.storedHash == domain.ContentHash(row.item.Title, row.item.Body) {
				continue
			}
			item := row.item
			item.ContentHash = ""
			out = append(out, item)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// ListEmbedded returns items that already carry an embedding, with the
// hash recorded at embedding time.
func (s *itemStore) ListEmbedded(ctx context.Context, repositoryID string, kinds []domain.ItemKind, limit int) ([]domain.EmbedItem, error) {
	var out []domain.EmbedItem
	for _, kind := range kinds {
		rows, err := s.scanItems(ctx, kind, repositoryID)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if !row.embedded {
				continue
			}
			item := row.item
			item.ContentHash = row.storedHash
			out = append(out, item)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// SaveEmbedding writes an item's vector, content hash and timestamp.
func (s *itemStore) SaveEmbedding(ctx context.Context, kind domain.ItemKind, itemID string, embedding []float32, contentHash string, generatedAt time.Time) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}

	res, err := s.store.db.ExecContext(ctx, `
		UPDATE `+table+` SET
			embedding = ?,
			embedding_generated_at = ?,
			content_hash = ?
		WHERE id = ?
	`, encodeEmbedding(embedding), generatedAt.UTC(), contentHash, itemID)
	if err != nil {
		return fmt.Errorf("saving embedding for %s %s: %w", kind, itemID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("item %s/%s: %w", kind, itemID, domain.ErrNotFound)
	}
	return nil
}

// GetEmbedding reads back an item's stored vector, hash and timestamp.
func (s *itemStore) GetEmbedding(ctx context.Context, kind domain.ItemKind, itemID string) ([]float32, string, time.Time, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, "", time.Time{}, err
	}

	row := s.store.db.QueryRowContext(ctx, `
		SELECT embedding, content_hash, embedding_generated_at
		FROM `+table+` WHERE id = ?
	`, itemID)

	var blob []byte
	var hash sql.NullString
	var generatedAt sql.NullTime
	if err := row.Scan(&blob, &hash, &generatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", time.Time{}, fmt.Errorf("item %s/%s: %w", kind, itemID, domain.ErrNotFound)
		}
		return nil, "", time.Time{}, fmt.Errorf("reading embedding: %w", err)
	}
	if blob == nil {
		return nil, "", time.Time{}, fmt.Errorf("embedding %s/%s: %w", kind, itemID, domain.ErrNotFound)
	}

	var at time.Time
	if generatedAt.Valid {
		at = generatedAt.Time
	}
	return decodeEmbedding(blob), hash.String, at, nil
}

// itemScan is one embeddable row with its embedding bookkeeping.
type itemScan struct {
	item       domain.EmbedItem
	embedded   bool
	storedHash string
}

// scanItems reads all embeddable rows of one kind, optionally scoped to
// a repository.
func (s *itemStore) scanItems(ctx context.Context, kind domain.ItemKind, repositoryID string) ([]itemScan, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, repository_id, title, body, embedding IS NOT NULL, content_hash FROM ` + table
	args := []any{}
	if repositoryID != "" {
		query += ` WHERE repository_id = ?`
		args = append(args, repositoryID)
	}
	query += ` ORDER BY id`

	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", table, err)
	}
	defer rows.Close()

	var out []itemScan
	for rows.Next() {
		var sc itemScan
		var hash sql.NullString
		if err := rows.Scan(&sc.item.ID, &sc.item.RepositoryID,
			&sc.item.Title, &sc.item.Body, &sc.embedded, &hash); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", table, err)
		}
		sc.item.Kind = kind
		sc.storedHash = hash.String
		out = append(out, sc)
	}
	return out, rows.Err()
}

// exists reports whether a row with the given key is present. Upserts
// check before writing because SQLite reports one affected row for both
// the insert and the conflict-update path.
func (s *itemStore) exists(ctx context.Context, table, keyColumn, key string) (bool, error) {
	row := s.store.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM `+table+` WHERE `+keyColumn+` = ?)`, key)
	var found bool
	if err := row.Scan(&found); err != nil {
		return false, fmt.Errorf("checking %s existence: %w", table, err)
	}
	return found, nil
}
