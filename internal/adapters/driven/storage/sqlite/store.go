package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/rivetlabs/gitpulse/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/rivetlabs/gitpulse/internal/core/domain"
	"github.com/rivetlabs/gitpulse/internal/core/ports/driven"
)

// Store is a unified SQLite-based storage that provides access to all
// capture store interfaces through wrapper types.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a new SQLite store at the specified data directory.
// If dataDir is empty, defaults to ~/.gitpulse/data/capture.db.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".gitpulse", "data")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "capture.db")

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
	}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// RepositoryStore returns a RepositoryStore interface backed by this store.
func (s *Store) RepositoryStore() driven.RepositoryStore {
	return &repositoryStore{store: s}
}

// SyncLogStore returns a SyncLogStore interface backed by this store.
func (s *Store) SyncLogStore() driven.SyncLogStore {
	return &syncLogStore{store: s}
}

// EmbeddingJobStore returns an EmbeddingJobStore interface backed by this store.
func (s *Store) EmbeddingJobStore() driven.EmbeddingJobStore {
	return &embeddingJobStore{store: s}
}

// SimilarityCacheStore returns a SimilarityCacheStore interface backed by this store.
func (s *Store) SimilarityCacheStore() driven.SimilarityCacheStore {
	return &similarityCacheStore{store: s}
}

// BackfillStore returns a BackfillStore interface backed by this store.
func (s *Store) BackfillStore() driven.BackfillStore {
	return &backfillStore{store: s}
}

// ItemStore returns an ItemStore interface backed by this store.
func (s *Store) ItemStore() driven.ItemStore {
	return &itemStore{store: s}
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// Extract version number (e.g., "001_initial.up.sql" -> 1)
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}

		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}

		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

// ==================== Repository Store ====================

// repositoryStore implements driven.RepositoryStore.
type repositoryStore struct {
	store *Store
}

var _ driven.RepositoryStore = (*repositoryStore)(nil)

// Get retrieves a repository by ID.
func (s *repositoryStore) Get(ctx context.Context, repositoryID string) (*domain.Repository, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT id, owner, name, last_synced_at
		FROM repositories WHERE id = ?
	`, repositoryID)

	var repo domain.Repository
	var lastSynced sql.NullTime
	if err := row.Scan(&repo.ID, &repo.Owner, &repo.Name, &lastSynced); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning repository: %w", err)
	}
	if lastSynced.Valid {
		repo.LastSyncedAt = lastSynced.Time
	}
	return &repo, nil
}

// List returns all tracked repositories.
func (s *repositoryStore) List(ctx context.Context) ([]domain.Repository, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, owner, name, last_synced_at
		FROM repositories ORDER BY owner, name
	`)
	if err != nil {
		return nil, fmt.Errorf("listing repositories: %w", err)
	}
	defer rows.Close()

	var repos []domain.Repository
	for rows.Next() {
		var repo domain.Repository
		var lastSynced sql.NullTime
		if err := rows.Scan(&repo.ID, &repo.Owner, &repo.Name, &lastSynced); err != nil {
			return nil, fmt.Errorf("scanning repository: %w", err)
		}
		if lastSynced.Valid {
			repo.LastSyncedAt = lastSynced.Time
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

// Upsert creates or updates a repository.
func (s *repositoryStore) Upsert(ctx context.Context, repo *domain.Repository) error {
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO repositories (id, owner, name, last_synced_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner = excluded.owner,
			name = excluded.name
	`, repo.ID, repo.Owner, repo.Name, nullTime(repo.LastSyncedAt))
	if err != nil {
		return fmt.Errorf("upserting repository: %w", err)
	}
	return nil
}

// SetLastSynced records a completed sync timestamp.
func (s *repositoryStore) SetLastSynced(ctx context.Context, repositoryID string, at time.Time) error {
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE repositories SET last_synced_at = ? WHERE id = ?
	`, at.UTC(), repositoryID)
	if err != nil {
		return fmt.Errorf("setting last synced: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// HasCompleteData reports whether reviews and comments exist for the
// repository's pull requests.
func (s *repositoryStore) HasCompleteData(ctx context.Context, repositoryID string) (bool, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT
			EXISTS(SELECT 1 FROM reviews WHERE repository_id = ?),
			EXISTS(SELECT 1 FROM comments WHERE repository_id = ?)
	`, repositoryID, repositoryID)

	var hasReviews, hasComments bool
	if err := row.Scan(&hasReviews, &hasComments); err != nil {
		return false, fmt.Errorf("checking data completeness: %w", err)
	}
	return hasReviews && hasComments, nil
}

// ==================== Sync Log Store ====================

// syncLogStore implements driven.SyncLogStore.
type syncLogStore struct {
	store *Store
}

var _ driven.SyncLogStore = (*syncLogStore)(nil)

// Create inserts a new sync log record.
func (s *syncLogStore) Create(ctx context.Context, rec *domain.SyncLogRecord) error {
	metadataJSON, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return err
	}

	_, err = s.store.db.ExecContext(ctx, `
		INSERT INTO sync_logs (
			id, sync_type, repository_id, status, started_at, completed_at,
			records_processed, records_inserted, records_failed,
			github_api_calls_used, error_message, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, string(rec.SyncType), rec.RepositoryID, string(rec.Status),
		rec.StartedAt.UTC(), nullTime(rec.CompletedAt),
		rec.RecordsProcessed, rec.RecordsInserted, rec.RecordsFailed,
		rec.APICallsUsed, nullString(rec.ErrorMessage), metadataJSON)
	if err != nil {
		return fmt.Errorf("creating sync log: %w", err)
	}
	return nil
}

// Update overwrites an existing sync log record by ID.
func (s *syncLogStore) Update(ctx context.Context, rec *domain.SyncLogRecord) error {
	metadataJSON, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return err
	}

	res, err := s.store.db.ExecContext(ctx, `
		UPDATE sync_logs SET
			status = ?,
			completed_at = ?,
			records_processed = ?,
			records_inserted = ?,
			records_failed = ?,
			github_api_calls_used = ?,
			error_message = ?,
			metadata = ?
		WHERE id = ?
	`, string(rec.Status), nullTime(rec.CompletedAt),
		rec.RecordsProcessed, rec.RecordsInserted, rec.RecordsFailed,
		rec.APICallsUsed, nullString(rec.ErrorMessage), metadataJSON, rec.ID)
	if err != nil {
		return fmt.Errorf("updating sync log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Get retrieves a sync log record by ID.
func (s *syncLogStore) Get(ctx context.Context, id string) (*domain.SyncLogRecord, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT id, sync_type, repository_id, status, started_at, completed_at,
			records_processed, records_inserted, records_failed,
			github_api_calls_used, error_message, metadata
		FROM sync_logs WHERE id = ?
	`, id)

	var rec domain.SyncLogRecord
	var syncType, status string
	var completedAt sql.NullTime
	var errorMessage, metadataJSON sql.NullString
	if err := row.Scan(&rec.ID, &syncType, &rec.RepositoryID, &status,
		&rec.StartedAt, &completedAt,
		&rec.RecordsProcessed, &rec.RecordsInserted, &rec.RecordsFailed,
		&rec.APICallsUsed, &errorMessage, &metadataJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning sync log: %w", err)
	}

	rec.SyncType = domain.JobKind(syncType)
	rec.Status = domain.SyncStatus(status)
	if completedAt.Valid {
		rec.CompletedAt = completedAt.Time
	}
	rec.ErrorMessage = errorMessage.String
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata: %w", err)
		}
	}
	return &rec, nil
}

// ==================== Embedding Job Store ====================

// embeddingJobStore implements driven.EmbeddingJobStore.
type embeddingJobStore struct {
	store *Store
}

var _ driven.EmbeddingJobStore = (*embeddingJobStore)(nil)

// Create inserts a new embedding job.
func (s *embeddingJobStore) Create(ctx context.Context, job *domain.EmbeddingJob) error {
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO embedding_jobs (
			id, repository_id, status, items_total, items_processed,
			started_at, completed_at, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, nullString(job.RepositoryID), string(job.Status),
		job.ItemsTotal, job.ItemsProcessed,
		nullTime(job.StartedAt), nullTime(job.CompletedAt),
		nullString(job.ErrorMessage))
	if err != nil {
		return fmt.Errorf("creating embedding job: %w", err)
	}
	return nil
}

// Update overwrites an embedding job's progress fields.
func (s *embeddingJobStore) Update(ctx context.Context, job *domain.EmbeddingJob) error {
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE embedding_jobs SET
			status = ?,
			items_total = ?,
			items_processed = ?,
			completed_at = ?,
			error_message = ?
		WHERE id = ?
	`, string(job.Status), job.ItemsTotal, job.ItemsProcessed,
		nullTime(job.CompletedAt), nullString(job.ErrorMessage), job.ID)
	if err != nil {
		return fmt.Errorf("updating embedding job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ==================== Similarity Cache Store ====================

// similarityCacheStore implements driven.SimilarityCacheStore.
type similarityCacheStore struct {
	store *Store
	now   func() time.Time
}

var _ driven.SimilarityCacheStore = (*similarityCacheStore)(nil)

func (s *similarityCacheStore) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// Upsert writes an entry, replacing any existing one for the key.
func (s *similarityCacheStore) Upsert(ctx context.Context, entry *domain.SimilarityCacheEntry) error {
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO similarity_cache (
			repository_id, item_type, item_id, embedding, content_hash,
			ttl_seconds, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repository_id, item_type, item_id) DO UPDATE SET
			embedding = excluded.embedding,
			content_hash = excluded.content_hash,
			ttl_seconds = excluded.ttl_seconds,
			created_at = excluded.created_at
	`, entry.RepositoryID, string(entry.Kind), entry.ItemID,
		encodeEmbedding(entry.Embedding), entry.ContentHash,
		int64(entry.TTL.Seconds()), entry.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upserting cache entry: %w", err)
	}
	return nil
}

// Get retrieves an entry, treating expired rows as absent.
func (s *similarityCacheStore) Get(ctx context.Context, repositoryID string, kind domain.ItemKind, itemID string) (*domain.SimilarityCacheEntry, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT repository_id, item_type, item_id, embedding, content_hash,
			ttl_seconds, created_at
		FROM similarity_cache
		WHERE repository_id = ? AND item_type = ? AND item_id = ?
	`, repositoryID, string(kind), itemID)

	var entry domain.SimilarityCacheEntry
	var itemType string
	var blob []byte
	var ttlSeconds int64
	if err := row.Scan(&entry.RepositoryID, &itemType, &entry.ItemID,
		&blob, &entry.ContentHash, &ttlSeconds, &entry.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning cache entry: %w", err)
	}

	entry.Kind = domain.ItemKind(itemType)
	entry.Embedding = decodeEmbedding(blob)
	entry.TTL = time.Duration(ttlSeconds) * time.Second

	if entry.Expired(s.clock()) {
		return nil, domain.ErrNotFound
	}
	return &entry, nil
}

// PruneExpired removes expired entries and returns how many were removed.
func (s *similarityCacheStore) PruneExpired(ctx context.Context) (int, error) {
	res, err := s.store.db.ExecContext(ctx, `
		DELETE FROM similarity_cache
		WHERE datetime(created_at, '+' || ttl_seconds || ' seconds') <= datetime(?)
	`, s.clock().UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning cache: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return int(n), nil
}

// ==================== Backfill Store ====================

// backfillStore implements driven.BackfillStore.
type backfillStore struct {
	store *Store
}

var _ driven.BackfillStore = (*backfillStore)(nil)

// IsActive reports whether a backfill is running for the repository.
func (s *backfillStore) IsActive(ctx context.Context, repositoryID string) (bool, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT active FROM progressive_backfill_state WHERE repository_id = ?
	`, repositoryID)

	var active bool
	if err := row.Scan(&active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("reading backfill state: %w", err)
	}
	return active, nil
}

// SetActive marks a backfill as running or idle.
func (s *backfillStore) SetActive(ctx context.Context, repositoryID string, active bool) error {
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO progressive_backfill_state (repository_id, active, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(repository_id) DO UPDATE SET
			active = excluded.active,
			updated_at = excluded.updated_at
	`, repositoryID, active, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("setting backfill state: %w", err)
	}
	return nil
}

// ==================== Helpers ====================

// encodeEmbedding serializes a float32 vector as little-endian bytes.
func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeEmbedding deserializes a little-endian byte blob into float32s.
func decodeEmbedding(data []byte) []float32 {
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}

// nullString converts an empty string to a SQL NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullTime converts a zero time to a SQL NULL.
func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}

// marshalMetadata serializes sync log metadata, treating nil as NULL.
func marshalMetadata(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshalling metadata: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
