package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rivetlabs/gitpulse/internal/core/domain"
	"github.com/rivetlabs/gitpulse/internal/core/ports/driven"
	"github.com/rivetlabs/gitpulse/internal/logger"
)

// SyncLogger opens, updates and closes the audit record of each sync
// run. Every write is best-effort: a logging failure must never abort
// the sync it describes, so store errors are warned and swallowed.
type SyncLogger struct {
	store driven.SyncLogStore
	now   func() time.Time
}

// NewSyncLogger creates a sync logger backed by the given store.
func NewSyncLogger(store driven.SyncLogStore) *SyncLogger {
	return &SyncLogger{store: store, now: time.Now}
}

// Start opens an audit record for a sync run. The returned SyncRun is
// valid even when the initial insert fails.
func (l *SyncLogger) Start(ctx context.Context, syncType domain.JobKind, repositoryID string, metadata map[string]any) *SyncRun {
	rec := &domain.SyncLogRecord{
		ID:           uuid.NewString(),
		SyncType:     syncType,
		RepositoryID: repositoryID,
		Status:       domain.SyncInProgress,
		StartedAt:    l.now(),
		Metadata:     metadata,
	}

	if err := l.store.Create(ctx, rec); err != nil {
		logger.Warn("sync log create failed for %s/%s: %v", syncType, repositoryID, err)
	}

	return &SyncRun{logger: l, rec: rec}
}

// SyncRun is one open audit record. Complete and Fail are idempotent:
// a second terminal call is a warning no-op, never an error.
type SyncRun struct {
	logger *SyncLogger

	mu       sync.Mutex
	rec      *domain.SyncLogRecord
	terminal bool
}

// ID returns the sync log record ID.
func (r *SyncRun) ID() string {
	return r.rec.ID
}

// Update applies incremental counter deltas to the record.
func (r *SyncRun) Update(ctx context.Context, counters domain.SyncCounters) {
	r.mu.Lock()
	if r.terminal {
		r.mu.Unlock()
		logger.Warn("sync log %s updated after terminal status, ignoring", r.rec.ID)
		return
	}
	r.rec.RecordsProcessed += counters.Processed
	r.rec.RecordsInserted += counters.Inserted
	r.rec.RecordsFailed += counters.Failed
	r.rec.APICallsUsed += counters.APICalls
	rec := r.snapshotLocked()
	r.mu.Unlock()

	r.persist(ctx, rec)
}

// Complete closes the record as successful.
func (r *SyncRun) Complete(ctx context.Context, counters domain.SyncCounters) {
	r.finish(ctx, domain.SyncCompleted, "", counters)
}

// Fail closes the record with an error message.
func (r *SyncRun) Fail(ctx context.Context, errorMessage string, counters domain.SyncCounters) {
	r.finish(ctx, domain.SyncFailed, errorMessage, counters)
}

// Record returns a copy of the current record state.
func (r *SyncRun) Record() domain.SyncLogRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.snapshotLocked()
}

func (r *SyncRun) finish(ctx context.Context, status domain.SyncStatus, errorMessage string, counters domain.SyncCounters) {
	r.mu.Lock()
	if r.terminal {
		r.mu.Unlock()
		logger.Warn("sync log %s already closed, ignoring duplicate %s", r.rec.ID, status)
		return
	}
	r.terminal = true
	r.rec.RecordsProcessed += counters.Processed
	r.rec.RecordsInserted += counters.Inserted
	r.rec.RecordsFailed += counters.Failed
	r.rec.APICallsUsed += counters.APICalls
	r.rec.Status = status
	r.rec.ErrorMessage = errorMessage
	r.rec.CompletedAt = r.logger.now()
	rec := r.snapshotLocked()
	r.mu.Unlock()

	r.persist(ctx, rec)
}

func (r *SyncRun) persist(ctx context.Context, rec *domain.SyncLogRecord) {
	if err := r.logger.store.Update(ctx, rec); err != nil {
		logger.Warn("sync log update failed for %s: %v", rec.ID, err)
	}
}

// snapshotLocked copies the record; callers hold r.mu.
func (r *SyncRun) snapshotLocked() *domain.SyncLogRecord {
	cp := *r.rec
	return &cp
}
