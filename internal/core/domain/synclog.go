package domain

import "time"

// SyncStatus is the lifecycle state of a sync log record.
type SyncStatus string

// Sync statuses.
const (
	SyncInProgress SyncStatus = "in_progress"
	SyncCompleted  SyncStatus = "completed"
	SyncFailed     SyncStatus = "failed"
)

// SyncLogRecord is the audit record for one sync run. Created at sync
// start, updated incrementally, closed exactly once.
type SyncLogRecord struct {
	ID               string
	SyncType         JobKind
	RepositoryID     string
	Status           SyncStatus
	StartedAt        time.Time
	CompletedAt      time.Time // zero until terminal
	RecordsProcessed int
	RecordsInserted  int
	RecordsFailed    int
	APICallsUsed     int
	ErrorMessage     string
	Metadata         map[string]any
}

// SyncCounters carries incremental counter updates for a running sync.
type SyncCounters struct {
	Processed int
	Inserted  int
	Failed    int
	APICalls  int
}
