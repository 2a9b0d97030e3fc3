package sync

import (
	"context"
	"time"

	"github.com/kimhsiao/slotboard/internal/models"
	"github.com/kimhsiao/slotboard/internal/netmon"
)

// SyncEngineInterface defines the interface for sync engine operations.
// This interface allows for mocking in tests and alternative implementations.
type SyncEngineInterface interface {
	// SyncNow runs one sync cycle. Skipped cycles return a result with Skipped set and
	// an error carrying ErrSyncSkipped or ErrSyncDisabled.
	SyncNow(ctx context.Context) (*SyncResult, error)

	// SetEventHandler sets the event handler for sync notifications.
	SetEventHandler(handler SyncEventHandler)

	EnableSync(ctx context.Context) error
	DisableSync(ctx context.Context) error
	IsEnabled() bool
	SetAutoUpload(ctx context.Context, enabled bool) error

	Enqueue(ctx context.Context, kind models.OperationKind, payload interface{}, priority models.Priority) (string, error)

	Status() SyncStatus
	Phase() Phase
	NetworkTier() netmon.Tier
	LastSyncTime() time.Time
	PendingOperationCount() int
	ParkedWrites(ctx context.Context) ([]models.ParkedWrite, error)
	ConflictHistory() []models.ConflictLog
}

var _ SyncEngineInterface = (*SyncEngine)(nil)
