package models

import (
	"encoding/json"
	"time"
)

// OperationKind names the handler a queued operation dispatches to.
type OperationKind string

const (
	OperationUpload       OperationKind = "upload"
	OperationDeleteRecord OperationKind = "deleteRecord"
	OperationDeleteAdmin  OperationKind = "deleteAdmin"
	OperationRenameOwner  OperationKind = "renameOwner"
	OperationForcedPull   OperationKind = "forcedPull"
)

// Priority orders operations; high priority operations are inserted at the head.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// OperationStatus is the lifecycle state of a queued operation.
type OperationStatus string

const (
	OperationPending    OperationStatus = "pending"
	OperationProcessing OperationStatus = "processing"
	OperationCompleted  OperationStatus = "completed"
	OperationFailed     OperationStatus = "failed"
)

// QueuedOperation is a durable mutating intent waiting to reach the remote store.
type QueuedOperation struct {
	ID            string          `json:"id"`
	Kind          OperationKind   `json:"kind"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Priority      Priority        `json:"priority"`
	EnqueuedAt    time.Time       `json:"enqueuedAt"`
	Status        OperationStatus `json:"status"`
	RetryCount    int             `json:"retryCount"`
	NextAttemptAt time.Time       `json:"nextAttemptAt,omitzero"`
	LastError     string          `json:"lastError,omitempty"`
}

// DeleteRecordPayload identifies the record to delete.
type DeleteRecordPayload struct {
	RecordID string `json:"recordId"`
}

// DeleteAdminPayload identifies the admin to delete.
type DeleteAdminPayload struct {
	Username string `json:"username"`
}

// RenameOwnerPayload carries a new display name for every record owned by OwnerID.
type RenameOwnerPayload struct {
	OwnerID string `json:"ownerId"`
	NewName string `json:"newName"`
}

// UploadPayload optionally names the admin responsible for the upload.
type UploadPayload struct {
	UpdatedBy string `json:"updatedBy,omitempty"`
}
