package models

import (
	"encoding/json"
	"time"
)

// Reasons a write was parked.
const (
	ParkReasonRetriesExhausted  = "retries_exhausted"
	ParkReasonConflictExhausted = "conflict_exhausted"
)

// ParkedWrite is a write the engine gave up on. It is kept for manual recovery.
type ParkedWrite struct {
	ID             string          `json:"id"`
	Kind           OperationKind   `json:"kind"`
	Reason         string          `json:"reason"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	ConflictingIDs []string        `json:"conflictingIds,omitempty"`
	LastError      string          `json:"lastError,omitempty"`
	ParkedAt       time.Time       `json:"parkedAt"`
}
