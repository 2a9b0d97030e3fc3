package models

import "time"

// SyncBookkeeping is the persisted per-install sync state. Only the sync engine writes it.
type SyncBookkeeping struct {
	LastSyncTimestamp     time.Time `json:"lastSyncTimestamp,omitzero"`
	LastKnownVersionToken string    `json:"lastKnownVersionToken,omitempty"`
	DeviceID              string    `json:"deviceId"`
	SyncEnabled           bool      `json:"syncEnabled"`
	AutoUploadEnabled     bool      `json:"autoUploadEnabled"`
}
