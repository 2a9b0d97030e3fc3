package models

import "time"

// Resolutions recorded in a ConflictLog.
const (
	ResolutionLocalWins  = "local_wins"
	ResolutionRemoteWins = "remote_wins"
)

// ConflictLog records one resolved divergence between a local and a remote record.
type ConflictLog struct {
	RecordID        string    `json:"recordId"`
	LocalTimestamp  time.Time `json:"localTimestamp"`
	RemoteTimestamp time.Time `json:"remoteTimestamp"`
	Resolution      string    `json:"resolution"`
	DetectedAt      time.Time `json:"detectedAt"`
}
