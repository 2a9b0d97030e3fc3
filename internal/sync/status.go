package sync

import (
	"time"

	"github.com/kimhsiao/slotboard/internal/models"
	"github.com/kimhsiao/slotboard/internal/netmon"
)

// Phase is the position of the engine in a sync cycle.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseProbing       Phase = "probing"
	PhasePulling       Phase = "pulling"
	PhaseMerging       Phase = "merging"
	PhasePushing       Phase = "pushing"
	PhaseConflictRetry Phase = "conflict-retry"
	PhaseSuccess       Phase = "success"
	PhaseParked        Phase = "parked"
)

// SyncResult represents the result of a sync operation.
type SyncResult struct {
	StartTime       time.Time     `json:"startTime"`
	EndTime         time.Time     `json:"endTime"`
	Duration        time.Duration `json:"duration"`
	RemoteFound     bool          `json:"remoteFound"`
	Merged          bool          `json:"merged"`
	Downloaded      int           `json:"downloaded"`
	Uploaded        int           `json:"uploaded"`
	Conflicts       int           `json:"conflicts"`
	ConflictRetries int           `json:"conflictRetries"`
	Token           string        `json:"token,omitempty"`
	Skipped         bool          `json:"skipped,omitempty"`
	SkipReason      string        `json:"skipReason,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// SyncStatus is the user-visible state of the engine.
type SyncStatus struct {
	Phase                 Phase     `json:"phase"`
	Syncing               bool      `json:"syncing"`
	Enabled               bool      `json:"enabled"`
	AutoUpload            bool      `json:"autoUpload"`
	NetworkTier           string    `json:"networkTier"`
	LastSyncTime          time.Time `json:"lastSyncTime,omitzero"`
	LastError             string    `json:"lastError,omitempty"`
	NeedsReconfiguration  bool      `json:"needsReconfiguration"`
	NeedsManualResolution bool      `json:"needsManualResolution"`
	ConflictingIDs        []string  `json:"conflictingIds,omitempty"`
	PendingOperations     int       `json:"pendingOperations"`
}

// maxConflictHistory bounds the in-memory conflict log.
const maxConflictHistory = 100

type statusState struct {
	phase          Phase
	lastErr        string
	needsReconfig  bool
	needsManual    bool
	conflictingIDs []string
	history        []models.ConflictLog
}

func (e *SyncEngine) setPhase(p Phase) {
	e.statusMu.Lock()
	changed := e.st.phase != p
	e.st.phase = p
	e.statusMu.Unlock()

	if changed && p != PhaseIdle {
		e.emitEvent(SyncEvent{Type: SyncEventPhase, Phase: p})
	}
}

// Phase returns the current phase.
func (e *SyncEngine) Phase() Phase {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.st.phase
}

func (e *SyncEngine) setLastError(err error) {
	e.statusMu.Lock()
	if err == nil {
		e.st.lastErr = ""
	} else {
		e.st.lastErr = err.Error()
	}
	e.statusMu.Unlock()
}

// LastError returns the message of the last failed sync, or "" after a success.
func (e *SyncEngine) LastError() string {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.st.lastErr
}

func (e *SyncEngine) recordConflicts(logs []models.ConflictLog) {
	if len(logs) == 0 {
		return
	}
	e.statusMu.Lock()
	e.st.history = append(e.st.history, logs...)
	if n := len(e.st.history); n > maxConflictHistory {
		e.st.history = append([]models.ConflictLog(nil), e.st.history[n-maxConflictHistory:]...)
	}
	e.statusMu.Unlock()
}

// ConflictHistory returns the most recent resolved conflicts, oldest first.
func (e *SyncEngine) ConflictHistory() []models.ConflictLog {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	out := make([]models.ConflictLog, len(e.st.history))
	copy(out, e.st.history)
	return out
}

// NetworkTier returns the last measured network tier.
func (e *SyncEngine) NetworkTier() netmon.Tier {
	return e.net.Tier()
}

// PendingOperationCount returns the number of queued operations.
func (e *SyncEngine) PendingOperationCount() int {
	return e.queue.Len()
}

// Status returns a snapshot of the engine state.
func (e *SyncEngine) Status() SyncStatus {
	e.statusMu.RLock()
	st := SyncStatus{
		Phase:                 e.st.phase,
		LastError:             e.st.lastErr,
		NeedsReconfiguration:  e.st.needsReconfig,
		NeedsManualResolution: e.st.needsManual,
		ConflictingIDs:        append([]string(nil), e.st.conflictingIDs...),
	}
	e.statusMu.RUnlock()

	st.Syncing = e.syncing.Load()
	st.Enabled = e.enabled.Load()
	st.AutoUpload = e.autoUpload.Load()
	st.NetworkTier = e.net.Tier().String()
	st.PendingOperations = e.queue.Len()
	if t, ok := e.lastSync.Load().(time.Time); ok {
		st.LastSyncTime = t
	}
	return st
}
