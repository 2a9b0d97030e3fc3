package sync

import "time"

// SyncEventType represents the type of a sync event.
type SyncEventType string

const (
	SyncEventStarted      SyncEventType = "started"
	SyncEventPhase        SyncEventType = "phase"
	SyncEventCompleted    SyncEventType = "completed"
	SyncEventSkipped      SyncEventType = "skipped"
	SyncEventFailed       SyncEventType = "failed"
	SyncEventConflict     SyncEventType = "conflict"
	SyncEventParked       SyncEventType = "parked"
	SyncEventAuthRequired SyncEventType = "auth_required"
	// SyncEventLocalChanged means the local store changed underneath the host, either by a
	// merge in this process or by another instance sharing the dataset. Hosts reload.
	SyncEventLocalChanged SyncEventType = "local_changed"
)

// SyncEvent is delivered to the registered SyncEventHandler.
type SyncEvent struct {
	Type      SyncEventType `json:"type"`
	Phase     Phase         `json:"phase,omitempty"`
	Message   string        `json:"message,omitempty"`
	RecordIDs []string      `json:"recordIds,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// SyncEventHandler receives sync events. OnSyncEvent is called synchronously from the
// goroutine doing the work and must not block.
type SyncEventHandler interface {
	OnSyncEvent(event SyncEvent)
}

// SyncEventHandlerFunc adapts a function to SyncEventHandler.
type SyncEventHandlerFunc func(event SyncEvent)

// OnSyncEvent calls f(event).
func (f SyncEventHandlerFunc) OnSyncEvent(event SyncEvent) { f(event) }

// SetEventHandler sets the event handler. A nil handler disables events.
func (e *SyncEngine) SetEventHandler(handler SyncEventHandler) {
	e.eventMu.Lock()
	e.handler = handler
	e.eventMu.Unlock()
}

func (e *SyncEngine) emitEvent(event SyncEvent) {
	e.eventMu.RLock()
	h := e.handler
	e.eventMu.RUnlock()

	if h == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now()
	}
	h.OnSyncEvent(event)
}
