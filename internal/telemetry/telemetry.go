// Package telemetry keeps in-process sync counters for the status surfaces.
//
// Nothing here leaves the device: the counters are read by the desktop API and the
// CLI, and there is no exporter.
package telemetry

import (
	"sync"
	"time"

	syncpkg "github.com/kimhsiao/slotboard/internal/sync"
)

// Metric names.
const (
	CyclesStarted   = "sync.cycles.started"
	CyclesCompleted = "sync.cycles.completed"
	CyclesSkipped   = "sync.cycles.skipped"
	CyclesFailed    = "sync.cycles.failed"
	Conflicts       = "sync.conflicts"
	ParkedWrites    = "sync.parked"
	AuthFailures    = "sync.auth_failures"
	LocalChanges    = "sync.local_changes"
	CycleDuration   = "sync.cycle.duration"
)

// Timing aggregates durations.
type Timing struct {
	Count int64         `json:"count"`
	Total time.Duration `json:"total"`
	Max   time.Duration `json:"max"`
	Last  time.Duration `json:"last"`
}

// Mean returns the average duration, or zero.
func (t Timing) Mean() time.Duration {
	if t.Count == 0 {
		return 0
	}
	return t.Total / time.Duration(t.Count)
}

// Snapshot is a copy of the collector state.
type Snapshot struct {
	Counters    map[string]int64  `json:"counters"`
	Timings     map[string]Timing `json:"timings"`
	LastEventAt time.Time         `json:"lastEventAt,omitzero"`
	LastError   string            `json:"lastError,omitempty"`
}

// Collector counts sync events. It implements syncpkg.SyncEventHandler and never blocks.
type Collector struct {
	mu        sync.Mutex
	counters  map[string]int64
	timings   map[string]Timing
	started   time.Time
	lastEvent time.Time
	lastError string
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{
		counters: make(map[string]int64),
		timings:  make(map[string]Timing),
	}
}

// RecordCount adds delta to the named counter.
func (c *Collector) RecordCount(name string, delta int) {
	c.mu.Lock()
	c.counters[name] += int64(delta)
	c.mu.Unlock()
}

// RecordTiming adds one observation to the named timing.
func (c *Collector) RecordTiming(name string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.timings[name]
	t.Count++
	t.Total += d
	t.Last = d
	if d > t.Max {
		t.Max = d
	}
	c.timings[name] = t
}

// OnSyncEvent implements syncpkg.SyncEventHandler.
func (c *Collector) OnSyncEvent(ev syncpkg.SyncEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastEvent = ev.Timestamp
	switch ev.Type {
	case syncpkg.SyncEventStarted:
		c.counters[CyclesStarted]++
		c.started = ev.Timestamp
	case syncpkg.SyncEventCompleted:
		c.counters[CyclesCompleted]++
		c.observeCycleLocked(ev.Timestamp)
	case syncpkg.SyncEventSkipped:
		c.counters[CyclesSkipped]++
	case syncpkg.SyncEventFailed:
		c.counters[CyclesFailed]++
		c.lastError = ev.Message
		c.observeCycleLocked(ev.Timestamp)
	case syncpkg.SyncEventConflict:
		c.counters[Conflicts] += int64(len(ev.RecordIDs))
	case syncpkg.SyncEventParked:
		c.counters[ParkedWrites]++
	case syncpkg.SyncEventAuthRequired:
		c.counters[AuthFailures]++
	case syncpkg.SyncEventLocalChanged:
		c.counters[LocalChanges]++
	}
}

func (c *Collector) observeCycleLocked(end time.Time) {
	if c.started.IsZero() || end.Before(c.started) {
		return
	}
	d := end.Sub(c.started)
	c.started = time.Time{}

	t := c.timings[CycleDuration]
	t.Count++
	t.Total += d
	t.Last = d
	if d > t.Max {
		t.Max = d
	}
	c.timings[CycleDuration] = t
}

// Count returns the named counter.
func (c *Collector) Count(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[name]
}

// Snapshot returns a copy of every counter and timing.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		Counters:    make(map[string]int64, len(c.counters)),
		Timings:     make(map[string]Timing, len(c.timings)),
		LastEventAt: c.lastEvent,
		LastError:   c.lastError,
	}
	for k, v := range c.counters {
		s.Counters[k] = v
	}
	for k, v := range c.timings {
		s.Timings[k] = v
	}
	return s
}

// Reset clears all data.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters = make(map[string]int64)
	c.timings = make(map[string]Timing)
	c.started = time.Time{}
	c.lastEvent = time.Time{}
	c.lastError = ""
}

// Fanout delivers each event to every handler in order. Nil handlers are skipped.
func Fanout(handlers ...syncpkg.SyncEventHandler) syncpkg.SyncEventHandler {
	return syncpkg.SyncEventHandlerFunc(func(ev syncpkg.SyncEvent) {
		for _, h := range handlers {
			if h != nil {
				h.OnSyncEvent(ev)
			}
		}
	})
}
