// Package scheduler tests for background sync scheduling functionality.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kimhsiao/slotboard/internal/errors"
	"github.com/kimhsiao/slotboard/internal/netmon"
	syncpkg "github.com/kimhsiao/slotboard/internal/sync"
	"github.com/kimhsiao/slotboard/internal/sync/queue"
)

// =====================================================
// Test Helpers
// =====================================================

type fakeEngine struct {
	calls   atomic.Int32
	enabled atomic.Bool
	phase   atomic.Value
	err     error
	block   chan struct{}

	mu      sync.Mutex
	drained func(queue.DrainStats)
}

func newFakeEngine() *fakeEngine {
	e := &fakeEngine{}
	e.enabled.Store(true)
	e.phase.Store(syncpkg.PhaseIdle)
	return e
}

func (e *fakeEngine) SyncNow(ctx context.Context) (*syncpkg.SyncResult, error) {
	e.calls.Add(1)
	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
		}
	}
	if e.err != nil {
		return &syncpkg.SyncResult{Skipped: true}, e.err
	}
	return &syncpkg.SyncResult{Uploaded: 1}, nil
}

func (e *fakeEngine) IsEnabled() bool { return e.enabled.Load() }

func (e *fakeEngine) Phase() syncpkg.Phase { return e.phase.Load().(syncpkg.Phase) }

func (e *fakeEngine) OnQueueDrained(fn func(queue.DrainStats)) {
	e.mu.Lock()
	e.drained = fn
	e.mu.Unlock()
}

func (e *fakeEngine) fireDrained(stats queue.DrainStats) {
	e.mu.Lock()
	fn := e.drained
	e.mu.Unlock()
	if fn != nil {
		fn(stats)
	}
}

type fakeNetwork struct {
	mu       sync.Mutex
	tier     netmon.Tier
	listener netmon.Listener
}

func (n *fakeNetwork) Tier() netmon.Tier {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tier
}

func (n *fakeNetwork) Subscribe(fn netmon.Listener) func() {
	n.mu.Lock()
	n.listener = fn
	n.mu.Unlock()
	return func() {
		n.mu.Lock()
		n.listener = nil
		n.mu.Unlock()
	}
}

func (n *fakeNetwork) transition(prev, next netmon.Tier) {
	n.mu.Lock()
	n.tier = next
	fn := n.listener
	n.mu.Unlock()
	if fn != nil {
		fn(netmon.State{Tier: prev}, netmon.State{Tier: next})
	}
}

func createTestScheduler(t *testing.T, tier netmon.Tier, interval time.Duration) (*fakeEngine, *fakeNetwork, *Scheduler) {
	t.Helper()
	engine := newFakeEngine()
	network := &fakeNetwork{tier: tier}
	s := NewScheduler(engine, network, &SchedulerConfig{SyncInterval: interval, SyncTimeout: time.Second})
	s.Start(context.Background())
	t.Cleanup(s.Stop)
	return engine, network, s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// =====================================================
// Tests
// =====================================================

// TestDefaultSchedulerConfig verifies default configuration.
func TestDefaultSchedulerConfig(t *testing.T) {
	config := DefaultSchedulerConfig()

	if config.SyncInterval != 30*time.Second {
		t.Errorf("SyncInterval = %v, want 30s", config.SyncInterval)
	}
	if config.SyncTimeout != 2*time.Minute {
		t.Errorf("SyncTimeout = %v, want 2m", config.SyncTimeout)
	}
}

// TestNewScheduler_nilConfig verifies defaults are applied.
func TestNewScheduler_nilConfig(t *testing.T) {
	s := NewScheduler(newFakeEngine(), &fakeNetwork{}, nil)
	if s.syncInterval != 30*time.Second {
		t.Errorf("syncInterval = %v, want 30s", s.syncInterval)
	}
	if s.IsRunning() {
		t.Error("scheduler should not be running before Start")
	}
}

// TestPeriodicSync_online verifies the timer fires syncs when the tier allows it.
func TestPeriodicSync_online(t *testing.T) {
	engine, _, s := createTestScheduler(t, netmon.TierGood, 20*time.Millisecond)

	waitFor(t, func() bool { return engine.calls.Load() >= 2 })

	status := s.GetStatus()
	if status.Triggers[TriggerPeriodic] < 1 {
		t.Errorf("periodic triggers = %d, want >= 1", status.Triggers[TriggerPeriodic])
	}
	if !status.IsOnline || !status.IsRunning {
		t.Errorf("status = %+v", status)
	}
}

// TestPeriodicSync_poorNetwork verifies no periodic sync below fair.
func TestPeriodicSync_poorNetwork(t *testing.T) {
	engine, _, _ := createTestScheduler(t, netmon.TierPoor, 10*time.Millisecond)

	time.Sleep(80 * time.Millisecond)
	if n := engine.calls.Load(); n != 0 {
		t.Errorf("SyncNow calls = %d, want 0", n)
	}
}

// TestReconnect verifies a transition to a syncable tier triggers a sync.
func TestReconnect(t *testing.T) {
	engine, network, s := createTestScheduler(t, netmon.TierOffline, time.Hour)

	network.transition(netmon.TierOffline, netmon.TierFair)
	waitFor(t, func() bool { return engine.calls.Load() == 1 })
	waitFor(t, func() bool { return !s.GetStatus().SyncInProgress })

	// Fair to good is not a reconnect.
	network.transition(netmon.TierFair, netmon.TierGood)
	time.Sleep(30 * time.Millisecond)
	if n := engine.calls.Load(); n != 1 {
		t.Errorf("SyncNow calls = %d, want 1", n)
	}
	if got := s.GetStatus().Triggers[TriggerReconnect]; got != 1 {
		t.Errorf("reconnect triggers = %d, want 1", got)
	}
}

// TestOnVisible verifies the visibility trigger conditions.
func TestOnVisible(t *testing.T) {
	engine, network, s := createTestScheduler(t, netmon.TierGood, time.Hour)

	engine.enabled.Store(false)
	if s.OnVisible() {
		t.Error("OnVisible() = true with sync disabled")
	}
	engine.enabled.Store(true)

	engine.phase.Store(syncpkg.PhasePulling)
	if s.OnVisible() {
		t.Error("OnVisible() = true while not idle")
	}
	engine.phase.Store(syncpkg.PhaseIdle)

	network.mu.Lock()
	network.tier = netmon.TierOffline
	network.mu.Unlock()
	if s.OnVisible() {
		t.Error("OnVisible() = true while offline")
	}
	network.mu.Lock()
	network.tier = netmon.TierGood
	network.mu.Unlock()

	if !s.OnVisible() {
		t.Fatal("OnVisible() = false, want true")
	}
	waitFor(t, func() bool { return engine.calls.Load() == 1 })
}

// TestQueueDrained verifies a successful drain triggers a sync.
func TestQueueDrained(t *testing.T) {
	engine, _, _ := createTestScheduler(t, netmon.TierGood, time.Hour)

	engine.fireDrained(queue.DrainStats{Processed: 1, Failed: 1})
	time.Sleep(20 * time.Millisecond)
	if n := engine.calls.Load(); n != 0 {
		t.Errorf("SyncNow calls = %d after failed drain, want 0", n)
	}

	engine.fireDrained(queue.DrainStats{Processed: 1, Succeeded: 1})
	waitFor(t, func() bool { return engine.calls.Load() == 1 })
}

// TestTriggerSync_inProgress verifies a second trigger is rejected while one runs.
func TestTriggerSync_inProgress(t *testing.T) {
	engine := newFakeEngine()
	engine.block = make(chan struct{})
	s := NewScheduler(engine, &fakeNetwork{tier: netmon.TierGood}, &SchedulerConfig{SyncInterval: time.Hour})
	s.Start(context.Background())
	defer s.Stop()

	if !s.TriggerSync() {
		t.Fatal("first TriggerSync() = false")
	}
	if s.TriggerSync() {
		t.Error("second TriggerSync() = true while in progress")
	}
	close(engine.block)
	waitFor(t, func() bool { return !s.GetStatus().SyncInProgress })

	if !s.TriggerSync() {
		t.Error("TriggerSync() = false after completion")
	}
}

// TestTriggerSync_notRunning verifies triggers are ignored before Start.
func TestTriggerSync_notRunning(t *testing.T) {
	engine := newFakeEngine()
	s := NewScheduler(engine, &fakeNetwork{tier: netmon.TierGood}, nil)
	if s.TriggerSync() {
		t.Error("TriggerSync() = true before Start")
	}
}

// TestSyncNow verifies the synchronous path returns engine errors.
func TestSyncNow(t *testing.T) {
	engine, _, s := createTestScheduler(t, netmon.TierGood, time.Hour)

	result, err := s.SyncNow(context.Background())
	if err != nil || result.Uploaded != 1 {
		t.Fatalf("SyncNow() = %+v, %v", result, err)
	}
	if s.GetStatus().LastSyncTime == nil {
		t.Error("LastSyncTime not set")
	}

	engine.err = errors.New(errors.ErrSyncSkipped, "offline")
	if _, err := s.SyncNow(context.Background()); !errors.Is(err, errors.ErrSyncSkipped) {
		t.Errorf("SyncNow() error = %v, want SYNC_SKIPPED", err)
	}
}

// TestStartStop verifies Start and Stop are idempotent.
func TestStartStop(t *testing.T) {
	s := NewScheduler(newFakeEngine(), &fakeNetwork{}, nil)
	s.Start(context.Background())
	s.Start(context.Background())
	if !s.IsRunning() {
		t.Fatal("scheduler should be running")
	}
	s.Stop()
	s.Stop()
	if s.IsRunning() {
		t.Error("scheduler should be stopped")
	}
}

// TestRestart verifies a stopped scheduler can be started and stopped again.
func TestRestart(t *testing.T) {
	engine := newFakeEngine()
	s := NewScheduler(engine, &fakeNetwork{tier: netmon.TierGood}, &SchedulerConfig{SyncInterval: 20 * time.Millisecond, SyncTimeout: time.Second})

	s.Start(context.Background())
	s.Stop()

	s.Start(context.Background())
	if !s.IsRunning() {
		t.Fatal("scheduler should be running after restart")
	}
	before := engine.calls.Load()
	waitFor(t, func() bool { return engine.calls.Load() > before })

	s.Stop()
	if s.IsRunning() {
		t.Error("scheduler should be stopped")
	}
}
