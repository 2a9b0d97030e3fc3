// Package scheduler decides when the sync engine runs: on a timer, when the app becomes
// visible, when the network comes back, after the queue drains, and on request.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/slotboard/internal/errors"
	"github.com/kimhsiao/slotboard/internal/logging"
	"github.com/kimhsiao/slotboard/internal/netmon"
	syncpkg "github.com/kimhsiao/slotboard/internal/sync"
	"github.com/kimhsiao/slotboard/internal/sync/queue"
)

// Trigger names what started a sync.
type Trigger string

const (
	TriggerPeriodic     Trigger = "periodic"
	TriggerVisible      Trigger = "visible"
	TriggerReconnect    Trigger = "reconnect"
	TriggerManual       Trigger = "manual"
	TriggerQueueDrained Trigger = "queue_drained"
)

// Engine is the part of the sync engine the scheduler drives.
type Engine interface {
	SyncNow(ctx context.Context) (*syncpkg.SyncResult, error)
	IsEnabled() bool
	Phase() syncpkg.Phase
	OnQueueDrained(fn func(queue.DrainStats))
}

// Network reports tier transitions. netmon.Monitor implements it.
type Network interface {
	Tier() netmon.Tier
	Subscribe(fn netmon.Listener) func()
}

// Scheduler manages background sync operations.
type Scheduler struct {
	engine       Engine
	network      Network
	syncInterval time.Duration
	syncTimeout  time.Duration

	ctx         context.Context
	stopCh      chan struct{}
	wg          sync.WaitGroup
	unsubscribe func()

	mu             sync.RWMutex
	isRunning      bool
	syncInProgress bool
	lastSyncTime   time.Time
	lastTrigger    Trigger
	triggers       map[Trigger]int
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	SyncInterval time.Duration // How often to sync while the network allows it (default: 30 seconds)
	SyncTimeout  time.Duration // Upper bound of one sync cycle (default: 2 minutes)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		SyncInterval: 30 * time.Second,
		SyncTimeout:  2 * time.Minute,
	}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(engine Engine, network Network, config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	def := DefaultSchedulerConfig()
	if config.SyncInterval <= 0 {
		config.SyncInterval = def.SyncInterval
	}
	if config.SyncTimeout <= 0 {
		config.SyncTimeout = def.SyncTimeout
	}

	return &Scheduler{
		engine:       engine,
		network:      network,
		syncInterval: config.SyncInterval,
		syncTimeout:  config.SyncTimeout,
		ctx:          context.Background(),
		stopCh:       make(chan struct{}),
		triggers:     make(map[Trigger]int),
	}
}

// Start starts the periodic loop and subscribes to network and queue events.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ctx = ctx
	// A stopped scheduler has a closed channel.
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.unsubscribe = s.network.Subscribe(s.onNetworkChange)
	s.engine.OnQueueDrained(s.onQueueDrained)

	s.wg.Add(1)
	go s.periodicSyncLoop(ctx, stopCh)

	logging.Info("Background sync scheduler started", map[string]interface{}{
		"interval_seconds": s.syncInterval.Seconds(),
	})
}

// Stop stops the scheduler and waits for running syncs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	stopCh := s.stopCh
	s.mu.Unlock()

	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.engine.OnQueueDrained(nil)
	close(stopCh)
	s.wg.Wait()

	logging.Info("Background sync scheduler stopped")
}

// periodicSyncLoop runs periodic sync while the network allows it.
func (s *Scheduler) periodicSyncLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if !s.IsOnline() {
				continue
			}
			s.trigger(TriggerPeriodic)
		}
	}
}

func (s *Scheduler) onNetworkChange(prev, next netmon.State) {
	if prev.Tier.AllowsSync() || !next.Tier.AllowsSync() {
		return
	}
	logging.Info("Network reconnected", map[string]interface{}{
		"from": prev.Tier.String(),
		"to":   next.Tier.String(),
	})
	s.trigger(TriggerReconnect)
}

func (s *Scheduler) onQueueDrained(stats queue.DrainStats) {
	if stats.Succeeded == 0 {
		return
	}
	s.trigger(TriggerQueueDrained)
}

// OnVisible is called when the host becomes visible or returns to the foreground.
// It starts a sync when sync is enabled, the network allows it and the engine is idle.
func (s *Scheduler) OnVisible() bool {
	if !s.engine.IsEnabled() || !s.IsOnline() || s.engine.Phase() != syncpkg.PhaseIdle {
		return false
	}
	return s.trigger(TriggerVisible)
}

// TriggerSync triggers an immediate sync operation.
// Returns true if sync was started, false if sync is already in progress.
func (s *Scheduler) TriggerSync() bool {
	return s.trigger(TriggerManual)
}

func (s *Scheduler) trigger(reason Trigger) bool {
	s.mu.Lock()
	if !s.isRunning || s.syncInProgress {
		s.mu.Unlock()
		return false
	}
	s.syncInProgress = true
	s.lastTrigger = reason
	s.triggers[reason]++
	ctx := s.ctx
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runSync(ctx, reason)
	}()
	return true
}

// runSync executes a sync operation.
func (s *Scheduler) runSync(ctx context.Context, reason Trigger) {
	defer func() {
		s.mu.Lock()
		s.syncInProgress = false
		s.mu.Unlock()
	}()

	syncCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()

	result, err := s.engine.SyncNow(syncCtx)
	if err != nil {
		if errors.Is(err, errors.ErrSyncSkipped) || errors.Is(err, errors.ErrSyncDisabled) {
			logging.Debug("Scheduled sync skipped", map[string]interface{}{
				"trigger": string(reason),
				"reason":  err.Error(),
			})
			return
		}
		logging.ErrorWithCode("Scheduled sync failed", string(errors.CodeOf(err)), err,
			map[string]interface{}{"trigger": string(reason)})
		return
	}

	s.mu.Lock()
	s.lastSyncTime = time.Now()
	s.mu.Unlock()

	logging.Info("Scheduled sync completed",
		map[string]interface{}{
			"trigger":    string(reason),
			"uploaded":   result.Uploaded,
			"downloaded": result.Downloaded,
			"conflicts":  result.Conflicts,
		})
}

// SchedulerStatus is the current status of the scheduler.
type SchedulerStatus struct {
	IsRunning      bool            `json:"isRunning"`
	IsOnline       bool            `json:"isOnline"`
	LastSyncTime   *time.Time      `json:"lastSyncTime,omitempty"`
	SyncInProgress bool            `json:"syncInProgress"`
	LastTrigger    Trigger         `json:"lastTrigger,omitempty"`
	Triggers       map[Trigger]int `json:"triggers"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() SchedulerStatus {
	online := s.IsOnline()

	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		IsRunning:      s.isRunning,
		IsOnline:       online,
		SyncInProgress: s.syncInProgress,
		LastTrigger:    s.lastTrigger,
		Triggers:       make(map[Trigger]int, len(s.triggers)),
	}
	for k, v := range s.triggers {
		status.Triggers[k] = v
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	return status
}

// SyncNow runs a sync and waits for completion.
func (s *Scheduler) SyncNow(ctx context.Context) (*syncpkg.SyncResult, error) {
	syncCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()

	result, err := s.engine.SyncNow(syncCtx)
	if err != nil {
		return result, err
	}

	s.mu.Lock()
	s.lastSyncTime = time.Now()
	s.lastTrigger = TriggerManual
	s.triggers[TriggerManual]++
	s.mu.Unlock()

	logging.Info("Manual sync completed",
		map[string]interface{}{
			"uploaded":   result.Uploaded,
			"downloaded": result.Downloaded,
			"conflicts":  result.Conflicts,
		})
	return result, nil
}

// IsOnline reports whether the network tier allows syncing.
func (s *Scheduler) IsOnline() bool {
	return s.network.Tier().AllowsSync()
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
