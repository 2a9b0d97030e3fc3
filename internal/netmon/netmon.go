// Package netmon classifies network quality by probing several independent endpoints.
package netmon

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kimhsiao/slotboard/internal/config"
	"github.com/kimhsiao/slotboard/internal/logging"
)

// Tier is a coarse network quality class.
type Tier int

const (
	TierOffline Tier = iota
	TierPoor
	TierFair
	TierGood
)

func (t Tier) String() string {
	switch t {
	case TierPoor:
		return "poor"
	case TierFair:
		return "fair"
	case TierGood:
		return "good"
	default:
		return "offline"
	}
}

// AllowsSync reports whether the tier is good enough to start a sync.
func (t Tier) AllowsSync() bool {
	return t >= TierFair
}

// State is the latest classification.
type State struct {
	Tier          Tier          `json:"tier"`
	Latency       time.Duration `json:"latency"`
	LastCheckedAt time.Time     `json:"lastCheckedAt"`
}

// Listener is called after a probe changes the tier.
type Listener func(prev, next State)

// Classify maps probe results to a tier. Zero successes is always offline.
func Classify(successes int, avg, good, fair time.Duration) Tier {
	switch {
	case successes == 0:
		return TierOffline
	case avg < good:
		return TierGood
	case avg < fair:
		return TierFair
	default:
		return TierPoor
	}
}

// Monitor probes endpoints and keeps the current State.
type Monitor struct {
	cfg    config.NetmonConfig
	client *http.Client
	now    func() time.Time

	mu        sync.RWMutex
	state     State
	listeners map[int]Listener
	nextID    int
}

// New creates a Monitor. A nil client uses http.DefaultClient.
func New(cfg config.NetmonConfig, client *http.Client) *Monitor {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.GoodThreshold <= 0 {
		cfg.GoodThreshold = 800 * time.Millisecond
	}
	if cfg.FairThreshold <= 0 {
		cfg.FairThreshold = 3 * time.Second
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &Monitor{
		cfg:       cfg,
		client:    client,
		now:       time.Now,
		listeners: make(map[int]Listener),
	}
}

// State returns the latest classification.
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Tier returns the latest tier.
func (m *Monitor) Tier() Tier {
	return m.State().Tier
}

// Subscribe registers fn for tier transitions and returns a function that removes it.
func (m *Monitor) Subscribe(fn Listener) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Probe checks every endpoint concurrently and updates the state. Failed probes are
// not errors; they only lower the success count.
func (m *Monitor) Probe(ctx context.Context) State {
	var (
		mu        sync.Mutex
		successes int
		total     time.Duration
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, endpoint := range m.cfg.Endpoints {
		endpoint := endpoint
		g.Go(func() error {
			elapsed, ok := m.probeOne(gctx, endpoint)
			if ok {
				mu.Lock()
				successes++
				total += elapsed
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	var avg time.Duration
	if successes > 0 {
		avg = total / time.Duration(successes)
	}

	next := State{
		Tier:          Classify(successes, avg, m.cfg.GoodThreshold, m.cfg.FairThreshold),
		Latency:       avg,
		LastCheckedAt: m.now(),
	}

	m.mu.Lock()
	prev := m.state
	m.state = next
	var listeners []Listener
	if prev.Tier != next.Tier {
		listeners = make([]Listener, 0, len(m.listeners))
		for _, fn := range m.listeners {
			listeners = append(listeners, fn)
		}
	}
	m.mu.Unlock()

	if prev.Tier != next.Tier {
		logging.Info("Network tier changed", map[string]interface{}{
			"from":       prev.Tier.String(),
			"to":         next.Tier.String(),
			"latency_ms": avg.Milliseconds(),
			"successes":  successes,
		})
		for _, fn := range listeners {
			fn(prev, next)
		}
	}
	return next
}

func (m *Monitor) probeOne(ctx context.Context, endpoint string) (time.Duration, bool) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, endpoint, nil)
	if err != nil {
		logging.Debug("Invalid probe endpoint", map[string]interface{}{"endpoint": endpoint})
		return 0, false
	}
	req.Header.Set("Cache-Control", "no-cache")

	start := time.Now()
	resp, err := m.client.Do(req)
	if err != nil {
		return 0, false
	}
	resp.Body.Close()
	// Any response proves reachability.
	return time.Since(start), true
}

// Run probes immediately and then on every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.Probe(ctx)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}
