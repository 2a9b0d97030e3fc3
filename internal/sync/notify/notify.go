// Package notify fans out "local state changed" signals between engine instances that
// share one dataset, in process or across processes over Redis pub/sub.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kimhsiao/slotboard/internal/config"
)

// EventType identifies a notification.
type EventType string

const (
	// EventLocalStateChanged is published after the local store changed, by a merge or a
	// local edit.
	EventLocalStateChanged EventType = "local_state_changed"
	// EventSyncCompleted is published after a successful upload.
	EventSyncCompleted EventType = "sync_completed"
)

// Event is a single notification.
type Event struct {
	Type     EventType `json:"type"`
	DeviceID string    `json:"deviceId"`
	Token    string    `json:"token,omitempty"`
	At       time.Time `json:"at"`
}

// Bus publishes events to every subscriber.
type Bus interface {
	Publish(ctx context.Context, e Event) error
	// Subscribe registers fn and returns a function that removes it.
	Subscribe(ctx context.Context, fn func(Event)) (func(), error)
	Close() error
}

// New builds the bus selected by cfg.Driver.
func New(ctx context.Context, cfg config.NotifyConfig) (Bus, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocalBus(), nil
	case "redis":
		return NewRedisBus(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown notify driver: %s", cfg.Driver)
	}
}

// LocalBus delivers events synchronously to in-process subscribers.
type LocalBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Event)
}

// NewLocalBus creates an empty LocalBus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[int]func(Event))}
}

// Publish calls every subscriber in the caller's goroutine.
func (b *LocalBus) Publish(_ context.Context, e Event) error {
	b.mu.RLock()
	fns := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
	return nil
}

// Subscribe registers fn.
func (b *LocalBus) Subscribe(_ context.Context, fn func(Event)) (func(), error) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}, nil
}

// Count returns the number of subscribers.
func (b *LocalBus) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close drops all subscribers.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	b.subs = make(map[int]func(Event))
	b.mu.Unlock()
	return nil
}

func encodeEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

func decodeEvent(payload string) (Event, error) {
	var e Event
	err := json.Unmarshal([]byte(payload), &e)
	return e, err
}
