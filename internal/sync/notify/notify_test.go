package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/slotboard/internal/config"
)

func TestLocalBus_PublishSubscribe(t *testing.T) {
	ctx := context.Background()
	bus := NewLocalBus()

	var got []Event
	cancel, err := bus.Subscribe(ctx, func(e Event) { got = append(got, e) })
	require.NoError(t, err)
	assert.Equal(t, 1, bus.Count())

	e := Event{Type: EventLocalStateChanged, DeviceID: "device-1", At: time.Now()}
	require.NoError(t, bus.Publish(ctx, e))
	require.Len(t, got, 1)
	assert.Equal(t, EventLocalStateChanged, got[0].Type)

	cancel()
	assert.Equal(t, 0, bus.Count())
	require.NoError(t, bus.Publish(ctx, e))
	assert.Len(t, got, 1)
}

func TestLocalBus_Close(t *testing.T) {
	ctx := context.Background()
	bus := NewLocalBus()
	_, _ = bus.Subscribe(ctx, func(Event) {})
	_, _ = bus.Subscribe(ctx, func(Event) {})
	require.NoError(t, bus.Close())
	assert.Equal(t, 0, bus.Count())
}

func TestEventRoundTrip(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	data, err := encodeEvent(Event{Type: EventSyncCompleted, DeviceID: "d", Token: "abc", At: at})
	require.NoError(t, err)

	e, err := decodeEvent(string(data))
	require.NoError(t, err)
	assert.Equal(t, EventSyncCompleted, e.Type)
	assert.Equal(t, "abc", e.Token)
	assert.True(t, e.At.Equal(at))

	_, err = decodeEvent("not json")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	bus, err := New(ctx, config.NotifyConfig{Driver: "local"})
	require.NoError(t, err)
	assert.IsType(t, &LocalBus{}, bus)

	_, err = New(ctx, config.NotifyConfig{Driver: "carrier-pigeon"})
	assert.Error(t, err)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err = New(ctx, config.NotifyConfig{Driver: "redis", RedisAddr: "127.0.0.1:1"})
	assert.Error(t, err)
}
