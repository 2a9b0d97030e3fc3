package notify

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/slotboard/internal/config"
)

// redisConfig returns a config for the server named by SLOTBOARD_TEST_REDIS_ADDR and skips
// the test when it is unset.
func redisConfig(t *testing.T) config.NotifyConfig {
	t.Helper()
	addr := os.Getenv("SLOTBOARD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SLOTBOARD_TEST_REDIS_ADDR not set")
	}
	return config.NotifyConfig{Driver: "redis", RedisAddr: addr, Channel: "slotboard:test:" + t.Name()}
}

func TestRedisBus_PublishSubscribe(t *testing.T) {
	cfg := redisConfig(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	publisher, err := NewRedisBus(ctx, cfg)
	require.NoError(t, err)
	defer publisher.Close()
	subscriber, err := NewRedisBus(ctx, cfg)
	require.NoError(t, err)
	defer subscriber.Close()
	assert.Equal(t, cfg.Channel, subscriber.Channel())

	got := make(chan Event, 4)
	unsubscribe, err := subscriber.Subscribe(ctx, func(e Event) { got <- e })
	require.NoError(t, err)

	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, publisher.Publish(ctx, Event{Type: EventLocalStateChanged, DeviceID: "device-1", Token: "t1", At: at}))

	select {
	case e := <-got:
		assert.Equal(t, EventLocalStateChanged, e.Type)
		assert.Equal(t, "device-1", e.DeviceID)
		assert.Equal(t, "t1", e.Token)
		assert.True(t, e.At.Equal(at))
	case <-ctx.Done():
		t.Fatal("event not delivered")
	}

	unsubscribe()
	require.NoError(t, publisher.Publish(ctx, Event{Type: EventSyncCompleted, DeviceID: "device-1", At: at}))
	select {
	case e := <-got:
		t.Fatalf("event delivered after unsubscribe: %+v", e)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRedisBus_DropsMalformedPayload(t *testing.T) {
	cfg := redisConfig(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bus, err := NewRedisBus(ctx, cfg)
	require.NoError(t, err)
	defer bus.Close()

	got := make(chan Event, 4)
	unsubscribe, err := bus.Subscribe(ctx, func(e Event) { got <- e })
	require.NoError(t, err)
	defer unsubscribe()

	raw := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
	defer raw.Close()
	require.NoError(t, raw.Publish(ctx, cfg.Channel, "not json").Err())
	require.NoError(t, bus.Publish(ctx, Event{Type: EventSyncCompleted, DeviceID: "device-2"}))

	select {
	case e := <-got:
		assert.Equal(t, EventSyncCompleted, e.Type)
		assert.Equal(t, "device-2", e.DeviceID)
	case <-ctx.Done():
		t.Fatal("event not delivered")
	}
}
