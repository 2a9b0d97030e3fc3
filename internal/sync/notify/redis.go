package notify

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kimhsiao/slotboard/internal/config"
	"github.com/kimhsiao/slotboard/internal/logging"
)

// DefaultChannel is used when the configuration leaves the channel empty.
const DefaultChannel = "slotboard:events"

// RedisBus relays events over a Redis pub/sub channel.
type RedisBus struct {
	rdb     *goredis.Client
	channel string
}

// NewRedisBus connects to Redis and checks the connection with a ping.
func NewRedisBus(ctx context.Context, cfg config.NotifyConfig) (*RedisBus, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	channel := cfg.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	logging.Info("Redis notify bus connected", map[string]interface{}{"addr": cfg.RedisAddr, "channel": channel})

	return &RedisBus{rdb: rdb, channel: channel}, nil
}

// Channel returns the pub/sub channel name.
func (b *RedisBus) Channel() string {
	return b.channel
}

// Publish sends e to the channel.
func (b *RedisBus) Publish(ctx context.Context, e Event) error {
	data, err := encodeEvent(e)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, data).Err()
}

// Subscribe starts a receiver goroutine that calls fn for each event until the returned
// function is called or ctx ends.
func (b *RedisBus) Subscribe(ctx context.Context, fn func(Event)) (func(), error) {
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ch := sub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				e, err := decodeEvent(msg.Payload)
				if err != nil {
					logging.Warn("Dropping malformed notify event", map[string]interface{}{"error": err.Error()})
					continue
				}
				fn(e)
			}
		}
	}()

	return func() {
		cancel()
		_ = sub.Close()
		<-done
	}, nil
}

// Close closes the Redis connection.
func (b *RedisBus) Close() error {
	return b.rdb.Close()
}
