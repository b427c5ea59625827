package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRedisChannel is the pub/sub channel shared by relay nodes.
const DefaultRedisChannel = "cipher-relay:events"

// RedisPubSub is the subset of go-redis used by RedisBus; *redis.Client satisfies it.
type RedisPubSub interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// RedisBus fans routes out to every node through one Redis pub/sub channel.
// Each node delivers to its own sessions only.
type RedisBus struct {
	rdb     RedisPubSub
	channel string
	log     *zap.Logger
}

// NewRedisBus constructs a bus over rdb.
func NewRedisBus(rdb RedisPubSub, channel string, log *zap.Logger) *RedisBus {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisBus{rdb: rdb, channel: channel, log: log}
}

// Publish encodes r and publishes it.
func (b *RedisBus) Publish(ctx context.Context, r Route) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, payload).Err()
}

// Subscribe confirms the subscription and then delivers in a goroutine until ctx is done.
func (b *RedisBus) Subscribe(ctx context.Context, deliver func(Route)) error {
	ps := b.rdb.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	ch := ps.Channel()
	go func() {
		defer ps.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				r, err := decodeRoute(m.Payload)
				if err != nil {
					b.log.Warn("drop undecodable route", zap.Error(err))
					continue
				}
				deliver(r)
			}
		}
	}()
	return nil
}

func decodeRoute(payload string) (Route, error) {
	var r Route
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return Route{}, err
	}
	switch r.Scope {
	case ScopeUsers, ScopeAll:
	case ScopeRoom:
		if len(r.IDs) != 1 {
			return Route{}, fmt.Errorf("room route with %d ids", len(r.IDs))
		}
	case ScopeEvict:
		if len(r.IDs) != 2 {
			return Route{}, fmt.Errorf("evict route with %d ids", len(r.IDs))
		}
	default:
		return Route{}, fmt.Errorf("unknown scope %q", r.Scope)
	}
	return r, nil
}
