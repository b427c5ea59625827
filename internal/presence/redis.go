package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"

	"github.com/and161185/cipher-relay/internal/model"
)

// RedisClient is the subset of go-redis used by the Redis store.
type RedisClient interface {
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...any) *redis.IntCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Decr(ctx context.Context, key string) *redis.IntCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

// Redis is the Store shared by every node of a multi-node relay.
//
// Per identity it keeps presence:{user}:conns, a set of "node:handle" members,
// presence:{user}:count, the size of that set, and presence:{user}:seen, the last-seen
// time. SADD/SREM decide whether a handle is new or known; INCR/DECR on the counter
// decide the edge, so exactly one node observes each 0 <-> 1 transition.
type Redis struct {
	rdb  RedisClient
	node string
	now  func() time.Time
}

var _ Store = (*Redis)(nil)

// NewRedis constructs a Redis store. node distinguishes handles of different relay nodes.
func NewRedis(rdb RedisClient, node string) *Redis {
	return &Redis{rdb: rdb, node: node, now: time.Now}
}

func presenceKeys(id uuid.UUID) (conns, count, seen string) {
	base := "presence:" + id.String()
	return base + ":conns", base + ":count", base + ":seen"
}

func (r *Redis) member(h Handle) string { return r.node + ":" + string(h) }

func (r *Redis) Connect(ctx context.Context, userID uuid.UUID, h Handle) (model.PresenceStatus, bool, error) {
	conns, count, _ := presenceKeys(userID)
	online := model.PresenceStatus{UserID: userID, Online: true}

	added, err := r.rdb.SAdd(ctx, conns, r.member(h)).Result()
	if err != nil {
		return model.PresenceStatus{}, false, fmt.Errorf("presence connect: %w", err)
	}
	if added == 0 {
		return online, false, nil
	}
	n, err := r.rdb.Incr(ctx, count).Result()
	if err != nil {
		return model.PresenceStatus{}, false, fmt.Errorf("presence connect: %w", err)
	}
	return online, n == 1, nil
}

func (r *Redis) Disconnect(ctx context.Context, userID uuid.UUID, h Handle) (model.PresenceStatus, bool, error) {
	conns, count, seen := presenceKeys(userID)

	removed, err := r.rdb.SRem(ctx, conns, r.member(h)).Result()
	if err != nil {
		return model.PresenceStatus{}, false, fmt.Errorf("presence disconnect: %w", err)
	}
	if removed == 0 {
		st, err := r.Snapshot(ctx, []uuid.UUID{userID})
		if err != nil {
			return model.PresenceStatus{}, false, err
		}
		return st[0], false, nil
	}
	n, err := r.rdb.Decr(ctx, count).Result()
	if err != nil {
		return model.PresenceStatus{}, false, fmt.Errorf("presence disconnect: %w", err)
	}
	if n > 0 {
		return model.PresenceStatus{UserID: userID, Online: true}, false, nil
	}
	ts := r.now().UTC()
	if err := r.rdb.Set(ctx, seen, ts.Format(time.RFC3339Nano), 0).Err(); err != nil {
		return model.PresenceStatus{}, false, fmt.Errorf("presence last-seen: %w", err)
	}
	return model.PresenceStatus{UserID: userID, LastSeen: ts}, true, nil
}

func (r *Redis) IsOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	st, err := r.Snapshot(ctx, []uuid.UUID{userID})
	if err != nil {
		return false, err
	}
	return st[0].Online, nil
}

func (r *Redis) Snapshot(ctx context.Context, ids []uuid.UUID) ([]model.PresenceStatus, error) {
	if len(ids) == 0 {
		return []model.PresenceStatus{}, nil
	}
	keys := make([]string, 0, 2*len(ids))
	for _, id := range ids {
		_, count, seen := presenceKeys(id)
		keys = append(keys, count, seen)
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("presence snapshot: %w", err)
	}
	if len(vals) != len(keys) {
		return nil, fmt.Errorf("presence snapshot: got %d values for %d keys", len(vals), len(keys))
	}

	out := make([]model.PresenceStatus, len(ids))
	for i, id := range ids {
		out[i] = model.PresenceStatus{UserID: id}
		if n, ok := vals[2*i].(string); ok {
			if c, err := strconv.ParseInt(n, 10, 64); err == nil && c > 0 {
				out[i].Online = true
				continue
			}
		}
		if s, ok := vals[2*i+1].(string); ok {
			if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
				out[i].LastSeen = ts
			}
		}
	}
	return out, nil
}
