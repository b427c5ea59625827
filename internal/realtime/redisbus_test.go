package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type capturePub struct {
	channel string
	payload []byte
}

func (c *capturePub) Publish(_ context.Context, channel string, message any) *redis.IntCmd {
	c.channel = channel
	c.payload = message.([]byte)
	return redis.NewIntResult(1, nil)
}

func (c *capturePub) Subscribe(context.Context, ...string) *redis.PubSub { return nil }

func TestRedisBus_PublishEncodesRoute(t *testing.T) {
	t.Parallel()
	pub := &capturePub{}
	bus := NewRedisBus(pub, "", zaptest.NewLogger(t))
	chat := uuid.Must(uuid.NewV4())
	fr, err := EncodeFrame(EventTyping, TypingPayload{ConversationID: chat})
	require.NoError(t, err)

	r := Route{Scope: ScopeRoom, IDs: []uuid.UUID{chat}, Except: "s1", Frame: fr}
	require.NoError(t, bus.Publish(context.Background(), r))
	require.Equal(t, DefaultRedisChannel, pub.channel)

	got, err := decodeRoute(string(pub.payload))
	require.NoError(t, err)
	require.Equal(t, r.Scope, got.Scope)
	require.Equal(t, r.IDs, got.IDs)
	require.Equal(t, r.Except, got.Except)
	require.JSONEq(t, string(fr), string(got.Frame))
}

func TestDecodeRoute_Rejects(t *testing.T) {
	t.Parallel()
	for name, payload := range map[string]string{
		"not json":        "{",
		"unknown scope":   `{"scope":"planet","frame":{}}`,
		"room without id": `{"scope":"room","frame":{}}`,
		"evict one id":    `{"scope":"evict","ids":["6ba7b810-9dad-11d1-80b4-00c04fd430c8"]}`,
	} {
		_, err := decodeRoute(payload)
		require.Error(t, err, name)
	}

	raw, err := json.Marshal(Route{Scope: ScopeAll, Frame: json.RawMessage(`{"event":"x"}`)})
	require.NoError(t, err)
	_, err = decodeRoute(string(raw))
	require.NoError(t, err)

	chat, user := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())
	raw, err = json.Marshal(Route{Scope: ScopeEvict, IDs: []uuid.UUID{chat, user}})
	require.NoError(t, err)
	require.NotContains(t, string(raw), "frame")
	r, err := decodeRoute(string(raw))
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{chat, user}, r.IDs)
}
