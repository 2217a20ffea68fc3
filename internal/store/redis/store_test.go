package redis

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goldscalper/internal/session"
)

// unreachableStore points at a closed port so every call fails fast.
func unreachableStore(t *testing.T) *Store {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	s := NewWithClient(client, Config{MaxFailures: 1, ResetTimeout: time.Hour})
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_HoldsSavesWhileCircuitOpen(t *testing.T) {
	s := unreachableStore(t)
	ctx := context.Background()
	buffered := 0
	s.OnBuffer = func() { buffered++ }

	require.Error(t, s.SaveSessionJSON(ctx, "scalper:session:a", []byte(`{"v":1}`)))
	require.Equal(t, StateOpen, s.Breaker().CurrentState())

	require.NoError(t, s.SaveSessionJSON(ctx, "scalper:session:a", []byte(`{"v":2}`)))
	require.NoError(t, s.SaveSessionJSON(ctx, "scalper:session:a", []byte(`{"v":3}`)))
	assert.Equal(t, 1, s.PendingCount())
	assert.Equal(t, 2, buffered)

	data, err := s.LoadSessionJSON(ctx, "scalper:session:a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":3}`, string(data))
}

func TestStore_PublishDroppedWhileCircuitOpen(t *testing.T) {
	s := unreachableStore(t)
	ctx := context.Background()
	ev := session.Event{SessionID: "a", Seq: 1}

	require.Error(t, s.Publish(ctx, ev))
	assert.ErrorIs(t, s.Publish(ctx, ev), ErrCircuitOpen)
}

// The tests below need a real server: SCALPER_TEST_REDIS_ADDR=localhost:6379.
func liveStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("SCALPER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SCALPER_TEST_REDIS_ADDR not set")
	}
	s, err := New(Config{Addr: addr, EventChannel: "scalper:test:" + t.Name()})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx := context.Background()
		s.Client().Del(ctx, s.streamKey, s.latestKey, "scalper:test:session")
		s.Close()
	})
	return s
}

func TestStore_SessionRoundTrip(t *testing.T) {
	s := liveStore(t)
	ctx := context.Background()

	data, err := s.LoadSessionJSON(ctx, "scalper:test:session")
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, s.SaveSessionJSON(ctx, "scalper:test:session", []byte(`{"opened":2}`)))
	data, err = s.LoadSessionJSON(ctx, "scalper:test:session")
	require.NoError(t, err)
	assert.JSONEq(t, `{"opened":2}`, string(data))
}

func TestStore_PublishAndReadBack(t *testing.T) {
	s := liveStore(t)
	ctx := context.Background()

	for seq := uint64(1); seq <= 3; seq++ {
		require.NoError(t, s.Publish(ctx, session.Event{SessionID: "a", Seq: seq}))
	}

	recent, err := s.RecentEvents(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Contains(t, string(recent[0]), `"seq":2`)
	assert.Contains(t, string(recent[1]), `"seq":3`)

	latest, err := s.LatestEvent(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(latest), `"seq":3`)
}
