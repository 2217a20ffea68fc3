package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goldscalper/internal/session"
)

type envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
	TS      string          `json:"ts"`
	Seq     int64           `json:"seq"`
}

func TestBuildEnvelope(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 1, 0, time.UTC)
	buf := buildEnvelope(ChannelSession, []byte(`{"seq":7}`), now, 42)

	var env envelope
	require.NoError(t, json.Unmarshal(buf, &env))
	assert.Equal(t, ChannelSession, env.Channel)
	assert.Equal(t, int64(42), env.Seq)
	assert.JSONEq(t, `{"seq":7}`, string(env.Data))
	assert.Equal(t, "2026-03-02T09:00:01Z", env.TS)
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readEnvelopes reads frames until n envelopes arrived; frames may carry
// several newline-separated envelopes.
func readEnvelopes(t *testing.T, conn *websocket.Conn, n int) []envelope {
	t.Helper()
	var out []envelope
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for len(out) < n {
		_, frame, err := conn.ReadMessage()
		require.NoError(t, err)
		for _, line := range bytes.Split(frame, []byte{'\n'}) {
			var env envelope
			require.NoError(t, json.Unmarshal(line, &env))
			out = append(out, env)
		}
	}
	return out
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.ClientCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_ReplayAndLive(t *testing.T) {
	h := NewHub(10)
	srv := httptest.NewServer(h)
	defer srv.Close()
	ctx := context.Background()

	for seq := uint64(1); seq <= 3; seq++ {
		require.NoError(t, h.Publish(ctx, session.Event{SessionID: "s", Seq: seq}))
	}
	assert.Equal(t, int64(3), h.Seq())

	// since_seq=1 replays envelopes 2 and 3
	conn := dial(t, srv, "?since_seq=1")
	got := readEnvelopes(t, conn, 2)
	assert.Equal(t, int64(2), got[0].Seq)
	assert.Equal(t, int64(3), got[1].Seq)
	waitClients(t, h, 1)

	require.NoError(t, h.Publish(ctx, session.Event{SessionID: "s", Seq: 4}))
	live := readEnvelopes(t, conn, 1)
	assert.Equal(t, int64(4), live[0].Seq)
	assert.Contains(t, string(live[0].Data), `"seq":4`)
}

func TestHub_NewClientGetsLatest(t *testing.T) {
	h := NewHub(10)
	srv := httptest.NewServer(h)
	defer srv.Close()

	h.Publish(context.Background(), session.Event{SessionID: "s", Seq: 1})
	h.Publish(context.Background(), session.Event{SessionID: "s", Seq: 2})

	conn := dial(t, srv, "")
	got := readEnvelopes(t, conn, 1)
	assert.Equal(t, int64(2), got[0].Seq)
}

func TestHub_PingPong(t *testing.T) {
	h := NewHub(10)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv, "")
	waitClients(t, h, 1)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"ping":123}`)))

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	var pong struct {
		Type string `json:"type"`
		Ping int64  `json:"ping"`
	}
	require.NoError(t, json.Unmarshal(frame, &pong))
	assert.Equal(t, "pong", pong.Type)
	assert.Equal(t, int64(123), pong.Ping)
}

func TestHub_ClientRemovedOnClose(t *testing.T) {
	h := NewHub(10)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv, "")
	waitClients(t, h, 1)
	conn.Close()
	waitClients(t, h, 0)

	// broadcasting with no clients must not panic
	h.Publish(context.Background(), session.Event{Seq: 1})
}

func TestHub_Relay(t *testing.T) {
	h := NewHub(10)
	in := make(chan []byte, 2)
	in <- []byte(`{"seq":1}`)
	in <- []byte(`{"seq":2}`)
	close(in)

	h.Relay(context.Background(), in)
	assert.Equal(t, int64(2), h.Seq())
	assert.Len(t, h.Replay(1, 2), 2)
}

func TestHub_RecordsBarLag(t *testing.T) {
	h := NewHub(10)
	barTime := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return barTime.Add(5250 * time.Millisecond) }

	h.Publish(context.Background(), session.Event{Seq: 1, Time: barTime})
	in := make(chan []byte, 1)
	in <- []byte(`{"seq":2}`)
	close(in)
	h.Relay(context.Background(), in) // relayed payloads carry no bar time
	st := h.Lag.Stats()
	assert.Equal(t, 1, st.Count)
	assert.InDelta(t, 5250.0, st.P50, 1e-9)
	assert.Zero(t, st.Late)
}
