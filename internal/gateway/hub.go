// Package gateway fans session events out to websocket renderers. It never
// formats anything for display; clients receive the raw event JSON wrapped
// in a sequenced envelope.
package gateway

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"goldscalper/internal/session"
)

// ChannelSession carries per-bar session events.
const ChannelSession = "session"

const (
	defaultReplayCap = 500
	clientSendBuffer = 256

	// two 5-second bars behind
	defaultLateLag = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Hub manages websocket clients and fans envelopes out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	seq     int64
	latest  []byte

	replay *ReplayBuffer

	// Lag records the delay from bar time to broadcast.
	Lag *BarLag

	now func() time.Time
}

// NewHub creates a hub keeping the last replayCap envelopes for reconnects.
func NewHub(replayCap int) *Hub {
	if replayCap <= 0 {
		replayCap = defaultReplayCap
	}
	return &Hub{
		clients: make(map[*Client]bool),
		replay:  NewReplayBuffer(replayCap),
		Lag:     NewBarLag(10000, defaultLateLag),
		now:     time.Now,
	}
}

// Publish broadcasts one session event. It never blocks on slow clients.
func (h *Hub) Publish(ctx context.Context, ev session.Event) error {
	h.broadcast(ChannelSession, ev.JSON(), ev.Time)
	return nil
}

// Relay broadcasts raw event payloads from in (for example a Redis
// subscription) until ctx is cancelled or in is closed.
func (h *Hub) Relay(ctx context.Context, in <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-in:
			if !ok {
				return
			}
			h.broadcast(ChannelSession, data, time.Time{})
		}
	}
}

// broadcast wraps data in an envelope, stores it for replay and sends it to
// every client. barTime, when set, feeds the lag tracker.
func (h *Hub) broadcast(channel string, data []byte, barTime time.Time) {
	now := h.now().UTC()
	h.Lag.Observe(barTime, now)

	h.mu.Lock()
	h.seq++
	seq := h.seq
	buf := buildEnvelope(channel, data, now, seq)
	h.latest = buf
	h.mu.Unlock()

	h.replay.Push(seq, buf)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- buf:
		default:
			// slow client; it can backfill from the replay buffer
		}
	}
}

// buildEnvelope hand-crafts {"channel":..,"data":..,"ts":..,"seq":..}.
// data must already be valid JSON.
func buildEnvelope(channel string, data []byte, now time.Time, seq int64) []byte {
	buf := make([]byte, 0, len(channel)+len(data)+96)
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, '}')
	return buf
}

// ServeHTTP upgrades the request to a websocket. A since_seq query
// parameter replays buffered envelopes newer than that sequence number.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}
	var since int64 = -1
	if v := r.URL.Query().Get("since_seq"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			since = n
		}
	}
	h.register(conn, since)
}

func (h *Hub) register(conn *websocket.Conn, since int64) {
	client := &Client{
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
		hub:  h,
	}
	conn.EnableWriteCompression(true)

	// queue the backlog before the client becomes visible to broadcast
	h.mu.Lock()
	if since >= 0 {
		for _, e := range h.replay.Range(since+1, h.seq) {
			select {
			case client.send <- e.Data:
			default:
			}
		}
	} else if h.latest != nil {
		client.send <- h.latest
	}
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[ws] client connected (%d total)", count)

	go client.writePump()
	go client.readPump()
}

// RemoveClient unregisters a client and closes its send queue.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Seq returns the sequence number of the last broadcast envelope.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// Replay returns buffered envelopes with seq in [from, to].
func (h *Hub) Replay(from, to int64) [][]byte {
	entries := h.replay.Range(from, to)
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = e.Data
	}
	return out
}

// Shutdown disconnects every client.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
