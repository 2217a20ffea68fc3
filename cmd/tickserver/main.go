// cmd/tickserver is a demo websocket tick feed. It broadcasts a simulated
// XAUUSD bid/ask random walk so the scalper can run without a broker.
//
// Tick JSON shape matches model.Tick:
//
//	{"symbol":"XAUUSD","bid":234512,"ask":234530,"time":"..."}
//
// Config (env vars):
//
//	TICK_SERVER_ADDR   listen address (default ":9001")
//	TICK_SYMBOL        symbol name (default "XAUUSD")
//	TICK_START_POINTS  starting bid in points (default 234500 = 2345.00)
//	TICK_INTERVAL_MS   broadcast interval in milliseconds (default 250)
//	TICK_SPREAD_POINTS typical spread in points (default 20)
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"goldscalper/internal/model"
)

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client, drop tick
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[tickserver] upgrade error: %v", err)
			return
		}
		log.Printf("[tickserver] client connected: %s", r.RemoteAddr)

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[tickserver] client disconnected: %s", r.RemoteAddr)
		}()

		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// walker produces a mean-reverting random walk with occasional bursts, so
// the oscillators actually reach their extremes.
type walker struct {
	rng    *rand.Rand
	bid    int64
	anchor int64
	spread int64
}

func (w *walker) next() (bid, ask int64) {
	step := w.rng.NormFloat64() * 8
	if w.rng.Float64() < 0.02 {
		step *= 6
	}
	step += float64(w.anchor-w.bid) * 0.002
	w.bid += int64(step)
	if w.bid < 1 {
		w.bid = 1
	}
	spread := w.spread + int64(w.rng.Intn(int(w.spread/2)+1)) - w.spread/4
	if spread < 1 {
		spread = 1
	}
	return w.bid, w.bid + spread
}

func runGenerator(h *hub, symbol string, w *walker, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		bid, ask := w.next()
		b, err := json.Marshal(model.Tick{Symbol: symbol, Bid: bid, Ask: ask, Time: time.Now().UTC()})
		if err != nil {
			continue
		}
		h.broadcast(b)
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[tickserver] starting demo tick server...")

	addr := envOrDefault("TICK_SERVER_ADDR", ":9001")
	symbol := envOrDefault("TICK_SYMBOL", "XAUUSD")
	start := int64(envIntOrDefault("TICK_START_POINTS", 234500))
	intervalMs := envIntOrDefault("TICK_INTERVAL_MS", 250)
	spread := int64(envIntOrDefault("TICK_SPREAD_POINTS", 20))

	log.Printf("[tickserver] %s from %d points, interval %dms, spread ~%d", symbol, start, intervalMs, spread)

	h := newHub()
	w := &walker{rng: rand.New(rand.NewSource(time.Now().UnixNano())), bid: start, anchor: start, spread: spread}
	go runGenerator(h, symbol, w, time.Duration(intervalMs)*time.Millisecond)

	http.HandleFunc("/ws", wsHandler(h))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"tickserver"}`)
	})

	log.Printf("[tickserver] listening on %s (ws://localhost%s/ws)", addr, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[tickserver] server error: %v", err)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
