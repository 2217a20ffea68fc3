// Package ws connects to a websocket tick feed and streams bid/ask quotes
// into the bar aggregator.
//
// Each text frame carries one JSON tick:
//
//	{"symbol":"XAUUSD","bid":234512,"ask":234530,"time":"2024-03-04T09:00:01.250Z"}
//
// Prices are in points.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"goldscalper/internal/model"
)

// Config holds the feed connection settings.
type Config struct {
	URL    string // e.g. "ws://localhost:9001/ws"
	Symbol string // ticks for other symbols are skipped; empty accepts all

	// ReconnectDelay is the initial delay before reconnecting. Default 2s.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the exponential backoff. Default 30s.
	MaxReconnectDelay time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// Ingest reads ticks from the feed, reconnecting with backoff.
type Ingest struct {
	cfg Config

	// Optional hooks.
	OnConnect    func()
	OnDisconnect func(err error)
	OnDrop       func()
}

// New validates cfg and creates an Ingest.
func New(cfg Config) (*Ingest, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("ws: bad feed url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("ws: feed url scheme %q, want ws or wss", u.Scheme)
	}
	return &Ingest{cfg: cfg}, nil
}

// Start streams ticks into tickCh until ctx is cancelled. Disconnects are
// retried with exponential backoff.
func (ing *Ingest) Start(ctx context.Context, tickCh chan<- model.Tick) error {
	delay := ing.cfg.ReconnectDelay
	for {
		if ctx.Err() != nil {
			return nil
		}

		connected, err := ing.runOnce(ctx, tickCh)
		if err == nil {
			return nil
		}
		if connected {
			delay = ing.cfg.ReconnectDelay
		}
		if ing.OnDisconnect != nil {
			ing.OnDisconnect(err)
		}
		log.Printf("[ws] disconnected (%v), reconnecting in %s", err, delay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > ing.cfg.MaxReconnectDelay {
			delay = ing.cfg.MaxReconnectDelay
		}
	}
}

// runOnce reads one connection until it fails. A nil error means ctx was
// cancelled.
func (ing *Ingest) runOnce(ctx context.Context, tickCh chan<- model.Tick) (bool, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, ing.cfg.URL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	log.Printf("[ws] connected to %s", ing.cfg.URL)
	if ing.OnConnect != nil {
		ing.OnConnect()
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return true, err
		}

		tick, ok := ing.parse(raw)
		if !ok {
			continue
		}
		select {
		case tickCh <- tick:
		default:
			if ing.OnDrop != nil {
				ing.OnDrop()
			} else {
				log.Println("[ws] tickCh full, dropping tick")
			}
		}
	}
}

func (ing *Ingest) parse(raw []byte) (model.Tick, bool) {
	var tick model.Tick
	if err := json.Unmarshal(raw, &tick); err != nil {
		log.Printf("[ws] parse error: %v (raw: %s)", err, raw)
		return model.Tick{}, false
	}
	if ing.cfg.Symbol != "" && !strings.EqualFold(tick.Symbol, ing.cfg.Symbol) {
		return model.Tick{}, false
	}
	if tick.Time.IsZero() {
		tick.Time = time.Now().UTC()
	}
	return tick, true
}
