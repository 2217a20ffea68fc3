package model

import (
	"context"
	"time"
)

// ── Port interfaces ──
// These decouple the session loop from concrete feeds and stores.

// BarStream is a pull-based, non-restartable sequence of bars.
// Next returns io.EOF when the stream is exhausted and ctx.Err() on cancel.
type BarStream interface {
	Next(ctx context.Context) (PriceBar, error)
}

// BarWriter persists finished bars.
type BarWriter interface {
	WriteBars(ctx context.Context, symbol string, bars []PriceBar) error
}

// BarReader reads finished bars for warm-up and replay.
type BarReader interface {
	// ReadBars returns bars with Time >= from in ascending order.
	ReadBars(ctx context.Context, symbol string, from time.Time) ([]PriceBar, error)

	// ReadLastBars returns the newest n bars in ascending order.
	ReadLastBars(ctx context.Context, symbol string, n int) ([]PriceBar, error)
}

// TradeRecorder persists closed trades for audit.
type TradeRecorder interface {
	RecordTrade(ctx context.Context, sessionID string, trade ClosedTrade) error
}

// SessionStore reads and writes the resumable session snapshot as raw JSON.
// Returns nil, nil when no snapshot exists.
type SessionStore interface {
	SaveSessionJSON(ctx context.Context, sessionKey string, data []byte) error
	LoadSessionJSON(ctx context.Context, sessionKey string) ([]byte, error)
}
