package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"goldscalper/internal/model"
	"goldscalper/internal/portfolio"
)

// Event is the per-bar output handed to renderers. It is a value; nothing
// in it aliases session state.
type Event struct {
	SessionID string                   `json:"session_id"`
	Seq       uint64                   `json:"seq"`
	Time      time.Time                `json:"time"`
	Bar       model.PriceBar           `json:"bar"`
	Warmup    bool                     `json:"warmup"`
	Snapshot  *model.IndicatorSnapshot `json:"snapshot,omitempty"` // nil while warming up
	Decisions []model.Decision         `json:"decisions"`
	Closed    []model.ClosedTrade      `json:"closed,omitempty"`
	Positions []model.PositionView     `json:"positions"`
	Stats     portfolio.SessionStats   `json:"stats"`
	WinRate   float64                  `json:"win_rate"`
	Errors    []string                 `json:"errors,omitempty"`
}

// JSON returns the JSON-encoded event (ignoring errors for hot-path usage).
func (e Event) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Publisher receives every event. Publish must not block for long; slow
// sinks should drop.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// LogPublisher writes a one-line summary of each event.
type LogPublisher struct {
	log *slog.Logger
}

// NewLogPublisher creates a publisher logging at info level. A nil logger
// uses slog.Default().
func NewLogPublisher(l *slog.Logger) *LogPublisher {
	if l == nil {
		l = slog.Default()
	}
	return &LogPublisher{log: l}
}

func (p *LogPublisher) Publish(ctx context.Context, ev Event) error {
	attrs := []any{
		slog.String("session_id", ev.SessionID),
		slog.Uint64("seq", ev.Seq),
		slog.Int64("close", ev.Bar.Close),
		slog.Int("positions", len(ev.Positions)),
		slog.Int("closed_total", ev.Stats.Closed),
		slog.String("pnl", ev.Stats.TotalPnL.StringFixed(2)),
	}
	for _, d := range ev.Decisions {
		if !d.IsHold() {
			attrs = append(attrs, slog.String("decision", string(d.Kind)), slog.String("reason", d.Reason))
		}
	}
	if ev.Snapshot != nil {
		attrs = append(attrs,
			slog.Float64("rsi", ev.Snapshot.RSI),
			slog.Float64("stoch_k", ev.Snapshot.StochK),
			slog.String("slope", string(ev.Snapshot.MASlope)),
		)
	}
	p.log.Info("bar", attrs...)
	return nil
}
