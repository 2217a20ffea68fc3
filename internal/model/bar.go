// Package model holds the value types shared by the scalper core.
//
// Prices are stored as int64 points (the instrument's point size, 0.01 for
// XAUUSD) to avoid floating-point drift at indicator thresholds. Money and lot
// sizes are decimal.
package model

import (
	"encoding/json"
	"time"
)

// PriceBar is one OHLC bar. Immutable once recorded.
type PriceBar struct {
	Time         time.Time `json:"time"`          // bar open time (UTC)
	Open         int64     `json:"open"`          // points
	High         int64     `json:"high"`          // points
	Low          int64     `json:"low"`           // points
	Close        int64     `json:"close"`         // points
	SpreadPoints float64   `json:"spread_points"` // ask-bid at bar close
	TickCount    int       `json:"tick_count,omitempty"`
}

// Valid reports whether the OHLC values are internally consistent.
func (b *PriceBar) Valid() bool {
	return b.High >= b.Low &&
		b.Open >= b.Low && b.Open <= b.High &&
		b.Close >= b.Low && b.Close <= b.High
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *PriceBar) JSON() []byte {
	out, _ := json.Marshal(b)
	return out
}

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Sign returns +1 for long and -1 for short.
func (s Side) Sign() int64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// Slope is the direction of the trend moving average.
type Slope string

const (
	SlopeUp   Slope = "UP"
	SlopeDown Slope = "DOWN"
	SlopeFlat Slope = "FLAT"
)
