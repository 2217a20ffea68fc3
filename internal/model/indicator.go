package model

import (
	"encoding/json"
	"time"
)

// IndicatorSnapshot is the indicator state after one bar. It is derived and
// can always be recomputed from bar history.
type IndicatorSnapshot struct {
	Time      time.Time `json:"time"`
	Close     int64     `json:"close"`      // points
	PrevClose int64     `json:"prev_close"` // points
	High      int64     `json:"high"`       // points
	Low       int64     `json:"low"`        // points

	RSI        float64 `json:"rsi"`
	StochK     float64 `json:"stoch_k"`
	StochD     float64 `json:"stoch_d"`
	PrevStochK float64 `json:"prev_stoch_k"`
	PrevStochD float64 `json:"prev_stoch_d"`

	ATR     int64 `json:"atr"` // points
	MA      int64 `json:"ma"`  // points
	MASlope Slope `json:"ma_slope"`

	SpreadPoints float64 `json:"spread_points"`
}

// JSON returns the JSON-encoded snapshot.
func (s *IndicatorSnapshot) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
