package model

import "time"

// Tick is a single bid/ask quote from the price feed.
// Prices are in points.
type Tick struct {
	Symbol string    `json:"symbol"`
	Bid    int64     `json:"bid"`
	Ask    int64     `json:"ask"`
	Time   time.Time `json:"time"` // UTC
}

// Spread returns ask-bid in points.
func (t *Tick) Spread() int64 {
	return t.Ask - t.Bid
}

// Mid returns the bid/ask midpoint in points, rounded down.
func (t *Tick) Mid() int64 {
	return (t.Bid + t.Ask) / 2
}
