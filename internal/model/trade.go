package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ClosedTrade is the immutable record of a closed position.
type ClosedTrade struct {
	Ticket      string          `json:"ticket"`
	Side        Side            `json:"side"`
	EntryPrice  int64           `json:"entry_price"` // points
	ExitPrice   int64           `json:"exit_price"`  // points
	LotSize     decimal.Decimal `json:"lot_size"`
	PnL         decimal.Decimal `json:"pnl"`
	OpenedAt    time.Time       `json:"opened_at"`
	ClosedAt    time.Time       `json:"closed_at"`
	CloseReason string          `json:"close_reason"`
}

// JSON returns the JSON-encoded trade.
func (t *ClosedTrade) JSON() []byte {
	b, _ := json.Marshal(t)
	return b
}

// Close reasons reported by gateways and the tracker.
const (
	CloseStopLoss   = "STOP_LOSS"
	CloseTakeProfit = "TAKE_PROFIT"
	CloseSignal     = "SIGNAL"
	CloseGateway    = "GATEWAY"
)
