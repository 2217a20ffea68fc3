package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionState is the lifecycle state of a tracked position.
type PositionState string

const (
	StatePending         PositionState = "PENDING"
	StateOpen            PositionState = "OPEN"
	StatePartiallyClosed PositionState = "PARTIALLY_CLOSED"
	StateClosed          PositionState = "CLOSED"
)

// Active reports whether the state counts as an open position.
func (s PositionState) Active() bool {
	return s == StateOpen || s == StatePartiallyClosed
}

// Position is a tracked trading position. Only the position tracker mutates it;
// everything else sees PositionView copies.
type Position struct {
	OrderID          string          `json:"order_id"` // client id, assigned before submit
	Ticket           string          `json:"ticket"`   // gateway id, assigned on fill
	Side             Side            `json:"side"`
	EntryPrice       int64           `json:"entry_price"` // points
	StopLoss         int64           `json:"stop_loss"`   // points
	TakeProfit       int64           `json:"take_profit"` // points
	LotSize          decimal.Decimal `json:"lot_size"`
	OpenedAt         time.Time       `json:"opened_at"`
	BreakEvenApplied bool            `json:"break_even_applied"`
	PartialClosed    bool            `json:"partial_closed"`
	State            PositionState   `json:"state"`
	Reason           string          `json:"reason,omitempty"`
}

// ProtectiveLevelsValid reports whether stop-loss and take-profit sit on the
// correct side of entry for the position's direction. Zero means "not set".
func ProtectiveLevelsValid(side Side, entry, stopLoss, takeProfit int64) bool {
	switch side {
	case SideLong:
		return (stopLoss == 0 || stopLoss <= entry) && (takeProfit == 0 || takeProfit > entry)
	case SideShort:
		return (stopLoss == 0 || stopLoss >= entry) && (takeProfit == 0 || takeProfit < entry)
	default:
		return false
	}
}

// ProfitPoints returns the favorable move in points at the given price.
func (p *Position) ProfitPoints(price int64) int64 {
	return (price - p.EntryPrice) * p.Side.Sign()
}

// PositionView is a read-only copy of a Position handed to the evaluator.
type PositionView struct {
	Position
	InFlight bool `json:"in_flight"` // a gateway call for this position is outstanding
}
