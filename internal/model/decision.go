package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DecisionKind tags the Decision variant.
type DecisionKind string

const (
	DecisionHold         DecisionKind = "HOLD"
	DecisionEnterLong    DecisionKind = "ENTER_LONG"
	DecisionEnterShort   DecisionKind = "ENTER_SHORT"
	DecisionExitPosition DecisionKind = "EXIT_POSITION"
	DecisionMoveStop     DecisionKind = "MOVE_STOP"
	DecisionPartialClose DecisionKind = "PARTIAL_CLOSE"
)

// Condition names one rule that fired while building a Decision.
type Condition string

const (
	CondRSIOversold       Condition = "rsi_oversold"
	CondRSIOverbought     Condition = "rsi_overbought"
	CondStochCrossUp      Condition = "stoch_cross_up"
	CondStochCrossDown    Condition = "stoch_cross_down"
	CondMAPullbackUp      Condition = "ma_pullback_up"
	CondMAPullbackDown    Condition = "ma_pullback_down"
	CondSpreadOK          Condition = "spread_ok"
	CondBreakEven         Condition = "break_even"
	CondTrailingStop      Condition = "trailing_stop"
	CondPartialProfit     Condition = "partial_profit"
	CondMaxHoldTime       Condition = "max_hold_time"
	CondAdverseExcursion  Condition = "adverse_excursion"
	CondManual            Condition = "manual"
	CondGatewayReported   Condition = "gateway_reported"
	CondConflictingSignal Condition = "conflicting_signal"
)

// Decision is the outcome of one evaluation. Hold encodes "nothing to do".
//
// Entry kinds use Side, Entry, StopLoss, TakeProfit and LotSize.
// ExitPosition uses Ticket. MoveStop uses Ticket and StopLoss.
// PartialClose uses Ticket and CloseFraction.
type Decision struct {
	Kind          DecisionKind    `json:"kind"`
	Side          Side            `json:"side,omitempty"`
	Ticket        string          `json:"ticket,omitempty"`
	Entry         int64           `json:"entry,omitempty"`       // points
	StopLoss      int64           `json:"stop_loss,omitempty"`   // points
	TakeProfit    int64           `json:"take_profit,omitempty"` // points
	LotSize       decimal.Decimal `json:"lot_size"`
	CloseFraction decimal.Decimal `json:"close_fraction"`
	Conditions    []Condition     `json:"conditions,omitempty"`
	Reason        string          `json:"reason,omitempty"`
}

// Hold returns the no-op decision.
func Hold() Decision {
	return Decision{Kind: DecisionHold}
}

// IsHold reports whether d is the Hold variant.
func (d Decision) IsHold() bool {
	return d.Kind == DecisionHold || d.Kind == ""
}

// IsEntry reports whether d opens a new position.
func (d Decision) IsEntry() bool {
	return d.Kind == DecisionEnterLong || d.Kind == DecisionEnterShort
}

// Has reports whether cond is among the conditions that fired.
func (d Decision) Has(cond Condition) bool {
	for _, c := range d.Conditions {
		if c == cond {
			return true
		}
	}
	return false
}

// JoinReasons joins reason fragments in the order given.
func JoinReasons(parts []string) string {
	return strings.Join(parts, "; ")
}
