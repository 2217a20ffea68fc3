// Package execution defines the order gateway the position tracker drives,
// a paper implementation for backtests and dry runs, and a SQLite journal of
// closed trades.
//
// Gateway errors are never retried here. A stale retry could double-submit an
// order, so every failure goes back to the caller as a *GatewayError naming
// the operation and the ticket.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"goldscalper/internal/model"
)

var (
	// ErrGatewayTimeout means no confirmation arrived within the call
	// window. The order may or may not have reached the venue.
	ErrGatewayTimeout = errors.New("execution: gateway timeout")

	// ErrRejected means the gateway refused the request outright.
	ErrRejected = errors.New("execution: rejected")

	// ErrUnknownTicket means the gateway holds no open position for the ticket.
	ErrUnknownTicket = errors.New("execution: unknown ticket")
)

// OrderRequest is a market order with protective levels attached.
type OrderRequest struct {
	ClientID   string          `json:"client_id"`
	Symbol     string          `json:"symbol"`
	Side       model.Side      `json:"side"`
	LotSize    decimal.Decimal `json:"lot_size"`
	Price      int64           `json:"price"` // expected price in points, 0 = market
	StopLoss   int64           `json:"stop_loss"`
	TakeProfit int64           `json:"take_profit"`
	Comment    string          `json:"comment,omitempty"`
}

// Fill confirms an accepted order.
type Fill struct {
	Ticket   string          `json:"ticket"`
	ClientID string          `json:"client_id"`
	Price    int64           `json:"price"` // points
	LotSize  decimal.Decimal `json:"lot_size"`
	FilledAt time.Time       `json:"filled_at"`
}

// Modification changes an open position. Zero fields are left unchanged;
// a positive CloseFraction closes that share of the remaining lots.
type Modification struct {
	StopLoss      int64           `json:"stop_loss,omitempty"`
	TakeProfit    int64           `json:"take_profit,omitempty"`
	CloseFraction decimal.Decimal `json:"close_fraction"`
}

// Ack confirms a modification.
type Ack struct {
	Ticket        string          `json:"ticket"`
	ClosedLots    decimal.Decimal `json:"closed_lots"`
	RemainingLots decimal.Decimal `json:"remaining_lots"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	Price         int64           `json:"price,omitempty"`
}

// Gateway is the venue boundary. Implementations must honor ctx deadlines.
type Gateway interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (Fill, error)
	ModifyOrder(ctx context.Context, ticket string, mod Modification) (Ack, error)
	CloseOrder(ctx context.Context, ticket string) (model.ClosedTrade, error)

	// StreamBars returns the live bar feed. It is not restartable.
	StreamBars(ctx context.Context) (model.BarStream, error)
}

// ClosureSource is implemented by gateways that report closures they
// initiated themselves, such as stop-loss and take-profit hits.
type ClosureSource interface {
	Closures() <-chan model.ClosedTrade
}

// FillQuerier is implemented by gateways that can look up a fill by client
// order id, so a submit whose reply was lost can be reconciled.
type FillQuerier interface {
	FillFor(ctx context.Context, clientID string) (Fill, bool, error)
}

// GatewayError carries the failed operation and whatever identifies the order.
type GatewayError struct {
	Op       string // submit, modify, close
	Ticket   string // empty before a fill
	ClientID string
	Err      error
}

func (e *GatewayError) Error() string {
	switch {
	case e.Ticket != "":
		return fmt.Sprintf("gateway %s ticket=%s: %v", e.Op, e.Ticket, e.Err)
	case e.ClientID != "":
		return fmt.Sprintf("gateway %s client_id=%s: %v", e.Op, e.ClientID, e.Err)
	default:
		return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
	}
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Wrap annotates err with the operation context. Deadline and cancellation
// errors are normalized to ErrGatewayTimeout. Returns nil for a nil err.
func Wrap(op, ticket, clientID string, err error) error {
	if err == nil {
		return nil
	}
	var ge *GatewayError
	if errors.As(err, &ge) {
		return err
	}
	if !errors.Is(err, ErrGatewayTimeout) &&
		(errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		err = fmt.Errorf("%w: %w", ErrGatewayTimeout, err)
	}
	return &GatewayError{Op: op, Ticket: ticket, ClientID: clientID, Err: err}
}

// IsTimeout reports whether the outcome of the failed call is unknown.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrGatewayTimeout)
}
