// Package notification delivers alerts about gateway failures and closed
// trades to external channels.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"

	"goldscalper/internal/execution"
	"goldscalper/internal/model"
)

// AlertLevel is the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// AtLeast reports whether l is as severe as floor. Unknown levels rank as
// INFO; an empty floor admits everything.
func (l AlertLevel) AtLeast(floor AlertLevel) bool {
	return l.rank() >= floor.rank()
}

func (l AlertLevel) rank() int {
	switch l {
	case AlertCritical:
		return 2
	case AlertWarning:
		return 1
	default:
		return 0
	}
}

// Alert is one notification.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier delivers alerts.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the log.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi sends every alert to all notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TradeClosed builds the alert for a closed trade.
func TradeClosed(tr model.ClosedTrade) Alert {
	level := AlertInfo
	if tr.PnL.IsNegative() {
		level = AlertWarning
	}
	return Alert{
		Level: level,
		Title: fmt.Sprintf("%s %s closed (%s)", tr.Side, tr.Ticket, tr.CloseReason),
		Message: fmt.Sprintf("entry=%d exit=%d lots=%s pnl=%s",
			tr.EntryPrice, tr.ExitPrice, tr.LotSize.String(), tr.PnL.StringFixed(2)),
	}
}

// GatewayFailure builds the alert for a failed gateway call. Timeouts are
// critical because the order state is unknown until reconciled.
func GatewayFailure(err error) Alert {
	level := AlertWarning
	if execution.IsTimeout(err) {
		level = AlertCritical
	}
	title := "gateway call failed"
	var gerr *execution.GatewayError
	if errors.As(err, &gerr) {
		title = fmt.Sprintf("gateway %s failed", gerr.Op)
	}
	return Alert{Level: level, Title: title, Message: err.Error()}
}
