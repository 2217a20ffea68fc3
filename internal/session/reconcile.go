package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"goldscalper/internal/execution"
	"goldscalper/internal/notification"
	"goldscalper/internal/portfolio"
)

// reconcile resolves orders left Pending by a timed-out submit. A fill the
// gateway reports for the order promotes the position; an order still
// unmatched after PendingTimeout is abandoned and frees its slot.
func (s *Session) reconcile(ctx context.Context, log *slog.Logger) []string {
	pending := s.tracker.Pending()
	if len(pending) == 0 {
		return nil
	}
	fq, canQuery := s.gw.(execution.FillQuerier)
	now := s.now()

	var errs []string
	for _, po := range pending {
		if canQuery {
			fill, found, err := fq.FillFor(ctx, po.OrderID)
			if err != nil {
				err = execution.Wrap("lookup", "", po.OrderID, err)
				errs = append(errs, err.Error())
				log.Warn("fill lookup failed", slog.String("client_id", po.OrderID), slog.String("error", err.Error()))
				continue
			}
			if found {
				pos, err := s.tracker.ConfirmFill(po.OrderID, fill)
				switch {
				case err == nil:
					s.markDirty()
					log.Info("pending order filled", slog.String("client_id", po.OrderID),
						slog.String("ticket", pos.Ticket), slog.Int64("entry", pos.EntryPrice))
				case errors.Is(err, portfolio.ErrInFlight), errors.Is(err, portfolio.ErrUnknownPosition):
					// resolved meanwhile
				default:
					errs = append(errs, err.Error())
					log.Error("pending fill rejected", slog.String("client_id", po.OrderID), slog.String("error", err.Error()))
				}
				continue
			}
		}
		if age := now.Sub(po.Since); age >= s.cfg.PendingTimeout {
			if err := s.tracker.Abandon(po.OrderID); err != nil {
				continue
			}
			s.markDirty()
			if m := s.deps.Metrics; m != nil {
				m.EntriesBlocked.WithLabelValues("abandoned").Inc()
			}
			log.Warn("pending order abandoned", slog.String("client_id", po.OrderID), slog.Duration("age", age))
			s.alert(notification.Alert{
				Level:   notification.AlertWarning,
				Title:   "pending order abandoned",
				Message: fmt.Sprintf("%s order %s had no fill after %s", po.Side, po.OrderID, age.Round(time.Second)),
			})
		}
	}
	return errs
}
