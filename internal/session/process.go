package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"goldscalper/internal/execution"
	"goldscalper/internal/indicator"
	"goldscalper/internal/logger"
	"goldscalper/internal/model"
	"goldscalper/internal/notification"
	"goldscalper/internal/portfolio"
	"goldscalper/internal/strategy"
)

// ProcessBar runs one bar to completion and returns the resulting event.
//
// Invalid or out-of-order bars return indicator.ErrInvalidBar and produce no
// event. While the window warms up the event carries a Hold and no
// snapshot. Gateway failures never abort the bar; they are reported in
// Event.Errors and through the notifier.
func (s *Session) ProcessBar(ctx context.Context, bar model.PriceBar) (Event, error) {
	start := time.Now()
	ctx = logger.WithSessionID(ctx, s.id)
	ctx = logger.WithTraceID(ctx, logger.BarTraceID(s.id, bar.Time))
	log := s.log.With(slog.String("trace_id", logger.TraceID(ctx)))

	// late fills first so their closes below find a position
	reconcileErrs := s.reconcile(ctx, log)
	// closes reported by the gateway since the previous bar come first
	s.drainClosures(ctx)

	snap, err := s.window.Update(bar)
	warm := errors.Is(err, indicator.ErrInsufficientHistory)
	if err != nil && !warm {
		if m := s.deps.Metrics; m != nil {
			m.BarsRejected.Inc()
		}
		log.Warn("bar rejected", slog.String("error", err.Error()))
		return Event{}, err
	}
	s.archive(ctx, bar)

	ev := Event{
		SessionID: s.id,
		Time:      bar.Time,
		Bar:       bar,
		Warmup:    warm,
	}

	if warm {
		hold := model.Hold()
		hold.Reason = fmt.Sprintf("warming up: %d/%d bars", s.window.Seen(), s.window.Lookback())
		ev.Decisions = []model.Decision{hold}
	} else {
		ev.Snapshot = &snap
		ev.Decisions, ev.Errors = s.decide(ctx, log, snap)
	}
	if len(reconcileErrs) > 0 {
		ev.Errors = append(reconcileErrs, ev.Errors...)
	}

	ev.Closed = s.takePending()
	ev.Positions = s.tracker.Views()
	ev.Stats = s.tracker.Stats()
	ev.WinRate = ev.Stats.WinRate()
	s.seq++
	ev.Seq = s.seq

	s.observeBar(ev, start)
	s.publish(ctx, ev)
	s.last.Store(&ev)
	s.saveIfDirty(ctx)
	return ev, nil
}

// decide runs the management rules then the entry rules against the
// tracker, returning every decision in the order it was applied.
func (s *Session) decide(ctx context.Context, log *slog.Logger, snap model.IndicatorSnapshot) ([]model.Decision, []string) {
	var decisions []model.Decision
	var errs []string

	for _, d := range s.rules.Manage(snap, s.tracker.Views()) {
		applied, err := s.applyManagement(ctx, d)
		if err != nil {
			errs = append(errs, err.Error())
			log.Warn("management decision failed", slog.String("kind", string(d.Kind)), slog.String("ticket", d.Ticket), slog.String("error", err.Error()))
		}
		if applied {
			decisions = append(decisions, d)
		}
	}

	lastLong, lastShort, lastLoss := s.tracker.Activity()
	d := s.rules.Evaluate(strategy.Input{
		Snapshot: snap,
		Open:     s.tracker.Views(),
		Cooldown: strategy.Cooldown{LastLongEntry: lastLong, LastShortEntry: lastShort, LastLossClose: lastLoss},
	})
	if d.IsEntry() {
		var err error
		d, err = s.enter(ctx, d)
		if err != nil {
			errs = append(errs, err.Error())
			log.Warn("entry failed", slog.String("error", err.Error()))
		} else if d.IsEntry() {
			log.Info("entry", slog.String("side", string(d.Side)), slog.Int64("entry", d.Entry),
				slog.Int64("sl", d.StopLoss), slog.Int64("tp", d.TakeProfit), slog.String("reason", d.Reason))
		}
	}
	decisions = append(decisions, d)

	if m := s.deps.Metrics; m != nil {
		for _, d := range decisions {
			m.DecisionsTotal.WithLabelValues(string(d.Kind)).Inc()
		}
	}
	return decisions, errs
}

// applyManagement executes one management decision. It reports whether the
// decision took effect.
func (s *Session) applyManagement(ctx context.Context, d model.Decision) (bool, error) {
	var err error
	switch d.Kind {
	case model.DecisionMoveStop:
		if d.Has(model.CondTrailingStop) {
			_, err = s.tracker.TrailStop(ctx, d.Ticket, d.StopLoss)
		} else {
			_, err = s.tracker.PromoteBreakEven(ctx, d.Ticket)
		}
	case model.DecisionPartialClose:
		_, err = s.tracker.PartialClose(ctx, d.Ticket, d.CloseFraction)
	case model.DecisionExitPosition:
		var tr model.ClosedTrade
		tr, err = s.tracker.Close(ctx, d.Ticket, closeReason(d))
		if err == nil {
			s.closed(ctx, tr)
		}
	default:
		return false, nil
	}
	switch {
	case err == nil:
		s.markDirty()
		return true, nil
	case errors.Is(err, portfolio.ErrAlreadyApplied), errors.Is(err, portfolio.ErrInFlight):
		// rule raced a concurrent change; next bar re-evaluates
		return false, nil
	case errors.Is(err, portfolio.ErrUnknownPosition):
		// closed by the gateway meanwhile
		return false, nil
	default:
		s.gatewayFailed(err)
		return false, err
	}
}

func closeReason(d model.Decision) string {
	for _, c := range d.Conditions {
		switch c {
		case model.CondMaxHoldTime:
			return "MAX_HOLD_TIME"
		case model.CondAdverseExcursion:
			return "ADVERSE_EXCURSION"
		}
	}
	return model.CloseSignal
}

// enter sizes and opens an entry decision. Risk and capacity blocks turn it
// into a Hold; gateway failures keep the entry decision and return the error.
func (s *Session) enter(ctx context.Context, d model.Decision) (model.Decision, error) {
	if risk := s.deps.Risk; risk != nil {
		if ok, reason := risk.CanTrade(); !ok {
			s.blocked("risk")
			return blockedHold(d, "risk: "+reason), nil
		}
		sl := d.Entry - d.StopLoss
		if sl < 0 {
			sl = -sl
		}
		d.LotSize = risk.LotSize(sl, d.LotSize)
	}

	pos, err := s.tracker.Open(ctx, d)
	switch {
	case err == nil:
		d.Ticket = pos.Ticket
		d.Entry = pos.EntryPrice
		d.LotSize = pos.LotSize
		s.markDirty()
		return d, nil
	case errors.Is(err, portfolio.ErrCapacityExceeded):
		s.blocked("capacity")
		return blockedHold(d, "capacity"), nil
	case execution.IsTimeout(err):
		// pending position kept until reconciled
		s.markDirty()
		s.blocked("gateway")
		s.gatewayFailed(err)
		return d, err
	default:
		s.blocked("gateway")
		s.gatewayFailed(err)
		return d, err
	}
}

func blockedHold(d model.Decision, reason string) model.Decision {
	hold := model.Hold()
	hold.Conditions = d.Conditions
	hold.Reason = fmt.Sprintf("%s blocked (%s): %s", d.Kind, reason, d.Reason)
	return hold
}

func (s *Session) blocked(reason string) {
	if m := s.deps.Metrics; m != nil {
		m.EntriesBlocked.WithLabelValues(reason).Inc()
	}
}

// HandleClosure applies a gateway-reported close. Unknown and duplicate
// tickets are ignored. Safe to call concurrently with ProcessBar.
func (s *Session) HandleClosure(ctx context.Context, tr model.ClosedTrade) bool {
	if !s.tracker.HandleGatewayClose(tr) {
		return false
	}
	s.closed(ctx, tr)
	return true
}

// drainClosures applies every close the gateway has queued.
func (s *Session) drainClosures(ctx context.Context) {
	src, ok := s.gw.(execution.ClosureSource)
	if !ok {
		return
	}
	ch := src.Closures()
	for {
		select {
		case tr, ok := <-ch:
			if !ok {
				return
			}
			s.HandleClosure(ctx, tr)
		default:
			return
		}
	}
}

// closed runs the side effects of a close exactly once per ticket.
func (s *Session) closed(ctx context.Context, tr model.ClosedTrade) {
	s.mu.Lock()
	if _, dup := s.reported[tr.Ticket]; dup {
		s.mu.Unlock()
		return
	}
	s.reported[tr.Ticket] = struct{}{}
	s.pending = append(s.pending, tr)
	s.dirty = true
	s.mu.Unlock()

	if s.deps.Risk != nil {
		s.deps.Risk.RecordPnL(tr.PnL)
	}
	if s.deps.Trades != nil {
		if err := s.deps.Trades.RecordTrade(ctx, s.id, tr); err != nil {
			s.log.Error("journal write failed", slog.String("ticket", tr.Ticket), slog.String("error", err.Error()))
		}
	}
	if m := s.deps.Metrics; m != nil {
		result := "breakeven"
		switch {
		case tr.PnL.IsPositive():
			result = "win"
		case tr.PnL.IsNegative():
			result = "loss"
		}
		m.ClosedTradesTotal.WithLabelValues(result).Inc()
	}
	s.log.Info("trade closed",
		slog.String("ticket", tr.Ticket),
		slog.String("side", string(tr.Side)),
		slog.String("reason", tr.CloseReason),
		slog.String("pnl", tr.PnL.StringFixed(2)),
	)
	s.alert(notification.TradeClosed(tr))
}

func (s *Session) takePending() []model.ClosedTrade {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out
}

func (s *Session) markDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

func (s *Session) gatewayFailed(err error) {
	s.alert(notification.GatewayFailure(err))
}

// alert queues an alert for RunAlerts. Alerts are dropped when the queue
// is full.
func (s *Session) alert(a notification.Alert) {
	if s.deps.Notifier == nil {
		return
	}
	select {
	case s.alerts <- a:
	default:
		s.log.Warn("alert queue full, dropping", slog.String("title", a.Title))
	}
}

// archive writes the bar to the bar store. Failures are logged only.
func (s *Session) archive(ctx context.Context, bar model.PriceBar) {
	if s.deps.Bars == nil {
		return
	}
	if err := s.deps.Bars.WriteBars(ctx, s.cfg.Instrument.Symbol, []model.PriceBar{bar}); err != nil {
		s.log.Warn("bar archive failed", slog.String("error", err.Error()))
	}
}

func (s *Session) observeBar(ev Event, start time.Time) {
	if h := s.deps.Health; h != nil {
		h.SetLastBar(ev.Bar.Time, !ev.Warmup)
	}
	m := s.deps.Metrics
	if m == nil {
		return
	}
	m.BarsTotal.Inc()
	m.BarProcessDur.Observe(time.Since(start).Seconds())
	if !ev.Bar.Time.IsZero() {
		m.BarLag.Set(time.Since(ev.Bar.Time).Seconds())
	}
	left := s.window.Lookback() - int(s.window.Seen())
	if left < 0 {
		left = 0
	}
	m.WarmupBarsLeft.Set(float64(left))
	if ev := s.window.Evicted(); ev > s.evicted {
		m.RingBufEvicted.Add(float64(ev - s.evicted))
		s.evicted = ev
	}
	m.OpenPositions.Set(float64(len(ev.Positions)))
	pnl, _ := ev.Stats.TotalPnL.Float64()
	m.SessionPnL.Set(pnl)
}

func (s *Session) publish(ctx context.Context, ev Event) {
	for _, np := range s.publishers {
		if err := np.pub.Publish(ctx, ev); err != nil {
			if m := s.deps.Metrics; m != nil {
				m.PublishDrops.WithLabelValues(np.name).Inc()
			}
			s.log.Debug("publish failed", slog.String("publisher", np.name), slog.String("error", err.Error()))
		}
	}
}
