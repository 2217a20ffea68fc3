package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"goldscalper/internal/execution"
	"goldscalper/internal/indicator"
	"goldscalper/internal/model"
)

// Run pulls bars from stream until it ends or ctx is cancelled. The bar in
// progress when ctx is cancelled is finished before Run returns ctx.Err().
// Rejected bars are logged and skipped. A final snapshot is saved on exit.
func (s *Session) Run(ctx context.Context, stream model.BarStream) error {
	s.log.Info("session started", slog.String("symbol", s.cfg.Instrument.Symbol), slog.Int("lookback", s.window.Lookback()))
	defer func() {
		if err := s.Save(context.WithoutCancel(ctx)); err != nil {
			s.log.Error("final snapshot save failed", slog.String("key", s.key), slog.String("error", err.Error()))
		}
	}()

	for {
		bar, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.log.Info("bar stream ended", slog.Uint64("bars", s.seq))
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("session: next bar: %w", err)
		}

		if _, err := s.ProcessBar(context.WithoutCancel(ctx), bar); err != nil && !errors.Is(err, indicator.ErrInvalidBar) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// ListenClosures applies gateway closures as they arrive instead of
// between bars. It returns when ctx is cancelled or the gateway closes its
// channel. Gateways without a closure channel return immediately.
func (s *Session) ListenClosures(ctx context.Context) error {
	src, ok := s.gw.(execution.ClosureSource)
	if !ok {
		return nil
	}
	ch := src.Closures()
	for {
		select {
		case <-ctx.Done():
			return nil
		case tr, ok := <-ch:
			if !ok {
				return nil
			}
			s.HandleClosure(ctx, tr)
		}
	}
}

// RunAlerts delivers queued alerts to the notifier until ctx is cancelled.
func (s *Session) RunAlerts(ctx context.Context) error {
	if s.deps.Notifier == nil {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case a := <-s.alerts:
			if err := s.deps.Notifier.Send(ctx, a); err != nil {
				s.log.Warn("alert delivery failed", slog.String("title", a.Title), slog.String("error", err.Error()))
			}
		}
	}
}

// Warmup primes the indicator window with the newest stored bars so the
// session can trade from its first live bar. It returns the number of bars
// accepted.
func (s *Session) Warmup(ctx context.Context, r model.BarReader) (int, error) {
	bars, err := r.ReadLastBars(ctx, s.cfg.Instrument.Symbol, s.window.Lookback())
	if err != nil {
		return 0, fmt.Errorf("session: warmup: %w", err)
	}
	n := s.window.Warmup(bars)
	if m := s.deps.Metrics; m != nil {
		left := s.window.Lookback() - int(s.window.Seen())
		if left < 0 {
			left = 0
		}
		m.WarmupBarsLeft.Set(float64(left))
	}
	s.log.Info("window warmed up", slog.Int("bars", n), slog.Bool("ready", s.window.Ready()))
	return n, nil
}
