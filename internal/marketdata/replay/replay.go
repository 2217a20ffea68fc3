// Package replay turns stored bars into a cancellable BarStream for
// backtesting and warm restarts.
package replay

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"goldscalper/internal/model"
)

// maxGap caps the simulated wait between two bars.
const maxGap = 5 * time.Second

// Stream replays a fixed sequence of bars. It implements model.BarStream.
type Stream struct {
	bars  []model.PriceBar
	speed float64
	pos   int
	sleep func(ctx context.Context, d time.Duration) error
}

// FromSlice replays bars in the given order. speed controls playback:
// 1.0 = real time, 10.0 = 10x, 0 = as fast as possible.
func FromSlice(bars []model.PriceBar, speed float64) *Stream {
	return &Stream{bars: bars, speed: speed, sleep: sleepCtx}
}

// FromReader loads every bar of symbol at or after from and replays them.
func FromReader(ctx context.Context, r model.BarReader, symbol string, from time.Time, speed float64) (*Stream, error) {
	bars, err := r.ReadBars(ctx, symbol, from)
	if err != nil {
		return nil, fmt.Errorf("replay: read bars: %w", err)
	}
	log.Printf("[replay] loaded %d %s bars, speed=%.1fx", len(bars), symbol, speed)
	return FromSlice(bars, speed), nil
}

// Len returns the total number of bars.
func (s *Stream) Len() int { return len(s.bars) }

// Remaining returns the number of bars not yet returned.
func (s *Stream) Remaining() int { return len(s.bars) - s.pos }

// Next returns the next bar, io.EOF once exhausted, or ctx.Err() when
// cancelled while waiting.
func (s *Stream) Next(ctx context.Context) (model.PriceBar, error) {
	if err := ctx.Err(); err != nil {
		return model.PriceBar{}, err
	}
	if s.pos >= len(s.bars) {
		return model.PriceBar{}, io.EOF
	}
	b := s.bars[s.pos]
	if s.speed > 0 && s.pos > 0 {
		if gap := b.Time.Sub(s.bars[s.pos-1].Time); gap > 0 {
			wait := time.Duration(float64(gap) / s.speed)
			if wait > maxGap {
				wait = maxGap
			}
			if err := s.sleep(ctx, wait); err != nil {
				return model.PriceBar{}, err
			}
		}
	}
	s.pos++
	return b, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Chan adapts a bar channel into a BarStream. A closed channel reads as
// io.EOF.
type Chan <-chan model.PriceBar

// Next waits for the next bar.
func (c Chan) Next(ctx context.Context) (model.PriceBar, error) {
	select {
	case <-ctx.Done():
		return model.PriceBar{}, ctx.Err()
	case b, ok := <-c:
		if !ok {
			return model.PriceBar{}, io.EOF
		}
		return b, nil
	}
}
