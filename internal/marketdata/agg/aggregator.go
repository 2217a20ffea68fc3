// Package agg builds fixed-interval price bars from a stream of bid/ask
// ticks.
package agg

import (
	"context"
	"log"
	"sync"
	"time"

	"goldscalper/internal/model"
)

// barState holds the in-progress bar for one symbol.
type barState struct {
	bucket int64 // bucket start, unix nanoseconds
	bar    model.PriceBar
}

// Aggregator builds N-second OHLC bars from ticks. Bars are built on the
// bid/ask midpoint; the spread of a bar is the spread of its last tick.
// Bucket boundaries are aligned to the Unix epoch.
type Aggregator struct {
	mu       sync.Mutex
	interval time.Duration
	states   map[string]*barState

	flushInterval time.Duration
	now           func() time.Time

	// Metrics hooks (optional, set externally)
	OnDroppedTick func()
}

// New creates an Aggregator for bars of the given interval.
func New(interval time.Duration) *Aggregator {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Aggregator{
		interval:      interval,
		states:        make(map[string]*barState),
		flushInterval: 100 * time.Millisecond,
		now:           time.Now,
	}
}

// Interval returns the bar interval.
func (a *Aggregator) Interval() time.Duration { return a.interval }

// Run consumes ticks until ctx is cancelled or tickCh closes, sending each
// finished bar to barCh. Bars whose interval has passed on the wall clock
// are emitted even when no further tick arrives. Open bars are flushed on
// exit.
func (a *Aggregator) Run(ctx context.Context, tickCh <-chan model.Tick, barCh chan<- model.PriceBar) {
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.offer(a.Flush(), barCh)
			return

		case tick, ok := <-tickCh:
			if !ok {
				a.send(ctx, a.Flush(), barCh)
				return
			}
			if bar, done := a.Add(tick); done {
				a.send(ctx, []model.PriceBar{bar}, barCh)
			}

		case <-ticker.C:
			a.send(ctx, a.flushBefore(a.now()), barCh)
		}
	}
}

// Add incorporates one tick. When the tick starts a new bucket the previous
// bar is returned finished. Late ticks for an older bucket and ticks with
// a crossed quote are dropped.
func (a *Aggregator) Add(tick model.Tick) (model.PriceBar, bool) {
	if tick.Bid <= 0 || tick.Ask < tick.Bid {
		a.dropped()
		return model.PriceBar{}, false
	}
	bucket := tick.Time.UnixNano() - tick.Time.UnixNano()%int64(a.interval)
	price := tick.Mid()

	a.mu.Lock()
	defer a.mu.Unlock()

	state, exists := a.states[tick.Symbol]
	if exists && bucket < state.bucket {
		a.dropped()
		return model.PriceBar{}, false
	}

	var finished model.PriceBar
	var done bool
	if exists && bucket > state.bucket {
		finished, done = state.bar, true
		exists = false
	}

	if !exists {
		a.states[tick.Symbol] = &barState{
			bucket: bucket,
			bar: model.PriceBar{
				Time:         time.Unix(0, bucket).UTC(),
				Open:         price,
				High:         price,
				Low:          price,
				Close:        price,
				SpreadPoints: float64(tick.Spread()),
				TickCount:    1,
			},
		}
		return finished, done
	}

	b := &state.bar
	if price > b.High {
		b.High = price
	}
	if price < b.Low {
		b.Low = price
	}
	b.Close = price
	b.SpreadPoints = float64(tick.Spread())
	b.TickCount++
	return model.PriceBar{}, false
}

// Flush returns every open bar and clears the state.
func (a *Aggregator) Flush() []model.PriceBar {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []model.PriceBar
	for sym, st := range a.states {
		out = append(out, st.bar)
		delete(a.states, sym)
	}
	return out
}

// flushBefore returns the bars whose interval ended at or before now.
func (a *Aggregator) flushBefore(now time.Time) []model.PriceBar {
	cutoff := now.UnixNano() - int64(a.interval)
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []model.PriceBar
	for sym, st := range a.states {
		if st.bucket <= cutoff {
			out = append(out, st.bar)
			delete(a.states, sym)
		}
	}
	return out
}

func (a *Aggregator) dropped() {
	if a.OnDroppedTick != nil {
		a.OnDroppedTick()
	}
}

// send delivers bars in order, blocking until the consumer takes them.
func (a *Aggregator) send(ctx context.Context, bars []model.PriceBar, barCh chan<- model.PriceBar) {
	for _, b := range bars {
		select {
		case barCh <- b:
		case <-ctx.Done():
			log.Printf("[agg] cancelled, dropping bar ts=%v", b.Time)
			return
		}
	}
}

// offer delivers bars without blocking. Used on shutdown when nobody may be
// reading anymore.
func (a *Aggregator) offer(bars []model.PriceBar, barCh chan<- model.PriceBar) {
	for _, b := range bars {
		select {
		case barCh <- b:
		default:
			log.Printf("[agg] barCh full on shutdown, dropping bar ts=%v", b.Time)
		}
	}
}
