package indicator

import (
	"errors"
	"fmt"
	"strings"

	"goldscalper/internal/model"
	"goldscalper/internal/ringbuf"
)

var (
	// ErrInsufficientHistory means fewer bars than the longest lookback have
	// been seen. Callers treat it as "not ready", not as a failure.
	ErrInsufficientHistory = errors.New("indicator: insufficient history")

	// ErrInvalidBar is returned for bars with inconsistent OHLC values or a
	// timestamp older than the previous bar. The window is left unchanged.
	ErrInvalidBar = errors.New("indicator: invalid bar")
)

// Config specifies the indicator periods for a Window.
type Config struct {
	RSIPeriod           int    `mapstructure:"rsi_period" json:"rsi_period" validate:"gte=2"`
	StochKPeriod        int    `mapstructure:"stoch_k_period" json:"stoch_k_period" validate:"gte=1"`
	StochDPeriod        int    `mapstructure:"stoch_d_period" json:"stoch_d_period" validate:"gte=1"`
	ATRPeriod           int    `mapstructure:"atr_period" json:"atr_period" validate:"gte=1"`
	MAPeriod            int    `mapstructure:"ma_period" json:"ma_period" validate:"gte=1"`
	MAType              string `mapstructure:"ma_type" json:"ma_type" validate:"oneof=sma ema SMA EMA"`
	SlopeLookback       int    `mapstructure:"slope_lookback" json:"slope_lookback" validate:"gte=1"`
	SlopeDeadbandPoints int64  `mapstructure:"slope_deadband_points" json:"slope_deadband_points" validate:"gte=0"`
}

// DefaultConfig mirrors the classic XAUUSD scalper settings.
func DefaultConfig() Config {
	return Config{
		RSIPeriod:           14,
		StochKPeriod:        14,
		StochDPeriod:        3,
		ATRPeriod:           20,
		MAPeriod:            200,
		MAType:              "sma",
		SlopeLookback:       3,
		SlopeDeadbandPoints: 0,
	}
}

// Lookback returns the number of bars needed before the window produces a
// snapshot: every indicator ready, plus the previous-bar values the crossing
// and pullback rules compare against.
func (c Config) Lookback() int {
	n := c.MAPeriod + c.SlopeLookback
	if v := c.RSIPeriod + 1; v > n {
		n = v
	}
	if v := c.ATRPeriod + 1; v > n {
		n = v
	}
	if v := c.StochKPeriod + c.StochDPeriod; v > n {
		n = v
	}
	if n < 2 {
		n = 2
	}
	return n
}

// Window maintains the bounded bar history and recomputes every indicator on
// each new bar. Designed for single-goroutine usage — no locks needed.
type Window struct {
	cfg      Config
	lookback int

	bars  *ringbuf.Ring
	rsi   *RSI
	stoch *Stochastic
	atr   *ATR
	ma    Indicator

	// maHist holds rounded MA values for the slope comparison.
	maHist []int64
	maIdx  int
	maN    int
}

// NewWindow creates an empty window for the given config.
func NewWindow(cfg Config) *Window {
	w := &Window{
		cfg:      cfg,
		lookback: cfg.Lookback(),
		rsi:      NewRSI(cfg.RSIPeriod),
		stoch:    NewStochastic(cfg.StochKPeriod, cfg.StochDPeriod),
		atr:      NewATR(cfg.ATRPeriod),
		maHist:   make([]int64, cfg.SlopeLookback+1),
	}
	w.bars = ringbuf.New(w.lookback)
	if strings.EqualFold(cfg.MAType, "ema") {
		w.ma = NewEMA(cfg.MAPeriod)
	} else {
		w.ma = NewSMA(cfg.MAPeriod)
	}
	return w
}

// Lookback returns the bars required before Update yields snapshots.
func (w *Window) Lookback() int { return w.lookback }

// Seen returns the number of bars accepted so far.
func (w *Window) Seen() uint64 { return w.bars.Total() }

// Evicted returns the number of bars dropped from the bounded history.
func (w *Window) Evicted() uint64 { return w.bars.Evicted() }

// Ready reports whether the next Update can produce a snapshot.
func (w *Window) Ready() bool { return int(w.bars.Total()) >= w.lookback }

// Bars returns a copy of the retained history, oldest first.
func (w *Window) Bars() []model.PriceBar { return w.bars.Last(w.bars.Len()) }

// Update feeds one bar. It returns ErrInsufficientHistory until the longest
// lookback is satisfied.
func (w *Window) Update(bar model.PriceBar) (model.IndicatorSnapshot, error) {
	if !bar.Valid() {
		return model.IndicatorSnapshot{}, fmt.Errorf("%w: ohlc %d/%d/%d/%d", ErrInvalidBar, bar.Open, bar.High, bar.Low, bar.Close)
	}
	prev, hasPrev := w.bars.Back(0)
	if hasPrev && bar.Time.Before(prev.Time) {
		return model.IndicatorSnapshot{}, fmt.Errorf("%w: %s before %s", ErrInvalidBar, bar.Time, prev.Time)
	}

	w.bars.Push(bar)
	w.rsi.Update(bar)
	w.stoch.Update(bar)
	w.atr.Update(bar)
	w.ma.Update(bar)
	if w.ma.Ready() {
		w.maHist[w.maIdx] = roundPoints(w.ma.Value())
		w.maIdx = (w.maIdx + 1) % len(w.maHist)
		w.maN++
	}

	if int(w.bars.Total()) < w.lookback {
		return model.IndicatorSnapshot{}, fmt.Errorf("%w: %d/%d bars", ErrInsufficientHistory, w.bars.Total(), w.lookback)
	}

	maNow := w.maAgo(0)
	return model.IndicatorSnapshot{
		Time:         bar.Time,
		Close:        bar.Close,
		PrevClose:    prev.Close,
		High:         bar.High,
		Low:          bar.Low,
		RSI:          round2(w.rsi.Value()),
		StochK:       round2(w.stoch.K()),
		StochD:       round2(w.stoch.D()),
		PrevStochK:   round2(w.stoch.PrevK()),
		PrevStochD:   round2(w.stoch.PrevD()),
		ATR:          roundPoints(w.atr.Value()),
		MA:           maNow,
		MASlope:      slopeOf(maNow-w.maAgo(w.cfg.SlopeLookback), w.cfg.SlopeDeadbandPoints),
		SpreadPoints: bar.SpreadPoints,
	}, nil
}

// Warmup feeds historical bars, discarding snapshots. Invalid bars are
// skipped. Returns the number of bars accepted.
func (w *Window) Warmup(bars []model.PriceBar) int {
	fed := 0
	for _, b := range bars {
		if _, err := w.Update(b); err != nil && errors.Is(err, ErrInvalidBar) {
			continue
		}
		fed++
	}
	return fed
}

// maAgo returns the rounded MA value `ago` bars before the newest.
func (w *Window) maAgo(ago int) int64 {
	n := len(w.maHist)
	return w.maHist[((w.maIdx-1-ago)%n+n)%n]
}

func slopeOf(diff, deadband int64) model.Slope {
	switch {
	case diff > deadband:
		return model.SlopeUp
	case diff < -deadband:
		return model.SlopeDown
	default:
		return model.SlopeFlat
	}
}
