package indicator

import "goldscalper/internal/model"

// Stochastic calculates the fast Stochastic oscillator.
// %K = 100 * (close - lowest low) / (highest high - lowest low) over kPeriod
// bars; %D is the SMA of %K over dPeriod. A zero range reads 50.
type Stochastic struct {
	kPeriod int
	dPeriod int

	highs []float64
	lows  []float64
	idx   int
	count int

	d     *SMA
	k     float64
	prevK float64
	prevD float64
}

// NewStochastic creates a Stochastic with the given %K and %D periods (typically 14, 3).
func NewStochastic(kPeriod, dPeriod int) *Stochastic {
	return &Stochastic{
		kPeriod: kPeriod,
		dPeriod: dPeriod,
		highs:   make([]float64, kPeriod),
		lows:    make([]float64, kPeriod),
		d:       NewSMA(dPeriod),
	}
}

func (s *Stochastic) Name() string { return "STOCH" }

func (s *Stochastic) Update(bar model.PriceBar) {
	s.highs[s.idx] = float64(bar.High)
	s.lows[s.idx] = float64(bar.Low)
	s.idx = (s.idx + 1) % s.kPeriod
	s.count++

	if s.count < s.kPeriod {
		return
	}

	hh, ll := s.highs[0], s.lows[0]
	for i := 1; i < s.kPeriod; i++ {
		if s.highs[i] > hh {
			hh = s.highs[i]
		}
		if s.lows[i] < ll {
			ll = s.lows[i]
		}
	}

	s.prevK, s.prevD = s.k, s.d.Value()

	k := 50.0
	if rng := hh - ll; rng > 0 {
		k = 100.0 * (float64(bar.Close) - ll) / rng
	}
	s.k = clamp(k, 0, 100)
	s.d.push(s.k)
}

// Value returns %K.
func (s *Stochastic) Value() float64 { return s.k }

// K returns the current %K.
func (s *Stochastic) K() float64 { return s.k }

// D returns the current %D.
func (s *Stochastic) D() float64 { return s.d.Value() }

// PrevK returns %K as of the previous bar.
func (s *Stochastic) PrevK() float64 { return s.prevK }

// PrevD returns %D as of the previous bar.
func (s *Stochastic) PrevD() float64 { return s.prevD }

// Ready reports whether %D has a full window.
func (s *Stochastic) Ready() bool { return s.d.Ready() }

// CrossReady reports whether the previous %K/%D pair is also valid.
func (s *Stochastic) CrossReady() bool { return s.d.count > s.dPeriod }
