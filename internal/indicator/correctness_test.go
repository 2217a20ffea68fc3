package indicator

import (
	"math"
	"testing"

	"goldscalper/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helper
// ────────────────────────────────────────────────────────────

func bar(closePoints int64) model.PriceBar {
	return model.PriceBar{
		Open: closePoints, High: closePoints + 50, Low: closePoints - 50, Close: closePoints,
	}
}

func ohlc(high, low, closePoints int64) model.PriceBar {
	return model.PriceBar{Open: closePoints, High: high, Low: low, Close: closePoints}
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// ────────────────────────────────────────────────────────────
// SMA / EMA Correctness
// ────────────────────────────────────────────────────────────

func TestSMA_Correctness_Period3(t *testing.T) {
	// Closes (points): 10000, 10200, 10400, 10300, 10500
	// SMA after bar 3: 10200, bar 4: 10300, bar 5: 10400
	sma := NewSMA(3)
	prices := []int64{10000, 10200, 10400, 10300, 10500}
	expected := []float64{0, 0, 10200, 10300, 10400}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		sma.Update(bar(p))
		if sma.Ready() != ready[i] {
			t.Errorf("bar %d: Ready()=%v, want %v", i, sma.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "SMA(3)", sma.Value(), expected[i], 0.0001)
		}
	}
}

func TestEMA_Correctness_Period3(t *testing.T) {
	// multiplier = 0.5, seed = SMA(3) = 10200
	// bar 4: 10300*0.5 + 10200*0.5 = 10250
	// bar 5: 10500*0.5 + 10250*0.5 = 10375
	ema := NewEMA(3)
	prices := []int64{10000, 10200, 10400, 10300, 10500}
	expected := []float64{0, 0, 10200, 10250, 10375}

	for i, p := range prices {
		ema.Update(bar(p))
		if i >= 2 {
			assertClose(t, "EMA(3)", ema.Value(), expected[i], 0.0001)
		}
	}
}

// ────────────────────────────────────────────────────────────
// RSI Correctness (Wilder's Method)
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Period5(t *testing.T) {
	// Closes: 4400, 4434, 4409, 4361, 4433, 4483, 4510, 4542, 4584
	//
	// Deltas bars 2-6: +34, -25, -48, +72, +50
	//   avgGain = 156/5 = 31.2, avgLoss = 73/5 = 14.6
	//   RS = 2.13699 → RSI = 68.112
	// Bar 7 (+27): avgGain = (31.2*4+27)/5 = 30.36, avgLoss = 11.68 → RSI = 72.219
	// Bar 8 (+32): avgGain = 30.688, avgLoss = 9.344 → RSI = 76.658
	// Bar 9 (+42): avgGain = 32.9504, avgLoss = 7.4752 → RSI = 81.509
	prices := []int64{4400, 4434, 4409, 4361, 4433, 4483, 4510, 4542, 4584}

	rsi := NewRSI(5)
	for i := 0; i <= 5; i++ {
		rsi.Update(bar(prices[i]))
	}
	if !rsi.Ready() {
		t.Fatal("RSI(5) should be ready after 6 bars")
	}
	assertClose(t, "RSI(5) bar 6", rsi.Value(), 68.112, 0.1)

	rsi.Update(bar(prices[6]))
	assertClose(t, "RSI(5) bar 7", rsi.Value(), 72.219, 0.1)

	rsi.Update(bar(prices[7]))
	assertClose(t, "RSI(5) bar 8", rsi.Value(), 76.658, 0.1)

	rsi.Update(bar(prices[8]))
	assertClose(t, "RSI(5) bar 9", rsi.Value(), 81.509, 0.2)
}

func TestRSI_AllUp_Is100(t *testing.T) {
	rsi := NewRSI(5)
	for i := 0; i < 10; i++ {
		rsi.Update(bar(int64(10000 + i*100)))
	}
	assertClose(t, "RSI all up", rsi.Value(), 100.0, 0.001)
}

func TestRSI_AllDown_Is0(t *testing.T) {
	rsi := NewRSI(5)
	for i := 0; i < 10; i++ {
		rsi.Update(bar(int64(20000 - i*100)))
	}
	assertClose(t, "RSI all down", rsi.Value(), 0.0, 0.001)
}

func TestRSI_Flat_IsNeutral(t *testing.T) {
	rsi := NewRSI(5)
	for i := 0; i < 10; i++ {
		rsi.Update(bar(10000))
	}
	assertClose(t, "RSI flat", rsi.Value(), 50.0, 0.001)
}

// ────────────────────────────────────────────────────────────
// ATR Correctness (Wilder's smoothing of true range)
// ────────────────────────────────────────────────────────────

func TestATR_Correctness_Period3(t *testing.T) {
	// Bar 1 seeds prevClose = 100.
	// Bar 2: H=110 L=95  C=105 → TR = max(15, 10, 5)   = 15
	// Bar 3: H=108 L=100 C=102 → TR = max(8, 3, 5)     = 8
	// Bar 4: H=115 L=101 C=112 → TR = max(14, 13, 1)   = 14
	//   seed ATR = (15+8+14)/3 = 12.3333
	// Bar 5: H=113 L=90  C=95  → TR = max(23, 1, 22)   = 23
	//   ATR = (12.3333*2 + 23)/3 = 15.8889
	bars := []model.PriceBar{
		ohlc(100, 100, 100),
		ohlc(110, 95, 105),
		ohlc(108, 100, 102),
		ohlc(115, 101, 112),
		ohlc(113, 90, 95),
	}
	atr := NewATR(3)
	for i, b := range bars {
		atr.Update(b)
		if i < 3 && atr.Ready() {
			t.Fatalf("ATR(3) ready too early at bar %d", i+1)
		}
	}
	if !atr.Ready() {
		t.Fatal("ATR(3) should be ready after 4 bars")
	}
	assertClose(t, "ATR(3) bar 5", atr.Value(), 15.8889, 0.001)
}

// ────────────────────────────────────────────────────────────
// Stochastic Correctness
// ────────────────────────────────────────────────────────────

func TestStochastic_Correctness_K3D2(t *testing.T) {
	// K window 3, D window 2.
	// Bars (H/L/C): 10/0/5, 12/2/11, 14/4/6, 16/6/15
	// Bar 3: HH=14 LL=0 → K = 100*(6-0)/14   = 42.857
	// Bar 4: HH=16 LL=2 → K = 100*(15-2)/14  = 92.857, D = (42.857+92.857)/2 = 67.857
	bars := []model.PriceBar{
		ohlc(10, 0, 5),
		ohlc(12, 2, 11),
		ohlc(14, 4, 6),
		ohlc(16, 6, 15),
	}
	st := NewStochastic(3, 2)
	for _, b := range bars[:3] {
		st.Update(b)
	}
	assertClose(t, "%K bar 3", st.K(), 42.857, 0.001)
	if st.Ready() {
		t.Fatal("%D should not be ready after 3 bars")
	}

	st.Update(bars[3])
	if !st.Ready() {
		t.Fatal("%D should be ready after 4 bars")
	}
	assertClose(t, "%K bar 4", st.K(), 92.857, 0.001)
	assertClose(t, "%D bar 4", st.D(), 67.857, 0.001)
	assertClose(t, "prev %K", st.PrevK(), 42.857, 0.001)
}

func TestStochastic_ZeroRange_Is50(t *testing.T) {
	st := NewStochastic(3, 2)
	for i := 0; i < 5; i++ {
		st.Update(ohlc(100, 100, 100))
	}
	assertClose(t, "%K flat", st.K(), 50.0, 0.0001)
	assertClose(t, "%D flat", st.D(), 50.0, 0.0001)
}

// ────────────────────────────────────────────────────────────
// Rounding helpers
// ────────────────────────────────────────────────────────────

func TestRounding(t *testing.T) {
	assertClose(t, "round2", round2(29.8049), 29.80, 1e-9)
	assertClose(t, "round2 half", round2(29.805), 29.81, 1e-9)
	if got := roundPoints(264829.5); got != 264830 {
		t.Errorf("roundPoints: got %d, want 264830", got)
	}
	if got := roundPoints(math.NaN()); got != 0 {
		t.Errorf("roundPoints(NaN): got %d, want 0", got)
	}
}
