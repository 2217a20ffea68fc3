package gateway

import (
	"slices"
	"sync"
	"time"
)

// BarLag tracks how long after its bar timestamp a session event reached
// the hub. Bar timestamps mark the bucket start, so the lag includes one bar
// interval. The most recent samples are kept in a ring.
type BarLag struct {
	mu   sync.Mutex
	ring []time.Duration
	next int
	n    int

	late  time.Duration
	lateN uint64
}

// LagStats summarizes the held samples. Durations are in milliseconds.
type LagStats struct {
	Count int     `json:"count"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Max   float64 `json:"max"`
	Late  uint64  `json:"late"` // over the late threshold since start
}

// NewBarLag keeps capacity samples and counts those above late. A zero late
// disables the count.
func NewBarLag(capacity int, late time.Duration) *BarLag {
	if capacity <= 0 {
		capacity = 10000
	}
	return &BarLag{ring: make([]time.Duration, capacity), late: late}
}

// Observe records sent minus barTime. It ignores a zero barTime and a
// negative lag from clock skew, and reports whether a sample was taken.
func (b *BarLag) Observe(barTime, sent time.Time) bool {
	if barTime.IsZero() {
		return false
	}
	lag := sent.Sub(barTime)
	if lag < 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ring[b.next] = lag
	b.next = (b.next + 1) % len(b.ring)
	if b.n < len(b.ring) {
		b.n++
	}
	if b.late > 0 && lag > b.late {
		b.lateN++
	}
	return true
}

// Stats returns the percentiles of the held samples; all zero when empty.
func (b *BarLag) Stats() LagStats {
	b.mu.Lock()
	sorted := slices.Clone(b.ring[:b.n])
	st := LagStats{Count: b.n, Late: b.lateN}
	b.mu.Unlock()

	if len(sorted) == 0 {
		return st
	}
	slices.Sort(sorted)
	st.P50 = quantileMs(sorted, 0.50)
	st.P95 = quantileMs(sorted, 0.95)
	st.P99 = quantileMs(sorted, 0.99)
	st.Max = millis(sorted[len(sorted)-1])
	return st
}

// quantileMs interpolates the q-th quantile of sorted between neighbours.
func quantileMs(sorted []time.Duration, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	i := int(pos)
	if i >= len(sorted)-1 {
		return millis(sorted[len(sorted)-1])
	}
	lo, hi := millis(sorted[i]), millis(sorted[i+1])
	return lo + (pos-float64(i))*(hi-lo)
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
