// Package ringbuf provides a fixed-capacity bar history that overwrites the
// oldest bar once full. It backs the indicator window's bounded retention.
//
// Not safe for concurrent use; the session loop owns it.
package ringbuf

import "goldscalper/internal/model"

// Ring keeps the most recent Cap() bars in arrival order.
// Capacity is rounded up to a power of two for bitwise modulo.
type Ring struct {
	buf  []model.PriceBar
	mask uint64
	size int // requested retention

	head uint64 // total bars ever pushed

	// Evicted counts bars dropped from the back, for metrics.
	evicted uint64
}

// New creates a ring retaining `capacity` bars. Minimum capacity is 1.
func New(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	n := nextPow2(capacity)
	return &Ring{
		buf:  make([]model.PriceBar, n),
		mask: uint64(n - 1),
		size: capacity,
	}
}

// Push appends a bar, evicting the oldest once retention is reached.
func (r *Ring) Push(b model.PriceBar) {
	if r.Len() == r.size {
		r.evicted++
	}
	r.buf[r.head&r.mask] = b
	r.head++
}

// Len returns the number of retained bars.
func (r *Ring) Len() int {
	if r.head < uint64(r.size) {
		return int(r.head)
	}
	return r.size
}

// Cap returns the retention size.
func (r *Ring) Cap() int {
	return r.size
}

// Total returns the number of bars ever pushed.
func (r *Ring) Total() uint64 {
	return r.head
}

// Evicted returns the number of bars dropped due to retention.
func (r *Ring) Evicted() uint64 {
	return r.evicted
}

// At returns the i-th retained bar, 0 being the oldest.
func (r *Ring) At(i int) (model.PriceBar, bool) {
	n := r.Len()
	if i < 0 || i >= n {
		return model.PriceBar{}, false
	}
	start := r.head - uint64(n)
	return r.buf[(start+uint64(i))&r.mask], true
}

// Back returns the bar `ago` positions before the newest (0 = newest).
func (r *Ring) Back(ago int) (model.PriceBar, bool) {
	return r.At(r.Len() - 1 - ago)
}

// Last copies the newest n bars (or fewer) in ascending order.
func (r *Ring) Last(n int) []model.PriceBar {
	if n > r.Len() {
		n = r.Len()
	}
	out := make([]model.PriceBar, 0, n)
	for i := r.Len() - n; i < r.Len(); i++ {
		b, _ := r.At(i)
		out = append(out, b)
	}
	return out
}

// Reset drops all retained bars.
func (r *Ring) Reset() {
	r.head = 0
	r.evicted = 0
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
