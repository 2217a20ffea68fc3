package gateway

import "sync"

type replayEntry struct {
	Seq  int64
	Data []byte // envelope JSON
}

// ReplayBuffer keeps the most recent envelopes so reconnecting clients can
// catch up. Sequence numbers are pushed in increasing order.
type ReplayBuffer struct {
	mu  sync.RWMutex
	buf []replayEntry
	n   int // entries held
	pos int // next write slot
}

// NewReplayBuffer creates a buffer holding capacity envelopes.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = defaultReplayCap
	}
	return &ReplayBuffer{buf: make([]replayEntry, capacity)}
}

// Push appends an envelope, overwriting the oldest when full. The buffer
// keeps its own copy of data.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	cp := append([]byte(nil), data...)

	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.buf[rb.pos] = replayEntry{Seq: seq, Data: cp}
	rb.pos = (rb.pos + 1) % len(rb.buf)
	if rb.n < len(rb.buf) {
		rb.n++
	}
}

// Range returns the held entries with seq in [from, to], oldest first.
func (rb *ReplayBuffer) Range(from, to int64) []replayEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var out []replayEntry
	oldest := (rb.pos - rb.n + len(rb.buf)) % len(rb.buf)
	for i := 0; i < rb.n; i++ {
		e := rb.buf[(oldest+i)%len(rb.buf)]
		if e.Seq > to {
			break
		}
		if e.Seq >= from {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of held entries.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.n
}
