package redis

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFail = errors.New("fail")

// fakeClock lets tests move past the reset timeout without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(maxFailures int) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(maxFailures, 10*time.Second)
	cb.now = clock.Now
	return cb, clock
}

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb, _ := newTestBreaker(3)
	assert.Equal(t, StateClosed, cb.CurrentState())
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	cb, _ := newTestBreaker(3)
	for i := 0; i < 3; i++ {
		require.ErrorIs(t, cb.Execute(func() error { return errFail }), errFail)
	}
	assert.Equal(t, StateOpen, cb.CurrentState())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb, clock := newTestBreaker(2)
	cb.Execute(func() error { return errFail })
	cb.Execute(func() error { return errFail })
	require.Equal(t, StateOpen, cb.CurrentState())

	clock.Advance(11 * time.Second)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.CurrentState())
}

func TestCircuitBreaker_HalfOpenFailure(t *testing.T) {
	cb, clock := newTestBreaker(2)
	cb.Execute(func() error { return errFail })
	cb.Execute(func() error { return errFail })

	clock.Advance(11 * time.Second)
	cb.Execute(func() error { return errFail })
	assert.Equal(t, StateOpen, cb.CurrentState())

	// the failed probe restarts the timeout
	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen)
}

func TestCircuitBreaker_SingleProbe(t *testing.T) {
	cb, clock := newTestBreaker(1)
	cb.Execute(func() error { return errFail })
	clock.Advance(11 * time.Second)

	err := cb.Execute(func() error {
		// a second caller while the probe is out is rejected
		assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.CurrentState())
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(3)
	cb.Execute(func() error { return errFail })
	cb.Execute(func() error { return errFail })
	cb.Execute(func() error { return nil })
	cb.Execute(func() error { return errFail })
	cb.Execute(func() error { return errFail })
	assert.Equal(t, StateClosed, cb.CurrentState())
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var transitions []State
	cb, clock := newTestBreaker(1)
	cb.OnStateChange = func(_, to State) { transitions = append(transitions, to) }

	cb.Execute(func() error { return errFail })
	require.Equal(t, []State{StateOpen}, transitions)

	clock.Advance(11 * time.Second)
	cb.Execute(func() error { return nil })
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}
