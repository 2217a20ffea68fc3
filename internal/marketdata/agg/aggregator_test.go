package agg

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goldscalper/internal/model"
)

var base = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func tick(offset time.Duration, bid, ask int64) model.Tick {
	return model.Tick{Symbol: "XAUUSD", Bid: bid, Ask: ask, Time: base.Add(offset)}
}

func TestAdd_BuildsBarFromMidpoints(t *testing.T) {
	a := New(5 * time.Second)

	for _, tk := range []model.Tick{
		tick(0, 200000, 200020),                     // mid 200010
		tick(1*time.Second, 200040, 200060),         // mid 200050
		tick(2*time.Second, 199980, 200000),         // mid 199990
		tick(4900*time.Millisecond, 200020, 200050), // mid 200035
	} {
		_, done := a.Add(tk)
		require.False(t, done)
	}

	bar, done := a.Add(tick(5*time.Second, 200100, 200120))
	require.True(t, done)
	assert.Equal(t, base, bar.Time)
	assert.Equal(t, int64(200010), bar.Open)
	assert.Equal(t, int64(200050), bar.High)
	assert.Equal(t, int64(199990), bar.Low)
	assert.Equal(t, int64(200035), bar.Close)
	assert.Equal(t, 30.0, bar.SpreadPoints)
	assert.Equal(t, 4, bar.TickCount)
	assert.True(t, bar.Valid())
}

func TestAdd_BucketsAlignToEpoch(t *testing.T) {
	a := New(5 * time.Second)
	a.Add(tick(7*time.Second, 200000, 200010))
	bars := a.Flush()
	require.Len(t, bars, 1)
	assert.Equal(t, base.Add(5*time.Second), bars[0].Time)
}

func TestAdd_DropsLateAndCrossedTicks(t *testing.T) {
	a := New(5 * time.Second)
	drops := 0
	a.OnDroppedTick = func() { drops++ }

	a.Add(tick(10*time.Second, 200000, 200010))
	_, done := a.Add(tick(2*time.Second, 200000, 200010))
	assert.False(t, done)
	a.Add(tick(11*time.Second, 200010, 200000))
	a.Add(tick(11*time.Second, 0, 10))
	assert.Equal(t, 3, drops)

	bars := a.Flush()
	require.Len(t, bars, 1)
	assert.Equal(t, 1, bars[0].TickCount)
}

func TestFlushBefore_UsesIntervalEnd(t *testing.T) {
	a := New(5 * time.Second)
	a.Add(tick(0, 200000, 200010))

	assert.Empty(t, a.flushBefore(base.Add(4*time.Second)))
	bars := a.flushBefore(base.Add(5 * time.Second))
	require.Len(t, bars, 1)
	assert.Empty(t, a.Flush())
}

func TestRun_EmitsOnRolloverAndClose(t *testing.T) {
	a := New(5 * time.Second)
	a.now = func() time.Time { return base }
	tickCh := make(chan model.Tick, 10)
	barCh := make(chan model.PriceBar, 10)

	tickCh <- tick(0, 200000, 200010)
	tickCh <- tick(6*time.Second, 200100, 200110)
	close(tickCh)

	done := make(chan struct{})
	go func() {
		a.Run(context.Background(), tickCh, barCh)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after tick channel closed")
	}

	require.Len(t, barCh, 2)
	first, second := <-barCh, <-barCh
	assert.Equal(t, base, first.Time)
	assert.Equal(t, base.Add(5*time.Second), second.Time)
}

func TestRun_FlushesOpenBarOnCancel(t *testing.T) {
	a := New(time.Minute)
	a.now = func() time.Time { return base }
	tickCh := make(chan model.Tick, 1)
	barCh := make(chan model.PriceBar, 1)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		a.Run(ctx, tickCh, barCh)
		close(done)
	}()
	tickCh <- tick(0, 200000, 200010)
	require.Eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return len(a.states) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	require.Len(t, barCh, 1)
	assert.Equal(t, int64(200005), (<-barCh).Close)
}
