package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"goldscalper/internal/execution"
	"goldscalper/internal/model"
)

// mockGateway is a testify mock of execution.Gateway.
type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) SubmitOrder(ctx context.Context, req execution.OrderRequest) (execution.Fill, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(execution.Fill), args.Error(1)
}

func (m *mockGateway) ModifyOrder(ctx context.Context, ticket string, mod execution.Modification) (execution.Ack, error) {
	args := m.Called(ctx, ticket, mod)
	return args.Get(0).(execution.Ack), args.Error(1)
}

func (m *mockGateway) CloseOrder(ctx context.Context, ticket string) (model.ClosedTrade, error) {
	args := m.Called(ctx, ticket)
	return args.Get(0).(model.ClosedTrade), args.Error(1)
}

func (m *mockGateway) StreamBars(ctx context.Context) (model.BarStream, error) {
	args := m.Called(ctx)
	s, _ := args.Get(0).(model.BarStream)
	return s, args.Error(1)
}

func enterLong() model.Decision {
	return model.Decision{
		Kind: model.DecisionEnterLong, Side: model.SideLong,
		Entry: 265000, StopLoss: 264700, TakeProfit: 266000,
		LotSize: decimal.RequireFromString("0.10"), Reason: "test",
	}
}

func paperTracker(maxOpen int) (*Tracker, *execution.PaperGateway) {
	gw := execution.NewPaperGateway(execution.PaperConfig{TicketBase: 9000}, nil)
	return NewTracker(gw, NewStats("s1", sessionStart), TrackerConfig{MaxConcurrentPositions: maxOpen}), gw
}

func TestTracker_OpenPromotesToOpen(t *testing.T) {
	tr, _ := paperTracker(3)
	pos, err := tr.Open(context.Background(), enterLong())
	require.NoError(t, err)

	assert.Equal(t, model.StateOpen, pos.State)
	assert.Equal(t, "9001", pos.Ticket)
	assert.NotEmpty(t, pos.OrderID)
	assert.Equal(t, int64(265000), pos.EntryPrice)
	assert.Equal(t, 1, tr.Stats().Opened)

	got, ok := tr.Position("9001")
	require.True(t, ok)
	assert.Equal(t, pos, got)
}

func TestTracker_RejectsWrongSideLevels(t *testing.T) {
	tr, _ := paperTracker(3)
	d := enterLong()
	d.TakeProfit = 264000
	_, err := tr.Open(context.Background(), d)
	assert.ErrorIs(t, err, ErrInvalidLevels)
	assert.Zero(t, tr.Count())

	_, err = tr.Open(context.Background(), model.Hold())
	assert.Error(t, err)
}

func TestTracker_CapacityExceeded(t *testing.T) {
	tr, _ := paperTracker(2)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := tr.Open(ctx, enterLong())
		require.NoError(t, err)
	}
	_, err := tr.Open(ctx, enterLong())
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, 2, tr.Count())
	assert.Equal(t, 2, tr.Stats().Opened)
}

func TestTracker_CapHoldsUnderConcurrentOpens(t *testing.T) {
	tr, gw := paperTracker(3)
	var wg sync.WaitGroup
	var mu sync.Mutex
	capErrs := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tr.Open(context.Background(), enterLong())
			if errors.Is(err, ErrCapacityExceeded) {
				mu.Lock()
				capErrs++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, tr.Count())
	assert.Equal(t, 17, capErrs)
	assert.Equal(t, 3, gw.OpenTickets())
}

func TestTracker_TimeoutLeavesPending(t *testing.T) {
	gw := &mockGateway{}
	gw.On("SubmitOrder", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { <-args.Get(0).(context.Context).Done() }).
		Return(execution.Fill{}, context.DeadlineExceeded).Once()

	tr := NewTracker(gw, NewStats("s1", sessionStart), TrackerConfig{MaxConcurrentPositions: 1, CallTimeout: 20 * time.Millisecond})
	pos, err := tr.Open(context.Background(), enterLong())
	require.Error(t, err)
	assert.True(t, execution.IsTimeout(err))

	var ge *execution.GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "submit", ge.Op)
	assert.Equal(t, pos.OrderID, ge.ClientID)

	assert.Equal(t, model.StatePending, pos.State)
	assert.Equal(t, 1, tr.Count(), "pending counts toward the cap")
	_, err = tr.Open(context.Background(), enterLong())
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	views := tr.Views()
	require.Len(t, views, 1)
	assert.False(t, views[0].InFlight)

	filled, err := tr.ConfirmFill(pos.OrderID, execution.Fill{Ticket: "77", Price: 265010, FilledAt: sessionStart})
	require.NoError(t, err)
	assert.Equal(t, model.StateOpen, filled.State)
	assert.Equal(t, int64(265010), filled.EntryPrice)
	assert.Equal(t, 1, tr.Stats().Opened)
	gw.AssertExpectations(t)
}

func TestTracker_AbandonPending(t *testing.T) {
	gw := &mockGateway{}
	gw.On("SubmitOrder", mock.Anything, mock.Anything).Return(execution.Fill{}, execution.ErrGatewayTimeout).Once()
	tr := NewTracker(gw, NewStats("s1", sessionStart), TrackerConfig{MaxConcurrentPositions: 1})

	pos, err := tr.Open(context.Background(), enterLong())
	require.True(t, execution.IsTimeout(err))
	require.NoError(t, tr.Abandon(pos.OrderID))
	assert.Zero(t, tr.Count())
	assert.ErrorIs(t, tr.Abandon(pos.OrderID), ErrUnknownPosition)
}

func TestTracker_DefiniteErrorDiscardsPending(t *testing.T) {
	gw := &mockGateway{}
	gw.On("SubmitOrder", mock.Anything, mock.Anything).
		Return(execution.Fill{}, fmt.Errorf("%w: no money", execution.ErrRejected)).Once()
	tr := NewTracker(gw, NewStats("s1", sessionStart), TrackerConfig{MaxConcurrentPositions: 1})

	_, err := tr.Open(context.Background(), enterLong())
	assert.ErrorIs(t, err, execution.ErrRejected)
	assert.False(t, execution.IsTimeout(err))
	assert.Zero(t, tr.Count())
	assert.Zero(t, tr.Stats().Opened)
}

func TestTracker_InFlightRejectsSecondMutation(t *testing.T) {
	gw := &mockGateway{}
	gw.On("SubmitOrder", mock.Anything, mock.Anything).
		Return(execution.Fill{Ticket: "501", Price: 265000, FilledAt: sessionStart}, nil).Once()

	started := make(chan struct{})
	release := make(chan struct{})
	gw.On("CloseOrder", mock.Anything, "501").
		Run(func(mock.Arguments) { close(started); <-release }).
		Return(model.ClosedTrade{Ticket: "501", PnL: decimal.RequireFromString("-3.00"), ClosedAt: sessionStart.Add(time.Minute)}, nil).Once()

	tr := NewTracker(gw, NewStats("s1", sessionStart), TrackerConfig{MaxConcurrentPositions: 2})
	_, err := tr.Open(context.Background(), enterLong())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := tr.Close(context.Background(), "501", model.CloseSignal)
		done <- err
	}()
	<-started

	_, err = tr.PromoteBreakEven(context.Background(), "501")
	assert.ErrorIs(t, err, ErrInFlight)
	_, err = tr.PartialClose(context.Background(), "501", decimal.RequireFromString("0.5"))
	assert.ErrorIs(t, err, ErrInFlight)
	assert.True(t, tr.Views()[0].InFlight)

	close(release)
	require.NoError(t, <-done)

	st := tr.Stats()
	assert.Equal(t, 1, st.Closed)
	assert.Equal(t, 1, st.Losses)
	_, _, lastLoss := tr.Activity()
	assert.Equal(t, sessionStart.Add(time.Minute), lastLoss)
	gw.AssertExpectations(t)
}

func TestTracker_BreakEvenOnce(t *testing.T) {
	tr, _ := paperTracker(3)
	ctx := context.Background()
	pos, err := tr.Open(ctx, enterLong())
	require.NoError(t, err)

	moved, err := tr.PromoteBreakEven(ctx, pos.Ticket)
	require.NoError(t, err)
	assert.Equal(t, int64(265000), moved.StopLoss)
	assert.True(t, moved.BreakEvenApplied)
	assert.Equal(t, model.StateOpen, moved.State)

	_, err = tr.PromoteBreakEven(ctx, pos.Ticket)
	assert.ErrorIs(t, err, ErrAlreadyApplied)

	got, _ := tr.Position(pos.Ticket)
	assert.Equal(t, int64(265000), got.StopLoss)
}

func TestTracker_PartialCloseOnce(t *testing.T) {
	tr, _ := paperTracker(3)
	ctx := context.Background()
	pos, err := tr.Open(ctx, enterLong())
	require.NoError(t, err)

	ack, err := tr.PartialClose(ctx, pos.Ticket, decimal.RequireFromString("0.5"))
	require.NoError(t, err)
	assert.True(t, ack.ClosedLots.Equal(decimal.RequireFromString("0.05")))

	got, _ := tr.Position(pos.Ticket)
	assert.Equal(t, model.StatePartiallyClosed, got.State)
	assert.True(t, got.LotSize.Equal(decimal.RequireFromString("0.05")))

	_, err = tr.PartialClose(ctx, pos.Ticket, decimal.RequireFromString("0.5"))
	assert.ErrorIs(t, err, ErrAlreadyApplied)
}

func TestTracker_GatewayErrorsCarryContext(t *testing.T) {
	gw := &mockGateway{}
	gw.On("SubmitOrder", mock.Anything, mock.Anything).
		Return(execution.Fill{Ticket: "601", Price: 265000, FilledAt: sessionStart}, nil).Once()
	gw.On("ModifyOrder", mock.Anything, "601", mock.Anything).
		Return(execution.Ack{}, errors.New("broker down")).Once()

	tr := NewTracker(gw, NewStats("s1", sessionStart), TrackerConfig{MaxConcurrentPositions: 1})
	_, err := tr.Open(context.Background(), enterLong())
	require.NoError(t, err)

	_, err = tr.PromoteBreakEven(context.Background(), "601")
	var ge *execution.GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "modify", ge.Op)
	assert.Equal(t, "601", ge.Ticket)

	got, _ := tr.Position("601")
	assert.False(t, got.BreakEvenApplied, "failed modify leaves the position unchanged")
	assert.False(t, tr.Views()[0].InFlight)
}

func TestTracker_GatewayCloseUnknownTicketIgnored(t *testing.T) {
	tr, _ := paperTracker(3)
	assert.False(t, tr.HandleGatewayClose(trade("nope", "10")))
	assert.Zero(t, tr.Stats().Closed)
}

func TestTracker_GatewayCloseThenDuplicate(t *testing.T) {
	tr, _ := paperTracker(3)
	pos, err := tr.Open(context.Background(), enterLong())
	require.NoError(t, err)

	tc := trade(pos.Ticket, "15.50")
	tc.CloseReason = model.CloseTakeProfit
	assert.True(t, tr.HandleGatewayClose(tc))
	assert.False(t, tr.HandleGatewayClose(tc))

	st := tr.Stats()
	assert.Equal(t, 1, st.Closed)
	assert.True(t, st.TotalPnL.Equal(decimal.RequireFromString("15.50")))
	assert.Zero(t, tr.Count())

	_, err = tr.Close(context.Background(), pos.Ticket, model.CloseSignal)
	assert.ErrorIs(t, err, ErrUnknownPosition)
}

func TestTracker_TicketNeverReused(t *testing.T) {
	gw := &mockGateway{}
	fill := execution.Fill{Ticket: "700", Price: 265000, FilledAt: sessionStart}
	gw.On("SubmitOrder", mock.Anything, mock.Anything).Return(fill, nil).Twice()

	tr := NewTracker(gw, NewStats("s1", sessionStart), TrackerConfig{MaxConcurrentPositions: 3})
	_, err := tr.Open(context.Background(), enterLong())
	require.NoError(t, err)
	require.True(t, tr.HandleGatewayClose(trade("700", "1")))

	_, err = tr.Open(context.Background(), enterLong())
	assert.ErrorIs(t, err, ErrTicketReused)
}

func TestTracker_SnapshotRestore(t *testing.T) {
	tr, _ := paperTracker(3)
	ctx := context.Background()
	a, err := tr.Open(ctx, enterLong())
	require.NoError(t, err)
	b, err := tr.Open(ctx, enterLong())
	require.NoError(t, err)
	_, err = tr.PromoteBreakEven(ctx, a.Ticket)
	require.NoError(t, err)
	require.True(t, tr.HandleGatewayClose(trade(b.Ticket, "-4.00")))

	snap := tr.Snapshot()
	require.Len(t, snap.Positions, 1)
	assert.True(t, snap.Positions[0].BreakEvenApplied)
	assert.Equal(t, []string{b.Ticket}, snap.ClosedTickets)

	restored, _ := paperTracker(3)
	require.NoError(t, restored.Restore(snap))
	assert.Equal(t, snap, restored.Snapshot())
	assert.False(t, restored.HandleGatewayClose(trade(b.Ticket, "-4.00")), "closed ticket stays closed")
	assert.Equal(t, 1, restored.Count())
}

func TestTracker_RestoreRejectsOverCap(t *testing.T) {
	tr, _ := paperTracker(1)
	st := State{Positions: []model.Position{
		{OrderID: "a", Ticket: "1", Side: model.SideLong, EntryPrice: 1, State: model.StateOpen},
		{OrderID: "b", Ticket: "2", Side: model.SideLong, EntryPrice: 1, State: model.StateOpen},
	}}
	assert.ErrorIs(t, tr.Restore(st), ErrCapacityExceeded)
}

func TestTracker_RestoreIgnoresClosedForCap(t *testing.T) {
	tr, _ := paperTracker(1)
	st := State{Positions: []model.Position{
		{OrderID: "a", Ticket: "1", Side: model.SideLong, EntryPrice: 1, State: model.StateClosed},
		{OrderID: "b", Ticket: "2", Side: model.SideLong, EntryPrice: 1, State: model.StateOpen},
	}}
	require.NoError(t, tr.Restore(st))
	assert.Equal(t, 1, tr.Count())
	_, ok := tr.Position("1")
	assert.False(t, ok)
}

func TestTracker_TrailStopTightensOnly(t *testing.T) {
	tr, _ := paperTracker(3)
	ctx := context.Background()
	pos, err := tr.Open(ctx, enterLong())
	require.NoError(t, err)

	moved, err := tr.TrailStop(ctx, pos.Ticket, 264900)
	require.NoError(t, err)
	assert.Equal(t, int64(264900), moved.StopLoss)
	assert.False(t, moved.BreakEvenApplied)

	_, err = tr.TrailStop(ctx, pos.Ticket, 264800)
	assert.ErrorIs(t, err, ErrAlreadyApplied)

	_, err = tr.TrailStop(ctx, pos.Ticket, pos.EntryPrice+50)
	assert.ErrorIs(t, err, ErrInvalidLevels)

	moved, err = tr.TrailStop(ctx, pos.Ticket, pos.EntryPrice)
	require.NoError(t, err)
	assert.True(t, moved.BreakEvenApplied)
	assert.False(t, tr.Views()[0].InFlight)
}

func TestTracker_PendingListsTimedOutOrders(t *testing.T) {
	gw := &mockGateway{}
	gw.On("SubmitOrder", mock.Anything, mock.Anything).Return(execution.Fill{}, execution.ErrGatewayTimeout).Once()
	tr := NewTracker(gw, NewStats("s1", sessionStart), TrackerConfig{
		MaxConcurrentPositions: 2,
		Clock:                  func() time.Time { return sessionStart },
	})

	pos, err := tr.Open(context.Background(), enterLong())
	require.True(t, execution.IsTimeout(err))

	pending := tr.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, pos.OrderID, pending[0].OrderID)
	assert.Equal(t, sessionStart, pending[0].Since)

	require.NoError(t, tr.Abandon(pos.OrderID))
	assert.Empty(t, tr.Pending())
}
