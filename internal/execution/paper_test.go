package execution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goldscalper/internal/model"
)

type sliceStream struct {
	bars []model.PriceBar
	i    int
}

func (s *sliceStream) Next(ctx context.Context) (model.PriceBar, error) {
	if err := ctx.Err(); err != nil {
		return model.PriceBar{}, err
	}
	if s.i >= len(s.bars) {
		return model.PriceBar{}, io.EOF
	}
	b := s.bars[s.i]
	s.i++
	return b, nil
}

var t0 = time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC)

func pbar(i int, low, high, closePts int64) model.PriceBar {
	return model.PriceBar{
		Time: t0.Add(time.Duration(i) * 5 * time.Second),
		Open: closePts, High: high, Low: low, Close: closePts,
	}
}

func lots(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newPaper(t *testing.T, bars ...model.PriceBar) (*PaperGateway, model.BarStream) {
	t.Helper()
	gw := NewPaperGateway(PaperConfig{Instrument: model.XAUUSD(), SlippagePoints: 5, TicketBase: 5000}, &sliceStream{bars: bars})
	stream, err := gw.StreamBars(context.Background())
	require.NoError(t, err)
	return gw, stream
}

func longReq() OrderRequest {
	return OrderRequest{
		ClientID: "c-1", Symbol: "XAUUSD", Side: model.SideLong, LotSize: lots("0.10"),
		Price: 265000, StopLoss: 264700, TakeProfit: 266000,
	}
}

func TestPaper_SubmitFillsWithSlippage(t *testing.T) {
	ctx := context.Background()
	gw, stream := newPaper(t, pbar(0, 264950, 265050, 265000))
	_, err := stream.Next(ctx)
	require.NoError(t, err)

	fill, err := gw.SubmitOrder(ctx, longReq())
	require.NoError(t, err)
	assert.Equal(t, "5001", fill.Ticket)
	assert.Equal(t, int64(265005), fill.Price)
	assert.Equal(t, "c-1", fill.ClientID)
	assert.Equal(t, t0, fill.FilledAt)
	assert.Len(t, gw.GetFills(), 1)
}

func TestPaper_FillForClientID(t *testing.T) {
	ctx := context.Background()
	gw, stream := newPaper(t, pbar(0, 264950, 265050, 265000))
	_, err := stream.Next(ctx)
	require.NoError(t, err)

	_, found, err := gw.FillFor(ctx, "c-1")
	require.NoError(t, err)
	assert.False(t, found)

	want, err := gw.SubmitOrder(ctx, longReq())
	require.NoError(t, err)
	got, found, err := gw.FillFor(ctx, "c-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want, got)
}

func TestPaper_RejectsInvalidStops(t *testing.T) {
	gw, _ := newPaper(t)
	req := longReq()
	req.StopLoss = 265100
	_, err := gw.SubmitOrder(context.Background(), req)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Zero(t, gw.OpenTickets())
}

func TestPaper_CancelledContext(t *testing.T) {
	gw, _ := newPaper(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := gw.SubmitOrder(ctx, longReq())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPaper_StopLossHitEmitsClosure(t *testing.T) {
	ctx := context.Background()
	gw, stream := newPaper(t,
		pbar(0, 264950, 265050, 265000),
		pbar(1, 264650, 264990, 264700),
	)
	_, _ = stream.Next(ctx)
	fill, err := gw.SubmitOrder(ctx, longReq())
	require.NoError(t, err)

	_, err = stream.Next(ctx)
	require.NoError(t, err)

	select {
	case tr := <-gw.Closures():
		assert.Equal(t, fill.Ticket, tr.Ticket)
		assert.Equal(t, model.CloseStopLoss, tr.CloseReason)
		assert.Equal(t, int64(264700), tr.ExitPrice)
		// 305 points against on 0.10 lots of 100 oz: -30.50
		assert.True(t, tr.PnL.Equal(decimal.RequireFromString("-30.5")), tr.PnL.String())
	default:
		t.Fatal("expected a closure")
	}
	assert.Zero(t, gw.OpenTickets())
}

func TestPaper_TakeProfitShort(t *testing.T) {
	ctx := context.Background()
	gw, stream := newPaper(t,
		pbar(0, 264950, 265050, 265000),
		pbar(1, 264400, 264900, 264500),
	)
	_, _ = stream.Next(ctx)
	req := longReq()
	req.Side, req.StopLoss, req.TakeProfit = model.SideShort, 265300, 264500
	_, err := gw.SubmitOrder(ctx, req)
	require.NoError(t, err)

	_, _ = stream.Next(ctx)
	tr := <-gw.Closures()
	assert.Equal(t, model.CloseTakeProfit, tr.CloseReason)
	// Entry 264995 (slipped), exit 264500: 495 points on 0.10 lots.
	assert.True(t, tr.PnL.Equal(decimal.RequireFromString("49.5")), tr.PnL.String())
}

func TestPaper_PartialCloseThenClose(t *testing.T) {
	ctx := context.Background()
	gw, stream := newPaper(t,
		pbar(0, 264950, 265050, 265000),
		pbar(1, 265150, 265250, 265205),
		pbar(2, 265300, 265410, 265405),
	)
	_, _ = stream.Next(ctx)
	fill, err := gw.SubmitOrder(ctx, longReq())
	require.NoError(t, err)

	_, _ = stream.Next(ctx)
	ack, err := gw.ModifyOrder(ctx, fill.Ticket, Modification{CloseFraction: lots("0.5")})
	require.NoError(t, err)
	assert.True(t, ack.ClosedLots.Equal(lots("0.05")))
	assert.True(t, ack.RemainingLots.Equal(lots("0.05")))
	// exit 265200 - entry 265005 = 195 points on 0.05 lots = 9.75
	assert.True(t, ack.RealizedPnL.Equal(decimal.RequireFromString("9.75")), ack.RealizedPnL.String())

	_, err = gw.ModifyOrder(ctx, fill.Ticket, Modification{StopLoss: fill.Price})
	require.NoError(t, err)

	_, _ = stream.Next(ctx)
	tr, err := gw.CloseOrder(ctx, fill.Ticket)
	require.NoError(t, err)
	// 9.75 + (265400-265005)=395 points on 0.05 lots = 19.75 → 29.50
	assert.True(t, tr.PnL.Equal(decimal.RequireFromString("29.5")), tr.PnL.String())
	assert.True(t, tr.LotSize.Equal(lots("0.05")))

	_, err = gw.CloseOrder(ctx, fill.Ticket)
	assert.ErrorIs(t, err, ErrUnknownTicket)
}

func TestPaper_PartialCloseOfMinimumLotRejected(t *testing.T) {
	ctx := context.Background()
	gw, _ := newPaper(t)
	req := longReq()
	req.LotSize = lots("0.01")
	fill, err := gw.SubmitOrder(ctx, req)
	require.NoError(t, err)

	_, err = gw.ModifyOrder(ctx, fill.Ticket, Modification{CloseFraction: lots("0.5")})
	assert.ErrorIs(t, err, ErrRejected)
}

func TestPaper_StreamTakenOnce(t *testing.T) {
	gw, _ := newPaper(t)
	_, err := gw.StreamBars(context.Background())
	assert.Error(t, err)
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap("submit", "", "c", nil))

	err := Wrap("close", "42", "", context.DeadlineExceeded)
	var ge *GatewayError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, "close", ge.Op)
	assert.Equal(t, "42", ge.Ticket)
	assert.True(t, IsTimeout(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Contains(t, err.Error(), "ticket=42")

	err = Wrap("submit", "", "c-9", fmt.Errorf("%w: margin", ErrRejected))
	assert.False(t, IsTimeout(err))
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "client_id=c-9")

	assert.Same(t, err, Wrap("other", "", "", err))
}
