package execution

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goldscalper/internal/model"
)

func TestJournal_RecordIsIdempotent(t *testing.T) {
	ctx := context.Background()
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	tr := model.ClosedTrade{
		Ticket: "5001", Side: model.SideLong, EntryPrice: 265000, ExitPrice: 265155,
		LotSize: decimal.RequireFromString("0.10"), PnL: decimal.RequireFromString("15.50"),
		OpenedAt: t0, ClosedAt: t0.Add(time.Minute), CloseReason: model.CloseTakeProfit,
	}
	require.NoError(t, j.RecordTrade(ctx, "s1", tr))
	require.NoError(t, j.RecordTrade(ctx, "s1", tr))
	require.NoError(t, j.RecordTrade(ctx, "s2", tr))

	got, err := j.Trades(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "5001", got[0].Ticket)
	assert.True(t, got[0].PnL.Equal(tr.PnL))
	assert.True(t, got[0].LotSize.Equal(tr.LotSize))
	assert.True(t, got[0].ClosedAt.Equal(tr.ClosedAt))
	assert.Equal(t, model.SideLong, got[0].Side)
}
