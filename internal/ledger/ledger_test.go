package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/blackpanther/internal/domain"
)

func openTestLedger(t *testing.T, now time.Time) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	l.now = func() time.Time { return now }
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func f(v float64) *float64 { return &v }

func TestLogTradeAndUpdateExit(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	l := openTestLedger(t, now)

	id, err := l.LogTrade(ctx, domain.Trade{
		Strategy: "trendkiller", Symbol: "BTCUSDT", Side: "LONG", EntryPrice: 50000,
		Meta: map[string]any{"confidence": "HIGH"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, l.UpdateTradeExit(ctx, id, 51000, 10))
	require.ErrorIs(t, l.UpdateTradeExit(ctx, "missing", 1, 1), ErrTradeNotFound)

	trades, err := l.RecentTrades(ctx, 5)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	tr := trades[0]
	require.NotNil(t, tr.ExitPrice)
	assert.Equal(t, 51000.0, *tr.ExitPrice)
	assert.Equal(t, 10.0, *tr.PnL)
	assert.Equal(t, "HIGH", tr.Meta["confidence"])
	assert.True(t, tr.Timestamp.Equal(now))
}

func TestDailyPnLOnlyCountsToday(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	l := openTestLedger(t, now)

	_, err := l.LogTrade(ctx, domain.Trade{Strategy: "sniper", Symbol: "X_USDT", Side: "SELL",
		Timestamp: now.Add(-24 * time.Hour), PnL: f(500)})
	require.NoError(t, err)
	_, err = l.LogTrade(ctx, domain.Trade{Strategy: "sniper", Symbol: "Y_USDT", Side: "SELL",
		Timestamp: now.Add(-time.Hour), PnL: f(-20)})
	require.NoError(t, err)
	_, err = l.LogTrade(ctx, domain.Trade{Strategy: "cashcow", Symbol: "BTCUSDT", Side: "hedge",
		Timestamp: now.Add(-30 * time.Minute)})
	require.NoError(t, err)

	pnl, err := l.DailyPnL(ctx)
	require.NoError(t, err)
	assert.Equal(t, -20.0, pnl)
}

func TestStrategyStats(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	l := openTestLedger(t, now)

	empty, err := l.StrategyStats(ctx, "sniper", 30)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.TotalTrades)

	for _, p := range []float64{100, -50, 30, 0} {
		_, err := l.LogTrade(ctx, domain.Trade{Strategy: "sniper", Symbol: "A_USDT", Side: "SELL",
			Timestamp: now.Add(-time.Hour), PnL: f(p)})
		require.NoError(t, err)
	}
	_, err = l.LogTrade(ctx, domain.Trade{Strategy: "sniper", Symbol: "OLD_USDT", Side: "SELL",
		Timestamp: now.Add(-40 * 24 * time.Hour), PnL: f(1000)})
	require.NoError(t, err)

	stats, err := l.StrategyStats(ctx, "sniper", 30)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalTrades)
	assert.InDelta(t, 50.0, stats.WinRate, 1e-9)
	assert.InDelta(t, 80.0, stats.TotalPnL, 1e-9)
	assert.InDelta(t, 20.0, stats.AvgPnL, 1e-9)
}

func TestSummary(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)
	l := openTestLedger(t, day.Add(36*time.Hour))

	for i, p := range []float64{40, -15, 5} {
		_, err := l.LogTrade(ctx, domain.Trade{Strategy: "trendkiller", Symbol: "ETHUSDT", Side: "LONG",
			Timestamp: day.Add(time.Duration(i+1) * time.Hour), PnL: f(p)})
		require.NoError(t, err)
	}
	s, err := l.Summary(ctx, day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "2026-10-17", s.Date)
	assert.Equal(t, 3, s.TradeCount)
	assert.InDelta(t, 30.0, s.TotalPnL, 1e-9)
	assert.Equal(t, 40.0, s.BestTrade)
	assert.Equal(t, -15.0, s.WorstTrade)
}
