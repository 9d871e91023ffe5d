package risk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/blackpanther/internal/domain"
	"github.com/betbot/blackpanther/internal/ports/portstest"
	"github.com/betbot/blackpanther/internal/state"
)

type harness struct {
	m        *Monitor
	gw       *portstest.Gateway
	store    *state.Store
	notifier *portstest.Notifier
	clock    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := state.Open(state.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{
		gw:       portstest.NewGateway(),
		store:    store,
		notifier: portstest.NewNotifier(),
		clock:    time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	h.m = NewMonitor(Config{MaxDailyDrawdown: 0.10, MaxLatencyMs: 500, MaxBasisRisk: 0.01}, h.gw, store, h.notifier)
	h.m.now = func() time.Time { return h.clock }
	return h
}

func (h *harness) equity(v float64) { h.gw.SetBalance(domain.Balance{Total: v, Free: v}) }

func TestMonitor_DrawdownBoundary(t *testing.T) {
	tests := []struct {
		name    string
		current float64
		trigger bool
	}{
		{"exactly at limit", 9000, false},
		{"just past limit", 8999, true},
		{"small loss", 9500, false},
		{"profit", 11000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t)
			h.equity(10000)
			require.NoError(t, h.m.initSession(ctx))

			h.equity(tt.current)
			require.NoError(t, h.m.RunOnce(ctx))

			killed, err := h.store.KillSwitch(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.trigger, killed)
			assert.Equal(t, tt.trigger, h.m.Triggered())
			if tt.trigger {
				require.Equal(t, 1, h.notifier.Count("critical"))
				assert.Contains(t, h.notifier.Criticals[0], "DRAWDOWN LIMIT HIT: -10.01%")
			} else {
				pnl, err := h.store.DailyPnL(ctx)
				require.NoError(t, err)
				assert.InDelta(t, tt.current-10000, pnl, 1e-9)
			}
		})
	}
}

func TestMonitor_ConcurrentTriggerAlertsOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.m.TriggerShutdown(ctx, "test")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.notifier.Count("critical"))
	killed, err := h.store.KillSwitch(ctx)
	require.NoError(t, err)
	assert.True(t, killed)
	assert.Len(t, h.gw.Cancelled(), 1)
}

func TestMonitor_UnwindClosesExchangeAndTrackedPositions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.gw.SetPositions([]domain.ExchangePosition{
		{Symbol: "BTCUSDT", Side: domain.PositionSideLong, Contracts: 0.01},
		{Symbol: "ETHUSDT", Side: domain.PositionSideShort, Contracts: 1},
	})
	require.NoError(t, h.store.SetPosition(ctx, domain.Position{Symbol: "ETHUSDT", Strategy: "cashcow", Side: domain.PositionSideHedge, Size: 1}))
	require.NoError(t, h.store.SetPosition(ctx, domain.Position{Symbol: "SOLUSDT", Strategy: "trendkiller", Side: domain.PositionSideLong}))

	require.NoError(t, h.m.ManualShutdown(ctx, ""))

	assert.Equal(t, []string{""}, h.gw.Cancelled())
	assert.ElementsMatch(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, h.gw.Closed())
	require.Equal(t, 1, h.notifier.Count("critical"))
	assert.Contains(t, h.notifier.Criticals[0], "Reason: Manual trigger")
	assert.Contains(t, h.notifier.Criticals[0], "All orders cancelled.")
}

func TestMonitor_UnwindSellsSpotHoldings(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	spot := portstest.NewSpotVenue()
	h.m.UseSpotVenue(spot)
	h.gw.SetPositions([]domain.ExchangePosition{{Symbol: "ETHUSDT", Side: domain.PositionSideShort, Contracts: 2}})
	require.NoError(t, h.store.SetPosition(ctx, domain.Position{
		Symbol: "ETHUSDT", Strategy: "cashcow", Side: domain.PositionSideHedge, Size: 2,
	}))
	require.NoError(t, h.store.SetPosition(ctx, domain.Position{
		Symbol: "PEPE_USDT", Strategy: "sniper", Side: domain.PositionSideLong, Market: domain.MarketSpot, Size: 500,
	}))

	require.NoError(t, h.m.TriggerShutdown(ctx, "drawdown"))

	// 现货仓位不会被发到永续平仓接口
	assert.Equal(t, []string{"ETHUSDT"}, h.gw.Closed())

	gateOrders := spot.Orders()
	require.Len(t, gateOrders, 1)
	assert.Equal(t, domain.OrderRequest{
		Symbol: "PEPE_USDT", Side: domain.SideSell, Amount: 500, Type: domain.OrderTypeMarket, Market: domain.MarketSpot,
	}, gateOrders[0])

	binanceOrders := h.gw.Orders()
	require.Len(t, binanceOrders, 1)
	assert.Equal(t, "ETHUSDT", binanceOrders[0].Symbol)
	assert.Equal(t, domain.SideSell, binanceOrders[0].Side)
	assert.Equal(t, domain.MarketSpot, binanceOrders[0].Market)
	assert.Equal(t, 2.0, binanceOrders[0].Amount)

	require.Equal(t, 1, h.notifier.Count("critical"))
	assert.Contains(t, h.notifier.Criticals[0], "Closed: ETHUSDT perp, ETHUSDT spot, PEPE_USDT spot")
	assert.Contains(t, h.notifier.Criticals[0], "Failed: none")
}

func TestMonitor_UnwindSpotWithoutVenueFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.store.SetPosition(ctx, domain.Position{
		Symbol: "PEPE_USDT", Strategy: "sniper", Side: domain.PositionSideLong, Market: domain.MarketSpot, Size: 500,
	}))

	err := h.m.TriggerShutdown(ctx, "drawdown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no spot venue")
	assert.Empty(t, h.gw.Closed())
	assert.Contains(t, h.notifier.Criticals[0], "Failed: PEPE_USDT spot")
}

func TestMonitor_UnwindReportsOnlyClosedLegs(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.gw.NilWhenFlat = true
	h.gw.CancelErr = errors.New("maintenance")
	require.NoError(t, h.store.SetPosition(ctx, domain.Position{Symbol: "SOLUSDT", Strategy: "trendkiller", Side: domain.PositionSideLong}))

	err := h.m.TriggerShutdown(ctx, "drawdown")
	require.Error(t, err)
	assert.Equal(t, []string{"SOLUSDT"}, h.gw.Closed())
	assert.Contains(t, h.notifier.Criticals[0], "Closed: none")
	assert.Contains(t, h.notifier.Criticals[0], "Order cancellation FAILED.")
}

func TestMonitor_UnwindContinuesAfterCloseFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.gw.SetPositions([]domain.ExchangePosition{{Symbol: "BTCUSDT"}, {Symbol: "ETHUSDT"}})
	h.gw.CloseErr["BTCUSDT"] = errors.New("rejected")

	err := h.m.TriggerShutdown(ctx, "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close BTCUSDT")
	assert.ElementsMatch(t, []string{"BTCUSDT", "ETHUSDT"}, h.gw.Closed())
	assert.Equal(t, 1, h.notifier.Count("critical"))
}

func TestMonitor_UnwindIgnoresCallerCancellation(t *testing.T) {
	h := newHarness(t)
	h.gw.SetPositions([]domain.ExchangePosition{{Symbol: "BTCUSDT"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.m.TriggerShutdown(ctx, "shutdown during exit"))
	assert.Equal(t, []string{"BTCUSDT"}, h.gw.Closed())
}

func TestMonitor_IsSafeToTrade(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy", func(t *testing.T) {
		h := newHarness(t)
		assert.True(t, h.m.IsSafeToTrade(ctx))
	})
	t.Run("kill switch in store", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.store.SetKillSwitch(ctx, true))
		assert.False(t, h.m.IsSafeToTrade(ctx))
	})
	t.Run("high latency", func(t *testing.T) {
		h := newHarness(t)
		h.gw.SetPing(501, nil)
		assert.False(t, h.m.IsSafeToTrade(ctx))
	})
	t.Run("latency at limit", func(t *testing.T) {
		h := newHarness(t)
		h.gw.SetPing(500, nil)
		assert.True(t, h.m.IsSafeToTrade(ctx))
	})
	t.Run("ping error", func(t *testing.T) {
		h := newHarness(t)
		h.gw.SetPing(0, errors.New("timeout"))
		assert.False(t, h.m.IsSafeToTrade(ctx))
	})
	t.Run("triggered", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.m.TriggerShutdown(ctx, "x"))
		assert.False(t, h.m.IsSafeToTrade(ctx))
	})
}

func TestMonitor_CheckBasisRisk(t *testing.T) {
	h := newHarness(t)
	assert.True(t, h.m.CheckBasisRisk(0.01))
	assert.True(t, h.m.CheckBasisRisk(-0.01))
	assert.False(t, h.m.CheckBasisRisk(0.0101))
	assert.False(t, h.m.CheckBasisRisk(-0.02))
	assert.True(t, h.m.CheckBasisRisk(0))
}

func TestMonitor_SessionRollover(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.equity(10000)
	require.NoError(t, h.m.initSession(ctx))

	var got []string
	h.m.OnSessionRollover(func(_ context.Context, prevDay string) { got = append(got, prevDay) })

	h.clock = h.clock.Add(24 * time.Hour)
	h.equity(9200)
	require.NoError(t, h.m.RunOnce(ctx))

	assert.Equal(t, []string{"2026-03-10"}, got)
	start, err := h.store.StartEquity(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9200.0, start)
	day, err := h.store.SessionDay(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-11", day)

	// 新交易日以 9200 为基准，9000 未触发
	h.equity(9000)
	require.NoError(t, h.m.RunOnce(ctx))
	assert.False(t, h.m.Triggered())
}

func TestMonitor_RestartSameDayKeepsStartEquity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.equity(10000)
	require.NoError(t, h.m.initSession(ctx))

	restarted := NewMonitor(Config{MaxDailyDrawdown: 0.10}, h.gw, h.store, h.notifier)
	restarted.now = func() time.Time { return h.clock.Add(time.Hour) }
	h.equity(9500)
	require.NoError(t, restarted.initSession(ctx))

	start, err := h.store.StartEquity(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10000.0, start)
}

func TestMonitor_RestartRestoresKillSwitch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.store.SetKillSwitch(ctx, true))
	require.NoError(t, h.m.initSession(ctx))
	assert.True(t, h.m.Triggered())
}

func TestMonitor_ResetKillSwitch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.equity(10000)
	require.NoError(t, h.m.initSession(ctx))
	h.equity(8000)
	require.NoError(t, h.m.RunOnce(ctx))
	require.True(t, h.m.Triggered())

	require.NoError(t, h.m.ResetKillSwitch(ctx))
	assert.False(t, h.m.Triggered())
	killed, err := h.store.KillSwitch(ctx)
	require.NoError(t, err)
	assert.False(t, killed)

	start, err := h.store.StartEquity(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8000.0, start)
	assert.Equal(t, 1, h.notifier.Count("warning"))

	// 基准已重置，不会立即再次触发
	require.NoError(t, h.m.RunOnce(ctx))
	assert.False(t, h.m.Triggered())
}

func TestMonitor_StartStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.m.cfg.Interval = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.m.Start(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}
