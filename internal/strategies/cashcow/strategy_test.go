package cashcow

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/blackpanther/internal/domain"
	"github.com/betbot/blackpanther/internal/ports/portstest"
	"github.com/betbot/blackpanther/internal/risk"
	"github.com/betbot/blackpanther/internal/state"
	"github.com/betbot/blackpanther/internal/strategies/common"
	"github.com/betbot/blackpanther/pkg/config"
	"github.com/betbot/blackpanther/pkg/persistence"
)

const sym = "BTCUSDT"

type fixture struct {
	s        *Strategy
	gw       *portstest.Gateway
	store    *state.Store
	ledger   *portstest.Ledger
	notifier *portstest.Notifier
	ps       *persistence.MemoryService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := state.Open(state.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.Default()
	cfg.Strategies.CashCow.Watchlist = []string{sym}

	f := &fixture{
		gw:       portstest.NewGateway(),
		store:    store,
		ledger:   portstest.NewLedger(),
		notifier: portstest.NewNotifier(),
		ps:       persistence.NewMemoryService(),
	}
	monitor := risk.NewMonitor(risk.Config{MaxDailyDrawdown: 0.10, MaxLatencyMs: 500, MaxBasisRisk: 0.01}, f.gw, store, f.notifier)
	st, err := New(common.Deps{
		Config:      cfg,
		Gateway:     f.gw,
		Store:       store,
		Ledger:      f.ledger,
		Notifier:    f.notifier,
		Risk:        monitor,
		Persistence: f.ps,
	})
	require.NoError(t, err)
	f.s = st.(*Strategy)
	require.NoError(t, f.s.Validate())
	require.NoError(t, f.s.Initialize())

	f.gw.SetFundingRate(sym, 0.0005)
	f.gw.SetPerpPrice(sym, 100.2)
	f.gw.SetSpotPrice(sym, 100)
	return f
}

func TestGetSignal(t *testing.T) {
	ctx := context.Background()

	t.Run("open hedge", func(t *testing.T) {
		f := newFixture(t)
		sig, err := f.s.GetSignal(ctx, sym)
		require.NoError(t, err)
		require.NotNil(t, sig)
		assert.Equal(t, domain.ActionOpenHedge, sig.Action)
		assert.InDelta(t, 0.002, sig.Metrics["basis"], 1e-9)
		assert.InDelta(t, 54.75, sig.Metrics["expectedApy"], 1e-9)
	})

	t.Run("funding below threshold", func(t *testing.T) {
		f := newFixture(t)
		f.gw.SetFundingRate(sym, 0.00009)
		sig, err := f.s.GetSignal(ctx, sym)
		require.NoError(t, err)
		assert.Nil(t, sig)
	})

	t.Run("basis too wide for entry", func(t *testing.T) {
		f := newFixture(t)
		f.gw.SetPerpPrice(sym, 100.6)
		sig, err := f.s.GetSignal(ctx, sym)
		require.NoError(t, err)
		assert.Nil(t, sig)
	})

	t.Run("missing price", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.s.GetSignal(ctx, "ETHUSDT")
		require.Error(t, err)
	})
}

func TestCycle_OpensHedge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.s.cycle(ctx))
	f.s.Wait()

	orders := f.gw.Orders()
	require.Len(t, orders, 2)
	var perp, spot *domain.OrderRequest
	for i := range orders {
		if orders[i].Market == domain.MarketPerp {
			perp = &orders[i]
		} else {
			spot = &orders[i]
		}
	}
	require.NotNil(t, perp)
	require.NotNil(t, spot)
	assert.Equal(t, domain.SideSell, perp.Side)
	assert.Equal(t, domain.SideBuy, spot.Side)
	assert.Equal(t, perp.Amount, spot.Amount)
	assert.Equal(t, 39.92, perp.Amount)

	hedges := f.s.ActiveHedges()
	require.Len(t, hedges, 1)
	assert.Equal(t, 100.2, hedges[0].PerpEntry)
	assert.Equal(t, 100.0, hedges[0].SpotEntry)

	trades := f.ledger.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, "hedge", trades[0].Side)
	assert.Equal(t, hedges[0].TradeID, trades[0].ID)

	// 已持有对冲的交易对不重复开仓
	require.NoError(t, f.s.cycle(ctx))
	assert.Len(t, f.gw.Orders(), 2)
}

func TestOpenHedge_SpotFailureClosesPerp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gw.OrderHook = func(req domain.OrderRequest) error {
		if req.Market == domain.MarketSpot {
			return errors.New("spot rejected")
		}
		return nil
	}

	require.NoError(t, f.s.cycle(ctx))
	f.s.Wait()

	assert.Equal(t, []string{sym}, f.gw.Closed())
	assert.Empty(t, f.s.ActiveHedges())
	assert.Empty(t, f.ledger.Trades())
	assert.Zero(t, f.notifier.Count("critical"))
}

func TestOpenHedge_PerpFailureSellsSpot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gw.OrderHook = func(req domain.OrderRequest) error {
		if req.Market == domain.MarketPerp {
			return errors.New("perp rejected")
		}
		return nil
	}

	require.NoError(t, f.s.cycle(ctx))
	f.s.Wait()

	orders := f.gw.Orders()
	require.Len(t, orders, 2)
	sides := map[domain.Side]float64{}
	for _, o := range orders {
		assert.Equal(t, domain.MarketSpot, o.Market)
		sides[o.Side] = o.Amount
	}
	assert.Equal(t, sides[domain.SideBuy], sides[domain.SideSell])
	assert.Empty(t, f.gw.Closed())
	assert.Empty(t, f.s.ActiveHedges())
	assert.Empty(t, f.ledger.Trades())
}

func TestOpenHedge_StuckLegAlerts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gw.CloseErr[sym] = errors.New("reduce only rejected")
	f.gw.OrderHook = func(req domain.OrderRequest) error {
		if req.Market == domain.MarketSpot {
			return errors.New("spot rejected")
		}
		return nil
	}

	require.NoError(t, f.s.cycle(ctx))
	assert.Equal(t, 1, f.notifier.Count("critical"))
	assert.Empty(t, f.s.ActiveHedges())
}

func TestMonitor_BasisBoundary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.s.cycle(ctx))
	f.s.Wait()
	require.Len(t, f.s.ActiveHedges(), 1)

	// |basis| == 1% 仍然安全
	f.gw.SetPerpPrice(sym, 101)
	f.s.monitorActiveHedges(ctx)
	f.s.Wait()
	require.Len(t, f.s.ActiveHedges(), 1)
	assert.Empty(t, f.gw.Closed())
	basis, err := f.store.Basis(ctx, sym)
	require.NoError(t, err)
	assert.InDelta(t, 0.01, basis, 1e-12)

	f.gw.SetPerpPrice(sym, 101.01)
	f.s.monitorActiveHedges(ctx)
	f.s.Wait()

	assert.Empty(t, f.s.ActiveHedges())
	assert.Equal(t, []string{sym}, f.gw.Closed())
	assert.Equal(t, 1, f.notifier.Count("critical"))
	assert.Equal(t, 1, f.notifier.Count("exit"))

	last := f.gw.Orders()[len(f.gw.Orders())-1]
	assert.Equal(t, domain.MarketSpot, last.Market)
	assert.Equal(t, domain.SideSell, last.Side)

	trades := f.ledger.Trades()
	require.Len(t, trades, 1)
	require.NotNil(t, trades[0].PnL)
	assert.InDelta(t, (100.2-101.01)*39.92, *trades[0].PnL, 1e-9)

	held, err := f.store.HasPosition(ctx, sym)
	require.NoError(t, err)
	assert.False(t, held)
}

func TestCycle_KillSwitchSkipsScan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.SetKillSwitch(ctx, true))

	require.NoError(t, f.s.cycle(ctx))
	assert.Empty(t, f.gw.Orders())
}

// closingGate 第一次检查放行，之后一直拒绝（扫描过程中熔断被触发）
type closingGate struct{ calls atomic.Int32 }

func (g *closingGate) IsSafeToTrade(context.Context) bool { return g.calls.Add(1) == 1 }

func (g *closingGate) CheckBasisRisk(basis float64) bool { return math.Abs(basis) <= 0.01 }

func TestOpenHedge_RechecksRiskBeforeOrders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	gate := &closingGate{}
	f.s.Risk = gate

	require.NoError(t, f.s.cycle(ctx))
	f.s.Wait()

	assert.Equal(t, int32(2), gate.calls.Load())
	assert.Empty(t, f.gw.Orders())
	assert.Empty(t, f.s.ActiveHedges())
	assert.Empty(t, f.ledger.Trades())
}

func TestOpenHedge_SkipsSymbolHeldByOtherStrategy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.SetPosition(ctx, domain.Position{
		Symbol: sym, Side: domain.PositionSideLong, Strategy: config.StrategyTrendKiller, Size: 0.5,
	}))

	require.NoError(t, f.s.cycle(ctx))
	f.s.Wait()

	assert.Empty(t, f.gw.Orders())
	assert.Empty(t, f.s.ActiveHedges())
	pos, err := f.store.GetPosition(ctx, sym)
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, config.StrategyTrendKiller, pos.Strategy)
	assert.Equal(t, domain.PositionSideLong, pos.Side)
}

// restart 用同一个持久化服务构造新实例，模拟进程崩溃后重启
func (f *fixture) restart(t *testing.T) *Strategy {
	t.Helper()
	st, err := New(common.Deps{
		Config:      config.Default(),
		Gateway:     f.gw,
		Store:       f.store,
		Ledger:      f.ledger,
		Notifier:    f.notifier,
		Persistence: f.ps,
	})
	require.NoError(t, err)
	s := st.(*Strategy)
	require.NoError(t, persistence.LoadFields(s, ID, f.ps))
	require.NoError(t, s.Initialize())
	return s
}

func TestHedgePersistedOnOpenAndClose(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.s.cycle(ctx))
	f.s.Wait()
	opened := f.s.ActiveHedges()
	require.Len(t, opened, 1)

	restored := f.restart(t).ActiveHedges()
	require.Len(t, restored, 1)
	assert.Equal(t, opened[0].Symbol, restored[0].Symbol)
	assert.Equal(t, opened[0].SpotSize, restored[0].SpotSize)
	assert.Equal(t, opened[0].SpotEntry, restored[0].SpotEntry)
	assert.Equal(t, opened[0].TradeID, restored[0].TradeID)
	assert.InDelta(t, opened[0].EntryBasis, restored[0].EntryBasis, 1e-12)

	f.gw.SetPerpPrice(sym, 102)
	f.s.monitorActiveHedges(ctx)
	f.s.Wait()
	require.Empty(t, f.s.ActiveHedges())

	assert.Empty(t, f.restart(t).ActiveHedges())
}
