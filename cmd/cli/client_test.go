package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/blackpanther/internal/controlplane/server"
	"github.com/betbot/blackpanther/internal/domain"
	"github.com/betbot/blackpanther/internal/ports/portstest"
	"github.com/betbot/blackpanther/internal/risk"
	"github.com/betbot/blackpanther/internal/state"
	sdkhttp "github.com/betbot/blackpanther/pkg/sdk/http"
)

type fixture struct {
	client  *controlClient
	store   *state.Store
	ledger  *portstest.Ledger
	gw      *portstest.Gateway
	monitor *risk.Monitor
}

func newFixture(t *testing.T, token, clientToken string) *fixture {
	t.Helper()
	store, err := state.Open(state.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{store: store, ledger: portstest.NewLedger(), gw: portstest.NewGateway()}
	f.monitor = risk.NewMonitor(risk.Config{MaxDailyDrawdown: 0.10, MaxLatencyMs: 500, MaxBasisRisk: 0.01}, f.gw, store, portstest.NewNotifier())
	srv, err := server.New(server.Config{Mode: "PAPER", DryRun: true, Strategies: []string{"sniper"}, Token: token}, store, f.ledger, f.gw, f.monitor)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	f.client = newControlClient(ts.URL, clientToken)
	return f
}

func TestClient_StatusAndPositions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "", "")
	require.NoError(t, f.store.SetStartEquity(ctx, 10000))
	require.NoError(t, f.store.SetPosition(ctx, domain.Position{Symbol: "PEPE_USDT", Side: domain.PositionSideLong, Strategy: "sniper", Size: 500}))
	f.gw.SetBalance(domain.Balance{Total: 10250, Free: 10250})

	st, err := f.client.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.DryRun)
	assert.Equal(t, 10250.0, st.Equity)
	assert.Equal(t, 1, st.OpenPositions)

	pos, err := f.client.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.Equal(t, 500.0, pos[0].Size)

	out := renderStatus(st)
	assert.Contains(t, out, "PAPER (dry-run)")
	assert.Contains(t, out, "$10250.00")
}

func TestClient_TradesAndStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "", "")
	id, err := f.ledger.LogTrade(ctx, domain.Trade{Timestamp: time.Now(), Strategy: "sniper", Symbol: "PEPE_USDT", Side: "buy", EntryPrice: 1})
	require.NoError(t, err)
	require.NoError(t, f.ledger.UpdateTradeExit(ctx, id, 1.5, 250))

	trades, err := f.client.Trades(ctx, 5)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.NotNil(t, trades[0].PnL)
	assert.Equal(t, 250.0, *trades[0].PnL)
	assert.Contains(t, renderTrades(trades), "PEPE_USDT")

	stats, err := f.client.Stats(ctx, "sniper", 30)
	require.NoError(t, err)
	assert.Equal(t, "sniper", stats.Strategy)
}

func TestClient_KillAndReset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "t0k", "t0k")

	require.NoError(t, f.client.Kill(ctx, "cli test"))
	assert.True(t, f.monitor.Triggered())

	err := f.client.Kill(ctx, "again")
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, sdkhttp.StatusCode(err))

	require.NoError(t, f.client.Reset(ctx))
	assert.False(t, f.monitor.Triggered())
}

func TestClient_KillRejectedWithoutToken(t *testing.T) {
	f := newFixture(t, "t0k", "")
	err := f.client.Kill(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, sdkhttp.StatusCode(err))
	assert.False(t, f.monitor.Triggered())
}

func TestRun_Errors(t *testing.T) {
	f := newFixture(t, "", "")
	ctx := context.Background()
	assert.Error(t, run(ctx, f.client, "bogus", nil, time.Second))
	assert.Error(t, run(ctx, f.client, "stats", nil, time.Second))
	assert.Error(t, run(ctx, f.client, "trades", []string{"many"}, time.Second))
}

func TestWatchModel(t *testing.T) {
	f := newFixture(t, "", "")
	f.gw.SetBalance(domain.Balance{Total: 9000})
	m := newWatchModel(f.client, time.Second)
	assert.Contains(t, m.View(), "connecting")

	msg := fetchCmd(f.client)()
	next, _ := m.Update(msg)
	m = next.(watchModel)
	require.NoError(t, m.err)
	assert.Contains(t, m.View(), "$9000.00")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}
