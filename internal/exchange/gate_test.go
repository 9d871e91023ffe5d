package exchange

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/blackpanther/internal/domain"
)

type gateCall struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
}

type fakeGate struct {
	mu     sync.Mutex
	calls  []gateCall
	bodies map[string]string
}

func newFakeGate(t *testing.T) (*fakeGate, *Gate) {
	f := &fakeGate{bodies: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.calls = append(f.calls, gateCall{Method: r.Method, Path: r.URL.Path, RawQuery: r.URL.RawQuery, Header: r.Header.Clone(), Body: body})
		resp, ok := f.bodies[r.Method+" "+r.URL.Path]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"label":"NOT_FOUND","message":"no route"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(resp))
	}))
	t.Cleanup(srv.Close)

	g := NewGate(GateOptions{
		BaseURL:           srv.URL + "/api/v4",
		APIKey:            testKey,
		APISecret:         testSecret,
		RequestsPerSecond: 1000,
	})
	g.now = func() time.Time { return time.Unix(1700000000, 0) }
	return f, g
}

func (f *fakeGate) set(method, path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[method+" /api/v4"+path] = body
}

func (f *fakeGate) find(method, path string) []gateCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []gateCall
	for _, c := range f.calls {
		if c.Method == method && c.Path == "/api/v4"+path {
			out = append(out, c)
		}
	}
	return out
}

func TestEvaluateLiquidity(t *testing.T) {
	deep := [][2]string{{"1.00", "1000"}}
	tests := []struct {
		name      string
		book      gateOrderBook
		tradeable bool
		reason    string
	}{
		{"empty", gateOrderBook{}, false, "Empty orderbook - no bids or asks"},
		{"wide spread", gateOrderBook{Bids: [][2]string{{"1.00", "1000"}}, Asks: [][2]string{{"1.03", "1000"}}}, false, "Spread too wide: 3.00% > 2%"},
		{"thin bids", gateOrderBook{Bids: [][2]string{{"1.00", "50"}}, Asks: [][2]string{{"1.01", "1000"}}}, false, "Bid depth too low: $50.00 < $100"},
		{"thin asks", gateOrderBook{Bids: deep, Asks: [][2]string{{"1.01", "10"}}}, false, "Ask depth too low: $10.10 < $100"},
		{"ok", gateOrderBook{Bids: deep, Asks: [][2]string{{"1.01", "1000"}}}, true, "Liquidity OK"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := evaluateLiquidity("PEPE_USDT", tt.book, 100, 2)
			if got.Tradeable != tt.tradeable || got.Reason != tt.reason {
				t.Fatalf("got=(%v,%q) want=(%v,%q)", got.Tradeable, got.Reason, tt.tradeable, tt.reason)
			}
		})
	}
}

func TestEvaluateLiquidity_TopTenLevelsOnly(t *testing.T) {
	levels := make([][2]string, 0, 20)
	for i := 0; i < 20; i++ {
		levels = append(levels, [2]string{"1", "10"})
	}
	got := evaluateLiquidity("X_USDT", gateOrderBook{Bids: levels, Asks: levels}, 100, 2)
	assert.Equal(t, 100.0, got.BidDepth)
	assert.Equal(t, 100.0, got.AskDepth)
	assert.True(t, got.Tradeable)
}

func TestGate_CheckLiquidityAndTradeablePairs(t *testing.T) {
	f, g := newFakeGate(t)
	f.set(http.MethodGet, "/spot/order_book", `{"bids":[["10","100"]],"asks":[["10.1","100"]]}`)

	liq, err := g.CheckLiquidity(context.Background(), "PEPE/USDT")
	require.NoError(t, err)
	assert.True(t, liq.Tradeable)
	assert.Equal(t, "PEPE_USDT", liq.Symbol)

	calls := f.find(http.MethodGet, "/spot/order_book")
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].RawQuery, "currency_pair=PEPE_USDT")
	assert.Contains(t, calls[0].RawQuery, "limit=20")

	pairs, err := g.TradeablePairs(context.Background(), []string{"A_USDT", "B/USDT"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A_USDT", "B_USDT"}, pairs)
}

func TestGate_CheckLiquidityFetchFailure(t *testing.T) {
	_, g := newFakeGate(t)
	liq, err := g.CheckLiquidity(context.Background(), "NOPE_USDT")
	require.Error(t, err)
	assert.False(t, liq.Tradeable)
	assert.True(t, strings.HasPrefix(liq.Reason, "Liquidity check failed"), liq.Reason)

	pairs, err := g.TradeablePairs(context.Background(), []string{"NOPE_USDT"})
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func TestGate_FetchTickersAndCandles(t *testing.T) {
	f, g := newFakeGate(t)
	f.set(http.MethodGet, "/spot/tickers", `[
		{"currency_pair":"PEPE_USDT","last":"0.0000012","base_volume":"9000000000","quote_volume":"10800","change_percentage":"3.5"},
		{"currency_pair":"BAD_USDT","last":"","base_volume":"1","quote_volume":"1","change_percentage":"0"}
	]`)
	f.set(http.MethodGet, "/spot/candlesticks", `[
		["1700000000","2000","10.5","11","9.5","10","190","true"],
		["1700086400","3000","12","12.5","10","10.5","260","false"]
	]`)

	tickers, err := g.FetchTickers(context.Background())
	require.NoError(t, err)
	require.Len(t, tickers, 1)
	assert.Equal(t, domain.Ticker{Symbol: "PEPE_USDT", Last: 0.0000012, BaseVolume: 9e9, QuoteVolume: 10800, ChangePct: 3.5}, tickers[0])

	candles, err := g.FetchOHLCV(context.Background(), "SOL/USDT", "1d", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, domain.Candle{OpenTime: time.Unix(1700000000, 0).UTC(), Open: 10, High: 11, Low: 9.5, Close: 10.5, Volume: 190}, candles[0])
	assert.Equal(t, 260.0, candles[1].Volume)
}

func TestGate_MarketBuyConvertsToQuoteAmount(t *testing.T) {
	f, g := newFakeGate(t)
	f.set(http.MethodGet, "/spot/tickers", `[{"currency_pair":"SOL_USDT","last":"50"}]`)
	f.set(http.MethodPost, "/spot/orders", `{"id":"123","status":"closed","avg_deal_price":"50.1","filled_amount":"2"}`)

	order, err := g.CreateOrder(context.Background(), domain.OrderRequest{
		Symbol: "SOL/USDT", Side: domain.SideBuy, Amount: 2, Type: domain.OrderTypeMarket, Market: domain.MarketSpot,
	})
	require.NoError(t, err)
	assert.Equal(t, "123", order.OrderID)
	assert.Equal(t, 50.1, order.FilledPrice)
	assert.Equal(t, 2.0, order.Amount)

	calls := f.find(http.MethodPost, "/spot/orders")
	require.Len(t, calls, 1)
	var body map[string]string
	require.NoError(t, json.Unmarshal(calls[0].Body, &body))
	assert.Equal(t, "100", body["amount"])
	assert.Equal(t, "market", body["type"])
	assert.Equal(t, "buy", body["side"])
	assert.Equal(t, "SOL_USDT", body["currency_pair"])

	h := calls[0].Header
	assert.Equal(t, testKey, h.Get("KEY"))
	assert.Equal(t, "1700000000", h.Get("Timestamp"))
	assert.Equal(t, signGate(testSecret, http.MethodPost, "/api/v4/spot/orders", "", calls[0].Body, 1700000000), h.Get("SIGN"))
}

func TestGate_MarketSellUsesBaseAmount(t *testing.T) {
	f, g := newFakeGate(t)
	f.set(http.MethodGet, "/spot/tickers", `[{"currency_pair":"SOL_USDT","last":"50"}]`)
	f.set(http.MethodPost, "/spot/orders", `{"id":"124","status":"closed"}`)

	order, err := g.CreateOrder(context.Background(), domain.OrderRequest{Symbol: "SOL_USDT", Side: domain.SideSell, Amount: 1.5})
	require.NoError(t, err)
	assert.Equal(t, 50.0, order.FilledPrice)

	calls := f.find(http.MethodPost, "/spot/orders")
	require.Len(t, calls, 1)
	var body map[string]string
	require.NoError(t, json.Unmarshal(calls[0].Body, &body))
	assert.Equal(t, "1.5", body["amount"])
}

func TestGate_GetBalanceSigned(t *testing.T) {
	f, g := newFakeGate(t)
	f.set(http.MethodGet, "/spot/accounts", `[{"currency":"USDT","available":"900.5","locked":"99.5"}]`)

	bal, err := g.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Balance{Total: 1000, Free: 900.5, Used: 99.5}, bal)

	calls := f.find(http.MethodGet, "/spot/accounts")
	require.Len(t, calls, 1)
	assert.Equal(t, "currency=USDT", calls[0].RawQuery)
	assert.Equal(t, signGate(testSecret, http.MethodGet, "/api/v4/spot/accounts", "currency=USDT", nil, 1700000000), calls[0].Header.Get("SIGN"))
}

func TestGate_LoadSymbolRules(t *testing.T) {
	f, g := newFakeGate(t)
	f.set(http.MethodGet, "/spot/currency_pairs", `[{"id":"PEPE_USDT","amount_precision":0,"min_base_amount":"1000","min_quote_amount":"3"}]`)
	require.NoError(t, g.LoadSymbolRules(context.Background()))

	assert.Equal(t, domain.SymbolRules{QuantityPrecision: 0, StepSize: 1, MinQty: 1000, MinNotional: 3}, g.SymbolRules("PEPE/USDT"))
	assert.Equal(t, DefaultGateRules(), g.SymbolRules("OTHER_USDT"))
}
