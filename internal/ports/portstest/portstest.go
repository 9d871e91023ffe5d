// Package portstest 提供 ports 接口的内存实现，供各包测试使用
package portstest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/betbot/blackpanther/internal/domain"
	"github.com/betbot/blackpanther/internal/ports"
)

var (
	_ ports.Gateway   = (*Gateway)(nil)
	_ ports.SpotVenue = (*SpotVenue)(nil)
	_ ports.Ledger    = (*Ledger)(nil)
	_ ports.Notifier  = (*Notifier)(nil)
	_ ports.Sentiment = (*Sentiment)(nil)
)

// ErrNoPrice 未设置价格
var ErrNoPrice = errors.New("portstest: no price")

// Gateway 可编程的交易所网关
type Gateway struct {
	mu sync.Mutex

	Balance    domain.Balance
	BalanceErr error
	Latency    float64
	PingErr    error

	perp      map[string]float64
	spot      map[string]float64
	funding   map[string]float64
	oi        map[string]float64
	candles   map[string][]domain.Candle
	rules     map[string]domain.SymbolRules
	positions []domain.ExchangePosition

	// OrderHook 返回非 nil 时下单失败
	OrderHook func(req domain.OrderRequest) error
	CloseErr  map[string]error
	CancelErr error
	// NilWhenFlat 为 true 时，没有对应持仓的 ClosePosition 返回 (nil, nil)，与真实交易所一致
	NilWhenFlat bool

	orders    []domain.OrderRequest
	closed    []string
	cancelled []string
	leverage  map[string]int
	seq       int
}

func NewGateway() *Gateway {
	return &Gateway{
		Balance:  domain.Balance{Total: 10000, Free: 10000},
		Latency:  50,
		perp:     map[string]float64{},
		spot:     map[string]float64{},
		funding:  map[string]float64{},
		oi:       map[string]float64{},
		candles:  map[string][]domain.Candle{},
		rules:    map[string]domain.SymbolRules{},
		CloseErr: map[string]error{},
		leverage: map[string]int{},
	}
}

func (g *Gateway) SetBalance(b domain.Balance) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Balance = b
}

func (g *Gateway) SetPing(ms float64, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Latency, g.PingErr = ms, err
}

func (g *Gateway) SetPerpPrice(symbol string, px float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.perp[symbol] = px
}

func (g *Gateway) SetSpotPrice(symbol string, px float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.spot[symbol] = px
}

func (g *Gateway) SetFundingRate(symbol string, r float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.funding[symbol] = r
}

func (g *Gateway) SetOpenInterest(symbol string, oi float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.oi[symbol] = oi
}

func (g *Gateway) SetCandles(symbol string, c []domain.Candle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.candles[symbol] = c
}

func (g *Gateway) SetRules(symbol string, r domain.SymbolRules) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rules[symbol] = r
}

func (g *Gateway) SetPositions(p []domain.ExchangePosition) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.positions = append([]domain.ExchangePosition(nil), p...)
}

// Orders 已提交的下单请求（含平仓）
func (g *Gateway) Orders() []domain.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.OrderRequest(nil), g.orders...)
}

// Closed 调用过 ClosePosition 的 symbol
func (g *Gateway) Closed() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.closed...)
}

// Cancelled 调用过 CancelAllOrders 的参数
func (g *Gateway) Cancelled() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.cancelled...)
}

func (g *Gateway) LeverageOf(symbol string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.leverage[symbol]
}

func (g *Gateway) GetBalance(ctx context.Context) (domain.Balance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.BalanceErr != nil {
		return domain.Balance{}, g.BalanceErr
	}
	return g.Balance, ctx.Err()
}

func (g *Gateway) lookup(m map[string]float64, symbol string) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := m[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoPrice, symbol)
	}
	return v, nil
}

func (g *Gateway) GetPerpPrice(_ context.Context, symbol string) (float64, error) {
	return g.lookup(g.perp, symbol)
}

func (g *Gateway) GetSpotPrice(_ context.Context, symbol string) (float64, error) {
	return g.lookup(g.spot, symbol)
}

func (g *Gateway) GetFundingRate(_ context.Context, symbol string) (float64, error) {
	return g.lookup(g.funding, symbol)
}

func (g *Gateway) GetOpenInterest(_ context.Context, symbol string) (float64, error) {
	return g.lookup(g.oi, symbol)
}

func (g *Gateway) FetchOHLCV(_ context.Context, symbol, _ string, limit int) ([]domain.Candle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.candles[symbol]
	if !ok {
		return nil, fmt.Errorf("portstest: no candles for %s", symbol)
	}
	if limit > 0 && len(c) > limit {
		c = c[len(c)-limit:]
	}
	return append([]domain.Candle(nil), c...), nil
}

func (g *Gateway) CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	g.mu.Lock()
	hook := g.OrderHook
	g.mu.Unlock()
	if hook != nil {
		if err := hook(req); err != nil {
			return nil, err
		}
	}

	var px float64
	if req.Market == domain.MarketSpot {
		px, _ = g.GetSpotPrice(ctx, req.Symbol)
	} else {
		px, _ = g.GetPerpPrice(ctx, req.Symbol)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders = append(g.orders, req)
	g.seq++
	return &domain.Order{
		OrderID:     fmt.Sprintf("fake-%d", g.seq),
		Symbol:      req.Symbol,
		Side:        req.Side,
		Amount:      req.Amount,
		FilledPrice: px,
		Status:      "FILLED",
		Market:      req.Market,
		CreatedAt:   time.Now(),
	}, nil
}

func (g *Gateway) ClosePosition(_ context.Context, symbol string) (*domain.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = append(g.closed, symbol)
	if err := g.CloseErr[symbol]; err != nil {
		return nil, err
	}
	remaining := g.positions[:0]
	found := false
	for _, p := range g.positions {
		if p.Symbol != symbol {
			remaining = append(remaining, p)
		} else {
			found = true
		}
	}
	g.positions = remaining
	if !found && g.NilWhenFlat {
		return nil, nil
	}
	return &domain.Order{Symbol: symbol, Status: "FILLED", Market: domain.MarketPerp}, nil
}

func (g *Gateway) CancelAllOrders(_ context.Context, symbol string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, symbol)
	return g.CancelErr
}

func (g *Gateway) SetLeverage(_ context.Context, symbol string, leverage int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.leverage[symbol] = leverage
	return nil
}

func (g *Gateway) Ping(ctx context.Context) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.PingErr != nil {
		return 0, g.PingErr
	}
	return g.Latency, ctx.Err()
}

func (g *Gateway) GetPositions(context.Context) ([]domain.ExchangePosition, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.ExchangePosition(nil), g.positions...), nil
}

func (g *Gateway) SymbolRules(symbol string) domain.SymbolRules {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.rules[symbol]; ok {
		return r
	}
	return domain.DefaultSymbolRules()
}

// SpotVenue 可编程的现货交易所
type SpotVenue struct {
	mu sync.Mutex

	Balance    domain.Balance
	TickersErr error

	tickers   []domain.Ticker
	candles   map[string][]domain.Candle
	prices    map[string]float64
	liquidity map[string]domain.Liquidity
	rules     domain.SymbolRules
	orders    []domain.OrderRequest
	OrderErr  error
}

func NewSpotVenue() *SpotVenue {
	return &SpotVenue{
		Balance:   domain.Balance{Total: 10000, Free: 10000},
		candles:   map[string][]domain.Candle{},
		prices:    map[string]float64{},
		liquidity: map[string]domain.Liquidity{},
		rules: domain.SymbolRules{
			QuantityPrecision: 6,
			StepSize:          0.000001,
			MinQty:            0.000001,
			MinNotional:       1,
		},
	}
}

func (v *SpotVenue) SetTickers(t []domain.Ticker) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tickers = append([]domain.Ticker(nil), t...)
}

func (v *SpotVenue) SetCandles(symbol string, c []domain.Candle) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.candles[symbol] = c
}

func (v *SpotVenue) SetPrice(symbol string, px float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prices[symbol] = px
}

func (v *SpotVenue) SetLiquidity(symbol string, l domain.Liquidity) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.liquidity[symbol] = l
}

func (v *SpotVenue) Orders() []domain.OrderRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]domain.OrderRequest(nil), v.orders...)
}

func (v *SpotVenue) FetchTickers(context.Context) ([]domain.Ticker, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.TickersErr != nil {
		return nil, v.TickersErr
	}
	return append([]domain.Ticker(nil), v.tickers...), nil
}

func (v *SpotVenue) FetchOHLCV(_ context.Context, symbol, _ string, limit int) ([]domain.Candle, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	c, ok := v.candles[symbol]
	if !ok {
		return nil, fmt.Errorf("portstest: no candles for %s", symbol)
	}
	if limit > 0 && len(c) > limit {
		c = c[len(c)-limit:]
	}
	return append([]domain.Candle(nil), c...), nil
}

// CheckLiquidity 未设置的交易对视为流动性充足
func (v *SpotVenue) CheckLiquidity(_ context.Context, symbol string) (domain.Liquidity, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if l, ok := v.liquidity[symbol]; ok {
		return l, nil
	}
	return domain.Liquidity{Symbol: symbol, Tradeable: true, Reason: "Liquidity OK", BidDepth: 1000, AskDepth: 1000}, nil
}

func (v *SpotVenue) TradeablePairs(ctx context.Context, candidates []string) ([]string, error) {
	out := []string{}
	for _, c := range candidates {
		if l, _ := v.CheckLiquidity(ctx, c); l.Tradeable {
			out = append(out, c)
		}
	}
	return out, nil
}

func (v *SpotVenue) CreateOrder(_ context.Context, req domain.OrderRequest) (*domain.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.OrderErr != nil {
		return nil, v.OrderErr
	}
	v.orders = append(v.orders, req)
	return &domain.Order{
		OrderID:     fmt.Sprintf("spot-%d", len(v.orders)),
		Symbol:      req.Symbol,
		Side:        req.Side,
		Amount:      req.Amount,
		FilledPrice: v.prices[req.Symbol],
		Status:      "closed",
		Market:      domain.MarketSpot,
		CreatedAt:   time.Now(),
	}, nil
}

func (v *SpotVenue) GetBalance(context.Context) (domain.Balance, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.Balance, nil
}

func (v *SpotVenue) GetPrice(_ context.Context, symbol string) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	px, ok := v.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoPrice, symbol)
	}
	return px, nil
}

func (v *SpotVenue) SymbolRules(string) domain.SymbolRules {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rules
}

// Ledger 内存账本
type Ledger struct {
	mu     sync.Mutex
	trades []domain.Trade
	seq    int
	Err    error
}

func NewLedger() *Ledger { return &Ledger{} }

func (l *Ledger) LogTrade(_ context.Context, t domain.Trade) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return "", l.Err
	}
	if t.ID == "" {
		l.seq++
		t.ID = fmt.Sprintf("trade-%d", l.seq)
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}
	l.trades = append(l.trades, t)
	return t.ID, nil
}

func (l *Ledger) UpdateTradeExit(_ context.Context, id string, exitPrice, pnl float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.trades {
		if l.trades[i].ID == id {
			ep, p := exitPrice, pnl
			l.trades[i].ExitPrice = &ep
			l.trades[i].PnL = &p
			return nil
		}
	}
	return fmt.Errorf("portstest: trade %s not found", id)
}

func (l *Ledger) DailyPnL(context.Context) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0.0
	for _, t := range l.trades {
		if t.PnL != nil {
			total += *t.PnL
		}
	}
	return total, nil
}

func (l *Ledger) StrategyStats(_ context.Context, strategy string, _ int) (domain.StrategyStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := domain.StrategyStats{Strategy: strategy}
	wins := 0
	for _, t := range l.trades {
		if t.Strategy != strategy || t.PnL == nil {
			continue
		}
		st.TotalTrades++
		st.TotalPnL += *t.PnL
		if *t.PnL > 0 {
			wins++
		}
	}
	if st.TotalTrades > 0 {
		st.WinRate = float64(wins) / float64(st.TotalTrades) * 100
		st.AvgPnL = st.TotalPnL / float64(st.TotalTrades)
	}
	return st, nil
}

func (l *Ledger) RecentTrades(_ context.Context, limit int) ([]domain.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := append([]domain.Trade(nil), l.trades...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Trades 全部记录（按写入顺序）
func (l *Ledger) Trades() []domain.Trade {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.Trade(nil), l.trades...)
}

// Notifier 记录所有告警
type Notifier struct {
	mu        sync.Mutex
	Criticals []string
	Warnings  []string
	Entries   []string // strategy:symbol:side
	Exits     []string // strategy:symbol
	Signals   []string // strategy:symbol:type
	Summaries []domain.DailySummary
	Startups  [][]string
}

func NewNotifier() *Notifier { return &Notifier{} }

func (n *Notifier) TradeEntry(_ context.Context, strategy, symbol, side string, _, _ float64, _ map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Entries = append(n.Entries, strategy+":"+symbol+":"+side)
}

func (n *Notifier) TradeExit(_ context.Context, strategy, symbol string, _, _, _, _ float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Exits = append(n.Exits, strategy+":"+symbol)
}

func (n *Notifier) Signal(_ context.Context, strategy, symbol, signalType, _ string, _ map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Signals = append(n.Signals, strategy+":"+symbol+":"+signalType)
}

func (n *Notifier) Warning(_ context.Context, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Warnings = append(n.Warnings, message)
}

func (n *Notifier) Critical(_ context.Context, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Criticals = append(n.Criticals, message)
}

func (n *Notifier) DailySummary(_ context.Context, s domain.DailySummary) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Summaries = append(n.Summaries, s)
}

func (n *Notifier) Startup(_ context.Context, _ string, strategies []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Startups = append(n.Startups, strategies)
}

// Count 线程安全地读取某类告警数量：critical / warning / entry / exit / signal
func (n *Notifier) Count(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch kind {
	case "critical":
		return len(n.Criticals)
	case "warning":
		return len(n.Warnings)
	case "entry":
		return len(n.Entries)
	case "exit":
		return len(n.Exits)
	case "signal":
		return len(n.Signals)
	}
	return 0
}

// Sentiment 固定评分的舆情服务
type Sentiment struct {
	mu     sync.Mutex
	Scores map[string]int
	Calls  []string
}

func NewSentiment() *Sentiment { return &Sentiment{Scores: map[string]int{}} }

func (s *Sentiment) CheckListingRumors(_ context.Context, symbol string) (domain.RumorReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, symbol)
	return domain.RumorReport{Symbol: symbol, Score: s.Scores[symbol], Summary: "test"}, nil
}

// CallCount 调用次数
func (s *Sentiment) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}
