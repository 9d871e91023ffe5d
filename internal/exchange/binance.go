package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/blackpanther/internal/domain"
	"github.com/betbot/blackpanther/internal/ports"
	"github.com/betbot/blackpanther/pkg/ratelimit"
	sdkhttp "github.com/betbot/blackpanther/pkg/sdk/http"
)

var log = logrus.WithField("component", "exchange")

const venueBinance = "binance"

// 限流分组
const (
	limitMarket = "market"
	limitOrder  = "order"
)

// BinanceOptions Binance 网关配置
type BinanceOptions struct {
	BaseURL           string // 永续 REST，例如 https://testnet.binancefuture.com
	SpotBaseURL       string // 现货 REST，例如 https://testnet.binance.vision
	APIKey            string
	APISecret         string
	RecvWindow        int64
	RequestsPerSecond int
	Timeout           time.Duration
	// Marks 可选的 mark price 推送缓存，命中时不走 REST
	Marks MarkSource
}

// Binance 永续 + 现货网关，实现 ports.Gateway
type Binance struct {
	futures *sdkhttp.Client
	spot    *sdkhttp.Client

	apiKey     string
	apiSecret  string
	recvWindow int64

	limits *ratelimit.Manager
	marks  MarkSource

	mu    sync.RWMutex
	rules map[string]domain.SymbolRules

	now func() time.Time
}

var _ ports.Gateway = (*Binance)(nil)

// NewBinance 创建网关；交易规则需调用 LoadSymbolRules 加载，未加载时使用默认规则
func NewBinance(opts BinanceOptions) *Binance {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.RecvWindow <= 0 {
		opts.RecvWindow = 5000
	}
	if opts.SpotBaseURL == "" {
		opts.SpotBaseURL = opts.BaseURL
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 20
	}

	limits := ratelimit.NewManager(ratelimit.NewTokenBucket(rps, float64(rps)))
	limits.Register(limitOrder, ratelimit.NewTokenBucket(max(rps/2, 1), float64(max(rps/2, 1))))

	return &Binance{
		futures:    sdkhttp.NewClient(opts.BaseURL, sdkhttp.WithTimeout(opts.Timeout)),
		spot:       sdkhttp.NewClient(opts.SpotBaseURL, sdkhttp.WithTimeout(opts.Timeout)),
		apiKey:     opts.APIKey,
		apiSecret:  opts.APISecret,
		recvWindow: opts.RecvWindow,
		limits:     limits,
		marks:      opts.Marks,
		rules:      make(map[string]domain.SymbolRules),
		now:        time.Now,
	}
}

func (b *Binance) public(ctx context.Context, c *sdkhttp.Client, op, endpoint string, params map[string]any, out any) error {
	if err := b.limits.Wait(ctx, limitMarket); err != nil {
		return err
	}
	_, err := c.DoRequest(ctx, http.MethodGet, endpoint, &sdkhttp.RequestOptions{Params: params}, out)
	return wrapErr(venueBinance, op, err)
}

func (b *Binance) signed(ctx context.Context, c *sdkhttp.Client, op, method, endpoint string, q url.Values, out any) error {
	group := limitMarket
	if method != http.MethodGet {
		group = limitOrder
	}
	if err := b.limits.Wait(ctx, group); err != nil {
		return err
	}
	if q == nil {
		q = url.Values{}
	}
	raw := signBinance(b.apiSecret, q, b.now(), b.recvWindow)
	_, err := c.DoRequest(ctx, method, endpoint, &sdkhttp.RequestOptions{
		Headers:  map[string]string{"X-MBX-APIKEY": b.apiKey},
		RawQuery: raw,
	}, out)
	return wrapErr(venueBinance, op, err)
}

// LoadSymbolRules 从 /fapi/v1/exchangeInfo 加载 LOT_SIZE / MIN_NOTIONAL
func (b *Binance) LoadSymbolRules(ctx context.Context) error {
	var resp struct {
		Symbols []struct {
			Symbol            string `json:"symbol"`
			QuantityPrecision int32  `json:"quantityPrecision"`
			Filters           []struct {
				FilterType string `json:"filterType"`
				StepSize   string `json:"stepSize"`
				MinQty     string `json:"minQty"`
				Notional   string `json:"notional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := b.public(ctx, b.futures, "exchangeInfo", "/fapi/v1/exchangeInfo", nil, &resp); err != nil {
		return err
	}

	rules := make(map[string]domain.SymbolRules, len(resp.Symbols))
	for _, s := range resp.Symbols {
		r := domain.DefaultSymbolRules()
		r.QuantityPrecision = s.QuantityPrecision
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				if v, ok := parseFloat(f.StepSize); ok && v > 0 {
					r.StepSize = v
				}
				if v, ok := parseFloat(f.MinQty); ok && v > 0 {
					r.MinQty = v
				}
			case "MIN_NOTIONAL":
				if v, ok := parseFloat(f.Notional); ok && v > 0 {
					r.MinNotional = v
				}
			}
		}
		rules[s.Symbol] = r
	}

	b.mu.Lock()
	b.rules = rules
	b.mu.Unlock()
	log.Debugf("加载交易规则: %d 个合约", len(rules))
	return nil
}

// SymbolRules 未知合约返回默认规则
func (b *Binance) SymbolRules(symbol string) domain.SymbolRules {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if r, ok := b.rules[ToBinanceSymbol(symbol)]; ok {
		return r
	}
	return domain.DefaultSymbolRules()
}

// GetBalance 永续账户 USDT 余额
func (b *Binance) GetBalance(ctx context.Context) (domain.Balance, error) {
	var rows []struct {
		Asset            string `json:"asset"`
		Balance          string `json:"balance"`
		AvailableBalance string `json:"availableBalance"`
	}
	if err := b.signed(ctx, b.futures, "balance", http.MethodGet, "/fapi/v2/balance", nil, &rows); err != nil {
		return domain.Balance{}, err
	}
	for _, r := range rows {
		if r.Asset != "USDT" {
			continue
		}
		total, ok1 := parseFloat(r.Balance)
		free, ok2 := parseFloat(r.AvailableBalance)
		if !ok1 || !ok2 {
			return domain.Balance{}, &APIError{Venue: venueBinance, Op: "balance", Err: fmt.Errorf("malformed balance %q/%q", r.Balance, r.AvailableBalance)}
		}
		return domain.Balance{Total: total, Free: free, Used: total - free}, nil
	}
	return domain.Balance{}, nil
}

// GetPerpPrice 优先使用推送的 mark price
func (b *Binance) GetPerpPrice(ctx context.Context, symbol string) (float64, error) {
	sym := ToBinanceSymbol(symbol)
	if b.marks != nil {
		if m, ok := b.marks.Mark(sym); ok && m.Price > 0 {
			return m.Price, nil
		}
	}
	return b.tickerPrice(ctx, b.futures, "perpPrice", "/fapi/v1/ticker/price", sym)
}

func (b *Binance) GetSpotPrice(ctx context.Context, symbol string) (float64, error) {
	return b.tickerPrice(ctx, b.spot, "spotPrice", "/api/v3/ticker/price", ToBinanceSymbol(symbol))
}

func (b *Binance) tickerPrice(ctx context.Context, c *sdkhttp.Client, op, endpoint, sym string) (float64, error) {
	var resp struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := b.public(ctx, c, op, endpoint, map[string]any{"symbol": sym}, &resp); err != nil {
		return 0, err
	}
	px, ok := parseFloat(resp.Price)
	if !ok || px <= 0 {
		return 0, &APIError{Venue: venueBinance, Op: op, Err: fmt.Errorf("malformed price %q for %s", resp.Price, sym)}
	}
	return px, nil
}

// GetFundingRate 最近一次资金费率
func (b *Binance) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	sym := ToBinanceSymbol(symbol)
	if b.marks != nil {
		if m, ok := b.marks.Mark(sym); ok && m.HasFunding {
			return m.FundingRate, nil
		}
	}
	var resp struct {
		LastFundingRate string `json:"lastFundingRate"`
	}
	if err := b.public(ctx, b.futures, "fundingRate", "/fapi/v1/premiumIndex", map[string]any{"symbol": sym}, &resp); err != nil {
		return 0, err
	}
	rate, ok := parseFloat(resp.LastFundingRate)
	if !ok {
		return 0, &APIError{Venue: venueBinance, Op: "fundingRate", Err: fmt.Errorf("malformed funding rate %q", resp.LastFundingRate)}
	}
	return rate, nil
}

func (b *Binance) GetOpenInterest(ctx context.Context, symbol string) (float64, error) {
	var resp struct {
		OpenInterest string `json:"openInterest"`
	}
	if err := b.public(ctx, b.futures, "openInterest", "/fapi/v1/openInterest", map[string]any{"symbol": ToBinanceSymbol(symbol)}, &resp); err != nil {
		return 0, err
	}
	oi, ok := parseFloat(resp.OpenInterest)
	if !ok {
		return 0, &APIError{Venue: venueBinance, Op: "openInterest", Err: fmt.Errorf("malformed open interest %q", resp.OpenInterest)}
	}
	return oi, nil
}

// FetchOHLCV 永续 K 线
func (b *Binance) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows [][]json.RawMessage
	err := b.public(ctx, b.futures, "klines", "/fapi/v1/klines", map[string]any{
		"symbol":   ToBinanceSymbol(symbol),
		"interval": timeframe,
		"limit":    limit,
	}, &rows)
	if err != nil {
		return nil, err
	}
	candles := make([]domain.Candle, 0, len(rows))
	for _, r := range rows {
		c, ok := parseBinanceKline(r)
		if !ok {
			return nil, &APIError{Venue: venueBinance, Op: "klines", Err: fmt.Errorf("malformed kline row")}
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// [openTime, "open", "high", "low", "close", "volume", ...]
func parseBinanceKline(row []json.RawMessage) (domain.Candle, bool) {
	if len(row) < 6 {
		return domain.Candle{}, false
	}
	var openMs int64
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return domain.Candle{}, false
	}
	vals := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		v, ok := rawFloat(row[i])
		if !ok {
			return domain.Candle{}, false
		}
		vals[i-1] = v
	}
	return domain.Candle{
		OpenTime: time.UnixMilli(openMs).UTC(),
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
	}, true
}

// rawFloat 兼容 "1.23" 和 1.23 两种写法
func rawFloat(raw json.RawMessage) (float64, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return parseFloat(s)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return f, true
}

type binanceOrder struct {
	OrderID             int64  `json:"orderId"`
	Symbol              string `json:"symbol"`
	Status              string `json:"status"`
	Side                string `json:"side"`
	OrigQty             string `json:"origQty"`
	ExecutedQty         string `json:"executedQty"`
	AvgPrice            string `json:"avgPrice"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Price               string `json:"price"`
}

// CreateOrder 按 req.Market 下永续或现货单
func (b *Binance) CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	return b.createOrder(ctx, req, false)
}

func (b *Binance) createOrder(ctx context.Context, req domain.OrderRequest, reduceOnly bool) (*domain.Order, error) {
	sym := ToBinanceSymbol(req.Symbol)
	rules := b.SymbolRules(sym)
	qty, ok := FormatQuantity(req.Amount, rules)
	if !ok || mustFloat(qty) < rules.MinQty {
		return nil, fmt.Errorf("%w: %s amount=%v minQty=%v", ErrInvalidQuantity, sym, req.Amount, rules.MinQty)
	}

	perp := req.Market != domain.MarketSpot
	var refPrice float64
	if req.Type == domain.OrderTypeLimit {
		refPrice = req.Price
	} else {
		var err error
		if perp {
			refPrice, err = b.GetPerpPrice(ctx, sym)
		} else {
			refPrice, err = b.GetSpotPrice(ctx, sym)
		}
		if err != nil {
			return nil, err
		}
	}
	if !reduceOnly && perp && mustFloat(qty)*refPrice < rules.MinNotional {
		return nil, fmt.Errorf("%w: %s notional %.2f below minimum %.2f", ErrInvalidQuantity, sym, mustFloat(qty)*refPrice, rules.MinNotional)
	}

	q := url.Values{}
	q.Set("symbol", sym)
	q.Set("side", strings.ToUpper(string(req.Side)))
	q.Set("quantity", qty)
	if req.Type == domain.OrderTypeLimit {
		q.Set("type", "LIMIT")
		q.Set("timeInForce", "GTC")
		q.Set("price", decimal.NewFromFloat(req.Price).String())
	} else {
		q.Set("type", "MARKET")
	}
	if reduceOnly {
		q.Set("reduceOnly", "true")
	}
	if perp {
		q.Set("newOrderRespType", "RESULT")
	} else {
		q.Set("newOrderRespType", "FULL")
	}

	client, endpoint, market := b.futures, "/fapi/v1/order", domain.MarketPerp
	if !perp {
		client, endpoint, market = b.spot, "/api/v3/order", domain.MarketSpot
	}

	var resp binanceOrder
	if err := b.signed(ctx, client, "createOrder", http.MethodPost, endpoint, q, &resp); err != nil {
		return nil, err
	}

	order := &domain.Order{
		OrderID:     strconv.FormatInt(resp.OrderID, 10),
		Symbol:      sym,
		Side:        req.Side,
		Amount:      mustFloat(qty),
		FilledPrice: filledPrice(resp, refPrice),
		Status:      resp.Status,
		Market:      market,
		CreatedAt:   b.now(),
	}
	if executed, ok := parseFloat(resp.ExecutedQty); ok && executed > 0 {
		order.Amount = executed
	}
	log.Infof("📝 [%s] 下单: %s %s %s @ %.6f status=%s", market, req.Side, qty, sym, order.FilledPrice, resp.Status)
	return order, nil
}

// filledPrice 成交均价；测试网市价单常返回 avgPrice=0，此时使用参考价
func filledPrice(resp binanceOrder, ref float64) float64 {
	if v, ok := parseFloat(resp.AvgPrice); ok && v > 0 {
		return v
	}
	quote, ok1 := parseFloat(resp.CummulativeQuoteQty)
	executed, ok2 := parseFloat(resp.ExecutedQty)
	if ok1 && ok2 && executed > 0 && quote > 0 {
		return quote / executed
	}
	if v, ok := parseFloat(resp.Price); ok && v > 0 {
		return v
	}
	return ref
}

// GetPositions 非零永续持仓
func (b *Binance) GetPositions(ctx context.Context) ([]domain.ExchangePosition, error) {
	var rows []struct {
		Symbol      string `json:"symbol"`
		PositionAmt string `json:"positionAmt"`
		EntryPrice  string `json:"entryPrice"`
	}
	if err := b.signed(ctx, b.futures, "positions", http.MethodGet, "/fapi/v2/positionRisk", nil, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.ExchangePosition, 0)
	for _, r := range rows {
		amt, ok := parseFloat(r.PositionAmt)
		if !ok || amt == 0 {
			continue
		}
		side := domain.PositionSideLong
		if amt < 0 {
			side = domain.PositionSideShort
			amt = -amt
		}
		out = append(out, domain.ExchangePosition{
			Symbol:    r.Symbol,
			Side:      side,
			Contracts: amt,
			Entry:     mustFloat(r.EntryPrice),
		})
	}
	return out, nil
}

// ClosePosition 以 reduceOnly 市价单平掉 symbol 的永续仓位；无持仓返回 (nil, nil)
func (b *Binance) ClosePosition(ctx context.Context, symbol string) (*domain.Order, error) {
	sym := ToBinanceSymbol(symbol)
	positions, err := b.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range positions {
		if p.Symbol != sym || p.Contracts <= 0 {
			continue
		}
		side := domain.SideSell
		if p.Side == domain.PositionSideShort {
			side = domain.SideBuy
		}
		order, err := b.createOrder(ctx, domain.OrderRequest{
			Symbol: sym,
			Side:   side,
			Amount: p.Contracts,
			Type:   domain.OrderTypeMarket,
			Market: domain.MarketPerp,
		}, true)
		if err != nil {
			return nil, err
		}
		log.Infof("✅ 已平仓: %s %s %.6f", sym, p.Side, p.Contracts)
		return order, nil
	}
	return nil, nil
}

// CancelAllOrders symbol 为空时撤销所有有挂单的合约
func (b *Binance) CancelAllOrders(ctx context.Context, symbol string) error {
	symbols := []string{}
	if symbol != "" {
		symbols = append(symbols, ToBinanceSymbol(symbol))
	} else {
		var open []struct {
			Symbol string `json:"symbol"`
		}
		if err := b.signed(ctx, b.futures, "openOrders", http.MethodGet, "/fapi/v1/openOrders", nil, &open); err != nil {
			return err
		}
		seen := map[string]bool{}
		for _, o := range open {
			if !seen[o.Symbol] {
				seen[o.Symbol] = true
				symbols = append(symbols, o.Symbol)
			}
		}
	}

	var firstErr error
	for _, sym := range symbols {
		q := url.Values{}
		q.Set("symbol", sym)
		if err := b.signed(ctx, b.futures, "cancelAll", http.MethodDelete, "/fapi/v1/allOpenOrders", q, nil); err != nil {
			log.Errorf("撤单失败 %s: %v", sym, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (b *Binance) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	q := url.Values{}
	q.Set("symbol", ToBinanceSymbol(symbol))
	q.Set("leverage", strconv.Itoa(leverage))
	if err := b.signed(ctx, b.futures, "leverage", http.MethodPost, "/fapi/v1/leverage", q, nil); err != nil {
		return err
	}
	log.Infof("杠杆设置为 %dx: %s", leverage, ToBinanceSymbol(symbol))
	return nil
}

// Ping 往返延迟（毫秒）
func (b *Binance) Ping(ctx context.Context) (float64, error) {
	start := time.Now()
	var resp struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := b.public(ctx, b.futures, "ping", "/fapi/v1/time", nil, &resp); err != nil {
		return 0, err
	}
	return float64(time.Since(start).Microseconds()) / 1000, nil
}
