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

	"github.com/betbot/blackpanther/internal/domain"
	"github.com/betbot/blackpanther/internal/ports"
	"github.com/betbot/blackpanther/pkg/ratelimit"
	sdkhttp "github.com/betbot/blackpanther/pkg/sdk/http"
)

const venueGate = "gate"

// DefaultGateWhitelist Gate 测试网上流动性较好的交易对，TradeablePairs 未传候选时使用
var DefaultGateWhitelist = []string{
	"BTC_USDT", "ETH_USDT", "XRP_USDT", "DOGE_USDT", "SOL_USDT",
	"ADA_USDT", "AVAX_USDT", "DOT_USDT", "MATIC_USDT", "LINK_USDT",
}

// GateOptions Gate.io 现货配置
type GateOptions struct {
	BaseURL           string // 例如 https://api.gateio.ws/api/v4
	APIKey            string
	APISecret         string
	RequestsPerSecond int
	Timeout           time.Duration

	MinOrderbookDepth float64 // 前 10 档单边最小 USDT 深度，默认 100
	MaxSpreadPct      float64 // 最大买卖价差（百分比），默认 2
}

// Gate 现货交易所适配器，实现 ports.SpotVenue
type Gate struct {
	client     *sdkhttp.Client
	pathPrefix string // 签名需要完整路径，例如 /api/v4

	apiKey    string
	apiSecret string

	limits *ratelimit.Manager

	minDepth     float64
	maxSpreadPct float64

	mu    sync.RWMutex
	rules map[string]domain.SymbolRules

	now func() time.Time
}

var _ ports.SpotVenue = (*Gate)(nil)

func NewGate(opts GateOptions) *Gate {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MinOrderbookDepth <= 0 {
		opts.MinOrderbookDepth = 100
	}
	if opts.MaxSpreadPct <= 0 {
		opts.MaxSpreadPct = 2
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	prefix := ""
	if u, err := url.Parse(opts.BaseURL); err == nil {
		prefix = strings.TrimSuffix(u.Path, "/")
	}

	limits := ratelimit.NewManager(ratelimit.NewTokenBucket(rps, float64(rps)))
	limits.Register(limitOrder, ratelimit.NewTokenBucket(max(rps/2, 1), float64(max(rps/2, 1))))

	return &Gate{
		client:       sdkhttp.NewClient(opts.BaseURL, sdkhttp.WithTimeout(opts.Timeout)),
		pathPrefix:   prefix,
		apiKey:       opts.APIKey,
		apiSecret:    opts.APISecret,
		limits:       limits,
		minDepth:     opts.MinOrderbookDepth,
		maxSpreadPct: opts.MaxSpreadPct,
		rules:        make(map[string]domain.SymbolRules),
		now:          time.Now,
	}
}

// DefaultGateRules Gate 现货默认精度（最小成交额约 1 USDT）
func DefaultGateRules() domain.SymbolRules {
	return domain.SymbolRules{
		QuantityPrecision: 6,
		StepSize:          0.000001,
		MinQty:            0.000001,
		MinNotional:       1,
	}
}

func (g *Gate) public(ctx context.Context, op, endpoint string, params map[string]any, out any) error {
	if err := g.limits.Wait(ctx, limitMarket); err != nil {
		return err
	}
	_, err := g.client.DoRequest(ctx, http.MethodGet, endpoint, &sdkhttp.RequestOptions{Params: params}, out)
	return wrapErr(venueGate, op, err)
}

func (g *Gate) signed(ctx context.Context, op, method, endpoint string, q url.Values, body any, out any) error {
	group := limitMarket
	if method != http.MethodGet {
		group = limitOrder
	}
	if err := g.limits.Wait(ctx, group); err != nil {
		return err
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("gate %s: encode body: %w", op, err)
		}
	}
	rawQuery := ""
	if q != nil {
		rawQuery = q.Encode()
	}
	ts := g.now().Unix()
	opt := &sdkhttp.RequestOptions{
		Headers: map[string]string{
			"KEY":       g.apiKey,
			"Timestamp": strconv.FormatInt(ts, 10),
			"SIGN":      signGate(g.apiSecret, method, g.pathPrefix+endpoint, rawQuery, payload, ts),
		},
		RawQuery: rawQuery,
	}
	if payload != nil {
		opt.Data = payload
	}
	_, err := g.client.DoRequest(ctx, method, endpoint, opt, out)
	return wrapErr(venueGate, op, err)
}

// LoadSymbolRules 从 /spot/currency_pairs 加载数量精度和最小下单量
func (g *Gate) LoadSymbolRules(ctx context.Context) error {
	var pairs []struct {
		ID              string `json:"id"`
		AmountPrecision int32  `json:"amount_precision"`
		MinBaseAmount   string `json:"min_base_amount"`
		MinQuoteAmount  string `json:"min_quote_amount"`
	}
	if err := g.public(ctx, "currencyPairs", "/spot/currency_pairs", nil, &pairs); err != nil {
		return err
	}
	rules := make(map[string]domain.SymbolRules, len(pairs))
	for _, p := range pairs {
		r := DefaultGateRules()
		r.QuantityPrecision = p.AmountPrecision
		r.StepSize = decimal.New(1, -p.AmountPrecision).InexactFloat64()
		r.MinQty = r.StepSize
		if v, ok := parseFloat(p.MinBaseAmount); ok && v > 0 {
			r.MinQty = v
		}
		if v, ok := parseFloat(p.MinQuoteAmount); ok && v > 0 {
			r.MinNotional = v
		}
		rules[p.ID] = r
	}
	g.mu.Lock()
	g.rules = rules
	g.mu.Unlock()
	log.Debugf("加载 Gate 交易规则: %d 个交易对", len(rules))
	return nil
}

func (g *Gate) SymbolRules(symbol string) domain.SymbolRules {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if r, ok := g.rules[ToGateSymbol(symbol)]; ok {
		return r
	}
	return DefaultGateRules()
}

type gateTicker struct {
	CurrencyPair     string `json:"currency_pair"`
	Last             string `json:"last"`
	BaseVolume       string `json:"base_volume"`
	QuoteVolume      string `json:"quote_volume"`
	ChangePercentage string `json:"change_percentage"`
}

func (t gateTicker) toDomain() (domain.Ticker, bool) {
	last, ok := parseFloat(t.Last)
	if !ok {
		return domain.Ticker{}, false
	}
	return domain.Ticker{
		Symbol:      t.CurrencyPair,
		Last:        last,
		BaseVolume:  mustFloat(t.BaseVolume),
		QuoteVolume: mustFloat(t.QuoteVolume),
		ChangePct:   mustFloat(t.ChangePercentage),
	}, true
}

// FetchTickers 全市场 24h 行情；last 无法解析的交易对被跳过
func (g *Gate) FetchTickers(ctx context.Context) ([]domain.Ticker, error) {
	var rows []gateTicker
	if err := g.public(ctx, "tickers", "/spot/tickers", nil, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.Ticker, 0, len(rows))
	for _, r := range rows {
		if t, ok := r.toDomain(); ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (g *Gate) GetPrice(ctx context.Context, symbol string) (float64, error) {
	pair := ToGateSymbol(symbol)
	var rows []gateTicker
	if err := g.public(ctx, "ticker", "/spot/tickers", map[string]any{"currency_pair": pair}, &rows); err != nil {
		return 0, err
	}
	for _, r := range rows {
		if t, ok := r.toDomain(); ok && t.Last > 0 {
			return t.Last, nil
		}
	}
	return 0, &APIError{Venue: venueGate, Op: "ticker", Err: fmt.Errorf("no price for %s", pair)}
}

// FetchOHLCV Gate K 线：[t, 成交额, close, high, low, open, 成交量, closed]
func (g *Gate) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows [][]json.RawMessage
	err := g.public(ctx, "candlesticks", "/spot/candlesticks", map[string]any{
		"currency_pair": ToGateSymbol(symbol),
		"interval":      timeframe,
		"limit":         limit,
	}, &rows)
	if err != nil {
		return nil, err
	}
	candles := make([]domain.Candle, 0, len(rows))
	for _, r := range rows {
		c, ok := parseGateCandle(r)
		if !ok {
			return nil, &APIError{Venue: venueGate, Op: "candlesticks", Err: fmt.Errorf("malformed candlestick row")}
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func parseGateCandle(row []json.RawMessage) (domain.Candle, bool) {
	if len(row) < 6 {
		return domain.Candle{}, false
	}
	vals := make([]float64, len(row))
	for i := range row {
		if i == 7 {
			break
		}
		v, ok := rawFloat(row[i])
		if !ok {
			return domain.Candle{}, false
		}
		vals[i] = v
	}
	c := domain.Candle{
		OpenTime: time.Unix(int64(vals[0]), 0).UTC(),
		Close:    vals[2],
		High:     vals[3],
		Low:      vals[4],
		Open:     vals[5],
	}
	// 旧版本接口没有第 7 列（基础币成交量），退化为成交额 / 收盘价
	if len(row) > 6 {
		c.Volume = vals[6]
	} else if c.Close > 0 {
		c.Volume = vals[1] / c.Close
	}
	return c, true
}

type gateOrderBook struct {
	Asks [][2]string `json:"asks"`
	Bids [][2]string `json:"bids"`
}

// CheckLiquidity 检查价差和前 10 档深度。拉取盘口失败时返回错误，Tradeable=false
func (g *Gate) CheckLiquidity(ctx context.Context, symbol string) (domain.Liquidity, error) {
	pair := ToGateSymbol(symbol)
	res := domain.Liquidity{Symbol: pair}

	var book gateOrderBook
	if err := g.public(ctx, "orderBook", "/spot/order_book", map[string]any{"currency_pair": pair, "limit": 20}, &book); err != nil {
		res.Reason = fmt.Sprintf("Liquidity check failed: %v", err)
		return res, err
	}
	return evaluateLiquidity(pair, book, g.minDepth, g.maxSpreadPct), nil
}

func evaluateLiquidity(pair string, book gateOrderBook, minDepth, maxSpreadPct float64) domain.Liquidity {
	res := domain.Liquidity{Symbol: pair}
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		res.Reason = "Empty orderbook - no bids or asks"
		return res
	}
	bestBid := mustFloat(book.Bids[0][0])
	bestAsk := mustFloat(book.Asks[0][0])
	if bestBid <= 0 {
		res.Reason = "Empty orderbook - no bids or asks"
		return res
	}

	res.Spread = (bestAsk - bestBid) / bestBid * 100
	if res.Spread > maxSpreadPct {
		res.Reason = fmt.Sprintf("Spread too wide: %.2f%% > %v%%", res.Spread, maxSpreadPct)
		return res
	}

	res.BidDepth = depth(book.Bids, 10)
	res.AskDepth = depth(book.Asks, 10)
	if res.BidDepth < minDepth {
		res.Reason = fmt.Sprintf("Bid depth too low: $%.2f < $%v", res.BidDepth, minDepth)
		return res
	}
	if res.AskDepth < minDepth {
		res.Reason = fmt.Sprintf("Ask depth too low: $%.2f < $%v", res.AskDepth, minDepth)
		return res
	}

	res.Tradeable = true
	res.Reason = "Liquidity OK"
	return res
}

func depth(levels [][2]string, n int) float64 {
	total := 0.0
	for i, lv := range levels {
		if i >= n {
			break
		}
		total += mustFloat(lv[0]) * mustFloat(lv[1])
	}
	return total
}

// TradeablePairs 依次检查候选交易对的流动性；candidates 为空时使用 DefaultGateWhitelist
func (g *Gate) TradeablePairs(ctx context.Context, candidates []string) ([]string, error) {
	if len(candidates) == 0 {
		candidates = DefaultGateWhitelist
	}
	out := make([]string, 0, len(candidates))
	for _, sym := range candidates {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		liq, err := g.CheckLiquidity(ctx, sym)
		if err != nil || !liq.Tradeable {
			log.Debugf("跳过 %s: %s", sym, liq.Reason)
			continue
		}
		out = append(out, liq.Symbol)
	}
	return out, nil
}

// GetBalance 现货 USDT 余额
func (g *Gate) GetBalance(ctx context.Context) (domain.Balance, error) {
	var rows []struct {
		Currency  string `json:"currency"`
		Available string `json:"available"`
		Locked    string `json:"locked"`
	}
	q := url.Values{}
	q.Set("currency", "USDT")
	if err := g.signed(ctx, "accounts", http.MethodGet, "/spot/accounts", q, nil, &rows); err != nil {
		return domain.Balance{}, err
	}
	for _, r := range rows {
		if r.Currency != "USDT" {
			continue
		}
		free := mustFloat(r.Available)
		used := mustFloat(r.Locked)
		return domain.Balance{Total: free + used, Free: free, Used: used}, nil
	}
	return domain.Balance{}, nil
}

// CreateOrder 现货市价 / 限价单。
// Gate 市价买单的 amount 为计价币金额，这里按参考价把基础币数量换算成 USDT。
func (g *Gate) CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	pair := ToGateSymbol(req.Symbol)
	rules := g.SymbolRules(pair)
	qty, ok := FormatQuantity(req.Amount, rules)
	if !ok || mustFloat(qty) < rules.MinQty {
		return nil, fmt.Errorf("%w: %s amount=%v minQty=%v", ErrInvalidQuantity, pair, req.Amount, rules.MinQty)
	}

	body := map[string]string{
		"currency_pair": pair,
		"side":          string(req.Side),
		"account":       "spot",
	}
	refPrice := req.Price
	if req.Type == domain.OrderTypeLimit {
		body["type"] = "limit"
		body["price"] = decimal.NewFromFloat(req.Price).String()
		body["amount"] = qty
		body["time_in_force"] = "gtc"
	} else {
		px, err := g.GetPrice(ctx, pair)
		if err != nil {
			return nil, err
		}
		refPrice = px
		body["type"] = "market"
		body["time_in_force"] = "ioc"
		if req.Side == domain.SideBuy {
			body["amount"] = decimal.NewFromFloat(mustFloat(qty)).Mul(decimal.NewFromFloat(px)).Truncate(4).String()
		} else {
			body["amount"] = qty
		}
	}

	var resp struct {
		ID           string `json:"id"`
		Status       string `json:"status"`
		AvgDealPrice string `json:"avg_deal_price"`
		FilledAmount string `json:"filled_amount"`
	}
	if err := g.signed(ctx, "createOrder", http.MethodPost, "/spot/orders", nil, body, &resp); err != nil {
		return nil, err
	}

	order := &domain.Order{
		OrderID:     resp.ID,
		Symbol:      pair,
		Side:        req.Side,
		Amount:      mustFloat(qty),
		FilledPrice: refPrice,
		Status:      resp.Status,
		Market:      domain.MarketSpot,
		CreatedAt:   g.now(),
	}
	if v, ok := parseFloat(resp.AvgDealPrice); ok && v > 0 {
		order.FilledPrice = v
	}
	if v, ok := parseFloat(resp.FilledAmount); ok && v > 0 {
		order.Amount = v
	}
	log.Infof("📝 [gate] 下单: %s %s %s @ %.8f status=%s", req.Side, qty, pair, order.FilledPrice, resp.Status)
	return order, nil
}
