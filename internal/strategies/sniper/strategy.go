package sniper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/blackpanther/internal/domain"
	"github.com/betbot/blackpanther/internal/indicators"
	"github.com/betbot/blackpanther/internal/sentiment"
	"github.com/betbot/blackpanther/internal/strategies/common"
	"github.com/betbot/blackpanther/pkg/cache"
	"github.com/betbot/blackpanther/pkg/config"
)

const (
	ID = config.StrategySniper

	// minVolumeSamples 计算日均成交量所需的最少日 K 数
	minVolumeSamples = 5
	volumeCacheTTL   = time.Hour
	dailyTimeframe   = "1d"
)

var log = logrus.WithField("strategy", ID)

var errShortHistory = errors.New("not enough volume history")

func init() { common.Register(ID, New) }

// tokenAnalyzer 可选：舆情服务提供情绪分类时用于日志
type tokenAnalyzer interface {
	AnalyzeTokenSentiment(ctx context.Context, symbol string) sentiment.TokenSentiment
}

// Strategy 狙击策略：成交量异动（RVOL）+ 上币传闻，在现货交易所小仓位买入，
// 翻倍后卖一半，剩余部分用移动止损保护。
type Strategy struct {
	*common.Runtime

	cfg      config.SniperConfig
	fraction float64
	volumes  *cache.InMemoryCache[string, float64]

	mu sync.Mutex
	// Positions 当前持仓（symbol -> position）
	Positions map[string]*domain.MoonshotPosition `persistence:"moonshot_positions"`
	// Blacklist 止损过的交易对，不再买入
	Blacklist map[string]time.Time `persistence:"blacklist"`
}

func New(deps common.Deps) (common.Strategy, error) {
	if deps.Config == nil {
		return nil, errors.New("sniper: config is nil")
	}
	if deps.Spot == nil {
		return nil, errors.New("sniper: spot venue is nil")
	}
	cfg := deps.Config.Strategies.Sniper
	fraction := cfg.Allocation
	if capped := deps.Config.System.MaxMoonshotAllocation; capped > 0 {
		fraction = math.Min(fraction, capped)
	}
	return &Strategy{
		Runtime:   common.NewRuntime(ID, cfg.Allocation, deps),
		cfg:       cfg,
		fraction:  fraction,
		volumes:   cache.NewInMemoryCache[string, float64](volumeCacheTTL),
		Positions: map[string]*domain.MoonshotPosition{},
		Blacklist: map[string]time.Time{},
	}, nil
}

func (s *Strategy) Validate() error {
	if s.cfg.RVOLThreshold <= 0 {
		return fmt.Errorf("rvolThreshold 必须大于 0")
	}
	if s.cfg.PriceChangeMax <= 0 {
		return fmt.Errorf("priceChangeMax 必须大于 0")
	}
	if s.cfg.MinQuoteVolume >= s.cfg.MaxQuoteVolume {
		return fmt.Errorf("minQuoteVolume 必须小于 maxQuoteVolume")
	}
	if s.cfg.VolumeLookback < minVolumeSamples {
		return fmt.Errorf("volumeLookback 至少为 %d", minVolumeSamples)
	}
	if s.cfg.ScanInterval <= 0 {
		return fmt.Errorf("scanInterval 必须大于 0")
	}
	return nil
}

func (s *Strategy) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Positions == nil {
		s.Positions = map[string]*domain.MoonshotPosition{}
	}
	if s.Blacklist == nil {
		s.Blacklist = map[string]time.Time{}
	}
	log.Infof("Sniper ready: fraction=%.2f%% positions=%d blacklist=%d",
		s.fraction*100, len(s.Positions), len(s.Blacklist))
	return nil
}

func (s *Strategy) Shutdown(ctx context.Context) {
	s.Runtime.Shutdown(ctx)
	s.volumes.Close()
}

// Run 每 ScanInterval 先管理持仓，再扫描新机会
func (s *Strategy) Run(ctx context.Context) error {
	return s.Loop(ctx, s.cfg.ScanInterval, s.cycle)
}

func (s *Strategy) cycle(ctx context.Context) error {
	s.monitorPositions(ctx)
	if !s.IsSafeToTrade(ctx) {
		return nil
	}
	return s.scan(ctx)
}

// OpenPositions 持仓快照（按 symbol 排序）
func (s *Strategy) OpenPositions() []domain.MoonshotPosition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.MoonshotPosition, 0, len(s.Positions))
	for _, p := range s.Positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (s *Strategy) excluded(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Positions[symbol]; ok {
		return true
	}
	_, ok := s.Blacklist[symbol]
	return ok
}

// universe 成交额在 (min, max) 之间的交易对；行情接口失败时退回到白名单
func (s *Strategy) universe(ctx context.Context) ([]domain.Ticker, error) {
	tickers, err := s.Spot.FetchTickers(ctx)
	if err != nil {
		log.Warnf("获取行情失败，使用白名单: %v", err)
		return s.fallbackUniverse(ctx)
	}
	out := make([]domain.Ticker, 0, len(tickers))
	for _, t := range tickers {
		if t.QuoteVolume <= s.cfg.MinQuoteVolume || t.QuoteVolume >= s.cfg.MaxQuoteVolume {
			continue
		}
		if s.excluded(t.Symbol) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// fallbackUniverse 白名单中流动性合格的交易对，行情取最近一根日 K
func (s *Strategy) fallbackUniverse(ctx context.Context) ([]domain.Ticker, error) {
	pairs, err := s.Spot.TradeablePairs(ctx, s.cfg.Whitelist)
	if err != nil {
		return nil, fmt.Errorf("tradeable pairs: %w", err)
	}
	out := make([]domain.Ticker, 0, len(pairs))
	for _, symbol := range pairs {
		if s.excluded(symbol) {
			continue
		}
		candles, err := s.Spot.FetchOHLCV(ctx, symbol, dailyTimeframe, 1)
		if err != nil || len(candles) == 0 {
			continue
		}
		c := candles[len(candles)-1]
		t := domain.Ticker{Symbol: symbol, Last: c.Close, BaseVolume: c.Volume, QuoteVolume: c.Volume * c.Close}
		if c.Open > 0 {
			t.ChangePct = (c.Close - c.Open) / c.Open * 100
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Strategy) scan(ctx context.Context) error {
	tickers, err := s.universe(ctx)
	if err != nil {
		return err
	}
	var errs common.ScanErrors
	for _, t := range tickers {
		if ctx.Err() != nil {
			return nil
		}
		sig, err := s.evaluate(ctx, t)
		if errors.Is(err, errShortHistory) {
			continue
		}
		errs.Observe(err)
		if err != nil {
			log.Debugf("Error scanning %s: %v", t.Symbol, err)
			continue
		}
		if sig == nil || sig.Action != domain.ActionBuy {
			continue
		}
		if err := s.buy(ctx, sig); err != nil {
			log.Errorf("Failed to buy %s: %v", t.Symbol, err)
		}
	}
	return errs.Err()
}

// averageVolume 最近 VolumeLookback 根日 K 的平均成交量，按交易对缓存
func (s *Strategy) averageVolume(ctx context.Context, symbol string) (float64, error) {
	return s.volumes.GetOrLoad(symbol, volumeCacheTTL, func() (float64, error) {
		candles, err := s.Spot.FetchOHLCV(ctx, symbol, dailyTimeframe, s.cfg.VolumeLookback)
		if err != nil {
			return 0, err
		}
		if len(candles) < minVolumeSamples {
			return 0, fmt.Errorf("%w: %s has %d candles", errShortHistory, symbol, len(candles))
		}
		vols := make([]float64, len(candles))
		for i, c := range candles {
			vols[i] = c.Volume
		}
		return indicators.Average(vols), nil
	})
}

// GetSignal 单个交易对的信号
func (s *Strategy) GetSignal(ctx context.Context, symbol string) (*domain.Signal, error) {
	tickers, err := s.Spot.FetchTickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch tickers: %w", err)
	}
	for _, t := range tickers {
		if t.Symbol == symbol {
			return s.evaluate(ctx, t)
		}
	}
	return nil, fmt.Errorf("ticker not found: %s", symbol)
}

// evaluate RVOL 异动且价格尚未启动时才查询舆情；评分达标返回 BUY，否则返回 nil
func (s *Strategy) evaluate(ctx context.Context, t domain.Ticker) (*domain.Signal, error) {
	avg, err := s.averageVolume(ctx, t.Symbol)
	if err != nil {
		return nil, err
	}
	rvol := indicators.RVOL(t.BaseVolume, avg)
	change := t.ChangePct / 100
	if rvol <= s.cfg.RVOLThreshold || math.Abs(change) >= s.cfg.PriceChangeMax {
		return nil, nil
	}
	log.Infof("Volume anomaly on %s: RVOL %.1fx, price %+.2f%%", t.Symbol, rvol, t.ChangePct)

	if s.Sentiment == nil {
		return nil, nil
	}
	report, err := s.Sentiment.CheckListingRumors(ctx, t.Symbol)
	if err != nil {
		return nil, fmt.Errorf("check listing rumors: %w", err)
	}
	if report.Score < s.cfg.SentimentThreshold {
		log.Debugf("%s rumor score %d below %d", t.Symbol, report.Score, s.cfg.SentimentThreshold)
		return nil, nil
	}

	sig := &domain.Signal{
		Strategy:   ID,
		Symbol:     t.Symbol,
		Action:     domain.ActionBuy,
		Confidence: domain.ConfidenceHigh,
		EntryPrice: t.Last,
		Metrics: map[string]float64{
			"rvol":        rvol,
			"priceChange": change,
			"rumorScore":  float64(report.Score),
		},
		Note:      report.Summary,
		CreatedAt: s.Now(),
	}
	s.RecordSignal(ctx, sig)
	log.Infof("🎯 MOONSHOT DETECTED: %s | RVOL %.1fx | rumor score %d", t.Symbol, rvol, report.Score)
	return sig, nil
}

// buy 下单前再次检查风控：情绪分析可能耗时很久，期间熔断可能已触发
func (s *Strategy) buy(ctx context.Context, sig *domain.Signal) error {
	symbol := sig.Symbol
	if !s.IsSafeToTrade(ctx) {
		log.Warnf("[%s] 下单前风控检查未通过，放弃买入", symbol)
		return nil
	}
	held, err := s.Store.HasPosition(ctx, symbol)
	if err != nil {
		return fmt.Errorf("check position: %w", err)
	}
	if held {
		log.Debugf("Position already open on %s, skipping", symbol)
		return nil
	}

	liq, err := s.Spot.CheckLiquidity(ctx, symbol)
	if err != nil {
		return fmt.Errorf("check liquidity: %w", err)
	}
	if !liq.Tradeable {
		log.Warnf("Skipping %s: %s", symbol, liq.Reason)
		return nil
	}

	price := sig.EntryPrice
	if price <= 0 {
		if price, err = s.Spot.GetPrice(ctx, symbol); err != nil {
			return fmt.Errorf("get price: %w", err)
		}
	}
	size, err := s.SpotPositionSize(ctx, symbol, s.fraction, price)
	if err != nil {
		return err
	}
	if size <= 0 {
		return nil
	}

	order, err := s.CreateSpotOrder(ctx, domain.OrderRequest{
		Symbol: symbol, Side: domain.SideBuy, Amount: size, Type: domain.OrderTypeMarket,
	})
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	if order != nil && order.FilledPrice > 0 {
		price = order.FilledPrice
	}

	meta := map[string]any{
		"rvol":       fmt.Sprintf("%.1fx", sig.Metrics["rvol"]),
		"rumorScore": int(sig.Metrics["rumorScore"]),
		"spread":     fmt.Sprintf("%.2f%%", liq.Spread),
	}
	if a, ok := s.Sentiment.(tokenAnalyzer); ok {
		ts := a.AnalyzeTokenSentiment(ctx, symbol)
		meta["mood"] = string(ts.Mood)
		log.Infof("%s sentiment: %s (%d)", symbol, ts.Mood, ts.Score)
	}
	pos := s.LogEntry(ctx, common.Entry{
		Symbol: symbol,
		Side:   domain.PositionSideLong,
		Market: domain.MarketSpot,
		Price:  price,
		Size:   size,
		Meta:   meta,
	})

	s.mu.Lock()
	s.Positions[symbol] = &domain.MoonshotPosition{
		Position:     pos,
		HighestPrice: price,
		RVOL:         sig.Metrics["rvol"],
		RumorScore:   int(sig.Metrics["rumorScore"]),
	}
	s.PersistState(s)
	s.mu.Unlock()
	log.Infof("✅ Moonshot bought: %s @ %v size=%v", symbol, price, size)
	return nil
}

func (s *Strategy) monitorPositions(ctx context.Context) {
	for _, p := range s.OpenPositions() {
		price, err := s.Spot.GetPrice(ctx, p.Symbol)
		if err != nil {
			log.Errorf("Error monitoring %s: %v", p.Symbol, err)
			continue
		}
		if err := s.manage(ctx, p.Symbol, price); err != nil {
			log.Errorf("Error managing %s: %v", p.Symbol, err)
		}
	}
}

// exitAction 退出状态机的决策
type exitAction int

const (
	exitHold exitAction = iota
	exitSellHalf
	exitTrailingStop
	exitStopLoss
)

// decideExit 按优先级：先更新最高价，再依次判断翻倍卖半、移动止损、硬止损
func decideExit(p *domain.MoonshotPosition, price float64, cfg config.SniperConfig) exitAction {
	if price > p.HighestPrice {
		p.HighestPrice = price
	}
	pnl := p.PnLPct(price)
	switch {
	case pnl >= cfg.TakeProfitPct && !p.SoldHalf:
		return exitSellHalf
	case p.SoldHalf && p.HighestPrice > 0 && (p.HighestPrice-price)/p.HighestPrice >= cfg.TrailingStopPct:
		return exitTrailingStop
	case pnl <= -cfg.StopLossPct:
		return exitStopLoss
	}
	return exitHold
}

func (s *Strategy) manage(ctx context.Context, symbol string, price float64) error {
	s.mu.Lock()
	p, ok := s.Positions[symbol]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	action := decideExit(p, price, s.cfg)
	snapshot := *p
	s.mu.Unlock()

	switch action {
	case exitSellHalf:
		return s.sellHalf(ctx, snapshot, price)
	case exitTrailingStop:
		log.Infof("📉 Trailing stop hit on %s (high %v, now %v)", symbol, snapshot.HighestPrice, price)
		return s.sellAll(ctx, snapshot, price, false)
	case exitStopLoss:
		log.Warnf("🛑 Stop loss hit on %s @ %v", symbol, price)
		return s.sellAll(ctx, snapshot, price, true)
	}
	return nil
}

func (s *Strategy) sellHalf(ctx context.Context, p domain.MoonshotPosition, price float64) error {
	half := common.FloorQty(p.Size/2, s.Spot.SymbolRules(p.Symbol))
	if half <= 0 {
		return nil
	}
	if _, err := s.CreateSpotOrder(ctx, domain.OrderRequest{
		Symbol: p.Symbol, Side: domain.SideSell, Amount: half, Type: domain.OrderTypeMarket,
	}); err != nil {
		return fmt.Errorf("sell half: %w", err)
	}

	s.mu.Lock()
	if cur, ok := s.Positions[p.Symbol]; ok {
		cur.SoldHalf = true
		cur.Size = common.SubQty(cur.Size, half)
		s.UpdatePosition(ctx, cur.Position)
	}
	s.PersistState(s)
	s.mu.Unlock()

	pnl := (price - p.EntryPrice) * half
	pnlPct := p.PnLPct(price) * 100
	s.Notifier.TradeExit(ctx, ID, p.Symbol, p.EntryPrice, price, pnl, pnlPct)
	log.Infof("💰 Sold half of %s @ %v (+%.0f%%), riding the rest", p.Symbol, price, pnlPct)
	return nil
}

func (s *Strategy) sellAll(ctx context.Context, p domain.MoonshotPosition, price float64, blacklist bool) error {
	if _, err := s.CreateSpotOrder(ctx, domain.OrderRequest{
		Symbol: p.Symbol, Side: domain.SideSell, Amount: p.Size, Type: domain.OrderTypeMarket,
	}); err != nil {
		return fmt.Errorf("sell: %w", err)
	}

	s.mu.Lock()
	delete(s.Positions, p.Symbol)
	if blacklist {
		s.Blacklist[p.Symbol] = s.Now()
	}
	s.PersistState(s)
	s.mu.Unlock()

	pnl := (price - p.EntryPrice) * p.Size
	s.LogExit(ctx, p.Position, price, pnl)
	return nil
}
