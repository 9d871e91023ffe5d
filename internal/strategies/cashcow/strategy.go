package cashcow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/betbot/blackpanther/internal/domain"
	"github.com/betbot/blackpanther/internal/indicators"
	"github.com/betbot/blackpanther/internal/strategies/common"
	"github.com/betbot/blackpanther/pkg/config"
)

const ID = config.StrategyCashCow

var log = logrus.WithField("strategy", ID)

func init() { common.Register(ID, New) }

// Strategy 资金费率套利：空永续 + 多现货，赚取资金费。
// 持仓期间持续监控基差，超过阈值立即双腿平仓。
type Strategy struct {
	*common.Runtime

	cfg config.CashCowConfig

	mu sync.Mutex
	// Hedges 当前持有的对冲仓位（symbol -> hedge）
	Hedges map[string]*domain.Hedge `persistence:"active_hedges"`
}

func New(deps common.Deps) (common.Strategy, error) {
	if deps.Config == nil {
		return nil, errors.New("cashcow: config is nil")
	}
	return &Strategy{
		Runtime: common.NewRuntime(ID, deps.Config.Strategies.CashCow.Allocation, deps),
		cfg:     deps.Config.Strategies.CashCow,
		Hedges:  map[string]*domain.Hedge{},
	}, nil
}

func (s *Strategy) Validate() error {
	if s.cfg.Allocation <= 0 || s.cfg.Allocation > 1 {
		return fmt.Errorf("allocation 必须在 (0, 1] 之间")
	}
	if s.cfg.MinFundingRate <= 0 {
		return fmt.Errorf("minFundingRate 必须大于 0")
	}
	if s.cfg.MaxBasisRisk <= 0 {
		return fmt.Errorf("maxBasisRisk 必须大于 0")
	}
	if s.cfg.ScanInterval <= 0 {
		return fmt.Errorf("scanInterval 必须大于 0")
	}
	return nil
}

func (s *Strategy) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Hedges == nil {
		s.Hedges = map[string]*domain.Hedge{}
	}
	if n := len(s.Hedges); n > 0 {
		log.Infof("恢复 %d 个对冲仓位", n)
	}
	return nil
}

// Run 每 ScanInterval 先监控已有对冲，再扫描新机会
func (s *Strategy) Run(ctx context.Context) error {
	return s.Loop(ctx, s.cfg.ScanInterval, s.cycle)
}

func (s *Strategy) cycle(ctx context.Context) error {
	s.monitorActiveHedges(ctx)
	if !s.IsSafeToTrade(ctx) {
		return nil
	}
	return s.scanOpportunities(ctx)
}

// ActiveHedges 当前对冲快照（按 symbol 排序）
func (s *Strategy) ActiveHedges() []domain.Hedge {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Hedge, 0, len(s.Hedges))
	for _, h := range s.Hedges {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (s *Strategy) hedged(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.Hedges[symbol]
	return ok
}

func (s *Strategy) scanOpportunities(ctx context.Context) error {
	var errs common.ScanErrors
	for _, symbol := range s.cfg.Watchlist {
		if ctx.Err() != nil {
			return nil
		}
		if s.hedged(symbol) {
			continue
		}
		sig, err := s.GetSignal(ctx, symbol)
		errs.Observe(err)
		if err != nil {
			log.Errorf("Error scanning %s: %v", symbol, err)
			continue
		}
		if sig == nil || sig.Action != domain.ActionOpenHedge {
			continue
		}
		if err := s.openHedge(ctx, sig); err != nil {
			log.Errorf("Failed to open hedge on %s: %v", symbol, err)
		}
	}
	return errs.Err()
}

// GetSignal 资金费率高于阈值且基差足够窄时返回 OPEN_HEDGE，否则返回 nil
func (s *Strategy) GetSignal(ctx context.Context, symbol string) (*domain.Signal, error) {
	funding, err := s.Gateway.GetFundingRate(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("get funding rate: %w", err)
	}
	if funding < s.cfg.MinFundingRate {
		return nil, nil
	}

	perp, err := s.Gateway.GetPerpPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("get perp price: %w", err)
	}
	spot, err := s.Gateway.GetSpotPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("get spot price: %w", err)
	}
	basis := indicators.Basis(perp, spot)
	if math.Abs(basis) > s.cfg.MaxBasisRisk*0.5 {
		log.Debugf("%s basis too wide for entry: %.3f%%", symbol, basis*100)
		return nil, nil
	}

	sig := &domain.Signal{
		Strategy:   ID,
		Symbol:     symbol,
		Action:     domain.ActionOpenHedge,
		EntryPrice: perp,
		Metrics: map[string]float64{
			"fundingRate": funding,
			"basis":       basis,
			"expectedApy": indicators.FundingAPY(funding),
			"perpPrice":   perp,
			"spotPrice":   spot,
		},
		CreatedAt: s.Now(),
	}
	s.RecordSignal(ctx, sig)
	return sig, nil
}

// openHedge 两条腿并发下单；任意一条腿失败都回滚另一条腿。
// 下单前再次检查风控，并确认该 symbol 没有其他策略的仓位。
func (s *Strategy) openHedge(ctx context.Context, sig *domain.Signal) error {
	symbol := sig.Symbol
	if !s.IsSafeToTrade(ctx) {
		log.Warnf("[%s] 下单前风控检查未通过，放弃对冲", symbol)
		return nil
	}
	held, err := s.Store.HasPosition(ctx, symbol)
	if err != nil {
		return fmt.Errorf("check position: %w", err)
	}
	if held {
		log.Debugf("Position already open on %s, skipping hedge", symbol)
		return nil
	}

	size, err := s.GetPositionSize(ctx, symbol)
	if err != nil {
		return err
	}
	if size <= 0 {
		return nil
	}
	log.Infof("Opening hedge on %s | Funding: %.4f%%", symbol, sig.Metrics["fundingRate"]*100)

	var (
		wg               sync.WaitGroup
		perpErr, spotErr error
		perpOrd, spotOrd *domain.Order
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		perpOrd, perpErr = s.CreateOrder(ctx, domain.OrderRequest{
			Symbol: symbol, Side: domain.SideSell, Amount: size, Type: domain.OrderTypeMarket, Market: domain.MarketPerp,
		})
	}()
	go func() {
		defer wg.Done()
		spotOrd, spotErr = s.CreateOrder(ctx, domain.OrderRequest{
			Symbol: symbol, Side: domain.SideBuy, Amount: size, Type: domain.OrderTypeMarket, Market: domain.MarketSpot,
		})
	}()
	wg.Wait()

	switch {
	case perpErr != nil && spotErr != nil:
		return fmt.Errorf("both legs failed: perp: %v, spot: %w", perpErr, spotErr)
	case perpErr != nil:
		log.Errorf("Perp order failed, unwinding spot: %v", perpErr)
		if _, err := s.CreateOrder(ctx, domain.OrderRequest{
			Symbol: symbol, Side: domain.SideSell, Amount: size, Type: domain.OrderTypeMarket, Market: domain.MarketSpot,
		}); err != nil {
			s.legStuck(ctx, symbol, "spot", err)
		}
		return fmt.Errorf("perp leg: %w", perpErr)
	case spotErr != nil:
		log.Errorf("Spot order failed, closing perp: %v", spotErr)
		if _, err := s.ClosePosition(ctx, symbol); err != nil {
			s.legStuck(ctx, symbol, "perp", err)
		}
		return fmt.Errorf("spot leg: %w", spotErr)
	}

	h := &domain.Hedge{
		Symbol:      symbol,
		PerpSize:    size,
		SpotSize:    size,
		PerpEntry:   fillOr(perpOrd, sig.Metrics["perpPrice"]),
		SpotEntry:   fillOr(spotOrd, sig.Metrics["spotPrice"]),
		EntryBasis:  sig.Metrics["basis"],
		FundingRate: sig.Metrics["fundingRate"],
		EntryTime:   s.Now(),
	}
	pos := s.LogEntry(ctx, common.Entry{
		Symbol: symbol,
		Side:   domain.PositionSideHedge,
		Price:  h.PerpEntry,
		Size:   size,
		Meta: map[string]any{
			"fundingRate": fmt.Sprintf("%.4f%%", h.FundingRate*100),
			"entryBasis":  fmt.Sprintf("%.4f%%", h.EntryBasis*100),
			"expectedApy": fmt.Sprintf("%.1f%%", sig.Metrics["expectedApy"]),
		},
	})
	h.TradeID = pos.TradeID

	s.mu.Lock()
	s.Hedges[symbol] = h
	s.PersistState(s)
	s.mu.Unlock()
	log.Infof("✅ Hedge opened: %s | Size: %v", symbol, size)
	return nil
}

// legStuck 回滚失败，留下单边敞口，需要人工处理
func (s *Strategy) legStuck(ctx context.Context, symbol, leg string, err error) {
	log.Errorf("🚨 %s 回滚 %s 腿失败: %v", symbol, leg, err)
	s.Notifier.Critical(ctx, fmt.Sprintf(
		"🚨 HEDGE LEG STUCK\n\nSymbol: %s\nLeg: %s\nError: %v\n\nNaked exposure, manual intervention required.",
		symbol, leg, err,
	))
}

func fillOr(o *domain.Order, fallback float64) float64 {
	if o != nil && o.FilledPrice > 0 {
		return o.FilledPrice
	}
	return fallback
}

func (s *Strategy) monitorActiveHedges(ctx context.Context) {
	for _, h := range s.ActiveHedges() {
		closed, err := s.monitorRisk(ctx, h)
		if err != nil {
			log.Errorf("Risk monitoring failed for %s: %v", h.Symbol, err)
			continue
		}
		if closed {
			s.mu.Lock()
			delete(s.Hedges, h.Symbol)
			s.PersistState(s)
			s.mu.Unlock()
			log.Infof("Hedge closed for %s", h.Symbol)
		}
	}
}

func (s *Strategy) basisSafe(basis float64) bool {
	if s.Risk != nil {
		return s.Risk.CheckBasisRisk(basis)
	}
	return math.Abs(basis) <= s.cfg.MaxBasisRisk
}

// monitorRisk 基差超过阈值时立即双腿平仓，返回 closed=true
func (s *Strategy) monitorRisk(ctx context.Context, h domain.Hedge) (bool, error) {
	perp, err := s.Gateway.GetPerpPrice(ctx, h.Symbol)
	if err != nil {
		return false, err
	}
	spot, err := s.Gateway.GetSpotPrice(ctx, h.Symbol)
	if err != nil {
		return false, err
	}
	basis := indicators.Basis(perp, spot)
	if err := s.Store.SetBasis(ctx, h.Symbol, basis); err != nil {
		log.Warnf("[%s] 写入基差失败: %v", h.Symbol, err)
	}

	if !s.basisSafe(basis) {
		log.Errorf("🚨 BASIS BLOWOUT ON %s. SPREAD: %.3f%%. EMERGENCY CLOSE.", h.Symbol, basis*100)
		s.closeHedge(ctx, h, "BASIS_BLOWOUT")
		s.Notifier.Critical(ctx, fmt.Sprintf(
			"🚨 BASIS BLOWOUT\n\nSymbol: %s\nSpread: %.3f%%\nLimit: %.1f%%\n\nHedge closed to preserve capital.",
			h.Symbol, basis*100, s.cfg.MaxBasisRisk*100,
		))
		return true, nil
	}

	funding, err := s.Gateway.GetFundingRate(ctx, h.Symbol)
	if err != nil {
		return false, err
	}
	if funding < s.cfg.MinFundingRate*0.5 {
		log.Infof("Funding rate dropped on %s: %.4f%%", h.Symbol, funding*100)
	}
	return false, nil
}

// closeHedge 并发平掉两条腿，按永续腿计算盈亏
func (s *Strategy) closeHedge(ctx context.Context, h domain.Hedge, reason string) {
	log.Infof("Closing hedge on %s | Reason: %s", h.Symbol, reason)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := s.ClosePosition(ctx, h.Symbol); err != nil {
			log.Errorf("平永续腿失败 %s: %v", h.Symbol, err)
		}
	}()
	go func() {
		defer wg.Done()
		if _, err := s.CreateOrder(ctx, domain.OrderRequest{
			Symbol: h.Symbol, Side: domain.SideSell, Amount: h.SpotSize, Type: domain.OrderTypeMarket, Market: domain.MarketSpot,
		}); err != nil {
			log.Errorf("卖出现货腿失败 %s: %v", h.Symbol, err)
		}
	}()
	wg.Wait()

	perpNow, err := s.Gateway.GetPerpPrice(ctx, h.Symbol)
	if err != nil {
		log.Warnf("获取平仓价格失败 %s: %v", h.Symbol, err)
		perpNow = h.PerpEntry
	}
	pnl := h.PerpPnL(perpNow)
	s.LogExit(ctx, domain.Position{
		Symbol:     h.Symbol,
		Side:       domain.PositionSideHedge,
		EntryPrice: h.PerpEntry,
		Size:       h.PerpSize,
		Strategy:   ID,
		EntryTime:  h.EntryTime,
		TradeID:    h.TradeID,
	}, perpNow, pnl)
	log.Infof("✅ Hedge closed: %s", h.Symbol)
}
