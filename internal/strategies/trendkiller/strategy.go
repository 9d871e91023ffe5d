package trendkiller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/blackpanther/internal/domain"
	"github.com/betbot/blackpanther/internal/indicators"
	"github.com/betbot/blackpanther/internal/strategies/common"
	"github.com/betbot/blackpanther/pkg/config"
)

const (
	ID = config.StrategyTrendKiller

	// oiSamples 保留的 OI 采样数（约 1 小时）
	oiSamples = 4

	defaultErrorBackoff = 10 * time.Second
)

var log = logrus.WithField("strategy", ID)

func init() { common.Register(ID, New) }

// Strategy OI + SuperTrend + CVD 趋势跟随。
// 价格方向由 SuperTrend 判断，OI 激增确认资金流入，CVD 用来识别假突破。
type Strategy struct {
	*common.Runtime

	cfg           config.TrendKillerConfig
	leverageLimit int

	mu sync.Mutex
	// OIHistory 每个交易对最近 oiSamples 次 OI 采样
	OIHistory map[string][]float64 `persistence:"oi_history"`
}

func New(deps common.Deps) (common.Strategy, error) {
	if deps.Config == nil {
		return nil, errors.New("trendkiller: config is nil")
	}
	s := &Strategy{
		Runtime:       common.NewRuntime(ID, deps.Config.Strategies.TrendKiller.Allocation, deps),
		cfg:           deps.Config.Strategies.TrendKiller,
		leverageLimit: deps.Config.System.LeverageLimit,
		OIHistory:     map[string][]float64{},
	}
	s.ErrorBackoff = defaultErrorBackoff
	return s, nil
}

func (s *Strategy) Validate() error {
	if s.cfg.Allocation <= 0 || s.cfg.Allocation > 1 {
		return fmt.Errorf("allocation 必须在 (0, 1] 之间")
	}
	if s.cfg.SuperTrendLength <= 0 || s.cfg.SuperTrendMult <= 0 {
		return fmt.Errorf("supertrend 参数必须大于 0")
	}
	if s.cfg.CandleLimit <= s.cfg.SuperTrendLength {
		return fmt.Errorf("candleLimit 必须大于 supertrendLength")
	}
	if s.cfg.ScanInterval <= 0 {
		return fmt.Errorf("scanInterval 必须大于 0")
	}
	if len(s.cfg.Watchlist) == 0 {
		return fmt.Errorf("watchlist 不能为空")
	}
	return nil
}

func (s *Strategy) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OIHistory == nil {
		s.OIHistory = map[string][]float64{}
	}
	return nil
}

// Run 每 ScanInterval 扫描一次观察列表
func (s *Strategy) Run(ctx context.Context) error {
	return s.Loop(ctx, s.cfg.ScanInterval, s.scan)
}

func (s *Strategy) scan(ctx context.Context) error {
	if !s.IsSafeToTrade(ctx) {
		log.Debug("风控不允许交易，跳过扫描")
		return nil
	}

	var errs common.ScanErrors
	for _, symbol := range s.cfg.Watchlist {
		if ctx.Err() != nil {
			return nil
		}
		sig, err := s.GetSignal(ctx, symbol)
		errs.Observe(err)
		if err != nil {
			log.Errorf("Error scanning %s: %v", symbol, err)
			continue
		}
		if !sig.Actionable() {
			continue
		}
		if err := s.execute(ctx, sig); err != nil {
			log.Errorf("Failed to execute signal on %s: %v", symbol, err)
		}
	}
	return errs.Err()
}

// recordOI 追加一次 OI 采样，返回最早的采样与当前样本数
func (s *Strategy) recordOI(symbol string, oi float64) (oldest float64, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := append(s.OIHistory[symbol], oi)
	if len(h) > oiSamples {
		h = h[len(h)-oiSamples:]
	}
	s.OIHistory[symbol] = h
	return h[0], len(h)
}

// GetSignal 三重过滤：SuperTrend 方向、OI 激增、CVD 确认。
// OI 采样不足两次时返回 nil。
func (s *Strategy) GetSignal(ctx context.Context, symbol string) (*domain.Signal, error) {
	candles, err := s.Gateway.FetchOHLCV(ctx, symbol, s.cfg.Timeframe, s.cfg.CandleLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch ohlcv: %w", err)
	}
	st, err := indicators.SuperTrend(candles, s.cfg.SuperTrendLength, s.cfg.SuperTrendMult)
	if err != nil {
		return nil, err
	}
	oi, err := s.Gateway.GetOpenInterest(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("get open interest: %w", err)
	}

	oldest, n := s.recordOI(symbol, oi)
	if n < 2 {
		return nil, nil
	}

	cvd, ok := indicators.LatestCVDTrend(candles)
	if !ok {
		return nil, fmt.Errorf("not enough candles for cvd: %d", len(candles))
	}
	if err := s.Store.SetCVD(ctx, symbol, cvd.Latest); err != nil {
		log.Warnf("[%s] 写入 CVD 失败: %v", symbol, err)
	}

	line, _ := st.Last()
	in := input{
		Close:    candles[len(candles)-1].Close,
		Line:     line,
		OISurge:  oi > oldest*s.cfg.OISurgeThreshold,
		CVD:      cvd,
		Required: s.cfg.CVDConfirmationRequired,
	}
	oiChangePct := 0.0
	if oldest > 0 {
		oiChangePct = (oi - oldest) / oldest * 100
	}

	sig := &domain.Signal{
		Strategy: ID,
		Symbol:   symbol,
		Metrics: map[string]float64{
			"supertrend":  line,
			"oiChangePct": oiChangePct,
			"cvdChange":   cvd.Change(),
		},
		CreatedAt: s.Now(),
	}
	sig.Action, sig.Confidence, sig.Reason = evaluate(in)

	switch sig.Action {
	case domain.ActionLong, domain.ActionShort:
		sig.EntryPrice = in.Close
		sig.StopLoss = line
		log.Infof("🔥 %s on %s: SuperTrend + OI %+.1f%% + CVD %s",
			sig.Action, symbol, oiChangePct, sig.Confidence)
	case domain.ActionReject:
		log.Warnf("🚫 FAKE MOVE on %s: OI %+.1f%% but CVD change %.2f", symbol, oiChangePct, cvd.Change())
	}
	s.RecordSignal(ctx, sig)
	return sig, nil
}

// input 决策表输入
type input struct {
	Close    float64
	Line     float64
	OISurge  bool
	CVD      indicators.CVDTrend
	Required bool
}

// evaluate 决策表：
//
//	上涨 + OI 激增 + CVD 上升        -> LONG HIGH
//	上涨 + OI 激增 + CVD 未上升      -> 需要确认时 REJECT，否则 LONG LOW
//	下跌 + OI 激增 + CVD 下降        -> SHORT HIGH
//	下跌 + OI 激增 + CVD 未下降      -> 需要确认时 REJECT，否则 SHORT LOW
//	其余                            -> WAIT
func evaluate(in input) (domain.SignalAction, domain.Confidence, string) {
	uptrend := in.Close > in.Line
	downtrend := in.Close < in.Line

	switch {
	case uptrend && in.OISurge:
		return confirm(domain.ActionLong, in.CVD.Rising, in.Required)
	case downtrend && in.OISurge:
		return confirm(domain.ActionShort, in.CVD.Falling, in.Required)
	}
	return domain.ActionWait, "", ""
}

func confirm(action domain.SignalAction, confirmed, required bool) (domain.SignalAction, domain.Confidence, string) {
	switch {
	case confirmed:
		return action, domain.ConfidenceHigh, ""
	case required:
		return domain.ActionReject, "", domain.ReasonCVDDivergence
	default:
		return action, domain.ConfidenceLow, ""
	}
}

// execute 下单前再次检查风控与已有仓位
func (s *Strategy) execute(ctx context.Context, sig *domain.Signal) error {
	symbol := sig.Symbol
	if !s.IsSafeToTrade(ctx) {
		log.Warnf("[%s] 下单前风控检查未通过，放弃信号", symbol)
		return nil
	}
	held, err := s.Store.HasPosition(ctx, symbol)
	if err != nil {
		return fmt.Errorf("check position: %w", err)
	}
	if held {
		log.Debugf("Already have position in %s", symbol)
		return nil
	}

	size, err := s.GetPositionSize(ctx, symbol)
	if err != nil {
		return err
	}
	if size <= 0 {
		return nil
	}

	leverage := min(s.cfg.Leverage, s.leverageLimit)
	if err := s.Gateway.SetLeverage(ctx, symbol, leverage); err != nil {
		return fmt.Errorf("set leverage: %w", err)
	}

	side := sig.OrderSide()
	if _, err := s.CreateOrder(ctx, domain.OrderRequest{
		Symbol: symbol,
		Side:   side,
		Amount: size,
		Type:   domain.OrderTypeMarket,
		Market: domain.MarketPerp,
	}); err != nil {
		return fmt.Errorf("create order: %w", err)
	}

	meta := map[string]any{
		"confidence":  string(sig.Confidence),
		"stopLoss":    sig.StopLoss,
		"oiChangePct": fmt.Sprintf("%+.1f%%", sig.Metrics["oiChangePct"]),
		"cvdChange":   sig.Metrics["cvdChange"],
		"leverage":    leverage,
	}
	s.LogEntry(ctx, common.Entry{
		Symbol: symbol,
		Side:   common.PositionSideOf(side),
		Price:  sig.EntryPrice,
		Size:   size,
		Meta:   meta,
	})
	s.Notifier.Signal(ctx, ID, symbol, string(sig.Action), string(sig.Confidence), map[string]any{
		"supertrend": sig.StopLoss,
		"oiChange":   meta["oiChangePct"],
		"cvdChange":  sig.Metrics["cvdChange"],
	})
	log.Infof("✅ %s executed: %s @ %v size=%v", sig.Action, symbol, sig.EntryPrice, size)
	return nil
}
