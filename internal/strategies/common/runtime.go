package common

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/blackpanther/internal/domain"
	"github.com/betbot/blackpanther/internal/metrics"
	"github.com/betbot/blackpanther/pkg/persistence"
)

var log = logrus.WithField("component", "strategy_runtime")

const (
	VenueBinance = "binance"
	VenueGate    = "gate"

	defaultErrorBackoff = 5 * time.Second
	defaultOrderTimeout = 15 * time.Second
	bookkeepingTimeout  = 10 * time.Second
)

// Runtime 策略公共能力：仓位计算、下单、开平仓记账、常驻循环。
// 具体策略以组合方式持有 *Runtime。
type Runtime struct {
	Deps

	id         string
	allocation float64
	log        *logrus.Entry

	// ErrorBackoff 周期失败后的等待
	ErrorBackoff time.Duration
	// OrderTimeout 单次下单的超时，不受策略 ctx 取消影响
	OrderTimeout time.Duration

	pending sync.WaitGroup
	now     func() time.Time
}

func NewRuntime(id string, allocation float64, deps Deps) *Runtime {
	return &Runtime{
		Deps:         deps,
		id:           id,
		allocation:   allocation,
		log:          logrus.WithField("strategy", id),
		ErrorBackoff: defaultErrorBackoff,
		OrderTimeout: defaultOrderTimeout,
		now:          time.Now,
	}
}

func (r *Runtime) ID() string { return r.id }

func (r *Runtime) Log() *logrus.Entry { return r.log }

func (r *Runtime) Allocation() float64 { return r.allocation }

// Now 当前时间（UTC）
func (r *Runtime) Now() time.Time { return r.now().UTC() }

// SetClock 测试用
func (r *Runtime) SetClock(now func() time.Time) { r.now = now }

// IsSafeToTrade 未配置风控闸门时视为安全
func (r *Runtime) IsSafeToTrade(ctx context.Context) bool {
	if r.Risk == nil {
		return true
	}
	return r.Risk.IsSafeToTrade(ctx)
}

// GetPositionSize 永续仓位大小：可用余额 × 策略占比 ÷ 永续价格
func (r *Runtime) GetPositionSize(ctx context.Context, symbol string) (float64, error) {
	bal, err := r.Gateway.GetBalance(ctx)
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	price, err := r.Gateway.GetPerpPrice(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("get perp price %s: %w", symbol, err)
	}
	size := PositionSize(bal.Free, r.allocation, price, r.Gateway.SymbolRules(symbol))
	if size == 0 {
		r.log.Warnf("%s: 仓位过小，跳过", symbol)
	}
	return size, nil
}

// SpotPositionSize 现货交易所上的仓位大小，fraction 为本笔占可用余额的比例
func (r *Runtime) SpotPositionSize(ctx context.Context, symbol string, fraction, price float64) (float64, error) {
	bal, err := r.Spot.GetBalance(ctx)
	if err != nil {
		return 0, fmt.Errorf("get spot balance: %w", err)
	}
	return PositionSize(bal.Free, fraction, price, r.Spot.SymbolRules(symbol)), nil
}

// orderContext 下单使用独立 ctx：策略停止时在途订单仍可完成
func (r *Runtime) orderContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.OrderTimeout)
}

// CreateOrder 在永续/现货网关（Binance）下单
func (r *Runtime) CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	octx, cancel := r.orderContext(ctx)
	defer cancel()
	order, err := r.Gateway.CreateOrder(octx, req)
	metrics.ObserveOrder(r.id, VenueBinance, err)
	return order, err
}

// ClosePosition 平掉永续仓位
func (r *Runtime) ClosePosition(ctx context.Context, symbol string) (*domain.Order, error) {
	octx, cancel := r.orderContext(ctx)
	defer cancel()
	order, err := r.Gateway.ClosePosition(octx, symbol)
	metrics.ObserveOrder(r.id, VenueBinance, err)
	return order, err
}

// CreateSpotOrder 在现货交易所（Gate.io）下单
func (r *Runtime) CreateSpotOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	octx, cancel := r.orderContext(ctx)
	defer cancel()
	req.Market = domain.MarketSpot
	order, err := r.Spot.CreateOrder(octx, req)
	metrics.ObserveOrder(r.id, VenueGate, err)
	return order, err
}

// RecordSignal 信号计数并在状态存储中短期缓存
func (r *Runtime) RecordSignal(ctx context.Context, sig *domain.Signal) {
	if sig == nil {
		return
	}
	metrics.SignalsTotal.WithLabelValues(r.id, string(sig.Action)).Inc()
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = r.Now()
	}
	if err := r.Store.CacheSignal(ctx, *sig); err != nil {
		r.log.Warnf("缓存信号失败 %s: %v", sig.Symbol, err)
	}
}

// Entry 开仓记账参数
type Entry struct {
	Symbol string
	Side   domain.PositionSide
	// Market 为空表示永续
	Market domain.MarketType
	Price  float64
	Size   float64
	Meta   map[string]any
}

// LogEntry 开仓记账：状态存储、账本、告警三路并发写入，互不阻塞。
// 返回的仓位带账本交易 ID，平仓时用于补写结果。
func (r *Runtime) LogEntry(ctx context.Context, e Entry) domain.Position {
	pos := domain.Position{
		Symbol:     e.Symbol,
		Side:       e.Side,
		Market:     e.Market,
		EntryPrice: e.Price,
		Size:       e.Size,
		Strategy:   r.id,
		EntryTime:  r.Now(),
		TradeID:    uuid.NewString(),
	}
	side := ledgerSide(e.Side)

	r.spawn(ctx, "state", func(ctx context.Context) error {
		return r.Store.SetPosition(ctx, pos)
	})
	r.spawn(ctx, "ledger", func(ctx context.Context) error {
		_, err := r.Ledger.LogTrade(ctx, domain.Trade{
			ID:         pos.TradeID,
			Timestamp:  pos.EntryTime,
			Strategy:   r.id,
			Symbol:     e.Symbol,
			Side:       side,
			EntryPrice: e.Price,
			Meta:       e.Meta,
		})
		return err
	})
	r.spawn(ctx, "notify", func(ctx context.Context) error {
		r.Notifier.TradeEntry(ctx, r.id, e.Symbol, side, e.Price, e.Size, e.Meta)
		return nil
	})

	metrics.OpenPositions.WithLabelValues(r.id).Inc()
	r.log.Infof("📥 开仓 %s %s @ %v size=%v", side, e.Symbol, e.Price, e.Size)
	return pos
}

// LogExit 平仓记账：删除状态存储中的仓位、补写账本、发送平仓告警
func (r *Runtime) LogExit(ctx context.Context, pos domain.Position, exitPrice, pnl float64) {
	pnlPct := pos.PnLPct(exitPrice) * 100

	r.spawn(ctx, "state", func(ctx context.Context) error {
		return r.Store.DeletePosition(ctx, pos.Symbol)
	})
	if pos.TradeID != "" {
		r.spawn(ctx, "ledger", func(ctx context.Context) error {
			return r.Ledger.UpdateTradeExit(ctx, pos.TradeID, exitPrice, pnl)
		})
	}
	r.spawn(ctx, "notify", func(ctx context.Context) error {
		r.Notifier.TradeExit(ctx, r.id, pos.Symbol, pos.EntryPrice, exitPrice, pnl, pnlPct)
		return nil
	})

	metrics.OpenPositions.WithLabelValues(r.id).Dec()
	r.log.Infof("📤 平仓 %s @ %v pnl=$%.2f (%.2f%%)", pos.Symbol, exitPrice, pnl, pnlPct)
}

// UpdatePosition 部分平仓后同步刷新状态存储中的仓位，保证先于随后的平仓删除
func (r *Runtime) UpdatePosition(ctx context.Context, pos domain.Position) {
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()
	if err := r.Store.SetPosition(bctx, pos); err != nil {
		r.log.Errorf("记账失败 (state): %v", err)
	}
}

// PersistState 立即保存 obj 中带 persistence tag 的字段，
// 调用方需持有保护这些字段的锁
func (r *Runtime) PersistState(obj any) {
	if r.Persistence == nil {
		return
	}
	if err := persistence.SaveFields(obj, r.id, r.Persistence); err != nil {
		r.log.Errorf("保存策略状态失败: %v", err)
	}
}

func (r *Runtime) spawn(ctx context.Context, what string, fn func(ctx context.Context) error) {
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
		defer cancel()
		if err := fn(bctx); err != nil {
			r.log.Errorf("记账失败 (%s): %v", what, err)
		}
	}()
}

// Wait 等待所有在途记账完成
func (r *Runtime) Wait() { r.pending.Wait() }

// Shutdown 策略关闭时等待记账完成
func (r *Runtime) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		r.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		r.log.Warn("等待记账完成超时")
	}
}

// Loop 常驻循环：执行一个周期，等待 interval 或 ctx 取消。
// 周期失败时记日志、上报失败熔断器，并以 ErrorBackoff 重试。
func (r *Runtime) Loop(ctx context.Context, interval time.Duration, cycle func(ctx context.Context) error) error {
	r.log.Infof("🚀 %s started (interval=%s)", r.id, interval)
	for {
		wait := interval
		if err := r.runCycle(ctx, cycle); err != nil {
			if ctx.Err() != nil {
				r.log.Infof("🛑 %s stopped", r.id)
				return nil
			}
			r.log.Errorf("%s error: %v", r.id, err)
			metrics.StrategyErrorsTotal.WithLabelValues(r.id).Inc()
			r.Breaker.OnError(r.id)
			wait = r.ErrorBackoff
		} else {
			r.Breaker.OnSuccess(r.id)
		}

		select {
		case <-ctx.Done():
			r.log.Infof("🛑 %s stopped", r.id)
			return nil
		case <-time.After(wait):
		}
	}
}

func (r *Runtime) runCycle(ctx context.Context, cycle func(ctx context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Errorf("周期 panic: %v\n%s", rec, debug.Stack())
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return cycle(ctx)
}

func ledgerSide(side domain.PositionSide) string {
	switch side {
	case domain.PositionSideLong:
		return string(domain.SideBuy)
	case domain.PositionSideShort:
		return string(domain.SideSell)
	default:
		return string(side)
	}
}

// PositionSideOf 下单方向对应的仓位方向
func PositionSideOf(side domain.Side) domain.PositionSide {
	if side == domain.SideSell {
		return domain.PositionSideShort
	}
	return domain.PositionSideLong
}

// ScanErrors 统计一次扫描中的失败；全部失败时视为周期失败
type ScanErrors struct {
	total  int
	failed int
	last   error
}

func (s *ScanErrors) Observe(err error) {
	s.total++
	if err != nil {
		s.failed++
		s.last = err
	}
}

// Err 所有交易对都失败时返回最后一个错误
func (s *ScanErrors) Err() error {
	if s.total > 0 && s.failed == s.total {
		return fmt.Errorf("all %d symbols failed: %w", s.total, s.last)
	}
	return nil
}
