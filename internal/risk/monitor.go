package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/blackpanther/internal/domain"
	"github.com/betbot/blackpanther/internal/metrics"
	"github.com/betbot/blackpanther/internal/ports"
)

var log = logrus.WithField("component", "risk")

// ErrKillSwitchActive 熔断开关已打开，禁止开新仓
var ErrKillSwitchActive = errors.New("risk: kill switch active")

const sessionDayLayout = "2006-01-02"

// Config 风控参数
type Config struct {
	MaxDailyDrawdown float64       // 小数，0.10 = 10%
	MaxLatencyMs     float64       // 超过后只告警并暂停开仓
	MaxBasisRisk     float64       // |basis| 超过视为不安全
	Interval         time.Duration // 检查周期，默认 5s
	ErrorBackoff     time.Duration // 周期失败后的等待，默认 1s
	UnwindTimeout    time.Duration // 紧急平仓的总超时，默认 30s
}

// RolloverHandler UTC 日切时调用，prevDay 为上一交易日（YYYY-MM-DD）
type RolloverHandler func(ctx context.Context, prevDay string)

// Monitor 全局风控：回撤熔断、延迟检查、基差检查。
// 覆盖所有策略，独立于策略运行。
type Monitor struct {
	cfg      Config
	gateway  ports.Gateway
	store    ports.StateStore
	notifier ports.Notifier
	// spot 现货交易所，熔断时卖出现货仓位
	spot ports.SpotVenue

	// triggered 保证紧急平仓只执行一次
	triggered atomic.Bool

	mu        sync.Mutex
	rollovers []RolloverHandler

	now func() time.Time
}

var _ ports.RiskGate = (*Monitor)(nil)

func NewMonitor(cfg Config, gateway ports.Gateway, store ports.StateStore, notifier ports.Notifier) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	if cfg.UnwindTimeout <= 0 {
		cfg.UnwindTimeout = 30 * time.Second
	}
	return &Monitor{
		cfg:      cfg,
		gateway:  gateway,
		store:    store,
		notifier: notifier,
		now:      time.Now,
	}
}

// UseSpotVenue 设置现货交易所；需在 Start 之前调用
func (m *Monitor) UseSpotVenue(v ports.SpotVenue) {
	m.spot = v
}

// OnSessionRollover 注册日切回调（日终汇总等）
func (m *Monitor) OnSessionRollover(h RolloverHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollovers = append(m.rollovers, h)
}

// Start 记录起始权益后按周期检查，直到 ctx 取消
func (m *Monitor) Start(ctx context.Context) error {
	log.Infof("🛡️ 风控监控启动: maxDrawdown=%.2f%% maxLatency=%.0fms interval=%s",
		m.cfg.MaxDailyDrawdown*100, m.cfg.MaxLatencyMs, m.cfg.Interval)

	if err := m.initSession(ctx); err != nil {
		log.Errorf("初始化起始权益失败（将在下个周期重试）: %v", err)
	}

	for {
		wait := m.cfg.Interval
		if err := m.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Errorf("风控检查失败: %v", err)
			wait = m.cfg.ErrorBackoff
		}
		select {
		case <-ctx.Done():
			log.Info("风控监控已停止")
			return nil
		case <-time.After(wait):
		}
	}
}

// initSession 同一交易日内重启时沿用已持久化的起始权益
func (m *Monitor) initSession(ctx context.Context) error {
	if killed, err := m.store.KillSwitch(ctx); err == nil && killed {
		m.triggered.Store(true)
		metrics.SetKillSwitch(true)
		log.Warn("⚠️ 熔断开关处于打开状态，需手动重置")
	}

	bal, err := m.gateway.GetBalance(ctx)
	if err != nil {
		return err
	}
	today := m.today()
	day, err := m.store.SessionDay(ctx)
	if err != nil {
		return err
	}
	start, err := m.store.StartEquity(ctx)
	if err != nil {
		return err
	}
	if day == today && start > 0 {
		log.Infof("沿用当日起始权益: $%.2f", start)
		return nil
	}
	return m.rebase(ctx, today, bal.Total)
}

func (m *Monitor) rebase(ctx context.Context, day string, equity float64) error {
	if err := m.store.SetStartEquity(ctx, equity); err != nil {
		return err
	}
	if err := m.store.SetDailyPnL(ctx, 0); err != nil {
		return err
	}
	if err := m.store.SetSessionDay(ctx, day); err != nil {
		return err
	}
	metrics.Equity.Set(equity)
	metrics.Drawdown.Set(0)
	log.Infof("📌 起始权益: $%.2f (%s)", equity, day)
	return nil
}

// RunOnce 执行一次完整检查。子检查失败只记录日志，不中断本周期
func (m *Monitor) RunOnce(ctx context.Context) error {
	killed, err := m.store.KillSwitch(ctx)
	if err != nil {
		return fmt.Errorf("read kill switch: %w", err)
	}
	metrics.SetKillSwitch(killed)
	if killed {
		m.triggered.Store(true)
		return nil
	}

	if err := m.checkDrawdown(ctx); err != nil {
		log.Errorf("回撤检查失败: %v", err)
	}
	if err := m.checkLatency(ctx); err != nil {
		log.Errorf("延迟检查失败: %v", err)
	}
	return nil
}

func (m *Monitor) checkDrawdown(ctx context.Context) error {
	bal, err := m.gateway.GetBalance(ctx)
	if err != nil {
		return err
	}
	cur := bal.Total
	metrics.Equity.Set(cur)

	today := m.today()
	day, err := m.store.SessionDay(ctx)
	if err != nil {
		return err
	}
	if day != today {
		if day != "" {
			m.fireRollover(ctx, day)
		}
		return m.rebase(ctx, today, cur)
	}

	start, err := m.store.StartEquity(ctx)
	if err != nil {
		return err
	}
	if start <= 0 {
		return m.rebase(ctx, today, cur)
	}

	drawdown := (cur - start) / start
	metrics.Drawdown.Set(drawdown)
	if err := m.store.SetDailyPnL(ctx, cur-start); err != nil {
		return err
	}

	if drawdown < -m.cfg.MaxDailyDrawdown {
		return m.TriggerShutdown(ctx, fmt.Sprintf("DRAWDOWN LIMIT HIT: %.2f%%", drawdown*100))
	}
	return nil
}

func (m *Monitor) fireRollover(ctx context.Context, prevDay string) {
	m.mu.Lock()
	handlers := append([]RolloverHandler(nil), m.rollovers...)
	m.mu.Unlock()
	log.Infof("🌅 交易日切换: %s -> %s", prevDay, m.today())
	for _, h := range handlers {
		h(ctx, prevDay)
	}
}

func (m *Monitor) checkLatency(ctx context.Context) error {
	ms, err := m.gateway.Ping(ctx)
	if err != nil {
		return err
	}
	metrics.LatencyMs.Set(ms)
	if err := m.store.SetLatency(ctx, ms); err != nil {
		return err
	}
	if m.cfg.MaxLatencyMs > 0 && ms > m.cfg.MaxLatencyMs {
		log.Warnf("⚠️ 交易所延迟过高: %.0fms（暂停开新仓）", ms)
	}
	return nil
}

// TriggerShutdown 紧急熔断：置位开关、撤单、平掉所有仓位、发送一次严重告警。
// 并发调用时只有一个调用方执行，其余直接返回 nil。
func (m *Monitor) TriggerShutdown(ctx context.Context, reason string) error {
	if !m.triggered.CompareAndSwap(false, true) {
		return nil
	}
	log.Errorf("🚨 KILL SWITCH TRIGGERED: %s", reason)

	// 平仓不受上层 ctx 取消影响
	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.UnwindTimeout)
	defer cancel()

	var errs []error
	if err := m.store.SetKillSwitch(uctx, true); err != nil {
		log.Errorf("持久化熔断开关失败: %v", err)
		errs = append(errs, err)
	}
	metrics.SetKillSwitch(true)
	metrics.KillSwitchTriggers.Inc()

	cancelLine := "All orders cancelled."
	if err := m.gateway.CancelAllOrders(uctx, ""); err != nil {
		log.Errorf("撤单失败: %v", err)
		errs = append(errs, err)
		cancelLine = "Order cancellation FAILED."
	}

	u := &unwind{}
	perpSeen := map[string]bool{}
	if positions, err := m.gateway.GetPositions(uctx); err != nil {
		log.Errorf("获取交易所持仓失败: %v", err)
		errs = append(errs, err)
	} else {
		for _, p := range positions {
			perpSeen[p.Symbol] = true
			ok, err := m.closePerp(uctx, p.Symbol)
			u.record(p.Symbol, "perp", ok, err)
		}
	}

	if tracked, err := m.store.AllPositions(uctx); err != nil {
		log.Errorf("读取状态存储持仓失败: %v", err)
		errs = append(errs, err)
	} else {
		symbols := make([]string, 0, len(tracked))
		for symbol := range tracked {
			symbols = append(symbols, symbol)
		}
		sort.Strings(symbols)
		for _, symbol := range symbols {
			m.unwindTracked(uctx, tracked[symbol], perpSeen[symbol], u)
		}
	}
	errs = append(errs, u.errs...)

	m.notifier.Critical(uctx, fmt.Sprintf(
		"🚨 PROTOCOL SHUTDOWN\n\nReason: %s\nClosed: %s\nFailed: %s\n%s\n\nManual intervention required.",
		reason, listOrNone(u.closed), listOrNone(u.failed), cancelLine,
	))
	log.Error("🛑 BLACKPANTHER SHUTDOWN COMPLETE")
	return errors.Join(errs...)
}

// unwind 熔断平仓结果，closed/failed 形如 "BTCUSDT perp"
type unwind struct {
	closed []string
	failed []string
	errs   []error
}

// record ok=false 且 err 为空表示交易所上没有对应持仓
func (u *unwind) record(symbol, leg string, ok bool, err error) {
	name := symbol + " " + leg
	switch {
	case err != nil:
		u.failed = append(u.failed, name)
		u.errs = append(u.errs, err)
	case ok:
		u.closed = append(u.closed, name)
	}
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

// unwindTracked 按仓位所在市场平仓：对冲仓位平永续并卖出现货腿，
// 现货仓位在现货交易所卖出，其余视为永续
func (m *Monitor) unwindTracked(ctx context.Context, pos domain.Position, perpDone bool, u *unwind) {
	switch {
	case pos.Side == domain.PositionSideHedge:
		if !perpDone {
			ok, err := m.closePerp(ctx, pos.Symbol)
			u.record(pos.Symbol, "perp", ok, err)
		}
		ok, err := m.sellSpot(ctx, pos, m.gateway.CreateOrder)
		u.record(pos.Symbol, "spot", ok, err)
	case pos.Market == domain.MarketSpot:
		if m.spot == nil {
			err := fmt.Errorf("close %s: no spot venue configured", pos.Symbol)
			log.Error(err)
			u.record(pos.Symbol, "spot", false, err)
			return
		}
		ok, err := m.sellSpot(ctx, pos, m.spot.CreateOrder)
		u.record(pos.Symbol, "spot", ok, err)
	case !perpDone:
		ok, err := m.closePerp(ctx, pos.Symbol)
		u.record(pos.Symbol, "perp", ok, err)
	}
}

// closePerp 返回是否真的平掉了仓位
func (m *Monitor) closePerp(ctx context.Context, symbol string) (bool, error) {
	order, err := m.gateway.ClosePosition(ctx, symbol)
	if err != nil {
		log.Errorf("平仓失败 %s: %v", symbol, err)
		return false, fmt.Errorf("close %s: %w", symbol, err)
	}
	if order == nil {
		log.Infof("无永续持仓: %s", symbol)
		return false, nil
	}
	log.Infof("已平仓: %s", symbol)
	return true, nil
}

type createOrderFunc func(ctx context.Context, req domain.OrderRequest) (*domain.Order, error)

// sellSpot 按记录的数量市价卖出现货
func (m *Monitor) sellSpot(ctx context.Context, pos domain.Position, create createOrderFunc) (bool, error) {
	if pos.Size <= 0 {
		log.Warnf("现货仓位数量为 0，跳过: %s", pos.Symbol)
		return false, nil
	}
	if _, err := create(ctx, domain.OrderRequest{
		Symbol: pos.Symbol,
		Side:   domain.SideSell,
		Amount: pos.Size,
		Type:   domain.OrderTypeMarket,
		Market: domain.MarketSpot,
	}); err != nil {
		log.Errorf("卖出现货失败 %s: %v", pos.Symbol, err)
		return false, fmt.Errorf("sell spot %s: %w", pos.Symbol, err)
	}
	log.Infof("已卖出现货: %s %v", pos.Symbol, pos.Size)
	return true, nil
}

// ManualShutdown 人工或编排器触发的熔断
func (m *Monitor) ManualShutdown(ctx context.Context, reason string) error {
	if reason == "" {
		reason = "Manual trigger"
	}
	return m.TriggerShutdown(ctx, reason)
}

// ResetKillSwitch 手动解除熔断，并以当前权益作为新的起始权益
func (m *Monitor) ResetKillSwitch(ctx context.Context) error {
	if err := m.store.SetKillSwitch(ctx, false); err != nil {
		return err
	}
	m.triggered.Store(false)
	metrics.SetKillSwitch(false)

	if bal, err := m.gateway.GetBalance(ctx); err != nil {
		log.Warnf("重置后刷新起始权益失败: %v", err)
	} else if err := m.rebase(ctx, m.today(), bal.Total); err != nil {
		log.Warnf("重置后刷新起始权益失败: %v", err)
	}

	log.Warn("✅ 熔断开关已手动重置")
	m.notifier.Warning(ctx, "Kill switch reset manually. Trading resumes.")
	return nil
}

// Triggered 本进程内是否已熔断
func (m *Monitor) Triggered() bool { return m.triggered.Load() }

// IsSafeToTrade 开关未打开且交易所延迟正常时返回 true
func (m *Monitor) IsSafeToTrade(ctx context.Context) bool {
	if m.triggered.Load() {
		return false
	}
	killed, err := m.store.KillSwitch(ctx)
	if err != nil || killed {
		return false
	}
	ms, err := m.gateway.Ping(ctx)
	if err != nil {
		log.Warnf("交易暂停: ping 失败: %v", err)
		return false
	}
	if m.cfg.MaxLatencyMs > 0 && ms > m.cfg.MaxLatencyMs {
		log.Warnf("交易暂停: 延迟过高 (%.0fms)", ms)
		return false
	}
	return true
}

// CheckBasisRisk |basis| 超过阈值时返回 false（需要紧急平仓）
func (m *Monitor) CheckBasisRisk(basis float64) bool {
	return math.Abs(basis) <= m.cfg.MaxBasisRisk
}

func (m *Monitor) today() string {
	return m.now().UTC().Format(sessionDayLayout)
}
