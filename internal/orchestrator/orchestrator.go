package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/blackpanther/internal/domain"
	"github.com/betbot/blackpanther/internal/ports"
	"github.com/betbot/blackpanther/internal/risk"
	"github.com/betbot/blackpanther/internal/strategies/common"
	"github.com/betbot/blackpanther/pkg/bbgo"
	"github.com/betbot/blackpanther/pkg/config"
	"github.com/betbot/blackpanther/pkg/persistence"
)

var log = logrus.WithField("component", "orchestrator")

// Summarizer 按时间区间汇总已平仓交易（ledger.Ledger 实现）
type Summarizer interface {
	Summary(ctx context.Context, from, to time.Time) (domain.DailySummary, error)
}

// Options 组装参数。Deps 中的 Risk、Breaker 与 Persistence 由 Orchestrator 填充。
type Options struct {
	Config      *config.Config
	Deps        common.Deps
	Monitor     *risk.Monitor
	Summaries   Summarizer
	Persistence persistence.Service
}

// Orchestrator 组合根：风控监控 + 已启用的策略，负责启动、日切汇总与关闭
type Orchestrator struct {
	cfg      *config.Config
	monitor  *risk.Monitor
	notifier ports.Notifier
	sums     Summarizer

	env     *bbgo.Environment
	trader  *bbgo.Trader
	breaker *risk.FailureBreaker
	ids     []string

	monitorDone chan struct{}
	startOnce   sync.Once
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Config == nil {
		return nil, errors.New("orchestrator: config is nil")
	}
	if opts.Monitor == nil {
		return nil, errors.New("orchestrator: risk monitor is nil")
	}
	if opts.Deps.Notifier == nil {
		return nil, errors.New("orchestrator: notifier is nil")
	}

	o := &Orchestrator{
		cfg:         opts.Config,
		monitor:     opts.Monitor,
		notifier:    opts.Deps.Notifier,
		sums:        opts.Summaries,
		env:         bbgo.NewEnvironment(opts.Persistence),
		monitorDone: make(chan struct{}),
	}
	o.trader = bbgo.NewTrader(o.env)
	o.breaker = risk.NewFailureBreaker(opts.Config.System.MaxConsecutiveFailures, o.onComponentFailing)

	deps := opts.Deps
	deps.Config = opts.Config
	deps.Risk = opts.Monitor
	deps.Breaker = o.breaker
	deps.Persistence = opts.Persistence

	for _, id := range opts.Config.Strategies.EnabledStrategies {
		s, err := common.Build(id, deps)
		if err != nil {
			return nil, fmt.Errorf("build strategy %s: %w", id, err)
		}
		o.trader.AddStrategy(s)
		o.ids = append(o.ids, id)
	}
	if len(o.ids) == 0 {
		return nil, errors.New("orchestrator: no strategy enabled")
	}

	o.monitor.OnSessionRollover(o.sendDailySummary)
	o.trader.OnExit(func(id string, err error) {
		if err != nil {
			o.notifier.Warning(context.Background(), fmt.Sprintf("Strategy %s exited: %v", id, err))
		}
	})
	return o, nil
}

// StrategyIDs 已启用的策略
func (o *Orchestrator) StrategyIDs() []string {
	return append([]string(nil), o.ids...)
}

// Breaker 组件连续失败计数
func (o *Orchestrator) Breaker() *risk.FailureBreaker { return o.breaker }

// Start 加载策略状态、发送启动通知，启动风控监控与所有策略后立即返回。
// ctx 取消后各组件在完成当前周期后退出，随后调用 Shutdown。
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.trader.LoadState(ctx); err != nil {
		return err
	}
	if err := o.trader.Initialize(ctx); err != nil {
		return err
	}

	mode := o.cfg.System.Mode
	if o.cfg.DryRun {
		mode += " (dry-run)"
	}
	log.Infof("🐆 启动: mode=%s strategies=%v", mode, o.ids)
	o.notifier.Startup(ctx, mode, o.StrategyIDs())

	o.startOnce.Do(func() {
		o.env.OnShutdown("risk-monitor", o.waitMonitor)
		go func() {
			defer close(o.monitorDone)
			if err := o.monitor.Start(ctx); err != nil {
				log.Errorf("风控监控退出: %v", err)
			}
		}()
	})
	return o.trader.Run(ctx)
}

// Done 所有策略退出后关闭
func (o *Orchestrator) Done() <-chan struct{} { return o.trader.Done() }

// Shutdown 等待策略与风控监控退出（受 ctx 超时约束）并保存策略状态
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.trader.Shutdown(ctx)
	log.Info("👋 已关闭")
}

func (o *Orchestrator) waitMonitor(ctx context.Context) {
	select {
	case <-o.monitorDone:
	case <-ctx.Done():
	}
}

// onComponentFailing 组件连续失败达到上限：触发熔断并平掉所有仓位
func (o *Orchestrator) onComponentFailing(component string, failures int64) {
	reason := fmt.Sprintf("component %s failing repeatedly (%d consecutive errors)", component, failures)
	if err := o.monitor.ManualShutdown(context.Background(), reason); err != nil {
		log.Errorf("熔断平仓未完全成功: %v", err)
	}
}

// sendDailySummary UTC 日切时汇总上一交易日
func (o *Orchestrator) sendDailySummary(ctx context.Context, prevDay string) {
	if o.sums == nil {
		return
	}
	from, err := time.Parse("2006-01-02", prevDay)
	if err != nil {
		log.Warnf("无法解析交易日 %q: %v", prevDay, err)
		return
	}
	summary, err := o.sums.Summary(ctx, from, from.Add(24*time.Hour))
	if err != nil {
		log.Errorf("生成日报失败: %v", err)
		return
	}
	summary.Date = prevDay
	log.Infof("📊 日报 %s: pnl=$%.2f trades=%d winRate=%.1f%%",
		prevDay, summary.TotalPnL, summary.TradeCount, summary.WinRate)
	o.notifier.DailySummary(ctx, summary)
}
