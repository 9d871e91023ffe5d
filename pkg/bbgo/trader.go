package bbgo

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/betbot/blackpanther/pkg/persistence"
	"github.com/betbot/blackpanther/pkg/syncgroup"
)

var traderLog = logrus.WithField("component", "trader")

// StrategyID 策略ID接口
type StrategyID interface {
	ID() string
}

// Strategy 独立调度的策略：Run 是常驻循环，ctx 取消后返回
type Strategy interface {
	StrategyID
	Run(ctx context.Context) error
}

// StrategyDefaulter 可选：设置默认值
type StrategyDefaulter interface {
	Defaults() error
}

// StrategyValidator 可选：验证配置
type StrategyValidator interface {
	Validate() error
}

// StrategyInitializer 可选：初始化（在 LoadState 之后、Run 之前调用）
type StrategyInitializer interface {
	Initialize() error
}

// StrategyShutdown 可选：系统关闭时调用
type StrategyShutdown interface {
	Shutdown(ctx context.Context)
}

// ExitHandler 策略 Run 返回时回调（err 为 nil 表示正常退出）
type ExitHandler func(id string, err error)

// Trader 策略管理器，管理策略生命周期
type Trader struct {
	environment *Environment

	strategies   []Strategy
	strategiesMu sync.RWMutex

	group  *syncgroup.SyncGroup
	onExit ExitHandler
}

// NewTrader 创建新的策略管理器
func NewTrader(environ *Environment) *Trader {
	return &Trader{
		environment: environ,
		group:       syncgroup.NewSyncGroup(),
	}
}

// AddStrategy 添加策略
func (t *Trader) AddStrategy(s Strategy) {
	t.strategiesMu.Lock()
	defer t.strategiesMu.Unlock()
	t.strategies = append(t.strategies, s)
}

// OnExit 设置策略退出回调
func (t *Trader) OnExit(h ExitHandler) {
	t.onExit = h
}

// Strategies 获取所有策略
func (t *Trader) Strategies() []Strategy {
	t.strategiesMu.RLock()
	defer t.strategiesMu.RUnlock()
	out := make([]Strategy, len(t.strategies))
	copy(out, t.strategies)
	return out
}

// Initialize 依次调用 Defaults、Validate、Initialize
func (t *Trader) Initialize(ctx context.Context) error {
	for _, s := range t.Strategies() {
		if d, ok := s.(StrategyDefaulter); ok {
			if err := d.Defaults(); err != nil {
				return fmt.Errorf("strategy %s defaults error: %w", s.ID(), err)
			}
		}
		if v, ok := s.(StrategyValidator); ok {
			if err := v.Validate(); err != nil {
				return fmt.Errorf("strategy %s validation error: %w", s.ID(), err)
			}
		}
		if i, ok := s.(StrategyInitializer); ok {
			if err := i.Initialize(); err != nil {
				return fmt.Errorf("strategy %s initialization error: %w", s.ID(), err)
			}
		}
	}
	return nil
}

// Run 为每个策略启动一个 goroutine 并立即返回
// 策略 panic 会被恢复并当作错误上报给 OnExit
func (t *Trader) Run(ctx context.Context) error {
	strategies := t.Strategies()
	if len(strategies) == 0 {
		return errors.New("没有可运行的策略")
	}

	for _, s := range strategies {
		s := s
		if sd, ok := s.(StrategyShutdown); ok {
			t.environment.OnShutdown(s.ID(), sd.Shutdown)
		}
		t.group.Add(s.ID(), func() {
			err := runStrategy(ctx, s)
			if err != nil && ctx.Err() == nil {
				traderLog.Errorf("❌ 策略 %s 退出: %v", s.ID(), err)
			} else {
				traderLog.Infof("策略 %s 已停止", s.ID())
			}
			if t.onExit != nil {
				t.onExit(s.ID(), err)
			}
		})
		traderLog.Infof("🚀 策略 %s 已启动", s.ID())
	}
	t.group.Run()

	traderLog.Infof("所有策略已启动，共 %d 个策略", len(strategies))
	return nil
}

func runStrategy(ctx context.Context, s Strategy) (err error) {
	defer func() {
		if r := recover(); r != nil {
			traderLog.Errorf("策略 %s panic: %v\n%s", s.ID(), r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Run(ctx)
}

// Done 所有策略 goroutine 结束后关闭
func (t *Trader) Done() <-chan struct{} {
	return t.group.WaitC()
}

// LoadState 加载策略持久化字段
func (t *Trader) LoadState(ctx context.Context) error {
	ps := t.environment.Persistence()
	if ps == nil {
		return nil
	}
	for _, s := range t.Strategies() {
		if err := persistence.LoadFields(s, s.ID(), ps); err != nil {
			traderLog.Warnf("加载策略 %s 状态失败: %v", s.ID(), err)
		}
	}
	return nil
}

// SaveState 保存策略持久化字段
func (t *Trader) SaveState(ctx context.Context) error {
	ps := t.environment.Persistence()
	if ps == nil {
		return nil
	}
	var firstErr error
	for _, s := range t.Strategies() {
		if err := persistence.SaveFields(s, s.ID(), ps); err != nil {
			traderLog.Warnf("保存策略 %s 状态失败: %v", s.ID(), err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Shutdown 执行环境中登记的关闭回调，等待策略 goroutine 退出（受 ctx 超时约束），最后保存状态
func (t *Trader) Shutdown(ctx context.Context) {
	t.environment.Shutdown(ctx)

	select {
	case <-t.Done():
	case <-ctx.Done():
		traderLog.Warnf("等待策略退出超时: %v，仍在运行: %v", ctx.Err(), t.group.Running())
	}

	if err := t.SaveState(ctx); err != nil {
		traderLog.Warnf("保存策略状态失败: %v", err)
	}
}
