package common

import (
	"context"

	"github.com/betbot/blackpanther/internal/domain"
	"github.com/betbot/blackpanther/internal/ports"
	"github.com/betbot/blackpanther/internal/risk"
	"github.com/betbot/blackpanther/pkg/bbgo"
	"github.com/betbot/blackpanther/pkg/config"
	"github.com/betbot/blackpanther/pkg/persistence"
)

// Strategy 策略：Run 为常驻循环（ctx 取消后返回），GetSignal 对单个交易对给出决策
type Strategy interface {
	bbgo.Strategy
	GetSignal(ctx context.Context, symbol string) (*domain.Signal, error)
}

// Deps 策略运行依赖，由编排器注入
type Deps struct {
	Config    *config.Config
	Gateway   ports.Gateway
	Spot      ports.SpotVenue
	Store     ports.StateStore
	Ledger    ports.Ledger
	Notifier  ports.Notifier
	Sentiment ports.Sentiment
	Risk      ports.RiskGate
	Breaker   *risk.FailureBreaker
	// Persistence 为空时策略状态只在关闭时由 Trader 保存
	Persistence persistence.Service
}

// Factory 策略工厂
type Factory func(deps Deps) (Strategy, error)

var registry = bbgo.NewRegistry[Factory]()

// Register 在 init() 中注册策略工厂
func Register(id string, f Factory) {
	registry.Register(id, f)
}

// Build 按 ID 构造已注册的策略
func Build(id string, deps Deps) (Strategy, error) {
	f, err := registry.Lookup(id)
	if err != nil {
		return nil, err
	}
	return f(deps)
}
