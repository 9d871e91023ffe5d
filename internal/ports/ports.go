// Package ports 定义策略与风控依赖的外部协作者接口，具体实现位于 exchange、state、ledger、notify、sentiment 包。
package ports

import (
	"context"

	"github.com/betbot/blackpanther/internal/domain"
)

// Gateway 永续 + 现货交易所网关（Binance）
// 所有方法失败时返回错误，不返回畸形数据
type Gateway interface {
	GetBalance(ctx context.Context) (domain.Balance, error)
	GetPerpPrice(ctx context.Context, symbol string) (float64, error)
	GetSpotPrice(ctx context.Context, symbol string) (float64, error)
	GetFundingRate(ctx context.Context, symbol string) (float64, error)
	GetOpenInterest(ctx context.Context, symbol string) (float64, error)
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error)
	CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error)
	ClosePosition(ctx context.Context, symbol string) (*domain.Order, error)
	CancelAllOrders(ctx context.Context, symbol string) error
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	Ping(ctx context.Context) (float64, error)
	GetPositions(ctx context.Context) ([]domain.ExchangePosition, error)
	SymbolRules(symbol string) domain.SymbolRules
}

// SpotVenue 现货交易所（Gate.io），狙击策略使用
type SpotVenue interface {
	FetchTickers(ctx context.Context) ([]domain.Ticker, error)
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error)
	CheckLiquidity(ctx context.Context, symbol string) (domain.Liquidity, error)
	TradeablePairs(ctx context.Context, candidates []string) ([]string, error)
	CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error)
	GetBalance(ctx context.Context) (domain.Balance, error)
	GetPrice(ctx context.Context, symbol string) (float64, error)
	SymbolRules(symbol string) domain.SymbolRules
}

// StateStore 共享状态存储
type StateStore interface {
	SetKillSwitch(ctx context.Context, active bool) error
	KillSwitch(ctx context.Context) (bool, error)

	SetPosition(ctx context.Context, pos domain.Position) error
	GetPosition(ctx context.Context, symbol string) (*domain.Position, error)
	HasPosition(ctx context.Context, symbol string) (bool, error)
	DeletePosition(ctx context.Context, symbol string) error
	AllPositions(ctx context.Context) (map[string]domain.Position, error)

	SetStartEquity(ctx context.Context, v float64) error
	StartEquity(ctx context.Context) (float64, error)
	SetDailyPnL(ctx context.Context, v float64) error
	DailyPnL(ctx context.Context) (float64, error)
	SetSessionDay(ctx context.Context, day string) error
	SessionDay(ctx context.Context) (string, error)
	SetLatency(ctx context.Context, ms float64) error
	Latency(ctx context.Context) (float64, error)

	CacheSignal(ctx context.Context, sig domain.Signal) error
	CachedSignal(ctx context.Context, strategy, symbol string) (*domain.Signal, error)

	SetBasis(ctx context.Context, symbol string, basis float64) error
	Basis(ctx context.Context, symbol string) (float64, error)
	SetCVD(ctx context.Context, symbol string, cvd float64) error
	CVD(ctx context.Context, symbol string) (float64, error)
}

// Ledger 交易账本
type Ledger interface {
	LogTrade(ctx context.Context, t domain.Trade) (string, error)
	UpdateTradeExit(ctx context.Context, id string, exitPrice, pnl float64) error
	DailyPnL(ctx context.Context) (float64, error)
	StrategyStats(ctx context.Context, strategy string, days int) (domain.StrategyStats, error)
	RecentTrades(ctx context.Context, limit int) ([]domain.Trade, error)
}

// Notifier 告警通道，所有方法 fire-and-forget，错误只记日志
type Notifier interface {
	TradeEntry(ctx context.Context, strategy, symbol, side string, price, size float64, meta map[string]any)
	TradeExit(ctx context.Context, strategy, symbol string, entry, exit, pnl, pnlPct float64)
	Signal(ctx context.Context, strategy, symbol, signalType, confidence string, details map[string]any)
	Warning(ctx context.Context, message string)
	Critical(ctx context.Context, message string)
	DailySummary(ctx context.Context, summary domain.DailySummary)
	Startup(ctx context.Context, mode string, strategies []string)
}

// Sentiment 舆情服务
type Sentiment interface {
	CheckListingRumors(ctx context.Context, symbol string) (domain.RumorReport, error)
}

// RiskGate 策略在扫描和下单前检查的风控闸门
type RiskGate interface {
	IsSafeToTrade(ctx context.Context) bool
	CheckBasisRisk(basis float64) bool
}
