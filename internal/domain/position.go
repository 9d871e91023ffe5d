package domain

import (
	"time"
)

// PositionSide 仓位方向
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
	// PositionSideHedge 资金费率套利的双腿仓位（空永续 + 多现货）
	PositionSideHedge PositionSide = "hedge"
)

// Position 仓位领域模型
// 由开仓的策略独占；同时以 symbol 为键镜像到状态存储，便于风控与其他组件查询。
// 不变量：同一 symbol 任何时刻最多一个未平仓位（跨策略），开仓前以状态存储为准检查。
type Position struct {
	Symbol string       `json:"symbol"`
	Side   PositionSide `json:"side"`
	// Market 持仓所在市场；为空表示永续。对冲仓位同时持有两条腿。
	Market     MarketType `json:"market,omitempty"`
	EntryPrice float64    `json:"entryPrice"`
	Size       float64    `json:"size"`
	Strategy   string     `json:"strategy"`
	EntryTime  time.Time  `json:"entryTime"`
	TradeID    string     `json:"tradeId,omitempty"` // 账本中对应的交易 ID
}

// PnL 按当前价格计算未实现盈亏（报价币）
func (p *Position) PnL(price float64) float64 {
	diff := price - p.EntryPrice
	if p.Side == PositionSideShort {
		diff = -diff
	}
	return diff * p.Size
}

// PnLPct 按当前价格计算收益率（小数，0.1 = +10%）
func (p *Position) PnLPct(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	pct := (price - p.EntryPrice) / p.EntryPrice
	if p.Side == PositionSideShort {
		pct = -pct
	}
	return pct
}

// Hedge 资金费率套利对冲仓位（Position 的双腿变体）
// 不变量：两条腿作为一个整体开仓和平仓；任意一条腿失败必须回滚另一条腿。
type Hedge struct {
	Symbol      string    `json:"symbol"`
	PerpSize    float64   `json:"perpSize"`
	SpotSize    float64   `json:"spotSize"`
	PerpEntry   float64   `json:"perpEntry"`
	SpotEntry   float64   `json:"spotEntry"`
	EntryBasis  float64   `json:"entryBasis"`
	FundingRate float64   `json:"fundingRate"`
	EntryTime   time.Time `json:"entryTime"`
	TradeID     string    `json:"tradeId,omitempty"`
}

// PerpPnL 空永续腿盈亏
func (h *Hedge) PerpPnL(perpPrice float64) float64 {
	return (h.PerpEntry - perpPrice) * h.PerpSize
}

// MoonshotPosition 狙击策略的现货持仓，附带退出状态机所需字段
type MoonshotPosition struct {
	Position
	HighestPrice float64 `json:"highestPrice"`
	SoldHalf     bool    `json:"soldHalf"`
	RVOL         float64 `json:"rvol"`
	RumorScore   int     `json:"rumorScore"`
}
