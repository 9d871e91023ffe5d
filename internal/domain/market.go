package domain

import "time"

// Candle K 线
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Ticker 24h 行情
type Ticker struct {
	Symbol      string
	Last        float64
	BaseVolume  float64
	QuoteVolume float64
	ChangePct   float64 // 百分比，例如 3.5 表示 +3.5%
}

// Balance 账户余额（报价币 USDT）
type Balance struct {
	Total float64 `json:"total"`
	Free  float64 `json:"free"`
	Used  float64 `json:"used"`
}

// Liquidity 盘口流动性检查结果
type Liquidity struct {
	Symbol    string  `json:"symbol"`
	Tradeable bool    `json:"tradeable"`
	Reason    string  `json:"reason"`
	Spread    float64 `json:"spread"` // 百分比
	BidDepth  float64 `json:"bidDepth"`
	AskDepth  float64 `json:"askDepth"`
}

// SymbolRules 交易所下单精度规则
type SymbolRules struct {
	QuantityPrecision int32
	StepSize          float64
	MinQty            float64
	MinNotional       float64
}

// DefaultSymbolRules 未加载到交易所规则时的默认值
func DefaultSymbolRules() SymbolRules {
	return SymbolRules{
		QuantityPrecision: 3,
		StepSize:          0.001,
		MinQty:            0.001,
		MinNotional:       100,
	}
}

// ExchangePosition 交易所侧的持仓
type ExchangePosition struct {
	Symbol    string
	Side      PositionSide
	Contracts float64
	Entry     float64
}
