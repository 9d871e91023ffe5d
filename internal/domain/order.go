package domain

import (
	"time"
)

// Side 下单方向
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite 反向
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType 订单类型
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// MarketType 交易市场（永续 / 现货）
type MarketType string

const (
	MarketPerp MarketType = "perp"
	MarketSpot MarketType = "spot"
)

// OrderRequest 下单请求
type OrderRequest struct {
	Symbol string
	Side   Side
	Amount float64
	Type   OrderType
	Price  float64 // 仅限价单使用
	Market MarketType
}

// Order 交易所返回的订单
type Order struct {
	OrderID     string
	Symbol      string
	Side        Side
	Amount      float64
	FilledPrice float64
	Status      string
	Market      MarketType
	CreatedAt   time.Time
	Simulated   bool // dry-run 模拟成交
}
