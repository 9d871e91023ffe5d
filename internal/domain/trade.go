package domain

import "time"

// Trade 交易日志（账本）记录
type Trade struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Strategy   string         `json:"strategy"`
	Symbol     string         `json:"symbol"`
	Side       string         `json:"side"`
	EntryPrice float64        `json:"entryPrice"`
	ExitPrice  *float64       `json:"exitPrice,omitempty"`
	PnL        *float64       `json:"pnl,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// StrategyStats 策略表现统计
type StrategyStats struct {
	Strategy    string  `json:"strategy"`
	TotalTrades int     `json:"totalTrades"`
	WinRate     float64 `json:"winRate"` // 百分比
	TotalPnL    float64 `json:"totalPnl"`
	AvgPnL      float64 `json:"avgPnl"`
}

// DailySummary 日终汇总
type DailySummary struct {
	Date        string  `json:"date"`
	TotalPnL    float64 `json:"totalPnl"`
	TradeCount  int     `json:"tradeCount"`
	WinRate     float64 `json:"winRate"` // 百分比
	BestSymbol  string  `json:"bestSymbol,omitempty"`
	BestTrade   float64 `json:"bestTrade"`
	WorstSymbol string  `json:"worstSymbol,omitempty"`
	WorstTrade  float64 `json:"worstTrade"`
}

// RumorReport 舆情服务对上市传闻的评分
type RumorReport struct {
	Symbol  string `json:"symbol"`
	Score   int    `json:"score"` // 0..100
	Summary string `json:"summary"`
}
