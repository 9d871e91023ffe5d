package domain

import "time"

// SignalAction 信号动作
type SignalAction string

const (
	ActionLong      SignalAction = "LONG"
	ActionShort     SignalAction = "SHORT"
	ActionReject    SignalAction = "REJECT"
	ActionWait      SignalAction = "WAIT"
	ActionOpenHedge SignalAction = "OPEN_HEDGE"
	ActionBuy       SignalAction = "BUY"
)

// Confidence 信号置信度
type Confidence string

const (
	ConfidenceHigh Confidence = "HIGH"
	ConfidenceLow  Confidence = "LOW"
)

// ReasonCVDDivergence 价格/持仓量与 CVD 背离
const ReasonCVDDivergence = "CVD divergence"

// Signal 策略产生的短期决策对象，只在 TTL 内缓存
type Signal struct {
	Strategy   string             `json:"strategy"`
	Symbol     string             `json:"symbol"`
	Action     SignalAction       `json:"action"`
	Confidence Confidence         `json:"confidence,omitempty"`
	Reason     string             `json:"reason,omitempty"`
	EntryPrice float64            `json:"entryPrice,omitempty"`
	StopLoss   float64            `json:"stopLoss,omitempty"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	Note       string             `json:"note,omitempty"`
	CreatedAt  time.Time          `json:"createdAt"`
}

// Actionable 是否需要下单
func (s *Signal) Actionable() bool {
	if s == nil {
		return false
	}
	switch s.Action {
	case ActionLong, ActionShort, ActionOpenHedge, ActionBuy:
		return true
	}
	return false
}

// OrderSide 信号对应的下单方向
func (s *Signal) OrderSide() Side {
	if s.Action == ActionShort {
		return SideSell
	}
	return SideBuy
}
