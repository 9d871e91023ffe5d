package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "blackpanther"

var (
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "signals_total", Help: "Strategy signals by action"},
		[]string{"strategy", "action"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "orders_total", Help: "Orders submitted by result"},
		[]string{"strategy", "venue", "result"},
	)
	StrategyErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "strategy_cycle_errors_total", Help: "Failed strategy cycles"},
		[]string{"strategy"},
	)
	KillSwitchActive = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: namespace, Name: "kill_switch_active", Help: "1 when the kill switch is engaged"},
	)
	KillSwitchTriggers = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "kill_switch_triggers_total", Help: "Emergency shutdowns executed"},
	)
	Drawdown = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: namespace, Name: "daily_drawdown_ratio", Help: "(equity-start)/start for the current session"},
	)
	Equity = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: namespace, Name: "equity_usdt", Help: "Last observed account equity"},
	)
	LatencyMs = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: namespace, Name: "exchange_latency_ms", Help: "Last exchange round-trip latency"},
	)
	OpenPositions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: namespace, Name: "open_positions", Help: "Positions held per strategy"},
		[]string{"strategy"},
	)
)

func init() {
	prometheus.MustRegister(
		SignalsTotal,
		OrdersTotal,
		StrategyErrorsTotal,
		KillSwitchActive,
		KillSwitchTriggers,
		Drawdown,
		Equity,
		LatencyMs,
		OpenPositions,
	)
}

// ObserveOrder 记录一次下单结果
func ObserveOrder(strategy, venue string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	OrdersTotal.WithLabelValues(strategy, venue, result).Inc()
}

// SetKillSwitch 更新熔断状态
func SetKillSwitch(active bool) {
	if active {
		KillSwitchActive.Set(1)
		return
	}
	KillSwitchActive.Set(0)
}
