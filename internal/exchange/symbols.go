package exchange

import (
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/betbot/blackpanther/internal/domain"
)

// ToBinanceSymbol "BTC/USDT:USDT" / "BTC/USDT" / "btcusdt" -> "BTCUSDT"
func ToBinanceSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if i := strings.Index(s, ":"); i >= 0 {
		s = s[:i]
	}
	s = strings.ReplaceAll(s, "/", "")
	return strings.ReplaceAll(s, "_", "")
}

// ToGateSymbol "PEPE/USDT" / "pepe_usdt" -> "PEPE_USDT"
func ToGateSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if i := strings.Index(s, ":"); i >= 0 {
		s = s[:i]
	}
	s = strings.ReplaceAll(s, "/", "_")
	if !strings.Contains(s, "_") && strings.HasSuffix(s, "USDT") && len(s) > 4 {
		s = strings.TrimSuffix(s, "USDT") + "_USDT"
	}
	return s
}

// FormatQuantity 按交易规则把数量截到步长与精度，返回下单字符串
// 返回 ok=false 表示结果为 0
func FormatQuantity(qty float64, rules domain.SymbolRules) (string, bool) {
	d := decimal.NewFromFloat(qty)
	if rules.StepSize > 0 {
		step := decimal.NewFromFloat(rules.StepSize)
		d = d.Div(step).Floor().Mul(step)
	}
	d = d.Truncate(rules.QuantityPrecision)
	if !d.IsPositive() {
		return "0", false
	}
	return d.String(), true
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func mustFloat(s string) float64 {
	f, _ := parseFloat(s)
	return f
}
