package common

import (
	"github.com/shopspring/decimal"

	"github.com/betbot/blackpanther/internal/domain"
)

// PositionSize 按资金占比计算下单数量（基础币）。
//
//  1. free × allocation ÷ price
//  2. 四舍五入到 QuantityPrecision，按 StepSize 取整后再次四舍五入
//  3. 低于 MinQty 或名义价值低于 MinNotional 时返回 0
//
// 舍入为 half away from zero，结果与调用次数无关。
func PositionSize(free, allocation, price float64, rules domain.SymbolRules) float64 {
	if free <= 0 || allocation <= 0 || price <= 0 {
		return 0
	}
	prec := rules.QuantityPrecision
	px := decimal.NewFromFloat(price)
	size := decimal.NewFromFloat(free).Mul(decimal.NewFromFloat(allocation)).Div(px).Round(prec)

	if rules.StepSize > 0 {
		step := decimal.NewFromFloat(rules.StepSize)
		size = size.Div(step).Round(0).Mul(step).Round(prec)
	}

	if size.LessThan(decimal.NewFromFloat(rules.MinQty)) {
		log.Warnf("数量 %s 低于最小下单量 %v，跳过", size, rules.MinQty)
		return 0
	}
	notional := size.Mul(px)
	if notional.LessThan(decimal.NewFromFloat(rules.MinNotional)) {
		log.Warnf("名义价值 $%s 低于最小值 $%v，跳过", notional.StringFixed(2), rules.MinNotional)
		return 0
	}
	f, _ := size.Float64()
	return f
}

// FloorQty 卖出数量向下取整到 StepSize，避免超卖
func FloorQty(qty float64, rules domain.SymbolRules) float64 {
	if qty <= 0 {
		return 0
	}
	d := decimal.NewFromFloat(qty)
	if rules.StepSize > 0 {
		step := decimal.NewFromFloat(rules.StepSize)
		d = d.Div(step).Floor().Mul(step)
	}
	f, _ := d.Truncate(rules.QuantityPrecision).Float64()
	return f
}

// SubQty 精确减法，避免浮点残留
func SubQty(a, b float64) float64 {
	f, _ := decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)).Float64()
	return f
}
