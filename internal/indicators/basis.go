package indicators

// Basis 永续相对现货的基差（小数，0.01 = 1%）。现货价非正时返回 0。
func Basis(perpPrice, spotPrice float64) float64 {
	if spotPrice <= 0 {
		return 0
	}
	return (perpPrice - spotPrice) / spotPrice
}

// FundingAPY 资金费率年化（百分比）：每 8 小时结算一次，一天三次
func FundingAPY(fundingRate float64) float64 {
	return fundingRate * 3 * 365 * 100
}
