package indicators

import (
	"fmt"
	"math"

	"github.com/betbot/blackpanther/internal/domain"
)

// Direction SuperTrend 方向
type Direction int

const (
	DirectionNone Direction = 0
	DirectionUp   Direction = 1
	DirectionDown Direction = -1
)

// SuperTrendResult 与输入 K 线等长；前 length 根为 NaN / DirectionNone
type SuperTrendResult struct {
	Line      []float64
	Direction []Direction
}

// Last 最近一根的 SuperTrend 值与方向
func (r *SuperTrendResult) Last() (float64, Direction) {
	n := len(r.Line)
	if n == 0 {
		return math.NaN(), DirectionNone
	}
	return r.Line[n-1], r.Direction[n-1]
}

// TrueRange 真实波幅。第一根没有前收盘价，只取 high-low。
func TrueRange(candles []domain.Candle) []float64 {
	tr := make([]float64, len(candles))
	for i, c := range candles {
		hl := c.High - c.Low
		if i == 0 {
			tr[i] = hl
			continue
		}
		prevClose := candles[i-1].Close
		tr[i] = math.Max(hl, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
	}
	return tr
}

// ATR 真实波幅的简单移动平均，前 length-1 根为 NaN
func ATR(candles []domain.Candle, length int) []float64 {
	tr := TrueRange(candles)
	atr := make([]float64, len(tr))
	sum := 0.0
	for i := range tr {
		sum += tr[i]
		if i >= length {
			sum -= tr[i-length]
		}
		if i < length-1 {
			atr[i] = math.NaN()
			continue
		}
		atr[i] = sum / float64(length)
	}
	return atr
}

// SuperTrend 计算 SuperTrend(length, multiplier)。
// 第一个有效值落在下标 length，初始方向为下跌（贴上轨）。
func SuperTrend(candles []domain.Candle, length int, multiplier float64) (*SuperTrendResult, error) {
	if length <= 0 {
		return nil, fmt.Errorf("supertrend length must be positive, got %d", length)
	}
	n := len(candles)
	if n <= length {
		return nil, fmt.Errorf("supertrend needs more than %d candles, got %d", length, n)
	}

	atr := ATR(candles, length)
	res := &SuperTrendResult{
		Line:      make([]float64, n),
		Direction: make([]Direction, n),
	}
	for i := 0; i < length; i++ {
		res.Line[i] = math.NaN()
	}

	upper := func(i int) float64 {
		return (candles[i].High+candles[i].Low)/2 + multiplier*atr[i]
	}
	lower := func(i int) float64 {
		return (candles[i].High+candles[i].Low)/2 - multiplier*atr[i]
	}

	finalUpper := upper(length)
	finalLower := lower(length)
	res.Line[length] = finalUpper
	res.Direction[length] = DirectionDown

	for i := length + 1; i < n; i++ {
		prevClose := candles[i-1].Close
		curUpper, curLower := upper(i), lower(i)

		// 最终上下轨：只在突破或收窄时移动
		if !(curUpper < finalUpper || prevClose > finalUpper) {
			curUpper = finalUpper
		}
		if !(curLower > finalLower || prevClose < finalLower) {
			curLower = finalLower
		}
		finalUpper, finalLower = curUpper, curLower

		closePx := candles[i].Close
		if res.Direction[i-1] == DirectionDown {
			if closePx > finalUpper {
				res.Line[i], res.Direction[i] = finalLower, DirectionUp
			} else {
				res.Line[i], res.Direction[i] = finalUpper, DirectionDown
			}
		} else {
			if closePx < finalLower {
				res.Line[i], res.Direction[i] = finalUpper, DirectionDown
			} else {
				res.Line[i], res.Direction[i] = finalLower, DirectionUp
			}
		}
	}
	return res, nil
}
