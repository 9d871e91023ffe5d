package indicators

import "github.com/betbot/blackpanther/internal/domain"

// CVD 累计成交量差。
// 阳线（close>open）整根成交量记为主动买，阴线记为主动卖，十字星不计。
func CVD(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	acc := 0.0
	for i, c := range candles {
		switch {
		case c.Close > c.Open:
			acc += c.Volume
		case c.Close < c.Open:
			acc -= c.Volume
		}
		out[i] = acc
	}
	return out
}

// CVDTrend 最近一根相对上一根的 CVD 变化
type CVDTrend struct {
	Latest  float64
	Prev    float64
	Rising  bool
	Falling bool
}

// Change 最近一根的 CVD 增量
func (t CVDTrend) Change() float64 { return t.Latest - t.Prev }

// LatestCVDTrend 计算最近一根的 CVD 方向，少于两根时返回 ok=false
func LatestCVDTrend(candles []domain.Candle) (CVDTrend, bool) {
	if len(candles) < 2 {
		return CVDTrend{}, false
	}
	cvd := CVD(candles)
	latest, prev := cvd[len(cvd)-1], cvd[len(cvd)-2]
	return CVDTrend{
		Latest:  latest,
		Prev:    prev,
		Rising:  latest > prev,
		Falling: latest < prev,
	}, true
}

// RVOL 相对成交量：当前成交量 / 均量。均量非正时返回 0。
func RVOL(current, average float64) float64 {
	if average <= 0 {
		return 0
	}
	return current / average
}

// Average 算术平均，空切片返回 0
func Average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
