package indicators

import (
	"math"
	"testing"

	"github.com/betbot/blackpanther/internal/domain"
)

func candlesFrom(opens, closes, volumes []float64) []domain.Candle {
	out := make([]domain.Candle, len(closes))
	for i := range closes {
		out[i] = domain.Candle{
			Open:   opens[i],
			Close:  closes[i],
			High:   math.Max(opens[i], closes[i]),
			Low:    math.Min(opens[i], closes[i]),
			Volume: volumes[i],
		}
	}
	return out
}

func TestCVD_CandleDirection(t *testing.T) {
	candles := candlesFrom(
		[]float64{100, 101, 102, 101, 103},
		[]float64{101, 102, 103, 100, 104},
		[]float64{1000, 1200, 1100, 1500, 1300},
	)
	cvd := CVD(candles)
	if cvd[0] != 1000 {
		t.Fatalf("cvd[0] got=%v want=1000", cvd[0])
	}
	if !(cvd[3] < cvd[2]) {
		t.Fatalf("down candle must lower cvd: cvd[2]=%v cvd[3]=%v", cvd[2], cvd[3])
	}
	want := []float64{1000, 2200, 3300, 1800, 3100}
	for i := range want {
		if cvd[i] != want[i] {
			t.Fatalf("cvd[%d] got=%v want=%v", i, cvd[i], want[i])
		}
	}
}

func TestCVD_DojiContributesNothing(t *testing.T) {
	candles := candlesFrom([]float64{100, 100}, []float64{101, 100}, []float64{500, 900})
	cvd := CVD(candles)
	if cvd[1] != 500 {
		t.Fatalf("doji should not change cvd, got=%v", cvd[1])
	}
	tr, ok := LatestCVDTrend(candles)
	if !ok {
		t.Fatalf("expected trend")
	}
	if tr.Rising || tr.Falling {
		t.Fatalf("flat cvd must be neither rising nor falling: %+v", tr)
	}
}

func TestLatestCVDTrend_NeedsTwoCandles(t *testing.T) {
	if _, ok := LatestCVDTrend(candlesFrom([]float64{1}, []float64{2}, []float64{3})); ok {
		t.Fatalf("expected ok=false for a single candle")
	}
}

func TestRVOL(t *testing.T) {
	avg := Average([]float64{900, 1100, 1000, 1000, 950, 1050, 1000, 1000, 1000, 1000})
	if avg != 1000 {
		t.Fatalf("avg got=%v want=1000", avg)
	}
	if got := RVOL(5500, avg); got != 5.5 {
		t.Fatalf("rvol got=%v want=5.5", got)
	}
	if got := RVOL(5500, 0); got != 0 {
		t.Fatalf("rvol with zero average got=%v want=0", got)
	}
}

func TestBasis(t *testing.T) {
	if got := Basis(101, 100); math.Abs(got-0.01) > 1e-12 {
		t.Fatalf("basis got=%v want=0.01", got)
	}
	if got := Basis(99, 100); math.Abs(got+0.01) > 1e-12 {
		t.Fatalf("basis got=%v want=-0.01", got)
	}
	if got := Basis(100, 0); got != 0 {
		t.Fatalf("basis with zero spot got=%v", got)
	}
	if got := FundingAPY(0.0001); math.Abs(got-10.95) > 1e-9 {
		t.Fatalf("apy got=%v want=10.95", got)
	}
}

func trendCandles(n int, start, step float64) []domain.Candle {
	out := make([]domain.Candle, n)
	for i := 0; i < n; i++ {
		c := start + step*float64(i)
		out[i] = domain.Candle{Open: c - step/2, Close: c, High: c + 1, Low: c - 1, Volume: 100}
	}
	return out
}

func TestSuperTrend_Uptrend(t *testing.T) {
	candles := trendCandles(30, 100, 1)
	res, err := SuperTrend(candles, 10, 3.0)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	line, dir := res.Last()
	if dir != DirectionUp {
		t.Fatalf("expected uptrend, got=%v", dir)
	}
	last := candles[len(candles)-1].Close
	if !(last > line) {
		t.Fatalf("close should be above supertrend: close=%v line=%v", last, line)
	}
	if line != 123 {
		t.Fatalf("line got=%v want=123", line)
	}
	if !math.IsNaN(res.Line[0]) || res.Direction[0] != DirectionNone {
		t.Fatalf("warm-up values must be undefined")
	}
	if res.Line[10] != 116 || res.Direction[10] != DirectionDown {
		t.Fatalf("first value got=%v/%v want=116/down", res.Line[10], res.Direction[10])
	}
}

func TestSuperTrend_Downtrend(t *testing.T) {
	candles := trendCandles(30, 200, -1)
	res, err := SuperTrend(candles, 10, 3.0)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	line, dir := res.Last()
	if dir != DirectionDown {
		t.Fatalf("expected downtrend, got=%v", dir)
	}
	if last := candles[len(candles)-1].Close; !(last < line) {
		t.Fatalf("close should be below supertrend: close=%v line=%v", last, line)
	}
}

func TestSuperTrend_NotEnoughCandles(t *testing.T) {
	if _, err := SuperTrend(trendCandles(10, 100, 1), 10, 3.0); err == nil {
		t.Fatalf("expected error for short series")
	}
}
