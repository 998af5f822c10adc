package features

import (
	"fmt"
	"math"

	"PickFlow/internal/domain/models"
)

// TradingDaysPerYear is the annualization factor for daily bars.
const TradingDaysPerYear = 252

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// SMA returns the simple moving average of the last `period` values.
// It returns 0 when there are fewer than `period` values.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	return Mean(values[len(values)-period:])
}

// SMASeries returns the rolling simple moving average.
// Element i covers values[i : i+period], so the series is len(values)-period+1 long.
func SMASeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	out := make([]float64, 0, len(values)-period+1)
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out = append(out, sum/float64(period))
		}
	}
	return out
}

// ROC is the percent rate of change over `window` bars ending at the last value.
func ROC(values []float64, window int) float64 {
	if window <= 0 || len(values) <= window {
		return 0
	}
	base := values[len(values)-1-window]
	if base <= 0 {
		return 0
	}
	return (values[len(values)-1]/base - 1) * 100
}

// SimpleReturns computes r_t = C_t / C_{t-1} - 1.
// It returns a slice of length len(closes)-1, or nil if insufficient data.
func SimpleReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		prev := closes[i-1]
		if prev <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, closes[i]/prev-1)
	}
	return out
}

// RealizedVolatility computes annualized volatility of the last `window` returns
// using the provided number of bars per year.
func RealizedVolatility(returns []float64, window int, barsPerYear float64) float64 {
	if window <= 1 || len(returns) < window {
		return 0
	}
	sum := 0.0
	sum2 := 0.0
	for i := len(returns) - window; i < len(returns); i++ {
		r := returns[i]
		sum += r
		sum2 += r * r
	}
	n := float64(window)
	mean := sum / n
	variance := (sum2 - n*mean*mean) / (n - 1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance * barsPerYear)
}

// AnnualizedVolatilityPct returns annualized daily-return volatility in percent.
// ok is false when fewer than two returns are available.
func AnnualizedVolatilityPct(closes []float64) (vol float64, ok bool) {
	rets := SimpleReturns(closes)
	if len(rets) < 2 {
		return 0, false
	}
	return RealizedVolatility(rets, len(rets), TradingDaysPerYear) * 100, true
}

// TrueRanges computes the true range per bar. Without highs and lows it
// falls back to the absolute close-to-close move.
func TrueRanges(h models.PriceHistory) []float64 {
	n := len(h.Closes)
	if n < 2 {
		return nil
	}
	hasHL := len(h.Highs) == n && len(h.Lows) == n
	out := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		prev := h.Closes[i-1]
		if !hasHL {
			out = append(out, math.Abs(h.Closes[i]-prev))
			continue
		}
		tr := h.Highs[i] - h.Lows[i]
		tr = math.Max(tr, math.Abs(h.Highs[i]-prev))
		tr = math.Max(tr, math.Abs(h.Lows[i]-prev))
		out = append(out, tr)
	}
	return out
}

// ATR averages the last `period` true ranges (or all of them if fewer exist).
func ATR(trueRanges []float64, period int) float64 {
	if len(trueRanges) == 0 || period <= 0 {
		return 0
	}
	if period > len(trueRanges) {
		period = len(trueRanges)
	}
	return Mean(trueRanges[len(trueRanges)-period:])
}

// RSI is the simple-average relative strength index over `period` bars.
// It returns 50 when there is not enough data.
func RSI(closes []float64, period int) float64 {
	if period <= 0 || len(closes) <= period {
		return 50
	}
	gain, loss := 0.0, 0.0
	for i := len(closes) - period; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	if loss == 0 {
		if gain == 0 {
			return 50
		}
		return 100
	}
	rs := gain / loss
	return 100 - 100/(1+rs)
}

// MaxDrawdownPct is the largest peak-to-trough decline in percent.
func MaxDrawdownPct(closes []float64) float64 {
	peak, worst := 0.0, 0.0
	for _, c := range closes {
		if c > peak {
			peak = c
		}
		if peak > 0 {
			if dd := (peak - c) / peak * 100; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// ValidateSeries rejects series containing non-positive or non-finite values.
func ValidateSeries(closes []float64) error {
	if len(closes) == 0 {
		return models.ErrEmptyHistory
	}
	for i, c := range closes {
		if c <= 0 || math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("%w: close[%d]=%v", models.ErrMalformedData, i, c)
		}
	}
	return nil
}
