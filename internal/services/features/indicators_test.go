package features

import (
	"errors"
	"math"
	"testing"

	"PickFlow/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMASeries(t *testing.T) {
	t.Parallel()

	got := SMASeries([]float64{1, 2, 3, 4, 5}, 3)
	require.Len(t, got, 3)
	assert.InDelta(t, 2.0, got[0], 1e-9)
	assert.InDelta(t, 3.0, got[1], 1e-9)
	assert.InDelta(t, 4.0, got[2], 1e-9)
	assert.InDelta(t, 4.0, SMA([]float64{1, 2, 3, 4, 5}, 3), 1e-9)
	assert.Nil(t, SMASeries([]float64{1, 2}, 3))
	assert.Zero(t, SMA([]float64{1, 2}, 3))
}

func TestROC(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 10.0, ROC([]float64{100, 105, 110}, 2), 1e-9)
	assert.Zero(t, ROC([]float64{100}, 2))
}

func TestTrueRanges(t *testing.T) {
	t.Parallel()

	h := models.PriceHistory{
		Closes: []float64{10, 11, 9},
		Highs:  []float64{10.5, 11.5, 10},
		Lows:   []float64{9.5, 10.5, 8.5},
	}
	trs := TrueRanges(h)
	require.Len(t, trs, 2)
	assert.InDelta(t, 1.5, trs[0], 1e-9) // high - prev close
	assert.InDelta(t, 2.5, trs[1], 1e-9) // prev close - low

	closeOnly := TrueRanges(models.PriceHistory{Closes: []float64{10, 12, 11}})
	assert.Equal(t, []float64{2, 1}, closeOnly)
	assert.InDelta(t, 1.5, ATR(closeOnly, 14), 1e-9)
}

func TestRSI(t *testing.T) {
	t.Parallel()

	up := []float64{1, 2, 3, 4, 5, 6}
	assert.InDelta(t, 100.0, RSI(up, 5), 1e-9)
	assert.InDelta(t, 50.0, RSI([]float64{1, 2}, 5), 1e-9)
	assert.InDelta(t, 50.0, RSI([]float64{2, 3, 2, 3, 2}, 4), 1e-9)
}

func TestAnnualizedVolatility(t *testing.T) {
	t.Parallel()

	_, ok := AnnualizedVolatilityPct([]float64{1, 2})
	assert.False(t, ok)

	flat := []float64{100, 101, 102.01, 103.0301}
	v, ok := AnnualizedVolatilityPct(flat)
	require.True(t, ok)
	assert.InDelta(t, 0, v, 1e-3)

	alt := []float64{100, 110, 100, 110, 100}
	v, ok = AnnualizedVolatilityPct(alt)
	require.True(t, ok)
	assert.Greater(t, v, 100.0)
}

func TestMaxDrawdown(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 50.0, MaxDrawdownPct([]float64{100, 200, 100, 150}), 1e-9)
	assert.Zero(t, MaxDrawdownPct([]float64{1, 2, 3}))
}

func TestValidateSeries(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateSeries([]float64{1, 2}))
	assert.True(t, errors.Is(ValidateSeries(nil), models.ErrEmptyHistory))
	assert.True(t, errors.Is(ValidateSeries([]float64{1, 0}), models.ErrMalformedData))
	assert.True(t, errors.Is(ValidateSeries([]float64{1, math.NaN()}), models.ErrMalformedData))
}
