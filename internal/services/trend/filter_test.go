package trend

import (
	"math"
	"testing"

	"PickFlow/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func geometric(n int, start, growth float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start * math.Pow(1+growth, float64(i))
	}
	return out
}

func TestFilter_ModeSelection(t *testing.T) {
	t.Parallel()

	f := NewFilter()
	tests := []struct {
		points int
		want   models.TrendMode
	}{
		{0, models.TrendUnanalyzable},
		{9, models.TrendUnanalyzable},
		{10, models.TrendMinimal},
		{19, models.TrendMinimal},
		{20, models.TrendShort},
		{29, models.TrendShort},
		{30, models.TrendMedium},
		{59, models.TrendMedium},
		{60, models.TrendFull},
		{250, models.TrendFull},
	}
	for _, tt := range tests {
		got := f.Evaluate(geometric(tt.points, 100, 0.01))
		assert.Equal(t, tt.want, got.Mode, "points=%d", tt.points)
	}
}

func TestFilter_UnanalyzableIsRejected(t *testing.T) {
	t.Parallel()

	res := NewFilter().Evaluate(geometric(9, 100, 0.02))
	assert.False(t, res.Passed)
	assert.Contains(t, res.Reason, "9 data points")
}

func TestFilter_FullModeUptrendPasses(t *testing.T) {
	t.Parallel()

	res := NewFilter().Evaluate(geometric(60, 100, 0.01))
	require.Equal(t, models.TrendFull, res.Mode)
	assert.True(t, res.Passed, res.Reason)
	assert.True(t, res.Aligned)
	assert.GreaterOrEqual(t, res.Strength, 0.6)
	assert.LessOrEqual(t, res.Strength, 1.0)
	assert.GreaterOrEqual(t, res.DurationDays, 5)
	assert.InDelta(t, 100.0, res.Momentum, 1e-9)
	assert.Contains(t, res.Reason, "FULL: MA aligned")
}

func TestFilter_DowntrendRejected(t *testing.T) {
	t.Parallel()

	for _, n := range []int{12, 25, 45, 80} {
		res := NewFilter().Evaluate(geometric(n, 100, -0.01))
		assert.False(t, res.Passed, "points=%d", n)
		assert.False(t, res.Aligned, "points=%d", n)
		assert.Contains(t, res.Reason, "MA not aligned")
	}
}

func TestFilter_MalformedSeriesRejected(t *testing.T) {
	t.Parallel()

	closes := geometric(30, 100, 0.01)
	closes[10] = 0
	res := NewFilter().Evaluate(closes)
	assert.False(t, res.Passed)
	assert.Contains(t, res.Reason, "malformed")
}

func TestFilter_ThresholdsRelaxAsHistoryShrinks(t *testing.T) {
	t.Parallel()

	for i := 1; i < len(DefaultRules); i++ {
		loose, strict := DefaultRules[i-1].Thresholds, DefaultRules[i].Thresholds
		assert.LessOrEqual(t, loose.MinStrength, strict.MinStrength)
		assert.LessOrEqual(t, loose.MinDuration, strict.MinDuration)
		assert.LessOrEqual(t, loose.MinMomentum, strict.MinMomentum)
		assert.Less(t, DefaultRules[i-1].MinPoints, DefaultRules[i].MinPoints)
	}
}

func TestFilter_TruncatedPassingSeriesStillPasses(t *testing.T) {
	t.Parallel()

	f := NewFilter()
	full := geometric(60, 100, 0.01)
	require.True(t, f.Evaluate(full).Passed)

	truncated := f.Evaluate(full[len(full)-15:])
	assert.Equal(t, models.TrendMinimal, truncated.Mode)
	assert.True(t, truncated.Passed, truncated.Reason)
}

func TestFilter_FlatSeriesFails(t *testing.T) {
	t.Parallel()

	flat := make([]float64, 40)
	for i := range flat {
		flat[i] = 50
	}
	res := NewFilter().Evaluate(flat)
	assert.Equal(t, models.TrendMedium, res.Mode)
	assert.False(t, res.Passed)
	assert.Zero(t, res.DurationDays)
}
