package selection

import (
	"fmt"
	"math"
	"testing"

	"PickFlow/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVolatilityFit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		vol  float64
		want float64
	}{
		{0, 0},
		{5, 50},
		{10, 100},
		{20, 100},
		{30, 100},
		{40, 80},
		{80, 0},
		{200, 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, VolatilityFit(tt.vol), 1e-9, "vol=%v", tt.vol)
	}
}

func TestTechnicalScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		closes []float64
		want   float64
		ok     bool
	}{
		{
			name:   "five bar rate of change",
			closes: []float64{105, 100, 100, 100, 100, 100},
			want:   50 + 2*(100/(605.0/6)-1)*100 + 2*(100.0/105-1)*100,
			ok:     true,
		},
		{
			name:   "five closes use four bars",
			closes: []float64{105, 100, 100, 100, 100},
			want:   50 + 2*(100.0/101-1)*100 + 2*(100.0/105-1)*100,
			ok:     true,
		},
		{name: "too short", closes: []float64{100, 101, 102, 103}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := technical(models.Candidate{InstrumentID: "X", RecentCloses: tt.closes})
			require.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestPriorityRanker_MissingFieldsDefaultToMidpoint(t *testing.T) {
	t.Parallel()

	ranked := NewPriorityRanker().Rank([]models.Candidate{{InstrumentID: "EMPTY"}})
	require.Len(t, ranked, 1)
	assert.InDelta(t, 50.0, ranked[0].Score.Value, 1e-9)
	assert.ElementsMatch(t, []string{"technical", "volume", "volatility"}, ranked[0].Defaulted)
}

func TestPriorityRanker_OrdersDescendingWithIDTieBreak(t *testing.T) {
	t.Parallel()

	rising := make([]float64, 30)
	falling := make([]float64, 30)
	for i := range rising {
		rising[i] = 100 * math.Pow(1.01, float64(i))
		falling[i] = 100 * math.Pow(0.99, float64(i))
	}
	in := []models.Candidate{
		{InstrumentID: "ZZZ"},
		{InstrumentID: "DOWN", RecentCloses: falling},
		{InstrumentID: "UP", RecentCloses: rising},
		{InstrumentID: "AAA"},
	}
	ranked := NewPriorityRanker().Rank(in)
	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.Candidate.InstrumentID
		assert.GreaterOrEqual(t, r.Score.Value, 0.0)
		assert.LessOrEqual(t, r.Score.Value, 100.0)
	}
	assert.Equal(t, "UP", ids[0])
	assert.Equal(t, "DOWN", ids[3])
	assert.Equal(t, []string{"AAA", "ZZZ"}, ids[1:3])
}

func TestPriorityRanker_Deterministic(t *testing.T) {
	t.Parallel()

	var in []models.Candidate
	for i := 0; i < 50; i++ {
		in = append(in, models.Candidate{
			InstrumentID:  fmt.Sprintf("C%02d", i),
			RecentCloses:  []float64{10, 11, 10 + float64(i%7), 12, 11 + float64(i%3)},
			RecentVolumes: []float64{100, 100, float64(100 + i)},
		})
	}
	a := NewPriorityRanker().Rank(in)
	b := NewPriorityRanker().Rank(in)
	assert.Equal(t, a, b)
}
