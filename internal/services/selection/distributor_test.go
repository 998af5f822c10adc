package selection

import (
	"fmt"
	"testing"

	"PickFlow/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidates(n int) []models.Candidate {
	out := make([]models.Candidate, n)
	for i := range out {
		out[i] = models.Candidate{InstrumentID: fmt.Sprintf("I%04d", i)}
	}
	return out
}

func TestBatchDistributor_SizesAndCoverage(t *testing.T) {
	t.Parallel()

	d := NewBatchDistributor()
	for _, l := range []int{0, 1, 17, 18, 19, 100, 360, 361} {
		for _, n := range []int{1, 3, 18, 25} {
			in := candidates(l)
			batches := d.Distribute(in, n)
			require.Len(t, batches, n)

			minSize, maxSize := l+1, -1
			seen := make(map[string]int)
			for i, b := range batches {
				assert.Equal(t, i, b.Index)
				if len(b.Candidates) < minSize {
					minSize = len(b.Candidates)
				}
				if len(b.Candidates) > maxSize {
					maxSize = len(b.Candidates)
				}
				for _, c := range b.Candidates {
					seen[c.InstrumentID]++
				}
			}
			assert.LessOrEqual(t, maxSize-minSize, 1, "l=%d n=%d", l, n)
			assert.Len(t, seen, l)
			for id, cnt := range seen {
				assert.Equal(t, 1, cnt, id)
			}
		}
	}
}

func TestBatchDistributor_RoundRobin(t *testing.T) {
	t.Parallel()

	batches := NewBatchDistributor().Distribute(candidates(7), 3)
	assert.Equal(t, "I0000", batches[0].Candidates[0].InstrumentID)
	assert.Equal(t, "I0003", batches[0].Candidates[1].InstrumentID)
	assert.Equal(t, "I0006", batches[0].Candidates[2].InstrumentID)
	assert.Equal(t, "I0001", batches[1].Candidates[0].InstrumentID)
	assert.Len(t, batches[2].Candidates, 2)
}

func TestBatchDistributor_DefaultCountAndEmpty(t *testing.T) {
	t.Parallel()

	batches := NewBatchDistributor().Distribute(nil, 0)
	require.Len(t, batches, DefaultBatchCount)
	for _, b := range batches {
		assert.Empty(t, b.Candidates)
	}
}

func TestBatchDistributor_AssignAndResolve(t *testing.T) {
	t.Parallel()

	d := NewBatchDistributor()
	in := candidates(40)
	a := d.Assign("2026-10-19", in, 18)
	assert.Equal(t, d.Assign("2026-10-19", in, 18), a)
	require.Len(t, a.Batches, 18)
	assert.Equal(t, []string{"I0000", "I0018", "I0036"}, a.Batches[0])

	batch, missing := Resolve(a.Batches[0], in[1:])
	assert.Equal(t, []string{"I0000"}, missing)
	require.Len(t, batch.Candidates, 2)
	assert.Equal(t, "I0018", batch.Candidates[0].InstrumentID)
}
