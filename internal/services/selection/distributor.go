package selection

import "PickFlow/internal/domain/models"

// DefaultBatchCount is used when a non-positive batch count is requested.
const DefaultBatchCount = 18

// BatchDistributor spreads a ranked list across batches round robin.
type BatchDistributor struct{}

func NewBatchDistributor() *BatchDistributor { return &BatchDistributor{} }

// Distribute assigns ranked position i to batch i mod n. It always returns n batches.
func (d *BatchDistributor) Distribute(ranked []models.Candidate, n int) []models.Batch {
	if n <= 0 {
		n = DefaultBatchCount
	}
	batches := make([]models.Batch, n)
	for i := range batches {
		batches[i] = models.Batch{Index: i, Candidates: make([]models.Candidate, 0, len(ranked)/n+1)}
	}
	for i, c := range ranked {
		b := &batches[i%n]
		b.Candidates = append(b.Candidates, c)
	}
	return batches
}

// Assign is Distribute reduced to instrument ids, the form cached between invocations.
func (d *BatchDistributor) Assign(runDate string, ranked []models.Candidate, n int) models.Assignment {
	batches := d.Distribute(ranked, n)
	a := models.Assignment{RunDate: runDate, Total: len(batches), Batches: make([][]string, len(batches))}
	for i, b := range batches {
		ids := make([]string, len(b.Candidates))
		for j, c := range b.Candidates {
			ids[j] = c.InstrumentID
		}
		a.Batches[i] = ids
	}
	return a
}

// Candidates strips the priority scores from a ranked list, keeping its order.
func Candidates(ranked []models.RankedCandidate) []models.Candidate {
	out := make([]models.Candidate, len(ranked))
	for i, r := range ranked {
		out[i] = r.Candidate
	}
	return out
}

// Resolve maps assigned ids back to candidates. Ids no longer on the watchlist are returned separately.
func Resolve(ids []string, watchlist []models.Candidate) (models.Batch, []string) {
	byID := make(map[string]models.Candidate, len(watchlist))
	for _, c := range watchlist {
		byID[c.InstrumentID] = c
	}
	batch := models.Batch{Candidates: make([]models.Candidate, 0, len(ids))}
	var missing []string
	for _, id := range ids {
		c, ok := byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		batch.Candidates = append(batch.Candidates, c)
	}
	return batch, missing
}
