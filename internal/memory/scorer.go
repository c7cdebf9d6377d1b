package memory

import (
	"cmp"
	"math"
	"slices"

	"github.com/flemzord/hafiza/internal/similarity"
)

// Default hybrid weights.
const (
	DefaultAlpha = 0.9
	DefaultBeta  = 0.1
)

const secondsPerDay = 86400

// Recency maps an age in seconds to 1/(1+log10(1+days)). It is 1 at age
// zero and decays towards, but never reaches, zero. Negative ages count as zero.
func Recency(ageSeconds float64) float64 {
	days := math.Max(ageSeconds, 0) / secondsPerDay
	return 1 / (1 + math.Log10(1+days))
}

// Scorer fuses cosine similarity and recency:
// score = Alpha*cosine + Beta*recency.
type Scorer struct {
	Alpha float64
	Beta  float64
}

// Score rates every candidate against query, which must be normalized.
// A nil query scores every cosine as zero. Candidates whose embedding length
// differs from the query are left out and counted in skipped.
func (s Scorer) Score(query []float32, cands []Candidate, scope string) (hits []Hit, skipped int) {
	hits = make([]Hit, 0, len(cands))
	for _, c := range cands {
		var cos float64
		if query != nil {
			if len(c.Embedding) != len(query) {
				skipped++
				continue
			}
			d, _ := similarity.Dot(query, similarity.NormalizeVec(c.Embedding))
			cos = float64(d)
		}
		rec := Recency(c.AgeSeconds)
		hits = append(hits, Hit{
			Memory:  c.Memory,
			Cosine:  cos,
			Recency: rec,
			Score:   s.Alpha*cos + s.Beta*rec,
			Scope:   scope,
		})
	}
	return hits, skipped
}

// rankHits returns the k best hits by descending score. Equal scores rank
// the newer memory (higher id) first.
func rankHits(hits []Hit, k int) []Hit {
	if k <= 0 || len(hits) == 0 {
		return []Hit{}
	}
	sorted := slices.Clone(hits)
	slices.SortStableFunc(sorted, func(a, b Hit) int { return cmp.Compare(b.ID, a.ID) })

	scores := make([]float64, len(sorted))
	for i, h := range sorted {
		scores[i] = h.Score
	}
	idx := similarity.SelectTopK(scores, k)

	out := make([]Hit, len(idx))
	for i, j := range idx {
		out[i] = sorted[j]
	}
	return out
}

// sortHits orders hits by descending score, then descending id.
func sortHits(hits []Hit) {
	slices.SortStableFunc(hits, func(a, b Hit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
}

func weightHits(hits []Hit, w float64) {
	for i := range hits {
		hits[i].Score *= w
	}
}
