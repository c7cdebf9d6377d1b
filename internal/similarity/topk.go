package similarity

import (
	"container/heap"
	"fmt"
	"slices"
)

// TopK returns the indices and cosine scores of the k keys most similar to
// query, sorted by descending score. k <= 0 yields empty results and k larger
// than len(keys) yields every key.
func TopK(query []float32, keys [][]float32, k int) ([]int, []float32, error) {
	if k <= 0 || len(keys) == 0 {
		return []int{}, []float32{}, nil
	}

	q := NormalizeVec(query)
	scores := make([]float32, len(keys))
	for i, key := range keys {
		s, err := Dot(q, NormalizeVec(key))
		if err != nil {
			return nil, nil, fmt.Errorf("similarity: top-k key %d: %w", i, err)
		}
		scores[i] = s
	}

	idx := SelectTopK(scores, k)
	out := make([]float32, len(idx))
	for i, j := range idx {
		out[i] = scores[j]
	}
	return idx, out, nil
}

// Score is a similarity or ranking score.
type Score interface {
	~float32 | ~float64
}

// SelectTopK returns the indices of the k highest scores in descending order.
// Equal scores keep the lower index first. Selection runs a bounded min-heap,
// O(n log k), and only the k survivors are sorted.
func SelectTopK[S Score](scores []S, k int) []int {
	if k <= 0 || len(scores) == 0 {
		return []int{}
	}
	if k > len(scores) {
		k = len(scores)
	}

	h := &minHeap[S]{scores: scores, idx: make([]int, 0, k)}
	for i := range scores {
		if h.Len() < k {
			heap.Push(h, i)
			continue
		}
		if h.better(i, h.idx[0]) {
			h.idx[0] = i
			heap.Fix(h, 0)
		}
	}

	out := h.idx
	slices.SortFunc(out, func(a, b int) int {
		switch {
		case h.better(a, b):
			return -1
		case h.better(b, a):
			return 1
		default:
			return 0
		}
	})
	return out
}

// minHeap keeps the weakest surviving index at the root.
type minHeap[S Score] struct {
	scores []S
	idx    []int
}

// better reports whether index a ranks ahead of index b.
func (h *minHeap[S]) better(a, b int) bool {
	if h.scores[a] != h.scores[b] {
		return h.scores[a] > h.scores[b]
	}
	return a < b
}

func (h *minHeap[S]) Len() int           { return len(h.idx) }
func (h *minHeap[S]) Less(i, j int) bool { return h.better(h.idx[j], h.idx[i]) }
func (h *minHeap[S]) Swap(i, j int)      { h.idx[i], h.idx[j] = h.idx[j], h.idx[i] }
func (h *minHeap[S]) Push(x any)         { h.idx = append(h.idx, x.(int)) }
func (h *minHeap[S]) Pop() any {
	old := h.idx
	n := len(old)
	x := old[n-1]
	h.idx = old[:n-1]
	return x
}
