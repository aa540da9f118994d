package core

import (
	"container/heap"
	"math"
	"sort"

	"github.com/cryptolab/rune-vault/internal/fhe"
)

// rank maps a score to an orderable float64, treating NaN as smaller than
// every finite score without NaN's usual "unordered" comparison semantics
// leaking into the selection.
func rank(e fhe.ScoreEntry) float64 {
	if math.IsNaN(e.Score) {
		return math.Inf(-1)
	}
	return e.Score
}

// better reports whether a ranks ahead of b under the output ordering:
// score descending, then shard index ascending, then row index ascending.
// This is a total order, so it is used both while selecting the top-k and
// while sorting the final result; an entry that is part of the retained
// set is never reordered relative to one that wasn't.
func better(a, b fhe.ScoreEntry) bool {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra > rb
	}
	if a.ShardIdx != b.ShardIdx {
		return a.ShardIdx < b.ShardIdx
	}
	return a.RowIdx < b.RowIdx
}

// minHeap retains candidates for the top-k set. Its root (index 0) is
// always the worst-ranked entry currently retained, so a new candidate only
// needs one comparison against the root to decide whether it displaces
// anything.
type minHeap []fhe.ScoreEntry

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return better(h[j], h[i]) }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(fhe.ScoreEntry)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// TopK selects the k best-ranked entries out of entries without fully
// sorting the input: O(n log k) via a bounded min-heap, which matters when
// the candidate set is far larger than k. The result is returned fully
// ordered by the same (score desc, shard asc, row asc) rule used to decide
// membership, so ties at the k-th boundary are resolved identically to how
// they were chosen.
func TopK(entries []fhe.ScoreEntry, k int) []fhe.ScoreEntry {
	if k <= 0 || len(entries) == 0 {
		return nil
	}
	h := &minHeap{}
	heap.Init(h)
	for _, e := range entries {
		if h.Len() < k {
			heap.Push(h, e)
			continue
		}
		if better(e, (*h)[0]) {
			heap.Pop(h)
			heap.Push(h, e)
		}
	}
	out := make([]fhe.ScoreEntry, len(*h))
	copy(out, *h)
	sort.Slice(out, func(i, j int) bool { return better(out[i], out[j]) })
	return out
}
