package vectorstore

import (
	"container/heap"
	"errors"
	"math"
	"sort"
)

var ErrDimensionMismatch = errors.New("vectorstore: vector dimensions differ")

// Cosine returns the cosine similarity of a and b. A zero vector scores 0.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

// topK keeps the k best results seen so far in a min-heap. Ties keep the
// earlier candidate, so results are stable for a given candidate order.
type topK struct {
	k     int
	seq   int
	items []ranked
}

type ranked struct {
	Result
	seq int
}

func newTopK(k int) *topK { return &topK{k: k} }

func (t *topK) Len() int { return len(t.items) }
func (t *topK) Less(i, j int) bool {
	if t.items[i].Score != t.items[j].Score {
		return t.items[i].Score < t.items[j].Score
	}
	return t.items[i].seq > t.items[j].seq
}
func (t *topK) Swap(i, j int) { t.items[i], t.items[j] = t.items[j], t.items[i] }
func (t *topK) Push(x any)   { t.items = append(t.items, x.(ranked)) }
func (t *topK) Pop() any {
	n := len(t.items)
	it := t.items[n-1]
	t.items = t.items[:n-1]
	return it
}

// offer scores candidate vec against query and keeps it when it ranks in the
// top k. Candidates with a different dimension are skipped.
func (t *topK) offer(query, vec []float32, r Result) {
	if t.k <= 0 {
		return
	}
	score, err := Cosine(query, vec)
	if err != nil {
		return
	}
	r.Score = score
	it := ranked{Result: r, seq: t.seq}
	t.seq++
	if len(t.items) < t.k {
		heap.Push(t, it)
		return
	}
	worst := t.items[0]
	if score > worst.Score {
		t.items[0] = it
		heap.Fix(t, 0)
	}
}

// results returns the kept results, best first.
func (t *topK) results() []Result {
	sorted := append([]ranked(nil), t.items...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].seq < sorted[j].seq
	})
	out := make([]Result, len(sorted))
	for i, r := range sorted {
		out[i] = r.Result
	}
	return out
}
