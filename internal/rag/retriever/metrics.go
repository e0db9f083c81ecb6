package retriever

import (
	"context"

	"hanjang/internal/vectorstore"
)

// QueryCase bundles a question with the ids of the notes that answer it.
type QueryCase struct {
	Query string   `json:"query" yaml:"query"`
	Truth []string `json:"truth" yaml:"truth"`
}

// Metrics aggregates hit rates and mean reciprocal rank over note ids.
type Metrics struct {
	Cases int     `json:"cases"`
	KAt5  float64 `json:"hitAt5"`
	KAt10 float64 `json:"hitAt10"`
	MRR   float64 `json:"mrr"`
}

// Evaluate runs a retriever across cases and computes k@5, k@10, and MRR.
// A note counts once, at the rank of its best chunk.
func Evaluate(ctx context.Context, r Retriever, f vectorstore.Filter, cases []QueryCase) (Metrics, error) {
	var hits5, hits10, sumRR float64
	for _, c := range cases {
		res, err := r.Retrieve(ctx, c.Query, 10, f)
		if err != nil {
			return Metrics{}, err
		}
		notes := rankedNotes(res)
		truth := toSet(c.Truth)
		if hitAtK(notes, truth, 5) {
			hits5++
		}
		if hitAtK(notes, truth, 10) {
			hits10++
		}
		sumRR += rr(notes, truth)
	}
	n := float64(len(cases))
	if n == 0 {
		return Metrics{}, nil
	}
	return Metrics{Cases: len(cases), KAt5: hits5 / n, KAt10: hits10 / n, MRR: sumRR / n}, nil
}

func rankedNotes(res []Result) []string {
	seen := make(map[string]struct{}, len(res))
	out := make([]string, 0, len(res))
	for _, r := range res {
		if _, ok := seen[r.NoteID]; ok {
			continue
		}
		seen[r.NoteID] = struct{}{}
		out = append(out, r.NoteID)
	}
	return out
}

func toSet(xs []string) map[string]struct{} {
	m := make(map[string]struct{}, len(xs))
	for _, x := range xs {
		m[x] = struct{}{}
	}
	return m
}

func hitAtK(notes []string, truth map[string]struct{}, k int) bool {
	k = min(k, len(notes))
	for i := 0; i < k; i++ {
		if _, ok := truth[notes[i]]; ok {
			return true
		}
	}
	return false
}

func rr(notes []string, truth map[string]struct{}) float64 {
	for i, id := range notes {
		if _, ok := truth[id]; ok {
			return 1.0 / float64(i+1)
		}
	}
	return 0
}
