package retriever

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hanjang/internal/vectorstore"
)

// fakeEmbed maps known queries to fixed vectors.
type fakeEmbed map[string][]float32

func (f fakeEmbed) EmbedQuery(ctx context.Context, q string) ([]float32, error) {
	v, ok := f[q]
	if !ok {
		return nil, errors.New("unknown query")
	}
	return v, nil
}

func seeded(t *testing.T) *vectorstore.Memory {
	t.Helper()
	vs := vectorstore.NewMemory()
	require.NoError(t, vs.Upsert(context.Background(), []vectorstore.UpsertItem{
		{VectorID: "a0", NoteID: "a", UserID: "u1", Text: "광합성", Vector: []float32{1, 0, 0}},
		{VectorID: "a1", NoteID: "a", UserID: "u1", ChunkIndex: 1, Text: "엽록체", Vector: []float32{0.9, 0.1, 0}},
		{VectorID: "b0", NoteID: "b", UserID: "u1", Text: "세포 호흡", Vector: []float32{0, 1, 0}},
		{VectorID: "c0", NoteID: "c", UserID: "u2", Text: "삼각함수", Vector: []float32{0, 0, 1}},
	}))
	return vs
}

func TestKNNRetriever(t *testing.T) {
	r := NewKNN(seeded(t), fakeEmbed{"빛": {1, 0, 0}})
	got, err := r.Retrieve(context.Background(), "빛", 2, vectorstore.Filter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a0", got[0].VectorID)
	assert.Equal(t, "a1", got[1].VectorID)
	assert.Greater(t, got[0].Score, got[1].Score)
}

func TestKNNRetrieverPropagatesEmbedError(t *testing.T) {
	r := NewKNN(seeded(t), fakeEmbed{})
	_, err := r.Retrieve(context.Background(), "?", 3, vectorstore.Filter{})
	assert.ErrorContains(t, err, "embed query: unknown query")
}

func TestKNNRetrieverZeroK(t *testing.T) {
	got, err := NewKNN(seeded(t), fakeEmbed{}).Retrieve(context.Background(), "빛", 0, vectorstore.Filter{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEvaluate(t *testing.T) {
	r := NewKNN(seeded(t), fakeEmbed{
		"빛":  {1, 0, 0},
		"호흡": {0.1, 1, 0},
		"수학": {0, 0, 1},
	})
	cases := []QueryCase{
		{Query: "빛", Truth: []string{"a"}},
		{Query: "호흡", Truth: []string{"b"}},
		// u2's note is filtered out
		{Query: "수학", Truth: []string{"c"}},
	}
	m, err := Evaluate(context.Background(), r, vectorstore.Filter{UserID: "u1"}, cases)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Cases)
	assert.InDelta(t, 2.0/3, m.KAt5, 1e-9)
	assert.InDelta(t, 2.0/3, m.KAt10, 1e-9)
	assert.InDelta(t, 2.0/3, m.MRR, 1e-9)
}

func TestRankedNotesDedupes(t *testing.T) {
	res := []Result{{NoteID: "a"}, {NoteID: "a"}, {NoteID: "b"}}
	assert.Equal(t, []string{"a", "b"}, rankedNotes(res))
	assert.Equal(t, 0.5, rr([]string{"a", "b"}, toSet([]string{"b"})))
}
