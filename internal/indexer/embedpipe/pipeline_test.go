package embedpipe

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"hanjang/internal/ddb/ddbtest"
	"hanjang/internal/models"
	"hanjang/internal/vectorstore"
)

func TestMain(m *testing.M) { goleak.VerifyTestMain(m) }

type fakeEmb struct {
	mu        sync.Mutex
	calls     [][]string
	failBatch bool            // fail any call with more than one input
	failText  map[string]bool // always fail these inputs
}

func (f *fakeEmb) Embeddings(ctx context.Context, model string, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), texts...))
	f.mu.Unlock()
	if f.failBatch && len(texts) > 1 {
		return nil, errors.New("batch too large")
	}
	out := make([][]float32, len(texts))
	for i, s := range texts {
		if f.failText[s] {
			return nil, errors.New("model error")
		}
		out[i] = []float32{float32(len([]rune(s))), 1}
	}
	return out, nil
}

func (f *fakeEmb) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func sentences(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString("문장 ")
		b.WriteString(strings.Repeat("가", i+1))
		b.WriteString(".\n\n")
	}
	return b.String()
}

func newPipeline(emb *fakeEmb, vs vectorstore.VectorStore, batch int) *Pipeline {
	p := New(emb, vs, Options{Model: "m", BatchSize: batch, Concurrency: 3}, nil)
	p.backoff = 0
	seq := 0
	p.newID = func() string {
		seq++
		return "vec-" + string(rune('a'+seq-1))
	}
	return p
}

func TestIndexNoteBatchesAndOrders(t *testing.T) {
	emb := &fakeEmb{}
	vs := vectorstore.NewMemory()
	p := newPipeline(emb, vs, 2)
	note := &models.Note{ID: "n1", UserID: "u1", Content: sentences(5)}

	chunks, err := p.IndexNote(context.Background(), note)
	require.NoError(t, err)
	require.Len(t, chunks, 5)
	assert.Equal(t, 3, emb.callCount())
	for i, c := range chunks {
		assert.Equal(t, "문장 "+strings.Repeat("가", i+1)+".", c.Text)
		assert.Equal(t, c.Text, string([]rune(note.Content)[c.StartIndex:c.EndIndex]))
	}
	assert.Equal(t, "vec-a", chunks[0].VectorID)

	stored, err := vs.NoteVectors(context.Background(), "n1")
	require.NoError(t, err)
	require.Len(t, stored, 5)
	for i, it := range stored {
		assert.Equal(t, i, it.ChunkIndex)
		assert.Equal(t, "u1", it.UserID)
		assert.Equal(t, "m", it.Model)
		assert.Equal(t, float32(len([]rune(it.Text))), it.Vector[0])
	}
}

func TestIndexNoteRetriesItemsWhenBatchFails(t *testing.T) {
	emb := &fakeEmb{failBatch: true}
	vs := vectorstore.NewMemory()
	chunks, err := newPipeline(emb, vs, 4).IndexNote(context.Background(), &models.Note{ID: "n1", Content: sentences(4)})
	require.NoError(t, err)
	assert.Len(t, chunks, 4)
	// one failed batch, then one call per item
	assert.Equal(t, 5, emb.callCount())
}

func TestIndexNoteAllOrNothing(t *testing.T) {
	emb := &fakeEmb{failBatch: true, failText: map[string]bool{"문장 가가.": true}}
	vs := vectorstore.NewMemory()
	_, err := newPipeline(emb, vs, 4).IndexNote(context.Background(), &models.Note{ID: "n1", Content: sentences(3)})
	require.Error(t, err)
	st, _ := vs.Stats(context.Background())
	assert.Equal(t, 0, st.TotalVectors)
}

func TestIndexNoteRemovesPartialWrites(t *testing.T) {
	fake := ddbtest.New()
	fake.FailBatchCall = 2
	vs := vectorstore.NewDynamo(fake, "hanjang")
	ctx := context.Background()
	note := &models.Note{ID: "n1", UserID: "u1", Content: sentences(40)}

	_, err := newPipeline(&fakeEmb{}, vs, 8).IndexNote(ctx, note)
	require.Error(t, err)
	left, err := vs.NoteVectors(ctx, "n1")
	require.NoError(t, err)
	assert.Empty(t, left)

	chunks, err := newPipeline(&fakeEmb{}, vs, 8).IndexNote(ctx, note)
	require.NoError(t, err)
	stored, err := vs.NoteVectors(ctx, "n1")
	require.NoError(t, err)
	assert.Len(t, chunks, 40)
	assert.Len(t, stored, 40)
}

func TestIndexNoteEmptyContent(t *testing.T) {
	_, err := newPipeline(&fakeEmb{}, vectorstore.NewMemory(), 4).IndexNote(context.Background(), &models.Note{ID: "n1", Content: "  \n "})
	assert.ErrorIs(t, err, ErrNothingToIndex)
}

func TestEmbedQuery(t *testing.T) {
	v, err := newPipeline(&fakeEmb{}, vectorstore.NewMemory(), 4).EmbedQuery(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 1}, v)
}
