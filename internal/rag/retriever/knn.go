package retriever

import (
	"context"
	"fmt"

	"hanjang/internal/vectorstore"
)

// KNNRetriever embeds the query and runs an exact search in the vector store.
type KNNRetriever struct {
	vs  vectorstore.VectorStore
	emb QueryEmbedder
}

func NewKNN(vs vectorstore.VectorStore, emb QueryEmbedder) *KNNRetriever {
	return &KNNRetriever{vs: vs, emb: emb}
}

func (r *KNNRetriever) Retrieve(ctx context.Context, query string, k int, f vectorstore.Filter) ([]Result, error) {
	if k <= 0 {
		return nil, nil
	}
	vec, err := r.emb.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return r.vs.Search(ctx, vec, k, f)
}
