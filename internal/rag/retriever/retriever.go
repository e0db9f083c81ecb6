// Package retriever finds the note chunks most relevant to a question.
package retriever

import (
	"context"

	"hanjang/internal/vectorstore"
)

type Result = vectorstore.Result

// Retriever returns top-K chunks for a query within the filter.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int, f vectorstore.Filter) ([]Result, error)
}

// QueryEmbedder turns a question into a query vector.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, q string) ([]float32, error)
}
