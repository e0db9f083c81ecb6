package vectorstore

import "context"

// Noop is a local fallback that disables vector search gracefully.
type Noop struct{}

func (Noop) Upsert(ctx context.Context, items []UpsertItem) error { return nil }
func (Noop) Search(ctx context.Context, query []float32, k int, f Filter) ([]Result, error) {
	return nil, nil
}
func (Noop) DeleteByNote(ctx context.Context, noteID string) (int, error) { return 0, nil }
func (Noop) NoteVectors(ctx context.Context, noteID string) ([]UpsertItem, error) {
	return nil, nil
}
func (Noop) Stats(ctx context.Context) (Stats, error) { return Stats{}, nil }
