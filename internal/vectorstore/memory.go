package vectorstore

import (
	"context"
	"sync"
)

// Memory keeps vectors in process. Vectors are lost on restart; it backs
// tests and single-process development setups.
type Memory struct {
	mu    sync.RWMutex
	order []string
	items map[string]UpsertItem
}

func NewMemory() *Memory { return &Memory{items: make(map[string]UpsertItem)} }

func (m *Memory) Upsert(ctx context.Context, items []UpsertItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range items {
		if _, ok := m.items[it.VectorID]; !ok {
			m.order = append(m.order, it.VectorID)
		}
		it.Vector = append([]float32(nil), it.Vector...)
		m.items[it.VectorID] = it
	}
	return nil
}

func (m *Memory) Search(ctx context.Context, query []float32, k int, f Filter) ([]Result, error) {
	if len(query) == 0 || k <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	top := newTopK(k)
	for _, id := range m.order {
		it := m.items[id]
		if !f.allows(it.NoteID, it.UserID) {
			continue
		}
		top.offer(query, it.Vector, resultOf(it))
	}
	return top.results(), nil
}

func (m *Memory) DeleteByNote(ctx context.Context, noteID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.order[:0]
	n := 0
	for _, id := range m.order {
		if m.items[id].NoteID == noteID {
			delete(m.items, id)
			n++
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return n, nil
}

func (m *Memory) NoteVectors(ctx context.Context, noteID string) ([]UpsertItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []UpsertItem
	for _, id := range m.order {
		if it := m.items[id]; it.NoteID == noteID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *Memory) Stats(ctx context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	notes := make(map[string]struct{})
	for _, it := range m.items {
		notes[it.NoteID] = struct{}{}
	}
	return Stats{TotalVectors: len(m.items), UniqueNotes: len(notes)}, nil
}

// Clear drops every vector.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order = nil
	m.items = make(map[string]UpsertItem)
}

func resultOf(it UpsertItem) Result {
	return Result{
		VectorID:   it.VectorID,
		NoteID:     it.NoteID,
		ChunkIndex: it.ChunkIndex,
		Text:       it.Text,
		StartIndex: it.StartIndex,
		EndIndex:   it.EndIndex,
	}
}
