// Package vectorstore stores note-chunk embeddings and answers exact top-K
// cosine-similarity queries over them. Every backend scores all candidates
// that pass the filter; there is no approximate index.
package vectorstore

import (
	"context"
	"errors"
)

var (
	// ErrNoteIDsRequired is returned by backends that can only search inside
	// explicitly named notes.
	ErrNoteIDsRequired = errors.New("vectorstore: note ids are required for search")
	// ErrStatsUnsupported is returned by backends that cannot count vectors cheaply.
	ErrStatsUnsupported = errors.New("vectorstore: stats not supported by this backend")
)

// UpsertItem represents a single embedding to store.
type UpsertItem struct {
	VectorID   string
	NoteID     string
	UserID     string
	ChunkIndex int
	Text       string
	StartIndex int
	EndIndex   int
	Vector     []float32
	Model      string
}

// Filter narrows a search. Empty fields do not filter.
type Filter struct {
	NoteIDs []string
	UserID  string
}

// Result represents a single nearest neighbor result.
type Result struct {
	VectorID   string  `json:"vectorId"`
	NoteID     string  `json:"noteId"`
	ChunkIndex int     `json:"chunkIndex"`
	Text       string  `json:"text"`
	StartIndex int     `json:"startIndex"`
	EndIndex   int     `json:"endIndex"`
	Score      float64 `json:"similarity"` // higher is better similarity
}

type Stats struct {
	TotalVectors int `json:"totalVectors"`
	UniqueNotes  int `json:"uniqueNotes"`
}

// VectorStore defines the operations the indexing and ask flows rely on.
type VectorStore interface {
	Upsert(ctx context.Context, items []UpsertItem) error
	Search(ctx context.Context, query []float32, k int, f Filter) ([]Result, error)
	// DeleteByNote removes every vector of a note and reports how many went.
	DeleteByNote(ctx context.Context, noteID string) (int, error)
	NoteVectors(ctx context.Context, noteID string) ([]UpsertItem, error)
	Stats(ctx context.Context) (Stats, error)
}

func (f Filter) allows(noteID, userID string) bool {
	if f.UserID != "" && userID != f.UserID {
		return false
	}
	if len(f.NoteIDs) == 0 {
		return true
	}
	for _, id := range f.NoteIDs {
		if id == noteID {
			return true
		}
	}
	return false
}
