package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"hanjang/internal/models"
)

// Memory keeps everything in maps. Values are deep-copied on the way in and
// out so callers never share state with the store.
type Memory struct {
	mu        sync.RWMutex
	notes     map[string]*models.Note
	questions map[string]*models.QuestionSet
	now       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		notes:     make(map[string]*models.Note),
		questions: make(map[string]*models.QuestionSet),
		now:       time.Now,
	}
}

func clone[T any](v *T) *T {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	out := new(T)
	if err := json.Unmarshal(b, out); err != nil {
		panic(err)
	}
	return out
}

func (s *Memory) CreateNote(ctx context.Context, n *models.Note) error {
	if n.UserID == "" {
		return errors.New("store: note user id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prepareNote(n, s.now())
	s.notes[n.ID] = clone(n)
	return nil
}

func (s *Memory) GetNote(ctx context.Context, id string) (*models.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(n), nil
}

func (s *Memory) UpdateNote(ctx context.Context, n *models.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notes[n.ID]; !ok {
		return ErrNotFound
	}
	n.UpdatedAt = s.now()
	s.notes[n.ID] = clone(n)
	return nil
}

func (s *Memory) DeleteNote(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notes[id]; !ok {
		return ErrNotFound
	}
	delete(s.notes, id)
	for qid, qs := range s.questions {
		if qs.NoteID == id {
			delete(s.questions, qid)
		}
	}
	return nil
}

func (s *Memory) ListNotes(ctx context.Context, q NoteQuery) (NotePage, error) {
	page, limit := normalizePage(q.Page, q.Limit)
	s.mu.RLock()
	var all []*models.Note
	for _, n := range s.notes {
		if q.UserID != "" && n.UserID != q.UserID {
			continue
		}
		if q.Subject != "" && n.Subject != q.Subject {
			continue
		}
		all = append(all, n)
	}
	s.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	lo, hi, pg := window(len(all), page, limit)
	out := make([]*models.Note, 0, hi-lo)
	for _, n := range all[lo:hi] {
		out = append(out, summarize(clone(n)))
	}
	return NotePage{Notes: out, Pagination: pg}, nil
}

func (s *Memory) SetChunks(ctx context.Context, noteID string, chunks []models.NoteChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notes[noteID]
	if !ok {
		return ErrNotFound
	}
	n.Chunks = append([]models.NoteChunk(nil), chunks...)
	n.IsIndexed = true
	n.UpdatedAt = s.now()
	return nil
}

func (s *Memory) SaveReview(ctx context.Context, noteID string, st models.ReviewState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notes[noteID]
	if !ok {
		return ErrNotFound
	}
	n.Review = *clone(&st)
	n.UpdatedAt = s.now()
	return nil
}

func (s *Memory) CreateQuestionSet(ctx context.Context, qs *models.QuestionSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prepareQuestionSet(qs, s.now())
	s.questions[qs.ID] = clone(qs)
	return nil
}

func (s *Memory) GetQuestionSet(ctx context.Context, id string) (*models.QuestionSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	qs, ok := s.questions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(qs), nil
}

func (s *Memory) ListQuestionSets(ctx context.Context, q QuestionQuery) (QuestionPage, error) {
	page, limit := normalizePage(q.Page, q.Limit)
	s.mu.RLock()
	var all []*models.QuestionSet
	for _, qs := range s.questions {
		if q.UserID != "" && qs.UserID != q.UserID {
			continue
		}
		if q.NoteID != "" && qs.NoteID != q.NoteID {
			continue
		}
		all = append(all, qs)
	}
	s.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	lo, hi, pg := window(len(all), page, limit)
	out := make([]*models.QuestionSet, 0, hi-lo)
	for _, qs := range all[lo:hi] {
		out = append(out, clone(qs))
	}
	return QuestionPage{QuestionSets: out, Pagination: pg}, nil
}

func (s *Memory) DeleteQuestionSet(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.questions[id]; !ok {
		return ErrNotFound
	}
	delete(s.questions, id)
	return nil
}

func (s *Memory) Stats(ctx context.Context, userID string) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st Stats
	for _, n := range s.notes {
		if userID != "" && n.UserID != userID {
			continue
		}
		st.TotalNotes++
		if n.IsIndexed {
			st.IndexedNotes++
		}
		if n.Review.Count > 0 {
			st.ReviewedNotes++
		}
	}
	for _, qs := range s.questions {
		if userID == "" || qs.UserID == userID {
			st.QuestionSets++
		}
	}
	return st, nil
}

func (s *Memory) Close() error { return nil }
