// Package store persists notes, their review state and generated question
// sets. Implementations: in-memory, SQLite and DynamoDB single table.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"hanjang/internal/models"
)

var ErrNotFound = errors.New("store: not found")

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// NoteRepo defines note CRUD.
type NoteRepo interface {
	CreateNote(ctx context.Context, n *models.Note) error
	GetNote(ctx context.Context, id string) (*models.Note, error)
	UpdateNote(ctx context.Context, n *models.Note) error
	// DeleteNote removes the note and its question sets.
	DeleteNote(ctx context.Context, id string) error
	// ListNotes returns notes newest first, without chunks or review history.
	ListNotes(ctx context.Context, q NoteQuery) (NotePage, error)
	// SetChunks records the indexed chunks and marks the note indexed.
	SetChunks(ctx context.Context, noteID string, chunks []models.NoteChunk) error
	// SaveReview replaces the note's review state, history included.
	SaveReview(ctx context.Context, noteID string, st models.ReviewState) error
}

// QuestionRepo defines question-set CRUD.
type QuestionRepo interface {
	CreateQuestionSet(ctx context.Context, qs *models.QuestionSet) error
	GetQuestionSet(ctx context.Context, id string) (*models.QuestionSet, error)
	ListQuestionSets(ctx context.Context, q QuestionQuery) (QuestionPage, error)
	DeleteQuestionSet(ctx context.Context, id string) error
}

type Store interface {
	NoteRepo
	QuestionRepo
	Stats(ctx context.Context, userID string) (Stats, error)
	Close() error
}

type NoteQuery struct {
	UserID  string
	Subject string
	Page    int
	Limit   int
}

type QuestionQuery struct {
	UserID string
	NoteID string
	Page   int
	Limit  int
}

type Pagination struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
}

type NotePage struct {
	Notes      []*models.Note `json:"notes"`
	Pagination Pagination     `json:"pagination"`
}

type QuestionPage struct {
	QuestionSets []*models.QuestionSet `json:"questionSets"`
	Pagination   Pagination            `json:"pagination"`
}

type Stats struct {
	TotalNotes    int `json:"totalNotes"`
	IndexedNotes  int `json:"indexedNotes"`
	ReviewedNotes int `json:"reviewedNotes"`
	QuestionSets  int `json:"questionSets"`
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return page, limit
}

// window returns the [lo,hi) slice bounds of a page over total items.
func window(total, page, limit int) (int, int, Pagination) {
	// compare before multiplying so a huge page cannot overflow
	lo := total
	if page-1 <= total/limit {
		lo = min((page-1)*limit, total)
	}
	hi := lo + min(limit, total-lo)
	pages := total / limit
	if total%limit != 0 {
		pages++
	}
	return lo, hi, Pagination{Total: total, Page: page, Limit: limit, TotalPages: pages}
}

// prepareNote fills the defaults every backend applies on create.
func prepareNote(n *models.Note, now time.Time) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if strings.TrimSpace(n.Subject) == "" {
		n.Subject = models.DefaultSubject
	}
	if n.Tags == nil {
		n.Tags = []string{}
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = n.CreatedAt
	if n.Metadata.UploadedAt.IsZero() {
		n.Metadata.UploadedAt = n.CreatedAt
	}
	if n.Review.NextReviewAt.IsZero() {
		n.Review.NextReviewAt = n.CreatedAt.AddDate(0, 0, 1)
	}
}

func prepareQuestionSet(qs *models.QuestionSet, now time.Time) {
	if qs.ID == "" {
		qs.ID = uuid.NewString()
	}
	if qs.CreatedAt.IsZero() {
		qs.CreatedAt = now
	}
	if qs.Questions == nil {
		qs.Questions = []models.Question{}
	}
	qs.Metadata.TotalQuestions = len(qs.Questions)
}

// summarize drops the parts of a note that list views leave out.
func summarize(n *models.Note) *models.Note {
	n.Chunks = nil
	n.Review.History = nil
	return n
}

// AllNotes pages through every note of a user, newest first.
func AllNotes(ctx context.Context, s NoteRepo, userID string) ([]*models.Note, error) {
	var out []*models.Note
	for page := 1; ; page++ {
		p, err := s.ListNotes(ctx, NoteQuery{UserID: userID, Page: page, Limit: MaxLimit})
		if err != nil {
			return nil, err
		}
		out = append(out, p.Notes...)
		if page >= p.Pagination.TotalPages {
			return out, nil
		}
	}
}
