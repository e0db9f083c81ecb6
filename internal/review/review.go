// Package review schedules spaced repetition of notes.
//
// A note starts at stage 0 with its first review one day after creation. Each
// recorded review advances the stage, up to the last interval, and schedules
// the next review that many days later.
package review

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"hanjang/internal/models"
	"hanjang/internal/store"
)

// Intervals are the days between reviews, indexed by stage.
var Intervals = []int{1, 3, 7, 14, 30}

var ErrInvalidScore = errors.New("review: score must be between 0 and 100")

const day = 24 * time.Hour

// Record applies one review at now and returns the new state.
func Record(st models.ReviewState, score int, now time.Time) models.ReviewState {
	st.Count++
	last := now
	st.LastReviewedAt = &last
	st.History = append(append([]models.ReviewEvent(nil), st.History...), models.ReviewEvent{Date: now, Score: score, Stage: st.Stage})
	st.Stage = min(st.Stage+1, len(Intervals)-1)
	st.NextReviewAt = now.AddDate(0, 0, Intervals[st.Stage])
	return st
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// Due returns the notes whose next review falls on or before now's calendar
// day, in now's location.
func Due(notes []*models.Note, now time.Time) []*models.Note {
	today := startOfDay(now, now.Location())
	out := []*models.Note{}
	for _, n := range notes {
		if !startOfDay(n.Review.NextReviewAt, now.Location()).After(today) {
			out = append(out, n)
		}
	}
	return out
}

type Level string

const (
	Urgent      Level = "urgent"
	Important   Level = "important"
	Recommended Level = "recommended"
	Optional    Level = "optional"
)

type Priority struct {
	Level     Level  `json:"level"`
	Label     string `json:"label"`
	DaysLabel string `json:"daysLabel"`
}

var priorities = map[Level]Priority{
	Urgent:      {Urgent, "긴급", "1일차"},
	Important:   {Important, "중요", "3일차"},
	Recommended: {Recommended, "권장", "7일차"},
	Optional:    {Optional, "선택", "14일차"},
}

type Prioritized struct {
	Note      *models.Note `json:"note"`
	Priority  Priority     `json:"priority"`
	DaysSince int          `json:"daysSinceLastReview"`
}

// DaysSince counts whole days since the last review, or since creation for
// notes never reviewed.
func DaysSince(n *models.Note, now time.Time) int {
	from := n.CreatedAt
	if n.Review.LastReviewedAt != nil {
		from = *n.Review.LastReviewedAt
	}
	return int(now.Sub(from) / day)
}

// Classify picks the priority for a note that was last touched days ago.
// A note reviewed earlier today is optional: it is neither new nor waiting.
func Classify(days, reviewCount int) Priority {
	switch {
	case days <= 1 && reviewCount == 0:
		return priorities[Urgent]
	case days >= 1 && days <= 3:
		return priorities[Important]
	case days >= 4 && days <= 7:
		return priorities[Recommended]
	default:
		return priorities[Optional]
	}
}

// Prioritize ranks notes by days since they were last touched, most recent first.
func Prioritize(notes []*models.Note, now time.Time) []Prioritized {
	out := make([]Prioritized, 0, len(notes))
	for _, n := range notes {
		d := DaysSince(n, now)
		out = append(out, Prioritized{Note: n, Priority: Classify(d, n.Review.Count), DaysSince: d})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DaysSince < out[j].DaysSince })
	return out
}

type Statistics struct {
	TotalNotes    int `json:"totalDocuments"`
	AddedThisWeek int `json:"thisWeekAdded"`
	Reviewed      int `json:"reviewedDocuments"`
	Pending       int `json:"pendingReviews"`
	DueToday      int `json:"todayReviews"`
}

func Stats(notes []*models.Note, now time.Time) Statistics {
	weekAgo := now.Add(-7 * day)
	s := Statistics{TotalNotes: len(notes), DueToday: len(Due(notes, now))}
	for _, n := range notes {
		if n.CreatedAt.After(weekAgo) {
			s.AddedThisWeek++
		}
		if n.Review.Count > 0 {
			s.Reviewed++
		} else {
			s.Pending++
		}
	}
	return s
}

// Service applies the schedule to stored notes.
type Service struct {
	notes store.NoteRepo
	log   *zap.Logger
	now   func() time.Time
}

func NewService(notes store.NoteRepo, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{notes: notes, log: log, now: time.Now}
}

// Record stores a review of noteID and returns the updated note.
func (s *Service) Record(ctx context.Context, noteID string, score int) (*models.Note, error) {
	if score < 0 || score > 100 {
		return nil, ErrInvalidScore
	}
	n, err := s.notes.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}
	n.Review = Record(n.Review, score, s.now())
	if err := s.notes.SaveReview(ctx, n.ID, n.Review); err != nil {
		return nil, fmt.Errorf("save review: %w", err)
	}
	s.log.Info("review.recorded", zap.String("note", n.ID), zap.Int("stage", n.Review.Stage), zap.Time("next", n.Review.NextReviewAt))
	return n, nil
}

func (s *Service) Due(ctx context.Context, userID string) ([]*models.Note, error) {
	all, err := store.AllNotes(ctx, s.notes, userID)
	if err != nil {
		return nil, err
	}
	return Due(all, s.now()), nil
}

func (s *Service) Priority(ctx context.Context, userID string) ([]Prioritized, error) {
	all, err := store.AllNotes(ctx, s.notes, userID)
	if err != nil {
		return nil, err
	}
	return Prioritize(all, s.now()), nil
}

func (s *Service) Statistics(ctx context.Context, userID string) (Statistics, error) {
	all, err := store.AllNotes(ctx, s.notes, userID)
	if err != nil {
		return Statistics{}, err
	}
	return Stats(all, s.now()), nil
}
