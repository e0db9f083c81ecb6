package models

import (
	"encoding/json"
	"strconv"
	"time"
)

// DefaultSubject is used when a note is saved without a subject.
const DefaultSubject = "기타"

type Note struct {
	ID        string       `json:"noteId"`
	UserID    string       `json:"userId"`
	Title     string       `json:"title"`
	Subject   string       `json:"subject"`
	Content   string       `json:"content"`
	ImageURL  string       `json:"imageUrl,omitempty"`
	ObjectKey string       `json:"s3Key,omitempty"`
	Metadata  NoteMetadata `json:"metadata"`
	Tags      []string     `json:"tags"`
	Chunks    []NoteChunk  `json:"chunks,omitempty"`
	IsIndexed bool         `json:"isIndexed"`
	Review    ReviewState  `json:"review"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

type NoteMetadata struct {
	UploadedAt    time.Time `json:"uploadDate"`
	OCRConfidence float64   `json:"ocrConfidence"`
	PageCount     int       `json:"pageCount"`
	FileSize      int64     `json:"fileSize,omitempty"`
	MimeType      string    `json:"mimeType,omitempty"`
	OriginalName  string    `json:"originalName,omitempty"`
}

// NoteChunk is one indexed slice of a note's content. Offsets count
// characters (runes) in Note.Content.
type NoteChunk struct {
	Text       string `json:"text"`
	VectorID   string `json:"vectorId"`
	StartIndex int    `json:"startIndex"`
	EndIndex   int    `json:"endIndex"`
}

// ReviewState tracks the spaced-repetition schedule of a note.
type ReviewState struct {
	Stage          int           `json:"stage"`
	Count          int           `json:"reviewCount"`
	LastReviewedAt *time.Time    `json:"lastReviewed,omitempty"`
	NextReviewAt   time.Time     `json:"nextReview"`
	History        []ReviewEvent `json:"reviewHistory,omitempty"`
}

type ReviewEvent struct {
	Date  time.Time `json:"date"`
	Score int       `json:"score"`
	Stage int       `json:"stage"`
}

type QuestionType string

const (
	MultipleChoice QuestionType = "객관식"
	ShortAnswer    QuestionType = "주관식"
)

type QuestionSet struct {
	ID           string              `json:"questionSetId"`
	NoteID       string              `json:"noteId"`
	UserID       string              `json:"userId"`
	Title        string              `json:"title"`
	Subject      string              `json:"subject"`
	QuestionType QuestionType        `json:"questionType"`
	Questions    []Question          `json:"questions"`
	Metadata     QuestionSetMetadata `json:"metadata"`
	CreatedAt    time.Time           `json:"createdAt"`
}

type QuestionSetMetadata struct {
	TotalQuestions   int    `json:"totalQuestions"`
	Difficulty       string `json:"difficulty"`
	EstimatedMinutes int    `json:"estimatedTime"`
}

type Question struct {
	Type        QuestionType `json:"type"`
	Question    string       `json:"question"`
	Options     []string     `json:"options,omitempty"`
	Answer      FlexString   `json:"answer"`
	Explanation string       `json:"explanation,omitempty"`
	Difficulty  string       `json:"difficulty,omitempty"`
	Points      int          `json:"points,omitempty"`
}

// Source is a note chunk cited by a retrieval-augmented answer.
type Source struct {
	NoteID       string  `json:"noteId"`
	NoteTitle    string  `json:"noteTitle"`
	Subject      string  `json:"subject"`
	RelevantText string  `json:"relevantText"`
	Similarity   float64 `json:"similarity"`
	ChunkIndex   int     `json:"chunkIndex"`
}

// FlexString decodes a JSON string or number; generated answers use either
// ("2" or 2 for the second option).
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*f = FlexString(strconv.FormatInt(i, 10))
		return nil
	}
	*f = FlexString(n.String())
	return nil
}
