// Package questions generates practice question sets from notes.
package questions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"hanjang/internal/llm"
	"hanjang/internal/models"
	"hanjang/internal/store"
)

const (
	DefaultCount      = 5
	MaxCount          = 20
	DefaultDifficulty = "보통"
	minutesPerItem    = 3
	parseWarning      = "문제가 JSON 형식으로 파싱되지 않았습니다. rawResponse를 확인해주세요."

	systemPrompt      = "당신은 교육 전문가이자 문제 출제 전문가입니다. 학습 효과가 높은 양질의 문제를 JSON 형식으로 생성해주세요."
	topicSystemPrompt = "당신은 교육 전문가이자 문제 출제 전문가입니다. 학습 효과가 높은 양질의 문제를 생성해주세요."
)

var ErrInvalidRequest = errors.New("questions: invalid request")

var fenced = regexp.MustCompile("```json\\s*([\\s\\S]*?)\\s*```")

// Repo is the storage the generator needs.
type Repo interface {
	GetNote(ctx context.Context, id string) (*models.Note, error)
	store.QuestionRepo
}

type Service struct {
	repo  Repo
	chat  llm.ChatProvider
	model string
	log   *zap.Logger
	now   func() time.Time
}

func New(repo Repo, chat llm.ChatProvider, model string, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, chat: chat, model: model, log: log, now: time.Now}
}

type GenerateRequest struct {
	NoteID       string              `json:"noteId"`
	UserID       string              `json:"userId,omitempty"`
	Count        int                 `json:"count,omitempty"`
	QuestionType models.QuestionType `json:"questionType,omitempty"`
	Difficulty   string              `json:"difficulty,omitempty"`
}

// Generated is the outcome of a generation. When the model's reply cannot be
// parsed, RawResponse and Warning are set and nothing was stored.
type Generated struct {
	QuestionSetID string              `json:"questionSetId,omitempty"`
	NoteID        string              `json:"noteId"`
	NoteTitle     string              `json:"noteTitle"`
	QuestionType  models.QuestionType `json:"questionType"`
	Count         int                 `json:"count"`
	Difficulty    string              `json:"difficulty"`
	Questions     []models.Question   `json:"questions,omitempty"`
	CreatedAt     *time.Time          `json:"createdAt,omitempty"`
	RawResponse   string              `json:"rawResponse,omitempty"`
	Warning       string              `json:"warning,omitempty"`
}

func normalize(r *GenerateRequest) error {
	if strings.TrimSpace(r.NoteID) == "" {
		return fmt.Errorf("%w: noteId is required", ErrInvalidRequest)
	}
	if r.Count == 0 {
		r.Count = DefaultCount
	}
	if r.Count < 1 || r.Count > MaxCount {
		return fmt.Errorf("%w: count must be between 1 and %d", ErrInvalidRequest, MaxCount)
	}
	if r.QuestionType == "" {
		r.QuestionType = models.MultipleChoice
	}
	if r.QuestionType != models.MultipleChoice && r.QuestionType != models.ShortAnswer {
		return fmt.Errorf("%w: unknown question type %q", ErrInvalidRequest, r.QuestionType)
	}
	if r.Difficulty == "" {
		r.Difficulty = DefaultDifficulty
	}
	return nil
}

// Generate asks the model for questions about a note and stores the set.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (Generated, error) {
	if err := normalize(&req); err != nil {
		return Generated{}, err
	}
	n, err := s.repo.GetNote(ctx, req.NoteID)
	if err != nil {
		return Generated{}, err
	}
	if req.UserID == "" {
		req.UserID = n.UserID
	}
	raw, err := llm.Complete(ctx, s.chat, llm.Request{
		Model:       s.model,
		System:      systemPrompt,
		Prompt:      notePrompt(n, req),
		Temperature: 0.8,
		MaxTokens:   4096,
	})
	if err != nil {
		return Generated{}, err
	}
	out := Generated{NoteID: n.ID, NoteTitle: n.Title, QuestionType: req.QuestionType, Count: req.Count, Difficulty: req.Difficulty}
	qs, err := Parse(raw)
	if err != nil {
		s.log.Warn("questions.parse", zap.String("note", n.ID), zap.Error(err))
		out.RawResponse = raw
		out.Warning = parseWarning
		return out, nil
	}
	set := &models.QuestionSet{
		NoteID:       n.ID,
		UserID:       req.UserID,
		Title:        fmt.Sprintf("%s - %s 문제", n.Title, req.QuestionType),
		Subject:      n.Subject,
		QuestionType: req.QuestionType,
		Questions:    qs,
		Metadata: models.QuestionSetMetadata{
			Difficulty:       req.Difficulty,
			EstimatedMinutes: len(qs) * minutesPerItem,
		},
		CreatedAt: s.now(),
	}
	if err := s.repo.CreateQuestionSet(ctx, set); err != nil {
		return Generated{}, fmt.Errorf("save question set: %w", err)
	}
	s.log.Info("questions.generated", zap.String("note", n.ID), zap.String("set", set.ID), zap.Int("count", len(qs)))
	out.QuestionSetID = set.ID
	out.Count = len(qs)
	out.Questions = qs
	out.CreatedAt = &set.CreatedAt
	return out, nil
}

// Parse extracts the question list from a model reply, preferring a ```json
// fenced block over the whole text.
func Parse(raw string) ([]models.Question, error) {
	body := raw
	if m := fenced.FindStringSubmatch(raw); m != nil {
		body = m[1]
	}
	var doc struct {
		Questions []models.Question `json:"questions"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(body)), &doc); err != nil {
		return nil, err
	}
	if len(doc.Questions) == 0 {
		return nil, errors.New("no questions in response")
	}
	return doc.Questions, nil
}

func notePrompt(n *models.Note, r GenerateRequest) string {
	subject := n.Subject
	if subject == "" {
		subject = "미지정"
	}
	var extra, options, answer string
	switch r.QuestionType {
	case models.MultipleChoice:
		extra = "4. 각 객관식 문제는 4개의 선택지를 포함해야 합니다\n5. 정답과 상세한 해설을 함께 제공해주세요"
		options = "\n      \"options\": [\"선택지1\", \"선택지2\", \"선택지3\", \"선택지4\"],"
		answer = "정답 선택지 번호 (1-4)"
	default:
		extra = "4. 예시 답안과 채점 기준을 함께 제공해주세요"
		answer = "예시 답안"
	}
	return fmt.Sprintf(`다음은 학생의 학습 노트 내용입니다:

---
제목: %s
과목: %s

내용:
%s
---

위 학습 노트의 내용을 바탕으로 **%s** 문제를 **%d개** 생성해주세요.

요구사항:
1. 난이도: **%s**
2. 문제는 학습 내용을 제대로 이해했는지 확인할 수 있어야 합니다
3. 각 문제는 학습 노트의 다른 부분을 다루어야 합니다
%s

**중요: 반드시 다음 JSON 형식으로만 응답해주세요 (다른 설명 없이):**

`+"```json"+`
{
  "questions": [
    {
      "type": "%s",
      "question": "문제 내용",%s
      "answer": "%s",
      "explanation": "상세한 해설",
      "difficulty": "%s",
      "points": 10
    }
  ]
}
`+"```", n.Title, subject, n.Content, r.QuestionType, r.Count, r.Difficulty, extra, r.QuestionType, options, answer, r.Difficulty)
}

type TopicQuestions struct {
	Topic        string              `json:"topic"`
	QuestionType models.QuestionType `json:"questionType"`
	Count        int                 `json:"count"`
	Questions    string              `json:"questions"`
	Timestamp    time.Time           `json:"timestamp"`
}

// FromTopic generates questions about a free-form topic. The reply is returned
// as text and not stored.
func (s *Service) FromTopic(ctx context.Context, topic string, count int, qt models.QuestionType) (TopicQuestions, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return TopicQuestions{}, fmt.Errorf("%w: topic is required", ErrInvalidRequest)
	}
	r := GenerateRequest{NoteID: "-", Count: count, QuestionType: qt}
	if err := normalize(&r); err != nil {
		return TopicQuestions{}, err
	}
	var extra string
	if r.QuestionType == models.MultipleChoice {
		extra = "- 각 문제는 4개의 선택지를 포함해야 합니다\n- 정답과 해설을 함께 제공해주세요"
	} else {
		extra = "- 예시 답안과 채점 기준을 함께 제공해주세요"
	}
	prompt := fmt.Sprintf("다음 주제에 대한 %s 문제를 %d개 생성해주세요.\n\n주제: %s\n\n요구사항:\n- 문제는 학습한 내용을 제대로 이해했는지 확인할 수 있어야 합니다\n- 난이도는 중급 수준으로 맞춰주세요\n%s\n\nJSON 형식으로 응답해주세요.",
		r.QuestionType, r.Count, topic, extra)
	out, err := llm.Complete(ctx, s.chat, llm.Request{Model: s.model, System: topicSystemPrompt, Prompt: prompt, Temperature: 0.8})
	if err != nil {
		return TopicQuestions{}, err
	}
	return TopicQuestions{Topic: topic, QuestionType: r.QuestionType, Count: r.Count, Questions: out, Timestamp: s.now()}, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.QuestionSet, error) {
	return s.repo.GetQuestionSet(ctx, id)
}

func (s *Service) List(ctx context.Context, q store.QuestionQuery) (store.QuestionPage, error) {
	return s.repo.ListQuestionSets(ctx, q)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.DeleteQuestionSet(ctx, id)
}
