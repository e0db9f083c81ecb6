// Package chat answers free-form study questions through the chat model.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"hanjang/internal/llm"
)

// MaxQuestionLength is the longest accepted question, in characters.
const MaxQuestionLength = 10000

var (
	ErrEmptyQuestion   = errors.New("chat: question is empty")
	ErrQuestionTooLong = fmt.Errorf("chat: question exceeds %d characters", MaxQuestionLength)
)

const tutorPrompt = `당신은 학습을 돕는 전문 AI 튜터입니다.

역할:
- 학생의 질문에 명확하고 이해하기 쉽게 답변합니다
- 단순히 답을 알려주기보다는, 학생이 스스로 이해할 수 있도록 설명합니다
- 필요시 예시나 비유를 들어 설명합니다
- 학생의 수준에 맞춰 적절한 난이도로 설명합니다

답변 형식:
1. 핵심 개념 설명
2. 구체적인 예시 제공
3. 추가 학습 팁 (필요시)`

// Options tune a single ask. Zero values use the provider defaults.
type Options struct {
	System      string   `json:"system,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
}

type Answer struct {
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	Subject    string    `json:"subject,omitempty"`
	Difficulty string    `json:"difficulty,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

type Service struct {
	chat  llm.ChatProvider
	model string
	now   func() time.Time
}

func New(chat llm.ChatProvider, model string) *Service {
	return &Service{chat: chat, model: model, now: time.Now}
}

// Validate checks a question before it is sent anywhere.
func Validate(question string) error {
	if strings.TrimSpace(question) == "" {
		return ErrEmptyQuestion
	}
	if utf8.RuneCountInString(question) > MaxQuestionLength {
		return ErrQuestionTooLong
	}
	return nil
}

func (s *Service) request(question string, o Options) llm.Request {
	r := llm.Request{Model: s.model, System: o.System, Prompt: question, Temperature: 1, MaxTokens: o.MaxTokens}
	if r.System == "" {
		r.System = llm.DefaultSystemPrompt
	}
	if o.Temperature != nil {
		r.Temperature = *o.Temperature
	}
	return r
}

func (s *Service) Ask(ctx context.Context, question string, o Options) (Answer, error) {
	if err := Validate(question); err != nil {
		return Answer{}, err
	}
	out, err := llm.Complete(ctx, s.chat, s.request(question, o))
	if err != nil {
		return Answer{}, err
	}
	return Answer{Question: question, Answer: out, Timestamp: s.now()}, nil
}

// Stream starts a streamed answer. The caller must close the stream.
func (s *Service) Stream(ctx context.Context, question string, o Options) (llm.ChatStream, error) {
	if err := Validate(question); err != nil {
		return nil, err
	}
	r := s.request(question, o)
	if r.MaxTokens > 0 {
		ctx = llm.WithMaxTokens(ctx, r.MaxTokens)
	}
	st, err := s.chat.Chat(ctx, r.Model, r.Messages(), true, r.Temperature)
	if err != nil {
		return nil, fmt.Errorf("llm: chat: %w", err)
	}
	return st, nil
}

// Tutor answers with the structured tutor persona, optionally scoped to a
// subject and difficulty.
func (s *Service) Tutor(ctx context.Context, question, subject, difficulty string) (Answer, error) {
	if err := Validate(question); err != nil {
		return Answer{}, err
	}
	system := tutorPrompt
	if subject != "" {
		system += "\n\n과목: " + subject
	}
	if difficulty != "" {
		system += "\n난이도: " + difficulty
	}
	temp := float32(0.7)
	out, err := llm.Complete(ctx, s.chat, s.request(question, Options{System: system, Temperature: &temp}))
	if err != nil {
		return Answer{}, err
	}
	return Answer{Question: question, Answer: out, Subject: subject, Difficulty: difficulty, Timestamp: s.now()}, nil
}
