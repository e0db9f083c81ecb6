package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatProvider provides chat completion APIs. System messages in the list are
// passed to the model as its system prompt.
type ChatProvider interface {
	Chat(ctx context.Context, model string, messages []Message, stream bool, temperature float32) (ChatStream, error)
}

// Embedder provides embedding generation APIs.
type Embedder interface {
	Embeddings(ctx context.Context, model string, inputs []string) ([][]float32, error)
}

// ChatStream allows streaming tokens, or a single final message if non-streaming.
type ChatStream interface {
	Recv() (delta string, done bool, err error)
	Close() error
}

// ModelLister is implemented by providers that can enumerate their models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

var (
	ErrEmptyText         = errors.New("llm: text to embed is empty")
	ErrEmptyResponse     = errors.New("llm: response has no content")
	ErrModelsUnsupported = errors.New("llm: provider cannot list models")
)

// DefaultSystemPrompt is the tutor persona used when a caller sets none.
const DefaultSystemPrompt = "당신은 학습을 돕는 친절한 AI 튜터입니다. 학생들의 질문에 명확하고 이해하기 쉽게 답변해주세요."

// MaxEmbedInput is the longest input, in characters, sent to an embedding model.
const MaxEmbedInput = 8000

type maxTokensKey struct{}

// WithMaxTokens asks providers that support it to cap the completion length.
func WithMaxTokens(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, maxTokensKey{}, n)
}

// MaxTokens returns the cap set by WithMaxTokens, or def.
func MaxTokens(ctx context.Context, def int) int {
	if n, ok := ctx.Value(maxTokensKey{}).(int); ok && n > 0 {
		return n
	}
	return def
}

// Request is a single-turn completion.
type Request struct {
	Model       string
	System      string
	Prompt      string
	Temperature float32
	MaxTokens   int
}

// Messages builds the message list for r.
func (r Request) Messages() []Message {
	msgs := make([]Message, 0, 2)
	if r.System != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: r.System})
	}
	return append(msgs, Message{Role: RoleUser, Content: r.Prompt})
}

// Complete sends r without streaming and returns the whole answer.
func Complete(ctx context.Context, p ChatProvider, r Request) (string, error) {
	if r.MaxTokens > 0 {
		ctx = WithMaxTokens(ctx, r.MaxTokens)
	}
	st, err := p.Chat(ctx, r.Model, r.Messages(), false, r.Temperature)
	if err != nil {
		return "", fmt.Errorf("llm: chat: %w", err)
	}
	out, err := Drain(st)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}

// Drain reads st to completion and closes it.
func Drain(st ChatStream) (string, error) {
	defer st.Close()
	var sb strings.Builder
	for {
		delta, done, err := st.Recv()
		if err != nil {
			return sb.String(), fmt.Errorf("llm: stream: %w", err)
		}
		sb.WriteString(delta)
		if done {
			return sb.String(), nil
		}
	}
}

// PrepareEmbedInput rejects blank input and truncates to MaxEmbedInput runes.
func PrepareEmbedInput(s string) (string, error) {
	if strings.TrimSpace(s) == "" {
		return "", ErrEmptyText
	}
	return Truncate(s, MaxEmbedInput), nil
}

// Truncate returns the first n runes of s.
func Truncate(s string, n int) string {
	if n < 0 {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// StaticStream yields s once and then reports done.
type StaticStream struct{ s string }

func NewStaticStream(s string) *StaticStream { return &StaticStream{s: s} }

func (s *StaticStream) Recv() (string, bool, error) {
	if s.s == "" {
		return "", true, nil
	}
	v := s.s
	s.s = ""
	return v, false, nil
}

func (s *StaticStream) Close() error { return nil }
