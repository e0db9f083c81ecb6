// Package rag indexes notes into the vector store and answers questions from
// the retrieved chunks.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"hanjang/internal/llm"
	"hanjang/internal/models"
	"hanjang/internal/rag/retriever"
	"hanjang/internal/store"
	"hanjang/internal/vectorstore"
)

const (
	DefaultTopK = 3
	// NoResultsAnswer is returned without calling the model when retrieval finds nothing.
	NoResultsAnswer = "관련된 학습 노트를 찾을 수 없습니다. 먼저 노트를 업로드하고 인덱싱해주세요."
	unknownTitle    = "Unknown"
	previewRunes    = 200

	systemPrompt = "당신은 학습 노트를 분석하여 질문에 답변하는 AI 튜터입니다. 제공된 노트 내용을 기반으로 정확하고 명확하게 답변하세요."
)

var ErrEmptyQuestion = errors.New("rag: question is empty")

// Indexer chunks and embeds one note.
type Indexer interface {
	IndexNote(ctx context.Context, n *models.Note) ([]models.NoteChunk, error)
}

type Service struct {
	notes     store.NoteRepo
	vs        vectorstore.VectorStore
	idx       Indexer
	retriever retriever.Retriever
	chat      llm.ChatProvider
	model     string
	log       *zap.Logger
}

type Options struct {
	ChatModel string
}

func New(notes store.NoteRepo, vs vectorstore.VectorStore, idx Indexer, r retriever.Retriever, chat llm.ChatProvider, opt Options, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{notes: notes, vs: vs, idx: idx, retriever: r, chat: chat, model: opt.ChatModel, log: log}
}

type IndexResult struct {
	NoteID         string `json:"noteId"`
	AlreadyIndexed bool   `json:"alreadyIndexed"`
	ChunkCount     int    `json:"chunkCount"`
}

// IndexNote indexes a stored note once. A note that is already indexed is
// reported as such and left alone.
func (s *Service) IndexNote(ctx context.Context, noteID string) (IndexResult, error) {
	n, err := s.notes.GetNote(ctx, noteID)
	if err != nil {
		return IndexResult{}, err
	}
	if n.IsIndexed {
		return IndexResult{NoteID: n.ID, AlreadyIndexed: true, ChunkCount: len(n.Chunks)}, nil
	}
	// leftovers of an interrupted attempt
	if _, err := s.vs.DeleteByNote(ctx, n.ID); err != nil {
		return IndexResult{}, fmt.Errorf("clear stale vectors: %w", err)
	}
	chunks, err := s.idx.IndexNote(ctx, n)
	if err != nil {
		return IndexResult{}, fmt.Errorf("index note %s: %w", n.ID, err)
	}
	if err := s.notes.SetChunks(ctx, n.ID, chunks); err != nil {
		// vectors without a recorded chunk list would be invisible to the note
		if _, derr := s.vs.DeleteByNote(ctx, n.ID); derr != nil {
			s.log.Warn("rag.index.rollback", zap.String("note", n.ID), zap.Error(derr))
		}
		return IndexResult{}, fmt.Errorf("save chunks: %w", err)
	}
	s.log.Info("rag.indexed", zap.String("note", n.ID), zap.Int("chunks", len(chunks)))
	return IndexResult{NoteID: n.ID, ChunkCount: len(chunks)}, nil
}

type AskRequest struct {
	Question string   `json:"question"`
	NoteIDs  []string `json:"noteIds,omitempty"`
	UserID   string   `json:"userId,omitempty"`
	TopK     int      `json:"topK,omitempty"`
}

type AskResponse struct {
	Question            string          `json:"question"`
	Answer              string          `json:"answer"`
	Sources             []models.Source `json:"sources"`
	Confidence          float64         `json:"confidence"`
	TotalChunksSearched int             `json:"totalChunksSearched"`
}

// Ask retrieves the closest chunks and has the model answer from them.
func (s *Service) Ask(ctx context.Context, req AskRequest) (AskResponse, error) {
	q := strings.TrimSpace(req.Question)
	if q == "" {
		return AskResponse{}, ErrEmptyQuestion
	}
	k := req.TopK
	if k <= 0 {
		k = DefaultTopK
	}
	res, err := s.retriever.Retrieve(ctx, q, k, vectorstore.Filter{NoteIDs: req.NoteIDs, UserID: req.UserID})
	if err != nil {
		return AskResponse{}, err
	}
	if len(res) == 0 {
		return AskResponse{Question: q, Answer: NoResultsAnswer, Sources: []models.Source{}}, nil
	}
	answer, err := llm.Complete(ctx, s.chat, llm.Request{
		Model:       s.model,
		System:      systemPrompt,
		Prompt:      buildPrompt(q, res),
		Temperature: 0.3,
		MaxTokens:   1000,
	})
	if err != nil {
		return AskResponse{}, err
	}
	sources := s.sources(ctx, res)
	s.log.Debug("rag.ask", zap.Int("chunks", len(res)), zap.Float64("best", res[0].Score))
	return AskResponse{
		Question:            q,
		Answer:              answer,
		Sources:             sources,
		Confidence:          res[0].Score,
		TotalChunksSearched: len(res),
	}, nil
}

func buildPrompt(question string, res []retriever.Result) string {
	var sb strings.Builder
	sb.WriteString("다음은 학생의 학습 노트에서 검색된 내용입니다.\n\n<학습 노트 내용>\n")
	for i, r := range res {
		if i > 0 {
			sb.WriteString("\n\n---\n\n")
		}
		fmt.Fprintf(&sb, "[참고 %d] (유사도: %.3f)\n%s", i+1, r.Score, r.Text)
	}
	sb.WriteString("\n</학습 노트 내용>\n\n<질문>\n")
	sb.WriteString(question)
	sb.WriteString("\n</질문>\n\n위 노트 내용을 참고하여 정확하고 도움이 되는 답변을 작성해주세요. 노트에 없는 내용이라면 그렇다고 밝힌 뒤 보충 설명해주세요.")
	return sb.String()
}

// sources resolves note titles once per note; missing notes become "Unknown".
func (s *Service) sources(ctx context.Context, res []retriever.Result) []models.Source {
	notes := make(map[string]*models.Note)
	out := make([]models.Source, 0, len(res))
	for _, r := range res {
		n, seen := notes[r.NoteID]
		if !seen {
			var err error
			n, err = s.notes.GetNote(ctx, r.NoteID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				s.log.Warn("rag.source.lookup", zap.String("note", r.NoteID), zap.Error(err))
			}
			notes[r.NoteID] = n
		}
		src := models.Source{
			NoteID:       r.NoteID,
			NoteTitle:    unknownTitle,
			RelevantText: Preview(r.Text),
			Similarity:   r.Score,
			ChunkIndex:   r.ChunkIndex,
		}
		if n != nil {
			src.NoteTitle = n.Title
			src.Subject = n.Subject
		}
		out = append(out, src)
	}
	return out
}

// Preview returns the first 200 characters of text, marking a cut with "...".
func Preview(text string) string {
	p := llm.Truncate(text, previewRunes)
	if len(p) < len(text) {
		return p + "..."
	}
	return p
}

type Stats struct {
	vectorstore.Stats
	Supported bool `json:"supported"`
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	st, err := s.vs.Stats(ctx)
	if errors.Is(err, vectorstore.ErrStatsUnsupported) {
		return Stats{}, nil
	}
	if err != nil {
		return Stats{}, err
	}
	return Stats{Stats: st, Supported: true}, nil
}

type EvalRequest struct {
	Cases   []retriever.QueryCase `json:"cases"`
	NoteIDs []string              `json:"noteIds,omitempty"`
	UserID  string                `json:"userId,omitempty"`
}

var ErrNoCases = errors.New("rag: no evaluation cases")

// Evaluate scores retrieval against questions whose answering notes are known.
func (s *Service) Evaluate(ctx context.Context, req EvalRequest) (retriever.Metrics, error) {
	if len(req.Cases) == 0 {
		return retriever.Metrics{}, ErrNoCases
	}
	for i, c := range req.Cases {
		if strings.TrimSpace(c.Query) == "" {
			return retriever.Metrics{}, fmt.Errorf("%w: case %d", ErrEmptyQuestion, i+1)
		}
	}
	m, err := retriever.Evaluate(ctx, s.retriever, vectorstore.Filter{NoteIDs: req.NoteIDs, UserID: req.UserID}, req.Cases)
	if err != nil {
		return retriever.Metrics{}, err
	}
	s.log.Info("rag.evaluate", zap.Int("cases", m.Cases), zap.Float64("mrr", m.MRR))
	return m, nil
}
