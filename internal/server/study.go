package server

import (
	"net/http"
	"strings"

	"hanjang/internal/questions"
	"hanjang/internal/rag"
	"hanjang/internal/store"
)

func (s *Server) handleRAGIndex(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NoteID string `json:"noteId"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.NoteID) == "" {
		badRequest(w, "noteId is required")
		return
	}
	out, err := s.app.RAG.IndexNote(r.Context(), req.NoteID)
	if err != nil {
		s.fail(w, r, "rag.index", err)
		return
	}
	writeData(w, http.StatusOK, out)
}

func (s *Server) handleRAGAsk(w http.ResponseWriter, r *http.Request) {
	var req rag.AskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.UserID = s.userID(r, req.UserID)
	out, err := s.app.RAG.Ask(r.Context(), req)
	if err != nil {
		s.fail(w, r, "rag.ask", err)
		return
	}
	writeData(w, http.StatusOK, out)
}

func (s *Server) handleRAGStats(w http.ResponseWriter, r *http.Request) {
	out, err := s.app.RAG.Stats(r.Context())
	if err != nil {
		s.fail(w, r, "rag.stats", err)
		return
	}
	writeData(w, http.StatusOK, out)
}

func (s *Server) handleRAGEvaluate(w http.ResponseWriter, r *http.Request) {
	var req rag.EvalRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.UserID = s.userID(r, req.UserID)
	out, err := s.app.RAG.Evaluate(r.Context(), req)
	if err != nil {
		s.fail(w, r, "rag.evaluate", err)
		return
	}
	writeData(w, http.StatusOK, out)
}

func (s *Server) handleQuestionsGenerate(w http.ResponseWriter, r *http.Request) {
	var req questions.GenerateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.UserID = s.userID(r, req.UserID)
	out, err := s.app.Questions.Generate(r.Context(), req)
	if err != nil {
		s.fail(w, r, "questions.generate", err)
		return
	}
	status := http.StatusCreated
	if out.QuestionSetID == "" {
		status = http.StatusOK
	}
	writeData(w, status, out)
}

func (s *Server) handleQuestionList(w http.ResponseWriter, r *http.Request) {
	page, ok1 := queryInt(r, "page", 1)
	limit, ok2 := queryInt(r, "limit", store.DefaultLimit)
	if !ok1 || !ok2 {
		badRequest(w, "page and limit must be integers")
		return
	}
	out, err := s.app.Questions.List(r.Context(), store.QuestionQuery{
		UserID: s.userID(r, ""),
		NoteID: r.URL.Query().Get("noteId"),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		s.fail(w, r, "questions.list", err)
		return
	}
	writeData(w, http.StatusOK, out)
}

func (s *Server) handleQuestionGet(w http.ResponseWriter, r *http.Request) {
	qs, err := s.app.Questions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, "questions.get", err)
		return
	}
	writeData(w, http.StatusOK, qs)
}

func (s *Server) handleQuestionDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.app.Questions.Delete(r.Context(), id); err != nil {
		s.fail(w, r, "questions.delete", err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"questionSetId": id})
}

func (s *Server) handleReviewsDue(w http.ResponseWriter, r *http.Request) {
	due, err := s.app.Reviews.Due(r.Context(), s.userID(r, ""))
	if err != nil {
		s.fail(w, r, "reviews.due", err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"notes": due, "count": len(due)})
}

func (s *Server) handleReviewsPriority(w http.ResponseWriter, r *http.Request) {
	out, err := s.app.Reviews.Priority(r.Context(), s.userID(r, ""))
	if err != nil {
		s.fail(w, r, "reviews.priority", err)
		return
	}
	writeData(w, http.StatusOK, out)
}

func (s *Server) handleReviewsStats(w http.ResponseWriter, r *http.Request) {
	out, err := s.app.Reviews.Statistics(r.Context(), s.userID(r, ""))
	if err != nil {
		s.fail(w, r, "reviews.stats", err)
		return
	}
	writeData(w, http.StatusOK, out)
}

func (s *Server) handleReviewRecord(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Score *int `json:"score"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Score == nil {
		badRequest(w, "score is required")
		return
	}
	n, err := s.app.Reviews.Record(r.Context(), r.PathValue("noteId"), *req.Score)
	if err != nil {
		s.fail(w, r, "reviews.record", err)
		return
	}
	writeData(w, http.StatusOK, n)
}

// handleStats summarizes the store for one user.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.app.Store.Stats(r.Context(), s.userID(r, ""))
	if err != nil {
		s.fail(w, r, "stats", err)
		return
	}
	writeData(w, http.StatusOK, st)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	ids, err := s.app.Models(r.Context())
	if err != nil {
		s.fail(w, r, "models", err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"provider": s.app.Config.LLMProvider, "models": ids})
}
