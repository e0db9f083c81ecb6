package server

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"hanjang/internal/chat"
	"hanjang/internal/models"
)

type askBody struct {
	Question string `json:"question"`
	chat.Options
}

func (s *Server) handleChatAsk(w http.ResponseWriter, r *http.Request) {
	var req askBody
	if !decodeJSON(w, r, &req) {
		return
	}
	ans, err := s.app.Chat.Ask(r.Context(), req.Question, req.Options)
	if err != nil {
		s.fail(w, r, "chat.ask", err)
		return
	}
	writeData(w, http.StatusOK, ans)
}

// handleChatStream relays the answer as server-sent events: "token" events
// carry deltas, then a single "done" or "error" event ends the stream.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req askBody
	if !decodeJSON(w, r, &req) {
		return
	}
	st, err := s.app.Chat.Stream(r.Context(), req.Question, req.Options)
	if err != nil {
		s.fail(w, r, "chat.stream", err)
		return
	}
	defer st.Close()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fl, _ := w.(http.Flusher)
	flush := func() {
		if fl != nil {
			fl.Flush()
		}
	}
	for {
		delta, done, err := st.Recv()
		if err != nil {
			s.log.Warn("chat.stream", zap.String("req_id", RequestID(r.Context())), zap.Error(err))
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", jsonEscape(err.Error()))
			flush()
			return
		}
		if delta != "" {
			fmt.Fprintf(w, "event: token\ndata: %s\n\n", jsonEscape(delta))
			flush()
		}
		if done {
			fmt.Fprint(w, "event: done\ndata: \n\n")
			flush()
			return
		}
	}
}

func (s *Server) handleChatTutor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question   string `json:"question"`
		Subject    string `json:"subject"`
		Difficulty string `json:"difficulty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	ans, err := s.app.Chat.Tutor(r.Context(), req.Question, req.Subject, req.Difficulty)
	if err != nil {
		s.fail(w, r, "chat.tutor", err)
		return
	}
	writeData(w, http.StatusOK, ans)
}

func (s *Server) handleTopicQuestions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Topic        string              `json:"topic"`
		Count        int                 `json:"count"`
		QuestionType models.QuestionType `json:"questionType"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := s.app.Questions.FromTopic(r.Context(), req.Topic, req.Count, req.QuestionType)
	if err != nil {
		s.fail(w, r, "chat.questions", err)
		return
	}
	writeData(w, http.StatusOK, out)
}
