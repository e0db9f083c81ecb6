// Package server exposes the note, RAG, question, chat and review services
// over HTTP with JSON envelopes.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"hanjang/internal/app"
	"hanjang/internal/version"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	app     *app.App
	log     *zap.Logger
	limiter *limiters
	started time.Time
}

func New(a *app.App) *Server {
	return &Server{
		app:     a,
		log:     a.Log.Named("http"),
		limiter: newLimiters(a.Config.RateLimitGlobalRPS, a.Config.RateLimitPathRPS, a.Config.RateLimitIPRPS),
		started: time.Now(),
	}
}

func (s *Server) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.app.Metrics.Handler())

	mux.HandleFunc("POST /api/chat/ask", s.handleChatAsk)
	mux.HandleFunc("POST /api/chat/ask/stream", s.handleChatStream)
	mux.HandleFunc("POST /api/chat/tutor", s.handleChatTutor)
	mux.HandleFunc("POST /api/chat/generate-questions", s.handleTopicQuestions)

	mux.HandleFunc("POST /api/notes/upload", s.handleNoteUpload)
	mux.HandleFunc("POST /api/notes/upload-url", s.handleUploadURL)
	mux.HandleFunc("POST /api/notes/process", s.handleNoteProcess)
	mux.HandleFunc("POST /api/notes/analyze", s.handleNoteAnalyze)
	mux.HandleFunc("GET /api/notes", s.handleNoteList)
	mux.HandleFunc("GET /api/notes/{id}", s.handleNoteGet)
	mux.HandleFunc("DELETE /api/notes/{id}", s.handleNoteDelete)

	mux.HandleFunc("POST /api/rag/index-note", s.handleRAGIndex)
	mux.HandleFunc("POST /api/rag/ask", s.handleRAGAsk)
	mux.HandleFunc("GET /api/rag/stats", s.handleRAGStats)
	mux.HandleFunc("POST /api/rag/evaluate", s.handleRAGEvaluate)

	mux.HandleFunc("POST /api/questions/generate", s.handleQuestionsGenerate)
	mux.HandleFunc("GET /api/questions", s.handleQuestionList)
	mux.HandleFunc("GET /api/questions/{id}", s.handleQuestionGet)
	mux.HandleFunc("DELETE /api/questions/{id}", s.handleQuestionDelete)

	mux.HandleFunc("GET /api/reviews/due", s.handleReviewsDue)
	mux.HandleFunc("GET /api/reviews/priority", s.handleReviewsPriority)
	mux.HandleFunc("GET /api/reviews/stats", s.handleReviewsStats)
	mux.HandleFunc("POST /api/reviews/{noteId}", s.handleReviewRecord)

	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/models", s.handleModels)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found: "+r.Method+" "+r.URL.Path)
	})
	return mux
}

// Handler returns the API with its middleware chain, outermost first:
// request log and metrics, panic recovery, CORS, rate limits, auth.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux()
	h = s.authMiddleware(h)
	h = s.rateLimitMiddleware(h)
	h = s.corsMiddleware(h)
	h = s.recoverMiddleware(h)
	return s.logMiddleware(h)
}

// Run serves on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.app.Config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		// requests outlive ctx so Shutdown can drain them
		BaseContext: func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	errs := make(chan error, 1)
	go func() { errs <- srv.Serve(ln) }()
	s.log.Info("server.start", zap.String("addr", ln.Addr().String()), zap.String("version", version.Version))

	select {
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.log.Info("server.shutdown")
		if err := srv.Shutdown(sctx); err != nil {
			return err
		}
		return nil
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"version":   version.Version,
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"timestamp": time.Now().UTC(),
	})
}
