package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"hanjang/internal/chat"
	"hanjang/internal/indexer/embedpipe"
	"hanjang/internal/llm"
	"hanjang/internal/notes"
	"hanjang/internal/objectstore"
	"hanjang/internal/questions"
	"hanjang/internal/rag"
	"hanjang/internal/review"
	"hanjang/internal/store"
	"hanjang/internal/vectorstore"
)

const maxJSONBody = 1 << 20

type envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

type apiError struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, code int, v any) {
	writeJSON(w, code, envelope{Success: true, Data: v})
}

func writeError(w http.ResponseWriter, status int, errStr, message string) {
	writeJSON(w, status, apiError{Error: errStr, Message: message, Code: status})
}

// classify maps service errors to an HTTP status and error code.
func classify(err error) (int, string) {
	var mbe *http.MaxBytesError
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, objectstore.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, notes.ErrFileTooLarge), errors.As(err, &mbe):
		return http.StatusRequestEntityTooLarge, "file_too_large"
	case errors.Is(err, notes.ErrImageRequired),
		errors.Is(err, notes.ErrInvalidImage),
		errors.Is(err, notes.ErrTitleRequired),
		errors.Is(err, notes.ErrFileName),
		errors.Is(err, notes.ErrForeignBucket),
		errors.Is(err, chat.ErrEmptyQuestion),
		errors.Is(err, chat.ErrQuestionTooLong),
		errors.Is(err, rag.ErrEmptyQuestion),
		errors.Is(err, questions.ErrInvalidRequest),
		errors.Is(err, review.ErrInvalidScore),
		errors.Is(err, vectorstore.ErrNoteIDsRequired),
		errors.Is(err, embedpipe.ErrNothingToIndex),
		errors.Is(err, llm.ErrEmptyText):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, objectstore.ErrPresignUnsupported), errors.Is(err, llm.ErrModelsUnsupported):
		return http.StatusNotImplemented, "not_implemented"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// fail writes err as an error envelope. Server-side failures are logged;
// their detail is still returned as the message.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code := classify(err)
	if status >= 500 {
		s.log.Error(op, zap.String("req_id", RequestID(r.Context())), zap.Error(err))
	}
	writeError(w, status, code, err.Error())
}

func badRequest(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, "invalid_request", msg)
}

// decodeJSON reads a JSON body into v; an empty body leaves v unchanged.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
		return false
	}
	badRequest(w, fmt.Sprintf("invalid json: %v", err))
	return false
}

func (s *Server) userID(r *http.Request, fromBody string) string {
	if v := strings.TrimSpace(fromBody); v != "" {
		return v
	}
	if v := strings.TrimSpace(r.URL.Query().Get("userId")); v != "" {
		return v
	}
	return s.app.Config.DefaultUserID
}

// queryInt returns the named query parameter, or def when absent. A value
// that is not an integer is reported as ok=false.
func queryInt(r *http.Request, name string, def int) (int, bool) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	return n, err == nil
}

// jsonEscape renders s as the body of a JSON string, for SSE data lines.
func jsonEscape(s string) string {
	b, _ := json.Marshal(s)
	if len(b) >= 2 {
		return string(b[1 : len(b)-1])
	}
	return string(b)
}
