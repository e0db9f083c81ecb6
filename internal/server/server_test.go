package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"hanjang/internal/app"
	"hanjang/internal/config"
	"hanjang/internal/llm"
	"hanjang/internal/ocr"
)

var png = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type fakeProvider struct {
	reply string
	delay time.Duration
}

func (f fakeProvider) Chat(ctx context.Context, model string, messages []llm.Message, stream bool, temperature float32) (llm.ChatStream, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return llm.NewStaticStream(f.reply), nil
}

func (fakeProvider) Embeddings(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		out[i] = []float32{0.2, 0.2}
		if strings.Contains(in, "광합성") {
			out[i][0] = 1
		}
	}
	return out, nil
}

type fixedOCR struct{ ocr.Disabled }

func (fixedOCR) ExtractImage(ctx context.Context, image []byte) (ocr.Result, error) {
	return ocr.Result{Text: "광합성은 식물이 빛으로 양분을 만드는 과정이다.", Confidence: 0.9}, nil
}

type testServer struct {
	*Server
	h    http.Handler
	logs *observer.ObservedLogs
}

func newTestServer(t *testing.T, reply string, tune func(*config.Config)) *testServer {
	t.Helper()
	return newTestServerWith(t, fakeProvider{reply: reply}, tune)
}

func newTestServerWith(t *testing.T, prov app.Provider, tune func(*config.Config)) *testServer {
	t.Helper()
	cfg := config.Config{
		CORSOrigin:       "*",
		DefaultUserID:    config.DefaultUserID,
		Store:            "memory",
		VectorStore:      "memory",
		LLMProvider:      "openai",
		OpenAIBaseURL:    "http://127.0.0.1:1",
		ChatModel:        "chat",
		EmbeddingModel:   "embed",
		OCRProvider:      "none",
		ObjectStore:      "local",
		LocalObjectDir:   t.TempDir(),
		UploadMaxBytes:   1 << 16,
		ChunkSize:        config.DefaultChunkSize,
		ChunkOverlap:     config.DefaultChunkOverlap,
		EmbedBatchSize:   4,
		EmbedConcurrency: 1,
		EmbedCacheSize:   16,
		EmbedCacheTTL:    time.Minute,
	}
	if tune != nil {
		tune(&cfg)
	}
	core, logs := observer.New(zap.InfoLevel)
	a, err := app.Build(context.Background(), cfg, zap.New(core), app.Overrides{
		Provider: prov,
		OCR:      fixedOCR{},
	})
	require.NoError(t, err)
	t.Cleanup(a.Close)
	s := New(a)
	return &testServer{Server: s, h: s.Handler(), logs: logs}
}

func (ts *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	ts.h.ServeHTTP(rr, req)
	return rr
}

func (ts *testServer) upload(t *testing.T, title string, data []byte) string {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", "note.png")
	require.NoError(t, err)
	_, _ = fw.Write(data)
	_ = mw.WriteField("title", title)
	_ = mw.WriteField("subject", "과학")
	_ = mw.WriteField("tags", "생물, 식물")
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/notes/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	ts.h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var out struct {
		Data struct {
			NoteID string `json:"noteId"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out.Data.NoteID
}

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Code    int             `json:"code"`
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) response {
	t.Helper()
	var r response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &r), rr.Body.String())
	return r
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, "", nil)
	rr := ts.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	r := decode(t, rr)
	assert.True(t, r.Success)
	assert.Contains(t, string(r.Data), `"status":"healthy"`)
}

func TestUnknownRouteIsEnvelope404(t *testing.T) {
	ts := newTestServer(t, "", nil)
	rr := ts.do(http.MethodGet, "/api/nope", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	r := decode(t, rr)
	assert.False(t, r.Success)
	assert.Equal(t, "not_found", r.Error)
	assert.Equal(t, 404, r.Code)
}

func TestNoteLifecycle(t *testing.T) {
	ts := newTestServer(t, "", nil)
	id := ts.upload(t, "광합성 정리", png)
	require.NotEmpty(t, id)

	rr := ts.do(http.MethodGet, "/api/notes/"+id, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var note struct {
		Title   string   `json:"title"`
		UserID  string   `json:"userId"`
		Tags    []string `json:"tags"`
		Content string   `json:"content"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rr).Data, &note))
	assert.Equal(t, "광합성 정리", note.Title)
	assert.Equal(t, "test-user", note.UserID)
	assert.Equal(t, []string{"생물", "식물"}, note.Tags)
	assert.Contains(t, note.Content, "광합성")

	rr = ts.do(http.MethodGet, "/api/notes?limit=5", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, string(decode(t, rr).Data), id)

	rr = ts.do(http.MethodDelete, "/api/notes/"+id, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = ts.do(http.MethodGet, "/api/notes/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestNoteListHugePage(t *testing.T) {
	ts := newTestServer(t, "", nil)
	ts.upload(t, "생물", png)
	rr := ts.do(http.MethodGet, "/api/notes?page=9223372036854775807&limit=100", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var page struct {
		Notes      []json.RawMessage `json:"notes"`
		Pagination struct {
			Total int `json:"total"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rr).Data, &page))
	assert.Empty(t, page.Notes)
	assert.Equal(t, 1, page.Pagination.Total)
}

func TestUploadRejectsNonImage(t *testing.T) {
	ts := newTestServer(t, "", nil)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("image", "note.txt")
	_, _ = fw.Write([]byte("plain text, not an image"))
	_ = mw.WriteField("title", "t")
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/notes/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	ts.h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUploadWithoutImage(t *testing.T) {
	ts := newTestServer(t, "", nil)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("title", "t")
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/notes/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	ts.h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decode(t, rr).Message, "image")
}

func TestUploadTooLarge(t *testing.T) {
	ts := newTestServer(t, "", func(c *config.Config) { c.UploadMaxBytes = 64 })
	big := append(append([]byte{}, png...), bytes.Repeat([]byte{0}, 128)...)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("image", "big.png")
	_, _ = fw.Write(big)
	_ = mw.WriteField("title", "t")
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/notes/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	ts.h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestUploadURLUnsupportedOnLocalStore(t *testing.T) {
	ts := newTestServer(t, "", nil)
	rr := ts.do(http.MethodPost, "/api/notes/upload-url", map[string]string{"fileName": "a.png", "title": "t"})
	assert.Equal(t, http.StatusNotImplemented, rr.Code)
}

func TestRAGIndexAndAsk(t *testing.T) {
	ts := newTestServer(t, "광합성은 빛 에너지를 화학 에너지로 바꿉니다.", nil)
	id := ts.upload(t, "생물", png)

	rr := ts.do(http.MethodPost, "/api/rag/index-note", map[string]string{"noteId": id})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, string(decode(t, rr).Data), `"alreadyIndexed":false`)

	rr = ts.do(http.MethodPost, "/api/rag/index-note", map[string]string{"noteId": id})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, string(decode(t, rr).Data), `"alreadyIndexed":true`)

	rr = ts.do(http.MethodPost, "/api/rag/ask", map[string]any{"question": "광합성이 뭐야?", "noteIds": []string{id}})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var ans struct {
		Answer  string `json:"answer"`
		Sources []struct {
			NoteID    string `json:"noteId"`
			NoteTitle string `json:"noteTitle"`
		} `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rr).Data, &ans))
	assert.Equal(t, "광합성은 빛 에너지를 화학 에너지로 바꿉니다.", ans.Answer)
	require.Len(t, ans.Sources, 1)
	assert.Equal(t, "생물", ans.Sources[0].NoteTitle)

	rr = ts.do(http.MethodGet, "/api/rag/stats", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, string(decode(t, rr).Data), `"supported":true`)
}

func TestRAGEvaluate(t *testing.T) {
	ts := newTestServer(t, "", nil)
	id := ts.upload(t, "생물", png)
	rr := ts.do(http.MethodPost, "/api/rag/index-note", map[string]string{"noteId": id})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = ts.do(http.MethodPost, "/api/rag/evaluate", map[string]any{
		"cases": []map[string]any{{"query": "광합성", "truth": []string{id}}},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var m struct {
		Cases int     `json:"cases"`
		MRR   float64 `json:"mrr"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rr).Data, &m))
	assert.Equal(t, 1, m.Cases)
	assert.Equal(t, 1.0, m.MRR)

	rr = ts.do(http.MethodPost, "/api/rag/evaluate", map[string]any{"cases": []any{}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestNoteAnalyze(t *testing.T) {
	ts := newTestServer(t, "", nil)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", "table.png")
	require.NoError(t, err)
	_, _ = fw.Write(png)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/notes/analyze", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	ts.h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, string(decode(t, rr).Data), `"tables":[]`)

	rr = ts.do(http.MethodGet, "/api/notes", nil)
	assert.Contains(t, string(decode(t, rr).Data), `"notes":[]`)
}

func TestModelsUnsupported(t *testing.T) {
	ts := newTestServer(t, "", nil)
	rr := ts.do(http.MethodGet, "/api/models", nil)
	assert.Equal(t, http.StatusNotImplemented, rr.Code)
	assert.Equal(t, "not_implemented", decode(t, rr).Error)
}

func TestRAGIndexMissingNote(t *testing.T) {
	ts := newTestServer(t, "", nil)
	rr := ts.do(http.MethodPost, "/api/rag/index-note", map[string]string{"noteId": "missing"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = ts.do(http.MethodPost, "/api/rag/index-note", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRAGAskEmptyQuestion(t *testing.T) {
	ts := newTestServer(t, "", nil)
	rr := ts.do(http.MethodPost, "/api/rag/ask", map[string]string{"question": "  "})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestInvalidJSON(t *testing.T) {
	ts := newTestServer(t, "", nil)
	req := httptest.NewRequest(http.MethodPost, "/api/chat/ask", strings.NewReader("{"))
	rr := httptest.NewRecorder()
	ts.h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_request", decode(t, rr).Error)
}

const questionsReply = "```json\n{\"questions\":[{\"question\":\"광합성에 필요한 것은?\",\"options\":[\"빛\",\"소리\",\"열\",\"바람\"],\"answer\":\"1\",\"explanation\":\"빛 에너지\"}]}\n```"

func TestQuestionsGenerateListGetDelete(t *testing.T) {
	ts := newTestServer(t, questionsReply, nil)
	id := ts.upload(t, "생물", png)

	rr := ts.do(http.MethodPost, "/api/questions/generate", map[string]any{"noteId": id, "count": 1})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var gen struct {
		QuestionSetID string `json:"questionSetId"`
		Count         int    `json:"count"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rr).Data, &gen))
	require.NotEmpty(t, gen.QuestionSetID)
	assert.Equal(t, 1, gen.Count)

	rr = ts.do(http.MethodGet, "/api/questions?noteId="+id, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, string(decode(t, rr).Data), gen.QuestionSetID)

	rr = ts.do(http.MethodGet, "/api/questions/"+gen.QuestionSetID, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = ts.do(http.MethodDelete, "/api/questions/"+gen.QuestionSetID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = ts.do(http.MethodGet, "/api/questions/"+gen.QuestionSetID, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestQuestionsGenerateBadCount(t *testing.T) {
	ts := newTestServer(t, questionsReply, nil)
	rr := ts.do(http.MethodPost, "/api/questions/generate", map[string]any{"noteId": "x", "count": 50})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestQuestionsUnparsableReplyIsNotStored(t *testing.T) {
	ts := newTestServer(t, "문제를 만들 수 없습니다.", nil)
	id := ts.upload(t, "생물", png)
	rr := ts.do(http.MethodPost, "/api/questions/generate", map[string]any{"noteId": id})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	data := string(decode(t, rr).Data)
	assert.Contains(t, data, "rawResponse")
	assert.NotContains(t, data, "questionSetId")
}

func TestChatAskTutorAndTopic(t *testing.T) {
	ts := newTestServer(t, "답변입니다.", nil)
	rr := ts.do(http.MethodPost, "/api/chat/ask", map[string]string{"question": "미분이 뭐야?"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, string(decode(t, rr).Data), "답변입니다.")

	rr = ts.do(http.MethodPost, "/api/chat/tutor", map[string]string{"question": "미분이 뭐야?", "subject": "수학"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = ts.do(http.MethodPost, "/api/chat/generate-questions", map[string]any{"topic": "미분", "count": 2})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, string(decode(t, rr).Data), `"topic":"미분"`)

	rr = ts.do(http.MethodPost, "/api/chat/ask", map[string]string{"question": strings.Repeat("가", 10001)})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestChatStreamSSE(t *testing.T) {
	ts := newTestServer(t, "안녕 \"학생\"", nil)
	rr := ts.do(http.MethodPost, "/api/chat/ask/stream", map[string]string{"question": "hi"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
	body := rr.Body.String()
	assert.Contains(t, body, "event: token\ndata: 안녕 \\\"학생\\\"\n\n")
	assert.True(t, strings.HasSuffix(body, "event: done\ndata: \n\n"), body)
}

func TestChatStreamValidatesBeforeStreaming(t *testing.T) {
	ts := newTestServer(t, "x", nil)
	rr := ts.do(http.MethodPost, "/api/chat/ask/stream", map[string]string{"question": ""})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "application/json; charset=utf-8", rr.Header().Get("Content-Type"))
}

func TestReviews(t *testing.T) {
	ts := newTestServer(t, "", nil)
	id := ts.upload(t, "생물", png)

	rr := ts.do(http.MethodPost, "/api/reviews/"+id, map[string]int{"score": 80})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, string(decode(t, rr).Data), `"reviewCount":1`)

	rr = ts.do(http.MethodPost, "/api/reviews/"+id, map[string]int{"score": 101})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = ts.do(http.MethodPost, "/api/reviews/"+id, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = ts.do(http.MethodPost, "/api/reviews/missing", map[string]int{"score": 10})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = ts.do(http.MethodGet, "/api/reviews/stats", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, string(decode(t, rr).Data), `"totalDocuments":1`)
	assert.Contains(t, string(decode(t, rr).Data), `"reviewedDocuments":1`)

	rr = ts.do(http.MethodGet, "/api/reviews/due", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, string(decode(t, rr).Data), `"count":0`)

	rr = ts.do(http.MethodGet, "/api/reviews/priority", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, string(decode(t, rr).Data), id)
}

func TestStats(t *testing.T) {
	ts := newTestServer(t, "", nil)
	ts.upload(t, "생물", png)
	rr := ts.do(http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, string(decode(t, rr).Data), `"totalNotes":1`)
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	ts := newTestServer(t, "", nil)
	ts.do(http.MethodGet, "/api/notes/abc", nil)
	rr := ts.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `hanjang_http_requests_total{method="GET",path="/api/notes/:id",status="404"} 1`)
}

func TestRequestIDAndAccessLog(t *testing.T) {
	ts := newTestServer(t, "", nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr := httptest.NewRecorder()
	ts.h.ServeHTTP(rr, req)
	assert.Equal(t, "abc-123", rr.Header().Get("X-Request-ID"))

	entries := ts.logs.FilterMessage("http.req").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "abc-123", entries[0].ContextMap()["req_id"])

	rr = ts.do(http.MethodGet, "/health", nil)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, "", nil)
	rr := ts.do(http.MethodOptions, "/api/notes", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestAuthToken(t *testing.T) {
	ts := newTestServer(t, "", func(c *config.Config) { c.APIToken = "s3cret" })
	rr := ts.do(http.MethodGet, "/api/notes", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/notes", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rr = httptest.NewRecorder()
	ts.h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = ts.do(http.MethodGet, "/api/notes?token=s3cret", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = ts.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestPanicIsEnvelope500(t *testing.T) {
	ts := newTestServer(t, "", nil)
	h := ts.recoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { panic("boom") }))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "internal_error", decode(t, rr).Error)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ts := newTestServer(t, "", nil)
	ln, err := (&net.ListenConfig{}).Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ts.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServeDrainsInFlightRequests(t *testing.T) {
	ts := newTestServerWith(t, fakeProvider{reply: "늦은 답변", delay: 300 * time.Millisecond}, nil)
	ln, err := (&net.ListenConfig{}).Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ts.Serve(ctx, ln) }()

	time.AfterFunc(100*time.Millisecond, cancel)
	resp, err := http.Post("http://"+ln.Addr().String()+"/api/chat/ask", "application/json",
		strings.NewReader(`{"question":"광합성이 뭐야?"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
