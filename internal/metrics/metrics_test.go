package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hanjang/internal/llm"
)

type echoChat struct{}

func (echoChat) Chat(ctx context.Context, model string, messages []llm.Message, stream bool, temperature float32) (llm.ChatStream, error) {
	return llm.NewStaticStream("ok"), nil
}

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveRequest("GET", "/api/notes", 200, 30*time.Millisecond)
	m.ObserveRequest("GET", "/api/notes", 200, 10*time.Millisecond)
	m.EmbedCache(3, 1)
	m.NoteCreated(0.92)

	chat := m.Chat(echoChat{}, "rag")
	_, err := llm.Complete(context.Background(), chat, llm.Request{Prompt: "q"})
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/notes", "200")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.embedCache.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.embedCache.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notesUploaded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.llmRequests.WithLabelValues("rag")))
}

func TestHandlerExposesGauge(t *testing.T) {
	m := New()
	m.Gauge("hanjang_vectors", "Stored vectors.", func() float64 { return 42 })
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rr.Body)
	assert.True(t, strings.Contains(string(body), "hanjang_vectors 42"), string(body))
}
