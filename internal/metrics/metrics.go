// Package metrics holds the Prometheus collectors of one process.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hanjang/internal/llm"
)

type Metrics struct {
	reg *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	llmRequests   *prometheus.CounterVec
	embedCache    *prometheus.CounterVec
	notesUploaded prometheus.Counter
	ocrConfidence prometheus.Histogram
}

// New registers every collector on a fresh registry, so tests and multiple
// servers in one process never collide.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hanjang_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hanjang_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		llmRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hanjang_llm_requests_total",
			Help: "Chat model calls by purpose.",
		}, []string{"kind"}),
		embedCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hanjang_embed_cache_total",
			Help: "Embedding cache lookups by result.",
		}, []string{"result"}),
		notesUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hanjang_notes_uploaded_total",
			Help: "Notes created from uploaded images.",
		}),
		ocrConfidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hanjang_ocr_confidence",
			Help:    "Mean OCR line confidence of created notes.",
			Buckets: []float64{0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 0.99},
		}),
	}
	m.reg.MustRegister(m.httpRequests, m.httpDuration, m.llmRequests, m.embedCache, m.notesUploaded, m.ocrConfidence,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(method, path string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// EmbedCache matches llm.CacheObserver.
func (m *Metrics) EmbedCache(hits, misses int) {
	m.embedCache.WithLabelValues("hit").Add(float64(hits))
	m.embedCache.WithLabelValues("miss").Add(float64(misses))
}

// NoteCreated implements notes.Observer.
func (m *Metrics) NoteCreated(ocrConfidence float64) {
	m.notesUploaded.Inc()
	m.ocrConfidence.Observe(ocrConfidence)
}

// Gauge exposes a value computed at scrape time.
func (m *Metrics) Gauge(name, help string, fn func() float64) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn))
}

// Chat counts every call made through p under kind.
func (m *Metrics) Chat(p llm.ChatProvider, kind string) llm.ChatProvider {
	return countingChat{p: p, c: m.llmRequests.WithLabelValues(kind)}
}

type countingChat struct {
	p llm.ChatProvider
	c prometheus.Counter
}

func (c countingChat) Chat(ctx context.Context, model string, messages []llm.Message, stream bool, temperature float32) (llm.ChatStream, error) {
	c.c.Inc()
	return c.p.Chat(ctx, model, messages, stream, temperature)
}
