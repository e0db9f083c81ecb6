package llm

import (
	"context"
	"testing"
	"time"
)

type countingEmbedder struct {
	calls  int
	inputs int
}

func (f *countingEmbedder) Embeddings(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	f.calls++
	f.inputs += len(inputs)
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

func TestCachingEmbedder_Hit(t *testing.T) {
	fe := &countingEmbedder{}
	var hits, misses int
	ce := NewCachingEmbedder(fe, 16, time.Hour, func(h, m int) { hits += h; misses += m })
	if _, err := ce.Embeddings(context.Background(), "m", []string{"hello"}); err != nil {
		t.Fatalf("embeddings err: %v", err)
	}
	v, err := ce.Embeddings(context.Background(), "m", []string{"hello"})
	if err != nil || len(v) != 1 {
		t.Fatalf("embeddings err2: %v", err)
	}
	if fe.calls != 1 {
		t.Fatalf("expected 1 underlying call, got %d", fe.calls)
	}
	if hits != 1 || misses != 1 {
		t.Fatalf("hits=%d misses=%d", hits, misses)
	}
}

func TestCachingEmbedder_PartialMissOnlySendsMisses(t *testing.T) {
	fe := &countingEmbedder{}
	ce := NewCachingEmbedder(fe, 16, time.Hour, nil)
	_, _ = ce.Embeddings(context.Background(), "m", []string{"a"})
	out, err := ce.Embeddings(context.Background(), "m", []string{"a", "b", "c"})
	if err != nil || len(out) != 3 {
		t.Fatalf("err=%v len=%d", err, len(out))
	}
	if fe.inputs != 3 {
		t.Fatalf("expected 3 embedded inputs in total, got %d", fe.inputs)
	}
}

func TestCachingEmbedder_ModelIsPartOfKey(t *testing.T) {
	fe := &countingEmbedder{}
	ce := NewCachingEmbedder(fe, 16, time.Hour, nil)
	_, _ = ce.Embeddings(context.Background(), "m1", []string{"a"})
	_, _ = ce.Embeddings(context.Background(), "m2", []string{"a"})
	if fe.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", fe.calls)
	}
}

func TestCachingEmbedder_InvalidateByGeneration(t *testing.T) {
	fe := &countingEmbedder{}
	ce := NewCachingEmbedder(fe, 16, time.Hour, nil)
	ce.SetGeneration("1")
	_, _ = ce.Embeddings(context.Background(), "m", []string{"hello"})
	ce.SetGeneration("1")
	_, _ = ce.Embeddings(context.Background(), "m", []string{"hello"})
	if fe.calls != 1 {
		t.Fatalf("same generation should hit, calls=%d", fe.calls)
	}
	ce.SetGeneration("2")
	if ce.Len() != 0 {
		t.Fatalf("cache not purged")
	}
	_, _ = ce.Embeddings(context.Background(), "m", []string{"hello"})
	if fe.calls != 2 {
		t.Fatalf("expected 2 underlying calls after generation change, got %d", fe.calls)
	}
}
