package llm

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CacheObserver receives hit/miss counts; the server wires it to metrics.
type CacheObserver func(hits, misses int)

// CachingEmbedder memoizes embeddings per model and input in an expiring LRU.
// Bumping the generation drops every cached vector.
type CachingEmbedder struct {
	u   Embedder
	lru *expirable.LRU[string, []float32]

	mu  sync.Mutex
	gen string

	observe CacheObserver
}

func NewCachingEmbedder(u Embedder, size int, ttl time.Duration, observe CacheObserver) *CachingEmbedder {
	if size <= 0 {
		size = 2048
	}
	return &CachingEmbedder{u: u, lru: expirable.NewLRU[string, []float32](size, nil, ttl), observe: observe}
}

// SetGeneration invalidates the cache when gen differs from the current one.
func (c *CachingEmbedder) SetGeneration(gen string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		c.lru.Purge()
		c.gen = gen
	}
}

func (c *CachingEmbedder) Len() int { return c.lru.Len() }

func (c *CachingEmbedder) Embeddings(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	out := make([][]float32, len(inputs))
	var missIdx []int
	for i, s := range inputs {
		if v, ok := c.lru.Get(cacheKey(model, gen, s)); ok && len(v) > 0 {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
	}
	if c.observe != nil {
		c.observe(len(inputs)-len(missIdx), len(missIdx))
	}
	if len(missIdx) == 0 {
		return out, nil
	}
	req := make([]string, len(missIdx))
	for j, i := range missIdx {
		req[j] = inputs[i]
	}
	vecs, err := c.u.Embeddings(ctx, model, req)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		if j < len(vecs) {
			out[i] = vecs[j]
			c.lru.Add(cacheKey(model, gen, inputs[i]), vecs[j])
		}
	}
	return out, nil
}

func cacheKey(model, gen, input string) string {
	if gen != "" {
		return model + "|" + gen + "|" + input
	}
	return model + "|" + input
}
