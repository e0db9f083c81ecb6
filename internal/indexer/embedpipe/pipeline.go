// Package embedpipe chunks a note, embeds the chunks in concurrent batches and
// stores the vectors.
package embedpipe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hanjang/internal/chunker"
	"hanjang/internal/llm"
	"hanjang/internal/models"
	"hanjang/internal/vectorstore"
)

// ErrNothingToIndex is returned for notes whose content yields no chunks.
var ErrNothingToIndex = errors.New("embedpipe: note has no indexable content")

type Options struct {
	Model       string
	ChunkSize   int
	Overlap     int
	BatchSize   int
	Concurrency int
	// Attempts bounds the per-item retries after a failed batch.
	Attempts int
}

type Pipeline struct {
	emb   llm.Embedder
	vs    vectorstore.VectorStore
	opt   Options
	log   *zap.Logger
	newID func() string
	// pause between per-item retries
	backoff time.Duration
}

func New(emb llm.Embedder, vs vectorstore.VectorStore, opt Options, log *zap.Logger) *Pipeline {
	if opt.ChunkSize <= 0 {
		opt.ChunkSize = chunker.DefaultMaxChunk
	}
	if opt.Overlap < 0 {
		opt.Overlap = chunker.DefaultOverlap
	}
	if opt.BatchSize <= 0 {
		opt.BatchSize = 16
	}
	if opt.Concurrency <= 0 {
		opt.Concurrency = 2
	}
	if opt.Attempts <= 0 {
		opt.Attempts = 2
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{emb: emb, vs: vs, opt: opt, log: log, newID: uuid.NewString, backoff: 200 * time.Millisecond}
}

// IndexNote embeds every chunk of n and upserts the vectors. Either every
// chunk is stored or none is.
func (p *Pipeline) IndexNote(ctx context.Context, n *models.Note) ([]models.NoteChunk, error) {
	spans := chunker.Split(n.Content, p.opt.ChunkSize, p.opt.Overlap)
	if len(spans) == 0 {
		return nil, ErrNothingToIndex
	}
	texts := make([]string, len(spans))
	for i, s := range spans {
		texts[i] = s.Text
	}
	vecs, err := p.embedAll(ctx, texts)
	if err != nil {
		return nil, err
	}
	chunks := make([]models.NoteChunk, len(spans))
	items := make([]vectorstore.UpsertItem, len(spans))
	for i, s := range spans {
		id := p.newID()
		chunks[i] = models.NoteChunk{Text: s.Text, VectorID: id, StartIndex: s.Start, EndIndex: s.End}
		items[i] = vectorstore.UpsertItem{
			VectorID: id, NoteID: n.ID, UserID: n.UserID, ChunkIndex: i,
			Text: s.Text, StartIndex: s.Start, EndIndex: s.End,
			Vector: vecs[i], Model: p.opt.Model,
		}
	}
	if err := p.vs.Upsert(ctx, items); err != nil {
		// backends that write in groups may have stored part of the note
		if _, derr := p.vs.DeleteByNote(context.WithoutCancel(ctx), n.ID); derr != nil {
			p.log.Warn("note.index.cleanup", zap.String("note_id", n.ID), zap.Error(derr))
		}
		return nil, fmt.Errorf("embedpipe: store vectors: %w", err)
	}
	p.log.Info("note.indexed", zap.String("note_id", n.ID), zap.Int("chunks", len(chunks)))
	return chunks, nil
}

// EmbedQuery embeds a single search query.
func (p *Pipeline) EmbedQuery(ctx context.Context, q string) ([]float32, error) {
	vecs, err := p.emb.Embeddings(ctx, p.opt.Model, []string{q})
	if err != nil {
		return nil, fmt.Errorf("embedpipe: embed query: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, errors.New("embedpipe: empty query embedding")
	}
	return vecs[0], nil
}

func (p *Pipeline) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opt.Concurrency)
	for start := 0; start < len(texts); start += p.opt.BatchSize {
		end := min(start+p.opt.BatchSize, len(texts))
		g.Go(func() error { return p.embedBatch(gctx, texts[start:end], out[start:end]) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// embedBatch fills dst for batch; when the batch call fails, each item is
// retried on its own.
func (p *Pipeline) embedBatch(ctx context.Context, batch []string, dst [][]float32) error {
	vecs, err := p.emb.Embeddings(ctx, p.opt.Model, batch)
	if err == nil && len(vecs) == len(batch) {
		copy(dst, vecs)
		return nil
	}
	p.log.Warn("embed.batch_failed", zap.Int("size", len(batch)), zap.Error(err))
	for i, text := range batch {
		v, err := p.embedOne(ctx, text)
		if err != nil {
			return fmt.Errorf("embedpipe: chunk %q: %w", llm.Truncate(text, 40), err)
		}
		dst[i] = v
	}
	return nil
}

func (p *Pipeline) embedOne(ctx context.Context, text string) ([]float32, error) {
	var last error
	for attempt := 0; attempt < p.opt.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.backoff):
			}
		}
		vecs, err := p.emb.Embeddings(ctx, p.opt.Model, []string{text})
		if err == nil && len(vecs) == 1 && len(vecs[0]) > 0 {
			return vecs[0], nil
		}
		if err == nil {
			err = errors.New("empty embedding")
		}
		if errors.Is(err, llm.ErrEmptyText) {
			return nil, err
		}
		last = err
	}
	return nil, last
}
