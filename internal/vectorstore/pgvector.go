package vectorstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PGVector stores embeddings in PostgreSQL with the pgvector extension.
// Queries order by cosine distance (<=>) without an ANN index, so results are
// exact.
type PGVector struct {
	pool *pgxpool.Pool
}

// NewPGVector connects to dsn. Call EnsureSchema before first use.
func NewPGVector(ctx context.Context, dsn string) (*PGVector, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgvector: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector: ping: %w", err)
	}
	return &PGVector{pool: pool}, nil
}

func (p *PGVector) Close() { p.pool.Close() }

// EnsureSchema creates the extension and table when missing.
func (p *PGVector) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS note_vectors (
            id TEXT PRIMARY KEY,
            note_id TEXT NOT NULL,
            user_id TEXT NOT NULL DEFAULT '',
            chunk_index INTEGER NOT NULL,
            text TEXT NOT NULL,
            start_index INTEGER NOT NULL,
            end_index INTEGER NOT NULL,
            model TEXT NOT NULL DEFAULT '',
            dim INTEGER NOT NULL,
            embedding vector NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
		`CREATE INDEX IF NOT EXISTS idx_note_vectors_note ON note_vectors(note_id, chunk_index)`,
	}
	for i, s := range stmts {
		if _, err := p.pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("pgvector: schema step %d: %w", i, err)
		}
	}
	return nil
}

func (p *PGVector) Upsert(ctx context.Context, items []UpsertItem) error {
	if len(items) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, it := range items {
		id := it.VectorID
		if id == "" {
			id = vectorID(it.NoteID, it.ChunkIndex, it.Model)
		}
		b.Queue(`INSERT INTO note_vectors(id,note_id,user_id,chunk_index,text,start_index,end_index,model,dim,embedding)
            VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
            ON CONFLICT (id) DO UPDATE SET note_id=EXCLUDED.note_id, user_id=EXCLUDED.user_id,
                chunk_index=EXCLUDED.chunk_index, text=EXCLUDED.text, start_index=EXCLUDED.start_index,
                end_index=EXCLUDED.end_index, model=EXCLUDED.model, dim=EXCLUDED.dim, embedding=EXCLUDED.embedding`,
			id, it.NoteID, it.UserID, it.ChunkIndex, it.Text, it.StartIndex, it.EndIndex, it.Model, len(it.Vector), pgvector.NewVector(it.Vector))
	}
	if err := p.pool.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("pgvector: upsert: %w", err)
	}
	return nil
}

// pgScore is cosine similarity; zero-norm vectors make <=> NaN, which scores 0.
const pgScore = `CASE WHEN (embedding <=> $1) = 'NaN'::float8 THEN 0 ELSE 1 - (embedding <=> $1) END`

func searchQuery(query []float32, k int, f Filter) (string, []any) {
	q := `SELECT id, note_id, chunk_index, text, start_index, end_index, ` + pgScore + ` AS score
        FROM note_vectors WHERE dim = $2`
	args := []any{pgvector.NewVector(query), len(query)}
	if f.UserID != "" {
		args = append(args, f.UserID)
		q += fmt.Sprintf(` AND user_id = $%d`, len(args))
	}
	if len(f.NoteIDs) > 0 {
		args = append(args, f.NoteIDs)
		q += fmt.Sprintf(` AND note_id = ANY($%d)`, len(args))
	}
	args = append(args, k)
	q += fmt.Sprintf(` ORDER BY score DESC, note_id, chunk_index LIMIT $%d`, len(args))
	return q, args
}

func (p *PGVector) Search(ctx context.Context, query []float32, k int, f Filter) ([]Result, error) {
	if len(query) == 0 || k <= 0 {
		return nil, nil
	}
	q, args := searchQuery(query, k, f)
	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("pgvector: search: %w", err)
	}
	defer rows.Close()
	var out []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.VectorID, &r.NoteID, &r.ChunkIndex, &r.Text, &r.StartIndex, &r.EndIndex, &r.Score); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PGVector) DeleteByNote(ctx context.Context, noteID string) (int, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM note_vectors WHERE note_id = $1`, noteID)
	if err != nil {
		return 0, fmt.Errorf("pgvector: delete: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *PGVector) NoteVectors(ctx context.Context, noteID string) ([]UpsertItem, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, note_id, user_id, chunk_index, text, start_index, end_index, model, embedding
        FROM note_vectors WHERE note_id = $1 ORDER BY chunk_index`, noteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UpsertItem
	for rows.Next() {
		var it UpsertItem
		var vec pgvector.Vector
		if err := rows.Scan(&it.VectorID, &it.NoteID, &it.UserID, &it.ChunkIndex, &it.Text, &it.StartIndex, &it.EndIndex, &it.Model, &vec); err != nil {
			return nil, err
		}
		it.Vector = vec.Slice()
		out = append(out, it)
	}
	return out, rows.Err()
}

func (p *PGVector) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*), COUNT(DISTINCT note_id) FROM note_vectors`).Scan(&st.TotalVectors, &st.UniqueNotes)
	return st, err
}
