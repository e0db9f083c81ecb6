package vectorstore

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sqlitedb "hanjang/internal/storage/sqlite"
)

// SQLite implements VectorStore over the note_vectors table. Vectors are
// stored as JSON arrays and scored in process.
type SQLite struct {
	db *sql.DB
}

// NewSQLite returns a VectorStore backed by an already migrated *sql.DB.
func NewSQLite(db *sql.DB) *SQLite { return &SQLite{db: db} }

func (s *SQLite) Upsert(ctx context.Context, items []UpsertItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := sqlitedb.FormatTime(time.Now())
	for _, it := range items {
		id := it.VectorID
		if id == "" {
			id = vectorID(it.NoteID, it.ChunkIndex, it.Model)
		}
		vecJSON, err := json.Marshal(it.Vector)
		if err != nil {
			return err
		}
		// delete-then-insert for idempotency
		if _, err := tx.ExecContext(ctx, `DELETE FROM note_vectors WHERE id=?`, id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO note_vectors(id,note_id,user_id,chunk_index,text,start_index,end_index,model,dim,vector,created_at) VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
			id, it.NoteID, it.UserID, it.ChunkIndex, it.Text, it.StartIndex, it.EndIndex, it.Model, len(it.Vector), string(vecJSON), now,
		)
		if err != nil {
			return fmt.Errorf("insert vector %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) Search(ctx context.Context, query []float32, k int, f Filter) ([]Result, error) {
	if len(query) == 0 || k <= 0 {
		return nil, nil
	}
	// Filter by dimension to avoid mixing models with different dims.
	q := `SELECT id, note_id, chunk_index, text, start_index, end_index, vector FROM note_vectors WHERE dim=?`
	args := []any{len(query)}
	if f.UserID != "" {
		q += ` AND user_id=?`
		args = append(args, f.UserID)
	}
	if len(f.NoteIDs) > 0 {
		q += ` AND note_id IN (?` + strings.Repeat(",?", len(f.NoteIDs)-1) + `)`
		for _, id := range f.NoteIDs {
			args = append(args, id)
		}
	}
	q += ` ORDER BY note_id, chunk_index`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	top := newTopK(k)
	for rows.Next() {
		var r Result
		var vecStr string
		if err := rows.Scan(&r.VectorID, &r.NoteID, &r.ChunkIndex, &r.Text, &r.StartIndex, &r.EndIndex, &vecStr); err != nil {
			return nil, err
		}
		var vec []float32
		if err := json.Unmarshal([]byte(vecStr), &vec); err != nil {
			continue
		}
		top.offer(query, vec, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return top.results(), nil
}

func (s *SQLite) DeleteByNote(ctx context.Context, noteID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM note_vectors WHERE note_id=?`, noteID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLite) NoteVectors(ctx context.Context, noteID string) ([]UpsertItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, note_id, COALESCE(user_id,''), chunk_index, text, start_index, end_index, COALESCE(model,''), vector FROM note_vectors WHERE note_id=? ORDER BY chunk_index`, noteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UpsertItem
	for rows.Next() {
		var it UpsertItem
		var vecStr string
		if err := rows.Scan(&it.VectorID, &it.NoteID, &it.UserID, &it.ChunkIndex, &it.Text, &it.StartIndex, &it.EndIndex, &it.Model, &vecStr); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(vecStr), &it.Vector); err != nil {
			return nil, fmt.Errorf("decode vector %s: %w", it.VectorID, err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *SQLite) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1), COUNT(DISTINCT note_id) FROM note_vectors`).Scan(&st.TotalVectors, &st.UniqueNotes)
	return st, err
}

// vectorID derives a deterministic id per (note, chunk, model) for callers
// that do not assign one.
func vectorID(noteID string, chunk int, model string) string {
	h := sha1.New()
	_, _ = h.Write([]byte(noteID))
	_, _ = h.Write([]byte{'|'})
	_, _ = fmt.Fprint(h, chunk)
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(model))
	return "vec-" + hex.EncodeToString(h.Sum(nil))
}
