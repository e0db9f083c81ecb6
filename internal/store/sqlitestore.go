package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"hanjang/internal/models"
	sqlm "hanjang/internal/storage/sqlite"
)

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens (and migrates) the database at path.
func NewSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path required")
	}
	db, err := sqlm.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// DB exposes the underlying *sql.DB so the vector store can share it.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Close() error { return s.db.Close() }

// WithTx provides a simple transaction wrapper that commits on nil error
// and rolls back on error. The callback must not hold the tx beyond return.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return sqlm.FormatTime(*t)
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

// Notes
func (s *SQLiteStore) CreateNote(ctx context.Context, n *models.Note) error {
	if n.UserID == "" {
		return errors.New("store: note user id required")
	}
	prepareNote(n, s.now())
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO notes(id,user_id,title,subject,content,image_url,object_key,metadata,tags,is_indexed,created_at,updated_at,review_stage,review_count,last_reviewed_at,next_review_at)
            VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			n.ID, n.UserID, n.Title, n.Subject, n.Content, n.ImageURL, n.ObjectKey,
			mustJSON(n.Metadata), mustJSON(n.Tags), n.IsIndexed,
			sqlm.FormatTime(n.CreatedAt), sqlm.FormatTime(n.UpdatedAt),
			n.Review.Stage, n.Review.Count, nullTime(n.Review.LastReviewedAt), nullTime(&n.Review.NextReviewAt),
		)
		if err != nil {
			return fmt.Errorf("insert note: %w", err)
		}
		if err := writeChunks(ctx, tx, n.ID, n.Chunks); err != nil {
			return err
		}
		return writeHistory(ctx, tx, n.ID, n.Review.History)
	})
}

const noteColumns = `id,user_id,title,subject,content,COALESCE(image_url,''),COALESCE(object_key,''),COALESCE(metadata,'{}'),COALESCE(tags,'[]'),is_indexed,created_at,updated_at,review_stage,review_count,COALESCE(last_reviewed_at,''),COALESCE(next_review_at,'')`

type scanner interface{ Scan(dest ...any) error }

func scanNote(r scanner) (*models.Note, error) {
	var n models.Note
	var meta, tags, created, updated, last, next string
	if err := r.Scan(&n.ID, &n.UserID, &n.Title, &n.Subject, &n.Content, &n.ImageURL, &n.ObjectKey,
		&meta, &tags, &n.IsIndexed, &created, &updated, &n.Review.Stage, &n.Review.Count, &last, &next); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(meta), &n.Metadata); err != nil {
		return nil, fmt.Errorf("note %s metadata: %w", n.ID, err)
	}
	if err := json.Unmarshal([]byte(tags), &n.Tags); err != nil || n.Tags == nil {
		n.Tags = []string{}
	}
	n.CreatedAt, _ = sqlm.ParseTime(created)
	n.UpdatedAt, _ = sqlm.ParseTime(updated)
	n.Review.NextReviewAt, _ = sqlm.ParseTime(next)
	if t, _ := sqlm.ParseTime(last); !t.IsZero() {
		n.Review.LastReviewedAt = &t
	}
	return &n, nil
}

func (s *SQLiteStore) GetNote(ctx context.Context, id string) (*models.Note, error) {
	n, err := scanNote(s.db.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if n.Chunks, err = s.chunks(ctx, id); err != nil {
		return nil, err
	}
	if n.Review.History, err = s.history(ctx, id); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *SQLiteStore) chunks(ctx context.Context, noteID string) ([]models.NoteChunk, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT text,COALESCE(vector_id,''),COALESCE(start_index,0),COALESCE(end_index,0) FROM note_chunks WHERE note_id=? ORDER BY ord`, noteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.NoteChunk
	for rows.Next() {
		var c models.NoteChunk
		if err := rows.Scan(&c.Text, &c.VectorID, &c.StartIndex, &c.EndIndex); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) history(ctx context.Context, noteID string) ([]models.ReviewEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT reviewed_at,score,stage FROM review_history WHERE note_id=? ORDER BY reviewed_at, rowid`, noteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ReviewEvent
	for rows.Next() {
		var e models.ReviewEvent
		var at string
		if err := rows.Scan(&at, &e.Score, &e.Stage); err != nil {
			return nil, err
		}
		e.Date, _ = sqlm.ParseTime(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

func writeChunks(ctx context.Context, tx *sql.Tx, noteID string, chunks []models.NoteChunk) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM note_chunks WHERE note_id=?`, noteID); err != nil {
		return err
	}
	for i, c := range chunks {
		if _, err := tx.ExecContext(ctx, `INSERT INTO note_chunks(note_id,ord,text,vector_id,start_index,end_index) VALUES(?,?,?,?,?,?)`,
			noteID, i, c.Text, c.VectorID, c.StartIndex, c.EndIndex); err != nil {
			return fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}
	return nil
}

func writeHistory(ctx context.Context, tx *sql.Tx, noteID string, events []models.ReviewEvent) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM review_history WHERE note_id=?`, noteID); err != nil {
		return err
	}
	for _, e := range events {
		if _, err := tx.ExecContext(ctx, `INSERT INTO review_history(note_id,reviewed_at,score,stage) VALUES(?,?,?,?)`,
			noteID, sqlm.FormatTime(e.Date), e.Score, e.Stage); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) UpdateNote(ctx context.Context, n *models.Note) error {
	n.UpdatedAt = s.now()
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE notes SET title=?,subject=?,content=?,image_url=?,object_key=?,metadata=?,tags=?,is_indexed=?,updated_at=?,
            review_stage=?,review_count=?,last_reviewed_at=?,next_review_at=? WHERE id=?`,
			n.Title, n.Subject, n.Content, n.ImageURL, n.ObjectKey, mustJSON(n.Metadata), mustJSON(n.Tags), n.IsIndexed,
			sqlm.FormatTime(n.UpdatedAt), n.Review.Stage, n.Review.Count, nullTime(n.Review.LastReviewedAt), nullTime(&n.Review.NextReviewAt), n.ID)
		if err != nil {
			return err
		}
		if cnt, _ := res.RowsAffected(); cnt == 0 {
			return ErrNotFound
		}
		if err := writeChunks(ctx, tx, n.ID, n.Chunks); err != nil {
			return err
		}
		return writeHistory(ctx, tx, n.ID, n.Review.History)
	})
}

// DeleteNote relies on ON DELETE CASCADE for chunks, history and question sets.
func (s *SQLiteStore) DeleteNote(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id=?`, id)
	if err != nil {
		return err
	}
	if cnt, _ := res.RowsAffected(); cnt == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListNotes(ctx context.Context, q NoteQuery) (NotePage, error) {
	page, limit := normalizePage(q.Page, q.Limit)
	var where []string
	var args []any
	if q.UserID != "" {
		where = append(where, "user_id=?")
		args = append(args, q.UserID)
	}
	if q.Subject != "" {
		where = append(where, "subject=?")
		args = append(args, q.Subject)
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM notes`+cond, args...).Scan(&total); err != nil {
		return NotePage{}, err
	}
	lo, hi, pg := window(total, page, limit)
	out := NotePage{Notes: []*models.Note{}, Pagination: pg}
	if hi <= lo {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+noteColumns+` FROM notes`+cond+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, hi-lo, lo)...)
	if err != nil {
		return NotePage{}, err
	}
	defer rows.Close()
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return NotePage{}, err
		}
		out.Notes = append(out.Notes, n)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetChunks(ctx context.Context, noteID string, chunks []models.NoteChunk) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE notes SET is_indexed=1, updated_at=? WHERE id=?`, sqlm.FormatTime(s.now()), noteID)
		if err != nil {
			return err
		}
		if cnt, _ := res.RowsAffected(); cnt == 0 {
			return ErrNotFound
		}
		return writeChunks(ctx, tx, noteID, chunks)
	})
}

func (s *SQLiteStore) SaveReview(ctx context.Context, noteID string, st models.ReviewState) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE notes SET review_stage=?,review_count=?,last_reviewed_at=?,next_review_at=?,updated_at=? WHERE id=?`,
			st.Stage, st.Count, nullTime(st.LastReviewedAt), nullTime(&st.NextReviewAt), sqlm.FormatTime(s.now()), noteID)
		if err != nil {
			return err
		}
		if cnt, _ := res.RowsAffected(); cnt == 0 {
			return ErrNotFound
		}
		return writeHistory(ctx, tx, noteID, st.History)
	})
}

// Question sets
func (s *SQLiteStore) CreateQuestionSet(ctx context.Context, qs *models.QuestionSet) error {
	prepareQuestionSet(qs, s.now())
	_, err := s.db.ExecContext(ctx, `INSERT INTO question_sets(id,note_id,user_id,title,subject,question_type,questions,metadata,created_at) VALUES(?,?,?,?,?,?,?,?,?)`,
		qs.ID, qs.NoteID, qs.UserID, qs.Title, qs.Subject, string(qs.QuestionType), mustJSON(qs.Questions), mustJSON(qs.Metadata), sqlm.FormatTime(qs.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert question set: %w", err)
	}
	return nil
}

const questionColumns = `id,note_id,user_id,COALESCE(title,''),COALESCE(subject,''),COALESCE(question_type,''),questions,COALESCE(metadata,'{}'),created_at`

func scanQuestionSet(r scanner) (*models.QuestionSet, error) {
	var qs models.QuestionSet
	var typ, questions, meta, created string
	if err := r.Scan(&qs.ID, &qs.NoteID, &qs.UserID, &qs.Title, &qs.Subject, &typ, &questions, &meta, &created); err != nil {
		return nil, err
	}
	qs.QuestionType = models.QuestionType(typ)
	if err := json.Unmarshal([]byte(questions), &qs.Questions); err != nil {
		return nil, fmt.Errorf("question set %s: %w", qs.ID, err)
	}
	if err := json.Unmarshal([]byte(meta), &qs.Metadata); err != nil {
		return nil, fmt.Errorf("question set %s metadata: %w", qs.ID, err)
	}
	qs.CreatedAt, _ = sqlm.ParseTime(created)
	return &qs, nil
}

func (s *SQLiteStore) GetQuestionSet(ctx context.Context, id string) (*models.QuestionSet, error) {
	qs, err := scanQuestionSet(s.db.QueryRowContext(ctx, `SELECT `+questionColumns+` FROM question_sets WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return qs, err
}

func (s *SQLiteStore) ListQuestionSets(ctx context.Context, q QuestionQuery) (QuestionPage, error) {
	page, limit := normalizePage(q.Page, q.Limit)
	var where []string
	var args []any
	if q.UserID != "" {
		where = append(where, "user_id=?")
		args = append(args, q.UserID)
	}
	if q.NoteID != "" {
		where = append(where, "note_id=?")
		args = append(args, q.NoteID)
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM question_sets`+cond, args...).Scan(&total); err != nil {
		return QuestionPage{}, err
	}
	lo, hi, pg := window(total, page, limit)
	out := QuestionPage{QuestionSets: []*models.QuestionSet{}, Pagination: pg}
	if hi <= lo {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+questionColumns+` FROM question_sets`+cond+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, hi-lo, lo)...)
	if err != nil {
		return QuestionPage{}, err
	}
	defer rows.Close()
	for rows.Next() {
		qs, err := scanQuestionSet(rows)
		if err != nil {
			return QuestionPage{}, err
		}
		out.QuestionSets = append(out.QuestionSets, qs)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteQuestionSet(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM question_sets WHERE id=?`, id)
	if err != nil {
		return err
	}
	if cnt, _ := res.RowsAffected(); cnt == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Stats(ctx context.Context, userID string) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1), COALESCE(SUM(is_indexed),0), COALESCE(SUM(CASE WHEN review_count>0 THEN 1 ELSE 0 END),0)
        FROM notes WHERE (?='' OR user_id=?)`, userID, userID).Scan(&st.TotalNotes, &st.IndexedNotes, &st.ReviewedNotes)
	if err != nil {
		return st, err
	}
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM question_sets WHERE (?='' OR user_id=?)`, userID, userID).Scan(&st.QuestionSets)
	return st, err
}
