package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Manager handles schema versioning and basic seeding.
type Manager struct{}

const latestVersion = 3

// LatestVersion is the schema version Open migrates to.
func LatestVersion() int { return latestVersion }

func (m Manager) ensureTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL);`)
	if err != nil {
		return err
	}
	// initialize row if empty
	var cnt int
	_ = db.QueryRowContext(ctx, `SELECT COUNT(1) FROM schema_migrations`).Scan(&cnt)
	if cnt == 0 {
		_, err = db.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES(0)`)
	}
	return err
}

// Version reports the applied schema version.
func (m Manager) Version(ctx context.Context, db *sql.DB) (int, error) {
	if err := m.ensureTable(ctx, db); err != nil {
		return 0, err
	}
	var v int
	if err := db.QueryRowContext(ctx, `SELECT version FROM schema_migrations`).Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

func (m Manager) setVersion(ctx context.Context, db *sql.DB, v int) error {
	_, err := db.ExecContext(ctx, `UPDATE schema_migrations SET version=?`, v)
	return err
}

// UpToLatest applies migrations to reach latestVersion.
func (m Manager) UpToLatest(ctx context.Context, db *sql.DB) error {
	cur, err := m.Version(ctx, db)
	if err != nil {
		return err
	}
	for v := cur + 1; v <= latestVersion; v++ {
		if err := m.up(ctx, db, v); err != nil {
			return fmt.Errorf("migrate up to v%d: %w", v, err)
		}
		if err := m.setVersion(ctx, db, v); err != nil {
			return err
		}
	}
	return nil
}

// DownOne attempts to roll back the last migration if supported.
func (m Manager) DownOne(ctx context.Context, db *sql.DB) error {
	cur, err := m.Version(ctx, db)
	if err != nil {
		return err
	}
	if cur <= 0 {
		return nil
	}
	if err := m.down(ctx, db, cur); err != nil {
		return err
	}
	return m.setVersion(ctx, db, cur-1)
}

func (m Manager) up(ctx context.Context, db *sql.DB, v int) error {
	switch v {
	case 1:
		return (Migrator{}).Up(ctx, db)
	case 2:
		// spaced-repetition state
		return execAll(ctx, db, "v2", []string{
			`ALTER TABLE notes ADD COLUMN review_stage INTEGER DEFAULT 0`,
			`ALTER TABLE notes ADD COLUMN review_count INTEGER DEFAULT 0`,
			`ALTER TABLE notes ADD COLUMN last_reviewed_at TEXT`,
			`ALTER TABLE notes ADD COLUMN next_review_at TEXT`,
			`CREATE TABLE IF NOT EXISTS review_history (
                note_id TEXT NOT NULL,
                reviewed_at TEXT NOT NULL,
                score INTEGER NOT NULL,
                stage INTEGER NOT NULL,
                FOREIGN KEY(note_id) REFERENCES notes(id) ON DELETE CASCADE
            );`,
			`CREATE INDEX IF NOT EXISTS idx_review_history_note ON review_history(note_id, reviewed_at);`,
			`CREATE INDEX IF NOT EXISTS idx_notes_next_review ON notes(user_id, next_review_at);`,
		})
	case 3:
		// embeddings: model/dim and vector(json) per note chunk
		return execAll(ctx, db, "v3", []string{
			`CREATE TABLE IF NOT EXISTS note_vectors (
                id TEXT PRIMARY KEY,
                note_id TEXT NOT NULL,
                user_id TEXT,
                chunk_index INTEGER NOT NULL,
                text TEXT NOT NULL,
                start_index INTEGER,
                end_index INTEGER,
                model TEXT,
                dim INTEGER NOT NULL,
                vector TEXT NOT NULL,
                created_at TEXT NOT NULL
            );`,
			`CREATE INDEX IF NOT EXISTS idx_note_vectors_note ON note_vectors(note_id, chunk_index);`,
			`CREATE INDEX IF NOT EXISTS idx_note_vectors_user_dim ON note_vectors(user_id, dim);`,
		})
	default:
		return fmt.Errorf("unknown migration version %d", v)
	}
}

func (m Manager) down(ctx context.Context, db *sql.DB, v int) error {
	switch v {
	case 3:
		_, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS note_vectors;`)
		return err
	case 2:
		// dropping columns in SQLite requires table rebuild; not supported here
		return errors.New("down from v2 not supported")
	case 1:
		return errors.New("down from v1 not supported")
	default:
		return fmt.Errorf("unknown migration version %d", v)
	}
}

func execAll(ctx context.Context, db *sql.DB, tag string, stmts []string) error {
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("%s step %d: %w", tag, i, err)
		}
	}
	return nil
}

// Seed inserts a sample note when enabled via env (HANJANG_DB_SEED=true/1)
// and the notes table is empty.
func (m Manager) Seed(ctx context.Context, db *sql.DB, userID string) error {
	v := strings.ToLower(os.Getenv("HANJANG_DB_SEED"))
	if v == "" || v == "0" || v == "false" {
		return nil
	}
	var cnt int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(1) FROM notes`).Scan(&cnt); err != nil {
		return err
	}
	if cnt > 0 {
		return nil
	}
	now := time.Now()
	ts := FormatTime(now)
	next := FormatTime(now.AddDate(0, 0, 1))
	_, err := db.ExecContext(ctx, `INSERT INTO notes(id,user_id,title,subject,content,metadata,tags,created_at,updated_at,next_review_at) VALUES(?,?,?,?,?,?,?,?,?,?)`,
		uuid.NewString(), userID, "광합성", "생물",
		"광합성은 빛 에너지를 화학 에너지로 바꾸는 과정이다.\n\n엽록체의 틸라코이드에서 명반응이, 스트로마에서 캘빈 회로가 일어난다.",
		`{"pageCount":1}`, `["seed"]`, ts, ts, next)
	return err
}
