package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// TimeLayout is the fixed-width UTC format used for every timestamp column,
// so lexical order matches chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

func FormatTime(t time.Time) string { return t.UTC().Format(TimeLayout) }

// ParseTime parses a TimeLayout value; empty input yields the zero time.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(TimeLayout, s)
}

// Open opens (creating if needed) the database at path and migrates it to the
// latest schema.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := Connect(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := (Manager{}).UpToLatest(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Connect opens the database without touching its schema. The pool is
// limited to one connection; SQLite serializes writers anyway and this
// avoids SQLITE_BUSY under concurrent requests.
func Connect(ctx context.Context, path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrator applies the base schema for notes and question sets.
type Migrator struct{}

func (m Migrator) Up(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS notes (
            id TEXT PRIMARY KEY,
            user_id TEXT NOT NULL,
            title TEXT NOT NULL,
            subject TEXT NOT NULL,
            content TEXT NOT NULL,
            image_url TEXT,
            object_key TEXT,
            metadata TEXT,
            tags TEXT,
            is_indexed INTEGER DEFAULT 0,
            created_at TEXT NOT NULL,
            updated_at TEXT NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_notes_user_created ON notes(user_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_notes_subject ON notes(subject, created_at);`,
		`CREATE TABLE IF NOT EXISTS note_chunks (
            note_id TEXT NOT NULL,
            ord INTEGER NOT NULL,
            text TEXT NOT NULL,
            vector_id TEXT,
            start_index INTEGER,
            end_index INTEGER,
            PRIMARY KEY(note_id, ord),
            FOREIGN KEY(note_id) REFERENCES notes(id) ON DELETE CASCADE
        );`,
		`CREATE TABLE IF NOT EXISTS question_sets (
            id TEXT PRIMARY KEY,
            note_id TEXT NOT NULL,
            user_id TEXT NOT NULL,
            title TEXT,
            subject TEXT,
            question_type TEXT,
            questions TEXT NOT NULL,
            metadata TEXT,
            created_at TEXT NOT NULL,
            FOREIGN KEY(note_id) REFERENCES notes(id) ON DELETE CASCADE
        );`,
		`CREATE INDEX IF NOT EXISTS idx_question_sets_user_created ON question_sets(user_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_question_sets_note ON question_sets(note_id);`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("migrate step %d: %w", i, err)
		}
	}
	return nil
}
