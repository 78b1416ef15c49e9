package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteRemote stores records in a local SQLite file with the same schema
// as the Postgres backend.
type SQLiteRemote struct {
	db *sql.DB
}

func NewSQLiteRemote(ctx context.Context, path string) (*SQLiteRemote, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite remote store needs a path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)
	if err := initSQLiteSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteRemote{db: db}, nil
}

func initSQLiteSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS ` + remoteTable + ` (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			record_id TEXT NOT NULL,
			word TEXT,
			intent TEXT NOT NULL DEFAULT '',
			request_payload TEXT NOT NULL,
			response_payload TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			UNIQUE (session_id, record_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_responses_session_created ON ` + remoteTable + ` (session_id, created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *SQLiteRemote) Insert(ctx context.Context, rec Record) error {
	req, resp, err := encodePayloads(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+remoteTable+` (session_id, record_id, word, intent, request_payload, response_payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (session_id, record_id) DO NOTHING`,
		rec.SessionID,
		rec.RecordID,
		nullableWord(rec),
		recordIntent(rec),
		string(req),
		string(resp),
		rec.CachedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// Count returns the number of stored records for a session.
func (s *SQLiteRemote) Count(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+remoteTable+` WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

// Words lists the non-null card words stored for a session.
func (s *SQLiteRemote) Words(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT word FROM `+remoteTable+` WHERE session_id = ? AND word IS NOT NULL ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query words: %w", err)
	}
	defer rows.Close()
	var words []string
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, fmt.Errorf("scan word: %w", err)
		}
		words = append(words, w)
	}
	return words, rows.Err()
}

func (s *SQLiteRemote) Close() error {
	return s.db.Close()
}
