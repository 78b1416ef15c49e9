package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRemote stores records in a chat_responses table.
type PostgresRemote struct {
	pool *pgxpool.Pool
}

func NewPostgresRemote(ctx context.Context, databaseURL string) (*PostgresRemote, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresRemote{pool: pool}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + remoteTable + ` (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			record_id TEXT NOT NULL,
			word TEXT,
			intent TEXT NOT NULL DEFAULT '',
			request_payload JSONB NOT NULL,
			response_payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (session_id, record_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_responses_session_created ON ` + remoteTable + ` (session_id, created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresRemote) Insert(ctx context.Context, rec Record) error {
	req, resp, err := encodePayloads(rec)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+remoteTable+` (session_id, record_id, word, intent, request_payload, response_payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (session_id, record_id) DO NOTHING`,
		rec.SessionID,
		rec.RecordID,
		nullableWord(rec),
		recordIntent(rec),
		req,
		resp,
		rec.CachedAt,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (s *PostgresRemote) Close() error {
	s.pool.Close()
	return nil
}

func encodePayloads(rec Record) ([]byte, []byte, error) {
	req, err := json.Marshal(rec.Request)
	if err != nil {
		return nil, nil, fmt.Errorf("encode request payload: %w", err)
	}
	resp, err := json.Marshal(rec.Response)
	if err != nil {
		return nil, nil, fmt.Errorf("encode response payload: %w", err)
	}
	return req, resp, nil
}

// nullableWord is only set when the response carries a word block, so
// failed turns never show up as valid word entries.
func nullableWord(rec Record) *string {
	w := rec.Word()
	if w == "" {
		return nil
	}
	return &w
}

func recordIntent(rec Record) string {
	if rec.Response.Artifact == nil {
		return ""
	}
	return string(rec.Response.Artifact.Status.Intent)
}
