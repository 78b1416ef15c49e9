package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Remote is the durable system-of-record tier.
type Remote interface {
	Insert(ctx context.Context, rec Record) error
	Close() error
}

const remoteTable = "chat_responses"

// NewRemote picks a backend from the URI scheme: postgres:// and
// postgresql:// use pgx, sqlite:// uses an embedded SQLite file.
func NewRemote(ctx context.Context, uri string) (Remote, error) {
	uri = strings.TrimSpace(uri)
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parse remote store uri: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		return NewPostgresRemote(ctx, uri)
	case "sqlite", "sqlite3":
		return NewSQLiteRemote(ctx, sqlitePath(uri))
	default:
		return nil, fmt.Errorf("unsupported remote store scheme %q", u.Scheme)
	}
}

// sqlitePath accepts sqlite:///abs/path, sqlite://rel/path and
// sqlite::memory: style URIs.
func sqlitePath(uri string) string {
	for _, prefix := range []string{"sqlite3://", "sqlite://"} {
		if strings.HasPrefix(strings.ToLower(uri), prefix) {
			return uri[len(prefix):]
		}
	}
	return uri
}
