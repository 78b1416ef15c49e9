package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
)

// Archive uploads every record as prefix/<session>/<record_id>.json and
// serves as a read-through source when the local cache is empty.
type Archive struct {
	store  ObjectStore
	prefix string
}

func NewArchive(store ObjectStore, prefix string) *Archive {
	return &Archive{store: store, prefix: strings.Trim(prefix, "/")}
}

func (a *Archive) key(sessionID, recordID string) string {
	return joinKey(a.prefix, SanitizeKey(sessionID), SanitizeKey(strings.TrimSuffix(recordID, recordExt))+recordExt)
}

func (a *Archive) Upload(ctx context.Context, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return a.store.Put(ctx, a.key(rec.SessionID, rec.RecordID), raw, "application/json")
}

// Records downloads up to limit archived records of a session, newest
// first. Undecodable objects are skipped.
func (a *Archive) Records(ctx context.Context, sessionID string, limit int) ([]Record, error) {
	keys, err := a.store.List(ctx, joinKey(a.prefix, SanitizeKey(sessionID))+"/", 0)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, key := range keys {
		rec, err := a.download(ctx, key)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CachedAt.Equal(out[j].CachedAt) {
			return out[i].CachedAt.After(out[j].CachedAt)
		}
		return out[i].RecordID > out[j].RecordID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (a *Archive) Record(ctx context.Context, sessionID, recordID string) (Record, error) {
	return a.download(ctx, a.key(sessionID, recordID))
}

// SessionIDs lists the session folders present in the archive.
func (a *Archive) SessionIDs(ctx context.Context, limit int) ([]string, error) {
	prefix := a.prefix
	if prefix != "" {
		prefix += "/"
	}
	keys, err := a.store.List(ctx, prefix, 0)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, key := range keys {
		rest := strings.TrimPrefix(key, prefix)
		session, _, found := strings.Cut(rest, "/")
		if !found || session == "" {
			continue
		}
		seen[session] = true
		if limit > 0 && len(seen) >= limit {
			break
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (a *Archive) download(ctx context.Context, key string) (Record, error) {
	raw, err := a.store.Get(ctx, key)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("decode archived record: %w", err)
	}
	if rec.RecordID == "" {
		rec.RecordID = strings.TrimSuffix(path.Base(key), recordExt)
	}
	if rec.SessionID == "" {
		return Record{}, errors.New("archived record has no session id")
	}
	return rec, nil
}
