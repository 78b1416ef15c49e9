package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const recordExt = ".json"

// LocalCache keeps one directory per session and one JSON file per
// record. Files are created with write-temp-then-link, so a record either
// exists completely or not at all, and a second write of the same record
// id is a no-op.
type LocalCache struct {
	dir        string
	maxEntries int

	// Serializes save+evict per session inside this process. Writers in
	// other processes converge because eviction tolerates missing files.
	locks sync.Map
}

func NewLocalCache(dir string, maxEntries int) (*LocalCache, error) {
	dir = expandHome(strings.TrimSpace(dir))
	if dir == "" {
		return nil, errors.New("local cache directory is required")
	}
	if maxEntries < 1 {
		maxEntries = 1
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create local cache dir: %w", err)
	}
	return &LocalCache{dir: dir, maxEntries: maxEntries}, nil
}

func (c *LocalCache) Dir() string { return c.dir }

func (c *LocalCache) MaxEntries() int { return c.maxEntries }

// Save writes rec and evicts the oldest records of its session beyond
// maxEntries. It returns how many records were evicted.
func (c *LocalCache) Save(rec Record) (int, error) {
	if rec.SessionID == "" || rec.RecordID == "" {
		return 0, errors.New("record needs a session id and a record id")
	}
	mu := c.lock(rec.SessionID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := c.writeRecord(rec); err != nil {
		return 0, err
	}
	return c.evict(rec.SessionID)
}

// Merge saves records that are not cached yet and trims once. It returns
// the number of records actually added.
func (c *LocalCache) Merge(sessionID string, records []Record) (int, error) {
	mu := c.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	added := 0
	now := time.Now().UTC()
	for _, rec := range records {
		rec.SessionID = sessionID
		if rec.CachedAt.IsZero() {
			rec.CachedAt = now
		}
		if rec.RecordID == "" {
			rec.RecordID = NewRecordID(now)
		}
		created, err := c.writeRecord(rec)
		if err != nil {
			return added, err
		}
		if created {
			added++
		}
	}
	if added > 0 {
		if _, err := c.evict(sessionID); err != nil {
			return added, err
		}
	}
	return added, nil
}

// Records returns up to limit records for the session, newest first.
func (c *LocalCache) Records(sessionID string, limit int) ([]Record, error) {
	entries, err := c.scan(sessionID, true)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[j].before(entries[i]) })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]Record, 0, len(entries))
	for _, e := range entries {
		out = append(out, *e.record)
	}
	return out, nil
}

func (c *LocalCache) Record(sessionID, recordID string) (Record, error) {
	rec, err := readRecord(c.recordPath(sessionID, recordID))
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return *rec, nil
}

// SessionIDs lists up to limit session ids that have cached records.
func (c *LocalCache) SessionIDs(limit int) ([]string, error) {
	dirs, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		if id := c.sessionIDOf(filepath.Join(c.dir, d.Name())); id != "" {
			seen[id] = true
		}
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

func (c *LocalCache) lock(sessionID string) *sync.Mutex {
	v, _ := c.locks.LoadOrStore(SanitizeKey(sessionID), &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (c *LocalCache) sessionDir(sessionID string) string {
	return filepath.Join(c.dir, SanitizeKey(sessionID))
}

func (c *LocalCache) recordPath(sessionID, recordID string) string {
	return filepath.Join(c.sessionDir(sessionID), SanitizeKey(strings.TrimSuffix(recordID, recordExt))+recordExt)
}

// writeRecord reports whether the record file was created by this call.
func (c *LocalCache) writeRecord(rec Record) (bool, error) {
	dir := c.sessionDir(rec.SessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, err
	}
	final := c.recordPath(rec.SessionID, rec.RecordID)
	if _, err := os.Stat(final); err == nil {
		return false, nil
	}
	if rec.CachedAt.IsZero() {
		rec.CachedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encode record: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".record-*")
	if err != nil {
		return false, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return false, err
	}
	if err := tmp.Close(); err != nil {
		return false, err
	}
	// Link fails when the target exists, which makes concurrent writes of
	// the same record id settle on exactly one file.
	if err := os.Link(tmp.Name(), final); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

type cacheEntry struct {
	path   string
	header recordHeader
	record *Record
}

type recordHeader struct {
	SessionID string    `json:"session_id"`
	RecordID  string    `json:"record_id"`
	CachedAt  time.Time `json:"cached_at"`
}

func (e cacheEntry) before(o cacheEntry) bool {
	if !e.header.CachedAt.Equal(o.header.CachedAt) {
		return e.header.CachedAt.Before(o.header.CachedAt)
	}
	return e.header.RecordID < o.header.RecordID
}

func (c *LocalCache) scan(sessionID string, full bool) ([]cacheEntry, error) {
	dir := c.sessionDir(sessionID)
	files, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	entries := make([]cacheEntry, 0, len(files))
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, recordExt) {
			continue
		}
		path := filepath.Join(dir, name)
		rec, err := readRecord(path)
		if err != nil {
			// Evicted by a concurrent writer, or unreadable: skip.
			continue
		}
		e := cacheEntry{path: path, header: recordHeader{SessionID: rec.SessionID, RecordID: rec.RecordID, CachedAt: rec.CachedAt}}
		if e.header.RecordID == "" {
			e.header.RecordID = strings.TrimSuffix(name, recordExt)
			rec.RecordID = e.header.RecordID
		}
		if full {
			e.record = rec
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (c *LocalCache) evict(sessionID string) (int, error) {
	entries, err := c.scan(sessionID, false)
	if err != nil {
		return 0, err
	}
	excess := len(entries) - c.maxEntries
	if excess <= 0 {
		return 0, nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].before(entries[j]) })
	evicted := 0
	for _, e := range entries[:excess] {
		if err := os.Remove(e.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return evicted, err
		}
		evicted++
	}
	return evicted, nil
}

func (c *LocalCache) sessionIDOf(dir string) string {
	files, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), recordExt) || strings.HasPrefix(f.Name(), ".") {
			continue
		}
		rec, err := readRecord(filepath.Join(dir, f.Name()))
		if err == nil && rec.SessionID != "" {
			return rec.SessionID
		}
	}
	return ""
}

func readRecord(path string) (*Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return &rec, nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
