package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/mnemo/internal/artifact"
	"github.com/ent0n29/mnemo/internal/observability"
	"github.com/ent0n29/mnemo/internal/policy"
)

// Manager writes records through the configured tiers. Tier clients are
// built lazily and reused per configuration, so per-request overrides
// that point at a different directory or database get their own client.
// Each tier keeps its own bounded pool.
type Manager struct {
	defaults   Config
	logger     *zap.Logger
	metrics    *observability.Metrics
	http       *resty.Client
	mediaRoots []string

	caches   *clientPool[*LocalCache]
	remotes  *clientPool[Remote]
	archives *clientPool[*Archive]
	mirrors  *clientPool[*Mirror]
}

type Option func(*Manager)

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = observability.OrNop(l) }
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithLocalMediaRoots lists the directories providers write media files
// into. Only file:// media under one of them is mirrored.
func WithLocalMediaRoots(dirs ...string) Option {
	return func(m *Manager) {
		for _, d := range dirs {
			if d = strings.TrimSpace(d); d != "" {
				m.mediaRoots = append(m.mediaRoots, expandHome(d))
			}
		}
	}
}

// WithHTTPClient replaces the client used to download provider media.
func WithHTTPClient(c *resty.Client) Option {
	return func(m *Manager) { m.http = c }
}

func NewManager(defaults Config, opts ...Option) *Manager {
	m := &Manager{
		defaults: defaults,
		logger:   zap.NewNop(),
		http:     resty.New().SetTimeout(30 * time.Second),
		caches:   newClientPool[*LocalCache](nil),
		remotes:  newClientPool(func(r Remote) error { return r.Close() }),
		archives: newClientPool[*Archive](nil),
		mirrors:  newClientPool[*Mirror](nil),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Defaults() Config { return m.defaults }

// Resolve merges a per-request override over the process defaults.
func (m *Manager) Resolve(o *Override) Config {
	return m.defaults.Apply(o)
}

// MirrorMedia rewrites the media URLs of a to mirrored copies when the
// media tier is active. It never fails: on any error the provider URLs are
// kept and the failure is logged.
func (m *Manager) MirrorMedia(ctx context.Context, cfg Config, sessionID string, a *artifact.MemoryArtifact) *artifact.MemoryArtifact {
	if a == nil || !cfg.MirrorActive() {
		return a
	}
	mirror, release, err := m.mirror(ctx, cfg.Media)
	if err != nil {
		m.storageFailure(&Error{Tier: TierMedia, Op: "init", Err: err}, sessionID)
		return a
	}
	defer release()
	out, err := mirror.Apply(ctx, sessionID, a)
	if err != nil {
		m.storageFailure(&Error{Tier: TierMedia, Op: "mirror", Err: err}, sessionID)
	} else {
		m.metrics.ObserveStorageWrite(string(TierMedia), "ok")
	}
	return out
}

// Persist writes rec to every enabled tier concurrently. Failures are
// logged and counted, never returned.
func (m *Manager) Persist(ctx context.Context, cfg Config, rec Record) {
	if rec.RecordID == "" {
		rec.RecordID = NewRecordID(time.Now())
	}
	if rec.CachedAt.IsZero() {
		rec.CachedAt = time.Now().UTC()
	}
	rec.Request = redactRequest(rec.Request)

	var g errgroup.Group
	if cfg.LocalCache.Enabled {
		g.Go(func() error {
			m.write(TierLocalCache, rec.SessionID, func() error {
				cache, release, err := m.cache(ctx, cfg.LocalCache)
				if err != nil {
					return err
				}
				defer release()
				evicted, err := cache.Save(rec)
				m.metrics.ObserveEvictions(evicted)
				return err
			})
			return nil
		})
	}
	if cfg.Remote.Enabled && cfg.Remote.URI != "" {
		g.Go(func() error {
			m.write(TierRemote, rec.SessionID, func() error {
				remote, release, err := m.remote(ctx, cfg.Remote.URI)
				if err != nil {
					return err
				}
				defer release()
				return remote.Insert(ctx, rec)
			})
			return nil
		})
	}
	if cfg.Archive.Enabled {
		g.Go(func() error {
			m.write(TierArchive, rec.SessionID, func() error {
				archive, release, err := m.archive(ctx, cfg.Archive)
				if err != nil {
					return err
				}
				defer release()
				return archive.Upload(ctx, rec)
			})
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Manager) write(tier Tier, sessionID string, fn func() error) {
	if err := fn(); err != nil {
		m.storageFailure(&Error{Tier: tier, Op: "write", Err: err}, sessionID)
		return
	}
	m.metrics.ObserveStorageWrite(string(tier), "ok")
}

func (m *Manager) storageFailure(err *Error, sessionID string) {
	m.metrics.ObserveStorageWrite(string(err.Tier), "error")
	m.logger.Warn("storage tier failed",
		zap.String("tier", string(err.Tier)),
		zap.String("op", err.Op),
		zap.String("session_id", sessionID),
		zap.Error(err.Err),
	)
}

// Records returns up to limit records for a session, newest first. The
// local cache is consulted first; when it has nothing the archive is read
// and its records are merged back into the local cache.
func (m *Manager) Records(ctx context.Context, cfg Config, sessionID string, limit int) ([]Record, error) {
	var cache *LocalCache
	if cfg.LocalCache.Directory != "" {
		c, release, err := m.cache(ctx, cfg.LocalCache)
		if err != nil {
			return nil, &Error{Tier: TierLocalCache, Op: "open", Err: err}
		}
		defer release()
		cache = c
		recs, err := cache.Records(sessionID, limit)
		if err != nil {
			return nil, &Error{Tier: TierLocalCache, Op: "read", Err: err}
		}
		if len(recs) > 0 {
			return recs, nil
		}
	}
	if !cfg.Archive.Enabled {
		return nil, nil
	}
	archive, release, err := m.archive(ctx, cfg.Archive)
	if err != nil {
		return nil, &Error{Tier: TierArchive, Op: "open", Err: err}
	}
	defer release()
	recs, err := archive.Records(ctx, sessionID, limit)
	if err != nil {
		return nil, &Error{Tier: TierArchive, Op: "read", Err: err}
	}
	if cache != nil && len(recs) > 0 {
		if _, err := cache.Merge(sessionID, recs); err != nil {
			m.storageFailure(&Error{Tier: TierLocalCache, Op: "merge", Err: err}, sessionID)
		}
	}
	return recs, nil
}

func (m *Manager) Record(ctx context.Context, cfg Config, sessionID, recordID string) (Record, error) {
	var cache *LocalCache
	if cfg.LocalCache.Directory != "" {
		c, release, err := m.cache(ctx, cfg.LocalCache)
		if err != nil {
			return Record{}, &Error{Tier: TierLocalCache, Op: "open", Err: err}
		}
		defer release()
		cache = c
		rec, err := cache.Record(sessionID, recordID)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrRecordNotFound) {
			return Record{}, &Error{Tier: TierLocalCache, Op: "read", Err: err}
		}
	}
	if !cfg.Archive.Enabled {
		return Record{}, ErrRecordNotFound
	}
	archive, release, err := m.archive(ctx, cfg.Archive)
	if err != nil {
		return Record{}, &Error{Tier: TierArchive, Op: "open", Err: err}
	}
	defer release()
	rec, err := archive.Record(ctx, sessionID, recordID)
	if errors.Is(err, ErrRecordNotFound) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, &Error{Tier: TierArchive, Op: "read", Err: err}
	}
	if cache != nil {
		if _, err := cache.Merge(sessionID, []Record{rec}); err != nil {
			m.storageFailure(&Error{Tier: TierLocalCache, Op: "merge", Err: err}, sessionID)
		}
	}
	return rec, nil
}

// SessionIDs unions the sessions known to the local cache and the archive.
func (m *Manager) SessionIDs(ctx context.Context, cfg Config, limit int) ([]string, error) {
	seen := make(map[string]bool)
	if cfg.LocalCache.Directory != "" {
		cache, release, err := m.cache(ctx, cfg.LocalCache)
		if err != nil {
			return nil, &Error{Tier: TierLocalCache, Op: "open", Err: err}
		}
		ids, err := cache.SessionIDs(limit)
		release()
		if err != nil {
			return nil, &Error{Tier: TierLocalCache, Op: "list", Err: err}
		}
		for _, id := range ids {
			seen[id] = true
		}
	}
	if cfg.Archive.Enabled && (limit <= 0 || len(seen) < limit) {
		archive, release, err := m.archive(ctx, cfg.Archive)
		if err == nil {
			var ids []string
			ids, err = archive.SessionIDs(ctx, limit)
			release()
			for _, id := range ids {
				seen[id] = true
			}
		}
		if err != nil {
			m.logger.Warn("list archive sessions failed", zap.Error(err))
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close releases every pooled tier client. Remote pools are closed; the
// other tiers hold no connections.
func (m *Manager) Close() error {
	var errs []error
	errs = append(errs, m.remotes.shutdown()...)
	m.caches.shutdown()
	m.archives.shutdown()
	m.mirrors.shutdown()
	return errors.Join(errs...)
}

func (m *Manager) cache(ctx context.Context, cfg LocalCacheConfig) (*LocalCache, func(), error) {
	key := fmt.Sprintf("%s|%d", expandHome(cfg.Directory), cfg.MaxEntries)
	return m.caches.get(ctx, key, func(context.Context) (*LocalCache, error) {
		return NewLocalCache(cfg.Directory, cfg.MaxEntries)
	})
}

// remote dials the store outside any shared lock. A failed dial is
// remembered for initRetryBackoff so an unreachable database costs one
// timeout per backoff window, not one per persist.
func (m *Manager) remote(ctx context.Context, uri string) (Remote, func(), error) {
	return m.remotes.get(ctx, strings.TrimSpace(uri), func(ctx context.Context) (Remote, error) {
		return NewRemote(ctx, uri)
	})
}

func (m *Manager) archive(ctx context.Context, cfg ArchiveConfig) (*Archive, func(), error) {
	key := strings.Join([]string{cfg.Provider, cfg.Directory, cfg.Endpoint, cfg.Bucket, cfg.Prefix}, "|")
	return m.archives.get(ctx, key, func(context.Context) (*Archive, error) {
		var (
			store ObjectStore
			err   error
		)
		switch cfg.Provider {
		case ArchiveProviderFS, "":
			store, err = NewFSObjectStore(cfg.Directory, "")
		case ArchiveProviderHTTP:
			store, err = NewHTTPObjectStore(HTTPObjectStoreConfig{
				Endpoint:        cfg.Endpoint,
				Bucket:          cfg.Bucket,
				AccessKeyID:     cfg.AccessKeyID,
				AccessKeySecret: cfg.AccessKeySecret,
			})
		default:
			err = fmt.Errorf("unknown archive provider %q", cfg.Provider)
		}
		if err != nil {
			return nil, err
		}
		return NewArchive(store, cfg.Prefix), nil
	})
}

func (m *Manager) mirror(ctx context.Context, cfg MediaConfig) (*Mirror, func(), error) {
	key := strings.Join([]string{cfg.Provider, cfg.LocalDirectory, cfg.Endpoint, cfg.Bucket, cfg.Prefix,
		cfg.PublicBaseURL, strconv.FormatInt(cfg.MaxDownloadBytes, 10)}, "|")
	return m.mirrors.get(ctx, key, func(context.Context) (*Mirror, error) {
		var sink mediaSink
		switch cfg.Provider {
		case MediaProviderLocalFS:
			dir := expandHome(strings.TrimSpace(cfg.LocalDirectory))
			if dir == "" {
				return nil, errors.New("local_fs media mirror needs a local directory")
			}
			base := cfg.PublicBaseURL
			if base == "" {
				base = "/media"
			}
			sink = &localSink{dir: dir, publicBase: base, maxFiles: cfg.CleanupMaxFiles, maxBytes: cfg.CleanupMaxBytes, logger: m.logger}
		case MediaProviderObject:
			store, err := NewHTTPObjectStore(HTTPObjectStoreConfig{
				Endpoint:        cfg.Endpoint,
				Bucket:          cfg.Bucket,
				AccessKeyID:     cfg.AccessKeyID,
				AccessKeySecret: cfg.AccessKeySecret,
			})
			if err != nil {
				return nil, err
			}
			sink = &objectSink{objects: store, prefix: cfg.Prefix}
		default:
			return nil, fmt.Errorf("unknown media provider %q", cfg.Provider)
		}
		return newMirror(sink, m.http, m.mediaRoots, cfg.MaxDownloadBytes), nil
	})
}

// redactRequest masks PII in user messages before they reach any sink.
func redactRequest(req Request) Request {
	out := Request{Messages: make([]artifact.Turn, len(req.Messages))}
	for i, t := range req.Messages {
		if t.Role == artifact.RoleUser {
			t.Content, _ = policy.RedactPII(t.Content)
		}
		out.Messages[i] = t
	}
	return out
}
