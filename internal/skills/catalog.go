package skills

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/mnemo/internal/observability"
)

const DefaultTTL = 60 * time.Second

// Snapshot is one immutable view of the corpus.
type Snapshot struct {
	Docs     []Document
	Invalid  map[string]error
	LoadedAt time.Time

	index *index
}

// Selection is the result of a successful Select.
type Selection struct {
	Document Document
	Score    float64
}

// Catalog serves skill selection from an in-memory snapshot and swaps in a
// fresh snapshot once the current one is older than the TTL. Readers never
// observe a partially built snapshot.
type Catalog struct {
	source  Source
	scorer  Scorer
	ttl     time.Duration
	tracker *ChangeTracker
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time

	snapshot  atomic.Pointer[Snapshot]
	refreshMu sync.Mutex
}

type CatalogOption func(*Catalog)

func WithTTL(ttl time.Duration) CatalogOption {
	return func(c *Catalog) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithMinScore(min float64) CatalogOption {
	return func(c *Catalog) { c.scorer.MinScore = min }
}

// WithChangeTracker lets a TTL expiry skip the disk read when the tracker
// saw no changes since the last load.
func WithChangeTracker(t *ChangeTracker) CatalogOption {
	return func(c *Catalog) { c.tracker = t }
}

func WithLogger(l *zap.Logger) CatalogOption {
	return func(c *Catalog) { c.logger = observability.OrNop(l) }
}

func WithMetrics(m *observability.Metrics) CatalogOption {
	return func(c *Catalog) { c.metrics = m }
}

func WithClock(now func() time.Time) CatalogOption {
	return func(c *Catalog) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCatalog returns a catalog with an empty snapshot. The first Select
// triggers the initial load.
func NewCatalog(source Source, opts ...CatalogOption) *Catalog {
	c := &Catalog{
		source: source,
		scorer: NewScorer(DefaultMinScore),
		ttl:    DefaultTTL,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Select returns the best matching skill for query, if any clears the
// relevance floor. It never fails: corpus problems are logged and the
// previous snapshot keeps serving.
func (c *Catalog) Select(ctx context.Context, query string) (Selection, bool) {
	snap := c.current(ctx)
	doc, score, ok := c.scorer.Best(query, snap.index)
	if !ok {
		return Selection{}, false
	}
	return Selection{Document: doc, Score: score}, true
}

// Snapshot returns the snapshot currently in service, loading it if needed.
func (c *Catalog) Snapshot(ctx context.Context) *Snapshot {
	return c.current(ctx)
}

// Refresh reloads the corpus now regardless of age.
func (c *Catalog) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	return c.reloadLocked(ctx)
}

func (c *Catalog) current(ctx context.Context) *Snapshot {
	snap := c.snapshot.Load()
	if snap != nil && c.now().Sub(snap.LoadedAt) < c.ttl {
		return snap
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Another caller may have refreshed while we waited.
	snap = c.snapshot.Load()
	if snap != nil && c.now().Sub(snap.LoadedAt) < c.ttl {
		return snap
	}
	if snap != nil && c.tracker != nil && !c.tracker.Dirty() {
		c.snapshot.Store(snap.restamp(c.now()))
		c.metrics.ObserveSkillRefresh("unchanged")
		return c.snapshot.Load()
	}
	_ = c.reloadLocked(ctx)
	return c.snapshot.Load()
}

func (c *Catalog) reloadLocked(ctx context.Context) error {
	if c.tracker != nil {
		c.tracker.markClean()
	}
	docs, invalid, err := c.source.Load(ctx)
	if err != nil {
		loadErr := &CorpusLoadError{Source: c.source.Describe(), Err: err}
		c.logger.Warn("skill corpus refresh failed; keeping previous snapshot", zap.Error(loadErr))
		c.metrics.ObserveSkillRefresh("error")
		if c.tracker != nil {
			c.tracker.markDirty()
		}
		prev := c.snapshot.Load()
		if prev == nil {
			prev = &Snapshot{index: buildIndex(nil)}
		}
		c.snapshot.Store(prev.restamp(c.now()))
		return loadErr
	}

	for path, verr := range invalid {
		c.logger.Warn("skipping invalid skill", zap.String("path", path), zap.Error(verr))
	}
	c.snapshot.Store(&Snapshot{
		Docs:     docs,
		Invalid:  invalid,
		LoadedAt: c.now(),
		index:    buildIndex(docs),
	})
	c.metrics.ObserveSkillRefresh("ok")
	c.logger.Debug("skill corpus loaded", zap.Int("skills", len(docs)), zap.Int("invalid", len(invalid)))
	return nil
}

func (s *Snapshot) restamp(at time.Time) *Snapshot {
	cp := *s
	cp.LoadedAt = at
	return &cp
}
