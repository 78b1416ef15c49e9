package storage

import (
	"context"
	"sync"
	"time"
)

const (
	// maxTierClients bounds how many distinct configurations of one tier
	// keep an open client. Per-request overrides beyond that evict the
	// least recently used one.
	maxTierClients = 8
	// initRetryBackoff is how long a failed client init is remembered
	// before the next caller dials again.
	initRetryBackoff = 30 * time.Second
)

// clientPool holds lazily built tier clients keyed by configuration. The
// pool lock only guards the map: clients are built outside it, so a slow
// database dial never blocks callers of other keys or other tiers.
type clientPool[T any] struct {
	max     int
	backoff time.Duration
	closeFn func(T) error
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*poolEntry[T]
}

type poolEntry[T any] struct {
	ready    chan struct{}
	val      T
	err      error
	failedAt time.Time
	lastUsed time.Time
	refs     int
	evicted  bool
	closed   bool
}

func newClientPool[T any](closeFn func(T) error) *clientPool[T] {
	return &clientPool[T]{
		max:     maxTierClients,
		backoff: initRetryBackoff,
		closeFn: closeFn,
		now:     time.Now,
		entries: make(map[string]*poolEntry[T]),
	}
}

// get returns the client for key, building it with build on first use.
// Concurrent callers for the same key wait for one build. The returned
// release func must be called once the caller is done with the client.
func (p *clientPool[T]) get(ctx context.Context, key string, build func(context.Context) (T, error)) (T, func(), error) {
	var zero T
	for {
		p.mu.Lock()
		e, ok := p.entries[key]
		if ok && isDone(e.ready) && e.err != nil && p.now().Sub(e.failedAt) >= p.backoff {
			delete(p.entries, key)
			ok = false
		}
		if !ok {
			e = &poolEntry[T]{ready: make(chan struct{}), lastUsed: p.now()}
			p.entries[key] = e
			p.mu.Unlock()

			val, err := build(ctx)

			p.mu.Lock()
			e.val, e.err = val, err
			if err != nil {
				e.failedAt = p.now()
			}
			close(e.ready)
			stale := p.evictLocked(key)
			p.mu.Unlock()
			p.closeAll(stale)
		} else {
			p.mu.Unlock()
		}

		select {
		case <-e.ready:
		case <-ctx.Done():
			return zero, nil, ctx.Err()
		}

		p.mu.Lock()
		if e.err != nil {
			err := e.err
			p.mu.Unlock()
			return zero, nil, err
		}
		if e.closed {
			// Evicted and closed between lookup and use; look again.
			p.mu.Unlock()
			continue
		}
		e.refs++
		e.lastUsed = p.now()
		p.mu.Unlock()
		return e.val, func() { p.release(e) }, nil
	}
}

func (p *clientPool[T]) release(e *poolEntry[T]) {
	p.mu.Lock()
	e.refs--
	closeNow := e.evicted && e.refs == 0 && !e.closed
	if closeNow {
		e.closed = true
	}
	p.mu.Unlock()
	if closeNow && p.closeFn != nil {
		_ = p.closeFn(e.val)
	}
}

// evictLocked drops least recently used built entries, other than keep,
// until the pool is back within max. Entries still in use are closed by
// their last release.
func (p *clientPool[T]) evictLocked(keep string) []*poolEntry[T] {
	var stale []*poolEntry[T]
	for len(p.entries) > p.max {
		var (
			victimKey string
			victim    *poolEntry[T]
		)
		for k, e := range p.entries {
			if k == keep || !isDone(e.ready) {
				continue
			}
			if victim == nil || e.lastUsed.Before(victim.lastUsed) {
				victimKey, victim = k, e
			}
		}
		if victim == nil {
			break
		}
		delete(p.entries, victimKey)
		victim.evicted = true
		if victim.err == nil && victim.refs == 0 {
			victim.closed = true
			stale = append(stale, victim)
		}
	}
	return stale
}

func (p *clientPool[T]) closeAll(entries []*poolEntry[T]) []error {
	if p.closeFn == nil {
		return nil
	}
	var errs []error
	for _, e := range entries {
		if err := p.closeFn(e.val); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// shutdown closes every built client and empties the pool.
func (p *clientPool[T]) shutdown() []error {
	p.mu.Lock()
	var open []*poolEntry[T]
	for k, e := range p.entries {
		if isDone(e.ready) && e.err == nil && !e.closed {
			e.closed = true
			open = append(open, e)
		}
		delete(p.entries, k)
	}
	p.mu.Unlock()
	return p.closeAll(open)
}

func (p *clientPool[T]) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func isDone(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
