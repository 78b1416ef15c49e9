package skills

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/ent0n29/mnemo/internal/observability"
)

// ChangeTracker watches a corpus directory tree and records whether
// anything changed since the catalog last loaded it. It starts dirty.
type ChangeTracker struct {
	root    string
	watcher *fsnotify.Watcher
	logger  *zap.Logger
	dirty   atomic.Bool
	done    chan struct{}
}

func NewChangeTracker(root string, logger *zap.Logger) (*ChangeTracker, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	t := &ChangeTracker{
		root:    root,
		watcher: w,
		logger:  observability.OrNop(logger),
		done:    make(chan struct{}),
	}
	t.dirty.Store(true)
	if err := t.addTree(root); err != nil {
		_ = w.Close()
		return nil, err
	}
	return t, nil
}

// Dirty reports whether the corpus may differ from the last load.
func (t *ChangeTracker) Dirty() bool { return t.dirty.Load() }

func (t *ChangeTracker) markClean() { t.dirty.Store(false) }

func (t *ChangeTracker) markDirty() { t.dirty.Store(true) }

// Run consumes watcher events until ctx is done or Close is called.
func (t *ChangeTracker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			t.handleEvent(event)
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			// Missed events are possible after an error.
			t.markDirty()
			t.logger.Warn("skill corpus watcher error", zap.Error(err))
		}
	}
}

func (t *ChangeTracker) Close() error {
	select {
	case <-t.done:
		return nil
	default:
		close(t.done)
	}
	return t.watcher.Close()
}

func (t *ChangeTracker) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	t.markDirty()
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := t.addTree(event.Name); err != nil {
				t.logger.Warn("watch new skill directory", zap.String("path", event.Name), zap.Error(err))
			}
		}
	}
}

func (t *ChangeTracker) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return t.watcher.Add(path)
		}
		return nil
	})
}
