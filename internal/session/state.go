package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/mnemo/internal/artifact"
)

var ErrVersionConflict = errors.New("session state was committed by another writer")

// State is the committed per-session generation state. Version increases
// by one on every commit; zero means nothing was ever committed.
type State struct {
	SessionID   string                   `json:"session_id"`
	Version     int64                    `json:"version"`
	Artifact    *artifact.MemoryArtifact `json:"artifact,omitempty"`
	Preferences artifact.Preferences     `json:"preferences"`
	Words       []string                 `json:"words,omitempty"`
	UpdatedAt   time.Time                `json:"updated_at"`
}

// SeenWord reports whether a card was already generated for word.
func (s State) SeenWord(word string) bool {
	for _, w := range s.Words {
		if strings.EqualFold(w, word) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	c := s
	c.Artifact = s.Artifact.Clone()
	c.Preferences = s.Preferences.Clone()
	c.Words = append([]string(nil), s.Words...)
	return c
}

// StateStore persists State with an optimistic version check. Load of an
// unknown session returns an empty State with Version 0.
type StateStore interface {
	Load(ctx context.Context, sessionID string) (State, error)
	Commit(ctx context.Context, st State, expectedVersion int64) error
	Close() error
}

type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[string]State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]State)}
}

func (s *MemoryStateStore) Load(_ context.Context, sessionID string) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[sessionID]
	if !ok {
		return State{SessionID: sessionID}, nil
	}
	return st.Clone(), nil
}

func (s *MemoryStateStore) Commit(ctx context.Context, st State, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if current := s.states[st.SessionID]; current.Version != expectedVersion {
		return ErrVersionConflict
	}
	next := st.Clone()
	next.Version = expectedVersion + 1
	next.UpdatedAt = time.Now().UTC()
	s.states[st.SessionID] = next
	return nil
}

func (s *MemoryStateStore) Close() error { return nil }

// NewStateStore picks a backend from a URL: redis:// and rediss:// use
// Redis, an empty URL keeps state in memory.
func NewStateStore(ctx context.Context, storeURL string, ttl time.Duration) (StateStore, error) {
	storeURL = strings.TrimSpace(storeURL)
	if storeURL == "" {
		return NewMemoryStateStore(), nil
	}
	return NewRedisStateStore(ctx, storeURL, ttl)
}
