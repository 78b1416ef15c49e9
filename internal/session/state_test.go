package session

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/mnemo/internal/artifact"
)

func exerciseStateStore(t *testing.T, store StateStore) {
	t.Helper()
	ctx := context.Background()
	id := "s-" + uuid.NewString()

	st, err := store.Load(ctx, id)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if st.Version != 0 || st.Artifact != nil {
		t.Fatalf("fresh state = %+v, want empty", st)
	}

	st.Artifact = &artifact.MemoryArtifact{Version: 1, WordBlock: &artifact.WordBlock{Word: "ambulance"}}
	st.Words = []string{"ambulance"}
	if err := store.Commit(ctx, st, 0); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	// A writer that read version 0 loses.
	if err := store.Commit(ctx, st, 0); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale Commit() error = %v, want ErrVersionConflict", err)
	}

	got, err := store.Load(ctx, id)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Version != 1 || got.Artifact.Word() != "ambulance" || !got.SeenWord("AMBULANCE") {
		t.Fatalf("committed state = %+v", got)
	}

	got.Artifact.WordBlock.Word = "mutated"
	again, _ := store.Load(ctx, id)
	if again.Artifact.Word() != "ambulance" {
		t.Fatalf("Load() returned shared state")
	}
}

func TestMemoryStateStore(t *testing.T) {
	exerciseStateStore(t, NewMemoryStateStore())
}

func TestMemoryStateStoreHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewMemoryStateStore().Commit(ctx, State{SessionID: "s1"}, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("Commit() error = %v, want context.Canceled", err)
	}
}

func TestRedisStateStore(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set, skipping Redis state store tests")
	}
	store, err := NewRedisStateStore(context.Background(), url, time.Minute)
	if err != nil {
		t.Fatalf("NewRedisStateStore() error = %v", err)
	}
	defer store.Close()
	exerciseStateStore(t, store)
}

func TestNewStateStoreDefaultsToMemory(t *testing.T) {
	store, err := NewStateStore(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("NewStateStore() error = %v", err)
	}
	if _, ok := store.(*MemoryStateStore); !ok {
		t.Fatalf("store = %T, want *MemoryStateStore", store)
	}
}
