package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ent0n29/mnemo/internal/artifact"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testRecord(session, id string, at time.Time, word string) Record {
	rec := Record{
		SessionID: session,
		RecordID:  id,
		CachedAt:  at,
		Request:   Request{Messages: []artifact.Turn{{Role: artifact.RoleUser, Content: "remember " + word}}},
		Response:  Response{ReplyText: "ok"},
	}
	if word != "" {
		rec.Response.Artifact = &artifact.MemoryArtifact{
			Type:      artifact.TypeWordMemory,
			Version:   1,
			WordBlock: &artifact.WordBlock{Word: word},
			Status:    artifact.Status{Intent: artifact.IntentNewWord},
		}
	}
	return rec
}

func TestLocalCacheEvictsOldest(t *testing.T) {
	cache, err := NewLocalCache(t.TempDir(), 3)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		evicted, err := cache.Save(testRecord("s1", fmt.Sprintf("r%d", i), t0.Add(time.Duration(i)*time.Second), "w"))
		require.NoError(t, err)
		if i == 3 {
			assert.Equal(t, 1, evicted)
		}
	}

	recs, err := cache.Records("s1", 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "r3", recs[0].RecordID, "newest first")
	_, err = cache.Record("s1", "r0")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestLocalCacheEvictionTieBreaksOnRecordID(t *testing.T) {
	cache, err := NewLocalCache(t.TempDir(), 2)
	require.NoError(t, err)
	for _, id := range []string{"b", "a", "c"} {
		_, err := cache.Save(testRecord("s1", id, t0, ""))
		require.NoError(t, err)
	}
	_, err = cache.Record("s1", "a")
	assert.ErrorIs(t, err, ErrRecordNotFound)
	_, err = cache.Record("s1", "c")
	assert.NoError(t, err)
}

func TestLocalCacheSaveIsIdempotent(t *testing.T) {
	cache, err := NewLocalCache(t.TempDir(), 10)
	require.NoError(t, err)
	rec := testRecord("s1", "r1", t0, "ambulance")
	_, err = cache.Save(rec)
	require.NoError(t, err)
	rec.Response.ReplyText = "changed"
	_, err = cache.Save(rec)
	require.NoError(t, err)

	recs, err := cache.Records("s1", 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "ok", recs[0].Response.ReplyText, "records are written once")
}

func TestLocalCacheConcurrentWritersRespectLimit(t *testing.T) {
	cache, err := NewLocalCache(t.TempDir(), 5)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := cache.Save(testRecord("s1", fmt.Sprintf("r%02d", i), t0.Add(time.Duration(i)*time.Millisecond), ""))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	recs, err := cache.Records("s1", 0)
	require.NoError(t, err)
	assert.Len(t, recs, 5)
}

func TestLocalCacheMergeAndSessionIDs(t *testing.T) {
	cache, err := NewLocalCache(t.TempDir(), 10)
	require.NoError(t, err)
	_, err = cache.Save(testRecord("alpha", "r1", t0, ""))
	require.NoError(t, err)

	added, err := cache.Merge("beta", []Record{
		testRecord("beta", "r1", t0, ""),
		testRecord("beta", "r2", t0.Add(time.Second), ""),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	added, err = cache.Merge("beta", []Record{testRecord("beta", "r2", t0, "")})
	require.NoError(t, err)
	assert.Equal(t, 0, added)

	ids, err := cache.SessionIDs(0)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, ids)
}

func TestSanitizeKey(t *testing.T) {
	assert.Equal(t, "abc-1_2", SanitizeKey("a/b.c-1_2"))
	assert.Equal(t, "session", SanitizeKey("../"))
}

func TestConfigOverride(t *testing.T) {
	base := Config{
		LocalCache: LocalCacheConfig{Enabled: true, Directory: "/tmp/a", MaxEntries: 200},
		Media:      MediaConfig{Enabled: false, Provider: MediaProviderNone},
	}
	var o Override
	raw := `{"local_cache":{"max_entries":3,"ttl":"ignored"},"media_mirror":{"enabled":true,"provider":" LOCAL_FS "},"unknown":{"x":1}}`
	require.NoError(t, json.Unmarshal([]byte(raw), &o))

	got := base.Apply(&o)
	assert.Equal(t, 3, got.LocalCache.MaxEntries)
	assert.Equal(t, "/tmp/a", got.LocalCache.Directory)
	assert.True(t, got.Media.Enabled)
	assert.Equal(t, MediaProviderLocalFS, got.Media.Provider)
	assert.True(t, got.MirrorActive())
	assert.Equal(t, 200, base.LocalCache.MaxEntries, "Apply must not mutate the defaults")
	assert.Equal(t, base, base.Apply(nil))
}

func TestSQLiteRemoteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	remote, err := NewRemote(ctx, "sqlite://"+filepath.Join(t.TempDir(), "remote.db"))
	require.NoError(t, err)
	defer remote.Close()
	sqlite := remote.(*SQLiteRemote)

	require.NoError(t, remote.Insert(ctx, testRecord("s1", "r1", t0, "ambulance")))
	require.NoError(t, remote.Insert(ctx, testRecord("s1", "r1", t0, "ambulance")))
	require.NoError(t, remote.Insert(ctx, testRecord("s1", "r2", t0, "")))

	n, err := sqlite.Count(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	words, err := sqlite.Words(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ambulance"}, words, "failed turns carry no word")
}

func TestNewRemoteRejectsUnknownScheme(t *testing.T) {
	_, err := NewRemote(context.Background(), "mysql://localhost/db")
	require.Error(t, err)
}

func TestPostgresRemote(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_URL not set, skipping Postgres remote store tests")
	}
	ctx := context.Background()
	remote, err := NewRemote(ctx, dsn)
	require.NoError(t, err)
	defer remote.Close()
	session := fmt.Sprintf("pg-%d", time.Now().UnixNano())
	require.NoError(t, remote.Insert(ctx, testRecord(session, "r1", t0, "ambulance")))
	require.NoError(t, remote.Insert(ctx, testRecord(session, "r1", t0, "ambulance")))
}

func TestArchiveRoundTripThroughFSStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewFSObjectStore(t.TempDir(), "")
	require.NoError(t, err)
	archive := NewArchive(store, "/cache/")

	require.NoError(t, archive.Upload(ctx, testRecord("s1", "r1", t0, "ambulance")))
	require.NoError(t, archive.Upload(ctx, testRecord("s1", "r2", t0.Add(time.Second), "cat")))
	require.NoError(t, archive.Upload(ctx, testRecord("s2", "r1", t0, "dog")))

	recs, err := archive.Records(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "r2", recs[0].RecordID)

	ids, err := archive.SessionIDs(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, ids)

	_, err = archive.Record(ctx, "s1", "missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

// bucketServer is a tiny in-memory S3-style bucket.
func bucketServer(t *testing.T) (*httptest.Server, map[string][]byte) {
	t.Helper()
	var mu sync.Mutex
	objects := make(map[string][]byte)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		key := strings.TrimPrefix(r.URL.Path, "/bucket/")
		switch {
		case r.Method == http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			objects[key] = body
		case r.Method == http.MethodGet && r.URL.Path == "/bucket":
			var keys []string
			for k := range objects {
				if strings.HasPrefix(k, r.URL.Query().Get("prefix")) {
					keys = append(keys, k)
				}
			}
			_ = json.NewEncoder(w).Encode(map[string][]string{"keys": keys})
		case r.Method == http.MethodGet:
			body, ok := objects[key]
			if !ok {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write(body)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, objects
}

func TestHTTPObjectStore(t *testing.T) {
	srv, objects := bucketServer(t)
	store, err := NewHTTPObjectStore(HTTPObjectStoreConfig{Endpoint: srv.URL, Bucket: "bucket"})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "a/b.json", []byte(`{}`), "application/json"))
	assert.Contains(t, objects, "a/b.json")

	got, err := store.Get(ctx, "a/b.json")
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(got))

	_, err = store.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	keys, err := store.List(ctx, "a/", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b.json"}, keys)
	assert.Equal(t, srv.URL+"/bucket/a/b.json", store.URL("a/b.json"))
}

func mediaServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "missing.png") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("media:" + r.URL.Path))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func cardWithMedia(imageURL, audioURL string, updated ...artifact.Part) *artifact.MemoryArtifact {
	return &artifact.MemoryArtifact{
		WordBlock: &artifact.WordBlock{Word: "ambulance"},
		Media: artifact.Media{
			Image: &artifact.ImageRef{URL: imageURL},
			Audio: &artifact.AudioRef{URL: audioURL},
		},
		Status: artifact.Status{UpdatedParts: updated},
	}
}

func TestMirrorMediaLocalFS(t *testing.T) {
	srv := mediaServer(t)
	dir := t.TempDir()
	audioDir := t.TempDir()
	audioFile := filepath.Join(audioDir, "voice.wav")
	require.NoError(t, os.WriteFile(audioFile, []byte("RIFF"), 0o600))

	cfg := Config{Media: MediaConfig{Enabled: true, Provider: MediaProviderLocalFS, LocalDirectory: dir}}
	m := NewManager(cfg, WithLocalMediaRoots(audioDir))
	in := cardWithMedia(srv.URL+"/img/1.png", "file://"+audioFile, artifact.PartImage, artifact.PartAudio)

	out := m.MirrorMedia(context.Background(), cfg, "s/1", in)
	require.NotNil(t, out)
	assert.True(t, strings.HasPrefix(out.Media.Image.URL, "/media/s1/image-"), out.Media.Image.URL)
	assert.True(t, strings.HasSuffix(out.Media.Image.URL, ".png"))
	assert.True(t, strings.HasPrefix(out.Media.Audio.URL, "/media/s1/audio-"), out.Media.Audio.URL)
	assert.Equal(t, srv.URL+"/img/1.png", in.Media.Image.URL, "input artifact is not modified")

	saved, err := os.ReadFile(filepath.Join(dir, "s1", filepath.Base(out.Media.Image.URL)))
	require.NoError(t, err)
	assert.Equal(t, "media:/img/1.png", string(saved))
}

func TestMirrorMediaKeepsProviderURLOnFailure(t *testing.T) {
	srv := mediaServer(t)
	cfg := Config{Media: MediaConfig{Enabled: true, Provider: MediaProviderLocalFS, LocalDirectory: t.TempDir()}}
	m := NewManager(cfg)
	in := cardWithMedia(srv.URL+"/missing.png", srv.URL+"/a.wav", artifact.PartImage, artifact.PartAudio)

	out := m.MirrorMedia(context.Background(), cfg, "s1", in)
	assert.Equal(t, srv.URL+"/missing.png", out.Media.Image.URL)
	assert.True(t, strings.HasPrefix(out.Media.Audio.URL, "/media/s1/"), "the other part is still mirrored")
}

func TestMirrorMediaOnlyTouchesUpdatedParts(t *testing.T) {
	srv := mediaServer(t)
	cfg := Config{Media: MediaConfig{Enabled: true, Provider: MediaProviderLocalFS, LocalDirectory: t.TempDir()}}
	m := NewManager(cfg)
	in := cardWithMedia(srv.URL+"/img/2.png", srv.URL+"/old.wav", artifact.PartImage)

	out := m.MirrorMedia(context.Background(), cfg, "s1", in)
	assert.True(t, strings.HasPrefix(out.Media.Image.URL, "/media/"))
	assert.Equal(t, srv.URL+"/old.wav", out.Media.Audio.URL)
}

func TestMirrorMediaObjectProvider(t *testing.T) {
	media := mediaServer(t)
	bucket, objects := bucketServer(t)
	cfg := Config{Media: MediaConfig{Enabled: true, Provider: MediaProviderObject, Endpoint: bucket.URL, Bucket: "bucket", Prefix: "mnemo"}}
	m := NewManager(cfg)

	out := m.MirrorMedia(context.Background(), cfg, "s1", cardWithMedia(media.URL+"/img/3.png", "", artifact.PartImage))
	assert.True(t, strings.HasPrefix(out.Media.Image.URL, bucket.URL+"/bucket/mnemo/images/"), out.Media.Image.URL)
	assert.Len(t, objects, 1)
}

func TestMirrorMediaRefusesFilesOutsideOutputDirs(t *testing.T) {
	mediaDir := t.TempDir()
	audioDir := t.TempDir()
	secret := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("TOP-SECRET"), 0o600))
	link := filepath.Join(audioDir, "link.wav")
	require.NoError(t, os.Symlink(secret, link))

	cfg := Config{Media: MediaConfig{Enabled: true, Provider: MediaProviderLocalFS, LocalDirectory: mediaDir}}
	m := NewManager(cfg, WithLocalMediaRoots(audioDir))
	in := cardWithMedia("file://"+secret, "file://"+link, artifact.PartImage, artifact.PartAudio)

	out := m.MirrorMedia(context.Background(), cfg, "s1", in)
	assert.Equal(t, "file://"+secret, out.Media.Image.URL)
	assert.Equal(t, "file://"+link, out.Media.Audio.URL, "symlinks out of the output dir are refused")
	_, err := os.Stat(filepath.Join(mediaDir, "s1"))
	assert.True(t, os.IsNotExist(err), "nothing is published under the media dir")

	nothing := NewManager(cfg)
	out = nothing.MirrorMedia(context.Background(), cfg, "s1", cardWithMedia("", "file://"+secret, artifact.PartAudio))
	assert.Equal(t, "file://"+secret, out.Media.Audio.URL, "no roots means no file media")
}

func TestMirrorMediaCapsDownloadSize(t *testing.T) {
	big := strings.Repeat("x", 64)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/chunked.png" {
			// No Content-Length: the cap applies while reading.
			w.(http.Flusher).Flush()
		}
		_, _ = w.Write([]byte(big))
	}))
	t.Cleanup(srv.Close)

	cfg := Config{Media: MediaConfig{Enabled: true, Provider: MediaProviderLocalFS, LocalDirectory: t.TempDir(), MaxDownloadBytes: 16}}
	m := NewManager(cfg)
	for _, path := range []string{"/sized.png", "/chunked.png"} {
		out := m.MirrorMedia(context.Background(), cfg, "s1", cardWithMedia(srv.URL+path, "", artifact.PartImage))
		assert.Equal(t, srv.URL+path, out.Media.Image.URL, path)
	}

	cfg.Media.MaxDownloadBytes = 64
	out := m.MirrorMedia(context.Background(), cfg, "s1", cardWithMedia(srv.URL+"/sized.png", "", artifact.PartImage))
	assert.True(t, strings.HasPrefix(out.Media.Image.URL, "/media/s1/"), "a file at the limit is mirrored")
}

func TestLocalSinkCleanup(t *testing.T) {
	dir := t.TempDir()
	sink := &localSink{dir: dir, publicBase: "/media", maxFiles: 2, logger: zap.NewNop()}
	for i := 0; i < 4; i++ {
		_, err := sink.store(context.Background(), "s1", "images", []byte("x"), ".png")
		require.NoError(t, err)
		// Distinct modification times for a stable oldest-first order.
		time.Sleep(15 * time.Millisecond)
	}
	entries, err := os.ReadDir(filepath.Join(dir, "s1"))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestManagerPersistWritesEveryEnabledTier(t *testing.T) {
	cacheDir := t.TempDir()
	archiveDir := t.TempDir()
	cfg := Config{
		LocalCache: LocalCacheConfig{Enabled: true, Directory: cacheDir, MaxEntries: 3},
		Remote:     RemoteConfig{Enabled: true, URI: "sqlite://" + filepath.Join(t.TempDir(), "r.db")},
		Archive:    ArchiveConfig{Enabled: true, Provider: ArchiveProviderFS, Directory: archiveDir},
	}
	m := NewManager(cfg)
	defer m.Close()
	ctx := context.Background()

	rec := testRecord("s1", "", time.Time{}, "ambulance")
	rec.Request.Messages[0].Content = "mail me at learner@example.com"
	m.Persist(ctx, cfg, rec)

	recs, err := m.Records(ctx, cfg, "s1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.NotEmpty(t, recs[0].RecordID)
	assert.NotContains(t, recs[0].Request.Messages[0].Content, "learner@example.com")

	remote, release, err := m.remote(ctx, cfg.Remote.URI)
	require.NoError(t, err)
	defer release()
	n, err := remote.(*SQLiteRemote).Count(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	archived, err := NewArchive(mustFS(t, archiveDir), "").Records(ctx, "s1", 10)
	require.NoError(t, err)
	assert.Len(t, archived, 1)
}

func TestManagerPersistSwallowsTierFailures(t *testing.T) {
	cfg := Config{
		LocalCache: LocalCacheConfig{Enabled: true, Directory: t.TempDir(), MaxEntries: 3},
		Remote:     RemoteConfig{Enabled: true, URI: "mysql://nowhere"},
	}
	m := NewManager(cfg)
	m.Persist(context.Background(), cfg, testRecord("s1", "r1", t0, "ambulance"))

	recs, err := m.Records(context.Background(), cfg, "s1", 10)
	require.NoError(t, err)
	assert.Len(t, recs, 1, "local cache write is unaffected by the remote failure")
}

func TestManagerRecordsFallBackToArchive(t *testing.T) {
	ctx := context.Background()
	archiveDir := t.TempDir()
	require.NoError(t, NewArchive(mustFS(t, archiveDir), "p").Upload(ctx, testRecord("s1", "r1", t0, "ambulance")))

	cfg := Config{
		LocalCache: LocalCacheConfig{Enabled: true, Directory: t.TempDir(), MaxEntries: 5},
		Archive:    ArchiveConfig{Enabled: true, Provider: ArchiveProviderFS, Directory: archiveDir, Prefix: "p"},
	}
	m := NewManager(cfg)

	recs, err := m.Records(ctx, cfg, "s1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	cached, release, err := m.cache(ctx, cfg.LocalCache)
	require.NoError(t, err)
	defer release()
	local, err := cached.Records("s1", 0)
	require.NoError(t, err)
	assert.Len(t, local, 1, "archive records are merged into the local cache")

	rec, err := m.Record(ctx, cfg, "s1", "r1")
	require.NoError(t, err)
	assert.Equal(t, "ambulance", rec.Word())

	_, err = m.Record(ctx, cfg, "s1", "nope")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	ids, err := m.SessionIDs(ctx, cfg, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids)
}

func mustFS(t *testing.T, dir string) *FSObjectStore {
	t.Helper()
	s, err := NewFSObjectStore(dir, "")
	require.NoError(t, err)
	return s
}

func TestClientPoolEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	var closed []string
	p := newClientPool(func(v string) error { closed = append(closed, v); return nil })
	p.max = 2
	clock := t0
	p.now = func() time.Time { clock = clock.Add(time.Second); return clock }
	build := func(v string) func(context.Context) (string, error) {
		return func(context.Context) (string, error) { return v, nil }
	}

	_, releaseA, err := p.get(ctx, "a", build("a"))
	require.NoError(t, err)
	_, releaseB, err := p.get(ctx, "b", build("b"))
	require.NoError(t, err)
	releaseB()
	_, releaseC, err := p.get(ctx, "c", build("c"))
	require.NoError(t, err)
	releaseC()
	assert.Empty(t, closed, "nothing closed while a is held")
	assert.Equal(t, 2, p.size())

	releaseA()
	assert.Equal(t, []string{"a"}, closed, "evicted client is closed by its last release")

	_, release, err := p.get(ctx, "d", build("d"))
	require.NoError(t, err)
	release()
	assert.Equal(t, []string{"a", "b"}, closed)
	assert.Equal(t, 2, p.size())

	assert.Empty(t, p.shutdown())
	assert.ElementsMatch(t, []string{"a", "b", "c", "d"}, closed)
	assert.Zero(t, p.size())
}

func TestClientPoolRemembersFailedInit(t *testing.T) {
	ctx := context.Background()
	p := newClientPool[string](nil)
	clock := t0
	p.now = func() time.Time { return clock }
	builds := 0
	build := func(context.Context) (string, error) {
		builds++
		return "", fmt.Errorf("dial %d failed", builds)
	}

	_, _, err := p.get(ctx, "db", build)
	require.EqualError(t, err, "dial 1 failed")
	_, _, err = p.get(ctx, "db", build)
	require.EqualError(t, err, "dial 1 failed", "failure is reused inside the backoff window")
	assert.Equal(t, 1, builds)

	clock = clock.Add(initRetryBackoff)
	_, _, err = p.get(ctx, "db", build)
	require.EqualError(t, err, "dial 2 failed")
}

func TestClientPoolBuildsOutsideTheLock(t *testing.T) {
	p := newClientPool[string](nil)
	started := make(chan struct{})
	unblock := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, release, err := p.get(context.Background(), "slow", func(context.Context) (string, error) {
			close(started)
			<-unblock
			return "slow", nil
		})
		if err == nil {
			release()
		}
		done <- err
	}()
	<-started

	fast := make(chan error, 1)
	go func() {
		_, release, err := p.get(context.Background(), "fast", func(context.Context) (string, error) { return "fast", nil })
		if err == nil {
			release()
		}
		fast <- err
	}()
	select {
	case err := <-fast:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("a slow build blocked another key")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := p.get(ctx, "slow", func(context.Context) (string, error) { return "dup", nil })
	require.ErrorIs(t, err, context.DeadlineExceeded, "waiters on a pending build honour their context")

	close(unblock)
	require.NoError(t, <-done)
}

// stallingPostgres accepts connections and never answers, like a database
// behind a black-holed network path.
func stallingPostgres(t *testing.T) (string, *atomic.Int32) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	var (
		mu       sync.Mutex
		conns    []net.Conn
		accepted atomic.Int32
	)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
			accepted.Add(1)
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	return "postgres://mnemo:mnemo@" + ln.Addr().String() + "/mnemo?sslmode=disable", &accepted
}

func TestHangingRemoteDoesNotBlockResponsePath(t *testing.T) {
	uri, accepted := stallingPostgres(t)
	cfg := Config{
		LocalCache: LocalCacheConfig{Enabled: true, Directory: t.TempDir(), MaxEntries: 10},
		Remote:     RemoteConfig{Enabled: true, URI: uri},
		Media:      MediaConfig{Enabled: true, Provider: MediaProviderLocalFS, LocalDirectory: t.TempDir()},
	}
	m := NewManager(cfg)
	defer m.Close()

	persisted := make(chan struct{})
	go func() {
		defer close(persisted)
		ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
		defer cancel()
		m.Persist(ctx, cfg, testRecord("s1", "r1", t0, "ambulance"))
	}()
	require.Eventually(t, func() bool { return accepted.Load() > 0 }, 2*time.Second, 5*time.Millisecond)

	start := time.Now()
	out := m.MirrorMedia(context.Background(), cfg, "s1", cardWithMedia("", "", artifact.PartMnemonic))
	require.NotNil(t, out)
	localOnly := cfg
	localOnly.Remote.Enabled = false
	m.Persist(context.Background(), localOnly, testRecord("s2", "r1", t0, "nurse"))
	assert.Less(t, time.Since(start), 300*time.Millisecond, "mirror and local cache wait on the remote dial")

	recs, err := m.Records(context.Background(), cfg, "s2", 10)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	<-persisted
	dials := accepted.Load()
	start = time.Now()
	m.Persist(context.Background(), cfg, testRecord("s1", "r2", t0, "ambulance"))
	assert.Less(t, time.Since(start), 300*time.Millisecond, "failed remote init is not redialed every persist")
	assert.Equal(t, dials, accepted.Load())
}
