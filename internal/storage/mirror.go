package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ent0n29/mnemo/internal/artifact"
)

// mediaSink stores one downloaded media file and returns its new URL.
type mediaSink interface {
	store(ctx context.Context, sessionID, category string, data []byte, ext string) (string, error)
}

// defaultMaxMediaBytes caps one mirrored media file when no limit is
// configured.
const defaultMaxMediaBytes int64 = 25 << 20

var (
	errMediaTooLarge   = errors.New("media exceeds the download limit")
	errFileOutsideRoot = errors.New("file media outside the provider output directories")
)

// Mirror copies provider-hosted media into storage the service controls
// and rewrites the artifact URLs. Any failure keeps the provider URL.
// file:// sources are only read from fileRoots, the directories local
// providers write into.
type Mirror struct {
	sink      mediaSink
	http      *resty.Client
	fileRoots []string
	maxBytes  int64
}

func newMirror(sink mediaSink, client *resty.Client, fileRoots []string, maxBytes int64) *Mirror {
	if maxBytes <= 0 {
		maxBytes = defaultMaxMediaBytes
	}
	return &Mirror{sink: sink, http: client, fileRoots: fileRoots, maxBytes: maxBytes}
}

// Apply returns a copy of a whose image and audio URLs, for the parts
// updated in this version, point at mirrored copies.
func (m *Mirror) Apply(ctx context.Context, sessionID string, a *artifact.MemoryArtifact) (*artifact.MemoryArtifact, error) {
	if a == nil {
		return nil, nil
	}
	out := a.Clone()
	updated := artifact.NewPartSet(a.Status.UpdatedParts...)
	var errs []error
	if img := out.Media.Image; img != nil && img.URL != "" && updated.Has(artifact.PartImage) {
		if u, err := m.copy(ctx, sessionID, "images", img.URL); err != nil {
			errs = append(errs, fmt.Errorf("image: %w", err))
		} else {
			img.URL = u
		}
	}
	if au := out.Media.Audio; au != nil && au.URL != "" && updated.Has(artifact.PartAudio) {
		if u, err := m.copy(ctx, sessionID, "audio", au.URL); err != nil {
			errs = append(errs, fmt.Errorf("audio: %w", err))
		} else {
			au.URL = u
		}
	}
	return out, errors.Join(errs...)
}

func (m *Mirror) copy(ctx context.Context, sessionID, category, source string) (string, error) {
	if strings.HasPrefix(source, "/media/") {
		return source, nil
	}
	u, err := url.Parse(source)
	if err != nil {
		return "", err
	}
	var data []byte
	switch u.Scheme {
	case "file":
		data, err = m.readLocal(u.Path)
	case "http", "https":
		data, err = m.download(ctx, source)
	default:
		return source, nil
	}
	if err != nil {
		return "", err
	}
	ext := path.Ext(u.Path)
	if ext == "" {
		ext = ".bin"
	}
	return m.sink.store(ctx, sessionID, category, data, ext)
}

func (m *Mirror) download(ctx context.Context, source string) ([]byte, error) {
	resp, err := m.http.R().SetContext(ctx).SetDoNotParseResponse(true).Get(source)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.IsError() {
		return nil, fmt.Errorf("download media: status %d", resp.StatusCode())
	}
	if resp.RawResponse != nil && resp.RawResponse.ContentLength > m.maxBytes {
		return nil, fmt.Errorf("download media: %w (%d bytes)", errMediaTooLarge, resp.RawResponse.ContentLength)
	}
	return readCapped(body, m.maxBytes)
}

// readLocal reads a provider-written file. The path must resolve inside one
// of the configured roots; anything else is refused.
func (m *Mirror) readLocal(p string) ([]byte, error) {
	resolved, err := filepath.EvalSymlinks(filepath.Clean(p))
	if err != nil {
		return nil, err
	}
	if !m.underRoot(resolved) {
		return nil, fmt.Errorf("%w: %s", errFileOutsideRoot, p)
	}
	f, err := os.Open(resolved)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readCapped(f, m.maxBytes)
}

func (m *Mirror) underRoot(p string) bool {
	for _, root := range m.fileRoots {
		abs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		if r, err := filepath.EvalSymlinks(abs); err == nil {
			abs = r
		}
		rel, err := filepath.Rel(abs, p)
		if err != nil || rel == "." {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel) {
			return true
		}
	}
	return false
}

func readCapped(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, errMediaTooLarge
	}
	return data, nil
}

// localSink writes media under dir/<session>/ and serves it below
// publicBase. After each write the session folder is trimmed to the
// configured file and byte budgets, oldest files first.
type localSink struct {
	dir        string
	publicBase string
	maxFiles   int
	maxBytes   int64
	logger     *zap.Logger
}

func (s *localSink) store(ctx context.Context, sessionID, category string, data []byte, ext string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	folder := SanitizeKey(sessionID)
	target := filepath.Join(s.dir, folder)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", err
	}
	name := strings.TrimSuffix(category, "s") + "-" + strings.ReplaceAll(uuid.NewString(), "-", "") + ext
	tmp, err := os.CreateTemp(target, ".media-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(target, name)); err != nil {
		return "", err
	}
	s.cleanup(target)
	return strings.TrimRight(s.publicBase, "/") + "/" + folder + "/" + name, nil
}

func (s *localSink) cleanup(dir string) {
	if s.maxFiles <= 0 && s.maxBytes <= 0 {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	type file struct {
		path string
		mod  time.Time
		size int64
	}
	var files []file
	var total int64
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, file{path: filepath.Join(dir, e.Name()), mod: info.ModTime(), size: info.Size()})
		total += info.Size()
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.Before(files[j].mod) })
	over := func() bool {
		return (s.maxFiles > 0 && len(files) > s.maxFiles) || (s.maxBytes > 0 && total > s.maxBytes)
	}
	for len(files) > 0 && over() {
		f := files[0]
		if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("media cleanup failed", zap.String("path", f.path), zap.Error(err))
			return
		}
		files = files[1:]
		total -= f.size
	}
}

// objectSink uploads media to an object store under prefix/<category>/.
type objectSink struct {
	objects ObjectStore
	prefix  string
}

func (s *objectSink) store(ctx context.Context, _ string, category string, data []byte, ext string) (string, error) {
	key := joinKey(s.prefix, category, strings.ReplaceAll(uuid.NewString(), "-", "")+ext)
	if err := s.objects.Put(ctx, key, data, contentTypeFor(ext)); err != nil {
		return "", err
	}
	return s.objects.URL(key), nil
}

func contentTypeFor(ext string) string {
	switch strings.ToLower(ext) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
