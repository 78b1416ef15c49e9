package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ObjectStore is the bucket abstraction shared by the media mirror and the
// archive tier. Keys are slash separated.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string, limit int) ([]string, error)
	URL(key string) string
}

// FSObjectStore maps keys onto files under a root directory.
type FSObjectStore struct {
	root    string
	baseURL string
}

func NewFSObjectStore(root, baseURL string) (*FSObjectStore, error) {
	root = expandHome(strings.TrimSpace(root))
	if root == "" {
		return nil, errors.New("object store directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FSObjectStore{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *FSObjectStore) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

func (s *FSObjectStore) Put(ctx context.Context, key string, data []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".object-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}

func (s *FSObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrRecordNotFound
	}
	return data, err
}

func (s *FSObjectStore) List(ctx context.Context, prefix string, limit int) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

func (s *FSObjectStore) URL(key string) string {
	if s.baseURL == "" {
		return "file://" + filepath.Join(s.root, filepath.FromSlash(key))
	}
	return s.baseURL + "/" + strings.TrimLeft(key, "/")
}

// HTTPObjectStore talks to an S3-style HTTP bucket: PUT and GET on
// endpoint/bucket/key, listing via GET endpoint/bucket?prefix=.
type HTTPObjectStore struct {
	client   *resty.Client
	endpoint string
	bucket   string
}

type HTTPObjectStoreConfig struct {
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	AccessKeySecret string
	Timeout         time.Duration
}

func NewHTTPObjectStore(cfg HTTPObjectStoreConfig) (*HTTPObjectStore, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("http object store needs an endpoint and a bucket")
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().SetTimeout(timeout)
	if cfg.AccessKeyID != "" {
		client.SetBasicAuth(cfg.AccessKeyID, cfg.AccessKeySecret)
	}
	return &HTTPObjectStore{client: client, endpoint: endpoint, bucket: cfg.Bucket}, nil
}

func (s *HTTPObjectStore) URL(key string) string {
	return s.endpoint + "/" + s.bucket + "/" + strings.TrimLeft(key, "/")
}

func (s *HTTPObjectStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetBody(data).
		Put(s.URL(key))
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("put object: status %d", resp.StatusCode())
	}
	return nil
}

func (s *HTTPObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.R().SetContext(ctx).Get(s.URL(key))
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, ErrRecordNotFound
	}
	if resp.IsError() {
		return nil, fmt.Errorf("get object: status %d", resp.StatusCode())
	}
	return resp.Body(), nil
}

type listResponse struct {
	Keys []string `json:"keys"`
}

func (s *HTTPObjectStore) List(ctx context.Context, prefix string, limit int) ([]string, error) {
	req := s.client.R().SetContext(ctx).SetQueryParam("prefix", prefix)
	if limit > 0 {
		req.SetQueryParam("max-keys", fmt.Sprint(limit))
	}
	resp, err := req.Get(s.endpoint + "/" + s.bucket)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("list objects: status %d", resp.StatusCode())
	}
	var out listResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("decode object listing: %w", err)
	}
	if limit > 0 && len(out.Keys) > limit {
		out.Keys = out.Keys[:limit]
	}
	return out.Keys, nil
}

func joinKey(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}
