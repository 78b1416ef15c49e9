package storage

import (
	"strings"

	"github.com/ent0n29/mnemo/internal/config"
)

const (
	MediaProviderNone    = "none"
	MediaProviderLocalFS = "local_fs"
	MediaProviderObject  = "object"

	ArchiveProviderFS   = "fs"
	ArchiveProviderHTTP = "http"
)

// Config selects which tiers a persist call writes to. Every tier is
// switched independently.
type Config struct {
	LocalCache LocalCacheConfig `json:"local_cache"`
	Remote     RemoteConfig     `json:"remote_store"`
	Media      MediaConfig      `json:"media_mirror"`
	Archive    ArchiveConfig    `json:"archive"`
}

type LocalCacheConfig struct {
	Enabled    bool   `json:"enabled"`
	Directory  string `json:"directory"`
	MaxEntries int    `json:"max_entries"`
}

type RemoteConfig struct {
	Enabled bool   `json:"enabled"`
	URI     string `json:"connection_uri"`
}

type MediaConfig struct {
	Enabled         bool   `json:"enabled"`
	Provider        string `json:"provider"`
	Bucket          string `json:"bucket,omitempty"`
	Endpoint        string `json:"endpoint,omitempty"`
	AccessKeyID     string `json:"-"`
	AccessKeySecret string `json:"-"`
	Prefix          string `json:"prefix,omitempty"`
	LocalDirectory  string `json:"local_directory,omitempty"`
	PublicBaseURL   string `json:"public_base_url,omitempty"`
	CleanupMaxFiles int    `json:"cleanup_max_files,omitempty"`
	CleanupMaxBytes int64  `json:"cleanup_max_bytes,omitempty"`
	// MaxDownloadBytes caps one mirrored file; 0 uses the built-in limit.
	MaxDownloadBytes int64 `json:"max_download_bytes,omitempty"`
}

type ArchiveConfig struct {
	Enabled         bool   `json:"enabled"`
	Provider        string `json:"provider"`
	Directory       string `json:"directory,omitempty"`
	Bucket          string `json:"bucket,omitempty"`
	Endpoint        string `json:"endpoint,omitempty"`
	AccessKeyID     string `json:"-"`
	AccessKeySecret string `json:"-"`
	Prefix          string `json:"prefix,omitempty"`
}

// FromConfig maps the process configuration onto storage tiers.
func FromConfig(c config.StorageConfig) Config {
	return Config{
		LocalCache: LocalCacheConfig{
			Enabled:    c.LocalCache.Enabled,
			Directory:  c.LocalCache.Directory,
			MaxEntries: c.LocalCache.MaxEntries,
		},
		Remote: RemoteConfig{Enabled: c.Remote.Enabled, URI: c.Remote.URL},
		Media: MediaConfig{
			Enabled:          c.Media.Enabled,
			Provider:         c.Media.Provider,
			Bucket:           c.Media.Bucket,
			Endpoint:         c.Media.Endpoint,
			AccessKeyID:      c.Media.AccessKeyID,
			AccessKeySecret:  c.Media.AccessKeySecret,
			Prefix:           c.Media.Prefix,
			LocalDirectory:   c.Media.LocalDirectory,
			PublicBaseURL:    c.Media.PublicBaseURL,
			CleanupMaxFiles:  c.Media.CleanupMaxFiles,
			CleanupMaxBytes:  c.Media.CleanupMaxBytes,
			MaxDownloadBytes: c.Media.MaxDownloadBytes,
		},
		Archive: ArchiveConfig{
			Enabled:         c.Archive.Enabled,
			Provider:        c.Archive.Provider,
			Directory:       c.Archive.Directory,
			Bucket:          c.Archive.Bucket,
			Endpoint:        c.Archive.Endpoint,
			AccessKeyID:     c.Archive.AccessKeyID,
			AccessKeySecret: c.Archive.AccessKeySecret,
			Prefix:          c.Archive.Prefix,
		},
	}
}

// MirrorActive reports whether media URLs should be rewritten.
func (c Config) MirrorActive() bool {
	return c.Media.Enabled && c.Media.Provider != "" && c.Media.Provider != MediaProviderNone
}

// Override is the per-request form of Config. Only the recognised keys
// are decoded; nil fields keep the process default.
type Override struct {
	LocalCache *LocalCacheOverride `json:"local_cache,omitempty"`
	Remote     *RemoteOverride     `json:"remote_store,omitempty"`
	Media      *MediaOverride      `json:"media_mirror,omitempty"`
}

type LocalCacheOverride struct {
	Enabled    *bool   `json:"enabled,omitempty"`
	Directory  *string `json:"directory,omitempty"`
	MaxEntries *int    `json:"max_entries,omitempty"`
}

type RemoteOverride struct {
	Enabled *bool   `json:"enabled,omitempty"`
	URI     *string `json:"connection_uri,omitempty"`
}

type MediaOverride struct {
	Enabled         *bool   `json:"enabled,omitempty"`
	Provider        *string `json:"provider,omitempty"`
	Bucket          *string `json:"bucket,omitempty"`
	Endpoint        *string `json:"endpoint,omitempty"`
	AccessKeyID     *string `json:"access_key_id,omitempty"`
	AccessKeySecret *string `json:"access_key_secret,omitempty"`
	Prefix          *string `json:"prefix,omitempty"`
	LocalDirectory  *string `json:"local_directory,omitempty"`
}

// Apply returns c with the fields set in o replaced.
func (c Config) Apply(o *Override) Config {
	if o == nil {
		return c
	}
	if lc := o.LocalCache; lc != nil {
		setBool(&c.LocalCache.Enabled, lc.Enabled)
		setString(&c.LocalCache.Directory, lc.Directory)
		if lc.MaxEntries != nil && *lc.MaxEntries > 0 {
			c.LocalCache.MaxEntries = *lc.MaxEntries
		}
	}
	if r := o.Remote; r != nil {
		setBool(&c.Remote.Enabled, r.Enabled)
		setString(&c.Remote.URI, r.URI)
	}
	if m := o.Media; m != nil {
		setBool(&c.Media.Enabled, m.Enabled)
		setString(&c.Media.Provider, m.Provider)
		setString(&c.Media.Bucket, m.Bucket)
		setString(&c.Media.Endpoint, m.Endpoint)
		setString(&c.Media.AccessKeyID, m.AccessKeyID)
		setString(&c.Media.AccessKeySecret, m.AccessKeySecret)
		setString(&c.Media.Prefix, m.Prefix)
		setString(&c.Media.LocalDirectory, m.LocalDirectory)
		c.Media.Provider = strings.ToLower(strings.TrimSpace(c.Media.Provider))
	}
	return c
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

// LocalMediaRoot returns the directory served under the public media base
// when the local_fs mirror is on, or "" otherwise.
func (c Config) LocalMediaRoot() string {
	if !c.MirrorActive() || c.Media.Provider != MediaProviderLocalFS {
		return ""
	}
	return expandHome(strings.TrimSpace(c.Media.LocalDirectory))
}
