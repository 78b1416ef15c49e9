package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config contains all runtime settings for the memory-card service.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Log         LogConfig         `mapstructure:"log"`
	Skills      SkillsConfig      `mapstructure:"skills"`
	Text        ProviderConfig    `mapstructure:"text"`
	Image       ProviderConfig    `mapstructure:"image"`
	Audio       ProviderConfig    `mapstructure:"audio"`
	Classifier  ClassifierConfig  `mapstructure:"classifier"`
	Features    FeaturesConfig    `mapstructure:"features"`
	Safety      SafetyConfig      `mapstructure:"safety"`
	Preferences PreferencesConfig `mapstructure:"preferences"`
	Defaults    DefaultsConfig    `mapstructure:"defaults"`
	Sessions    SessionsConfig    `mapstructure:"sessions"`
	Storage     StorageConfig     `mapstructure:"storage"`
}

type AppConfig struct {
	BindAddr                 string        `mapstructure:"bind_addr"`
	ShutdownTimeout          time.Duration `mapstructure:"shutdown_timeout"`
	SessionInactivityTimeout time.Duration `mapstructure:"session_inactivity_timeout"`
	TurnTimeout              time.Duration `mapstructure:"turn_timeout"`
	PersistTimeout           time.Duration `mapstructure:"persist_timeout"`
	MetricsNamespace         string        `mapstructure:"metrics_namespace"`
	AllowAnyOrigin           bool          `mapstructure:"allow_any_origin"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | console
}

type SkillsConfig struct {
	Dir      string        `mapstructure:"dir"`
	TTL      time.Duration `mapstructure:"ttl"`
	MinScore float64       `mapstructure:"min_score"`
	Watch    bool          `mapstructure:"watch"`
}

// ProviderConfig configures one capability backend. Mode is auto, http or mock.
type ProviderConfig struct {
	Mode        string        `mapstructure:"mode"`
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Voice       string        `mapstructure:"voice"`
	OutputDir   string        `mapstructure:"output_dir"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffMax  time.Duration `mapstructure:"backoff_max"`
	RPS         float64       `mapstructure:"rps"`
	Burst       int           `mapstructure:"burst"`
}

type ClassifierConfig struct {
	Mode string `mapstructure:"mode"` // rules | llm | auto
}

type FeaturesConfig struct {
	Image                 bool `mapstructure:"image"`
	Audio                 bool `mapstructure:"audio"`
	PremiumVoices         bool `mapstructure:"premium_voices"`
	SkipImageForEasyWords bool `mapstructure:"skip_image_for_easy_words"`
}

type SafetyConfig struct {
	AllowStrongAggressive bool `mapstructure:"allow_strong_aggressive"`
}

type PreferencesConfig struct {
	AllowUpdate bool `mapstructure:"allow_update"`
}

type DefaultsConfig struct {
	StyleProfile string `mapstructure:"style_profile"`
	Humor        string `mapstructure:"humor"`
	Dialect      string `mapstructure:"dialect"`
	Complexity   string `mapstructure:"complexity"`
	ImageStyle   string `mapstructure:"image_style"`
	ImageMood    string `mapstructure:"image_mood"`
	AspectRatio  string `mapstructure:"aspect_ratio"`
	VoicePreset  string `mapstructure:"voice_preset"`
	VoiceGender  string `mapstructure:"voice_gender"`
	VoiceEnergy  string `mapstructure:"voice_energy"`
	VoicePitch   string `mapstructure:"voice_pitch"`
	VoiceSpeed   string `mapstructure:"voice_speed"`
	VoiceTone    string `mapstructure:"voice_tone"`
}

type SessionsConfig struct {
	StoreURL string `mapstructure:"store_url"`
}

type StorageConfig struct {
	LocalCache LocalCacheConfig `mapstructure:"local_cache"`
	Remote     RemoteConfig     `mapstructure:"remote"`
	Media      MediaConfig      `mapstructure:"media"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
}

type LocalCacheConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Directory  string `mapstructure:"directory"`
	MaxEntries int    `mapstructure:"max_entries"`
}

type RemoteConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

type MediaConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Provider         string `mapstructure:"provider"` // none | local_fs | object
	Bucket           string `mapstructure:"bucket"`
	Endpoint         string `mapstructure:"endpoint"`
	AccessKeyID      string `mapstructure:"access_key_id"`
	AccessKeySecret  string `mapstructure:"access_key_secret"`
	Prefix           string `mapstructure:"prefix"`
	LocalDirectory   string `mapstructure:"local_directory"`
	PublicBaseURL    string `mapstructure:"public_base_url"`
	CleanupMaxFiles  int    `mapstructure:"cleanup_max_files"`
	CleanupMaxBytes  int64  `mapstructure:"cleanup_max_bytes"`
	MaxDownloadBytes int64  `mapstructure:"max_download_bytes"`
}

type ArchiveConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Provider        string `mapstructure:"provider"` // fs | http
	Directory       string `mapstructure:"directory"`
	Bucket          string `mapstructure:"bucket"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	Prefix          string `mapstructure:"prefix"`
}

// legacyEnv maps config keys to the environment names used by existing
// deployments. Every other key is read from its dotted path with dots
// replaced by underscores (skills.ttl -> SKILLS_TTL).
var legacyEnv = map[string]string{
	"storage.local_cache.enabled":       "LOCAL_CACHE_ENABLE",
	"storage.local_cache.directory":     "LOCAL_CACHE_DIR",
	"storage.local_cache.max_entries":   "LOCAL_CACHE_MAX_ENTRIES",
	"storage.remote.enabled":            "REMOTE_DB_ENABLE",
	"storage.remote.url":                "REMOTE_DB_URL",
	"storage.media.enabled":             "MEDIA_ENABLE",
	"storage.media.provider":            "MEDIA_PROVIDER",
	"storage.media.bucket":              "MEDIA_BUCKET",
	"storage.media.endpoint":            "MEDIA_ENDPOINT",
	"storage.media.access_key_id":       "MEDIA_ACCESS_KEY_ID",
	"storage.media.access_key_secret":   "MEDIA_ACCESS_KEY_SECRET",
	"storage.media.prefix":              "MEDIA_PREFIX",
	"storage.media.local_directory":     "MEDIA_LOCAL_DIRECTORY",
	"storage.media.public_base_url":     "MEDIA_PUBLIC_BASE_URL",
	"storage.media.cleanup_max_files":   "MEDIA_CLEANUP_MAX_FILES",
	"storage.media.cleanup_max_bytes":   "MEDIA_CLEANUP_MAX_BYTES",
	"storage.media.max_download_bytes":  "MEDIA_MAX_DOWNLOAD_BYTES",
	"storage.archive.enabled":           "ARCHIVE_ENABLE",
	"storage.archive.provider":          "ARCHIVE_PROVIDER",
	"storage.archive.directory":         "ARCHIVE_DIRECTORY",
	"storage.archive.bucket":            "ARCHIVE_BUCKET",
	"storage.archive.endpoint":          "ARCHIVE_ENDPOINT",
	"storage.archive.access_key_id":     "ARCHIVE_ACCESS_KEY_ID",
	"storage.archive.access_key_secret": "ARCHIVE_ACCESS_KEY_SECRET",
	"storage.archive.prefix":            "ARCHIVE_PREFIX",
}

// Load reads the optional config file named by MNEMO_CONFIG, then
// environment variables, and applies safe defaults.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path := strings.TrimSpace(os.Getenv("MNEMO_CONFIG")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.bind_addr", ":8080")
	v.SetDefault("app.shutdown_timeout", 15*time.Second)
	v.SetDefault("app.session_inactivity_timeout", 30*time.Minute)
	v.SetDefault("app.turn_timeout", 2*time.Minute)
	v.SetDefault("app.persist_timeout", 10*time.Second)
	v.SetDefault("app.metrics_namespace", "mnemo")
	v.SetDefault("app.allow_any_origin", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("skills.dir", "skills")
	v.SetDefault("skills.ttl", 60*time.Second)
	v.SetDefault("skills.min_score", 0.5)
	v.SetDefault("skills.watch", false)

	setProviderDefaults(v, "text", 45*time.Second, "gpt-4o-mini", "")
	setProviderDefaults(v, "image", 90*time.Second, "qwen-image", "")
	setProviderDefaults(v, "audio", 60*time.Second, "tts-1", "standard_neutral")
	v.SetDefault("audio.output_dir", ".data/audio")

	v.SetDefault("classifier.mode", "auto")

	v.SetDefault("features.image", true)
	v.SetDefault("features.audio", true)
	v.SetDefault("features.premium_voices", false)
	v.SetDefault("features.skip_image_for_easy_words", false)
	v.SetDefault("safety.allow_strong_aggressive", false)
	v.SetDefault("preferences.allow_update", true)

	v.SetDefault("defaults.style_profile", "default")
	v.SetDefault("defaults.humor", "playful")
	v.SetDefault("defaults.dialect", "mandarin")
	v.SetDefault("defaults.complexity", "simple")
	v.SetDefault("defaults.image_style", "cartoon")
	v.SetDefault("defaults.image_mood", "bright")
	v.SetDefault("defaults.aspect_ratio", "1:1")
	v.SetDefault("defaults.voice_preset", "standard_neutral")
	v.SetDefault("defaults.voice_gender", "female")
	v.SetDefault("defaults.voice_energy", "medium")
	v.SetDefault("defaults.voice_pitch", "medium")
	v.SetDefault("defaults.voice_speed", "normal")
	v.SetDefault("defaults.voice_tone", "warm")

	v.SetDefault("sessions.store_url", "")

	v.SetDefault("storage.local_cache.enabled", true)
	v.SetDefault("storage.local_cache.directory", ".data/cache")
	v.SetDefault("storage.local_cache.max_entries", 200)
	v.SetDefault("storage.remote.enabled", false)
	v.SetDefault("storage.remote.url", "")
	v.SetDefault("storage.media.enabled", false)
	v.SetDefault("storage.media.provider", "none")
	v.SetDefault("storage.media.bucket", "")
	v.SetDefault("storage.media.endpoint", "")
	v.SetDefault("storage.media.access_key_id", "")
	v.SetDefault("storage.media.access_key_secret", "")
	v.SetDefault("storage.media.prefix", "chat_media/")
	v.SetDefault("storage.media.local_directory", ".data/media")
	v.SetDefault("storage.media.public_base_url", "/media")
	v.SetDefault("storage.media.cleanup_max_files", 500)
	v.SetDefault("storage.media.cleanup_max_bytes", int64(512<<20))
	v.SetDefault("storage.media.max_download_bytes", int64(25<<20))
	v.SetDefault("storage.archive.enabled", false)
	v.SetDefault("storage.archive.provider", "fs")
	v.SetDefault("storage.archive.directory", ".data/archive")
	v.SetDefault("storage.archive.bucket", "")
	v.SetDefault("storage.archive.endpoint", "")
	v.SetDefault("storage.archive.access_key_id", "")
	v.SetDefault("storage.archive.access_key_secret", "")
	v.SetDefault("storage.archive.prefix", "chat_cache/")
}

func setProviderDefaults(v *viper.Viper, name string, timeout time.Duration, model, voice string) {
	v.SetDefault(name+".mode", "auto")
	v.SetDefault(name+".base_url", "")
	v.SetDefault(name+".api_key", "")
	v.SetDefault(name+".model", model)
	v.SetDefault(name+".voice", voice)
	v.SetDefault(name+".output_dir", "")
	v.SetDefault(name+".timeout", timeout)
	v.SetDefault(name+".max_retries", 2)
	v.SetDefault(name+".backoff_base", 250*time.Millisecond)
	v.SetDefault(name+".backoff_max", 4*time.Second)
	v.SetDefault(name+".rps", 5.0)
	v.SetDefault(name+".burst", 5)
}

func (c *Config) normalize() {
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	c.Classifier.Mode = strings.ToLower(strings.TrimSpace(c.Classifier.Mode))
	for _, p := range []*ProviderConfig{&c.Text, &c.Image, &c.Audio} {
		p.Mode = strings.ToLower(strings.TrimSpace(p.Mode))
		p.BaseURL = strings.TrimRight(strings.TrimSpace(p.BaseURL), "/")
		p.APIKey = strings.TrimSpace(p.APIKey)
	}
	c.Storage.Media.Provider = strings.ToLower(strings.TrimSpace(c.Storage.Media.Provider))
	c.Storage.Archive.Provider = strings.ToLower(strings.TrimSpace(c.Storage.Archive.Provider))
	c.Storage.Remote.URL = strings.TrimSpace(c.Storage.Remote.URL)
	c.Sessions.StoreURL = strings.TrimSpace(c.Sessions.StoreURL)
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.App.SessionInactivityTimeout < 5*time.Second {
		return errors.New("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if c.App.TurnTimeout <= 0 {
		return errors.New("APP_TURN_TIMEOUT must be positive")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Log.Format)
	}
	if c.Skills.TTL <= 0 {
		return errors.New("SKILLS_TTL must be positive")
	}
	if c.Skills.MinScore < 0 {
		return errors.New("SKILLS_MIN_SCORE must be >= 0")
	}
	for name, p := range map[string]ProviderConfig{"TEXT": c.Text, "IMAGE": c.Image, "AUDIO": c.Audio} {
		switch p.Mode {
		case "auto", "http", "mock":
		default:
			return fmt.Errorf("%s_MODE must be auto, http or mock, got %q", name, p.Mode)
		}
		if p.Mode == "http" && p.BaseURL == "" {
			return fmt.Errorf("%s_BASE_URL is required when %s_MODE=http", name, name)
		}
		if p.Timeout <= 0 {
			return fmt.Errorf("%s_TIMEOUT must be positive", name)
		}
		if p.MaxRetries < 0 {
			return fmt.Errorf("%s_MAX_RETRIES must be >= 0", name)
		}
		if p.BackoffBase <= 0 || p.BackoffMax < p.BackoffBase {
			return fmt.Errorf("%s_BACKOFF_BASE must be positive and not exceed %s_BACKOFF_MAX", name, name)
		}
		if p.RPS < 0 || p.Burst < 0 {
			return fmt.Errorf("%s_RPS and %s_BURST must be >= 0", name, name)
		}
	}
	switch c.Classifier.Mode {
	case "auto", "rules", "llm":
	default:
		return fmt.Errorf("CLASSIFIER_MODE must be auto, rules or llm, got %q", c.Classifier.Mode)
	}
	if c.Storage.LocalCache.Enabled && c.Storage.LocalCache.MaxEntries <= 0 {
		return errors.New("LOCAL_CACHE_MAX_ENTRIES must be positive")
	}
	if c.Storage.Remote.Enabled && c.Storage.Remote.URL == "" {
		return errors.New("REMOTE_DB_URL is required when REMOTE_DB_ENABLE=true")
	}
	if c.Storage.Media.Enabled {
		switch c.Storage.Media.Provider {
		case "none", "local_fs":
		case "object":
			if c.Storage.Media.Endpoint == "" || c.Storage.Media.Bucket == "" {
				return errors.New("MEDIA_ENDPOINT and MEDIA_BUCKET are required for MEDIA_PROVIDER=object")
			}
		default:
			return fmt.Errorf("MEDIA_PROVIDER must be none, local_fs or object, got %q", c.Storage.Media.Provider)
		}
		if c.Storage.Media.MaxDownloadBytes < 0 {
			return errors.New("MEDIA_MAX_DOWNLOAD_BYTES must be >= 0")
		}
	}
	if c.Storage.Archive.Enabled {
		switch c.Storage.Archive.Provider {
		case "fs":
			if c.Storage.Archive.Directory == "" {
				return errors.New("ARCHIVE_DIRECTORY is required for ARCHIVE_PROVIDER=fs")
			}
		case "http":
			if c.Storage.Archive.Endpoint == "" || c.Storage.Archive.Bucket == "" {
				return errors.New("ARCHIVE_ENDPOINT and ARCHIVE_BUCKET are required for ARCHIVE_PROVIDER=http")
			}
		default:
			return fmt.Errorf("ARCHIVE_PROVIDER must be fs or http, got %q", c.Storage.Archive.Provider)
		}
	}
	return nil
}
