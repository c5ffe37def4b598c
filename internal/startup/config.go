package startup

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"media-vault/internal/logging"
)

// Config holds all application configuration
type Config struct {
	MediaDir        string
	CacheDir        string
	DatabaseDir     string
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	LogHealthChecks bool

	IndexInterval time.Duration

	CacheMaxSize    uint64
	CacheTTL        time.Duration
	CacheTTLSliding bool
	CleanupSchedule string
	IndexBackend    string

	TranscodeTimeout time.Duration
	ProbeTimeout     time.Duration
	TranscodeWorkers int
	IdlePolicy       string
	FFmpegPath       string
	FFprobePath      string

	StreamRateLimit int

	BackupEndpoint        string
	BackupBucket          string
	BackupRegion          string
	BackupPrefix          string
	BackupAccessKeyID     string
	BackupSecretAccessKey string

	// Derived paths
	DatabasePath string
	TranscodeDir string
	PosterDir    string
	BadgerDir    string

	// Feature flags based on directory availability
	TranscodingEnabled bool
	PostersEnabled     bool
}

// BackupEnabled reports whether a backup bucket is configured.
func (c *Config) BackupEnabled() bool {
	return c.BackupBucket != ""
}

// source resolves a setting from the environment, then the config file.
type source struct {
	file map[string]string
}

func (s source) get(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	if v := s.file[strings.ToLower(key)]; v != "" {
		return v
	}
	return defaultValue
}

func (s source) duration(key string, defaultValue time.Duration) time.Duration {
	raw := s.get(key, "")
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		logging.Warn("Invalid duration for %s: %q, using default: %v", key, raw, defaultValue)
		return defaultValue
	}
	return d
}

func (s source) boolean(key string, defaultValue bool) bool {
	raw := s.get(key, "")
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		logging.Warn("Invalid boolean value for %s: %q, using default: %v", key, raw, defaultValue)
		return defaultValue
	}
	return v
}

func (s source) integer(key string, defaultValue int) int {
	raw := s.get(key, "")
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		logging.Warn("Invalid integer for %s: %q, using default: %d", key, raw, defaultValue)
		return defaultValue
	}
	return v
}

func (s source) size(key string, defaultValue uint64) uint64 {
	raw := s.get(key, "")
	if raw == "" {
		return defaultValue
	}
	v, err := humanize.ParseBytes(raw)
	if err != nil {
		logging.Warn("Invalid size for %s: %q, using default: %s", key, raw, humanize.IBytes(defaultValue))
		return defaultValue
	}
	return v
}

// readConfigFile parses a flat YAML mapping of lowercase setting names.
func readConfigFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	raw := make(map[string]string)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out, nil
}

// Load reads configuration without touching the filesystem beyond the
// optional CONFIG_FILE.
func Load() (*Config, error) {
	src := source{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		file, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		src.file = file
	}

	cfg := &Config{
		MediaDir:        src.get("MEDIA_DIR", "/media"),
		CacheDir:        src.get("CACHE_DIR", "/cache"),
		DatabaseDir:     src.get("DATABASE_DIR", "/database"),
		Port:            src.get("PORT", "8080"),
		MetricsPort:     src.get("METRICS_PORT", "9090"),
		MetricsEnabled:  src.boolean("METRICS_ENABLED", true),
		LogHealthChecks: src.boolean("LOG_HEALTH_CHECKS", false),

		IndexInterval: src.duration("INDEX_INTERVAL", 30*time.Minute),

		CacheMaxSize:    src.size("CACHE_MAX_SIZE", 10*1000*1000*1000),
		CacheTTL:        src.duration("CACHE_TTL", 24*time.Hour),
		CacheTTLSliding: src.boolean("CACHE_TTL_SLIDING", false),
		CleanupSchedule: src.get("CACHE_CLEANUP_SCHEDULE", "@every 15m"),
		IndexBackend:    strings.ToLower(src.get("CACHE_INDEX_BACKEND", "sqlite")),

		TranscodeTimeout: src.duration("TRANSCODE_TIMEOUT", 30*time.Minute),
		ProbeTimeout:     src.duration("PROBE_TIMEOUT", 30*time.Second),
		TranscodeWorkers: src.integer("TRANSCODE_WORKERS", 0),
		IdlePolicy:       src.get("TRANSCODE_IDLE_POLICY", "run-to-completion"),
		FFmpegPath:       src.get("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:      src.get("FFPROBE_PATH", "ffprobe"),

		StreamRateLimit: src.integer("STREAM_RATE_LIMIT", 60),

		BackupEndpoint:        src.get("BACKUP_ENDPOINT", ""),
		BackupBucket:          src.get("BACKUP_BUCKET", ""),
		BackupRegion:          src.get("BACKUP_REGION", "auto"),
		BackupPrefix:          src.get("BACKUP_PREFIX", ""),
		BackupAccessKeyID:     src.get("BACKUP_ACCESS_KEY_ID", ""),
		BackupSecretAccessKey: src.get("BACKUP_SECRET_ACCESS_KEY", ""),
	}

	for _, p := range []*string{&cfg.MediaDir, &cfg.CacheDir, &cfg.DatabaseDir} {
		abs, err := filepath.Abs(*p)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve path %s: %w", *p, err)
		}
		*p = abs
	}

	cfg.DatabasePath = filepath.Join(cfg.DatabaseDir, "media.db")
	cfg.BadgerDir = filepath.Join(cfg.DatabaseDir, "cache-index")
	cfg.TranscodeDir = filepath.Join(cfg.CacheDir, "transcoded")
	cfg.PosterDir = filepath.Join(cfg.CacheDir, "posters")
	return cfg, nil
}

// LoadConfig loads configuration, logs it, and prepares directories.
func LoadConfig() (*Config, error) {
	printBanner()
	logSystemInfo()

	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	logSection("CONFIGURATION")
	logging.Info("  MEDIA_DIR:              %s", cfg.MediaDir)
	logging.Info("  CACHE_DIR:              %s", cfg.CacheDir)
	logging.Info("  DATABASE_DIR:           %s", cfg.DatabaseDir)
	logging.Info("  PORT:                   %s", cfg.Port)
	logging.Info("  METRICS_PORT:           %s", cfg.MetricsPort)
	logging.Info("  METRICS_ENABLED:        %v", cfg.MetricsEnabled)
	logging.Info("  INDEX_INTERVAL:         %v", cfg.IndexInterval)
	logging.Info("  CACHE_MAX_SIZE:         %s", humanize.Bytes(cfg.CacheMaxSize))
	logging.Info("  CACHE_TTL:              %v (sliding: %v)", cfg.CacheTTL, cfg.CacheTTLSliding)
	logging.Info("  CACHE_CLEANUP_SCHEDULE: %s", cfg.CleanupSchedule)
	logging.Info("  CACHE_INDEX_BACKEND:    %s", cfg.IndexBackend)
	logging.Info("  TRANSCODE_TIMEOUT:      %v", cfg.TranscodeTimeout)
	logging.Info("  TRANSCODE_IDLE_POLICY:  %s", cfg.IdlePolicy)
	logging.Info("  STREAM_RATE_LIMIT:      %d/min", cfg.StreamRateLimit)
	logging.Info("  BACKUP_BUCKET:          %s", valueOrNone(cfg.BackupBucket))
	logging.Info("  LOG_LEVEL:              %s", logging.GetLevel())

	configureMemoryLimit()

	logSection("DIRECTORY SETUP")
	if err := ensureDirectory(cfg.MediaDir, "media"); err != nil {
		logging.Warn("  Media directory issue: %v", err)
	}
	if err := ensureDirectory(cfg.DatabaseDir, "database"); err != nil {
		return nil, fmt.Errorf("database directory error: %w", err)
	}
	if err := testWriteAccess(cfg.DatabaseDir); err != nil {
		return nil, fmt.Errorf("database directory is not writable (required for database): %w", err)
	}
	logging.Info("  [OK] Database directory is writable")

	cfg.TranscodingEnabled = setupOptionalDir(cfg.TranscodeDir, "transcoding")
	cfg.PostersEnabled = setupOptionalDir(cfg.PosterDir, "posters")

	logging.Info("")
	logging.Info("  Feature availability:")
	logging.Info("    Database:    ENABLED (required)")
	logging.Info("    Transcoding: %s", enabledString(cfg.TranscodingEnabled))
	logging.Info("    Posters:     %s", enabledString(cfg.PostersEnabled))
	logging.Info("    Backup:      %s", enabledString(cfg.BackupEnabled()))
	logging.Info("    Metrics:     %s", enabledString(cfg.MetricsEnabled))

	return cfg, nil
}

func valueOrNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func setupOptionalDir(path, name string) bool {
	logging.Debug("  Setting up %s directory: %s", name, path)

	if err := os.MkdirAll(path, 0o755); err != nil {
		logging.Warn("    Failed to create %s directory: %v", name, err)
		logging.Warn("    %s will be disabled", name)
		return false
	}
	if err := testWriteAccess(path); err != nil {
		logging.Warn("    %s directory is not writable: %v", name, err)
		logging.Warn("    %s will be disabled", name)
		return false
	}

	logging.Debug("    [OK] %s directory ready", name)
	return true
}

func ensureDirectory(path, name string) error {
	logging.Debug("  Checking %s directory: %s", name, path)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Debug("    [OK] Created directory: %s", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory")
	}
	return nil
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return err
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("failed to remove write test file %s: %v", testFile, err)
	}
	return nil
}
