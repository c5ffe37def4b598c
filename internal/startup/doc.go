// Package startup handles configuration loading and startup/shutdown logging.
//
// # Configuration
//
// Configuration comes from environment variables, optionally preloaded from a
// YAML file named by CONFIG_FILE. File keys are the lowercase variable names
// (cache_max_size: 20GB); a set environment variable always wins over the file.
//
//   - MEDIA_DIR, CACHE_DIR, DATABASE_DIR: storage roots (/media, /cache, /database)
//   - PORT, METRICS_PORT, METRICS_ENABLED: listeners (8080, 9090, true)
//   - LOG_LEVEL, LOG_FORMAT, LOG_HEALTH_CHECKS: logging
//   - INDEX_INTERVAL: registry rescan interval (30m)
//   - CACHE_MAX_SIZE: transcode cache quota, bytes or "10GB" (10GB)
//   - CACHE_TTL, CACHE_TTL_SLIDING: entry lifetime (24h, false)
//   - CACHE_CLEANUP_SCHEDULE: cron spec for eviction (@every 15m)
//   - CACHE_INDEX_BACKEND: sqlite, badger or memory (sqlite)
//   - TRANSCODE_TIMEOUT, PROBE_TIMEOUT: per-process limits (30m, 30s)
//   - TRANSCODE_WORKERS: concurrent ffmpeg processes
//   - TRANSCODE_IDLE_POLICY: run-to-completion or cancel-when-idle
//   - FFMPEG_PATH, FFPROBE_PATH: binaries (ffmpeg, ffprobe)
//   - STREAM_RATE_LIMIT: stream requests per minute per client (60, 0 disables)
//   - BACKUP_ENDPOINT, BACKUP_BUCKET, BACKUP_REGION, BACKUP_PREFIX,
//     BACKUP_ACCESS_KEY_ID, BACKUP_SECRET_ACCESS_KEY: S3-compatible backup target
//   - MEMORY_LIMIT, MEMORY_RATIO: container limit used to derive GOMEMLIMIT
//
// # Directory Setup
//
// The database directory must be writable. The transcode and poster
// directories under CACHE_DIR are optional: when either cannot be written the
// matching feature is disabled and the server still starts.
package startup
