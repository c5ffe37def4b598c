// Package main provides the entry point for the Media Vault server.
//
// Media Vault serves a self-hosted media library over HTTP and transcodes
// video on demand. Renditions are produced by FFmpeg the first time they are
// requested and kept in an on-disk cache that is bounded by size and age.
//
// # Application Lifecycle
//
//  1. Configuration: environment variables, optionally preloaded from the
//     YAML file named by CONFIG_FILE, plus GOMEMLIMIT from MEMORY_LIMIT
//  2. Storage: the SQLite database (media registry and, by default, the
//     cache index), or a Badger or in-memory cache index
//  3. Components:
//     - Transcode coordinator: deduplicates jobs per rendition and bounds
//     concurrent FFmpeg processes
//     - Eviction scheduler: cron-driven cleanup of expired, orphaned and
//     over-quota renditions
//     - Registry scanner: walks MEDIA_DIR and keeps the media table current
//     - Poster generator and optional S3 backup uploader
//     - Metrics collector
//  4. HTTP servers: the application server and, when enabled, a metrics
//     server on METRICS_PORT
//  5. Graceful shutdown on SIGINT/SIGTERM
//
// # Routes
//
//	GET    /stream/{mediaId}?quality=&format=&wait=
//	GET    /stream/{mediaId}/transcode-progress?quality=&format=
//	GET    /api/media?kind=&limit=
//	GET    /api/media/{mediaId}/info
//	GET    /api/media/{mediaId}/poster
//	POST   /api/media/{mediaId}/backup
//	GET    /api/cache/stats
//	GET    /api/cache/entries?status=
//	POST   /api/cache/cleanup
//	DELETE /api/cache
//	GET    /healthz, /livez, /readyz, /version
//
// Stream routes are rate limited per client IP (STREAM_RATE_LIMIT requests
// per minute, 0 disables).
//
// # Shutdown
//
// The HTTP servers stop accepting requests first. Running transcodes are
// then cancelled and their partial output removed, background loops are
// stopped, and finally the cache index and database are closed. The whole
// sequence is bounded by a 30 second timeout.
//
// See internal/startup for the full list of environment variables.
package main
