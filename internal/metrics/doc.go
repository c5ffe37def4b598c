// Package metrics provides Prometheus instrumentation for the media vault.
//
// All metrics are package-level promauto variables prefixed with
// "media_vault_" and registered with the default registry at init.
//
// # Metric Categories
//
// ## HTTP Metrics
//   - HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight
//   - HTTPRateLimited: requests rejected by the stream rate limiter
//
// ## Transcoding
//   - TranscoderProcessesRunning, TranscoderProcessExits: ffmpeg child processes
//   - TranscodeJobsTotal, TranscodeJobDuration, TranscodeJobsInProgress,
//     TranscodeJobsQueued: job coordinator state
//   - TranscodeSubscribers, TranscodeEventsDropped: progress fan-out
//   - CacheRequestsTotal: hit, miss and attach outcomes of stream requests
//
// ## Cache Storage
//   - CacheSizeBytes, CacheEntries: sampled by the Collector
//   - EvictionRunsTotal, EvictionFilesDeleted, EvictionBytesFreed,
//     EvictionErrors, EvictionDuration: cleanup sweeps
//
// ## Supporting Components
//   - DBQueryTotal, DBQueryDuration, DBSizeBytes
//   - RegistryScansTotal and friends for the media registry scanner
//   - PosterGenerationsTotal, BackupUploadsTotal
//   - Filesystem* for NFS retry behaviour
//
// Call InitializeMetrics once at startup so labelled series are exported
// from the first scrape.
package metrics
