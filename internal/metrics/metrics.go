package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_vault_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_vault_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_vault_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	HTTPRateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_vault_http_rate_limited_total",
			Help: "Requests rejected by the per-client rate limiter",
		},
		[]string{"path"},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_vault_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_vault_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBSizeBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_vault_db_size_bytes",
			Help: "Size of SQLite database files in bytes",
		},
		[]string{"file"}, // "main", "wal", "shm"
	)
)

// Registry metrics
var (
	RegistryScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_vault_registry_scans_total",
			Help: "Total number of media registry scans by status",
		},
		[]string{"status"},
	)

	RegistryLastScanDuration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_vault_registry_last_scan_duration_seconds",
			Help: "Duration of the last media registry scan",
		},
	)

	RegistryLastScanTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_vault_registry_last_scan_timestamp",
			Help: "Unix timestamp of the last completed registry scan",
		},
	)

	RegistryScanRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_vault_registry_scan_running",
			Help: "Whether a registry scan is currently running (1 = running)",
		},
	)

	MediaFilesTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_vault_media_files_total",
			Help: "Number of registered media files by kind",
		},
		[]string{"kind"},
	)
)

// Transcoder process metrics
var (
	TranscoderProcessesRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_vault_transcoder_processes_running",
			Help: "Number of ffmpeg processes currently running",
		},
	)

	TranscoderProcessExits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_vault_transcoder_process_exits_total",
			Help: "ffmpeg process exits by result (success, error, killed)",
		},
		[]string{"result"},
	)

	TranscoderProbeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "media_vault_transcoder_probe_duration_seconds",
			Help:    "ffprobe duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	TranscoderProbeCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_vault_transcoder_probe_cache_hits_total",
			Help: "Probe results served from memory",
		},
	)
)

// Transcode job metrics
var (
	TranscodeJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_vault_transcode_jobs_total",
			Help: "Completed transcode jobs by result",
		},
		[]string{"result"},
	)

	TranscodeJobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "media_vault_transcode_job_duration_seconds",
			Help:    "Wall-clock duration of transcode jobs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		},
	)

	TranscodeJobsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_vault_transcode_jobs_in_progress",
			Help: "Transcode jobs currently in the job table",
		},
	)

	TranscodeJobsQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_vault_transcode_jobs_queued",
			Help: "Transcode jobs waiting for a worker slot",
		},
	)

	TranscodeSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_vault_transcode_subscribers",
			Help: "Progress subscribers attached to running jobs",
		},
	)

	TranscodeEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_vault_transcode_progress_events_dropped_total",
			Help: "Progress events dropped because a subscriber fell behind",
		},
	)

	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_vault_cache_requests_total",
			Help: "Stream cache lookups by outcome (hit, miss, attach)",
		},
		[]string{"outcome"},
	)
)

// Cache storage and eviction metrics
var (
	CacheSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_vault_cache_size_bytes",
			Help: "Total size of Ready cache entries",
		},
	)

	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_vault_cache_entries",
			Help: "Cache entries by status",
		},
		[]string{"status"},
	)

	EvictionRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_vault_eviction_runs_total",
			Help: "Cache cleanup runs by trigger",
		},
		[]string{"trigger"},
	)

	EvictionFilesDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_vault_eviction_files_deleted_total",
			Help: "Cache files deleted by reason (expired, quota, orphaned)",
		},
		[]string{"reason"},
	)

	EvictionBytesFreed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_vault_eviction_bytes_freed_total",
			Help: "Bytes reclaimed by cache cleanup",
		},
	)

	EvictionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_vault_eviction_errors_total",
			Help: "Per-file errors encountered during cleanup",
		},
	)

	EvictionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "media_vault_eviction_duration_seconds",
			Help:    "Duration of cache cleanup runs",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
	)
)

// Poster and backup metrics
var (
	PosterGenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_vault_poster_generations_total",
			Help: "Poster frame generations by result",
		},
		[]string{"result"},
	)

	PosterCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_vault_poster_cache_hits_total",
			Help: "Poster frames served from disk",
		},
	)

	BackupUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_vault_backup_uploads_total",
			Help: "Source backups by result",
		},
		[]string{"result"},
	)

	BackupBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_vault_backup_bytes_total",
			Help: "Bytes uploaded to the backup bucket",
		},
	)
)

// Filesystem metrics
var (
	FilesystemOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_vault_filesystem_operation_duration_seconds",
			Help:    "Filesystem operation latency by volume and operation",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"volume", "operation"},
	)

	FilesystemOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_vault_filesystem_operation_errors_total",
			Help: "Filesystem operation errors by volume and operation",
		},
		[]string{"volume", "operation"},
	)

	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_vault_filesystem_retry_attempts_total",
			Help: "Retries after NFS stale file handle errors",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetrySuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_vault_filesystem_retry_success_total",
			Help: "Operations that succeeded after at least one retry",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_vault_filesystem_retry_failures_total",
			Help: "Operations that failed after exhausting retries",
		},
		[]string{"operation", "volume"},
	)

	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_vault_filesystem_stale_errors_total",
			Help: "ESTALE errors observed",
		},
		[]string{"operation", "volume"},
	)
)

// Application metrics
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_vault_app_info",
			Help: "Application build information",
		},
		[]string{"version", "commit", "go_version"},
	)
)
