package metrics

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	for _, result := range []string{"success", "error", "killed"} {
		TranscoderProcessExits.WithLabelValues(result)
	}

	for _, result := range []string{"success", "error", "timeout", "canceled"} {
		TranscodeJobsTotal.WithLabelValues(result)
	}

	for _, outcome := range []string{"hit", "miss", "attach"} {
		CacheRequestsTotal.WithLabelValues(outcome)
	}

	for _, status := range []string{"pending", "ready", "failed"} {
		CacheEntries.WithLabelValues(status)
	}

	for _, reason := range []string{"expired", "quota", "orphaned", "manual"} {
		EvictionFilesDeleted.WithLabelValues(reason)
	}

	for _, trigger := range []string{"schedule", "manual"} {
		EvictionRunsTotal.WithLabelValues(trigger)
	}

	for _, kind := range []string{"video", "audio", "image", "document"} {
		MediaFilesTotal.WithLabelValues(kind)
	}

	for _, status := range []string{"success", "error"} {
		RegistryScansTotal.WithLabelValues(status)
		PosterGenerationsTotal.WithLabelValues(status)
		BackupUploadsTotal.WithLabelValues(status)
	}

	volumes := []string{"media", "cache", "database", "unknown"}
	for _, vol := range volumes {
		for _, op := range []string{"stat", "open"} {
			FilesystemOperationDuration.WithLabelValues(vol, op)
			FilesystemOperationErrors.WithLabelValues(vol, op)
			FilesystemRetryAttempts.WithLabelValues(op, vol)
			FilesystemRetrySuccess.WithLabelValues(op, vol)
			FilesystemRetryFailures.WithLabelValues(op, vol)
			FilesystemStaleErrors.WithLabelValues(op, vol)
		}
	}

	for _, op := range []string{"cache_get", "cache_put", "cache_remove", "cache_touch", "cache_list",
		"cache_total_size", "media_upsert", "media_delete_unseen", "media_resolve"} {
		DBQueryTotal.WithLabelValues(op, "success")
		DBQueryTotal.WithLabelValues(op, "error")
		DBQueryDuration.WithLabelValues(op)
	}
}
