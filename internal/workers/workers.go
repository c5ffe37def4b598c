package workers

import (
	"os"
	"runtime"
	"strconv"
)

// Environment variables that override computed pool sizes.
const (
	TranscodeWorkersEnv = "TRANSCODE_WORKERS"
	ScanWorkersEnv      = "SCAN_WORKERS"
)

// Count returns multiplier workers per available CPU, at least 1 and at
// most limit (0 means no limit).
func Count(multiplier float64, limit int) int {
	available := runtime.GOMAXPROCS(0)

	workers := int(float64(available) * multiplier)

	if workers < 1 {
		workers = 1
	}
	if limit > 0 && workers > limit {
		workers = limit
	}

	return workers
}

// FromEnv returns the positive integer in the named variable, or fallback.
func FromEnv(name string, fallback int) int {
	if override := os.Getenv(name); override != "" {
		if count, err := strconv.Atoi(override); err == nil && count > 0 {
			return count
		}
	}
	return fallback
}

// ForCPU returns worker count for CPU-bound tasks (1 per CPU).
func ForCPU(limit int) int {
	return Count(1.0, limit)
}

// ForIO returns worker count for I/O-bound tasks (2 per CPU).
func ForIO(limit int) int {
	return Count(2.0, limit)
}

// ForTranscode returns the number of concurrent ffmpeg processes, honoring
// TRANSCODE_WORKERS.
func ForTranscode(limit int) int {
	return FromEnv(TranscodeWorkersEnv, ForCPU(limit))
}

// ForScan returns the registry scan parallelism, honoring SCAN_WORKERS.
func ForScan(limit int) int {
	return FromEnv(ScanWorkersEnv, ForIO(limit))
}
