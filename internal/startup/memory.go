package startup

import (
	"math"
	"os"
	"runtime/debug"
	"strconv"

	"github.com/dustin/go-humanize"

	"media-vault/internal/logging"
)

const defaultMemoryRatio = 0.85

// memoryLimit derives a Go heap limit from MEMORY_LIMIT and MEMORY_RATIO.
// It returns 0 when no limit should be applied.
func memoryLimit() int64 {
	raw := os.Getenv("MEMORY_LIMIT")
	if raw == "" {
		return 0
	}
	limit, err := humanize.ParseBytes(raw)
	if err != nil || limit == 0 || limit > math.MaxInt64 {
		logging.Warn("Failed to parse MEMORY_LIMIT %q: %v", raw, err)
		return 0
	}

	ratio := defaultMemoryRatio
	if r := os.Getenv("MEMORY_RATIO"); r != "" {
		parsed, err := strconv.ParseFloat(r, 64)
		if err != nil || parsed <= 0 || parsed > 1 {
			logging.Warn("MEMORY_RATIO %q invalid, using default %.2f", r, defaultMemoryRatio)
		} else {
			ratio = parsed
		}
	}
	return int64(float64(limit) * ratio)
}

// configureMemoryLimit applies GOMEMLIMIT from the container limit unless
// GOMEMLIMIT is already set.
func configureMemoryLimit() {
	if v := os.Getenv("GOMEMLIMIT"); v != "" {
		logging.Info("  GOMEMLIMIT set via environment: %s", v)
		return
	}
	limit := memoryLimit()
	if limit <= 0 {
		return
	}
	debug.SetMemoryLimit(limit)
	logging.Info("  GOMEMLIMIT:             %s", humanize.IBytes(uint64(limit)))
}
