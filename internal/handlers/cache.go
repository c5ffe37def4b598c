package handlers

import (
	"net/http"
	"sort"
	"time"

	"media-vault/internal/cache"
	"media-vault/internal/eviction"
	"media-vault/internal/jobs"
	"media-vault/internal/logging"
)

// CacheStatsResponse is the body of GET /api/cache/stats.
type CacheStatsResponse struct {
	cache.Summary
	MaxSizeBytes uint64          `json:"maxSizeBytes"`
	Jobs         []jobs.JobInfo  `json:"jobs"`
	LastCleanup  *CleanupSummary `json:"lastCleanup,omitempty"`
}

// CleanupSummary reports one eviction run.
type CleanupSummary struct {
	eviction.Result
	Errors []string `json:"errors"`
}

func summarizeCleanup(res eviction.Result) *CleanupSummary {
	return &CleanupSummary{Result: res, Errors: res.ErrorStrings()}
}

// CacheEntry is the wire form of a cache index record.
type CacheEntry struct {
	Key            string     `json:"key"`
	SourceHash     string     `json:"sourceHash"`
	Quality        string     `json:"quality"`
	Format         string     `json:"format"`
	Status         string     `json:"status"`
	SizeBytes      uint64     `json:"sizeBytes"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastAccessedAt time.Time  `json:"lastAccessedAt"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	Error          string     `json:"error,omitempty"`
	Active         bool       `json:"active"`
}

func toCacheEntry(e *cache.Entry, active bool) CacheEntry {
	out := CacheEntry{
		Key:            e.Key.String(),
		SourceHash:     e.Key.SourceHash,
		Quality:        e.Key.Quality.String(),
		Format:         e.Key.Format.String(),
		Status:         e.Status.String(),
		SizeBytes:      e.SizeBytes,
		CreatedAt:      e.CreatedAt,
		LastAccessedAt: e.LastAccessedAt,
		Error:          e.ErrorMessage,
		Active:         active,
	}
	if !e.ExpiresAt.IsZero() {
		t := e.ExpiresAt
		out.ExpiresAt = &t
	}
	return out
}

// CacheStats reports cache occupancy and in-flight jobs.
// GET /api/cache/stats
func (h *Handlers) CacheStats(w http.ResponseWriter, r *http.Request) {
	summary, err := cache.Summarize(r.Context(), h.index)
	if err != nil {
		logging.Error("Failed to summarize cache: %v", err)
		writeJSONError(w, "failed to read cache index", http.StatusInternalServerError)
		return
	}

	resp := CacheStatsResponse{
		Summary:      summary,
		MaxSizeBytes: h.maxSizeBytes,
		Jobs:         []jobs.JobInfo{},
	}
	if h.coordinator != nil {
		resp.Jobs = h.coordinator.Jobs()
	}
	if h.scheduler != nil {
		if last, ok := h.scheduler.LastResult(); ok {
			resp.LastCleanup = summarizeCleanup(last)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, resp)
}

// CacheEntries lists index records, most recently accessed first.
// GET /api/cache/entries?status=
func (h *Handlers) CacheEntries(w http.ResponseWriter, r *http.Request) {
	var filter *cache.Status
	if s := r.URL.Query().Get("status"); s != "" {
		st, err := cache.ParseStatus(s)
		if err != nil {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		filter = &st
	}

	all, err := h.index.ListAll(r.Context())
	if err != nil {
		logging.Error("Failed to list cache entries: %v", err)
		writeJSONError(w, "failed to read cache index", http.StatusInternalServerError)
		return
	}

	var active map[string]bool
	if h.coordinator != nil {
		active = h.coordinator.ActiveKeys()
	}

	out := make([]CacheEntry, 0, len(all))
	for _, e := range all {
		if filter != nil && e.Status != *filter {
			continue
		}
		out = append(out, toCacheEntry(e, active[e.Key.String()]))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastAccessedAt.After(out[j].LastAccessedAt)
	})

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, out)
}

// CacheCleanup runs an eviction pass immediately.
// POST /api/cache/cleanup
func (h *Handlers) CacheCleanup(w http.ResponseWriter, r *http.Request) {
	res := h.eviction.RunCleanup(r.Context())
	if err := res.Err(); err != nil {
		logging.Warn("Manual cleanup finished with errors: %v", err)
	}
	if h.db != nil {
		if err := h.db.SetLastCleanup(r.Context(), time.Now()); err != nil {
			logging.Warn("Failed to record cleanup time: %v", err)
		}
	}
	writeJSONStatus(w, http.StatusOK, summarizeCleanup(res))
}

// CacheClear removes every cached rendition not owned by a running job.
// DELETE /api/cache
func (h *Handlers) CacheClear(w http.ResponseWriter, r *http.Request) {
	res := h.eviction.Clear(r.Context())
	if err := res.Err(); err != nil {
		logging.Warn("Cache clear finished with errors: %v", err)
	}
	logging.Info("Transcode cache cleared, freed %d bytes", res.BytesFreed)
	writeJSONStatus(w, http.StatusOK, summarizeCleanup(res))
}
