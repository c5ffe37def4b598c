package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"media-vault/internal/startup"
)

const (
	statusHealthy  = "healthy"
	statusStarting = "starting"
	statusDegraded = "degraded"
)

// HealthResponse contains the health check response
type HealthResponse struct {
	Status      string `json:"status"`
	Ready       bool   `json:"ready"`
	Version     string `json:"version"`
	Uptime      string `json:"uptime"`
	Database    string `json:"database"`
	Transcoding bool   `json:"transcoding"`
	ActiveJobs  int    `json:"activeJobs"`

	Scanning  bool   `json:"scanning"`
	LastScan  string `json:"lastScan,omitempty"`
	ScanError string `json:"scanError,omitempty"`
	Files     int    `json:"files"`

	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`
}

func (h *Handlers) ready() bool {
	return h.registry == nil || h.registry.IsReady()
}

// HealthCheck returns the health status of the service
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Ready:        h.ready(),
		Version:      startup.Version,
		Uptime:       time.Since(h.startTime).Round(time.Second).String(),
		Database:     "ok",
		Transcoding:  h.transcodingEnabled,
		GoVersion:    runtime.Version(),
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
	}
	if h.coordinator != nil {
		response.ActiveJobs = len(h.coordinator.Jobs())
	}
	if h.registry != nil {
		st := h.registry.Status()
		response.Scanning = st.Scanning
		response.ScanError = st.LastError
		response.Files = st.Files
		if !st.LastScan.IsZero() {
			response.LastScan = st.LastScan.Format(time.RFC3339)
		}
	}

	response.Status = statusHealthy
	if !response.Ready {
		response.Status = statusStarting
	}
	if response.ScanError != "" {
		response.Status = statusDegraded
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			response.Database = err.Error()
			response.Status = statusDegraded
		}
	}

	code := http.StatusOK
	if !response.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSONStatus(w, code, response)
}

// LivenessCheck is a simple liveness probe (always returns 200 if server is running)
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	// For HEAD requests, only send headers (no body)
	if r.Method != http.MethodHead {
		writeJSON(w, map[string]string{
			"status": "alive",
		})
	}
}

// ReadinessCheck returns 200 only when the service is ready to accept traffic
func (h *Handlers) ReadinessCheck(w http.ResponseWriter, _ *http.Request) {
	if h.ready() {
		writeJSONStatus(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	writeJSONStatus(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
}
