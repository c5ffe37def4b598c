package handlers

import (
	"net/http"

	"media-vault/internal/startup"
)

// VersionResponse is the body of GET /version.
type VersionResponse struct {
	startup.BuildInfo
	Features map[string]bool `json:"features"`
}

// GetVersion returns the application version, build information and which
// optional features are active.
func (h *Handlers) GetVersion(w http.ResponseWriter, _ *http.Request) {
	resp := VersionResponse{
		BuildInfo: startup.GetBuildInfo(),
		Features: map[string]bool{
			"transcoding": h.transcodingEnabled,
			"posters":     h.posters != nil && h.posters.Enabled(),
			"backup":      h.backups != nil,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, resp)
}
