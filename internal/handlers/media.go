package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"media-vault/internal/backup"
	"media-vault/internal/cache"
	"media-vault/internal/database"
	"media-vault/internal/logging"
	"media-vault/internal/mediatypes"
	"media-vault/internal/poster"
	"media-vault/internal/transcoder"
)

// MediaInfoResponse is the body of the media info endpoint.
type MediaInfoResponse struct {
	database.MediaFile
	Probe     *transcoder.MediaInfo `json:"probe,omitempty"`
	Playable  []string              `json:"playableAs,omitempty"`
	Qualities []string              `json:"qualities,omitempty"`
}

// ListMedia returns registered media, optionally filtered by kind.
// GET /api/media?kind=&limit=
func (h *Handlers) ListMedia(w http.ResponseWriter, r *http.Request) {
	kind := database.MediaKind(r.URL.Query().Get("kind"))
	switch kind {
	case "", database.KindVideo, database.KindAudio, database.KindImage, database.KindDocument:
	default:
		writeJSONError(w, "unknown media kind", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	files, err := h.db.ListMedia(r.Context(), kind, limit)
	if err != nil {
		logging.Error("Failed to list media: %v", err)
		writeJSONError(w, "failed to list media", http.StatusInternalServerError)
		return
	}
	if files == nil {
		files = []database.MediaFile{}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, files)
}

// MediaInfo returns the registry record and, for video, ffprobe details.
// GET /api/media/{mediaId}/info
func (h *Handlers) MediaInfo(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookupMedia(w, r)
	if !ok {
		return
	}

	resp := MediaInfoResponse{MediaFile: *m}
	if mediatypes.IsTranscodable(m.Kind) && h.runner != nil {
		info, err := h.runner.Probe(r.Context(), m.Path)
		if err != nil {
			if errors.Is(err, transcoder.ErrProbeFailed) {
				writeJSONError(w, err.Error(), http.StatusUnprocessableEntity)
				return
			}
			logging.Error("Probe of %s failed: %v", m.RelPath, err)
			writeJSONError(w, "probe failed", http.StatusInternalServerError)
			return
		}
		resp.Probe = info
		for _, f := range cache.Formats {
			if info.PlayableAs(f) {
				resp.Playable = append(resp.Playable, f.String())
			}
		}
		for _, q := range cache.Qualities {
			p := q.Params()
			if p.Height == 0 || p.Height <= info.Height {
				resp.Qualities = append(resp.Qualities, q.String())
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp)
}

// Poster serves the JPEG poster frame of a video or image.
// GET /api/media/{mediaId}/poster
func (h *Handlers) Poster(w http.ResponseWriter, r *http.Request) {
	if h.posters == nil || !h.posters.Enabled() {
		writeJSONError(w, "posters are disabled", http.StatusServiceUnavailable)
		return
	}
	m, ok := h.lookupMedia(w, r)
	if !ok {
		return
	}

	data, err := h.posters.Get(r.Context(), sourceOf(m), m.Kind)
	switch {
	case errors.Is(err, poster.ErrUnsupported):
		writeJSONError(w, "no poster for this media kind", http.StatusNotFound)
		return
	case err != nil:
		logging.Warn("Poster for %s failed: %v", m.RelPath, err)
		writeJSONError(w, "poster generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Header().Set("ETag", `"`+m.ContentHash+`"`)
	if match := r.Header.Get("If-None-Match"); match == `"`+m.ContentHash+`"` {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if _, err := w.Write(data); err != nil {
		logging.Debug("Failed to write poster for %s: %v", m.RelPath, err)
	}
}

// Backup uploads the source file to the backup bucket.
// POST /api/media/{mediaId}/backup
func (h *Handlers) Backup(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		writeJSONError(w, backup.ErrNotConfigured.Error(), http.StatusServiceUnavailable)
		return
	}
	m, ok := h.lookupMedia(w, r)
	if !ok {
		return
	}

	res, err := h.backups.Upload(r.Context(), m)
	if err != nil {
		logging.Error("Backup of %s failed: %v", m.RelPath, err)
		writeJSONError(w, "backup failed", http.StatusBadGateway)
		return
	}
	writeJSONStatus(w, http.StatusOK, res)
}
