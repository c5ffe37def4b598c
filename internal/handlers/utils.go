package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"

	"media-vault/internal/cache"
	"media-vault/internal/database"
	"media-vault/internal/logging"
)

// writeJSON encodes v as JSON and writes it to the response writer.
// Any encoding or write errors are logged since we typically cannot
// recover from them in an HTTP handler context.
func writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes an error response as JSON with the given status code.
func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	writeJSON(w, map[string]string{"error": message})
}

// writeJSONStatus writes v as JSON with the given status code.
func writeJSONStatus(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	writeJSON(w, v)
}

// rendition is the parsed quality/format pair of a stream request.
type rendition struct {
	quality cache.Quality
	format  cache.Format
}

// parseRendition reads quality and format from the query string. Missing
// values default to original/mp4.
func parseRendition(q url.Values) (rendition, error) {
	r := rendition{quality: cache.QOriginal, format: cache.FormatMP4}
	if s := q.Get("quality"); s != "" {
		quality, err := cache.ParseQuality(s)
		if err != nil {
			return r, err
		}
		r.quality = quality
	}
	if s := q.Get("format"); s != "" {
		format, err := cache.ParseFormat(s)
		if err != nil {
			return r, err
		}
		r.format = format
	}
	return r, nil
}

func (r rendition) query() string {
	v := url.Values{}
	v.Set("quality", r.quality.String())
	v.Set("format", r.format.String())
	return v.Encode()
}

// lookupMedia resolves the {mediaId} route variable, writing a 404 or 500
// when it cannot.
func (h *Handlers) lookupMedia(w http.ResponseWriter, r *http.Request) (*database.MediaFile, bool) {
	id := mux.Vars(r)["mediaId"]
	if id == "" {
		writeJSONError(w, "media id is required", http.StatusBadRequest)
		return nil, false
	}
	m, err := h.db.GetMedia(r.Context(), id)
	if errors.Is(err, database.ErrSourceNotFound) {
		writeJSONError(w, fmt.Sprintf("media %s not found", id), http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		logging.Error("Failed to resolve media %s: %v", id, err)
		writeJSONError(w, "failed to resolve media", http.StatusInternalServerError)
		return nil, false
	}
	return m, true
}

func sourceOf(m *database.MediaFile) cache.Source {
	return cache.Source{MediaID: m.ID, Path: m.Path, ContentHash: m.ContentHash}
}
