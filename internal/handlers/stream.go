package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"

	"media-vault/internal/cache"
	"media-vault/internal/database"
	"media-vault/internal/filesystem"
	"media-vault/internal/jobs"
	"media-vault/internal/logging"
	"media-vault/internal/mediatypes"
	"media-vault/internal/streaming"
)

// FallbackHeader is set when the original source is served because the
// requested rendition could not be produced.
const FallbackHeader = "X-Transcode-Fallback"

// StreamPending is the 202 body returned while a rendition is transcoding.
type StreamPending struct {
	Status      string `json:"status"`
	JobID       string `json:"jobId"`
	ProgressURL string `json:"progressUrl"`
}

func progressURL(mediaID string, rend rendition) string {
	return fmt.Sprintf("/stream/%s/transcode-progress?%s", url.PathEscape(mediaID), rend.query())
}

// Stream serves a rendition of a media file.
// GET /stream/{mediaId}?quality=&format=&wait=
//
// A cached rendition is served with range support. Otherwise a transcode is
// started (or joined) and the client gets 202 with a progress URL, unless
// wait=true, in which case the request blocks until the job ends.
func (h *Handlers) Stream(w http.ResponseWriter, r *http.Request) {
	rend, err := parseRendition(r.URL.Query())
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	m, ok := h.lookupMedia(w, r)
	if !ok {
		return
	}

	if !mediatypes.IsTranscodable(m.Kind) || !h.transcodingEnabled {
		h.serveOriginal(w, r, m, "")
		return
	}

	ctx := r.Context()
	if rend.quality == cache.QOriginal && h.runner != nil {
		info, err := h.runner.Probe(ctx, m.Path)
		switch {
		case err != nil:
			logging.Debug("Probe failed for %s, transcoding instead of passthrough: %v", m.RelPath, err)
		case info.PlayableAs(rend.format):
			logging.Debug("Serving %s as-is for %s", m.RelPath, rend.format)
			h.serveOriginal(w, r, m, "")
			return
		}
	}

	key, err := cache.ResolveKey(sourceOf(m), rend.quality, rend.format)
	if err != nil {
		logging.Warn("Cannot build cache key for %s: %v", m.RelPath, err)
		h.serveOriginal(w, r, m, "original")
		return
	}

	ticket, err := h.coordinator.RequestStream(ctx, jobs.StreamRequest{Key: key, SourcePath: m.Path})
	if err != nil {
		h.streamRequestError(w, r, err)
		return
	}

	if ticket.Ready() {
		h.serveRendition(w, r, m, ticket.Entry.FilePath, rend)
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		ev, err := ticket.Sub.Wait(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logging.Warn("Waiting for transcode of %s failed: %v", m.RelPath, err)
				writeJSONError(w, "transcode interrupted", http.StatusInternalServerError)
			}
			return
		}
		if ev.Type == jobs.EventComplete {
			h.serveRendition(w, r, m, ev.OutputPath, rend)
			return
		}
		logging.Warn("Transcode of %s failed, serving original: %s", m.RelPath, ev.Message)
		h.serveOriginal(w, r, m, "original")
		return
	}

	ticket.Sub.Close()
	writeJSONStatus(w, http.StatusAccepted, StreamPending{
		Status:      "transcoding",
		JobID:       ticket.JobID,
		ProgressURL: progressURL(m.ID, rend),
	})
}

// TranscodeProgress streams job events as NDJSON until the job ends.
// GET /stream/{mediaId}/transcode-progress?quality=&format=
func (h *Handlers) TranscodeProgress(w http.ResponseWriter, r *http.Request) {
	rend, err := parseRendition(r.URL.Query())
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	m, ok := h.lookupMedia(w, r)
	if !ok {
		return
	}
	if !mediatypes.IsTranscodable(m.Kind) {
		writeJSONError(w, fmt.Sprintf("%s media is not transcoded", m.Kind), http.StatusBadRequest)
		return
	}
	if !h.transcodingEnabled {
		writeJSONError(w, "transcoding is disabled", http.StatusServiceUnavailable)
		return
	}

	key, err := cache.ResolveKey(sourceOf(m), rend.quality, rend.format)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	ticket, err := h.coordinator.RequestStream(ctx, jobs.StreamRequest{Key: key, SourcePath: m.Path})
	if err != nil {
		h.streamRequestError(w, r, err)
		return
	}

	ew := streaming.NewEventWriter(w, h.streamCfg)
	if ticket.Ready() {
		if err := ew.Send(ctx, jobs.Event{Type: jobs.EventComplete, Percent: 100, SizeBytes: ticket.Entry.SizeBytes}); err != nil {
			logging.Debug("Progress stream for %s ended: %v", m.RelPath, err)
		}
		return
	}

	sub := ticket.Sub
	defer sub.Close()
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			// server paths are not part of the wire format
			ev.OutputPath = ""
			if err := ew.Send(ctx, ev); err != nil {
				logging.Debug("Progress stream for %s ended: %v", m.RelPath, err)
				return
			}
			if ev.Terminal() {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *Handlers) streamRequestError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, jobs.ErrShuttingDown):
		writeJSONError(w, "server is shutting down", http.StatusServiceUnavailable)
	case r.Context().Err() != nil:
		// client went away
	default:
		logging.Error("Stream request failed: %v", err)
		writeJSONError(w, "failed to start transcode", http.StatusInternalServerError)
	}
}

func (h *Handlers) serveRendition(w http.ResponseWriter, r *http.Request, m *database.MediaFile, path string, rend rendition) {
	if err := serveFile(w, r, path, rend.format.Params().ContentType); err != nil {
		logging.Warn("Cached rendition %s unreadable, serving original: %v", path, err)
		h.serveOriginal(w, r, m, "original")
	}
}

// serveOriginal serves the source file. fallback, when set, is reported in
// FallbackHeader.
func (h *Handlers) serveOriginal(w http.ResponseWriter, r *http.Request, m *database.MediaFile, fallback string) {
	if fallback != "" {
		w.Header().Set(FallbackHeader, fallback)
	}
	if err := serveFile(w, r, m.Path, m.MimeType); err != nil {
		w.Header().Del(FallbackHeader)
		logging.Error("Failed to serve %s: %v", m.RelPath, err)
		writeJSONError(w, "media file unavailable", http.StatusNotFound)
	}
}

// serveFile writes path with range support. It returns an error only when
// nothing has been written yet.
func serveFile(w http.ResponseWriter, r *http.Request, path, contentType string) error {
	f, err := filesystem.OpenWithRetry(path, filesystem.DefaultRetryConfig())
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", filepath.Base(path))
	}
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Header().Set("Accept-Ranges", "bytes")
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
	return nil
}
