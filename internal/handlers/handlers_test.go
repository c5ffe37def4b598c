package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disintegration/imaging"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"media-vault/internal/backup"
	"media-vault/internal/cache"
	"media-vault/internal/database"
	"media-vault/internal/eviction"
	"media-vault/internal/jobs"
	"media-vault/internal/poster"
	"media-vault/internal/registry"
	"media-vault/internal/transcoder"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeRunner struct {
	info     *transcoder.MediaInfo
	probeErr error
	err      error
	steps    []float64
	calls    atomic.Int32
	probes   atomic.Int32
}

func (f *fakeRunner) Probe(context.Context, string) (*transcoder.MediaInfo, error) {
	f.probes.Add(1)
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	if f.info != nil {
		return f.info, nil
	}
	return &transcoder.MediaInfo{Duration: 10, Width: 1920, Height: 1080, VideoCodec: "hevc", Container: "matroska,webm"}, nil
}

func (f *fakeRunner) Transcode(_ context.Context, req transcoder.Request, onProgress func(transcoder.Progress)) (*transcoder.Result, error) {
	f.calls.Add(1)
	for _, p := range f.steps {
		onProgress(transcoder.Progress{Percent: p})
	}
	if f.err != nil {
		return nil, f.err
	}
	data := []byte("rendition:" + req.Quality.String())
	if err := os.WriteFile(req.OutputPath, data, 0o644); err != nil {
		return nil, err
	}
	return &transcoder.Result{OutputPath: req.OutputPath, SizeBytes: uint64(len(data))}, nil
}

type fakeRegistry struct {
	ready bool
	st    registry.Status
}

func (f *fakeRegistry) IsReady() bool           { return f.ready }
func (f *fakeRegistry) Status() registry.Status { return f.st }

type fakeFrames struct{}

func (fakeFrames) ExtractFrame(context.Context, string) (image.Image, error) {
	return imaging.New(64, 36, color.NRGBA{G: 255, A: 255}), nil
}

type fakeS3 struct {
	keys []string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if _, err := io.Copy(io.Discard, in.Body); err != nil {
		return nil, err
	}
	f.keys = append(f.keys, aws.ToString(in.Key))
	return &s3.PutObjectOutput{}, nil
}

// =============================================================================
// Fixture
// =============================================================================

type testEnv struct {
	h        *Handlers
	db       *database.Database
	runner   *fakeRunner
	coord    *jobs.Coordinator
	mediaDir string
	registry *fakeRegistry
}

func setupHandlers(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.New(ctx, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	runner := &fakeRunner{}
	cfg := jobs.DefaultConfig()
	cfg.ProgressRate = rate.Inf
	layout := cache.Layout{Root: t.TempDir()}
	coord := jobs.New(cfg, db, runner, layout)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = coord.Shutdown(ctx)
	})

	reg := &fakeRegistry{ready: true}
	deps := Deps{
		DB:                 db,
		Index:              db,
		Coordinator:        coord,
		Runner:             runner,
		Eviction:           eviction.New(db, coord, eviction.Config{Root: layout.Root, MaxSizeBytes: 1 << 30, JobTimeout: time.Hour}),
		Registry:           reg,
		MaxSizeBytes:       1 << 30,
		TranscodingEnabled: true,
	}
	if mutate != nil {
		mutate(&deps)
	}

	return &testEnv{
		h:        New(deps),
		db:       db,
		runner:   runner,
		coord:    coord,
		mediaDir: t.TempDir(),
		registry: reg,
	}
}

// addMedia writes a file and registers it.
func (e *testEnv) addMedia(t *testing.T, rel string, kind database.MediaKind, mime, content string) *database.MediaFile {
	t.Helper()
	path := filepath.Join(e.mediaDir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	m := &database.MediaFile{
		ID:          registry.MediaID(rel),
		Path:        path,
		RelPath:     rel,
		Name:        filepath.Base(rel),
		Kind:        kind,
		MimeType:    mime,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		ContentHash: cache.ContentHash(path, info.Size(), info.ModTime()),
	}
	ctx := context.Background()
	tx, err := e.db.BeginBatch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.db.UpsertMedia(ctx, tx, m, 1); err != nil {
		_ = e.db.EndBatch(tx, err)
		t.Fatal(err)
	}
	if err := e.db.EndBatch(tx, nil); err != nil {
		t.Fatal(err)
	}
	return m
}

func (e *testEnv) addVideo(t *testing.T) *database.MediaFile {
	return e.addMedia(t, "movies/film.mkv", database.KindVideo, "video/x-matroska", "original-bytes")
}

func request(method, target, mediaID string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	if mediaID != "" {
		req = mux.SetURLVars(req, map[string]string{"mediaId": mediaID})
	}
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("invalid JSON body %q: %v", rec.Body.String(), err)
	}
}

func waitReady(t *testing.T, e *testEnv, m *database.MediaFile, q cache.Quality) *cache.Entry {
	t.Helper()
	key, err := cache.ResolveKey(cache.Source{ContentHash: m.ContentHash}, q, cache.FormatMP4)
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		entry, err := e.db.Get(context.Background(), key)
		if err == nil && entry != nil && entry.Status == cache.StatusReady {
			return entry
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("rendition %s never became ready", key)
	return nil
}

// =============================================================================
// Stream
// =============================================================================

func TestStreamUnknownMedia(t *testing.T) {
	e := setupHandlers(t, nil)
	rec := httptest.NewRecorder()
	e.h.Stream(rec, request(http.MethodGet, "/stream/nope", "nope"))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestStreamInvalidRendition(t *testing.T) {
	e := setupHandlers(t, nil)
	m := e.addVideo(t)

	for _, q := range []string{"quality=999p", "format=avi"} {
		rec := httptest.NewRecorder()
		e.h.Stream(rec, request(http.MethodGet, "/stream/"+m.ID+"?"+q, m.ID))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestStreamNonVideoServesOriginal(t *testing.T) {
	e := setupHandlers(t, nil)
	m := e.addMedia(t, "photo.jpg", database.KindImage, "image/jpeg", "jpeg-bytes")

	rec := httptest.NewRecorder()
	e.h.Stream(rec, request(http.MethodGet, "/stream/"+m.ID, m.ID))

	if rec.Code != http.StatusOK || rec.Body.String() != "jpeg-bytes" {
		t.Errorf("got %d %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %q", ct)
	}
	if e.runner.calls.Load() != 0 {
		t.Error("images must not be transcoded")
	}
}

func TestStreamStartsJobThenServesCached(t *testing.T) {
	e := setupHandlers(t, nil)
	m := e.addVideo(t)

	rec := httptest.NewRecorder()
	e.h.Stream(rec, request(http.MethodGet, "/stream/"+m.ID+"?quality=720p", m.ID))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	var pending StreamPending
	decodeBody(t, rec, &pending)
	if pending.Status != "transcoding" || pending.JobID == "" {
		t.Errorf("unexpected body: %+v", pending)
	}
	wantURL := "/stream/" + m.ID + "/transcode-progress?format=mp4&quality=720p"
	if pending.ProgressURL != wantURL {
		t.Errorf("progressUrl = %q, want %q", pending.ProgressURL, wantURL)
	}

	waitReady(t, e, m, cache.Q720p)

	rec = httptest.NewRecorder()
	e.h.Stream(rec, request(http.MethodGet, "/stream/"+m.ID+"?quality=720p", m.ID))
	if rec.Code != http.StatusOK || rec.Body.String() != "rendition:720p" {
		t.Fatalf("cached: got %d %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "video/mp4" {
		t.Errorf("Content-Type = %q, want video/mp4", ct)
	}
	if n := e.runner.calls.Load(); n != 1 {
		t.Errorf("runner called %d times, want 1", n)
	}
}

func TestStreamWaitServesRendition(t *testing.T) {
	e := setupHandlers(t, nil)
	m := e.addVideo(t)

	rec := httptest.NewRecorder()
	e.h.Stream(rec, request(http.MethodGet, "/stream/"+m.ID+"?quality=480p&wait=true", m.ID))

	if rec.Code != http.StatusOK || rec.Body.String() != "rendition:480p" {
		t.Errorf("got %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(FallbackHeader) != "" {
		t.Error("successful transcode must not set the fallback header")
	}
}

func TestStreamRangeRequest(t *testing.T) {
	e := setupHandlers(t, nil)
	m := e.addVideo(t)

	rec := httptest.NewRecorder()
	e.h.Stream(rec, request(http.MethodGet, "/stream/"+m.ID+"?quality=480p&wait=true", m.ID))
	if rec.Code != http.StatusOK {
		t.Fatalf("warm-up status = %d", rec.Code)
	}

	req := request(http.MethodGet, "/stream/"+m.ID+"?quality=480p", m.ID)
	req.Header.Set("Range", "bytes=0-8")
	rec = httptest.NewRecorder()
	e.h.Stream(rec, req)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rec.Code)
	}
	if rec.Body.String() != "rendition" {
		t.Errorf("body = %q, want first 9 bytes", rec.Body.String())
	}
}

func TestStreamFallbackOnTranscodeFailure(t *testing.T) {
	e := setupHandlers(t, nil)
	e.runner.err = &transcoder.TranscodeError{ExitCode: 1, StderrTail: "Invalid data found"}
	m := e.addVideo(t)

	rec := httptest.NewRecorder()
	e.h.Stream(rec, request(http.MethodGet, "/stream/"+m.ID+"?quality=720p&wait=1", m.ID))

	if rec.Code != http.StatusOK || rec.Body.String() != "original-bytes" {
		t.Errorf("got %d %q", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get(FallbackHeader); got != "original" {
		t.Errorf("%s = %q, want original", FallbackHeader, got)
	}
}

func TestStreamOriginalPassthrough(t *testing.T) {
	e := setupHandlers(t, nil)
	e.runner.info = &transcoder.MediaInfo{Duration: 5, VideoCodec: "h264", AudioCodec: "aac", Container: "mov,mp4,m4a,3gp,3g2,mj2"}
	m := e.addMedia(t, "clip.mp4", database.KindVideo, "video/mp4", "already-mp4")

	rec := httptest.NewRecorder()
	e.h.Stream(rec, request(http.MethodGet, "/stream/"+m.ID, m.ID))

	if rec.Code != http.StatusOK || rec.Body.String() != "already-mp4" {
		t.Errorf("got %d %q", rec.Code, rec.Body.String())
	}
	if e.runner.calls.Load() != 0 {
		t.Error("playable source must not be transcoded")
	}
}

func TestStreamOriginalNeedsRemux(t *testing.T) {
	e := setupHandlers(t, nil)
	m := e.addVideo(t)

	rec := httptest.NewRecorder()
	e.h.Stream(rec, request(http.MethodGet, "/stream/"+m.ID+"?wait=true", m.ID))

	if rec.Body.String() != "rendition:original" {
		t.Errorf("body = %q, want transcoded original", rec.Body.String())
	}
}

func TestStreamTranscodingDisabled(t *testing.T) {
	e := setupHandlers(t, func(d *Deps) { d.TranscodingEnabled = false })
	m := e.addVideo(t)

	rec := httptest.NewRecorder()
	e.h.Stream(rec, request(http.MethodGet, "/stream/"+m.ID+"?quality=720p", m.ID))

	if rec.Code != http.StatusOK || rec.Body.String() != "original-bytes" {
		t.Errorf("got %d %q", rec.Code, rec.Body.String())
	}
}

func TestStreamAfterShutdown(t *testing.T) {
	e := setupHandlers(t, nil)
	m := e.addVideo(t)
	if err := e.coord.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	e.h.Stream(rec, request(http.MethodGet, "/stream/"+m.ID+"?quality=720p", m.ID))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

// =============================================================================
// Progress
// =============================================================================

func readEvents(t *testing.T, body string) []jobs.Event {
	t.Helper()
	var events []jobs.Event
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		var ev jobs.Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("invalid NDJSON line %q: %v", sc.Text(), err)
		}
		events = append(events, ev)
	}
	return events
}

func TestTranscodeProgressStreamsUntilComplete(t *testing.T) {
	e := setupHandlers(t, nil)
	e.runner.steps = []float64{25, 50, 75}
	m := e.addVideo(t)

	rec := httptest.NewRecorder()
	e.h.TranscodeProgress(rec, request(http.MethodGet, "/stream/"+m.ID+"/transcode-progress?quality=720p", m.ID))

	if ct := rec.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("Content-Type = %q", ct)
	}
	events := readEvents(t, rec.Body.String())
	if len(events) < 2 {
		t.Fatalf("got %d events", len(events))
	}
	if events[0].Type != jobs.EventStatus {
		t.Errorf("first event = %s, want status", events[0].Type)
	}
	last := events[len(events)-1]
	if last.Type != jobs.EventComplete || last.Percent != 100 {
		t.Errorf("last event = %+v, want complete at 100", last)
	}
	if last.OutputPath != "" {
		t.Error("server paths must not be sent to clients")
	}

	prev := -1.0
	for _, ev := range events {
		if ev.Type == jobs.EventProgress {
			if ev.Percent < prev {
				t.Errorf("percent went backwards: %v after %v", ev.Percent, prev)
			}
			prev = ev.Percent
		}
	}
}

func TestTranscodeProgressReadyEntry(t *testing.T) {
	e := setupHandlers(t, nil)
	m := e.addVideo(t)
	rec := httptest.NewRecorder()
	e.h.Stream(rec, request(http.MethodGet, "/stream/"+m.ID+"?quality=720p&wait=true", m.ID))

	rec = httptest.NewRecorder()
	e.h.TranscodeProgress(rec, request(http.MethodGet, "/stream/"+m.ID+"/transcode-progress?quality=720p", m.ID))

	events := readEvents(t, rec.Body.String())
	if len(events) != 1 || events[0].Type != jobs.EventComplete {
		t.Fatalf("events = %+v, want a single complete event", events)
	}
}

func TestTranscodeProgressError(t *testing.T) {
	e := setupHandlers(t, nil)
	e.runner.err = errors.New("boom")
	m := e.addVideo(t)

	rec := httptest.NewRecorder()
	e.h.TranscodeProgress(rec, request(http.MethodGet, "/stream/"+m.ID+"/transcode-progress?quality=720p", m.ID))

	events := readEvents(t, rec.Body.String())
	if last := events[len(events)-1]; last.Type != jobs.EventError || last.Message == "" {
		t.Errorf("last event = %+v, want error with message", last)
	}
}

func TestTranscodeProgressRejectsImages(t *testing.T) {
	e := setupHandlers(t, nil)
	m := e.addMedia(t, "photo.png", database.KindImage, "image/png", "png")

	rec := httptest.NewRecorder()
	e.h.TranscodeProgress(rec, request(http.MethodGet, "/stream/"+m.ID+"/transcode-progress", m.ID))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

// =============================================================================
// Media
// =============================================================================

func TestMediaInfo(t *testing.T) {
	e := setupHandlers(t, nil)
	e.runner.info = &transcoder.MediaInfo{Duration: 5, Height: 720, VideoCodec: "h264", AudioCodec: "aac", Container: "mov,mp4"}
	m := e.addVideo(t)

	rec := httptest.NewRecorder()
	e.h.MediaInfo(rec, request(http.MethodGet, "/api/media/"+m.ID+"/info", m.ID))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		ID        string                `json:"id"`
		Path      string                `json:"path"`
		Probe     *transcoder.MediaInfo `json:"probe"`
		Playable  []string              `json:"playableAs"`
		Qualities []string              `json:"qualities"`
	}
	decodeBody(t, rec, &resp)
	if resp.ID != m.ID || resp.Path != "movies/film.mkv" || resp.Probe == nil {
		t.Errorf("unexpected response: %+v", resp)
	}
	if len(resp.Playable) != 1 || resp.Playable[0] != "mp4" {
		t.Errorf("playableAs = %v, want [mp4]", resp.Playable)
	}
	want := "480p,720p,original"
	if got := strings.Join(resp.Qualities, ","); got != want {
		t.Errorf("qualities = %s, want %s", got, want)
	}
}

func TestMediaInfoProbeFailure(t *testing.T) {
	e := setupHandlers(t, nil)
	e.runner.probeErr = transcoder.ErrProbeFailed
	m := e.addVideo(t)

	rec := httptest.NewRecorder()
	e.h.MediaInfo(rec, request(http.MethodGet, "/api/media/"+m.ID+"/info", m.ID))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

func TestListMedia(t *testing.T) {
	e := setupHandlers(t, nil)
	e.addVideo(t)
	e.addMedia(t, "song.mp3", database.KindAudio, "audio/mpeg", "mp3")

	rec := httptest.NewRecorder()
	e.h.ListMedia(rec, request(http.MethodGet, "/api/media?kind=audio", ""))
	var files []database.MediaFile
	decodeBody(t, rec, &files)
	if len(files) != 1 || files[0].RelPath != "song.mp3" {
		t.Errorf("files = %+v", files)
	}

	rec = httptest.NewRecorder()
	e.h.ListMedia(rec, request(http.MethodGet, "/api/media?kind=hologram", ""))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestPoster(t *testing.T) {
	gen := poster.New(poster.Config{Dir: filepath.Join(t.TempDir(), "posters")})
	gen.SetFrameExtractor(fakeFrames{})
	e := setupHandlers(t, func(d *Deps) { d.Posters = gen })
	m := e.addVideo(t)

	rec := httptest.NewRecorder()
	e.h.Poster(rec, request(http.MethodGet, "/api/media/"+m.ID+"/poster", m.ID))
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/jpeg" || rec.Body.Len() == 0 {
		t.Fatalf("got %d %q (%d bytes)", rec.Code, rec.Header().Get("Content-Type"), rec.Body.Len())
	}

	req := request(http.MethodGet, "/api/media/"+m.ID+"/poster", m.ID)
	req.Header.Set("If-None-Match", rec.Header().Get("ETag"))
	rec = httptest.NewRecorder()
	e.h.Poster(rec, req)
	if rec.Code != http.StatusNotModified {
		t.Errorf("conditional request status = %d, want 304", rec.Code)
	}

	audio := e.addMedia(t, "song.mp3", database.KindAudio, "audio/mpeg", "mp3")
	rec = httptest.NewRecorder()
	e.h.Poster(rec, request(http.MethodGet, "/api/media/"+audio.ID+"/poster", audio.ID))
	if rec.Code != http.StatusNotFound {
		t.Errorf("audio poster status = %d, want 404", rec.Code)
	}
}

func TestPosterDisabled(t *testing.T) {
	e := setupHandlers(t, nil)
	m := e.addVideo(t)
	rec := httptest.NewRecorder()
	e.h.Poster(rec, request(http.MethodGet, "/api/media/"+m.ID+"/poster", m.ID))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestBackup(t *testing.T) {
	s3fake := &fakeS3{}
	e := setupHandlers(t, func(d *Deps) {
		d.Backups = backup.NewWithClient(s3fake, backup.Config{Bucket: "vault", Prefix: "media"})
	})
	m := e.addVideo(t)

	rec := httptest.NewRecorder()
	e.h.Backup(rec, request(http.MethodPost, "/api/media/"+m.ID+"/backup", m.ID))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var res backup.Result
	decodeBody(t, rec, &res)
	if res.Key != "media/movies/film.mkv" || res.SizeBytes != int64(len("original-bytes")) {
		t.Errorf("result = %+v", res)
	}
	if len(s3fake.keys) != 1 {
		t.Errorf("uploads = %v", s3fake.keys)
	}
}

func TestBackupNotConfigured(t *testing.T) {
	e := setupHandlers(t, nil)
	m := e.addVideo(t)
	rec := httptest.NewRecorder()
	e.h.Backup(rec, request(http.MethodPost, "/api/media/"+m.ID+"/backup", m.ID))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

// =============================================================================
// Cache administration
// =============================================================================

func TestCacheStatsEntriesAndClear(t *testing.T) {
	e := setupHandlers(t, nil)
	m := e.addVideo(t)
	rec := httptest.NewRecorder()
	e.h.Stream(rec, request(http.MethodGet, "/stream/"+m.ID+"?quality=720p&wait=true", m.ID))
	entry := waitReady(t, e, m, cache.Q720p)

	rec = httptest.NewRecorder()
	e.h.CacheStats(rec, request(http.MethodGet, "/api/cache/stats", ""))
	var stats CacheStatsResponse
	decodeBody(t, rec, &stats)
	if stats.Ready != 1 || stats.ReadyBytes != entry.SizeBytes || stats.MaxSizeBytes != 1<<30 {
		t.Errorf("stats = %+v", stats)
	}

	rec = httptest.NewRecorder()
	e.h.CacheEntries(rec, request(http.MethodGet, "/api/cache/entries?status=ready", ""))
	var entries []CacheEntry
	decodeBody(t, rec, &entries)
	if len(entries) != 1 || entries[0].Quality != "720p" || entries[0].Status != "ready" || entries[0].Active {
		t.Errorf("entries = %+v", entries)
	}

	rec = httptest.NewRecorder()
	e.h.CacheEntries(rec, request(http.MethodGet, "/api/cache/entries?status=bogus", ""))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad status filter: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.h.CacheClear(rec, request(http.MethodDelete, "/api/cache", ""))
	var cleared CleanupSummary
	decodeBody(t, rec, &cleared)
	if cleared.FilesDeleted != 1 || len(cleared.Errors) != 0 {
		t.Errorf("clear = %+v", cleared)
	}
	if _, err := os.Stat(entry.FilePath); !os.IsNotExist(err) {
		t.Error("cleared rendition still on disk")
	}
}

func TestCacheCleanup(t *testing.T) {
	e := setupHandlers(t, nil)
	rec := httptest.NewRecorder()
	e.h.CacheCleanup(rec, request(http.MethodPost, "/api/cache/cleanup", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var res CleanupSummary
	decodeBody(t, rec, &res)
	if res.FilesDeleted != 0 || res.Errors == nil {
		t.Errorf("result = %+v", res)
	}
	if last, err := e.db.GetLastCleanup(context.Background()); err != nil || last.IsZero() {
		t.Errorf("last cleanup not recorded: %v %v", last, err)
	}
}

// =============================================================================
// Health and version
// =============================================================================

func TestHealthCheck(t *testing.T) {
	e := setupHandlers(t, nil)

	rec := httptest.NewRecorder()
	e.h.HealthCheck(rec, request(http.MethodGet, "/healthz", ""))
	var resp HealthResponse
	decodeBody(t, rec, &resp)
	if rec.Code != http.StatusOK || resp.Status != statusHealthy || !resp.Transcoding {
		t.Errorf("got %d %+v", rec.Code, resp)
	}

	e.registry.ready = false
	rec = httptest.NewRecorder()
	e.h.HealthCheck(rec, request(http.MethodGet, "/healthz", ""))
	decodeBody(t, rec, &resp)
	if rec.Code != http.StatusServiceUnavailable || resp.Status != statusStarting {
		t.Errorf("starting: got %d %+v", rec.Code, resp)
	}

	e.registry.ready = true
	e.registry.st = registry.Status{Ready: true, LastError: "read media directory: permission denied"}
	rec = httptest.NewRecorder()
	e.h.HealthCheck(rec, request(http.MethodGet, "/healthz", ""))
	decodeBody(t, rec, &resp)
	if resp.Status != statusDegraded {
		t.Errorf("degraded: got %+v", resp)
	}
}

func TestLivenessAndReadiness(t *testing.T) {
	e := setupHandlers(t, nil)

	rec := httptest.NewRecorder()
	e.h.LivenessCheck(rec, request(http.MethodHead, "/livez", ""))
	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Errorf("HEAD livez: %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	e.h.ReadinessCheck(rec, request(http.MethodGet, "/readyz", ""))
	if rec.Code != http.StatusOK {
		t.Errorf("readyz = %d, want 200", rec.Code)
	}

	e.registry.ready = false
	rec = httptest.NewRecorder()
	e.h.ReadinessCheck(rec, request(http.MethodGet, "/readyz", ""))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz = %d, want 503", rec.Code)
	}
}

func TestGetVersion(t *testing.T) {
	e := setupHandlers(t, nil)
	rec := httptest.NewRecorder()
	e.h.GetVersion(rec, request(http.MethodGet, "/version", ""))

	var resp VersionResponse
	decodeBody(t, rec, &resp)
	if resp.Version == "" || resp.GoVersion == "" {
		t.Errorf("missing build info: %+v", resp)
	}
	if !resp.Features["transcoding"] || resp.Features["backup"] {
		t.Errorf("features = %v", resp.Features)
	}
}

func TestMetricsHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, request(http.MethodGet, "/metrics", ""))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Errorf("metrics endpoint: %d", rec.Code)
	}
}
