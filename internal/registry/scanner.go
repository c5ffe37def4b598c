package registry

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"

	"media-vault/internal/cache"
	"media-vault/internal/database"
	"media-vault/internal/logging"
	"media-vault/internal/mediatypes"
	"media-vault/internal/metrics"
)

// ErrScanInProgress is returned by Scan when another scan is running.
var ErrScanInProgress = errors.New("scan already in progress")

// Result summarizes one scan.
type Result struct {
	Files    int           `json:"files"`
	Removed  int64         `json:"removed"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

// Status is the scanner state reported by health endpoints.
type Status struct {
	Ready     bool      `json:"ready"`
	Scanning  bool      `json:"scanning"`
	LastScan  time.Time `json:"lastScan,omitempty"`
	LastError string    `json:"lastError,omitempty"`
	Files     int       `json:"files"`
}

// Scanner indexes the media directory into the database.
type Scanner struct {
	db       *database.Database
	mediaDir string
	interval time.Duration
	workers  int

	mu       sync.Mutex
	scanning bool
	scanned  bool
	lastScan time.Time
	lastErr  error
	files    int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Scanner. interval <= 0 disables periodic rescans.
func New(db *database.Database, mediaDir string, interval time.Duration, workers int) *Scanner {
	if workers < 1 {
		workers = 1
	}
	return &Scanner{
		db:       db,
		mediaDir: mediaDir,
		interval: interval,
		workers:  workers,
		stopCh:   make(chan struct{}),
	}
}

// MediaID returns the stable id of a file given its path relative to the
// media directory.
func MediaID(relPath string) string {
	sum := blake2b.Sum256([]byte(filepath.ToSlash(relPath)))
	return hex.EncodeToString(sum[:16])
}

// Start runs an initial scan in the background and then rescans every
// interval until Stop or ctx cancellation.
func (s *Scanner) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-s.stopCh:
				cancel()
			case <-ctx.Done():
			}
		}()

		s.scanAndLog(ctx)
		if s.interval <= 0 {
			return
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.scanAndLog(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *Scanner) scanAndLog(ctx context.Context) {
	res, err := s.Scan(ctx)
	switch {
	case errors.Is(err, ErrScanInProgress):
		logging.Debug("Skipping scheduled scan: %v", err)
	case err != nil:
		if ctx.Err() == nil {
			logging.Error("Media scan failed: %v", err)
		}
	default:
		logging.Info("Media scan complete: %d files, %d removed, %d skipped in %v",
			res.Files, res.Removed, res.Skipped, res.Duration)
	}
}

// Stop ends periodic scanning and waits for a running scan to return.
func (s *Scanner) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Status returns the scanner state.
func (s *Scanner) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Ready:    s.scanned,
		Scanning: s.scanning,
		LastScan: s.lastScan,
		Files:    s.files,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// IsReady reports whether at least one scan has completed.
func (s *Scanner) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanned
}

func (s *Scanner) tryStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanning {
		return false
	}
	s.scanning = true
	return true
}

func (s *Scanner) finish(files int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanning = false
	s.lastErr = err
	if err == nil {
		s.scanned = true
		s.lastScan = time.Now()
		s.files = files
	}
}

// Scan walks the media directory once and synchronizes the media table.
func (s *Scanner) Scan(ctx context.Context) (res Result, err error) {
	if !s.tryStart() {
		return Result{}, ErrScanInProgress
	}
	start := time.Now()
	metrics.RegistryScanRunning.Set(1)
	defer func() {
		metrics.RegistryScanRunning.Set(0)
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.RegistryScansTotal.WithLabelValues(status).Inc()
		res.Duration = time.Since(start)
		metrics.RegistryLastScanDuration.Set(res.Duration.Seconds())
		s.finish(res.Files, err)
	}()

	files, skipped, err := s.collect(ctx)
	if err != nil {
		return Result{}, err
	}
	res.Skipped = skipped

	scanID := start.UnixNano()
	tx, err := s.db.BeginBatch(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("begin scan batch: %w", err)
	}
	for i := range files {
		if err = s.db.UpsertMedia(ctx, tx, &files[i], scanID); err != nil {
			return Result{}, s.db.EndBatch(tx, fmt.Errorf("upsert %s: %w", files[i].RelPath, err))
		}
	}
	removed, err := s.db.DeleteUnseen(ctx, tx, scanID)
	if err != nil {
		return Result{}, s.db.EndBatch(tx, fmt.Errorf("delete unseen media: %w", err))
	}
	if err = s.db.EndBatch(tx, nil); err != nil {
		return Result{}, fmt.Errorf("commit scan: %w", err)
	}

	res.Files = len(files)
	res.Removed = removed

	if err := s.db.SetLastScan(ctx, time.Now()); err != nil {
		logging.Warn("Failed to record scan time: %v", err)
	}
	metrics.RegistryLastScanTimestamp.Set(float64(time.Now().Unix()))
	if counts, err := s.db.CountByKind(ctx); err == nil {
		for _, kind := range []database.MediaKind{database.KindVideo, database.KindAudio, database.KindImage, database.KindDocument} {
			metrics.MediaFilesTotal.WithLabelValues(string(kind)).Set(float64(counts[string(kind)]))
		}
	}
	return res, nil
}

// collect walks top-level directories in parallel.
func (s *Scanner) collect(ctx context.Context) ([]database.MediaFile, int, error) {
	entries, err := os.ReadDir(s.mediaDir)
	if err != nil {
		return nil, 0, fmt.Errorf("read media directory: %w", err)
	}

	var (
		mu      sync.Mutex
		files   []database.MediaFile
		skipped int
	)
	add := func(batch []database.MediaFile, skip int) {
		mu.Lock()
		files = append(files, batch...)
		skipped += skip
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, entry := range entries {
		if isHidden(entry.Name()) {
			continue
		}
		root := filepath.Join(s.mediaDir, entry.Name())
		g.Go(func() error {
			batch, skip, err := s.walk(gctx, root)
			if err != nil {
				return err
			}
			add(batch, skip)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return files, skipped, nil
}

func (s *Scanner) walk(ctx context.Context, root string) ([]database.MediaFile, int, error) {
	var (
		out     []database.MediaFile
		skipped int
	)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			logging.Warn("Error accessing path %s: %v", path, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if isHidden(d.Name()) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		kind, mime, ok := mediatypes.Classify(d.Name())
		if !ok {
			skipped++
			return nil
		}
		info, err := d.Info()
		if err != nil {
			logging.Warn("Failed to stat %s: %v", path, err)
			return nil
		}
		rel, err := filepath.Rel(s.mediaDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		out = append(out, database.MediaFile{
			ID:          MediaID(rel),
			Path:        path,
			RelPath:     rel,
			Name:        d.Name(),
			Kind:        kind,
			MimeType:    mime,
			Size:        info.Size(),
			ModTime:     info.ModTime(),
			ContentHash: cache.ContentHash(path, info.Size(), info.ModTime()),
		})
		return nil
	})
	return out, skipped, err
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
