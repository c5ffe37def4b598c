package eviction

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"media-vault/internal/cache"
	"media-vault/internal/logging"
	"media-vault/internal/metrics"
)

// ActiveChecker reports whether a key is owned by an in-flight job.
type ActiveChecker interface {
	IsActive(key cache.Key) bool
}

// EvictionError reports a per-entry failure during cleanup.
type EvictionError struct {
	Key  string
	Path string
	Err  error
}

func (e *EvictionError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("evict %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("evict %s (%s): %v", e.Key, e.Path, e.Err)
}

func (e *EvictionError) Unwrap() error { return e.Err }

// Config configures a Manager.
type Config struct {
	// Root is the cache directory. When set, files under it that no index
	// entry references are removed once older than JobTimeout.
	Root string
	// MaxSizeBytes is the quota for Ready entries. Zero disables it.
	MaxSizeBytes uint64
	// JobTimeout is the age after which a Pending entry with no job is
	// considered orphaned.
	JobTimeout time.Duration
}

// Result summarizes one cleanup run.
type Result struct {
	FilesDeleted int           `json:"filesDeleted"`
	BytesFreed   uint64        `json:"bytesFreed"`
	SizeAfter    uint64        `json:"sizeAfterBytes"`
	Errors       []error       `json:"-"`
	Duration     time.Duration `json:"duration"`
}

// Err joins the per-file errors, or returns nil.
func (r Result) Err() error {
	return errors.Join(r.Errors...)
}

// ErrorStrings returns the per-file errors as text.
func (r Result) ErrorStrings() []string {
	out := make([]string, 0, len(r.Errors))
	for _, err := range r.Errors {
		out = append(out, err.Error())
	}
	return out
}

// Manager runs cache cleanups. Concurrent calls are serialized.
type Manager struct {
	index  cache.Index
	active ActiveChecker
	cfg    Config
	fs     afero.Fs
	now    func() time.Time

	mu sync.Mutex
}

// New creates a Manager operating on the OS filesystem. active may be nil
// when no coordinator is running (for example from the admin CLI).
func New(index cache.Index, active ActiveChecker, cfg Config) *Manager {
	return &Manager{
		index:  index,
		active: active,
		cfg:    cfg,
		fs:     afero.NewOsFs(),
		now:    time.Now,
	}
}

// SetFs replaces the filesystem used for deletions.
func (m *Manager) SetFs(fs afero.Fs) {
	m.fs = fs
}

func (m *Manager) isActive(key cache.Key) bool {
	return m.active != nil && m.active.IsActive(key)
}

// RunCleanup performs an administrator-triggered cleanup.
func (m *Manager) RunCleanup(ctx context.Context) Result {
	return m.run(ctx, "manual")
}

func (m *Manager) run(ctx context.Context, trigger string) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	var res Result
	metrics.EvictionRunsTotal.WithLabelValues(trigger).Inc()

	m.removeExpired(ctx, &res)
	m.removeOrphans(ctx, &res)
	m.enforceQuota(ctx, &res)
	m.removeStrays(ctx, &res)

	if size, err := m.index.TotalSize(ctx); err == nil {
		res.SizeAfter = size
		metrics.CacheSizeBytes.Set(float64(size))
	}

	res.Duration = time.Since(start)
	metrics.EvictionDuration.Observe(res.Duration.Seconds())
	metrics.EvictionErrors.Add(float64(len(res.Errors)))

	if res.FilesDeleted > 0 || len(res.Errors) > 0 {
		logging.Info("Cache cleanup (%s): deleted %d files, freed %d bytes, %d errors in %v",
			trigger, res.FilesDeleted, res.BytesFreed, len(res.Errors), res.Duration)
	} else {
		logging.Debug("Cache cleanup (%s): nothing to do", trigger)
	}
	return res
}

func (m *Manager) removeExpired(ctx context.Context, res *Result) {
	expired, err := m.index.ListExpired(ctx, m.now())
	if err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("list expired entries: %w", err))
		return
	}
	for _, e := range expired {
		if ctx.Err() != nil {
			res.Errors = append(res.Errors, ctx.Err())
			return
		}
		if e.Status == cache.StatusPending || m.isActive(e.Key) {
			continue
		}
		m.evict(ctx, e, "expired", res)
	}
}

func (m *Manager) removeOrphans(ctx context.Context, res *Result) {
	if m.cfg.JobTimeout <= 0 {
		return
	}
	all, err := m.index.ListAll(ctx)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("list entries: %w", err))
		return
	}
	now := m.now()
	for _, e := range all {
		if ctx.Err() != nil {
			res.Errors = append(res.Errors, ctx.Err())
			return
		}
		if !e.IsOrphaned(now, m.cfg.JobTimeout) || m.isActive(e.Key) {
			continue
		}
		var partial []string
		if e.FilePath != "" {
			partial = append(partial, cache.PartialPath(e.FilePath))
		}
		m.evict(ctx, e, "orphaned", res, partial...)
	}
}

func (m *Manager) enforceQuota(ctx context.Context, res *Result) {
	if m.cfg.MaxSizeBytes == 0 {
		return
	}
	total, err := m.index.TotalSize(ctx)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("compute cache size: %w", err))
		return
	}
	if total <= m.cfg.MaxSizeBytes {
		return
	}

	candidates, err := m.index.ListByLeastRecentlyAccessed(ctx)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("list entries by access: %w", err))
		return
	}
	for _, e := range candidates {
		if total <= m.cfg.MaxSizeBytes {
			return
		}
		if ctx.Err() != nil {
			res.Errors = append(res.Errors, ctx.Err())
			return
		}
		if e.Status != cache.StatusReady || m.isActive(e.Key) {
			continue
		}
		if m.evict(ctx, e, "quota", res) {
			total -= min(total, e.SizeBytes)
		}
	}
	if total > m.cfg.MaxSizeBytes {
		logging.Warn("Cache still over quota after cleanup: %d > %d bytes", total, m.cfg.MaxSizeBytes)
	}
}

// evict deletes the entry's file, any extra files and the index record. It
// does nothing when the record was rewritten since e was listed, since the
// key may now belong to a new job. The record is kept when the file could
// not be removed so the next run retries it.
func (m *Manager) evict(ctx context.Context, e *cache.Entry, reason string, res *Result, extra ...string) bool {
	key := e.Key.String()
	current, err := m.index.Get(ctx, e.Key)
	if err != nil {
		res.Errors = append(res.Errors, &EvictionError{Key: key, Path: e.FilePath, Err: err})
		return false
	}
	if !e.SameRecord(current) {
		logging.Debug("Skipping eviction of %s: entry changed since it was listed", key)
		return false
	}

	for _, path := range extra {
		m.removeFile(path, key, res)
	}
	if e.FilePath != "" {
		if err := m.fs.Remove(e.FilePath); err != nil && !os.IsNotExist(err) {
			res.Errors = append(res.Errors, &EvictionError{Key: key, Path: e.FilePath, Err: err})
			logging.Warn("Failed to delete cache file %s: %v", e.FilePath, err)
			return false
		}
	}
	if err := m.index.Remove(ctx, e.Key); err != nil {
		res.Errors = append(res.Errors, &EvictionError{Key: key, Path: e.FilePath, Err: err})
		return false
	}

	res.FilesDeleted++
	metrics.EvictionFilesDeleted.WithLabelValues(reason).Inc()
	if e.Status == cache.StatusReady {
		res.BytesFreed += e.SizeBytes
		metrics.EvictionBytesFreed.Add(float64(e.SizeBytes))
	}
	logging.Debug("Evicted %s (%s)", key, reason)
	return true
}

func (m *Manager) removeFile(path, key string, res *Result) {
	if err := m.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		res.Errors = append(res.Errors, &EvictionError{Key: key, Path: path, Err: err})
	}
}

// removeStrays deletes files under Root that no index entry references,
// such as leftovers from a crash between rename and index write.
func (m *Manager) removeStrays(ctx context.Context, res *Result) {
	if m.cfg.Root == "" || m.cfg.JobTimeout <= 0 {
		return
	}
	all, err := m.index.ListAll(ctx)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("list entries: %w", err))
		return
	}
	known := make(map[string]bool, len(all)*2)
	for _, e := range all {
		if e.FilePath == "" {
			continue
		}
		known[filepath.Clean(e.FilePath)] = true
		known[filepath.Clean(cache.PartialPath(e.FilePath))] = true
	}

	cutoff := m.now().Add(-m.cfg.JobTimeout)
	walkErr := afero.Walk(m.fs, m.cfg.Root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if info.IsDir() || known[filepath.Clean(path)] || info.ModTime().After(cutoff) {
			return nil
		}
		if strings.HasPrefix(info.Name(), ".") {
			return nil
		}
		if err := m.fs.Remove(path); err != nil && !os.IsNotExist(err) {
			res.Errors = append(res.Errors, &EvictionError{Path: path, Err: err})
			return nil
		}
		res.FilesDeleted++
		metrics.EvictionFilesDeleted.WithLabelValues("orphaned").Inc()
		logging.Debug("Removed stray cache file %s", path)
		return nil
	})
	if walkErr != nil {
		res.Errors = append(res.Errors, fmt.Errorf("walk cache dir: %w", walkErr))
	}
}

// Clear removes every entry not owned by an in-flight job, regardless of
// age or quota.
func (m *Manager) Clear(ctx context.Context) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	var res Result
	all, err := m.index.ListAll(ctx)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("list entries: %w", err))
		return res
	}
	for _, e := range all {
		if e.Status == cache.StatusPending || m.isActive(e.Key) {
			continue
		}
		m.evict(ctx, e, "manual", &res)
	}
	res.Duration = time.Since(start)
	if size, err := m.index.TotalSize(ctx); err == nil {
		res.SizeAfter = size
		metrics.CacheSizeBytes.Set(float64(size))
	}
	logging.Info("Cache cleared: deleted %d files, freed %d bytes", res.FilesDeleted, res.BytesFreed)
	return res
}
