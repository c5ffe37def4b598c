package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"media-vault/internal/cache"
)

// Database implements cache.Index on the transcode_cache table.
var _ cache.Index = (*Database)(nil)

const cacheColumns = `cache_key, source_hash, quality, format, status, file_path, size_bytes,
	created_at, last_accessed_at, expires_at, error_message`

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*cache.Entry, error) {
	var (
		key, hash, quality, format, status, path, errMsg string
		size                                             int64
		created, accessed, expires                       int64
	)
	if err := row.Scan(&key, &hash, &quality, &format, &status, &path, &size, &created, &accessed, &expires, &errMsg); err != nil {
		return nil, err
	}

	q, err := cache.ParseQuality(quality)
	if err != nil {
		return nil, fmt.Errorf("corrupt cache row %s: %w", key, err)
	}
	f, err := cache.ParseFormat(format)
	if err != nil {
		return nil, fmt.Errorf("corrupt cache row %s: %w", key, err)
	}
	s, err := cache.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("corrupt cache row %s: %w", key, err)
	}

	return &cache.Entry{
		Key:            cache.Key{SourceHash: hash, Quality: q, Format: f},
		Status:         s,
		FilePath:       path,
		SizeBytes:      uint64(size),
		CreatedAt:      fromUnixNano(created),
		LastAccessedAt: fromUnixNano(accessed),
		ExpiresAt:      fromUnixNano(expires),
		ErrorMessage:   errMsg,
	}, nil
}

func (d *Database) queryEntries(ctx context.Context, op, query string, args ...any) ([]*cache.Entry, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery(op, start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*cache.Entry
	for rows.Next() {
		var e *cache.Entry
		e, err = scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	err = rows.Err()
	return out, err
}

// Get returns the cache entry for key, or nil when none exists.
func (d *Database) Get(ctx context.Context, key cache.Key) (*cache.Entry, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("cache_get", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	row := d.db.QueryRowContext(ctx, "SELECT "+cacheColumns+" FROM transcode_cache WHERE cache_key = ?", key.String())
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		return nil, nil
	}
	return e, err
}

// Put inserts or replaces the entry for e.Key.
func (d *Database) Put(ctx context.Context, e *cache.Entry) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("cache_put", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, `
	INSERT INTO transcode_cache (`+cacheColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(cache_key) DO UPDATE SET
		status = excluded.status,
		file_path = excluded.file_path,
		size_bytes = excluded.size_bytes,
		created_at = excluded.created_at,
		last_accessed_at = excluded.last_accessed_at,
		expires_at = excluded.expires_at,
		error_message = excluded.error_message
	`,
		e.Key.String(), e.Key.SourceHash, e.Key.Quality.String(), e.Key.Format.String(),
		e.Status.String(), e.FilePath, int64(e.SizeBytes),
		unixNano(e.CreatedAt), unixNano(e.LastAccessedAt), unixNano(e.ExpiresAt),
		cache.TruncateError(e.ErrorMessage),
	)
	return err
}

// Remove deletes the entry for key.
func (d *Database) Remove(ctx context.Context, key cache.Key) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("cache_remove", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, "DELETE FROM transcode_cache WHERE cache_key = ?", key.String())
	return err
}

// Touch updates the last access time of key.
func (d *Database) Touch(ctx context.Context, key cache.Key, at time.Time) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("cache_touch", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, "UPDATE transcode_cache SET last_accessed_at = ? WHERE cache_key = ?", unixNano(at), key.String())
	return err
}

// ListAll returns every cache entry.
func (d *Database) ListAll(ctx context.Context) ([]*cache.Entry, error) {
	return d.queryEntries(ctx, "cache_list", "SELECT "+cacheColumns+" FROM transcode_cache ORDER BY created_at")
}

// ListExpired returns entries whose TTL elapsed before now, oldest expiry first.
func (d *Database) ListExpired(ctx context.Context, now time.Time) ([]*cache.Entry, error) {
	return d.queryEntries(ctx, "cache_list",
		"SELECT "+cacheColumns+" FROM transcode_cache WHERE expires_at != 0 AND expires_at < ? ORDER BY expires_at",
		now.UnixNano())
}

// ListByLeastRecentlyAccessed returns Ready entries, least recently used first.
func (d *Database) ListByLeastRecentlyAccessed(ctx context.Context) ([]*cache.Entry, error) {
	return d.queryEntries(ctx, "cache_list",
		"SELECT "+cacheColumns+" FROM transcode_cache WHERE status = ? ORDER BY last_accessed_at, cache_key",
		cache.StatusReady.String())
}

// TotalSize returns the sum of Ready entry sizes.
func (d *Database) TotalSize(ctx context.Context) (uint64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("cache_total_size", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var total int64
	err = d.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(size_bytes), 0) FROM transcode_cache WHERE status = ?", cache.StatusReady.String(),
	).Scan(&total)
	return uint64(total), err
}
