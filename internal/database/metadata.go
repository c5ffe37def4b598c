package database

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const (
	metaLastScan    = "last_registry_scan"
	metaLastCleanup = "last_cache_cleanup"
)

// GetMetadata retrieves a metadata value by key. It returns sql.ErrNoRows
// when the key doesn't exist.
func (d *Database) GetMetadata(ctx context.Context, key string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var value string
	err := d.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	return value, err
}

// SetMetadata sets a metadata key-value pair.
func (d *Database) SetMetadata(ctx context.Context, key, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func (d *Database) getTime(ctx context.Context, key string) (time.Time, error) {
	value, err := d.GetMetadata(ctx, key)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && value == "") {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, value)
}

// GetLastScan returns when the registry last completed a scan, or the zero
// time if it never has.
func (d *Database) GetLastScan(ctx context.Context) (time.Time, error) {
	return d.getTime(ctx, metaLastScan)
}

// SetLastScan records a completed registry scan.
func (d *Database) SetLastScan(ctx context.Context, t time.Time) error {
	return d.SetMetadata(ctx, metaLastScan, t.UTC().Format(time.RFC3339))
}

// GetLastCleanup returns when the cache was last swept.
func (d *Database) GetLastCleanup(ctx context.Context) (time.Time, error) {
	return d.getTime(ctx, metaLastCleanup)
}

// SetLastCleanup records a completed cache sweep.
func (d *Database) SetLastCleanup(ctx context.Context, t time.Time) error {
	return d.SetMetadata(ctx, metaLastCleanup, t.UTC().Format(time.RFC3339))
}
