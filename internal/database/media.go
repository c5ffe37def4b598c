package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"media-vault/internal/cache"
)

// ErrSourceNotFound is returned when a media id is not registered.
var ErrSourceNotFound = errors.New("media not found")

// BeginBatch starts a transaction for registry scans. The caller must end
// it with EndBatch.
func (d *Database) BeginBatch(ctx context.Context) (*sql.Tx, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.BeginTx(ctx, nil)
}

// EndBatch commits tx, or rolls it back when err is non-nil.
func (d *Database) EndBatch(tx *sql.Tx, err error) error {
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
		}
		return err
	}
	return tx.Commit()
}

// UpsertMedia inserts or updates a media row and stamps it with scanID.
func (d *Database) UpsertMedia(ctx context.Context, tx *sql.Tx, m *MediaFile, scanID int64) error {
	start := time.Now()
	_, err := tx.ExecContext(ctx, `
	INSERT INTO media (id, path, rel_path, name, kind, mime_type, size, mod_time, content_hash, scan_id, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, strftime('%s', 'now'))
	ON CONFLICT(id) DO UPDATE SET
		path = excluded.path,
		rel_path = excluded.rel_path,
		name = excluded.name,
		kind = excluded.kind,
		mime_type = excluded.mime_type,
		size = excluded.size,
		mod_time = excluded.mod_time,
		content_hash = excluded.content_hash,
		scan_id = excluded.scan_id,
		updated_at = CASE
			WHEN media.content_hash != excluded.content_hash THEN strftime('%s', 'now')
			ELSE media.updated_at
		END
	`, m.ID, m.Path, m.RelPath, m.Name, string(m.Kind), m.MimeType, m.Size, m.ModTime.UnixNano(), m.ContentHash, scanID)
	recordQuery("media_upsert", start, err)
	return err
}

// DeleteUnseen removes media rows that were not stamped by scanID.
func (d *Database) DeleteUnseen(ctx context.Context, tx *sql.Tx, scanID int64) (int64, error) {
	start := time.Now()
	result, err := tx.ExecContext(ctx, "DELETE FROM media WHERE scan_id != ?", scanID)
	recordQuery("media_delete_unseen", start, err)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// GetMedia returns the media row for id.
func (d *Database) GetMedia(ctx context.Context, id string) (*MediaFile, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("media_resolve", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var m MediaFile
	var kind string
	var mime sql.NullString
	var modTime int64
	err = d.db.QueryRowContext(ctx, `
	SELECT id, path, rel_path, name, kind, mime_type, size, mod_time, content_hash
	FROM media WHERE id = ?`, id).Scan(
		&m.ID, &m.Path, &m.RelPath, &m.Name, &kind, &mime, &m.Size, &modTime, &m.ContentHash,
	)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	m.Kind = MediaKind(kind)
	m.MimeType = mime.String
	m.ModTime = time.Unix(0, modTime)
	return &m, nil
}

// ResolveSource maps a media id to the file path and content identity the
// transcode cache is keyed on.
func (d *Database) ResolveSource(ctx context.Context, mediaID string) (*cache.Source, error) {
	m, err := d.GetMedia(ctx, mediaID)
	if err != nil {
		return nil, err
	}
	return &cache.Source{MediaID: m.ID, Path: m.Path, ContentHash: m.ContentHash}, nil
}

// ListMedia returns registered media of the given kind, or every kind when
// kind is empty, ordered by relative path.
func (d *Database) ListMedia(ctx context.Context, kind MediaKind, limit int) ([]MediaFile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 1000
	}

	rows, err := d.db.QueryContext(ctx, `
	SELECT id, path, rel_path, name, kind, COALESCE(mime_type, ''), size, mod_time, content_hash
	FROM media WHERE (? = '' OR kind = ?) ORDER BY rel_path LIMIT ?`, string(kind), string(kind), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MediaFile
	for rows.Next() {
		var m MediaFile
		var k string
		var modTime int64
		if err := rows.Scan(&m.ID, &m.Path, &m.RelPath, &m.Name, &k, &m.MimeType, &m.Size, &modTime, &m.ContentHash); err != nil {
			return nil, err
		}
		m.Kind = MediaKind(k)
		m.ModTime = time.Unix(0, modTime)
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountByKind returns the number of registered media files per kind.
func (d *Database) CountByKind(ctx context.Context) (map[string]int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, "SELECT kind, COUNT(*) FROM media GROUP BY kind")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}
