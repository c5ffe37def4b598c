package database

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"media-vault/internal/cache"
	"media-vault/internal/cache/cachetest"
)

func setupTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close database: %v", err)
		}
	})
	return db
}

func TestNewCreatesSchema(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for _, table := range []string{"media", "transcode_cache", "metadata"} {
		var name string
		err := db.db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}

	exists, err := db.columnExists(ctx, "transcode_cache", "error_message")
	if err != nil || !exists {
		t.Errorf("error_message column missing after migration: %v", err)
	}
}

func TestReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	db, err := New(ctx, path)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	key := cachetest.Key("persist", cache.Q720p)
	if err := db.Put(ctx, cachetest.Ready("persist", 9, time.Now())); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	_ = db.Close()

	db, err = New(ctx, path)
	if err != nil {
		t.Fatalf("second open failed: %v", err)
	}
	defer db.Close()

	e, err := db.Get(ctx, key)
	if err != nil || e == nil || e.SizeBytes != 9 {
		t.Errorf("entry not persisted: %+v, %v", e, err)
	}
}

func TestNewUnwritableDirectory(t *testing.T) {
	if _, err := New(context.Background(), filepath.Join(t.TempDir(), "missing", "dir", "x.db")); err == nil {
		t.Error("expected error for missing parent directory")
	}
}

func TestCacheIndexConformance(t *testing.T) {
	cachetest.RunIndexTests(t, func(t *testing.T) cache.Index {
		return setupTestDB(t)
	})
}

func TestPutTruncatesErrorMessage(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	e := &cache.Entry{
		Key:          cachetest.Key("big", cache.Q480p),
		Status:       cache.StatusFailed,
		CreatedAt:    time.Now(),
		ErrorMessage: strings.Repeat("x", 10*cache.MaxErrorMessageLen),
	}
	if err := db.Put(ctx, e); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := db.Get(ctx, e.Key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.ErrorMessage) > cache.MaxErrorMessageLen {
		t.Errorf("stored message is %d bytes", len(got.ErrorMessage))
	}
}

func TestMetadataTimes(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if got, err := db.GetLastCleanup(ctx); err != nil || !got.IsZero() {
		t.Errorf("GetLastCleanup on empty db = %v, %v", got, err)
	}

	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := db.SetLastCleanup(ctx, now); err != nil {
		t.Fatalf("SetLastCleanup failed: %v", err)
	}
	if got, err := db.GetLastCleanup(ctx); err != nil || !got.Equal(now) {
		t.Errorf("GetLastCleanup = %v, %v; want %v", got, err, now)
	}

	if err := db.SetLastScan(ctx, now); err != nil {
		t.Fatalf("SetLastScan failed: %v", err)
	}
	if got, _ := db.GetLastScan(ctx); !got.Equal(now) {
		t.Errorf("GetLastScan = %v, want %v", got, now)
	}

	if _, err := db.GetMetadata(ctx, "absent"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("GetMetadata(absent) error = %v, want sql.ErrNoRows", err)
	}
}

func TestUpdateDBMetrics(t *testing.T) {
	db := setupTestDB(t)
	db.UpdateDBMetrics()
	if _, err := os.Stat(db.Path()); err != nil {
		t.Errorf("database file missing: %v", err)
	}
}

func TestRecordQuery(t *testing.T) {
	for _, err := range []error{nil, errors.New("boom")} {
		recordQuery("test_operation", time.Now(), err)
	}
}
