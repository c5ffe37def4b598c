package eviction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"media-vault/internal/cache"
	"media-vault/internal/cacheindex"
)

const gb = uint64(1 << 30)

type activeSet map[string]bool

func (a activeSet) IsActive(k cache.Key) bool { return a[k.String()] }

type fixture struct {
	idx *cacheindex.Memory
	fs  afero.Fs
	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		idx: cacheindex.NewMemory(),
		fs:  afero.NewMemMapFs(),
		now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) manager(active ActiveChecker, cfg Config) *Manager {
	m := New(f.idx, active, cfg)
	m.SetFs(f.fs)
	m.now = func() time.Time { return f.now }
	return m
}

// add seeds an entry and, for non-Pending entries, its file.
func (f *fixture) add(t *testing.T, hash string, status cache.Status, size uint64, accessed, expires time.Time) *cache.Entry {
	t.Helper()
	e := &cache.Entry{
		Key:            cache.Key{SourceHash: hash, Quality: cache.Q720p, Format: cache.FormatMP4},
		Status:         status,
		FilePath:       "/cache/" + hash + "_720p.mp4",
		SizeBytes:      size,
		CreatedAt:      accessed.Add(-time.Minute),
		LastAccessedAt: accessed,
		ExpiresAt:      expires,
	}
	if status == cache.StatusReady {
		require.NoError(t, afero.WriteFile(f.fs, e.FilePath, []byte(hash), 0o644))
	}
	require.NoError(t, f.idx.Put(context.Background(), e))
	return e
}

func (f *fixture) exists(t *testing.T, path string) bool {
	t.Helper()
	ok, err := afero.Exists(f.fs, path)
	require.NoError(t, err)
	return ok
}

func (f *fixture) get(t *testing.T, e *cache.Entry) *cache.Entry {
	t.Helper()
	got, err := f.idx.Get(context.Background(), e.Key)
	require.NoError(t, err)
	return got
}

func TestExpiredEntriesRemoved(t *testing.T) {
	f := newFixture(t)
	created := f.now.Add(-25 * time.Hour)
	expired := f.add(t, "old", cache.StatusReady, 500, created, created.Add(24*time.Hour))
	fresh := f.add(t, "new", cache.StatusReady, 700, f.now, f.now.Add(24*time.Hour))
	never := f.add(t, "forever", cache.StatusReady, 900, created, time.Time{})

	listed, err := f.idx.ListExpired(context.Background(), f.now)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	res := f.manager(nil, Config{}).RunCleanup(context.Background())
	require.Empty(t, res.Errors)
	require.Equal(t, 1, res.FilesDeleted)
	require.Equal(t, uint64(500), res.BytesFreed)
	require.Equal(t, uint64(1600), res.SizeAfter)

	require.Nil(t, f.get(t, expired))
	require.False(t, f.exists(t, expired.FilePath))
	require.NotNil(t, f.get(t, fresh))
	require.NotNil(t, f.get(t, never))
	require.True(t, f.exists(t, fresh.FilePath))
}

func TestExpiredFailedEntriesRemoved(t *testing.T) {
	f := newFixture(t)
	e := f.add(t, "broken", cache.StatusFailed, 0, f.now.Add(-48*time.Hour), f.now.Add(-time.Hour))

	res := f.manager(nil, Config{}).RunCleanup(context.Background())
	require.Empty(t, res.Errors)
	require.Equal(t, 1, res.FilesDeleted)
	require.Zero(t, res.BytesFreed)
	require.Nil(t, f.get(t, e))
}

func TestQuotaEvictsLeastRecentlyAccessed(t *testing.T) {
	f := newFixture(t)
	far := f.now.Add(240 * time.Hour)
	sizes := []uint64{3 * gb / 2, gb, 3 * gb, 3 * gb, 7 * gb / 2}
	var entries []*cache.Entry
	for i, size := range sizes {
		accessed := f.now.Add(time.Duration(i-10) * time.Hour)
		entries = append(entries, f.add(t, string(rune('a'+i))+"hash", cache.StatusReady, size, accessed, far))
	}
	pending := f.add(t, "inflight", cache.StatusPending, 50*gb, f.now.Add(-20*time.Hour), time.Time{})

	total, err := f.idx.TotalSize(context.Background())
	require.NoError(t, err)
	require.Equal(t, 12*gb, total)

	res := f.manager(nil, Config{MaxSizeBytes: 10 * gb}).RunCleanup(context.Background())
	require.Empty(t, res.Errors)
	require.Equal(t, 2, res.FilesDeleted)
	require.GreaterOrEqual(t, res.BytesFreed, 2*gb)
	require.LessOrEqual(t, res.SizeAfter, 10*gb)

	require.Nil(t, f.get(t, entries[0]))
	require.Nil(t, f.get(t, entries[1]))
	for _, e := range entries[2:] {
		require.NotNil(t, f.get(t, e))
	}
	require.NotNil(t, f.get(t, pending))
}

func TestQuotaSkipsActiveKeys(t *testing.T) {
	f := newFixture(t)
	far := f.now.Add(240 * time.Hour)
	oldest := f.add(t, "oldest", cache.StatusReady, 6*gb, f.now.Add(-3*time.Hour), far)
	middle := f.add(t, "middle", cache.StatusReady, 6*gb, f.now.Add(-2*time.Hour), far)

	active := activeSet{oldest.Key.String(): true}
	res := f.manager(active, Config{MaxSizeBytes: 10 * gb}).RunCleanup(context.Background())
	require.Empty(t, res.Errors)
	require.Equal(t, 1, res.FilesDeleted)
	require.NotNil(t, f.get(t, oldest))
	require.Nil(t, f.get(t, middle))
}

func TestMissingFilesTolerated(t *testing.T) {
	f := newFixture(t)
	e := f.add(t, "gone", cache.StatusReady, 10, f.now.Add(-48*time.Hour), f.now.Add(-time.Hour))
	require.NoError(t, f.fs.Remove(e.FilePath))

	res := f.manager(nil, Config{}).RunCleanup(context.Background())
	require.Empty(t, res.Errors)
	require.Equal(t, 1, res.FilesDeleted)
	require.Nil(t, f.get(t, e))
}

func TestRemoveErrorsAreCollected(t *testing.T) {
	f := newFixture(t)
	a := f.add(t, "one", cache.StatusReady, 10, f.now.Add(-48*time.Hour), f.now.Add(-2*time.Hour))
	b := f.add(t, "two", cache.StatusReady, 20, f.now.Add(-48*time.Hour), f.now.Add(-time.Hour))

	m := f.manager(nil, Config{})
	m.SetFs(afero.NewReadOnlyFs(f.fs))
	res := m.RunCleanup(context.Background())

	require.Len(t, res.Errors, 2)
	require.Zero(t, res.FilesDeleted)
	var evErr *EvictionError
	require.True(t, errors.As(res.Errors[0], &evErr))
	require.Equal(t, a.Key.String(), evErr.Key)
	require.Equal(t, a.FilePath, evErr.Path)
	require.Error(t, res.Err())
	require.Len(t, res.ErrorStrings(), 2)

	// Records stay so the next run retries them.
	require.NotNil(t, f.get(t, a))
	require.NotNil(t, f.get(t, b))
}

func TestOrphanedPendingRemoved(t *testing.T) {
	f := newFixture(t)
	orphan := f.add(t, "orphan", cache.StatusPending, 0, f.now.Add(-2*time.Hour), time.Time{})
	require.NoError(t, afero.WriteFile(f.fs, cache.PartialPath(orphan.FilePath), []byte("half"), 0o644))
	running := f.add(t, "running", cache.StatusPending, 0, f.now.Add(-2*time.Hour), time.Time{})
	recent := f.add(t, "recent", cache.StatusPending, 0, f.now.Add(-time.Minute), time.Time{})

	active := activeSet{running.Key.String(): true}
	res := f.manager(active, Config{JobTimeout: time.Hour}).RunCleanup(context.Background())
	require.Empty(t, res.Errors)
	require.Equal(t, 1, res.FilesDeleted)

	require.Nil(t, f.get(t, orphan))
	require.False(t, f.exists(t, cache.PartialPath(orphan.FilePath)))
	require.NotNil(t, f.get(t, running))
	require.NotNil(t, f.get(t, recent))
}

// replacingIndex rewrites a key with a fresh Pending record right after
// listing expired entries, as a job started in between would.
type replacingIndex struct {
	*cacheindex.Memory
	fresh *cache.Entry
}

func (r *replacingIndex) ListExpired(ctx context.Context, now time.Time) ([]*cache.Entry, error) {
	out, err := r.Memory.ListExpired(ctx, now)
	if err != nil {
		return nil, err
	}
	return out, r.Memory.Put(ctx, r.fresh)
}

func TestRecordReplacedAfterListingIsKept(t *testing.T) {
	f := newFixture(t)
	old := f.add(t, "reused", cache.StatusReady, 9, f.now.Add(-48*time.Hour), f.now.Add(-time.Hour))

	fresh := &cache.Entry{
		Key:            old.Key,
		Status:         cache.StatusPending,
		FilePath:       old.FilePath,
		CreatedAt:      f.now,
		LastAccessedAt: f.now,
	}
	m := New(&replacingIndex{Memory: f.idx, fresh: fresh}, nil, Config{JobTimeout: time.Hour})
	m.SetFs(f.fs)
	m.now = func() time.Time { return f.now }

	res := m.RunCleanup(context.Background())
	require.Empty(t, res.Errors)
	require.Zero(t, res.FilesDeleted)

	got := f.get(t, old)
	require.NotNil(t, got)
	require.Equal(t, cache.StatusPending, got.Status)
	require.True(t, got.CreatedAt.Equal(f.now))
	require.True(t, f.exists(t, old.FilePath))
}

func TestOrphanRestampedAfterListingIsKept(t *testing.T) {
	f := newFixture(t)
	stale := f.add(t, "slow", cache.StatusPending, 0, f.now.Add(-2*time.Hour), time.Time{})
	require.NoError(t, afero.WriteFile(f.fs, cache.PartialPath(stale.FilePath), []byte("half"), 0o644))

	restamped := *stale
	restamped.LastAccessedAt = f.now
	idx := &restampingIndex{Memory: f.idx, entry: &restamped}
	m := New(idx, nil, Config{JobTimeout: time.Hour})
	m.SetFs(f.fs)
	m.now = func() time.Time { return f.now }

	res := m.RunCleanup(context.Background())
	require.Empty(t, res.Errors)
	require.Zero(t, res.FilesDeleted)
	require.True(t, f.exists(t, cache.PartialPath(stale.FilePath)))
	require.NotNil(t, f.get(t, stale))
}

// restampingIndex rewrites entry after the first ListAll, as a queued job
// leaving the queue would.
type restampingIndex struct {
	*cacheindex.Memory
	entry *cache.Entry
	done  bool
}

func (r *restampingIndex) ListAll(ctx context.Context) ([]*cache.Entry, error) {
	out, err := r.Memory.ListAll(ctx)
	if err != nil || r.done {
		return out, err
	}
	r.done = true
	return out, r.Memory.Put(ctx, r.entry)
}

func TestStrayFilesRemoved(t *testing.T) {
	f := newFixture(t)
	known := f.add(t, "known", cache.StatusReady, 5, f.now, f.now.Add(time.Hour))

	old := f.now.Add(-3 * time.Hour)
	require.NoError(t, afero.WriteFile(f.fs, "/cache/ab/stray.mp4", []byte("x"), 0o644))
	require.NoError(t, f.fs.Chtimes("/cache/ab/stray.mp4", old, old))
	require.NoError(t, f.fs.Chtimes(known.FilePath, old, old))
	require.NoError(t, afero.WriteFile(f.fs, "/cache/ab/young.mp4", []byte("x"), 0o644))
	require.NoError(t, f.fs.Chtimes("/cache/ab/young.mp4", f.now, f.now))

	res := f.manager(nil, Config{Root: "/cache", JobTimeout: time.Hour}).RunCleanup(context.Background())
	require.Empty(t, res.Errors)
	require.Equal(t, 1, res.FilesDeleted)
	require.False(t, f.exists(t, "/cache/ab/stray.mp4"))
	require.True(t, f.exists(t, "/cache/ab/young.mp4"))
	require.True(t, f.exists(t, known.FilePath))
}

func TestCleanupIsIdempotent(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 10; i++ {
		f.add(t, string(rune('a'+i))+"x", cache.StatusReady, 1, f.now.Add(-48*time.Hour), f.now.Add(-time.Hour))
	}

	m := f.manager(nil, Config{})
	results := make([]Result, 4)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.RunCleanup(context.Background())
		}(i)
	}
	wg.Wait()

	deleted := 0
	for _, r := range results {
		require.Empty(t, r.Errors)
		deleted += r.FilesDeleted
	}
	require.Equal(t, 10, deleted)

	again := m.RunCleanup(context.Background())
	require.Zero(t, again.FilesDeleted)
}

func TestClear(t *testing.T) {
	f := newFixture(t)
	far := f.now.Add(time.Hour)
	a := f.add(t, "a", cache.StatusReady, 10, f.now, far)
	b := f.add(t, "b", cache.StatusReady, 20, f.now, far)
	p := f.add(t, "p", cache.StatusPending, 0, f.now, time.Time{})

	res := f.manager(activeSet{b.Key.String(): true}, Config{}).Clear(context.Background())
	require.Empty(t, res.Errors)
	require.Equal(t, 1, res.FilesDeleted)
	require.Equal(t, uint64(10), res.BytesFreed)
	require.Nil(t, f.get(t, a))
	require.NotNil(t, f.get(t, b))
	require.NotNil(t, f.get(t, p))
}

func TestCanceledContextStopsSweep(t *testing.T) {
	f := newFixture(t)
	f.add(t, "x", cache.StatusReady, 1, f.now.Add(-48*time.Hour), f.now.Add(-time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := f.manager(nil, Config{}).RunCleanup(ctx)
	require.NotEmpty(t, res.Errors)
	require.ErrorIs(t, res.Err(), context.Canceled)
}
