// Package cachetest provides a conformance suite shared by cache.Index
// implementations.
package cachetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-vault/internal/cache"
)

// Factory returns a fresh, empty index for one subtest.
type Factory func(t *testing.T) cache.Index

// Key returns a deterministic key for tests.
func Key(hash string, q cache.Quality) cache.Key {
	return cache.Key{SourceHash: hash, Quality: q, Format: cache.FormatMP4}
}

// Ready returns a Ready entry for tests.
func Ready(hash string, size uint64, accessed time.Time) *cache.Entry {
	return &cache.Entry{
		Key:            Key(hash, cache.Q720p),
		Status:         cache.StatusReady,
		FilePath:       "/cache/" + hash + ".mp4",
		SizeBytes:      size,
		CreatedAt:      accessed.Add(-time.Hour),
		LastAccessedAt: accessed,
		ExpiresAt:      accessed.Add(24 * time.Hour),
	}
}

// RunIndexTests exercises the behaviour every cache.Index must provide.
func RunIndexTests(t *testing.T, newIndex Factory) {
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("GetMissing", func(t *testing.T) {
		idx := newIndex(t)
		e, err := idx.Get(ctx, Key("nope", cache.Q720p))
		require.NoError(t, err)
		require.Nil(t, e)
	})

	t.Run("PutGetRoundTrip", func(t *testing.T) {
		idx := newIndex(t)
		want := Ready("abc", 1234, base)
		want.ErrorMessage = ""
		require.NoError(t, idx.Put(ctx, want))

		got, err := idx.Get(ctx, want.Key)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Equal(t, want.Key, got.Key)
		require.Equal(t, cache.StatusReady, got.Status)
		require.Equal(t, want.FilePath, got.FilePath)
		require.Equal(t, want.SizeBytes, got.SizeBytes)
		require.True(t, want.CreatedAt.Equal(got.CreatedAt))
		require.True(t, want.LastAccessedAt.Equal(got.LastAccessedAt))
		require.True(t, want.ExpiresAt.Equal(got.ExpiresAt))
	})

	t.Run("PutIsUpsert", func(t *testing.T) {
		idx := newIndex(t)
		e := &cache.Entry{Key: Key("abc", cache.Q720p), Status: cache.StatusPending, CreatedAt: base, LastAccessedAt: base}
		require.NoError(t, idx.Put(ctx, e))

		failed := *e
		failed.Status = cache.StatusFailed
		failed.ErrorMessage = "exit status 1"
		require.NoError(t, idx.Put(ctx, &failed))

		got, err := idx.Get(ctx, e.Key)
		require.NoError(t, err)
		require.Equal(t, cache.StatusFailed, got.Status)
		require.Equal(t, "exit status 1", got.ErrorMessage)

		all, err := idx.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
	})

	t.Run("KeysDifferByQualityAndFormat", func(t *testing.T) {
		idx := newIndex(t)
		a := Ready("abc", 1, base)
		b := Ready("abc", 2, base)
		b.Key.Quality = cache.Q1080p
		c := Ready("abc", 3, base)
		c.Key.Format = cache.FormatWebM
		for _, e := range []*cache.Entry{a, b, c} {
			require.NoError(t, idx.Put(ctx, e))
		}
		all, err := idx.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
	})

	t.Run("RemoveAbsentIsNotError", func(t *testing.T) {
		idx := newIndex(t)
		require.NoError(t, idx.Remove(ctx, Key("ghost", cache.Q480p)))

		e := Ready("abc", 10, base)
		require.NoError(t, idx.Put(ctx, e))
		require.NoError(t, idx.Remove(ctx, e.Key))
		got, err := idx.Get(ctx, e.Key)
		require.NoError(t, err)
		require.Nil(t, got)
	})

	t.Run("Touch", func(t *testing.T) {
		idx := newIndex(t)
		e := Ready("abc", 10, base)
		require.NoError(t, idx.Put(ctx, e))

		later := base.Add(3 * time.Hour)
		require.NoError(t, idx.Touch(ctx, e.Key, later))
		got, err := idx.Get(ctx, e.Key)
		require.NoError(t, err)
		require.True(t, later.Equal(got.LastAccessedAt), "got %v", got.LastAccessedAt)

		require.NoError(t, idx.Touch(ctx, Key("ghost", cache.Q480p), later))
	})

	t.Run("ListExpiredOrdered", func(t *testing.T) {
		idx := newIndex(t)
		now := base.Add(48 * time.Hour)

		old := Ready("old", 1, base)
		old.ExpiresAt = now.Add(-10 * time.Hour)
		older := Ready("older", 1, base)
		older.ExpiresAt = now.Add(-20 * time.Hour)
		fresh := Ready("fresh", 1, base)
		fresh.ExpiresAt = now.Add(time.Hour)
		forever := Ready("forever", 1, base)
		forever.ExpiresAt = time.Time{}

		for _, e := range []*cache.Entry{old, older, fresh, forever} {
			require.NoError(t, idx.Put(ctx, e))
		}

		expired, err := idx.ListExpired(ctx, now)
		require.NoError(t, err)
		require.Len(t, expired, 2)
		require.Equal(t, "older", expired[0].Key.SourceHash)
		require.Equal(t, "old", expired[1].Key.SourceHash)
	})

	t.Run("ListByLeastRecentlyAccessedReadyOnly", func(t *testing.T) {
		idx := newIndex(t)
		a := Ready("a", 1, base.Add(2*time.Hour))
		b := Ready("b", 1, base)
		c := Ready("c", 1, base.Add(time.Hour))
		pending := &cache.Entry{Key: Key("p", cache.Q720p), Status: cache.StatusPending, CreatedAt: base, LastAccessedAt: base.Add(-time.Hour)}
		failed := &cache.Entry{Key: Key("f", cache.Q720p), Status: cache.StatusFailed, CreatedAt: base, LastAccessedAt: base.Add(-time.Hour)}

		for _, e := range []*cache.Entry{a, b, c, pending, failed} {
			require.NoError(t, idx.Put(ctx, e))
		}

		lru, err := idx.ListByLeastRecentlyAccessed(ctx)
		require.NoError(t, err)
		require.Len(t, lru, 3)
		require.Equal(t, "b", lru[0].Key.SourceHash)
		require.Equal(t, "c", lru[1].Key.SourceHash)
		require.Equal(t, "a", lru[2].Key.SourceHash)
	})

	t.Run("TotalSizeCountsReadyOnly", func(t *testing.T) {
		idx := newIndex(t)
		require.NoError(t, idx.Put(ctx, Ready("a", 100, base)))
		require.NoError(t, idx.Put(ctx, Ready("b", 250, base)))
		require.NoError(t, idx.Put(ctx, &cache.Entry{Key: Key("p", cache.Q720p), Status: cache.StatusPending, SizeBytes: 999, CreatedAt: base, LastAccessedAt: base}))

		total, err := idx.TotalSize(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(350), total)
	})

	t.Run("ConcurrentPuts", func(t *testing.T) {
		idx := newIndex(t)
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				e := Ready("same", uint64(i), base)
				assert.NoError(t, idx.Put(ctx, e))
			}(i)
		}
		wg.Wait()

		all, err := idx.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
	})
}
