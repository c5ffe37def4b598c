package cacheindex

import (
	"sort"
	"time"

	"media-vault/internal/cache"
)

// record is the stored JSON form of a cache.Entry.
type record struct {
	SourceHash     string    `json:"sourceHash"`
	Quality        string    `json:"quality"`
	Format         string    `json:"format"`
	Status         string    `json:"status"`
	FilePath       string    `json:"filePath,omitempty"`
	SizeBytes      uint64    `json:"sizeBytes"`
	CreatedAt      time.Time `json:"createdAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
	ExpiresAt      time.Time `json:"expiresAt,omitempty"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
}

func toRecord(e *cache.Entry) record {
	return record{
		SourceHash:     e.Key.SourceHash,
		Quality:        e.Key.Quality.String(),
		Format:         e.Key.Format.String(),
		Status:         e.Status.String(),
		FilePath:       e.FilePath,
		SizeBytes:      e.SizeBytes,
		CreatedAt:      e.CreatedAt,
		LastAccessedAt: e.LastAccessedAt,
		ExpiresAt:      e.ExpiresAt,
		ErrorMessage:   cache.TruncateError(e.ErrorMessage),
	}
}

func (r record) entry() (*cache.Entry, error) {
	q, err := cache.ParseQuality(r.Quality)
	if err != nil {
		return nil, err
	}
	f, err := cache.ParseFormat(r.Format)
	if err != nil {
		return nil, err
	}
	s, err := cache.ParseStatus(r.Status)
	if err != nil {
		return nil, err
	}
	return &cache.Entry{
		Key:            cache.Key{SourceHash: r.SourceHash, Quality: q, Format: f},
		Status:         s,
		FilePath:       r.FilePath,
		SizeBytes:      r.SizeBytes,
		CreatedAt:      r.CreatedAt,
		LastAccessedAt: r.LastAccessedAt,
		ExpiresAt:      r.ExpiresAt,
		ErrorMessage:   r.ErrorMessage,
	}, nil
}

func filterExpired(all []*cache.Entry, now time.Time) []*cache.Entry {
	var out []*cache.Entry
	for _, e := range all {
		if e.IsExpired(now) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out
}

func filterLRU(all []*cache.Entry) []*cache.Entry {
	var out []*cache.Entry
	for _, e := range all {
		if e.Status == cache.StatusReady {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastAccessedAt.Equal(out[j].LastAccessedAt) {
			return out[i].Key.String() < out[j].Key.String()
		}
		return out[i].LastAccessedAt.Before(out[j].LastAccessedAt)
	})
	return out
}

func sumReady(all []*cache.Entry) uint64 {
	var total uint64
	for _, e := range all {
		if e.Status == cache.StatusReady {
			total += e.SizeBytes
		}
	}
	return total
}
