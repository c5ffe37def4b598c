package cacheindex

import (
	"context"
	"sort"
	"sync"
	"time"

	"media-vault/internal/cache"
)

// Memory is a cache.Index held in a map. Entries do not survive a restart.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]cache.Entry
}

var _ cache.Index = (*Memory)(nil)

// NewMemory creates an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]cache.Entry)}
}

func (m *Memory) Get(_ context.Context, key cache.Key) (*cache.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key.String()]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *Memory) Put(_ context.Context, e *cache.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	cp.ErrorMessage = cache.TruncateError(cp.ErrorMessage)
	m.entries[e.Key.String()] = cp
	return nil
}

func (m *Memory) Remove(_ context.Context, key cache.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key.String())
	return nil
}

func (m *Memory) Touch(_ context.Context, key cache.Key, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key.String()]; ok {
		e.LastAccessedAt = at
		m.entries[key.String()] = e
	}
	return nil
}

func (m *Memory) ListAll(_ context.Context) ([]*cache.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*cache.Entry, 0, len(m.entries))
	for _, e := range m.entries {
		e := e
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListExpired(ctx context.Context, now time.Time) ([]*cache.Entry, error) {
	all, _ := m.ListAll(ctx)
	return filterExpired(all, now), nil
}

func (m *Memory) ListByLeastRecentlyAccessed(ctx context.Context) ([]*cache.Entry, error) {
	all, _ := m.ListAll(ctx)
	return filterLRU(all), nil
}

func (m *Memory) TotalSize(ctx context.Context) (uint64, error) {
	all, _ := m.ListAll(ctx)
	return sumReady(all), nil
}
