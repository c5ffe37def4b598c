package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type mockStatsProvider struct {
	mu    sync.Mutex
	stats Stats
	err   error
	calls int
}

func (m *mockStatsProvider) GetStats(context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.stats, m.err
}

func (m *mockStatsProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestCollectorUpdatesGauges(t *testing.T) {
	provider := &mockStatsProvider{stats: Stats{
		CacheSizeBytes: 4096,
		CacheReady:     3,
		CachePending:   1,
		CacheFailed:    2,
		MediaByKind:    map[string]int{"video": 7},
	}}

	c := NewCollector(provider, time.Hour)
	c.collect()

	if got := testutil.ToFloat64(CacheSizeBytes); got != 4096 {
		t.Errorf("CacheSizeBytes = %v, want 4096", got)
	}
	if got := testutil.ToFloat64(CacheEntries.WithLabelValues("ready")); got != 3 {
		t.Errorf("ready entries = %v, want 3", got)
	}
	if got := testutil.ToFloat64(MediaFilesTotal.WithLabelValues("video")); got != 7 {
		t.Errorf("video files = %v, want 7", got)
	}
}

func TestCollectorProviderError(t *testing.T) {
	CacheSizeBytes.Set(1)
	provider := &mockStatsProvider{err: errors.New("db closed")}

	NewCollector(provider, time.Hour).collect()

	if got := testutil.ToFloat64(CacheSizeBytes); got != 1 {
		t.Errorf("gauges should be untouched on error, got %v", got)
	}
}

func TestCollectorStartStop(t *testing.T) {
	provider := &mockStatsProvider{}
	c := NewCollector(provider, 10*time.Millisecond)
	c.Start()

	deadline := time.Now().Add(2 * time.Second)
	for provider.callCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	c.Stop()

	if provider.callCount() < 2 {
		t.Errorf("expected repeated collection, got %d calls", provider.callCount())
	}
	after := provider.callCount()
	time.Sleep(30 * time.Millisecond)
	if provider.callCount() != after {
		t.Error("collector kept running after Stop")
	}
}

func TestCollectorNilProvider(t *testing.T) {
	NewCollector(nil, time.Hour).collect()
}

func TestMetricNamesPrefixed(t *testing.T) {
	InitializeMetrics()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	found := 0
	for _, mf := range families {
		name := mf.GetName()
		if strings.HasPrefix(name, "go_") || strings.HasPrefix(name, "process_") || strings.HasPrefix(name, "promhttp_") {
			continue
		}
		if !strings.HasPrefix(name, "media_vault_") {
			t.Errorf("metric %q lacks media_vault_ prefix", name)
		}
		found++
	}
	if found == 0 {
		t.Error("no application metrics registered")
	}
}

func TestFilesystemObserver(t *testing.T) {
	o := NewFilesystemObserver()
	before := testutil.ToFloat64(FilesystemStaleErrors.WithLabelValues("stat", "media"))
	o.ObserveStaleError("stat", "media")
	o.ObserveOperation("media", "stat", 0.01, errors.New("boom"))
	if got := testutil.ToFloat64(FilesystemStaleErrors.WithLabelValues("stat", "media")); got != before+1 {
		t.Errorf("stale errors = %v, want %v", got, before+1)
	}
}
