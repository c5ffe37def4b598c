package metrics

import (
	"context"
	"time"

	"media-vault/internal/logging"
)

// StatsProvider supplies point-in-time statistics to the Collector.
type StatsProvider interface {
	GetStats(ctx context.Context) (Stats, error)
}

// Stats holds the current statistics
type Stats struct {
	CacheSizeBytes uint64
	CachePending   int
	CacheReady     int
	CacheFailed    int
	MediaByKind    map[string]int
}

// Collector periodically collects and updates gauge metrics
type Collector struct {
	statsProvider StatsProvider
	interval      time.Duration
	stopChan      chan struct{}
	done          chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	return &Collector{
		statsProvider: provider,
		interval:      interval,
		stopChan:      make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection and waits for the loop to exit
func (c *Collector) Stop() {
	close(c.stopChan)
	<-c.done
}

func (c *Collector) collectLoop() {
	defer close(c.done)

	// Collect immediately on start
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect() {
	if c.statsProvider == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.interval)
	defer cancel()

	stats, err := c.statsProvider.GetStats(ctx)
	if err != nil {
		logging.Warn("Metrics collection failed: %v", err)
		return
	}

	CacheSizeBytes.Set(float64(stats.CacheSizeBytes))
	CacheEntries.WithLabelValues("pending").Set(float64(stats.CachePending))
	CacheEntries.WithLabelValues("ready").Set(float64(stats.CacheReady))
	CacheEntries.WithLabelValues("failed").Set(float64(stats.CacheFailed))
	for kind, n := range stats.MediaByKind {
		MediaFilesTotal.WithLabelValues(kind).Set(float64(n))
	}

	logging.Debug("Metrics collected: cache=%d bytes, ready=%d, pending=%d, failed=%d",
		stats.CacheSizeBytes, stats.CacheReady, stats.CachePending, stats.CacheFailed)
}
