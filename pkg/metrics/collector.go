package metrics

import (
	"context"
	"time"

	"github.com/migadu/sieveedit/logger"
)

// WorkspaceStats is a snapshot of the editor workspace.
type WorkspaceStats struct {
	Scripts int
	Open    int
	Dirty   int
}

// StatsProvider reports workspace statistics.
type StatsProvider interface {
	Stats() WorkspaceStats
}

// Collector periodically copies workspace statistics into gauges.
type Collector struct {
	provider StatsProvider
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	if interval == 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		provider: provider,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the collection loop until ctx is done or Stop is called.
func (c *Collector) Start(ctx context.Context) {
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	logger.Info("MetricsCollector started", "interval", c.interval)

	for {
		select {
		case <-ctx.Done():
			logger.Info("MetricsCollector stopping due to context cancellation")
			return
		case <-c.stopCh:
			logger.Info("MetricsCollector stopping due to stop signal")
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

// Stop signals the collector to stop
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	stats := c.provider.Stats()
	ScriptsTotal.Set(float64(stats.Scripts))
	DocumentsOpen.Set(float64(stats.Open))
	DocumentsDirty.Set(float64(stats.Dirty))
	logger.Debug("MetricsCollector: updated workspace metrics", "scripts", stats.Scripts,
		"open", stats.Open, "dirty", stats.Dirty)
}
