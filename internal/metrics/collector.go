package metrics

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"
)

// Collector refreshes the system gauges on an interval
type Collector struct {
	metrics     *Metrics
	storagePath string
	interval    time.Duration
	startTime   time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCollector creates a collector. storagePath is the artifact store file
// whose size is reported; it may be empty.
func NewCollector(m *Metrics, storagePath string, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Collector{
		metrics:     m,
		storagePath: storagePath,
		interval:    interval,
		startTime:   time.Now(),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the collector loop
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Collector) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.update()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.update()
		}
	}
}

func (c *Collector) update() {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.storagePath != "" {
		if info, err := os.Stat(c.storagePath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}
}
