package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CleanerConfig contains retention settings
type CleanerConfig struct {
	MaxAge   time.Duration
	Interval time.Duration
}

// Cleaner removes artifacts past their retention
type Cleaner struct {
	blobs  *Blobs
	cfg    CleanerConfig
	logger *slog.Logger
	wg     sync.WaitGroup
	done   chan struct{}
}

// NewCleaner creates a new cleaner service
func NewCleaner(blobs *Blobs, cfg CleanerConfig, logger *slog.Logger) *Cleaner {
	return &Cleaner{
		blobs:  blobs,
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start starts the cleanup loop. It is a no-op without a retention window.
func (c *Cleaner) Start(ctx context.Context) {
	if c.cfg.MaxAge <= 0 || c.cfg.Interval <= 0 {
		return
	}

	c.wg.Add(1)
	go c.loop(ctx)

	c.logger.Info("artifact cleaner started",
		"max_age", c.cfg.MaxAge,
		"interval", c.cfg.Interval,
	)
}

// Stop stops the cleaner and waits for the loop to finish
func (c *Cleaner) Stop() {
	close(c.done)
	c.wg.Wait()
}

func (c *Cleaner) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	c.run(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.run(ctx)
		}
	}
}

func (c *Cleaner) run(ctx context.Context) {
	deleted, err := c.blobs.Cleanup(ctx, c.cfg.MaxAge)
	if err != nil {
		c.logger.Error("failed to cleanup artifacts", "error", err)
		return
	}
	if deleted > 0 {
		c.logger.Info("cleaned up artifacts", "deleted", deleted)
	}
}
