package publisher

import (
	"context"
	"log/slog"
	"time"

	"github.com/cornjacket/event-egress/internal/clock"
	"github.com/cornjacket/event-egress/internal/outbox"
)

// CleanerConfig holds retention settings.
type CleanerConfig struct {
	// Interval between cleanup passes.
	Interval time.Duration

	// Retention is how long PUBLISHED rows are kept before deletion.
	// FAILED rows are never cleaned up; they are evidence.
	Retention time.Duration

	// BatchSize bounds each delete statement so cleanup never holds a
	// large scan against a table the publishers are working.
	BatchSize int
}

// Cleaner removes old PUBLISHED rows in bounded batches to keep the
// outbox table from growing without bound.
type Cleaner struct {
	repo   outbox.Repository
	clk    clock.Clock
	config CleanerConfig
	logger *slog.Logger
}

// NewCleaner creates a Cleaner.
func NewCleaner(repo outbox.Repository, config CleanerConfig, clk clock.Clock, logger *slog.Logger) *Cleaner {
	return &Cleaner{
		repo:   repo,
		clk:    clk,
		config: config,
		logger: logger.With("component", "outbox-cleaner"),
	}
}

// Run executes cleanup passes until ctx is cancelled.
func (c *Cleaner) Run(ctx context.Context) error {
	c.logger.Info("starting outbox cleaner",
		"interval", c.config.Interval,
		"retention", c.config.Retention,
		"batch_size", c.config.BatchSize,
	)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("outbox cleaner stopped")
			return nil
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

// sweep deletes expired PUBLISHED rows batch by batch until the backlog
// for this pass is drained.
func (c *Cleaner) sweep(ctx context.Context) {
	cutoff := c.clk.Now().Add(-c.config.Retention)

	var total int64
	for {
		if ctx.Err() != nil {
			return
		}

		deleted, err := c.repo.DeleteByStatusBefore(ctx, outbox.StatusPublished, cutoff, c.config.BatchSize)
		if err != nil {
			c.logger.Error("cleanup batch failed", "error", err)
			return
		}

		total += deleted
		if deleted < int64(c.config.BatchSize) {
			break
		}
	}

	if total > 0 {
		c.logger.Info("cleaned up published events", "deleted", total, "cutoff", cutoff)
	}
}
