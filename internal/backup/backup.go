// Package backup is the last line of defense for events that exhausted
// their delivery retries: an ordered chain of durable sinks tried in turn,
// so a business event is only ever lost when every sink fails.
package backup

import (
	"context"
	"log/slog"
	"time"
)

// Strategy is one durable sink for undeliverable events.
type Strategy interface {
	// Name identifies the strategy in logs.
	Name() string

	// Store persists the payload keyed by eventID, together with the
	// delivery failure that triggered the backup.
	Store(ctx context.Context, eventID string, payload []byte, cause error) error
}

// defaultAttemptTimeout bounds a single strategy attempt so a stuck
// backend cannot stall the publisher cycle that triggered the backup.
const defaultAttemptTimeout = 10 * time.Second

// Chain tries strategies in order; the first success wins.
type Chain struct {
	strategies     []Strategy
	attemptTimeout time.Duration
	logger         *slog.Logger
}

// NewChain creates a Chain over the given strategies, tried in argument
// order.
func NewChain(logger *slog.Logger, strategies ...Strategy) *Chain {
	return &Chain{
		strategies:     strategies,
		attemptTimeout: defaultAttemptTimeout,
		logger:         logger.With("component", "backup-chain"),
	}
}

// Backup stores the payload in the first strategy that accepts it.
//
// It never returns an error: a failing strategy is logged and the next one
// tried. If every strategy fails the event is permanently lost; that is
// logged at error level with the data_loss attribute set, which is the
// condition operators must alert on.
func (c *Chain) Backup(ctx context.Context, eventID string, payload []byte, cause error) {
	for _, s := range c.strategies {
		attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
		err := s.Store(attemptCtx, eventID, payload, cause)
		cancel()

		if err == nil {
			c.logger.Info("event backed up",
				"event_id", eventID,
				"strategy", s.Name(),
				"cause", cause,
			)
			return
		}

		c.logger.Warn("backup strategy failed, trying next",
			"event_id", eventID,
			"strategy", s.Name(),
			"error", err,
		)
	}

	c.logger.Error("event permanently lost: all backup strategies failed",
		"data_loss", true,
		"event_id", eventID,
		"payload_bytes", len(payload),
		"cause", cause,
	)
}
