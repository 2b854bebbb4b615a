package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cornjacket/event-egress/internal/backup"
)

// DLQStrategy implements backup.Strategy by writing undeliverable payloads
// to the egress_dlq table. It is the durable-store sink, first in the
// default backup chain: if the database is up, a dead-lettered event ends
// up next to the outbox row that spawned it.
type DLQStrategy struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewDLQStrategy creates a new DLQStrategy.
func NewDLQStrategy(pool *pgxpool.Pool, logger *slog.Logger) *DLQStrategy {
	return &DLQStrategy{
		pool:   pool,
		logger: logger.With("component", "backup-dlq"),
	}
}

// Name identifies the strategy in logs.
func (s *DLQStrategy) Name() string { return "postgres-dlq" }

// Store inserts the payload into egress_dlq. Re-backing-up the same event
// (publisher crash between backup and MarkFailed) is a no-op, detected via
// the primary-key violation.
func (s *DLQStrategy) Store(ctx context.Context, eventID string, payload []byte, cause error) error {
	query := `
		INSERT INTO egress_dlq (event_id, payload, cause)
		VALUES ($1, $2, $3)
	`

	causeText := ""
	if cause != nil {
		causeText = cause.Error()
	}

	_, err := s.pool.Exec(ctx, query, eventID, payload, causeText)
	if err != nil {
		if isDuplicateError(err) {
			s.logger.Debug("event already dead-lettered", "event_id", eventID)
			return nil
		}
		return fmt.Errorf("failed to insert into egress_dlq: %w", err)
	}

	s.logger.Info("payload dead-lettered", "event_id", eventID, "cause", causeText)

	return nil
}

// isDuplicateError checks if the error is a unique constraint violation.
func isDuplicateError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 23505 is unique_violation
		return pgErr.Code == "23505"
	}
	return false
}

// Ensure DLQStrategy implements backup.Strategy
var _ backup.Strategy = (*DLQStrategy)(nil)
