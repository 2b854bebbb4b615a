package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cornjacket/event-egress/internal/outbox"
)

// OutboxRepo implements outbox.Repository using PostgreSQL.
type OutboxRepo struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewOutboxRepo creates a new OutboxRepo.
func NewOutboxRepo(pool *pgxpool.Pool, logger *slog.Logger) *OutboxRepo {
	return &OutboxRepo{
		pool:   pool,
		logger: logger.With("repository", "outbox"),
	}
}

const outboxColumns = `event_id, aggregate_type, aggregate_id, event_type, payload,
		occurred_at, status, retry_count, next_retry_at, published_at, error_message`

// Save upserts the event inside the caller's transaction and notifies
// listening publishers in the same transaction, so the notification only
// fires if the business write commits.
func (r *OutboxRepo) Save(ctx context.Context, tx pgx.Tx, e *outbox.Event) error {
	query := `
		INSERT INTO outbox_events
			(event_id, aggregate_type, aggregate_id, event_type, payload,
			 occurred_at, status, retry_count, next_retry_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id) DO NOTHING
	`

	_, err := tx.Exec(ctx, query,
		e.EventID,
		e.AggregateType,
		e.AggregateID,
		e.EventType,
		e.Payload,
		e.OccurredAt,
		e.Status,
		e.RetryCount,
		nullableTime(e.NextRetryAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert into outbox_events: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, outbox.StagedChannel, e.EventID); err != nil {
		return fmt.Errorf("failed to notify %s: %w", outbox.StagedChannel, err)
	}

	r.logger.Debug("event staged",
		"event_id", e.EventID,
		"event_type", e.EventType,
		"aggregate_id", e.AggregateID,
	)

	return nil
}

// ClaimPending locks and returns eligible PENDING rows, skipping rows
// already locked by a competing instance. The locks live for the duration
// of tx; a crash mid-cycle releases them and the rows stay PENDING.
func (r *OutboxRepo) ClaimPending(ctx context.Context, tx pgx.Tx, limit int) ([]*outbox.Event, error) {
	query := `
		SELECT ` + outboxColumns + `
		FROM outbox_events
		WHERE status = $1 AND next_retry_at <= now()
		ORDER BY occurred_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`

	rows, err := tx.Query(ctx, query, outbox.StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending events: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}

	if len(events) > 0 {
		r.logger.Debug("claimed pending events", "count", len(events))
	}

	return events, nil
}

// Update persists a state transition for a claimed row.
func (r *OutboxRepo) Update(ctx context.Context, tx pgx.Tx, e *outbox.Event) error {
	query := `
		UPDATE outbox_events
		SET status = $2,
		    retry_count = $3,
		    next_retry_at = $4,
		    published_at = $5,
		    error_message = $6,
		    updated_at = now()
		WHERE event_id = $1
	`

	result, err := tx.Exec(ctx, query,
		e.EventID,
		e.Status,
		e.RetryCount,
		nullableTime(e.NextRetryAt),
		nullableTime(e.PublishedAt),
		nullableString(e.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("failed to update outbox event %s: %w", e.EventID, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("outbox event %s not found for update", e.EventID)
	}

	return nil
}

// FindByAggregate returns one aggregate's events, oldest first.
func (r *OutboxRepo) FindByAggregate(ctx context.Context, aggregateType, aggregateID string) ([]*outbox.Event, error) {
	query := `
		SELECT ` + outboxColumns + `
		FROM outbox_events
		WHERE aggregate_type = $1 AND aggregate_id = $2
		ORDER BY occurred_at ASC
	`

	rows, err := r.pool.Query(ctx, query, aggregateType, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events for %s/%s: %w", aggregateType, aggregateID, err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// DeleteByStatusBefore removes up to limit rows in the given status older
// than cutoff. Postgres DELETE has no LIMIT, hence the keyed subquery.
func (r *OutboxRepo) DeleteByStatusBefore(ctx context.Context, status outbox.Status, cutoff time.Time, limit int) (int64, error) {
	query := `
		DELETE FROM outbox_events
		WHERE event_id IN (
			SELECT event_id FROM outbox_events
			WHERE status = $1 AND occurred_at < $2
			ORDER BY occurred_at ASC
			LIMIT $3
		)
	`

	result, err := r.pool.Exec(ctx, query, status, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s events before %s: %w", status, cutoff, err)
	}

	return result.RowsAffected(), nil
}

// CountByStatus returns the number of rows in the given status.
func (r *OutboxRepo) CountByStatus(ctx context.Context, status outbox.Status) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM outbox_events WHERE status = $1`, status,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s events: %w", status, err)
	}
	return count, nil
}

// Count returns the total number of outbox rows.
func (r *OutboxRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM outbox_events`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

func scanEvents(rows pgx.Rows) ([]*outbox.Event, error) {
	var events []*outbox.Event
	for rows.Next() {
		var (
			e           outbox.Event
			nextRetryAt *time.Time
			publishedAt *time.Time
			errMsg      *string
		)

		err := rows.Scan(
			&e.EventID,
			&e.AggregateType,
			&e.AggregateID,
			&e.EventType,
			&e.Payload,
			&e.OccurredAt,
			&e.Status,
			&e.RetryCount,
			&nextRetryAt,
			&publishedAt,
			&errMsg,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}

		if nextRetryAt != nil {
			e.NextRetryAt = *nextRetryAt
		}
		if publishedAt != nil {
			e.PublishedAt = *publishedAt
		}
		if errMsg != nil {
			e.ErrorMessage = *errMsg
		}

		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox rows: %w", err)
	}

	return events, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Ensure OutboxRepo implements outbox.Repository
var _ outbox.Repository = (*OutboxRepo)(nil)
