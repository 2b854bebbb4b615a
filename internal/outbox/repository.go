package outbox

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// StagedChannel is the LISTEN/NOTIFY channel signalled when an event is
// staged, so idle publisher instances wake up before their next poll tick.
// Save implementations notify it inside the staging transaction.
const StagedChannel = "outbox_event_staged"

// Repository is the durable storage contract for staged events.
// This interface is owned by the outbox package; infrastructure adapters
// (e.g., postgres) implement it.
type Repository interface {
	// Save upserts the event inside the caller's transaction. This is the
	// atomicity guarantee the whole pattern exists for: a Save failure
	// must fail the surrounding business transaction, and an aborted
	// business transaction must leave no outbox row behind.
	Save(ctx context.Context, tx pgx.Tx, e *Event) error

	// ClaimPending returns up to limit PENDING rows whose retry window
	// has opened (next_retry_at <= now), oldest occurred_at first,
	// locking them for the lifetime of tx and skipping rows already
	// locked by a competing publisher instance. The skip-locked claim is
	// the only cross-instance coordination this core uses.
	ClaimPending(ctx context.Context, tx pgx.Tx, limit int) ([]*Event, error)

	// Update persists a state transition for a claimed row, within the
	// same transaction that claimed it.
	Update(ctx context.Context, tx pgx.Tx, e *Event) error

	// FindByAggregate returns the events of one business entity ordered
	// by occurrence time ascending. Audit/debugging path.
	FindByAggregate(ctx context.Context, aggregateType, aggregateID string) ([]*Event, error)

	// DeleteByStatusBefore deletes up to limit rows with the given status
	// whose occurred_at predates cutoff, returning the count deleted.
	// Retention path; only ever called for terminal statuses.
	DeleteByStatusBefore(ctx context.Context, status Status, cutoff time.Time, limit int) (int64, error)

	// CountByStatus and Count are observability queries.
	CountByStatus(ctx context.Context, status Status) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// BrokerSender is the opaque broker-send capability the publisher consumes.
// Implementations must be safe for concurrent use.
type BrokerSender interface {
	// Send delivers payload to topic, keyed for partitioning. Delivery is
	// at-least-once end to end; downstream consumers dedup on event id.
	Send(ctx context.Context, topic, key string, payload []byte) error
}
