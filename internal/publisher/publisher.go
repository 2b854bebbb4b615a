// Package publisher drives staged outbox events to the broker: it claims
// eligible rows with a skip-locked read, attempts delivery, and moves each
// row through the PENDING -> PUBLISHED / FAILED state machine. Multiple
// instances run the same loop concurrently; the row locks held by each
// claim transaction are the only coordination between them.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cornjacket/event-egress/internal/clock"
	"github.com/cornjacket/event-egress/internal/outbox"
)

// Config holds publisher settings.
type Config struct {
	// Topic is the broker topic all egress events are published to.
	Topic string

	// BatchSize bounds how many rows one cycle claims.
	BatchSize int

	// MaxRetries is the per-event retry budget; reaching it moves the
	// row to FAILED after a backup attempt.
	MaxRetries int

	// PollInterval is the watchdog tick between cycles. NOTIFY wakeups
	// usually fire sooner; the tick catches missed notifications and
	// rows whose retry window opens.
	PollInterval time.Duration

	// RetryBackoffBase and RetryBackoffCap shape the per-row retry
	// delay: base << retryCount, capped.
	RetryBackoffBase time.Duration
	RetryBackoffCap  time.Duration
}

// Backupper is the last-resort sink for events that exhausted their
// retries. backup.Chain implements it.
type Backupper interface {
	Backup(ctx context.Context, eventID string, payload []byte, cause error)
}

// txBeginner starts the claim transaction. *pgxpool.Pool satisfies it.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// cycleTimeout bounds one claim/deliver/commit cycle. It must stay under
// the daemon's shutdown wait so an in-flight batch can still commit after
// the stop signal fires.
const cycleTimeout = 25 * time.Second

// Publisher is one polling instance.
type Publisher struct {
	db         txBeginner
	repo       outbox.Repository
	sender     outbox.BrokerSender
	chain      Backupper
	clk        clock.Clock
	listenConn *pgx.Conn
	config     Config
	metrics    *Metrics
	logger     *slog.Logger
}

// New creates a Publisher. listenConn is a dedicated connection used for
// LISTEN/NOTIFY wakeups (it is held open for the lifetime of the loop and
// must not come from the pool); nil disables wakeups and leaves the
// watchdog tick as the only trigger.
func New(
	db txBeginner,
	repo outbox.Repository,
	sender outbox.BrokerSender,
	chain Backupper,
	listenConn *pgx.Conn,
	config Config,
	clk clock.Clock,
	logger *slog.Logger,
) *Publisher {
	instanceID := uuid.Must(uuid.NewV7()).String()

	return &Publisher{
		db:         db,
		repo:       repo,
		sender:     sender,
		chain:      chain,
		clk:        clk,
		listenConn: listenConn,
		config:     config,
		metrics:    NewMetrics(),
		logger: logger.With(
			"component", "outbox-publisher",
			"instance_id", instanceID,
		),
	}
}

// Metrics exposes the publisher's counters for observability.
func (p *Publisher) Metrics() *Metrics {
	return p.metrics
}

// Run executes the polling loop until ctx is cancelled. The in-flight
// cycle always finishes; cancellation only stops new cycles from starting.
func (p *Publisher) Run(ctx context.Context) error {
	p.logger.Info("starting outbox publisher",
		"topic", p.config.Topic,
		"batch_size", p.config.BatchSize,
		"max_retries", p.config.MaxRetries,
		"poll_interval", p.config.PollInterval,
	)

	notifyCh := make(chan *pgconn.Notification, 1)
	if p.listenConn != nil {
		if _, err := p.listenConn.Exec(ctx, "LISTEN "+outbox.StagedChannel); err != nil {
			return fmt.Errorf("failed to LISTEN on %s: %w", outbox.StagedChannel, err)
		}
		go p.notificationListener(ctx, notifyCh)
	}

	timer := time.NewTimer(p.config.PollInterval)
	defer timer.Stop()

	// Initial cycle picks up whatever accumulated while we were down.
	p.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox publisher stopped", "metrics", p.metrics.Snapshot())
			return nil

		case notification := <-notifyCh:
			if notification != nil {
				p.logger.Debug("received NOTIFY", "payload", notification.Payload)
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(p.config.PollInterval)
				p.runCycle(ctx)
			}

		case <-timer.C:
			p.runCycle(ctx)
			timer.Reset(p.config.PollInterval)
		}
	}
}

// notificationListener continuously listens for PostgreSQL notifications.
func (p *Publisher) notificationListener(ctx context.Context, notifyCh chan<- *pgconn.Notification) {
	for {
		notification, err := p.listenConn.WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			p.logger.Error("error waiting for notification", "error", err)
			// Brief pause before retrying to avoid a tight loop
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		select {
		case notifyCh <- notification:
		case <-ctx.Done():
			return
		}
	}
}

// runCycle claims one batch and processes it inside a single transaction.
// The claim locks are released at commit (or at rollback on a storage
// error, leaving the rows PENDING for the next cycle).
//
// The cycle runs detached from the caller's cancellation: a stop signal
// landing mid-batch must not fail the Update of a row already delivered
// to the broker and roll back its PUBLISHED transition. cycleTimeout is
// the only bound on the cycle's I/O.
func (p *Publisher) runCycle(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cycleTimeout)
	defer cancel()

	tx, err := p.db.Begin(ctx)
	if err != nil {
		p.logger.Error("failed to begin claim transaction", "error", err)
		return
	}
	defer tx.Rollback(ctx)

	events, err := p.repo.ClaimPending(ctx, tx, p.config.BatchSize)
	if err != nil {
		p.logger.Error("failed to claim pending events", "error", err)
		return
	}
	if len(events) == 0 {
		return
	}

	// Rows are processed sequentially: the claim transaction is bound to
	// one connection. Throughput scales by running more instances, each
	// claiming a disjoint batch.
	for _, e := range events {
		if err := p.processEvent(ctx, tx, e); err != nil {
			// Storage error: the transaction is poisoned, stop the batch.
			// Everything claimed stays PENDING and is re-claimed later.
			p.logger.Error("aborting cycle on storage error", "error", err)
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		p.logger.Error("failed to commit claim transaction", "error", err)
	}
}

// processEvent attempts delivery of one claimed row and persists the
// resulting state transition. A delivery failure is handled locally
// (retry schedule or backup + FAILED) and never aborts the batch; only a
// storage failure is returned.
func (p *Publisher) processEvent(ctx context.Context, tx pgx.Tx, e *outbox.Event) error {
	logger := p.logger.With(
		"event_id", e.EventID,
		"event_type", e.EventType,
		"aggregate_id", e.AggregateID,
	)

	sendErr := p.sender.Send(ctx, p.config.Topic, e.AggregateID, e.Payload)
	now := p.clk.Now()

	if sendErr == nil {
		e.MarkPublished(now)
		if err := p.repo.Update(ctx, tx, e); err != nil {
			return err
		}
		p.metrics.incPublished()
		logger.Info("event published", "retry_count", e.RetryCount)
		return nil
	}

	e.ScheduleNextRetry(now, p.backoff(e.RetryCount), sendErr)

	if e.ExceededMaxRetries(p.config.MaxRetries) {
		// Retry budget spent: preserve the payload out of band, then
		// mark the row FAILED. The row itself is never deleted.
		p.chain.Backup(ctx, e.EventID, e.Payload, sendErr)
		p.metrics.incBackedUp()

		e.MarkFailed(fmt.Errorf("retries exhausted after %d attempts: %w", e.RetryCount, sendErr))
		if err := p.repo.Update(ctx, tx, e); err != nil {
			return err
		}
		p.metrics.incFailed()
		logger.Error("event failed permanently", "retry_count", e.RetryCount, "error", sendErr)
		return nil
	}

	if err := p.repo.Update(ctx, tx, e); err != nil {
		return err
	}
	p.metrics.incRetried()
	logger.Warn("delivery failed, retry scheduled",
		"retry_count", e.RetryCount,
		"next_retry_at", e.NextRetryAt,
		"error", sendErr,
	)
	return nil
}

// backoff returns the delay before retry attempt retryCount+1:
// base << retryCount, capped.
func (p *Publisher) backoff(retryCount int) time.Duration {
	d := p.config.RetryBackoffBase
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= p.config.RetryBackoffCap {
			return p.config.RetryBackoffCap
		}
	}
	return d
}
