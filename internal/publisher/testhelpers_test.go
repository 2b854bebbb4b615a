package publisher

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cornjacket/event-egress/internal/outbox"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func testEvent(t *testing.T, id string) *outbox.Event {
	t.Helper()
	e, err := outbox.NewEvent(
		id, "order", "order-1", "order.created",
		[]byte(`{"total": 42}`),
		time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	)
	if err != nil {
		t.Fatalf("failed to create test event: %v", err)
	}
	return e
}

// mockRepository implements outbox.Repository with overridable functions.
type mockRepository struct {
	SaveFn                 func(ctx context.Context, tx pgx.Tx, e *outbox.Event) error
	ClaimPendingFn         func(ctx context.Context, tx pgx.Tx, limit int) ([]*outbox.Event, error)
	UpdateFn               func(ctx context.Context, tx pgx.Tx, e *outbox.Event) error
	FindByAggregateFn      func(ctx context.Context, aggregateType, aggregateID string) ([]*outbox.Event, error)
	DeleteByStatusBeforeFn func(ctx context.Context, status outbox.Status, cutoff time.Time, limit int) (int64, error)
	CountByStatusFn        func(ctx context.Context, status outbox.Status) (int64, error)
	CountFn                func(ctx context.Context) (int64, error)
}

func (m *mockRepository) Save(ctx context.Context, tx pgx.Tx, e *outbox.Event) error {
	if m.SaveFn != nil {
		return m.SaveFn(ctx, tx, e)
	}
	return nil
}

func (m *mockRepository) ClaimPending(ctx context.Context, tx pgx.Tx, limit int) ([]*outbox.Event, error) {
	if m.ClaimPendingFn != nil {
		return m.ClaimPendingFn(ctx, tx, limit)
	}
	return nil, nil
}

func (m *mockRepository) Update(ctx context.Context, tx pgx.Tx, e *outbox.Event) error {
	if m.UpdateFn != nil {
		return m.UpdateFn(ctx, tx, e)
	}
	return nil
}

func (m *mockRepository) FindByAggregate(ctx context.Context, aggregateType, aggregateID string) ([]*outbox.Event, error) {
	if m.FindByAggregateFn != nil {
		return m.FindByAggregateFn(ctx, aggregateType, aggregateID)
	}
	return nil, nil
}

func (m *mockRepository) DeleteByStatusBefore(ctx context.Context, status outbox.Status, cutoff time.Time, limit int) (int64, error) {
	if m.DeleteByStatusBeforeFn != nil {
		return m.DeleteByStatusBeforeFn(ctx, status, cutoff, limit)
	}
	return 0, nil
}

func (m *mockRepository) CountByStatus(ctx context.Context, status outbox.Status) (int64, error) {
	if m.CountByStatusFn != nil {
		return m.CountByStatusFn(ctx, status)
	}
	return 0, nil
}

func (m *mockRepository) Count(ctx context.Context) (int64, error) {
	if m.CountFn != nil {
		return m.CountFn(ctx)
	}
	return 0, nil
}

// mockSender implements outbox.BrokerSender.
type mockSender struct {
	SendFn func(ctx context.Context, topic, key string, payload []byte) error
	calls  int
}

func (m *mockSender) Send(ctx context.Context, topic, key string, payload []byte) error {
	m.calls++
	if m.SendFn != nil {
		return m.SendFn(ctx, topic, key, payload)
	}
	return nil
}

// mockBackupper implements Backupper.
type mockBackupper struct {
	calls  int
	lastID string
}

func (m *mockBackupper) Backup(ctx context.Context, eventID string, payload []byte, cause error) {
	m.calls++
	m.lastID = eventID
}

// fakeTx is a no-op pgx.Tx for exercising the cycle without a database.
type fakeTx struct {
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }

func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if t.committed {
		return pgx.ErrTxClosed
	}
	t.rolledBack = true
	return nil
}

func (t *fakeTx) CopyFrom(ctx context.Context, _ pgx.Identifier, _ []string, _ pgx.CopyFromSource) (int64, error) {
	return 0, nil
}

func (t *fakeTx) SendBatch(ctx context.Context, _ *pgx.Batch) pgx.BatchResults { return nil }

func (t *fakeTx) LargeObjects() pgx.LargeObjects { return pgx.LargeObjects{} }

func (t *fakeTx) Prepare(ctx context.Context, _, _ string) (*pgconn.StatementDescription, error) {
	return nil, nil
}

func (t *fakeTx) Exec(ctx context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (t *fakeTx) Query(ctx context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return nil, nil
}

func (t *fakeTx) QueryRow(ctx context.Context, _ string, _ ...any) pgx.Row { return nil }

func (t *fakeTx) Conn() *pgx.Conn { return nil }

var _ pgx.Tx = (*fakeTx)(nil)

// fakeBeginner hands out a fakeTx per cycle.
type fakeBeginner struct {
	txs []*fakeTx
}

func (b *fakeBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	tx := &fakeTx{}
	b.txs = append(b.txs, tx)
	return tx, nil
}
