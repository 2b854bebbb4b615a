package outbox

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPendingEvent(t *testing.T) *Event {
	t.Helper()
	e, err := NewEvent(
		"7340142318211072", "order", "order-1", "order.created",
		[]byte(`{"total": 42}`),
		time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)
	return e
}

func TestNewEvent_Validation(t *testing.T) {
	occurred := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	payload := []byte(`{"total": 42}`)

	tests := []struct {
		name                                         string
		eventID, aggregateType, aggregateID, evtType string
		payload                                      []byte
		occurredAt                                   time.Time
		wantErr                                      bool
	}{
		{"valid", "1", "order", "order-1", "order.created", payload, occurred, false},
		{"missing event id", "", "order", "order-1", "order.created", payload, occurred, true},
		{"missing aggregate type", "1", "", "order-1", "order.created", payload, occurred, true},
		{"missing aggregate id", "1", "order", "", "order.created", payload, occurred, true},
		{"missing event type", "1", "order", "order-1", "", payload, occurred, true},
		{"nil payload", "1", "order", "order-1", "order.created", nil, occurred, true},
		{"empty payload", "1", "order", "order-1", "order.created", []byte{}, occurred, true},
		{"zero occurred-at", "1", "order", "order-1", "order.created", payload, time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewEvent(tt.eventID, tt.aggregateType, tt.aggregateID, tt.evtType, tt.payload, tt.occurredAt)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StatusPending, e.Status)
			assert.Equal(t, 0, e.RetryCount)
			assert.Equal(t, e.OccurredAt, e.NextRetryAt, "fresh rows must be immediately eligible")
		})
	}
}

func TestMarkPublished(t *testing.T) {
	e := newPendingEvent(t)
	e.ErrorMessage = "previous attempt failed"

	at := time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)
	e.MarkPublished(at)

	assert.Equal(t, StatusPublished, e.Status)
	assert.Equal(t, at, e.PublishedAt)
	assert.Empty(t, e.ErrorMessage)
	assert.True(t, e.NextRetryAt.IsZero())
}

func TestScheduleNextRetry_Progression(t *testing.T) {
	e := newPendingEvent(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var prev time.Time
	for i := 1; i <= 3; i++ {
		backoff := time.Duration(i) * 30 * time.Second
		e.ScheduleNextRetry(now, backoff, errors.New("broker unreachable"))

		assert.Equal(t, StatusPending, e.Status)
		assert.Equal(t, i, e.RetryCount)
		assert.True(t, e.NextRetryAt.After(prev), "next_retry_at must strictly increase")
		assert.Equal(t, "broker unreachable", e.ErrorMessage)
		prev = e.NextRetryAt
	}
}

func TestMarkFailed(t *testing.T) {
	e := newPendingEvent(t)
	e.RetryCount = 5

	e.MarkFailed(errors.New("retries exhausted: broker unreachable"))

	assert.Equal(t, StatusFailed, e.Status)
	assert.Equal(t, "retries exhausted: broker unreachable", e.ErrorMessage)
	assert.True(t, e.NextRetryAt.IsZero())
	assert.Equal(t, 5, e.RetryCount, "failure must not reset the retry counter")
}

func TestTransitionsFromTerminalStatesPanic(t *testing.T) {
	terminal := []Status{StatusPublished, StatusFailed}

	for _, status := range terminal {
		t.Run(string(status), func(t *testing.T) {
			now := time.Now().UTC()

			e := newPendingEvent(t)
			e.Status = status
			assert.Panics(t, func() { e.MarkPublished(now) })

			e = newPendingEvent(t)
			e.Status = status
			assert.Panics(t, func() { e.ScheduleNextRetry(now, time.Second, nil) })

			e = newPendingEvent(t)
			e.Status = status
			assert.Panics(t, func() { e.MarkFailed(errors.New("boom")) })
		})
	}
}

func TestExceededMaxRetries(t *testing.T) {
	e := newPendingEvent(t)

	e.RetryCount = 4
	assert.False(t, e.ExceededMaxRetries(5))

	e.RetryCount = 5
	assert.True(t, e.ExceededMaxRetries(5))

	e.RetryCount = 6
	assert.True(t, e.ExceededMaxRetries(5))
}
