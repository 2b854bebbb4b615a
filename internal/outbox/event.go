// Package outbox defines the durable staging record for outbound domain
// events and the ports the egress core needs from its surroundings: a
// relational store for staged rows and a broker-send capability.
package outbox

import (
	"fmt"
	"time"
)

// Status is the delivery state of a staged event.
type Status string

const (
	// StatusPending marks a row awaiting delivery (or awaiting its next
	// retry window).
	StatusPending Status = "PENDING"

	// StatusPublished marks a row delivered to the broker. Terminal.
	StatusPublished Status = "PUBLISHED"

	// StatusFailed marks a row whose retries were exhausted. Terminal:
	// the row is preserved as evidence and its payload handed to the
	// backup chain, never deleted by the publisher.
	StatusFailed Status = "FAILED"
)

// Event is one staged outbound domain event.
//
// Created by business code inside its own transaction; after that, only the
// publisher mutates it (status and retry fields) and only the retention
// cleaner deletes it (PUBLISHED rows past the retention window).
type Event struct {
	// EventID is the unique, immutable identifier (decimal form of an
	// idgen.ID, supplied by the caller).
	EventID string

	// AggregateType and AggregateID identify the business entity that
	// produced the event.
	AggregateType string
	AggregateID   string

	// EventType is the logical event name.
	EventType string

	// Payload is opaque to the egress core; it is produced upstream and
	// delivered verbatim.
	Payload []byte

	// OccurredAt is when the event logically happened.
	OccurredAt time.Time

	Status     Status
	RetryCount int

	// NextRetryAt gates eligibility: a PENDING row is only claimed once
	// NextRetryAt <= now. Initialized to OccurredAt so fresh rows are
	// immediately eligible.
	NextRetryAt time.Time

	// PublishedAt is set on the PENDING -> PUBLISHED transition.
	PublishedAt time.Time

	// ErrorMessage is set on the PENDING -> FAILED transition.
	ErrorMessage string
}

// NewEvent creates a PENDING event ready for staging.
func NewEvent(eventID, aggregateType, aggregateID, eventType string, payload []byte, occurredAt time.Time) (*Event, error) {
	if eventID == "" {
		return nil, fmt.Errorf("outbox: event id is required")
	}
	if aggregateType == "" || aggregateID == "" {
		return nil, fmt.Errorf("outbox: aggregate type and id are required")
	}
	if eventType == "" {
		return nil, fmt.Errorf("outbox: event type is required")
	}
	// The schema declares payload NOT NULL; catch it here so the caller
	// gets a validation error instead of a constraint violation.
	if len(payload) == 0 {
		return nil, fmt.Errorf("outbox: payload is required")
	}
	if occurredAt.IsZero() {
		return nil, fmt.Errorf("outbox: occurred-at timestamp is required")
	}

	return &Event{
		EventID:       eventID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
		OccurredAt:    occurredAt.UTC(),
		Status:        StatusPending,
		NextRetryAt:   occurredAt.UTC(),
	}, nil
}

// MarkPublished transitions PENDING -> PUBLISHED.
//
// Calling any transition on a terminal row is a programming error and
// panics: the publisher only ever holds rows it claimed as PENDING, so a
// terminal row here means the claim discipline was violated.
func (e *Event) MarkPublished(at time.Time) {
	e.mustBePending("MarkPublished")
	e.Status = StatusPublished
	e.PublishedAt = at.UTC()
	e.ErrorMessage = ""
	e.NextRetryAt = time.Time{}
}

// ScheduleNextRetry records a failed attempt: the row stays PENDING, the
// retry counter increments, and the row becomes ineligible until
// now + backoff.
func (e *Event) ScheduleNextRetry(now time.Time, backoff time.Duration, cause error) {
	e.mustBePending("ScheduleNextRetry")
	e.RetryCount++
	e.NextRetryAt = now.UTC().Add(backoff)
	if cause != nil {
		e.ErrorMessage = cause.Error()
	}
}

// MarkFailed transitions PENDING -> FAILED after retries are exhausted.
func (e *Event) MarkFailed(cause error) {
	e.mustBePending("MarkFailed")
	e.Status = StatusFailed
	if cause != nil {
		e.ErrorMessage = cause.Error()
	}
	e.NextRetryAt = time.Time{}
}

// ExceededMaxRetries reports whether the row has used up its retry budget.
func (e *Event) ExceededMaxRetries(max int) bool {
	return e.RetryCount >= max
}

func (e *Event) mustBePending(op string) {
	if e.Status != StatusPending {
		panic(fmt.Sprintf("outbox: %s on %s event %s", op, e.Status, e.EventID))
	}
}
