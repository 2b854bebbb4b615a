package outbox

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/cornjacket/event-egress/internal/clock"
	"github.com/cornjacket/event-egress/internal/idgen"
)

// Stager is the producer-facing entry point: business code calls Stage
// inside its own transaction, at the point the domain event is emitted.
// There is no interception or proxying; staging is an explicit call whose
// failure fails the business operation with it.
type Stager struct {
	ids    *idgen.Generator
	repo   Repository
	clk    clock.Clock
	logger *slog.Logger
}

// NewStager creates a Stager.
func NewStager(ids *idgen.Generator, repo Repository, clk clock.Clock, logger *slog.Logger) *Stager {
	return &Stager{
		ids:    ids,
		repo:   repo,
		clk:    clk,
		logger: logger.With("component", "outbox-stager"),
	}
}

// Stage generates an event id and saves the event within tx.
//
// Any error — including a fatal id-generation error from a clock anomaly —
// must propagate to the caller and abort its transaction: a business write
// without its event would break the contract the outbox exists to keep.
func (s *Stager) Stage(ctx context.Context, tx pgx.Tx, aggregateType, aggregateID, eventType string, payload []byte) (*Event, error) {
	id, err := s.ids.Next(ctx)
	if err != nil {
		return nil, fmt.Errorf("outbox: generating event id: %w", err)
	}

	e, err := NewEvent(id.String(), aggregateType, aggregateID, eventType, payload, s.clk.Now())
	if err != nil {
		return nil, err
	}

	if err := s.repo.Save(ctx, tx, e); err != nil {
		return nil, fmt.Errorf("outbox: staging event %s: %w", e.EventID, err)
	}

	s.logger.Debug("event staged",
		"event_id", e.EventID,
		"event_type", eventType,
		"aggregate_id", aggregateID,
	)

	return e, nil
}
