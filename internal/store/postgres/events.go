package postgres

import (
	"context"
	"fmt"

	"github.com/noah-isme/storefront-core/internal/events"
)

var _ events.Store = (*Events)(nil)

// Events appends domain events to the domain_events table.
type Events struct {
	DB Querier
}

func (s *Events) InsertEvent(ctx context.Context, ev events.Event) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO domain_events (id, topic, aggregate_id, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, ev.Topic, ev.AggregateID, string(ev.Payload), ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", ev.Topic, mapError(err))
	}
	return nil
}
