// Package reconcile applies inbound processor events to the local records.
// Every event is applied inside one transaction together with its
// processed-event marker, so an event either fully lands or leaves no trace.
package reconcile

import (
	"context"
	"time"

	"subpay/internal/common/database"
)

// EventLedger records which processor events have already been applied.
type EventLedger struct{}

// NewEventLedger creates the processed-events ledger.
func NewEventLedger() *EventLedger {
	return &EventLedger{}
}

// MarkProcessed claims an event id. It returns false when the event was
// already claimed by an earlier delivery, in which case the caller must not
// apply any effects.
func (l *EventLedger) MarkProcessed(ctx context.Context, q database.Querier, eventID, eventType string) (bool, error) {
	tag, err := q.Exec(ctx, `
		INSERT INTO processed_events (event_id, event_type, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType, time.Now().UTC())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
