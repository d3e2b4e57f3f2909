// Package events defines the envelope and types for the normalized
// notification events published after a reconciliation commits.
package events

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event represents a domain event envelope
type Event struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event
func NewEvent(eventType, aggregateType, aggregateID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            ulid.Make().String(),
		Type:          eventType,
		Version:       1,
		OccurredAt:    time.Now().UTC(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Data:          dataBytes,
	}, nil
}

// WithCorrelation adds a correlation ID
func (e *Event) WithCorrelation(correlationID string) *Event {
	e.CorrelationID = correlationID
	return e
}

// DecodeData decodes the event data into a struct
func (e *Event) DecodeData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Notification event types emitted after reconciliation commits. Downstream
// collaborators (mail, analytics) consume these; the core never reads them back.
const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
	EventPaymentCanceled  = "payment.canceled"
	EventPaymentRefunded  = "payment.refunded"
	EventPaymentDisputed  = "payment.disputed"

	EventSubscriptionCreated = "subscription.created"
	EventSubscriptionUpdated = "subscription.updated"
	EventSubscriptionDeleted = "subscription.deleted"

	EventCustomerUpdated     = "customer.updated"
	EventCustomerDeactivated = "customer.deactivated"
)

// PaymentEventData is the data for payment.* events
type PaymentEventData struct {
	PaymentID          string     `json:"payment_id"`
	ProcessorAttemptID string     `json:"processor_attempt_id"`
	UserID             string     `json:"user_id,omitempty"`
	AmountMinor        int64      `json:"amount_minor"`
	Currency           string     `json:"currency"`
	Status             string     `json:"status"`
	FailureCode        string     `json:"failure_code,omitempty"`
	OccurredAt         *time.Time `json:"occurred_at,omitempty"`
}

// SubscriptionEventData is the data for subscription.* events
type SubscriptionEventData struct {
	SubscriptionID          string `json:"subscription_id"`
	ProcessorSubscriptionID string `json:"processor_subscription_id"`
	UserID                  string `json:"user_id,omitempty"`
	Status                  string `json:"status"`
	IsActive                bool   `json:"is_active"`
}

// CustomerEventData is the data for customer.* events
type CustomerEventData struct {
	CustomerID          string `json:"customer_id"`
	ProcessorCustomerID string `json:"processor_customer_id"`
	UserID              string `json:"user_id"`
}
