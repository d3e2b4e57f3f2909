package gateway

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types delivered by the processor. Types outside this set are still
// parsed and acknowledged; the reconciliation engine treats them as no-ops.
const (
	EventAttemptCreated        = "payment_intent.created"
	EventAttemptProcessing     = "payment_intent.processing"
	EventAttemptRequiresAction = "payment_intent.requires_action"
	EventAttemptSucceeded      = "payment_intent.succeeded"
	EventAttemptFailed         = "payment_intent.payment_failed"
	EventAttemptCanceled       = "payment_intent.canceled"

	EventChargeRefunded = "charge.refunded"
	EventDisputeCreated = "charge.dispute.created"
	EventDisputeClosed  = "charge.dispute.closed"

	EventCustomerUpdated = "customer.updated"
	EventCustomerDeleted = "customer.deleted"

	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"

	EventInstrumentAttached = "payment_method.attached"
	EventInstrumentDetached = "payment_method.detached"
)

// Event is the processor's webhook envelope.
type Event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// CreatedAt returns the event creation time.
func (e *Event) CreatedAt() time.Time {
	return time.Unix(e.Created, 0).UTC()
}

// DecodeObject decodes the event's payload object into v.
func (e *Event) DecodeObject(v interface{}) error {
	if len(e.Data.Object) == 0 {
		return fmt.Errorf("event %s has no data object", e.ID)
	}
	return json.Unmarshal(e.Data.Object, v)
}

// ParseEvent parses a raw webhook payload into an Event.
func ParseEvent(payload []byte) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("parsing event payload: %w", err)
	}
	if evt.ID == "" || evt.Type == "" {
		return nil, fmt.Errorf("event payload missing id or type")
	}
	return &evt, nil
}

// PaymentError carries the processor's failure detail for a declined attempt.
type PaymentError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	DeclineCode string `json:"decline_code,omitempty"`
}

// CardDetails mirrors the processor's card sub-object.
type CardDetails struct {
	Brand    string `json:"brand"`
	Last4    string `json:"last4"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
	Country  string `json:"country"`  // issuing country
	Funding  string `json:"funding"`  // credit, debit, prepaid
}

// InstrumentDetails mirrors the processor's payment-method details on a charge.
type InstrumentDetails struct {
	Fingerprint string       `json:"fingerprint"`
	Type        string       `json:"type"`
	Card        *CardDetails `json:"card,omitempty"`
}

// PaymentAttempt is the processor's payment-intent object.
type PaymentAttempt struct {
	ID                string             `json:"id"`
	Amount            int64              `json:"amount"` // minor units
	Currency          string             `json:"currency"`
	Status            string             `json:"status"`
	ClientSecret      string             `json:"client_secret,omitempty"`
	CustomerID        string             `json:"customer"`
	LatestChargeID    string             `json:"latest_charge,omitempty"`
	FeeAmount         int64              `json:"fee_amount,omitempty"` // minor units
	InstrumentDetails *InstrumentDetails `json:"payment_method_details,omitempty"`
	LastPaymentError  *PaymentError      `json:"last_payment_error,omitempty"`
	CanceledAt        int64              `json:"canceled_at,omitempty"`
	Metadata          map[string]string  `json:"metadata,omitempty"`
}

// Refund is one refund entry on a charge.
type Refund struct {
	ID      string `json:"id"`
	Amount  int64  `json:"amount"` // minor units
	Reason  string `json:"reason,omitempty"`
	Status  string `json:"status"` // pending, succeeded, failed, canceled
	Created int64  `json:"created"`
}

// Charge is the processor's charge object as delivered on refund events.
type Charge struct {
	ID               string   `json:"id"`
	PaymentAttemptID string   `json:"payment_intent"`
	Amount           int64    `json:"amount"`
	AmountRefunded   int64    `json:"amount_refunded"`
	Currency         string   `json:"currency"`
	Refunds          []Refund `json:"refunds,omitempty"`
}

// Dispute is the processor's dispute object.
type Dispute struct {
	ID               string `json:"id"`
	ChargeID         string `json:"charge"`
	PaymentAttemptID string `json:"payment_intent"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Reason           string `json:"reason"`
	Status           string `json:"status"`
	EvidenceDueBy    int64  `json:"evidence_due_by,omitempty"`
}

// Customer is the processor's customer object.
type Customer struct {
	ID       string            `json:"id"`
	Email    string            `json:"email,omitempty"`
	Name     string            `json:"name,omitempty"`
	Deleted  bool              `json:"deleted,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Subscription is the processor's subscription object.
type Subscription struct {
	ID                 string            `json:"id"`
	CustomerID         string            `json:"customer"`
	Status             string            `json:"status"`
	PlanRef            string            `json:"plan"`
	CurrentPeriodStart int64             `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   int64             `json:"current_period_end,omitempty"`
	TrialStart         int64             `json:"trial_start,omitempty"`
	TrialEnd           int64             `json:"trial_end,omitempty"`
	CancelAt           int64             `json:"cancel_at,omitempty"`
	CanceledAt         int64             `json:"canceled_at,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// Instrument is the processor's payment-method object.
type Instrument struct {
	ID         string       `json:"id"`
	CustomerID string       `json:"customer"`
	Type       string       `json:"type"`
	Card       *CardDetails `json:"card,omitempty"`
}

// UnixToTime converts a processor unix timestamp, treating zero as absent.
func UnixToTime(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
