// Package payment contains the payment record, its status state machine,
// refund sub-ledger, and the per-payment reconciliation audit trail.
package payment

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"subpay/internal/common/money"
)

// Status represents the lifecycle state of a payment.
type Status string

const (
	StatusRequiresInstrument   Status = "requires_instrument"
	StatusRequiresConfirmation Status = "requires_confirmation"
	StatusRequiresAction       Status = "requires_action"
	StatusProcessing           Status = "processing"
	StatusRequiresCapture      Status = "requires_capture"
	StatusSucceeded            Status = "succeeded"
	StatusFailed               Status = "failed"
	StatusCanceled             Status = "canceled"
)

// transitions is the set of legal status edges. Edges run forward along the
// processor's chain: deliveries may collapse or arrive out of order, so an
// event may skip intermediate states, but a payment never moves backward and
// terminal states have no outgoing edges. Late events against a terminal
// payment are skipped, not applied.
var transitions = map[Status][]Status{
	StatusRequiresInstrument:   {StatusRequiresConfirmation, StatusRequiresAction, StatusProcessing, StatusRequiresCapture, StatusSucceeded, StatusCanceled, StatusFailed},
	StatusRequiresConfirmation: {StatusRequiresAction, StatusProcessing, StatusRequiresCapture, StatusSucceeded, StatusCanceled, StatusFailed},
	StatusRequiresAction:       {StatusProcessing, StatusRequiresCapture, StatusSucceeded, StatusCanceled, StatusFailed},
	StatusProcessing:           {StatusRequiresCapture, StatusSucceeded, StatusCanceled, StatusFailed},
	StatusRequiresCapture:      {StatusSucceeded, StatusCanceled, StatusFailed},
	StatusSucceeded:            {},
	StatusFailed:               {},
	StatusCanceled:             {},
}

// IsValid reports whether s is a known payment status.
func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether s is a final state. Refund and dispute
// sub-records may still be appended to a terminal payment.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

// CanTransition reports whether the edge from -> to is legal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Payment is the local record of one payment attempt, kept in sync with the
// processor through reconciliation.
type Payment struct {
	ID                 string      `json:"id"`
	UserID             string      `json:"user_id"`
	CustomerID         string      `json:"customer_id,omitempty"`
	ProcessorAttemptID string      `json:"processor_attempt_id"`
	ClientSecret       string      `json:"-"` // confirmation secret, never serialized outward
	Amount             money.Money `json:"amount"`
	FeeAmount          int64       `json:"fee_amount_minor"`
	RefundedAmount     int64       `json:"refunded_amount_minor"`
	Status             Status      `json:"status"`
	Description        string      `json:"description,omitempty"`
	FailureCode        string      `json:"failure_code,omitempty"`
	FailureMessage     string      `json:"failure_message,omitempty"`
	DeclineCode        string      `json:"decline_code,omitempty"`
	CardFingerprint    string      `json:"card_fingerprint,omitempty"`
	CardCountry        string      `json:"card_country,omitempty"`
	CardFunding        string      `json:"card_funding,omitempty"`
	Disputed           bool        `json:"disputed"`
	RiskLevel          string      `json:"risk_level,omitempty"`
	RiskScore          int         `json:"risk_score"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
	SucceededAt        *time.Time  `json:"succeeded_at,omitempty"`
	CanceledAt         *time.Time  `json:"canceled_at,omitempty"`
}

// New creates a payment record in its initial state.
func New(userID, processorAttemptID string, amount money.Money) *Payment {
	now := time.Now().UTC()
	return &Payment{
		ID:                 ulid.Make().String(),
		UserID:             userID,
		ProcessorAttemptID: processorAttemptID,
		Amount:             amount,
		Status:             StatusRequiresInstrument,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// NetAmount is the amount actually retained after processor fees.
func (p *Payment) NetAmount() int64 {
	return p.Amount.AmountMinor - p.FeeAmount
}

// Transition moves the payment to a new status, enforcing the state machine.
func (p *Payment) Transition(to Status) error {
	if !to.IsValid() {
		return fmt.Errorf("unknown payment status %q", to)
	}
	if !CanTransition(p.Status, to) {
		return fmt.Errorf("illegal payment transition %s -> %s", p.Status, to)
	}
	p.Status = to
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkSucceeded settles the payment, recording the processor fee and the
// instrument details observed on the charge.
func (p *Payment) MarkSucceeded(feeMinor int64, details CardSnapshot, at time.Time) error {
	if err := p.Transition(StatusSucceeded); err != nil {
		return err
	}
	p.FeeAmount = feeMinor
	p.CardFingerprint = details.Fingerprint
	p.CardCountry = details.Country
	p.CardFunding = details.Funding
	t := at.UTC()
	p.SucceededAt = &t
	return nil
}

// MarkFailed records a declined attempt with the processor's failure detail.
func (p *Payment) MarkFailed(code, message, declineCode string) error {
	if err := p.Transition(StatusFailed); err != nil {
		return err
	}
	p.FailureCode = code
	p.FailureMessage = message
	p.DeclineCode = declineCode
	return nil
}

// MarkCanceled voids the payment.
func (p *Payment) MarkCanceled(at time.Time) error {
	if err := p.Transition(StatusCanceled); err != nil {
		return err
	}
	t := at.UTC()
	p.CanceledAt = &t
	return nil
}

// CardSnapshot carries the instrument attributes captured at charge time.
type CardSnapshot struct {
	Fingerprint string
	Country     string
	Funding     string
}

// RefundStatus mirrors the processor's refund lifecycle.
type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundSucceeded RefundStatus = "succeeded"
	RefundFailed    RefundStatus = "failed"
	RefundCanceled  RefundStatus = "canceled"
)

// Refund is one entry in a payment's refund sub-ledger, keyed by the
// processor's refund id so redeliveries upsert instead of duplicating.
type Refund struct {
	ID                string       `json:"id"`
	PaymentID         string       `json:"payment_id"`
	ProcessorRefundID string       `json:"processor_refund_id"`
	AmountMinor       int64        `json:"amount_minor"`
	Reason            string       `json:"reason,omitempty"`
	Status            RefundStatus `json:"status"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// SucceededRefundTotal sums the refunds that actually settled. Only these
// count toward the payment's refunded amount.
func SucceededRefundTotal(refunds []*Refund) int64 {
	var total int64
	for _, r := range refunds {
		if r.Status == RefundSucceeded {
			total += r.AmountMinor
		}
	}
	return total
}

// StatusChange is one row of a payment's status history.
type StatusChange struct {
	ID         string    `json:"id"`
	PaymentID  string    `json:"payment_id"`
	FromStatus Status    `json:"from_status"`
	ToStatus   Status    `json:"to_status"`
	EventID    string    `json:"event_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// AuditEntry is one row of a payment's reconciliation audit trail. The
// (payment_id, event_id) pair is unique, so a redelivered event leaves
// exactly one entry.
type AuditEntry struct {
	ID         string    `json:"id"`
	PaymentID  string    `json:"payment_id"`
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	Summary    string    `json:"summary,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Dispute tracks a chargeback raised against a payment.
type Dispute struct {
	ID                 string     `json:"id"`
	PaymentID          string     `json:"payment_id"`
	ProcessorDisputeID string     `json:"processor_dispute_id"`
	AmountMinor        int64      `json:"amount_minor"`
	Currency           string     `json:"currency"`
	Reason             string     `json:"reason,omitempty"`
	Status             string     `json:"status"`
	EvidenceDueBy      *time.Time `json:"evidence_due_by,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}
