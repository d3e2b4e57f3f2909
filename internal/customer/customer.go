// Package customer tracks the local mirror of processor-side customers,
// their saved payment instruments, and their accumulated risk signals.
package customer

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Customer is the local record of one processor customer.
type Customer struct {
	ID                  string     `json:"id"`
	UserID              string     `json:"user_id"`
	ProcessorCustomerID string     `json:"processor_customer_id"`
	Email               string     `json:"email,omitempty"`
	Name                string     `json:"name,omitempty"`
	Country             string     `json:"country,omitempty"`
	RiskScore           int        `json:"risk_score"`
	Active              bool       `json:"active"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	DeactivatedAt       *time.Time `json:"deactivated_at,omitempty"`
}

// New creates an active customer record.
func New(userID, processorCustomerID, email, name string) *Customer {
	now := time.Now().UTC()
	return &Customer{
		ID:                  ulid.Make().String(),
		UserID:              userID,
		ProcessorCustomerID: processorCustomerID,
		Email:               email,
		Name:                name,
		Active:              true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// Deactivate soft-deletes the customer. The row is kept for history.
func (c *Customer) Deactivate(at time.Time) {
	c.Active = false
	t := at.UTC()
	c.DeactivatedAt = &t
	c.UpdatedAt = t
}

// Instrument is a saved payment method attached to a customer. At most one
// instrument per customer is the default.
type Instrument struct {
	ID                    string    `json:"id"`
	CustomerID            string    `json:"customer_id"`
	ProcessorInstrumentID string    `json:"processor_instrument_id"`
	Type                  string    `json:"type"`
	Brand                 string    `json:"brand,omitempty"`
	Last4                 string    `json:"last4,omitempty"`
	ExpMonth              int       `json:"exp_month,omitempty"`
	ExpYear               int       `json:"exp_year,omitempty"`
	Fingerprint           string    `json:"fingerprint,omitempty"`
	Country               string    `json:"country,omitempty"`
	Funding               string    `json:"funding,omitempty"`
	IsDefault             bool      `json:"is_default"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// RiskEvent is one recorded risk signal against a customer, feeding the
// customer's running risk score.
type RiskEvent struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	Kind       string    `json:"kind"` // payment_failed, dispute_opened, velocity_flag
	Detail     string    `json:"detail,omitempty"`
	ScoreDelta int       `json:"score_delta"`
	OccurredAt time.Time `json:"occurred_at"`
}
