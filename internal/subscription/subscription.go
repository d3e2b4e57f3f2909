// Package subscription tracks the local mirror of processor-side recurring
// billing agreements.
package subscription

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Status mirrors the processor's subscription lifecycle.
type Status string

const (
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusTrialing          Status = "trialing"
	StatusActive            Status = "active"
	StatusPastDue           Status = "past_due"
	StatusUnpaid            Status = "unpaid"
	StatusCanceled          Status = "canceled"
	StatusPaused            Status = "paused"
)

// IsValid reports whether s is a known subscription status.
func (s Status) IsValid() bool {
	switch s {
	case StatusIncomplete, StatusIncompleteExpired, StatusTrialing, StatusActive,
		StatusPastDue, StatusUnpaid, StatusCanceled, StatusPaused:
		return true
	}
	return false
}

// IsTerminal reports whether the subscription can never become active again.
func (s Status) IsTerminal() bool {
	return s == StatusCanceled || s == StatusIncompleteExpired
}

// Subscription is the local record of one recurring billing agreement.
// Activity is derived from status on read and never stored. Usage counters
// are incremented by collaborating services against plan limits and zeroed
// when the billing period rolls over.
type Subscription struct {
	ID                      string     `json:"id"`
	UserID                  string     `json:"user_id"`
	CustomerID              string     `json:"customer_id,omitempty"`
	ProcessorSubscriptionID string     `json:"processor_subscription_id"`
	PlanRef                 string     `json:"plan_ref"`
	Status                  Status     `json:"status"`
	AccountsCreated         int        `json:"accounts_created"`
	PeriodTransactions      int        `json:"period_transactions"`
	CurrentPeriodStart      *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd        *time.Time `json:"current_period_end,omitempty"`
	TrialStart              *time.Time `json:"trial_start,omitempty"`
	TrialEnd                *time.Time `json:"trial_end,omitempty"`
	CancelAt                *time.Time `json:"cancel_at,omitempty"`
	CanceledAt              *time.Time `json:"canceled_at,omitempty"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

// New creates a subscription record.
func New(userID, processorSubscriptionID, planRef string, status Status) *Subscription {
	now := time.Now().UTC()
	return &Subscription{
		ID:                      ulid.Make().String(),
		UserID:                  userID,
		ProcessorSubscriptionID: processorSubscriptionID,
		PlanRef:                 planRef,
		Status:                  status,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
}

// ResetUsage zeroes the per-period counters on billing period rollover.
func (s *Subscription) ResetUsage() {
	s.AccountsCreated = 0
	s.PeriodTransactions = 0
}

// IsActive reports whether the subscription currently entitles the user.
// Only active and trialing count; past_due and unpaid do not.
func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive || s.Status == StatusTrialing
}
