package subscription

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"subpay/internal/common/database"
	"subpay/internal/common/errs"
	"subpay/internal/customer"
	"subpay/internal/gateway"
)

// Gateway is the subset of the processor client the service needs.
type Gateway interface {
	CreateSubscription(ctx context.Context, req gateway.CreateSubscriptionRequest) (*gateway.Subscription, error)
	CancelSubscription(ctx context.Context, processorSubscriptionID string, atPeriodEnd bool) (*gateway.Subscription, error)
}

// Customers resolves a user's billing identity.
type Customers interface {
	EnsureForUser(ctx context.Context, userID, email, name string) (*customer.Customer, error)
}

// Registry is the persistence the service needs.
type Registry interface {
	GetByID(ctx context.Context, q database.Querier, id string) (*Subscription, error)
	GetByProcessorID(ctx context.Context, q database.Querier, processorID string) (*Subscription, error)
	ListByUser(ctx context.Context, q database.Querier, userID string) ([]*Subscription, error)
	Create(ctx context.Context, q database.Querier, sub *Subscription) error
	Update(ctx context.Context, q database.Querier, sub *Subscription) error
}

// Service starts and cancels subscriptions against the processor and keeps
// the local mirror primed until reconciliation takes over.
type Service struct {
	store     Registry
	q         database.Querier
	gw        Gateway
	customers Customers
	logger    *slog.Logger
}

// NewService creates a subscription service.
func NewService(store Registry, q database.Querier, gw Gateway, customers Customers, logger *slog.Logger) *Service {
	return &Service{store: store, q: q, gw: gw, customers: customers, logger: logger}
}

// CreateInput carries the fields needed to start a subscription.
type CreateInput struct {
	UserID    string
	Email     string
	Name      string
	PlanRef   string
	TrialDays int
}

// Create ensures the user's billing identity, opens the agreement with the
// processor, and records the local mirror seeded from the processor's reply.
// Webhook deliveries for the same subscription upsert over this record, so a
// duplicate insert falls back to the reconciled row.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Subscription, error) {
	if in.UserID == "" {
		return nil, errs.NewValidation("user id is required")
	}
	if in.PlanRef == "" {
		return nil, errs.NewValidation("plan ref is required")
	}

	c, err := s.customers.EnsureForUser(ctx, in.UserID, in.Email, in.Name)
	if err != nil {
		return nil, err
	}

	ps, err := s.gw.CreateSubscription(ctx, gateway.CreateSubscriptionRequest{
		CustomerID: c.ProcessorCustomerID,
		PlanRef:    in.PlanRef,
		TrialDays:  in.TrialDays,
	})
	if err != nil {
		return nil, err
	}

	sub := New(in.UserID, ps.ID, ps.PlanRef, Status(ps.Status))
	sub.CustomerID = c.ID
	syncFromProcessor(sub, ps)

	if err := s.store.Create(ctx, s.q, sub); err != nil {
		// The confirming webhook can land before our insert; the
		// reconciled row is authoritative.
		if errors.Is(err, database.ErrAlreadyExists) {
			return s.store.GetByProcessorID(ctx, s.q, ps.ID)
		}
		return nil, err
	}

	s.logger.Info("subscription created",
		"subscription_id", sub.ID,
		"processor_subscription_id", sub.ProcessorSubscriptionID,
		"plan_ref", sub.PlanRef,
		"status", sub.Status,
	)
	return sub, nil
}

// Cancel ends a subscription, either immediately or at the period boundary.
// Canceling an already-terminal subscription is a no-op.
func (s *Service) Cancel(ctx context.Context, id string, atPeriodEnd bool) (*Subscription, error) {
	sub, err := s.store.GetByID(ctx, s.q, id)
	if err != nil {
		return nil, err
	}
	if sub.Status.IsTerminal() {
		return sub, nil
	}

	ps, err := s.gw.CancelSubscription(ctx, sub.ProcessorSubscriptionID, atPeriodEnd)
	if err != nil {
		return nil, err
	}

	if atPeriodEnd {
		sub.CancelAt = gateway.UnixToTime(ps.CancelAt)
		if sub.CancelAt == nil {
			sub.CancelAt = sub.CurrentPeriodEnd
		}
	} else {
		sub.Status = StatusCanceled
		canceledAt := gateway.UnixToTime(ps.CanceledAt)
		if canceledAt == nil {
			now := time.Now().UTC()
			canceledAt = &now
		}
		sub.CanceledAt = canceledAt
	}

	if err := s.store.Update(ctx, s.q, sub); err != nil {
		return nil, err
	}

	s.logger.Info("subscription canceled",
		"subscription_id", sub.ID,
		"at_period_end", atPeriodEnd,
	)
	return sub, nil
}

// Get returns a subscription by its local id.
func (s *Service) Get(ctx context.Context, id string) (*Subscription, error) {
	return s.store.GetByID(ctx, s.q, id)
}

// ListByUser returns a user's subscriptions, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]*Subscription, error) {
	return s.store.ListByUser(ctx, s.q, userID)
}

func syncFromProcessor(sub *Subscription, ps *gateway.Subscription) {
	sub.CurrentPeriodStart = gateway.UnixToTime(ps.CurrentPeriodStart)
	sub.CurrentPeriodEnd = gateway.UnixToTime(ps.CurrentPeriodEnd)
	sub.TrialStart = gateway.UnixToTime(ps.TrialStart)
	sub.TrialEnd = gateway.UnixToTime(ps.TrialEnd)
	sub.CancelAt = gateway.UnixToTime(ps.CancelAt)
	sub.CanceledAt = gateway.UnixToTime(ps.CanceledAt)
}
