package reconcile

import (
	"context"
	"log/slog"
	"time"

	"subpay/internal/common/database"
	"subpay/internal/common/errs"
	"subpay/internal/common/events"
	"subpay/internal/customer"
	"subpay/internal/gateway"
	"subpay/internal/payment"
	"subpay/internal/subscription"
)

// Verifier authenticates and parses an inbound webhook payload.
type Verifier interface {
	VerifyAndParse(payload []byte, signatureHeader string) (*gateway.Event, error)
}

// TxRunner runs a function inside one database transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(q database.Querier) error) error
}

// Publisher emits notification events after a reconciliation commits.
type Publisher interface {
	Publish(ctx context.Context, event *events.Event) error
}

// Ledger claims event ids for exactly-once application.
type Ledger interface {
	MarkProcessed(ctx context.Context, q database.Querier, eventID, eventType string) (bool, error)
}

// PaymentStore is the payment persistence the engine needs.
type PaymentStore interface {
	GetByProcessorID(ctx context.Context, q database.Querier, attemptID string) (*payment.Payment, error)
	Update(ctx context.Context, q database.Querier, p *payment.Payment) error
	AppendStatusHistory(ctx context.Context, q database.Querier, change *payment.StatusChange) error
	AppendAudit(ctx context.Context, q database.Querier, entry *payment.AuditEntry) (bool, error)
	UpsertRefund(ctx context.Context, q database.Querier, r *payment.Refund) error
	RecomputeRefundedAmount(ctx context.Context, q database.Querier, p *payment.Payment) error
	UpsertDispute(ctx context.Context, q database.Querier, d *payment.Dispute) error
}

// SubscriptionStore is the subscription persistence the engine needs.
type SubscriptionStore interface {
	GetByProcessorID(ctx context.Context, q database.Querier, processorID string) (*subscription.Subscription, error)
	Create(ctx context.Context, q database.Querier, sub *subscription.Subscription) error
	Update(ctx context.Context, q database.Querier, sub *subscription.Subscription) error
}

// CustomerStore is the customer persistence the engine needs.
type CustomerStore interface {
	GetByProcessorID(ctx context.Context, q database.Querier, processorID string) (*customer.Customer, error)
	Update(ctx context.Context, q database.Querier, c *customer.Customer) error
	UpsertInstrument(ctx context.Context, q database.Querier, inst *customer.Instrument) error
	RemoveInstrument(ctx context.Context, q database.Querier, processorInstrumentID string) error
	SetDefaultInstrument(ctx context.Context, q database.Querier, customerID, processorInstrumentID string) error
	ListInstruments(ctx context.Context, q database.Querier, customerID string) ([]*customer.Instrument, error)
	AddRiskEvent(ctx context.Context, q database.Querier, ev *customer.RiskEvent) error
}

// Engine applies inbound processor events.
type Engine struct {
	verifier      Verifier
	tx            TxRunner
	ledger        Ledger
	payments      PaymentStore
	subscriptions SubscriptionStore
	customers     CustomerStore
	publisher     Publisher
	logger        *slog.Logger
	now           func() time.Time
}

// NewEngine wires the reconciliation engine.
func NewEngine(
	verifier Verifier,
	tx TxRunner,
	ledger Ledger,
	payments PaymentStore,
	subscriptions SubscriptionStore,
	customers CustomerStore,
	publisher Publisher,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		verifier:      verifier,
		tx:            tx,
		ledger:        ledger,
		payments:      payments,
		subscriptions: subscriptions,
		customers:     customers,
		publisher:     publisher,
		logger:        logger,
		now:           time.Now,
	}
}

// Result reports what an inbound delivery did.
type Result struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Duplicate bool   `json:"duplicate"`
	Skipped   bool   `json:"skipped"`
}

// outcome accumulates side effects during one event application. The
// notifications are published only after the transaction commits.
type outcome struct {
	skipped       bool
	notifications []*events.Event
}

func (o *outcome) notify(ev *events.Event, err error) {
	if err == nil && ev != nil {
		o.notifications = append(o.notifications, ev)
	}
}

// HandleEvent verifies, deduplicates, and applies one inbound event. The
// marker insert and every record mutation share a transaction; a duplicate
// delivery is acknowledged without effects. Failures inside the transaction
// come back as a ReconciliationError so the caller can signal redelivery.
func (e *Engine) HandleEvent(ctx context.Context, payload []byte, signatureHeader string) (*Result, error) {
	evt, err := e.verifier.VerifyAndParse(payload, signatureHeader)
	if err != nil {
		return nil, err
	}

	result := &Result{EventID: evt.ID, EventType: evt.Type}
	var out outcome

	err = e.tx.InTx(ctx, func(q database.Querier) error {
		fresh, err := e.ledger.MarkProcessed(ctx, q, evt.ID, evt.Type)
		if err != nil {
			return err
		}
		if !fresh {
			result.Duplicate = true
			return nil
		}
		return e.dispatch(ctx, q, evt, &out)
	})
	if err != nil {
		if errs.IsReconciliation(err) {
			return nil, err
		}
		return nil, errs.NewReconciliation(evt.ID, evt.Type, err)
	}

	if result.Duplicate {
		e.logger.Info("duplicate event acknowledged",
			"event_id", evt.ID,
			"event_type", evt.Type,
		)
		return result, nil
	}

	result.Skipped = out.skipped

	// Best effort: the reconciliation is committed, a lost notification is
	// recoverable downstream.
	for _, n := range out.notifications {
		if err := e.publisher.Publish(ctx, n); err != nil {
			e.logger.Error("failed to publish notification",
				"event_id", evt.ID,
				"notification_type", n.Type,
				"error", err,
			)
		}
	}

	return result, nil
}

// dispatch routes one event to its handler. Unhandled types are acknowledged
// so the processor does not redeliver them forever.
func (e *Engine) dispatch(ctx context.Context, q database.Querier, evt *gateway.Event, out *outcome) error {
	switch evt.Type {
	case gateway.EventAttemptCreated:
		return e.handleAttemptCreated(ctx, q, evt, out)
	case gateway.EventAttemptProcessing:
		return e.handleAttemptStatus(ctx, q, evt, payment.StatusProcessing, out)
	case gateway.EventAttemptRequiresAction:
		return e.handleAttemptStatus(ctx, q, evt, payment.StatusRequiresAction, out)
	case gateway.EventAttemptSucceeded:
		return e.handleAttemptSucceeded(ctx, q, evt, out)
	case gateway.EventAttemptFailed:
		return e.handleAttemptFailed(ctx, q, evt, out)
	case gateway.EventAttemptCanceled:
		return e.handleAttemptCanceled(ctx, q, evt, out)
	case gateway.EventChargeRefunded:
		return e.handleChargeRefunded(ctx, q, evt, out)
	case gateway.EventDisputeCreated:
		return e.handleDisputeCreated(ctx, q, evt, out)
	case gateway.EventDisputeClosed:
		return e.handleDisputeClosed(ctx, q, evt, out)
	case gateway.EventCustomerUpdated:
		return e.handleCustomerUpdated(ctx, q, evt, out)
	case gateway.EventCustomerDeleted:
		return e.handleCustomerDeleted(ctx, q, evt, out)
	case gateway.EventSubscriptionCreated, gateway.EventSubscriptionUpdated:
		return e.handleSubscriptionUpserted(ctx, q, evt, out)
	case gateway.EventSubscriptionDeleted:
		return e.handleSubscriptionDeleted(ctx, q, evt, out)
	case gateway.EventInstrumentAttached:
		return e.handleInstrumentAttached(ctx, q, evt, out)
	case gateway.EventInstrumentDetached:
		return e.handleInstrumentDetached(ctx, q, evt, out)
	default:
		e.logger.Info("unhandled event type acknowledged",
			"event_id", evt.ID,
			"event_type", evt.Type,
		)
		out.skipped = true
		return nil
	}
}
