package reconcile

import (
	"context"
	"fmt"

	"subpay/internal/common/database"
	"subpay/internal/common/errs"
	"subpay/internal/common/events"
	"subpay/internal/customer"
	"subpay/internal/gateway"
	"subpay/internal/payment"
	"subpay/internal/subscription"
)

// Risk score deltas applied to a customer on adverse payment outcomes.
const (
	riskDeltaFailedPayment = 5
	riskDeltaDispute       = 25
)

func (e *Engine) handleAttemptCreated(ctx context.Context, q database.Querier, evt *gateway.Event, out *outcome) error {
	var attempt gateway.PaymentAttempt
	if err := evt.DecodeObject(&attempt); err != nil {
		return err
	}

	p, err := e.payments.GetByProcessorID(ctx, q, attempt.ID)
	if errs.IsNotFound(err) {
		// Attempts are created locally before the processor confirms them.
		// An unknown id here belongs to another system; acknowledge it.
		e.logger.Info("created event for unknown attempt acknowledged",
			"event_id", evt.ID,
			"processor_attempt_id", attempt.ID,
		)
		out.skipped = true
		return nil
	}
	if err != nil {
		return err
	}

	// The confirmation secret is minted processor-side and may only arrive
	// with this event when the attempt was opened out of band.
	if attempt.ClientSecret != "" && p.ClientSecret != attempt.ClientSecret {
		p.ClientSecret = attempt.ClientSecret
		if err := e.payments.Update(ctx, q, p); err != nil {
			return err
		}
	}

	_, err = e.payments.AppendAudit(ctx, q, &payment.AuditEntry{
		PaymentID:  p.ID,
		EventID:    evt.ID,
		EventType:  evt.Type,
		Summary:    "attempt confirmed by processor",
		OccurredAt: evt.CreatedAt(),
	})
	return err
}

// handleAttemptStatus applies a plain status move with no money effects.
func (e *Engine) handleAttemptStatus(ctx context.Context, q database.Querier, evt *gateway.Event, target payment.Status, out *outcome) error {
	var attempt gateway.PaymentAttempt
	if err := evt.DecodeObject(&attempt); err != nil {
		return err
	}

	p, err := e.payments.GetByProcessorID(ctx, q, attempt.ID)
	if err != nil {
		return err
	}

	if p.Status == target {
		return e.auditSkip(ctx, q, p, evt, "status already "+string(target), out)
	}

	from := p.Status
	if err := p.Transition(target); err != nil {
		return e.auditSkip(ctx, q, p, evt, err.Error(), out)
	}
	if err := e.payments.Update(ctx, q, p); err != nil {
		return err
	}
	if err := e.appendHistory(ctx, q, p, from, evt); err != nil {
		return err
	}
	_, err = e.payments.AppendAudit(ctx, q, &payment.AuditEntry{
		PaymentID:  p.ID,
		EventID:    evt.ID,
		EventType:  evt.Type,
		Summary:    "status " + string(from) + " -> " + string(target),
		OccurredAt: evt.CreatedAt(),
	})
	return err
}

func (e *Engine) handleAttemptSucceeded(ctx context.Context, q database.Querier, evt *gateway.Event, out *outcome) error {
	var attempt gateway.PaymentAttempt
	if err := evt.DecodeObject(&attempt); err != nil {
		return err
	}

	p, err := e.payments.GetByProcessorID(ctx, q, attempt.ID)
	if err != nil {
		return err
	}

	// Money effects apply exactly once: a payment already settled absorbs
	// redeliveries and out-of-order duplicates without touching the fee.
	if p.Status == payment.StatusSucceeded {
		return e.auditSkip(ctx, q, p, evt, "already succeeded", out)
	}

	from := p.Status
	var snapshot payment.CardSnapshot
	if attempt.InstrumentDetails != nil && attempt.InstrumentDetails.Card != nil {
		snapshot = payment.CardSnapshot{
			Fingerprint: attempt.InstrumentDetails.Fingerprint,
			Country:     attempt.InstrumentDetails.Card.Country,
			Funding:     attempt.InstrumentDetails.Card.Funding,
		}
	}
	if err := p.MarkSucceeded(attempt.FeeAmount, snapshot, evt.CreatedAt()); err != nil {
		return e.auditSkip(ctx, q, p, evt, err.Error(), out)
	}

	if err := e.payments.Update(ctx, q, p); err != nil {
		return err
	}
	if err := e.appendHistory(ctx, q, p, from, evt); err != nil {
		return err
	}
	if _, err := e.payments.AppendAudit(ctx, q, &payment.AuditEntry{
		PaymentID:  p.ID,
		EventID:    evt.ID,
		EventType:  evt.Type,
		Summary:    fmt.Sprintf("settled, net %d %s minor", p.NetAmount(), p.Amount.Currency),
		OccurredAt: evt.CreatedAt(),
	}); err != nil {
		return err
	}

	out.notify(e.paymentNotification(events.EventPaymentSucceeded, p, evt))
	return nil
}

func (e *Engine) handleAttemptFailed(ctx context.Context, q database.Querier, evt *gateway.Event, out *outcome) error {
	var attempt gateway.PaymentAttempt
	if err := evt.DecodeObject(&attempt); err != nil {
		return err
	}

	p, err := e.payments.GetByProcessorID(ctx, q, attempt.ID)
	if err != nil {
		return err
	}

	if p.Status == payment.StatusFailed {
		return e.auditSkip(ctx, q, p, evt, "already failed", out)
	}

	from := p.Status
	var code, message, decline string
	if attempt.LastPaymentError != nil {
		code = attempt.LastPaymentError.Code
		message = attempt.LastPaymentError.Message
		decline = attempt.LastPaymentError.DeclineCode
	}
	if err := p.MarkFailed(code, message, decline); err != nil {
		return e.auditSkip(ctx, q, p, evt, err.Error(), out)
	}

	if err := e.payments.Update(ctx, q, p); err != nil {
		return err
	}
	if err := e.appendHistory(ctx, q, p, from, evt); err != nil {
		return err
	}
	if _, err := e.payments.AppendAudit(ctx, q, &payment.AuditEntry{
		PaymentID:  p.ID,
		EventID:    evt.ID,
		EventType:  evt.Type,
		Summary:    "failed: " + code,
		OccurredAt: evt.CreatedAt(),
	}); err != nil {
		return err
	}

	if p.CustomerID != "" {
		if err := e.customers.AddRiskEvent(ctx, q, &customer.RiskEvent{
			CustomerID: p.CustomerID,
			Kind:       "payment_failed",
			Detail:     code,
			ScoreDelta: riskDeltaFailedPayment,
			OccurredAt: evt.CreatedAt(),
		}); err != nil {
			return err
		}
	}

	out.notify(e.paymentNotification(events.EventPaymentFailed, p, evt))
	return nil
}

func (e *Engine) handleAttemptCanceled(ctx context.Context, q database.Querier, evt *gateway.Event, out *outcome) error {
	var attempt gateway.PaymentAttempt
	if err := evt.DecodeObject(&attempt); err != nil {
		return err
	}

	p, err := e.payments.GetByProcessorID(ctx, q, attempt.ID)
	if err != nil {
		return err
	}

	if p.Status == payment.StatusCanceled {
		return e.auditSkip(ctx, q, p, evt, "already canceled", out)
	}

	from := p.Status
	at := evt.CreatedAt()
	if t := gateway.UnixToTime(attempt.CanceledAt); t != nil {
		at = *t
	}
	if err := p.MarkCanceled(at); err != nil {
		return e.auditSkip(ctx, q, p, evt, err.Error(), out)
	}

	if err := e.payments.Update(ctx, q, p); err != nil {
		return err
	}
	if err := e.appendHistory(ctx, q, p, from, evt); err != nil {
		return err
	}
	if _, err := e.payments.AppendAudit(ctx, q, &payment.AuditEntry{
		PaymentID:  p.ID,
		EventID:    evt.ID,
		EventType:  evt.Type,
		Summary:    "canceled",
		OccurredAt: evt.CreatedAt(),
	}); err != nil {
		return err
	}

	out.notify(e.paymentNotification(events.EventPaymentCanceled, p, evt))
	return nil
}

func (e *Engine) handleChargeRefunded(ctx context.Context, q database.Querier, evt *gateway.Event, out *outcome) error {
	var charge gateway.Charge
	if err := evt.DecodeObject(&charge); err != nil {
		return err
	}

	p, err := e.payments.GetByProcessorID(ctx, q, charge.PaymentAttemptID)
	if err != nil {
		return err
	}

	for _, r := range charge.Refunds {
		refund := &payment.Refund{
			PaymentID:         p.ID,
			ProcessorRefundID: r.ID,
			AmountMinor:       r.Amount,
			Reason:            r.Reason,
			Status:            payment.RefundStatus(r.Status),
		}
		if t := gateway.UnixToTime(r.Created); t != nil {
			refund.CreatedAt = *t
		}
		if err := e.payments.UpsertRefund(ctx, q, refund); err != nil {
			return err
		}
	}

	// The refunded total is always re-derived from the sub-ledger, never
	// incremented, so redelivered refund events converge.
	if err := e.payments.RecomputeRefundedAmount(ctx, q, p); err != nil {
		return err
	}

	if _, err := e.payments.AppendAudit(ctx, q, &payment.AuditEntry{
		PaymentID:  p.ID,
		EventID:    evt.ID,
		EventType:  evt.Type,
		Summary:    fmt.Sprintf("refunded total %d minor", p.RefundedAmount),
		OccurredAt: evt.CreatedAt(),
	}); err != nil {
		return err
	}

	out.notify(e.paymentNotification(events.EventPaymentRefunded, p, evt))
	return nil
}

func (e *Engine) handleDisputeCreated(ctx context.Context, q database.Querier, evt *gateway.Event, out *outcome) error {
	var d gateway.Dispute
	if err := evt.DecodeObject(&d); err != nil {
		return err
	}

	p, err := e.payments.GetByProcessorID(ctx, q, d.PaymentAttemptID)
	if err != nil {
		return err
	}

	if err := e.payments.UpsertDispute(ctx, q, &payment.Dispute{
		PaymentID:          p.ID,
		ProcessorDisputeID: d.ID,
		AmountMinor:        d.Amount,
		Currency:           d.Currency,
		Reason:             d.Reason,
		Status:             d.Status,
		EvidenceDueBy:      gateway.UnixToTime(d.EvidenceDueBy),
	}); err != nil {
		return err
	}

	if !p.Disputed {
		p.Disputed = true
		if err := e.payments.Update(ctx, q, p); err != nil {
			return err
		}
		if p.CustomerID != "" {
			if err := e.customers.AddRiskEvent(ctx, q, &customer.RiskEvent{
				CustomerID: p.CustomerID,
				Kind:       "dispute_opened",
				Detail:     d.Reason,
				ScoreDelta: riskDeltaDispute,
				OccurredAt: evt.CreatedAt(),
			}); err != nil {
				return err
			}
		}
	}

	if _, err := e.payments.AppendAudit(ctx, q, &payment.AuditEntry{
		PaymentID:  p.ID,
		EventID:    evt.ID,
		EventType:  evt.Type,
		Summary:    "dispute opened: " + d.Reason,
		OccurredAt: evt.CreatedAt(),
	}); err != nil {
		return err
	}

	out.notify(e.paymentNotification(events.EventPaymentDisputed, p, evt))
	return nil
}

func (e *Engine) handleDisputeClosed(ctx context.Context, q database.Querier, evt *gateway.Event, out *outcome) error {
	var d gateway.Dispute
	if err := evt.DecodeObject(&d); err != nil {
		return err
	}

	p, err := e.payments.GetByProcessorID(ctx, q, d.PaymentAttemptID)
	if err != nil {
		return err
	}

	if err := e.payments.UpsertDispute(ctx, q, &payment.Dispute{
		PaymentID:          p.ID,
		ProcessorDisputeID: d.ID,
		AmountMinor:        d.Amount,
		Currency:           d.Currency,
		Reason:             d.Reason,
		Status:             d.Status,
		EvidenceDueBy:      gateway.UnixToTime(d.EvidenceDueBy),
	}); err != nil {
		return err
	}

	_, err = e.payments.AppendAudit(ctx, q, &payment.AuditEntry{
		PaymentID:  p.ID,
		EventID:    evt.ID,
		EventType:  evt.Type,
		Summary:    "dispute closed: " + d.Status,
		OccurredAt: evt.CreatedAt(),
	})
	return err
}

func (e *Engine) handleCustomerUpdated(ctx context.Context, q database.Querier, evt *gateway.Event, out *outcome) error {
	var obj gateway.Customer
	if err := evt.DecodeObject(&obj); err != nil {
		return err
	}

	c, err := e.customers.GetByProcessorID(ctx, q, obj.ID)
	if errs.IsNotFound(err) {
		e.logger.Info("update for unknown customer acknowledged",
			"event_id", evt.ID,
			"processor_customer_id", obj.ID,
		)
		out.skipped = true
		return nil
	}
	if err != nil {
		return err
	}

	if obj.Email != "" {
		c.Email = obj.Email
	}
	if obj.Name != "" {
		c.Name = obj.Name
	}
	if err := e.customers.Update(ctx, q, c); err != nil {
		return err
	}

	out.notify(e.customerNotification(events.EventCustomerUpdated, c))
	return nil
}

func (e *Engine) handleCustomerDeleted(ctx context.Context, q database.Querier, evt *gateway.Event, out *outcome) error {
	var obj gateway.Customer
	if err := evt.DecodeObject(&obj); err != nil {
		return err
	}

	c, err := e.customers.GetByProcessorID(ctx, q, obj.ID)
	if errs.IsNotFound(err) {
		out.skipped = true
		return nil
	}
	if err != nil {
		return err
	}

	if c.Active {
		c.Deactivate(evt.CreatedAt())
		if err := e.customers.Update(ctx, q, c); err != nil {
			return err
		}
	}

	out.notify(e.customerNotification(events.EventCustomerDeactivated, c))
	return nil
}

func (e *Engine) handleSubscriptionUpserted(ctx context.Context, q database.Querier, evt *gateway.Event, out *outcome) error {
	var obj gateway.Subscription
	if err := evt.DecodeObject(&obj); err != nil {
		return err
	}

	// An unrecognized status is a vocabulary addition on the processor's
	// side; failing here would make the event redeliver forever.
	status := subscription.Status(obj.Status)
	if !status.IsValid() {
		e.logger.Warn("unrecognized subscription status acknowledged",
			"event_id", evt.ID,
			"processor_subscription_id", obj.ID,
			"status", obj.Status,
		)
		out.skipped = true
		return nil
	}

	sub, err := e.subscriptions.GetByProcessorID(ctx, q, obj.ID)
	created := false
	if errs.IsNotFound(err) {
		userID := obj.Metadata["user_id"]
		if userID == "" {
			e.logger.Warn("subscription event without user metadata acknowledged",
				"event_id", evt.ID,
				"processor_subscription_id", obj.ID,
			)
			out.skipped = true
			return nil
		}
		sub = subscription.New(userID, obj.ID, obj.PlanRef, status)
		created = true
	} else if err != nil {
		return err
	}

	// A canceled or expired agreement never comes back to life; the
	// processor opens a new one instead.
	if !created && sub.Status.IsTerminal() && status != sub.Status {
		e.logger.Warn("update on terminal subscription skipped",
			"event_id", evt.ID,
			"subscription_id", sub.ID,
			"status", sub.Status,
			"incoming", status,
		)
		out.skipped = true
		return nil
	}

	sub.Status = status
	if obj.PlanRef != "" {
		sub.PlanRef = obj.PlanRef
	}
	// A new billing period starts the usage counters over.
	if next := gateway.UnixToTime(obj.CurrentPeriodStart); next != nil &&
		sub.CurrentPeriodStart != nil && next.After(*sub.CurrentPeriodStart) {
		sub.ResetUsage()
	}
	sub.CurrentPeriodStart = gateway.UnixToTime(obj.CurrentPeriodStart)
	sub.CurrentPeriodEnd = gateway.UnixToTime(obj.CurrentPeriodEnd)
	sub.TrialStart = gateway.UnixToTime(obj.TrialStart)
	sub.TrialEnd = gateway.UnixToTime(obj.TrialEnd)
	sub.CancelAt = gateway.UnixToTime(obj.CancelAt)
	sub.CanceledAt = gateway.UnixToTime(obj.CanceledAt)

	if created {
		if err := e.subscriptions.Create(ctx, q, sub); err != nil {
			return err
		}
		out.notify(e.subscriptionNotification(events.EventSubscriptionCreated, sub))
		return nil
	}

	if err := e.subscriptions.Update(ctx, q, sub); err != nil {
		return err
	}
	out.notify(e.subscriptionNotification(events.EventSubscriptionUpdated, sub))
	return nil
}

func (e *Engine) handleSubscriptionDeleted(ctx context.Context, q database.Querier, evt *gateway.Event, out *outcome) error {
	var obj gateway.Subscription
	if err := evt.DecodeObject(&obj); err != nil {
		return err
	}

	sub, err := e.subscriptions.GetByProcessorID(ctx, q, obj.ID)
	if errs.IsNotFound(err) {
		out.skipped = true
		return nil
	}
	if err != nil {
		return err
	}

	if sub.Status != subscription.StatusCanceled {
		sub.Status = subscription.StatusCanceled
		if t := gateway.UnixToTime(obj.CanceledAt); t != nil {
			sub.CanceledAt = t
		} else {
			at := evt.CreatedAt()
			sub.CanceledAt = &at
		}
		if err := e.subscriptions.Update(ctx, q, sub); err != nil {
			return err
		}
	}

	out.notify(e.subscriptionNotification(events.EventSubscriptionDeleted, sub))
	return nil
}

func (e *Engine) handleInstrumentAttached(ctx context.Context, q database.Querier, evt *gateway.Event, out *outcome) error {
	var obj gateway.Instrument
	if err := evt.DecodeObject(&obj); err != nil {
		return err
	}

	c, err := e.customers.GetByProcessorID(ctx, q, obj.CustomerID)
	if errs.IsNotFound(err) {
		out.skipped = true
		return nil
	}
	if err != nil {
		return err
	}

	inst := &customer.Instrument{
		CustomerID:            c.ID,
		ProcessorInstrumentID: obj.ID,
		Type:                  obj.Type,
	}
	if obj.Card != nil {
		inst.Brand = obj.Card.Brand
		inst.Last4 = obj.Card.Last4
		inst.ExpMonth = obj.Card.ExpMonth
		inst.ExpYear = obj.Card.ExpYear
		inst.Country = obj.Card.Country
		inst.Funding = obj.Card.Funding
	}
	if err := e.customers.UpsertInstrument(ctx, q, inst); err != nil {
		return err
	}

	return e.ensureDefaultInstrument(ctx, q, c.ID)
}

func (e *Engine) handleInstrumentDetached(ctx context.Context, q database.Querier, evt *gateway.Event, out *outcome) error {
	var obj gateway.Instrument
	if err := evt.DecodeObject(&obj); err != nil {
		return err
	}

	if err := e.customers.RemoveInstrument(ctx, q, obj.ID); err != nil {
		return err
	}

	// Detaching may have removed the default; promote the oldest survivor.
	if obj.CustomerID != "" {
		c, err := e.customers.GetByProcessorID(ctx, q, obj.CustomerID)
		if errs.IsNotFound(err) {
			out.skipped = true
			return nil
		}
		if err != nil {
			return err
		}
		return e.ensureDefaultInstrument(ctx, q, c.ID)
	}
	return nil
}

// ensureDefaultInstrument keeps the single-default invariant: if the
// customer has instruments but no default, the oldest becomes default.
func (e *Engine) ensureDefaultInstrument(ctx context.Context, q database.Querier, customerID string) error {
	instruments, err := e.customers.ListInstruments(ctx, q, customerID)
	if err != nil {
		return err
	}
	if len(instruments) == 0 {
		return nil
	}
	for _, inst := range instruments {
		if inst.IsDefault {
			return nil
		}
	}
	oldest := instruments[0]
	for _, inst := range instruments[1:] {
		if inst.CreatedAt.Before(oldest.CreatedAt) {
			oldest = inst
		}
	}
	return e.customers.SetDefaultInstrument(ctx, q, customerID, oldest.ProcessorInstrumentID)
}

// auditSkip records an event that was acknowledged without being applied.
func (e *Engine) auditSkip(ctx context.Context, q database.Querier, p *payment.Payment, evt *gateway.Event, reason string, out *outcome) error {
	e.logger.Warn("event skipped",
		"event_id", evt.ID,
		"event_type", evt.Type,
		"payment_id", p.ID,
		"reason", reason,
	)
	out.skipped = true
	_, err := e.payments.AppendAudit(ctx, q, &payment.AuditEntry{
		PaymentID:  p.ID,
		EventID:    evt.ID,
		EventType:  evt.Type,
		Summary:    "skipped: " + reason,
		OccurredAt: evt.CreatedAt(),
	})
	return err
}

func (e *Engine) appendHistory(ctx context.Context, q database.Querier, p *payment.Payment, from payment.Status, evt *gateway.Event) error {
	return e.payments.AppendStatusHistory(ctx, q, &payment.StatusChange{
		PaymentID:  p.ID,
		FromStatus: from,
		ToStatus:   p.Status,
		EventID:    evt.ID,
		OccurredAt: evt.CreatedAt(),
	})
}

func (e *Engine) paymentNotification(eventType string, p *payment.Payment, evt *gateway.Event) (*events.Event, error) {
	at := evt.CreatedAt()
	return events.NewEvent(eventType, "payment", p.ID, events.PaymentEventData{
		PaymentID:          p.ID,
		ProcessorAttemptID: p.ProcessorAttemptID,
		UserID:             p.UserID,
		AmountMinor:        p.Amount.AmountMinor,
		Currency:           string(p.Amount.Currency),
		Status:             string(p.Status),
		FailureCode:        p.FailureCode,
		OccurredAt:         &at,
	})
}

func (e *Engine) subscriptionNotification(eventType string, sub *subscription.Subscription) (*events.Event, error) {
	return events.NewEvent(eventType, "subscription", sub.ID, events.SubscriptionEventData{
		SubscriptionID:          sub.ID,
		ProcessorSubscriptionID: sub.ProcessorSubscriptionID,
		UserID:                  sub.UserID,
		Status:                  string(sub.Status),
		IsActive:                sub.IsActive(),
	})
}

func (e *Engine) customerNotification(eventType string, c *customer.Customer) (*events.Event, error) {
	return events.NewEvent(eventType, "customer", c.ID, events.CustomerEventData{
		CustomerID:          c.ID,
		ProcessorCustomerID: c.ProcessorCustomerID,
		UserID:              c.UserID,
	})
}
