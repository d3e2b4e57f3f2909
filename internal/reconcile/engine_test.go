package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subpay/internal/common/database"
	"subpay/internal/common/errs"
	"subpay/internal/common/events"
	"subpay/internal/common/money"
	"subpay/internal/customer"
	"subpay/internal/gateway"
	"subpay/internal/payment"
	"subpay/internal/subscription"
)

// --- fakes -----------------------------------------------------------------

type passVerifier struct{}

func (passVerifier) VerifyAndParse(payload []byte, _ string) (*gateway.Event, error) {
	return gateway.ParseEvent(payload)
}

type denyVerifier struct{}

func (denyVerifier) VerifyAndParse([]byte, string) (*gateway.Event, error) {
	return nil, errs.NewAuthentication("signature mismatch")
}

type fakeTx struct{}

func (fakeTx) InTx(ctx context.Context, fn func(q database.Querier) error) error {
	return fn(nil)
}

type fakeLedger struct {
	seen map[string]bool
}

func newFakeLedger() *fakeLedger { return &fakeLedger{seen: map[string]bool{}} }

func (l *fakeLedger) MarkProcessed(ctx context.Context, q database.Querier, eventID, eventType string) (bool, error) {
	if l.seen[eventID] {
		return false, nil
	}
	l.seen[eventID] = true
	return true, nil
}

type fakePaymentStore struct {
	payments map[string]*payment.Payment // by processor attempt id
	audits   []*payment.AuditEntry
	history  []*payment.StatusChange
	refunds  map[string]*payment.Refund // by processor refund id
	disputes map[string]*payment.Dispute
}

func newFakePaymentStore() *fakePaymentStore {
	return &fakePaymentStore{
		payments: map[string]*payment.Payment{},
		refunds:  map[string]*payment.Refund{},
		disputes: map[string]*payment.Dispute{},
	}
}

func (s *fakePaymentStore) GetByProcessorID(ctx context.Context, q database.Querier, attemptID string) (*payment.Payment, error) {
	p, ok := s.payments[attemptID]
	if !ok {
		return nil, errs.NewNotFound("payment", attemptID)
	}
	return p, nil
}

func (s *fakePaymentStore) Update(ctx context.Context, q database.Querier, p *payment.Payment) error {
	s.payments[p.ProcessorAttemptID] = p
	return nil
}

func (s *fakePaymentStore) AppendStatusHistory(ctx context.Context, q database.Querier, change *payment.StatusChange) error {
	s.history = append(s.history, change)
	return nil
}

func (s *fakePaymentStore) AppendAudit(ctx context.Context, q database.Querier, entry *payment.AuditEntry) (bool, error) {
	for _, e := range s.audits {
		if e.PaymentID == entry.PaymentID && e.EventID == entry.EventID {
			return false, nil
		}
	}
	s.audits = append(s.audits, entry)
	return true, nil
}

func (s *fakePaymentStore) UpsertRefund(ctx context.Context, q database.Querier, r *payment.Refund) error {
	if existing, ok := s.refunds[r.ProcessorRefundID]; ok {
		existing.AmountMinor = r.AmountMinor
		existing.Status = r.Status
		existing.Reason = r.Reason
		return nil
	}
	s.refunds[r.ProcessorRefundID] = r
	return nil
}

func (s *fakePaymentStore) RecomputeRefundedAmount(ctx context.Context, q database.Querier, p *payment.Payment) error {
	var list []*payment.Refund
	for _, r := range s.refunds {
		if r.PaymentID == p.ID {
			list = append(list, r)
		}
	}
	total := payment.SucceededRefundTotal(list)
	if total > p.Amount.AmountMinor {
		total = p.Amount.AmountMinor
	}
	p.RefundedAmount = total
	return nil
}

func (s *fakePaymentStore) UpsertDispute(ctx context.Context, q database.Querier, d *payment.Dispute) error {
	if existing, ok := s.disputes[d.ProcessorDisputeID]; ok {
		existing.Status = d.Status
		existing.Reason = d.Reason
		return nil
	}
	s.disputes[d.ProcessorDisputeID] = d
	return nil
}

func (s *fakePaymentStore) auditFor(paymentID string) []*payment.AuditEntry {
	var out []*payment.AuditEntry
	for _, e := range s.audits {
		if e.PaymentID == paymentID {
			out = append(out, e)
		}
	}
	return out
}

type fakeSubscriptionStore struct {
	subs map[string]*subscription.Subscription // by processor id
}

func newFakeSubscriptionStore() *fakeSubscriptionStore {
	return &fakeSubscriptionStore{subs: map[string]*subscription.Subscription{}}
}

func (s *fakeSubscriptionStore) GetByProcessorID(ctx context.Context, q database.Querier, processorID string) (*subscription.Subscription, error) {
	sub, ok := s.subs[processorID]
	if !ok {
		return nil, errs.NewNotFound("subscription", processorID)
	}
	return sub, nil
}

func (s *fakeSubscriptionStore) Create(ctx context.Context, q database.Querier, sub *subscription.Subscription) error {
	s.subs[sub.ProcessorSubscriptionID] = sub
	return nil
}

func (s *fakeSubscriptionStore) Update(ctx context.Context, q database.Querier, sub *subscription.Subscription) error {
	s.subs[sub.ProcessorSubscriptionID] = sub
	return nil
}

type fakeCustomerStore struct {
	customers   map[string]*customer.Customer // by processor id
	instruments map[string]*customer.Instrument
	riskEvents  []*customer.RiskEvent
	defaults    map[string]string // customer id -> processor instrument id
}

func newFakeCustomerStore() *fakeCustomerStore {
	return &fakeCustomerStore{
		customers:   map[string]*customer.Customer{},
		instruments: map[string]*customer.Instrument{},
		defaults:    map[string]string{},
	}
}

func (s *fakeCustomerStore) GetByProcessorID(ctx context.Context, q database.Querier, processorID string) (*customer.Customer, error) {
	c, ok := s.customers[processorID]
	if !ok {
		return nil, errs.NewNotFound("customer", processorID)
	}
	return c, nil
}

func (s *fakeCustomerStore) Update(ctx context.Context, q database.Querier, c *customer.Customer) error {
	s.customers[c.ProcessorCustomerID] = c
	return nil
}

func (s *fakeCustomerStore) UpsertInstrument(ctx context.Context, q database.Querier, inst *customer.Instrument) error {
	s.instruments[inst.ProcessorInstrumentID] = inst
	return nil
}

func (s *fakeCustomerStore) RemoveInstrument(ctx context.Context, q database.Querier, processorInstrumentID string) error {
	delete(s.instruments, processorInstrumentID)
	return nil
}

func (s *fakeCustomerStore) SetDefaultInstrument(ctx context.Context, q database.Querier, customerID, processorInstrumentID string) error {
	for _, inst := range s.instruments {
		if inst.CustomerID == customerID {
			inst.IsDefault = inst.ProcessorInstrumentID == processorInstrumentID
		}
	}
	s.defaults[customerID] = processorInstrumentID
	return nil
}

func (s *fakeCustomerStore) ListInstruments(ctx context.Context, q database.Querier, customerID string) ([]*customer.Instrument, error) {
	var out []*customer.Instrument
	for _, inst := range s.instruments {
		if inst.CustomerID == customerID {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (s *fakeCustomerStore) AddRiskEvent(ctx context.Context, q database.Querier, ev *customer.RiskEvent) error {
	s.riskEvents = append(s.riskEvents, ev)
	return nil
}

type fakePublisher struct {
	published []*events.Event
}

func (p *fakePublisher) Publish(ctx context.Context, event *events.Event) error {
	p.published = append(p.published, event)
	return nil
}

// --- fixture ---------------------------------------------------------------

type fixture struct {
	engine    *Engine
	payments  *fakePaymentStore
	subs      *fakeSubscriptionStore
	customers *fakeCustomerStore
	publisher *fakePublisher
	ledger    *fakeLedger
}

func newFixture() *fixture {
	f := &fixture{
		payments:  newFakePaymentStore(),
		subs:      newFakeSubscriptionStore(),
		customers: newFakeCustomerStore(),
		publisher: &fakePublisher{},
		ledger:    newFakeLedger(),
	}
	f.engine = NewEngine(
		passVerifier{}, fakeTx{}, f.ledger,
		f.payments, f.subs, f.customers,
		f.publisher, slog.Default(),
	)
	return f
}

func (f *fixture) seedPayment(status payment.Status) *payment.Payment {
	p := payment.New("user_1", "pi_1", money.NewFromMajor(29.99, money.USD))
	p.Status = status
	f.payments.payments[p.ProcessorAttemptID] = p
	return p
}

func eventPayload(t *testing.T, id, eventType string, object any) []byte {
	t.Helper()
	obj, err := json.Marshal(object)
	require.NoError(t, err)
	return []byte(fmt.Sprintf(`{"id":%q,"type":%q,"created":%d,"data":{"object":%s}}`,
		id, eventType, time.Now().Unix(), obj))
}

// --- tests -----------------------------------------------------------------

func TestHandleEventSucceededAppliesFeeOnce(t *testing.T) {
	f := newFixture()
	p := f.seedPayment(payment.StatusProcessing)

	payload := eventPayload(t, "evt_1", gateway.EventAttemptSucceeded, gateway.PaymentAttempt{
		ID:        "pi_1",
		Amount:    2999,
		Currency:  "USD",
		FeeAmount: 100,
		InstrumentDetails: &gateway.InstrumentDetails{
			Fingerprint: "fp_1",
			Card:        &gateway.CardDetails{Country: "US", Funding: "credit"},
		},
	})

	result, err := f.engine.HandleEvent(context.Background(), payload, "sig")
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.False(t, result.Skipped)

	assert.Equal(t, payment.StatusSucceeded, p.Status)
	assert.Equal(t, int64(100), p.FeeAmount)
	assert.Equal(t, int64(2899), p.NetAmount())
	assert.Equal(t, "fp_1", p.CardFingerprint)
	assert.Len(t, f.payments.auditFor(p.ID), 1)
	require.Len(t, f.publisher.published, 1)
	assert.Equal(t, events.EventPaymentSucceeded, f.publisher.published[0].Type)
}

func TestHandleEventSucceededCollapsedDelivery(t *testing.T) {
	// The terminal event may be the first one seen for an attempt.
	f := newFixture()
	p := f.seedPayment(payment.StatusRequiresInstrument)

	payload := eventPayload(t, "evt_1", gateway.EventAttemptSucceeded, gateway.PaymentAttempt{
		ID: "pi_1", Amount: 2999, Currency: "USD", FeeAmount: 100,
	})

	result, err := f.engine.HandleEvent(context.Background(), payload, "sig")
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, payment.StatusSucceeded, p.Status)
	assert.Equal(t, int64(2899), p.NetAmount())
}

func TestHandleEventDuplicateDeliveryIsNoOp(t *testing.T) {
	f := newFixture()
	p := f.seedPayment(payment.StatusProcessing)

	payload := eventPayload(t, "evt_1", gateway.EventAttemptSucceeded, gateway.PaymentAttempt{
		ID: "pi_1", Amount: 2999, Currency: "USD", FeeAmount: 100,
	})

	_, err := f.engine.HandleEvent(context.Background(), payload, "sig")
	require.NoError(t, err)

	result, err := f.engine.HandleEvent(context.Background(), payload, "sig")
	require.NoError(t, err)
	assert.True(t, result.Duplicate)

	assert.Equal(t, int64(100), p.FeeAmount)
	assert.Len(t, f.payments.auditFor(p.ID), 1)
	assert.Len(t, f.publisher.published, 1)
}

func TestHandleEventRedeliveryUnderNewIDIsSkipped(t *testing.T) {
	f := newFixture()
	p := f.seedPayment(payment.StatusProcessing)

	first := eventPayload(t, "evt_1", gateway.EventAttemptSucceeded, gateway.PaymentAttempt{
		ID: "pi_1", Amount: 2999, Currency: "USD", FeeAmount: 100,
	})
	second := eventPayload(t, "evt_2", gateway.EventAttemptSucceeded, gateway.PaymentAttempt{
		ID: "pi_1", Amount: 2999, Currency: "USD", FeeAmount: 100,
	})

	_, err := f.engine.HandleEvent(context.Background(), first, "sig")
	require.NoError(t, err)
	result, err := f.engine.HandleEvent(context.Background(), second, "sig")
	require.NoError(t, err)

	assert.True(t, result.Skipped)
	assert.Equal(t, int64(100), p.FeeAmount)
	// One applied entry plus one skip entry.
	assert.Len(t, f.payments.auditFor(p.ID), 2)
	assert.Len(t, f.publisher.published, 1)
}

func TestHandleEventIllegalTransitionSkipped(t *testing.T) {
	f := newFixture()
	p := f.seedPayment(payment.StatusCanceled)

	payload := eventPayload(t, "evt_1", gateway.EventAttemptSucceeded, gateway.PaymentAttempt{
		ID: "pi_1", Amount: 2999, Currency: "USD", FeeAmount: 100,
	})

	result, err := f.engine.HandleEvent(context.Background(), payload, "sig")
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, payment.StatusCanceled, p.Status)
	assert.Zero(t, p.FeeAmount)
	assert.Empty(t, f.publisher.published)
}

func TestHandleEventFailedRecordsRiskSignal(t *testing.T) {
	f := newFixture()
	p := f.seedPayment(payment.StatusProcessing)
	p.CustomerID = "cust_local_1"

	payload := eventPayload(t, "evt_1", gateway.EventAttemptFailed, gateway.PaymentAttempt{
		ID: "pi_1", Amount: 2999, Currency: "USD",
		LastPaymentError: &gateway.PaymentError{Code: "card_declined", DeclineCode: "insufficient_funds"},
	})

	_, err := f.engine.HandleEvent(context.Background(), payload, "sig")
	require.NoError(t, err)

	assert.Equal(t, payment.StatusFailed, p.Status)
	assert.Equal(t, "card_declined", p.FailureCode)
	require.Len(t, f.customers.riskEvents, 1)
	assert.Equal(t, "payment_failed", f.customers.riskEvents[0].Kind)
	require.Len(t, f.publisher.published, 1)
	assert.Equal(t, events.EventPaymentFailed, f.publisher.published[0].Type)
}

func TestHandleEventRefundConverges(t *testing.T) {
	f := newFixture()
	p := f.seedPayment(payment.StatusSucceeded)

	charge := gateway.Charge{
		ID:               "ch_1",
		PaymentAttemptID: "pi_1",
		Amount:           2999,
		Refunds: []gateway.Refund{
			{ID: "re_1", Amount: 500, Status: "succeeded"},
			{ID: "re_2", Amount: 300, Status: "pending"},
		},
	}

	_, err := f.engine.HandleEvent(context.Background(), eventPayload(t, "evt_1", gateway.EventChargeRefunded, charge), "sig")
	require.NoError(t, err)
	assert.Equal(t, int64(500), p.RefundedAmount)

	// Same refund redelivered under a new event id must not double count.
	_, err = f.engine.HandleEvent(context.Background(), eventPayload(t, "evt_2", gateway.EventChargeRefunded, charge), "sig")
	require.NoError(t, err)
	assert.Equal(t, int64(500), p.RefundedAmount)
}

func TestHandleEventRefundClampedToAmount(t *testing.T) {
	f := newFixture()
	p := f.seedPayment(payment.StatusSucceeded)

	charge := gateway.Charge{
		ID:               "ch_1",
		PaymentAttemptID: "pi_1",
		Refunds: []gateway.Refund{
			{ID: "re_1", Amount: 5000, Status: "succeeded"},
		},
	}

	_, err := f.engine.HandleEvent(context.Background(), eventPayload(t, "evt_1", gateway.EventChargeRefunded, charge), "sig")
	require.NoError(t, err)
	assert.Equal(t, p.Amount.AmountMinor, p.RefundedAmount)
}

func TestHandleEventDisputeMarksPaymentAndCustomer(t *testing.T) {
	f := newFixture()
	p := f.seedPayment(payment.StatusSucceeded)
	p.CustomerID = "cust_local_1"

	payload := eventPayload(t, "evt_1", gateway.EventDisputeCreated, gateway.Dispute{
		ID: "dp_1", PaymentAttemptID: "pi_1", Amount: 2999, Currency: "USD", Reason: "fraudulent", Status: "needs_response",
	})

	_, err := f.engine.HandleEvent(context.Background(), payload, "sig")
	require.NoError(t, err)

	assert.True(t, p.Disputed)
	require.Len(t, f.customers.riskEvents, 1)
	assert.Equal(t, "dispute_opened", f.customers.riskEvents[0].Kind)
	require.Len(t, f.publisher.published, 1)
	assert.Equal(t, events.EventPaymentDisputed, f.publisher.published[0].Type)
}

func TestHandleEventUnknownPaymentFailsForRedelivery(t *testing.T) {
	f := newFixture()

	payload := eventPayload(t, "evt_1", gateway.EventAttemptSucceeded, gateway.PaymentAttempt{
		ID: "pi_unknown", Amount: 2999, Currency: "USD",
	})

	_, err := f.engine.HandleEvent(context.Background(), payload, "sig")
	require.Error(t, err)
	assert.True(t, errs.IsReconciliation(err))
}

func TestHandleEventBadSignature(t *testing.T) {
	f := newFixture()
	f.engine.verifier = denyVerifier{}

	_, err := f.engine.HandleEvent(context.Background(), []byte(`{}`), "bad")
	require.Error(t, err)
	assert.True(t, errs.IsAuthentication(err))
}

func TestHandleEventUnknownTypeAcknowledged(t *testing.T) {
	f := newFixture()

	payload := eventPayload(t, "evt_1", "invoice.finalized", map[string]string{"id": "in_1"})
	result, err := f.engine.HandleEvent(context.Background(), payload, "sig")
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.False(t, result.Duplicate)
}

func TestHandleEventSubscriptionPastDue(t *testing.T) {
	f := newFixture()
	sub := subscription.New("user_1", "sub_1", "plan_pro", subscription.StatusActive)
	f.subs.subs["sub_1"] = sub

	payload := eventPayload(t, "evt_1", gateway.EventSubscriptionUpdated, gateway.Subscription{
		ID: "sub_1", CustomerID: "cus_1", Status: "past_due", PlanRef: "plan_pro",
	})

	_, err := f.engine.HandleEvent(context.Background(), payload, "sig")
	require.NoError(t, err)

	assert.Equal(t, subscription.StatusPastDue, sub.Status)
	assert.False(t, sub.IsActive())

	require.Len(t, f.publisher.published, 1)
	var data events.SubscriptionEventData
	require.NoError(t, f.publisher.published[0].DecodeData(&data))
	assert.False(t, data.IsActive)
}

func TestHandleEventPeriodRolloverResetsUsage(t *testing.T) {
	f := newFixture()
	sub := subscription.New("user_1", "sub_1", "plan_pro", subscription.StatusActive)
	start := time.Now().UTC().Add(-31 * 24 * time.Hour)
	sub.CurrentPeriodStart = &start
	sub.AccountsCreated = 2
	sub.PeriodTransactions = 7
	f.subs.subs["sub_1"] = sub

	nextStart := time.Now().UTC().Add(-time.Hour)
	payload := eventPayload(t, "evt_1", gateway.EventSubscriptionUpdated, gateway.Subscription{
		ID: "sub_1", Status: "active", PlanRef: "plan_pro",
		CurrentPeriodStart: nextStart.Unix(),
		CurrentPeriodEnd:   nextStart.Add(30 * 24 * time.Hour).Unix(),
	})

	_, err := f.engine.HandleEvent(context.Background(), payload, "sig")
	require.NoError(t, err)

	assert.Zero(t, sub.AccountsCreated)
	assert.Zero(t, sub.PeriodTransactions)

	// The same period delivered again must not keep the counters pinned
	// at zero after collaborators resume counting.
	sub.PeriodTransactions = 3
	_, err = f.engine.HandleEvent(context.Background(), eventPayload(t, "evt_2", gateway.EventSubscriptionUpdated, gateway.Subscription{
		ID: "sub_1", Status: "active", PlanRef: "plan_pro",
		CurrentPeriodStart: nextStart.Unix(),
	}), "sig")
	require.NoError(t, err)
	assert.Equal(t, 3, sub.PeriodTransactions)
}

func TestHandleEventSubscriptionCreatedFromMetadata(t *testing.T) {
	f := newFixture()

	payload := eventPayload(t, "evt_1", gateway.EventSubscriptionCreated, gateway.Subscription{
		ID: "sub_9", CustomerID: "cus_1", Status: "trialing", PlanRef: "plan_pro",
		Metadata: map[string]string{"user_id": "user_7"},
	})

	_, err := f.engine.HandleEvent(context.Background(), payload, "sig")
	require.NoError(t, err)

	sub := f.subs.subs["sub_9"]
	require.NotNil(t, sub)
	assert.Equal(t, "user_7", sub.UserID)
	assert.Equal(t, subscription.StatusTrialing, sub.Status)
	assert.True(t, sub.IsActive())
}

func TestHandleEventTerminalSubscriptionNotResurrected(t *testing.T) {
	f := newFixture()
	sub := subscription.New("user_1", "sub_1", "plan_pro", subscription.StatusCanceled)
	f.subs.subs["sub_1"] = sub

	payload := eventPayload(t, "evt_1", gateway.EventSubscriptionUpdated, gateway.Subscription{
		ID: "sub_1", Status: "active", PlanRef: "plan_pro",
	})

	result, err := f.engine.HandleEvent(context.Background(), payload, "sig")
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, subscription.StatusCanceled, sub.Status)
}

func TestHandleEventUnknownSubscriptionStatusAcknowledged(t *testing.T) {
	f := newFixture()
	sub := subscription.New("user_1", "sub_1", "plan_pro", subscription.StatusActive)
	f.subs.subs["sub_1"] = sub

	// A status vocabulary addition must not make the event redeliver forever.
	payload := eventPayload(t, "evt_1", gateway.EventSubscriptionUpdated, gateway.Subscription{
		ID: "sub_1", Status: "zombie",
	})

	result, err := f.engine.HandleEvent(context.Background(), payload, "sig")
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, subscription.StatusActive, sub.Status)
}

func TestHandleEventCustomerDeleted(t *testing.T) {
	f := newFixture()
	c := customer.New("user_1", "cus_1", "a@example.com", "Ada")
	f.customers.customers["cus_1"] = c

	payload := eventPayload(t, "evt_1", gateway.EventCustomerDeleted, gateway.Customer{ID: "cus_1", Deleted: true})

	_, err := f.engine.HandleEvent(context.Background(), payload, "sig")
	require.NoError(t, err)

	assert.False(t, c.Active)
	require.NotNil(t, c.DeactivatedAt)
	require.Len(t, f.publisher.published, 1)
	assert.Equal(t, events.EventCustomerDeactivated, f.publisher.published[0].Type)
}

func TestHandleEventFirstInstrumentBecomesDefault(t *testing.T) {
	f := newFixture()
	c := customer.New("user_1", "cus_1", "a@example.com", "Ada")
	f.customers.customers["cus_1"] = c

	payload := eventPayload(t, "evt_1", gateway.EventInstrumentAttached, gateway.Instrument{
		ID: "pm_1", CustomerID: "cus_1", Type: "card",
		Card: &gateway.CardDetails{Brand: "visa", Last4: "4242", Funding: "credit"},
	})

	_, err := f.engine.HandleEvent(context.Background(), payload, "sig")
	require.NoError(t, err)

	assert.Equal(t, "pm_1", f.customers.defaults[c.ID])
}

func TestHandleEventDetachPromotesSurvivor(t *testing.T) {
	f := newFixture()
	c := customer.New("user_1", "cus_1", "a@example.com", "Ada")
	f.customers.customers["cus_1"] = c
	f.customers.instruments["pm_1"] = &customer.Instrument{
		CustomerID: c.ID, ProcessorInstrumentID: "pm_1", IsDefault: true, CreatedAt: time.Now().Add(-2 * time.Hour),
	}
	f.customers.instruments["pm_2"] = &customer.Instrument{
		CustomerID: c.ID, ProcessorInstrumentID: "pm_2", CreatedAt: time.Now().Add(-time.Hour),
	}

	payload := eventPayload(t, "evt_1", gateway.EventInstrumentDetached, gateway.Instrument{
		ID: "pm_1", CustomerID: "cus_1", Type: "card",
	})

	_, err := f.engine.HandleEvent(context.Background(), payload, "sig")
	require.NoError(t, err)

	_, gone := f.customers.instruments["pm_1"]
	assert.False(t, gone)
	assert.Equal(t, "pm_2", f.customers.defaults[c.ID])
}
