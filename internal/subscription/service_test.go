package subscription

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subpay/internal/common/database"
	"subpay/internal/common/errs"
	"subpay/internal/customer"
	"subpay/internal/gateway"
)

type fakeRegistry struct {
	byID        map[string]*Subscription
	byProcessor map[string]*Subscription
	createErr   error
	updates     int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		byID:        map[string]*Subscription{},
		byProcessor: map[string]*Subscription{},
	}
}

func (r *fakeRegistry) GetByID(ctx context.Context, q database.Querier, id string) (*Subscription, error) {
	sub, ok := r.byID[id]
	if !ok {
		return nil, errs.NewNotFound("subscription", id)
	}
	return sub, nil
}

func (r *fakeRegistry) GetByProcessorID(ctx context.Context, q database.Querier, processorID string) (*Subscription, error) {
	sub, ok := r.byProcessor[processorID]
	if !ok {
		return nil, errs.NewNotFound("subscription", processorID)
	}
	return sub, nil
}

func (r *fakeRegistry) ListByUser(ctx context.Context, q database.Querier, userID string) ([]*Subscription, error) {
	var subs []*Subscription
	for _, sub := range r.byID {
		if sub.UserID == userID {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

func (r *fakeRegistry) Create(ctx context.Context, q database.Querier, sub *Subscription) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.byID[sub.ID] = sub
	r.byProcessor[sub.ProcessorSubscriptionID] = sub
	return nil
}

func (r *fakeRegistry) Update(ctx context.Context, q database.Querier, sub *Subscription) error {
	r.updates++
	r.byID[sub.ID] = sub
	return nil
}

type fakeSubGateway struct {
	created  []gateway.CreateSubscriptionRequest
	canceled []bool
	reply    *gateway.Subscription
}

func (g *fakeSubGateway) CreateSubscription(ctx context.Context, req gateway.CreateSubscriptionRequest) (*gateway.Subscription, error) {
	g.created = append(g.created, req)
	return g.reply, nil
}

func (g *fakeSubGateway) CancelSubscription(ctx context.Context, processorSubscriptionID string, atPeriodEnd bool) (*gateway.Subscription, error) {
	g.canceled = append(g.canceled, atPeriodEnd)
	return g.reply, nil
}

type fakeCustomers struct {
	ensured int
	c       *customer.Customer
}

func (f *fakeCustomers) EnsureForUser(ctx context.Context, userID, email, name string) (*customer.Customer, error) {
	f.ensured++
	return f.c, nil
}

func newTestService() (*Service, *fakeRegistry, *fakeSubGateway, *fakeCustomers) {
	reg := newFakeRegistry()
	gw := &fakeSubGateway{}
	customers := &fakeCustomers{c: customer.New("user_1", "cus_1", "a@example.com", "Ada")}
	return NewService(reg, nil, gw, customers, slog.Default()), reg, gw, customers
}

func TestCreateSyncsProcessorReply(t *testing.T) {
	svc, reg, gw, customers := newTestService()
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	gw.reply = &gateway.Subscription{
		ID:                 "sub_1",
		CustomerID:         "cus_1",
		Status:             "trialing",
		PlanRef:            "plan_pro",
		CurrentPeriodStart: start.Unix(),
		CurrentPeriodEnd:   end.Unix(),
		TrialStart:         start.Unix(),
		TrialEnd:           start.AddDate(0, 0, 14).Unix(),
	}

	sub, err := svc.Create(context.Background(), CreateInput{
		UserID:    "user_1",
		Email:     "a@example.com",
		Name:      "Ada",
		PlanRef:   "plan_pro",
		TrialDays: 14,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, customers.ensured)
	require.Len(t, gw.created, 1)
	assert.Equal(t, "cus_1", gw.created[0].CustomerID)
	assert.Equal(t, 14, gw.created[0].TrialDays)

	assert.Equal(t, StatusTrialing, sub.Status)
	assert.Equal(t, customers.c.ID, sub.CustomerID)
	require.NotNil(t, sub.CurrentPeriodStart)
	assert.Equal(t, start, *sub.CurrentPeriodStart)
	require.NotNil(t, sub.TrialEnd)
	assert.Same(t, sub, reg.byProcessor["sub_1"])
}

func TestCreateDuplicateFallsBackToReconciledRow(t *testing.T) {
	svc, reg, gw, _ := newTestService()
	gw.reply = &gateway.Subscription{ID: "sub_1", Status: "active", PlanRef: "plan_pro"}
	reconciled := New("user_1", "sub_1", "plan_pro", StatusActive)
	reg.byProcessor["sub_1"] = reconciled
	reg.createErr = database.ErrAlreadyExists

	sub, err := svc.Create(context.Background(), CreateInput{UserID: "user_1", PlanRef: "plan_pro"})
	require.NoError(t, err)
	assert.Same(t, reconciled, sub)
}

func TestCreateRequiresPlanRef(t *testing.T) {
	svc, _, gw, _ := newTestService()
	_, err := svc.Create(context.Background(), CreateInput{UserID: "user_1"})
	assert.True(t, errs.IsValidation(err))
	assert.Empty(t, gw.created)
}

func TestCancelImmediate(t *testing.T) {
	svc, reg, gw, _ := newTestService()
	sub := New("user_1", "sub_1", "plan_pro", StatusActive)
	reg.byID[sub.ID] = sub
	canceledAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	gw.reply = &gateway.Subscription{ID: "sub_1", Status: "canceled", CanceledAt: canceledAt.Unix()}

	got, err := svc.Cancel(context.Background(), sub.ID, false)
	require.NoError(t, err)

	assert.Equal(t, []bool{false}, gw.canceled)
	assert.Equal(t, StatusCanceled, got.Status)
	require.NotNil(t, got.CanceledAt)
	assert.Equal(t, canceledAt, *got.CanceledAt)
	assert.Equal(t, 1, reg.updates)
}

func TestCancelAtPeriodEnd(t *testing.T) {
	svc, reg, gw, _ := newTestService()
	sub := New("user_1", "sub_1", "plan_pro", StatusActive)
	reg.byID[sub.ID] = sub
	cancelAt := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	gw.reply = &gateway.Subscription{ID: "sub_1", Status: "active", CancelAt: cancelAt.Unix()}

	got, err := svc.Cancel(context.Background(), sub.ID, true)
	require.NoError(t, err)

	assert.Equal(t, []bool{true}, gw.canceled)
	assert.Equal(t, StatusActive, got.Status)
	require.NotNil(t, got.CancelAt)
	assert.Equal(t, cancelAt, *got.CancelAt)
}

func TestCancelTerminalIsNoOp(t *testing.T) {
	svc, reg, gw, _ := newTestService()
	sub := New("user_1", "sub_1", "plan_pro", StatusCanceled)
	reg.byID[sub.ID] = sub

	got, err := svc.Cancel(context.Background(), sub.ID, false)
	require.NoError(t, err)
	assert.Same(t, sub, got)
	assert.Empty(t, gw.canceled)
	assert.Zero(t, reg.updates)
}
