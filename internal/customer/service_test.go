package customer

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subpay/internal/common/database"
	"subpay/internal/common/errs"
	"subpay/internal/gateway"
)

type fakeDirectory struct {
	byUser       map[string]*Customer
	byID         map[string]*Customer
	instruments  map[string][]*Instrument
	createErr    error
	creates      int
	lookupMisses int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		byUser:      map[string]*Customer{},
		byID:        map[string]*Customer{},
		instruments: map[string][]*Instrument{},
	}
}

func (d *fakeDirectory) GetByID(ctx context.Context, q database.Querier, id string) (*Customer, error) {
	c, ok := d.byID[id]
	if !ok {
		return nil, errs.NewNotFound("customer", id)
	}
	return c, nil
}

func (d *fakeDirectory) GetByUserID(ctx context.Context, q database.Querier, userID string) (*Customer, error) {
	if d.lookupMisses > 0 {
		d.lookupMisses--
		return nil, errs.NewNotFound("customer", userID)
	}
	c, ok := d.byUser[userID]
	if !ok {
		return nil, errs.NewNotFound("customer", userID)
	}
	return c, nil
}

func (d *fakeDirectory) Create(ctx context.Context, q database.Querier, c *Customer) error {
	d.creates++
	if d.createErr != nil {
		return d.createErr
	}
	d.byUser[c.UserID] = c
	d.byID[c.ID] = c
	return nil
}

func (d *fakeDirectory) ListInstruments(ctx context.Context, q database.Querier, customerID string) ([]*Instrument, error) {
	return d.instruments[customerID], nil
}

func (d *fakeDirectory) ListRiskEvents(ctx context.Context, q database.Querier, customerID string, limit int) ([]*RiskEvent, error) {
	return nil, nil
}

type fakeGateway struct {
	customers int
	detached  []string
}

func (g *fakeGateway) CreateCustomer(ctx context.Context, req gateway.CreateCustomerRequest) (*gateway.Customer, error) {
	g.customers++
	return &gateway.Customer{ID: "cus_1", Email: req.Email, Name: req.Name}, nil
}

func (g *fakeGateway) DetachInstrument(ctx context.Context, instrumentID string) error {
	g.detached = append(g.detached, instrumentID)
	return nil
}

func newTestService() (*Service, *fakeDirectory, *fakeGateway) {
	dir := newFakeDirectory()
	gw := &fakeGateway{}
	return NewService(dir, nil, gw, slog.Default()), dir, gw
}

func TestEnsureForUserFirstInteraction(t *testing.T) {
	svc, dir, gw := newTestService()

	c, err := svc.EnsureForUser(context.Background(), "user_1", "a@example.com", "Ada")
	require.NoError(t, err)

	assert.Equal(t, "user_1", c.UserID)
	assert.Equal(t, "cus_1", c.ProcessorCustomerID)
	assert.True(t, c.Active)
	assert.Equal(t, 1, gw.customers)
	assert.Equal(t, 1, dir.creates)
}

func TestEnsureForUserReturnsExisting(t *testing.T) {
	svc, dir, gw := newTestService()
	existing := New("user_1", "cus_1", "a@example.com", "Ada")
	dir.byUser["user_1"] = existing

	c, err := svc.EnsureForUser(context.Background(), "user_1", "a@example.com", "Ada")
	require.NoError(t, err)

	assert.Same(t, existing, c)
	assert.Zero(t, gw.customers)
	assert.Zero(t, dir.creates)
}

func TestEnsureForUserLosingRaceReusesWinner(t *testing.T) {
	svc, dir, gw := newTestService()
	// A concurrent first interaction inserts between our miss and our
	// insert: Create reports a duplicate, and the winner's row is what
	// the retry lookup finds.
	winner := New("user_1", "cus_9", "a@example.com", "Ada")
	dir.lookupMisses = 1
	dir.createErr = database.ErrAlreadyExists
	dir.byUser["user_1"] = winner
	dir.byID[winner.ID] = winner

	c, err := svc.EnsureForUser(context.Background(), "user_1", "a@example.com", "Ada")
	require.NoError(t, err)
	assert.Same(t, winner, c)
	assert.Equal(t, 1, gw.customers)
}

func TestEnsureForUserRequiresUserID(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.EnsureForUser(context.Background(), "", "a@example.com", "Ada")
	assert.True(t, errs.IsValidation(err))
}

func TestDetachInstrumentOwned(t *testing.T) {
	svc, dir, gw := newTestService()
	c := New("user_1", "cus_1", "a@example.com", "Ada")
	dir.byID[c.ID] = c
	dir.instruments[c.ID] = []*Instrument{
		{CustomerID: c.ID, ProcessorInstrumentID: "pm_1"},
	}

	require.NoError(t, svc.DetachInstrument(context.Background(), c.ID, "pm_1"))
	assert.Equal(t, []string{"pm_1"}, gw.detached)
}

func TestDetachInstrumentNotOwned(t *testing.T) {
	svc, dir, gw := newTestService()
	c := New("user_1", "cus_1", "a@example.com", "Ada")
	dir.byID[c.ID] = c

	err := svc.DetachInstrument(context.Background(), c.ID, "pm_other")
	assert.True(t, errs.IsNotFound(err))
	assert.Empty(t, gw.detached)
}
