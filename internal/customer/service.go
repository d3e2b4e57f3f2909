package customer

import (
	"context"
	"errors"
	"log/slog"

	"subpay/internal/common/database"
	"subpay/internal/common/errs"
	"subpay/internal/gateway"
)

// Gateway is the subset of the processor client the service needs.
type Gateway interface {
	CreateCustomer(ctx context.Context, req gateway.CreateCustomerRequest) (*gateway.Customer, error)
	DetachInstrument(ctx context.Context, instrumentID string) error
}

// Directory is the persistence the service needs.
type Directory interface {
	GetByID(ctx context.Context, q database.Querier, id string) (*Customer, error)
	GetByUserID(ctx context.Context, q database.Querier, userID string) (*Customer, error)
	Create(ctx context.Context, q database.Querier, c *Customer) error
	ListInstruments(ctx context.Context, q database.Querier, customerID string) ([]*Instrument, error)
	ListRiskEvents(ctx context.Context, q database.Querier, customerID string, limit int) ([]*RiskEvent, error)
}

// Service owns the customer lifecycle: it mints the processor-side identity
// on a user's first billing interaction and serves reads.
type Service struct {
	store  Directory
	q      database.Querier
	gw     Gateway
	logger *slog.Logger
}

// NewService creates a customer service.
func NewService(store Directory, q database.Querier, gw Gateway, logger *slog.Logger) *Service {
	return &Service{store: store, q: q, gw: gw, logger: logger}
}

// EnsureForUser returns the user's billing identity, registering a customer
// with the processor and recording it locally on first interaction.
func (s *Service) EnsureForUser(ctx context.Context, userID, email, name string) (*Customer, error) {
	if userID == "" {
		return nil, errs.NewValidation("user id is required")
	}

	c, err := s.store.GetByUserID(ctx, s.q, userID)
	if err == nil {
		return c, nil
	}
	if !errs.IsNotFound(err) {
		return nil, err
	}

	pc, err := s.gw.CreateCustomer(ctx, gateway.CreateCustomerRequest{
		UserID: userID,
		Email:  email,
		Name:   name,
	})
	if err != nil {
		return nil, err
	}

	c = New(userID, pc.ID, email, name)
	if err := s.store.Create(ctx, s.q, c); err != nil {
		// A concurrent first interaction won the insert; use its record.
		if errors.Is(err, database.ErrAlreadyExists) {
			return s.store.GetByUserID(ctx, s.q, userID)
		}
		return nil, err
	}

	s.logger.Info("customer created",
		"customer_id", c.ID,
		"processor_customer_id", c.ProcessorCustomerID,
	)
	return c, nil
}

// Get returns a customer with its instruments and recent risk events.
func (s *Service) Get(ctx context.Context, id string) (*Customer, []*Instrument, []*RiskEvent, error) {
	c, err := s.store.GetByID(ctx, s.q, id)
	if err != nil {
		return nil, nil, nil, err
	}
	instruments, err := s.store.ListInstruments(ctx, s.q, c.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	riskEvents, err := s.store.ListRiskEvents(ctx, s.q, c.ID, 50)
	if err != nil {
		return nil, nil, nil, err
	}
	return c, instruments, riskEvents, nil
}

// DetachInstrument asks the processor to drop one of the customer's saved
// instruments. The local row is removed when the detached event reconciles.
func (s *Service) DetachInstrument(ctx context.Context, customerID, processorInstrumentID string) error {
	c, err := s.store.GetByID(ctx, s.q, customerID)
	if err != nil {
		return err
	}

	instruments, err := s.store.ListInstruments(ctx, s.q, c.ID)
	if err != nil {
		return err
	}
	owned := false
	for _, inst := range instruments {
		if inst.ProcessorInstrumentID == processorInstrumentID {
			owned = true
			break
		}
	}
	if !owned {
		return errs.NewNotFound("instrument", processorInstrumentID)
	}

	return s.gw.DetachInstrument(ctx, processorInstrumentID)
}
