package payment

import (
	"context"
	"log/slog"

	"subpay/internal/common/database"
	"subpay/internal/common/errs"
	"subpay/internal/common/money"
	"subpay/internal/customer"
	"subpay/internal/gateway"
	"subpay/internal/risk"
)

// Gateway is the subset of the processor client the service needs.
type Gateway interface {
	CreatePaymentAttempt(ctx context.Context, req gateway.CreateAttemptRequest) (*gateway.PaymentAttempt, error)
}

// RiskGate decides whether an attempt may proceed and scores it.
type RiskGate interface {
	CheckPayment(ctx context.Context, pc risk.PaymentContext) (risk.Decision, error)
	ScorePayment(ctx context.Context, pc risk.PaymentContext) (risk.Score, error)
}

// Customers resolves a user's billing identity.
type Customers interface {
	EnsureForUser(ctx context.Context, userID, email, name string) (*customer.Customer, error)
}

// AttemptStore is the persistence the service needs.
type AttemptStore interface {
	Create(ctx context.Context, q database.Querier, p *Payment) error
	GetByID(ctx context.Context, q database.Querier, id string) (*Payment, error)
	ListRefunds(ctx context.Context, q database.Querier, paymentID string) ([]*Refund, error)
	ListAudit(ctx context.Context, q database.Querier, paymentID string) ([]*AuditEntry, error)
}

// Service creates payment attempts: it resolves the customer, gates the
// attempt through risk, registers it with the processor, and records the
// local pending payment.
type Service struct {
	store     AttemptStore
	q         database.Querier
	gw        Gateway
	gate      RiskGate
	customers Customers
	logger    *slog.Logger
}

// NewService creates a payment service.
func NewService(store AttemptStore, q database.Querier, gw Gateway, gate RiskGate, customers Customers, logger *slog.Logger) *Service {
	return &Service{store: store, q: q, gw: gw, gate: gate, customers: customers, logger: logger}
}

// CreateAttemptInput is the caller's request to start a payment.
type CreateAttemptInput struct {
	UserID      string
	Email       string
	Name        string
	Amount      money.Money
	Description string
	Country     string
	CardFunding string
}

// CreateAttemptResult carries either the created payment or a risk denial.
type CreateAttemptResult struct {
	Payment      *Payment      `json:"payment,omitempty"`
	RiskDecision risk.Decision `json:"risk_decision"`
	RiskScore    risk.Score    `json:"risk_score"`
	ClientSecret string        `json:"client_secret,omitempty"`
}

// CreateAttempt runs the full attempt-creation flow. A risk denial is a
// normal outcome, not an error: the result carries the decision and no
// payment record is created. Allowed attempts are scored and the numeric
// score is stored as the payment's risk annotation.
func (s *Service) CreateAttempt(ctx context.Context, in CreateAttemptInput) (*CreateAttemptResult, error) {
	if in.UserID == "" {
		return nil, errs.NewValidation("user id is required")
	}
	if !in.Amount.IsPositive() {
		return nil, errs.NewValidation("amount must be positive")
	}
	if !money.IsSupported(in.Amount.Currency) {
		return nil, errs.NewValidation("unsupported currency %q", in.Amount.Currency)
	}

	pc := risk.PaymentContext{
		UserID:      in.UserID,
		AmountMinor: in.Amount.AmountMinor,
		Currency:    string(in.Amount.Currency),
		Country:     in.Country,
		CardFunding: in.CardFunding,
	}

	decision, err := s.gate.CheckPayment(ctx, pc)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		s.logger.Warn("payment attempt denied by risk gate",
			"user_id", in.UserID,
			"level", decision.Level,
			"reasons", decision.Reasons,
		)
		return &CreateAttemptResult{RiskDecision: decision}, nil
	}

	score, err := s.gate.ScorePayment(ctx, pc)
	if err != nil {
		return nil, err
	}

	c, err := s.customers.EnsureForUser(ctx, in.UserID, in.Email, in.Name)
	if err != nil {
		return nil, err
	}

	attempt, err := s.gw.CreatePaymentAttempt(ctx, gateway.CreateAttemptRequest{
		CustomerID:  c.ProcessorCustomerID,
		AmountMinor: in.Amount.AmountMinor,
		Currency:    string(in.Amount.Currency),
		Metadata:    map[string]string{"user_id": in.UserID},
	})
	if err != nil {
		return nil, err
	}

	p := New(in.UserID, attempt.ID, in.Amount)
	p.CustomerID = c.ID
	p.ClientSecret = attempt.ClientSecret
	p.Description = in.Description
	p.RiskLevel = string(decision.Level)
	p.RiskScore = score.Value

	if err := s.store.Create(ctx, s.q, p); err != nil {
		return nil, err
	}

	s.logger.Info("payment attempt created",
		"payment_id", p.ID,
		"processor_attempt_id", attempt.ID,
		"amount", p.Amount.String(),
		"risk_level", p.RiskLevel,
		"risk_score", p.RiskScore,
	)

	return &CreateAttemptResult{
		Payment:      p,
		RiskDecision: decision,
		RiskScore:    score,
		ClientSecret: attempt.ClientSecret,
	}, nil
}

// Get returns a payment with its refunds and audit trail.
func (s *Service) Get(ctx context.Context, id string) (*Payment, []*Refund, []*AuditEntry, error) {
	p, err := s.store.GetByID(ctx, s.q, id)
	if err != nil {
		return nil, nil, nil, err
	}
	refunds, err := s.store.ListRefunds(ctx, s.q, id)
	if err != nil {
		return nil, nil, nil, err
	}
	audit, err := s.store.ListAudit(ctx, s.q, id)
	if err != nil {
		return nil, nil, nil, err
	}
	return p, refunds, audit, nil
}
