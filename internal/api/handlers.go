// Package api exposes the HTTP surface: the processor webhook endpoint,
// payment attempt creation, risk assessments, and record reads.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"subpay/internal/common/api"
	"subpay/internal/common/errs"
	"subpay/internal/common/middleware"
	"subpay/internal/common/money"
	"subpay/internal/customer"
	"subpay/internal/payment"
	"subpay/internal/reconcile"
	"subpay/internal/risk"
	"subpay/internal/subscription"
)

// SignatureHeader carries the processor's webhook signature.
const SignatureHeader = "Processor-Signature"

const maxWebhookBody = 1 << 20 // 1 MB

// HealthChecker reports the health of one dependency.
type HealthChecker func() error

// Handler holds the HTTP handlers and their dependencies.
type Handler struct {
	engine        *reconcile.Engine
	payments      *payment.Service
	riskEngine    *risk.Engine
	subscriptions *subscription.Service
	customers     *customer.Service
	logger        *slog.Logger
	ready         []HealthChecker
}

// NewHandler creates the API handler.
func NewHandler(
	engine *reconcile.Engine,
	payments *payment.Service,
	riskEngine *risk.Engine,
	subscriptions *subscription.Service,
	customers *customer.Service,
	logger *slog.Logger,
	ready ...HealthChecker,
) *Handler {
	return &Handler{
		engine:        engine,
		payments:      payments,
		riskEngine:    riskEngine,
		subscriptions: subscriptions,
		customers:     customers,
		logger:        logger,
		ready:         ready,
	}
}

// Routes builds the router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.CorrelationID)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(h.logger))
	r.Use(middleware.Recoverer(h.logger))

	r.Get("/healthz", h.health)
	r.Get("/readyz", h.readiness)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/webhooks/processor", h.handleWebhook)
		r.Post("/payments", h.createPayment)
		r.Get("/payments/{id}", h.getPayment)
		r.Post("/risk/assessments", h.assessRisk)
		r.Post("/subscriptions", h.createSubscription)
		r.Get("/subscriptions/{id}", h.getSubscription)
		r.Post("/subscriptions/{id}/cancel", h.cancelSubscription)
		r.Get("/users/{userID}/subscriptions", h.listUserSubscriptions)
		r.Get("/customers/{id}", h.getCustomer)
		r.Delete("/customers/{id}/instruments/{instrumentID}", h.detachInstrument)
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	api.WriteData(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	for _, check := range h.ready {
		if err := check(); err != nil {
			api.WriteError(w, http.StatusServiceUnavailable, api.ErrCodeInternalError, err.Error())
			return
		}
	}
	api.WriteData(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleWebhook is the inbound event endpoint. A duplicate delivery and a
// skipped event both acknowledge with 200 so the processor stops retrying;
// a reconciliation failure answers 500 to request redelivery.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, api.ErrCodeBadRequest, "reading request body")
		return
	}

	result, err := h.engine.HandleEvent(r.Context(), payload, r.Header.Get(SignatureHeader))
	if err != nil {
		if errs.IsReconciliation(err) {
			h.logger.Error("reconciliation failed",
				"correlation_id", middleware.GetCorrelationID(r.Context()),
				"error", err,
			)
			api.WriteError(w, http.StatusInternalServerError, api.ErrCodeInternalError, "event application failed")
			return
		}
		api.WriteFromError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, result)
}

type createPaymentRequest struct {
	UserID      string  `json:"user_id" validate:"required"`
	Email       string  `json:"email" validate:"omitempty,email"`
	Name        string  `json:"name"`
	Amount      float64 `json:"amount" validate:"required,gt=0"`
	Currency    string  `json:"currency" validate:"required,len=3"`
	Description string  `json:"description"`
	Country     string  `json:"country"`
	CardFunding string  `json:"card_funding"`
}

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	result, err := h.payments.CreateAttempt(r.Context(), payment.CreateAttemptInput{
		UserID:      req.UserID,
		Email:       req.Email,
		Name:        req.Name,
		Amount:      money.NewFromMajor(req.Amount, money.Currency(req.Currency)),
		Description: req.Description,
		Country:     req.Country,
		CardFunding: req.CardFunding,
	})
	if err != nil {
		api.WriteFromError(w, err)
		return
	}

	// A risk denial is a decision, not a protocol failure.
	if result.Payment == nil {
		api.WriteData(w, http.StatusOK, result)
		return
	}
	api.WriteData(w, http.StatusCreated, result)
}

type paymentResponse struct {
	Payment *payment.Payment      `json:"payment"`
	Refunds []*payment.Refund     `json:"refunds,omitempty"`
	Audit   []*payment.AuditEntry `json:"audit,omitempty"`
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	p, refunds, audit, err := h.payments.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.WriteFromError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, paymentResponse{Payment: p, Refunds: refunds, Audit: audit})
}

type assessRiskRequest struct {
	UserID      string  `json:"user_id" validate:"required"`
	Amount      float64 `json:"amount" validate:"required,gt=0"`
	Currency    string  `json:"currency" validate:"required,len=3"`
	Country     string  `json:"country"`
	CardFunding string  `json:"card_funding"`
}

type assessRiskResponse struct {
	Decision risk.Decision `json:"decision"`
	Score    risk.Score    `json:"score"`
}

func (h *Handler) assessRisk(w http.ResponseWriter, r *http.Request) {
	var req assessRiskRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	amount := money.NewFromMajor(req.Amount, money.Currency(req.Currency))
	pc := risk.PaymentContext{
		UserID:      req.UserID,
		AmountMinor: amount.AmountMinor,
		Currency:    req.Currency,
		Country:     req.Country,
		CardFunding: req.CardFunding,
	}

	decision, err := h.riskEngine.CheckPayment(r.Context(), pc)
	if err != nil {
		api.WriteFromError(w, err)
		return
	}
	score, err := h.riskEngine.ScorePayment(r.Context(), pc)
	if err != nil {
		api.WriteFromError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, assessRiskResponse{Decision: decision, Score: score})
}

type createSubscriptionRequest struct {
	UserID    string `json:"user_id" validate:"required"`
	Email     string `json:"email" validate:"omitempty,email"`
	Name      string `json:"name"`
	PlanRef   string `json:"plan_ref" validate:"required"`
	TrialDays int    `json:"trial_days" validate:"gte=0"`
}

type subscriptionResponse struct {
	Subscription *subscription.Subscription `json:"subscription"`
	IsActive     bool                       `json:"is_active"`
}

func (h *Handler) createSubscription(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	sub, err := h.subscriptions.Create(r.Context(), subscription.CreateInput{
		UserID:    req.UserID,
		Email:     req.Email,
		Name:      req.Name,
		PlanRef:   req.PlanRef,
		TrialDays: req.TrialDays,
	})
	if err != nil {
		api.WriteFromError(w, err)
		return
	}
	api.WriteData(w, http.StatusCreated, subscriptionResponse{Subscription: sub, IsActive: sub.IsActive()})
}

func (h *Handler) getSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subscriptions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.WriteFromError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, subscriptionResponse{Subscription: sub, IsActive: sub.IsActive()})
}

type cancelSubscriptionRequest struct {
	AtPeriodEnd bool `json:"at_period_end"`
}

func (h *Handler) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	// An empty body means an immediate cancel.
	var req cancelSubscriptionRequest
	if err := api.DecodeAndValidate(r, &req); err != nil && !errors.Is(err, io.EOF) {
		api.ValidationError(w, err)
		return
	}

	sub, err := h.subscriptions.Cancel(r.Context(), chi.URLParam(r, "id"), req.AtPeriodEnd)
	if err != nil {
		api.WriteFromError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, subscriptionResponse{Subscription: sub, IsActive: sub.IsActive()})
}

func (h *Handler) listUserSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.subscriptions.ListByUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		api.WriteFromError(w, err)
		return
	}
	out := make([]subscriptionResponse, len(subs))
	for i, sub := range subs {
		out[i] = subscriptionResponse{Subscription: sub, IsActive: sub.IsActive()}
	}
	api.WriteData(w, http.StatusOK, out)
}

type customerResponse struct {
	Customer    *customer.Customer     `json:"customer"`
	Instruments []*customer.Instrument `json:"instruments,omitempty"`
	RiskEvents  []*customer.RiskEvent  `json:"risk_events,omitempty"`
}

func (h *Handler) getCustomer(w http.ResponseWriter, r *http.Request) {
	c, instruments, riskEvents, err := h.customers.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.WriteFromError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, customerResponse{Customer: c, Instruments: instruments, RiskEvents: riskEvents})
}

// detachInstrument removes a saved instrument processor-side; the local row
// follows when the detachment event reconciles.
func (h *Handler) detachInstrument(w http.ResponseWriter, r *http.Request) {
	err := h.customers.DetachInstrument(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "instrumentID"))
	if err != nil {
		api.WriteFromError(w, err)
		return
	}
	api.WriteData(w, http.StatusAccepted, map[string]string{"status": "detaching"})
}

// Server wraps http.Server with sane timeouts.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr            string        `envconfig:"HTTP_ADDR" default:":8080"`
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
}

// NewServer creates the HTTP server around the handler's routes.
func NewServer(cfg ServerConfig, h *Handler, logger *slog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         cfg.Addr,
			Handler:      h.Routes(),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: logger,
	}
}

// ListenAndServe starts serving. It returns http.ErrServerClosed on shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.srv.Addr)
	return s.srv.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
