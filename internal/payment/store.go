package payment

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"

	"subpay/internal/common/database"
	"subpay/internal/common/errs"
)

// Store persists payment records. Methods take a database.Querier so they
// run identically against the pool or inside a reconciliation transaction.
type Store struct{}

// NewStore creates a payment store.
func NewStore() *Store {
	return &Store{}
}

// Create inserts a new payment record.
func (s *Store) Create(ctx context.Context, q database.Querier, p *Payment) error {
	query := `
		INSERT INTO payments (
			id, user_id, customer_id, processor_attempt_id, client_secret,
			amount_minor, currency, fee_minor, refunded_minor, status,
			description, failure_code, failure_message, decline_code,
			card_fingerprint, card_country, card_funding, disputed, risk_level, risk_score,
			created_at, updated_at, succeeded_at, canceled_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24
		)
	`

	_, err := q.Exec(ctx, query,
		p.ID, p.UserID, nullStr(p.CustomerID), p.ProcessorAttemptID, nullStr(p.ClientSecret),
		p.Amount.AmountMinor, p.Amount.Currency, p.FeeAmount, p.RefundedAmount, p.Status,
		nullStr(p.Description), nullStr(p.FailureCode), nullStr(p.FailureMessage), nullStr(p.DeclineCode),
		nullStr(p.CardFingerprint), nullStr(p.CardCountry), nullStr(p.CardFunding), p.Disputed, nullStr(p.RiskLevel), p.RiskScore,
		p.CreatedAt, p.UpdatedAt, p.SucceededAt, p.CanceledAt,
	)
	if database.IsUniqueViolation(err) {
		return database.ErrAlreadyExists
	}
	return err
}

const paymentColumns = `
	id, user_id, customer_id, processor_attempt_id, client_secret,
	amount_minor, currency, fee_minor, refunded_minor, status,
	description, failure_code, failure_message, decline_code,
	card_fingerprint, card_country, card_funding, disputed, risk_level, risk_score,
	created_at, updated_at, succeeded_at, canceled_at
`

// GetByID retrieves a payment by its local id.
func (s *Store) GetByID(ctx context.Context, q database.Querier, id string) (*Payment, error) {
	row := q.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	p, err := scanPayment(row)
	if database.IsNotFound(err) {
		return nil, errs.NewNotFound("payment", id)
	}
	return p, err
}

// GetByProcessorID retrieves a payment by the processor's attempt id. This
// is the lookup every inbound payment event resolves through.
func (s *Store) GetByProcessorID(ctx context.Context, q database.Querier, attemptID string) (*Payment, error) {
	row := q.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE processor_attempt_id = $1`, attemptID)
	p, err := scanPayment(row)
	if database.IsNotFound(err) {
		return nil, errs.NewNotFound("payment", attemptID)
	}
	return p, err
}

// Update persists the mutable fields of a payment.
func (s *Store) Update(ctx context.Context, q database.Querier, p *Payment) error {
	query := `
		UPDATE payments SET
			customer_id = $2, client_secret = $3, fee_minor = $4, refunded_minor = $5, status = $6,
			failure_code = $7, failure_message = $8, decline_code = $9,
			card_fingerprint = $10, card_country = $11, card_funding = $12,
			disputed = $13, risk_level = $14, risk_score = $15,
			updated_at = $16, succeeded_at = $17, canceled_at = $18
		WHERE id = $1
	`

	p.UpdatedAt = time.Now().UTC()

	_, err := q.Exec(ctx, query,
		p.ID, nullStr(p.CustomerID), nullStr(p.ClientSecret), p.FeeAmount, p.RefundedAmount, p.Status,
		nullStr(p.FailureCode), nullStr(p.FailureMessage), nullStr(p.DeclineCode),
		nullStr(p.CardFingerprint), nullStr(p.CardCountry), nullStr(p.CardFunding),
		p.Disputed, nullStr(p.RiskLevel), p.RiskScore,
		p.UpdatedAt, p.SucceededAt, p.CanceledAt,
	)
	return err
}

// AppendStatusHistory records one status edge in the payment's history.
func (s *Store) AppendStatusHistory(ctx context.Context, q database.Querier, change *StatusChange) error {
	if change.ID == "" {
		change.ID = ulid.Make().String()
	}
	_, err := q.Exec(ctx, `
		INSERT INTO payment_status_history (id, payment_id, from_status, to_status, event_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, change.ID, change.PaymentID, change.FromStatus, change.ToStatus, nullStr(change.EventID), change.OccurredAt)
	return err
}

// AppendAudit records one reconciliation audit entry. A redelivered event is
// absorbed by the (payment_id, event_id) uniqueness and reported as applied=false.
func (s *Store) AppendAudit(ctx context.Context, q database.Querier, entry *AuditEntry) (applied bool, err error) {
	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	tag, err := q.Exec(ctx, `
		INSERT INTO payment_events (id, payment_id, event_id, event_type, summary, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (payment_id, event_id) DO NOTHING
	`, entry.ID, entry.PaymentID, entry.EventID, entry.EventType, nullStr(entry.Summary), entry.OccurredAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListAudit returns the audit trail for a payment, oldest first.
func (s *Store) ListAudit(ctx context.Context, q database.Querier, paymentID string) ([]*AuditEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT id, payment_id, event_id, event_type, summary, occurred_at
		FROM payment_events WHERE payment_id = $1
		ORDER BY occurred_at ASC, id ASC
	`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		var summary *string
		if err := rows.Scan(&e.ID, &e.PaymentID, &e.EventID, &e.EventType, &summary, &e.OccurredAt); err != nil {
			return nil, err
		}
		if summary != nil {
			e.Summary = *summary
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// UpsertRefund inserts or updates one refund keyed by the processor refund id.
func (s *Store) UpsertRefund(ctx context.Context, q database.Querier, r *Refund) error {
	if r.ID == "" {
		r.ID = ulid.Make().String()
	}
	r.UpdatedAt = time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = r.UpdatedAt
	}
	_, err := q.Exec(ctx, `
		INSERT INTO payment_refunds (id, payment_id, processor_refund_id, amount_minor, reason, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (processor_refund_id) DO UPDATE SET
			amount_minor = EXCLUDED.amount_minor,
			reason = EXCLUDED.reason,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
	`, r.ID, r.PaymentID, r.ProcessorRefundID, r.AmountMinor, nullStr(r.Reason), r.Status, r.CreatedAt, r.UpdatedAt)
	return err
}

// ListRefunds returns the refund sub-ledger for a payment.
func (s *Store) ListRefunds(ctx context.Context, q database.Querier, paymentID string) ([]*Refund, error) {
	rows, err := q.Query(ctx, `
		SELECT id, payment_id, processor_refund_id, amount_minor, reason, status, created_at, updated_at
		FROM payment_refunds WHERE payment_id = $1
		ORDER BY created_at ASC
	`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refunds []*Refund
	for rows.Next() {
		var r Refund
		var reason *string
		if err := rows.Scan(&r.ID, &r.PaymentID, &r.ProcessorRefundID, &r.AmountMinor, &reason, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		if reason != nil {
			r.Reason = *reason
		}
		refunds = append(refunds, &r)
	}
	return refunds, rows.Err()
}

// RecomputeRefundedAmount derives the payment's refunded total from its
// succeeded refunds, clamped to the payment amount, and persists it.
func (s *Store) RecomputeRefundedAmount(ctx context.Context, q database.Querier, p *Payment) error {
	refunds, err := s.ListRefunds(ctx, q, p.ID)
	if err != nil {
		return err
	}
	total := SucceededRefundTotal(refunds)
	if total > p.Amount.AmountMinor {
		total = p.Amount.AmountMinor
	}
	p.RefundedAmount = total
	_, err = q.Exec(ctx, `UPDATE payments SET refunded_minor = $2, updated_at = now() WHERE id = $1`, p.ID, total)
	return err
}

// UpsertDispute inserts or updates a dispute keyed by the processor dispute id.
func (s *Store) UpsertDispute(ctx context.Context, q database.Querier, d *Dispute) error {
	if d.ID == "" {
		d.ID = ulid.Make().String()
	}
	d.UpdatedAt = time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = d.UpdatedAt
	}
	_, err := q.Exec(ctx, `
		INSERT INTO payment_disputes (id, payment_id, processor_dispute_id, amount_minor, currency, reason, status, evidence_due_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (processor_dispute_id) DO UPDATE SET
			reason = EXCLUDED.reason,
			status = EXCLUDED.status,
			evidence_due_by = EXCLUDED.evidence_due_by,
			updated_at = EXCLUDED.updated_at
	`, d.ID, d.PaymentID, d.ProcessorDisputeID, d.AmountMinor, d.Currency, nullStr(d.Reason), d.Status, d.EvidenceDueBy, d.CreatedAt, d.UpdatedAt)
	return err
}

// CountByStatusSince counts a user's payments in a given status created
// after the cutoff. The risk checks lean on this for failure velocity.
func (s *Store) CountByStatusSince(ctx context.Context, q database.Querier, userID string, status Status, since time.Time) (int, error) {
	var n int
	err := q.QueryRow(ctx, `
		SELECT count(*) FROM payments
		WHERE user_id = $1 AND status = $2 AND created_at >= $3
	`, userID, status, since).Scan(&n)
	return n, err
}

// CountAttemptsSince counts all of a user's payment attempts after the cutoff.
func (s *Store) CountAttemptsSince(ctx context.Context, q database.Querier, userID string, since time.Time) (int, error) {
	var n int
	err := q.QueryRow(ctx, `
		SELECT count(*) FROM payments
		WHERE user_id = $1 AND created_at >= $2
	`, userID, since).Scan(&n)
	return n, err
}

// CurrencyAmount is a per-currency sum used for spend ceilings.
type CurrencyAmount struct {
	Currency    string
	AmountMinor int64
}

// SumSucceededSince sums a user's settled payments after the cutoff, grouped
// by currency so the caller can normalize across currencies.
func (s *Store) SumSucceededSince(ctx context.Context, q database.Querier, userID string, since time.Time) ([]CurrencyAmount, error) {
	rows, err := q.Query(ctx, `
		SELECT currency, coalesce(sum(amount_minor), 0)
		FROM payments
		WHERE user_id = $1 AND status = 'succeeded' AND created_at >= $2
		GROUP BY currency
	`, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sums []CurrencyAmount
	for rows.Next() {
		var ca CurrencyAmount
		if err := rows.Scan(&ca.Currency, &ca.AmountMinor); err != nil {
			return nil, err
		}
		sums = append(sums, ca)
	}
	return sums, rows.Err()
}

// HistoryStats summarizes a user's recent payment outcomes.
type HistoryStats struct {
	Total    int
	Failed   int
	Disputed int
}

// StatsSince returns outcome counts for a user's payments after the cutoff.
func (s *Store) StatsSince(ctx context.Context, q database.Querier, userID string, since time.Time) (HistoryStats, error) {
	var st HistoryStats
	err := q.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE status = 'failed'),
		       count(*) FILTER (WHERE disputed)
		FROM payments
		WHERE user_id = $1 AND created_at >= $2
	`, userID, since).Scan(&st.Total, &st.Failed, &st.Disputed)
	return st, err
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	var customerID, clientSecret, description, failureCode, failureMsg, declineCode *string
	var fingerprint, cardCountry, cardFunding, riskLevel *string

	err := row.Scan(
		&p.ID, &p.UserID, &customerID, &p.ProcessorAttemptID, &clientSecret,
		&p.Amount.AmountMinor, &p.Amount.Currency, &p.FeeAmount, &p.RefundedAmount, &p.Status,
		&description, &failureCode, &failureMsg, &declineCode,
		&fingerprint, &cardCountry, &cardFunding, &p.Disputed, &riskLevel, &p.RiskScore,
		&p.CreatedAt, &p.UpdatedAt, &p.SucceededAt, &p.CanceledAt,
	)
	if err != nil {
		return nil, err
	}

	if customerID != nil {
		p.CustomerID = *customerID
	}
	if clientSecret != nil {
		p.ClientSecret = *clientSecret
	}
	if description != nil {
		p.Description = *description
	}
	if failureCode != nil {
		p.FailureCode = *failureCode
	}
	if failureMsg != nil {
		p.FailureMessage = *failureMsg
	}
	if declineCode != nil {
		p.DeclineCode = *declineCode
	}
	if fingerprint != nil {
		p.CardFingerprint = *fingerprint
	}
	if cardCountry != nil {
		p.CardCountry = *cardCountry
	}
	if cardFunding != nil {
		p.CardFunding = *cardFunding
	}
	if riskLevel != nil {
		p.RiskLevel = *riskLevel
	}

	return &p, nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
