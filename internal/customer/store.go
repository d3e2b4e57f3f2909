package customer

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"

	"subpay/internal/common/database"
	"subpay/internal/common/errs"
)

// Store persists customer records, instruments, and risk events.
type Store struct{}

// NewStore creates a customer store.
func NewStore() *Store {
	return &Store{}
}

const customerColumns = `
	id, user_id, processor_customer_id, email, name, country,
	risk_score, active, created_at, updated_at, deactivated_at
`

// Create inserts a customer record.
func (s *Store) Create(ctx context.Context, q database.Querier, c *Customer) error {
	_, err := q.Exec(ctx, `
		INSERT INTO customers (
			id, user_id, processor_customer_id, email, name, country,
			risk_score, active, created_at, updated_at, deactivated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		c.ID, c.UserID, c.ProcessorCustomerID, nullStr(c.Email), nullStr(c.Name), nullStr(c.Country),
		c.RiskScore, c.Active, c.CreatedAt, c.UpdatedAt, c.DeactivatedAt,
	)
	if database.IsUniqueViolation(err) {
		return database.ErrAlreadyExists
	}
	return err
}

// GetByID retrieves a customer by its local id.
func (s *Store) GetByID(ctx context.Context, q database.Querier, id string) (*Customer, error) {
	row := q.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id)
	c, err := scanCustomer(row)
	if database.IsNotFound(err) {
		return nil, errs.NewNotFound("customer", id)
	}
	return c, err
}

// GetByProcessorID retrieves a customer by the processor's id.
func (s *Store) GetByProcessorID(ctx context.Context, q database.Querier, processorID string) (*Customer, error) {
	row := q.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE processor_customer_id = $1`, processorID)
	c, err := scanCustomer(row)
	if database.IsNotFound(err) {
		return nil, errs.NewNotFound("customer", processorID)
	}
	return c, err
}

// GetByUserID retrieves a customer by the owning user.
func (s *Store) GetByUserID(ctx context.Context, q database.Querier, userID string) (*Customer, error) {
	row := q.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE user_id = $1`, userID)
	c, err := scanCustomer(row)
	if database.IsNotFound(err) {
		return nil, errs.NewNotFound("customer", userID)
	}
	return c, err
}

// Update persists the mutable fields of a customer.
func (s *Store) Update(ctx context.Context, q database.Querier, c *Customer) error {
	c.UpdatedAt = time.Now().UTC()
	_, err := q.Exec(ctx, `
		UPDATE customers SET
			email = $2, name = $3, country = $4, risk_score = $5,
			active = $6, updated_at = $7, deactivated_at = $8
		WHERE id = $1
	`,
		c.ID, nullStr(c.Email), nullStr(c.Name), nullStr(c.Country), c.RiskScore,
		c.Active, c.UpdatedAt, c.DeactivatedAt,
	)
	return err
}

const instrumentColumns = `
	id, customer_id, processor_instrument_id, type, brand, last4,
	exp_month, exp_year, fingerprint, country, funding, is_default,
	created_at, updated_at
`

// UpsertInstrument inserts or refreshes an instrument keyed by the
// processor's id.
func (s *Store) UpsertInstrument(ctx context.Context, q database.Querier, inst *Instrument) error {
	if inst.ID == "" {
		inst.ID = ulid.Make().String()
	}
	inst.UpdatedAt = time.Now().UTC()
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = inst.UpdatedAt
	}
	_, err := q.Exec(ctx, `
		INSERT INTO customer_instruments (
			id, customer_id, processor_instrument_id, type, brand, last4,
			exp_month, exp_year, fingerprint, country, funding, is_default,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (processor_instrument_id) DO UPDATE SET
			type = EXCLUDED.type,
			brand = EXCLUDED.brand,
			last4 = EXCLUDED.last4,
			exp_month = EXCLUDED.exp_month,
			exp_year = EXCLUDED.exp_year,
			fingerprint = EXCLUDED.fingerprint,
			country = EXCLUDED.country,
			funding = EXCLUDED.funding,
			updated_at = EXCLUDED.updated_at
	`,
		inst.ID, inst.CustomerID, inst.ProcessorInstrumentID, inst.Type, nullStr(inst.Brand), nullStr(inst.Last4),
		inst.ExpMonth, inst.ExpYear, nullStr(inst.Fingerprint), nullStr(inst.Country), nullStr(inst.Funding), inst.IsDefault,
		inst.CreatedAt, inst.UpdatedAt,
	)
	return err
}

// RemoveInstrument deletes an instrument by the processor's id.
func (s *Store) RemoveInstrument(ctx context.Context, q database.Querier, processorInstrumentID string) error {
	_, err := q.Exec(ctx, `DELETE FROM customer_instruments WHERE processor_instrument_id = $1`, processorInstrumentID)
	return err
}

// SetDefaultInstrument makes one instrument the default and clears the flag
// on every sibling. Both statements must run on the same Querier so the
// single-default invariant holds under a transaction.
func (s *Store) SetDefaultInstrument(ctx context.Context, q database.Querier, customerID, processorInstrumentID string) error {
	_, err := q.Exec(ctx, `
		UPDATE customer_instruments SET is_default = false, updated_at = now()
		WHERE customer_id = $1 AND is_default
	`, customerID)
	if err != nil {
		return err
	}
	tag, err := q.Exec(ctx, `
		UPDATE customer_instruments SET is_default = true, updated_at = now()
		WHERE customer_id = $1 AND processor_instrument_id = $2
	`, customerID, processorInstrumentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.NewNotFound("instrument", processorInstrumentID)
	}
	return nil
}

// ListInstruments returns a customer's instruments, default first.
func (s *Store) ListInstruments(ctx context.Context, q database.Querier, customerID string) ([]*Instrument, error) {
	rows, err := q.Query(ctx, `
		SELECT `+instrumentColumns+`
		FROM customer_instruments WHERE customer_id = $1
		ORDER BY is_default DESC, created_at ASC
	`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instruments []*Instrument
	for rows.Next() {
		var inst Instrument
		var brand, last4, fingerprint, country, funding *string
		if err := rows.Scan(
			&inst.ID, &inst.CustomerID, &inst.ProcessorInstrumentID, &inst.Type, &brand, &last4,
			&inst.ExpMonth, &inst.ExpYear, &fingerprint, &country, &funding, &inst.IsDefault,
			&inst.CreatedAt, &inst.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if brand != nil {
			inst.Brand = *brand
		}
		if last4 != nil {
			inst.Last4 = *last4
		}
		if fingerprint != nil {
			inst.Fingerprint = *fingerprint
		}
		if country != nil {
			inst.Country = *country
		}
		if funding != nil {
			inst.Funding = *funding
		}
		instruments = append(instruments, &inst)
	}
	return instruments, rows.Err()
}

// AddRiskEvent appends a risk signal and bumps the customer's running score.
// The score is clamped to 0..100.
func (s *Store) AddRiskEvent(ctx context.Context, q database.Querier, ev *RiskEvent) error {
	if ev.ID == "" {
		ev.ID = ulid.Make().String()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	_, err := q.Exec(ctx, `
		INSERT INTO customer_risk_events (id, customer_id, kind, detail, score_delta, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ev.ID, ev.CustomerID, ev.Kind, nullStr(ev.Detail), ev.ScoreDelta, ev.OccurredAt)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		UPDATE customers SET
			risk_score = least(100, greatest(0, risk_score + $2)),
			updated_at = now()
		WHERE id = $1
	`, ev.CustomerID, ev.ScoreDelta)
	return err
}

// ListRiskEvents returns a customer's risk events, newest first.
func (s *Store) ListRiskEvents(ctx context.Context, q database.Querier, customerID string, limit int) ([]*RiskEvent, error) {
	rows, err := q.Query(ctx, `
		SELECT id, customer_id, kind, detail, score_delta, occurred_at
		FROM customer_risk_events WHERE customer_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*RiskEvent
	for rows.Next() {
		var ev RiskEvent
		var detail *string
		if err := rows.Scan(&ev.ID, &ev.CustomerID, &ev.Kind, &detail, &ev.ScoreDelta, &ev.OccurredAt); err != nil {
			return nil, err
		}
		if detail != nil {
			ev.Detail = *detail
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

func scanCustomer(row pgx.Row) (*Customer, error) {
	var c Customer
	var email, name, country *string

	err := row.Scan(
		&c.ID, &c.UserID, &c.ProcessorCustomerID, &email, &name, &country,
		&c.RiskScore, &c.Active, &c.CreatedAt, &c.UpdatedAt, &c.DeactivatedAt,
	)
	if err != nil {
		return nil, err
	}

	if email != nil {
		c.Email = *email
	}
	if name != nil {
		c.Name = *name
	}
	if country != nil {
		c.Country = *country
	}
	return &c, nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
