package subscription

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"subpay/internal/common/database"
	"subpay/internal/common/errs"
)

// Store persists subscription records.
type Store struct{}

// NewStore creates a subscription store.
func NewStore() *Store {
	return &Store{}
}

const subscriptionColumns = `
	id, user_id, customer_id, processor_subscription_id, plan_ref, status,
	accounts_created, period_transactions,
	current_period_start, current_period_end, trial_start, trial_end,
	cancel_at, canceled_at, created_at, updated_at
`

// Create inserts a subscription record.
func (s *Store) Create(ctx context.Context, q database.Querier, sub *Subscription) error {
	_, err := q.Exec(ctx, `
		INSERT INTO subscriptions (
			id, user_id, customer_id, processor_subscription_id, plan_ref, status,
			accounts_created, period_transactions,
			current_period_start, current_period_end, trial_start, trial_end,
			cancel_at, canceled_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		sub.ID, sub.UserID, nullStr(sub.CustomerID), sub.ProcessorSubscriptionID, sub.PlanRef, sub.Status,
		sub.AccountsCreated, sub.PeriodTransactions,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.TrialStart, sub.TrialEnd,
		sub.CancelAt, sub.CanceledAt, sub.CreatedAt, sub.UpdatedAt,
	)
	if database.IsUniqueViolation(err) {
		return database.ErrAlreadyExists
	}
	return err
}

// GetByID retrieves a subscription by its local id.
func (s *Store) GetByID(ctx context.Context, q database.Querier, id string) (*Subscription, error) {
	row := q.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	sub, err := scanSubscription(row)
	if database.IsNotFound(err) {
		return nil, errs.NewNotFound("subscription", id)
	}
	return sub, err
}

// GetByProcessorID retrieves a subscription by the processor's id.
func (s *Store) GetByProcessorID(ctx context.Context, q database.Querier, processorID string) (*Subscription, error) {
	row := q.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE processor_subscription_id = $1`, processorID)
	sub, err := scanSubscription(row)
	if database.IsNotFound(err) {
		return nil, errs.NewNotFound("subscription", processorID)
	}
	return sub, err
}

// ListByUser returns a user's subscriptions, newest first.
func (s *Store) ListByUser(ctx context.Context, q database.Querier, userID string) ([]*Subscription, error) {
	rows, err := q.Query(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// Update persists the mutable fields of a subscription.
func (s *Store) Update(ctx context.Context, q database.Querier, sub *Subscription) error {
	sub.UpdatedAt = time.Now().UTC()
	_, err := q.Exec(ctx, `
		UPDATE subscriptions SET
			customer_id = $2, plan_ref = $3, status = $4,
			accounts_created = $5, period_transactions = $6,
			current_period_start = $7, current_period_end = $8,
			trial_start = $9, trial_end = $10,
			cancel_at = $11, canceled_at = $12, updated_at = $13
		WHERE id = $1
	`,
		sub.ID, nullStr(sub.CustomerID), sub.PlanRef, sub.Status,
		sub.AccountsCreated, sub.PeriodTransactions,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.TrialStart, sub.TrialEnd,
		sub.CancelAt, sub.CanceledAt, sub.UpdatedAt,
	)
	return err
}

// IncrementUsage bumps the per-period counters. Collaborating services call
// this when a plan-limited action happens; deltas may be zero.
func (s *Store) IncrementUsage(ctx context.Context, q database.Querier, id string, accounts, transactions int) error {
	tag, err := q.Exec(ctx, `
		UPDATE subscriptions SET
			accounts_created = accounts_created + $2,
			period_transactions = period_transactions + $3,
			updated_at = now()
		WHERE id = $1
	`, id, accounts, transactions)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.NewNotFound("subscription", id)
	}
	return nil
}

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var sub Subscription
	var customerID *string

	err := row.Scan(
		&sub.ID, &sub.UserID, &customerID, &sub.ProcessorSubscriptionID, &sub.PlanRef, &sub.Status,
		&sub.AccountsCreated, &sub.PeriodTransactions,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.TrialStart, &sub.TrialEnd,
		&sub.CancelAt, &sub.CanceledAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if customerID != nil {
		sub.CustomerID = *customerID
	}
	return &sub, nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
