package payment

import (
	"context"
	"time"

	"subpay/internal/common/database"
	"subpay/internal/risk"
)

// History adapts the payment store to the risk engine's reader interface,
// bound to a fixed Querier (normally the pool).
type History struct {
	store *Store
	q     database.Querier
}

// NewHistory creates a history reader over the given Querier.
func NewHistory(store *Store, q database.Querier) *History {
	return &History{store: store, q: q}
}

var _ risk.HistoryReader = (*History)(nil)

func (h *History) CountFailedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	return h.store.CountByStatusSince(ctx, h.q, userID, StatusFailed, since)
}

func (h *History) CountAttemptsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	return h.store.CountAttemptsSince(ctx, h.q, userID, since)
}

func (h *History) SumSucceededSince(ctx context.Context, userID string, since time.Time) ([]risk.CurrencySum, error) {
	sums, err := h.store.SumSucceededSince(ctx, h.q, userID, since)
	if err != nil {
		return nil, err
	}
	out := make([]risk.CurrencySum, len(sums))
	for i, s := range sums {
		out[i] = risk.CurrencySum{Currency: s.Currency, AmountMinor: s.AmountMinor}
	}
	return out, nil
}

func (h *History) StatsSince(ctx context.Context, userID string, since time.Time) (risk.History, error) {
	st, err := h.store.StatsSince(ctx, h.q, userID, since)
	if err != nil {
		return risk.History{}, err
	}
	return risk.History{Total: st.Total, Failed: st.Failed, Disputed: st.Disputed}, nil
}
