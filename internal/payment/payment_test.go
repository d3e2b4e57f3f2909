package payment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subpay/internal/common/money"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusRequiresInstrument, StatusRequiresConfirmation, true},
		{StatusRequiresInstrument, StatusCanceled, true},
		{StatusRequiresInstrument, StatusFailed, true},
		// Deliveries can collapse: succeeded may be the first event seen.
		{StatusRequiresInstrument, StatusSucceeded, true},
		{StatusRequiresConfirmation, StatusRequiresAction, true},
		{StatusRequiresConfirmation, StatusProcessing, true},
		{StatusRequiresConfirmation, StatusSucceeded, true},
		{StatusRequiresAction, StatusProcessing, true},
		{StatusRequiresAction, StatusSucceeded, true},
		{StatusProcessing, StatusRequiresCapture, true},
		{StatusProcessing, StatusSucceeded, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusCanceled, true},
		{StatusRequiresCapture, StatusSucceeded, true},
		{StatusRequiresCapture, StatusCanceled, true},
		// No edge ever runs backward or out of a terminal state.
		{StatusProcessing, StatusRequiresConfirmation, false},
		{StatusRequiresCapture, StatusProcessing, false},
		{StatusSucceeded, StatusFailed, false},
		{StatusSucceeded, StatusProcessing, false},
		{StatusFailed, StatusProcessing, false},
		{StatusCanceled, StatusSucceeded, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, StatusSucceeded.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCanceled.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.False(t, StatusRequiresAction.IsTerminal())
	assert.False(t, StatusRequiresCapture.IsTerminal())
}

func TestTransitionRejectsUnknownStatus(t *testing.T) {
	p := New("user_1", "pi_1", money.New(2999, money.USD))
	err := p.Transition(Status("bogus"))
	assert.ErrorContains(t, err, "unknown payment status")
}

func TestMarkSucceededRecordsFeeAndNet(t *testing.T) {
	p := New("user_1", "pi_1", money.NewFromMajor(29.99, money.USD))
	require.NoError(t, p.Transition(StatusRequiresConfirmation))
	require.NoError(t, p.Transition(StatusProcessing))

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := p.MarkSucceeded(100, CardSnapshot{Fingerprint: "fp_1", Country: "US", Funding: "credit"}, at)
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, p.Status)
	assert.Equal(t, int64(2999), p.Amount.AmountMinor)
	assert.Equal(t, int64(100), p.FeeAmount)
	assert.Equal(t, int64(2899), p.NetAmount())
	assert.Equal(t, "fp_1", p.CardFingerprint)
	require.NotNil(t, p.SucceededAt)
	assert.Equal(t, at, *p.SucceededAt)
}

func TestMarkSucceededTwiceFails(t *testing.T) {
	p := New("user_1", "pi_1", money.New(2999, money.USD))
	require.NoError(t, p.Transition(StatusRequiresConfirmation))
	require.NoError(t, p.MarkSucceeded(100, CardSnapshot{}, time.Now()))

	err := p.MarkSucceeded(100, CardSnapshot{}, time.Now())
	assert.ErrorContains(t, err, "illegal payment transition")
	assert.Equal(t, int64(100), p.FeeAmount)
}

func TestMarkFailedRecordsDetail(t *testing.T) {
	p := New("user_1", "pi_1", money.New(2999, money.USD))
	require.NoError(t, p.Transition(StatusRequiresConfirmation))
	require.NoError(t, p.MarkFailed("card_declined", "Your card was declined.", "insufficient_funds"))

	assert.Equal(t, StatusFailed, p.Status)
	assert.Equal(t, "card_declined", p.FailureCode)
	assert.Equal(t, "insufficient_funds", p.DeclineCode)
}

func TestSucceededRefundTotal(t *testing.T) {
	refunds := []*Refund{
		{AmountMinor: 500, Status: RefundSucceeded},
		{AmountMinor: 300, Status: RefundPending},
		{AmountMinor: 200, Status: RefundSucceeded},
		{AmountMinor: 900, Status: RefundFailed},
	}
	assert.Equal(t, int64(700), SucceededRefundTotal(refunds))
	assert.Equal(t, int64(0), SucceededRefundTotal(nil))
}
