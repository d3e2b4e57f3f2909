package risk

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Bucket labels a numeric score range.
type Bucket string

const (
	BucketNormal   Bucket = "normal"   // score < 30
	BucketElevated Bucket = "elevated" // 30 <= score < 70
	BucketHighest  Bucket = "highest"  // score >= 70
)

// Factor is one contribution to a numeric score.
type Factor struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
}

// Score is the numeric assessment of a payment attempt.
type Score struct {
	Value   int      `json:"value"` // 0-100
	Bucket  Bucket   `json:"bucket"`
	Factors []Factor `json:"factors,omitempty"`
}

// ScoreInput carries the history-derived values the scorer weighs alongside
// the payment context.
type ScoreInput struct {
	RecentFailures int
	BurstAttempts  int
	Stats          History
}

// ScorePayment gathers history and produces a numeric score for the attempt.
func (e *Engine) ScorePayment(ctx context.Context, pc PaymentContext) (Score, error) {
	now := e.now()

	failures, err := e.history.CountFailedSince(ctx, pc.UserID, now.Add(-e.cfg.FailureWindow))
	if err != nil {
		return Score{}, err
	}
	burst, err := e.history.CountAttemptsSince(ctx, pc.UserID, now.Add(-e.cfg.BurstWindow))
	if err != nil {
		return Score{}, err
	}
	stats, err := e.history.StatsSince(ctx, pc.UserID, now.Add(-e.cfg.HistoryWindow))
	if err != nil {
		return Score{}, err
	}

	score := ComputeScore(pc, ScoreInput{
		RecentFailures: failures,
		BurstAttempts:  burst,
		Stats:          stats,
	}, e.blocked, e.highRisk, e.cfg.DailyCeilingUSD)

	e.logger.Info("risk score computed",
		"user_id", pc.UserID,
		"score", score.Value,
		"bucket", score.Bucket,
	)
	return score, nil
}

// ComputeScore weighs the attempt into a 0-100 score. Each triggered factor
// adds a fixed number of points; the sum is clamped at 100.
func ComputeScore(pc PaymentContext, in ScoreInput, blocked, highRisk map[string]bool, dailyCeilingUSD int64) Score {
	var factors []Factor
	add := func(name string, points int) {
		factors = append(factors, Factor{Name: name, Points: points})
	}

	switch {
	case pc.Country != "" && blocked[pc.Country]:
		add("blocked_country", 100)
	case pc.Country != "" && highRisk[pc.Country]:
		add("high_risk_country", 20)
	}

	amount := NormalizeUSD(pc.AmountMinor, pc.Currency)
	ceiling := decimal.NewFromInt(dailyCeilingUSD)
	switch {
	case amount.GreaterThan(ceiling):
		add("amount_over_ceiling", 40)
	case amount.GreaterThan(ceiling.Mul(decimal.RequireFromString("0.5"))):
		add("amount_large", 20)
	}

	switch {
	case in.RecentFailures >= 5:
		add("failure_velocity", 50)
	case in.RecentFailures >= 3:
		add("failure_velocity", 30)
	case in.RecentFailures >= 1:
		add("failure_velocity", 10)
	}

	if in.BurstAttempts > 3 {
		add("attempt_burst", 25)
	}

	if pc.CardFunding == "prepaid" {
		add("prepaid_card", 15)
	}

	if pc.AccountAge > 0 && pc.AccountAge < 24*time.Hour {
		add("new_account", 15)
	}

	if in.Stats.Total >= 5 {
		if in.Stats.Failed*100 > in.Stats.Total*30 {
			add("history_failure_rate", 35)
		}
		if in.Stats.Disputed*100 > in.Stats.Total*10 {
			add("history_dispute_rate", 45)
		}
	}

	total := 0
	for _, f := range factors {
		total += f.Points
	}
	if total > 100 {
		total = 100
	}

	return Score{Value: total, Bucket: BucketFor(total), Factors: factors}
}

// BucketFor maps a numeric score onto its bucket.
func BucketFor(score int) Bucket {
	switch {
	case score >= 70:
		return BucketHighest
	case score >= 30:
		return BucketElevated
	default:
		return BucketNormal
	}
}
