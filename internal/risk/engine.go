// Package risk evaluates payment attempts before they reach the processor.
// It exposes two assessment paths: a boolean allow/deny gate built from
// named checks, and a numeric 0-100 score used for soft routing decisions.
package risk

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level grades the severity of a risk finding.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// rank orders levels for worst-of aggregation.
func (l Level) rank() int {
	switch l {
	case LevelCritical:
		return 3
	case LevelHigh:
		return 2
	case LevelMedium:
		return 1
	default:
		return 0
	}
}

// Config holds the tunable thresholds for the gate checks. Ceilings are
// expressed in reference currency (USD) major units.
type Config struct {
	DailyCeilingUSD    int64         `envconfig:"RISK_DAILY_CEILING_USD" default:"500"`
	MonthlyCeilingUSD  int64         `envconfig:"RISK_MONTHLY_CEILING_USD" default:"5000"`
	MaxFailures        int           `envconfig:"RISK_MAX_FAILURES" default:"5"`
	FailureWindow      time.Duration `envconfig:"RISK_FAILURE_WINDOW" default:"24h"`
	MaxBurstAttempts   int           `envconfig:"RISK_MAX_BURST_ATTEMPTS" default:"3"`
	BurstWindow        time.Duration `envconfig:"RISK_BURST_WINDOW" default:"10m"`
	BlockedCountries   string        `envconfig:"RISK_BLOCKED_COUNTRIES" default:"IR,KP,SY,CU"`
	HighRiskCountries  string        `envconfig:"RISK_HIGH_RISK_COUNTRIES" default:"NG,PK,VE,BD,RO"`
	HistoryWindow      time.Duration `envconfig:"RISK_HISTORY_WINDOW" default:"720h"`
	MaxFailureRatePct  int           `envconfig:"RISK_MAX_FAILURE_RATE_PCT" default:"30"`
	MaxDisputeRatePct  int           `envconfig:"RISK_MAX_DISPUTE_RATE_PCT" default:"10"`
	MinHistorySamples  int           `envconfig:"RISK_MIN_HISTORY_SAMPLES" default:"5"`
}

// BlockedCountrySet parses the configured hard blocklist.
func (c Config) BlockedCountrySet() map[string]bool {
	return parseCountrySet(c.BlockedCountries)
}

// HighRiskCountrySet parses the configured soft watch list.
func (c Config) HighRiskCountrySet() map[string]bool {
	return parseCountrySet(c.HighRiskCountries)
}

func parseCountrySet(list string) map[string]bool {
	set := make(map[string]bool)
	for _, cc := range strings.Split(list, ",") {
		cc = strings.ToUpper(strings.TrimSpace(cc))
		if cc != "" {
			set[cc] = true
		}
	}
	return set
}

// CurrencySum is a per-currency spend total from the payment history.
type CurrencySum struct {
	Currency    string
	AmountMinor int64
}

// History summarizes a user's recent payment outcomes.
type History struct {
	Total    int
	Failed   int
	Disputed int
}

// HistoryReader supplies the payment history a gate evaluation needs.
type HistoryReader interface {
	CountFailedSince(ctx context.Context, userID string, since time.Time) (int, error)
	CountAttemptsSince(ctx context.Context, userID string, since time.Time) (int, error)
	SumSucceededSince(ctx context.Context, userID string, since time.Time) ([]CurrencySum, error)
	StatsSince(ctx context.Context, userID string, since time.Time) (History, error)
}

// PaymentContext is the input to an assessment.
type PaymentContext struct {
	UserID      string
	AmountMinor int64
	Currency    string
	Country     string // card issuing or billing country, ISO 3166-1 alpha-2
	CardFunding string // credit, debit, prepaid
	AccountAge  time.Duration
}

// Signal is one finding from a single check.
type Signal struct {
	Level  Level
	Reason string
	Deny   bool
}

// Decision is the outcome of the boolean gate.
type Decision struct {
	Allowed bool     `json:"allowed"`
	Level   Level    `json:"level"`
	Reasons []string `json:"reasons,omitempty"`
}

// Engine runs the gate checks and the numeric scorer.
type Engine struct {
	cfg      Config
	history  HistoryReader
	blocked  map[string]bool
	highRisk map[string]bool
	now      func() time.Time
	logger   *slog.Logger
}

// NewEngine creates a risk engine.
func NewEngine(cfg Config, history HistoryReader, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		history:  history,
		blocked:  cfg.BlockedCountrySet(),
		highRisk: cfg.HighRiskCountrySet(),
		now:      time.Now,
		logger:   logger,
	}
}

// CheckPayment runs every gate check and aggregates the findings into one
// decision. Checks that need independent history queries run concurrently;
// a history read failure fails the assessment rather than silently allowing.
func (e *Engine) CheckPayment(ctx context.Context, pc PaymentContext) (Decision, error) {
	signals := []Signal{
		CheckBlockedCountry(pc.Country, e.blocked),
		CheckHighRiskCountry(pc.Country, e.highRisk),
		CheckPrepaidCard(pc.CardFunding),
		CheckAmount(pc.AmountMinor, pc.Currency, e.cfg.DailyCeilingUSD),
	}

	now := e.now()

	type result struct {
		signals []Signal
		err     error
	}
	results := make([]result, 4)
	var wg sync.WaitGroup
	run := func(i int, fn func() ([]Signal, error)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := fn()
			results[i] = result{signals: s, err: err}
		}()
	}

	run(0, func() ([]Signal, error) {
		n, err := e.history.CountFailedSince(ctx, pc.UserID, now.Add(-e.cfg.FailureWindow))
		if err != nil {
			return nil, err
		}
		return []Signal{CheckFailureVelocity(n, e.cfg.MaxFailures)}, nil
	})
	run(1, func() ([]Signal, error) {
		n, err := e.history.CountAttemptsSince(ctx, pc.UserID, now.Add(-e.cfg.BurstWindow))
		if err != nil {
			return nil, err
		}
		return []Signal{CheckAttemptBurst(n, e.cfg.MaxBurstAttempts)}, nil
	})
	run(2, func() ([]Signal, error) {
		daily, err := e.history.SumSucceededSince(ctx, pc.UserID, now.Add(-24*time.Hour))
		if err != nil {
			return nil, err
		}
		monthly, err := e.history.SumSucceededSince(ctx, pc.UserID, now.Add(-30*24*time.Hour))
		if err != nil {
			return nil, err
		}
		return CheckSpendCeilings(pc, daily, monthly, e.cfg.DailyCeilingUSD, e.cfg.MonthlyCeilingUSD), nil
	})
	run(3, func() ([]Signal, error) {
		stats, err := e.history.StatsSince(ctx, pc.UserID, now.Add(-e.cfg.HistoryWindow))
		if err != nil {
			return nil, err
		}
		return CheckHistoryRates(stats, e.cfg.MaxFailureRatePct, e.cfg.MaxDisputeRatePct, e.cfg.MinHistorySamples), nil
	})
	wg.Wait()

	for _, r := range results {
		if r.err != nil {
			return Decision{}, r.err
		}
		signals = append(signals, r.signals...)
	}

	decision := Aggregate(signals)
	e.logger.Info("risk gate evaluated",
		"user_id", pc.UserID,
		"allowed", decision.Allowed,
		"level", decision.Level,
		"reasons", len(decision.Reasons),
	)
	return decision, nil
}

// Aggregate folds individual findings into one decision. Escalation is
// worst-of with pile-up: any critical is critical, two highs make critical,
// one high stays high, two mediums make high, one medium stays medium.
func Aggregate(signals []Signal) Decision {
	var reasons []string
	var deny bool
	var criticals, highs, mediums int

	for _, s := range signals {
		if s.Reason == "" {
			continue
		}
		reasons = append(reasons, s.Reason)
		if s.Deny {
			deny = true
		}
		switch s.Level {
		case LevelCritical:
			criticals++
		case LevelHigh:
			highs++
		case LevelMedium:
			mediums++
		}
	}

	level := LevelLow
	switch {
	case criticals > 0 || highs >= 2:
		level = LevelCritical
	case highs == 1:
		level = LevelHigh
	case mediums >= 2:
		level = LevelHigh
	case mediums == 1:
		level = LevelMedium
	}

	sort.Strings(reasons)
	return Decision{
		Allowed: !deny && level != LevelCritical,
		Level:   level,
		Reasons: reasons,
	}
}
