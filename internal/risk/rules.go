package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// The checks below are pure functions over their inputs. Each returns a zero
// Signal when nothing is wrong, so the aggregator can skip empty reasons.

// CheckBlockedCountry denies payments whose card country is embargoed.
func CheckBlockedCountry(country string, blocked map[string]bool) Signal {
	if country == "" || !blocked[country] {
		return Signal{Level: LevelLow}
	}
	return Signal{
		Level:  LevelCritical,
		Reason: fmt.Sprintf("Payments blocked from country: %s", country),
		Deny:   true,
	}
}

// CheckFailureVelocity denies a user who keeps failing attempts.
func CheckFailureVelocity(recentFailures, maxFailures int) Signal {
	if recentFailures < maxFailures {
		return Signal{Level: LevelLow}
	}
	return Signal{
		Level:  LevelCritical,
		Reason: "Too many failed payment attempts",
		Deny:   true,
	}
}

// CheckAttemptBurst denies rapid-fire attempts inside a short window. The
// count excludes the attempt being assessed.
func CheckAttemptBurst(recentAttempts, maxAttempts int) Signal {
	if recentAttempts <= maxAttempts {
		return Signal{Level: LevelLow}
	}
	return Signal{
		Level:  LevelHigh,
		Reason: "Too many payment attempts in a short period",
		Deny:   true,
	}
}

// CheckHighRiskCountry soft-flags countries on the watch list. Unlike the
// blocklist it never denies on its own.
func CheckHighRiskCountry(country string, highRisk map[string]bool) Signal {
	if country == "" || !highRisk[country] {
		return Signal{Level: LevelLow}
	}
	return Signal{
		Level:  LevelMedium,
		Reason: fmt.Sprintf("Payment from high-risk country: %s", country),
	}
}

// CheckPrepaidCard flags prepaid instruments, which correlate with abuse.
func CheckPrepaidCard(funding string) Signal {
	if funding != "prepaid" {
		return Signal{Level: LevelLow}
	}
	return Signal{
		Level:  LevelMedium,
		Reason: "Prepaid card used",
	}
}

// CheckAmount flags a single attempt approaching the daily ceiling on its own.
func CheckAmount(amountMinor int64, currency string, dailyCeilingUSD int64) Signal {
	amount := NormalizeUSD(amountMinor, currency)
	threshold := decimal.NewFromInt(dailyCeilingUSD).Mul(decimal.RequireFromString("0.8"))
	if amount.LessThan(threshold) {
		return Signal{Level: LevelLow}
	}
	return Signal{
		Level:  LevelMedium,
		Reason: "Unusually large payment amount",
	}
}

// CheckSpendCeilings flags the daily and monthly spend ceilings. The current
// attempt counts toward both windows.
func CheckSpendCeilings(pc PaymentContext, daily, monthly []CurrencySum, dailyCeilingUSD, monthlyCeilingUSD int64) []Signal {
	attempt := NormalizeUSD(pc.AmountMinor, pc.Currency)

	var signals []Signal
	if SumUSD(daily).Add(attempt).GreaterThan(decimal.NewFromInt(dailyCeilingUSD)) {
		signals = append(signals, Signal{
			Level:  LevelHigh,
			Reason: "Daily spending limit exceeded",
		})
	}
	if SumUSD(monthly).Add(attempt).GreaterThan(decimal.NewFromInt(monthlyCeilingUSD)) {
		signals = append(signals, Signal{
			Level:  LevelHigh,
			Reason: "Monthly spending limit exceeded",
		})
	}
	return signals
}

// CheckHistoryRates denies users whose longer-term failure or dispute rate
// is out of line. Small samples are ignored so new users are not punished
// for one early decline.
func CheckHistoryRates(stats History, maxFailurePct, maxDisputePct, minSamples int) []Signal {
	if stats.Total < minSamples {
		return nil
	}

	var signals []Signal
	if stats.Failed*100 > stats.Total*maxFailurePct {
		signals = append(signals, Signal{
			Level:  LevelCritical,
			Reason: "Failure rate too high over recent history",
			Deny:   true,
		})
	}
	if stats.Disputed*100 > stats.Total*maxDisputePct {
		signals = append(signals, Signal{
			Level:  LevelCritical,
			Reason: "Dispute rate too high over recent history",
			Deny:   true,
		})
	}
	return signals
}
