package risk

import (
	"github.com/shopspring/decimal"

	"subpay/internal/common/money"
)

// usdRates converts one major unit of a currency into USD. Static reference
// rates are good enough here: ceilings are coarse thresholds, not accounting.
var usdRates = map[money.Currency]decimal.Decimal{
	money.USD: decimal.NewFromInt(1),
	money.EUR: decimal.RequireFromString("1.08"),
	money.GBP: decimal.RequireFromString("1.27"),
	money.JPY: decimal.RequireFromString("0.0067"),
}

// NormalizeUSD converts a minor-unit amount into USD major units. Unknown
// currencies convert at parity, which overstates rather than understates risk
// for every minor currency we could plausibly see.
func NormalizeUSD(amountMinor int64, currency string) decimal.Decimal {
	c := money.Currency(currency)
	info, ok := money.GetCurrencyInfo(c)
	if !ok {
		info = money.CurrencyInfo{MinorUnits: 2}
	}
	major := decimal.New(amountMinor, -int32(info.MinorUnits))

	rate, ok := usdRates[c]
	if !ok {
		rate = decimal.NewFromInt(1)
	}
	return major.Mul(rate)
}

// SumUSD normalizes and totals per-currency sums.
func SumUSD(sums []CurrencySum) decimal.Decimal {
	total := decimal.Zero
	for _, s := range sums {
		total = total.Add(NormalizeUSD(s.AmountMinor, s.Currency))
	}
	return total
}
