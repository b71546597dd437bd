package fees

import (
	"errors"
	"math"
	"strings"

	"github.com/snapvend/snapvend/internal/config"
)

var (
	ErrUnknownProvider = errors.New("unknown payment provider")
	ErrNoExchangeRate  = errors.New("no exchange rate configured")
	ErrInvalidAmount   = errors.New("amount must be positive")
)

// Calculation is the fee breakdown for a single gross amount. All monetary
// values are integer minor units in Currency.
type Calculation struct {
	GrossCents          int64   `json:"grossCents"`
	OriginalCents       int64   `json:"originalCents"`
	PlatformFeeCents    int64   `json:"platformFeeCents"`
	ProviderFeeCents    int64   `json:"providerFeeCents"`
	TransactionFeeCents int64   `json:"transactionFeeCents"`
	NetCents            int64   `json:"netCents"`
	Currency            string  `json:"currency"`
	BaseCurrency        string  `json:"baseCurrency"`
	ExchangeRate        float64 `json:"exchangeRate"`
}

// Calculator computes fee breakdowns from the live pricing configuration.
// It has no side effects and is safe for concurrent use.
type Calculator struct {
	pricing *config.PricingHolder
}

func NewCalculator(pricing *config.PricingHolder) *Calculator {
	return &Calculator{pricing: pricing}
}

// Calculate converts grossCents from eventCurrency into txCurrency when they
// differ, then applies the platform, provider, and transaction fees. Net is
// floored at zero so rounding can never produce a negative payout.
func (c *Calculator) Calculate(provider string, grossCents int64, eventCurrency, txCurrency string) (Calculation, error) {
	if grossCents <= 0 {
		return Calculation{}, ErrInvalidAmount
	}

	cfg := c.pricing.Current()

	eventCurrency = normalizeCurrency(eventCurrency)
	txCurrency = normalizeCurrency(txCurrency)
	if txCurrency == "" {
		txCurrency = eventCurrency
	}

	original := grossCents
	gross := grossCents
	rate := 1.0
	if txCurrency != eventCurrency {
		converted, usedRate, err := convert(cfg, grossCents, eventCurrency, txCurrency)
		if err != nil {
			return Calculation{}, err
		}
		gross = converted
		rate = usedRate
	}

	schedule, ok := providerSchedule(cfg, provider)
	if !ok {
		return Calculation{}, ErrUnknownProvider
	}

	platformFee := roundHalfUp(float64(gross) * cfg.PlatformFeePercent / 100)
	providerFee := roundHalfUp(float64(gross)*schedule.Percent/100) + schedule.FixedCents
	transactionFee := cfg.TransactionFeeCents

	net := gross - platformFee - providerFee - transactionFee
	if net < 0 {
		net = 0
	}

	return Calculation{
		GrossCents:          gross,
		OriginalCents:       original,
		PlatformFeeCents:    platformFee,
		ProviderFeeCents:    providerFee,
		TransactionFeeCents: transactionFee,
		NetCents:            net,
		Currency:            txCurrency,
		BaseCurrency:        eventCurrency,
		ExchangeRate:        rate,
	}, nil
}

// Convert converts an amount between currencies using the configured rate
// table, rounding half-up to the nearest minor unit.
func (c *Calculator) Convert(amountCents int64, from, to string) (int64, float64, error) {
	return convert(c.pricing.Current(), amountCents, normalizeCurrency(from), normalizeCurrency(to))
}

func convert(cfg config.PricingConfig, amountCents int64, from, to string) (int64, float64, error) {
	if from == to {
		return amountCents, 1, nil
	}
	if rate, ok := cfg.ExchangeRates[from+"/"+to]; ok && rate > 0 {
		return roundHalfUp(float64(amountCents) * rate), rate, nil
	}
	if inverse, ok := cfg.ExchangeRates[to+"/"+from]; ok && inverse > 0 {
		rate := 1 / inverse
		return roundHalfUp(float64(amountCents) * rate), rate, nil
	}
	return 0, 0, ErrNoExchangeRate
}

func providerSchedule(cfg config.PricingConfig, provider string) (config.ProviderFee, bool) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	for _, fee := range cfg.ProviderFees {
		if fee.Provider == provider {
			return fee, true
		}
	}
	return config.ProviderFee{}, false
}

func normalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

func roundHalfUp(v float64) int64 {
	return int64(math.Floor(v + 0.5))
}
