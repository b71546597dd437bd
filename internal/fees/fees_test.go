package fees

import (
	"errors"
	"testing"

	"github.com/snapvend/snapvend/internal/config"
)

func testCalculator() *Calculator {
	cfg := config.DefaultPricingConfig()
	cfg.ExchangeRates = map[string]float64{
		"USD/NGN": 1500,
		"USD/GHS": 15.5,
	}
	return NewCalculator(config.NewStaticPricingHolder(cfg))
}

func TestCalculateFeeConservation(t *testing.T) {
	calc := testCalculator()

	for _, provider := range []string{"stripe", "paypal", "flutterwave", "paystack"} {
		for _, gross := range []int64{100, 999, 1000, 2500, 4900, 123457} {
			calc, err := calc.Calculate(provider, gross, "USD", "USD")
			if err != nil {
				t.Fatalf("Calculate(%s, %d): %v", provider, gross, err)
			}
			feeSum := calc.PlatformFeeCents + calc.ProviderFeeCents + calc.TransactionFeeCents
			if feeSum >= calc.GrossCents {
				// Net is floored at zero when fees swallow the whole amount.
				if calc.NetCents != 0 {
					t.Fatalf("net = %d, want 0 when fees exceed gross", calc.NetCents)
				}
				continue
			}
			sum := calc.NetCents + feeSum
			diff := calc.GrossCents - sum
			if diff < -1 || diff > 1 {
				t.Fatalf("fee conservation violated for %s gross=%d: gross=%d sum=%d",
					provider, gross, calc.GrossCents, sum)
			}
		}
	}
}

func TestCalculateStripeBreakdown(t *testing.T) {
	calc := testCalculator()

	got, err := calc.Calculate("stripe", 1000, "USD", "USD")
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if got.PlatformFeeCents != 100 {
		t.Fatalf("platform fee = %d, want 100", got.PlatformFeeCents)
	}
	// 2.9% of 1000 = 29, plus 30 fixed.
	if got.ProviderFeeCents != 59 {
		t.Fatalf("provider fee = %d, want 59", got.ProviderFeeCents)
	}
	if got.TransactionFeeCents != 20 {
		t.Fatalf("transaction fee = %d, want 20", got.TransactionFeeCents)
	}
	if got.NetCents != 821 {
		t.Fatalf("net = %d, want 821", got.NetCents)
	}
}

func TestCalculateNetFlooredAtZero(t *testing.T) {
	calc := testCalculator()

	got, err := calc.Calculate("paystack", 100, "USD", "USD")
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if got.NetCents < 0 {
		t.Fatalf("net = %d, must never be negative", got.NetCents)
	}
}

func TestCalculateConvertsCurrency(t *testing.T) {
	calc := testCalculator()

	got, err := calc.Calculate("paystack", 1000, "USD", "NGN")
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if got.GrossCents != 1500000 {
		t.Fatalf("converted gross = %d, want 1500000", got.GrossCents)
	}
	if got.OriginalCents != 1000 {
		t.Fatalf("original = %d, want 1000", got.OriginalCents)
	}
	if got.ExchangeRate != 1500 {
		t.Fatalf("exchange rate = %v, want 1500", got.ExchangeRate)
	}
	if got.Currency != "NGN" || got.BaseCurrency != "USD" {
		t.Fatalf("currencies = %s/%s", got.Currency, got.BaseCurrency)
	}
}

func TestConvertInverseRate(t *testing.T) {
	calc := testCalculator()

	got, rate, err := calc.Convert(1500000, "NGN", "USD")
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if got != 1000 {
		t.Fatalf("converted = %d, want 1000", got)
	}
	if rate <= 0 {
		t.Fatalf("rate = %v", rate)
	}
}

func TestConvertMissingRate(t *testing.T) {
	calc := testCalculator()

	if _, _, err := calc.Convert(100, "USD", "JPY"); !errors.Is(err, ErrNoExchangeRate) {
		t.Fatalf("err = %v, want ErrNoExchangeRate", err)
	}
}

func TestCalculateUnknownProvider(t *testing.T) {
	calc := testCalculator()

	if _, err := calc.Calculate("square", 1000, "USD", "USD"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("err = %v, want ErrUnknownProvider", err)
	}
}

func TestCalculateRejectsNonPositiveAmount(t *testing.T) {
	calc := testCalculator()

	if _, err := calc.Calculate("stripe", 0, "USD", "USD"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("err = %v, want ErrInvalidAmount", err)
	}
}
