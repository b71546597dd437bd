package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PricingConfig holds the tunable money tables: platform fee, per-provider fee
// schedules, bulk price tiers, country routing and currency defaults. It is
// hot-reloadable so fee changes do not require a deploy.
type PricingConfig struct {
	PlatformFeePercent  float64            `mapstructure:"platformFeePercent"`
	TransactionFeeCents int64              `mapstructure:"transactionFeeCents"`
	UnlockAllPriceCents int64              `mapstructure:"unlockAllPriceCents"`
	ProviderFees        []ProviderFee      `mapstructure:"providerFees"`
	BulkTiers           []BulkTier         `mapstructure:"bulkTiers"`
	CountryGateways     []CountryGateway   `mapstructure:"countryGateways"`
	CountryCurrencies   map[string]string  `mapstructure:"countryCurrencies"`
	ExchangeRates       map[string]float64 `mapstructure:"exchangeRates"`
}

// ProviderFee is the provider's published fee schedule: a percentage of the
// gross plus a fixed per-transaction amount in minor units.
type ProviderFee struct {
	Provider   string  `mapstructure:"provider"`
	Percent    float64 `mapstructure:"percent"`
	FixedCents int64   `mapstructure:"fixedCents"`
}

// BulkTier prices a photo-count range. MaxPhotos nil means "or more".
type BulkTier struct {
	MinPhotos  int   `mapstructure:"minPhotos"`
	MaxPhotos  *int  `mapstructure:"maxPhotos"`
	PriceCents int64 `mapstructure:"priceCents"`
}

// CountryGateway orders gateway preference for a country code.
type CountryGateway struct {
	Country  string   `mapstructure:"country"`
	Gateways []string `mapstructure:"gateways"`
}

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		PlatformFeePercent:  10,
		TransactionFeeCents: 20,
		UnlockAllPriceCents: 4900,
		ProviderFees: []ProviderFee{
			{Provider: "stripe", Percent: 2.9, FixedCents: 30},
			{Provider: "paypal", Percent: 3.49, FixedCents: 49},
			{Provider: "flutterwave", Percent: 1.4, FixedCents: 0},
			{Provider: "paystack", Percent: 1.5, FixedCents: 100},
		},
		BulkTiers: []BulkTier{
			{MinPhotos: 1, MaxPhotos: intPtr(5), PriceCents: 1000},
			{MinPhotos: 6, MaxPhotos: intPtr(20), PriceCents: 2500},
			{MinPhotos: 21, MaxPhotos: nil, PriceCents: 4000},
		},
		CountryGateways: []CountryGateway{
			{Country: "NG", Gateways: []string{"paystack", "flutterwave"}},
			{Country: "GH", Gateways: []string{"flutterwave", "paystack"}},
			{Country: "KE", Gateways: []string{"flutterwave", "paystack"}},
			{Country: "ZA", Gateways: []string{"flutterwave", "stripe"}},
			{Country: "US", Gateways: []string{"stripe", "paypal"}},
			{Country: "CA", Gateways: []string{"stripe", "paypal"}},
			{Country: "GB", Gateways: []string{"stripe", "paypal"}},
			{Country: "DE", Gateways: []string{"stripe", "paypal"}},
			{Country: "FR", Gateways: []string{"stripe", "paypal"}},
			{Country: "AU", Gateways: []string{"stripe", "paypal"}},
		},
		CountryCurrencies: map[string]string{
			"NG": "NGN", "GH": "GHS", "KE": "KES", "ZA": "ZAR",
			"US": "USD", "CA": "CAD", "GB": "GBP", "DE": "EUR",
			"FR": "EUR", "AU": "AUD",
		},
		ExchangeRates: map[string]float64{
			"USD/NGN": 1580, "USD/GHS": 15.6, "USD/KES": 129, "USD/ZAR": 18.2,
			"USD/CAD": 1.36, "USD/GBP": 0.78, "USD/EUR": 0.92, "USD/AUD": 1.52,
		},
	}
}

func intPtr(v int) *int { return &v }

// PricingHolder exposes the current PricingConfig behind an atomic swap.
type PricingHolder struct {
	current atomic.Value // holds PricingConfig
}

func NewPricingHolder() (*PricingHolder, error) {
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/snapvend/config")
	v.AddConfigPath("/etc/snapvend")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SNAPVEND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := DefaultPricingConfig()
	if v.IsSet("pricing") {
		if err := v.UnmarshalKey("pricing", &cfg); err != nil {
			return nil, err
		}
	}
	if err := ValidatePricingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &PricingHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated := DefaultPricingConfig()
		if err := v.UnmarshalKey("pricing", &updated); err != nil {
			log.Printf("[pricing-config] reload failed: %v", err)
			return
		}
		if err := ValidatePricingConfig(updated); err != nil {
			log.Printf("[pricing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[pricing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func NewStaticPricingHolder(cfg PricingConfig) *PricingHolder {
	holder := &PricingHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *PricingHolder) Current() PricingConfig {
	return h.current.Load().(PricingConfig)
}

// ValidatePricingConfig rejects overlapping or non-monotonic bulk tiers and
// malformed fee schedules. A bad table is a configuration error, never a
// runtime fallback.
func ValidatePricingConfig(cfg PricingConfig) error {
	if cfg.PlatformFeePercent < 0 || cfg.PlatformFeePercent > 100 {
		return errors.New("pricing: platformFeePercent out of range")
	}
	if cfg.TransactionFeeCents < 0 {
		return errors.New("pricing: transactionFeeCents negative")
	}
	for _, fee := range cfg.ProviderFees {
		if strings.TrimSpace(fee.Provider) == "" {
			return errors.New("pricing: providerFees entry missing provider")
		}
		if fee.Percent < 0 || fee.Percent > 100 || fee.FixedCents < 0 {
			return fmt.Errorf("pricing: invalid fee schedule for %s", fee.Provider)
		}
	}

	prevMax := 0
	for i, tier := range cfg.BulkTiers {
		if tier.MinPhotos <= 0 {
			return fmt.Errorf("pricing: bulk tier %d has non-positive minPhotos", i)
		}
		if tier.PriceCents < 0 {
			return fmt.Errorf("pricing: bulk tier %d has negative price", i)
		}
		if tier.MinPhotos != prevMax+1 {
			return fmt.Errorf("pricing: bulk tier %d not contiguous with previous tier", i)
		}
		if tier.MaxPhotos == nil {
			if i != len(cfg.BulkTiers)-1 {
				return fmt.Errorf("pricing: open-ended bulk tier %d must be last", i)
			}
			break
		}
		if *tier.MaxPhotos < tier.MinPhotos {
			return fmt.Errorf("pricing: bulk tier %d has maxPhotos below minPhotos", i)
		}
		prevMax = *tier.MaxPhotos
	}
	return nil
}
