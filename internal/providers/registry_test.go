package providers

import (
	"errors"
	"testing"
	"time"

	"github.com/snapvend/snapvend/internal/config"
	"github.com/snapvend/snapvend/internal/providers/domain"
	"github.com/snapvend/snapvend/internal/providers/paystack"
	"github.com/snapvend/snapvend/internal/providers/stripe"
)

func TestRegistryOnlyHoldsConfiguredProviders(t *testing.T) {
	cfg := config.Config{
		ProviderTimeout: 5 * time.Second,
		Providers: config.ProvidersConfig{
			Stripe: config.ProviderCredentials{
				SecretKey:     "sk_test",
				WebhookSecret: "whsec_test",
				BaseURL:       "https://api.stripe.com",
			},
		},
	}

	registry, err := NewRegistry(cfg, stripe.NewFactory(), paystack.NewFactory())
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}

	if !registry.Exists(domain.ProviderStripe) {
		t.Fatal("expected stripe to be registered")
	}
	if registry.Exists(domain.ProviderPaystack) {
		t.Fatal("paystack has no credentials, must not be registered")
	}

	if _, err := registry.Client(domain.ProviderStripe); err != nil {
		t.Fatalf("stripe client: %v", err)
	}
	if _, err := registry.Adapter(domain.ProviderPaystack); !errors.Is(err, domain.ErrProviderNotFound) {
		t.Fatalf("expected ErrProviderNotFound, got %v", err)
	}
}

func TestRegistryLookupIsCaseInsensitive(t *testing.T) {
	cfg := config.Config{
		ProviderTimeout: 5 * time.Second,
		Providers: config.ProvidersConfig{
			Paystack: config.ProviderCredentials{
				SecretKey: "sk_test",
				BaseURL:   "https://api.paystack.co",
			},
		},
	}

	registry, err := NewRegistry(cfg, paystack.NewFactory())
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	if !registry.Exists(" Paystack ") {
		t.Fatal("expected trimmed case-insensitive lookup to succeed")
	}
}
