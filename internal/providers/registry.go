package providers

import (
	"strings"

	"github.com/snapvend/snapvend/internal/config"
	"github.com/snapvend/snapvend/internal/providers/domain"
)

type entry struct {
	client  domain.Client
	adapter domain.Adapter
}

// Registry holds the built client and webhook adapter for every configured
// provider. Providers without credentials are absent.
type Registry struct {
	entries map[string]entry
}

func NewRegistry(cfg config.Config, factories ...domain.Factory) (*Registry, error) {
	registry := &Registry{entries: map[string]entry{}}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		provider := strings.ToLower(strings.TrimSpace(factory.Provider()))
		creds, ok := credentialsFor(cfg, provider)
		if !ok || !creds.Configured() {
			continue
		}
		client, err := factory.NewClient(creds, cfg.ProviderTimeout)
		if err != nil {
			return nil, err
		}
		adapter, err := factory.NewAdapter(creds)
		if err != nil {
			return nil, err
		}
		registry.entries[provider] = entry{client: client, adapter: adapter}
	}
	return registry, nil
}

func credentialsFor(cfg config.Config, provider string) (config.ProviderCredentials, bool) {
	switch provider {
	case domain.ProviderStripe:
		return cfg.Providers.Stripe, true
	case domain.ProviderPayPal:
		return cfg.Providers.PayPal, true
	case domain.ProviderFlutterwave:
		return cfg.Providers.Flutterwave, true
	case domain.ProviderPaystack:
		return cfg.Providers.Paystack, true
	default:
		return config.ProviderCredentials{}, false
	}
}

func (r *Registry) Exists(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.entries[strings.ToLower(strings.TrimSpace(provider))]
	return ok
}

func (r *Registry) Client(provider string) (domain.Client, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	e, ok := r.entries[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return e.client, nil
}

func (r *Registry) Adapter(provider string) (domain.Adapter, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	e, ok := r.entries[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return e.adapter, nil
}

func (r *Registry) Providers() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.entries))
	for provider := range r.entries {
		out = append(out, provider)
	}
	return out
}
