package gateway

import (
	"fmt"
	"strings"

	"github.com/snapvend/snapvend/internal/config"
)

const (
	ReasonUserPreference    = "user_preference"
	ReasonCountryPreference = "country_preference"
	ReasonDefaultOrder      = "default_order"
)

const (
	CodeNoGatewayConfigured = "no_gateway_configured"
	CodeNoEligibleGateway   = "no_eligible_gateway"
)

// SelectionError is raised when no eligible gateway exists. FailClosed
// distinguishes "needs admin configuration" from transient conditions.
type SelectionError struct {
	Code       string
	FailClosed bool
	Message    string
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("gateway selection failed (%s): %s", e.Code, e.Message)
}

// Input carries everything the selector needs. PayeeGateways lists the
// providers for which the payee has an active wallet; nil means the product
// is platform-owned (subscriptions, drop-in credits) and any globally
// configured gateway is eligible.
type Input struct {
	Preference    string
	CountryCode   string
	PayeeGateways []string
}

// Selection is the resolved gateway plus the candidate list shown to the
// caller. AvailableGateways is deduplicated and always contains Gateway.
type Selection struct {
	Gateway           string   `json:"gateway"`
	Reason            string   `json:"reason"`
	AvailableGateways []string `json:"availableGateways"`
}

// Selector resolves which payment gateway handles a request. Pure decision
// logic: it never calls out, it only inspects configuration and the data the
// caller fetched.
type Selector struct {
	providers config.ProvidersConfig
	pricing   *config.PricingHolder
}

func NewSelector(cfg config.Config, pricing *config.PricingHolder) *Selector {
	return &Selector{providers: cfg.Providers, pricing: pricing}
}

// Select resolves the gateway, first match wins: explicit preference, then
// the country preference table, then default configuration order. Fails
// closed when no eligible gateway exists.
func (s *Selector) Select(in Input) (Selection, error) {
	configured := s.providers.ConfiguredGateways()
	if len(configured) == 0 {
		return Selection{}, &SelectionError{
			Code:       CodeNoGatewayConfigured,
			FailClosed: true,
			Message:    "no payment gateway is configured",
		}
	}

	available := configured
	if in.PayeeGateways != nil {
		available = intersect(configured, in.PayeeGateways)
	}
	available = dedupe(available)
	if len(available) == 0 {
		return Selection{}, &SelectionError{
			Code:       CodeNoEligibleGateway,
			FailClosed: true,
			Message:    "payee has no active account on any configured gateway",
		}
	}

	if pref := normalize(in.Preference); pref != "" && contains(available, pref) {
		return Selection{Gateway: pref, Reason: ReasonUserPreference, AvailableGateways: available}, nil
	}

	if country := normalizeCountry(in.CountryCode); country != "" {
		for _, preferred := range s.countryPreference(country) {
			if contains(available, preferred) {
				return Selection{Gateway: preferred, Reason: ReasonCountryPreference, AvailableGateways: available}, nil
			}
		}
	}

	return Selection{Gateway: available[0], Reason: ReasonDefaultOrder, AvailableGateways: available}, nil
}

func (s *Selector) countryPreference(country string) []string {
	for _, entry := range s.pricing.Current().CountryGateways {
		if normalizeCountry(entry.Country) == country {
			return entry.Gateways
		}
	}
	return nil
}

func intersect(configured, payee []string) []string {
	out := make([]string, 0, len(configured))
	for _, gw := range configured {
		if contains(payee, gw) {
			out = append(out, gw)
		}
	}
	return out
}

func dedupe(gateways []string) []string {
	seen := make(map[string]struct{}, len(gateways))
	out := make([]string, 0, len(gateways))
	for _, gw := range gateways {
		gw = normalize(gw)
		if gw == "" {
			continue
		}
		if _, ok := seen[gw]; ok {
			continue
		}
		seen[gw] = struct{}{}
		out = append(out, gw)
	}
	return out
}

func contains(gateways []string, target string) bool {
	for _, gw := range gateways {
		if normalize(gw) == target {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizeCountry(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
