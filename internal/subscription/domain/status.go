package domain

import (
	"strings"

	plandomain "github.com/snapvend/snapvend/internal/plan/domain"
)

// statusMaps translate a provider's raw subscription status to the canonical
// one, keyed by scope first. The same provider string may land differently
// per scope: a creator subscription that needs attention suspends the
// creator's ability to accept payments, so it maps to past_due, while an
// attendee subscription in the same provider state stays active until the
// provider gives up.
var statusMaps = map[string]map[string]map[string]string{
	plandomain.ScopeCreator: {
		"stripe": {
			"active":             StatusActive,
			"trialing":           StatusActive,
			"past_due":           StatusPastDue,
			"unpaid":             StatusPastDue,
			"incomplete":         StatusPastDue,
			"incomplete_expired": StatusCancelled,
			"paused":             StatusPastDue,
			"canceled":           StatusCancelled,
		},
		"paypal": {
			"active":    StatusActive,
			"approved":  StatusActive,
			"suspended": StatusPastDue,
			"expired":   StatusCancelled,
			"cancelled": StatusCancelled,
		},
		"paystack": {
			"active":       StatusActive,
			"attention":    StatusPastDue,
			"non-renewing": StatusActive,
			"complete":     StatusCancelled,
			"cancelled":    StatusCancelled,
		},
		"flutterwave": {
			"active":    StatusActive,
			"cancelled": StatusCancelled,
		},
	},
	plandomain.ScopeAttendee: {
		"stripe": {
			"active":             StatusActive,
			"trialing":           StatusActive,
			"past_due":           StatusActive,
			"unpaid":             StatusPastDue,
			"incomplete":         StatusPastDue,
			"incomplete_expired": StatusCancelled,
			"paused":             StatusPastDue,
			"canceled":           StatusCancelled,
		},
		"paypal": {
			"active":    StatusActive,
			"approved":  StatusActive,
			"suspended": StatusActive,
			"expired":   StatusCancelled,
			"cancelled": StatusCancelled,
		},
		"paystack": {
			"active":       StatusActive,
			"attention":    StatusActive,
			"non-renewing": StatusActive,
			"complete":     StatusCancelled,
			"cancelled":    StatusCancelled,
		},
		"flutterwave": {
			"active":    StatusActive,
			"cancelled": StatusCancelled,
		},
	},
	plandomain.ScopeVault: {
		"stripe": {
			"active":             StatusActive,
			"trialing":           StatusActive,
			"past_due":           StatusPastDue,
			"unpaid":             StatusPastDue,
			"incomplete":         StatusPastDue,
			"incomplete_expired": StatusCancelled,
			"paused":             StatusPastDue,
			"canceled":           StatusCancelled,
		},
		"paypal": {
			"active":    StatusActive,
			"approved":  StatusActive,
			"suspended": StatusPastDue,
			"expired":   StatusCancelled,
			"cancelled": StatusCancelled,
		},
		"paystack": {
			"active":    StatusActive,
			"attention": StatusPastDue,
			"complete":  StatusCancelled,
			"cancelled": StatusCancelled,
		},
		"flutterwave": {
			"active":    StatusActive,
			"cancelled": StatusCancelled,
		},
	},
}

// CanonicalStatus maps a provider status string to the canonical status for
// the given scope. Unknown statuses degrade to past_due rather than active:
// an unrecognized provider state must never grant access.
func CanonicalStatus(scope, provider, providerStatus string) string {
	status := strings.ToLower(strings.TrimSpace(providerStatus))
	if byProvider, ok := statusMaps[scope]; ok {
		if byStatus, ok := byProvider[strings.ToLower(provider)]; ok {
			if canonical, ok := byStatus[status]; ok {
				return canonical
			}
		}
	}
	switch status {
	case "active", "trialing", "approved":
		return StatusActive
	case "cancelled", "canceled", "expired", "complete":
		return StatusCancelled
	default:
		return StatusPastDue
	}
}
