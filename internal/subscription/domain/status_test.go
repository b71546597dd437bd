package domain_test

import (
	"testing"

	plandomain "github.com/snapvend/snapvend/internal/plan/domain"
	"github.com/snapvend/snapvend/internal/subscription/domain"
)

func TestCanonicalStatusPerScope(t *testing.T) {
	cases := []struct {
		name     string
		scope    string
		provider string
		status   string
		want     string
	}{
		{"stripe active", plandomain.ScopeCreator, "stripe", "active", domain.StatusActive},
		{"stripe trialing counts as active", plandomain.ScopeCreator, "stripe", "trialing", domain.StatusActive},
		{"creator past_due suspends", plandomain.ScopeCreator, "stripe", "past_due", domain.StatusPastDue},
		{"attendee past_due stays active", plandomain.ScopeAttendee, "stripe", "past_due", domain.StatusActive},
		{"creator paypal suspended", plandomain.ScopeCreator, "paypal", "suspended", domain.StatusPastDue},
		{"attendee paypal suspended stays active", plandomain.ScopeAttendee, "paypal", "suspended", domain.StatusActive},
		{"paystack attention on creator", plandomain.ScopeCreator, "paystack", "attention", domain.StatusPastDue},
		{"paystack non-renewing still active", plandomain.ScopeCreator, "paystack", "non-renewing", domain.StatusActive},
		{"vault unpaid", plandomain.ScopeVault, "stripe", "unpaid", domain.StatusPastDue},
		{"stripe incomplete_expired", plandomain.ScopeCreator, "stripe", "incomplete_expired", domain.StatusCancelled},
		{"case and whitespace normalized", plandomain.ScopeCreator, "stripe", "  Active ", domain.StatusActive},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := domain.CanonicalStatus(tc.scope, tc.provider, tc.status)
			if got != tc.want {
				t.Fatalf("CanonicalStatus(%q, %q, %q) = %q, want %q", tc.scope, tc.provider, tc.status, got, tc.want)
			}
		})
	}
}

func TestCanonicalStatusUnknownNeverGrantsAccess(t *testing.T) {
	got := domain.CanonicalStatus(plandomain.ScopeCreator, "stripe", "some_future_state")
	if got != domain.StatusPastDue {
		t.Fatalf("unknown status = %q, want past_due", got)
	}

	got = domain.CanonicalStatus("unknown_scope", "unknown_provider", "mystery")
	if got != domain.StatusPastDue {
		t.Fatalf("unknown scope/provider = %q, want past_due", got)
	}
}

func TestActivePaid(t *testing.T) {
	sub := &domain.RecurringSubscription{Status: domain.StatusActive, PlanCode: "pro"}
	if !sub.ActivePaid() {
		t.Fatal("active paid plan must report ActivePaid")
	}

	free := &domain.RecurringSubscription{Status: domain.StatusActive, PlanCode: "free"}
	if free.ActivePaid() {
		t.Fatal("free plan never counts as paid")
	}

	pastDue := &domain.RecurringSubscription{Status: domain.StatusPastDue, PlanCode: "pro"}
	if pastDue.ActivePaid() {
		t.Fatal("past_due must not count as active")
	}

	var nilSub *domain.RecurringSubscription
	if nilSub.ActivePaid() {
		t.Fatal("nil receiver must be safe and false")
	}
}
