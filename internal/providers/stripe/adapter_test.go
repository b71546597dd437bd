package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/snapvend/snapvend/internal/providers/domain"
)

func signPayload(secret string, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "." + string(payload)))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	adapter := &Adapter{webhookSecret: "whsec_test"}
	payload := []byte(`{"id":"evt_1"}`)
	sig := signPayload("whsec_test", "1700000000", payload)

	headers := http.Header{}
	headers.Set("Stripe-Signature", fmt.Sprintf("t=1700000000,v1=%s", sig))

	if err := adapter.Verify(context.Background(), payload, headers); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	adapter := &Adapter{webhookSecret: "whsec_test"}
	sig := signPayload("whsec_test", "1700000000", []byte(`{"id":"evt_1"}`))

	headers := http.Header{}
	headers.Set("Stripe-Signature", fmt.Sprintf("t=1700000000,v1=%s", sig))

	err := adapter.Verify(context.Background(), []byte(`{"id":"evt_2"}`), headers)
	if !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyRejectsMissingHeader(t *testing.T) {
	adapter := &Adapter{webhookSecret: "whsec_test"}
	err := adapter.Verify(context.Background(), []byte(`{}`), http.Header{})
	if !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestParseCheckoutSessionCompleted(t *testing.T) {
	adapter := &Adapter{webhookSecret: "whsec_test"}
	payload := []byte(`{
		"id": "evt_100",
		"type": "checkout.session.completed",
		"created": 1700000000,
		"data": {"object": {
			"id": "cs_test_1",
			"payment_status": "paid",
			"amount_total": 2500,
			"currency": "usd",
			"metadata": {"transaction_id": "42"}
		}}
	}`)

	event, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Type != domain.EventTypeChargeSucceeded {
		t.Fatalf("expected charge_succeeded, got %s", event.Type)
	}
	if event.Reference != "cs_test_1" {
		t.Fatalf("expected session reference, got %s", event.Reference)
	}
	if event.AmountCents != 2500 || event.Currency != "USD" {
		t.Fatalf("unexpected amount %d %s", event.AmountCents, event.Currency)
	}
	if event.Metadata["transaction_id"] != "42" {
		t.Fatalf("metadata not carried: %v", event.Metadata)
	}
}

func TestParseSubscriptionDeleted(t *testing.T) {
	adapter := &Adapter{webhookSecret: "whsec_test"}
	payload := []byte(`{
		"id": "evt_101",
		"type": "customer.subscription.deleted",
		"data": {"object": {
			"id": "sub_1",
			"status": "canceled",
			"current_period_end": 1700600000
		}}
	}`)

	event, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Type != domain.EventTypeSubscriptionCancelled {
		t.Fatalf("expected subscription_cancelled, got %s", event.Type)
	}
	if event.ExternalSubscriptionID != "sub_1" {
		t.Fatalf("expected sub_1, got %s", event.ExternalSubscriptionID)
	}
	if event.PeriodEnd == nil || event.PeriodEnd.Unix() != 1700600000 {
		t.Fatalf("period end not parsed: %v", event.PeriodEnd)
	}
}

func TestParseIgnoresUnknownEventType(t *testing.T) {
	adapter := &Adapter{webhookSecret: "whsec_test"}
	payload := []byte(`{"id": "evt_102", "type": "invoice.finalized", "data": {"object": {}}}`)

	_, err := adapter.Parse(context.Background(), payload)
	if !errors.Is(err, domain.ErrEventIgnored) {
		t.Fatalf("expected ErrEventIgnored, got %v", err)
	}
}
