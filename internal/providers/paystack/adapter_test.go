package paystack

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"net/http"
	"testing"

	"github.com/snapvend/snapvend/internal/providers/domain"
)

func signBody(secret string, payload []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	adapter := &Adapter{secret: "sk_test"}
	payload := []byte(`{"event":"charge.success"}`)

	headers := http.Header{}
	headers.Set("x-paystack-signature", signBody("sk_test", payload))

	if err := adapter.Verify(context.Background(), payload, headers); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	adapter := &Adapter{secret: "sk_test"}
	payload := []byte(`{"event":"charge.success"}`)

	headers := http.Header{}
	headers.Set("x-paystack-signature", signBody("sk_other", payload))

	err := adapter.Verify(context.Background(), payload, headers)
	if !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestParseChargeSuccess(t *testing.T) {
	adapter := &Adapter{secret: "sk_test"}
	payload := []byte(`{
		"event": "charge.success",
		"data": {
			"id": 12,
			"reference": "snap-01K",
			"status": "success",
			"amount": 300000,
			"currency": "ngn",
			"metadata": {"transaction_id": "88"}
		}
	}`)

	event, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Type != domain.EventTypeChargeSucceeded {
		t.Fatalf("expected charge_succeeded, got %s", event.Type)
	}
	if event.Reference != "snap-01K" {
		t.Fatalf("expected reference snap-01K, got %s", event.Reference)
	}
	if event.AmountCents != 300000 || event.Currency != "NGN" {
		t.Fatalf("unexpected amount %d %s", event.AmountCents, event.Currency)
	}
}

func TestParseSubscriptionDisable(t *testing.T) {
	adapter := &Adapter{secret: "sk_test"}
	payload := []byte(`{
		"event": "subscription.disable",
		"data": {"subscription_code": "SUB_abc", "status": "complete"}
	}`)

	event, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Type != domain.EventTypeSubscriptionCancelled {
		t.Fatalf("expected subscription_cancelled, got %s", event.Type)
	}
	if event.ExternalSubscriptionID != "SUB_abc" {
		t.Fatalf("expected SUB_abc, got %s", event.ExternalSubscriptionID)
	}
}

func TestParseIgnoresUnhandledEvent(t *testing.T) {
	adapter := &Adapter{secret: "sk_test"}
	_, err := adapter.Parse(context.Background(), []byte(`{"event": "customeridentification.success", "data": {}}`))
	if !errors.Is(err, domain.ErrEventIgnored) {
		t.Fatalf("expected ErrEventIgnored, got %v", err)
	}
}
