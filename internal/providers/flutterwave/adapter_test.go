package flutterwave

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/snapvend/snapvend/internal/providers/domain"
)

func TestVerifyComparesHashHeader(t *testing.T) {
	adapter := &Adapter{verifHash: "sekret-hash"}

	headers := http.Header{}
	headers.Set("verif-hash", "sekret-hash")
	if err := adapter.Verify(context.Background(), []byte(`{}`), headers); err != nil {
		t.Fatalf("expected match, got %v", err)
	}

	headers.Set("verif-hash", "wrong")
	err := adapter.Verify(context.Background(), []byte(`{}`), headers)
	if !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestParseChargeCompleted(t *testing.T) {
	adapter := &Adapter{verifHash: "sekret-hash"}
	payload := []byte(`{
		"event": "charge.completed",
		"data": {
			"id": 9001,
			"tx_ref": "snap-01H",
			"status": "successful",
			"amount": 45.50,
			"currency": "ngn",
			"meta": {"transaction_id": "77"}
		}
	}`)

	event, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Type != domain.EventTypeChargeSucceeded {
		t.Fatalf("expected charge_succeeded, got %s", event.Type)
	}
	if event.Reference != "snap-01H" {
		t.Fatalf("expected tx_ref reference, got %s", event.Reference)
	}
	if event.AmountCents != 4550 {
		t.Fatalf("expected 4550 cents, got %d", event.AmountCents)
	}
	if event.Currency != "NGN" {
		t.Fatalf("expected NGN, got %s", event.Currency)
	}
	if event.Metadata["transaction_id"] != "77" {
		t.Fatalf("metadata not carried: %v", event.Metadata)
	}
}

func TestParseFailedChargeMapsToChargeFailed(t *testing.T) {
	adapter := &Adapter{verifHash: "sekret-hash"}
	payload := []byte(`{
		"event": "charge.completed",
		"data": {"tx_ref": "snap-01J", "status": "failed", "amount": 10, "currency": "NGN"}
	}`)

	event, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Type != domain.EventTypeChargeFailed {
		t.Fatalf("expected charge_failed, got %s", event.Type)
	}
}

func TestParseRejectsMissingTxRef(t *testing.T) {
	adapter := &Adapter{verifHash: "sekret-hash"}
	_, err := adapter.Parse(context.Background(), []byte(`{"event": "charge.completed", "data": {}}`))
	if !errors.Is(err, domain.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}
