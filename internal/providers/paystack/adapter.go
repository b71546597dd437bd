package paystack

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/snapvend/snapvend/internal/providers/domain"
)

type Adapter struct {
	secret string
}

func (a *Adapter) Provider() string { return domain.ProviderPaystack }

// Verify checks the x-paystack-signature header: HMAC-SHA512 of the raw body
// keyed with the secret key.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	got := strings.TrimSpace(headers.Get("x-paystack-signature"))
	if got == "" {
		return domain.ErrInvalidSignature
	}
	mac := hmac.New(sha512.New, []byte(a.secret))
	mac.Write(payload)
	want := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(strings.ToLower(got)), []byte(want)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

type webhookEvent struct {
	Event string      `json:"event"`
	Data  webhookData `json:"data"`
}

type webhookData struct {
	ID               int64             `json:"id"`
	Reference        string            `json:"reference"`
	Status           string            `json:"status"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Metadata         map[string]string `json:"metadata"`
	SubscriptionCode string            `json:"subscription_code"`
	Plan             struct {
		PlanCode string `json:"plan_code"`
	} `json:"plan"`
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*domain.Event, error) {
	var raw webhookEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if raw.Event == "" {
		return nil, domain.ErrInvalidPayload
	}

	event := &domain.Event{
		Provider:       domain.ProviderPaystack,
		Reference:      raw.Data.Reference,
		ProviderStatus: raw.Data.Status,
		AmountCents:    raw.Data.Amount,
		Currency:       strings.ToUpper(raw.Data.Currency),
		Metadata:       raw.Data.Metadata,
		RawPayload:     payload,
	}

	switch raw.Event {
	case "charge.success":
		if raw.Data.Reference == "" {
			return nil, domain.ErrInvalidPayload
		}
		event.Type = domain.EventTypeChargeSucceeded
		event.ProviderEventID = raw.Event + ":" + raw.Data.Reference
	case "charge.failed":
		if raw.Data.Reference == "" {
			return nil, domain.ErrInvalidPayload
		}
		event.Type = domain.EventTypeChargeFailed
		event.ProviderEventID = raw.Event + ":" + raw.Data.Reference
	case "transfer.success":
		event.Type = domain.EventTypePayoutCompleted
		event.ProviderEventID = raw.Event + ":" + raw.Data.Reference
	case "subscription.create", "invoice.update", "invoice.payment_succeeded":
		if raw.Data.SubscriptionCode == "" {
			return nil, domain.ErrInvalidPayload
		}
		event.Type = domain.EventTypeSubscriptionUpdated
		event.ExternalSubscriptionID = raw.Data.SubscriptionCode
		event.ProviderEventID = raw.Event + ":" + raw.Data.SubscriptionCode
	case "subscription.disable", "subscription.not_renew":
		if raw.Data.SubscriptionCode == "" {
			return nil, domain.ErrInvalidPayload
		}
		event.Type = domain.EventTypeSubscriptionCancelled
		event.ExternalSubscriptionID = raw.Data.SubscriptionCode
		event.ProviderEventID = raw.Event + ":" + raw.Data.SubscriptionCode
	default:
		return nil, domain.ErrEventIgnored
	}
	return event, nil
}
