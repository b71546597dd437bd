package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/snapvend/snapvend/internal/providers/domain"
)

type Adapter struct {
	webhookSecret string
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return domain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return domain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return domain.ErrInvalidSignature
}

type webhookEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type sessionObject struct {
	ID            string            `json:"id"`
	PaymentStatus string            `json:"payment_status"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	Subscription  string            `json:"subscription"`
	Metadata      map[string]string `json:"metadata"`
}

type subscriptionObject struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Metadata         map[string]string `json:"metadata"`
}

type payoutObject struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*domain.Event, error) {
	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	occurredAt := time.Now().UTC()
	if event.Created > 0 {
		occurredAt = time.Unix(event.Created, 0).UTC()
	}

	switch strings.TrimSpace(event.Type) {
	case "checkout.session.completed":
		return a.parseSession(event, payload, occurredAt, domain.EventTypeChargeSucceeded)
	case "checkout.session.async_payment_failed", "checkout.session.expired":
		return a.parseSession(event, payload, occurredAt, domain.EventTypeChargeFailed)
	case "customer.subscription.created", "customer.subscription.updated":
		return a.parseSubscription(event, payload, occurredAt, domain.EventTypeSubscriptionUpdated)
	case "customer.subscription.deleted":
		return a.parseSubscription(event, payload, occurredAt, domain.EventTypeSubscriptionCancelled)
	case "payout.paid":
		return a.parsePayout(event, payload, occurredAt)
	default:
		return nil, domain.ErrEventIgnored
	}
}

func (a *Adapter) parseSession(event webhookEvent, payload []byte, occurredAt time.Time, eventType string) (*domain.Event, error) {
	var object sessionObject
	if err := json.Unmarshal(event.Data.Object, &object); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if object.ID == "" {
		return nil, domain.ErrInvalidEvent
	}
	// A completed session that is a subscription checkout carries a
	// subscription id; surface it so the reconciler also upserts it.
	return &domain.Event{
		Provider:               domain.ProviderStripe,
		ProviderEventID:        event.ID,
		Type:                   eventType,
		Reference:              object.ID,
		ExternalSubscriptionID: object.Subscription,
		ProviderStatus:         object.PaymentStatus,
		AmountCents:            object.AmountTotal,
		Currency:               strings.ToUpper(object.Currency),
		OccurredAt:             occurredAt,
		Metadata:               object.Metadata,
		RawPayload:             payload,
	}, nil
}

func (a *Adapter) parseSubscription(event webhookEvent, payload []byte, occurredAt time.Time, eventType string) (*domain.Event, error) {
	var object subscriptionObject
	if err := json.Unmarshal(event.Data.Object, &object); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if object.ID == "" {
		return nil, domain.ErrInvalidEvent
	}
	out := &domain.Event{
		Provider:               domain.ProviderStripe,
		ProviderEventID:        event.ID,
		Type:                   eventType,
		ExternalSubscriptionID: object.ID,
		ProviderStatus:         object.Status,
		OccurredAt:             occurredAt,
		Metadata:               object.Metadata,
		RawPayload:             payload,
	}
	if object.CurrentPeriodEnd > 0 {
		end := time.Unix(object.CurrentPeriodEnd, 0).UTC()
		out.PeriodEnd = &end
	}
	return out, nil
}

func (a *Adapter) parsePayout(event webhookEvent, payload []byte, occurredAt time.Time) (*domain.Event, error) {
	var object payoutObject
	if err := json.Unmarshal(event.Data.Object, &object); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if object.ID == "" {
		return nil, domain.ErrInvalidEvent
	}
	return &domain.Event{
		Provider:        domain.ProviderStripe,
		ProviderEventID: event.ID,
		Type:            domain.EventTypePayoutCompleted,
		Reference:       object.ID,
		ProviderStatus:  object.Status,
		AmountCents:     object.Amount,
		Currency:        strings.ToUpper(object.Currency),
		OccurredAt:      occurredAt,
		RawPayload:      payload,
	}, nil
}

func parseSignatureHeader(header string) (string, []string, error) {
	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("malformed signature header")
	}
	if _, err := strconv.ParseInt(timestamp, 10, 64); err != nil {
		return "", nil, err
	}
	return timestamp, signatures, nil
}
