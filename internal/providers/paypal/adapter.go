package paypal

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/snapvend/snapvend/internal/providers/domain"
)

type Adapter struct {
	webhookID string
	client    *Client
}

// Verify asks PayPal to validate the webhook transmission; there is no
// locally computable HMAC because signatures use certificate chains.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	transmissionID := headers.Get("Paypal-Transmission-Id")
	transmissionTime := headers.Get("Paypal-Transmission-Time")
	transmissionSig := headers.Get("Paypal-Transmission-Sig")
	certURL := headers.Get("Paypal-Cert-Url")
	authAlgo := headers.Get("Paypal-Auth-Algo")
	if transmissionID == "" || transmissionTime == "" || transmissionSig == "" || certURL == "" {
		return domain.ErrInvalidSignature
	}

	body := map[string]any{
		"transmission_id":   transmissionID,
		"transmission_time": transmissionTime,
		"transmission_sig":  transmissionSig,
		"cert_url":          certURL,
		"auth_algo":         authAlgo,
		"webhook_id":        a.webhookID,
		"webhook_event":     json.RawMessage(payload),
	}

	var result struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := a.client.do(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", body, "", &result); err != nil {
		return domain.ErrInvalidSignature
	}
	if result.VerificationStatus != "SUCCESS" {
		return domain.ErrInvalidSignature
	}
	return nil
}

type webhookEvent struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	CreateTime   time.Time       `json:"create_time"`
	Resource     json.RawMessage `json:"resource"`
	ResourceType string          `json:"resource_type"`
}

type captureResource struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount struct {
		CurrencyCode string `json:"currency_code"`
		Value        string `json:"value"`
	} `json:"amount"`
	CustomID          string `json:"custom_id"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
}

type subscriptionResource struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	PlanID      string `json:"plan_id"`
	CustomID    string `json:"custom_id"`
	BillingInfo struct {
		NextBillingTime time.Time `json:"next_billing_time"`
	} `json:"billing_info"`
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*domain.Event, error) {
	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	occurredAt := event.CreateTime.UTC()
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	switch strings.TrimSpace(event.EventType) {
	case "PAYMENT.CAPTURE.COMPLETED", "CHECKOUT.ORDER.APPROVED":
		return a.parseCapture(event, payload, occurredAt, domain.EventTypeChargeSucceeded)
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		return a.parseCapture(event, payload, occurredAt, domain.EventTypeChargeFailed)
	case "BILLING.SUBSCRIPTION.CREATED", "BILLING.SUBSCRIPTION.ACTIVATED",
		"BILLING.SUBSCRIPTION.UPDATED", "BILLING.SUBSCRIPTION.RENEWED",
		"BILLING.SUBSCRIPTION.SUSPENDED", "PAYMENT.SALE.COMPLETED":
		return a.parseSubscription(event, payload, occurredAt, domain.EventTypeSubscriptionUpdated)
	case "BILLING.SUBSCRIPTION.CANCELLED", "BILLING.SUBSCRIPTION.EXPIRED":
		return a.parseSubscription(event, payload, occurredAt, domain.EventTypeSubscriptionCancelled)
	default:
		return nil, domain.ErrEventIgnored
	}
}

func (a *Adapter) parseCapture(event webhookEvent, payload []byte, occurredAt time.Time, eventType string) (*domain.Event, error) {
	var resource captureResource
	if err := json.Unmarshal(event.Resource, &resource); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	reference := resource.SupplementaryData.RelatedIDs.OrderID
	if reference == "" {
		reference = resource.ID
	}
	if reference == "" {
		return nil, domain.ErrInvalidEvent
	}

	out := &domain.Event{
		Provider:        domain.ProviderPayPal,
		ProviderEventID: event.ID,
		Type:            eventType,
		Reference:       reference,
		ProviderStatus:  resource.Status,
		Currency:        strings.ToUpper(resource.Amount.CurrencyCode),
		OccurredAt:      occurredAt,
		Metadata:        decodeMetadata(resource.CustomID),
		RawPayload:      payload,
	}
	if cents, err := domain.ParseMajorUnits(resource.Amount.Value); err == nil {
		out.AmountCents = cents
	}
	return out, nil
}

func (a *Adapter) parseSubscription(event webhookEvent, payload []byte, occurredAt time.Time, eventType string) (*domain.Event, error) {
	var resource subscriptionResource
	if err := json.Unmarshal(event.Resource, &resource); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if resource.ID == "" {
		return nil, domain.ErrInvalidEvent
	}

	out := &domain.Event{
		Provider:               domain.ProviderPayPal,
		ProviderEventID:        event.ID,
		Type:                   eventType,
		ExternalSubscriptionID: resource.ID,
		ProviderStatus:         resource.Status,
		OccurredAt:             occurredAt,
		Metadata:               decodeMetadata(resource.CustomID),
		RawPayload:             payload,
	}
	if !resource.BillingInfo.NextBillingTime.IsZero() {
		end := resource.BillingInfo.NextBillingTime.UTC()
		out.PeriodEnd = &end
	}
	return out, nil
}
