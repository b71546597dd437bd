package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/snapvend/snapvend/internal/config"
	"github.com/snapvend/snapvend/internal/providers/domain"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return domain.ProviderStripe
}

func (f *Factory) NewClient(creds config.ProviderCredentials, timeout time.Duration) (domain.Client, error) {
	apiKey := strings.TrimSpace(creds.SecretKey)
	if apiKey == "" {
		return nil, domain.ErrInvalidConfig
	}
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(creds.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (f *Factory) NewAdapter(creds config.ProviderCredentials) (domain.Adapter, error) {
	secret := strings.TrimSpace(creds.WebhookSecret)
	if secret == "" {
		return nil, domain.ErrInvalidConfig
	}
	return &Adapter{webhookSecret: secret}, nil
}

type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func (c *Client) Provider() string { return domain.ProviderStripe }

type checkoutSessionResponse struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	PaymentStatus string            `json:"payment_status"`
	Status        string            `json:"status"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	Subscription  string            `json:"subscription"`
	Metadata      map[string]string `json:"metadata"`
}

type subscriptionResponse struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Metadata         map[string]string `json:"metadata"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) CreateCheckoutSession(ctx context.Context, in domain.CheckoutSessionInput) (*domain.CheckoutSession, error) {
	values := url.Values{}
	values.Set("mode", "payment")
	values.Set("success_url", in.SuccessURL)
	values.Set("cancel_url", in.CancelURL)
	values.Set("line_items[0][price_data][currency]", strings.ToLower(in.Currency))
	values.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(in.AmountCents, 10))
	values.Set("line_items[0][price_data][product_data][name]", in.Description)
	values.Set("line_items[0][quantity]", "1")
	values.Set("client_reference_id", in.ReferenceID)
	if in.CustomerEmail != "" {
		values.Set("customer_email", in.CustomerEmail)
	}
	for k, v := range in.Metadata {
		values.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	var session checkoutSessionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/checkout/sessions", values, in.IdempotencyKey, &session); err != nil {
		return nil, err
	}
	if session.ID == "" || session.URL == "" {
		return nil, errors.New("stripe_response_invalid")
	}
	return &domain.CheckoutSession{SessionID: session.ID, CheckoutURL: session.URL}, nil
}

func (c *Client) CreateSubscription(ctx context.Context, in domain.SubscriptionInput) (*domain.SubscriptionSession, error) {
	values := url.Values{}
	values.Set("mode", "subscription")
	values.Set("success_url", in.SuccessURL)
	values.Set("cancel_url", in.CancelURL)
	if in.ExternalPlanID != "" {
		values.Set("line_items[0][price]", in.ExternalPlanID)
	} else {
		// Stripe can construct a recurring price inline; the other
		// providers need a pre-registered plan.
		values.Set("line_items[0][price_data][currency]", strings.ToLower(in.Currency))
		values.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(in.AmountCents, 10))
		values.Set("line_items[0][price_data][recurring][interval]", stripeInterval(in.Interval))
		values.Set("line_items[0][price_data][product_data][name]", in.PlanCode)
	}
	values.Set("line_items[0][quantity]", "1")
	if in.CustomerEmail != "" {
		values.Set("customer_email", in.CustomerEmail)
	}
	for k, v := range in.Metadata {
		values.Set(fmt.Sprintf("subscription_data[metadata][%s]", k), v)
		values.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	var session checkoutSessionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/checkout/sessions", values, in.IdempotencyKey, &session); err != nil {
		return nil, err
	}
	if session.ID == "" || session.URL == "" {
		return nil, errors.New("stripe_response_invalid")
	}
	return &domain.SubscriptionSession{SessionID: session.ID, ApprovalURL: session.URL}, nil
}

func (c *Client) VerifyPayment(ctx context.Context, reference string) (*domain.PaymentVerification, error) {
	var session checkoutSessionResponse
	if err := c.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(reference), nil, "", &session); err != nil {
		return nil, err
	}
	if session.ID == "" {
		return nil, domain.ErrSessionNotFound
	}
	return &domain.PaymentVerification{
		Reference:   session.ID,
		Status:      session.PaymentStatus,
		Paid:        session.PaymentStatus == "paid",
		AmountCents: session.AmountTotal,
		Currency:    strings.ToUpper(session.Currency),
		Metadata:    session.Metadata,
	}, nil
}

func (c *Client) VerifySubscription(ctx context.Context, reference string) (*domain.SubscriptionVerification, error) {
	// The client may hand us a checkout session id rather than the
	// subscription id; resolve it first.
	subscriptionID := reference
	if strings.HasPrefix(reference, "cs_") {
		var session checkoutSessionResponse
		if err := c.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(reference), nil, "", &session); err != nil {
			return nil, err
		}
		if session.Subscription == "" {
			return nil, domain.ErrSessionNotFound
		}
		subscriptionID = session.Subscription
	}

	var sub subscriptionResponse
	if err := c.do(ctx, http.MethodGet, "/v1/subscriptions/"+url.PathEscape(subscriptionID), nil, "", &sub); err != nil {
		return nil, err
	}
	if sub.ID == "" {
		return nil, domain.ErrSessionNotFound
	}

	out := &domain.SubscriptionVerification{
		ExternalSubscriptionID: sub.ID,
		ProviderStatus:         sub.Status,
		Metadata:               sub.Metadata,
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		out.PeriodEnd = &end
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, values url.Values, idempotencyKey string, out any) error {
	body := ""
	if values != nil {
		body = values.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if values != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var stripeErr errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&stripeErr); err != nil {
			return errors.New("stripe_request_failed")
		}
		message := strings.TrimSpace(stripeErr.Error.Message)
		if message == "" {
			message = "stripe_request_failed"
		}
		return errors.New(message)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func stripeInterval(interval string) string {
	if strings.EqualFold(interval, "annual") {
		return "year"
	}
	return "month"
}
