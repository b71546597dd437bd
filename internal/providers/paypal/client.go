package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/snapvend/snapvend/internal/config"
	"github.com/snapvend/snapvend/internal/providers/domain"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return domain.ProviderPayPal
}

func (f *Factory) NewClient(creds config.ProviderCredentials, timeout time.Duration) (domain.Client, error) {
	if strings.TrimSpace(creds.ClientID) == "" || strings.TrimSpace(creds.ClientSecret) == "" {
		return nil, domain.ErrInvalidConfig
	}
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	return &Client{
		clientID:     strings.TrimSpace(creds.ClientID),
		clientSecret: strings.TrimSpace(creds.ClientSecret),
		baseURL:      strings.TrimRight(creds.BaseURL, "/"),
		client:       &http.Client{Timeout: timeout},
	}, nil
}

func (f *Factory) NewAdapter(creds config.ProviderCredentials) (domain.Adapter, error) {
	webhookID := strings.TrimSpace(creds.WebhookSecret)
	if webhookID == "" {
		return nil, domain.ErrInvalidConfig
	}
	client, err := f.NewClient(creds, 0)
	if err != nil {
		return nil, err
	}
	return &Adapter{webhookID: webhookID, client: client.(*Client)}, nil
}

type Client struct {
	clientID     string
	clientSecret string
	baseURL      string
	client       *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func (c *Client) Provider() string { return domain.ProviderPayPal }

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type orderResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Links         []link `json:"links"`
	PurchaseUnits []struct {
		ReferenceID string `json:"reference_id"`
		Amount      struct {
			CurrencyCode string `json:"currency_code"`
			Value        string `json:"value"`
		} `json:"amount"`
	} `json:"purchase_units"`
}

type subscriptionResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	PlanID      string `json:"plan_id"`
	Links       []link `json:"links"`
	BillingInfo struct {
		NextBillingTime time.Time `json:"next_billing_time"`
	} `json:"billing_info"`
	CustomID string `json:"custom_id"`
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return "", errors.New("paypal_auth_failed")
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", err
	}
	if token.AccessToken == "" {
		return "", errors.New("paypal_auth_failed")
	}

	c.accessToken = token.AccessToken
	// Renew a minute early so in-flight requests never carry a stale token.
	c.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn)*time.Second - time.Minute)
	return c.accessToken, nil
}

func (c *Client) CreateCheckoutSession(ctx context.Context, in domain.CheckoutSessionInput) (*domain.CheckoutSession, error) {
	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{
			{
				"reference_id": in.ReferenceID,
				"description":  in.Description,
				"custom_id":    encodeMetadata(in.Metadata),
				"amount": map[string]string{
					"currency_code": strings.ToUpper(in.Currency),
					"value":         domain.MajorUnits(in.AmountCents),
				},
			},
		},
		"application_context": map[string]string{
			"return_url": in.SuccessURL,
			"cancel_url": in.CancelURL,
		},
	}

	var order orderResponse
	if err := c.do(ctx, http.MethodPost, "/v2/checkout/orders", body, in.IdempotencyKey, &order); err != nil {
		return nil, err
	}
	approval := linkByRel(order.Links, "approve")
	if order.ID == "" || approval == "" {
		return nil, errors.New("paypal_response_invalid")
	}
	return &domain.CheckoutSession{OrderID: order.ID, CheckoutURL: approval}, nil
}

func (c *Client) CreateSubscription(ctx context.Context, in domain.SubscriptionInput) (*domain.SubscriptionSession, error) {
	if in.ExternalPlanID == "" {
		// PayPal has no inline recurring price; a pre-registered plan is
		// mandatory.
		return nil, domain.ErrInvalidConfig
	}
	body := map[string]any{
		"plan_id":   in.ExternalPlanID,
		"custom_id": encodeMetadata(in.Metadata),
		"application_context": map[string]string{
			"return_url": in.SuccessURL,
			"cancel_url": in.CancelURL,
		},
	}
	if in.CustomerEmail != "" {
		body["subscriber"] = map[string]any{"email_address": in.CustomerEmail}
	}

	var sub subscriptionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/billing/subscriptions", body, in.IdempotencyKey, &sub); err != nil {
		return nil, err
	}
	approval := linkByRel(sub.Links, "approve")
	if sub.ID == "" || approval == "" {
		return nil, errors.New("paypal_response_invalid")
	}
	return &domain.SubscriptionSession{SubscriptionID: sub.ID, ApprovalURL: approval}, nil
}

func (c *Client) VerifyPayment(ctx context.Context, reference string) (*domain.PaymentVerification, error) {
	var order orderResponse
	if err := c.do(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(reference), nil, "", &order); err != nil {
		return nil, err
	}
	if order.ID == "" {
		return nil, domain.ErrSessionNotFound
	}

	out := &domain.PaymentVerification{
		Reference: order.ID,
		Status:    order.Status,
		Paid:      order.Status == "COMPLETED",
	}
	if len(order.PurchaseUnits) > 0 {
		unit := order.PurchaseUnits[0]
		out.Currency = strings.ToUpper(unit.Amount.CurrencyCode)
		if cents, err := domain.ParseMajorUnits(unit.Amount.Value); err == nil {
			out.AmountCents = cents
		}
	}
	return out, nil
}

func (c *Client) VerifySubscription(ctx context.Context, reference string) (*domain.SubscriptionVerification, error) {
	var sub subscriptionResponse
	if err := c.do(ctx, http.MethodGet, "/v1/billing/subscriptions/"+url.PathEscape(reference), nil, "", &sub); err != nil {
		return nil, err
	}
	if sub.ID == "" {
		return nil, domain.ErrSessionNotFound
	}

	out := &domain.SubscriptionVerification{
		ExternalSubscriptionID: sub.ID,
		ProviderStatus:         sub.Status,
		PlanCode:               sub.PlanID,
		Metadata:               decodeMetadata(sub.CustomID),
	}
	if !sub.BillingInfo.NextBillingTime.IsZero() {
		end := sub.BillingInfo.NextBillingTime.UTC()
		out.PeriodEnd = &end
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, idempotencyKey string, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("PayPal-Request-Id", idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Message == "" {
			return errors.New("paypal_request_failed")
		}
		return errors.New(apiErr.Message)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func linkByRel(links []link, rel string) string {
	for _, l := range links {
		if strings.EqualFold(l.Rel, rel) {
			return l.Href
		}
	}
	return ""
}

// PayPal carries one free-form custom_id string; metadata rides in it as JSON.
func encodeMetadata(metadata map[string]string) string {
	if len(metadata) == 0 {
		return ""
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return ""
	}
	return string(encoded)
}

func decodeMetadata(customID string) map[string]string {
	if strings.TrimSpace(customID) == "" {
		return nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(customID), &out); err != nil {
		return nil
	}
	return out
}
