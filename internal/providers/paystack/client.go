package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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
	return domain.ProviderPaystack
}

func (f *Factory) NewClient(creds config.ProviderCredentials, timeout time.Duration) (domain.Client, error) {
	secret := strings.TrimSpace(creds.SecretKey)
	if secret == "" {
		return nil, domain.ErrInvalidConfig
	}
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	return &Client{
		secretKey: secret,
		baseURL:   strings.TrimRight(creds.BaseURL, "/"),
		client:    &http.Client{Timeout: timeout},
	}, nil
}

func (f *Factory) NewAdapter(creds config.ProviderCredentials) (domain.Adapter, error) {
	// Paystack signs webhooks with the account secret key, not a separate
	// webhook secret. Allow either to be configured.
	secret := strings.TrimSpace(creds.WebhookSecret)
	if secret == "" {
		secret = strings.TrimSpace(creds.SecretKey)
	}
	if secret == "" {
		return nil, domain.ErrInvalidConfig
	}
	return &Adapter{secret: secret}, nil
}

type Client struct {
	secretKey string
	baseURL   string
	client    *http.Client
}

func (c *Client) Provider() string { return domain.ProviderPaystack }

type apiResponse struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type transactionData struct {
	ID        int64             `json:"id"`
	Reference string            `json:"reference"`
	Status    string            `json:"status"`
	Amount    int64             `json:"amount"`
	Currency  string            `json:"currency"`
	Metadata  map[string]string `json:"metadata"`
	Plan      json.RawMessage   `json:"plan"`
	Customer  struct {
		CustomerCode string `json:"customer_code"`
	} `json:"customer"`
}

func (c *Client) CreateCheckoutSession(ctx context.Context, in domain.CheckoutSessionInput) (*domain.CheckoutSession, error) {
	body := map[string]any{
		"email":        in.CustomerEmail,
		"amount":       strconv.FormatInt(in.AmountCents, 10),
		"currency":     strings.ToUpper(in.Currency),
		"reference":    in.ReferenceID,
		"callback_url": in.SuccessURL,
		"metadata":     in.Metadata,
	}

	var data initializeData
	if err := c.do(ctx, http.MethodPost, "/transaction/initialize", body, &data); err != nil {
		return nil, err
	}
	if data.AuthorizationURL == "" {
		return nil, errors.New("paystack_response_invalid")
	}
	reference := data.Reference
	if reference == "" {
		reference = in.ReferenceID
	}
	return &domain.CheckoutSession{TxRef: reference, CheckoutURL: data.AuthorizationURL}, nil
}

func (c *Client) CreateSubscription(ctx context.Context, in domain.SubscriptionInput) (*domain.SubscriptionSession, error) {
	if in.ExternalPlanID == "" {
		// Paystack subscriptions attach a plan code to a standard
		// transaction; without a registered plan there is nothing to bill.
		return nil, domain.ErrInvalidConfig
	}
	body := map[string]any{
		"email":        in.CustomerEmail,
		"amount":       strconv.FormatInt(in.AmountCents, 10),
		"currency":     strings.ToUpper(in.Currency),
		"reference":    in.Metadata["tx_ref"],
		"callback_url": in.SuccessURL,
		"plan":         in.ExternalPlanID,
		"metadata":     in.Metadata,
	}

	var data initializeData
	if err := c.do(ctx, http.MethodPost, "/transaction/initialize", body, &data); err != nil {
		return nil, err
	}
	if data.AuthorizationURL == "" {
		return nil, errors.New("paystack_response_invalid")
	}
	reference := data.Reference
	if reference == "" {
		reference = in.Metadata["tx_ref"]
	}
	return &domain.SubscriptionSession{SubscriptionID: reference, ApprovalURL: data.AuthorizationURL}, nil
}

func (c *Client) VerifyPayment(ctx context.Context, reference string) (*domain.PaymentVerification, error) {
	path := "/transaction/verify/" + url.PathEscape(reference)

	var data transactionData
	if err := c.do(ctx, http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}
	if data.Reference == "" {
		return nil, domain.ErrSessionNotFound
	}
	return &domain.PaymentVerification{
		Reference:   data.Reference,
		Status:      data.Status,
		Paid:        data.Status == "success",
		AmountCents: data.Amount,
		Currency:    strings.ToUpper(data.Currency),
		Metadata:    data.Metadata,
	}, nil
}

func (c *Client) VerifySubscription(ctx context.Context, reference string) (*domain.SubscriptionVerification, error) {
	payment, err := c.VerifyPayment(ctx, reference)
	if err != nil {
		return nil, err
	}
	return &domain.SubscriptionVerification{
		ExternalSubscriptionID: payment.Reference,
		ProviderStatus:         payment.Status,
		Metadata:               payment.Metadata,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
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
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var wrapped apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&wrapped); err != nil {
		return errors.New("paystack_request_failed")
	}
	if resp.StatusCode >= http.StatusBadRequest || !wrapped.Status {
		message := strings.TrimSpace(wrapped.Message)
		if message == "" {
			message = "paystack_request_failed"
		}
		return errors.New(message)
	}
	if out != nil && len(wrapped.Data) > 0 {
		return json.Unmarshal(wrapped.Data, out)
	}
	return nil
}
