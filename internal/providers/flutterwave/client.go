package flutterwave

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
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
	return domain.ProviderFlutterwave
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
	hash := strings.TrimSpace(creds.WebhookSecret)
	if hash == "" {
		return nil, domain.ErrInvalidConfig
	}
	return &Adapter{verifHash: hash}, nil
}

type Client struct {
	secretKey string
	baseURL   string
	client    *http.Client
}

func (c *Client) Provider() string { return domain.ProviderFlutterwave }

type apiResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type paymentData struct {
	Link string `json:"link"`
}

type transactionData struct {
	ID       int64             `json:"id"`
	TxRef    string            `json:"tx_ref"`
	Status   string            `json:"status"`
	Amount   float64           `json:"amount"`
	Currency string            `json:"currency"`
	Meta     map[string]string `json:"meta"`
}

func (c *Client) CreateCheckoutSession(ctx context.Context, in domain.CheckoutSessionInput) (*domain.CheckoutSession, error) {
	body := map[string]any{
		"tx_ref":       in.ReferenceID,
		"amount":       domain.MajorUnits(in.AmountCents),
		"currency":     strings.ToUpper(in.Currency),
		"redirect_url": in.SuccessURL,
		"customer": map[string]string{
			"email": in.CustomerEmail,
		},
		"customizations": map[string]string{
			"title": in.Description,
		},
		"meta": in.Metadata,
	}

	var data paymentData
	if err := c.do(ctx, http.MethodPost, "/v3/payments", body, &data); err != nil {
		return nil, err
	}
	if data.Link == "" {
		return nil, errors.New("flutterwave_response_invalid")
	}
	return &domain.CheckoutSession{TxRef: in.ReferenceID, CheckoutURL: data.Link}, nil
}

func (c *Client) CreateSubscription(ctx context.Context, in domain.SubscriptionInput) (*domain.SubscriptionSession, error) {
	if in.ExternalPlanID == "" {
		// Flutterwave recurring billing rides on a pre-registered payment
		// plan attached to a standard payment.
		return nil, domain.ErrInvalidConfig
	}
	body := map[string]any{
		"tx_ref":       in.Metadata["tx_ref"],
		"amount":       domain.MajorUnits(in.AmountCents),
		"currency":     strings.ToUpper(in.Currency),
		"redirect_url": in.SuccessURL,
		"payment_plan": in.ExternalPlanID,
		"customer": map[string]string{
			"email": in.CustomerEmail,
		},
		"meta": in.Metadata,
	}

	var data paymentData
	if err := c.do(ctx, http.MethodPost, "/v3/payments", body, &data); err != nil {
		return nil, err
	}
	if data.Link == "" {
		return nil, errors.New("flutterwave_response_invalid")
	}
	return &domain.SubscriptionSession{SubscriptionID: in.Metadata["tx_ref"], ApprovalURL: data.Link}, nil
}

func (c *Client) VerifyPayment(ctx context.Context, reference string) (*domain.PaymentVerification, error) {
	path := "/v3/transactions/verify_by_reference?tx_ref=" + url.QueryEscape(reference)

	var data transactionData
	if err := c.do(ctx, http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}
	if data.TxRef == "" {
		return nil, domain.ErrSessionNotFound
	}
	return &domain.PaymentVerification{
		Reference:   data.TxRef,
		Status:      data.Status,
		Paid:        data.Status == "successful",
		AmountCents: domain.FloatToCents(data.Amount),
		Currency:    strings.ToUpper(data.Currency),
		Metadata:    data.Meta,
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
		return errors.New("flutterwave_request_failed")
	}
	if resp.StatusCode >= http.StatusBadRequest || wrapped.Status != "success" {
		message := strings.TrimSpace(wrapped.Message)
		if message == "" {
			message = "flutterwave_request_failed"
		}
		return errors.New(message)
	}
	if out != nil && len(wrapped.Data) > 0 {
		return json.Unmarshal(wrapped.Data, out)
	}
	return nil
}
