package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/snapvend/snapvend/internal/config"
)

const (
	ProviderStripe      = "stripe"
	ProviderPayPal      = "paypal"
	ProviderFlutterwave = "flutterwave"
	ProviderPaystack    = "paystack"
)

const (
	EventTypeChargeSucceeded       = "charge_succeeded"
	EventTypeChargeFailed          = "charge_failed"
	EventTypePayoutCompleted       = "payout_completed"
	EventTypeSubscriptionUpdated   = "subscription_updated"
	EventTypeSubscriptionCancelled = "subscription_cancelled"
)

var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrEventIgnored     = errors.New("event_ignored")
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrInvalidConfig    = errors.New("invalid_provider_config")
	ErrSessionNotFound  = errors.New("provider_session_not_found")
)

// Event is the normalized webhook event. Raw provider JSON never crosses the
// adapter boundary; every field business logic needs is lifted here.
type Event struct {
	Provider               string
	ProviderEventID        string
	Type                   string
	Reference              string
	ExternalSubscriptionID string
	ProviderStatus         string
	AmountCents            int64
	Currency               string
	PeriodEnd              *time.Time
	OccurredAt             time.Time
	Metadata               map[string]string
	RawPayload             []byte
}

type CheckoutSessionInput struct {
	ReferenceID    string
	AmountCents    int64
	Currency       string
	Description    string
	CustomerEmail  string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
	Metadata       map[string]string
}

// CheckoutSession is the provider-side session. Exactly one of SessionID,
// OrderID, TxRef is populated depending on the provider's reference model.
type CheckoutSession struct {
	SessionID   string
	OrderID     string
	TxRef       string
	CheckoutURL string
}

func (s *CheckoutSession) Reference() string {
	switch {
	case s.SessionID != "":
		return s.SessionID
	case s.OrderID != "":
		return s.OrderID
	default:
		return s.TxRef
	}
}

type SubscriptionInput struct {
	ExternalPlanID string
	PlanCode       string
	AmountCents    int64
	Currency       string
	Interval       string
	CustomerEmail  string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
	Metadata       map[string]string
}

type SubscriptionSession struct {
	SessionID      string
	SubscriptionID string
	ApprovalURL    string
}

func (s *SubscriptionSession) Reference() string {
	if s.SessionID != "" {
		return s.SessionID
	}
	return s.SubscriptionID
}

// PaymentVerification is the provider's authoritative answer for a payment
// reference. Status carries the raw provider status string; Paid is the
// provider-specific interpretation of "money moved".
type PaymentVerification struct {
	Reference   string
	Status      string
	Paid        bool
	AmountCents int64
	Currency    string
	Metadata    map[string]string
}

type SubscriptionVerification struct {
	ExternalSubscriptionID string
	ProviderStatus         string
	PeriodEnd              *time.Time
	PlanCode               string
	Metadata               map[string]string
}

// Client is the outbound API surface of one provider.
type Client interface {
	Provider() string
	CreateCheckoutSession(ctx context.Context, in CheckoutSessionInput) (*CheckoutSession, error)
	CreateSubscription(ctx context.Context, in SubscriptionInput) (*SubscriptionSession, error)
	VerifyPayment(ctx context.Context, reference string) (*PaymentVerification, error)
	VerifySubscription(ctx context.Context, reference string) (*SubscriptionVerification, error)
}

// Adapter is the inbound webhook surface: transport signature verification
// first, then payload normalization.
type Adapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*Event, error)
}

type Factory interface {
	Provider() string
	NewClient(creds config.ProviderCredentials, timeout time.Duration) (Client, error)
	NewAdapter(creds config.ProviderCredentials) (Adapter, error)
}
