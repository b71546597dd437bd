package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ScopePhotoPurchase = "photo_purchase"

	StatusPending   = "pending"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

const (
	EntitlementSingle = "single"
	EntitlementBulk   = "bulk"
)

var (
	ErrMissingIdempotencyKey = errors.New("missing_idempotency_key")
	ErrMissingCustomerEmail  = errors.New("missing_customer_email")
	ErrNothingToPurchase     = errors.New("nothing_to_purchase")
	ErrCreatorPlanRequired   = errors.New("creator_plan_required")
	ErrNoPaymentMethod       = errors.New("no_payment_method_configured")
	ErrTransactionNotFound   = errors.New("transaction_not_found")
)

// RateLimitedError carries the suggested wait so the handler can set
// Retry-After.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string { return "rate_limited" }

// AlreadyOwnedError rejects a purchase that includes media the payer already
// holds an entitlement for. MediaIDs lists the offending ids.
type AlreadyOwnedError struct {
	MediaIDs []string
}

func (e *AlreadyOwnedError) Error() string {
	if len(e.MediaIDs) == 0 {
		return "already_owned: all"
	}
	return "already_owned: " + strings.Join(e.MediaIDs, ",")
}

// RetryWithGatewayError tells the client the selected gateway has no payee
// account but another one does. The client must re-confirm rather than have
// the money silently routed elsewhere.
type RetryWithGatewayError struct {
	Selected  string
	Suggested string
}

func (e *RetryWithGatewayError) Error() string {
	return fmt.Sprintf("payee has no %s account, retry with %s", e.Selected, e.Suggested)
}

// Transaction is one money movement attempt. Exactly one of SessionID,
// OrderID, TxRef is set, matching the provider's reference model; the
// matching partial unique index makes a provider session map to at most one
// row.
type Transaction struct {
	ID                  snowflake.ID   `json:"id" gorm:"primaryKey"`
	Scope               string         `json:"scope" gorm:"type:text;not null"`
	Provider            string         `json:"provider" gorm:"type:text;not null"`
	Status              string         `json:"status" gorm:"type:text;not null"`
	EventID             snowflake.ID   `json:"event_id"`
	CreatorID           snowflake.ID   `json:"creator_id" gorm:"not null"`
	WalletID            snowflake.ID   `json:"wallet_id"`
	BuyerID             snowflake.ID   `json:"buyer_id"`
	GuestEmail          string         `json:"guest_email" gorm:"type:text"`
	MediaIDs            datatypes.JSON `json:"media_ids" gorm:"type:jsonb"`
	PhotoCount          int            `json:"photo_count"`
	AmountCents         int64          `json:"amount_cents" gorm:"not null"`
	Currency            string         `json:"currency" gorm:"type:text;not null"`
	BaseAmountCents     int64          `json:"base_amount_cents"`
	BaseCurrency        string         `json:"base_currency" gorm:"type:text"`
	ExchangeRate        float64        `json:"exchange_rate"`
	PlatformFeeCents    int64          `json:"platform_fee_cents"`
	ProviderFeeCents    int64          `json:"provider_fee_cents"`
	TransactionFeeCents int64          `json:"transaction_fee_cents"`
	NetAmountCents      int64          `json:"net_amount_cents"`
	SessionID           *string        `json:"session_id" gorm:"type:text"`
	OrderID             *string        `json:"order_id" gorm:"type:text"`
	TxRef               *string        `json:"tx_ref" gorm:"type:text"`
	ProviderReference   string         `json:"provider_reference" gorm:"type:text"`
	IdempotencyKey      string         `json:"idempotency_key" gorm:"type:text"`
	FailureReason       string         `json:"failure_reason" gorm:"type:text"`
	Metadata            datatypes.JSON `json:"metadata" gorm:"type:jsonb"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	SettledAt           *time.Time     `json:"settled_at"`
}

func (Transaction) TableName() string { return "transactions" }

func (t *Transaction) Reference() string {
	switch {
	case t.SessionID != nil && *t.SessionID != "":
		return *t.SessionID
	case t.OrderID != nil && *t.OrderID != "":
		return *t.OrderID
	case t.TxRef != nil && *t.TxRef != "":
		return *t.TxRef
	default:
		return ""
	}
}

// Entitlement grants an owner access to purchased media in an event. Kind
// bulk with an empty media id covers the whole event.
type Entitlement struct {
	ID            snowflake.ID `json:"id" gorm:"primaryKey"`
	EventID       snowflake.ID `json:"event_id" gorm:"not null"`
	OwnerKey      string       `json:"owner_key" gorm:"type:text;not null"`
	Kind          string       `json:"kind" gorm:"type:text;not null"`
	MediaID       string       `json:"media_id" gorm:"type:text;not null"`
	TransactionID snowflake.ID `json:"transaction_id"`
	CreatedAt     time.Time    `json:"created_at"`
}

func (Entitlement) TableName() string { return "entitlements" }

// OwnerKey identifies the payer for entitlement purposes: the user id when
// authenticated, otherwise the guest email.
func OwnerKey(buyerID snowflake.ID, guestEmail string) string {
	if buyerID != 0 {
		return "user:" + buyerID.String()
	}
	return "guest:" + strings.ToLower(strings.TrimSpace(guestEmail))
}

type Repository interface {
	InsertTransaction(ctx context.Context, db *gorm.DB, tx *Transaction) error
	FindTransactionByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Transaction, error)
	FindTransactionByReference(ctx context.Context, db *gorm.DB, provider, reference string) (*Transaction, error)
	FindTransactionByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*Transaction, error)
	UpdateTransactionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to, failureReason string, settledAt *time.Time, now time.Time) (bool, error)
	FindOwnedMedia(ctx context.Context, db *gorm.DB, eventID snowflake.ID, ownerKey string, mediaIDs []string) ([]string, error)
	HasBulkEntitlement(ctx context.Context, db *gorm.DB, eventID snowflake.ID, ownerKey string) (bool, error)
	InsertEntitlements(ctx context.Context, db *gorm.DB, entitlements []Entitlement) (int64, error)
}

// PlanGate answers the hard business-rule gate of checkout: a creator must
// hold an active paid subscription to accept payments.
type PlanGate interface {
	HasActivePaidPlan(ctx context.Context, creatorID snowflake.ID) (bool, error)
}

type CreateSessionInput struct {
	EventID        snowflake.ID
	BuyerID        snowflake.ID
	CustomerEmail  string
	MediaIDs       []string
	UnlockAll      bool
	Provider       string
	Currency       string
	IdempotencyKey string
	ClientIP       string
}

// SessionResponse is the checkout result. It is also what the idempotency
// ledger stores and replays verbatim on a retried key.
type SessionResponse struct {
	CheckoutURL      string         `json:"checkoutUrl"`
	SessionID        string         `json:"sessionId"`
	Provider         string         `json:"provider"`
	GatewaySelection map[string]any `json:"gatewaySelection"`
	TransactionID    string         `json:"transactionId"`
}

// Outcome is the raw HTTP answer. Replayed idempotent requests return the
// stored bytes unmodified, so fresh and replayed responses are
// byte-identical.
type Outcome struct {
	Code     int
	Body     []byte
	Replayed bool
}

type Service interface {
	CreateSession(ctx context.Context, in CreateSessionInput) (*Outcome, error)
	GrantEntitlements(ctx context.Context, tx *Transaction) (int64, error)
}
