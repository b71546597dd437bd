package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	checkoutdomain "github.com/snapvend/snapvend/internal/checkout/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StatusActive    = "active"
	StatusPastDue   = "past_due"
	StatusCancelled = "cancelled"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrOwnerMismatch        = errors.New("subscription_owner_mismatch")
	ErrMissingPlanMapping   = errors.New("missing_provider_plan_mapping")
	ErrMissingIdempotency   = errors.New("missing_idempotency_key")
)

// RecurringSubscription is the canonical local record for one provider-side
// recurring billing agreement, keyed by (provider, external_subscription_id).
type RecurringSubscription struct {
	ID                     snowflake.ID   `json:"id" gorm:"primaryKey"`
	Scope                  string         `json:"scope" gorm:"type:text;not null"`
	OwnerID                snowflake.ID   `json:"owner_id" gorm:"not null"`
	EventID                snowflake.ID   `json:"event_id"`
	Provider               string         `json:"provider" gorm:"type:text;not null"`
	ExternalSubscriptionID string         `json:"external_subscription_id" gorm:"type:text;not null"`
	PlanCode               string         `json:"plan_code" gorm:"type:text"`
	Status                 string         `json:"status" gorm:"type:text;not null"`
	CurrentPeriodEnd       *time.Time     `json:"current_period_end"`
	CancelAtPeriodEnd      bool           `json:"cancel_at_period_end"`
	Metadata               datatypes.JSON `json:"metadata" gorm:"type:jsonb"`
	CreatedAt              time.Time      `json:"created_at"`
	UpdatedAt              time.Time      `json:"updated_at"`
}

func (RecurringSubscription) TableName() string { return "recurring_subscriptions" }

func (s *RecurringSubscription) ActivePaid() bool {
	return s != nil && s.Status == StatusActive && s.PlanCode != "" && s.PlanCode != "free"
}

// ProviderState is what a webhook event or a manual verification learned
// about a subscription from the provider. Both paths funnel through the same
// upsert so they cannot diverge.
type ProviderState struct {
	Scope                  string
	OwnerID                snowflake.ID
	EventID                snowflake.ID
	Provider               string
	ExternalSubscriptionID string
	PlanCode               string
	ProviderStatus         string
	Cancelled              bool
	CurrentPeriodEnd       *time.Time
	Metadata               map[string]string
}

type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, record *RecurringSubscription) error
	FindByExternalID(ctx context.Context, db *gorm.DB, provider, externalID string) (*RecurringSubscription, error)
	FindCurrent(ctx context.Context, db *gorm.DB, ownerID snowflake.ID, scope string) (*RecurringSubscription, error)
}

type CheckoutInput struct {
	OwnerID        snowflake.ID
	Scope          string
	PlanCode       string
	BillingCycle   string
	Currency       string
	CountryCode    string
	Provider       string
	CustomerEmail  string
	IdempotencyKey string
}

type VerifyInput struct {
	OwnerID   snowflake.ID
	Scope     string
	Provider  string
	Reference string
}

type Service interface {
	Checkout(ctx context.Context, in CheckoutInput) (*checkoutdomain.Outcome, error)
	Apply(ctx context.Context, state ProviderState) (*RecurringSubscription, error)
	Verify(ctx context.Context, in VerifyInput) (*RecurringSubscription, error)
	HasActivePaidPlan(ctx context.Context, creatorID snowflake.ID) (bool, error)
}
