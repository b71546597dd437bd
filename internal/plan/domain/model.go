package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const (
	ScopeCreator  = "creator_subscription"
	ScopeAttendee = "attendee_subscription"
	ScopeVault    = "vault_subscription"
)

const (
	IntervalMonthly = "monthly"
	IntervalAnnual  = "annual"
)

var (
	ErrPlanNotFound    = errors.New("plan_not_found")
	ErrPriceNotFound   = errors.New("plan_price_not_found")
	ErrMappingNotFound = errors.New("provider_plan_mapping_not_found")
)

// Plan is an internal recurring plan. Code is a stable slug; the provider
// side of the plan lives in ProviderPlanMapping.
type Plan struct {
	ID              snowflake.ID `json:"id" gorm:"primaryKey"`
	Code            string       `json:"code" gorm:"type:text;not null;uniqueIndex"`
	Name            string       `json:"name" gorm:"type:text;not null"`
	Scope           string       `json:"scope" gorm:"type:text;not null"`
	BillingInterval string       `json:"billing_interval" gorm:"type:text;not null"`
	Active          bool         `json:"active" gorm:"not null"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

func (Plan) TableName() string { return "plans" }

// Free reports whether the plan carries no charge. Free plans do not satisfy
// the paid-subscription gate for accepting payments.
func (p *Plan) Free() bool {
	return p == nil || p.Code == "free"
}

type PlanPrice struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	PlanID      snowflake.ID `json:"plan_id" gorm:"not null;index"`
	Currency    string       `json:"currency" gorm:"type:text;not null"`
	AmountCents int64        `json:"amount_cents" gorm:"not null"`
	CreatedAt   time.Time    `json:"created_at"`
}

func (PlanPrice) TableName() string { return "plan_prices" }

// ProviderPlanMapping binds an internal plan to the pre-registered recurring
// plan object on one provider. PayPal, Flutterwave, and Paystack require one;
// Stripe can construct a recurring price inline when no mapping exists.
type ProviderPlanMapping struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	PlanID         snowflake.ID `json:"plan_id" gorm:"not null;index"`
	Provider       string       `json:"provider" gorm:"type:text;not null"`
	ExternalPlanID string       `json:"external_plan_id" gorm:"type:text;not null"`
	CreatedAt      time.Time    `json:"created_at"`
}

func (ProviderPlanMapping) TableName() string { return "provider_plan_mappings" }

type Repository interface {
	FindPlanByCode(ctx context.Context, db *gorm.DB, code string) (*Plan, error)
	FindPrice(ctx context.Context, db *gorm.DB, planID snowflake.ID, currency string) (*PlanPrice, error)
	FindMapping(ctx context.Context, db *gorm.DB, planID snowflake.ID, provider string) (*ProviderPlanMapping, error)
	FindMappings(ctx context.Context, db *gorm.DB, planID snowflake.ID) ([]ProviderPlanMapping, error)
	InsertPlan(ctx context.Context, db *gorm.DB, plan *Plan) error
	InsertPrice(ctx context.Context, db *gorm.DB, price *PlanPrice) error
	InsertMapping(ctx context.Context, db *gorm.DB, mapping *ProviderPlanMapping) error
}
