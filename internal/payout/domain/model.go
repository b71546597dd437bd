package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// MinimumPayoutCents is the smallest balance a creator can withdraw.
const MinimumPayoutCents = 1000

var (
	ErrPayoutNotFound = errors.New("payout_not_found")
	ErrBelowMinimum   = errors.New("minimum payout amount is $10")
)

// Payout is one transfer of a creator's payable balance to their payment
// account. Completion is driven by provider transfer/payout webhooks.
type Payout struct {
	ID                snowflake.ID `json:"id" gorm:"primaryKey"`
	CreatorID         snowflake.ID `json:"creator_id" gorm:"not null"`
	AmountCents       int64        `json:"amount_cents" gorm:"not null"`
	Currency          string       `json:"currency" gorm:"type:text;not null"`
	Status            string       `json:"status" gorm:"type:text;not null"`
	Provider          string       `json:"provider" gorm:"type:text"`
	ProviderReference string       `json:"provider_reference" gorm:"type:text"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

func (Payout) TableName() string { return "payouts" }

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payout *Payout) error
	FindByProviderReference(ctx context.Context, db *gorm.DB, provider, reference string) (*Payout, error)
	MarkCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
}
