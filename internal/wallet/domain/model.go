package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

var ErrWalletNotFound = errors.New("wallet_not_found")

// Wallet is a creator's payee account on one payment provider. Gateway
// selection only considers active wallets.
type Wallet struct {
	ID               snowflake.ID `json:"id" gorm:"primaryKey"`
	CreatorID        snowflake.ID `json:"creator_id" gorm:"not null;index"`
	Provider         string       `json:"provider" gorm:"type:text;not null"`
	AccountReference string       `json:"account_reference" gorm:"type:text"`
	Currency         string       `json:"currency" gorm:"type:text;not null"`
	Status           string       `json:"status" gorm:"type:text;not null"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

func (Wallet) TableName() string { return "wallets" }

type Repository interface {
	FindActiveByCreator(ctx context.Context, db *gorm.DB, creatorID snowflake.ID) ([]Wallet, error)
	FindActive(ctx context.Context, db *gorm.DB, creatorID snowflake.ID, provider string) (*Wallet, error)
	Insert(ctx context.Context, db *gorm.DB, wallet *Wallet) error
}

// ActiveProviders lists the providers covered by the given wallets,
// preserving order.
func ActiveProviders(wallets []Wallet) []string {
	out := make([]string, 0, len(wallets))
	for _, w := range wallets {
		out = append(out, w.Provider)
	}
	return out
}
