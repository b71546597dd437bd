package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	checkoutdomain "github.com/snapvend/snapvend/internal/checkout/domain"
	"gorm.io/gorm"
)

const (
	DirectionDebit  = "debit"
	DirectionCredit = "credit"

	AccountCash            = "cash"
	AccountPlatformRevenue = "platform_revenue"
	AccountProviderFees    = "provider_fees"

	KindAsset     = "asset"
	KindRevenue   = "revenue"
	KindExpense   = "expense"
	KindLiability = "liability"
)

var ErrUnbalancedJournal = errors.New("ledger_journal_unbalanced")

// Account is one ledger account. Creator payables are materialized lazily,
// one account per creator, coded creator_payable:<id>.
type Account struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	Code      string       `json:"code" gorm:"type:text;not null;uniqueIndex"`
	Kind      string       `json:"kind" gorm:"type:text;not null"`
	Currency  string       `json:"currency" gorm:"type:text;not null"`
	CreatedAt time.Time    `json:"created_at"`
}

func (Account) TableName() string { return "ledger_accounts" }

func CreatorPayableCode(creatorID snowflake.ID) string {
	return "creator_payable:" + creatorID.String()
}

// Journal is one balanced posting, tied to exactly one settled transaction.
// The unique index on transaction_id is what makes webhook replays post
// nothing twice.
type Journal struct {
	ID            snowflake.ID `json:"id" gorm:"primaryKey"`
	TransactionID snowflake.ID `json:"transaction_id" gorm:"not null;uniqueIndex"`
	Description   string       `json:"description" gorm:"type:text"`
	CreatedAt     time.Time    `json:"created_at"`
}

func (Journal) TableName() string { return "ledger_transactions" }

type Entry struct {
	ID                  snowflake.ID `json:"id" gorm:"primaryKey"`
	LedgerTransactionID snowflake.ID `json:"ledger_transaction_id" gorm:"not null;index"`
	AccountCode         string       `json:"account_code" gorm:"type:text;not null"`
	Direction           string       `json:"direction" gorm:"type:text;not null"`
	AmountCents         int64        `json:"amount_cents" gorm:"not null"`
	Currency            string       `json:"currency" gorm:"type:text;not null"`
	CreatedAt           time.Time    `json:"created_at"`
}

func (Entry) TableName() string { return "ledger_entries" }

type Repository interface {
	EnsureAccount(ctx context.Context, db *gorm.DB, account *Account) error
	InsertJournal(ctx context.Context, db *gorm.DB, journal *Journal, entries []Entry) (bool, error)
	AccountBalance(ctx context.Context, db *gorm.DB, accountCode string) (int64, error)
}

type Service interface {
	PostSettlement(ctx context.Context, tx *checkoutdomain.Transaction) (bool, error)
	CreatorBalance(ctx context.Context, creatorID snowflake.ID) (int64, error)
}
