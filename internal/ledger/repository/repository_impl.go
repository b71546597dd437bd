package repository

import (
	"context"

	"github.com/snapvend/snapvend/internal/ledger/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) EnsureAccount(ctx context.Context, db *gorm.DB, account *domain.Account) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO ledger_accounts (id, code, kind, currency, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (code) DO NOTHING`,
		account.ID,
		account.Code,
		account.Kind,
		account.Currency,
		account.CreatedAt,
	).Error
}

// InsertJournal writes the journal header and its entries. It returns false
// without writing entries when a journal for the transaction already exists;
// the caller treats that as an idempotent replay.
func (r *repo) InsertJournal(ctx context.Context, db *gorm.DB, journal *domain.Journal, entries []domain.Entry) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO ledger_transactions (id, transaction_id, description, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (transaction_id) DO NOTHING`,
		journal.ID,
		journal.TransactionID,
		journal.Description,
		journal.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	for i := range entries {
		e := entries[i]
		err := db.WithContext(ctx).Exec(
			`INSERT INTO ledger_entries (
				id, ledger_transaction_id, account_code, direction,
				amount_cents, currency, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID,
			e.LedgerTransactionID,
			e.AccountCode,
			e.Direction,
			e.AmountCents,
			e.Currency,
			e.CreatedAt,
		).Error
		if err != nil {
			return true, err
		}
	}
	return true, nil
}

func (r *repo) AccountBalance(ctx context.Context, db *gorm.DB, accountCode string) (int64, error) {
	var balance int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(CASE direction WHEN ? THEN amount_cents ELSE -amount_cents END), 0)
		 FROM ledger_entries
		 WHERE account_code = ?`,
		domain.DirectionCredit,
		accountCode,
	).Scan(&balance).Error
	if err != nil {
		return 0, err
	}
	return balance, nil
}
