package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/snapvend/snapvend/internal/wallet/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindActiveByCreator(ctx context.Context, db *gorm.DB, creatorID snowflake.ID) ([]domain.Wallet, error) {
	var items []domain.Wallet
	err := db.WithContext(ctx).Raw(
		`SELECT id, creator_id, provider, account_reference, currency, status,
			created_at, updated_at
		 FROM wallets
		 WHERE creator_id = ? AND status = ?
		 ORDER BY created_at ASC`,
		creatorID,
		domain.StatusActive,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindActive(ctx context.Context, db *gorm.DB, creatorID snowflake.ID, provider string) (*domain.Wallet, error) {
	var item domain.Wallet
	err := db.WithContext(ctx).Raw(
		`SELECT id, creator_id, provider, account_reference, currency, status,
			created_at, updated_at
		 FROM wallets
		 WHERE creator_id = ? AND provider = ? AND status = ?
		 LIMIT 1`,
		creatorID,
		provider,
		domain.StatusActive,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, wallet *domain.Wallet) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO wallets (
			id, creator_id, provider, account_reference, currency, status,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		wallet.ID,
		wallet.CreatorID,
		wallet.Provider,
		wallet.AccountReference,
		wallet.Currency,
		wallet.Status,
		wallet.CreatedAt,
		wallet.UpdatedAt,
	).Error
}
