package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/snapvend/snapvend/internal/payout/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payout *domain.Payout) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payouts (
			id, creator_id, amount_cents, currency, status, provider,
			provider_reference, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payout.ID,
		payout.CreatorID,
		payout.AmountCents,
		payout.Currency,
		payout.Status,
		payout.Provider,
		payout.ProviderReference,
		payout.CreatedAt,
		payout.UpdatedAt,
	).Error
}

func (r *repo) FindByProviderReference(ctx context.Context, db *gorm.DB, provider, reference string) (*domain.Payout, error) {
	var item domain.Payout
	err := db.WithContext(ctx).Raw(
		`SELECT id, creator_id, amount_cents, currency, status, provider,
			provider_reference, created_at, updated_at
		 FROM payouts
		 WHERE provider = ? AND provider_reference = ?
		 LIMIT 1`,
		provider,
		reference,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payouts
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusCompleted,
		now,
		id,
		domain.StatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
