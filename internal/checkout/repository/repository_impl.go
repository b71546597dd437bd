package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/snapvend/snapvend/internal/checkout/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertTransaction(ctx context.Context, db *gorm.DB, tx *domain.Transaction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO transactions (
			id, scope, provider, status, event_id, creator_id, wallet_id,
			buyer_id, guest_email, media_ids, photo_count, amount_cents,
			currency, base_amount_cents, base_currency, exchange_rate,
			platform_fee_cents, provider_fee_cents, transaction_fee_cents,
			net_amount_cents, session_id, order_id, tx_ref,
			provider_reference, idempotency_key, failure_reason, metadata,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID,
		tx.Scope,
		tx.Provider,
		tx.Status,
		tx.EventID,
		tx.CreatorID,
		tx.WalletID,
		tx.BuyerID,
		tx.GuestEmail,
		tx.MediaIDs,
		tx.PhotoCount,
		tx.AmountCents,
		tx.Currency,
		tx.BaseAmountCents,
		tx.BaseCurrency,
		tx.ExchangeRate,
		tx.PlatformFeeCents,
		tx.ProviderFeeCents,
		tx.TransactionFeeCents,
		tx.NetAmountCents,
		tx.SessionID,
		tx.OrderID,
		tx.TxRef,
		tx.ProviderReference,
		tx.IdempotencyKey,
		tx.FailureReason,
		tx.Metadata,
		tx.CreatedAt,
		tx.UpdatedAt,
	).Error
}

func (r *repo) FindTransactionByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Transaction, error) {
	var item domain.Transaction
	err := db.WithContext(ctx).Raw(
		selectTransaction+` WHERE id = ? LIMIT 1`, id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// FindTransactionByReference matches against whichever provider reference
// column is populated.
func (r *repo) FindTransactionByReference(ctx context.Context, db *gorm.DB, provider, reference string) (*domain.Transaction, error) {
	var item domain.Transaction
	err := db.WithContext(ctx).Raw(
		selectTransaction+`
		 WHERE provider = ?
			AND (session_id = ? OR order_id = ? OR tx_ref = ?)
		 LIMIT 1`,
		provider,
		reference,
		reference,
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

func (r *repo) FindTransactionByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*domain.Transaction, error) {
	var item domain.Transaction
	err := db.WithContext(ctx).Raw(
		selectTransaction+` WHERE idempotency_key = ? ORDER BY created_at LIMIT 1`, key,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// UpdateTransactionStatus is a single-row conditional transition. It returns
// false when the row was not in the expected from status, which callers use
// to detect replays.
func (r *repo) UpdateTransactionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to, failureReason string, settledAt *time.Time, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE transactions
		 SET status = ?, failure_reason = ?, settled_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		to,
		failureReason,
		settledAt,
		now,
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindOwnedMedia(ctx context.Context, db *gorm.DB, eventID snowflake.ID, ownerKey string, mediaIDs []string) ([]string, error) {
	if len(mediaIDs) == 0 {
		return nil, nil
	}
	var owned []string
	err := db.WithContext(ctx).Raw(
		`SELECT media_id FROM entitlements
		 WHERE event_id = ? AND owner_key = ? AND kind = ? AND media_id IN ?`,
		eventID,
		ownerKey,
		domain.EntitlementSingle,
		mediaIDs,
	).Scan(&owned).Error
	if err != nil {
		return nil, err
	}
	return owned, nil
}

func (r *repo) HasBulkEntitlement(ctx context.Context, db *gorm.DB, eventID snowflake.ID, ownerKey string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM entitlements
		 WHERE event_id = ? AND owner_key = ? AND kind = ?`,
		eventID,
		ownerKey,
		domain.EntitlementBulk,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// InsertEntitlements is idempotent: rows already granted are skipped by the
// unique index, so a replayed webhook grants nothing twice.
func (r *repo) InsertEntitlements(ctx context.Context, db *gorm.DB, entitlements []domain.Entitlement) (int64, error) {
	var inserted int64
	for i := range entitlements {
		e := entitlements[i]
		res := db.WithContext(ctx).Exec(
			`INSERT INTO entitlements (
				id, event_id, owner_key, kind, media_id, transaction_id, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (event_id, owner_key, kind, media_id) DO NOTHING`,
			e.ID,
			e.EventID,
			e.OwnerKey,
			e.Kind,
			e.MediaID,
			e.TransactionID,
			e.CreatedAt,
		)
		if res.Error != nil {
			return inserted, res.Error
		}
		inserted += res.RowsAffected
	}
	return inserted, nil
}

const selectTransaction = `SELECT id, scope, provider, status, event_id, creator_id, wallet_id,
	buyer_id, guest_email, media_ids, photo_count, amount_cents, currency,
	base_amount_cents, base_currency, exchange_rate, platform_fee_cents,
	provider_fee_cents, transaction_fee_cents, net_amount_cents, session_id,
	order_id, tx_ref, provider_reference, idempotency_key, failure_reason,
	metadata, created_at, updated_at, settled_at
 FROM transactions`
