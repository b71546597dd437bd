package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/snapvend/snapvend/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Upsert inserts or updates the record keyed by (provider,
// external_subscription_id). The update is guarded so a stale writer cannot
// move current_period_end backward: webhook and manual verification race for
// the same key and the one carrying the older period must lose.
func (r *repo) Upsert(ctx context.Context, db *gorm.DB, record *domain.RecurringSubscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO recurring_subscriptions (
			id, scope, owner_id, event_id, provider, external_subscription_id,
			plan_code, status, current_period_end, cancel_at_period_end,
			metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, external_subscription_id) DO UPDATE SET
			status = excluded.status,
			plan_code = CASE WHEN excluded.plan_code <> '' THEN excluded.plan_code ELSE recurring_subscriptions.plan_code END,
			current_period_end = excluded.current_period_end,
			cancel_at_period_end = excluded.cancel_at_period_end,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
		WHERE recurring_subscriptions.current_period_end IS NULL
			OR excluded.current_period_end IS NULL
			OR recurring_subscriptions.current_period_end <= excluded.current_period_end`,
		record.ID,
		record.Scope,
		record.OwnerID,
		record.EventID,
		record.Provider,
		record.ExternalSubscriptionID,
		record.PlanCode,
		record.Status,
		record.CurrentPeriodEnd,
		record.CancelAtPeriodEnd,
		record.Metadata,
		record.CreatedAt,
		record.UpdatedAt,
	).Error
}

func (r *repo) FindByExternalID(ctx context.Context, db *gorm.DB, provider, externalID string) (*domain.RecurringSubscription, error) {
	var item domain.RecurringSubscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, scope, owner_id, event_id, provider, external_subscription_id,
			plan_code, status, current_period_end, cancel_at_period_end,
			metadata, created_at, updated_at
		 FROM recurring_subscriptions
		 WHERE provider = ? AND external_subscription_id = ?
		 LIMIT 1`,
		provider,
		externalID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindCurrent(ctx context.Context, db *gorm.DB, ownerID snowflake.ID, scope string) (*domain.RecurringSubscription, error) {
	var item domain.RecurringSubscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, scope, owner_id, event_id, provider, external_subscription_id,
			plan_code, status, current_period_end, cancel_at_period_end,
			metadata, created_at, updated_at
		 FROM recurring_subscriptions
		 WHERE owner_id = ? AND scope = ?
		 ORDER BY updated_at DESC
		 LIMIT 1`,
		ownerID,
		scope,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}
