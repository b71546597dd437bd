package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/snapvend/snapvend/internal/webhook/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Claim inserts the dedup row for the event. False means another delivery
// already holds it.
func (r *repo) Claim(ctx context.Context, db *gorm.DB, record *domain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO webhook_events (
			id, provider, provider_event_id, event_type, payload, status,
			attempts, last_error, received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		record.ID,
		record.Provider,
		record.ProviderEventID,
		record.EventType,
		record.Payload,
		record.Status,
		record.Attempts,
		record.LastError,
		record.ReceivedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*domain.EventRecord, error) {
	var item domain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, provider_event_id, event_type, payload, status,
			attempts, last_error, received_at, processed_at
		 FROM webhook_events
		 WHERE provider = ? AND provider_event_id = ?
		 LIMIT 1`,
		provider,
		providerEventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET status = ?, attempts = attempts + 1, last_error = NULL, processed_at = ?
		 WHERE id = ?`,
		domain.StatusProcessed,
		now,
		id,
	).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, lastError string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET status = ?, attempts = attempts + 1, last_error = ?
		 WHERE id = ? AND status <> ?`,
		domain.StatusFailed,
		lastError,
		id,
		domain.StatusProcessed,
	).Error
}

func (r *repo) FindFailedRetryable(ctx context.Context, db *gorm.DB, maxAttempts int, before time.Time, limit int) ([]domain.EventRecord, error) {
	var items []domain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, provider_event_id, event_type, payload, status,
			attempts, last_error, received_at, processed_at
		 FROM webhook_events
		 WHERE status = ? AND attempts < ? AND received_at < ?
		 ORDER BY received_at
		 LIMIT ?`,
		domain.StatusFailed,
		maxAttempts,
		before,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
