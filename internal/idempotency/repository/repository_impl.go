package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/snapvend/snapvend/internal/idempotency/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *domain.Record) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO idempotency_records (
			id, scope, actor_key, idem_key, request_hash, status,
			response_code, response_body, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (scope, actor_key, idem_key) DO NOTHING`,
		record.ID,
		record.Scope,
		record.ActorKey,
		record.Key,
		record.RequestHash,
		record.Status,
		record.ResponseCode,
		record.ResponseBody,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, scope, actorKey, key string) (*domain.Record, error) {
	var item domain.Record
	err := db.WithContext(ctx).Raw(
		`SELECT id, scope, actor_key, idem_key, request_hash, status,
			response_code, response_body, created_at, updated_at
		 FROM idempotency_records
		 WHERE scope = ? AND actor_key = ? AND idem_key = ?
		 LIMIT 1`,
		scope,
		actorKey,
		key,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) Finalize(ctx context.Context, db *gorm.DB, id snowflake.ID, status string, responseCode int, responseBody []byte, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE idempotency_records
		 SET status = ?, response_code = ?, response_body = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		status,
		responseCode,
		responseBody,
		now,
		id,
		domain.StatusProcessing,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindStaleProcessing(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]domain.Record, error) {
	var items []domain.Record
	err := db.WithContext(ctx).Raw(
		`SELECT id, scope, actor_key, idem_key, request_hash, status,
			response_code, response_body, created_at, updated_at
		 FROM idempotency_records
		 WHERE status = ? AND created_at < ?
		 ORDER BY created_at ASC
		 LIMIT ?`,
		domain.StatusProcessing,
		before,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
