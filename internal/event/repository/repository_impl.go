package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/snapvend/snapvend/internal/event/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Event, error) {
	var item domain.Event
	err := db.WithContext(ctx).Raw(
		`SELECT id, creator_id, title, slug, country, currency, status,
			unlock_all_enabled, created_at, updated_at
		 FROM events
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *domain.Event) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO events (
			id, creator_id, title, slug, country, currency, status,
			unlock_all_enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.CreatorID,
		event.Title,
		event.Slug,
		event.Country,
		event.Currency,
		event.Status,
		event.UnlockAllEnabled,
		event.CreatedAt,
		event.UpdatedAt,
	).Error
}
