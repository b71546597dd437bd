package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const (
	StatusDraft  = "draft"
	StatusActive = "active"
	StatusClosed = "closed"
)

var ErrEventNotFound = errors.New("event_not_found")

// Event is a photo gallery listed on the marketplace. Only active events are
// purchasable; drafts and closed events 404 through the checkout path even
// for their own photographer.
type Event struct {
	ID               snowflake.ID `json:"id" gorm:"primaryKey"`
	CreatorID        snowflake.ID `json:"creator_id" gorm:"not null;index"`
	Title            string       `json:"title" gorm:"type:text;not null"`
	Slug             string       `json:"slug" gorm:"type:text;not null;uniqueIndex"`
	Country          string       `json:"country" gorm:"type:text"`
	Currency         string       `json:"currency" gorm:"type:text;not null"`
	Status           string       `json:"status" gorm:"type:text;not null"`
	UnlockAllEnabled bool         `json:"unlock_all_enabled" gorm:"not null"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

func (Event) TableName() string { return "events" }

func (e *Event) Purchasable() bool {
	return e != nil && e.Status == StatusActive
}

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Event, error)
	Insert(ctx context.Context, db *gorm.DB, event *Event) error
}
