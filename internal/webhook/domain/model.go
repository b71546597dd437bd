package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StatusReceived  = "received"
	StatusProcessed = "processed"
	StatusFailed    = "failed"
)

var (
	ErrAlreadyProcessed = errors.New("webhook_already_processed")
	ErrEventNotFound    = errors.New("webhook_event_not_found")
)

// EventRecord is the webhook dedup ledger row. The (provider,
// provider_event_id) unique index is the claim: a sender retrying an event
// we already processed gets a 200 without re-running anything.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null"`
	EventType       string         `json:"event_type" gorm:"type:text"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb"`
	Status          string         `json:"status" gorm:"type:text;not null"`
	Attempts        int            `json:"attempts"`
	LastError       string         `json:"last_error" gorm:"type:text"`
	ReceivedAt      time.Time      `json:"received_at"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "webhook_events" }

type Repository interface {
	Claim(ctx context.Context, db *gorm.DB, record *EventRecord) (bool, error)
	Find(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, lastError string, now time.Time) error
	FindFailedRetryable(ctx context.Context, db *gorm.DB, maxAttempts int, before time.Time, limit int) ([]EventRecord, error)
}

// Result tells the HTTP layer what to answer the provider.
type Result struct {
	Code      int
	Duplicate bool
}

type Service interface {
	Handle(ctx context.Context, provider string, payload []byte, headers http.Header) (*Result, error)
	Retry(ctx context.Context, record *EventRecord) error
}
