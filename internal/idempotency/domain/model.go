package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

const (
	ScopeCheckout             = "checkout"
	ScopeSubscriptionCheckout = "subscription_checkout"
)

var (
	ErrKeyReused = errors.New("idempotency_key_reused_with_different_payload")
	ErrInFlight  = errors.New("idempotency_key_in_flight")
)

// Record is one claimed idempotency slot. The (scope, actor_key, idem_key)
// tuple is unique in the store; a record moves processing -> completed or
// failed at most once.
type Record struct {
	ID           snowflake.ID   `json:"id" gorm:"primaryKey"`
	Scope        string         `json:"scope" gorm:"type:text;not null"`
	ActorKey     string         `json:"actor_key" gorm:"type:text;not null"`
	Key          string         `json:"idem_key" gorm:"column:idem_key;type:text;not null"`
	RequestHash  string         `json:"request_hash" gorm:"type:text;not null"`
	Status       string         `json:"status" gorm:"type:text;not null"`
	ResponseCode *int           `json:"response_code"`
	ResponseBody datatypes.JSON `json:"response_body" gorm:"type:jsonb"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (Record) TableName() string { return "idempotency_records" }

// ClaimResult reports whether the caller won the slot. When Claimed is
// false, Existing carries the record already holding it.
type ClaimResult struct {
	Claimed  bool
	RecordID snowflake.ID
	Existing *Record
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *Record) (bool, error)
	Find(ctx context.Context, db *gorm.DB, scope, actorKey, key string) (*Record, error)
	Finalize(ctx context.Context, db *gorm.DB, id snowflake.ID, status string, responseCode int, responseBody []byte, now time.Time) (bool, error)
	FindStaleProcessing(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]Record, error)
}

type Service interface {
	Claim(ctx context.Context, scope, actorKey, key, requestHash string) (*ClaimResult, error)
	Finalize(ctx context.Context, id snowflake.ID, status string, responseCode int, responseBody []byte) error
}
