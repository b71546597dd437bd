package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/snapvend/snapvend/internal/clock"
	"github.com/snapvend/snapvend/internal/idempotency/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("idempotency.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// Claim attempts to insert a processing record for the key. On conflict it
// returns the existing record so the caller can replay or reject; the
// existing record's outcome is never touched.
func (s *Service) Claim(ctx context.Context, scope, actorKey, key, requestHash string) (*domain.ClaimResult, error) {
	now := s.clock.Now()
	record := &domain.Record{
		ID:          s.genID.Generate(),
		Scope:       scope,
		ActorKey:    actorKey,
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.StatusProcessing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	inserted, err := s.repo.Insert(ctx, s.db, record)
	if err != nil {
		return nil, err
	}
	if inserted {
		return &domain.ClaimResult{Claimed: true, RecordID: record.ID}, nil
	}

	existing, err := s.repo.Find(ctx, s.db, scope, actorKey, key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		// Insert lost the race and the winner's row is not visible yet.
		// Treat as in-flight; the client retries.
		return &domain.ClaimResult{Claimed: false}, nil
	}
	return &domain.ClaimResult{Claimed: false, RecordID: existing.ID, Existing: existing}, nil
}

// Finalize transitions the record out of processing exactly once. A record
// already finalized is left untouched; callers invoke this on every exit
// path so a crashed request never permanently blocks its key.
func (s *Service) Finalize(ctx context.Context, id snowflake.ID, status string, responseCode int, responseBody []byte) error {
	updated, err := s.repo.Finalize(ctx, s.db, id, status, responseCode, responseBody, s.clock.Now())
	if err != nil {
		return err
	}
	if !updated {
		s.log.Debug("idempotency record already finalized", zap.Int64("record_id", int64(id)))
	}
	return nil
}

// HashRequest produces a stable hash of the normalized request payload.
// Key order is canonicalized so logically equal payloads hash equally.
func HashRequest(payload any) string {
	normalized := normalize(payload)
	data, err := json.Marshal(normalized)
	if err != nil {
		data = []byte(strings.TrimSpace(strings.ToLower(err.Error())))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]any, 0, len(keys)*2)
		for _, k := range keys {
			out = append(out, k, normalize(val[k]))
		}
		return out
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			out = append(out, normalize(item))
		}
		return out
	default:
		return v
	}
}
