package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/snapvend/snapvend/internal/plan/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindPlanByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Plan, error) {
	var item domain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT id, code, name, scope, billing_interval, active, created_at, updated_at
		 FROM plans
		 WHERE code = ?
		 LIMIT 1`,
		slug.Make(strings.TrimSpace(code)),
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindPrice(ctx context.Context, db *gorm.DB, planID snowflake.ID, currency string) (*domain.PlanPrice, error) {
	var item domain.PlanPrice
	err := db.WithContext(ctx).Raw(
		`SELECT id, plan_id, currency, amount_cents, created_at
		 FROM plan_prices
		 WHERE plan_id = ? AND currency = ?
		 LIMIT 1`,
		planID,
		strings.ToUpper(strings.TrimSpace(currency)),
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindMapping(ctx context.Context, db *gorm.DB, planID snowflake.ID, provider string) (*domain.ProviderPlanMapping, error) {
	var item domain.ProviderPlanMapping
	err := db.WithContext(ctx).Raw(
		`SELECT id, plan_id, provider, external_plan_id, created_at
		 FROM provider_plan_mappings
		 WHERE plan_id = ? AND provider = ?
		 LIMIT 1`,
		planID,
		strings.ToLower(strings.TrimSpace(provider)),
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindMappings(ctx context.Context, db *gorm.DB, planID snowflake.ID) ([]domain.ProviderPlanMapping, error) {
	var items []domain.ProviderPlanMapping
	err := db.WithContext(ctx).Raw(
		`SELECT id, plan_id, provider, external_plan_id, created_at
		 FROM provider_plan_mappings
		 WHERE plan_id = ?
		 ORDER BY created_at ASC`,
		planID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) InsertPlan(ctx context.Context, db *gorm.DB, plan *domain.Plan) error {
	plan.Code = slug.Make(strings.TrimSpace(plan.Code))
	return db.WithContext(ctx).Exec(
		`INSERT INTO plans (id, code, name, scope, billing_interval, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		plan.ID,
		plan.Code,
		plan.Name,
		plan.Scope,
		plan.BillingInterval,
		plan.Active,
		plan.CreatedAt,
		plan.UpdatedAt,
	).Error
}

func (r *repo) InsertPrice(ctx context.Context, db *gorm.DB, price *domain.PlanPrice) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO plan_prices (id, plan_id, currency, amount_cents, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		price.ID,
		price.PlanID,
		strings.ToUpper(strings.TrimSpace(price.Currency)),
		price.AmountCents,
		price.CreatedAt,
	).Error
}

func (r *repo) InsertMapping(ctx context.Context, db *gorm.DB, mapping *domain.ProviderPlanMapping) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO provider_plan_mappings (id, plan_id, provider, external_plan_id, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		mapping.ID,
		mapping.PlanID,
		strings.ToLower(strings.TrimSpace(mapping.Provider)),
		mapping.ExternalPlanID,
		mapping.CreatedAt,
	).Error
}
