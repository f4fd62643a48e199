package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/couture/internal/plan/domain"
	"gorm.io/gorm"
)

type repository struct{}

func Provide() plandomain.Repository {
	return &repository{}
}

func (r *repository) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*plandomain.Plan, error) {
	var plan plandomain.Plan
	err := db.WithContext(ctx).First(&plan, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, plandomain.ErrPlanNotFound
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) FindByCode(ctx context.Context, db *gorm.DB, code string) (*plandomain.Plan, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, plandomain.ErrInvalidCode
	}
	var plan plandomain.Plan
	err := db.WithContext(ctx).First(&plan, "code = ?", code).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, plandomain.ErrPlanNotFound
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) List(ctx context.Context, db *gorm.DB) ([]plandomain.Plan, error) {
	var plans []plandomain.Plan
	if err := db.WithContext(ctx).Order("code").Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repository) ListUnpublished(ctx context.Context, db *gorm.DB) ([]plandomain.Plan, error) {
	var plans []plandomain.Plan
	err := db.WithContext(ctx).
		Where("external_product_id IS NULL OR external_product_id = ''").
		Order("code").
		Find(&plans).Error
	if err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repository) Create(ctx context.Context, db *gorm.DB, plan *plandomain.Plan) error {
	return db.WithContext(ctx).Create(plan).Error
}

func (r *repository) Update(ctx context.Context, db *gorm.DB, plan *plandomain.Plan) error {
	plan.UpdatedAt = time.Now().UTC()
	return db.WithContext(ctx).Save(plan).Error
}

func (r *repository) SaveExternalIDs(ctx context.Context, db *gorm.DB, plan *plandomain.Plan) error {
	return db.WithContext(ctx).Model(&plandomain.Plan{}).
		Where("id = ?", plan.ID).
		Updates(map[string]any{
			"external_product_id": plan.ExternalProductID,
			"external_price_ids":  plan.ExternalPriceIDs,
			"updated_at":          time.Now().UTC(),
		}).Error
}
