package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/smallbiznis/couture/internal/quota/domain"
	"github.com/smallbiznis/couture/pkg/db"
)

type repository struct{}

func Provide() domain.Repository {
	return &repository{}
}

func (r *repository) CounterForUpdate(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, resourceType string) (*domain.ResourceCounter, error) {
	// Seed the row first so the locking read always has something to lock.
	seed := &domain.ResourceCounter{OrgID: orgID, ResourceType: resourceType}
	err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(seed).Error
	if err != nil && !db.IsDuplicateKeyErr(err) {
		return nil, err
	}

	query := tx.WithContext(ctx)
	if tx.Dialector.Name() != "sqlite" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var counter domain.ResourceCounter
	err = query.First(&counter, "org_id = ? AND resource_type = ?", orgID, resourceType).Error
	if err != nil {
		return nil, err
	}
	return &counter, nil
}

func (r *repository) CounterValue(ctx context.Context, conn *gorm.DB, orgID snowflake.ID, resourceType string) (int64, error) {
	var counter domain.ResourceCounter
	err := conn.WithContext(ctx).First(&counter, "org_id = ? AND resource_type = ?", orgID, resourceType).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return counter.Count, nil
}

func (r *repository) Increment(ctx context.Context, tx *gorm.DB, counter *domain.ResourceCounter) error {
	return tx.WithContext(ctx).
		Model(&domain.ResourceCounter{}).
		Where("org_id = ? AND resource_type = ?", counter.OrgID, counter.ResourceType).
		Updates(map[string]any{
			"count":      counter.Count,
			"updated_at": counter.UpdatedAt,
		}).Error
}
