package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/couture/internal/usage/domain"
)

type repository struct{}

func Provide() domain.Repository {
	return &repository{}
}

func (r *repository) Insert(ctx context.Context, tx *gorm.DB, ev *domain.UsageEvent) error {
	return tx.WithContext(ctx).Create(ev).Error
}

func (r *repository) CountSince(ctx context.Context, db *gorm.DB, orgID snowflake.ID, resourceType string, since time.Time) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.UsageEvent{}).
		Where("org_id = ? AND resource_type = ? AND occurred_at >= ?", orgID, resourceType, since).
		Count(&count).Error
	return count, err
}

func (r *repository) DeleteBefore(ctx context.Context, db *gorm.DB, resourceTypes []string, cutoff time.Time) (int64, error) {
	if len(resourceTypes) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).
		Where("resource_type IN ? AND occurred_at < ?", resourceTypes, cutoff).
		Delete(&domain.UsageEvent{})
	return res.RowsAffected, res.Error
}
