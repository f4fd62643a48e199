package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/smallbiznis/couture/internal/billing/domain"
	"github.com/smallbiznis/couture/pkg/db"
)

type repository struct{}

func Provide() domain.Repository {
	return &repository{}
}

func (r *repository) InsertEvent(ctx context.Context, tx *gorm.DB, rec *domain.EventRecord) (bool, error) {
	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(rec)
	if res.Error != nil {
		if db.IsDuplicateKeyErr(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) FindEvent(ctx context.Context, conn *gorm.DB, providerEventID string) (*domain.EventRecord, error) {
	var rec domain.EventRecord
	if err := conn.WithContext(ctx).First(&rec, "provider_event_id = ?", providerEventID).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *repository) MarkProcessed(ctx context.Context, tx *gorm.DB, providerEventID string, outcome domain.Outcome, at time.Time) error {
	return tx.WithContext(ctx).
		Model(&domain.EventRecord{}).
		Where("provider_event_id = ?", providerEventID).
		Updates(map[string]any{
			"processed_at": at,
			"outcome":      string(outcome),
		}).Error
}

func (r *repository) EvictProcessedBefore(ctx context.Context, conn *gorm.DB, cutoff time.Time) (int64, error) {
	res := conn.WithContext(ctx).
		Where("processed_at IS NOT NULL AND processed_at < ?", cutoff).
		Delete(&domain.EventRecord{})
	return res.RowsAffected, res.Error
}

func (r *repository) RecordInconsistency(ctx context.Context, tx *gorm.DB, row *domain.DataInconsistency) error {
	return tx.WithContext(ctx).Create(row).Error
}

func (r *repository) ListInconsistencies(ctx context.Context, conn *gorm.DB, orgID snowflake.ID, includeResolved bool) ([]domain.DataInconsistency, error) {
	query := conn.WithContext(ctx).Model(&domain.DataInconsistency{}).Order("detected_at DESC")
	if orgID != 0 {
		query = query.Where("org_id = ?", orgID)
	}
	if !includeResolved {
		query = query.Where("resolved_at IS NULL")
	}
	var rows []domain.DataInconsistency
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
