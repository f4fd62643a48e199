package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository persists the billing event dedup index and detected data
// inconsistencies.
type Repository interface {
	// InsertEvent records the event in the dedup index. It reports false
	// without error when a row with the same provider event id already
	// exists.
	InsertEvent(ctx context.Context, tx *gorm.DB, rec *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, providerEventID string) (*EventRecord, error)
	// MarkProcessed stamps processed_at and the final outcome.
	MarkProcessed(ctx context.Context, tx *gorm.DB, providerEventID string, outcome Outcome, at time.Time) error
	// EvictProcessedBefore deletes processed dedup rows older than the
	// cutoff and returns the number removed.
	EvictProcessedBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)

	RecordInconsistency(ctx context.Context, tx *gorm.DB, row *DataInconsistency) error
	ListInconsistencies(ctx context.Context, db *gorm.DB, orgID snowflake.ID, includeResolved bool) ([]DataInconsistency, error)
}
