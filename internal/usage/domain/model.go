// Package domain defines the append-only usage ledger.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// UsageEvent is one consumption record. Rows are never mutated; retention is
// the only deletion path.
type UsageEvent struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	OrgID        snowflake.ID `gorm:"not null;uniqueIndex:idx_usage_org_resource,priority:1"`
	ResourceType string       `gorm:"type:text;not null;uniqueIndex:idx_usage_org_resource,priority:2"`
	ResourceID   string       `gorm:"type:text;not null;uniqueIndex:idx_usage_org_resource,priority:3"`
	OccurredAt   time.Time    `gorm:"not null;index"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageEvent) TableName() string { return "usage_events" }

var ErrInvalidUsage = errors.New("invalid_usage_event")

type Repository interface {
	Insert(ctx context.Context, tx *gorm.DB, ev *UsageEvent) error
	// CountSince counts events for one org and resource type with
	// occurred_at at or after the cutoff.
	CountSince(ctx context.Context, db *gorm.DB, orgID snowflake.ID, resourceType string, since time.Time) (int64, error)
	// DeleteBefore trims events of the given resource types older than the
	// cutoff. Countable resource types are never trimmed: their rows back
	// the duplicate-delivery index.
	DeleteBefore(ctx context.Context, db *gorm.DB, resourceTypes []string, cutoff time.Time) (int64, error)
}
