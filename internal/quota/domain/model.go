// Package domain defines quota decisions and the row-locked resource
// counters backing hard limits.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ResourceCounter is the authoritative count for one hard-limited resource
// type. Reserve locks this row so concurrent creations serialize.
type ResourceCounter struct {
	OrgID        snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	ResourceType string       `gorm:"primaryKey;type:text"`
	Count        int64        `gorm:"not null;default:0"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ResourceCounter) TableName() string { return "resource_counters" }

// Decision is the outcome of a quota evaluation. Remaining is -1 when the
// limit is unlimited.
type Decision struct {
	Allowed        bool    `json:"allowed"`
	CurrentUsage   int64   `json:"current_usage"`
	Limit          int64   `json:"limit"`
	Remaining      int64   `json:"remaining"`
	PercentageUsed float64 `json:"percentage_used"`
}

var (
	ErrInvalidResource = errors.New("invalid_resource_type")
)

// SoftLimitedResources are consumption-style types measured over a trailing
// window of the usage ledger and enforced by the periodic overage sweep.
// Every other type is counter-backed and hard-enforced by Reserve.
var SoftLimitedResources = []string{"api_calls", "webhook_deliveries"}

// Windowed reports whether the resource type is soft-limited.
func Windowed(resourceType string) bool {
	for _, r := range SoftLimitedResources {
		if r == resourceType {
			return true
		}
	}
	return false
}

type Repository interface {
	// CounterForUpdate locks (creating if absent) the counter row for one
	// org and resource type inside the given transaction.
	CounterForUpdate(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, resourceType string) (*ResourceCounter, error)
	CounterValue(ctx context.Context, db *gorm.DB, orgID snowflake.ID, resourceType string) (int64, error)
	Increment(ctx context.Context, tx *gorm.DB, counter *ResourceCounter) error
}
