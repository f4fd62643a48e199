// Package domain contains persistence models and contracts for plans.
package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// UnlimitedQuota marks a resource type with no ceiling.
const UnlimitedQuota = int64(-1)

// Plan defines the limits and entitlements a subscription grants.
type Plan struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Code      string       `gorm:"type:text;not null;uniqueIndex"`
	Name      string       `gorm:"type:text;not null"`
	TrialDays int          `gorm:"not null;default:0"`

	// Limits maps resource type to an integer ceiling, -1 meaning unlimited.
	Limits datatypes.JSONMap `gorm:"type:jsonb"`
	// Features maps feature name to a boolean entitlement.
	Features datatypes.JSONMap `gorm:"type:jsonb"`
	// Pricing maps billing interval to a unit amount in minor units.
	Pricing datatypes.JSONMap `gorm:"type:jsonb"`

	ExternalProductID *string           `gorm:"type:text"`
	ExternalPriceIDs  datatypes.JSONMap `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }

// HasFeature reports whether the plan grants the named feature. Unknown
// feature names are never granted implicitly.
func (p *Plan) HasFeature(name string) bool {
	if p == nil || p.Features == nil {
		return false
	}
	value, ok := p.Features[strings.TrimSpace(name)]
	if !ok {
		return false
	}
	granted, ok := value.(bool)
	return ok && granted
}

// LimitFor returns the ceiling for a resource type. Resource types absent
// from the plan's limit map yield zero, not unlimited.
func (p *Plan) LimitFor(resourceType string) int64 {
	if p == nil || p.Limits == nil {
		return 0
	}
	value, ok := p.Limits[strings.TrimSpace(resourceType)]
	if !ok {
		return 0
	}
	return toInt64(value)
}

// Published reports whether the plan already carries provider identifiers.
func (p *Plan) Published() bool {
	if p == nil {
		return false
	}
	if p.ExternalProductID == nil || strings.TrimSpace(*p.ExternalProductID) == "" {
		return false
	}
	return len(p.ExternalPriceIDs) > 0
}

func toInt64(value any) int64 {
	switch typed := value.(type) {
	case int64:
		return typed
	case int:
		return int64(typed)
	case float64:
		return int64(typed)
	case json.Number:
		parsed, err := typed.Int64()
		if err == nil {
			return parsed
		}
	}
	return 0
}
