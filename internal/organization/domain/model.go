// Package domain contains the tenant organization record owned by the
// billing reconciliation engine.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"

	plandomain "github.com/smallbiznis/couture/internal/plan/domain"
)

// SubscriptionStatus represents lifecycle states for a tenant subscription.
type SubscriptionStatus string

const (
	StatusTrialing  SubscriptionStatus = "trialing"
	StatusActive    SubscriptionStatus = "active"
	StatusPastDue   SubscriptionStatus = "past_due"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusSuspended SubscriptionStatus = "suspended"
)

// ValidStatus reports whether the given value is a known subscription status.
func ValidStatus(s SubscriptionStatus) bool {
	switch s {
	case StatusTrialing, StatusActive, StatusPastDue, StatusCancelled, StatusSuspended:
		return true
	default:
		return false
	}
}

// Organization is one tenant's subscription record. It is mutated only by
// the billing state machine under per-tenant serialization.
type Organization struct {
	ID   snowflake.ID `gorm:"primaryKey"`
	Name string       `gorm:"type:text;not null"`

	PlanID *snowflake.ID `gorm:"index"`
	// PlanCode is a derived, read-only projection of PlanID recomputed on
	// every transition. It is never an independently settable field.
	PlanCode string `gorm:"type:text;not null;default:''"`

	ExternalSubscriptionID *string            `gorm:"type:text;uniqueIndex"`
	Status                 SubscriptionStatus `gorm:"type:text;not null;default:'trialing'"`

	TrialEndsAt           *time.Time `gorm:""`
	SubscriptionStartedAt *time.Time `gorm:""`
	SubscriptionEndsAt    *time.Time `gorm:""`
	CancelAtPeriodEnd     bool       `gorm:"not null;default:false"`

	// Watermark of the last applied billing event, used to reject stale
	// and duplicate deliveries.
	LastAppliedEventID   string     `gorm:"type:text;not null;default:''"`
	LastAppliedEventTime *time.Time `gorm:""`

	NeedsReconciliation bool `gorm:"not null;default:false"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }

// Provision builds a new tenant in its initial billing state: trialing, with
// the trial end derived from the plan's trial length. A nil plan or a plan
// without trial days provisions a trialing record with no trial end.
func Provision(id snowflake.ID, name string, plan *plandomain.Plan, now time.Time) *Organization {
	now = now.UTC()
	org := &Organization{
		ID:        id,
		Name:      name,
		Status:    StatusTrialing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if plan != nil {
		planID := plan.ID
		org.PlanID = &planID
		org.PlanCode = plan.Code
		if plan.TrialDays > 0 {
			ends := now.AddDate(0, 0, plan.TrialDays)
			org.TrialEndsAt = &ends
		}
	}
	return org
}

var (
	ErrOrganizationNotFound = errors.New("organization_not_found")
	ErrInvalidOrganization  = errors.New("invalid_organization")
)
