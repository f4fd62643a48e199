// Package domain contains the billing event model and the subscription
// transition rules applied to tenant organizations.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Provider event types recognized by the state machine.
const (
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventInvoicePaid         = "invoice.paid"
	EventInvoicePaymentFail  = "invoice.payment_failed"
)

// InboundEvent is a verified, parsed provider event. It lives in the dedup
// index for a bounded retention window and is consumed exactly once.
type InboundEvent struct {
	EventID    string
	Type       string
	OccurredAt time.Time

	// OrgID is carried in the provider-side metadata; zero when the event
	// must be resolved through the external subscription id instead.
	OrgID                  snowflake.ID
	ExternalSubscriptionID string

	Subscription *SubscriptionData
	Payload      []byte
}

// SubscriptionData carries the subscription fields present on the event.
// Pointer fields distinguish "absent" from zero values: absent fields must
// not reset previously-computed state.
type SubscriptionData struct {
	ExternalID        string
	Status            string
	PlanCode          string
	CancelAtPeriodEnd *bool
	CurrentPeriodEnd  *time.Time
	StartedAt         *time.Time
	// EndedAt is the provider-supplied termination time, when present.
	EndedAt *time.Time
}

// Outcome classifies how an event was handled. Every outcome except
// OutcomeFailed is acknowledged to the provider.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeStale     Outcome = "stale"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeFailed    Outcome = "failed"
)

// EventRecord is the persisted dedup-index row for one provider event.
type EventRecord struct {
	ID              snowflake.ID   `gorm:"primaryKey"`
	ProviderEventID string         `gorm:"column:provider_event_id;type:text;not null;uniqueIndex"`
	OrgID           snowflake.ID   `gorm:"index"`
	EventType       string         `gorm:"type:text;not null"`
	OccurredAt      time.Time      `gorm:"not null"`
	Payload         datatypes.JSON `gorm:"type:jsonb"`
	ReceivedAt      time.Time      `gorm:"not null"`
	ProcessedAt     *time.Time     `gorm:"index"`
	Outcome         string         `gorm:"type:text;not null;default:''"`
}

// TableName sets the database table name.
func (EventRecord) TableName() string { return "billing_events" }

// Inconsistency kinds recorded for operator inspection.
const (
	InconsistencyPlanUnresolved     = "plan_unresolved"
	InconsistencyStatusUnknown      = "provider_status_unknown"
	InconsistencySubscriptionClash  = "external_subscription_mismatch"
	InconsistencyMissingPeriodEnd   = "cancel_at_period_end_without_end"
	InconsistencyQuotaOverage       = "quota_overage"
	InconsistencyPlanCodeDivergence = "plan_code_divergence"
)

// DataInconsistency is a detected divergence between fields expected to
// mirror each other. Rows are never auto-corrected.
type DataInconsistency struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	OrgID      snowflake.ID      `gorm:"not null;index"`
	Kind       string            `gorm:"type:text;not null"`
	Detail     datatypes.JSONMap `gorm:"type:jsonb"`
	DetectedAt time.Time         `gorm:"not null"`
	ResolvedAt *time.Time        `gorm:""`
}

// TableName sets the database table name.
func (DataInconsistency) TableName() string { return "data_inconsistencies" }
