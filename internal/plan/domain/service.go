package domain

import (
	"context"
	"errors"
	"time"
)

type Service interface {
	GetByCode(ctx context.Context, code string) (*Plan, error)
	List(ctx context.Context) ([]Plan, error)
	// HasFeature resolves a boolean entitlement from the named plan.
	// Unknown plans and unknown feature names yield false.
	HasFeature(ctx context.Context, planCode, featureName string) (bool, error)
}

// SyncResult reports the outcome of publishing one plan to the provider.
type SyncResult struct {
	PlanCode    string     `json:"plan_code"`
	Published   bool       `json:"published"`
	Skipped     bool       `json:"skipped"`
	Error       string     `json:"error,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

var (
	ErrPlanNotFound = errors.New("plan_not_found")
	ErrInvalidCode  = errors.New("invalid_plan_code")
)
