// Package domain defines the outbound billing provider contract. The webhook
// path never calls the provider; only plan publishing and operator-triggered
// force-sync go through this client.
package domain

import (
	"context"
	"errors"
	"time"
)

// Client is the capability handed to the plan publisher and the force-sync
// path. It is constructed once at process start and injected, so tests can
// substitute a fake.
type Client interface {
	CreateProduct(ctx context.Context, req CreateProductRequest) (*Product, error)
	CreatePrice(ctx context.Context, req CreatePriceRequest) (*Price, error)
	GetSubscription(ctx context.Context, externalSubscriptionID string) (*SubscriptionSnapshot, error)
}

type CreateProductRequest struct {
	Name     string
	PlanCode string
}

type Product struct {
	ID string
}

type CreatePriceRequest struct {
	ProductID  string
	PlanCode   string
	Interval   string
	UnitAmount int64
	Currency   string
}

type Price struct {
	ID string
}

// SubscriptionSnapshot is the provider's current view of one subscription,
// used by force-sync to repair drift.
type SubscriptionSnapshot struct {
	ID                string
	Status            string
	PlanCode          string
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  *time.Time
	StartedAt         *time.Time
	EndedAt           *time.Time
	SnapshotAt        time.Time
}

var (
	ErrProviderUnavailable  = errors.New("provider_unavailable")
	ErrSubscriptionNotFound = errors.New("provider_subscription_not_found")
	ErrInvalidResponse      = errors.New("provider_invalid_response")
)
