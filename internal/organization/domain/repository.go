package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Organization, error)
	// FindByIDForUpdate locks the organization row for the duration of the
	// surrounding transaction.
	FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Organization, error)
	FindByExternalSubscriptionID(ctx context.Context, db *gorm.DB, externalID string) (*Organization, error)
	Create(ctx context.Context, db *gorm.DB, org *Organization) error
	Save(ctx context.Context, db *gorm.DB, org *Organization) error
}
