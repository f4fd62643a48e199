package migration

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingdomain "github.com/smallbiznis/couture/internal/billing/domain"
	orgdomain "github.com/smallbiznis/couture/internal/organization/domain"
	plandomain "github.com/smallbiznis/couture/internal/plan/domain"
	quotadomain "github.com/smallbiznis/couture/internal/quota/domain"
	usagedomain "github.com/smallbiznis/couture/internal/usage/domain"
)

func runMigrations(db *gorm.DB, log *zap.Logger) error {
	// Versioned SQL migrations run on postgres; other dialects (sqlite in
	// tests, mysql) fall back to schema sync from the models.
	if db.Dialector.Name() == "postgres" {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		if err := RunMigrations(sqlDB); err != nil {
			return err
		}
		log.Info("database migrations applied")
		return nil
	}

	err := db.AutoMigrate(
		&plandomain.Plan{},
		&orgdomain.Organization{},
		&billingdomain.EventRecord{},
		&billingdomain.DataInconsistency{},
		&usagedomain.UsageEvent{},
		&quotadomain.ResourceCounter{},
	)
	if err != nil {
		return err
	}
	log.Info("database schema synced", zap.String("dialect", db.Dialector.Name()))
	return nil
}

// Module applies the database schema before anything uses the connection.
var Module = fx.Module("migration",
	fx.Invoke(runMigrations),
)
