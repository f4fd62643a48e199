// Package seed installs the default plan catalog on first boot so a fresh
// deployment can gate features and quotas immediately.
package seed

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smallbiznis/couture/internal/clock"
	"github.com/smallbiznis/couture/internal/config"
	orgdomain "github.com/smallbiznis/couture/internal/organization/domain"
	plandomain "github.com/smallbiznis/couture/internal/plan/domain"
)

func defaultPlans(node *snowflake.Node) []plandomain.Plan {
	return []plandomain.Plan{
		{
			ID:        node.Generate(),
			Code:      "free",
			Name:      "Free",
			TrialDays: 0,
			Limits: datatypes.JSONMap{
				"seats":     int64(2),
				"rentals":   int64(10),
				"api_calls": int64(1000),
			},
			Features: datatypes.JSONMap{
				"online_payments": false,
				"exports":         false,
			},
			Pricing: datatypes.JSONMap{},
		},
		{
			ID:        node.Generate(),
			Code:      "starter",
			Name:      "Starter",
			TrialDays: 14,
			Limits: datatypes.JSONMap{
				"seats":     int64(5),
				"rentals":   int64(200),
				"api_calls": int64(50000),
			},
			Features: datatypes.JSONMap{
				"online_payments": true,
				"exports":         false,
			},
			Pricing: datatypes.JSONMap{
				"month": int64(2900),
				"year":  int64(29000),
			},
		},
		{
			ID:        node.Generate(),
			Code:      "pro",
			Name:      "Pro",
			TrialDays: 14,
			Limits: datatypes.JSONMap{
				"seats":     plandomain.UnlimitedQuota,
				"rentals":   plandomain.UnlimitedQuota,
				"api_calls": int64(1000000),
			},
			Features: datatypes.JSONMap{
				"online_payments": true,
				"exports":         true,
			},
			Pricing: datatypes.JSONMap{
				"month": int64(9900),
				"year":  int64(99000),
			},
		},
	}
}

func seedPlans(db *gorm.DB, node *snowflake.Node, log *zap.Logger) error {
	ctx := context.Background()

	var count int64
	if err := db.WithContext(ctx).Model(&plandomain.Plan{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	plans := defaultPlans(node)
	if err := db.WithContext(ctx).Create(&plans).Error; err != nil {
		return err
	}
	log.Info("seeded default plans", zap.Int("count", len(plans)))
	return nil
}

// seedDemoOrganization provisions one trialing tenant on the starter plan so
// a development install has something to bill against. Production
// environments provision tenants through their own onboarding flow.
func seedDemoOrganization(cfg config.Config, db *gorm.DB, node *snowflake.Node, clk clock.Clock, log *zap.Logger) error {
	if cfg.Environment != "development" {
		return nil
	}
	ctx := context.Background()

	var count int64
	if err := db.WithContext(ctx).Model(&orgdomain.Organization{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	var plan plandomain.Plan
	if err := db.WithContext(ctx).First(&plan, "code = ?", "starter").Error; err != nil {
		return err
	}

	org := orgdomain.Provision(node.Generate(), "demo-rentals", &plan, clk.Now())
	if err := db.WithContext(ctx).Create(org).Error; err != nil {
		return err
	}
	log.Info("seeded demo organization",
		zap.String("org_id", org.ID.String()),
		zap.String("plan_code", org.PlanCode))
	return nil
}

func seed(cfg config.Config, db *gorm.DB, node *snowflake.Node, clk clock.Clock, log *zap.Logger) error {
	if err := seedPlans(db, node, log); err != nil {
		return err
	}
	return seedDemoOrganization(cfg, db, node, clk, log)
}

// Module seeds the plan catalog after migrations have run.
var Module = fx.Module("seed",
	fx.Invoke(seed),
)
