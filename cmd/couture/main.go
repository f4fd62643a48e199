package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/smallbiznis/couture/internal/billing"
	"github.com/smallbiznis/couture/internal/clock"
	"github.com/smallbiznis/couture/internal/config"
	"github.com/smallbiznis/couture/internal/migration"
	"github.com/smallbiznis/couture/internal/observability"
	"github.com/smallbiznis/couture/internal/organization"
	"github.com/smallbiznis/couture/internal/plan"
	"github.com/smallbiznis/couture/internal/provider"
	"github.com/smallbiznis/couture/internal/quota"
	"github.com/smallbiznis/couture/internal/reconcile"
	"github.com/smallbiznis/couture/internal/seed"
	"github.com/smallbiznis/couture/internal/server"
	"github.com/smallbiznis/couture/internal/usage"
	"github.com/smallbiznis/couture/pkg/db"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		seed.Module,

		// Domains
		provider.Module,
		plan.Module,
		organization.Module,
		billing.Module,
		quota.Module,
		usage.Module,
		reconcile.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
