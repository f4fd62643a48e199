package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smallbiznis/couture/internal/clock"
	"github.com/smallbiznis/couture/internal/config"
	orgdomain "github.com/smallbiznis/couture/internal/organization/domain"
	orgrepo "github.com/smallbiznis/couture/internal/organization/repository"
	plandomain "github.com/smallbiznis/couture/internal/plan/domain"
	planrepo "github.com/smallbiznis/couture/internal/plan/repository"
	"github.com/smallbiznis/couture/internal/quota/domain"
	quotarepo "github.com/smallbiznis/couture/internal/quota/repository"
	usagedomain "github.com/smallbiznis/couture/internal/usage/domain"
	usagerepo "github.com/smallbiznis/couture/internal/usage/repository"
)

type testEnv struct {
	svc   *Service
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
	org   *orgdomain.Organization
}

func newTestEnv(t *testing.T, limits datatypes.JSONMap) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&plandomain.Plan{},
		&orgdomain.Organization{},
		&domain.ResourceCounter{},
		&usagedomain.UsageEvent{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fc := clock.NewFakeClock(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))

	plan := &plandomain.Plan{
		ID:     node.Generate(),
		Code:   "starter",
		Name:   "Starter",
		Limits: limits,
	}
	require.NoError(t, db.Create(plan).Error)

	planID := plan.ID
	org := &orgdomain.Organization{
		ID:       node.Generate(),
		Name:     "acme-rentals",
		Status:   orgdomain.StatusActive,
		PlanID:   &planID,
		PlanCode: plan.Code,
	}
	require.NoError(t, db.Create(org).Error)

	svc := New(Params{
		DB:        db,
		Log:       zap.NewNop(),
		Node:      node,
		Config:    config.Config{QuotaUsageWindow: 720 * time.Hour},
		Clock:     fc,
		Metrics:   nil,
		Repo:      quotarepo.Provide(),
		OrgRepo:   orgrepo.Provide(),
		PlanRepo:  planrepo.Provide(),
		UsageRepo: usagerepo.Provide(),
	})

	return &testEnv{svc: svc, db: db, node: node, clock: fc, org: org}
}

func TestCheckAtLimitDenies(t *testing.T) {
	env := newTestEnv(t, datatypes.JSONMap{"seats": int64(5)})
	ctx := context.Background()

	require.NoError(t, env.db.Create(&domain.ResourceCounter{
		OrgID: env.org.ID, ResourceType: "seats", Count: 5,
	}).Error)

	d, err := env.svc.Check(ctx, env.org.ID, "seats")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(5), d.CurrentUsage)
	assert.Equal(t, int64(5), d.Limit)
	assert.Equal(t, int64(0), d.Remaining)
	assert.InDelta(t, 100.0, d.PercentageUsed, 0.01)
}

func TestCheckUnderLimitAllows(t *testing.T) {
	env := newTestEnv(t, datatypes.JSONMap{"seats": int64(5)})

	require.NoError(t, env.db.Create(&domain.ResourceCounter{
		OrgID: env.org.ID, ResourceType: "seats", Count: 2,
	}).Error)

	d, err := env.svc.Check(context.Background(), env.org.ID, "seats")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(3), d.Remaining)
	assert.InDelta(t, 40.0, d.PercentageUsed, 0.01)
}

func TestCheckUnlimitedAlwaysAllows(t *testing.T) {
	env := newTestEnv(t, datatypes.JSONMap{"seats": plandomain.UnlimitedQuota})

	require.NoError(t, env.db.Create(&domain.ResourceCounter{
		OrgID: env.org.ID, ResourceType: "seats", Count: 100000,
	}).Error)

	d, err := env.svc.Check(context.Background(), env.org.ID, "seats")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(-1), d.Remaining)
	assert.Equal(t, plandomain.UnlimitedQuota, d.Limit)
}

func TestCheckUnknownResourceTypeDenies(t *testing.T) {
	env := newTestEnv(t, datatypes.JSONMap{"seats": int64(5)})

	// Resource types a plan never mentions are closed, not unlimited.
	d, err := env.svc.Check(context.Background(), env.org.ID, "gpu_nodes")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(0), d.Limit)
}

func TestCheckWindowedResourceCountsUsageEvents(t *testing.T) {
	env := newTestEnv(t, datatypes.JSONMap{"api_calls": int64(10)})
	now := env.clock.Now()

	for i, age := range []time.Duration{time.Hour, 48 * time.Hour, 2000 * time.Hour} {
		require.NoError(t, env.db.Create(&usagedomain.UsageEvent{
			ID:           env.node.Generate(),
			OrgID:        env.org.ID,
			ResourceType: "api_calls",
			ResourceID:   string(rune('a' + i)),
			OccurredAt:   now.Add(-age),
		}).Error)
	}

	// The 2000h-old event falls outside the 720h window.
	d, err := env.svc.Check(context.Background(), env.org.ID, "api_calls")
	require.NoError(t, err)
	assert.Equal(t, int64(2), d.CurrentUsage)
	assert.True(t, d.Allowed)
}

func TestReserveStopsExactlyAtLimit(t *testing.T) {
	const limit = 3
	env := newTestEnv(t, datatypes.JSONMap{"seats": int64(limit)})
	ctx := context.Background()

	allowed := 0
	for i := 0; i < limit+4; i++ {
		d, err := env.svc.Reserve(ctx, env.org.ID, "seats", "")
		require.NoError(t, err)
		if d.Allowed {
			allowed++
		}
	}
	assert.Equal(t, limit, allowed)

	var counter domain.ResourceCounter
	require.NoError(t, env.db.First(&counter, "org_id = ? AND resource_type = ?", env.org.ID, "seats").Error)
	assert.Equal(t, int64(limit), counter.Count)
}

func TestReserveLastUnitReportsGranted(t *testing.T) {
	env := newTestEnv(t, datatypes.JSONMap{"seats": int64(2)})
	ctx := context.Background()

	d, err := env.svc.Reserve(ctx, env.org.ID, "seats", "")
	require.NoError(t, err)
	require.True(t, d.Allowed)
	assert.Equal(t, int64(1), d.Remaining)

	// Claiming the final unit is still a grant; only the usage figures
	// reflect that the limit is now exhausted.
	d, err = env.svc.Reserve(ctx, env.org.ID, "seats", "")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(2), d.CurrentUsage)
	assert.Equal(t, int64(0), d.Remaining)
	assert.Equal(t, float64(100), d.PercentageUsed)

	d, err = env.svc.Reserve(ctx, env.org.ID, "seats", "")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestReserveRecordsUsageEvent(t *testing.T) {
	env := newTestEnv(t, datatypes.JSONMap{"seats": int64(3)})

	d, err := env.svc.Reserve(context.Background(), env.org.ID, "seats", "member_9")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(1), d.CurrentUsage)

	var count int64
	require.NoError(t, env.db.Model(&usagedomain.UsageEvent{}).
		Where("org_id = ? AND resource_type = ? AND resource_id = ?", env.org.ID, "seats", "member_9").
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestReserveDeniedLeavesCounterUntouched(t *testing.T) {
	env := newTestEnv(t, datatypes.JSONMap{"seats": int64(1)})
	ctx := context.Background()

	d, err := env.svc.Reserve(ctx, env.org.ID, "seats", "")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = env.svc.Reserve(ctx, env.org.ID, "seats", "")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(1), d.CurrentUsage)

	var counter domain.ResourceCounter
	require.NoError(t, env.db.First(&counter, "org_id = ? AND resource_type = ?", env.org.ID, "seats").Error)
	assert.Equal(t, int64(1), counter.Count)
}

func TestOrgWithoutPlanDeniesEverything(t *testing.T) {
	env := newTestEnv(t, datatypes.JSONMap{"seats": int64(5)})
	require.NoError(t, env.db.Model(&orgdomain.Organization{}).
		Where("id = ?", env.org.ID).
		Updates(map[string]any{"plan_id": nil, "plan_code": ""}).Error)

	d, err := env.svc.Check(context.Background(), env.org.ID, "seats")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(0), d.Limit)
}
