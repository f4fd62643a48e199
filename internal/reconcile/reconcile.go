// Package reconcile runs the periodic hygiene jobs: dedup index eviction and
// the soft-limit overage sweep.
package reconcile

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	billingdomain "github.com/smallbiznis/couture/internal/billing/domain"
	"github.com/smallbiznis/couture/internal/clock"
	"github.com/smallbiznis/couture/internal/config"
	"github.com/smallbiznis/couture/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/couture/internal/organization/domain"
	plandomain "github.com/smallbiznis/couture/internal/plan/domain"
	quotadomain "github.com/smallbiznis/couture/internal/quota/domain"
	usagedomain "github.com/smallbiznis/couture/internal/usage/domain"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Node      *snowflake.Node
	Config    config.Config
	Clock     clock.Clock
	Metrics   *metrics.Metrics
	Repo      billingdomain.Repository
	UsageRepo usagedomain.Repository
	PlanRepo  plandomain.Repository
}

// Reconciler holds the job implementations; scheduling lives in fx.go.
type Reconciler struct {
	db        *gorm.DB
	log       *zap.Logger
	node      *snowflake.Node
	cfg       config.Config
	clock     clock.Clock
	metrics   *metrics.Metrics
	repo      billingdomain.Repository
	usageRepo usagedomain.Repository
	planRepo  plandomain.Repository
}

func New(p Params) *Reconciler {
	return &Reconciler{
		db:        p.DB,
		log:       p.Log.Named("reconcile"),
		node:      p.Node,
		cfg:       p.Config,
		clock:     p.Clock,
		metrics:   p.Metrics,
		repo:      p.Repo,
		usageRepo: p.UsageRepo,
		planRepo:  p.PlanRepo,
	}
}

// EvictDedup deletes processed billing events past the retention horizon.
// The watermark on the organization still rejects replays of evicted events
// that arrive out of order.
func (r *Reconciler) EvictDedup(ctx context.Context) error {
	cutoff := r.clock.Now().Add(-r.cfg.BillingDedupRetention)
	n, err := r.repo.EvictProcessedBefore(ctx, r.db, cutoff)
	if err != nil {
		r.log.Error("dedup eviction failed", zap.Error(err))
		return err
	}
	if n > 0 {
		r.log.Info("evicted processed billing events", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	}
	return nil
}

// TrimUsage deletes windowed usage events that can no longer influence any
// quota decision. Counter-backed resource types keep their rows; those back
// the duplicate-delivery index.
func (r *Reconciler) TrimUsage(ctx context.Context) error {
	cutoff := r.clock.Now().Add(-2 * r.cfg.QuotaUsageWindow)
	n, err := r.usageRepo.DeleteBefore(ctx, r.db, quotadomain.SoftLimitedResources, cutoff)
	if err != nil {
		r.log.Error("usage trim failed", zap.Error(err))
		return err
	}
	if n > 0 {
		r.log.Info("trimmed usage events", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	}
	return nil
}

// SweepOverages flags organizations whose trailing-window usage of a
// soft-limited resource exceeds their plan limit. At most one row per org,
// resource, and day so repeated sweeps stay idempotent.
func (r *Reconciler) SweepOverages(ctx context.Context) error {
	var orgs []orgdomain.Organization
	if err := r.db.WithContext(ctx).Where("plan_id IS NOT NULL").Find(&orgs).Error; err != nil {
		return err
	}

	now := r.clock.Now().UTC()
	since := now.Add(-r.cfg.QuotaUsageWindow)
	dayStart := now.Truncate(24 * time.Hour)

	for _, org := range orgs {
		plan, err := r.planRepo.FindByID(ctx, r.db, *org.PlanID)
		if err != nil {
			r.log.Warn("overage sweep: plan lookup failed",
				zap.String("org_id", org.ID.String()), zap.Error(err))
			continue
		}

		for _, resource := range quotadomain.SoftLimitedResources {
			limit := plan.LimitFor(resource)
			if limit == plandomain.UnlimitedQuota {
				continue
			}
			usage, err := r.usageRepo.CountSince(ctx, r.db, org.ID, resource, since)
			if err != nil {
				return err
			}
			if usage <= limit {
				continue
			}

			flagged, err := r.alreadyFlagged(ctx, org.ID, resource, dayStart)
			if err != nil {
				return err
			}
			if flagged {
				continue
			}

			err = r.repo.RecordInconsistency(ctx, r.db, &billingdomain.DataInconsistency{
				ID:    r.node.Generate(),
				OrgID: org.ID,
				Kind:  billingdomain.InconsistencyQuotaOverage,
				Detail: datatypes.JSONMap{
					"resource_type": resource,
					"usage":         usage,
					"limit":         limit,
				},
				DetectedAt: now,
			})
			if err != nil {
				return err
			}
			r.metrics.RecordInconsistency(ctx, billingdomain.InconsistencyQuotaOverage)
			r.log.Warn("soft limit overage",
				zap.String("org_id", org.ID.String()),
				zap.String("resource_type", resource),
				zap.Int64("usage", usage),
				zap.Int64("limit", limit))
		}
	}
	return nil
}

func (r *Reconciler) alreadyFlagged(ctx context.Context, orgID snowflake.ID, resource string, dayStart time.Time) (bool, error) {
	rows, err := r.repo.ListInconsistencies(ctx, r.db, orgID, false)
	if err != nil {
		return false, err
	}
	for _, row := range rows {
		if row.Kind != billingdomain.InconsistencyQuotaOverage || row.DetectedAt.Before(dayStart) {
			continue
		}
		if rt, ok := row.Detail["resource_type"].(string); ok && rt == resource {
			return true, nil
		}
	}
	return false, nil
}
