// Package service evaluates plan limits against current usage. Hard limits
// go through Reserve, which serializes check-and-increment on a locked
// counter row; soft limits use Check plus the periodic overage sweep.
package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/couture/internal/clock"
	"github.com/smallbiznis/couture/internal/config"
	"github.com/smallbiznis/couture/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/couture/internal/organization/domain"
	plandomain "github.com/smallbiznis/couture/internal/plan/domain"
	"github.com/smallbiznis/couture/internal/quota/domain"
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
	Repo      domain.Repository
	OrgRepo   orgdomain.Repository
	PlanRepo  plandomain.Repository
	UsageRepo usagedomain.Repository
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	node      *snowflake.Node
	cfg       config.Config
	clock     clock.Clock
	metrics   *metrics.Metrics
	repo      domain.Repository
	orgRepo   orgdomain.Repository
	planRepo  plandomain.Repository
	usageRepo usagedomain.Repository
}

func New(p Params) *Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("quota.service"),
		node:      p.Node,
		cfg:       p.Config,
		clock:     p.Clock,
		metrics:   p.Metrics,
		repo:      p.Repo,
		orgRepo:   p.OrgRepo,
		planRepo:  p.PlanRepo,
		usageRepo: p.UsageRepo,
	}
}

// Check computes the current decision for one resource type. It takes no
// locks; callers needing a race-free answer for a hard limit use Reserve.
func (s *Service) Check(ctx context.Context, orgID snowflake.ID, resourceType string) (domain.Decision, error) {
	resourceType = strings.TrimSpace(resourceType)
	if resourceType == "" {
		return domain.Decision{}, domain.ErrInvalidResource
	}

	limit, err := s.limitFor(ctx, s.db, orgID, resourceType)
	if err != nil {
		return domain.Decision{}, err
	}

	usage, err := s.currentUsage(ctx, s.db, orgID, resourceType)
	if err != nil {
		return domain.Decision{}, err
	}

	d := decide(limit, usage)
	s.metrics.RecordQuotaCheck(ctx, resourceType, d.Allowed)
	return d, nil
}

// Reserve atomically checks the limit and claims one unit of it. The counter
// row stays locked until the transaction commits, so concurrent reservations
// against the same limit serialize and never overshoot.
func (s *Service) Reserve(ctx context.Context, orgID snowflake.ID, resourceType, resourceID string) (domain.Decision, error) {
	resourceType = strings.TrimSpace(resourceType)
	if resourceType == "" {
		return domain.Decision{}, domain.ErrInvalidResource
	}

	var d domain.Decision
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		limit, err := s.limitFor(ctx, tx, orgID, resourceType)
		if err != nil {
			return err
		}

		counter, err := s.repo.CounterForUpdate(ctx, tx, orgID, resourceType)
		if err != nil {
			return err
		}

		d = decide(limit, counter.Count)
		if !d.Allowed {
			return nil
		}

		counter.Count++
		counter.UpdatedAt = s.clock.Now().UTC()
		if err := s.repo.Increment(ctx, tx, counter); err != nil {
			return err
		}

		if resourceID != "" {
			err = s.usageRepo.Insert(ctx, tx, &usagedomain.UsageEvent{
				ID:           s.node.Generate(),
				OrgID:        orgID,
				ResourceType: resourceType,
				ResourceID:   resourceID,
				OccurredAt:   s.clock.Now().UTC(),
			})
			if err != nil {
				return err
			}
		}

		// The unit is claimed. Report the post-claim usage, not whether a
		// further reservation would be admitted: the decision answers this
		// call, and re-deciding would deny the last permitted unit after
		// consuming it.
		d.CurrentUsage = counter.Count
		if limit != plandomain.UnlimitedQuota {
			d.Remaining = limit - counter.Count
			if d.Remaining < 0 {
				d.Remaining = 0
			}
			if limit > 0 {
				d.PercentageUsed = float64(counter.Count) / float64(limit) * 100
			}
		}
		return nil
	})
	if err != nil {
		return domain.Decision{}, err
	}

	s.metrics.RecordQuotaCheck(ctx, resourceType, d.Allowed)
	return d, nil
}

func (s *Service) limitFor(ctx context.Context, conn *gorm.DB, orgID snowflake.ID, resourceType string) (int64, error) {
	org, err := s.orgRepo.FindByID(ctx, conn, orgID)
	if err != nil {
		return 0, err
	}
	// No plan assigned means the closed world applies: nothing is granted.
	if org.PlanID == nil {
		return 0, nil
	}
	plan, err := s.planRepo.FindByID(ctx, conn, *org.PlanID)
	if err != nil {
		return 0, err
	}
	return plan.LimitFor(resourceType), nil
}

func (s *Service) currentUsage(ctx context.Context, conn *gorm.DB, orgID snowflake.ID, resourceType string) (int64, error) {
	if domain.Windowed(resourceType) {
		since := s.clock.Now().Add(-s.cfg.QuotaUsageWindow)
		return s.usageRepo.CountSince(ctx, conn, orgID, resourceType, since)
	}
	return s.repo.CounterValue(ctx, conn, orgID, resourceType)
}

func decide(limit, usage int64) domain.Decision {
	d := domain.Decision{
		CurrentUsage: usage,
		Limit:        limit,
	}
	if limit == plandomain.UnlimitedQuota {
		d.Allowed = true
		d.Remaining = -1
		return d
	}
	d.Remaining = limit - usage
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	d.Allowed = usage < limit
	if limit > 0 {
		d.PercentageUsed = float64(usage) / float64(limit) * 100
	} else if usage > 0 {
		d.PercentageUsed = 100
	}
	return d
}
