// Package service records resource consumption. Recording is best-effort on
// the request path: a failed write must never fail the instrumented request.
package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/couture/internal/clock"
	"github.com/smallbiznis/couture/internal/observability/metrics"
	"github.com/smallbiznis/couture/internal/usage/domain"
	"github.com/smallbiznis/couture/pkg/db"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Node    *snowflake.Node
	Clock   clock.Clock
	Metrics *metrics.Metrics
	Repo    domain.Repository
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	node    *snowflake.Node
	clock   clock.Clock
	metrics *metrics.Metrics
	repo    domain.Repository
}

func New(p Params) *Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("usage.service"),
		node:    p.Node,
		clock:   p.Clock,
		metrics: p.Metrics,
		repo:    p.Repo,
	}
}

// Record appends one usage event. A replayed (org, type, resource) triple is
// tolerated silently; the ledger already holds it.
func (s *Service) Record(ctx context.Context, orgID snowflake.ID, resourceType, resourceID string, occurredAt time.Time) error {
	resourceType = strings.TrimSpace(resourceType)
	resourceID = strings.TrimSpace(resourceID)
	if orgID == 0 || resourceType == "" || resourceID == "" {
		return domain.ErrInvalidUsage
	}
	if occurredAt.IsZero() {
		occurredAt = s.clock.Now()
	}

	err := s.repo.Insert(ctx, s.db, &domain.UsageEvent{
		ID:           s.node.Generate(),
		OrgID:        orgID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		OccurredAt:   occurredAt.UTC(),
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil
		}
		return err
	}
	s.metrics.RecordUsage(ctx, resourceType)
	return nil
}

// RecordAsync is Record for callers that must not observe tracking failures.
// Errors are logged at warn and swallowed.
func (s *Service) RecordAsync(ctx context.Context, orgID snowflake.ID, resourceType, resourceID string, occurredAt time.Time) {
	if err := s.Record(ctx, orgID, resourceType, resourceID, occurredAt); err != nil {
		s.log.Warn("usage record dropped",
			zap.String("org_id", orgID.String()),
			zap.String("resource_type", resourceType),
			zap.Error(err))
	}
}

// CountSince exposes trailing-window counts to the quota engine.
func (s *Service) CountSince(ctx context.Context, orgID snowflake.ID, resourceType string, since time.Time) (int64, error) {
	return s.repo.CountSince(ctx, s.db, orgID, resourceType, since)
}
