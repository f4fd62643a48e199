// Package service implements the billing event pipeline: dedup, per-tenant
// sequencing, the subscription state machine, and the event watermark.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smallbiznis/couture/internal/billing/domain"
	"github.com/smallbiznis/couture/internal/billing/sequencer"
	"github.com/smallbiznis/couture/internal/clock"
	"github.com/smallbiznis/couture/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/couture/internal/organization/domain"
	plandomain "github.com/smallbiznis/couture/internal/plan/domain"
	providerdomain "github.com/smallbiznis/couture/internal/provider/domain"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Node      *snowflake.Node
	Clock     clock.Clock
	Metrics   *metrics.Metrics
	Repo      domain.Repository
	OrgRepo   orgdomain.Repository
	PlanRepo  plandomain.Repository
	Sequencer sequencer.Sequencer
	Provider  providerdomain.Client
}

// Service processes inbound billing events. One instance serves both the
// webhook path and the operator force-sync path.
type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	node      *snowflake.Node
	clock     clock.Clock
	metrics   *metrics.Metrics
	repo      domain.Repository
	orgRepo   orgdomain.Repository
	planRepo  plandomain.Repository
	sequencer sequencer.Sequencer
	provider  providerdomain.Client
}

func New(p Params) *Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("billing.service"),
		node:      p.Node,
		clock:     p.Clock,
		metrics:   p.Metrics,
		repo:      p.Repo,
		orgRepo:   p.OrgRepo,
		planRepo:  p.PlanRepo,
		sequencer: p.Sequencer,
		provider:  p.Provider,
	}
}

func knownEventType(t string) bool {
	switch t {
	case domain.EventSubscriptionCreated, domain.EventSubscriptionUpdated,
		domain.EventSubscriptionDeleted, domain.EventInvoicePaid,
		domain.EventInvoicePaymentFail:
		return true
	default:
		return false
	}
}

// ProcessEvent runs one event through dedup, the per-tenant lock, and the
// state machine. A nil error means the event was consumed and must be
// acknowledged to the provider, whatever the outcome. A non-nil error is a
// transient infrastructure failure the provider should retry.
func (s *Service) ProcessEvent(ctx context.Context, ev *domain.InboundEvent) (domain.Outcome, error) {
	if ev == nil || ev.EventID == "" || ev.Type == "" {
		return domain.OutcomeFailed, domain.ErrInvalidEvent
	}

	log := s.log.With(zap.String("event_id", ev.EventID), zap.String("event_type", ev.Type))

	if !knownEventType(ev.Type) {
		outcome, err := s.recordIgnored(ctx, ev)
		if err != nil {
			return domain.OutcomeFailed, err
		}
		if outcome == domain.OutcomeIgnored {
			log.Info("ignoring unknown event type")
		}
		s.metrics.RecordBillingEvent(ctx, ev.Type, string(outcome))
		return outcome, nil
	}

	lockStart := s.clock.Now()
	release, err := s.sequencer.Acquire(ctx, s.lockKey(ctx, ev))
	if err != nil {
		return domain.OutcomeFailed, err
	}
	defer release()
	s.metrics.ObserveSequencerWait(ctx, s.clock.Now().Sub(lockStart))

	outcome := domain.OutcomeFailed
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		outcome, txErr = s.processInTx(ctx, tx, ev, log)
		return txErr
	})
	if err != nil {
		return domain.OutcomeFailed, err
	}

	s.metrics.RecordBillingEvent(ctx, ev.Type, string(outcome))
	return outcome, nil
}

func (s *Service) processInTx(ctx context.Context, tx *gorm.DB, ev *domain.InboundEvent, log *zap.Logger) (domain.Outcome, error) {
	now := s.clock.Now().UTC()

	inserted, err := s.repo.InsertEvent(ctx, tx, s.newEventRecord(ev, now))
	if err != nil {
		return domain.OutcomeFailed, err
	}
	if !inserted {
		existing, err := s.repo.FindEvent(ctx, tx, ev.EventID)
		if err != nil {
			return domain.OutcomeFailed, err
		}
		if existing.ProcessedAt != nil {
			log.Info("duplicate event delivery", zap.String("prior_outcome", existing.Outcome))
			return domain.OutcomeDuplicate, nil
		}
		// An unprocessed row means a prior attempt crashed mid-flight;
		// reprocess under the same dedup row.
	}

	org, err := s.resolveOrg(ctx, tx, ev)
	if err != nil {
		if errors.Is(err, orgdomain.ErrOrganizationNotFound) {
			log.Warn("event references unknown organization",
				zap.String("external_subscription_id", ev.ExternalSubscriptionID))
			return s.finish(ctx, tx, ev, domain.OutcomeFailed, now)
		}
		return domain.OutcomeFailed, err
	}
	log = log.With(zap.String("org_id", org.ID.String()))

	if ev.EventID == org.LastAppliedEventID {
		return s.finish(ctx, tx, ev, domain.OutcomeDuplicate, now)
	}
	if org.LastAppliedEventTime != nil && ev.OccurredAt.Before(*org.LastAppliedEventTime) {
		log.Info("stale event, keeping current state",
			zap.Time("occurred_at", ev.OccurredAt),
			zap.Time("watermark", *org.LastAppliedEventTime))
		return s.finish(ctx, tx, ev, domain.OutcomeStale, now)
	}

	resolved, err := s.resolvePlan(ctx, tx, ev)
	if err != nil {
		return domain.OutcomeFailed, err
	}

	changed, notes := domain.Transition(org, domain.TransitionInput{
		Event:        ev,
		ResolvedPlan: resolved,
		Now:          now,
	})
	for _, note := range notes {
		if err := s.recordNote(ctx, tx, org.ID, note, now); err != nil {
			return domain.OutcomeFailed, err
		}
		log.Warn("data inconsistency detected", zap.String("kind", note.Kind), zap.Any("detail", note.Detail))
	}

	org.LastAppliedEventID = ev.EventID
	occurred := ev.OccurredAt
	org.LastAppliedEventTime = &occurred
	if err := s.orgRepo.Save(ctx, tx, org); err != nil {
		return domain.OutcomeFailed, err
	}

	if changed {
		log.Info("subscription state updated", zap.String("status", string(org.Status)))
	}
	return s.finish(ctx, tx, ev, domain.OutcomeApplied, now)
}

// finish stamps the dedup row with the final outcome inside the same
// transaction as the state change.
func (s *Service) finish(ctx context.Context, tx *gorm.DB, ev *domain.InboundEvent, outcome domain.Outcome, now time.Time) (domain.Outcome, error) {
	if err := s.repo.MarkProcessed(ctx, tx, ev.EventID, outcome, now); err != nil {
		return domain.OutcomeFailed, err
	}
	return outcome, nil
}

func (s *Service) recordIgnored(ctx context.Context, ev *domain.InboundEvent) (domain.Outcome, error) {
	outcome := domain.OutcomeFailed
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now().UTC()
		inserted, err := s.repo.InsertEvent(ctx, tx, s.newEventRecord(ev, now))
		if err != nil {
			return err
		}
		if !inserted {
			outcome = domain.OutcomeDuplicate
			return nil
		}
		outcome, err = s.finish(ctx, tx, ev, domain.OutcomeIgnored, now)
		return err
	})
	return outcome, err
}

func (s *Service) newEventRecord(ev *domain.InboundEvent, now time.Time) *domain.EventRecord {
	return &domain.EventRecord{
		ID:              s.node.Generate(),
		ProviderEventID: ev.EventID,
		OrgID:           ev.OrgID,
		EventType:       ev.Type,
		OccurredAt:      ev.OccurredAt,
		Payload:         datatypes.JSON(ev.Payload),
		ReceivedAt:      now,
	}
}

func (s *Service) resolveOrg(ctx context.Context, tx *gorm.DB, ev *domain.InboundEvent) (*orgdomain.Organization, error) {
	if ev.OrgID != 0 {
		return s.orgRepo.FindByIDForUpdate(ctx, tx, ev.OrgID)
	}
	if ev.ExternalSubscriptionID == "" {
		return nil, orgdomain.ErrOrganizationNotFound
	}
	org, err := s.orgRepo.FindByExternalSubscriptionID(ctx, tx, ev.ExternalSubscriptionID)
	if err != nil {
		return nil, err
	}
	// Re-fetch under lock; the lookup itself is unlocked.
	return s.orgRepo.FindByIDForUpdate(ctx, tx, org.ID)
}

func (s *Service) resolvePlan(ctx context.Context, tx *gorm.DB, ev *domain.InboundEvent) (*plandomain.Plan, error) {
	if ev.Subscription == nil || ev.Subscription.PlanCode == "" {
		return nil, nil
	}
	plan, err := s.planRepo.FindByCode(ctx, tx, ev.Subscription.PlanCode)
	if err != nil {
		if errors.Is(err, plandomain.ErrPlanNotFound) || errors.Is(err, plandomain.ErrInvalidCode) {
			return nil, nil
		}
		return nil, err
	}
	return plan, nil
}

func (s *Service) recordNote(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, note domain.Note, now time.Time) error {
	detail := datatypes.JSONMap{}
	for k, v := range note.Detail {
		detail[k] = v
	}
	s.metrics.RecordInconsistency(ctx, note.Kind)
	return s.repo.RecordInconsistency(ctx, tx, &domain.DataInconsistency{
		ID:         s.node.Generate(),
		OrgID:      orgID,
		Kind:       note.Kind,
		Detail:     detail,
		DetectedAt: now,
	})
}

// lockKey picks the per-tenant serialization key. Events naming the tenant
// directly and events carrying only the external subscription id must
// contend on the same lock, so the external id is resolved to the owning
// organization before locking. An id that does not resolve yet, as on the
// first created event, keys by the external id itself.
func (s *Service) lockKey(ctx context.Context, ev *domain.InboundEvent) string {
	if ev.OrgID != 0 {
		return ev.OrgID.String()
	}
	if ev.ExternalSubscriptionID == "" {
		return ""
	}
	if org, err := s.orgRepo.FindByExternalSubscriptionID(ctx, s.db, ev.ExternalSubscriptionID); err == nil {
		return org.ID.String()
	}
	return ev.ExternalSubscriptionID
}

// Organization reads one tenant's current subscription record.
func (s *Service) Organization(ctx context.Context, orgID snowflake.ID) (*orgdomain.Organization, error) {
	return s.orgRepo.FindByID(ctx, s.db, orgID)
}

// Inconsistencies lists recorded data inconsistencies for inspection.
func (s *Service) Inconsistencies(ctx context.Context, orgID snowflake.ID, includeResolved bool) ([]domain.DataInconsistency, error) {
	return s.repo.ListInconsistencies(ctx, s.db, orgID, includeResolved)
}

// EvictDedupBefore removes processed dedup rows older than the cutoff.
func (s *Service) EvictDedupBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.repo.EvictProcessedBefore(ctx, s.db, cutoff)
	if err != nil {
		return 0, fmt.Errorf("dedup eviction: %w", err)
	}
	return n, nil
}
