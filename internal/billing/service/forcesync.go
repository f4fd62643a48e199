package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smallbiznis/couture/internal/billing/domain"
	orgdomain "github.com/smallbiznis/couture/internal/organization/domain"
)

// ForceSync pulls the provider's current snapshot for the organization's
// subscription and replays it through the normal event pipeline, so a missed
// webhook can be repaired without a second code path mutating state.
func (s *Service) ForceSync(ctx context.Context, orgID snowflake.ID) (domain.Outcome, error) {
	org, err := s.orgRepo.FindByID(ctx, s.db, orgID)
	if err != nil {
		return domain.OutcomeFailed, err
	}
	if org.ExternalSubscriptionID == nil || *org.ExternalSubscriptionID == "" {
		return domain.OutcomeFailed, fmt.Errorf("%w: organization has no external subscription", orgdomain.ErrInvalidOrganization)
	}

	snap, err := s.provider.GetSubscription(ctx, *org.ExternalSubscriptionID)
	if err != nil {
		return domain.OutcomeFailed, err
	}

	ev := &domain.InboundEvent{
		EventID:                fmt.Sprintf("forcesync_%s", uuid.NewString()),
		Type:                   domain.EventSubscriptionUpdated,
		OccurredAt:             snap.SnapshotAt.UTC(),
		OrgID:                  org.ID,
		ExternalSubscriptionID: snap.ID,
		Subscription: &domain.SubscriptionData{
			ExternalID:        snap.ID,
			Status:            snap.Status,
			PlanCode:          snap.PlanCode,
			CancelAtPeriodEnd: &snap.CancelAtPeriodEnd,
			CurrentPeriodEnd:  snap.CurrentPeriodEnd,
			StartedAt:         snap.StartedAt,
			EndedAt:           snap.EndedAt,
		},
	}

	s.log.Info("force sync requested",
		zap.String("org_id", org.ID.String()),
		zap.String("external_subscription_id", snap.ID))
	return s.ProcessEvent(ctx, ev)
}
