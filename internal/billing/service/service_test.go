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

	"github.com/smallbiznis/couture/internal/billing/domain"
	billingrepo "github.com/smallbiznis/couture/internal/billing/repository"
	"github.com/smallbiznis/couture/internal/billing/sequencer"
	"github.com/smallbiznis/couture/internal/clock"
	orgdomain "github.com/smallbiznis/couture/internal/organization/domain"
	orgrepo "github.com/smallbiznis/couture/internal/organization/repository"
	plandomain "github.com/smallbiznis/couture/internal/plan/domain"
	planrepo "github.com/smallbiznis/couture/internal/plan/repository"
	providerdomain "github.com/smallbiznis/couture/internal/provider/domain"
)

type fakeProvider struct {
	snapshot *providerdomain.SubscriptionSnapshot
	getCalls int
}

func (f *fakeProvider) CreateProduct(ctx context.Context, req providerdomain.CreateProductRequest) (*providerdomain.Product, error) {
	return &providerdomain.Product{ID: "prod_fake"}, nil
}

func (f *fakeProvider) CreatePrice(ctx context.Context, req providerdomain.CreatePriceRequest) (*providerdomain.Price, error) {
	return &providerdomain.Price{ID: "price_fake"}, nil
}

func (f *fakeProvider) GetSubscription(ctx context.Context, externalSubscriptionID string) (*providerdomain.SubscriptionSnapshot, error) {
	f.getCalls++
	if f.snapshot == nil {
		return nil, providerdomain.ErrSubscriptionNotFound
	}
	return f.snapshot, nil
}

type testEnv struct {
	svc      *Service
	db       *gorm.DB
	node     *snowflake.Node
	clock    *clock.FakeClock
	provider *fakeProvider
	org      *orgdomain.Organization
	plan     *plandomain.Plan
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&plandomain.Plan{},
		&orgdomain.Organization{},
		&domain.EventRecord{},
		&domain.DataInconsistency{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fc := clock.NewFakeClock(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	fake := &fakeProvider{}

	plan := &plandomain.Plan{
		ID:       node.Generate(),
		Code:     "pro",
		Name:     "Pro",
		Limits:   datatypes.JSONMap{"seats": int64(5)},
		Features: datatypes.JSONMap{"exports": true},
	}
	require.NoError(t, db.Create(plan).Error)

	org := &orgdomain.Organization{
		ID:     node.Generate(),
		Name:   "acme-rentals",
		Status: orgdomain.StatusTrialing,
	}
	require.NoError(t, db.Create(org).Error)

	svc := New(Params{
		DB:        db,
		Log:       zap.NewNop(),
		Node:      node,
		Clock:     fc,
		Metrics:   nil,
		Repo:      billingrepo.Provide(),
		OrgRepo:   orgrepo.Provide(),
		PlanRepo:  planrepo.Provide(),
		Sequencer: sequencer.NewLocal(time.Second),
		Provider:  fake,
	})

	return &testEnv{svc: svc, db: db, node: node, clock: fc, provider: fake, org: org, plan: plan}
}

func (e *testEnv) reloadOrg(t *testing.T) *orgdomain.Organization {
	t.Helper()
	var org orgdomain.Organization
	require.NoError(t, e.db.First(&org, "id = ?", e.org.ID).Error)
	return &org
}

func (e *testEnv) createdEvent(eventID string, occurredAt time.Time) *domain.InboundEvent {
	return &domain.InboundEvent{
		EventID:                eventID,
		Type:                   domain.EventSubscriptionCreated,
		OccurredAt:             occurredAt,
		OrgID:                  e.org.ID,
		ExternalSubscriptionID: "sub_1",
		Subscription: &domain.SubscriptionData{
			ExternalID: "sub_1",
			Status:     "active",
			PlanCode:   "pro",
		},
	}
}

func TestProcessEventAppliesCreated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	occurred := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	outcome, err := env.svc.ProcessEvent(ctx, env.createdEvent("evt_1", occurred))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, outcome)

	org := env.reloadOrg(t)
	assert.Equal(t, orgdomain.StatusActive, org.Status)
	assert.Equal(t, "pro", org.PlanCode)
	require.NotNil(t, org.PlanID)
	assert.Equal(t, env.plan.ID, *org.PlanID)
	assert.Equal(t, "evt_1", org.LastAppliedEventID)
	require.NotNil(t, org.LastAppliedEventTime)
	assert.True(t, org.LastAppliedEventTime.Equal(occurred))

	var rec domain.EventRecord
	require.NoError(t, env.db.First(&rec, "provider_event_id = ?", "evt_1").Error)
	require.NotNil(t, rec.ProcessedAt)
	assert.Equal(t, string(domain.OutcomeApplied), rec.Outcome)
}

func TestProcessEventReplayIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ev := env.createdEvent("evt_1", time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC))

	outcome, err := env.svc.ProcessEvent(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeApplied, outcome)
	before := env.reloadOrg(t)

	outcome, err = env.svc.ProcessEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, outcome)
	assert.Equal(t, *before, *env.reloadOrg(t))
}

func TestProcessEventStaleKeepsNewerState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.ProcessEvent(ctx, env.createdEvent("evt_2", time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)

	// An older cancellation delivered late must not clobber the state.
	stale := &domain.InboundEvent{
		EventID:                "evt_1",
		Type:                   domain.EventSubscriptionUpdated,
		OccurredAt:             time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		ExternalSubscriptionID: "sub_1",
		Subscription: &domain.SubscriptionData{
			ExternalID: "sub_1",
			Status:     "past_due",
		},
	}
	outcome, err := env.svc.ProcessEvent(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeStale, outcome)
	assert.Equal(t, orgdomain.StatusActive, env.reloadOrg(t).Status)

	var rec domain.EventRecord
	require.NoError(t, env.db.First(&rec, "provider_event_id = ?", "evt_1").Error)
	assert.Equal(t, string(domain.OutcomeStale), rec.Outcome)
}

func TestProcessEventUnknownTypeIgnored(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	outcome, err := env.svc.ProcessEvent(ctx, &domain.InboundEvent{
		EventID:    "evt_odd",
		Type:       "charge.refunded",
		OccurredAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeIgnored, outcome)

	// Ignored events never advance the watermark.
	assert.Empty(t, env.reloadOrg(t).LastAppliedEventID)

	outcome, err = env.svc.ProcessEvent(ctx, &domain.InboundEvent{
		EventID:    "evt_odd",
		Type:       "charge.refunded",
		OccurredAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, outcome)
}

func TestProcessEventUnknownOrgAcknowledged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ev := &domain.InboundEvent{
		EventID:                "evt_ghost",
		Type:                   domain.EventSubscriptionUpdated,
		OccurredAt:             time.Now(),
		ExternalSubscriptionID: "sub_nobody",
		Subscription:           &domain.SubscriptionData{ExternalID: "sub_nobody", Status: "active"},
	}
	outcome, err := env.svc.ProcessEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, outcome)
}

func TestProcessEventUnresolvedPlanFlagsReconciliation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ev := env.createdEvent("evt_1", time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC))
	ev.Subscription.PlanCode = "enterprise-legacy"

	outcome, err := env.svc.ProcessEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, outcome)

	org := env.reloadOrg(t)
	assert.Equal(t, orgdomain.StatusActive, org.Status)
	assert.Nil(t, org.PlanID)
	assert.True(t, org.NeedsReconciliation)

	var rows []domain.DataInconsistency
	require.NoError(t, env.db.Find(&rows, "org_id = ?", env.org.ID).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.InconsistencyPlanUnresolved, rows[0].Kind)
}

func TestSubscriptionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	at := func(day, hour int) time.Time {
		return time.Date(2026, 2, day, hour, 0, 0, 0, time.UTC)
	}

	_, err := env.svc.ProcessEvent(ctx, env.createdEvent("evt_1", at(1, 10)))
	require.NoError(t, err)
	require.Equal(t, orgdomain.StatusActive, env.reloadOrg(t).Status)

	// Payment failure demotes to past_due; the next paid invoice restores.
	_, err = env.svc.ProcessEvent(ctx, &domain.InboundEvent{
		EventID: "evt_2", Type: domain.EventInvoicePaymentFail,
		OccurredAt: at(5, 0), ExternalSubscriptionID: "sub_1",
	})
	require.NoError(t, err)
	require.Equal(t, orgdomain.StatusPastDue, env.reloadOrg(t).Status)

	_, err = env.svc.ProcessEvent(ctx, &domain.InboundEvent{
		EventID: "evt_3", Type: domain.EventInvoicePaid,
		OccurredAt: at(6, 0), ExternalSubscriptionID: "sub_1",
	})
	require.NoError(t, err)
	require.Equal(t, orgdomain.StatusActive, env.reloadOrg(t).Status)

	// Customer schedules cancellation at period end.
	periodEnd := at(28, 0)
	capE := true
	_, err = env.svc.ProcessEvent(ctx, &domain.InboundEvent{
		EventID: "evt_4", Type: domain.EventSubscriptionUpdated,
		OccurredAt: at(7, 0), ExternalSubscriptionID: "sub_1",
		Subscription: &domain.SubscriptionData{
			ExternalID:        "sub_1",
			Status:            "active",
			CancelAtPeriodEnd: &capE,
			CurrentPeriodEnd:  &periodEnd,
		},
	})
	require.NoError(t, err)
	org := env.reloadOrg(t)
	assert.True(t, org.CancelAtPeriodEnd)
	require.NotNil(t, org.SubscriptionEndsAt)
	assert.True(t, org.SubscriptionEndsAt.Equal(periodEnd))

	// Period end arrives and the provider deletes the subscription.
	_, err = env.svc.ProcessEvent(ctx, &domain.InboundEvent{
		EventID: "evt_5", Type: domain.EventSubscriptionDeleted,
		OccurredAt: periodEnd, ExternalSubscriptionID: "sub_1",
		Subscription: &domain.SubscriptionData{ExternalID: "sub_1", EndedAt: &periodEnd},
	})
	require.NoError(t, err)
	org = env.reloadOrg(t)
	assert.Equal(t, orgdomain.StatusCancelled, org.Status)
	require.NotNil(t, org.SubscriptionEndsAt)
	assert.True(t, org.SubscriptionEndsAt.Equal(periodEnd))
}

func TestForceSyncReplaysProviderSnapshot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.ProcessEvent(ctx, env.createdEvent("evt_1", time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)))
	require.NoError(t, err)

	// Simulate a missed past_due webhook; the provider knows better.
	env.provider.snapshot = &providerdomain.SubscriptionSnapshot{
		ID:         "sub_1",
		Status:     "past_due",
		PlanCode:   "pro",
		SnapshotAt: time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC),
	}

	outcome, err := env.svc.ForceSync(ctx, env.org.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, outcome)
	assert.Equal(t, 1, env.provider.getCalls)
	assert.Equal(t, orgdomain.StatusPastDue, env.reloadOrg(t).Status)
}

func TestForceSyncWithoutSubscriptionFails(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.ForceSync(context.Background(), env.org.ID)
	assert.ErrorIs(t, err, orgdomain.ErrInvalidOrganization)
}

func TestEvictDedupBefore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.ProcessEvent(ctx, env.createdEvent("evt_old", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)

	// Processed rows older than the cutoff go; newer ones stay.
	env.clock.Advance(48 * time.Hour)
	_, err = env.svc.ProcessEvent(ctx, &domain.InboundEvent{
		EventID: "evt_new", Type: domain.EventInvoicePaid,
		OccurredAt: env.clock.Now(), ExternalSubscriptionID: "sub_1",
	})
	require.NoError(t, err)

	n, err := env.svc.EvictDedupBefore(ctx, env.clock.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var count int64
	require.NoError(t, env.db.Model(&domain.EventRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestEventsForOneTenantShareLockKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.ProcessEvent(ctx, env.createdEvent("evt_1", time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)))
	require.NoError(t, err)

	// Whether the event names the tenant or only its subscription, both
	// must serialize behind the same key.
	byOrg := env.svc.lockKey(ctx, &domain.InboundEvent{
		EventID: "evt_a", Type: domain.EventInvoicePaid, OrgID: env.org.ID,
	})
	bySub := env.svc.lockKey(ctx, &domain.InboundEvent{
		EventID: "evt_b", Type: domain.EventSubscriptionUpdated,
		ExternalSubscriptionID: "sub_1",
	})
	assert.Equal(t, env.org.ID.String(), byOrg)
	assert.Equal(t, byOrg, bySub)

	// An external id no organization holds yet keys by the id itself.
	assert.Equal(t, "sub_fresh", env.svc.lockKey(ctx, &domain.InboundEvent{
		ExternalSubscriptionID: "sub_fresh",
	}))
}
