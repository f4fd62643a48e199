// Package publisher pushes locally defined plans to the billing provider and
// persists the returned identifiers.
package publisher

import (
	"context"
	"strings"
	"time"

	obsmetrics "github.com/smallbiznis/couture/internal/observability/metrics"
	plandomain "github.com/smallbiznis/couture/internal/plan/domain"
	providerdomain "github.com/smallbiznis/couture/internal/provider/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Repo       plandomain.Repository
	Client     providerdomain.Client
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Publisher struct {
	db         *gorm.DB
	log        *zap.Logger
	repo       plandomain.Repository
	client     providerdomain.Client
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) *Publisher {
	return &Publisher{
		db:         p.DB,
		log:        p.Log.Named("plan.publisher"),
		repo:       p.Repo,
		client:     p.Client,
		obsMetrics: p.ObsMetrics,
	}
}

// PublishAll publishes every plan missing provider identifiers and reports
// per-plan results. A failing plan never aborts the batch.
func (p *Publisher) PublishAll(ctx context.Context) ([]plandomain.SyncResult, error) {
	plans, err := p.repo.List(ctx, p.db)
	if err != nil {
		return nil, err
	}

	results := make([]plandomain.SyncResult, 0, len(plans))
	for i := range plans {
		plan := &plans[i]
		result := plandomain.SyncResult{PlanCode: plan.Code}

		if plan.Published() {
			result.Skipped = true
			result.Published = true
			results = append(results, result)
			continue
		}

		if err := p.Publish(ctx, plan); err != nil {
			result.Error = err.Error()
			p.log.Warn("plan publish failed",
				zap.String("plan_code", plan.Code),
				zap.Error(err),
			)
			if p.obsMetrics != nil {
				p.obsMetrics.RecordPlanPublish(ctx, "error")
			}
		} else {
			now := time.Now().UTC()
			result.Published = true
			result.CompletedAt = &now
			if p.obsMetrics != nil {
				p.obsMetrics.RecordPlanPublish(ctx, "published")
			}
		}
		results = append(results, result)
	}
	return results, nil
}

// Publish creates the provider product and per-interval prices for one plan.
// Persisted identifiers are checked first, so retries never create duplicate
// provider objects: the product id is stored before any price call is made.
func (p *Publisher) Publish(ctx context.Context, plan *plandomain.Plan) error {
	if plan.Published() {
		return nil
	}

	productID := ""
	if plan.ExternalProductID != nil {
		productID = strings.TrimSpace(*plan.ExternalProductID)
	}

	if productID == "" {
		product, err := p.client.CreateProduct(ctx, providerdomain.CreateProductRequest{
			Name:     plan.Name,
			PlanCode: plan.Code,
		})
		if err != nil {
			return err
		}
		productID = product.ID
		plan.ExternalProductID = &productID
		if err := p.repo.SaveExternalIDs(ctx, p.db, plan); err != nil {
			return err
		}
	}

	if plan.ExternalPriceIDs == nil {
		plan.ExternalPriceIDs = datatypes.JSONMap{}
	}
	for interval, amount := range plan.Pricing {
		interval = strings.TrimSpace(interval)
		if interval == "" {
			continue
		}
		if existing, ok := plan.ExternalPriceIDs[interval]; ok {
			if id, ok := existing.(string); ok && strings.TrimSpace(id) != "" {
				continue
			}
		}
		price, err := p.client.CreatePrice(ctx, providerdomain.CreatePriceRequest{
			ProductID:  productID,
			PlanCode:   plan.Code,
			Interval:   interval,
			UnitAmount: toUnitAmount(amount),
			Currency:   "usd",
		})
		if err != nil {
			return err
		}
		plan.ExternalPriceIDs[interval] = price.ID
		if err := p.repo.SaveExternalIDs(ctx, p.db, plan); err != nil {
			return err
		}
	}

	return nil
}

func toUnitAmount(value any) int64 {
	switch typed := value.(type) {
	case int64:
		return typed
	case int:
		return int64(typed)
	case float64:
		return int64(typed)
	}
	return 0
}
