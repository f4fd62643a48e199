package publisher

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	plandomain "github.com/smallbiznis/couture/internal/plan/domain"
	planrepo "github.com/smallbiznis/couture/internal/plan/repository"
	providerdomain "github.com/smallbiznis/couture/internal/provider/domain"
)

type countingClient struct {
	productCalls int
	priceCalls   int
	failProducts bool
	failPrices   bool
}

func (c *countingClient) CreateProduct(ctx context.Context, req providerdomain.CreateProductRequest) (*providerdomain.Product, error) {
	c.productCalls++
	if c.failProducts {
		return nil, providerdomain.ErrProviderUnavailable
	}
	return &providerdomain.Product{ID: fmt.Sprintf("prod_%s", req.PlanCode)}, nil
}

func (c *countingClient) CreatePrice(ctx context.Context, req providerdomain.CreatePriceRequest) (*providerdomain.Price, error) {
	c.priceCalls++
	if c.failPrices {
		return nil, providerdomain.ErrProviderUnavailable
	}
	return &providerdomain.Price{ID: fmt.Sprintf("price_%s_%s", req.PlanCode, req.Interval)}, nil
}

func (c *countingClient) GetSubscription(ctx context.Context, id string) (*providerdomain.SubscriptionSnapshot, error) {
	return nil, providerdomain.ErrSubscriptionNotFound
}

func newTestPublisher(t *testing.T) (*Publisher, *gorm.DB, *countingClient, *snowflake.Node) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&plandomain.Plan{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	client := &countingClient{}

	pub := New(Params{
		DB:     db,
		Log:    zap.NewNop(),
		Repo:   planrepo.Provide(),
		Client: client,
	})
	return pub, db, client, node
}

func seedPlan(t *testing.T, db *gorm.DB, node *snowflake.Node, code string) *plandomain.Plan {
	t.Helper()
	plan := &plandomain.Plan{
		ID:   node.Generate(),
		Code: code,
		Name: code,
		Pricing: datatypes.JSONMap{
			"month": int64(2900),
			"year":  int64(29000),
		},
	}
	require.NoError(t, db.Create(plan).Error)
	return plan
}

func TestPublishCreatesProductAndPrices(t *testing.T) {
	pub, db, client, node := newTestPublisher(t)
	plan := seedPlan(t, db, node, "starter")

	require.NoError(t, pub.Publish(context.Background(), plan))

	assert.Equal(t, 1, client.productCalls)
	assert.Equal(t, 2, client.priceCalls)

	var stored plandomain.Plan
	require.NoError(t, db.First(&stored, "code = ?", "starter").Error)
	require.NotNil(t, stored.ExternalProductID)
	assert.Equal(t, "prod_starter", *stored.ExternalProductID)
	assert.Equal(t, "price_starter_month", stored.ExternalPriceIDs["month"])
	assert.Equal(t, "price_starter_year", stored.ExternalPriceIDs["year"])
}

func TestPublishIsIdempotent(t *testing.T) {
	pub, db, client, node := newTestPublisher(t)
	plan := seedPlan(t, db, node, "starter")

	require.NoError(t, pub.Publish(context.Background(), plan))
	require.NoError(t, pub.Publish(context.Background(), plan))

	// The second call finds persisted identifiers and never touches the network.
	assert.Equal(t, 1, client.productCalls)
	assert.Equal(t, 2, client.priceCalls)

	_, err := pub.PublishAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, client.productCalls)
	assert.Equal(t, 2, client.priceCalls)
}

func TestPublishResumesAfterPartialFailure(t *testing.T) {
	pub, db, client, node := newTestPublisher(t)
	plan := seedPlan(t, db, node, "starter")
	ctx := context.Background()

	// First attempt creates the product, then dies on price creation.
	client.failPrices = true
	err := pub.Publish(ctx, plan)
	require.ErrorIs(t, err, providerdomain.ErrProviderUnavailable)
	require.Equal(t, 1, client.productCalls)

	// The product id was persisted before the price call, so the retry
	// reuses it instead of creating a second product.
	client.failPrices = false
	var reloaded plandomain.Plan
	require.NoError(t, db.First(&reloaded, "code = ?", "starter").Error)
	require.NotNil(t, reloaded.ExternalProductID)

	require.NoError(t, pub.Publish(ctx, &reloaded))
	assert.Equal(t, 1, client.productCalls)
}

func TestPublishAllContinuesPastFailingPlan(t *testing.T) {
	pub, db, client, node := newTestPublisher(t)
	seedPlan(t, db, node, "starter")
	seedPlan(t, db, node, "pro")

	client.failProducts = true
	results, err := pub.PublishAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.False(t, res.Published)
		assert.NotEmpty(t, res.Error)
	}
	assert.Equal(t, 2, client.productCalls)
}

func TestPublishAllReportsAlreadyPublished(t *testing.T) {
	pub, db, client, node := newTestPublisher(t)
	plan := seedPlan(t, db, node, "starter")
	require.NoError(t, pub.Publish(context.Background(), plan))
	client.productCalls = 0
	client.priceCalls = 0

	results, err := pub.PublishAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Skipped)
	assert.True(t, results[0].Published)
	assert.Equal(t, 0, client.productCalls+client.priceCalls)
}
