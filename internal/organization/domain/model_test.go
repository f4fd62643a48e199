package domain

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	plandomain "github.com/smallbiznis/couture/internal/plan/domain"
)

var testNode, _ = snowflake.NewNode(1)

func TestProvisionStartsTrialFromPlanLength(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 30, 0, 0, time.UTC)
	plan := &plandomain.Plan{
		ID:        testNode.Generate(),
		Code:      "starter",
		Name:      "Starter",
		TrialDays: 14,
	}

	org := Provision(testNode.Generate(), "acme-rentals", plan, now)

	assert.Equal(t, StatusTrialing, org.Status)
	require.NotNil(t, org.TrialEndsAt)
	assert.Equal(t, now.AddDate(0, 0, 14), *org.TrialEndsAt)
	require.NotNil(t, org.PlanID)
	assert.Equal(t, plan.ID, *org.PlanID)
	assert.Equal(t, "starter", org.PlanCode)
	assert.Equal(t, now, org.CreatedAt)
}

func TestProvisionWithoutTrialLeavesTrialEndUnset(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	plan := &plandomain.Plan{
		ID:   testNode.Generate(),
		Code: "free",
		Name: "Free",
	}

	org := Provision(testNode.Generate(), "no-trial", plan, now)

	assert.Equal(t, StatusTrialing, org.Status)
	assert.Nil(t, org.TrialEndsAt)
	assert.Equal(t, "free", org.PlanCode)
}

func TestProvisionWithoutPlan(t *testing.T) {
	org := Provision(testNode.Generate(), "unassigned", nil, time.Now())

	assert.Equal(t, StatusTrialing, org.Status)
	assert.Nil(t, org.PlanID)
	assert.Empty(t, org.PlanCode)
	assert.Nil(t, org.TrialEndsAt)
}
