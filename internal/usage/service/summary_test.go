package service

import (
	"testing"
	"time"

	usagedomain "github.com/smallbiznis/callquota/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetUsageBuildsSummaryFromLedger(t *testing.T) {
	h := setupUsageService(t, january)
	orgID := h.seedOrg(t, orgSeed{base: 100, overage: 50, used: 30, tier: "pro"})
	h.setCounter(t, orgID, 99)

	summary, err := h.svc.GetUsage(ctx(), usagedomain.GetUsageRequest{OrganizationID: orgID.String()})
	require.NoError(t, err)

	assert.Equal(t, usagedomain.SourceLedger, summary.Source)
	assert.Equal(t, "pro", summary.PlanTier)
	assert.Equal(t, 30.0, summary.Used)
	assert.Equal(t, 120.0, summary.Remaining)
	assert.InDelta(t, 20.0, summary.PercentUsed, 1e-9)
	assert.True(t, summary.PeriodStart.Equal(time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)))
}

func TestGetUsageServesCacheUntilForced(t *testing.T) {
	h := setupUsageService(t, january)
	orgID := h.seedOrg(t, orgSeed{base: 100, used: 10})

	_, err := h.svc.GetUsage(ctx(), usagedomain.GetUsageRequest{OrganizationID: orgID.String()})
	require.NoError(t, err)

	// a write that bypasses the service leaves the cache stale
	h.seedEvent(t, orgID, usagedomain.EventMinutesConsumed, 5, january)

	cached, err := h.svc.GetUsage(ctx(), usagedomain.GetUsageRequest{OrganizationID: orgID.String()})
	require.NoError(t, err)
	assert.Equal(t, usagedomain.SourceCache, cached.Source)
	assert.Equal(t, 10.0, cached.Used)

	fresh, err := h.svc.GetUsage(ctx(), usagedomain.GetUsageRequest{OrganizationID: orgID.String(), ForceSync: true})
	require.NoError(t, err)
	assert.Equal(t, usagedomain.SourceLedger, fresh.Source)
	assert.Equal(t, 15.0, fresh.Used)
}

func TestGetUsageUnknownAccount(t *testing.T) {
	h := setupUsageService(t, january)

	_, err := h.svc.GetUsage(ctx(), usagedomain.GetUsageRequest{OrganizationID: h.node.Generate().String()})
	assert.ErrorIs(t, err, usagedomain.ErrOrganizationNotFound)

	_, err = h.svc.GetUsage(ctx(), usagedomain.GetUsageRequest{OrganizationID: "not-an-id"})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidOrganization)
}

func TestGetUsageDropsSummaryBuiltBeforeWrite(t *testing.T) {
	h := setupUsageService(t, january)
	orgID := h.seedOrg(t, orgSeed{base: 100, used: 10})

	gen := h.svc.cacheGeneration(orgID)
	_, err := h.svc.RecordUsage(ctx(), usagedomain.RecordUsageRequest{OrganizationID: orgID.String(), Minutes: 5})
	require.NoError(t, err)

	stored := h.svc.storeSummary(orgID, gen, usagedomain.UsageSummary{OrganizationID: orgID.String(), Used: 10})
	assert.False(t, stored)
	_, ok := h.cache.Get(orgID.String())
	assert.False(t, ok)

	summary, err := h.svc.GetUsage(ctx(), usagedomain.GetUsageRequest{OrganizationID: orgID.String()})
	require.NoError(t, err)
	assert.Equal(t, usagedomain.SourceLedger, summary.Source)
	assert.Equal(t, 15.0, summary.Used)
}

func TestGetUsageCachesAfterCorrectingDrift(t *testing.T) {
	h := setupUsageService(t, january)
	orgID := h.seedOrg(t, orgSeed{base: 100, used: 10})
	h.setCounter(t, orgID, 40)

	first, err := h.svc.GetUsage(ctx(), usagedomain.GetUsageRequest{OrganizationID: orgID.String()})
	require.NoError(t, err)
	assert.Equal(t, usagedomain.SourceLedger, first.Source)

	second, err := h.svc.GetUsage(ctx(), usagedomain.GetUsageRequest{OrganizationID: orgID.String()})
	require.NoError(t, err)
	assert.Equal(t, usagedomain.SourceCache, second.Source)
	assert.Equal(t, 10.0, second.Used)
}
