package service

import (
	"testing"
	"time"

	usagedomain "github.com/smallbiznis/callquota/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddOverageCreditsOnce(t *testing.T) {
	h := setupUsageService(t, january)
	orgID := h.seedOrg(t, orgSeed{base: 30, used: 30})

	req := usagedomain.AddOverageRequest{OrganizationID: orgID.String(), Minutes: 60, TransactionID: "pi_123"}
	first, err := h.svc.AddOverage(ctx(), req)
	require.NoError(t, err)
	assert.True(t, first.Credited)
	assert.Equal(t, 60.0, first.PurchasedOverageMinutes)

	second, err := h.svc.AddOverage(ctx(), req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.False(t, second.Credited)
	assert.Equal(t, first.EventID, second.EventID)
	assert.Equal(t, 60.0, second.PurchasedOverageMinutes)

	assert.Equal(t, 60.0, h.org(t, orgID).PurchasedOverageMinutes)
	assert.Equal(t, int64(1), countEvents(t, h.db, orgID, usagedomain.EventOveragePurchased))
}

func TestAddOverageUnblocksQuota(t *testing.T) {
	h := setupUsageService(t, january)
	orgID := h.seedOrg(t, orgSeed{base: 30, used: 30})

	_, err := h.svc.AddOverage(ctx(), usagedomain.AddOverageRequest{OrganizationID: orgID.String(), Minutes: 15, TransactionID: "pi_9"})
	require.NoError(t, err)

	_, err = h.svc.RecordUsage(ctx(), usagedomain.RecordUsageRequest{OrganizationID: orgID.String(), Minutes: 15})
	require.NoError(t, err)

	// purchased overage is not consumption
	ledger, err := h.svc.SumConsumed(ctx(), orgID.String(), usagedomain.MonthPeriod(january))
	require.NoError(t, err)
	assert.Equal(t, usagedomain.LedgerUsage(45), ledger)
}

func TestOverageSurvivesRollover(t *testing.T) {
	h := setupUsageService(t, january)
	orgID := h.seedOrg(t, orgSeed{base: 30})

	_, err := h.svc.AddOverage(ctx(), usagedomain.AddOverageRequest{OrganizationID: orgID.String(), Minutes: 25, TransactionID: "pi_jan"})
	require.NoError(t, err)

	h.clock.Set(time.Date(2026, time.February, 10, 0, 0, 0, 0, time.UTC))
	summary, err := h.svc.GetUsage(ctx(), usagedomain.GetUsageRequest{OrganizationID: orgID.String(), ForceSync: true})
	require.NoError(t, err)
	assert.Equal(t, 25.0, summary.PurchasedOverage)
	assert.Equal(t, 55.0, summary.Remaining)
}

func TestAddOverageValidation(t *testing.T) {
	h := setupUsageService(t, january)
	orgID := h.seedOrg(t, orgSeed{base: 30})

	_, err := h.svc.AddOverage(ctx(), usagedomain.AddOverageRequest{OrganizationID: orgID.String(), Minutes: 5})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidTransactionID)

	_, err = h.svc.AddOverage(ctx(), usagedomain.AddOverageRequest{OrganizationID: orgID.String(), TransactionID: "x"})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidMinutes)

	_, err = h.svc.AddOverage(ctx(), usagedomain.AddOverageRequest{OrganizationID: h.node.Generate().String(), Minutes: 5, TransactionID: "x"})
	assert.ErrorIs(t, err, usagedomain.ErrOrganizationNotFound)
}

func TestAddOverageRollsBackWhenLedgerKeyTaken(t *testing.T) {
	h := setupUsageService(t, january)
	orgID := h.seedOrg(t, orgSeed{base: 30})
	h.seedKeyedEvent(t, orgID, usagedomain.EventMinutesConsumed, 1, "overage:pi_9")

	_, err := h.svc.AddOverage(ctx(), usagedomain.AddOverageRequest{OrganizationID: orgID.String(), Minutes: 50, TransactionID: "pi_9"})
	require.ErrorIs(t, err, usagedomain.ErrIdempotencyKeyConflict)

	assert.Zero(t, h.org(t, orgID).PurchasedOverageMinutes)
	assert.Zero(t, countEvents(t, h.db, orgID, usagedomain.EventOveragePurchased))
	var txns int64
	require.NoError(t, h.db.Model(&usagedomain.OverageTransaction{}).Where("org_id = ?", orgID).Count(&txns).Error)
	assert.Zero(t, txns)
}
