package service

import (
	"errors"
	"testing"

	usagedomain "github.com/smallbiznis/callquota/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanConsumeDeniesWhenRequestExceedsRemaining(t *testing.T) {
	h := setupUsageService(t, january)
	orgID := h.seedOrg(t, orgSeed{base: 30, used: 25})

	decision, err := h.svc.CanConsume(ctx(), usagedomain.CanConsumeRequest{
		OrganizationID: orgID.String(),
		Minutes:        10,
	})
	require.NoError(t, err)

	assert.False(t, decision.Allowed)
	assert.Equal(t, usagedomain.ReasonExceedsRemaining, decision.Reason)
	assert.Equal(t, 5.0, decision.Remaining)
	assert.Contains(t, decision.Message, "requested 10 minutes exceeds remaining 5 by 5 minutes")
}

func TestCanConsumeCountsPurchasedOverage(t *testing.T) {
	h := setupUsageService(t, january)
	orgID := h.seedOrg(t, orgSeed{base: 100, overage: 50, used: 100})

	decision, err := h.svc.CanConsume(ctx(), usagedomain.CanConsumeRequest{
		OrganizationID: orgID.String(),
		Minutes:        20,
	})
	require.NoError(t, err)

	assert.True(t, decision.Allowed)
	assert.Equal(t, 150.0, decision.TotalAvailable)
	assert.Equal(t, 50.0, decision.Remaining)
	assert.Equal(t, 30.0, decision.RemainingAfter)
	assert.Equal(t, usagedomain.WarningApproachingLimit, decision.Warning)
}

func TestCanConsumeNoQuotaRemaining(t *testing.T) {
	h := setupUsageService(t, january)
	orgID := h.seedOrg(t, orgSeed{base: 30, used: 30})

	decision, err := h.svc.CanConsume(ctx(), usagedomain.CanConsumeRequest{OrganizationID: orgID.String(), Minutes: 1})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, usagedomain.ReasonNoQuotaRemaining, decision.Reason)
}

func TestCanConsumeUsesLedgerNotCounter(t *testing.T) {
	h := setupUsageService(t, january)
	orgID := h.seedOrg(t, orgSeed{base: 30, used: 10})
	// counter claims the account is full; the ledger says 10
	h.setCounter(t, orgID, 30)

	decision, err := h.svc.CanConsume(ctx(), usagedomain.CanConsumeRequest{OrganizationID: orgID.String(), Minutes: 15})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 10.0, decision.Used)

	assert.InDelta(t, 10.0, h.org(t, orgID).UsedMinutes, 1e-9)
}

func TestCanConsumeMissingAccount(t *testing.T) {
	h := setupUsageService(t, january)

	decision, err := h.svc.CanConsume(ctx(), usagedomain.CanConsumeRequest{
		OrganizationID: h.node.Generate().String(),
		Minutes:        1,
	})
	require.ErrorIs(t, err, usagedomain.ErrOrganizationNotFound)
	assert.False(t, decision.Allowed)
	assert.Equal(t, usagedomain.ReasonAccountNotFound, decision.Reason)
}

func TestCanConsumeFailsClosedOnReadError(t *testing.T) {
	h := setupUsageService(t, january)
	orgID := h.seedOrg(t, orgSeed{base: 30})
	require.NoError(t, h.db.Exec(`DROP TABLE usage_events`).Error)

	decision, err := h.svc.CanConsume(ctx(), usagedomain.CanConsumeRequest{OrganizationID: orgID.String(), Minutes: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, usagedomain.ErrLedgerUnavailable))
	assert.False(t, decision.Allowed)
	assert.Equal(t, usagedomain.ReasonTransientFailure, decision.Reason)
}

func TestCanConsumeRejectsInvalidMinutes(t *testing.T) {
	h := setupUsageService(t, january)
	orgID := h.seedOrg(t, orgSeed{base: 30})

	for _, minutes := range []float64{0, -1} {
		_, err := h.svc.CanConsume(ctx(), usagedomain.CanConsumeRequest{OrganizationID: orgID.String(), Minutes: minutes})
		assert.ErrorIs(t, err, usagedomain.ErrInvalidMinutes)
	}
}
