package service

import (
	"errors"
	"sync"
	"testing"
	"time"

	usagedomain "github.com/smallbiznis/callquota/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordUsageReservesAndAppends(t *testing.T) {
	h := setupUsageService(t, january)
	orgID := h.seedOrg(t, orgSeed{base: 30, used: 5})

	result, err := h.svc.RecordUsage(ctx(), usagedomain.RecordUsageRequest{
		OrganizationID: orgID.String(),
		ActorID:        "user_1",
		Minutes:        12.5,
		IdempotencyKey: "call-1",
	})
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.True(t, result.CounterUpdated)
	assert.Equal(t, usagedomain.EventMinutesConsumed, result.Event.EventType)

	org := h.org(t, orgID)
	assert.InDelta(t, 17.5, org.UsedMinutes, 1e-9)

	ledger, err := h.svc.SumConsumed(ctx(), orgID.String(), usagedomain.MonthPeriod(january))
	require.NoError(t, err)
	assert.InDelta(t, 17.5, float64(ledger), 1e-9)
}

func TestRecordUsageIdempotentKey(t *testing.T) {
	h := setupUsageService(t, january)
	orgID := h.seedOrg(t, orgSeed{base: 30})

	req := usagedomain.RecordUsageRequest{OrganizationID: orgID.String(), Minutes: 3, IdempotencyKey: "call-7"}
	first, err := h.svc.RecordUsage(ctx(), req)
	require.NoError(t, err)
	second, err := h.svc.RecordUsage(ctx(), req)
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Event.ID, second.Event.ID)
	assert.Equal(t, int64(1), countEvents(t, h.db, orgID, usagedomain.EventMinutesConsumed))
	assert.InDelta(t, 3.0, h.org(t, orgID).UsedMinutes, 1e-9)
}

func TestRecordUsageDeniedWritesNothing(t *testing.T) {
	h := setupUsageService(t, january)
	orgID := h.seedOrg(t, orgSeed{base: 30, used: 25})

	_, err := h.svc.RecordUsage(ctx(), usagedomain.RecordUsageRequest{OrganizationID: orgID.String(), Minutes: 10})
	require.ErrorIs(t, err, usagedomain.ErrQuotaExceeded)

	var qe *usagedomain.QuotaExceededError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, usagedomain.ReasonExceedsRemaining, qe.Decision.Reason)
	assert.Contains(t, qe.Decision.Message, "exceeds remaining 5 by 5")

	assert.Equal(t, int64(1), countEvents(t, h.db, orgID, usagedomain.EventMinutesConsumed))
	assert.InDelta(t, 25.0, h.org(t, orgID).UsedMinutes, 1e-9)
}

func TestRecordUsageConcurrentOnlyOneFits(t *testing.T) {
	h := setupUsageService(t, january)
	orgID := h.seedOrg(t, orgSeed{base: 30, used: 20})

	const callers = 2
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		denied    int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.RecordUsage(ctx(), usagedomain.RecordUsageRequest{OrganizationID: orgID.String(), Minutes: 10})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, usagedomain.ErrQuotaExceeded):
				denied++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, denied)

	org := h.org(t, orgID)
	assert.LessOrEqual(t, org.UsedMinutes, org.TotalAvailable())
	assert.InDelta(t, 30.0, org.UsedMinutes, 1e-9)
}

func TestRecordUsageRepairsStaleCounterBeforeDenying(t *testing.T) {
	h := setupUsageService(t, january)
	orgID := h.seedOrg(t, orgSeed{base: 30, used: 5})
	h.setCounter(t, orgID, 28)

	result, err := h.svc.RecordUsage(ctx(), usagedomain.RecordUsageRequest{OrganizationID: orgID.String(), Minutes: 10})
	require.NoError(t, err)
	assert.True(t, result.CounterUpdated)
	assert.InDelta(t, 15.0, h.org(t, orgID).UsedMinutes, 1e-9)
}

func TestRecordUsageRetroactiveBypassesQuota(t *testing.T) {
	h := setupUsageService(t, january)
	orgID := h.seedOrg(t, orgSeed{base: 30, used: 30})

	result, err := h.svc.RecordUsage(ctx(), usagedomain.RecordUsageRequest{
		OrganizationID: orgID.String(),
		Minutes:        4,
		RecordedAt:     january.Add(-2 * time.Hour),
		Metadata:       map[string]any{"retroactive_fix": true, "source_operation_id": "op-9"},
	})
	require.NoError(t, err)
	assert.True(t, result.Retroactive)
	assert.True(t, result.CounterUpdated)
	assert.Equal(t, usagedomain.EventMinutesConsumed, result.Event.EventType)
	assert.InDelta(t, 34.0, h.org(t, orgID).UsedMinutes, 1e-9)
}

func TestRecordUsageRetroactiveOutsidePeriodIsCorrection(t *testing.T) {
	h := setupUsageService(t, january)
	orgID := h.seedOrg(t, orgSeed{base: 30, used: 10})

	december := time.Date(2025, time.December, 20, 9, 0, 0, 0, time.UTC)
	result, err := h.svc.RecordUsage(ctx(), usagedomain.RecordUsageRequest{
		OrganizationID: orgID.String(),
		Minutes:        6,
		RecordedAt:     december,
		Metadata:       map[string]any{"retroactive_fix": "true"},
	})
	require.NoError(t, err)
	assert.Equal(t, usagedomain.EventUsageCorrected, result.Event.EventType)
	assert.False(t, result.CounterUpdated)

	// current period untouched, correction counted in December
	assert.InDelta(t, 10.0, h.org(t, orgID).UsedMinutes, 1e-9)
	dec, err := h.svc.SumConsumed(ctx(), orgID.String(), usagedomain.MonthPeriod(december))
	require.NoError(t, err)
	assert.InDelta(t, 6.0, float64(dec), 1e-9)
}

func TestRecordUsageRejectsOutOfPeriodWithoutFlag(t *testing.T) {
	h := setupUsageService(t, january)
	orgID := h.seedOrg(t, orgSeed{base: 30})

	_, err := h.svc.RecordUsage(ctx(), usagedomain.RecordUsageRequest{
		OrganizationID: orgID.String(),
		Minutes:        1,
		RecordedAt:     january.AddDate(0, -1, 0),
	})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidRecordedAt)
}

func TestRecordUsageArchivedAccount(t *testing.T) {
	h := setupUsageService(t, january)
	orgID := h.seedOrg(t, orgSeed{base: 30})
	require.NoError(t, h.db.Exec(`UPDATE organizations SET archived_at = ? WHERE id = ?`, january, orgID).Error)

	_, err := h.svc.RecordUsage(ctx(), usagedomain.RecordUsageRequest{OrganizationID: orgID.String(), Minutes: 1})
	assert.ErrorIs(t, err, usagedomain.ErrOrganizationArchived)
}

func TestRecordUsageInvalidatesCache(t *testing.T) {
	h := setupUsageService(t, january)
	orgID := h.seedOrg(t, orgSeed{base: 30})

	_, err := h.svc.GetUsage(ctx(), usagedomain.GetUsageRequest{OrganizationID: orgID.String()})
	require.NoError(t, err)
	_, ok := h.cache.Get(orgID.String())
	require.True(t, ok)

	_, err = h.svc.RecordUsage(ctx(), usagedomain.RecordUsageRequest{OrganizationID: orgID.String(), Minutes: 2})
	require.NoError(t, err)

	_, ok = h.cache.Get(orgID.String())
	assert.False(t, ok)
}

func TestRecordUsageRejectsServiceOwnedKeys(t *testing.T) {
	h := setupUsageService(t, january)
	orgID := h.seedOrg(t, orgSeed{base: 30})

	for _, key := range []string{
		"period_archived:" + orgID.String() + ":2026-01",
		"overage:pi_1",
	} {
		_, err := h.svc.RecordUsage(ctx(), usagedomain.RecordUsageRequest{
			OrganizationID: orgID.String(),
			Minutes:        1,
			IdempotencyKey: key,
		})
		assert.ErrorIs(t, err, usagedomain.ErrInvalidIdempotencyKey, key)
	}
	assert.Zero(t, countEvents(t, h.db, orgID, usagedomain.EventMinutesConsumed))
	assert.Zero(t, h.org(t, orgID).UsedMinutes)
}

func TestRecordUsageRetriesAgainstRolledPeriod(t *testing.T) {
	h := setupUsageService(t, january)
	orgID := h.seedOrg(t, orgSeed{base: 30, used: 5})
	stale := h.org(t, orgID)

	// another request rolls the account into February first
	h.clock.Set(time.Date(2026, time.February, 2, 9, 0, 0, 0, time.UTC))
	rolled, err := h.svc.EnsureCurrentPeriod(ctx(), orgID.String())
	require.NoError(t, err)
	require.True(t, rolled.Rolled)

	now := h.clock.Now()
	event := usagedomain.UsageEvent{
		ID:         h.node.Generate(),
		OrgID:      orgID,
		EventType:  usagedomain.EventMinutesConsumed,
		Value:      10,
		RecordedAt: now,
		CreatedAt:  now,
	}
	result, err := h.svc.recordLive(ctx(), &stale, periodOf(&stale), event)
	require.NoError(t, err)
	assert.True(t, result.CounterUpdated)

	org := h.org(t, orgID)
	assert.InDelta(t, 10.0, org.UsedMinutes, 1e-9)
	assert.True(t, org.PeriodStart.Equal(time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)))
}

func TestRecordUsageFailedReservationWithRoomIsTransient(t *testing.T) {
	h := setupUsageService(t, january)
	orgID := h.seedOrg(t, orgSeed{base: 30, used: 5})
	var ops []string
	h.svc.repo = scriptedRepo{Repository: h.svc.repo, refuseReserve: true, ops: &ops}

	_, err := h.svc.RecordUsage(ctx(), usagedomain.RecordUsageRequest{OrganizationID: orgID.String(), Minutes: 5})
	require.ErrorIs(t, err, usagedomain.ErrUsageUnavailable)
	assert.NotErrorIs(t, err, usagedomain.ErrQuotaExceeded)
	assert.True(t, usagedomain.IsTransient(err))

	reserves := 0
	for _, op := range ops {
		if op == "reserve" {
			reserves++
		}
	}
	assert.Equal(t, 2, reserves)
	assert.Equal(t, int64(1), countEvents(t, h.db, orgID, usagedomain.EventMinutesConsumed))
}
