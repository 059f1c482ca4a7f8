package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/callquota/internal/cache"
	"github.com/smallbiznis/callquota/internal/clock"
	orgdomain "github.com/smallbiznis/callquota/internal/organization/domain"
	usagedomain "github.com/smallbiznis/callquota/internal/usage/domain"
	"github.com/smallbiznis/callquota/internal/usage/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var january = time.Date(2026, time.January, 15, 10, 0, 0, 0, time.UTC)

type harness struct {
	svc   *Service
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
	cache cache.UsageCache
}

func setupUsageService(t *testing.T, now time.Time) *harness {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.Exec("PRAGMA busy_timeout = 5000").Error)
	require.NoError(t, db.AutoMigrate(
		&orgdomain.Organization{},
		&usagedomain.UsageEvent{},
		&usagedomain.OverageTransaction{},
	))

	node := mustNode(t)
	clk := clock.NewFakeClock(now)
	usageCache := cache.NewMemoryUsageCache(time.Minute)

	svc := NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.NewRepository(db),
		Clock: clk,
		Cache: usageCache,
	}).(*Service)

	return &harness{svc: svc, db: db, node: node, clock: clk, cache: usageCache}
}

type orgSeed struct {
	base     float64
	overage  float64
	used     float64
	tier     string
	noPeriod bool
	period   usagedomain.Period
}

// seedOrg inserts an account whose counter and ledger agree on seed.used.
func (h *harness) seedOrg(t *testing.T, seed orgSeed) snowflake.ID {
	t.Helper()

	if seed.tier == "" {
		seed.tier = "starter"
	}
	period := seed.period
	if period.IsZero() {
		period = usagedomain.MonthPeriod(h.clock.Now())
	}

	id := h.node.Generate()
	org := orgdomain.Organization{
		ID:                      id,
		Name:                    "Acme " + id.String(),
		Slug:                    "acme-" + id.String(),
		PlanTier:                seed.tier,
		BaseAllocationMinutes:   seed.base,
		PurchasedOverageMinutes: seed.overage,
		UsedMinutes:             seed.used,
		CreatedAt:               h.clock.Now(),
		UpdatedAt:               h.clock.Now(),
	}
	if !seed.noPeriod {
		org.PeriodStart = &period.Start
		org.PeriodEnd = &period.End
	}
	require.NoError(t, h.db.Create(&org).Error)

	if seed.used > 0 {
		h.seedEvent(t, id, usagedomain.EventMinutesConsumed, seed.used, period.Start.Add(time.Hour))
	}
	return id
}

func (h *harness) seedEvent(t *testing.T, orgID snowflake.ID, eventType string, value float64, at time.Time) {
	t.Helper()
	require.NoError(t, h.db.Create(&usagedomain.UsageEvent{
		ID:         h.node.Generate(),
		OrgID:      orgID,
		EventType:  eventType,
		Value:      value,
		RecordedAt: at,
		CreatedAt:  at,
	}).Error)
}

// seedKeyedEvent inserts a ledger row that holds key.
func (h *harness) seedKeyedEvent(t *testing.T, orgID snowflake.ID, eventType string, value float64, key string) {
	t.Helper()
	now := h.clock.Now()
	require.NoError(t, h.db.Create(&usagedomain.UsageEvent{
		ID:             h.node.Generate(),
		OrgID:          orgID,
		EventType:      eventType,
		Value:          value,
		RecordedAt:     now,
		IdempotencyKey: &key,
		CreatedAt:      now,
	}).Error)
}

func (h *harness) org(t *testing.T, id snowflake.ID) orgdomain.Organization {
	t.Helper()
	var org orgdomain.Organization
	require.NoError(t, h.db.Where("id = ?", id).First(&org).Error)
	return org
}

func (h *harness) setCounter(t *testing.T, id snowflake.ID, used float64) {
	t.Helper()
	require.NoError(t, h.db.Exec(`UPDATE organizations SET used_minutes = ? WHERE id = ?`, used, id).Error)
}

func countEvents(t *testing.T, db *gorm.DB, orgID snowflake.ID, eventType string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&usagedomain.UsageEvent{}).
		Where("org_id = ? AND event_type = ?", orgID, eventType).
		Count(&count).Error)
	return count
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}

func ctx() context.Context {
	return context.Background()
}

// scriptedRepo wraps the sqlite repository to refuse reservations or record
// the order of ledger reads.
type scriptedRepo struct {
	usagedomain.Repository
	refuseReserve bool
	ops           *[]string
}

func (r scriptedRepo) note(op string) {
	if r.ops != nil {
		*r.ops = append(*r.ops, op)
	}
}

func (r scriptedRepo) WithTx(tx *gorm.DB) usagedomain.Repository {
	return scriptedRepo{Repository: r.Repository.WithTx(tx), refuseReserve: r.refuseReserve, ops: r.ops}
}

func (r scriptedRepo) LockOrganization(ctx context.Context, id snowflake.ID) (*orgdomain.Organization, error) {
	r.note("lock")
	return r.Repository.LockOrganization(ctx, id)
}

func (r scriptedRepo) SumConsumed(ctx context.Context, orgID snowflake.ID, period usagedomain.Period) (usagedomain.LedgerUsage, error) {
	r.note("sum")
	return r.Repository.SumConsumed(ctx, orgID, period)
}

func (r scriptedRepo) Reserve(ctx context.Context, orgID snowflake.ID, minutes float64, periodStart time.Time, now time.Time) (bool, error) {
	r.note("reserve")
	if r.refuseReserve {
		return false, nil
	}
	return r.Repository.Reserve(ctx, orgID, minutes, periodStart, now)
}
