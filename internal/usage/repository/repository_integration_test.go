//go:build integration

package repository_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/callquota/internal/clock"
	"github.com/smallbiznis/callquota/internal/migration"
	orgdomain "github.com/smallbiznis/callquota/internal/organization/domain"
	usagedomain "github.com/smallbiznis/callquota/internal/usage/domain"
	"github.com/smallbiznis/callquota/internal/usage/repository"
	"github.com/smallbiznis/callquota/internal/usage/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("callquota"),
		tcpostgres.WithUsername("callquota"),
		tcpostgres.WithPassword("callquota"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(20)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, migration.Run(db))
	return db
}

func seedAccount(t *testing.T, db *gorm.DB, node *snowflake.Node, base float64, period usagedomain.Period) snowflake.ID {
	t.Helper()
	id := node.Generate()
	require.NoError(t, db.Create(&orgdomain.Organization{
		ID:                    id,
		Name:                  "Integration " + id.String(),
		Slug:                  "integration-" + id.String(),
		PlanTier:              "starter",
		BaseAllocationMinutes: base,
		PeriodStart:           &period.Start,
		PeriodEnd:             &period.End,
	}).Error)
	return id
}

func TestReserveIsAtomicUnderContention(t *testing.T) {
	db := setupPostgres(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	now := time.Now().UTC()
	period := usagedomain.MonthPeriod(now)
	orgID := seedAccount(t, db, node, 100, period)
	repo := repository.NewRepository(db)

	var (
		wg      sync.WaitGroup
		granted atomic.Int32
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.Reserve(context.Background(), orgID, 10, period.Start, now)
			assert.NoError(t, err)
			if ok {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 10, granted.Load())
	var org orgdomain.Organization
	require.NoError(t, db.First(&org, "id = ?", orgID).Error)
	assert.Equal(t, 100.0, org.UsedMinutes)
}

func TestRecordUsageNeverOverspendsLedger(t *testing.T) {
	db := setupPostgres(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	now := time.Now().UTC()
	period := usagedomain.MonthPeriod(now)
	orgID := seedAccount(t, db, node, 50, period)

	svc := service.NewService(service.ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.NewRepository(db),
		Clock: clock.System(),
	})

	var (
		wg       sync.WaitGroup
		recorded atomic.Int32
		denied   atomic.Int32
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordUsage(context.Background(), usagedomain.RecordUsageRequest{
				OrganizationID: orgID.String(),
				ActorID:        "caller",
				Minutes:        5,
				IdempotencyKey: fmt.Sprintf("call-%d", i),
			})
			switch {
			case err == nil:
				recorded.Add(1)
			case assert.ErrorIs(t, err, usagedomain.ErrQuotaExceeded):
				denied.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 10, recorded.Load())
	assert.EqualValues(t, 2, denied.Load())

	ledger, err := svc.SumConsumed(context.Background(), orgID.String(), period)
	require.NoError(t, err)
	assert.Equal(t, usagedomain.LedgerUsage(50), ledger)
}
