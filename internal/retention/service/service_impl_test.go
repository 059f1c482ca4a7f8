package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/callquota/internal/clock"
	"github.com/smallbiznis/callquota/internal/config"
	orgdomain "github.com/smallbiznis/callquota/internal/organization/domain"
	"github.com/smallbiznis/callquota/internal/retention/domain"
	"github.com/smallbiznis/callquota/internal/retention/repository"
	usagedomain "github.com/smallbiznis/callquota/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var now = time.Date(2026, time.June, 1, 3, 0, 0, 0, time.UTC)

type harness struct {
	svc  *Service
	db   *gorm.DB
	node *snowflake.Node
}

func setupRetention(t *testing.T) *harness {
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
		&domain.Call{},
		&domain.Transcript{},
		&domain.UsageMetric{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(ServiceParam{
		DB:       db,
		Log:      zap.NewNop(),
		Repo:     repository.NewRepository(db),
		Clock:    clock.NewFakeClock(now),
		Policies: config.NewStaticPolicyHolder(config.DefaultPolicyConfig()),
	}).(*Service)

	return &harness{svc: svc, db: db, node: node}
}

func (h *harness) seedOrg(t *testing.T, tier string) snowflake.ID {
	t.Helper()
	id := h.node.Generate()
	require.NoError(t, h.db.Create(&orgdomain.Organization{
		ID:        id,
		Name:      "Org " + id.String(),
		Slug:      "org-" + id.String(),
		PlanTier:  tier,
		CreatedAt: now,
		UpdatedAt: now,
	}).Error)
	return id
}

// seedContent writes one call, transcript and metric row created daysAgo.
func (h *harness) seedContent(t *testing.T, orgID snowflake.ID, daysAgo int) {
	t.Helper()
	at := now.AddDate(0, 0, -daysAgo)
	callID := h.node.Generate()
	require.NoError(t, h.db.Create(&domain.Call{
		ID: callID, OrgID: orgID, Title: "Weekly sync", CallerNumber: "+15550100",
		DurationMinutes: 12, CreatedAt: at,
	}).Error)
	require.NoError(t, h.db.Create(&domain.Transcript{
		ID: h.node.Generate(), OrgID: orgID, CallID: callID, Content: "hello there", CreatedAt: at,
	}).Error)
	require.NoError(t, h.db.Create(&domain.UsageMetric{
		ID: h.node.Generate(), OrgID: orgID, Name: "talk_ratio", Value: 0.4,
		Metadata: datatypes.JSONMap{"speaker": "alice"}, CreatedAt: at,
	}).Error)
}

func count(t *testing.T, db *gorm.DB, model any, where string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Where(where, args...).Count(&n).Error)
	return n
}

func TestRunRetentionCleanupHardDeletesFreeTier(t *testing.T) {
	h := setupRetention(t)
	org := h.seedOrg(t, "free")
	h.seedContent(t, org, 45)
	h.seedContent(t, org, 5)

	result, err := h.svc.RunRetentionCleanup(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, result.RunID)
	assert.Equal(t, 1, result.Processed)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Accounts, 1)

	account := result.Accounts[0]
	assert.Equal(t, config.RetentionModeHardDelete, account.Mode)
	assert.Equal(t, now.AddDate(0, 0, -30), account.Cutoff)
	assert.EqualValues(t, 1, account.Calls)
	assert.EqualValues(t, 1, account.Transcripts)
	assert.EqualValues(t, 1, account.Metrics)

	assert.EqualValues(t, 1, count(t, h.db, &domain.Call{}, "org_id = ?", org))
	assert.EqualValues(t, 1, count(t, h.db, &domain.Transcript{}, "org_id = ?", org))
	assert.EqualValues(t, 1, count(t, h.db, &domain.UsageMetric{}, "org_id = ?", org))
}

func TestRunRetentionCleanupSoftDeletesOnce(t *testing.T) {
	h := setupRetention(t)
	org := h.seedOrg(t, "starter")
	h.seedContent(t, org, 120)
	h.seedContent(t, org, 30)

	result, err := h.svc.RunRetentionCleanup(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Accounts, 1)
	assert.EqualValues(t, 3, result.Accounts[0].Total())

	assert.EqualValues(t, 2, count(t, h.db, &domain.Call{}, "org_id = ?", org))
	assert.EqualValues(t, 1, count(t, h.db, &domain.Call{}, "org_id = ? AND deleted_at IS NOT NULL", org))

	again, err := h.svc.RunRetentionCleanup(context.Background())
	require.NoError(t, err)
	require.Len(t, again.Accounts, 1)
	assert.Zero(t, again.Accounts[0].Total())
}

func TestRunRetentionCleanupAnonymizesProTier(t *testing.T) {
	h := setupRetention(t)
	org := h.seedOrg(t, "pro")
	h.seedContent(t, org, 400)

	_, err := h.svc.RunRetentionCleanup(context.Background())
	require.NoError(t, err)

	var call domain.Call
	require.NoError(t, h.db.Where("org_id = ?", org).First(&call).Error)
	assert.Empty(t, call.Title)
	assert.Empty(t, call.CallerNumber)
	assert.Equal(t, 12.0, call.DurationMinutes)
	require.NotNil(t, call.AnonymizedAt)
	assert.Nil(t, call.DeletedAt)

	var transcript domain.Transcript
	require.NoError(t, h.db.Where("org_id = ?", org).First(&transcript).Error)
	assert.Empty(t, transcript.Content)
}

func TestRunRetentionCleanupLeavesLedgerAlone(t *testing.T) {
	h := setupRetention(t)
	org := h.seedOrg(t, "free")
	h.seedContent(t, org, 365)
	require.NoError(t, h.db.Create(&usagedomain.UsageEvent{
		ID:         h.node.Generate(),
		OrgID:      org,
		EventType:  usagedomain.EventMinutesConsumed,
		Value:      25,
		RecordedAt: now.AddDate(-1, 0, 0),
		CreatedAt:  now.AddDate(-1, 0, 0),
	}).Error)

	_, err := h.svc.RunRetentionCleanup(context.Background())
	require.NoError(t, err)

	assert.Zero(t, count(t, h.db, &domain.Call{}, "org_id = ?", org))
	assert.EqualValues(t, 1, count(t, h.db, &usagedomain.UsageEvent{}, "org_id = ?", org))
}

func TestRunRetentionCleanupCollectsAccountErrors(t *testing.T) {
	h := setupRetention(t)
	h.svc.batchSize = 1

	bad := h.seedOrg(t, "legacy")
	good := h.seedOrg(t, "free")
	h.seedContent(t, good, 60)

	result, err := h.svc.RunRetentionCleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, bad.String(), result.Errors[0].OrganizationID)
	assert.Contains(t, result.Errors[0].Error, domain.ErrNoPolicy.Error())
	require.Len(t, result.Accounts, 1)
	assert.Equal(t, good.String(), result.Accounts[0].OrganizationID)
}

func TestRunRetentionCleanupSkipsArchivedAccounts(t *testing.T) {
	h := setupRetention(t)
	org := h.seedOrg(t, "free")
	h.seedContent(t, org, 90)
	require.NoError(t, h.db.Exec(`UPDATE organizations SET archived_at = ? WHERE id = ?`, now, org).Error)

	result, err := h.svc.RunRetentionCleanup(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Processed)
	assert.EqualValues(t, 1, count(t, h.db, &domain.Call{}, "org_id = ?", org))
}

func TestCleanupAccount(t *testing.T) {
	h := setupRetention(t)
	org := h.seedOrg(t, "free")
	h.seedContent(t, org, 31)

	account, err := h.svc.CleanupAccount(context.Background(), org.String())
	require.NoError(t, err)
	assert.Equal(t, org.String(), account.OrganizationID)
	assert.EqualValues(t, 3, account.Total())

	_, err = h.svc.CleanupAccount(context.Background(), "nope")
	require.ErrorIs(t, err, domain.ErrInvalidOrganization)

	_, err = h.svc.CleanupAccount(context.Background(), h.node.Generate().String())
	require.ErrorIs(t, err, domain.ErrOrganizationNotFound)
}
