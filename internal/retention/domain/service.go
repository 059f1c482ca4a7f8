package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	orgdomain "github.com/smallbiznis/callquota/internal/organization/domain"
	"gorm.io/gorm"
)

var (
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrOrganizationNotFound = errors.New("organization_not_found")
	ErrNoPolicy             = errors.New("retention_policy_not_found")
	ErrUnknownMode          = errors.New("unknown_retention_mode")
	ErrUnknownTable         = errors.New("unknown_retention_table")
	ErrSweepInProgress      = errors.New("retention_sweep_in_progress")
)

type Service interface {
	// RunRetentionCleanup sweeps every active account. Per-account failures are
	// collected in the result and do not stop the run.
	RunRetentionCleanup(ctx context.Context) (CleanupResult, error)
	CleanupAccount(ctx context.Context, organizationID string) (AccountResult, error)
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ListAccounts(ctx context.Context, afterID snowflake.ID, limit int) ([]orgdomain.Organization, error)
	FindAccount(ctx context.Context, id snowflake.ID) (*orgdomain.Organization, error)
	// Apply prunes rows of table created before cutoff and reports how many changed.
	Apply(ctx context.Context, table string, orgID snowflake.ID, cutoff time.Time, mode string, now time.Time) (int64, error)
}

type AccountResult struct {
	OrganizationID string    `json:"organization_id"`
	PlanTier       string    `json:"plan_tier"`
	Cutoff         time.Time `json:"cutoff"`
	Mode           string    `json:"mode"`
	Calls          int64     `json:"calls"`
	Transcripts    int64     `json:"transcripts"`
	Metrics        int64     `json:"metrics"`
}

func (r AccountResult) Total() int64 {
	return r.Calls + r.Transcripts + r.Metrics
}

type AccountError struct {
	OrganizationID string `json:"organization_id"`
	Error          string `json:"error"`
}

type CleanupResult struct {
	RunID      string          `json:"run_id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Processed  int             `json:"processed"`
	Errors     []AccountError  `json:"errors"`
	Accounts   []AccountResult `json:"accounts"`
}
