package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ListFilter selects accounts in id order for batch jobs and listings.
type ListFilter struct {
	AfterID         snowflake.ID
	Limit           int
	PlanTier        string
	IncludeArchived bool
	// PeriodEndBefore selects accounts whose period is unset or ended before this instant.
	PeriodEndBefore *time.Time
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrganization(ctx context.Context, org Organization) error
	FindByID(ctx context.Context, id snowflake.ID) (*Organization, error)
	List(ctx context.Context, filter ListFilter) ([]Organization, error)
	UpdatePlan(ctx context.Context, id snowflake.ID, planTier string, baseAllocation float64, now time.Time) (bool, error)
	Archive(ctx context.Context, id snowflake.ID, now time.Time) (bool, error)
}
