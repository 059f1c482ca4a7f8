package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	orgdomain "github.com/smallbiznis/callquota/internal/organization/domain"
	"gorm.io/gorm"
)

type EventFilter struct {
	OrgID     snowflake.ID
	EventType string
	Start     *time.Time
	End       *time.Time
	AfterTime *time.Time
	AfterID   snowflake.ID
	Limit     int
}

// Repository owns the account counter columns and the usage ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindOrganization(ctx context.Context, id snowflake.ID) (*orgdomain.Organization, error)
	// LockOrganization reads the account row, holding a row lock on dialects that support it.
	LockOrganization(ctx context.Context, id snowflake.ID) (*orgdomain.Organization, error)

	SumConsumed(ctx context.Context, orgID snowflake.ID, period Period) (LedgerUsage, error)

	// Reserve adds minutes to the counter only when the result stays within
	// base + overage for the given period. It reports whether the row changed.
	Reserve(ctx context.Context, orgID snowflake.ID, minutes float64, periodStart time.Time, now time.Time) (bool, error)
	IncrementUsed(ctx context.Context, orgID snowflake.ID, minutes float64, periodStart time.Time, now time.Time) (bool, error)
	SetUsed(ctx context.Context, orgID snowflake.ID, used LedgerUsage, expectedVersion int64, now time.Time) (bool, error)
	StartPeriod(ctx context.Context, orgID snowflake.ID, period Period, now time.Time) error
	CreditOverage(ctx context.Context, orgID snowflake.ID, minutes float64, now time.Time) error

	InsertEvent(ctx context.Context, event UsageEvent) (bool, error)
	FindEventByIdempotencyKey(ctx context.Context, orgID snowflake.ID, key string) (*UsageEvent, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]UsageEvent, error)

	InsertOverageTransaction(ctx context.Context, txn OverageTransaction) (bool, error)
	FindOverageTransaction(ctx context.Context, orgID snowflake.ID, transactionID string) (*OverageTransaction, error)
}
