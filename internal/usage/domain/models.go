// Package domain contains the usage ledger models and the quota contracts.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	EventMinutesConsumed  = "minutes_consumed"
	EventOveragePurchased = "overage_purchased"
	EventPeriodArchived   = "period_archived"
	EventUsageCorrected   = "usage_corrected"
)

// Idempotency keys under these prefixes are written by the service itself and
// are refused when a caller supplies them.
const (
	KeyPrefixPeriodArchived = "period_archived:"
	KeyPrefixOverage        = "overage:"
)

// IsReservedKey reports whether key falls in a service-owned namespace.
func IsReservedKey(key string) bool {
	return strings.HasPrefix(key, KeyPrefixPeriodArchived) || strings.HasPrefix(key, KeyPrefixOverage)
}

// PeriodArchivedKey keys the archive event of period for orgID.
func PeriodArchivedKey(orgID snowflake.ID, period Period) string {
	return KeyPrefixPeriodArchived + orgID.String() + ":" + period.Key()
}

// OverageKey keys the ledger event of an overage purchase.
func OverageKey(transactionID string) string {
	return KeyPrefixOverage + transactionID
}

// ConsumptionEventTypes are the event types that count toward period usage.
var ConsumptionEventTypes = []string{EventMinutesConsumed, EventUsageCorrected}

// UsageEvent is an append-only ledger row. Rows are never updated in place.
type UsageEvent struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID      `gorm:"not null;index:idx_usage_events_org_recorded,priority:1;uniqueIndex:ux_usage_events_idempotency,priority:1" json:"org_id"`
	ActorID        string            `gorm:"type:text;not null;default:''" json:"actor_id,omitempty"`
	EventType      string            `gorm:"type:text;not null" json:"event_type"`
	Value          float64           `gorm:"not null" json:"value"`
	RecordedAt     time.Time         `gorm:"not null;index:idx_usage_events_org_recorded,priority:2" json:"recorded_at"`
	IdempotencyKey *string           `gorm:"type:varchar(255);uniqueIndex:ux_usage_events_idempotency,priority:2" json:"idempotency_key,omitempty"`
	Metadata       datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt      time.Time         `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (UsageEvent) TableName() string { return "usage_events" }

// OverageTransaction records a payment confirmation that has already been
// credited. The (org_id, transaction_id) pair is unique.
type OverageTransaction struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	OrgID         snowflake.ID `gorm:"not null;uniqueIndex:ux_overage_transactions_txn,priority:1"`
	TransactionID string       `gorm:"type:varchar(255);not null;uniqueIndex:ux_overage_transactions_txn,priority:2"`
	Minutes       float64      `gorm:"not null"`
	UsageEventID  snowflake.ID `gorm:"not null"`
	CreatedAt     time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (OverageTransaction) TableName() string { return "overage_transactions" }

// CachedUsage is the value read from organizations.used_minutes.
type CachedUsage float64

// LedgerUsage is a total derived by summing ledger events.
type LedgerUsage float64

// Period is a half-open billing interval [Start, End).
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// MonthPeriod returns the calendar month containing t, in UTC.
func MonthPeriod(t time.Time) Period {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Period{Start: start, End: start.AddDate(0, 1, 0)}
}

func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Key formats the period month as YYYY-MM.
func (p Period) Key() string {
	return p.Start.UTC().Format("2006-01")
}

func (p Period) IsZero() bool {
	return p.Start.IsZero() && p.End.IsZero()
}
