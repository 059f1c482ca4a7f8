package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/callquota/pkg/db/pagination"
)

//go:generate mockgen -source=service.go -destination=../mocks/mock_service.go -package=mocks

type Service interface {
	// CanConsume is the advisory quota gate. Read failures deny.
	CanConsume(ctx context.Context, req CanConsumeRequest) (QuotaDecision, error)
	GetUsage(ctx context.Context, req GetUsageRequest) (UsageSummary, error)
	RecordUsage(ctx context.Context, req RecordUsageRequest) (RecordUsageResult, error)
	AddOverage(ctx context.Context, req AddOverageRequest) (AddOverageResult, error)
	ListEvents(ctx context.Context, req ListEventsRequest) (ListEventsResponse, error)

	EnsureCurrentPeriod(ctx context.Context, organizationID string) (PeriodResult, error)
	Reconcile(ctx context.Context, req ReconcileRequest) (ReconcileResult, error)
	SumConsumed(ctx context.Context, organizationID string, period Period) (LedgerUsage, error)
}

type CanConsumeRequest struct {
	OrganizationID string  `json:"-"`
	Minutes        float64 `json:"minutes"`
}

type GetUsageRequest struct {
	OrganizationID string
	ForceSync      bool
}

type RecordUsageRequest struct {
	OrganizationID string         `json:"-"`
	ActorID        string         `json:"actor_id"`
	Minutes        float64        `json:"minutes"`
	IdempotencyKey string         `json:"idempotency_key"`
	RecordedAt     time.Time      `json:"recorded_at"`
	Metadata       map[string]any `json:"metadata"`
}

type RecordUsageResult struct {
	Event          UsageEvent `json:"event"`
	Duplicate      bool       `json:"duplicate"`
	Retroactive    bool       `json:"retroactive"`
	CounterUpdated bool       `json:"counter_updated"`
}

type AddOverageRequest struct {
	OrganizationID string  `json:"-"`
	Minutes        float64 `json:"minutes"`
	TransactionID  string  `json:"transaction_id"`
}

type AddOverageResult struct {
	Credited                bool    `json:"credited"`
	Duplicate               bool    `json:"duplicate"`
	Minutes                 float64 `json:"minutes"`
	PurchasedOverageMinutes float64 `json:"purchased_overage_minutes"`
	EventID                 string  `json:"event_id,omitempty"`
}

type ReconcileRequest struct {
	OrganizationID string
	Force          bool
}

type ReconcileResult struct {
	OrganizationID string      `json:"organization_id"`
	Period         Period      `json:"period"`
	Cached         CachedUsage `json:"cached"`
	Ledger         LedgerUsage `json:"ledger"`
	Drift          float64     `json:"drift"`
	Corrected      bool        `json:"corrected"`
	// Conflict is set when a concurrent write changed the row first; the
	// next reconciliation picks the correction up.
	Conflict bool `json:"conflict"`
}

type PeriodResult struct {
	OrganizationID string      `json:"organization_id"`
	Period         Period      `json:"period"`
	Initialized    bool        `json:"initialized"`
	Rolled         bool        `json:"rolled"`
	Archived       *UsageEvent `json:"archived,omitempty"`
}

const (
	SourceCache  = "cache"
	SourceLedger = "ledger"
)

type UsageSummary struct {
	OrganizationID   string    `json:"organization_id"`
	PlanTier         string    `json:"plan_tier"`
	BaseAllocation   float64   `json:"base_allocation"`
	PurchasedOverage float64   `json:"purchased_overage"`
	Used             float64   `json:"used"`
	Remaining        float64   `json:"remaining"`
	PercentUsed      float64   `json:"percent_used"`
	PeriodStart      time.Time `json:"period_start"`
	PeriodEnd        time.Time `json:"period_end"`
	Source           string    `json:"source"`
	SyncedAt         time.Time `json:"synced_at"`
}

type ListEventsRequest struct {
	OrganizationID string     `form:"-"`
	EventType      string     `form:"event_type"`
	Start          *time.Time `form:"start" time_format:"2006-01-02T15:04:05Z07:00"`
	End            *time.Time `form:"end" time_format:"2006-01-02T15:04:05Z07:00"`
	PageToken      string     `form:"page_token"`
	PageSize       int        `form:"page_size"`
}

type ListEventsResponse struct {
	pagination.PageInfo
	Events []UsageEvent `json:"events"`
}
