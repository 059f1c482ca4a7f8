package domain

import (
	"errors"

	"github.com/smallbiznis/callquota/pkg/db"
)

const (
	// Epsilon is the drift below which the counter and ledger are considered equal.
	Epsilon = 1e-6
	// ReserveTolerance keeps float rounding from rejecting a request that
	// exactly fills the allocation.
	ReserveTolerance = 1e-9
)

var (
	ErrInvalidOrganization   = errors.New("invalid_organization")
	ErrOrganizationNotFound  = errors.New("organization_not_found")
	ErrOrganizationArchived  = errors.New("organization_archived")
	ErrInvalidMinutes        = errors.New("invalid_minutes")
	ErrInvalidRecordedAt     = errors.New("invalid_recorded_at")
	ErrInvalidIdempotencyKey = errors.New("invalid_idempotency_key")
	ErrInvalidTransactionID  = errors.New("invalid_transaction_id")
	ErrInvalidPeriod         = errors.New("invalid_period")
	ErrInvalidPageToken      = errors.New("invalid_page_token")
	ErrQuotaExceeded         = errors.New("quota_exceeded")
	ErrLedgerUnavailable     = errors.New("ledger_unavailable")
	ErrUsageUnavailable      = errors.New("usage_unavailable")
)

// ErrIdempotencyKeyConflict means a ledger key is already held by an event of
// a different kind.
var ErrIdempotencyKeyConflict = errors.New("idempotency_key_conflict")

// QuotaExceededError carries the deny decision for a rejected recording.
type QuotaExceededError struct {
	Decision QuotaDecision
}

func (e *QuotaExceededError) Error() string {
	if e.Decision.Message != "" {
		return ErrQuotaExceeded.Error() + ": " + e.Decision.Message
	}
	return ErrQuotaExceeded.Error()
}

func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// IsTransient reports whether err is a read or write failure the caller may retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrLedgerUnavailable) ||
		errors.Is(err, ErrUsageUnavailable) ||
		db.IsTransientErr(err)
}
