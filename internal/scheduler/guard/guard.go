// Package guard holds the due-checks the scheduler applies before touching an
// account or starting a sweep.
package guard

import (
	"errors"
	"time"
)

var (
	ErrPeriodNotDue    = errors.New("period_not_due")
	ErrAccountArchived = errors.New("account_archived")
	ErrSweepNotDue     = errors.New("sweep_not_due")
)

// EnsurePeriodDue reports whether an account's billing period must be
// initialized or rolled at now. Unset bounds are always due.
func EnsurePeriodDue(periodEnd *time.Time, archivedAt *time.Time, now time.Time) error {
	if archivedAt != nil {
		return ErrAccountArchived
	}
	if periodEnd == nil {
		return nil
	}
	if now.Before(*periodEnd) {
		return ErrPeriodNotDue
	}
	return nil
}

// EnsureSweepDue gates a periodic job that should run at most once per interval.
func EnsureSweepDue(lastRun time.Time, interval time.Duration, now time.Time) error {
	if lastRun.IsZero() {
		return nil
	}
	if now.Sub(lastRun) < interval {
		return ErrSweepNotDue
	}
	return nil
}
