package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name      string
		base      float64
		overage   float64
		used      LedgerUsage
		requested float64
		allowed   bool
		reason    string
		warning   string
	}{
		{name: "plenty left", base: 100, used: 10, requested: 5, allowed: true},
		{name: "exactly fills allocation", base: 30, used: 20, requested: 10, allowed: true, warning: WarningCriticalLimit},
		{name: "crosses warning", base: 100, used: 70, requested: 15, allowed: true, warning: WarningApproachingLimit},
		{name: "crosses critical", base: 100, used: 85, requested: 6, allowed: true, warning: WarningCriticalLimit},
		{name: "over allocation", base: 30, used: 25, requested: 10, reason: ReasonExceedsRemaining},
		{name: "empty", base: 30, used: 30, requested: 1, reason: ReasonNoQuotaRemaining},
		{name: "used beyond total", base: 30, used: 45, requested: 1, reason: ReasonNoQuotaRemaining},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.base, tt.overage, tt.used, tt.requested, DefaultThresholds)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, tt.warning, d.Warning)
			assert.GreaterOrEqual(t, d.Remaining, 0.0)
		})
	}
}

func TestDecideMessageFormatsFractions(t *testing.T) {
	d := Decide(30, 0, 27.5, 4, DefaultThresholds)
	assert.Equal(t,
		"requested 4 minutes exceeds remaining 2.5 by 1.5 minutes; purchase additional minutes or upgrade your plan",
		d.Message,
	)
}

func TestMonthPeriod(t *testing.T) {
	p := MonthPeriod(time.Date(2026, time.December, 31, 23, 59, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2026, time.December, 1, 0, 0, 0, 0, time.UTC), p.Start)
	assert.Equal(t, time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC), p.End)
	assert.Equal(t, "2026-12", p.Key())
	assert.True(t, p.Contains(p.Start))
	assert.False(t, p.Contains(p.End))
}

func TestQuotaExceededErrorMatchesSentinel(t *testing.T) {
	err := error(&QuotaExceededError{Decision: QuotaDecision{Reason: ReasonExceedsRemaining, Message: "nope"}})
	assert.True(t, errors.Is(err, ErrQuotaExceeded))

	var qe *QuotaExceededError
	assert.True(t, errors.As(err, &qe))
	assert.Equal(t, ReasonExceedsRemaining, qe.Decision.Reason)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(ErrLedgerUnavailable))
	assert.False(t, IsTransient(ErrQuotaExceeded))
	assert.False(t, IsTransient(nil))
}
