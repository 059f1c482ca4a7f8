package domain

import (
	"fmt"
	"strconv"
)

const (
	ReasonNoQuotaRemaining = "no_quota_remaining"
	ReasonExceedsRemaining = "exceeds_remaining"
	ReasonTransientFailure = "transient_failure"
	ReasonAccountNotFound  = "account_not_found"
	ReasonAccountArchived  = "account_archived"

	WarningApproachingLimit = "approaching_limit"
	WarningCriticalLimit    = "critical_limit"
)

const transientMessage = "usage is temporarily unavailable, try again"

// QuotaDecision is the outcome of a quota check. Warnings are advisory.
type QuotaDecision struct {
	Allowed        bool    `json:"allowed"`
	Reason         string  `json:"reason,omitempty"`
	Message        string  `json:"message,omitempty"`
	Warning        string  `json:"warning,omitempty"`
	Requested      float64 `json:"requested"`
	Used           float64 `json:"used"`
	TotalAvailable float64 `json:"total_available"`
	Remaining      float64 `json:"remaining"`
	RemainingAfter float64 `json:"remaining_after"`
	PercentAfter   float64 `json:"percent_after"`
}

// Thresholds are fractions of the total allocation that trigger warnings.
type Thresholds struct {
	Warning  float64
	Critical float64
}

var DefaultThresholds = Thresholds{Warning: 0.8, Critical: 0.9}

// Decide evaluates a request for minutes against base + overage - used.
func Decide(base, overage float64, used LedgerUsage, requested float64, thresholds Thresholds) QuotaDecision {
	total := base + overage
	remaining := total - float64(used)
	if remaining < 0 {
		remaining = 0
	}

	decision := QuotaDecision{
		Requested:      requested,
		Used:           float64(used),
		TotalAvailable: total,
		Remaining:      remaining,
	}

	switch {
	case remaining <= 0:
		decision.Reason = ReasonNoQuotaRemaining
		decision.Message = "no minutes remaining this period; purchase additional minutes or upgrade your plan"
		return decision
	case requested > remaining+ReserveTolerance:
		decision.Reason = ReasonExceedsRemaining
		decision.Message = fmt.Sprintf(
			"requested %s minutes exceeds remaining %s by %s minutes; purchase additional minutes or upgrade your plan",
			formatMinutes(requested), formatMinutes(remaining), formatMinutes(requested-remaining),
		)
		return decision
	}

	decision.Allowed = true
	decision.RemainingAfter = remaining - requested
	if decision.RemainingAfter < 0 {
		decision.RemainingAfter = 0
	}
	decision.PercentAfter = (float64(used) + requested) / total * 100

	fraction := (float64(used) + requested) / total
	switch {
	case thresholds.Critical > 0 && fraction >= thresholds.Critical:
		decision.Warning = WarningCriticalLimit
		decision.Message = fmt.Sprintf("this operation brings usage to %.0f%% of your allocation", decision.PercentAfter)
	case thresholds.Warning > 0 && fraction >= thresholds.Warning:
		decision.Warning = WarningApproachingLimit
		decision.Message = fmt.Sprintf("this operation brings usage to %.0f%% of your allocation", decision.PercentAfter)
	}
	return decision
}

// TransientDecision is the fail-closed answer used when usage cannot be read.
func TransientDecision(requested float64) QuotaDecision {
	return QuotaDecision{
		Reason:    ReasonTransientFailure,
		Message:   transientMessage,
		Requested: requested,
	}
}

func formatMinutes(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
