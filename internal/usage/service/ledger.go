package service

import (
	"context"

	usagedomain "github.com/smallbiznis/callquota/internal/usage/domain"
)

// SumConsumed totals minutes_consumed and usage_corrected events recorded in
// [period.Start, period.End).
func (s *Service) SumConsumed(ctx context.Context, organizationID string, period usagedomain.Period) (usagedomain.LedgerUsage, error) {
	orgID, err := parseOrgID(organizationID)
	if err != nil {
		return 0, err
	}
	if period.IsZero() || !period.End.After(period.Start) {
		return 0, usagedomain.ErrInvalidPeriod
	}
	return s.repo.SumConsumed(ctx, orgID, period)
}
