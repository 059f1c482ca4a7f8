package service

import (
	"context"

	usagedomain "github.com/smallbiznis/callquota/internal/usage/domain"
)

// GetUsage serves the cached summary unless ForceSync is set. A miss reconciles
// before building the summary, so the values reported come from the ledger.
func (s *Service) GetUsage(ctx context.Context, req usagedomain.GetUsageRequest) (usagedomain.UsageSummary, error) {
	orgID, err := parseOrgID(req.OrganizationID)
	if err != nil {
		return usagedomain.UsageSummary{}, err
	}

	if !req.ForceSync && s.cache != nil {
		if summary, ok := s.cache.Get(orgID.String()); ok {
			summary.Source = usagedomain.SourceCache
			return summary, nil
		}
	}

	gen := s.cacheGeneration(orgID)
	result, org, err := s.reconcile(ctx, orgID, req.ForceSync)
	if err != nil {
		return usagedomain.UsageSummary{}, err
	}

	total := org.TotalAvailable()
	used := float64(result.Ledger)
	remaining := total - used
	if remaining < 0 {
		remaining = 0
	}
	percent := 0.0
	if total > 0 {
		percent = used / total * 100
	}

	summary := usagedomain.UsageSummary{
		OrganizationID:   orgID.String(),
		PlanTier:         org.PlanTier,
		BaseAllocation:   org.BaseAllocationMinutes,
		PurchasedOverage: org.PurchasedOverageMinutes,
		Used:             used,
		Remaining:        remaining,
		PercentUsed:      percent,
		PeriodStart:      result.Period.Start,
		PeriodEnd:        result.Period.End,
		Source:           usagedomain.SourceLedger,
		SyncedAt:         s.clock.Now(),
	}
	if result.Corrected {
		// reconcile invalidated once on our behalf
		gen++
	}
	s.storeSummary(orgID, gen, summary)
	return summary, nil
}
