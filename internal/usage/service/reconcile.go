package service

import (
	"context"
	"fmt"
	"math"

	"github.com/bwmarrin/snowflake"
	orgdomain "github.com/smallbiznis/callquota/internal/organization/domain"
	usagedomain "github.com/smallbiznis/callquota/internal/usage/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func (s *Service) Reconcile(ctx context.Context, req usagedomain.ReconcileRequest) (usagedomain.ReconcileResult, error) {
	orgID, err := parseOrgID(req.OrganizationID)
	if err != nil {
		return usagedomain.ReconcileResult{}, err
	}
	result, _, err := s.reconcile(ctx, orgID, req.Force)
	return result, err
}

// reconcile brings the cached counter in line with the ledger for the current
// period. The account row stays locked while the ledger is summed, so no
// reservation can land between the sum and the correction. The returned
// organization carries the ledger value in UsedMinutes.
func (s *Service) reconcile(ctx context.Context, orgID snowflake.ID, force bool) (usagedomain.ReconcileResult, *orgdomain.Organization, error) {
	org, period, err := s.ensurePeriod(ctx, orgID)
	if err != nil {
		return usagedomain.ReconcileResult{}, nil, err
	}

	var result usagedomain.ReconcileResult
	var drifted bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		locked, err := repo.LockOrganization(ctx, orgID)
		if err != nil {
			return fmt.Errorf("%w: %v", usagedomain.ErrUsageUnavailable, err)
		}
		if locked == nil {
			return usagedomain.ErrOrganizationNotFound
		}
		org = locked
		if locked.HasPeriod() {
			period.Period = periodOf(locked)
		}

		ledger, err := repo.SumConsumed(ctx, orgID, period.Period)
		if err != nil {
			return err
		}

		cached := usagedomain.CachedUsage(locked.UsedMinutes)
		result = usagedomain.ReconcileResult{
			OrganizationID: orgID.String(),
			Period:         period.Period,
			Cached:         cached,
			Ledger:         ledger,
			Drift:          float64(ledger) - float64(cached),
		}

		drifted = math.Abs(result.Drift) > usagedomain.Epsilon
		if !drifted && !force {
			return nil
		}
		updated, err := repo.SetUsed(ctx, orgID, ledger, locked.Version, s.clock.Now())
		if err != nil {
			return err
		}
		result.Corrected = updated
		result.Conflict = !updated
		if updated {
			org.Version++
		}
		return nil
	})
	if err != nil {
		return usagedomain.ReconcileResult{}, nil, err
	}
	if result.Corrected {
		s.invalidate(orgID)
	}

	if drifted {
		s.metrics.RecordUsageDrift(ctx, org.PlanTier, result.Drift)
		s.logger(ctx).Warn("usage counter drift",
			zap.String("org_id", orgID.String()),
			zap.String("period", period.Period.Key()),
			zap.Float64("cached_minutes", float64(result.Cached)),
			zap.Float64("ledger_minutes", float64(result.Ledger)),
			zap.Float64("drift_minutes", result.Drift),
			zap.Bool("corrected", result.Corrected),
			zap.Bool("conflict", result.Conflict),
		)
	}

	org.UsedMinutes = float64(result.Ledger)
	return result, org, nil
}
