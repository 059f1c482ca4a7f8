package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	orgdomain "github.com/smallbiznis/callquota/internal/organization/domain"
	usagedomain "github.com/smallbiznis/callquota/internal/usage/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func (s *Service) EnsureCurrentPeriod(ctx context.Context, organizationID string) (usagedomain.PeriodResult, error) {
	orgID, err := parseOrgID(organizationID)
	if err != nil {
		return usagedomain.PeriodResult{}, err
	}
	_, result, err := s.ensurePeriod(ctx, orgID)
	return result, err
}

// ensurePeriod moves the account into the calendar month of the clock. The
// returned organization reflects the period after any rollover.
func (s *Service) ensurePeriod(ctx context.Context, orgID snowflake.ID) (*orgdomain.Organization, usagedomain.PeriodResult, error) {
	org, err := s.loadOrganization(ctx, orgID)
	if err != nil {
		return nil, usagedomain.PeriodResult{}, err
	}

	now := s.clock.Now()
	current := usagedomain.MonthPeriod(now)
	result := usagedomain.PeriodResult{OrganizationID: orgID.String(), Period: current}
	if !needsRollover(org, current) {
		result.Period = periodOf(org)
		return org, result, nil
	}

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

		// another caller rolled the period while we waited for the lock
		if !needsRollover(locked, current) {
			result.Period = periodOf(locked)
			return nil
		}

		if !locked.HasPeriod() {
			if err := repo.StartPeriod(ctx, orgID, current, now); err != nil {
				return err
			}
			result.Initialized = true
			return nil
		}

		outgoing := periodOf(locked)
		used, err := repo.SumConsumed(ctx, orgID, outgoing)
		if err != nil {
			return err
		}

		key := usagedomain.PeriodArchivedKey(orgID, outgoing)
		archived := usagedomain.UsageEvent{
			ID:             s.genID.Generate(),
			OrgID:          orgID,
			EventType:      usagedomain.EventPeriodArchived,
			Value:          float64(used),
			RecordedAt:     now,
			IdempotencyKey: &key,
			Metadata: datatypes.JSONMap{
				"period_start":      outgoing.Start.Format(time.RFC3339),
				"period_end":        outgoing.End.Format(time.RFC3339),
				"purchased_overage": locked.PurchasedOverageMinutes,
				"cached_used":       locked.UsedMinutes,
				"ledger_used":       float64(used),
			},
			CreatedAt: now,
		}
		inserted, err := repo.InsertEvent(ctx, archived)
		if err != nil {
			return err
		}
		if inserted {
			result.Archived = &archived
		} else if err := ensureArchiveEvent(ctx, repo, orgID, key); err != nil {
			return err
		}

		if err := repo.StartPeriod(ctx, orgID, current, now); err != nil {
			return err
		}
		result.Rolled = true
		return nil
	})
	if err != nil {
		return nil, usagedomain.PeriodResult{}, err
	}

	if result.Initialized || result.Rolled {
		org.PeriodStart = &current.Start
		org.PeriodEnd = &current.End
		org.UsedMinutes = 0
		org.Version++
		result.Period = current
		s.invalidate(orgID)
	}

	if result.Rolled {
		s.metrics.RecordPeriodRollover(ctx, org.PlanTier)
		fields := []zap.Field{
			zap.String("org_id", orgID.String()),
			zap.String("period", current.Key()),
			zap.Float64("purchased_overage_minutes", org.PurchasedOverageMinutes),
		}
		if result.Archived != nil {
			fields = append(fields, zap.Float64("archived_minutes", result.Archived.Value))
		}
		s.logger(ctx).Info("usage period rolled over", fields...)
	}
	return org, result, nil
}

// needsRollover reports whether the stored period is missing or older than
// current. A period ahead of the clock is left alone.
func needsRollover(org *orgdomain.Organization, current usagedomain.Period) bool {
	if !org.HasPeriod() {
		return true
	}
	return org.PeriodStart.UTC().Before(current.Start)
}

// ensureArchiveEvent confirms that the row holding an archive key is the
// archive event for that period.
func ensureArchiveEvent(ctx context.Context, repo usagedomain.Repository, orgID snowflake.ID, key string) error {
	existing, err := repo.FindEventByIdempotencyKey(ctx, orgID, key)
	if err != nil {
		return fmt.Errorf("%w: %v", usagedomain.ErrLedgerUnavailable, err)
	}
	if existing == nil || existing.EventType != usagedomain.EventPeriodArchived {
		return fmt.Errorf("%w: %s", usagedomain.ErrIdempotencyKeyConflict, key)
	}
	return nil
}
