package service

import (
	"context"

	usagedomain "github.com/smallbiznis/callquota/internal/usage/domain"
	"go.uber.org/zap"
)

// CanConsume answers from ledger-consistent state. Any read failure denies with
// ReasonTransientFailure and returns the error alongside the decision.
func (s *Service) CanConsume(ctx context.Context, req usagedomain.CanConsumeRequest) (usagedomain.QuotaDecision, error) {
	if !validMinutes(req.Minutes) {
		return usagedomain.QuotaDecision{Requested: req.Minutes}, usagedomain.ErrInvalidMinutes
	}
	orgID, err := parseOrgID(req.OrganizationID)
	if err != nil {
		return usagedomain.QuotaDecision{Requested: req.Minutes}, err
	}

	_, org, err := s.reconcile(ctx, orgID, false)
	if err != nil {
		if isNotFound(err) {
			decision := usagedomain.QuotaDecision{
				Reason:    usagedomain.ReasonAccountNotFound,
				Message:   "account not found",
				Requested: req.Minutes,
			}
			return decision, err
		}
		s.metrics.RecordQuotaDecision(ctx, "", false, usagedomain.ReasonTransientFailure)
		s.logger(ctx).Warn("quota check failed closed",
			zap.String("org_id", orgID.String()),
			zap.Error(err),
		)
		return usagedomain.TransientDecision(req.Minutes), err
	}

	if org.IsArchived() {
		decision := usagedomain.QuotaDecision{
			Reason:    usagedomain.ReasonAccountArchived,
			Message:   "account is archived",
			Requested: req.Minutes,
		}
		s.metrics.RecordQuotaDecision(ctx, org.PlanTier, false, decision.Reason)
		return decision, nil
	}

	decision := usagedomain.Decide(
		org.BaseAllocationMinutes,
		org.PurchasedOverageMinutes,
		usagedomain.LedgerUsage(org.UsedMinutes),
		req.Minutes,
		s.thresholds(),
	)
	s.metrics.RecordQuotaDecision(ctx, org.PlanTier, decision.Allowed, decision.Reason)
	return decision, nil
}
