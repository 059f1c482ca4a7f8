package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/smallbiznis/callquota/internal/usage/domain"
	"github.com/smallbiznis/callquota/pkg/telemetry/correlation"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var errDuplicateTransaction = errors.New("duplicate_transaction")

// AddOverage credits purchased minutes exactly once per transaction id.
func (s *Service) AddOverage(ctx context.Context, req usagedomain.AddOverageRequest) (usagedomain.AddOverageResult, error) {
	if !validMinutes(req.Minutes) {
		return usagedomain.AddOverageResult{}, usagedomain.ErrInvalidMinutes
	}
	txnID := strings.TrimSpace(req.TransactionID)
	if txnID == "" || len(txnID) > maxKeyLength {
		return usagedomain.AddOverageResult{}, usagedomain.ErrInvalidTransactionID
	}
	orgID, err := parseOrgID(req.OrganizationID)
	if err != nil {
		return usagedomain.AddOverageResult{}, err
	}

	org, err := s.loadOrganization(ctx, orgID)
	if err != nil {
		return usagedomain.AddOverageResult{}, err
	}
	if org.IsArchived() {
		return usagedomain.AddOverageResult{}, usagedomain.ErrOrganizationArchived
	}

	now := s.clock.Now()
	key := usagedomain.OverageKey(txnID)
	event := usagedomain.UsageEvent{
		ID:             s.genID.Generate(),
		OrgID:          orgID,
		EventType:      usagedomain.EventOveragePurchased,
		Value:          req.Minutes,
		RecordedAt:     now,
		IdempotencyKey: &key,
		Metadata: datatypes.JSONMap(correlation.StampMetadata(ctx, map[string]any{
			"transaction_id": txnID,
		})),
		CreatedAt: now,
	}
	txn := usagedomain.OverageTransaction{
		ID:            s.genID.Generate(),
		OrgID:         orgID,
		TransactionID: txnID,
		Minutes:       req.Minutes,
		UsageEventID:  event.ID,
		CreatedAt:     now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		inserted, err := repo.InsertOverageTransaction(ctx, txn)
		if err != nil {
			return err
		}
		if !inserted {
			return errDuplicateTransaction
		}
		if err := repo.CreditOverage(ctx, orgID, req.Minutes, now); err != nil {
			return err
		}
		inserted, err = repo.InsertEvent(ctx, event)
		if err != nil {
			return err
		}
		if !inserted {
			return fmt.Errorf("%w: %s", usagedomain.ErrIdempotencyKeyConflict, key)
		}
		return nil
	})
	if errors.Is(err, errDuplicateTransaction) {
		return s.duplicateOverage(ctx, orgID, txnID)
	}
	if err != nil {
		return usagedomain.AddOverageResult{}, fmt.Errorf("add overage: %w", err)
	}

	s.invalidate(orgID)
	s.metrics.RecordOverageCredited(ctx, org.PlanTier, req.Minutes)
	s.logger(ctx).Info("overage credited",
		zap.String("org_id", orgID.String()),
		zap.Float64("minutes", req.Minutes),
	)

	purchased := org.PurchasedOverageMinutes + req.Minutes
	if fresh, err := s.repo.FindOrganization(ctx, orgID); err == nil && fresh != nil {
		purchased = fresh.PurchasedOverageMinutes
	}
	return usagedomain.AddOverageResult{
		Credited:                true,
		Minutes:                 req.Minutes,
		PurchasedOverageMinutes: purchased,
		EventID:                 event.ID.String(),
	}, nil
}

func (s *Service) duplicateOverage(ctx context.Context, orgID snowflake.ID, txnID string) (usagedomain.AddOverageResult, error) {
	existing, err := s.repo.FindOverageTransaction(ctx, orgID, txnID)
	if err != nil {
		return usagedomain.AddOverageResult{}, fmt.Errorf("%w: %v", usagedomain.ErrLedgerUnavailable, err)
	}
	org, err := s.loadOrganization(ctx, orgID)
	if err != nil {
		return usagedomain.AddOverageResult{}, err
	}

	result := usagedomain.AddOverageResult{
		Duplicate:               true,
		PurchasedOverageMinutes: org.PurchasedOverageMinutes,
	}
	if existing != nil {
		result.Minutes = existing.Minutes
		result.EventID = existing.UsageEventID.String()
	}
	return result, nil
}
