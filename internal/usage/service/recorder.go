package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	orgdomain "github.com/smallbiznis/callquota/internal/organization/domain"
	usagedomain "github.com/smallbiznis/callquota/internal/usage/domain"
	"github.com/smallbiznis/callquota/pkg/telemetry/correlation"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// maxFutureSkew bounds how far ahead of the server clock recorded_at may be.
const maxFutureSkew = 5 * time.Minute

var (
	errReservationDenied = errors.New("reservation_denied")
	errDuplicateEvent    = errors.New("duplicate_event")
)

func (s *Service) RecordUsage(ctx context.Context, req usagedomain.RecordUsageRequest) (usagedomain.RecordUsageResult, error) {
	if !validMinutes(req.Minutes) {
		return usagedomain.RecordUsageResult{}, usagedomain.ErrInvalidMinutes
	}
	orgID, err := parseOrgID(req.OrganizationID)
	if err != nil {
		return usagedomain.RecordUsageResult{}, err
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if len(key) > maxKeyLength || usagedomain.IsReservedKey(key) {
		return usagedomain.RecordUsageResult{}, usagedomain.ErrInvalidIdempotencyKey
	}

	if existing, err := s.findExisting(ctx, orgID, key); err != nil || existing != nil {
		return existing.orEmpty(), err
	}

	org, period, err := s.ensurePeriod(ctx, orgID)
	if err != nil {
		return usagedomain.RecordUsageResult{}, err
	}
	if org.IsArchived() {
		return usagedomain.RecordUsageResult{}, usagedomain.ErrOrganizationArchived
	}

	now := s.clock.Now()
	recordedAt := req.RecordedAt.UTC()
	if req.RecordedAt.IsZero() {
		recordedAt = now
	}
	if recordedAt.After(now.Add(maxFutureSkew)) {
		return usagedomain.RecordUsageResult{}, usagedomain.ErrInvalidRecordedAt
	}

	event := usagedomain.UsageEvent{
		ID:         s.genID.Generate(),
		OrgID:      orgID,
		ActorID:    strings.TrimSpace(req.ActorID),
		EventType:  usagedomain.EventMinutesConsumed,
		Value:      req.Minutes,
		RecordedAt: recordedAt,
		Metadata:   datatypes.JSONMap(correlation.StampMetadata(ctx, copyMetadata(req.Metadata))),
		CreatedAt:  now,
	}
	if key != "" {
		event.IdempotencyKey = &key
	}

	var result usagedomain.RecordUsageResult
	if isRetroactive(req.Metadata) {
		result, err = s.recordRetroactive(ctx, org, period.Period, event)
	} else {
		if !period.Period.Contains(recordedAt) {
			return usagedomain.RecordUsageResult{}, usagedomain.ErrInvalidRecordedAt
		}
		result, err = s.recordLive(ctx, org, period.Period, event)
	}
	if err != nil {
		return result, err
	}
	if result.Duplicate {
		return result, nil
	}

	s.invalidate(orgID)
	s.metrics.RecordUsage(ctx, org.PlanTier, result.Event.EventType, result.Event.Value)
	s.logger(ctx).Debug("usage recorded",
		zap.String("org_id", orgID.String()),
		zap.String("event_id", result.Event.ID.String()),
		zap.String("event_type", result.Event.EventType),
		zap.Float64("minutes", result.Event.Value),
		zap.Bool("retroactive", result.Retroactive),
	)
	return result, nil
}

// recordLive reserves the minutes and appends the ledger row in one
// transaction. When the ledger shows room for a failed reservation, the
// account is reloaded and the reservation retried once.
func (s *Service) recordLive(ctx context.Context, org *orgdomain.Organization, period usagedomain.Period, event usagedomain.UsageEvent) (usagedomain.RecordUsageResult, error) {
	for attempt := 0; ; attempt++ {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)

			reserved, err := repo.Reserve(ctx, org.ID, event.Value, period.Start, event.CreatedAt)
			if err != nil {
				return err
			}
			if !reserved {
				return errReservationDenied
			}

			inserted, err := repo.InsertEvent(ctx, event)
			if err != nil {
				return err
			}
			if !inserted {
				return errDuplicateEvent
			}
			return nil
		})

		switch {
		case err == nil:
			return usagedomain.RecordUsageResult{Event: event, CounterUpdated: true}, nil
		case errors.Is(err, errDuplicateEvent):
			existing, findErr := s.findExisting(ctx, org.ID, keyOf(event))
			if findErr != nil {
				return usagedomain.RecordUsageResult{}, findErr
			}
			return existing.orEmpty(), nil
		case errors.Is(err, errReservationDenied):
			d, derr := s.denial(ctx, org, event.Value)
			if derr != nil {
				return usagedomain.RecordUsageResult{}, derr
			}
			if !d.decision.Allowed {
				return usagedomain.RecordUsageResult{}, &usagedomain.QuotaExceededError{Decision: d.decision}
			}
			if attempt > 0 {
				return usagedomain.RecordUsageResult{}, fmt.Errorf("%w: reservation failed with quota available", usagedomain.ErrUsageUnavailable)
			}
			if !d.period.Contains(event.RecordedAt) {
				return usagedomain.RecordUsageResult{}, usagedomain.ErrInvalidRecordedAt
			}
			org, period = d.org, d.period
		default:
			return usagedomain.RecordUsageResult{}, fmt.Errorf("record usage: %w", err)
		}
	}
}

type denialResult struct {
	decision usagedomain.QuotaDecision
	org      *orgdomain.Organization
	period   usagedomain.Period
}

// denial evaluates a failed reservation against the ledger for the account's
// current period. An allowed decision means the failure was not about quota:
// the counter drifted, the period rolled, or a concurrent write won.
func (s *Service) denial(ctx context.Context, org *orgdomain.Organization, minutes float64) (denialResult, error) {
	result, current, err := s.reconcile(ctx, org.ID, false)
	if err != nil {
		return denialResult{}, err
	}
	if current.IsArchived() {
		return denialResult{}, usagedomain.ErrOrganizationArchived
	}

	decision := usagedomain.Decide(
		current.BaseAllocationMinutes,
		current.PurchasedOverageMinutes,
		result.Ledger,
		minutes,
		s.thresholds(),
	)
	if !decision.Allowed {
		s.metrics.RecordQuotaDecision(ctx, current.PlanTier, false, decision.Reason)
	}
	return denialResult{decision: decision, org: current, period: result.Period}, nil
}

// recordRetroactive appends a correction without consulting the quota. Only
// corrections inside the current period move the counter, and that update is
// best effort.
func (s *Service) recordRetroactive(ctx context.Context, org *orgdomain.Organization, period usagedomain.Period, event usagedomain.UsageEvent) (usagedomain.RecordUsageResult, error) {
	inCurrent := period.Contains(event.RecordedAt)
	if !inCurrent {
		event.EventType = usagedomain.EventUsageCorrected
	}

	inserted, err := s.repo.InsertEvent(ctx, event)
	if err != nil {
		return usagedomain.RecordUsageResult{}, fmt.Errorf("record correction: %w", err)
	}
	if !inserted {
		existing, err := s.findExisting(ctx, org.ID, keyOf(event))
		if err != nil {
			return usagedomain.RecordUsageResult{}, err
		}
		return existing.orEmpty(), nil
	}

	result := usagedomain.RecordUsageResult{Event: event, Retroactive: true}
	if !inCurrent {
		return result, nil
	}

	updated, err := s.repo.IncrementUsed(ctx, org.ID, event.Value, period.Start, event.CreatedAt)
	if err != nil {
		s.logger(ctx).Warn("retroactive counter update failed; reconciliation will repair it",
			zap.String("org_id", org.ID.String()),
			zap.String("event_id", event.ID.String()),
			zap.Error(err),
		)
		return result, nil
	}
	result.CounterUpdated = updated
	return result, nil
}

type existingEvent struct {
	event *usagedomain.UsageEvent
}

func (e *existingEvent) orEmpty() usagedomain.RecordUsageResult {
	if e == nil || e.event == nil {
		return usagedomain.RecordUsageResult{}
	}
	return usagedomain.RecordUsageResult{Event: *e.event, Duplicate: true}
}

func (s *Service) findExisting(ctx context.Context, orgID snowflake.ID, key string) (*existingEvent, error) {
	if key == "" {
		return nil, nil
	}
	event, err := s.repo.FindEventByIdempotencyKey(ctx, orgID, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", usagedomain.ErrLedgerUnavailable, err)
	}
	if event == nil {
		return nil, nil
	}
	return &existingEvent{event: event}, nil
}

func keyOf(event usagedomain.UsageEvent) string {
	if event.IdempotencyKey == nil {
		return ""
	}
	return *event.IdempotencyKey
}

func isRetroactive(meta map[string]any) bool {
	switch v := meta["retroactive_fix"].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "true")
	default:
		return false
	}
}

func copyMetadata(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta)+2)
	for k, v := range meta {
		out[k] = v
	}
	return out
}
