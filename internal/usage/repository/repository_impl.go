package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	orgdomain "github.com/smallbiznis/callquota/internal/organization/domain"
	"github.com/smallbiznis/callquota/internal/usage/domain"
	"github.com/smallbiznis/callquota/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) FindOrganization(ctx context.Context, id snowflake.ID) (*orgdomain.Organization, error) {
	var org orgdomain.Organization
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&org).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &org, nil
}

func (r *repository) LockOrganization(ctx context.Context, id snowflake.ID) (*orgdomain.Organization, error) {
	q := r.db.WithContext(ctx)
	if db.SupportsRowLocks(r.db) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var org orgdomain.Organization
	err := q.Where("id = ?", id).First(&org).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &org, nil
}

func (r *repository) SumConsumed(ctx context.Context, orgID snowflake.ID, period domain.Period) (domain.LedgerUsage, error) {
	var total float64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(value), 0)
		 FROM usage_events
		 WHERE org_id = ? AND event_type IN ? AND recorded_at >= ? AND recorded_at < ?`,
		orgID,
		domain.ConsumptionEventTypes,
		period.Start.UTC(),
		period.End.UTC(),
	).Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrLedgerUnavailable, err)
	}
	return domain.LedgerUsage(total), nil
}

func (r *repository) Reserve(ctx context.Context, orgID snowflake.ID, minutes float64, periodStart time.Time, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE organizations
		 SET used_minutes = used_minutes + ?, version = version + 1, updated_at = ?
		 WHERE id = ?
		   AND period_start = ?
		   AND archived_at IS NULL
		   AND used_minutes + ? <= base_allocation_minutes + purchased_overage_minutes + ?`,
		minutes,
		now,
		orgID,
		periodStart.UTC(),
		minutes,
		domain.ReserveTolerance,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) IncrementUsed(ctx context.Context, orgID snowflake.ID, minutes float64, periodStart time.Time, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE organizations
		 SET used_minutes = used_minutes + ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND period_start = ?`,
		minutes,
		now,
		orgID,
		periodStart.UTC(),
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) SetUsed(ctx context.Context, orgID snowflake.ID, used domain.LedgerUsage, expectedVersion int64, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE organizations
		 SET used_minutes = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		float64(used),
		now,
		orgID,
		expectedVersion,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) StartPeriod(ctx context.Context, orgID snowflake.ID, period domain.Period, now time.Time) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE organizations
		 SET period_start = ?, period_end = ?, used_minutes = 0, version = version + 1, updated_at = ?
		 WHERE id = ?`,
		period.Start.UTC(),
		period.End.UTC(),
		now,
		orgID,
	).Error
}

func (r *repository) CreditOverage(ctx context.Context, orgID snowflake.ID, minutes float64, now time.Time) error {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE organizations
		 SET purchased_overage_minutes = purchased_overage_minutes + ?, updated_at = ?
		 WHERE id = ?`,
		minutes,
		now,
		orgID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrOrganizationNotFound
	}
	return nil
}

// InsertEvent appends to the ledger. A conflicting idempotency key reports false.
func (r *repository) InsertEvent(ctx context.Context, event domain.UsageEvent) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "org_id"}, {Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(&event)
	if res.Error != nil {
		if db.IsDuplicateKeyErr(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) FindEventByIdempotencyKey(ctx context.Context, orgID snowflake.ID, key string) (*domain.UsageEvent, error) {
	if key == "" {
		return nil, nil
	}
	var event domain.UsageEvent
	err := r.db.WithContext(ctx).
		Where("org_id = ? AND idempotency_key = ?", orgID, key).
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

func (r *repository) ListEvents(ctx context.Context, filter domain.EventFilter) ([]domain.UsageEvent, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	q := r.db.WithContext(ctx).Model(&domain.UsageEvent{}).Where("org_id = ?", filter.OrgID)
	if filter.EventType != "" {
		q = q.Where("event_type = ?", filter.EventType)
	}
	if filter.Start != nil {
		q = q.Where("recorded_at >= ?", filter.Start.UTC())
	}
	if filter.End != nil {
		q = q.Where("recorded_at < ?", filter.End.UTC())
	}
	if filter.AfterTime != nil {
		after := filter.AfterTime.UTC()
		q = q.Where("(recorded_at > ? OR (recorded_at = ? AND id > ?))", after, after, filter.AfterID)
	}

	var events []domain.UsageEvent
	if err := q.Order("recorded_at ASC").Order("id ASC").Limit(limit).Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repository) InsertOverageTransaction(ctx context.Context, txn domain.OverageTransaction) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "org_id"}, {Name: "transaction_id"}},
			DoNothing: true,
		}).
		Create(&txn)
	if res.Error != nil {
		if db.IsDuplicateKeyErr(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) FindOverageTransaction(ctx context.Context, orgID snowflake.ID, transactionID string) (*domain.OverageTransaction, error) {
	var txn domain.OverageTransaction
	err := r.db.WithContext(ctx).
		Where("org_id = ? AND transaction_id = ?", orgID, transactionID).
		First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}
