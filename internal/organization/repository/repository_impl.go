package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/callquota/internal/organization/domain"
	"gorm.io/gorm"
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

func (r *repository) CreateOrganization(ctx context.Context, org domain.Organization) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO organizations (
			id, name, slug, plan_tier, base_allocation_minutes, purchased_overage_minutes,
			used_minutes, version, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, 0, 0, 0, ?, ?, ?)`,
		org.ID,
		org.Name,
		org.Slug,
		org.PlanTier,
		org.BaseAllocationMinutes,
		org.Metadata,
		org.CreatedAt,
		org.UpdatedAt,
	).Error
}

func (r *repository) FindByID(ctx context.Context, id snowflake.ID) (*domain.Organization, error) {
	var org domain.Organization
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&org).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &org, nil
}

func (r *repository) List(ctx context.Context, filter domain.ListFilter) ([]domain.Organization, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	q := r.db.WithContext(ctx).Model(&domain.Organization{})
	if filter.AfterID != 0 {
		q = q.Where("id > ?", filter.AfterID)
	}
	if filter.PlanTier != "" {
		q = q.Where("plan_tier = ?", filter.PlanTier)
	}
	if !filter.IncludeArchived {
		q = q.Where("archived_at IS NULL")
	}
	if filter.PeriodEndBefore != nil {
		q = q.Where("(period_end IS NULL OR period_end <= ?)", *filter.PeriodEndBefore)
	}

	var orgs []domain.Organization
	if err := q.Order("id ASC").Limit(limit).Find(&orgs).Error; err != nil {
		return nil, err
	}
	return orgs, nil
}

func (r *repository) UpdatePlan(ctx context.Context, id snowflake.ID, planTier string, baseAllocation float64, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE organizations
		 SET plan_tier = ?, base_allocation_minutes = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND archived_at IS NULL`,
		planTier,
		baseAllocation,
		now,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Archive(ctx context.Context, id snowflake.ID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE organizations SET archived_at = ?, updated_at = ? WHERE id = ? AND archived_at IS NULL`,
		now,
		now,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
