package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/callquota/internal/config"
	orgdomain "github.com/smallbiznis/callquota/internal/organization/domain"
	"github.com/smallbiznis/callquota/internal/retention/domain"
	"gorm.io/gorm"
)

// anonymizeColumns clears the personal fields of each target table.
var anonymizeColumns = map[string]string{
	domain.TableCalls:        "title = '', caller_number = ''",
	domain.TableTranscripts:  "content = ''",
	domain.TableUsageMetrics: "metadata = NULL",
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) ListAccounts(ctx context.Context, afterID snowflake.ID, limit int) ([]orgdomain.Organization, error) {
	if limit <= 0 {
		limit = 100
	}
	var orgs []orgdomain.Organization
	err := r.db.WithContext(ctx).
		Where("id > ? AND archived_at IS NULL", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&orgs).Error
	if err != nil {
		return nil, err
	}
	return orgs, nil
}

func (r *repository) FindAccount(ctx context.Context, id snowflake.ID) (*orgdomain.Organization, error) {
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

func (r *repository) Apply(ctx context.Context, table string, orgID snowflake.ID, cutoff time.Time, mode string, now time.Time) (int64, error) {
	anonymize, ok := anonymizeColumns[table]
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrUnknownTable, table)
	}

	var res *gorm.DB
	q := r.db.WithContext(ctx)
	switch mode {
	case config.RetentionModeHardDelete:
		res = q.Exec(
			fmt.Sprintf(`DELETE FROM %s WHERE org_id = ? AND created_at < ?`, table),
			orgID, cutoff,
		)
	case config.RetentionModeSoftDelete:
		res = q.Exec(
			fmt.Sprintf(`UPDATE %s SET deleted_at = ? WHERE org_id = ? AND created_at < ? AND deleted_at IS NULL`, table),
			now, orgID, cutoff,
		)
	case config.RetentionModeAnonymize:
		res = q.Exec(
			fmt.Sprintf(`UPDATE %s SET %s, anonymized_at = ? WHERE org_id = ? AND created_at < ? AND anonymized_at IS NULL`, table, anonymize),
			now, orgID, cutoff,
		)
	default:
		return 0, fmt.Errorf("%w: %s", domain.ErrUnknownMode, mode)
	}
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
