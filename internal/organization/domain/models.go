// Package domain contains persistence models for accounts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Organization is a billing tenant. UsedMinutes is a cached counter derived
// from the usage ledger and is never authoritative on its own.
type Organization struct {
	ID                      snowflake.ID      `gorm:"primaryKey" json:"id"`
	Name                    string            `gorm:"type:text;not null" json:"name"`
	Slug                    string            `gorm:"type:text;not null;uniqueIndex:ux_organizations_slug" json:"slug"`
	PlanTier                string            `gorm:"type:text;not null" json:"plan_tier"`
	BaseAllocationMinutes   float64           `gorm:"not null;default:0" json:"base_allocation_minutes"`
	PurchasedOverageMinutes float64           `gorm:"not null;default:0" json:"purchased_overage_minutes"`
	UsedMinutes             float64           `gorm:"not null;default:0" json:"used_minutes"`
	PeriodStart             *time.Time        `json:"period_start,omitempty"`
	PeriodEnd               *time.Time        `json:"period_end,omitempty"`
	Version                 int64             `gorm:"not null;default:0" json:"version"`
	ArchivedAt              *time.Time        `gorm:"index" json:"archived_at,omitempty"`
	Metadata                datatypes.JSONMap `json:"metadata"`
	CreatedAt               time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt               time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }

// HasPeriod reports whether billing period bounds have been initialized.
func (o Organization) HasPeriod() bool {
	return o.PeriodStart != nil && o.PeriodEnd != nil
}

// TotalAvailable is the base allocation plus carried-over overage.
func (o Organization) TotalAvailable() float64 {
	return o.BaseAllocationMinutes + o.PurchasedOverageMinutes
}

func (o Organization) IsArchived() bool {
	return o.ArchivedAt != nil
}
