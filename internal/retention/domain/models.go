// Package domain holds the retention sweep contract and the customer content
// tables it prunes. The usage ledger is never a retention target.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	TableCalls        = "calls"
	TableTranscripts  = "transcripts"
	TableUsageMetrics = "usage_metrics"
)

// Targets lists the tables the sweep touches, in the order they are processed.
var Targets = []string{TableTranscripts, TableCalls, TableUsageMetrics}

type Call struct {
	ID              snowflake.ID `gorm:"primaryKey"`
	OrgID           snowflake.ID `gorm:"not null;index:idx_calls_org_created,priority:1"`
	Title           string       `gorm:"type:text;not null;default:''"`
	CallerNumber    string       `gorm:"type:text;not null;default:''"`
	DurationMinutes float64      `gorm:"not null;default:0"`
	CreatedAt       time.Time    `gorm:"not null;index:idx_calls_org_created,priority:2"`
	DeletedAt       *time.Time
	AnonymizedAt    *time.Time
}

func (Call) TableName() string { return TableCalls }

type Transcript struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	OrgID        snowflake.ID `gorm:"not null;index:idx_transcripts_org_created,priority:1"`
	CallID       snowflake.ID `gorm:"not null"`
	Content      string       `gorm:"type:text;not null;default:''"`
	CreatedAt    time.Time    `gorm:"not null;index:idx_transcripts_org_created,priority:2"`
	DeletedAt    *time.Time
	AnonymizedAt *time.Time
}

func (Transcript) TableName() string { return TableTranscripts }

type UsageMetric struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	OrgID        snowflake.ID `gorm:"not null;index:idx_usage_metrics_org_created,priority:1"`
	Name         string       `gorm:"type:text;not null"`
	Value        float64      `gorm:"not null;default:0"`
	Metadata     datatypes.JSONMap
	CreatedAt    time.Time `gorm:"not null;index:idx_usage_metrics_org_created,priority:2"`
	DeletedAt    *time.Time
	AnonymizedAt *time.Time
}

func (UsageMetric) TableName() string { return TableUsageMetrics }
