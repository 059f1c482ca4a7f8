package migration

import (
	"io/fs"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestRunCreatesSchemaOnSQLite(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, Run(db))
	// second run is a no-op
	require.NoError(t, Run(db))

	for _, table := range []string{
		"organizations", "usage_events", "overage_transactions",
		"calls", "transcripts", "usage_metrics",
	} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
	assert.True(t, db.Migrator().HasIndex("usage_events", "ux_usage_events_idempotency"))
	assert.True(t, db.Migrator().HasIndex("overage_transactions", "ux_overage_transactions_txn"))
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(embeddedMigrations, migrationsDir+"/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(embeddedMigrations, migrationsDir+"/*.down.sql")
	require.NoError(t, err)

	require.NotEmpty(t, ups)
	assert.Len(t, downs, len(ups))
}
