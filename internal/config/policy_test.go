package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultPolicyConfigIsValid(t *testing.T) {
	cfg := DefaultPolicyConfig()
	require.NoError(t, validatePolicyConfig(cfg))

	plan, ok := cfg.Plan(" FREE ")
	require.True(t, ok)
	assert.Equal(t, 30.0, plan.BaseAllocationMinutes)

	retention, ok := cfg.RetentionFor("pro")
	require.True(t, ok)
	assert.Equal(t, RetentionModeAnonymize, retention.Mode)
}

func TestNewPolicyHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.yml")
	content := `policies:
  defaultTier: basic
  plans:
    - tier: basic
      baseAllocationMinutes: 60
  retention:
    - tier: basic
      windowDays: 14
      mode: soft_delete
  thresholds:
    warning: 0.7
    critical: 0.95
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	holder, err := NewPolicyHolder(Config{PolicyFile: path}, zap.NewNop())
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, "basic", cfg.DefaultTier)
	plan, ok := cfg.Plan("basic")
	require.True(t, ok)
	assert.Equal(t, 60.0, plan.BaseAllocationMinutes)
	assert.Equal(t, 0.7, cfg.Thresholds.Warning)
	retention, ok := cfg.RetentionFor("basic")
	require.True(t, ok)
	assert.Equal(t, 14, retention.WindowDays)
}

func TestValidatePolicyConfigRejectsUnknownMode(t *testing.T) {
	cfg := DefaultPolicyConfig()
	cfg.Retention = append(cfg.Retention, RetentionPolicy{Tier: "x", WindowDays: 1, Mode: "shred"})
	assert.Error(t, validatePolicyConfig(cfg))
}

func TestValidatePolicyConfigRejectsInvertedThresholds(t *testing.T) {
	cfg := DefaultPolicyConfig()
	cfg.Thresholds = Thresholds{Warning: 0.95, Critical: 0.9}
	assert.Error(t, validatePolicyConfig(cfg))
}
