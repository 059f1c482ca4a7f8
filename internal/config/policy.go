package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	RetentionModeSoftDelete = "soft_delete"
	RetentionModeAnonymize  = "anonymize"
	RetentionModeHardDelete = "hard_delete"
)

// PlanPolicy is the monthly allocation granted by a plan tier.
type PlanPolicy struct {
	Tier                  string  `mapstructure:"tier"`
	BaseAllocationMinutes float64 `mapstructure:"baseAllocationMinutes"`
}

// RetentionPolicy describes how long call data is kept for a plan tier.
type RetentionPolicy struct {
	Tier       string `mapstructure:"tier"`
	WindowDays int    `mapstructure:"windowDays"`
	Mode       string `mapstructure:"mode"`
}

// Thresholds are advisory high-water marks, expressed as fractions of the total allocation.
type Thresholds struct {
	Warning  float64 `mapstructure:"warning"`
	Critical float64 `mapstructure:"critical"`
}

type PolicyConfig struct {
	DefaultTier string            `mapstructure:"defaultTier"`
	Plans       []PlanPolicy      `mapstructure:"plans"`
	Retention   []RetentionPolicy `mapstructure:"retention"`
	Thresholds  Thresholds        `mapstructure:"thresholds"`
}

func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		DefaultTier: "free",
		Plans: []PlanPolicy{
			{Tier: "free", BaseAllocationMinutes: 30},
			{Tier: "starter", BaseAllocationMinutes: 300},
			{Tier: "pro", BaseAllocationMinutes: 1500},
			{Tier: "enterprise", BaseAllocationMinutes: 10000},
		},
		Retention: []RetentionPolicy{
			{Tier: "free", WindowDays: 30, Mode: RetentionModeHardDelete},
			{Tier: "starter", WindowDays: 90, Mode: RetentionModeSoftDelete},
			{Tier: "pro", WindowDays: 365, Mode: RetentionModeAnonymize},
			{Tier: "enterprise", WindowDays: 730, Mode: RetentionModeAnonymize},
		},
		Thresholds: Thresholds{Warning: 0.8, Critical: 0.9},
	}
}

// Plan returns the policy configured for tier.
func (c PolicyConfig) Plan(tier string) (PlanPolicy, bool) {
	tier = normalizeTier(tier)
	for _, plan := range c.Plans {
		if normalizeTier(plan.Tier) == tier {
			return plan, true
		}
	}
	return PlanPolicy{}, false
}

// RetentionFor returns the retention rule for tier.
func (c PolicyConfig) RetentionFor(tier string) (RetentionPolicy, bool) {
	tier = normalizeTier(tier)
	for _, policy := range c.Retention {
		if normalizeTier(policy.Tier) == tier {
			return policy, true
		}
	}
	return RetentionPolicy{}, false
}

func normalizeTier(tier string) string {
	return strings.ToLower(strings.TrimSpace(tier))
}

// PolicyHolder serves the current PolicyConfig and swaps it on file changes.
type PolicyHolder struct {
	current atomic.Value // holds PolicyConfig
}

// NewStaticPolicyHolder wraps a fixed config; used by tests and CLI commands.
func NewStaticPolicyHolder(cfg PolicyConfig) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewPolicyHolder(appCfg Config, log *zap.Logger) (*PolicyHolder, error) {
	v := viper.New()

	if appCfg.PolicyFile != "" {
		v.SetConfigFile(appCfg.PolicyFile)
	} else {
		v.SetConfigName("policies")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/callquota")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CALLQUOTA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPolicyConfig()
	v.SetDefault("policies.defaultTier", defaults.DefaultTier)
	v.SetDefault("policies.plans", defaults.Plans)
	v.SetDefault("policies.retention", defaults.Retention)
	v.SetDefault("policies.thresholds.warning", defaults.Thresholds.Warning)
	v.SetDefault("policies.thresholds.critical", defaults.Thresholds.Critical)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read policy file: %w", err)
		}
		fileLoaded = false
	}

	var cfg PolicyConfig
	if err := v.UnmarshalKey("policies", &cfg); err != nil {
		return nil, err
	}
	if err := validatePolicyConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticPolicyHolder(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PolicyConfig
		if err := v.UnmarshalKey("policies", &updated); err != nil {
			log.Warn("policy reload failed", zap.Error(err))
			return
		}
		if err := validatePolicyConfig(updated); err != nil {
			log.Warn("invalid policy config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("policy config reloaded", zap.String("file", filepath.Base(e.Name)))
	})

	return holder, nil
}

func (h *PolicyHolder) Get() PolicyConfig {
	return h.current.Load().(PolicyConfig)
}

func validatePolicyConfig(cfg PolicyConfig) error {
	if len(cfg.Plans) == 0 {
		return errors.New("policies.plans cannot be empty")
	}
	if _, ok := cfg.Plan(cfg.DefaultTier); !ok {
		return fmt.Errorf("policies.defaultTier %q has no plan", cfg.DefaultTier)
	}
	for _, plan := range cfg.Plans {
		if plan.BaseAllocationMinutes < 0 {
			return fmt.Errorf("plan %q has negative allocation", plan.Tier)
		}
	}
	for _, policy := range cfg.Retention {
		if policy.WindowDays <= 0 {
			return fmt.Errorf("retention for %q must have a positive window", policy.Tier)
		}
		switch policy.Mode {
		case RetentionModeSoftDelete, RetentionModeAnonymize, RetentionModeHardDelete:
		default:
			return fmt.Errorf("retention for %q has unknown mode %q", policy.Tier, policy.Mode)
		}
	}
	if cfg.Thresholds.Warning <= 0 || cfg.Thresholds.Critical <= 0 || cfg.Thresholds.Warning > cfg.Thresholds.Critical {
		return errors.New("policies.thresholds must satisfy 0 < warning <= critical")
	}
	return nil
}
