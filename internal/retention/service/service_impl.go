package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v5"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/callquota/internal/clock"
	"github.com/smallbiznis/callquota/internal/config"
	obsmetrics "github.com/smallbiznis/callquota/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/callquota/internal/organization/domain"
	"github.com/smallbiznis/callquota/internal/ratelimit"
	"github.com/smallbiznis/callquota/internal/retention/domain"
	"github.com/smallbiznis/callquota/pkg/db"
	"github.com/smallbiznis/callquota/pkg/log/ctxlogger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	sweepLockKey      = "callquota:lock:retention_sweep"
	defaultBatchSize  = 100
	defaultLockTTL    = 15 * time.Minute
	maxAccountRetries = 3
)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Repo     domain.Repository
	Clock    clock.Clock
	Policies *config.PolicyHolder
	Config   config.Config
	Locker   *ratelimit.Locker   `optional:"true"`
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     domain.Repository
	clock    clock.Clock
	policies *config.PolicyHolder
	locker   *ratelimit.Locker
	metrics  *obsmetrics.Metrics

	batchSize    int
	lockTTL      time.Duration
	retryBackoff func() backoff.BackOff
}

func NewService(p ServiceParam) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	batch := p.Config.Scheduler.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	lockTTL := p.Config.RateLimit.SweepLockTTL
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("retention.service"),
		repo:     p.Repo,
		clock:    clk,
		policies: p.Policies,
		locker:   p.Locker,
		metrics:  p.Metrics,

		batchSize: batch,
		lockTTL:   lockTTL,
		retryBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
}

func (s *Service) RunRetentionCleanup(ctx context.Context) (domain.CleanupResult, error) {
	result := domain.CleanupResult{
		RunID:     ulid.Make().String(),
		StartedAt: s.clock.Now(),
		Errors:    []domain.AccountError{},
		Accounts:  []domain.AccountResult{},
	}
	log := ctxlogger.WithContext(ctx, s.log).With(zap.String("run_id", result.RunID))

	err := s.locker.WithLock(ctx, sweepLockKey, s.lockTTL, func(ctx context.Context) error {
		return s.sweep(ctx, log, &result)
	})
	result.FinishedAt = s.clock.Now()
	if errors.Is(err, ratelimit.ErrLockHeld) {
		log.Info("retention sweep already running elsewhere")
		return result, domain.ErrSweepInProgress
	}
	if err != nil {
		return result, err
	}

	log.Info("retention sweep finished",
		zap.Int("processed", result.Processed),
		zap.Int("errors", len(result.Errors)),
		zap.Duration("duration", result.FinishedAt.Sub(result.StartedAt)),
	)
	return result, nil
}

func (s *Service) sweep(ctx context.Context, log *zap.Logger, result *domain.CleanupResult) error {
	now := s.clock.Now()
	var afterID snowflake.ID
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		orgs, err := s.repo.ListAccounts(ctx, afterID, s.batchSize)
		if err != nil {
			return fmt.Errorf("list accounts: %w", err)
		}
		if len(orgs) == 0 {
			return nil
		}

		for i := range orgs {
			org := orgs[i]
			afterID = org.ID

			account, err := s.cleanupWithRetry(ctx, org, now)
			result.Processed++
			if err != nil {
				log.Warn("retention cleanup failed for account",
					zap.String("org_id", org.ID.String()),
					zap.Error(err),
				)
				result.Errors = append(result.Errors, domain.AccountError{
					OrganizationID: org.ID.String(),
					Error:          err.Error(),
				})
				continue
			}
			result.Accounts = append(result.Accounts, account)
		}

		if len(orgs) < s.batchSize {
			return nil
		}
	}
}

func (s *Service) CleanupAccount(ctx context.Context, organizationID string) (domain.AccountResult, error) {
	orgID, err := snowflake.ParseString(strings.TrimSpace(organizationID))
	if err != nil || orgID <= 0 {
		return domain.AccountResult{}, domain.ErrInvalidOrganization
	}
	org, err := s.repo.FindAccount(ctx, orgID)
	if err != nil {
		return domain.AccountResult{}, err
	}
	if org == nil {
		return domain.AccountResult{}, domain.ErrOrganizationNotFound
	}
	return s.cleanupWithRetry(ctx, *org, s.clock.Now())
}

// cleanupWithRetry retries transient database failures. Policy and validation
// errors are permanent.
func (s *Service) cleanupWithRetry(ctx context.Context, org orgdomain.Organization, now time.Time) (domain.AccountResult, error) {
	return backoff.Retry(ctx, func() (domain.AccountResult, error) {
		account, err := s.cleanupAccount(ctx, org, now)
		if err != nil && !db.IsTransientErr(err) {
			return account, backoff.Permanent(err)
		}
		return account, err
	},
		backoff.WithBackOff(s.retryBackoff()),
		backoff.WithMaxTries(maxAccountRetries),
	)
}

func (s *Service) cleanupAccount(ctx context.Context, org orgdomain.Organization, now time.Time) (domain.AccountResult, error) {
	policy, ok := s.policies.Get().RetentionFor(org.PlanTier)
	if !ok {
		return domain.AccountResult{}, fmt.Errorf("%w: tier %q", domain.ErrNoPolicy, org.PlanTier)
	}

	account := domain.AccountResult{
		OrganizationID: org.ID.String(),
		PlanTier:       org.PlanTier,
		Cutoff:         now.AddDate(0, 0, -policy.WindowDays),
		Mode:           policy.Mode,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		for _, table := range domain.Targets {
			rows, err := repo.Apply(ctx, table, org.ID, account.Cutoff, policy.Mode, now)
			if err != nil {
				return fmt.Errorf("%s: %w", table, err)
			}
			switch table {
			case domain.TableCalls:
				account.Calls = rows
			case domain.TableTranscripts:
				account.Transcripts = rows
			case domain.TableUsageMetrics:
				account.Metrics = rows
			}
		}
		return nil
	})
	if err != nil {
		return domain.AccountResult{}, err
	}

	s.metrics.RecordRetentionRows(ctx, domain.TableCalls, policy.Mode, account.Calls)
	s.metrics.RecordRetentionRows(ctx, domain.TableTranscripts, policy.Mode, account.Transcripts)
	s.metrics.RecordRetentionRows(ctx, domain.TableUsageMetrics, policy.Mode, account.Metrics)
	if account.Total() > 0 {
		s.log.Info("retention applied",
			zap.String("org_id", account.OrganizationID),
			zap.String("mode", account.Mode),
			zap.Time("cutoff", account.Cutoff),
			zap.Int64("calls", account.Calls),
			zap.Int64("transcripts", account.Transcripts),
			zap.Int64("metrics", account.Metrics),
		)
	}
	return account, nil
}
