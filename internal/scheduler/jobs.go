package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v5"
	obsmetrics "github.com/smallbiznis/callquota/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/callquota/internal/organization/domain"
	retentiondomain "github.com/smallbiznis/callquota/internal/retention/domain"
	"github.com/smallbiznis/callquota/internal/scheduler/guard"
	usagedomain "github.com/smallbiznis/callquota/internal/usage/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const reconcileMaxTries = 3

// PeriodRolloverJob initializes or rolls the billing period of every active
// account whose period has ended.
func (s *Scheduler) PeriodRolloverJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobPeriodRollover, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	now := s.clock.Now()
	schedMetrics := obsmetrics.Scheduler()

	var afterID snowflake.ID
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		orgs, err := s.accounts.List(ctx, orgdomain.ListFilter{
			AfterID:         afterID,
			Limit:           s.cfg.BatchSize,
			PeriodEndBefore: &now,
		})
		if err != nil {
			return err
		}
		if len(orgs) == 0 {
			return nil
		}

		processed := 0
		for _, org := range orgs {
			afterID = org.ID
			if err := guard.EnsurePeriodDue(org.PeriodEnd, org.ArchivedAt, now); err != nil {
				continue
			}
			res, err := s.usageSvc.EnsureCurrentPeriod(withOrgContext(ctx, org.ID), org.ID.String())
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logAccountError(ctx, run, "scheduler.period_rollover.failed", org.ID, err)
				continue
			}
			processed++
			if res.Rolled {
				s.logger(withOrgContext(ctx, org.ID)).Info("billing period rolled",
					zap.String("org_id", org.ID.String()),
					zap.Time("period_start", res.Period.Start),
				)
			}
		}
		run.AddProcessed(processed)
		schedMetrics.AddBatchProcessed(JobPeriodRollover, "account", processed)

		if len(orgs) < s.cfg.BatchSize {
			return nil
		}
	}
}

// ReconcileJob compares every active account's counter with its ledger and
// repairs drift. Accounts in a batch are reconciled in parallel.
func (s *Scheduler) ReconcileJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobReconcile, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	schedMetrics := obsmetrics.Scheduler()

	var afterID snowflake.ID
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		orgs, err := s.accounts.List(ctx, orgdomain.ListFilter{
			AfterID: afterID,
			Limit:   s.cfg.BatchSize,
		})
		if err != nil {
			return err
		}
		if len(orgs) == 0 {
			return nil
		}
		afterID = orgs[len(orgs)-1].ID

		var (
			mu        sync.Mutex
			processed int
		)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.ReconcileParallel)
		for _, org := range orgs {
			g.Go(func() error {
				orgCtx := withOrgContext(gctx, org.ID)
				res, err := s.reconcileWithRetry(orgCtx, org.ID.String())
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					s.logAccountError(orgCtx, run, "scheduler.reconcile.failed", org.ID, err)
					return nil
				}
				if res.Corrected {
					s.logger(orgCtx).Info("usage counter corrected",
						zap.String("org_id", org.ID.String()),
						zap.Float64("cached", float64(res.Cached)),
						zap.Float64("ledger", float64(res.Ledger)),
					)
				}
				mu.Lock()
				processed++
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		run.AddProcessed(processed)
		schedMetrics.AddBatchProcessed(JobReconcile, "account", processed)

		if len(orgs) < s.cfg.BatchSize {
			return nil
		}
	}
}

func (s *Scheduler) reconcileWithRetry(ctx context.Context, orgID string) (usagedomain.ReconcileResult, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 100 * time.Millisecond
	expo.MaxInterval = time.Second

	return backoff.Retry(ctx, func() (usagedomain.ReconcileResult, error) {
		res, err := s.usageSvc.Reconcile(ctx, usagedomain.ReconcileRequest{OrganizationID: orgID})
		if err != nil && !usagedomain.IsTransient(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	},
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(reconcileMaxTries),
	)
}

// RetentionSweepJob runs the retention cleanup at most once per
// RetentionInterval on this replica. The retention service holds the
// cross-replica lock.
func (s *Scheduler) RetentionSweepJob(ctx context.Context) error {
	if s.retentionSvc == nil {
		return nil
	}
	schedMetrics := obsmetrics.Scheduler()
	now := s.clock.Now()

	s.mu.Lock()
	last := s.lastRetention
	s.mu.Unlock()
	if err := guard.EnsureSweepDue(last, s.cfg.RetentionInterval, now); err != nil {
		schedMetrics.IncBatchDeferred(JobRetentionSweep, obsmetrics.SchedulerBatchDeferredReasonNotDue)
		return nil
	}

	ctx, run, owner := s.ensureJobRun(ctx, JobRetentionSweep, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	result, err := s.retentionSvc.RunRetentionCleanup(ctx)
	if errors.Is(err, retentiondomain.ErrSweepInProgress) {
		schedMetrics.IncBatchDeferred(JobRetentionSweep, obsmetrics.SchedulerBatchDeferredReasonLockHeld)
		return nil
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.lastRetention = now
	s.mu.Unlock()

	run.AddProcessed(result.Processed)
	for range result.Errors {
		run.IncError()
	}
	schedMetrics.AddBatchProcessed(JobRetentionSweep, "account", result.Processed)
	return nil
}
