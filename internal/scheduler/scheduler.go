package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/callquota/internal/clock"
	obsmetrics "github.com/smallbiznis/callquota/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/callquota/internal/organization/domain"
	retentiondomain "github.com/smallbiznis/callquota/internal/retention/domain"
	usagedomain "github.com/smallbiznis/callquota/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobPeriodRollover = "period_rollover"
	JobReconcile      = "reconcile"
	JobRetentionSweep = "retention_sweep"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Accounts     orgdomain.Repository
	UsageSvc     usagedomain.Service
	RetentionSvc retentiondomain.Service `optional:"true"`
	Config       Config                  `optional:"true"`
}

type Scheduler struct {
	log          *zap.Logger
	cfg          Config
	genID        *snowflake.Node
	clock        clock.Clock
	accounts     orgdomain.Repository
	usageSvc     usagedomain.Service
	retentionSvc retentiondomain.Service

	mu            sync.Mutex
	lastRetention time.Time
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Accounts == nil || p.UsageSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:          p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:          p.Config.withDefaults(),
		genID:        p.GenID,
		clock:        p.Clock,
		accounts:     p.Accounts,
		usageSvc:     p.UsageSvc,
		retentionSvc: p.RetentionSvc,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if _, errs := run.counts(); err != nil && errs == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// a deadline is a soft failure; the next tick picks up the remainder
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.String("run_id", run.runID),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Timeout time.Duration
		Run     func(context.Context) error
	}{
		{JobPeriodRollover, s.cfg.JobTimeout, s.PeriodRolloverJob},
		{JobReconcile, s.cfg.JobTimeout, s.ReconcileJob},
		{JobRetentionSweep, s.cfg.RetentionTimeout, s.RetentionSweepJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.BatchSize, job.Timeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// an empty list enables every job
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}
