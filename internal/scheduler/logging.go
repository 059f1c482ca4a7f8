package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	obsmetrics "github.com/smallbiznis/callquota/internal/observability/metrics"
	"github.com/smallbiznis/callquota/pkg/log/ctxlogger"
	"github.com/smallbiznis/callquota/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

// jobRun accumulates counters for one job invocation. The reconcile job
// updates it from several goroutines.
type jobRun struct {
	mu             sync.Mutex
	job            string
	runID          string
	batchSize      int
	startedAt      time.Time
	processedCount int
	errorCount     int
}

type jobRunKey struct{}

func (r *jobRun) AddProcessed(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.mu.Lock()
	r.processedCount += count
	r.mu.Unlock()
}

func (r *jobRun) IncError() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.errorCount++
	r.mu.Unlock()
}

func (r *jobRun) counts() (processed, errs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processedCount, r.errorCount
}

func (s *Scheduler) ensureJobRun(ctx context.Context, job string, batchSize int) (context.Context, *jobRun, bool) {
	if existing := jobRunFromContext(ctx); existing != nil {
		return ctx, existing, false
	}
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		batchSize: batchSize,
		startedAt: s.clock.Now(),
	}
	ctx = context.WithValue(ctx, jobRunKey{}, run)
	ctx, _ = correlation.EnsureCorrelationID(ctx)
	return ctx, run, true
}

func jobRunFromContext(ctx context.Context) *jobRun {
	if run, ok := ctx.Value(jobRunKey{}).(*jobRun); ok {
		return run
	}
	return nil
}

func withOrgContext(ctx context.Context, orgID snowflake.ID) context.Context {
	if orgID == 0 {
		return ctx
	}
	return correlation.ContextWithOrgID(ctx, orgID.String())
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return ctxlogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	s.logger(ctx).Info("scheduler.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int("batch_size", run.batchSize),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	processed, errs := run.counts()
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
		zap.Int("processed_count", processed),
		zap.Int("error_count", errs),
	}
	if errs > 0 {
		s.logger(ctx).Warn("scheduler.job.finish", fields...)
		return
	}
	s.logger(ctx).Info("scheduler.job.finish", fields...)
}

func (s *Scheduler) logAccountError(ctx context.Context, run *jobRun, msg string, orgID snowflake.ID, err error) {
	if err == nil {
		return
	}
	run.IncError()
	ctx = withOrgContext(ctx, orgID)
	s.logger(ctx).Error(msg,
		zap.String("job", run.job),
		zap.String("org_id", idString(orgID)),
		zap.String("reason", obsmetrics.ClassifySchedulerJobReason(err)),
		zap.Bool("retryable", obsmetrics.IsSchedulerErrorRetryable(err)),
		zap.Error(err),
	)
}

func idString(id snowflake.ID) string {
	if id == 0 {
		return ""
	}
	return id.String()
}
