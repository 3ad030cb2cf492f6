// Package scheduler runs periodic background jobs. Document statuses are
// derived on read, so jobs here only observe the ledger and never move balances.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payables/internal/clock"
	"github.com/smallbiznis/payables/internal/lock"
	obsmetrics "github.com/smallbiznis/payables/internal/observability/metrics"
	docdomain "github.com/smallbiznis/payables/internal/supplierdocument/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const JobAlertScan = "alert_scan"

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	DocumentSvc docdomain.Service
	Config      Config                      `optional:"true"`
	Locker      lock.Locker                 `optional:"true"`
	Metrics     *obsmetrics.SchedulerMetrics `optional:"true"`
}

type Scheduler struct {
	log         *zap.Logger
	cfg         Config
	genID       *snowflake.Node
	clock       clock.Clock
	documentSvc docdomain.Service
	locker      lock.Locker
	metrics     *obsmetrics.SchedulerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.DocumentSvc == nil {
		return nil, ErrInvalidConfig
	}
	locker := p.Locker
	if locker == nil {
		locker = lock.NewNoopLocker()
	}
	return &Scheduler{
		log:         p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:         p.Config.withDefaults(),
		genID:       p.GenID,
		clock:       p.Clock,
		documentSvc: p.DocumentSvc,
		locker:      locker,
		metrics:     p.Metrics,
	}, nil
}

// runJob runs fn under a deadline on at most one instance. A deadline hit is
// counted and logged but not returned, so the loop keeps its cadence.
func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run := s.newJobRun(ctx, name)
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)

	release, err := s.locker.ObtainAll(ctx, lock.JobKey(name))
	if err != nil {
		if errors.Is(err, lock.ErrNotObtained) {
			s.metrics.IncJobSkipped(name)
			log.Debug("job held by another instance")
			return nil
		}
		s.metrics.IncJobError(name, err)
		return err
	}
	defer release(context.Background())

	s.logJobStart(ctx, run)
	s.metrics.IncJobRun(name)

	err = fn(ctx)
	s.metrics.ObserveJobDuration(name, time.Since(start))
	run.failed = err != nil
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	s.metrics.IncJobError(name, err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.metrics.IncJobTimeout(name)
		log.Warn("job timed out", zap.Duration("timeout", timeout), zap.Error(err))
		return nil
	}
	return err
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	return s.runJob(parent, JobAlertScan, s.cfg.JobTimeout, s.AlertScanJob)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now()

	for {
		s.metrics.ObserveRunLoopLag(time.Since(nextRun))
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

// AlertScanJob publishes how many fiscal documents are due soon or overdue.
func (s *Scheduler) AlertScanJob(ctx context.Context) error {
	counts, err := s.documentSvc.CountAlerts(ctx, docdomain.CountAlertsRequest{})
	if err != nil {
		return err
	}
	s.metrics.SetAlertCounts(counts.DueSoon, counts.Overdue)

	if counts.Overdue > 0 {
		s.logger(ctx).Info("overdue supplier documents",
			zap.Int("overdue", counts.Overdue),
			zap.Int("due_soon", counts.DueSoon),
			zap.Time("as_of", s.clock.Now().UTC()),
		)
	}
	return nil
}
