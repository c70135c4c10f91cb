package worker

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/tebi01/stock-market-e18-jobmaster/internal/entity"
	"github.com/tebi01/stock-market-e18-jobmaster/internal/service"
)

const (
	promoteBatch   = 100
	reconcileBatch = 100
)

type DelayedQueue interface {
	PromoteDue(ctx context.Context, topic string, limit int64) (int64, error)
	Stats(ctx context.Context, topic string) (service.QueueStats, error)
}

// Reconciler is implemented by service.JobService.
type Reconciler interface {
	RequeueStale(ctx context.Context, status entity.JobStatus, olderThan time.Duration, limit int) (int, error)
}

type SchedulerConfig struct {
	Topic         string
	PromoteSpec   string // e.g. "@every 1s"
	ReconcileSpec string
	// ReconcileAfter is how long a job may stay PENDING before it is
	// enqueued again.
	ReconcileAfter time.Duration
	// ReconcileProcessingAfter is how long a PROCESSING job may go without
	// an update before its message is considered lost. Must exceed the
	// longest expected run of a single attempt.
	ReconcileProcessingAfter time.Duration
}

// Scheduler runs the periodic queue maintenance: due retries go back onto
// the queue and jobs whose message was lost are enqueued again.
type Scheduler struct {
	cron       *cron.Cron
	queue      DelayedQueue
	reconciler Reconciler
	cfg        SchedulerConfig
	log        *zap.Logger
	wg         sync.WaitGroup
}

func NewScheduler(queue DelayedQueue, reconciler Reconciler, cfg SchedulerConfig, log *zap.Logger) *Scheduler {
	cl := cronLogger{log.Sugar()}
	return &Scheduler{
		cron:       cron.New(cron.WithLogger(cl), cron.WithChain(cron.SkipIfStillRunning(cl))),
		queue:      queue,
		reconciler: reconciler,
		cfg:        cfg,
		log:        log,
	}
}

// Start registers both tasks, starts the cron and runs one reconcile
// immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.PromoteSpec, func() { s.promote(ctx) }); err != nil {
		return errors.Wrapf(err, "cron.AddFunc(%q)", s.cfg.PromoteSpec)
	}
	if _, err := s.cron.AddFunc(s.cfg.ReconcileSpec, func() { s.reconcile(ctx) }); err != nil {
		return errors.Wrapf(err, "cron.AddFunc(%q)", s.cfg.ReconcileSpec)
	}

	s.cron.Start()
	s.log.Info("scheduler started",
		zap.String("promote_spec", s.cfg.PromoteSpec),
		zap.String("reconcile_spec", s.cfg.ReconcileSpec),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reconcile(ctx)
	}()
	return nil
}

// Stop stops the cron and waits for running tasks, including the reconcile
// started by Start.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) promote(ctx context.Context) {
	n, err := s.queue.PromoteDue(ctx, s.cfg.Topic, promoteBatch)
	if err != nil {
		s.log.Error("promote delayed retries", zap.Error(err))
		return
	}
	if n > 0 {
		s.log.Info("promoted delayed retries", zap.Int64("count", n))
	}
}

func (s *Scheduler) reconcile(ctx context.Context) {
	s.requeue(ctx, entity.StatusPending, s.cfg.ReconcileAfter)
	if s.cfg.ReconcileProcessingAfter > 0 {
		s.requeue(ctx, entity.StatusProcessing, s.cfg.ReconcileProcessingAfter)
	}

	st, err := s.queue.Stats(ctx, s.cfg.Topic)
	if err != nil {
		s.log.Error("queue stats", zap.Error(err))
		return
	}
	s.log.Info("queue stats",
		zap.Int64("queued", st.Queued),
		zap.Int64("processing", st.Processing),
		zap.Int64("delayed", st.Delayed),
		zap.Int64("dead", st.Dead),
	)
}

func (s *Scheduler) requeue(ctx context.Context, status entity.JobStatus, olderThan time.Duration) {
	n, err := s.reconciler.RequeueStale(ctx, status, olderThan, reconcileBatch)
	if err != nil {
		s.log.Error("reconcile stale jobs", zap.String("status", string(status)), zap.Error(err))
		return
	}
	if n > 0 {
		s.log.Warn("re-enqueued stranded jobs", zap.String("status", string(status)), zap.Int("count", n))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
