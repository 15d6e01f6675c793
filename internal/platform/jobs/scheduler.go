package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/rede-afiliados/api/internal/platform/idempotency"
	"github.com/rede-afiliados/api/internal/services"
)

const defaultTaskTimeout = 5 * time.Minute

// Task is one unit of background work.
type Task func(ctx context.Context) error

// Scheduler runs periodic maintenance tasks on a gocron scheduler.
type Scheduler struct {
	sched       gocron.Scheduler
	logger      *zap.Logger
	taskTimeout time.Duration
}

// SchedulerOption customises the scheduler.
type SchedulerOption func(*Scheduler)

// WithTaskTimeout bounds each task run.
func WithTaskTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.taskTimeout = d
		}
	}
}

// NewScheduler constructs a stopped scheduler. Call Start once jobs are registered.
func NewScheduler(logger *zap.Logger, opts ...SchedulerOption) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("jobs: create scheduler: %w", err)
	}
	s := &Scheduler{sched: sched, logger: logger, taskTimeout: defaultTaskTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Every registers task to run at a fixed interval.
func (s *Scheduler) Every(name string, interval time.Duration, task Task) error {
	if interval <= 0 {
		return fmt.Errorf("jobs: %s: interval must be positive", name)
	}
	return s.register(name, gocron.DurationJob(interval), task)
}

// Cron registers task on a five-field crontab in UTC.
func (s *Scheduler) Cron(name, crontab string, task Task) error {
	if strings.TrimSpace(crontab) == "" {
		return fmt.Errorf("jobs: %s: crontab is required", name)
	}
	return s.register(name, gocron.CronJob(crontab, false), task)
}

func (s *Scheduler) register(name string, def gocron.JobDefinition, task Task) error {
	if task == nil {
		return fmt.Errorf("jobs: %s: task is required", name)
	}
	_, err := s.sched.NewJob(def,
		gocron.NewTask(s.run, name, task),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("jobs: register %s: %w", name, err)
	}
	return nil
}

func (s *Scheduler) run(name string, task Task) {
	ctx, cancel := context.WithTimeout(context.Background(), s.taskTimeout)
	defer cancel()

	started := time.Now()
	err := task(ctx)
	fields := []zap.Field{zap.String("job", name), zap.Duration("duration", time.Since(started))}
	if err != nil {
		s.logger.Warn("scheduled job failed", append(fields, zap.Error(err))...)
		return
	}
	s.logger.Debug("scheduled job finished", fields...)
}

// Start begins executing registered jobs.
func (s *Scheduler) Start() {
	s.sched.Start()
}

// Shutdown stops the scheduler and waits for running jobs.
func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}

// IdempotencyCleanupTask purges expired idempotency records in batches.
func IdempotencyCleanupTask(store idempotency.Store, batchSize int, now func() time.Time) Task {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) error {
		if store == nil {
			return errors.New("idempotency store is nil")
		}
		_, err := store.CleanupExpired(ctx, now().UTC(), batchSize)
		return err
	}
}

// ReconcileTask runs the ledger reconciler and logs a summary of the report.
func ReconcileTask(reconciler services.LedgerReconciler, logger *zap.Logger) Task {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context) error {
		if reconciler == nil {
			return errors.New("ledger reconciler is nil")
		}
		report, err := reconciler.Reconcile(ctx)
		if err != nil {
			return err
		}
		level := zap.InfoLevel
		if len(report.Drifts) > 0 {
			level = zap.ErrorLevel
		}
		logger.Log(level, "ledger reconciled",
			zap.Int("profiles", report.CheckedProfiles),
			zap.Int("drifts", len(report.Drifts)),
			zap.Int("journal_drifts", len(report.JournalDrifts)),
		)
		return nil
	}
}
