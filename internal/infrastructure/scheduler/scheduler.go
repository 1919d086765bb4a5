package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler runs named jobs on cron specs. Overlapping runs of the same job
// are skipped and panics are recovered and logged.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	ctx    context.Context
}

func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")
	adapter := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(adapter),
			cron.WithChain(
				cron.Recover(adapter),
				cron.SkipIfStillRunning(adapter),
			),
		),
		logger: logger,
		ctx:    context.Background(),
	}
}

// Add registers a job; spec is a standard five-field expression or a
// descriptor such as "@every 15m". Jobs must be added before Run.
func (s *Scheduler) Add(name, spec string, job func(context.Context)) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.logger.Debug("scheduled_job_started", "job", name)
		job(s.ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	s.logger.Info("job_scheduled", "job", name, "spec", spec)
	return nil
}

// Run blocks until ctx is done, then waits for running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler_stopped")
}

type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron_"+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron_"+msg, append(keysAndValues, "error", err)...)
}
