// Package scheduler hosts the periodic drivers that move jobs and payloads
// through their lifecycles: sender, getter and janitor on the orchestrator,
// runner on the client. It wraps gocron; every task runs in singleton mode so
// a slow tick reschedules rather than overlaps itself, and every tick is a
// firewall — per-job errors are logged and isolated, never propagated.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Task is one periodic driver. A Tick observes jobs in one source status and
// moves them out of it; different drivers therefore never contend for the
// same job.
type Task interface {
	Name() string
	Tick(ctx context.Context)
}

// Scheduler wraps gocron and coordinates the registered tasks.
// The zero value is not usable — create instances with New.
type Scheduler struct {
	cron   gocron.Scheduler
	logger *zap.Logger
	ctx    context.Context
}

// New creates and configures a new Scheduler. Register tasks with Every,
// then call Start.
func New(logger *zap.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{
		cron:   s,
		logger: logger.Named("scheduler"),
	}, nil
}

// Every registers a task to tick at the given interval.
func (s *Scheduler) Every(interval time.Duration, task Task) error {
	_, err := s.cron.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx := s.ctx
			if ctx == nil {
				ctx = context.Background()
			}
			task.Tick(ctx)
		}),
		gocron.WithName(task.Name()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("gocron.NewJob failed for task %s: %w", task.Name(), err)
	}
	return nil
}

// Start begins ticking all registered tasks. ctx is handed to every tick;
// cancelling it stops in-flight work at the next suspension point.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("tasks", len(s.cron.Jobs())))
}

// Stop gracefully shuts down the underlying gocron scheduler, waiting for
// any currently running tick to complete before returning.
func (s *Scheduler) Stop() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("scheduler shutdown error: %w", err)
	}
	s.logger.Info("scheduler stopped")
	return nil
}
