package scheduler

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/rvhonorato/orchestrator/internal/config"
	"github.com/rvhonorato/orchestrator/internal/db"
	"github.com/rvhonorato/orchestrator/internal/destination"
	"github.com/rvhonorato/orchestrator/internal/metrics"
	"github.com/rvhonorato/orchestrator/internal/repositories"
)

// Getter polls destinations for the outputs of Submitted jobs. Downloads are
// bounded to cfg.GetterParallelism concurrent requests so a large backlog
// cannot overload a destination.
type Getter struct {
	jobs       repositories.JobRepository
	cfg        *config.Config
	logger     *zap.Logger
	adapterFor func(config.Service) destination.Adapter
}

// NewGetter creates a Getter using the standard adapter selection.
func NewGetter(jobs repositories.JobRepository, cfg *config.Config, logger *zap.Logger) *Getter {
	return &Getter{
		jobs:       jobs,
		cfg:        cfg,
		logger:     logger.Named("getter"),
		adapterFor: destination.ForService,
	}
}

func (g *Getter) Name() string { return "getter" }

// Tick fans out over Submitted jobs through a semaphore and waits for all of
// them before returning.
func (g *Getter) Tick(ctx context.Context) {
	jobs, err := g.jobs.ListByStatus(ctx, db.StatusSubmitted)
	if err != nil {
		g.logger.Error("failed to list submitted jobs", zap.Error(err))
		return
	}
	if len(jobs) == 0 {
		return
	}

	parallelism := g.cfg.GetterParallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	sem := make(chan struct{}, parallelism)

	var wg sync.WaitGroup
	for i := range jobs {
		job := jobs[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			g.retrieve(ctx, job)
		}()
	}
	wg.Wait()
}

// retrieve downloads one job's output and applies the status mapping.
// Transient conditions leave the row untouched for the next tick.
func (g *Getter) retrieve(ctx context.Context, job db.Job) {
	svc, ok := g.cfg.Service(job.Service)
	if !ok {
		g.logger.Warn("submitted job references unconfigured service",
			zap.Int64("job_id", job.ID),
			zap.String("service", job.Service),
		)
		return
	}

	err := g.adapterFor(svc).Download(ctx, &job, svc.DownloadURL)
	switch {
	case err == nil:
		metrics.Downloads.WithLabelValues(metrics.OutcomeOK).Inc()
		if err := g.jobs.UpdateStatus(ctx, job.ID, db.StatusCompleted); err != nil {
			g.logger.Error("failed to mark job completed",
				zap.Int64("job_id", job.ID),
				zap.Error(err),
			)
			return
		}
		g.logger.Info("job completed",
			zap.Int64("job_id", job.ID),
			zap.String("service", job.Service),
		)

	case errors.Is(err, destination.ErrNotReady):
		// Still running at the destination; ask again next tick.
		metrics.Downloads.WithLabelValues(metrics.OutcomeNotReady).Inc()

	case errors.Is(err, destination.ErrJobNotFound),
		errors.Is(err, destination.ErrJobFailedOrCleaned):
		// The destination no longer has the job, or has terminally given up
		// on it. Nothing will ever come back for this dest_id.
		metrics.Downloads.WithLabelValues(metrics.OutcomeFailed).Inc()
		g.logger.Warn("destination lost the job",
			zap.Int64("job_id", job.ID),
			zap.String("dest_id", job.DestID),
			zap.Error(err),
		)
		if err := g.jobs.UpdateStatus(ctx, job.ID, db.StatusUnknown); err != nil {
			g.logger.Error("failed to mark job unknown",
				zap.Int64("job_id", job.ID),
				zap.Error(err),
			)
		}

	default:
		// Network trouble, unexpected status, undecodable body: all treated
		// as transient, the next tick retries.
		metrics.Downloads.WithLabelValues(metrics.OutcomeFailed).Inc()
		g.logger.Error("download failed",
			zap.Int64("job_id", job.ID),
			zap.String("service", job.Service),
			zap.Error(err),
		)
	}
}
