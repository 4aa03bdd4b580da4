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

// Sender forwards admissible Queued jobs to their destinations.
// Per job: Queued -> Processing, upload, persist dest_id, -> Submitted.
// An upload rejected with an unexpected status requeues the job so a later
// tick retries it; any other upload failure is final.
type Sender struct {
	jobs       repositories.JobRepository
	cfg        *config.Config
	logger     *zap.Logger
	adapterFor func(config.Service) destination.Adapter
}

// NewSender creates a Sender using the standard adapter selection.
func NewSender(jobs repositories.JobRepository, cfg *config.Config, logger *zap.Logger) *Sender {
	return &Sender{
		jobs:       jobs,
		cfg:        cfg,
		logger:     logger.Named("sender"),
		adapterFor: destination.ForService,
	}
}

func (s *Sender) Name() string { return "sender" }

// Reconcile moves jobs stranded in Processing by a previous crash back to
// Queued. Called once at startup, before the first tick: a Processing job
// has no driver watching it, so without this sweep it would sit invisible
// forever.
func (s *Sender) Reconcile(ctx context.Context) {
	n, err := s.jobs.RequeueProcessing(ctx)
	if err != nil {
		s.logger.Error("startup reconciliation failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Warn("requeued jobs stranded in processing", zap.Int64("count", n))
	}
}

// Tick loads the admissible jobs and fans the uploads out concurrently,
// waiting for all of them before returning.
func (s *Sender) Tick(ctx context.Context) {
	limits := make(map[string]uint, len(s.cfg.Services))
	for key, svc := range s.cfg.Services {
		limits[key] = svc.RunsPerUser
	}

	jobs, err := s.jobs.ListAdmissible(ctx, limits)
	if err != nil {
		s.logger.Error("failed to load admissible jobs", zap.Error(err))
		return
	}
	if len(jobs) == 0 {
		return
	}

	var wg sync.WaitGroup
	for i := range jobs {
		job := jobs[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.send(ctx, job)
		}()
	}
	wg.Wait()
}

// send drives one job through upload. Errors affect only this job.
func (s *Sender) send(ctx context.Context, job db.Job) {
	metrics.JobsAdmitted.Inc()

	svc, ok := s.cfg.Service(job.Service)
	if !ok {
		// Admission filters unknown services already; a row slipping through
		// means the config changed under us. Leave the job Queued.
		s.logger.Warn("job references unconfigured service",
			zap.Int64("job_id", job.ID),
			zap.String("service", job.Service),
		)
		return
	}

	if err := s.jobs.UpdateStatus(ctx, job.ID, db.StatusProcessing); err != nil {
		s.logger.Error("failed to mark job processing",
			zap.Int64("job_id", job.ID),
			zap.Error(err),
		)
		return
	}

	destID, err := s.adapterFor(svc).Upload(ctx, &job, svc.UploadURL)

	var statusErr *destination.UnexpectedStatusError
	switch {
	case err == nil:
		// dest_id lands before the Submitted transition so a Submitted row
		// always carries the identifier the getter needs.
		if err := s.jobs.UpdateDestID(ctx, job.ID, destID); err != nil {
			s.logger.Error("failed to persist dest_id",
				zap.Int64("job_id", job.ID),
				zap.Error(err),
			)
			return
		}
		if err := s.jobs.UpdateStatus(ctx, job.ID, db.StatusSubmitted); err != nil {
			s.logger.Error("failed to mark job submitted",
				zap.Int64("job_id", job.ID),
				zap.Error(err),
			)
			return
		}
		metrics.Uploads.WithLabelValues(metrics.OutcomeOK).Inc()
		s.logger.Info("job submitted",
			zap.Int64("job_id", job.ID),
			zap.String("service", job.Service),
			zap.String("dest_id", destID),
		)

	case errors.As(err, &statusErr):
		// The destination answered but refused the upload. Requeue: the
		// refusal may be load shedding or a restart, and a Processing job
		// with no retry path would be stranded.
		metrics.Uploads.WithLabelValues(metrics.OutcomeFailed).Inc()
		s.logger.Warn("destination refused upload, requeueing",
			zap.Int64("job_id", job.ID),
			zap.String("service", job.Service),
			zap.Int("status", statusErr.Code),
			zap.String("body", statusErr.Body),
		)
		if err := s.jobs.UpdateStatus(ctx, job.ID, db.StatusQueued); err != nil {
			s.logger.Error("failed to requeue job",
				zap.Int64("job_id", job.ID),
				zap.Error(err),
			)
		}

	default:
		metrics.Uploads.WithLabelValues(metrics.OutcomeFailed).Inc()
		s.logger.Error("upload failed",
			zap.Int64("job_id", job.ID),
			zap.String("service", job.Service),
			zap.Error(err),
		)
		if err := s.jobs.UpdateStatus(ctx, job.ID, db.StatusFailed); err != nil {
			s.logger.Error("failed to mark job failed",
				zap.Int64("job_id", job.ID),
				zap.Error(err),
			)
		}
	}
}
