package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
	"go.uber.org/zap"

	"github.com/rvhonorato/orchestrator/internal/artifact"
	"github.com/rvhonorato/orchestrator/internal/db"
	"github.com/rvhonorato/orchestrator/internal/metrics"
	"github.com/rvhonorato/orchestrator/internal/repositories"
)

// Janitor reaps artifact directories older than maxAge. A directory is
// removed only after its job row is marked Cleaned, so no other driver can
// be working inside it at removal time. Directories with no matching row are
// left alone and logged.
type Janitor struct {
	jobs     repositories.JobRepository
	dataPath string
	maxAge   time.Duration
	logger   *zap.Logger
}

// NewJanitor creates a Janitor over the given data root.
func NewJanitor(jobs repositories.JobRepository, dataPath string, maxAge time.Duration, logger *zap.Logger) *Janitor {
	return &Janitor{
		jobs:     jobs,
		dataPath: dataPath,
		maxAge:   maxAge,
		logger:   logger.Named("janitor"),
	}
}

func (j *Janitor) Name() string { return "janitor" }

// Tick sweeps the immediate subdirectories of the data root. Errors are
// isolated per subdirectory; one unreadable entry never stops the sweep.
func (j *Janitor) Tick(ctx context.Context) {
	entries, err := os.ReadDir(j.dataPath)
	if err != nil {
		j.logger.Error("could not read data root", zap.String("path", j.dataPath), zap.Error(err))
		return
	}

	now := time.Now()
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(j.dataPath, entry.Name())

		info, err := entry.Info()
		if err != nil {
			j.logger.Error("could not read metadata", zap.String("path", path), zap.Error(err))
			continue
		}
		if now.Sub(info.ModTime()) < j.maxAge {
			continue
		}

		j.clean(ctx, path)
	}

	j.sampleDiskUsage()
}

// clean ties an aged directory back to its job row, marks the row Cleaned,
// and removes the directory.
func (j *Janitor) clean(ctx context.Context, path string) {
	job, err := j.jobs.GetByLoc(ctx, path)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			j.logger.Warn("aged directory has no job row, skipping", zap.String("path", path))
		} else {
			j.logger.Error("job lookup failed", zap.String("path", path), zap.Error(err))
		}
		return
	}

	if err := j.jobs.UpdateStatus(ctx, job.ID, db.StatusCleaned); err != nil {
		j.logger.Error("failed to mark job cleaned",
			zap.Int64("job_id", job.ID),
			zap.Error(err),
		)
		return
	}
	if err := artifact.RemoveDir(path); err != nil {
		j.logger.Error("failed to remove directory",
			zap.Int64("job_id", job.ID),
			zap.String("path", path),
			zap.Error(err),
		)
		return
	}

	metrics.CleanedDirs.Inc()
	j.logger.Info("cleaned job artifact",
		zap.Int64("job_id", job.ID),
		zap.String("path", path),
	)
}

// sampleDiskUsage refreshes the data-root disk gauge once per sweep.
func (j *Janitor) sampleDiskUsage() {
	usage, err := disk.Usage(j.dataPath)
	if err != nil {
		j.logger.Debug("could not sample disk usage", zap.Error(err))
		return
	}
	metrics.DataRootUsedBytes.Set(float64(usage.Used))
	j.logger.Debug("data root disk usage",
		zap.Uint64("used_bytes", usage.Used),
		zap.Float64("used_percent", usage.UsedPercent),
	)
}
