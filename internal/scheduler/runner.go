package scheduler

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/rvhonorato/orchestrator/internal/db"
	"github.com/rvhonorato/orchestrator/internal/metrics"
	"github.com/rvhonorato/orchestrator/internal/repositories"
)

// ErrNoExecScript is reported when a prepared payload has no run.sh to
// execute.
var ErrNoExecScript = errors.New("runner: no execution script found")

// Runner executes Prepared payloads on the client. Each payload bundle is
// expected to carry a run.sh at its root; the script runs under bash with
// the bundle directory as working directory, and the exit code decides the
// terminal status.
type Runner struct {
	payloads repositories.PayloadRepository
	dataPath string
	logger   *zap.Logger
}

// NewRunner creates a Runner over the given payload repository.
func NewRunner(payloads repositories.PayloadRepository, dataPath string, logger *zap.Logger) *Runner {
	return &Runner{
		payloads: payloads,
		dataPath: dataPath,
		logger:   logger.Named("runner"),
	}
}

func (r *Runner) Name() string { return "runner" }

// Tick executes every Prepared payload concurrently and waits for all of
// them before returning.
func (r *Runner) Tick(ctx context.Context) {
	payloads, err := r.payloads.ListByStatus(ctx, db.StatusPrepared, r.dataPath)
	if err != nil {
		r.logger.Error("failed to list prepared payloads", zap.Error(err))
		return
	}

	var wg sync.WaitGroup
	for i := range payloads {
		payload := payloads[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.execute(ctx, payload)
		}()
	}
	wg.Wait()
}

// execute runs one payload's script and persists the outcome.
func (r *Runner) execute(ctx context.Context, payload db.Payload) {
	if err := r.run(ctx, payload); err != nil {
		metrics.PayloadRuns.WithLabelValues(metrics.OutcomeFailed).Inc()
		r.logger.Warn("payload execution failed",
			zap.Int64("payload_id", payload.ID),
			zap.Error(err),
		)
		r.setStatus(ctx, payload.ID, db.StatusFailed)
		return
	}

	metrics.PayloadRuns.WithLabelValues(metrics.OutcomeOK).Inc()
	r.logger.Info("payload executed", zap.Int64("payload_id", payload.ID))
	r.setStatus(ctx, payload.ID, db.StatusCompleted)
}

// run launches bash {loc}/run.sh with the payload directory as working
// directory and waits for it to exit.
func (r *Runner) run(ctx context.Context, payload db.Payload) error {
	script := filepath.Join(payload.Loc, "run.sh")
	if _, err := os.Stat(script); err != nil {
		return ErrNoExecScript
	}

	cmd := exec.CommandContext(ctx, "bash", script)
	cmd.Dir = payload.Loc
	return cmd.Run()
}

func (r *Runner) setStatus(ctx context.Context, id int64, status db.Status) {
	if err := r.payloads.UpdateStatus(ctx, id, status); err != nil {
		r.logger.Error("failed to update payload status",
			zap.Int64("payload_id", id),
			zap.String("status", status.String()),
			zap.Error(err),
		)
	}
}
