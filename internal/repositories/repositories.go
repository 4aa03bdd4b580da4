// Package repositories defines the persistence interfaces over the jobs and
// payloads tables and their GORM implementations. Scheduler tasks and HTTP
// handlers depend on the interfaces only; the concrete types are constructed
// once in main and shared.
package repositories

import (
	"context"

	"github.com/rvhonorato/orchestrator/internal/db"
)

// -----------------------------------------------------------------------------
// JobRepository
// -----------------------------------------------------------------------------

type JobRepository interface {
	Create(ctx context.Context, job *db.Job) error
	GetByID(ctx context.Context, id int64) (*db.Job, error)

	// GetByLoc looks a job up by its artifact directory. The janitor uses
	// this to tie an aged directory back to its row before removal.
	GetByLoc(ctx context.Context, loc string) (*db.Job, error)

	UpdateStatus(ctx context.Context, id int64, status db.Status) error
	UpdateDestID(ctx context.Context, id int64, destID string) error

	// ListByStatus returns all jobs in the given status, id ascending.
	ListByStatus(ctx context.Context, status db.Status) ([]db.Job, error)

	// ListAdmissible returns Queued jobs that may be advanced right now:
	// per (user_id, service) cell at most runsPerUser[service] minus the
	// cell's current Submitted count, preferring smaller id first. Services
	// absent from runsPerUser admit nothing. The result is consistent with
	// a single snapshot of the table.
	ListAdmissible(ctx context.Context, runsPerUser map[string]uint) ([]db.Job, error)

	// RequeueProcessing moves every Processing job back to Queued. Run once
	// at startup so jobs stranded mid-upload by a crash become visible to
	// the sender again.
	RequeueProcessing(ctx context.Context) (int64, error)
}

// -----------------------------------------------------------------------------
// PayloadRepository
// -----------------------------------------------------------------------------

type PayloadRepository interface {
	Create(ctx context.Context, payload *db.Payload) error
	GetByID(ctx context.Context, id int64) (*db.Payload, error)
	UpdateStatus(ctx context.Context, id int64, status db.Status) error
	UpdateLoc(ctx context.Context, id int64, loc string) error

	// ListByStatus returns all payloads in the given status, id ascending.
	// Rows persisted before loc was stored get their loc reconstructed as
	// dataPath/<id>.
	ListByStatus(ctx context.Context, status db.Status, dataPath string) ([]db.Payload, error)
}
