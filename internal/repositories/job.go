package repositories

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/rvhonorato/orchestrator/internal/db"
)

// gormJobRepository is the GORM implementation of JobRepository.
type gormJobRepository struct {
	db *gorm.DB
}

// NewJobRepository returns a JobRepository backed by the provided *gorm.DB.
func NewJobRepository(db *gorm.DB) JobRepository {
	return &gormJobRepository{db: db}
}

// Create inserts a new job record and backfills its assigned id.
func (r *gormJobRepository) Create(ctx context.Context, job *db.Job) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("jobs: create: %w", err)
	}
	return nil
}

// GetByID retrieves a job by id. Returns ErrNotFound if no record exists.
func (r *gormJobRepository) GetByID(ctx context.Context, id int64) (*db.Job, error) {
	var job db.Job
	err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("jobs: get by id: %w", err)
	}
	return &job, nil
}

// GetByLoc retrieves a job by its artifact directory path.
func (r *gormJobRepository) GetByLoc(ctx context.Context, loc string) (*db.Job, error) {
	var job db.Job
	err := r.db.WithContext(ctx).First(&job, "loc = ?", loc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("jobs: get by loc: %w", err)
	}
	return &job, nil
}

// UpdateStatus updates only the status column.
func (r *gormJobRepository) UpdateStatus(ctx context.Context, id int64, status db.Status) error {
	result := r.db.WithContext(ctx).
		Model(&db.Job{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("jobs: update status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateDestID records the identifier the destination returned at upload time.
func (r *gormJobRepository) UpdateDestID(ctx context.Context, id int64, destID string) error {
	result := r.db.WithContext(ctx).
		Model(&db.Job{}).
		Where("id = ?", id).
		Update("dest_id", destID)
	if result.Error != nil {
		return fmt.Errorf("jobs: update dest_id: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByStatus returns all jobs in the given status, id ascending.
func (r *gormJobRepository) ListByStatus(ctx context.Context, status db.Status) ([]db.Job, error) {
	var jobs []db.Job
	if err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("id ASC").
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("jobs: list by status: %w", err)
	}
	return jobs, nil
}

// submittedCell is the scan target for the grouped Submitted count.
type submittedCell struct {
	UserID  int64
	Service string
	Count   int64
}

// ListAdmissible returns Queued jobs admissible under the per-user/per-service
// limits. Both queries run inside one transaction so the admission decision is
// taken against a single snapshot: the Submitted counts and the Queued rows
// cannot drift apart mid-computation.
func (r *gormJobRepository) ListAdmissible(ctx context.Context, runsPerUser map[string]uint) ([]db.Job, error) {
	var admissible []db.Job

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cells []submittedCell
		if err := tx.Model(&db.Job{}).
			Select("user_id, service, COUNT(*) as count").
			Where("status = ?", db.StatusSubmitted).
			Group("user_id, service").
			Scan(&cells).Error; err != nil {
			return fmt.Errorf("count submitted: %w", err)
		}

		submitted := make(map[[2]string]int64, len(cells))
		for _, c := range cells {
			submitted[cellKey(c.UserID, c.Service)] = c.Count
		}

		var queued []db.Job
		if err := tx.Where("status = ?", db.StatusQueued).
			Order("user_id ASC, service ASC, id ASC").
			Find(&queued).Error; err != nil {
			return fmt.Errorf("list queued: %w", err)
		}

		// Queued rows arrive grouped by cell and FIFO within each cell.
		// On entering a new cell, compute the remaining slots once and emit
		// up to that many rows.
		var (
			current   [2]string
			remaining int64
		)
		for i := range queued {
			j := &queued[i]
			key := cellKey(j.UserID, j.Service)
			if key != current || i == 0 {
				current = key
				limit, known := runsPerUser[j.Service]
				if !known {
					// Unconfigured services admit nothing.
					remaining = 0
				} else {
					remaining = int64(limit) - submitted[key]
					if remaining < 0 {
						remaining = 0
					}
				}
			}
			if remaining > 0 {
				admissible = append(admissible, *j)
				remaining--
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("jobs: list admissible: %w", err)
	}
	return admissible, nil
}

// RequeueProcessing moves stranded Processing jobs back to Queued and returns
// how many rows changed.
func (r *gormJobRepository) RequeueProcessing(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&db.Job{}).
		Where("status = ?", db.StatusProcessing).
		Update("status", db.StatusQueued)
	if result.Error != nil {
		return 0, fmt.Errorf("jobs: requeue processing: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// cellKey builds the (user, service) map key used by the admission pass.
func cellKey(userID int64, service string) [2]string {
	return [2]string{fmt.Sprintf("%d", userID), service}
}
