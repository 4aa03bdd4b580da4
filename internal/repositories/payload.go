package repositories

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"gorm.io/gorm"

	"github.com/rvhonorato/orchestrator/internal/db"
)

// gormPayloadRepository is the GORM implementation of PayloadRepository.
type gormPayloadRepository struct {
	db *gorm.DB
}

// NewPayloadRepository returns a PayloadRepository backed by the provided *gorm.DB.
func NewPayloadRepository(db *gorm.DB) PayloadRepository {
	return &gormPayloadRepository{db: db}
}

// Create inserts a new payload record and backfills its assigned id.
func (r *gormPayloadRepository) Create(ctx context.Context, payload *db.Payload) error {
	if err := r.db.WithContext(ctx).Create(payload).Error; err != nil {
		return fmt.Errorf("payloads: create: %w", err)
	}
	return nil
}

// GetByID retrieves a payload by id. Returns ErrNotFound if no record exists.
func (r *gormPayloadRepository) GetByID(ctx context.Context, id int64) (*db.Payload, error) {
	var payload db.Payload
	err := r.db.WithContext(ctx).First(&payload, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("payloads: get by id: %w", err)
	}
	return &payload, nil
}

// UpdateStatus updates only the status column.
func (r *gormPayloadRepository) UpdateStatus(ctx context.Context, id int64, status db.Status) error {
	result := r.db.WithContext(ctx).
		Model(&db.Payload{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("payloads: update status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLoc records the payload's staging directory once inputs are on disk.
func (r *gormPayloadRepository) UpdateLoc(ctx context.Context, id int64, loc string) error {
	result := r.db.WithContext(ctx).
		Model(&db.Payload{}).
		Where("id = ?", id).
		Update("loc", loc)
	if result.Error != nil {
		return fmt.Errorf("payloads: update loc: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByStatus returns all payloads in the given status, id ascending. Rows
// from before loc was persisted fall back to dataPath/<id>, the path the
// submit handler has always used.
func (r *gormPayloadRepository) ListByStatus(ctx context.Context, status db.Status, dataPath string) ([]db.Payload, error) {
	var payloads []db.Payload
	if err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("id ASC").
		Find(&payloads).Error; err != nil {
		return nil, fmt.Errorf("payloads: list by status: %w", err)
	}
	for i := range payloads {
		if payloads[i].Loc == "" {
			payloads[i].Loc = filepath.Join(dataPath, strconv.FormatInt(payloads[i].ID, 10))
		}
	}
	return payloads, nil
}
