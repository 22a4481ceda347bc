package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/overtone-audio/storefront-backend/pkg/db/models"
	"github.com/overtone-audio/storefront-backend/pkg/enums"
)

// Repository manages persistence for retry ledger rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, attempt *models.RetryAttempt) error
	MaxAttemptNumber(ctx context.Context, orderID uuid.UUID) (int, error)
	UpdateOutcome(ctx context.Context, attemptID uuid.UUID, updates map[string]any) (int64, error)
	ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.RetryAttempt, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, attempt *models.RetryAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *repository) MaxAttemptNumber(ctx context.Context, orderID uuid.UUID) (int, error) {
	var max int
	err := r.db.WithContext(ctx).
		Model(&models.RetryAttempt{}).
		Where("order_id = ?", orderID).
		Select("COALESCE(MAX(attempt_number), 0)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	return max, nil
}

// UpdateOutcome records an attempt's result. The pending guard makes the
// mutation one-shot: a row whose outcome is already set is never rewritten.
func (r *repository) UpdateOutcome(ctx context.Context, attemptID uuid.UUID, updates map[string]any) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.RetryAttempt{}).
		Where("id = ? AND outcome = ?", attemptID, enums.AttemptOutcomePending).
		Updates(updates)
	return result.RowsAffected, result.Error
}

func (r *repository) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.RetryAttempt, error) {
	var attempts []models.RetryAttempt
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("attempt_number ASC").
		Find(&attempts).Error; err != nil {
		return nil, err
	}
	return attempts, nil
}
