package retry

import (
	"context"

	"github.com/google/uuid"

	"github.com/overtone-audio/storefront-backend/internal/orders"
)

// OrderNumberReader resolves order numbers for user-facing failure guidance.
type OrderNumberReader struct {
	repo orders.Repository
}

func NewOrderNumberReader(repo orders.Repository) *OrderNumberReader {
	return &OrderNumberReader{repo: repo}
}

func (r *OrderNumberReader) OrderNumber(ctx context.Context, orderID uuid.UUID) (string, error) {
	if r == nil || r.repo == nil {
		return "", nil
	}
	order, err := r.repo.FindByID(ctx, orderID)
	if err != nil {
		return "", err
	}
	return order.OrderNumber, nil
}
