package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/overtone-audio/storefront-backend/pkg/db/models"
	"github.com/overtone-audio/storefront-backend/pkg/enums"
)

// LineItemInput is a priced line captured at checkout time.
type LineItemInput struct {
	Name           string `json:"name"`
	Qty            int    `json:"qty"`
	UnitPriceCents int    `json:"unit_price_cents"`
}

// CreateOrderInput carries the priced payload for checkout initiation.
type CreateOrderInput struct {
	CustomerEmail string          `json:"customer_email"`
	Currency      string          `json:"currency"`
	ShippingCents int             `json:"shipping_cents"`
	TaxCents      int             `json:"tax_cents"`
	DiscountCents int             `json:"discount_cents"`
	Items         []LineItemInput `json:"items"`
}

// CheckoutResult is returned to the caller after checkout initiation.
type CheckoutResult struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	SessionID   string    `json:"session_id,omitempty"`
	CheckoutURL string    `json:"checkout_url,omitempty"`
}

// LineItemDTO is the read shape for a stored line item.
type LineItemDTO struct {
	ID             uuid.UUID `json:"id"`
	ProductName    string    `json:"product_name"`
	Qty            int       `json:"qty"`
	UnitPriceCents int       `json:"unit_price_cents"`
	TotalCents     int       `json:"total_cents"`
}

// RetryAttemptDTO is the read shape for a recorded payment retry attempt.
type RetryAttemptDTO struct {
	AttemptNumber      int                  `json:"attempt_number"`
	Reason             string               `json:"reason"`
	Outcome            enums.AttemptOutcome `json:"outcome"`
	ResultingSessionID *string              `json:"resulting_session_id,omitempty"`
	RetryURL           *string              `json:"retry_url,omitempty"`
	AttemptedAt        time.Time            `json:"attempted_at"`
}

// OrderDTO is the read shape for an order.
type OrderDTO struct {
	ID            uuid.UUID           `json:"id"`
	OrderNumber   string              `json:"order_number"`
	CustomerEmail string              `json:"customer_email"`
	Status        enums.OrderStatus   `json:"status"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
	SubtotalCents int                 `json:"subtotal_cents"`
	ShippingCents int                 `json:"shipping_cents"`
	TaxCents      int                 `json:"tax_cents"`
	DiscountCents int                 `json:"discount_cents"`
	TotalCents    int                 `json:"total_cents"`
	Currency      string              `json:"currency"`
	SessionID     *string             `json:"session_id,omitempty"`
	Items         []LineItemDTO       `json:"items"`
	Attempts      []RetryAttemptDTO   `json:"attempts,omitempty"`
	PaidAt        *time.Time          `json:"paid_at,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

// ToOrderDTO maps a persisted order onto its read shape.
func ToOrderDTO(order models.Order) OrderDTO {
	items := make([]LineItemDTO, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, LineItemDTO{
			ID:             item.ID,
			ProductName:    item.ProductName,
			Qty:            item.Qty,
			UnitPriceCents: item.UnitPriceCents,
			TotalCents:     item.TotalCents,
		})
	}
	return OrderDTO{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		CustomerEmail: order.CustomerEmail,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		SubtotalCents: order.SubtotalCents,
		ShippingCents: order.ShippingCents,
		TaxCents:      order.TaxCents,
		DiscountCents: order.DiscountCents,
		TotalCents:    order.TotalCents,
		Currency:      order.Currency,
		SessionID:     order.StripeSessionID,
		Items:         items,
		PaidAt:        order.PaidAt,
		CreatedAt:     order.CreatedAt,
	}
}

// ToRetryAttemptDTOs maps persisted ledger rows onto their read shape.
func ToRetryAttemptDTOs(attempts []models.RetryAttempt) []RetryAttemptDTO {
	if len(attempts) == 0 {
		return nil
	}
	out := make([]RetryAttemptDTO, 0, len(attempts))
	for _, attempt := range attempts {
		out = append(out, RetryAttemptDTO{
			AttemptNumber:      attempt.AttemptNumber,
			Reason:             attempt.Reason,
			Outcome:            attempt.Outcome,
			ResultingSessionID: attempt.ResultingSessionID,
			RetryURL:           attempt.RetryURL,
			AttemptedAt:        attempt.AttemptedAt,
		})
	}
	return out
}

// OrderCreatedEvent is queued on the outbox when checkout initiation commits.
type OrderCreatedEvent struct {
	OrderID       uuid.UUID `json:"order_id"`
	OrderNumber   string    `json:"order_number"`
	CustomerEmail string    `json:"customer_email"`
	TotalCents    int       `json:"total_cents"`
	Currency      string    `json:"currency"`
}
