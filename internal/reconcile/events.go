package reconcile

import (
	"time"

	"github.com/google/uuid"
)

// OrderConfirmationEvent is queued on the outbox when an order becomes paid.
type OrderConfirmationEvent struct {
	OrderID         uuid.UUID `json:"order_id"`
	OrderNumber     string    `json:"order_number"`
	CustomerEmail   string    `json:"customer_email"`
	TotalCents      int       `json:"total_cents"`
	Currency        string    `json:"currency"`
	PaymentIntentID string    `json:"payment_intent_id,omitempty"`
	PaidAt          time.Time `json:"paid_at"`
}
