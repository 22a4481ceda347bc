package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/overtone-audio/storefront-backend/pkg/enums"
)

// Order is the persisted order record. Payment fields are mutated only by the
// reconciliation engine; fulfillment fields only by fulfillment operations.
type Order struct {
	ID                    uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber           string              `gorm:"column:order_number;not null;uniqueIndex"`
	CustomerEmail         string              `gorm:"column:customer_email;not null"`
	Status                enums.OrderStatus   `gorm:"column:status;type:order_status;not null;default:'pending'"`
	PaymentStatus         enums.PaymentStatus `gorm:"column:payment_status;type:payment_status;not null;default:'pending'"`
	SubtotalCents         int                 `gorm:"column:subtotal_cents;not null"`
	ShippingCents         int                 `gorm:"column:shipping_cents;not null;default:0"`
	TaxCents              int                 `gorm:"column:tax_cents;not null;default:0"`
	DiscountCents         int                 `gorm:"column:discount_cents;not null;default:0"`
	TotalCents            int                 `gorm:"column:total_cents;not null"`
	Currency              string              `gorm:"column:currency;not null;default:'usd'"`
	StripeSessionID       *string             `gorm:"column:stripe_session_id"`
	StripePaymentIntentID *string             `gorm:"column:stripe_payment_intent_id"`
	Version               int                 `gorm:"column:version;not null;default:1"`
	Items                 []OrderLineItem     `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	PaidAt                *time.Time          `gorm:"column:paid_at"`
	CancelledAt           *time.Time          `gorm:"column:cancelled_at"`
	CreatedAt             time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// TotalsConsistent reports whether the monetary invariant holds.
func (o Order) TotalsConsistent() bool {
	if o.SubtotalCents < 0 || o.ShippingCents < 0 || o.TaxCents < 0 || o.DiscountCents < 0 || o.TotalCents < 0 {
		return false
	}
	return o.TotalCents == o.SubtotalCents+o.ShippingCents+o.TaxCents-o.DiscountCents
}
