package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderLineItem is the immutable price snapshot captured when the order was
// created. Retry checkout sessions always charge from this snapshot, never
// from live catalog pricing.
type OrderLineItem struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID        uuid.UUID `gorm:"column:order_id;type:uuid;not null"`
	ProductName    string    `gorm:"column:product_name;not null"`
	Qty            int       `gorm:"column:qty;not null"`
	UnitPriceCents int       `gorm:"column:unit_price_cents;not null"`
	TotalCents     int       `gorm:"column:total_cents;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}
