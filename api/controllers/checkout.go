package controllers

import (
	"context"
	"net/http"

	"github.com/overtone-audio/storefront-backend/api/responses"
	"github.com/overtone-audio/storefront-backend/api/validators"
	"github.com/overtone-audio/storefront-backend/internal/orders"
	"github.com/overtone-audio/storefront-backend/pkg/logger"
)

type checkoutService interface {
	Create(ctx context.Context, input orders.CreateOrderInput) (*orders.CheckoutResult, error)
}

// CheckoutLineItem is one priced entry in the checkout payload.
type CheckoutLineItem struct {
	Name           string `json:"name" validate:"required,max=255"`
	Qty            int    `json:"qty" validate:"required,gt=0"`
	UnitPriceCents int    `json:"unit_price_cents" validate:"gte=0"`
}

// CheckoutRequest is the storefront checkout payload. Prices arrive already
// computed; the snapshot taken here is what every later retry re-prices from.
type CheckoutRequest struct {
	CustomerEmail string             `json:"customer_email" validate:"required,email"`
	Currency      string             `json:"currency,omitempty" validate:"omitempty,len=3"`
	ShippingCents int                `json:"shipping_cents" validate:"gte=0"`
	TaxCents      int                `json:"tax_cents" validate:"gte=0"`
	DiscountCents int                `json:"discount_cents" validate:"gte=0"`
	Items         []CheckoutLineItem `json:"items" validate:"required,min=1,dive"`
}

// Checkout creates an order and issues its first checkout session.
func Checkout(svc checkoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req CheckoutRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		input := orders.CreateOrderInput{
			CustomerEmail: req.CustomerEmail,
			Currency:      req.Currency,
			ShippingCents: req.ShippingCents,
			TaxCents:      req.TaxCents,
			DiscountCents: req.DiscountCents,
			Items:         make([]orders.LineItemInput, 0, len(req.Items)),
		}
		for _, item := range req.Items {
			input.Items = append(input.Items, orders.LineItemInput{
				Name:           item.Name,
				Qty:            item.Qty,
				UnitPriceCents: item.UnitPriceCents,
			})
		}

		result, err := svc.Create(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}
