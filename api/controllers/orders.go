package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/overtone-audio/storefront-backend/api/responses"
	"github.com/overtone-audio/storefront-backend/api/validators"
	"github.com/overtone-audio/storefront-backend/internal/orders"
	"github.com/overtone-audio/storefront-backend/internal/reconcile"
	"github.com/overtone-audio/storefront-backend/internal/retry"
	pkgerrors "github.com/overtone-audio/storefront-backend/pkg/errors"
	"github.com/overtone-audio/storefront-backend/pkg/logger"
)

type retryController interface {
	Run(ctx context.Context, orderID uuid.UUID, sessionID string, policy retry.Policy) (*retry.Result, error)
}

type ordersService interface {
	Get(ctx context.Context, orderID uuid.UUID) (*orders.OrderDTO, error)
}

// RetryPaymentRequest optionally names a prior gateway session to reconcile.
type RetryPaymentRequest struct {
	SessionID string `json:"session_id,omitempty" validate:"omitempty,max=255"`
}

// RetryPaymentResponse mirrors the retry contract consumed by the storefront.
type RetryPaymentResponse struct {
	Success   bool   `json:"success"`
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
	RetryURL  string `json:"retry_url,omitempty"`
	Attempts  int    `json:"attempts"`
	Message   string `json:"message,omitempty"`
}

// RetryPayment drives the bounded reconcile-and-retry loop for one order.
func RetryPayment(ctrl retryController, policy retry.Policy, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		orderID, err := validators.ParsePathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req RetryPaymentRequest
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
		}

		result, err := ctrl.Run(ctx, orderID, req.SessionID, policy)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		resp := RetryPaymentResponse{
			Attempts: result.Attempts,
			Message:  result.Message,
		}
		if result.Outcome != nil {
			resp.Success = result.Outcome.Success()
			resp.Status = string(result.Outcome.Kind)
			resp.SessionID = result.Outcome.SessionID
			resp.RetryURL = result.Outcome.RetryURL
		}

		if result.Outcome != nil && result.Outcome.Kind == reconcile.KindFailed {
			responses.WriteSuccessStatus(w, http.StatusBadGateway, resp)
			return
		}
		responses.WriteSuccess(w, resp)
	}
}

// GetOrder returns an order with its immutable line-item snapshot.
func GetOrder(svc ordersService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		orderID, err := validators.ParsePathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, err := svc.Get(ctx, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if order == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "order not found"))
			return
		}
		responses.WriteSuccess(w, order)
	}
}
