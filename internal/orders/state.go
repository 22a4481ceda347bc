package orders

import (
	"fmt"

	"github.com/overtone-audio/storefront-backend/pkg/enums"
	pkgerrors "github.com/overtone-audio/storefront-backend/pkg/errors"
)

// PaymentState is a (fulfillment status, payment status) pair.
type PaymentState struct {
	Status        enums.OrderStatus
	PaymentStatus enums.PaymentStatus
}

// Consistent reports whether the pair is internally valid: an order cannot be
// in processing or a later fulfillment state while payment is outstanding.
func (s PaymentState) Consistent() bool {
	if s.PaymentStatus == enums.PaymentStatusPaid {
		return true
	}
	switch s.Status {
	case enums.OrderStatusPending, enums.OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// ValidatePaymentTransition checks a payment-side state change. Only the
// reconciliation engine transitions payment state; fulfillment moves happen
// elsewhere and never touch payment_status.
func ValidatePaymentTransition(from, to PaymentState) error {
	if from == to {
		return nil
	}
	if !to.Consistent() {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("inconsistent order state (%s, %s)", to.Status, to.PaymentStatus))
	}

	// Paid is terminal for the payment side: nothing moves an order off paid
	// here (refunds are a separate flow).
	if from.PaymentStatus == enums.PaymentStatusPaid {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order is already paid")
	}

	// Cancelled and refunded orders are closed: reopening one would mint a
	// fresh session and charge the customer again.
	if from.Status == enums.OrderStatusCancelled || from.Status == enums.OrderStatusRefunded {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("order is %s and cannot re-enter payment", from.Status))
	}
	if from.PaymentStatus == enums.PaymentStatusRefunded {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order payment was refunded")
	}

	switch {
	// Reconciled: a complete gateway session marks the order paid and
	// releases it into fulfillment.
	case to.Status == enums.OrderStatusProcessing && to.PaymentStatus == enums.PaymentStatusPaid:
		return nil
	// New session issued: payment fields reset to pending regardless of any
	// drift on the unpaid order.
	case to.Status == enums.OrderStatusPending && to.PaymentStatus == enums.PaymentStatusPending:
		return nil
	default:
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("transition (%s, %s) -> (%s, %s) not allowed",
				from.Status, from.PaymentStatus, to.Status, to.PaymentStatus))
	}
}
